package service

import "context"

// Func adapts a name plus start/stop closures into a Managed, for
// components (object storage, the index, the scheduler, the
// ingestion pipeline) whose own Start/Stop predate this package and
// don't take a context or return an error.
type Func struct {
	name  string
	start func(ctx context.Context) error
	stop  func(ctx context.Context) error
}

// NewFunc builds a Managed named name from start and stop closures.
// Either may be nil, meaning that phase is a no-op.
func NewFunc(name string, start, stop func(ctx context.Context) error) *Func {
	return &Func{name: name, start: start, stop: stop}
}

func (f *Func) Name() string { return f.name }

func (f *Func) Start(ctx context.Context) error {
	if f.start == nil {
		return nil
	}
	return f.start(ctx)
}

func (f *Func) Stop(ctx context.Context) error {
	if f.stop == nil {
		return nil
	}
	return f.stop(ctx)
}
