package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/vault/pkg/log"
)

// Subscriber receives StateChanged events, adapting the broadcast
// shape of pkg/events to this package's own event type.
type Subscriber chan StateChanged

type registration struct {
	svc     Managed
	deps    []string
	state   State
	started bool
}

// Supervisor owns a fixed set of Managed components, starts and stops
// them in declared-dependency order, and cascades a dependency's
// FAILED transition to everything that depends on it (§4.5).
type Supervisor struct {
	mu       sync.RWMutex
	services map[string]*registration
	order    []string

	subscribers map[Subscriber]bool
	subMu       sync.RWMutex

	logger zerolog.Logger
}

// NewSupervisor creates an empty Supervisor.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		services:    map[string]*registration{},
		subscribers: map[Subscriber]bool{},
		logger:      log.WithComponent("service"),
	}
}

// Register adds svc under its own Name(), declaring that it depends
// on every service named in deps. Registration order is otherwise
// unconstrained — Start resolves the actual order from the
// dependency graph.
func (s *Supervisor) Register(svc Managed, deps ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name := svc.Name()
	s.services[name] = &registration{svc: svc, deps: deps, state: StateStopped}
	s.order = append(s.order, name)
}

// Subscribe returns a channel that receives every StateChanged event
// this Supervisor emits, buffered so a slow subscriber cannot stall
// a transition.
func (s *Supervisor) Subscribe() Subscriber {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	sub := make(Subscriber, 64)
	s.subscribers[sub] = true
	return sub
}

// Unsubscribe stops sub from receiving further events.
func (s *Supervisor) Unsubscribe(sub Subscriber) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if _, ok := s.subscribers[sub]; ok {
		delete(s.subscribers, sub)
		close(sub)
	}
}

// State reports name's current state, or StateStopped if name was
// never registered.
func (s *Supervisor) State(name string) State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.services[name]; ok {
		return r.state
	}
	return StateStopped
}

// Start brings up every registered service in dependency order: a
// service only starts once everything it depends on is RUNNING. A
// cycle or a reference to an unregistered name is a configuration
// error returned before anything starts.
func (s *Supervisor) Start(ctx context.Context) error {
	order, err := s.resolveOrder()
	if err != nil {
		return err
	}
	for _, name := range order {
		if err := s.startOne(ctx, name); err != nil {
			return fmt.Errorf("service: start %s: %w", name, err)
		}
	}
	return nil
}

// Stop tears down every registered service in reverse dependency
// order, so a service always stops before whatever it depends on.
// Stop continues past individual failures, returning the first error
// encountered after attempting every service.
func (s *Supervisor) Stop(ctx context.Context) error {
	order, err := s.resolveOrder()
	if err != nil {
		return err
	}
	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		if err := s.stopOne(ctx, order[i]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Supervisor) startOne(ctx context.Context, name string) error {
	s.mu.Lock()
	r := s.services[name]
	if r.state == StateRunning || r.state == StateStarting {
		s.mu.Unlock()
		return nil
	}
	s.transition(r, name, StateStarting, nil)
	s.mu.Unlock()

	if err := r.svc.Start(ctx); err != nil {
		s.mu.Lock()
		s.transition(r, name, StateFailed, err)
		s.mu.Unlock()
		s.cascadeFailure(ctx, name)
		return err
	}

	s.mu.Lock()
	r.started = true
	s.transition(r, name, StateRunning, nil)
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) stopOne(ctx context.Context, name string) error {
	s.mu.Lock()
	r := s.services[name]
	if !r.started || r.state == StateStopped {
		s.mu.Unlock()
		return nil
	}
	s.transition(r, name, StateStopping, nil)
	s.mu.Unlock()

	err := r.svc.Stop(ctx)

	s.mu.Lock()
	r.started = false
	if err != nil {
		s.transition(r, name, StateFailed, err)
	} else {
		s.transition(r, name, StateStopped, nil)
	}
	s.mu.Unlock()
	return err
}

// cascadeFailure marks every service that (transitively) depends on
// failedName as FAILED too, per §4.5: "a declared dependency's
// transition to FAILED cascades through dependents."
func (s *Supervisor) cascadeFailure(ctx context.Context, failedName string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dependents := func(target string) []string {
		var found []string
		for name, r := range s.services {
			for _, d := range r.deps {
				if d == target {
					found = append(found, name)
					break
				}
			}
		}
		return found
	}

	queue := dependents(failedName)
	seen := map[string]bool{}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true

		r := s.services[name]
		if r.state == StateFailed {
			continue
		}
		s.transition(r, name, StateFailed, fmt.Errorf("service: dependency %q failed", failedName))
		queue = append(queue, dependents(name)...)
	}
}

func (s *Supervisor) transition(r *registration, name string, next State, err error) {
	old := r.state
	r.state = next
	s.logger.Info().Str("service", name).Str("from", string(old)).Str("to", string(next)).Err(err).Msg("service state changed")
	s.publish(StateChanged{ServiceID: name, Old: old, New: next, At: time.Now(), Err: err})
}

func (s *Supervisor) publish(ev StateChanged) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for sub := range s.subscribers {
		select {
		case sub <- ev:
		default:
		}
	}
}

// ActiveServices returns the names of every registered service whose
// state counts as available for §4.4's resource-availability
// accounting (STARTING, RUNNING, or STOPPING — anything not fully
// STOPPED or FAILED).
func (s *Supervisor) ActiveServices() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var active []string
	for _, name := range s.order {
		if s.services[name].state.active() {
			active = append(active, name)
		}
	}
	return active
}

// resolveOrder topologically sorts registered services by their
// declared dependencies, breaking ties by registration order.
func (s *Supervisor) resolveOrder() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for name, r := range s.services {
		for _, d := range r.deps {
			if _, ok := s.services[d]; !ok {
				return nil, fmt.Errorf("service: %s depends on unregistered service %q", name, d)
			}
		}
	}

	var order []string
	visited := map[string]int{} // 0=unvisited, 1=visiting, 2=done
	var visit func(name string) error
	visit = func(name string) error {
		switch visited[name] {
		case 2:
			return nil
		case 1:
			return fmt.Errorf("service: dependency cycle involving %q", name)
		}
		visited[name] = 1
		for _, d := range s.services[name].deps {
			if err := visit(d); err != nil {
				return err
			}
		}
		visited[name] = 2
		order = append(order, name)
		return nil
	}

	for _, name := range s.order {
		if err := visit(name); err != nil {
			return nil, err
		}
	}
	return order, nil
}
