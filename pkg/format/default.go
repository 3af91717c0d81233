package format

// NewDefaultRegistry returns a Registry with every format this build
// recognizes registered, in priority order highest first (registration
// order only matters for ties, but keeping it priority-ordered reads
// clearly top to bottom).
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(NewZipFactory())
	r.Register(NewTarGzFactory())
	return r
}
