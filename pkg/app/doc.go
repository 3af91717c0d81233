// Package app is the composition root: given an object storage backend
// and a database handle built by its caller, it builds the index, the
// scheduler, the ingestion pipeline, and the metrics collector, then
// registers each as a service.Managed
// component under a service.Supervisor with the dependency graph
// §4.5 requires — the scheduler and the pipeline each depend on the
// index and the store being RUNNING first, and the metrics collector
// depends on the index alone.
package app
