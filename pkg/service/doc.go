// Package service implements §4.5's managed service lifecycle: a
// five-state machine (STOPPED, STARTING, RUNNING, STOPPING, FAILED)
// that long-lived components (object storage, the index, the
// scheduler, the ingestion pipeline) move through under a Supervisor,
// which starts and stops them in declared-dependency order and
// cascades a dependency's failure to everything depending on it.
package service
