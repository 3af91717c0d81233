// Package ingest implements the event-driven traversal of §4.6:
// containers are decomposed into children with no recursion over the
// native call stack — nesting depth is bounded only by the event
// queue, not the goroutine stack. A FanInContext collects a
// container's children in extractChildren order and, once every
// child resolves, assembles and stores the manifest (§4.8) before
// either pushing a ChildResult up to an enclosing FanInContext or
// completing the root ingest.
package ingest
