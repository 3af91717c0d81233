/*
Package scheduler implements the durable task queue of §4.4: a bounded
pool of in-process workers that claim OPEN rows from the relational
index, dispatch them to a per-type lifecycle callback, and persist the
resulting Outcome back to the row that produced it.

# Architecture

Each worker goroutine runs a tight claim/dispatch loop:

	┌──────────────────────────────────────────────┐
	│  for {                                        │
	│      task, info := idx.ClaimNext(...)         │
	│      if task == nil { wait; continue }        │
	│      outcome := callback(task, info)(ctx, tc) │
	│      idx.ApplyOutcome(task.ID, outcome)        │
	│  }                                             │
	└──────────────────────────────────────────────┘

A worker that finds nothing to claim waits on the pub-sub bus's
task_available channel if one was supplied, falling back to a fixed
poll interval otherwise — the same fallback the bus's own doc comment
promises callers.

A second, single goroutine runs the stale-claim sweep on a fixed
ticker, independent of the worker pool, mirroring the teacher's
separation between the scheduler loop and the reconciler loop.

# Lifecycle callback selection

ClaimNext reports why a task became claimable (ClaimInfo): a task
claimed for the first time gets onStart, a task re-OPENed because
every blocking subtask completed gets onResume, and a task re-OPENed
because a subtask reached DEAD gets onError with that subtask's
stored failure detail.
*/
package scheduler
