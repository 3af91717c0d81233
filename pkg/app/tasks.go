package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cuemby/vault/pkg/ingest"
	"github.com/cuemby/vault/pkg/rebuild"
	"github.com/cuemby/vault/pkg/scheduler"
	"github.com/cuemby/vault/pkg/types"
)

// ingestTaskInput is the wire shape of an "ingest" task's Input
// column: the raw content to decompose (base64-encoded by
// encoding/json's []byte handling) and the filename the format
// registry uses for extension-based detection.
type ingestTaskInput struct {
	Content  []byte `json:"content"`
	Filename string `json:"filename"`
}

// ingestTaskOutput is the wire shape of an "ingest" task's Output
// column on Complete.
type ingestTaskOutput struct {
	Ref string `json:"ref"`
}

// rebuildTaskInput is the wire shape of a "rebuild" task's Input
// column: the tenant to rebuild and whether to truncate its index
// rows before re-deriving them from object storage.
type rebuildTaskInput struct {
	Tenant   string `json:"tenant"`
	Truncate bool   `json:"truncate"`
}

// rebuildTaskOutput is the wire shape of a "rebuild" task's Output
// column on Complete.
type rebuildTaskOutput struct {
	ContainersRebuilt int `json:"containers_rebuilt"`
}

// registerTaskTypes binds the two canonical task types every Vault
// node ships with: "ingest" drives the event-driven pipeline (§4.6)
// from a durable task row instead of a synchronous CLI call, and
// "rebuild" drives the index-recovery pass (§4.10) the same way. Both
// run to completion within a single OnStart — neither creates
// subtasks or blocks — so OnResume is intentionally left unset; the
// scheduler fails a task claimed for resume against either type
// rather than panicking (see scheduler.dispatch).
func registerTaskTypes(sched *scheduler.Scheduler, pipeline *ingest.Pipeline, rebuilder *rebuild.Rebuilder) {
	sched.RegisterType("ingest", scheduler.Callbacks{
		OnStart: func(ctx context.Context, tc *scheduler.TaskContext, input json.RawMessage) types.Outcome {
			var in ingestTaskInput
			if err := json.Unmarshal(input, &in); err != nil {
				return types.Failed(fmt.Sprintf("ingest task: decode input: %v", err), false)
			}
			ref, err := pipeline.Ingest(ctx, tc.TenantID(), tc.TaskID(), in.Content, in.Filename)
			if err != nil {
				return types.Failed(fmt.Sprintf("ingest task: %v", err), true)
			}
			out, err := json.Marshal(ingestTaskOutput{Ref: ref.String()})
			if err != nil {
				return types.Failed(fmt.Sprintf("ingest task: encode output: %v", err), false)
			}
			return types.Complete(out)
		},
	})

	sched.RegisterType("rebuild", scheduler.Callbacks{
		OnStart: func(ctx context.Context, tc *scheduler.TaskContext, input json.RawMessage) types.Outcome {
			var in rebuildTaskInput
			if err := json.Unmarshal(input, &in); err != nil {
				return types.Failed(fmt.Sprintf("rebuild task: decode input: %v", err), false)
			}
			tenant := in.Tenant
			if tenant == "" {
				tenant = tc.TenantID()
			}
			n, err := rebuilder.Rebuild(ctx, tenant, in.Truncate)
			if err != nil {
				return types.Failed(fmt.Sprintf("rebuild task: %v", err), true)
			}
			out, err := json.Marshal(rebuildTaskOutput{ContainersRebuilt: n})
			if err != nil {
				return types.Failed(fmt.Sprintf("rebuild task: encode output: %v", err), false)
			}
			return types.Complete(out)
		},
	})
}
