package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garnizeh/cftrack/internal/syncer"
)

// TypeSyncStudent re-syncs a single student in the background.
const TypeSyncStudent = "sync.student"

type SyncStudentPayload struct {
	Handle string `json:"handle"`
}

// StudentMerger is satisfied by *syncer.Merger.
type StudentMerger interface {
	Merge(ctx context.Context, handle string) error
}

// SyncStudentHandler merges the student named in the payload. Fetch and
// storage errors are returned so the pool retries with backoff; an unknown
// handle completes the job since retrying cannot help. A positive timeout
// bounds each attempt the same way a batch bounds one student.
func SyncStudentHandler(m StudentMerger, timeout time.Duration) Handler {
	return func(ctx context.Context, j *Job) error {
		var p SyncStudentPayload
		if err := json.Unmarshal(j.Payload, &p); err != nil {
			return fmt.Errorf("decode %s payload: %w", TypeSyncStudent, err)
		}
		if p.Handle == "" {
			return fmt.Errorf("%s payload: handle is required", TypeSyncStudent)
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		if err := m.Merge(ctx, p.Handle); err != nil && !errors.Is(err, syncer.ErrUnknownHandle) {
			return err
		}
		return nil
	}
}
