package store

import (
	"context"
	"fmt"
)

// Outcome describes how a delete round ended.
type Outcome int

const (
	// OutcomeFailed means the round stopped before committing anything.
	OutcomeFailed Outcome = iota
	// OutcomeEmpty means the bucket had nothing to delete.
	OutcomeEmpty
	// OutcomeNoOp means the selector chose nothing.
	OutcomeNoOp
	// OutcomeCommitted means the reduced bucket replaced every earlier version.
	OutcomeCommitted
	// OutcomeRolledBack means the commit failed and deleted versions were restored.
	OutcomeRolledBack
	// OutcomeRollbackFailed means the commit failed and restoring deleted
	// versions failed too.
	OutcomeRollbackFailed
)

// Succeeded reports whether the outcome counts as a completed round.
func (o Outcome) Succeeded() bool {
	return o == OutcomeNoOp || o == OutcomeCommitted
}

func (o Outcome) String() string {
	switch o {
	case OutcomeFailed:
		return "failed"
	case OutcomeEmpty:
		return "empty"
	case OutcomeNoOp:
		return "noop"
	case OutcomeCommitted:
		return "committed"
	case OutcomeRolledBack:
		return "rolled_back"
	case OutcomeRollbackFailed:
		return "rollback_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// commitOrCompensate deletes versions 1..current, then writes data
// conditioned on current. If either step fails it undeletes the same
// versions. A failed undelete is logged and reported only through the
// outcome.
func (r *Repository) commitOrCompensate(ctx context.Context, data map[string]any, current int) (Outcome, error) {
	versions := versionRange(current)

	err := r.backend.DeleteVersions(ctx, r.config.Path, versions, r.config.Mount)
	if err != nil {
		err = fmt.Errorf("delete versions: %w", err)
	} else {
		expected := current
		_, err = r.backend.Write(ctx, r.config.Path, data, &expected, r.config.Mount)
		if err == nil {
			return OutcomeCommitted, nil
		}
		err = fmt.Errorf("write bucket: %w", err)
	}

	// Compensate even if the caller's context is already done
	undoCtx := context.WithoutCancel(ctx)
	if uerr := r.backend.UndeleteVersions(undoCtx, r.config.Path, versions, r.config.Mount); uerr != nil {
		r.logger.Error("failed to restore deleted versions",
			"path", r.config.Path,
			"mount", r.config.Mount,
			"versions", len(versions),
			"error", uerr,
		)
		return OutcomeRollbackFailed, err
	}
	return OutcomeRolledBack, err
}

// versionRange returns 1..n inclusive.
func versionRange(n int) []int {
	versions := make([]int, 0, n)
	for v := 1; v <= n; v++ {
		versions = append(versions, v)
	}
	return versions
}
