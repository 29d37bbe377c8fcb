package run

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/metalagman/jeeves/internal/db"
	"github.com/rs/zerolog/log"
)

// RetentionPolicy controls run cleanup. Zero fields are disabled.
type RetentionPolicy struct {
	KeepLast int
	KeepDays int
}

// Enabled reports whether the policy prunes anything.
func (p RetentionPolicy) Enabled() bool {
	return p.KeepLast > 0 || p.KeepDays > 0
}

// retained reports whether the run at position idx of the newest-first list
// survives the policy.
func (p RetentionPolicy) retained(idx int, run db.RunRecord, now time.Time) bool {
	if run.Status == db.RunRunning {
		return true
	}
	if p.KeepLast > 0 && idx < p.KeepLast {
		return true
	}
	if p.KeepDays > 0 {
		createdAt, err := time.Parse(time.RFC3339, run.CreatedAt)
		if err != nil {
			return true
		}
		return createdAt.After(now.Add(-time.Duration(p.KeepDays) * 24 * time.Hour))
	}
	return false
}

// PruneResult summarizes a prune operation.
type PruneResult struct {
	Considered int
	Kept       int
	Deleted    int
	Skipped    int
}

// PruneRuns deletes run records outside the policy together with their run
// directories. Running runs and runs with unparsable timestamps are kept.
func PruneRuns(ctx context.Context, store *db.Store, policy RetentionPolicy, dryRun bool) (PruneResult, error) {
	if !policy.Enabled() {
		return PruneResult{}, nil
	}
	runs, err := store.ListRuns(ctx, 0)
	if err != nil {
		return PruneResult{}, err
	}

	now := time.Now().UTC()
	res := PruneResult{Considered: len(runs)}
	for idx, row := range runs {
		if policy.retained(idx, row, now) {
			res.Kept++
			continue
		}
		if dryRun {
			log.Info().Str("run_id", row.RunID).Str("created_at", row.CreatedAt).Msg("would prune run")
			res.Deleted++
			continue
		}
		if row.StateDir != "" {
			if err := os.RemoveAll(row.StateDir); err != nil {
				log.Warn().Err(err).Str("run_id", row.RunID).Msg("failed to remove run dir")
				res.Skipped++
				continue
			}
		}
		if err := store.DeleteRun(ctx, row.RunID); err != nil {
			return res, fmt.Errorf("delete run %s: %w", row.RunID, err)
		}
		res.Deleted++
	}
	return res, nil
}
