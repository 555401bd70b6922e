package sqlite

import (
	"context"

	"github.com/hawkerhall/escrow/internal/escrow/domain"
)

type checkpointsRepo struct {
	db dbtx
}

func (r *checkpointsRepo) GetCheckpoint(ctx context.Context) (domain.Checkpoint, error) {
	var cp domain.Checkpoint
	row := r.db.QueryRowContext(ctx,
		`SELECT last_processed_block, updated_at FROM reconciler_checkpoint WHERE id = 1`)
	if err := row.Scan(&cp.LastProcessedBlock, &cp.UpdatedAt); err != nil {
		return domain.Checkpoint{}, mapNotFound(err)
	}
	cp.UpdatedAt = cp.UpdatedAt.UTC()
	return cp, nil
}

func (r *checkpointsRepo) SaveCheckpoint(ctx context.Context, cp domain.Checkpoint) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO reconciler_checkpoint (id, last_processed_block, updated_at)
		 VALUES (1, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET last_processed_block = excluded.last_processed_block,
		                                updated_at = excluded.updated_at`,
		cp.LastProcessedBlock, cp.UpdatedAt.UTC())
	return err
}
