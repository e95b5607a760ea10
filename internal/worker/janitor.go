package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/bobarin/clipforge/internal/storage"
	"go.uber.org/zap"
)

// RunJanitor sweeps expired projects every interval until ctx is done.
func (w *Worker) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		w.logger.Info("retention sweep disabled")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.SweepExpired(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("retention sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// SweepExpired deletes the stored objects and rows of every unsaved project
// whose retention deadline has passed. A project whose objects cannot be
// removed is left for the next sweep.
func (w *Worker) SweepExpired(ctx context.Context) (int, error) {
	now := w.Store.Now()
	deleted := 0

	for {
		projects, err := w.Store.FindExpiredProjects(ctx, now, w.cfg.RetentionBatchSize)
		if err != nil {
			return deleted, err
		}
		if len(projects) == 0 {
			break
		}

		progress := 0
		for _, p := range projects {
			if err := ctx.Err(); err != nil {
				return deleted, err
			}
			if err := w.deleteProject(ctx, &p); err != nil {
				w.logger.Warn("failed to delete expired project", zap.String("project_id", p.ID.String()), zap.Error(err))
				continue
			}
			progress++
		}
		deleted += progress

		// Short batch, or nothing deletable left in it.
		if len(projects) < w.cfg.RetentionBatchSize || progress == 0 {
			break
		}
	}

	if deleted > 0 {
		w.logger.Info("retention sweep finished", zap.Int("deleted", deleted))
	}
	w.Metrics.RetentionDeleted(deleted)
	return deleted, nil
}

func (w *Worker) deleteProject(ctx context.Context, p *models.Project) error {
	assets, err := w.Store.GetProjectClipAssets(ctx, p.ID)
	if err != nil {
		return err
	}

	paths := storage.ObjectPaths(p, assets)
	if len(paths) > 0 {
		if err := w.Storage.Delete(ctx, paths...); err != nil {
			return fmt.Errorf("failed to delete objects: %w", err)
		}
	}

	if err := w.Store.DeleteProject(ctx, p.ID); err != nil && !apperrors.IsNotFound(err) {
		return err
	}
	return nil
}
