package cli

import (
	"fmt"

	"github.com/bobarin/clipforge/internal/config"
	"github.com/bobarin/clipforge/internal/db"
	"github.com/bobarin/clipforge/internal/logging"
	"github.com/bobarin/clipforge/internal/storage"
	"github.com/bobarin/clipforge/internal/worker"
	"github.com/spf13/cobra"
)

func newSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete every unsaved project past its retention deadline, once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")
			batch, _ := cmd.Flags().GetInt("batch")
			ctx := cmd.Context()

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Env)
			if err != nil {
				return err
			}
			defer logger.Sync()

			database, err := db.New(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer database.Close()

			if dryRun {
				expired, err := database.FindExpiredProjects(ctx, database.Now(), batch)
				if err != nil {
					return err
				}
				for _, p := range expired {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", p.ID, p.Status, p.RetentionDeadline.Format("2006-01-02T15:04:05Z07:00"))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d project(s) would be deleted\n", len(expired))
				return nil
			}

			stor, err := storage.New(ctx, cfg, logger)
			if err != nil {
				return err
			}

			w := worker.New(worker.Deps{Store: database, Storage: stor}, worker.Config{RetentionBatchSize: batch}, logger)
			deleted, err := w.SweepExpired(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d project(s)\n", deleted)
			return nil
		},
	}

	cmd.Flags().Bool("dry-run", false, "List expired projects without deleting them")
	cmd.Flags().Int("batch", 100, "Projects fetched per query")
	return cmd
}
