package cli

import (
	"context"
	"net/url"
	"os"
	"time"

	"github.com/bobarin/clipforge/internal/acquisition"
	"github.com/bobarin/clipforge/internal/media"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newProbeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe <file|url>",
		Short: "Print source metadata for a local file (ffprobe) or a URL (yt-dlp)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ytdlp, _ := cmd.Flags().GetString("yt-dlp")
			ffprobe, _ := cmd.Flags().GetString("ffprobe")
			timeout, _ := cmd.Flags().GetDuration("timeout")

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			meta, err := probe(ctx, args[0], ytdlp, ffprobe)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), meta)
		},
	}

	cmd.Flags().String("yt-dlp", "yt-dlp", "yt-dlp binary")
	cmd.Flags().String("ffprobe", "ffprobe", "ffprobe binary")
	cmd.Flags().Duration("timeout", 2*time.Minute, "Give up after this long")
	return cmd
}

func probe(ctx context.Context, target, ytdlpPath, ffprobePath string) (*models.SourceMetadata, error) {
	if isURL(target) {
		gateway := acquisition.NewLocal(acquisition.LocalConfig{YTDLPPath: ytdlpPath, FFprobePath: ffprobePath}, zap.NewNop())
		return gateway.Probe(ctx, target)
	}

	if _, err := os.Stat(target); err != nil {
		return nil, err
	}
	res, err := media.Probe(ctx, ffprobePath, target)
	if err != nil {
		return nil, err
	}
	meta := res.Metadata(target, models.PlatformOther)
	return &meta, nil
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
