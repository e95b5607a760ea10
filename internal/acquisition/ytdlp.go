package acquisition

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/bobarin/clipforge/internal/apperrors"
	"github.com/bobarin/clipforge/internal/logging"
	"github.com/bobarin/clipforge/internal/media"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type LocalConfig struct {
	YTDLPPath            string
	FFprobePath          string
	ScratchDir           string
	DefaultQuality       string
	Timeout              time.Duration
	RequireKnownPlatform bool
	// Robustness holds per-platform yt-dlp flags; nil means the built-in
	// table.
	Robustness map[models.Platform]Robustness
}

// LocalGateway runs yt-dlp as a child process.
type LocalGateway struct {
	cfg    LocalConfig
	logger *zap.Logger
}

func NewLocal(cfg LocalConfig, logger *zap.Logger) *LocalGateway {
	cfg.YTDLPPath = orDefault(cfg.YTDLPPath, "yt-dlp")
	cfg.DefaultQuality = orDefault(cfg.DefaultQuality, "720")
	if cfg.Robustness == nil {
		cfg.Robustness = DefaultRobustness()
	}
	return &LocalGateway{cfg: cfg, logger: logging.Component(logger, "acquisition.local")}
}

// downloadArgs builds the yt-dlp invocation for one URL.
func downloadArgs(url, quality, dir string, robust Robustness) []string {
	format := fmt.Sprintf("bv*[height<=%[1]s]+ba/b[height<=%[1]s]/bv*+ba/b", quality)
	args := []string{
		"--newline",
		"--no-playlist",
		"--no-part",
		"--write-info-json",
		"-f", format,
		"--merge-output-format", "mp4",
		"-o", filepath.Join(dir, "%(id)s.%(ext)s"),
	}
	args = append(args, robust.args()...)
	return append(args, url)
}

func (g *LocalGateway) Resolve(ctx context.Context, url string, opts Options) (*Result, error) {
	platform, err := CheckPlatform(url, g.cfg.RequireKnownPlatform)
	if err != nil {
		return nil, err
	}

	root := orDefault(opts.OutputDir, g.cfg.ScratchDir)
	dir := filepath.Join(root, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create scratch dir: %w", err)
	}

	ctx, cancel := withTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	quality := orDefault(opts.Quality, g.cfg.DefaultQuality)
	logger := g.logger.With(zap.String("url", url), zap.String("platform", string(platform)))
	logger.Info("downloading source", zap.String("quality", quality), zap.String("dir", dir))

	started := time.Now()
	dest, err := g.run(ctx, logger, downloadArgs(url, quality, dir, g.cfg.Robustness[platform]))
	if err != nil {
		return nil, err
	}

	meta := g.metadata(ctx, dir, dest, platform)
	logger.Info("source downloaded",
		zap.String("file", dest),
		zap.Float64("duration", meta.Duration),
		zap.Duration("took", time.Since(started)),
	)

	return &Result{FilePath: dest, Dir: dir, Metadata: meta}, nil
}

// run executes yt-dlp, feeding stdout through the OutputParser. stderr is
// collected concurrently by os/exec, so neither pipe can fill up and block.
func (g *LocalGateway) run(ctx context.Context, logger *zap.Logger, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, g.cfg.YTDLPPath, args...)

	var stderr, transcript bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to open yt-dlp stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", apperrors.NewExternalTool("yt-dlp", "download", -1, nil, err)
	}

	var parser OutputParser
	lastLogged := -10.0
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		transcript.WriteString(line)
		transcript.WriteByte('\n')

		switch ev := parser.Feed(line); ev.Kind {
		case EventDestination, EventMerge, EventAlreadyDownloaded:
			logger.Debug("yt-dlp output file", zap.String("path", ev.Path))
		case EventProgress:
			if ev.Progress-lastLogged >= 10 {
				lastLogged = ev.Progress
				logger.Debug("download progress", zap.Float64("percent", ev.Progress))
			}
		}
	}
	// Drain whatever is left so Wait does not block on a full pipe.
	if err := scanner.Err(); err != nil {
		_, _ = io.Copy(&transcript, stdout)
	}

	waitErr := cmd.Wait()
	output := append(transcript.Bytes(), stderr.Bytes()...)

	if waitErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", apperrors.NewExternalTool("yt-dlp", "download", -1, output, ctxErr)
		}
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		return "", apperrors.NewExternalTool("yt-dlp", "download", exitCode, output, waitErr)
	}

	dest := parser.Destination()
	if dest == "" {
		return "", apperrors.NewExternalTool("yt-dlp", "download", 0, output, errors.New("no destination file announced"))
	}
	if _, err := os.Stat(dest); err != nil {
		return "", apperrors.NewExternalTool("yt-dlp", "download", 0, output, fmt.Errorf("destination %s missing: %w", dest, err))
	}
	return dest, nil
}

// metadata prefers the info JSON yt-dlp wrote next to the file and falls back
// to ffprobe.
func (g *LocalGateway) metadata(ctx context.Context, dir, file string, platform models.Platform) models.SourceMetadata {
	matches, _ := filepath.Glob(filepath.Join(dir, "*.info.json"))
	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if meta, err := parseInfoJSON(data, platform); err == nil && meta.Duration > 0 {
			return *meta
		}
	}

	if g.cfg.FFprobePath != "" {
		probe, err := media.Probe(ctx, g.cfg.FFprobePath, file)
		if err == nil {
			return probe.Metadata(file, platform)
		}
		g.logger.Warn("ffprobe fallback failed", zap.String("file", file), zap.Error(err))
	}
	return models.SourceMetadata{Title: strings.TrimSuffix(filepath.Base(file), filepath.Ext(file)), Platform: platform}
}

func (g *LocalGateway) Probe(ctx context.Context, url string) (*models.SourceMetadata, error) {
	platform, err := CheckPlatform(url, g.cfg.RequireKnownPlatform)
	if err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	args := []string{"--dump-single-json", "--no-playlist", "--skip-download"}
	args = append(args, g.cfg.Robustness[platform].args()...)
	args = append(args, url)

	out, err := media.Run(ctx, "yt-dlp", g.cfg.YTDLPPath, "probe", args...)
	if err != nil {
		return nil, err
	}
	return parseInfoJSON(out, platform)
}

type infoJSON struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Uploader  string  `json:"uploader"`
	Duration  float64 `json:"duration"`
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	VCodec    string  `json:"vcodec"`
	ACodec    string  `json:"acodec"`
	Ext       string  `json:"ext"`
	Thumbnail string  `json:"thumbnail"`
}

// parseInfoJSON reads yt-dlp's --dump-single-json / --write-info-json output.
func parseInfoJSON(data []byte, platform models.Platform) (*models.SourceMetadata, error) {
	var info infoJSON
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, &apperrors.ParseError{What: "yt-dlp metadata", Raw: apperrors.Truncate(string(data), 2000), Err: err}
	}
	return &models.SourceMetadata{
		Title:      info.Title,
		Uploader:   info.Uploader,
		Duration:   info.Duration,
		Width:      info.Width,
		Height:     info.Height,
		VideoCodec: noneToEmpty(info.VCodec),
		AudioCodec: noneToEmpty(info.ACodec),
		Container:  info.Ext,
		Platform:   platform,
		SourceID:   info.ID,
		Thumbnail:  info.Thumbnail,
	}, nil
}

func noneToEmpty(s string) string {
	if s == "none" {
		return ""
	}
	return s
}
