package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/bobarin/clipforge/internal/captions"
	"github.com/bobarin/clipforge/internal/models"
	"github.com/spf13/cobra"
)

func newCaptionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "captions",
		Short: "Render or inspect WebVTT caption files",
	}
	cmd.AddCommand(newCaptionsRenderCmd(), newCaptionsParseCmd())
	return cmd
}

func newCaptionsRenderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "render <transcript.json>",
		Short: "Write the caption track for one clip window as WebVTT",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, _ := cmd.Flags().GetFloat64("start")
			end, _ := cmd.Flags().GetFloat64("end")
			position, _ := cmd.Flags().GetString("position")
			maxLine, _ := cmd.Flags().GetInt("max-line")

			if end <= start {
				return fmt.Errorf("--end (%g) must be after --start (%g)", end, start)
			}

			transcript, err := readTranscript(args[0])
			if err != nil {
				return err
			}

			track := captions.Format(transcript, captions.Window{Start: start, End: end}, captions.Options{
				MaxLineLength: maxLine,
				Position:      position,
			})
			_, err = io.WriteString(cmd.OutOrStdout(), captions.Render(track))
			return err
		},
	}

	cmd.Flags().Float64("start", 0, "Clip start on the source timeline, seconds")
	cmd.Flags().Float64("end", 0, "Clip end on the source timeline, seconds")
	cmd.Flags().String("position", "bottom", "Cue position: top, middle or bottom")
	cmd.Flags().Int("max-line", captions.DefaultMaxLineLength, "Maximum characters per caption line")
	return cmd
}

func newCaptionsParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <file.vtt>",
		Short: "Print the cues of a WebVTT file as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			track, err := captions.Parse(string(data))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), track)
		},
	}
}

// readTranscript accepts a stored transcript or a bare segment list.
func readTranscript(path string) (*models.Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var t models.Transcript
	if err := json.Unmarshal(data, &t); err == nil && len(t.Segments) > 0 {
		return &t, nil
	}
	var segments []models.Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		return nil, fmt.Errorf("%s: not a transcript or segment list: %w", path, err)
	}
	return &models.Transcript{Segments: segments}, nil
}
