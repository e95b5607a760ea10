package cli

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/bobarin/clipforge/internal/materializer"
	"github.com/spf13/cobra"
)

func newPlatformsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "platforms",
		Short: "List platform presets, with overrides from a YAML file applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			specsPath, _ := cmd.Flags().GetString("specs")
			asJSON, _ := cmd.Flags().GetBool("json")

			registry, err := materializer.LoadRegistry(specsPath)
			if err != nil {
				return err
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), registry.All())
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tASPECT\tDURATION\tMAX MB\tCODECS")
			for _, s := range registry.All() {
				fmt.Fprintf(tw, "%s\t%dx%d\t%s\t%g-%gs\t%d\t%s/%s\n",
					s.Name, s.Width, s.Height, s.AspectRatio, s.MinDuration, s.MaxDuration, s.MaxFileSizeMB, s.VideoCodec, s.AudioCodec)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().String("specs", os.Getenv("PLATFORM_SPECS_PATH"), "YAML file with platform overrides")
	cmd.Flags().Bool("json", false, "Print JSON instead of a table")
	return cmd
}
