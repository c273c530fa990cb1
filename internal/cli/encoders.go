package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/forPelevin/clipstitch/internal/encoder"
	"github.com/forPelevin/clipstitch/internal/pipeline"
	"github.com/forPelevin/clipstitch/internal/ports/adapters/ffmpeg"
)

func newEncodersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "encoders",
		Short: "Show the encoder this host would use and its settings per quality tier",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := pipeline.DefaultConfig()
			if err := applyEnv(&cfg); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			defer cancel()

			log := newLogger(cmd.ErrOrStderr())
			sel := encoder.New(ffmpeg.NewExec(log), cfg.FFmpegPath, log)
			enc := sel.Detect(ctx)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "encoder: %s\n", enc)
			for _, tier := range encoder.Tiers {
				fmt.Fprintf(out, "  %-8s %s\n", tier, strings.Join(encoder.Params(enc, tier), " "))
			}
			return nil
		},
	}
}
