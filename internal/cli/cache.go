package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forPelevin/clipstitch/internal/cache"
	"github.com/forPelevin/clipstitch/internal/pipeline"
)

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the normalization cache",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "stats",
			Short: "Show cache size and entry count",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := openCache(cmd)
				if err != nil {
					return err
				}
				s, err := c.Stats()
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "dir:     %s\n", c.Dir())
				fmt.Fprintf(out, "entries: %d\n", s.Entries)
				fmt.Fprintf(out, "size:    %s / %s\n", formatBytes(s.Bytes), formatBytes(s.MaxBytes))
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every cached clip",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				c, err := openCache(cmd)
				if err != nil {
					return err
				}
				n, err := c.Clear()
				if err != nil {
					return fmt.Errorf("clear cache: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries from %s\n", n, c.Dir())
				return nil
			},
		},
	)
	return cmd
}

func openCache(cmd *cobra.Command) (*cache.Cache, error) {
	cfg := pipeline.DefaultConfig()
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	return cache.New(cfg.CacheDir, cfg.CacheMaxBytes, newLogger(cmd.ErrOrStderr())), nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
