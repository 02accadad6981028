package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Norgate-AV/gmpbuild/internal/cache"
	"github.com/Norgate-AV/gmpbuild/internal/config"
	"github.com/Norgate-AV/gmpbuild/internal/env"
	"github.com/Norgate-AV/gmpbuild/internal/log"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the artifact cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:          "stats",
	Short:        "Show artifact cache statistics",
	RunE:         runCacheStats,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

var cacheClearCmd = &cobra.Command{
	Use:          "clear",
	Short:        "Remove every artifact cache entry",
	RunE:         runCacheClear,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

// cacheRoot resolves the cache root the same way a build does
func cacheRoot(cmd *cobra.Command) (string, error) {
	root := env.CacheDir(config.NewLoader().LoadForCache(cmd))
	if root == "" {
		return "", fmt.Errorf("artifact cache is disabled")
	}

	return filepath.Abs(root)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	root, err := cacheRoot(cmd)
	if err != nil {
		return err
	}

	s, err := cache.New(root, log.Nop()).Stats()
	if err != nil {
		return fmt.Errorf("failed to read cache: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", colArrow.Sprint("->"), colSuccess.Sprintf("Cache: %s", root))
	fmt.Fprintf(out, "   Entries: %d (%d indexed)\n", s.Entries, s.Indexed)
	fmt.Fprintf(out, "   Size:    %s\n", formatBytes(s.Bytes))

	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	root, err := cacheRoot(cmd)
	if err != nil {
		return err
	}

	if err := cache.New(root, log.Nop()).Clear(); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", colArrow.Sprint("->"), colSuccess.Sprintf("Cleared %s", root))
	return nil
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
