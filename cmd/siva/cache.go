package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meigma/siva/cache/disk"
)

func newCacheCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or prune the content cache",
	}

	size := &cobra.Command{
		Use:   "size",
		Short: "Print the number of bytes stored in the cache",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.requireCache()
			if err != nil {
				return err
			}
			n, err := c.Size()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}

	var maxBytes int64
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Remove the least recently used entries",
		Long: `Remove the least recently used entries until at most --max-bytes
remain. Without --max-bytes the cache is emptied.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.requireCache()
			if err != nil {
				return err
			}
			stats, err := c.Prune(maxBytes)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d entries, freed %d bytes, %d bytes remain\n",
				stats.Removed, stats.Freed, stats.Remaining)
			return nil
		},
	}
	prune.Flags().Int64Var(&maxBytes, "max-bytes", 0, "bytes to keep")

	cmd.AddCommand(size, prune)
	return cmd
}

func (a *app) requireCache() (*disk.Cache, error) {
	c, err := a.diskCache()
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, errors.New("no cache directory configured: set --cache-dir or SIVA_CACHE_DIR")
	}
	return c, nil
}
