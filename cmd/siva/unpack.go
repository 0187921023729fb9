package main

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/meigma/siva"
)

func newUnpackCmd(a *app) *cobra.Command {
	var pattern string

	cmd := &cobra.Command{
		Use:   "unpack FILE [DEST]",
		Short: "Extract the live entries of a siva file",
		Long: `Extract the live entries of a siva file into DEST.

DEST defaults to a directory named "unpacked" next to FILE. The content of
every entry is checked against its CRC32 before it is committed.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dest := filepath.Join(filepath.Dir(args[0]), "unpacked")
			if len(args) == 2 {
				dest = args[1]
			}

			ar, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer ar.Close()

			entries, err := selectEntries(ar.Index(), pattern)
			if err != nil {
				return err
			}

			u := a.cfg.Unpack
			stats, err := ar.UnpackEntries(dest, entries,
				siva.UnpackWithOverwrite(u.Overwrite),
				siva.UnpackWithPreserveMode(u.PreserveMode),
				siva.UnpackWithPreserveTimes(u.PreserveTimes),
				siva.UnpackWithWorkers(u.Workers),
				siva.UnpackWithReadConcurrency(u.ReadConcurrency),
			)
			if err != nil {
				return err
			}
			a.logger.Info("unpacked",
				"dest", dest,
				"written", stats.Written,
				"skipped", stats.Skipped,
				"bytes", stats.Bytes)
			return nil
		},
	}

	f := cmd.Flags()
	f.Bool("overwrite", false, "replace existing files")
	f.Bool("preserve-mode", true, "apply the stored permissions")
	f.Bool("preserve-times", true, "apply the stored modification times")
	f.Int("workers", 0, "number of parallel writers (0 picks a default)")
	f.Int("read-concurrency", 4, "number of concurrent range reads")
	f.StringVarP(&pattern, "glob", "g", "", "only extract entries matching the pattern")
	bindFlags(a.v, f, map[string]string{
		"unpack.overwrite":        "overwrite",
		"unpack.preserve_mode":    "preserve-mode",
		"unpack.preserve_times":   "preserve-times",
		"unpack.workers":          "workers",
		"unpack.read_concurrency": "read-concurrency",
	})
	return cmd
}
