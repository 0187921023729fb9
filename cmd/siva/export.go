package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/meigma/siva"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		compress bool
		level    int
		pattern  string
	)

	cmd := &cobra.Command{
		Use:   "export FILE OUT",
		Short: "Write the live entries of a siva file as a tar stream",
		Long: `Write the live entries of a siva file as a tar stream to OUT.

Use "-" as OUT to write to stdout.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer ar.Close()

			entries, err := selectEntries(ar.Index(), pattern)
			if err != nil {
				return err
			}

			var opts []siva.ExportOption
			if compress {
				opts = append(opts, siva.ExportWithZstd(zstd.EncoderLevelFromZstd(level)))
			}

			if args[1] == "-" {
				return ar.ExportTar(cmd.OutOrStdout(), entries, opts...)
			}
			return exportFile(args[1], func(w io.Writer) error {
				return ar.ExportTar(w, entries, opts...)
			})
		},
	}

	f := cmd.Flags()
	f.BoolVar(&compress, "zstd", false, "compress the tar stream with zstd")
	f.IntVar(&level, "level", 3, "zstd compression level")
	f.StringVarP(&pattern, "glob", "g", "", "only export entries matching the pattern")
	return cmd
}

// exportFile writes path through write and removes it if anything fails.
func exportFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	err = write(f)
	err = errors.Join(err, f.Close())
	if err != nil {
		_ = os.Remove(path)
	}
	return err
}
