package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify FILE",
		Short: "Check the index and content checksums of a siva file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer ar.Close()

			// Counts every record, deletions included.
			all, err := ar.CompleteIndex()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			var failed int
			for e := range ar.Index().All() {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				if err := ar.Verify(e); err != nil {
					failed++
					fmt.Fprintf(out, "FAIL %s: %v\n", e.Name, err)
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d entries failed verification", failed, ar.Index().Len())
			}
			fmt.Fprintf(out, "ok: %d records, %d live entries\n", all.Len(), ar.Index().Len())
			return nil
		},
	}
}
