package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/meigma/siva"
)

func newLsCmd(a *app) *cobra.Command {
	var (
		complete   bool
		long       bool
		withDigest bool
		pattern    string
	)

	cmd := &cobra.Command{
		Use:   "ls FILE",
		Short: "List the entries of a siva file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ar, err := a.open(args[0])
			if err != nil {
				return err
			}
			defer ar.Close()

			idx := ar.Index()
			if complete {
				idx, err = ar.ReadIndexContext(cmd.Context(), siva.PolicyComplete)
				if err != nil {
					return err
				}
			}
			entries, err := selectEntries(idx, pattern)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for _, e := range entries {
				name := e.Name
				if e.IsDeleted() {
					name += " (deleted)"
				}
				if withDigest {
					d := "-"
					if !e.IsDeleted() {
						dg, err := ar.Digest(e)
						if err != nil {
							return err
						}
						d = dg.String()
					}
					name = d + "\t" + name
				}
				if long {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n",
						e.Perm(), e.Size, e.ModTime.UTC().Format(time.RFC3339), name)
					continue
				}
				fmt.Fprintln(tw, name)
			}
			return tw.Flush()
		},
	}

	f := cmd.Flags()
	f.BoolVar(&complete, "complete", false, "list every record of every block, including deletions")
	f.BoolVarP(&long, "long", "l", false, "show permissions, size and modification time")
	f.BoolVar(&withDigest, "digest", false, "show the sha256 digest of each entry")
	f.StringVarP(&pattern, "glob", "g", "", "only list entries matching the pattern")
	return cmd
}
