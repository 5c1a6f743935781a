package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"user-stream-ingestor/internal/user/domain"
)

func newInspectCmd() *cobra.Command {
	var (
		latest int
		id     string
	)
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the destination row count and the most recently registered users",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if id != "" {
				rec, err := a.repo.GetByID(ctx, id)
				if err != nil {
					return err
				}
				if rec == nil {
					return fmt.Errorf("no user with id %q in %s", id, a.dest)
				}
				return printRecords(out, a.dest.Schema, []*domain.Record{rec})
			}

			n, err := a.repo.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s: %d rows\n", a.dest, n)
			if latest <= 0 {
				return nil
			}
			recs, err := a.repo.Latest(ctx, latest)
			if err != nil {
				return err
			}
			return printRecords(out, a.dest.Schema, recs)
		},
	}
	cmd.Flags().IntVar(&latest, "latest", 10, "number of latest rows to print (0 prints only the count)")
	cmd.Flags().StringVar(&id, "id", "", "print the single row with this id")
	return cmd
}

// printRecords writes recs as a tab-aligned table in schema column order. Nulls print as "-".
func printRecords(w io.Writer, schema *domain.Schema, recs []*domain.Record) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	names := schema.Names()
	for i, n := range names {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, n)
	}
	fmt.Fprintln(tw)
	for _, rec := range recs {
		for i, v := range rec.Values() {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			if v == nil {
				fmt.Fprint(tw, "-")
			} else {
				fmt.Fprint(tw, *v)
			}
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
