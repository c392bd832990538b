package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fabfab/filing-agent/filing"
)

var companiesCmd = &cobra.Command{
	Use:   "companies [ticker...]",
	Short: "List ingested companies and their filings",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		companies, err := env.Query.Companies(ctx)
		if err != nil {
			return err
		}
		docs, err := env.Query.Documents(ctx, args)
		if err != nil {
			return err
		}
		printListing(cmd.OutOrStdout(), companies, docs)
		return nil
	},
}

func printListing(w io.Writer, companies []filing.Company, docs []filing.Document) {
	if len(docs) == 0 {
		fmt.Fprintln(w, "no filings ingested")
		return
	}
	names := make(map[string]string, len(companies))
	for _, c := range companies {
		names[c.Ticker] = c.Name
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TICKER\tCOMPANY\tFILING\tPERIOD\tFILED\tDOCUMENT")
	for _, d := range docs {
		filed := "-"
		if !d.FilingDate.IsZero() {
			filed = d.FilingDate.Format("2006-01-02")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.Ticker, names[d.Ticker], d.FilingType, d.Period(), filed, d.ID)
	}
	_ = tw.Flush()
}

func init() {
	rootCmd.AddCommand(companiesCmd)
}
