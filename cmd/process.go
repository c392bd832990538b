package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fabfab/filing-agent/filing"
)

var (
	processTicker  string
	processYear    int
	processQuarter int
	processType    string
)

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Fetch, extract, chunk and index one filing",
	Long:  "Processes one 10-K or 10-Q filing. Re-processing a filing replaces its stored chunks atomically.",
	Example: "  filing-agent process --ticker AAPL --year 2023 --type 10-K\n" +
		"  filing-agent process --ticker MSFT --year 2024 --quarter 2 --type 10-Q",
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := processRequest()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		zap.L().Info("processing filing",
			zap.String("ticker", req.Ticker),
			zap.Int("year", req.Year),
			zap.Int("quarter", req.Quarter),
			zap.String("type", string(req.FilingType)),
			zap.String("source", cfg.Edgar.Source))

		doc, err := env.Ingestion.Process(ctx, req)
		if err != nil {
			return err
		}

		chunks, err := env.Repo.ListChunks(ctx, doc.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "processed %s (%s %s): %d chunks\n", doc.ID, doc.Ticker, doc.Period(), len(chunks))
		return nil
	},
}

func processRequest() (filing.FilingRequest, error) {
	ft, err := filing.ParseFilingType(processType)
	if err != nil {
		return filing.FilingRequest{}, err
	}
	return filing.FilingRequest{
		Ticker:     processTicker,
		Year:       processYear,
		Quarter:    processQuarter,
		FilingType: ft,
	}.Normalize()
}

func init() {
	processCmd.Flags().StringVar(&processTicker, "ticker", "", "company ticker symbol (required)")
	processCmd.Flags().IntVar(&processYear, "year", 0, "fiscal year (required)")
	processCmd.Flags().IntVar(&processQuarter, "quarter", 0, "fiscal quarter 1-4 for 10-Q filings")
	processCmd.Flags().StringVar(&processType, "type", string(filing.TypeAnnual), "filing type: 10-K or 10-Q")
	_ = processCmd.MarkFlagRequired("ticker")
	_ = processCmd.MarkFlagRequired("year")
	rootCmd.AddCommand(processCmd)
}
