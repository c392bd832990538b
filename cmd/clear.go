package main

import (
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var clearConfirmed bool

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all ingested filings from the store and the knowledge graph",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !clearConfirmed {
			answer, err := promptLine(cmd.InOrStdin(), cmd.OutOrStdout(),
				"This will permanently delete ingested filings, chunks and the knowledge graph. Continue? [y/N]: ")
			if err != nil {
				return err
			}
			if !confirmed(answer) {
				fmt.Fprintln(cmd.OutOrStdout(), "clear aborted")
				return nil
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		if err := env.Ingestion.Clear(ctx); err != nil {
			return err
		}
		zap.L().Info("filing data removed", zap.String("store", cfg.Store.Driver))
		fmt.Fprintln(cmd.OutOrStdout(), "filing data cleared")
		return nil
	},
}

func confirmed(answer string) bool {
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func init() {
	clearCmd.Flags().BoolVar(&clearConfirmed, "confirm", false, "skip confirmation prompt")
	rootCmd.AddCommand(clearCmd)
}
