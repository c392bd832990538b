package main

import (
	"bufio"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fabfab/filing-agent/filing"
)

var askCmd = &cobra.Command{
	Use:     "ask [question]",
	Short:   "Answer a question from the ingested filings",
	Example: `  filing-agent ask "What was Apple's total net sales in fiscal 2023?"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		question := strings.TrimSpace(strings.Join(args, " "))
		if question == "" {
			var err error
			question, err = promptLine(cmd.InOrStdin(), cmd.OutOrStdout(), "Enter your question: ")
			if err != nil {
				return err
			}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close(ctx)

		answer, err := env.Query.Answer(ctx, question)
		if err != nil {
			return err
		}
		printAnswer(cmd.OutOrStdout(), answer)
		return nil
	},
}

func promptLine(in io.Reader, out io.Writer, prompt string) (string, error) {
	fmt.Fprint(out, prompt)
	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()), nil
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return "", nil
}

func printAnswer(w io.Writer, answer filing.Answer) {
	fmt.Fprintln(w, answer.Text)
	if answer.Status != filing.StateAnswered {
		fmt.Fprintf(w, "\n(status: %s)\n", answer.Status)
	}

	if len(answer.Citations) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Citations:")
		for _, c := range answer.Citations {
			fmt.Fprintf(w, "[%d] %s, %s, %s (%s)\n", c.Index, c.DocumentID, c.Location, c.ContentType, c.ChunkID)
		}
	}

	if len(answer.Documents) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Filings searched:")
		for _, d := range answer.Documents {
			fmt.Fprintf(w, "- %s (%s %s %s)\n", d.ID, d.Ticker, d.FilingType, d.Period())
			if d.Insight == nil {
				continue
			}
			fmt.Fprintf(w, "  Indexed chunks: %d (tables: %d, charts: %d)\n", d.Insight.ChunkCount, d.Insight.Tables, d.Insight.Charts)
			if len(d.Insight.Sections) > 0 {
				fmt.Fprintf(w, "  Sections: %s\n", strings.Join(d.Insight.Sections, "; "))
			}
		}
	}
}

func init() {
	rootCmd.AddCommand(askCmd)
}
