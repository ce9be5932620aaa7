package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantpulse/tradingkb/internal/buffer"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a decision or trade result into the day's buffer",
}

var (
	recSymbol   string
	recQuantity float64
	recPrice    float64
	recRSI      float64
	recDetails  string
)

var recordDecisionCmd = &cobra.Command{
	Use:   "decision <buy|sell|hold>",
	Short: "Record a trading decision with its market snapshot",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordDecision,
}

var recordResultCmd = &cobra.Command{
	Use:   "result <success|error|cancelled>",
	Short: "Record the execution result for a symbol's decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecordResult,
}

func init() {
	rootCmd.AddCommand(recordCmd)
	recordCmd.AddCommand(recordDecisionCmd, recordResultCmd)

	recordCmd.PersistentFlags().StringVar(&recSymbol, "symbol", "", "ticker symbol (required)")
	recordCmd.MarkPersistentFlagRequired("symbol")

	recordDecisionCmd.Flags().Float64Var(&recQuantity, "quantity", 0, "shares")
	recordDecisionCmd.Flags().Float64Var(&recPrice, "price", 0, "decision price (0: fetch a quote)")
	recordDecisionCmd.Flags().Float64Var(&recRSI, "rsi", 0, "RSI at decision time")
	recordResultCmd.Flags().StringVar(&recDetails, "details", "", "execution details")
}

func runRecordDecision(cmd *cobra.Command, args []string) error {
	action, err := parseAction(args[0])
	if err != nil {
		return err
	}
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	snap := buffer.Snapshot{Price: recPrice}
	if recRSI != 0 {
		rsi := recRSI
		snap.RSI = &rsi
	}
	if snap.Price == 0 {
		q, qerr := a.market.Quote(cmd.Context(), recSymbol)
		if qerr != nil {
			return fmt.Errorf("no --price given and quote failed: %w", qerr)
		}
		snap.Price = q.Price
	}

	d, err := a.buf.RecordDecision(recSymbol, action, recQuantity, snap, time.Time{})
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "recorded %s %s (%s), %d buffered\n", d.Action, d.Symbol, d.ID, a.buf.Count())
	return nil
}

func runRecordResult(cmd *cobra.Command, args []string) error {
	result, err := parseResult(args[0])
	if err != nil {
		return err
	}
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.buf.RecordTradeResult(recSymbol, result, recDetails); err != nil {
		return err
	}
	fmt.Fprintf(os.Stdout, "recorded %s result for %s\n", args[0], recSymbol)
	return nil
}

func parseAction(s string) (buffer.Action, error) {
	switch s {
	case "buy":
		return buffer.Buy, nil
	case "sell":
		return buffer.Sell, nil
	case "hold":
		return buffer.Hold, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

func parseResult(s string) (buffer.Result, error) {
	switch s {
	case "success":
		return buffer.ResultSuccess, nil
	case "error":
		return buffer.ResultError, nil
	case "cancelled":
		return buffer.ResultCancelled, nil
	}
	return "", fmt.Errorf("unknown result %q", s)
}
