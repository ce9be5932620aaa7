package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantpulse/tradingkb/internal/observ"
)

var (
	runEODTime  string
	runInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily session loop",
	Long: `Start a trading day: capture the opening portfolio value, accept
decisions into the buffer (see "tradingkb record"), and trigger the
end-of-day review automatically at the configured time. Ctrl-C exits
without reviewing; the buffered day survives for a later "tradingkb eod".`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runEODTime, "eod-time", "20:05", "UTC time of day to run the review (HH:MM)")
	runCmd.Flags().DurationVar(&runInterval, "interval", time.Minute, "heartbeat interval")
}

func runRun(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	eodAt, err := time.Parse("15:04", runEODTime)
	if err != nil {
		return fmt.Errorf("parse --eod-time: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opening float64
	if p, perr := a.market.Portfolio(ctx); perr == nil {
		v, _ := p.Value.Float64()
		opening = v
	} else {
		observ.Warn("portfolio_unavailable", map[string]any{"error": perr.Error()})
	}
	if err := a.buf.StartNewDay(opening); err != nil {
		return err
	}
	observ.Log("session_started", map[string]any{
		"opening_value": opening,
		"eod_time":      runEODTime,
	})

	ticker := time.NewTicker(runInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			observ.Log("session_interrupted", map[string]any{"buffered": a.buf.Count()})
			return nil
		case now := <-ticker.C:
			now = now.UTC()
			observ.Log("session_heartbeat", map[string]any{"buffered": a.buf.Count()})
			if now.Hour() > eodAt.Hour() || (now.Hour() == eodAt.Hour() && now.Minute() >= eodAt.Minute()) {
				res, rerr := a.rev.Run(ctx, "")
				if rerr != nil {
					return rerr
				}
				observ.Log("session_reviewed", map[string]any{
					"date":            res.Date,
					"analyses":        res.Analyses,
					"lessons_written": res.LessonsWritten,
				})
				return nil
			}
		}
	}
}
