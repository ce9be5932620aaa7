package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var eodDate string

var eodCmd = &cobra.Command{
	Use:   "eod",
	Short: "Run the end-of-day review now",
	Long: `Drain the decision buffer, grade every successfully executed decision,
classify skill versus luck, distill and deduplicate lessons, and write
the day into the knowledge base. The buffer is cleared only after the
write succeeds.`,
	RunE: runEOD,
}

func init() {
	rootCmd.AddCommand(eodCmd)
	eodCmd.Flags().StringVar(&eodDate, "date", "", "session date (YYYY-MM-DD, default: the buffer's day)")
}

func runEOD(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	res, err := a.rev.Run(context.Background(), eodDate)
	out, _ := json.MarshalIndent(res, "", "  ")
	fmt.Fprintln(os.Stdout, string(out))
	return err
}
