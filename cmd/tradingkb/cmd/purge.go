package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var purgeYes bool

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete the knowledge base contents",
	Long: `Remove every file the knowledge base writer owns: session artifacts,
rule and lesson sections, statistics, and the rendered markdown index.
Files the writer does not recognize, such as hand-written strategy
notes in the same directory, are left in place. The journal is kept.`,
	RunE: runPurge,
}

func init() {
	rootCmd.AddCommand(purgeCmd)
	purgeCmd.Flags().BoolVar(&purgeYes, "yes", false, "skip the confirmation prompt")
}

func runPurge(cmd *cobra.Command, args []string) error {
	a, err := buildApp()
	if err != nil {
		return err
	}
	defer a.close()

	if !purgeYes {
		fmt.Fprintf(os.Stdout, "Delete all knowledge base content under %s? [y/N] ", a.cfg.KB.Root)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			fmt.Fprintln(os.Stdout, "aborted")
			return nil
		}
	}

	if err := a.store.Purge(); err != nil {
		return err
	}
	fmt.Fprintln(os.Stdout, "knowledge base purged")
	return nil
}
