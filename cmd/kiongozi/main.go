// Kiongozi — ledger-driven orchestration of a fixed worker team.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "kiongozi",
	Short: "Kiongozi — orchestrates a fixed team of workers against open-ended tasks.",
	Long: `Kiongozi drives a team of specialized workers toward completing open-ended
tasks. A single-threaded control loop surveys the facts, drafts a plan,
delegates one worker per turn, detects stagnation, and escalates through
educated guesses and wholesale re-planning when progress stalls.`,
	RunE:          runServe, // Default to server mode.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, solveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
