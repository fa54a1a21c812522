package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/bassmang/kiongozi/internal/config"
	"github.com/bassmang/kiongozi/internal/orchestrator"
	goutils "github.com/jkaninda/go-utils"
)

var (
	solveConfigPath string
	solveTask       string
	solveMaxTurns   int
	solveVerbose    bool
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Run a single task to completion and print the result",
	Long: `Run one task synchronously through the full control loop and print the
outcome, final plan, and fact sheet.

Examples:
  kiongozi solve -t "What is the population of the capital of Kenya?"
  kiongozi solve -t "Summarize the attached report" --max-turns 10`,
	RunE: runSolve,
}

func init() {
	solveCmd.Flags().StringVar(&solveConfigPath, "config", config.DefaultConfigPath(), "path to config file")
	solveCmd.Flags().StringVarP(&solveTask, "task", "t", "", "task to solve (required)")
	solveCmd.Flags().IntVar(&solveMaxTurns, "max-turns", 0, "override the turn budget (0 = config default)")
	solveCmd.Flags().BoolVarP(&solveVerbose, "verbose", "v", false, "log at debug level")

	_ = solveCmd.MarkFlagRequired("task")
}

func runSolve(_ *cobra.Command, _ []string) error {
	level := slog.LevelWarn
	if solveVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(goutils.Env("KIONGOZI_CONFIG", solveConfigPath))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sc, err := initShared(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer sc.Cleanup()

	run, err := sc.Engine.Submit(ctx, &orchestrator.RunRequest{
		Task:     solveTask,
		MaxTurns: solveMaxTurns,
	})
	if err != nil {
		return err
	}

	// The engine executes asynchronously; poll until the run settles.
	run, err = waitForRun(ctx, sc, run.ID)
	if err != nil {
		return err
	}
	// Returning the error (rather than exiting here) lets the deferred
	// cleanup tear down MCP clients and the tracer before the process ends.
	return reportRun(run)
}

// reportRun prints the settled run and maps non-success to an error so the
// process exits non-zero.
func reportRun(run *orchestrator.Run) error {
	switch run.Status {
	case orchestrator.RunCompleted:
		fmt.Printf("outcome: %s (%d turns, stalled %d times)\n", run.Outcome, run.Turns, run.TimesStalled)
		fmt.Printf("\nplan:\n%s\n", run.Plan)
		fmt.Printf("\nfacts:\n%s\n", run.Facts)
		if !run.Outcome.Success() {
			return fmt.Errorf("run ended without success: %s", run.Outcome)
		}
		return nil
	case orchestrator.RunCancelled:
		return fmt.Errorf("run cancelled")
	default:
		return fmt.Errorf("run failed: %s", run.Error)
	}
}

func waitForRun(ctx context.Context, sc *SharedComponents, runID uuid.UUID) (*orchestrator.Run, error) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Best-effort cancellation so the run does not linger.
			cancelCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = sc.Engine.Cancel(cancelCtx, runID)
			cancel()
			return nil, ctx.Err()
		case <-ticker.C:
			run, err := sc.Engine.Status(ctx, runID)
			if err != nil {
				return nil, err
			}
			switch run.Status {
			case orchestrator.RunCompleted, orchestrator.RunFailed, orchestrator.RunCancelled:
				return run, nil
			}
		}
	}
}
