// Package cli implements the consolctl commands.
package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/consolbatch/internal/app"
)

// ExitError carries a process exit code alongside the error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps a command error onto a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exit *ExitError
	if errors.As(err, &exit) {
		return exit.Code
	}
	return 1
}

type globalOptions struct {
	snapshotPath string
	redisAddr    string
	stdout       io.Writer
	stderr       io.Writer
}

// config loads the environment configuration with command-line overrides.
func (g *globalOptions) config(cmd *cobra.Command) (*app.Config, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("redis") {
		cfg.RedisAddr = g.redisAddr
	}
	return cfg, nil
}

// NewRootCommand assembles the consolctl command tree.
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	g := &globalOptions{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:   "consolctl",
		Short: "Run and schedule group consolidation batches",
		Long: `consolctl drives units of a group hierarchy through the consolidation
pipeline (compute, translate, eliminate, roll-up) for one or more periods.
Runs execute locally against a YAML snapshot or Postgres, or are queued for
the worker.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.PersistentFlags().StringVar(&g.snapshotPath, "snapshot", "", "YAML snapshot file used instead of Postgres")
	root.PersistentFlags().StringVar(&g.redisAddr, "redis", "", "Redis address (defaults to REDIS_ADDR)")

	root.AddCommand(
		newRunCommand(g),
		newEnqueueCommand(g),
		newQueueCommand(g),
		newFXCheckCommand(g),
	)
	return root
}

func requireFlag(name, value string) error {
	if value == "" {
		return fmt.Errorf("--%s is required", name)
	}
	return nil
}
