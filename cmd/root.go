// Package cmd defines the CLI commands for the catalog crawler.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/config"
	"github.com/JakeFAU/catalog-crawler/internal/logging"
)

// Exit codes returned by Execute.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitNoData  = 2
)

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func noData(format string, args ...any) error {
	return &exitError{code: ExitNoData, err: fmt.Errorf(format, args...)}
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return ExitFailure
}

// environment is filled by the root command before any subcommand runs.
type environment struct {
	configPath string
	cfg        config.Config
	logger     *zap.Logger
}

// newLogger is swapped out in tests to keep output quiet.
var newLogger = logging.New

func newRootCmd() *cobra.Command {
	env := &environment{}
	cmd := &cobra.Command{
		Use:   "catalog-crawler",
		Short: "Crawls a product catalog into a category tree and product table.",
		Long: `catalog-crawler walks a category listing page by page, follows whitelisted
subcategory links, and upserts every product it finds into the configured store.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load(env.configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := newLogger(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			env.cfg = cfg
			env.logger = logger
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if env.logger != nil {
				_ = env.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&env.configPath, "config", "", "config file (YAML, TOML or JSON); CATALOG_* env vars override it")

	cmd.AddCommand(newCrawlCmd(env))
	cmd.AddCommand(newDiscoverCmd(env))
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, newRootCmd(), os.Args[1:])
}

func execute(ctx context.Context, root *cobra.Command, args []string) int {
	root.SetArgs(args)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(root.ErrOrStderr(), "error:", err)
		return ExitCode(err)
	}
	return ExitOK
}
