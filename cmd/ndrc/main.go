// Command ndrc inspects, serves and calls the Calc demo interface.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/ndr-runtime/client"
	"github.com/wippyai/ndr-runtime/config"
	"github.com/wippyai/ndr-runtime/engine"
	"github.com/wippyai/ndr-runtime/server"
)

// Exit codes
const (
	exitFailure      = 1 // the call or server failed
	exitCommandError = 2 // bad flags, arguments or configuration
)

type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func commandError(err error) error { return &exitError{code: exitCommandError, err: err} }

type rootOptions struct {
	configPath string
	verbose    bool

	cfg *config.Config
	log *zap.Logger
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "ndrc",
		Short: "NDR interface compiler and runtime tool",
		Long: `ndrc compiles the Calc demo interface into NDR and NDR64 format
streams, hosts it on an endpoint and calls it.

Configuration comes from --config (TOML) overlaid by NDR_* environment
variables, e.g. NDR_SERVER_WORKERS=8.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return commandError(err)
			}
			if opts.verbose {
				cfg.Log.Level = "debug"
			}
			log, err := cfg.Log.Logger()
			if err != nil {
				return commandError(err)
			}
			opts.cfg = cfg
			opts.log = log
			engine.SetLogger(log.Named("engine"))
			server.SetLogger(log.Named("server"))
			client.SetLogger(log.Named("client"))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.log != nil {
				_ = opts.log.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to TOML configuration")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(newDumpCommand(opts))
	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newCallCommand(opts))
	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		code := exitFailure
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		os.Exit(code)
	}
}
