// ABOUTME: Root cobra command and per-invocation application state
// ABOUTME: Loads config, builds the registry, and restores any stored session

package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/coven-session/internal/config"
	"github.com/2389/coven-session/internal/registry"
)

// errSilent marks failures that were already reported to the user.
var errSilent = errors.New("silent failure")

type app struct {
	in         io.Reader
	out        io.Writer
	errOut     io.Writer
	configPath string
	verbose    bool

	reg *registry.Registry
}

func run(ctx context.Context, args []string, in io.Reader, out, errOut io.Writer) int {
	a := &app{in: in, out: out, errOut: errOut}
	defer a.close()

	root := a.rootCmd()
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	if err := root.ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errSilent) {
			color.New(color.FgRed).Fprintf(errOut, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coven-auth",
		Short:         "Manage your coven session",
		Long:          "coven-auth signs in to the coven identity service, keeps the session\nfresh, and reports which features the current role may use.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default $COVEN_AUTH_CONFIG or ~/.config/coven/auth.yaml)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.statusCmd(),
		a.refreshCmd(),
		a.whoamiCmd(),
		a.canCmd(),
		a.profileCmd(),
		a.passwdCmd(),
		a.watchCmd(),
	)
	return root
}

// setup builds the registry and restores the stored session, if any.
func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.LoadDefault(a.configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if a.verbose {
		cfg.Logging.Level = "debug"
	}

	logger := registry.NewLogger(cfg.Logging, a.errOut)
	reg, err := registry.New(cfg, registry.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("initializing: %w", err)
	}
	a.reg = reg

	ctx := registry.WithRegistry(cmd.Context(), reg)
	cmd.SetContext(ctx)
	reg.Auth.Initialize(ctx)
	return nil
}

func (a *app) close() {
	if a.reg == nil {
		return
	}
	if err := a.reg.Close(); err != nil {
		fmt.Fprintf(a.errOut, "warning: closing: %v\n", err)
	}
}

// authFailure turns the authenticator's last error into a command error.
func authFailure(reg *registry.Registry, action string) error {
	if lastErr := reg.Auth.LastError(); lastErr != nil {
		return fmt.Errorf("%s: %s", action, lastErr.Message)
	}
	return errors.New(action)
}

var errNotLoggedIn = errors.New("not logged in (run: coven-auth login)")
