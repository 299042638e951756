// Package cmd defines the CLI commands for the pdfharvest executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pdfharvest/pdfharvest/internal/app"
)

var cfgFile string

type appKeyType struct{}

var appKey appKeyType

// newApp is the application factory. It is a variable so tests can replace
// it with a mock factory.
var newApp = func(ctx context.Context, cfgPath string) (*app.App, error) {
	return app.New(ctx, cfgPath)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pdfharvest",
		Short: "Bulk PDF discovery and download orchestrator",
		Long: `pdfharvest searches the web for PDF documents matching configured
keyword lists, grouped by research field, and downloads them into a local
directory tree. Runs can be started, stopped, and resumed around CAPTCHA
challenges, either from the CLI or over the HTTP API.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			applyFlagOverrides(cmd)
			a, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close(cmd.Context())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML; defaults apply when omitted)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newFieldsCmd())

	return cmd
}

// applyFlagOverrides maps a subcommand's override flags onto the environment
// keys viper reads, so they take effect before the services are built.
func applyFlagOverrides(cmd *cobra.Command) {
	overrides := map[string]string{
		"headless":   "PDFHARVEST_BROWSER_HEADLESS",
		"output-dir": "PDFHARVEST_DOWNLOAD_ROOT",
	}
	for name, env := range overrides {
		if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
			os.Setenv(env, f.Value.String())
		}
	}
}

func resolveApp(ctx context.Context) (*app.App, error) {
	a, ok := ctx.Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, errors.New("application services not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
