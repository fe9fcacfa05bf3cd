package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"storefront/internal/app"
	"storefront/internal/client"
	"storefront/internal/config"
	"storefront/internal/logger"
	"storefront/internal/service"
	"syscall"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "opsctl",
		Short:         "Operator tooling for the storefront order service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(sweepCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// withApp wires the application for one command and tears it down after.
func withApp(ctx context.Context, fn func(a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := app.New(ctx, cfg, logger.New(cfg.Log))
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(a)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				if err := client.Migrate(a.DB); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "migrated %s database\n", a.Config.Database.Driver)
				return nil
			})
		},
	}
}

func seedCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import products, variants and coupons from a YAML catalog",
		Long: `Import a YAML catalog. Products and variants are matched by SKU and
coupons by code, so running the same file twice changes nothing.

Examples:
  opsctl seed --file seed/catalog.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(file)
			if err != nil {
				return fmt.Errorf("open catalog: %w", err)
			}
			defer f.Close()

			catalog, err := service.LoadCatalog(f)
			if err != nil {
				return err
			}

			return withApp(cmd.Context(), func(a *app.App) error {
				if err := client.Migrate(a.DB); err != nil {
					return err
				}
				if err := a.Services.Catalog.Import(cmd.Context(), catalog); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d products and %d coupons\n", len(catalog.Products), len(catalog.Coupons))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "seed/catalog.yaml", "catalog file")
	return cmd
}

func sweepCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Settle stale gateway payments and cancel unpaid orders once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app.App) error {
				report, err := a.Services.Sweeper.Sweep(cmd.Context(), time.Now())
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if asJSON {
					return json.NewEncoder(out).Encode(report)
				}
				fmt.Fprintf(out, "checked %d, confirmed %d, expired %d, cancelled %d, errors %d\n",
					report.Checked, report.Confirmed, report.Expired, report.Cancelled, report.Errors)
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "print the report as JSON")
	return cmd
}
