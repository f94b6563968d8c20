// Command ivylab runs the essay assistant's HTTP server and its maintenance
// tasks.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ivylab/ivylab/config"
	"github.com/ivylab/ivylab/plan"
	"github.com/ivylab/ivylab/server"
)

// Version is set at build time with -ldflags.
var Version = "dev"

var (
	configPath string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:           "ivylab",
	Short:         "IvyLab essay assistant server",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath, envFile)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

var syncPricesCmd = &cobra.Command{
	Use:   "sync-prices",
	Short: "Create or look up the plan prices at the payment provider",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath, envFile)
		if err != nil {
			return err
		}
		return syncPrices(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file (default: ./.env if present)")
	rootCmd.AddCommand(serveCmd, syncPricesCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := cfg.Log.NewLogger(os.Stderr)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.engine.Start(ctx); err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.server.ListenAndServe(server.Addr(cfg.Server.Port))
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("server stopped", "error", err)
	return err
}

func syncPrices(ctx context.Context, cfg *config.Config) error {
	if !cfg.BillingEnabled() {
		return fmt.Errorf("sync-prices: STRIPE_SECRET_KEY is not set")
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	prices, err := a.engine.SyncPrices(ctx)
	if err != nil {
		return err
	}
	for _, id := range []plan.ID{plan.Weekly, plan.Monthly} {
		fmt.Printf("%-8s %s\n", id, prices[id])
	}
	return nil
}
