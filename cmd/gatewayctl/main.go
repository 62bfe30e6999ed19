// Command gatewayctl inspects and administers the payment ledger store
// configured in config.yaml.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"payment-gateway/internal/app"
	"payment-gateway/internal/config"
	"payment-gateway/internal/ledger"
	"payment-gateway/internal/logging"
	"payment-gateway/internal/transfer"
)

var Version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "Administer the payment gateway ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().String("config", ".", "Directory containing config.yaml")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(nextIDCmd())
	rootCmd.AddCommand(feeCmd())
	rootCmd.AddCommand(configCmd())

	return rootCmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return config.LoadConfig(path)
}

func logger(cfg *config.Config) *slog.Logger {
	if cfg.Logs.URL != "" {
		return logging.GetLogger(cfg.Logs)
	}
	// keep stdout for command output
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// openLedger opens the configured store behind a ledger that cannot move
// funds. Administrative commands never settle or refund.
func openLedger(ctx context.Context, cmd *cobra.Command) (*ledger.Ledger, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	log := logger(cfg)

	store, closeStore, err := app.OpenStore(ctx, cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	l, err := app.NewLedger(cfg.Ledger, store, transfer.NewBank(), log)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	return l, closeStore, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
