package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/yuechangmingzou/nofx-engine/pkg/types"
)

var (
	onceMode   string
	onceCSVDir string
)

var onceCmd = &cobra.Command{
	Use:   "once",
	Short: "Run a single tick and print the report",
	Long: `Run one evaluation pass over the configured pairs and print the tick report
and open orders as JSON. Defaults to simulation mode, which writes nothing to
the trade ledger.`,
	RunE: runOnce,
}

func init() {
	rootCmd.AddCommand(onceCmd)
	onceCmd.Flags().StringVarP(&onceMode, "mode", "m", string(types.ModeSimulation), "Trading mode (simulation, paper, live)")
	onceCmd.Flags().StringVar(&onceCSVDir, "csv-dir", "", "Read candles from <dir>/<PAIR>_<TF>.csv instead of the exchange")
}

func runOnce(cmd *cobra.Command, _ []string) error {
	mode := types.TradingMode(onceMode)
	if !mode.Valid() {
		return fmt.Errorf("unknown mode: %s", onceMode)
	}

	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, appOptions{
		mode:     mode,
		csvDir:   onceCSVDir,
		noLedger: mode == types.ModeSimulation,
		noLease:  true,
	})
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.engine.Tick(ctx)
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(map[string]interface{}{
		"report":    report,
		"orders":    a.engine.OpenOrders(),
		"portfolio": a.engine.Portfolio(),
	}, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
