package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/avigny/cartable/internal/engine"
	"github.com/avigny/cartable/internal/ui"
	"github.com/avigny/cartable/internal/warehouse"
	"github.com/avigny/cartable/internal/watch"
)

var (
	watchDebounce time.Duration
	watchRescan   time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch RESULTS_DIR",
	Short: "Watch a results directory and sync continuously (foreground)",
	Long: `Watch the results directory for new crawl snapshots and sync them as
they arrive.

The watcher:
  1. Performs a full sync pass on startup
  2. Watches student and run directories for snapshot files
  3. Debounces rapid writes into a single sync pass
  4. Rescans periodically as a safety net

Runs in the foreground until interrupted.`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		resultsRoot, err := resolveResultsRoot(args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		dbPath := viper.GetString("db")

		database, err := warehouse.Open(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening warehouse database: %v\n", err)
			os.Exit(1)
		}
		defer database.Close()

		if err := database.InitSchema(); err != nil {
			fmt.Fprintf(os.Stderr, "Error initializing schema: %v\n", err)
			os.Exit(1)
		}

		engCfg := engine.DefaultConfig()
		engCfg.Logger = newLogger("[sync] ")
		eng := engine.New(database, engCfg)

		cfg := watch.DefaultConfig()
		cfg.Logger = newLogger("[watch] ")
		if d := firstDuration(watchDebounce, viper.GetDuration("watch.debounce")); d > 0 {
			cfg.DebounceInterval = d
		}
		if d := firstDuration(watchRescan, viper.GetDuration("watch.rescan")); d > 0 {
			cfg.RescanInterval = d
		}

		w, err := watch.NewWithConfig(eng, resultsRoot, cfg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating watcher: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("%s Watching %s\n", ui.RenderAccent("👀"), resultsRoot)
		fmt.Printf("   Warehouse: %s\n", dbPath)
		fmt.Printf("\nPress Ctrl+C to stop\n\n")

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		if err := w.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Watcher stopped with error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 0, "quiet period before a sync pass (default 2s)")
	watchCmd.Flags().DurationVar(&watchRescan, "rescan", 0, "periodic full rescan interval (default 5m)")
}

// firstDuration returns the first positive duration; the flag wins over the
// config key.
func firstDuration(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
