package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/avigny/cartable/internal/engine"
	"github.com/avigny/cartable/internal/ui"
	"github.com/avigny/cartable/internal/warehouse"
)

var (
	syncDryRun       bool
	syncReprocess    bool
	syncDueTolerance time.Duration
	syncOverdueGrace time.Duration
)

var syncCmd = &cobra.Command{
	Use:   "sync RESULTS_DIR",
	Short: "Sync crawl snapshots into the warehouse",
	Long: `Walk a results directory of crawl snapshots and sync them into the
warehouse database.

The results directory has one subdirectory per student, each holding one
subdirectory per crawl run with three JSON files:
  studentInfo.json
  cahierDeTexte-courses.json
  cahierDeTexte-travailAFaire.json

Already processed files are skipped via the ledger, so re-running sync
over the same tree is cheap and idempotent; --reprocess clears the
ledger first to force a full re-read (unchanged snapshots are then
checksum no-ops). Diagnostic artifacts (courses.json, homeworkIds.json,
errorsReport.json) are written next to each processed run directory, or
under --artifacts-dir when set.`,
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

		if syncReprocess && !syncDryRun {
			if err := database.ResetLedger(cmd.Context()); err != nil {
				fmt.Fprintf(os.Stderr, "Error resetting ledger: %v\n", err)
				os.Exit(1)
			}
		}

		cfg := engine.DefaultConfig()
		cfg.ArtifactsRoot = viper.GetString("artifacts")
		cfg.DryRun = syncDryRun
		cfg.Logger = newLogger("[sync] ")
		cfg.DueTolerance = syncDueTolerance
		cfg.OverdueGrace = syncOverdueGrace
		if cfg.DueTolerance == 0 {
			cfg.DueTolerance = viper.GetDuration("thresholds.due_tolerance")
		}
		if cfg.OverdueGrace == 0 {
			cfg.OverdueGrace = viper.GetDuration("thresholds.overdue_grace")
		}

		eng := engine.New(database, cfg)

		mode := "Syncing"
		if syncDryRun {
			mode = "Dry-run over"
		}
		fmt.Printf("%s %s snapshots from %s...\n", ui.RenderAccent("🔄"), mode, resultsRoot)

		sum, err := eng.Process(cmd.Context(), resultsRoot)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error during sync: %v\n", err)
			os.Exit(1)
		}

		marker := ui.RenderPass("✓")
		if sum.Errors > 0 || sum.MalformedFiles > 0 {
			marker = ui.RenderWarn("⚠")
		}
		fmt.Printf("%s Sync complete in %v\n", marker, sum.Elapsed.Round(time.Millisecond))
		fmt.Printf("   Students: %d (%d dirs processed, %d skipped)\n",
			sum.Students, sum.DirsProcessed, sum.DirsSkipped)
		fmt.Printf("   Courses: %d inserted, %d updated, %d unchanged\n",
			sum.CoursesInserted, sum.CoursesUpdated, sum.CoursesUnchanged)
		fmt.Printf("   Homework: %d inserted, %d updated, %d confirmed, %d unchanged\n",
			sum.HomeworkInserted, sum.HomeworkUpdated, sum.HomeworkConfirmed, sum.HomeworkUnchanged)
		fmt.Printf("   Reaped: %d\n", sum.Reaped)
		if sum.Duplicates > 0 || sum.ConversionErrors > 0 || sum.FilesSkipped > 0 {
			fmt.Printf("   %s\n", ui.RenderDim(fmt.Sprintf("%d duplicate keys, %d conversion errors, %d files already processed",
				sum.Duplicates, sum.ConversionErrors, sum.FilesSkipped)))
		}
		if sum.MalformedFiles > 0 {
			fmt.Printf("   %s %d malformed snapshot files (marked ERROR, retried next run)\n",
				ui.RenderWarn("⚠"), sum.MalformedFiles)
		}
		if sum.Errors > 0 {
			fmt.Printf("   %s %d errors (see log)\n", ui.RenderWarn("⚠"), sum.Errors)
		}
		fmt.Printf("   Warehouse: %s\n", dbPath)
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().String("artifacts-dir", "", "write diagnostic artifacts under this root instead of the run directories")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "read and convert snapshots without writing to the warehouse")
	syncCmd.Flags().BoolVar(&syncReprocess, "reprocess", false, "clear the processed-file ledger and re-read every snapshot")
	syncCmd.Flags().DurationVar(&syncDueTolerance, "due-tolerance", 0, "completed-late tolerance after the due date (default 24h)")
	syncCmd.Flags().DurationVar(&syncOverdueGrace, "overdue-grace", 0, "grace after the due date before unfinished homework is written off (default 72h)")

	viper.BindPFlag("artifacts", syncCmd.Flags().Lookup("artifacts-dir"))
}
