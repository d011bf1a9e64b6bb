package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/avigny/cartable/internal/ui"
	"github.com/avigny/cartable/internal/warehouse"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show warehouse status",
	Long: `Display the current contents of the warehouse database.

Shows:
  - Database location and size
  - Dimension and fact row counts
  - Processed-file ledger state
  - Most recent crawl observed`,
	Run: func(cmd *cobra.Command, args []string) {
		dbPath := viper.GetString("db")

		info, err := os.Stat(dbPath)
		if os.IsNotExist(err) {
			fmt.Printf("\n%s Warehouse not initialized at %s\n", ui.RenderWarn("⚠"), dbPath)
			fmt.Printf("   Run 'cartable sync' to create it\n\n")
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error checking warehouse: %v\n", err)
			os.Exit(1)
		}

		database, err := warehouse.Open(dbPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error opening warehouse database: %v\n", err)
			os.Exit(1)
		}
		defer database.Close()

		stats, err := database.Stats(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading stats: %v\n", err)
			os.Exit(1)
		}

		size := info.Size()
		sizeStr := fmt.Sprintf("%d bytes", size)
		if size > 1024*1024 {
			sizeStr = fmt.Sprintf("%.1f MB", float64(size)/(1024*1024))
		} else if size > 1024 {
			sizeStr = fmt.Sprintf("%.1f KB", float64(size)/1024)
		}

		fmt.Printf("\n%s Warehouse Status\n\n", ui.RenderAccent("📊"))
		fmt.Printf("Location: %s\n", dbPath)
		fmt.Printf("Size: %s\n", sizeStr)
		fmt.Printf("Modified: %s\n", info.ModTime().Format("2006-01-02 15:04:05"))
		fmt.Println()
		fmt.Printf("Students: %d  Schools: %d  Grades: %d\n", stats.Students, stats.Schools, stats.Grades)
		fmt.Printf("Subjects: %d  Teachers: %d  Dates: %d\n", stats.Subjects, stats.Teachers, stats.Dates)
		fmt.Printf("Courses: %d\n", stats.Courses)
		fmt.Printf("Homework: %d (%d temporary)\n", stats.Homework, stats.TemporaryHomework)
		fmt.Println()
		fmt.Printf("Ledger: %d processed, %d waiting, %d error\n",
			stats.LedgerProcessed, stats.LedgerWaiting, stats.LedgerError)
		if stats.LastCrawl != "" {
			fmt.Printf("Last crawl: %s\n", stats.LastCrawl)
		}
		fmt.Println()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
