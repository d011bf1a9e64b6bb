package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "cartable",
	Short: "School portal snapshot warehouse",
	Long: `cartable syncs crawled school-portal snapshots into a local SQLite
star-schema warehouse.

Each crawl run produces a per-student directory of JSON snapshots
(studentInfo.json, cahierDeTexte-courses.json,
cahierDeTexte-travailAFaire.json). cartable walks those directories,
detects content changes by checksum, and upserts course and homework
facts with a full audit trail. A processed-file ledger makes every sync
incremental and safe to re-run.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default cartable.yaml in . or $HOME)")
	rootCmd.PersistentFlags().String("db", "cartable.db", "path to the warehouse database")
	rootCmd.PersistentFlags().String("log-file", "", "write logs to this file (rotated) instead of stderr")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	viper.BindPFlag("db", rootCmd.PersistentFlags().Lookup("db"))
	viper.BindPFlag("log.file", rootCmd.PersistentFlags().Lookup("log-file"))

	viper.SetDefault("log.max_size_mb", 10)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age_days", 28)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("cartable")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(home)
		}
	}

	viper.SetEnvPrefix("CARTABLE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// newLogger builds a prefixed process logger, honoring the log.file
// setting with rotation.
func newLogger(prefix string) *log.Logger {
	var out io.Writer = os.Stderr
	if path := viper.GetString("log.file"); path != "" {
		out = &lumberjack.Logger{
			Filename:   path,
			MaxSize:    viper.GetInt("log.max_size_mb"),
			MaxBackups: viper.GetInt("log.max_backups"),
			MaxAge:     viper.GetInt("log.max_age_days"),
			Compress:   true,
		}
	}
	return log.New(out, prefix, log.LstdFlags)
}

// resolveResultsRoot picks the results directory from the positional
// argument or the 'results' config key.
func resolveResultsRoot(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if r := viper.GetString("results"); r != "" {
		return r, nil
	}
	return "", fmt.Errorf("no results directory: pass RESULTS_DIR or set 'results' in the config")
}
