package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/andy963/ads/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "ads",
	Short: "ads — single-binary AI dev shell",
	Long:  "ads runs a WebSocket/HTTP front, a Telegram channel, and a per-workspace task queue against a pluggable agent orchestrator, backed by one SQLite database per workspace.",
	Run: func(cmd *cobra.Command, args []string) {
		runServe()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $ADS_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(initAdminCmd())
	rootCmd.AddCommand(resetAdminCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(workspaceCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("ads %s\n", Version)
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway: WebSocket/HTTP front, task queue, and channels",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("ADS_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}

// Execute runs the root cobra command. Cobra's own argument-parsing and
// unknown-flag errors exit 1 (spec's "user error"); subcommands that hit a
// config-level failure (section 6) call os.Exit(2) themselves before
// returning.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
