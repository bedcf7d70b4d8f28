// Command capture-server runs the WebSocket ingestion endpoint for phone
// capture clients: camera frames and IMU samples stream in over JSON and land
// as TUM-style session directories on disk.
//
// Usage:
//
//	capture-server
//	capture-server --config capture.yaml
//	capture-server --host 127.0.0.1 --port 9000 --captures-dir /data/captures
//
// Configuration comes from a YAML file (see --config, default config.yaml);
// flags override the file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/phonesplat/capture/logger"
	"github.com/phonesplat/capture/version"
)

var rootCmd = &cobra.Command{
	Use:           "capture-server",
	Short:         "WebSocket capture server for phone camera and IMU streams",
	Version:       version.GetVersion(),
	SilenceUsage:  true,  // Don't print usage on error
	SilenceErrors: false, // Do print errors
	Long: `capture-server accepts WebSocket connections from mobile capture clients and
records their camera frames and inertial samples into per-session directories
(rgb/ frames, rgb.txt index, imu.csv, intrinsics.json, session_stats.json).

Sessions can be started explicitly by a client or implicitly by the first
streamed frame. Finished sessions are scored for reconstruction quality.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cmd.Flags().Changed("verbose") {
			verbose, err := cmd.Flags().GetBool("verbose")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error getting verbose flag: %v\n", err)
				return
			}
			logger.SetVerbose(verbose)
		}
	},
	RunE: runServe,
}

func init() {
	rootCmd.Flags().StringVarP(&configFile, "config", "c", "", "Configuration file path (default config.yaml)")
	rootCmd.Flags().StringVar(&flagHost, "host", "", "Bind address (overrides config)")
	rootCmd.Flags().IntVar(&flagPort, "port", 0, "TCP port (overrides config)")
	rootCmd.Flags().StringVarP(&flagCapturesDir, "captures-dir", "d", "", "Session output directory (overrides config)")
	rootCmd.Flags().BoolP("verbose", "v", false, "Enable verbose debug logging")
}

// setupVersion configures the version display
func setupVersion() {
	rootCmd.SetVersionTemplate(version.GetVersionInfo() + "\n")
}

func Execute() {
	setupVersion()
	err := rootCmd.Execute()
	if err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

func main() {
	Execute()
}
