// Command capture-validate scores recorded capture sessions for
// reconstruction quality.
//
// Usage:
//
//	capture-validate captures/session_20241222_153045
//	capture-validate session_20241222_153045 --json
//	capture-validate --latest
//	capture-validate --list
//
// A bare session name is resolved under the captures directory. The exit
// status is non-zero when the session has validation errors, so the command
// can gate a reconstruction pipeline.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/phonesplat/capture/capture"
	"github.com/phonesplat/capture/config"
	"github.com/phonesplat/capture/validate"
	"github.com/phonesplat/capture/version"
)

var rootCmd = &cobra.Command{
	Use:           "capture-validate [session-path]",
	Short:         "Validate capture sessions for reconstruction quality",
	Version:       version.GetVersion(),
	SilenceUsage:  true,
	SilenceErrors: false,
	Args:          cobra.MaximumNArgs(1),
	Long: `capture-validate inspects a recorded session directory (rgb/ frames, rgb.txt
index, imu.csv, intrinsics.json) and reports frame coverage, temporal gaps,
resolution consistency, IMU sync and calibration completeness as a quality
score from 0 to 100.

Thresholds come from the same configuration file the capture server uses.`,
	RunE: runValidate,
}

var (
	validateConfigFile  string
	validateCapturesDir string
	validateList        bool
	validateLatest      bool
	validateJSON        bool
)

func init() {
	rootCmd.Flags().StringVarP(&validateConfigFile, "config", "c", "", "Configuration file path (default config.yaml)")
	rootCmd.Flags().StringVarP(&validateCapturesDir, "captures-dir", "d", "", "Captures directory (overrides config)")
	rootCmd.Flags().BoolVarP(&validateList, "list", "l", false, "List all sessions")
	rootCmd.Flags().BoolVar(&validateLatest, "latest", false, "Validate the most recent session")
	rootCmd.Flags().BoolVar(&validateJSON, "json", false, "Output results as JSON")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(validateConfigFile)
	if err != nil {
		return err
	}

	capturesDir := cfg.CapturesDir
	if cmd.Flags().Changed("captures-dir") {
		capturesDir = validateCapturesDir
	}

	if validateList {
		return listSessions(capturesDir)
	}

	dir, err := resolveSessionDir(capturesDir, args)
	if err != nil {
		return err
	}

	opts := validate.DefaultOptions()
	opts.MinFrames = cfg.Validation.MinFrames
	opts.SoftGapSec = cfg.Validation.SoftGapSec
	opts.HardGapSec = cfg.Validation.HardGapSec
	opts.MinDurationSec = cfg.Validation.MinDurationSec

	result := validate.ValidateSession(dir, opts)

	if validateJSON {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode result: %w", err)
		}
		fmt.Println(string(data))
	} else {
		fmt.Println()
		fmt.Print(result.Summary())
	}

	if !result.IsValid {
		return fmt.Errorf("validation failed with %d error(s)", len(result.Errors))
	}
	return nil
}

func listSessions(capturesDir string) error {
	sessions, err := capture.ListSessions(capturesDir)
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		fmt.Printf("No sessions found in %s/\n", capturesDir)
		return nil
	}

	fmt.Println("Available sessions:")
	for _, s := range sessions {
		fmt.Printf("  %s  (%d frames)\n", s.SessionID, s.FrameCount)
	}
	return nil
}

// resolveSessionDir picks the session directory from --latest or the
// positional argument. A bare name that does not exist as given is retried
// under the captures directory.
func resolveSessionDir(capturesDir string, args []string) (string, error) {
	if validateLatest {
		sessions, err := capture.ListSessions(capturesDir)
		if err != nil {
			return "", fmt.Errorf("failed to list sessions: %w", err)
		}
		if len(sessions) == 0 {
			return "", fmt.Errorf("no sessions found in %s/", capturesDir)
		}
		return sessions[0].Path, nil
	}

	if len(args) == 0 {
		return "", fmt.Errorf("session path required (or use --list / --latest)")
	}

	dir := args[0]
	if _, err := os.Stat(dir); os.IsNotExist(err) && !filepath.IsAbs(dir) {
		dir = filepath.Join(capturesDir, args[0])
	}
	return dir, nil
}

func Execute() {
	rootCmd.SetVersionTemplate(version.GetVersionInfo() + "\n")
	err := rootCmd.Execute()
	if err != nil {
		// Error already printed by cobra
		os.Exit(1)
	}
}

func main() {
	Execute()
}
