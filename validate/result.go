package validate

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Result carries the structural facts, accumulated issues and quality score
// for one validated session. Issues are collected rather than raised so a
// single defect never prevents reporting on the rest of the session.
type Result struct {
	SessionID string `json:"session_id"`
	Path      string `json:"path"`

	FrameCount  int     `json:"frame_count"`
	DurationSec float64 `json:"duration_sec"`
	AvgFPS      float64 `json:"avg_fps"`
	MinFPS      float64 `json:"min_fps"`
	MaxFPS      float64 `json:"max_fps"`

	Width                int  `json:"width"`
	Height               int  `json:"height"`
	ResolutionConsistent bool `json:"resolution_consistent"`

	IMURecords     int     `json:"imu_records"`
	IMUSynced      bool    `json:"imu_synced"`
	IMUAvgOffsetMS float64 `json:"imu_avg_offset_ms"`

	HasIntrinsics bool           `json:"has_intrinsics"`
	Intrinsics    map[string]any `json:"intrinsics,omitempty"`

	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	Info     []string `json:"info"`

	// QualityScore starts at 100 and loses the penalty of every recorded
	// error and warning, floored at 0.
	QualityScore int `json:"quality_score"`
	// IsValid is true iff no errors were recorded. Warnings alone never
	// invalidate a session.
	IsValid bool `json:"is_valid"`
}

func newResult(sessionID, path string) *Result {
	return &Result{
		SessionID:            sessionID,
		Path:                 path,
		ResolutionConsistent: true,
		IMUSynced:            true,
		QualityScore:         100,
		IsValid:              true,
		Errors:               []string{},
		Warnings:             []string{},
		Info:                 []string{},
	}
}

func (r *Result) addError(msg string, penalty int) {
	r.Errors = append(r.Errors, msg)
	r.applyPenalty(penalty)
	r.IsValid = false
}

func (r *Result) addWarning(msg string, penalty int) {
	r.Warnings = append(r.Warnings, msg)
	r.applyPenalty(penalty)
}

func (r *Result) addInfo(msg string) {
	r.Info = append(r.Info, msg)
}

func (r *Result) applyPenalty(penalty int) {
	r.QualityScore -= penalty
	if r.QualityScore < 0 {
		r.QualityScore = 0
	}
}

// Resolution renders the measured frame dimensions as "640x480".
func (r *Result) Resolution() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Summary renders a human-readable report block.
func (r *Result) Summary() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Session: %s\n", r.SessionID)
	b.WriteString(strings.Repeat("=", 50) + "\n")
	fmt.Fprintf(&b, "Frames:      %d\n", r.FrameCount)
	fmt.Fprintf(&b, "Duration:    %.1fs\n", r.DurationSec)
	fmt.Fprintf(&b, "Avg FPS:     %.1f\n", r.AvgFPS)
	if r.MinFPS > 0 {
		fmt.Fprintf(&b, "FPS Range:   %.1f - %.1f\n", r.MinFPS, r.MaxFPS)
	}

	resStatus := "consistent"
	if !r.ResolutionConsistent {
		resStatus = "INCONSISTENT"
	}
	fmt.Fprintf(&b, "Resolution:  %s (%s)\n", r.Resolution(), resStatus)

	if r.IMURecords > 0 {
		syncStatus := "NOT SYNCED"
		if r.IMUSynced {
			syncStatus = fmt.Sprintf("offset: %.1fms", r.IMUAvgOffsetMS)
		}
		fmt.Fprintf(&b, "IMU Records: %d (%s)\n", r.IMURecords, syncStatus)
	} else {
		b.WriteString("IMU Records: None\n")
	}

	if r.HasIntrinsics {
		fmt.Fprintf(&b, "Intrinsics:  fx=%.0f, fy=%.0f\n",
			numberField(r.Intrinsics, "fx"), numberField(r.Intrinsics, "fy"))
	} else {
		b.WriteString("Intrinsics:  Not found\n")
	}

	fmt.Fprintf(&b, "\nQuality Score: %d/100\n", r.QualityScore)

	if len(r.Errors) > 0 {
		b.WriteString("\nERRORS:\n")
		for _, msg := range r.Errors {
			fmt.Fprintf(&b, "  [X] %s\n", msg)
		}
	}
	if len(r.Warnings) > 0 {
		b.WriteString("\nWARNINGS:\n")
		for _, msg := range r.Warnings {
			fmt.Fprintf(&b, "  [!] %s\n", msg)
		}
	}
	if len(r.Info) > 0 {
		b.WriteString("\nINFO:\n")
		for _, msg := range r.Info {
			fmt.Fprintf(&b, "  [i] %s\n", msg)
		}
	}

	ready := "NO"
	if r.IsValid {
		ready = "YES"
	}
	fmt.Fprintf(&b, "\nReady for reconstruction: %s\n", ready)
	return b.String()
}

// WriteFile serializes the report as indented JSON. The report is advisory;
// sessions are complete without one.
func (r *Result) WriteFile(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode validation report: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write validation report: %w", err)
	}
	return nil
}

// numberField reads a numeric field from a decoded JSON object, 0 when absent
// or non-numeric.
func numberField(m map[string]any, key string) float64 {
	if n, ok := m[key].(float64); ok {
		return n
	}
	return 0
}
