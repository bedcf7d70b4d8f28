// Package validate scores a finished capture session against the structural
// and temporal invariants the downstream reconstruction pipeline depends on.
// It re-derives frame timestamps from the stored filenames, so it works on
// any session directory regardless of how it was produced, and it never
// mutates the session.
package validate

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/phonesplat/capture/media"
)

// Default thresholds.
const (
	DefaultMinFrames      = 30
	DefaultSoftGapSec     = 0.5
	DefaultHardGapSec     = 2.0
	DefaultMinDurationSec = 3.0
	DefaultIMUSlackSec    = 1.0
)

// Options are the validation thresholds. The zero value is not useful; start
// from DefaultOptions.
type Options struct {
	// MinFrames is the minimum frame count for a usable session.
	MinFrames int
	// SoftGapSec is the inter-frame delta above which a gap counts toward
	// the aggregate gap warning.
	SoftGapSec float64
	// HardGapSec is the inter-frame delta above which each gap draws its
	// own warning.
	HardGapSec float64
	// MinDurationSec is the minimum capture duration.
	MinDurationSec float64
	// IMUSlackSec is the tolerated lag between the IMU log's time span and
	// the frame time span at either end.
	IMUSlackSec float64
}

// DefaultOptions returns the standard thresholds.
func DefaultOptions() Options {
	return Options{
		MinFrames:      DefaultMinFrames,
		SoftGapSec:     DefaultSoftGapSec,
		HardGapSec:     DefaultHardGapSec,
		MinDurationSec: DefaultMinDurationSec,
		IMUSlackSec:    DefaultIMUSlackSec,
	}
}

// Required calibration fields in intrinsics.json.
var requiredIntrinsics = []string{"fx", "fy", "cx", "cy", "width", "height"}

// ValidateSession checks one session directory and returns the scored report.
// Validation always completes with a best-effort report; it short-circuits
// only when a structural prerequisite (no frames at all, no usable
// timestamps) makes the remaining checks meaningless.
func ValidateSession(dir string, opts Options) *Result {
	result := newResult(filepath.Base(dir), dir)

	if _, err := os.Stat(dir); err != nil {
		result.addError(fmt.Sprintf("Session path does not exist: %s", dir), 100)
		return result
	}

	v := &validator{dir: dir, opts: opts, result: result}
	v.run()
	return result
}

// validator holds the per-run state shared between check groups.
type validator struct {
	dir    string
	opts   Options
	result *Result

	// frames are the image filenames in lexicographic order; timestamps
	// are the filename-derived values that parsed, in the same order.
	frames     []string
	timestamps []float64
}

func (v *validator) run() {
	if !v.checkFrames() {
		return
	}
	if !v.checkTemporal() {
		return
	}
	v.checkResolution()
	v.checkIMU()
	v.checkIntrinsics()
	v.checkIndex()
	v.addRecommendations()
}

// checkFrames lists the frame files and parses their timestamps. Filenames
// that do not parse to a positive timestamp still count toward the frame
// count but are excluded from timestamp-derived checks.
func (v *validator) checkFrames() bool {
	entries, err := os.ReadDir(filepath.Join(v.dir, "rgb"))
	if err != nil {
		v.result.addError("No rgb/ directory found", 100)
		return false
	}

	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".jpg") {
			v.frames = append(v.frames, entry.Name())
		}
	}
	v.result.FrameCount = len(v.frames)

	if v.result.FrameCount == 0 {
		v.result.addError("No frames found in rgb/", 100)
		return false
	}
	if v.result.FrameCount < v.opts.MinFrames {
		v.result.addError(fmt.Sprintf("Too few frames: %d < %d minimum",
			v.result.FrameCount, v.opts.MinFrames), 30)
	}

	for _, name := range v.frames {
		ts, err := strconv.ParseFloat(strings.TrimSuffix(name, ".jpg"), 64)
		if err == nil && ts > 0 {
			v.timestamps = append(v.timestamps, ts)
		}
	}
	return true
}

// checkTemporal derives duration and fps and flags gaps and ordering
// violations. Returns false when too few timestamps parsed to continue.
func (v *validator) checkTemporal() bool {
	if len(v.timestamps) < 2 {
		v.result.addError("Cannot determine timestamps from filenames", 50)
		return false
	}

	first := v.timestamps[0]
	last := v.timestamps[len(v.timestamps)-1]
	v.result.DurationSec = last - first

	if v.result.DurationSec < v.opts.MinDurationSec {
		v.result.addError(fmt.Sprintf("Capture too short: %.1fs < %.0fs minimum",
			v.result.DurationSec, v.opts.MinDurationSec), 20)
	}
	if v.result.DurationSec > 0 {
		v.result.AvgFPS = float64(v.result.FrameCount) / v.result.DurationSec
	}

	var fpsValues []float64
	largeGaps := 0
	for i := 1; i < len(v.timestamps); i++ {
		gap := v.timestamps[i] - v.timestamps[i-1]
		if gap > 0 {
			fpsValues = append(fpsValues, 1.0/gap)
		}
		if gap > v.opts.HardGapSec {
			largeGaps++
			v.result.addWarning(fmt.Sprintf("Large gap at frame %d: %.2fs", i, gap), 5)
		} else if gap > v.opts.SoftGapSec {
			largeGaps++
		}
	}
	for _, fps := range fpsValues {
		if v.result.MinFPS == 0 || fps < v.result.MinFPS {
			v.result.MinFPS = fps
		}
		if fps > v.result.MaxFPS {
			v.result.MaxFPS = fps
		}
	}
	if largeGaps > 0 {
		v.result.addWarning(fmt.Sprintf("%d frame gaps > %.1fs detected",
			largeGaps, v.opts.SoftGapSec), 5)
	}

	// One error regardless of how many individual decreases exist.
	for i := 0; i+1 < len(v.timestamps); i++ {
		if v.timestamps[i] > v.timestamps[i+1] {
			v.result.addError("Timestamps are not monotonic (frames out of order)", 30)
			break
		}
	}
	return true
}

// checkResolution probes the first, last and (for long sessions) three evenly
// spaced frames, comparing each against the first frame's dimensions.
func (v *validator) checkResolution() {
	first, err := probeFrame(v.dir, v.frames[0])
	if err != nil {
		v.result.addError(fmt.Sprintf("Error reading images: %v", err), 20)
		return
	}
	v.result.Width = first.Width
	v.result.Height = first.Height

	if len(v.frames) > 1 {
		last, err := probeFrame(v.dir, v.frames[len(v.frames)-1])
		if err != nil {
			v.result.addError(fmt.Sprintf("Error reading images: %v", err), 20)
			return
		}
		if last.Width != first.Width || last.Height != first.Height {
			v.result.ResolutionConsistent = false
			v.result.addWarning(fmt.Sprintf("Resolution changed: %s -> %s",
				first.Resolution(), last.Resolution()), 10)
		}
	}

	if len(v.frames) > 20 {
		n := len(v.frames)
		for _, idx := range []int{n / 4, n / 2, 3 * n / 4} {
			sample, err := probeFrame(v.dir, v.frames[idx])
			if err != nil {
				v.result.addError(fmt.Sprintf("Error reading images: %v", err), 20)
				return
			}
			if sample.Width != first.Width || sample.Height != first.Height {
				v.result.ResolutionConsistent = false
				v.result.addWarning(fmt.Sprintf("Resolution inconsistent at frame %d", idx), 5)
				break
			}
		}
	}
}

// checkIMU validates the IMU log's sample rate and time span against the
// frame timestamps.
func (v *validator) checkIMU() {
	f, err := os.Open(filepath.Join(v.dir, "imu.csv"))
	if err != nil {
		if os.IsNotExist(err) {
			v.result.addWarning("No IMU data file found", 15)
			v.result.IMUSynced = false
		} else {
			v.result.addWarning(fmt.Sprintf("Error reading IMU data: %v", err), 10)
		}
		return
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		v.result.addWarning(fmt.Sprintf("Error reading IMU data: %v", err), 10)
		return
	}
	if len(records) > 0 {
		records = records[1:] // header row
	}
	v.result.IMURecords = len(records)

	if v.result.IMURecords == 0 {
		v.result.addWarning("IMU file exists but is empty", 10)
		return
	}

	frameCount := v.result.FrameCount
	if frameCount < 1 {
		frameCount = 1
	}
	ratio := float64(v.result.IMURecords) / float64(frameCount)
	if ratio < 1 {
		v.result.addWarning(fmt.Sprintf("Low IMU rate: %.1f samples/frame", ratio), 5)
	}

	var imuTimestamps []float64
	for _, row := range records {
		if len(row) == 0 {
			continue
		}
		ts, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			v.result.addWarning(fmt.Sprintf("Error reading IMU data: %v", err), 10)
			return
		}
		imuTimestamps = append(imuTimestamps, ts)
	}
	if len(imuTimestamps) == 0 {
		return
	}

	imuStart, imuEnd := imuTimestamps[0], imuTimestamps[0]
	for _, ts := range imuTimestamps[1:] {
		if ts < imuStart {
			imuStart = ts
		}
		if ts > imuEnd {
			imuEnd = ts
		}
	}

	frameStart := v.timestamps[0]
	frameEnd := v.timestamps[len(v.timestamps)-1]

	// The IMU log should roughly span the frame timestamps.
	if imuStart > frameStart+v.opts.IMUSlackSec {
		v.result.addWarning("IMU data starts late", 5)
	}
	if imuEnd < frameEnd-v.opts.IMUSlackSec {
		v.result.addWarning("IMU data ends early", 5)
	}

	v.result.IMUAvgOffsetMS = math.Abs(imuStart-frameStart) * 1000
}

// checkIntrinsics validates the calibration record's fields and resolution
// against the measured frame dimensions.
func (v *validator) checkIntrinsics() {
	data, err := os.ReadFile(filepath.Join(v.dir, "intrinsics.json"))
	if err != nil {
		if os.IsNotExist(err) {
			v.result.addWarning("No intrinsics.json found", 15)
		} else {
			v.result.addWarning(fmt.Sprintf("Error reading intrinsics: %v", err), 10)
		}
		return
	}

	var intrinsics map[string]any
	if err := json.Unmarshal(data, &intrinsics); err != nil {
		v.result.addWarning(fmt.Sprintf("Error reading intrinsics: %v", err), 10)
		return
	}
	v.result.Intrinsics = intrinsics
	v.result.HasIntrinsics = true

	var missing []string
	for _, key := range requiredIntrinsics {
		if _, ok := intrinsics[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		v.result.addWarning(fmt.Sprintf("Missing intrinsic fields: %v", missing), 5)
	}

	if v.result.Width > 0 {
		intrW := numberField(intrinsics, "width")
		intrH := numberField(intrinsics, "height")
		if intrW != float64(v.result.Width) || intrH != float64(v.result.Height) {
			v.result.addWarning(fmt.Sprintf("Intrinsics resolution (%.0fx%.0f) != actual (%s)",
				intrW, intrH, v.result.Resolution()), 10)
		}
	}
}

// checkIndex cross-checks the frame-index log's entry count against the
// frame count.
func (v *validator) checkIndex() {
	data, err := os.ReadFile(filepath.Join(v.dir, "rgb.txt"))
	if err != nil {
		if os.IsNotExist(err) {
			v.result.addWarning("No rgb.txt (TUM format timestamps) found", 5)
		} else {
			v.result.addWarning(fmt.Sprintf("Error reading rgb.txt: %v", err), 5)
		}
		return
	}

	count := 0
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		count++
	}
	if count != v.result.FrameCount {
		v.result.addWarning(fmt.Sprintf("rgb.txt has %d entries but %d frames",
			count, v.result.FrameCount), 5)
	}
}

func probeFrame(dir, name string) (media.Info, error) {
	return media.Probe(filepath.Join(dir, "rgb", name))
}

// addRecommendations emits advisory notes that never affect the score.
func (v *validator) addRecommendations() {
	if v.result.AvgFPS < 8 {
		v.result.addInfo("Consider higher FPS for better reconstruction quality")
	}
	if v.result.AvgFPS > 20 {
		v.result.addInfo("High FPS captured - good for fast motion")
	}
	if v.result.FrameCount > 500 {
		v.result.addInfo("Large capture - reconstruction may take a while")
	}
	if v.result.DurationSec < 10 {
		v.result.addInfo("Short capture - ensure scene coverage is adequate")
	}
}
