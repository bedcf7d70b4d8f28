package validate

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func formatTS(ts float64) string {
	return strconv.FormatFloat(ts, 'f', 6, 64)
}

// testJPEG renders a solid-color frame at the given dimensions.
func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 80, G: 120, B: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 70}))
	return buf.Bytes()
}

func newSessionDir(t *testing.T, name string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "rgb"), 0750))
	return dir
}

func writeFrames(t *testing.T, dir string, timestamps []float64, frame []byte) {
	t.Helper()
	for _, ts := range timestamps {
		path := filepath.Join(dir, "rgb", formatTS(ts)+".jpg")
		require.NoError(t, os.WriteFile(path, frame, 0600))
	}
}

func writeIndex(t *testing.T, dir string, timestamps []float64) {
	t.Helper()
	var b strings.Builder
	b.WriteString("# timestamp filename\n")
	for _, ts := range timestamps {
		fmt.Fprintf(&b, "%s rgb/%s.jpg\n", formatTS(ts), formatTS(ts))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rgb.txt"), []byte(b.String()), 0600))
}

func writeIMU(t *testing.T, dir string, timestamps []float64) {
	t.Helper()
	f, err := os.Create(filepath.Join(dir, "imu.csv"))
	require.NoError(t, err)
	defer f.Close()

	w := csv.NewWriter(f)
	require.NoError(t, w.Write([]string{
		"timestamp", "accel_x", "accel_y", "accel_z",
		"gyro_x", "gyro_y", "gyro_z", "qw", "qx", "qy", "qz",
	}))
	for _, ts := range timestamps {
		require.NoError(t, w.Write([]string{
			formatTS(ts), "0.1", "0.2", "9.8", "0", "0", "0", "1", "0", "0", "0",
		}))
	}
	w.Flush()
	require.NoError(t, w.Error())
}

func writeIntrinsics(t *testing.T, dir string, intrinsics map[string]any) {
	t.Helper()
	data, err := json.Marshal(intrinsics)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "intrinsics.json"), data, 0600))
}

func frameRange(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	return out
}

func TestValidateSession_RoundTrip(t *testing.T) {
	dir := newSessionDir(t, "session_roundtrip")

	timestamps := frameRange(1000.0, 0.1, 40)
	writeFrames(t, dir, timestamps, testJPEG(t, 720, 1280))
	writeIndex(t, dir, timestamps)
	writeIMU(t, dir, frameRange(1000.0, 0.01, 400))
	writeIntrinsics(t, dir, map[string]any{
		"fx": 1000.0, "fy": 1000.0, "cx": 360.0, "cy": 640.0,
		"width": 720.0, "height": 1280.0,
	})

	result := ValidateSession(dir, DefaultOptions())

	assert.Empty(t, result.Errors)
	assert.Empty(t, result.Warnings)
	assert.Equal(t, 100, result.QualityScore)
	assert.True(t, result.IsValid)

	assert.Equal(t, 40, result.FrameCount)
	assert.InDelta(t, 3.9, result.DurationSec, 1e-3)
	assert.InDelta(t, 40.0/3.9, result.AvgFPS, 0.1)
	assert.Equal(t, "720x1280", result.Resolution())
	assert.True(t, result.ResolutionConsistent)
	assert.Equal(t, 400, result.IMURecords)
	assert.True(t, result.IMUSynced)
	assert.InDelta(t, 0.0, result.IMUAvgOffsetMS, 1.0)
	assert.True(t, result.HasIntrinsics)
}

func TestValidateSession_MissingDir(t *testing.T) {
	result := ValidateSession(filepath.Join(t.TempDir(), "absent"), DefaultOptions())

	assert.False(t, result.IsValid)
	assert.Equal(t, 0, result.QualityScore)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "does not exist")
}

func TestValidateSession_NoRGBDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "session_norgb")
	require.NoError(t, os.MkdirAll(dir, 0750))

	result := ValidateSession(dir, DefaultOptions())

	assert.Equal(t, 0, result.QualityScore)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "No rgb/ directory")
}

func TestValidateSession_NoFrames(t *testing.T) {
	dir := newSessionDir(t, "session_empty")

	result := ValidateSession(dir, DefaultOptions())

	assert.Equal(t, 0, result.QualityScore)
	assert.Equal(t, 0, result.FrameCount)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "No frames found")
}

func TestValidateSession_ScoreFloor(t *testing.T) {
	dir := newSessionDir(t, "session_floor")
	// Two unreadable frames on top of every missing ancillary file pushes
	// the cumulative penalties past 100.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rgb", "1.000000.jpg"), []byte("garbage"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rgb", "1.200000.jpg"), []byte("garbage"), 0600))

	result := ValidateSession(dir, DefaultOptions())

	assert.Equal(t, 0, result.QualityScore)
	assert.False(t, result.IsValid)
}

func TestValidateSession_MissingAncillaryFiles(t *testing.T) {
	dir := newSessionDir(t, "session_bare")
	writeFrames(t, dir, frameRange(3000.0, 0.15, 30), testJPEG(t, 320, 240))

	result := ValidateSession(dir, DefaultOptions())

	assert.True(t, result.IsValid, "missing ancillary files warn, never invalidate")
	assert.Len(t, result.Warnings, 3)
	assert.Equal(t, 65, result.QualityScore)
	assert.False(t, result.IMUSynced)
	assert.False(t, result.HasIntrinsics)
}

func TestValidateSession_DegradedAncillaryFiles(t *testing.T) {
	dir := newSessionDir(t, "session_degraded")
	timestamps := frameRange(2000.0, 0.12, 31)
	writeFrames(t, dir, timestamps, testJPEG(t, 320, 240))

	writeIMU(t, dir, nil) // header only
	writeIntrinsics(t, dir, map[string]any{"fx": 500.0})
	writeIndex(t, dir, timestamps[:5])

	result := ValidateSession(dir, DefaultOptions())

	require.Len(t, result.Warnings, 4)
	assert.Contains(t, result.Warnings[0], "IMU file exists but is empty")
	assert.Contains(t, result.Warnings[1], "Missing intrinsic fields")
	assert.Contains(t, result.Warnings[1], "fy")
	assert.Contains(t, result.Warnings[2], "Intrinsics resolution (0x0) != actual (320x240)")
	assert.Contains(t, result.Warnings[3], "rgb.txt has 5 entries but 31 frames")
	assert.Equal(t, 70, result.QualityScore)
	assert.True(t, result.IsValid)
}

func TestValidateSession_ResolutionChange(t *testing.T) {
	dir := newSessionDir(t, "session_res")
	timestamps := frameRange(4000.0, 0.12, 30)
	writeFrames(t, dir, timestamps[:29], testJPEG(t, 640, 480))
	writeFrames(t, dir, timestamps[29:], testJPEG(t, 480, 360))

	result := ValidateSession(dir, DefaultOptions())

	assert.False(t, result.ResolutionConsistent)
	found := false
	for _, msg := range result.Warnings {
		if strings.Contains(msg, "Resolution changed: 640x480 -> 480x360") {
			found = true
		}
	}
	assert.True(t, found, "expected resolution change warning, got %v", result.Warnings)
	assert.Equal(t, 640, result.Width)
	assert.Equal(t, 480, result.Height)
}

func TestValidateSession_IMUTimespan(t *testing.T) {
	dir := newSessionDir(t, "session_imuspan")
	writeFrames(t, dir, frameRange(5000.0, 0.13, 31), testJPEG(t, 320, 240))
	// Five samples covering a sliver in the middle of the capture.
	writeIMU(t, dir, frameRange(5002.0, 0.1, 5))

	result := ValidateSession(dir, DefaultOptions())

	assert.Equal(t, 5, result.IMURecords)
	assert.InDelta(t, 2000.0, result.IMUAvgOffsetMS, 1.0)

	joined := strings.Join(result.Warnings, "\n")
	assert.Contains(t, joined, "Low IMU rate: 0.2 samples/frame")
	assert.Contains(t, joined, "IMU data starts late")
	assert.Contains(t, joined, "IMU data ends early")
}

func TestCheckTemporal_GapClassification(t *testing.T) {
	v := &validator{
		opts:       DefaultOptions(),
		result:     newResult("session_gaps", "session_gaps"),
		timestamps: []float64{0.0, 0.1, 2.6, 2.7},
	}
	v.result.FrameCount = 4

	require.True(t, v.checkTemporal())

	require.Len(t, v.result.Warnings, 2)
	assert.Equal(t, "Large gap at frame 2: 2.50s", v.result.Warnings[0])
	assert.Equal(t, "1 frame gaps > 0.5s detected", v.result.Warnings[1])
	assert.InDelta(t, 0.4, v.result.MinFPS, 1e-9)
	assert.InDelta(t, 10.0, v.result.MaxFPS, 1e-9)
}

func TestCheckTemporal_MonotonicityViolations(t *testing.T) {
	tests := []struct {
		name       string
		timestamps []float64
	}{
		{"single decrease", []float64{1.0, 2.0, 1.5, 3.0}},
		{"multiple decreases", []float64{1.0, 2.0, 1.5, 3.0, 2.5, 4.0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := &validator{
				opts:       DefaultOptions(),
				result:     newResult("session_mono", "session_mono"),
				timestamps: tt.timestamps,
			}
			v.result.FrameCount = len(tt.timestamps)

			require.True(t, v.checkTemporal())

			count := 0
			for _, msg := range v.result.Errors {
				if strings.Contains(msg, "not monotonic") {
					count++
				}
			}
			assert.Equal(t, 1, count, "exactly one monotonicity error")
		})
	}
}

func TestCheckTemporal_TooFewTimestamps(t *testing.T) {
	v := &validator{
		opts:       DefaultOptions(),
		result:     newResult("session_short", "session_short"),
		timestamps: []float64{1.0},
	}

	require.False(t, v.checkTemporal())
	require.Len(t, v.result.Errors, 1)
	assert.Contains(t, v.result.Errors[0], "Cannot determine timestamps")
	assert.Equal(t, 50, v.result.QualityScore)
}

func TestCheckFrames_TimestampParsing(t *testing.T) {
	dir := newSessionDir(t, "session_parse")
	for _, name := range []string{
		"0.000000.jpg", "1.000000.jpg", "notatime.jpg", "2.000000.jpg", "ignored.png",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "rgb", name), []byte("x"), 0600))
	}

	v := &validator{dir: dir, opts: DefaultOptions(), result: newResult("session_parse", dir)}
	require.True(t, v.checkFrames())

	assert.Equal(t, 4, v.result.FrameCount, "every .jpg counts toward the frame count")
	assert.Equal(t, []float64{1.0, 2.0}, v.timestamps,
		"zero and unparseable timestamps are excluded from temporal checks")
}

func TestResult_Summary(t *testing.T) {
	dir := newSessionDir(t, "session_sum")
	writeFrames(t, dir, frameRange(6000.0, 0.1, 35), testJPEG(t, 160, 120))

	result := ValidateSession(dir, DefaultOptions())
	summary := result.Summary()

	assert.Contains(t, summary, "Session: session_sum")
	assert.Contains(t, summary, "Frames:      35")
	assert.Contains(t, summary, "Resolution:  160x120 (consistent)")
	assert.Contains(t, summary, "Quality Score:")
	assert.Contains(t, summary, "WARNINGS:")
	assert.Contains(t, summary, "Ready for reconstruction: YES")
}

func TestResult_WriteFile(t *testing.T) {
	dir := newSessionDir(t, "session_report")
	writeFrames(t, dir, frameRange(7000.0, 0.1, 35), testJPEG(t, 160, 120))

	result := ValidateSession(dir, DefaultOptions())
	path := filepath.Join(dir, "validation.json")
	require.NoError(t, result.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "session_report", decoded["session_id"])
	assert.Equal(t, float64(35), decoded["frame_count"])
	assert.Contains(t, decoded, "quality_score")
	assert.Contains(t, decoded, "is_valid")
}
