// Package capture owns the lifecycle of capture sessions: the TUM-style
// on-disk layout, the append streams for IMU and frame-index records, the
// rolling session statistics, and the asynchronous disk writer that persists
// image blobs without stalling the network receive path.
//
// A Store holds at most one current session for the process. Appends from
// concurrent connections serialize on the store mutex so the ordering-critical
// IMU and frame-index logs are written in exactly the order frames are
// accepted; image writes carry no ordering requirement and complete on the
// writer pool in any order.
package capture

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/phonesplat/capture/logger"
	"github.com/phonesplat/capture/protocol"
)

// Session directory layout.
const (
	rgbDirName         = "rgb"
	imuFileName        = "imu.csv"
	indexFileName      = "rgb.txt"
	intrinsicsFileName = "intrinsics.json"
	statsFileName      = "session_stats.json"

	frameExt = ".jpg"

	indexHeader = "# timestamp filename\n"

	// sessionIDLayout generates ids that sort lexicographically by creation
	// time, so "most recent session" never needs file metadata.
	sessionIDLayout = "session_20060102_150405"
)

// DefaultDrainTimeout bounds the writer drain performed when a session ends.
const DefaultDrainTimeout = 5 * time.Second

// imuHeader is the first row of imu.csv: timestamp, accelerometer,
// gyroscope, orientation quaternion (w first).
var imuHeader = []string{
	"timestamp",
	"accel_x", "accel_y", "accel_z",
	"gyro_x", "gyro_y", "gyro_z",
	"qw", "qx", "qy", "qz",
}

// Store owns the single current capture session for the process.
type Store struct {
	baseDir      string
	writer       *Writer
	drainTimeout time.Duration

	mu      sync.Mutex
	current *session
}

// session bundles the open resources of one active capture session.
type session struct {
	id    string
	path  string
	stats *sessionStats

	imuFile         *os.File
	imuWriter       *csv.Writer
	indexFile       *os.File
	intrinsicsSaved bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithDrainTimeout bounds how long End waits for the writer queue to empty.
func WithDrainTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		s.drainTimeout = d
	}
}

// NewStore creates the captures base directory and returns a Store feeding
// the given writer pool.
func NewStore(baseDir string, writer *Writer, opts ...StoreOption) (*Store, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("capture: base directory is required")
	}
	if err := os.MkdirAll(baseDir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create captures directory: %w", err)
	}

	s := &Store{
		baseDir:      baseDir,
		writer:       writer,
		drainTimeout: DefaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// BaseDir returns the captures base directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// CurrentSession returns the id of the current session, or "" when none is
// open.
func (s *Store) CurrentSession() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ""
	}
	return s.current.id
}

// Create starts a new capture session, synchronously finalizing any session
// already open. An empty sessionID generates a timestamp-derived sortable id;
// explicit ids are sanitized for the filesystem.
func (s *Store) Create(sessionID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(sessionID)
}

func (s *Store) createLocked(sessionID string) (string, error) {
	if s.current != nil {
		s.finalizeLocked()
	}

	if sessionID == "" {
		sessionID = time.Now().Format(sessionIDLayout)
	} else {
		sessionID = sanitizeFilename(sessionID)
	}

	path := filepath.Join(s.baseDir, sessionID)
	if err := os.MkdirAll(filepath.Join(path, rgbDirName), 0750); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	sess := &session{
		id:    sessionID,
		path:  path,
		stats: newSessionStats(sessionID),
	}
	if err := sess.openStreams(); err != nil {
		return "", err
	}

	s.current = sess
	logger.SessionStarted(sessionID, path)
	return sessionID, nil
}

// Append persists one frame sample into the current session, creating one
// implicitly if none is open. The image bytes go to the writer pool; the IMU
// row (when the sample carries one) and the frame-index row are appended
// synchronously. Intrinsics are saved once per session, on the first sample
// carrying a non-empty record.
//
// Append returns false and logs instead of propagating an error, so a single
// bad frame never tears down the session. Stats are updated only when every
// sub-step succeeded: FrameCount counts successful appends.
func (s *Store) Append(p *protocol.FramePacket) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		if _, err := s.createLocked(""); err != nil {
			logger.Error("Failed to create implicit session", "error", err)
			return false
		}
	}
	sess := s.current

	ts := formatTimestamp(p.Timestamp)
	frameName := ts + frameExt
	framePath := filepath.Join(sess.path, rgbDirName, frameName)

	if err := s.writer.Enqueue(framePath, p.FrameData); err != nil {
		logger.Error("Failed to enqueue frame", "path", framePath, "error", err)
		return false
	}

	if p.IMU != nil {
		if err := sess.appendIMU(ts, p.IMU); err != nil {
			logger.Error("Failed to append imu row", "session_id", sess.id, "error", err)
			return false
		}
	}

	if err := sess.appendIndex(ts, frameName); err != nil {
		logger.Error("Failed to append frame index", "session_id", sess.id, "error", err)
		return false
	}

	if !sess.intrinsicsSaved && !p.Intrinsics.Empty() {
		if err := sess.saveIntrinsics(p.Intrinsics); err != nil {
			logger.Error("Failed to save intrinsics", "session_id", sess.id, "error", err)
			return false
		}
		sess.intrinsicsSaved = true
	}

	sess.stats.record(p)
	return true
}

// Stats returns a snapshot of the current session, or a zero snapshot when no
// session is open. Safe to call concurrently with Append.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return Stats{}
	}
	return s.current.stats.snapshot(s.writer.Pending())
}

// End finalizes the current session: drains the writer queue (bounded by the
// drain timeout), closes the append streams, writes session_stats.json and
// clears the current-session state. Ending when no session is open is a
// no-op returning a zero snapshot.
func (s *Store) End() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finalizeLocked()
}

func (s *Store) finalizeLocked() Stats {
	if s.current == nil {
		return Stats{}
	}
	sess := s.current
	final := sess.stats.snapshot(s.writer.Pending())

	ctx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
	if err := s.writer.Drain(ctx); err != nil {
		logger.Warn("Writer drain incomplete, frames may still be flushing",
			"session_id", sess.id, "pending", s.writer.Pending(), "error", err)
	}
	cancel()

	sess.closeStreams()

	statsPath := filepath.Join(sess.path, statsFileName)
	if data, err := json.MarshalIndent(final, "", "  "); err == nil {
		if err := os.WriteFile(statsPath, data, 0600); err != nil {
			logger.Warn("Failed to write session stats", "path", statsPath, "error", err)
		}
	}

	logger.SessionEnded(sess.id, final.FrameCount, final.DurationSec, final.FPS, final.AvgLatencyMS)
	s.current = nil
	return final
}

// openStreams opens the IMU and frame-index logs and writes their headers.
func (sess *session) openStreams() error {
	imuFile, err := os.OpenFile(filepath.Join(sess.path, imuFileName),
		os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open imu log: %w", err)
	}
	imuWriter := csv.NewWriter(imuFile)
	if err := imuWriter.Write(imuHeader); err != nil {
		_ = imuFile.Close()
		return fmt.Errorf("failed to write imu header: %w", err)
	}
	imuWriter.Flush()
	if err := imuWriter.Error(); err != nil {
		_ = imuFile.Close()
		return fmt.Errorf("failed to write imu header: %w", err)
	}

	indexFile, err := os.OpenFile(filepath.Join(sess.path, indexFileName),
		os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		_ = imuFile.Close()
		return fmt.Errorf("failed to open frame index: %w", err)
	}
	if _, err := indexFile.WriteString(indexHeader); err != nil {
		_ = imuFile.Close()
		_ = indexFile.Close()
		return fmt.Errorf("failed to write frame index header: %w", err)
	}

	sess.imuFile = imuFile
	sess.imuWriter = imuWriter
	sess.indexFile = indexFile
	return nil
}

func (sess *session) closeStreams() {
	if sess.imuWriter != nil {
		sess.imuWriter.Flush()
		sess.imuWriter = nil
	}
	if sess.imuFile != nil {
		_ = sess.imuFile.Close()
		sess.imuFile = nil
	}
	if sess.indexFile != nil {
		_ = sess.indexFile.Close()
		sess.indexFile = nil
	}
}

// appendIMU writes one sample row, flushed immediately so the log survives a
// crash mid-session.
func (sess *session) appendIMU(ts string, imu *protocol.IMUSample) error {
	row := []string{
		ts,
		formatComponent(imu.Accel[0]), formatComponent(imu.Accel[1]), formatComponent(imu.Accel[2]),
		formatComponent(imu.Gyro[0]), formatComponent(imu.Gyro[1]), formatComponent(imu.Gyro[2]),
		formatComponent(imu.Orientation[0]), formatComponent(imu.Orientation[1]),
		formatComponent(imu.Orientation[2]), formatComponent(imu.Orientation[3]),
	}
	if err := sess.imuWriter.Write(row); err != nil {
		return fmt.Errorf("failed to append imu row: %w", err)
	}
	sess.imuWriter.Flush()
	return sess.imuWriter.Error()
}

// appendIndex writes one frame-index row mapping the timestamp to the
// relative image path.
func (sess *session) appendIndex(ts, frameName string) error {
	if _, err := fmt.Fprintf(sess.indexFile, "%s %s/%s\n", ts, rgbDirName, frameName); err != nil {
		return fmt.Errorf("failed to append frame index row: %w", err)
	}
	return nil
}

// saveIntrinsics persists the calibration record verbatim.
func (sess *session) saveIntrinsics(intrinsics protocol.Intrinsics) error {
	data, err := json.MarshalIndent(intrinsics, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode intrinsics: %w", err)
	}
	path := filepath.Join(sess.path, intrinsicsFileName)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write intrinsics: %w", err)
	}
	return nil
}

// formatTimestamp renders a capture timestamp with microsecond precision.
// Frame filenames and log rows share this format so the artifact cross-checks
// line up exactly. Identical timestamps produce identical filenames and
// overwrite; accepted, not guarded against.
func formatTimestamp(ts float64) string {
	return strconv.FormatFloat(ts, 'f', 6, 64)
}

// formatComponent renders an IMU vector component with shortest round-trip
// precision.
func formatComponent(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// sanitizeFilename keeps explicit session ids inside the captures directory.
func sanitizeFilename(name string) string {
	replacer := strings.NewReplacer(
		"/", "_",
		"\\", "_",
		":", "_",
		"*", "_",
		"?", "_",
		"\"", "_",
		"<", "_",
		">", "_",
		"|", "_",
	)
	return replacer.Replace(name)
}
