package capture

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// SessionInfo describes one on-disk session directory.
type SessionInfo struct {
	SessionID  string `json:"session_id"`
	Path       string `json:"path"`
	FrameCount int    `json:"frame_count"`
	// Final holds the stats written at session end, nil for sessions that
	// never finalized (crash, still open, or foreign directory).
	Final *Stats `json:"final_stats,omitempty"`
}

// ListSessions enumerates the session directories under baseDir, most recent
// first. Generated ids sort lexicographically by creation time, so the sort
// key is the id itself. Directories without a session_stats.json fall back to
// counting frame files.
func ListSessions(baseDir string) ([]SessionInfo, error) {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var sessions []SessionInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(baseDir, entry.Name())
		info := SessionInfo{
			SessionID: entry.Name(),
			Path:      path,
		}

		if data, err := os.ReadFile(filepath.Join(path, statsFileName)); err == nil {
			var final Stats
			if err := json.Unmarshal(data, &final); err == nil {
				info.Final = &final
				info.FrameCount = final.FrameCount
			}
		}
		if info.Final == nil {
			info.FrameCount = countFrames(path)
		}

		sessions = append(sessions, info)
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].SessionID > sessions[j].SessionID
	})
	return sessions, nil
}

// countFrames counts the image files under a session's rgb directory.
func countFrames(sessionPath string) int {
	entries, err := os.ReadDir(filepath.Join(sessionPath, rgbDirName))
	if err != nil {
		return 0
	}
	count := 0
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), frameExt) {
			count++
		}
	}
	return count
}
