package utils

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

// Clock hands out monotonic presentation timestamps relative to its creation,
// the way a capture device stamps buffers.
type Clock struct {
	start time.Time
}

func NewClock() *Clock { return &Clock{start: time.Now()} }

// Now returns the monotonic time elapsed since the clock started.
func (c *Clock) Now() time.Duration { return time.Since(c.start) }

// FormatPTS renders a presentation timestamp as seconds with millisecond precision.
func FormatPTS(d time.Duration) string {
	return fmt.Sprintf("%.3fs", d.Seconds())
}

// SessionName returns a timestamped name:
//
//	<prefix>_YYYYMMDD_HHMMSS
func SessionName(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, time.Now().Format("20060102_150405"))
}

// MotionLogPath names a raw motion log in dir after the current session.
func MotionLogPath(dir string) string {
	return filepath.Join(dir, SessionName("motion")+".csv")
}

// RecordingPath allocates a fresh output file path <dir>/<uuid>.<ext>.
func RecordingPath(dir, ext string) (id, path string) {
	id = uuid.New().String()
	return id, filepath.Join(dir, id+"."+ext)
}
