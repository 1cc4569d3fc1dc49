package capture

import (
	"encoding/binary"
	"math"
	"time"
)

// DefaultLevelInterval limits how often a level is published.
const DefaultLevelInterval = 100 * time.Millisecond

// RMS returns the root mean square of little-endian PCM16 samples, scaled to [0,1].
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < n; i++ {
		s := float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768.0
		sum += s * s
	}
	level := math.Sqrt(sum / float64(n))
	if level > 1 {
		level = 1
	}
	return level
}

// LevelMeter turns incoming audio into throttled level readings.
type LevelMeter struct {
	interval time.Duration
	now      func() time.Time
	last     time.Time
	frozen   bool
}

func NewLevelMeter(interval time.Duration) *LevelMeter {
	if interval <= 0 {
		interval = DefaultLevelInterval
	}
	return &LevelMeter{interval: interval, now: time.Now}
}

// Observe returns the chunk level and whether it is due for publishing.
func (m *LevelMeter) Observe(chunk []byte) (float64, bool) {
	if m.frozen {
		return 0, false
	}
	now := m.now()
	if !m.last.IsZero() && now.Sub(m.last) < m.interval {
		return 0, false
	}
	m.last = now
	return RMS(chunk), true
}

// Freeze stops readings until Thaw.
func (m *LevelMeter) Freeze() { m.frozen = true }

func (m *LevelMeter) Thaw() {
	m.frozen = false
	m.last = time.Time{}
}
