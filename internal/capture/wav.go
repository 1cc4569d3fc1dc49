package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// EncodeWAV wraps mono little-endian PCM16 samples in a WAV container.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	f, err := os.CreateTemp("", "capture-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create wav file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	buf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: 1,
			SampleRate:  sampleRate,
		},
		Data:           make([]int, len(pcm)/2),
		SourceBitDepth: 16,
	}
	for i := range buf.Data {
		buf.Data[i] = int(int16(binary.LittleEndian.Uint16(pcm[2*i:])))
	}
	if err := enc.Write(buf); err != nil {
		enc.Close()
		f.Close()
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		f.Close()
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close wav file: %w", err)
	}
	return os.ReadFile(path)
}

// WAVDuration returns the length of a WAV clip in whole seconds, rounded. ok is false when data is not WAV.
func WAVDuration(data []byte) (seconds int, ok bool) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return 0, false
	}
	dur, err := d.Duration()
	if err != nil {
		return 0, false
	}
	return int(math.Round(dur.Seconds())), true
}
