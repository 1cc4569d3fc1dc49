package transcription

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextStatus(t *testing.T) {
	tests := []struct {
		name    string
		current Status
		event   StatusEvent
		message string
		want    Status
		wantErr bool
	}{
		{"start from idle", StatusIdle, EventStarted, "", StatusListening, false},
		{"listening fails", StatusListening, EventFailed, "Network error", StatusError, false},
		{"capability error from idle", StatusIdle, EventFailed, CapabilityMessage, StatusError, false},
		{"error stays error", StatusError, EventFailed, "again", StatusError, false},
		{"restart storm", StatusListening, EventFailed, MaxRestartMessage + " (dial refused)", StatusMaxRetriesExceeded, false},
		{"restart storm wording", StatusError, EventFailed, "Maximum restart attempts exceeded", StatusMaxRetriesExceeded, false},
		{"max retries is sticky", StatusMaxRetriesExceeded, EventFailed, "other", StatusMaxRetriesExceeded, false},
		{"stop from listening", StatusListening, EventStopped, "", StatusIdle, false},
		{"stop from error", StatusError, EventStopped, "", StatusIdle, false},
		{"stop from max retries", StatusMaxRetriesExceeded, EventStopped, "", StatusIdle, false},
		{"stop from idle", StatusIdle, EventStopped, "", StatusIdle, false},
		{"start while listening", StatusListening, EventStarted, "", StatusListening, true},
		{"start from error", StatusError, EventStarted, "", StatusError, true},
		{"unknown state", Status("paused"), EventStopped, "", Status("paused"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextStatus(tt.current, tt.event, tt.message)
			if tt.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsMaxRestartMessage(t *testing.T) {
	assert.True(t, IsMaxRestartMessage(MaxRestartMessage))
	assert.True(t, IsMaxRestartMessage("MAX RESTART ATTEMPTS"))
	assert.False(t, IsMaxRestartMessage(NetworkErrorMessage))
}

func TestTranscriptCell(t *testing.T) {
	var c TranscriptCell
	assert.Equal(t, "", c.Text())

	c.Update("", "hel")
	assert.Equal(t, "hel", c.Text())

	c.Update("hello", "hello wor")
	assert.Equal(t, "hello", c.Text())
	assert.Equal(t, "hello wor", c.Live())

	c.Set(" final text ")
	assert.Equal(t, "final text", c.Text())

	c.Reset()
	assert.Equal(t, "", c.Text())
	assert.Equal(t, "", c.Live())
}

func TestTranscriptCellSeal(t *testing.T) {
	var c TranscriptCell
	c.Update("hello", "hello wor")

	c.Seal()
	assert.Equal(t, "hello wor", c.Text())

	c.Update("hello", "hello")
	assert.Equal(t, "hello wor", c.Text(), "updates after seal are ignored")

	c.Reopen()
	c.Update("next", "next one")
	assert.Equal(t, "next", c.Text())

	c.Seal()
	c.Set("hosted")
	c.Update("live", "live")
	assert.Equal(t, "live", c.Text())
}
