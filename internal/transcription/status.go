package transcription

import (
	"fmt"
	"regexp"
)

// Status is the live-recognition state of one orchestrator.
type Status string

const (
	StatusIdle               Status = "idle"
	StatusListening          Status = "listening"
	StatusError              Status = "error"
	StatusStopped            Status = "stopped"
	StatusMaxRetriesExceeded Status = "max-retries-exceeded"
)

// StatusEvent drives NextStatus.
type StatusEvent string

const (
	EventStarted StatusEvent = "started"
	EventFailed  StatusEvent = "failed"
	EventStopped StatusEvent = "stopped"
)

// MaxRestartMessage prefixes the error reported when the live recognizer gives up restarting.
const MaxRestartMessage = "Speech recognition stopped: max restart attempts reached"

var maxRestartPattern = regexp.MustCompile(`(?i)max(imum)?\s+restart\s+attempts`)

// IsMaxRestartMessage reports whether msg describes a restart storm.
func IsMaxRestartMessage(msg string) bool {
	return maxRestartPattern.MatchString(msg)
}

// NextStatus applies one event. Stopping is legal from every state; starting only from idle.
func NextStatus(current Status, event StatusEvent, message string) (Status, error) {
	switch current {
	case StatusIdle, StatusListening, StatusError, StatusStopped, StatusMaxRetriesExceeded:
	default:
		return current, fmt.Errorf("unknown status %q", current)
	}

	switch event {
	case EventStopped:
		return StatusIdle, nil
	case EventFailed:
		if current == StatusMaxRetriesExceeded || IsMaxRestartMessage(message) {
			return StatusMaxRetriesExceeded, nil
		}
		return StatusError, nil
	case EventStarted:
		if current == StatusIdle {
			return StatusListening, nil
		}
	}
	return current, fmt.Errorf("invalid transition: %s --(%s)--> ?", current, event)
}
