package recordings

import (
	"github.com/voxnote/backend/internal/capture"
	"github.com/voxnote/backend/internal/models"
)

// Library events, pushed to every connected library client.
const (
	EventRecordingSaved               = "recording_saved"
	EventRecordingUpdated             = "recording_updated"
	EventRecordingTranscribed         = "recording_transcribed"
	EventRecordingTranscriptionFailed = "recording_transcription_failed"
	EventRecordingDeleted             = "recording_deleted"
)

// Publisher delivers library events. *realtime.Hub and *realtime.RedisPubSub implement it.
type Publisher interface {
	Publish(event string, payload any)
}

// TranscriptionFailure is the payload of EventRecordingTranscriptionFailed.
type TranscriptionFailure struct {
	RecordingID string `json:"recording_id"`
	Error       string `json:"error"`
}

// CommitEvents forwards commit outcomes to pub. A nil pub yields no-op events.
func CommitEvents(pub Publisher) capture.CommitEvents {
	if pub == nil {
		return capture.CommitEvents{}
	}
	return capture.CommitEvents{
		OnSaved: func(rec *models.Recording) {
			pub.Publish(EventRecordingSaved, rec)
		},
		OnTranscribed: func(rec *models.Recording) {
			pub.Publish(EventRecordingTranscribed, rec)
		},
		OnTranscriptionFailed: func(rec *models.Recording, msg string) {
			pub.Publish(EventRecordingTranscriptionFailed, TranscriptionFailure{RecordingID: rec.ID, Error: msg})
		},
	}
}

type nopPublisher struct{}

func (nopPublisher) Publish(string, any) {}
