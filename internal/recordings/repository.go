// Package recordings persists recordings (audio blobs plus metadata) and serves the recordings HTTP API.
package recordings

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voxnote/backend/internal/models"
)

// Repository stores recording metadata. Lookups of unknown ids return models.ErrRecordingNotFound.
type Repository interface {
	Create(ctx context.Context, rec *models.Recording) error
	GetByID(ctx context.Context, id string) (*models.Recording, error)
	List(ctx context.Context) ([]models.Recording, error)
	Update(ctx context.Context, id string, patch models.RecordingPatch) error
	Delete(ctx context.Context, id string) error
}

const selectColumns = `id, name, audio_url, audio_key, content_type, file_size, duration_seconds, transcript,
	transcript_status, transcript_error, transcript_strategy, utterances, words, embedding, created_at, updated_at`

// assignment is one column of an UPDATE's SET clause.
type assignment struct {
	column string
	value  any
	json   bool
}

func patchAssignments(p models.RecordingPatch) ([]assignment, error) {
	var out []assignment
	if p.Name != nil {
		out = append(out, assignment{column: "name", value: *p.Name})
	}
	if p.Transcript != nil {
		out = append(out, assignment{column: "transcript", value: *p.Transcript})
	}
	if p.TranscriptStatus != nil {
		out = append(out, assignment{column: "transcript_status", value: *p.TranscriptStatus})
	}
	if p.TranscriptError != nil {
		out = append(out, assignment{column: "transcript_error", value: *p.TranscriptError})
	}
	if p.TranscriptStrategy != nil {
		out = append(out, assignment{column: "transcript_strategy", value: *p.TranscriptStrategy})
	}
	if p.Utterances != nil {
		v, err := encodeList(*p.Utterances)
		if err != nil {
			return nil, fmt.Errorf("encode utterances: %w", err)
		}
		out = append(out, assignment{column: "utterances", value: v, json: true})
	}
	if p.Words != nil {
		v, err := encodeList(*p.Words)
		if err != nil {
			return nil, fmt.Errorf("encode words: %w", err)
		}
		out = append(out, assignment{column: "words", value: v, json: true})
	}
	return out, nil
}

// encodeList renders a slice as a JSON array, never null.
func encodeList[T any](items []T) (string, error) {
	if items == nil {
		items = []T{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeTimings(rec *models.Recording, utterances, words []byte) error {
	if len(utterances) > 0 {
		if err := json.Unmarshal(utterances, &rec.Utterances); err != nil {
			return fmt.Errorf("decode utterances: %w", err)
		}
	}
	if len(words) > 0 {
		if err := json.Unmarshal(words, &rec.Words); err != nil {
			return fmt.Errorf("decode words: %w", err)
		}
	}
	if len(rec.Utterances) == 0 {
		rec.Utterances = nil
	}
	if len(rec.Words) == 0 {
		rec.Words = nil
	}
	return nil
}
