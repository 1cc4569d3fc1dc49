package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJobAndDecode(t *testing.T) {
	job, err := NewJob(JobTypeTranscribe, TranscribePayload{RecordingID: "r1", Language: "de"})
	require.NoError(t, err)
	assert.NotEmpty(t, job.ID)
	assert.Equal(t, JobTypeTranscribe, job.Type)
	assert.Zero(t, job.Attempt)

	var p TranscribePayload
	require.NoError(t, job.Decode(&p))
	assert.Equal(t, "r1", p.RecordingID)
	assert.Equal(t, "de", p.Language)

	job.Payload = []byte("{")
	assert.Error(t, job.Decode(&p))
}

func TestJobExhausted(t *testing.T) {
	job := &Job{}
	assert.False(t, job.Exhausted())
	job.Attempt = MaxRetries - 1
	assert.True(t, job.Exhausted())
}
