package recordings

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/voxnote/backend/internal/models"
)

// SQLiteRepository stores recordings in an embedded SQLite database for single-node and development setups.
// Timestamps are unix milliseconds; utterances, words and the embedding are JSON text.
type SQLiteRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteRepository wraps a database opened with database.OpenSQLite.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db, now: time.Now}
}

// Create inserts rec under its ID.
func (r *SQLiteRepository) Create(ctx context.Context, rec *models.Recording) error {
	utterances, err := encodeList(rec.Utterances)
	if err != nil {
		return fmt.Errorf("encode utterances: %w", err)
	}
	words, err := encodeList(rec.Words)
	if err != nil {
		return fmt.Errorf("encode words: %w", err)
	}
	var embedding sql.NullString
	if rec.Embedding != nil {
		b, err := json.Marshal(rec.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		embedding = sql.NullString{String: string(b), Valid: true}
	}
	updated := r.now().UTC()
	const q = `INSERT INTO recordings (id, name, audio_url, audio_key, content_type, file_size, duration_seconds, transcript,
		transcript_status, transcript_error, transcript_strategy, utterances, words, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, q, rec.ID, rec.Name, rec.AudioURL, rec.AudioKey, rec.ContentType, rec.FileSize,
		rec.DurationSeconds, rec.Transcript, rec.TranscriptStatus, rec.TranscriptError, rec.TranscriptStrategy,
		utterances, words, embedding, rec.CreatedAt.UnixMilli(), updated.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert recording: %w", err)
	}
	rec.UpdatedAt = time.UnixMilli(updated.UnixMilli()).UTC()
	return nil
}

// GetByID returns a recording by ID.
func (r *SQLiteRepository) GetByID(ctx context.Context, id string) (*models.Recording, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM recordings WHERE id = ?`, id)
	rec, err := scanSQLite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrRecordingNotFound
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// List returns every recording, newest first.
func (r *SQLiteRepository) List(ctx context.Context) ([]models.Recording, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+selectColumns+` FROM recordings ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("query recordings: %w", err)
	}
	defer rows.Close()
	list := []models.Recording{}
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *rec)
	}
	return list, rows.Err()
}

// Update applies the set fields of patch.
func (r *SQLiteRepository) Update(ctx context.Context, id string, patch models.RecordingPatch) error {
	sets, err := patchAssignments(patch)
	if err != nil {
		return err
	}
	clauses := make([]string, 0, len(sets)+1)
	args := make([]any, 0, len(sets)+2)
	for _, a := range sets {
		clauses = append(clauses, a.column+" = ?")
		args = append(args, a.value)
	}
	clauses = append(clauses, "updated_at = ?")
	args = append(args, r.now().UTC().UnixMilli(), id)
	q := fmt.Sprintf(`UPDATE recordings SET %s WHERE id = ?`, strings.Join(clauses, ", "))
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update recording: %w", err)
	}
	return requireRow(res)
}

// Delete removes a recording row.
func (r *SQLiteRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recordings WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete recording: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrRecordingNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*models.Recording, error) {
	var (
		rec                models.Recording
		utterances, words  string
		embedding          sql.NullString
		createdAt, updated int64
	)
	err := row.Scan(&rec.ID, &rec.Name, &rec.AudioURL, &rec.AudioKey, &rec.ContentType, &rec.FileSize,
		&rec.DurationSeconds, &rec.Transcript, &rec.TranscriptStatus, &rec.TranscriptError,
		&rec.TranscriptStrategy, &utterances, &words, &embedding, &createdAt, &updated)
	if err != nil {
		return nil, err
	}
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updated).UTC()
	if err := decodeTimings(&rec, []byte(utterances), []byte(words)); err != nil {
		return nil, err
	}
	if embedding.Valid {
		if err := json.Unmarshal([]byte(embedding.String), &rec.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}
	return &rec, nil
}
