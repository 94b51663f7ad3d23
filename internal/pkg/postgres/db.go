package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/carevox/carevox/internal/pkg/persistence"
	"github.com/carevox/carevox/internal/pkg/status"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB provides operations with postgresql
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates DB instance
func NewDB(pool *pgxpool.Pool) (*DB, error) {
	res := &DB{pool: pool}
	return res, nil
}

const recordingFields = `id, patient_id, context, context_patient_id, recorded_by, duration_sec,
	audio_path, transcript, transcript_lang, status, phase, error, error_code,
	processing_started, processing_completed, request_id, created, updated, version`

// InsertRecording inserts recording into DB
func (db *DB) InsertRecording(ctx context.Context, r *persistence.Recording) error {
	rows, err := db.pool.Query(ctx, `INSERT INTO recordings(id, patient_id, context, context_patient_id,
	recorded_by, duration_sec, audio_path, status, request_id, created)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, r.ID, r.PatientID, r.Context, r.ContextPatientID,
		r.RecordedBy, r.DurationSec, r.AudioPath, r.Status, r.RequestID, r.Created)
	if err != nil {
		return fmt.Errorf("can't insert recording: %w", err)
	}
	defer rows.Close()
	return nil
}

// LoadRecording loads recording from DB, returns nil if not found
func (db *DB) LoadRecording(ctx context.Context, id string) (*persistence.Recording, error) {
	var res persistence.Recording
	err := db.pool.QueryRow(ctx, `SELECT `+recordingFields+` FROM recordings
		WHERE id = $1`, id).Scan(&res.ID, &res.PatientID, &res.Context, &res.ContextPatientID,
		&res.RecordedBy, &res.DurationSec, &res.AudioPath, &res.Transcript, &res.TranscriptLang,
		&res.Status, &res.Phase, &res.Error, &res.ErrorCode, &res.ProcessingStarted,
		&res.ProcessingCompleted, &res.RequestID, &res.Created, &res.Updated, &res.Version)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load recording: %w", err)
	}
	return &res, nil
}

// ClaimRecording moves a recording to PROCESSING and stamps the start time.
// Safe on re-delivery - an already claimed non final recording is claimed again
func (db *DB) ClaimRecording(ctx context.Context, id string) (bool, error) {
	rows, err := db.pool.Exec(ctx, `UPDATE recordings SET
	status = $2,
	phase = $3,
	processing_started = $4,
	processing_completed = NULL,
	error = NULL,
	error_code = NULL,
	updated = $4,
	version = version + 1
	WHERE id = $1 AND status IN ($5, $2)`, id, status.Processing.String(),
		status.PhTranscription.String(), time.Now(), status.Pending.String())
	if err != nil {
		return false, fmt.Errorf("can't claim recording: %w", err)
	}
	return rows.RowsAffected() == 1, nil
}

// UpdatePhase updates the processing phase for observability
func (db *DB) UpdatePhase(ctx context.Context, id string, ph status.Phase) error {
	rows, err := db.pool.Exec(ctx, `UPDATE recordings SET
	phase = $2,
	updated = $3,
	version = version + 1
	WHERE id = $1`, id, ph.String(), time.Now())
	if err != nil {
		return fmt.Errorf("can't update phase: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("can't update phase, no records found")
	}
	return nil
}

// SetTranscript stores the transcription result on the recording
func (db *DB) SetTranscript(ctx context.Context, id, text, lang string) error {
	rows, err := db.pool.Exec(ctx, `UPDATE recordings SET
	transcript = $2,
	transcript_lang = $3,
	updated = $4,
	version = version + 1
	WHERE id = $1`, id, text, lang, time.Now())
	if err != nil {
		return fmt.Errorf("can't set transcript: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("can't set transcript, no records found")
	}
	return nil
}

// CompleteRecording marks the recording COMPLETED
func (db *DB) CompleteRecording(ctx context.Context, id string) error {
	now := time.Now()
	rows, err := db.pool.Exec(ctx, `UPDATE recordings SET
	status = $2,
	phase = $3,
	processing_completed = $4,
	updated = $4,
	version = version + 1
	WHERE id = $1 AND status = $5`, id, status.Completed.String(), status.PhDone.String(),
		now, status.Processing.String())
	if err != nil {
		return fmt.Errorf("can't complete recording: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("can't complete recording, no records found")
	}
	return nil
}

// FailRecording marks the recording FAILED with the captured error
func (db *DB) FailRecording(ctx context.Context, id, errText, errCode string) error {
	now := time.Now()
	rows, err := db.pool.Exec(ctx, `UPDATE recordings SET
	status = $2,
	error = $3,
	error_code = $4,
	processing_completed = $5,
	updated = $5,
	version = version + 1
	WHERE id = $1 AND status != $6`, id, status.Failed.String(), errText, errCode, now,
		status.Completed.String())
	if err != nil {
		return fmt.Errorf("can't fail recording: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("can't fail recording, no records found")
	}
	return nil
}

// MarkPending returns a recording to the PENDING state for retry
func (db *DB) MarkPending(ctx context.Context, id string) error {
	rows, err := db.pool.Exec(ctx, `UPDATE recordings SET
	status = $2,
	phase = NULL,
	error = NULL,
	error_code = NULL,
	processing_started = NULL,
	processing_completed = NULL,
	updated = $3,
	version = version + 1
	WHERE id = $1`, id, status.Pending.String(), time.Now())
	if err != nil {
		return fmt.Errorf("can't mark pending: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("can't mark pending, no records found")
	}
	return nil
}

// LoadStuck returns IDs of recordings claimed before the given deadline
// and still not finished. Used to requeue work lost by a dead worker
func (db *DB) LoadStuck(ctx context.Context, olderThan time.Time) ([]string, error) {
	rows, err := db.pool.Query(ctx, `SELECT id FROM recordings
	WHERE status = $1 AND processing_started < $2`, status.Processing.String(), olderThan)
	if err != nil {
		return nil, fmt.Errorf("can't select stuck IDs: %w", err)
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("can't retrieve IDs: %w", err)
		}
		res = append(res, id)
	}
	return res, nil
}

// CountQueuedBefore returns the queue position estimate - how many
// unfinished recordings were created before the given one
func (db *DB) CountQueuedBefore(ctx context.Context, created time.Time) (int, error) {
	var res int
	err := db.pool.QueryRow(ctx, `SELECT count(*) FROM recordings
	WHERE status IN ($1, $2) AND created < $3`, status.Pending.String(),
		status.Processing.String(), created).Scan(&res)
	if err != nil {
		return 0, fmt.Errorf("can't count queued: %w", err)
	}
	return res, nil
}

// LockNotifTable marks notification sending start for (id, type).
// Guarantees an email is not sent twice
func (db *DB) LockNotifTable(ctx context.Context, id, notifType string) error {
	rows, err := db.pool.Exec(ctx, `INSERT INTO notif_lock(id, notif_type, status, created)
	VALUES($1, $2, 1, $3) ON CONFLICT (id, notif_type) DO NOTHING`, id, notifType, time.Now())
	if err != nil {
		return fmt.Errorf("can't lock notif table: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("already locked")
	}
	return nil
}

// UnLockNotifTable releases or finalizes the notification lock.
// value 0 drops the lock so sending may be retried, 2 marks done
func (db *DB) UnLockNotifTable(ctx context.Context, id, notifType string, value *int) error {
	if value == nil || *value == 0 {
		_, err := db.pool.Exec(ctx, `DELETE FROM notif_lock WHERE id = $1 AND notif_type = $2`,
			id, notifType)
		if err != nil {
			return fmt.Errorf("can't unlock notif table: %w", err)
		}
		return nil
	}
	_, err := db.pool.Exec(ctx, `UPDATE notif_lock SET status = $3 WHERE id = $1 AND notif_type = $2`,
		id, notifType, *value)
	if err != nil {
		return fmt.Errorf("can't unlock notif table: %w", err)
	}
	return nil
}

// Live returns no error if db is reachable and initialized
func (db *DB) Live(ctx context.Context) error {
	var exists bool
	if err := db.pool.QueryRow(ctx, `SELECT EXISTS (SELECT FROM pg_tables WHERE tablename = 'gue_jobs')`).Scan(&exists); err != nil {
		return fmt.Errorf("can't check table: %w", err)
	}
	if !exists {
		return fmt.Errorf("no migration done")
	}
	return nil
}
