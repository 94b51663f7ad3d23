package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/carevox/carevox/internal/pkg/persistence"
	"github.com/carevox/carevox/internal/pkg/schema"
	"github.com/jackc/pgx/v5"
)

const reviewItemFields = `id, recording_id, reviewer_id, context_type, context_patient_id,
	transcript, translated_transcript, language, document, confidence, status,
	engine_version, processing_ms, created, reviewed_at, version`

// InsertReviewItem inserts a review item. A second insert for the same
// recording is a silent no-op - one recording owns at most one item
func (db *DB) InsertReviewItem(ctx context.Context, item *persistence.ReviewItem) error {
	doc, err := json.Marshal(item.Document)
	if err != nil {
		return fmt.Errorf("can't marshal document: %w", err)
	}
	rows, err := db.pool.Query(ctx, `INSERT INTO review_items(id, recording_id, context_type,
	context_patient_id, transcript, translated_transcript, language, document, confidence,
	status, engine_version, processing_ms, created)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (recording_id) DO NOTHING`, item.ID, item.RecordingID, item.ContextType,
		item.ContextPatientID, item.Transcript, item.TranslatedTranscript, item.Language, doc,
		item.Confidence, item.Status, item.EngineVersion, item.ProcessingMs, item.Created)
	if err != nil {
		return fmt.Errorf("can't insert review item: %w", err)
	}
	defer rows.Close()
	return nil
}

// LoadReviewItem loads review item from DB, returns nil if not found
func (db *DB) LoadReviewItem(ctx context.Context, id string) (*persistence.ReviewItem, error) {
	return db.loadReviewItem(ctx, `WHERE id = $1`, id)
}

// LoadReviewItemByRecording loads the review item owned by a recording
func (db *DB) LoadReviewItemByRecording(ctx context.Context, recordingID string) (*persistence.ReviewItem, error) {
	return db.loadReviewItem(ctx, `WHERE recording_id = $1`, recordingID)
}

func (db *DB) loadReviewItem(ctx context.Context, where string, arg interface{}) (*persistence.ReviewItem, error) {
	var res persistence.ReviewItem
	var doc []byte
	err := db.pool.QueryRow(ctx, `SELECT `+reviewItemFields+` FROM review_items `+where, arg).
		Scan(&res.ID, &res.RecordingID, &res.ReviewerID, &res.ContextType, &res.ContextPatientID,
			&res.Transcript, &res.TranslatedTranscript, &res.Language, &doc, &res.Confidence,
			&res.Status, &res.EngineVersion, &res.ProcessingMs, &res.Created, &res.ReviewedAt,
			&res.Version)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load review item: %w", err)
	}
	if err := json.Unmarshal(doc, &res.Document); err != nil {
		return nil, fmt.Errorf("can't unmarshal document: %w", err)
	}
	return &res, nil
}

// ListReviewItems returns items filtered by status and reviewer, newest first
func (db *DB) ListReviewItems(ctx context.Context, statusFilter, reviewer string, limit int) ([]*persistence.ReviewItem, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + reviewItemFields + ` FROM review_items WHERE ($1 = '' OR status = $1)
	AND ($2 = '' OR reviewer_id = $2) ORDER BY created DESC LIMIT $3`
	rows, err := db.pool.Query(ctx, q, statusFilter, reviewer, limit)
	if err != nil {
		return nil, fmt.Errorf("can't select review items: %w", err)
	}
	defer rows.Close()
	res := []*persistence.ReviewItem{}
	for rows.Next() {
		var item persistence.ReviewItem
		var doc []byte
		if err := rows.Scan(&item.ID, &item.RecordingID, &item.ReviewerID, &item.ContextType,
			&item.ContextPatientID, &item.Transcript, &item.TranslatedTranscript, &item.Language,
			&doc, &item.Confidence, &item.Status, &item.EngineVersion, &item.ProcessingMs,
			&item.Created, &item.ReviewedAt, &item.Version); err != nil {
			return nil, fmt.Errorf("can't retrieve review items: %w", err)
		}
		if err := json.Unmarshal(doc, &item.Document); err != nil {
			return nil, fmt.Errorf("can't unmarshal document: %w", err)
		}
		res = append(res, &item)
	}
	return res, nil
}

// SetInReview opens the item for a reviewer. The lock is advisory -
// another reviewer may take over an abandoned session.
// Returns false when the item is already terminal
func (db *DB) SetInReview(ctx context.Context, id, userID string) (bool, error) {
	rows, err := db.pool.Exec(ctx, `UPDATE review_items SET
	status = $3,
	reviewer_id = $2,
	version = version + 1
	WHERE id = $1 AND status IN ($4, $3)`, id, userID,
		persistence.RIInReview, persistence.RIPending)
	if err != nil {
		return false, fmt.Errorf("can't open review item: %w", err)
	}
	return rows.RowsAffected() == 1, nil
}

// UpdateTranscript replaces the editable transcript copy.
// Returns false when the item is already terminal
func (db *DB) UpdateTranscript(ctx context.Context, id, text string) (bool, error) {
	rows, err := db.pool.Exec(ctx, `UPDATE review_items SET
	transcript = $2,
	version = version + 1
	WHERE id = $1 AND status IN ($3, $4)`, id, text,
		persistence.RIPending, persistence.RIInReview)
	if err != nil {
		return false, fmt.Errorf("can't update transcript: %w", err)
	}
	return rows.RowsAffected() == 1, nil
}

// ReplaceDocument assigns a new extracted document value atomically,
// guarded by version for concurrent edit handling.
// Returns false when the version moved on or the item is terminal
func (db *DB) ReplaceDocument(ctx context.Context, item *persistence.ReviewItem) (bool, error) {
	doc, err := json.Marshal(item.Document)
	if err != nil {
		return false, fmt.Errorf("can't marshal document: %w", err)
	}
	rows, err := db.pool.Exec(ctx, `UPDATE review_items SET
	document = $3,
	confidence = $4,
	engine_version = $5,
	version = $2 + 1
	WHERE id = $1 AND version = $2 AND status IN ($6, $7)`, item.ID, item.Version, doc,
		item.Confidence, item.EngineVersion, persistence.RIPending, persistence.RIInReview)
	if err != nil {
		return false, fmt.Errorf("can't replace document: %w", err)
	}
	return rows.RowsAffected() == 1, nil
}

// Discard terminates the item with no clinical writes.
// Allowed directly from pending. Returns false when already terminal
func (db *DB) Discard(ctx context.Context, id, userID string) (bool, error) {
	rows, err := db.pool.Exec(ctx, `UPDATE review_items SET
	status = $3,
	reviewer_id = $2,
	reviewed_at = $4,
	version = version + 1
	WHERE id = $1 AND status IN ($5, $6)`, id, userID, persistence.RIDiscarded, time.Now(),
		persistence.RIPending, persistence.RIInReview)
	if err != nil {
		return false, fmt.Errorf("can't discard review item: %w", err)
	}
	return rows.RowsAffected() == 1, nil
}

// MarkInReview returns the item to in_review after a failed commit
func (db *DB) MarkInReview(ctx context.Context, id string) error {
	rows, err := db.pool.Exec(ctx, `UPDATE review_items SET
	status = $2,
	version = version + 1
	WHERE id = $1 AND status != $3`, id, persistence.RIInReview, persistence.RIDiscarded)
	if err != nil {
		return fmt.Errorf("can't mark in_review: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("can't mark in_review, no records found")
	}
	return nil
}

const logFields = `id, review_item_id, recording_id, detected_categories, prompt, raw_response,
	user_edited_transcript, user_edited_data, reanalysis_count, confirmed_at, confirmed_by,
	created, updated`

// InsertCategorizationLog inserts the audit row created at extraction time.
// A second insert for the same review item is a silent no-op - the log is
// 1:1 with the item. Failure rows carry no item id and always append
func (db *DB) InsertCategorizationLog(ctx context.Context, l *persistence.CategorizationLog) error {
	rows, err := db.pool.Query(ctx, `INSERT INTO categorization_log(id, review_item_id, recording_id,
	detected_categories, prompt, raw_response, created)
	VALUES($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (review_item_id) DO NOTHING`, l.ID, l.ReviewItemID, l.RecordingID,
		l.DetectedCategories, l.Prompt, l.RawResponse, l.Created)
	if err != nil {
		return fmt.Errorf("can't insert categorization log: %w", err)
	}
	defer rows.Close()
	return nil
}

// LoadCategorizationLog loads the audit row of a review item
func (db *DB) LoadCategorizationLog(ctx context.Context, reviewItemID string) (*persistence.CategorizationLog, error) {
	var res persistence.CategorizationLog
	err := db.pool.QueryRow(ctx, `SELECT `+logFields+` FROM categorization_log
		WHERE review_item_id = $1`, reviewItemID).Scan(&res.ID, &res.ReviewItemID, &res.RecordingID,
		&res.DetectedCategories, &res.Prompt, &res.RawResponse, &res.UserEditedTranscript,
		&res.UserEditedData, &res.ReanalysisCount, &res.ConfirmedAt, &res.ConfirmedBy,
		&res.Created, &res.Updated)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("can't load categorization log: %w", err)
	}
	return &res, nil
}

// MarkTranscriptEdited flags the audit row - the reviewer changed the transcript
func (db *DB) MarkTranscriptEdited(ctx context.Context, reviewItemID string) error {
	return db.updateLogFlag(ctx, reviewItemID, "user_edited_transcript")
}

// MarkDataEdited flags the audit row - the reviewer corrected extracted fields
func (db *DB) MarkDataEdited(ctx context.Context, reviewItemID string) error {
	return db.updateLogFlag(ctx, reviewItemID, "user_edited_data")
}

func (db *DB) updateLogFlag(ctx context.Context, reviewItemID, field string) error {
	rows, err := db.pool.Exec(ctx, `UPDATE categorization_log SET `+field+` = TRUE, updated = $2
	WHERE review_item_id = $1`, reviewItemID, time.Now())
	if err != nil {
		return fmt.Errorf("can't update categorization log: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("can't update categorization log, no records found")
	}
	return nil
}

// IncReanalysis increments the re-analysis counter and refreshes
// the detected categories snapshot
func (db *DB) IncReanalysis(ctx context.Context, reviewItemID string, doc *schema.Document) error {
	rows, err := db.pool.Exec(ctx, `UPDATE categorization_log SET
	reanalysis_count = reanalysis_count + 1,
	detected_categories = $2,
	updated = $3
	WHERE review_item_id = $1`, reviewItemID, schema.CategoryTypes(doc), time.Now())
	if err != nil {
		return fmt.Errorf("can't update categorization log: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("can't update categorization log, no records found")
	}
	return nil
}
