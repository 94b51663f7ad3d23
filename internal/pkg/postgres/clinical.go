package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/carevox/carevox/internal/pkg/commit"
	"github.com/carevox/carevox/internal/pkg/persistence"
	"github.com/jackc/pgx/v5"
)

// Begin opens a transaction for the confirm flow.
// Clinical rows and the review item status flip land together or not at all
func (db *DB) Begin(ctx context.Context) (commit.Tx, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("can't begin tx: %w", err)
	}
	return &clinicalTx{tx: tx}, nil
}

type clinicalTx struct {
	tx pgx.Tx
}

func (c *clinicalTx) Commit(ctx context.Context) error {
	return c.tx.Commit(ctx)
}

func (c *clinicalTx) Rollback(ctx context.Context) error {
	return c.tx.Rollback(ctx)
}

// ConfirmReviewItem flips the item to confirmed inside the transaction.
// Returns false when the item was confirmed or discarded meanwhile -
// exactly one confirm wins
func (c *clinicalTx) ConfirmReviewItem(ctx context.Context, id, userID string) (bool, error) {
	rows, err := c.tx.Exec(ctx, `UPDATE review_items SET
	status = $3,
	reviewer_id = $2,
	reviewed_at = $4,
	version = version + 1
	WHERE id = $1 AND status IN ($5, $6)`, id, userID, persistence.RIConfirmed, time.Now(),
		persistence.RIPending, persistence.RIInReview)
	if err != nil {
		return false, fmt.Errorf("can't confirm review item: %w", err)
	}
	return rows.RowsAffected() == 1, nil
}

// MarkLogConfirmed stamps the audit row inside the transaction
func (c *clinicalTx) MarkLogConfirmed(ctx context.Context, reviewItemID, userID string) error {
	rows, err := c.tx.Exec(ctx, `UPDATE categorization_log SET
	confirmed_at = $2,
	confirmed_by = $3,
	updated = $2
	WHERE review_item_id = $1`, reviewItemID, time.Now(), userID)
	if err != nil {
		return fmt.Errorf("can't update categorization log: %w", err)
	}
	if rows.RowsAffected() != 1 {
		return fmt.Errorf("can't update categorization log, no records found")
	}
	return nil
}

func (c *clinicalTx) InsertVitals(ctx context.Context, r *persistence.VitalsRecord) error {
	_, err := c.tx.Exec(ctx, `INSERT INTO vitals_records(id, patient_id, recording_id,
	temperature, blood_pressure_systolic, blood_pressure_diastolic, heart_rate,
	respiratory_rate, spo2, review_status, created)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, r.ID, r.PatientID, r.RecordingID,
		r.Temperature, r.Systolic, r.Diastolic, r.HeartRate, r.RespRate, r.SpO2,
		r.ReviewStatus, r.Created)
	if err != nil {
		return fmt.Errorf("can't insert vitals record: %w", err)
	}
	return nil
}

func (c *clinicalTx) InsertMedication(ctx context.Context, r *persistence.MedicationRecord) error {
	_, err := c.tx.Exec(ctx, `INSERT INTO medication_records(id, patient_id, recording_id,
	name, dosage, route, status, given_at, review_status, created)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`, r.ID, r.PatientID, r.RecordingID,
		r.Name, r.Dosage, r.Route, r.Status, r.GivenAt, r.ReviewStatus, r.Created)
	if err != nil {
		return fmt.Errorf("can't insert medication record: %w", err)
	}
	return nil
}

func (c *clinicalTx) InsertNote(ctx context.Context, r *persistence.NoteRecord) error {
	_, err := c.tx.Exec(ctx, `INSERT INTO note_records(id, patient_id, recording_id, note,
	language, review_status, created)
	VALUES($1, $2, $3, $4, $5, $6, $7)`, r.ID, r.PatientID, r.RecordingID, r.Note, r.Language,
		r.ReviewStatus, r.Created)
	if err != nil {
		return fmt.Errorf("can't insert note record: %w", err)
	}
	return nil
}

func (c *clinicalTx) InsertADL(ctx context.Context, r *persistence.ADLRecord) error {
	_, err := c.tx.Exec(ctx, `INSERT INTO adl_records(id, patient_id, recording_id, eating,
	bathing, dressing, toileting, transfer, mobility, assistance_level, review_status, created)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`, r.ID, r.PatientID, r.RecordingID,
		r.Eating, r.Bathing, r.Dressing, r.Toileting, r.Transfer, r.Mobility, r.AssistanceLevel,
		r.ReviewStatus, r.Created)
	if err != nil {
		return fmt.Errorf("can't insert adl record: %w", err)
	}
	return nil
}

func (c *clinicalTx) InsertIncident(ctx context.Context, r *persistence.IncidentRecord) error {
	_, err := c.tx.Exec(ctx, `INSERT INTO incident_records(id, patient_id, recording_id,
	description, incident_type, severity, review_status, created)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8)`, r.ID, r.PatientID, r.RecordingID, r.Description,
		r.IncidentType, r.Severity, r.ReviewStatus, r.Created)
	if err != nil {
		return fmt.Errorf("can't insert incident record: %w", err)
	}
	return nil
}

func (c *clinicalTx) InsertCarePlan(ctx context.Context, r *persistence.CarePlanRecord) error {
	_, err := c.tx.Exec(ctx, `INSERT INTO care_plan_records(id, patient_id, recording_id,
	update_text, goal, review_status, created)
	VALUES($1, $2, $3, $4, $5, $6, $7)`, r.ID, r.PatientID, r.RecordingID, r.Update, r.Goal,
		r.ReviewStatus, r.Created)
	if err != nil {
		return fmt.Errorf("can't insert care plan record: %w", err)
	}
	return nil
}

func (c *clinicalTx) InsertPain(ctx context.Context, r *persistence.PainRecord) error {
	_, err := c.tx.Exec(ctx, `INSERT INTO pain_records(id, patient_id, recording_id, scale,
	location, pain_character, review_status, created)
	VALUES($1, $2, $3, $4, $5, $6, $7, $8)`, r.ID, r.PatientID, r.RecordingID, r.Scale,
		r.Location, r.Character, r.ReviewStatus, r.Created)
	if err != nil {
		return fmt.Errorf("can't insert pain record: %w", err)
	}
	return nil
}
