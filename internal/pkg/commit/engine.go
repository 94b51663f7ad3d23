package commit

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/carevox/carevox/internal/pkg/persistence"
	"github.com/carevox/carevox/internal/pkg/schema"
	"github.com/carevox/carevox/internal/pkg/utils"
	"github.com/google/uuid"
)

// Tx is one atomic confirm transaction. Either every clinical row,
// the item status flip and the audit stamp land, or none of them do
type Tx interface {
	ConfirmReviewItem(ctx context.Context, id, userID string) (bool, error)
	MarkLogConfirmed(ctx context.Context, reviewItemID, userID string) error
	InsertVitals(ctx context.Context, r *persistence.VitalsRecord) error
	InsertMedication(ctx context.Context, r *persistence.MedicationRecord) error
	InsertNote(ctx context.Context, r *persistence.NoteRecord) error
	InsertADL(ctx context.Context, r *persistence.ADLRecord) error
	InsertIncident(ctx context.Context, r *persistence.IncidentRecord) error
	InsertCarePlan(ctx context.Context, r *persistence.CarePlanRecord) error
	InsertPain(ctx context.Context, r *persistence.PainRecord) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store opens confirm transactions
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Engine materializes a confirmed document into typed clinical rows
type Engine struct {
	store Store
}

// NewEngine creates the commit engine
func NewEngine(store Store) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("no store")
	}
	return &Engine{store: store}, nil
}

// Commit flips the item to confirmed and writes one clinical row per
// document category in a single transaction. On any failure nothing
// is written and the error names the failing category
func (e *Engine) Commit(ctx context.Context, item *persistence.ReviewItem, userID string) error {
	if err := schema.ValidateForConfirm(&item.Document); err != nil {
		return utils.NewErrNonRetryable(err)
	}
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return fmt.Errorf("can't begin tx: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil {
			goapp.Log.Debug().Err(err).Msg("rollback")
		}
	}()
	ok, err := tx.ConfirmReviewItem(ctx, item.ID, userID)
	if err != nil {
		return fmt.Errorf("can't confirm review item: %w", err)
	}
	if !ok {
		return utils.NewErrTerminalState(item.Status)
	}
	now := time.Now()
	for _, cat := range item.Document.Categories {
		if err := e.save(ctx, tx, item, &cat, now); err != nil {
			return fmt.Errorf("can't save %s: %w", cat.Type, err)
		}
	}
	if err := tx.MarkLogConfirmed(ctx, item.ID, userID); err != nil {
		return fmt.Errorf("can't stamp audit: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("can't commit tx: %w", err)
	}
	return nil
}

func (e *Engine) save(ctx context.Context, tx Tx, item *persistence.ReviewItem, cat *schema.Category, now time.Time) error {
	switch cat.Type {
	case schema.Vitals:
		return tx.InsertVitals(ctx, &persistence.VitalsRecord{ID: uuid.NewString(),
			PatientID: item.ContextPatientID, RecordingID: item.RecordingID,
			Temperature: numOrNull(cat.Data, "temperature"),
			Systolic:    numOrNull(cat.Data, "blood_pressure_systolic"),
			Diastolic:   numOrNull(cat.Data, "blood_pressure_diastolic"),
			HeartRate:   numOrNull(cat.Data, "heart_rate"),
			RespRate:    numOrNull(cat.Data, "respiratory_rate"),
			SpO2:        numOrNull(cat.Data, "spo2"),
			ReviewStatus: persistence.RIConfirmed, Created: now})
	case schema.Medication:
		return tx.InsertMedication(ctx, &persistence.MedicationRecord{ID: uuid.NewString(),
			PatientID: item.ContextPatientID, RecordingID: item.RecordingID,
			Name:   str(cat.Data, "medication_name"),
			Dosage: strOrNull(cat.Data, "dosage"),
			Route:  strOrNull(cat.Data, "route"),
			Status: strOrNull(cat.Data, "status"),
			GivenAt: strOrNull(cat.Data, "time"),
			ReviewStatus: persistence.RIConfirmed, Created: now})
	case schema.ClinicalNote:
		return tx.InsertNote(ctx, &persistence.NoteRecord{ID: uuid.NewString(),
			PatientID: item.ContextPatientID, RecordingID: item.RecordingID,
			Note:     str(cat.Data, "note"),
			Language: cat.Language,
			ReviewStatus: persistence.RIConfirmed, Created: now})
	case schema.ADL:
		return tx.InsertADL(ctx, &persistence.ADLRecord{ID: uuid.NewString(),
			PatientID: item.ContextPatientID, RecordingID: item.RecordingID,
			Eating:          numOrNull(cat.Data, "eating"),
			Bathing:         numOrNull(cat.Data, "bathing"),
			Dressing:        numOrNull(cat.Data, "dressing"),
			Toileting:       numOrNull(cat.Data, "toileting"),
			Transfer:        numOrNull(cat.Data, "transfer"),
			Mobility:        numOrNull(cat.Data, "mobility"),
			AssistanceLevel: strOrNull(cat.Data, "assistance_level"),
			ReviewStatus:    persistence.RIConfirmed, Created: now})
	case schema.Incident:
		return tx.InsertIncident(ctx, &persistence.IncidentRecord{ID: uuid.NewString(),
			PatientID: item.ContextPatientID, RecordingID: item.RecordingID,
			Description:  str(cat.Data, "description"),
			IncidentType: strOrNull(cat.Data, "incident_type"),
			Severity:     strOrNull(cat.Data, "severity"),
			ReviewStatus: persistence.RIConfirmed, Created: now})
	case schema.CarePlan:
		return tx.InsertCarePlan(ctx, &persistence.CarePlanRecord{ID: uuid.NewString(),
			PatientID: item.ContextPatientID, RecordingID: item.RecordingID,
			Update: str(cat.Data, "update"),
			Goal:   strOrNull(cat.Data, "goal"),
			ReviewStatus: persistence.RIConfirmed, Created: now})
	case schema.Pain:
		scale, _ := asNumber(cat.Data["scale"])
		return tx.InsertPain(ctx, &persistence.PainRecord{ID: uuid.NewString(),
			PatientID: item.ContextPatientID, RecordingID: item.RecordingID,
			Scale:     scale,
			Location:  strOrNull(cat.Data, "location"),
			Character: strOrNull(cat.Data, "character"),
			ReviewStatus: persistence.RIConfirmed, Created: now})
	}
	return fmt.Errorf("unknown category '%s'", cat.Type)
}

func str(data map[string]interface{}, name string) string {
	if v, ok := data[name]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func strOrNull(data map[string]interface{}, name string) sql.NullString {
	return utils.ToSQLStr(str(data, name))
}

func numOrNull(data map[string]interface{}, name string) sql.NullFloat64 {
	if v, ok := data[name]; ok {
		if f, ok := asNumber(v); ok {
			return utils.ToSQLFloat(f)
		}
	}
	return sql.NullFloat64{}
}

// asNumber mirrors the lenient numeric handling of schema validation,
// edited fields may arrive as strings
func asNumber(v interface{}) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		return f, err == nil
	}
	return 0, false
}
