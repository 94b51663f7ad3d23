package persistence

import (
	"database/sql"
	"time"

	"github.com/carevox/carevox/internal/pkg/schema"
)

// Review item statuses
const (
	RIPending   = "pending"
	RIInReview  = "in_review"
	RIConfirmed = "confirmed"
	RIDiscarded = "discarded"
)

// RITerminal returns true for terminal review item statuses
func RITerminal(st string) bool {
	return st == RIConfirmed || st == RIDiscarded
}

// Recording context types
const (
	CtxPatient = "patient"
	CtxGlobal  = "global"
)

type (

	// Recording table - the immutable capture of a spoken observation.
	// Rows are never deleted, audio is kept for retention
	Recording struct {
		ID                  string
		PatientID           sql.NullString
		Context             string
		ContextPatientID    sql.NullString
		RecordedBy          string
		DurationSec         float64
		AudioPath           string
		Transcript          sql.NullString
		TranscriptLang      sql.NullString
		Status              string
		Phase               sql.NullString
		Error               sql.NullString
		ErrorCode           sql.NullString
		ProcessingStarted   sql.NullTime
		ProcessingCompleted sql.NullTime
		RequestID           string
		Created             time.Time
		Updated             sql.NullTime
		Version             int32
	}

	// ReviewItem table - the reviewer facing unit, one per recording.
	// Transcript is an editable copy, the recording keeps the original
	ReviewItem struct {
		ID                   string
		RecordingID          string
		ReviewerID           sql.NullString
		ContextType          string
		ContextPatientID     sql.NullString
		Transcript           string
		TranslatedTranscript sql.NullString
		Language             string
		Document             schema.Document
		Confidence           float64
		Status               string
		EngineVersion        string
		ProcessingMs         int64
		Created              time.Time
		ReviewedAt           sql.NullTime
		Version              int32
	}

	// CategorizationLog table - append-only audit of how machine output
	// became (or did not become) clinical data
	CategorizationLog struct {
		ID                   string
		ReviewItemID         sql.NullString
		RecordingID          string
		DetectedCategories   []string
		Prompt               sql.NullString
		RawResponse          sql.NullString
		UserEditedTranscript bool
		UserEditedData       bool
		ReanalysisCount      int32
		ConfirmedAt          sql.NullTime
		ConfirmedBy          sql.NullString
		Created              time.Time
		Updated              sql.NullTime
	}

	// VitalsRecord - materialized vital signs row
	VitalsRecord struct {
		ID           string
		PatientID    sql.NullString
		RecordingID  string
		Temperature  sql.NullFloat64
		Systolic     sql.NullFloat64
		Diastolic    sql.NullFloat64
		HeartRate    sql.NullFloat64
		RespRate     sql.NullFloat64
		SpO2         sql.NullFloat64
		ReviewStatus string
		Created      time.Time
	}

	// MedicationRecord - materialized medication administration row
	MedicationRecord struct {
		ID           string
		PatientID    sql.NullString
		RecordingID  string
		Name         string
		Dosage       sql.NullString
		Route        sql.NullString
		Status       sql.NullString
		GivenAt      sql.NullString
		ReviewStatus string
		Created      time.Time
	}

	// NoteRecord - materialized clinical note row
	NoteRecord struct {
		ID           string
		PatientID    sql.NullString
		RecordingID  string
		Note         string
		Language     string
		ReviewStatus string
		Created      time.Time
	}

	// ADLRecord - materialized activities of daily living row
	ADLRecord struct {
		ID              string
		PatientID       sql.NullString
		RecordingID     string
		Eating          sql.NullFloat64
		Bathing         sql.NullFloat64
		Dressing        sql.NullFloat64
		Toileting       sql.NullFloat64
		Transfer        sql.NullFloat64
		Mobility        sql.NullFloat64
		AssistanceLevel sql.NullString
		ReviewStatus    string
		Created         time.Time
	}

	// IncidentRecord - materialized incident row
	IncidentRecord struct {
		ID           string
		PatientID    sql.NullString
		RecordingID  string
		Description  string
		IncidentType sql.NullString
		Severity     sql.NullString
		ReviewStatus string
		Created      time.Time
	}

	// CarePlanRecord - materialized care-plan update row
	CarePlanRecord struct {
		ID           string
		PatientID    sql.NullString
		RecordingID  string
		Update       string
		Goal         sql.NullString
		ReviewStatus string
		Created      time.Time
	}

	// PainRecord - materialized pain assessment row
	PainRecord struct {
		ID           string
		PatientID    sql.NullString
		RecordingID  string
		Scale        float64
		Location     sql.NullString
		Character    sql.NullString
		ReviewStatus string
		Created      time.Time
	}
)
