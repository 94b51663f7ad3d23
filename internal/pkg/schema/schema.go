package schema

// CategoryType is one of the supported clinical category types
type CategoryType string

const (
	// Vitals - vital sign measurements
	Vitals CategoryType = "vitals"
	// Medication - medication administration events
	Medication CategoryType = "medication"
	// ClinicalNote - free-text narrative observations
	ClinicalNote CategoryType = "clinical_note"
	// ADL - activities of daily living scores
	ADL CategoryType = "adl"
	// Incident - incident reports
	Incident CategoryType = "incident"
	// CarePlan - care-plan updates
	CarePlan CategoryType = "care_plan"
	// Pain - pain assessments
	Pain CategoryType = "pain"
)

var allTypes = map[CategoryType]bool{Vitals: true, Medication: true, ClinicalNote: true,
	ADL: true, Incident: true, CarePlan: true, Pain: true}

// Known returns true for a supported category type
func Known(t CategoryType) bool {
	return allTypes[t]
}

// Category is one typed cluster of extracted fields with its confidences
type Category struct {
	Type             CategoryType           `json:"type"`
	Language         string                 `json:"language,omitempty"`
	Data             map[string]interface{} `json:"data"`
	Confidence       float64                `json:"confidence"`
	FieldConfidences map[string]float64     `json:"fieldConfidences,omitempty"`
}

// Document is the extraction result for one transcript
type Document struct {
	Categories        []Category `json:"categories"`
	OverallConfidence float64    `json:"overallConfidence"`
}

// FieldKind describes the semantic type of a category field
type FieldKind int

const (
	// Text - free text field
	Text FieldKind = iota + 1
	// Number - numeric field, optionally range-bound
	Number
	// Enum - one value of a fixed set
	Enum
)

// FieldSpec describes one field of a category contract
type FieldSpec struct {
	Name     string
	Kind     FieldKind
	Required bool
	Min, Max float64
	Values   []string
}

type categorySpec struct {
	fields []FieldSpec
	// atLeastOne requires one of the named fields to be populated,
	// used where no single field is mandatory on its own
	atLeastOne []string
}

var specs = map[CategoryType]categorySpec{
	Vitals: {
		fields: []FieldSpec{
			{Name: "temperature", Kind: Number, Min: 30, Max: 45},
			{Name: "blood_pressure_systolic", Kind: Number, Min: 40, Max: 300},
			{Name: "blood_pressure_diastolic", Kind: Number, Min: 20, Max: 200},
			{Name: "heart_rate", Kind: Number, Min: 20, Max: 250},
			{Name: "respiratory_rate", Kind: Number, Min: 4, Max: 80},
			{Name: "spo2", Kind: Number, Min: 50, Max: 100},
		},
		atLeastOne: []string{"temperature", "blood_pressure_systolic", "blood_pressure_diastolic",
			"heart_rate", "respiratory_rate", "spo2"},
	},
	Medication: {
		fields: []FieldSpec{
			{Name: "medication_name", Kind: Text, Required: true},
			{Name: "dosage", Kind: Text},
			{Name: "route", Kind: Enum, Values: []string{"oral", "iv", "im", "sc", "topical", "inhalation", "other"}},
			{Name: "status", Kind: Enum, Values: []string{"administered", "refused", "skipped"}},
			{Name: "time", Kind: Text},
		},
	},
	ClinicalNote: {
		fields: []FieldSpec{
			{Name: "note", Kind: Text, Required: true},
		},
	},
	ADL: {
		fields: []FieldSpec{
			{Name: "eating", Kind: Number, Min: 0, Max: 10},
			{Name: "bathing", Kind: Number, Min: 0, Max: 10},
			{Name: "dressing", Kind: Number, Min: 0, Max: 10},
			{Name: "toileting", Kind: Number, Min: 0, Max: 10},
			{Name: "transfer", Kind: Number, Min: 0, Max: 10},
			{Name: "mobility", Kind: Number, Min: 0, Max: 10},
			{Name: "assistance_level", Kind: Enum, Values: []string{"independent", "supervision", "partial", "full"}},
		},
		atLeastOne: []string{"eating", "bathing", "dressing", "toileting", "transfer", "mobility"},
	},
	Incident: {
		fields: []FieldSpec{
			{Name: "description", Kind: Text, Required: true},
			{Name: "incident_type", Kind: Enum, Values: []string{"fall", "medication_error", "injury", "behavioral", "other"}},
			{Name: "severity", Kind: Enum, Values: []string{"low", "medium", "high", "critical"}},
		},
	},
	CarePlan: {
		fields: []FieldSpec{
			{Name: "update", Kind: Text, Required: true},
			{Name: "goal", Kind: Text},
		},
	},
	Pain: {
		fields: []FieldSpec{
			{Name: "scale", Kind: Number, Required: true, Min: 0, Max: 10},
			{Name: "location", Kind: Text},
			{Name: "character", Kind: Text},
		},
	},
}

// Fields returns the field contract for a category type
func Fields(t CategoryType) []FieldSpec {
	return specs[t].fields
}

// CategoryTypes returns the category type snapshot of a document
func CategoryTypes(doc *Document) []string {
	res := []string{}
	if doc == nil {
		return res
	}
	for _, c := range doc.Categories {
		res = append(res, string(c.Type))
	}
	return res
}
