package status

// Status represents recording processing status
type Status int

const (
	// Pending - recording accepted, waiting for a worker
	Pending Status = iota + 1
	// Processing - a worker has claimed the recording
	Processing
	// Completed - final state, review item created
	Completed
	// Failed - final state, no review item
	Failed
)

var (
	statusName = map[Status]string{Pending: "PENDING", Processing: "PROCESSING",
		Completed: "COMPLETED", Failed: "FAILED"}
	nameStatus = map[string]Status{"PENDING": Pending, "PROCESSING": Processing,
		"COMPLETED": Completed, "FAILED": Failed}
)

func (st Status) String() string {
	return statusName[st]
}

// From returns status obj from string
func From(st string) Status {
	return nameStatus[st]
}

// Final returns true when processing can't change the status any more,
// except an explicit retry
func Final(st Status) bool {
	return st == Completed || st == Failed
}

// ErrCode indicates the class of a processing failure
type ErrCode int

const (
	// ECServiceError - transient engine failure, retries exhausted
	ECServiceError ErrCode = iota + 1
	// ECMalformedResponse - engine output violates the extraction schema
	ECMalformedResponse
	// ECNotFound value
	ECNotFound
)

var errCodeName = map[ErrCode]string{ECServiceError: "SERVICE_ERROR",
	ECMalformedResponse: "MALFORMED_RESPONSE", ECNotFound: "NOT_FOUND"}

func (ec ErrCode) String() string {
	return errCodeName[ec]
}

// Phase represents a processing step within PROCESSING, reported for observability
type Phase int

const (
	// PhNone - not yet claimed
	PhNone Phase = iota
	// PhTranscription step
	PhTranscription
	// PhExtraction step
	PhExtraction
	// PhTranslation - optional bilingual projection
	PhTranslation
	// PhSaving - creating review data
	PhSaving
	// PhDone - final
	PhDone
)

var (
	phaseName = map[Phase]string{PhNone: "", PhTranscription: "transcription",
		PhExtraction: "extraction", PhTranslation: "translation", PhSaving: "saving", PhDone: "done"}
	namePhase = map[string]Phase{"transcription": PhTranscription, "extraction": PhExtraction,
		"translation": PhTranslation, "saving": PhSaving, "done": PhDone}
	// rough progress estimate used by the client while polling
	phaseProgress = map[Phase]int32{PhNone: 0, PhTranscription: 25, PhExtraction: 60,
		PhTranslation: 75, PhSaving: 90, PhDone: 100}
)

func (ph Phase) String() string {
	return phaseName[ph]
}

// PhaseFrom returns phase obj from string
func PhaseFrom(ph string) Phase {
	return namePhase[ph]
}

// Progress returns a progress estimate in percent for a phase
func Progress(ph Phase) int32 {
	return phaseProgress[ph]
}
