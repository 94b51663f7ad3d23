package status

import (
	"testing"
)

func TestStatus_String(t *testing.T) {
	tests := []struct {
		name string
		st   Status
		want string
	}{
		{st: Pending, want: "PENDING"},
		{st: Processing, want: "PROCESSING"},
		{st: Completed, want: "COMPLETED"},
		{st: Failed, want: "FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.st.String(); got != tt.want {
				t.Errorf("Status.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFrom(t *testing.T) {
	tests := []struct {
		name string
		args string
		want Status
	}{
		{args: "PENDING", want: Pending},
		{args: "PROCESSING", want: Processing},
		{args: "COMPLETED", want: Completed},
		{args: "FAILED", want: Failed},
		{args: "olia", want: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := From(tt.args); got != tt.want {
				t.Errorf("From() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFinal(t *testing.T) {
	tests := []struct {
		name string
		st   Status
		want bool
	}{
		{st: Pending, want: false},
		{st: Processing, want: false},
		{st: Completed, want: true},
		{st: Failed, want: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Final(tt.st); got != tt.want {
				t.Errorf("Final() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrCodes_String(t *testing.T) {
	tests := []struct {
		name string
		st   ErrCode
		want string
	}{
		{st: ECServiceError, want: "SERVICE_ERROR"},
		{st: ECMalformedResponse, want: "MALFORMED_RESPONSE"},
		{st: ECNotFound, want: "NOT_FOUND"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.st.String(); got != tt.want {
				t.Errorf("ErrCode.String() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPhase(t *testing.T) {
	tests := []struct {
		name     string
		ph       Phase
		want     string
		progress int32
	}{
		{ph: PhNone, want: "", progress: 0},
		{ph: PhTranscription, want: "transcription", progress: 25},
		{ph: PhExtraction, want: "extraction", progress: 60},
		{ph: PhTranslation, want: "translation", progress: 75},
		{ph: PhSaving, want: "saving", progress: 90},
		{ph: PhDone, want: "done", progress: 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.ph.String(); got != tt.want {
				t.Errorf("Phase.String() = %v, want %v", got, tt.want)
			}
			if got := Progress(tt.ph); got != tt.progress {
				t.Errorf("Progress() = %v, want %v", got, tt.progress)
			}
			if tt.want != "" && PhaseFrom(tt.want) != tt.ph {
				t.Errorf("PhaseFrom() mismatch for %v", tt.want)
			}
		})
	}
}
