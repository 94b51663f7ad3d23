package mocks

import (
	"context"
	"io"
	"time"

	"github.com/airenas/async-api/pkg/messages"
	"github.com/carevox/carevox/internal/pkg/extractor"
	"github.com/carevox/carevox/internal/pkg/persistence"
	"github.com/carevox/carevox/internal/pkg/schema"
	"github.com/carevox/carevox/internal/pkg/status"
	"github.com/carevox/carevox/internal/pkg/transcriber/api"
	"github.com/stretchr/testify/mock"
)

// Filer is minio mock
type Filer struct{ mock.Mock }

func (m *Filer) SaveFile(ctx context.Context, name string, r io.Reader, fileSize int64) error {
	args := m.Called(ctx, name, r, fileSize)
	return args.Error(0)
}

func (m *Filer) LoadFile(ctx context.Context, fileName string) (io.ReadSeekCloser, error) {
	args := m.Called(ctx, fileName)
	return To[io.ReadSeekCloser](args.Get(0)), args.Error(1)
}

// DB is recordings store mock
type DB struct{ mock.Mock }

func (m *DB) InsertRecording(ctx context.Context, r *persistence.Recording) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *DB) LoadRecording(ctx context.Context, id string) (*persistence.Recording, error) {
	args := m.Called(ctx, id)
	return To[*persistence.Recording](args.Get(0)), args.Error(1)
}

func (m *DB) ClaimRecording(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *DB) UpdatePhase(ctx context.Context, id string, ph status.Phase) error {
	args := m.Called(ctx, id, ph)
	return args.Error(0)
}

func (m *DB) SetTranscript(ctx context.Context, id, text, lang string) error {
	args := m.Called(ctx, id, text, lang)
	return args.Error(0)
}

func (m *DB) CompleteRecording(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *DB) FailRecording(ctx context.Context, id, errText, errCode string) error {
	args := m.Called(ctx, id, errText, errCode)
	return args.Error(0)
}

func (m *DB) MarkPending(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *DB) LoadStuck(ctx context.Context, olderThan time.Time) ([]string, error) {
	args := m.Called(ctx, olderThan)
	return To[[]string](args.Get(0)), args.Error(1)
}

func (m *DB) CountQueuedBefore(ctx context.Context, created time.Time) (int, error) {
	args := m.Called(ctx, created)
	return args.Int(0), args.Error(1)
}

// ReviewDB is review item store mock
type ReviewDB struct{ mock.Mock }

func (m *ReviewDB) InsertReviewItem(ctx context.Context, item *persistence.ReviewItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *ReviewDB) LoadReviewItem(ctx context.Context, id string) (*persistence.ReviewItem, error) {
	args := m.Called(ctx, id)
	return To[*persistence.ReviewItem](args.Get(0)), args.Error(1)
}

func (m *ReviewDB) LoadReviewItemByRecording(ctx context.Context, recordingID string) (*persistence.ReviewItem, error) {
	args := m.Called(ctx, recordingID)
	return To[*persistence.ReviewItem](args.Get(0)), args.Error(1)
}

func (m *ReviewDB) ListReviewItems(ctx context.Context, statusFilter, reviewer string, limit int) ([]*persistence.ReviewItem, error) {
	args := m.Called(ctx, statusFilter, reviewer, limit)
	return To[[]*persistence.ReviewItem](args.Get(0)), args.Error(1)
}

func (m *ReviewDB) SetInReview(ctx context.Context, id, userID string) (bool, error) {
	args := m.Called(ctx, id, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ReviewDB) UpdateTranscript(ctx context.Context, id, text string) (bool, error) {
	args := m.Called(ctx, id, text)
	return args.Bool(0), args.Error(1)
}

func (m *ReviewDB) ReplaceDocument(ctx context.Context, item *persistence.ReviewItem) (bool, error) {
	args := m.Called(ctx, item)
	return args.Bool(0), args.Error(1)
}

func (m *ReviewDB) Discard(ctx context.Context, id, userID string) (bool, error) {
	args := m.Called(ctx, id, userID)
	return args.Bool(0), args.Error(1)
}

func (m *ReviewDB) MarkInReview(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *ReviewDB) InsertCategorizationLog(ctx context.Context, l *persistence.CategorizationLog) error {
	args := m.Called(ctx, l)
	return args.Error(0)
}

func (m *ReviewDB) LoadCategorizationLog(ctx context.Context, reviewItemID string) (*persistence.CategorizationLog, error) {
	args := m.Called(ctx, reviewItemID)
	return To[*persistence.CategorizationLog](args.Get(0)), args.Error(1)
}

func (m *ReviewDB) MarkTranscriptEdited(ctx context.Context, reviewItemID string) error {
	args := m.Called(ctx, reviewItemID)
	return args.Error(0)
}

func (m *ReviewDB) MarkDataEdited(ctx context.Context, reviewItemID string) error {
	args := m.Called(ctx, reviewItemID)
	return args.Error(0)
}

func (m *ReviewDB) IncReanalysis(ctx context.Context, reviewItemID string, doc *schema.Document) error {
	args := m.Called(ctx, reviewItemID, doc)
	return args.Error(0)
}

// Sender is postgres queue mock
type Sender struct{ mock.Mock }

func (m *Sender) SendMessage(ctx context.Context, msg messages.Message, queue string) error {
	args := m.Called(ctx, msg, queue)
	return args.Error(0)
}

// Transcriber is transcription client mock
type Transcriber struct{ mock.Mock }

func (m *Transcriber) Transcribe(ctx context.Context, in *api.TranscribeInput) (*api.Result, error) {
	args := m.Called(ctx, in)
	return To[*api.Result](args.Get(0)), args.Error(1)
}

// Extractor is extraction client mock
type Extractor struct{ mock.Mock }

func (m *Extractor) Extract(ctx context.Context, in *extractor.Input) (*extractor.Output, error) {
	args := m.Called(ctx, in)
	return To[*extractor.Output](args.Get(0)), args.Error(1)
}

func (m *Extractor) Translate(ctx context.Context, text, from, to string) (string, error) {
	args := m.Called(ctx, text, from, to)
	return args.String(0), args.Error(1)
}

// Committer is commit engine mock
type Committer struct{ mock.Mock }

func (m *Committer) Commit(ctx context.Context, item *persistence.ReviewItem, userID string) error {
	args := m.Called(ctx, item, userID)
	return args.Error(0)
}

// To casts a mock arg, nil safe
func To[T interface{}](val interface{}) T {
	if val == nil {
		var res T
		return res
	}
	return val.(T)
}
