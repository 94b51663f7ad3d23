package worker

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/carevox/carevox/internal/pkg/extractor"
	"github.com/carevox/carevox/internal/pkg/messages"
	"github.com/carevox/carevox/internal/pkg/persistence"
	"github.com/carevox/carevox/internal/pkg/schema"
	"github.com/carevox/carevox/internal/pkg/status"
	tapi "github.com/carevox/carevox/internal/pkg/transcriber/api"
	"github.com/carevox/carevox/internal/pkg/utils"
	"github.com/carevox/carevox/internal/pkg/utils/handler"
	"github.com/google/uuid"
	"github.com/vgarvardt/gue/v5"
)

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, string) error
}

// DB provides recordings persistence
type DB interface {
	LoadRecording(ctx context.Context, id string) (*persistence.Recording, error)
	ClaimRecording(ctx context.Context, id string) (bool, error)
	UpdatePhase(ctx context.Context, id string, ph status.Phase) error
	SetTranscript(ctx context.Context, id, text, lang string) error
	CompleteRecording(ctx context.Context, id string) error
	FailRecording(ctx context.Context, id, errText, errCode string) error
	MarkPending(ctx context.Context, id string) error
	LoadStuck(ctx context.Context, olderThan time.Time) ([]string, error)
}

// ReviewDB creates review items and audit rows
type ReviewDB interface {
	InsertReviewItem(ctx context.Context, item *persistence.ReviewItem) error
	LoadReviewItemByRecording(ctx context.Context, recordingID string) (*persistence.ReviewItem, error)
	InsertCategorizationLog(ctx context.Context, l *persistence.CategorizationLog) error
}

// Filer retrieves audio files
type Filer interface {
	LoadFile(ctx context.Context, fileName string) (io.ReadSeekCloser, error)
}

// ServiceData keeps data required for service work
type ServiceData struct {
	GueClient   *gue.Client
	WorkerCount int
	MsgSender   MsgSender
	DB          DB
	ReviewDB    ReviewDB
	Filer       Filer
	Transcriber tapi.Transcriber
	Extractor   extractor.Extractor
	// TargetLang, when set, turns on translation of non target transcripts
	TargetLang string
	// StuckDuration marks processing recordings older than this as reclaimable
	StuckDuration time.Duration
	Testing       bool
}

// StartWorkerService starts the event queue listener service
// returns channel for tracking if all jobs are finished
func StartWorkerService(ctx context.Context, data *ServiceData) (chan struct{}, error) {
	if err := validate(data); err != nil {
		return nil, err
	}
	goapp.Log.Info().Int("workers", data.WorkerCount).Msg("Starting listen for messages")
	if data.Testing {
		goapp.Log.Warn().Msg("SERVICE IN TEST MODE")
	}

	wm := gue.WorkMap{
		messages.Process: handler.Create(data, handleProcess, handler.DefaultOpts[messages.ProcessMessage]().
			WithFailure(sendFail(data)).WithTimeout(time.Minute*30).
			WithBackoff(handler.DefaultBackoffOrTest(data.Testing))),
		messages.Fail: handler.Create(data, handleFail, handler.DefaultOpts[messages.FailMessage]().
			WithBackoff(handler.DefaultBackoffOrTest(data.Testing))),
	}

	pool, err := gue.NewWorkerPool(
		data.GueClient, wm, data.WorkerCount,
		gue.WithPoolQueue(messages.Process),
		gue.WithPoolLogger(utils.NewGueLoggerAdapter()),
		gue.WithPoolPollInterval(500*time.Millisecond),
		gue.WithPoolPollStrategy(gue.RunAtPollStrategy),
		gue.WithPoolID("carevox-worker"),
	)
	if err != nil {
		return nil, fmt.Errorf("could not build gue workers pool: %w", err)
	}
	fPool, err := gue.NewWorkerPool(
		data.GueClient, wm, 1,
		gue.WithPoolQueue(messages.Fail),
		gue.WithPoolLogger(utils.NewGueLoggerAdapter()),
		gue.WithPoolPollInterval(500*time.Millisecond),
		gue.WithPoolPollStrategy(gue.RunAtPollStrategy),
		gue.WithPoolID("carevox-worker-fail"),
	)
	if err != nil {
		return nil, fmt.Errorf("could not build gue workers pool: %w", err)
	}
	res := make(chan struct{}, 1)
	go func() {
		goapp.Log.Info().Msg("Starting workers")
		if err := pool.Run(ctx); err != nil {
			goapp.Log.Error().Err(err).Msg("pool error")
		}
		goapp.Log.Info().Msg("Pool workers finished")
		res <- struct{}{}
	}()
	go func() {
		if err := fPool.Run(ctx); err != nil {
			goapp.Log.Error().Err(err).Msg("fail pool error")
		}
	}()
	if data.StuckDuration > 0 {
		go runStuckReclaim(ctx, data)
	}
	return res, nil
}

func validate(data *ServiceData) error {
	if data.GueClient == nil {
		return fmt.Errorf("no gue client")
	}
	if data.WorkerCount < 1 {
		return fmt.Errorf("no worker count provided")
	}
	if data.MsgSender == nil {
		return fmt.Errorf("no msg sender")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.ReviewDB == nil {
		return fmt.Errorf("no review DB")
	}
	if data.Filer == nil {
		return fmt.Errorf("no filer")
	}
	if data.Transcriber == nil {
		return fmt.Errorf("no transcriber")
	}
	if data.Extractor == nil {
		return fmt.Errorf("no extractor")
	}
	return nil
}

func handleProcess(ctx context.Context, m *messages.ProcessMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Msg("handling recording")
	rec, err := data.DB.LoadRecording(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("can't load recording: %w", err)
	}
	if rec == nil {
		return utils.NewErrNonRetryable(fmt.Errorf("no recording '%s'", m.ID))
	}
	claimed, err := data.DB.ClaimRecording(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("can't claim recording: %w", err)
	}
	if !claimed {
		goapp.Log.Info().Str("ID", m.ID).Str("status", rec.Status).Msg("already done - skip")
		return nil
	}
	sendStatus(ctx, data, m.ID, status.Processing, status.PhTranscription, "")

	text, lang := rec.Transcript.String, rec.TranscriptLang.String
	if !rec.Transcript.Valid {
		text, lang, err = transcribe(ctx, rec, data)
		if err != nil {
			return fmt.Errorf("can't transcribe: %w", err)
		}
		if err := data.DB.SetTranscript(ctx, m.ID, text, lang); err != nil {
			return fmt.Errorf("can't save transcript: %w", err)
		}
	} else {
		goapp.Log.Info().Str("ID", m.ID).Msg("transcript exists - skip transcription")
	}

	if err := data.DB.UpdatePhase(ctx, m.ID, status.PhExtraction); err != nil {
		return fmt.Errorf("can't update phase: %w", err)
	}
	sendStatus(ctx, data, m.ID, status.Processing, status.PhExtraction, "")

	out, err := data.Extractor.Extract(ctx, &extractor.Input{Text: text, Language: lang,
		Hints: map[string]string{"context": rec.Context}})
	if err != nil {
		if out != nil && out.Raw != "" {
			// keep the raw engine response for the audit trail even when it is unusable
			if errIns := data.ReviewDB.InsertCategorizationLog(ctx, &persistence.CategorizationLog{
				ID: uuid.NewString(), RecordingID: m.ID, Prompt: utils.ToSQLStr(text),
				RawResponse: utils.ToSQLStr(out.Raw), Created: time.Now()}); errIns != nil {
				goapp.Log.Error().Err(errIns).Msg("can't save audit row")
			}
		}
		return fmt.Errorf("can't extract: %w", err)
	}

	translated := ""
	if data.TargetLang != "" && lang != "" && lang != data.TargetLang {
		if err := data.DB.UpdatePhase(ctx, m.ID, status.PhTranslation); err != nil {
			return fmt.Errorf("can't update phase: %w", err)
		}
		sendStatus(ctx, data, m.ID, status.Processing, status.PhTranslation, "")
		translated, err = data.Extractor.Translate(ctx, text, lang, data.TargetLang)
		if err != nil {
			return fmt.Errorf("can't translate: %w", err)
		}
	}

	if err := data.DB.UpdatePhase(ctx, m.ID, status.PhSaving); err != nil {
		return fmt.Errorf("can't update phase: %w", err)
	}
	sendStatus(ctx, data, m.ID, status.Processing, status.PhSaving, "")

	item := &persistence.ReviewItem{ID: uuid.NewString(), RecordingID: m.ID,
		ContextType:          rec.Context,
		ContextPatientID:     rec.ContextPatientID,
		Transcript:           text,
		TranslatedTranscript: utils.ToSQLStr(translated),
		Language:             lang,
		Document:             *out.Document,
		Confidence:           out.Document.OverallConfidence,
		Status:               persistence.RIPending,
		EngineVersion:        out.ModelVersion,
		ProcessingMs:         out.ProcessingMs,
		Created:              time.Now()}
	// insert is a no-op on redelivery, one item per recording
	if err := data.ReviewDB.InsertReviewItem(ctx, item); err != nil {
		return fmt.Errorf("can't save review item: %w", err)
	}
	// reload - on redelivery the first run's item survives, the audit row
	// must point to it, not to the id built above
	saved, err := data.ReviewDB.LoadReviewItemByRecording(ctx, m.ID)
	if err != nil {
		return fmt.Errorf("can't load review item: %w", err)
	}
	if saved == nil {
		return utils.NewErrNonRetryable(fmt.Errorf("no review item for recording '%s'", m.ID))
	}
	if err := data.ReviewDB.InsertCategorizationLog(ctx, &persistence.CategorizationLog{
		ID: uuid.NewString(), ReviewItemID: utils.ToSQLStr(saved.ID), RecordingID: m.ID,
		DetectedCategories: schema.CategoryTypes(out.Document),
		Prompt:             utils.ToSQLStr(text),
		RawResponse:        utils.ToSQLStr(out.Raw),
		Created:            time.Now()}); err != nil {
		return fmt.Errorf("can't save audit row: %w", err)
	}

	if err := data.DB.CompleteRecording(ctx, m.ID); err != nil {
		return fmt.Errorf("can't complete recording: %w", err)
	}
	sendStatus(ctx, data, m.ID, status.Completed, status.PhDone, "")
	goapp.Log.Info().Str("ID", m.ID).Msg("Recording processed")
	return nil
}

func transcribe(ctx context.Context, rec *persistence.Recording, data *ServiceData) (string, string, error) {
	goapp.Log.Info().Str("ID", rec.ID).Str("file", rec.AudioPath).Msg("load audio")
	file, err := data.Filer.LoadFile(ctx, rec.AudioPath)
	if err != nil {
		return "", "", fmt.Errorf("can't load audio: %w", err)
	}
	defer file.Close()
	res, err := data.Transcriber.Transcribe(ctx, &tapi.TranscribeInput{
		FileName: filepath.Base(rec.AudioPath), Audio: file,
		LangHint: rec.TranscriptLang.String})
	if err != nil {
		return "", "", err
	}
	goapp.Log.Info().Str("ID", rec.ID).Str("lang", res.Language).Msg("transcribed")
	return res.Text, res.Language, nil
}

func handleFail(ctx context.Context, m *messages.FailMessage, data *ServiceData) error {
	goapp.Log.Info().Str("ID", m.ID).Str("code", m.ErrorCode).Msg("handling failure")
	if err := data.DB.FailRecording(ctx, m.ID, m.Error, m.ErrorCode); err != nil {
		return fmt.Errorf("can't save failure: %w", err)
	}
	sendStatus(ctx, data, m.ID, status.Failed, status.PhNone, m.Error)
	if err := data.MsgSender.SendMessage(ctx, &amessages.InformMessage{
		QueueMessage: amessages.QueueMessage{ID: m.ID},
		Type:         amessages.InformTypeFailed, At: time.Now()}, messages.Inform); err != nil {
		return fmt.Errorf("can't send msg: %w", err)
	}
	return nil
}

// sendFail routes an exhausted or non retryable processing error to the fail queue
func sendFail(data *ServiceData) func(context.Context, *messages.ProcessMessage, error, *gue.Job) error {
	return func(ctx context.Context, m *messages.ProcessMessage, err error, j *gue.Job) error {
		return data.MsgSender.SendMessage(ctx, &messages.FailMessage{
			QueueMessage: amessages.QueueMessage{ID: m.ID},
			Error:        err.Error(),
			ErrorCode:    errCode(err).String()}, messages.Fail)
	}
}

func errCode(err error) status.ErrCode {
	if utils.IsNonRetryable(err) {
		return status.ECMalformedResponse
	}
	return status.ECServiceError
}

func sendStatus(ctx context.Context, data *ServiceData, id string, st status.Status, ph status.Phase, errStr string) {
	if err := data.MsgSender.SendMessage(ctx, &messages.StatusMessage{
		QueueMessage: amessages.QueueMessage{ID: id},
		Status:       st.String(), Phase: ph.String(), Error: errStr},
		messages.StatusChange); err != nil {
		goapp.Log.Error().Err(err).Str("ID", id).Msg("can't send status msg")
	}
}

// runStuckReclaim periodically returns abandoned processing recordings to the queue.
// A crashed worker leaves the recording in processing, the claim guard
// makes a second delivery safe
func runStuckReclaim(ctx context.Context, data *ServiceData) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reclaimStuck(ctx, data)
		}
	}
}

func reclaimStuck(ctx context.Context, data *ServiceData) {
	ids, err := data.DB.LoadStuck(ctx, time.Now().Add(-data.StuckDuration))
	if err != nil {
		goapp.Log.Error().Err(err).Msg("can't load stuck recordings")
		return
	}
	for _, id := range ids {
		goapp.Log.Warn().Str("ID", id).Msg("reclaiming stuck recording")
		if err := data.DB.MarkPending(ctx, id); err != nil {
			goapp.Log.Error().Err(err).Str("ID", id).Msg("can't mark pending")
			continue
		}
		if err := data.MsgSender.SendMessage(ctx, &messages.ProcessMessage{
			QueueMessage: amessages.QueueMessage{ID: id}}, messages.Process); err != nil {
			goapp.Log.Error().Err(err).Str("ID", id).Msg("can't send msg")
		}
	}
}
