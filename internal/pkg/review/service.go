package review

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/minio/minio-go/v7"
	"github.com/pkg/errors"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/carevox/carevox/internal/pkg/extractor"
	"github.com/carevox/carevox/internal/pkg/messages"
	"github.com/carevox/carevox/internal/pkg/persistence"
	"github.com/carevox/carevox/internal/pkg/schema"
	"github.com/carevox/carevox/internal/pkg/utils"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// DB provides review item and audit log persistence
type DB interface {
	LoadReviewItem(ctx context.Context, id string) (*persistence.ReviewItem, error)
	ListReviewItems(ctx context.Context, statusFilter, reviewer string, limit int) ([]*persistence.ReviewItem, error)
	SetInReview(ctx context.Context, id, userID string) (bool, error)
	UpdateTranscript(ctx context.Context, id, text string) (bool, error)
	ReplaceDocument(ctx context.Context, item *persistence.ReviewItem) (bool, error)
	Discard(ctx context.Context, id, userID string) (bool, error)
	MarkInReview(ctx context.Context, id string) error
	LoadCategorizationLog(ctx context.Context, reviewItemID string) (*persistence.CategorizationLog, error)
	MarkTranscriptEdited(ctx context.Context, reviewItemID string) error
	MarkDataEdited(ctx context.Context, reviewItemID string) error
	IncReanalysis(ctx context.Context, reviewItemID string, doc *schema.Document) error
}

// RecordingsDB loads recordings for audio serving
type RecordingsDB interface {
	LoadRecording(ctx context.Context, id string) (*persistence.Recording, error)
}

// FileLoader loads audio from the object store
type FileLoader interface {
	LoadFile(ctx context.Context, fileName string) (io.ReadSeekCloser, error)
}

// Committer materializes a confirmed item atomically
type Committer interface {
	Commit(ctx context.Context, item *persistence.ReviewItem, userID string) error
}

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, string) error
}

// Data keeps data required for service work
type Data struct {
	Port      int
	DB        DB
	RecDB     RecordingsDB
	Loader    FileLoader
	Extractor extractor.Extractor
	Committer Committer
	MsgSender MsgSender
}

const userIDHeader = "x-user-id"

// editRetryCount limits the optimistic retry loop on concurrent field edits
const editRetryCount = 3

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Msgf("Starting HTTP carevox review service at %d", data.Port)
	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 60 * time.Second
	e.Server.WriteTimeout = 60 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

func validate(data *Data) error {
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.RecDB == nil {
		return fmt.Errorf("no recordings DB")
	}
	if data.Loader == nil {
		return errors.New("no file loader")
	}
	if data.Extractor == nil {
		return fmt.Errorf("no extractor")
	}
	if data.Committer == nil {
		return fmt.Errorf("no committer")
	}
	if data.MsgSender == nil {
		return fmt.Errorf("no msg sender")
	}
	return nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("carevox_review", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.GET("/items", listItems(data))
	e.GET("/items/:id", getItem(data))
	e.POST("/items/:id/open", openItem(data))
	e.POST("/items/:id/transcript", editTranscript(data))
	e.POST("/items/:id/reanalyze", reanalyze(data))
	e.POST("/items/:id/fields", editField(data))
	e.POST("/items/:id/confirm", confirm(data))
	e.POST("/items/:id/discard", discard(data))
	e.GET("/audio/:recordingId", audio(data))
	e.GET("/live", live(data))

	goapp.Log.Info().Msg("Routes:")
	for _, r := range e.Routes() {
		goapp.Log.Info().Msgf("  %s %s", r.Method, r.Path)
	}
	return e
}

func live(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		return c.JSONBlob(http.StatusOK, []byte(`{"service":"OK"}`))
	}
}

type itemResponse struct {
	ID                   string           `json:"id"`
	RecordingID          string           `json:"recordingId"`
	ReviewerID           string           `json:"reviewerId,omitempty"`
	ContextType          string           `json:"contextType"`
	ContextPatientID     string           `json:"contextPatientId,omitempty"`
	Transcript           string           `json:"transcript"`
	TranslatedTranscript string           `json:"translatedTranscript,omitempty"`
	Language             string           `json:"language"`
	Document             *schema.Document `json:"document"`
	Confidence           float64          `json:"confidence"`
	ConfidenceBand       string           `json:"confidenceBand"`
	// fields needing mandatory reviewer attention, one list per document category
	LowConfidenceFields [][]string `json:"lowConfidenceFields,omitempty"`
	Status               string           `json:"status"`
	EngineVersion        string           `json:"engineVersion"`
	Created              time.Time        `json:"created"`
	ReviewedAt           *time.Time       `json:"reviewedAt,omitempty"`
	Version              int32            `json:"version"`
}

type auditResponse struct {
	DetectedCategories   []string   `json:"detectedCategories"`
	UserEditedTranscript bool       `json:"userEditedTranscript"`
	UserEditedData       bool       `json:"userEditedData"`
	ReanalysisCount      int32      `json:"reanalysisCount"`
	ConfirmedAt          *time.Time `json:"confirmedAt,omitempty"`
	ConfirmedBy          string     `json:"confirmedBy,omitempty"`
}

type itemDetailsResponse struct {
	itemResponse
	Audit *auditResponse `json:"audit,omitempty"`
}

func mapItem(item *persistence.ReviewItem) itemResponse {
	return itemResponse{ID: item.ID, RecordingID: item.RecordingID,
		ReviewerID:       utils.FromSQLStr(item.ReviewerID),
		ContextType:      item.ContextType,
		ContextPatientID: utils.FromSQLStr(item.ContextPatientID),
		Transcript:       item.Transcript,
		TranslatedTranscript: utils.FromSQLStr(item.TranslatedTranscript),
		Language:         item.Language,
		Document:         &item.Document,
		Confidence:       item.Confidence,
		ConfidenceBand:   string(schema.ConfidenceBand(item.Confidence)),
		Status:           item.Status,
		EngineVersion:    item.EngineVersion,
		Created:          item.Created,
		ReviewedAt:       utils.FromSQLTimeOrNil(item.ReviewedAt),
		Version:          item.Version,
		LowConfidenceFields: lowConfidenceFields(&item.Document),
	}
}

func lowConfidenceFields(doc *schema.Document) [][]string {
	res, found := make([][]string, len(doc.Categories)), false
	for i := range doc.Categories {
		res[i] = schema.LowConfidenceFields(&doc.Categories[i])
		found = found || len(res[i]) > 0
	}
	if !found {
		return nil
	}
	return res
}

func listItems(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("listItems method")()
		ctx := c.Request().Context()
		limit := 0
		if s := c.QueryParam("limit"); s != "" {
			v, err := strconv.Atoi(s)
			if err != nil || v < 0 {
				return echo.NewHTTPError(http.StatusBadRequest, "wrong limit")
			}
			limit = v
		}
		items, err := data.DB.ListReviewItems(ctx, c.QueryParam("status"), c.QueryParam("reviewer"), limit)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		res := make([]itemResponse, 0, len(items))
		for _, item := range items {
			res = append(res, mapItem(item))
		}
		return c.JSON(http.StatusOK, res)
	}
}

func getItem(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("getItem method")()
		ctx := c.Request().Context()
		item, err := loadItem(ctx, data, c.Param("id"))
		if err != nil {
			return err
		}
		res := itemDetailsResponse{itemResponse: mapItem(item)}
		cLog, err := data.DB.LoadCategorizationLog(ctx, item.ID)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if cLog != nil {
			res.Audit = &auditResponse{DetectedCategories: cLog.DetectedCategories,
				UserEditedTranscript: cLog.UserEditedTranscript,
				UserEditedData:       cLog.UserEditedData,
				ReanalysisCount:      cLog.ReanalysisCount,
				ConfirmedAt:          utils.FromSQLTimeOrNil(cLog.ConfirmedAt),
				ConfirmedBy:          utils.FromSQLStr(cLog.ConfirmedBy)}
		}
		return c.JSON(http.StatusOK, res)
	}
}

func loadItem(ctx context.Context, data *Data, id string) (*persistence.ReviewItem, error) {
	if id == "" {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "no id")
	}
	item, err := data.DB.LoadReviewItem(ctx, id)
	if err != nil {
		goapp.Log.Error().Err(err).Send()
		return nil, echo.NewHTTPError(http.StatusInternalServerError)
	}
	if item == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound)
	}
	return item, nil
}

func takeUser(c echo.Context) (string, error) {
	user := c.Request().Header.Get(userIDHeader)
	if user == "" {
		return "", echo.NewHTTPError(http.StatusBadRequest, "no user")
	}
	return user, nil
}

func openItem(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("openItem method")()
		ctx := c.Request().Context()
		user, err := takeUser(c)
		if err != nil {
			return err
		}
		id := c.Param("id")
		ok, err := data.DB.SetInReview(ctx, id, user)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if !ok {
			return conflictOrMissing(ctx, data, id)
		}
		item, err := loadItem(ctx, data, id)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, mapItem(item))
	}
}

// conflictOrMissing tells 409 from 404 apart after a guarded update matched no rows
func conflictOrMissing(ctx context.Context, data *Data, id string) error {
	item, err := data.DB.LoadReviewItem(ctx, id)
	if err != nil {
		goapp.Log.Error().Err(err).Send()
		return echo.NewHTTPError(http.StatusInternalServerError)
	}
	if item == nil {
		return echo.NewHTTPError(http.StatusNotFound)
	}
	return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("item is %s", item.Status))
}

type transcriptInput struct {
	Transcript string `json:"transcript"`
}

func editTranscript(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("editTranscript method")()
		ctx := c.Request().Context()
		if _, err := takeUser(c); err != nil {
			return err
		}
		var input transcriptInput
		if err := c.Bind(&input); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "wrong input")
		}
		if input.Transcript == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "no transcript")
		}
		id := c.Param("id")
		ok, err := data.DB.UpdateTranscript(ctx, id, input.Transcript)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if !ok {
			return conflictOrMissing(ctx, data, id)
		}
		if err := data.DB.MarkTranscriptEdited(ctx, id); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		return c.NoContent(http.StatusOK)
	}
}

func reanalyze(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("reanalyze method")()
		ctx := c.Request().Context()
		if _, err := takeUser(c); err != nil {
			return err
		}
		item, err := loadItem(ctx, data, c.Param("id"))
		if err != nil {
			return err
		}
		if persistence.RITerminal(item.Status) {
			return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("item is %s", item.Status))
		}
		out, err := data.Extractor.Extract(ctx, &extractor.Input{Text: item.Transcript,
			Language: item.Language,
			Hints:    map[string]string{"context": item.ContextType}})
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			if utils.IsNonRetryable(err) {
				return echo.NewHTTPError(http.StatusBadGateway, "engine returned unusable data")
			}
			return echo.NewHTTPError(http.StatusBadGateway, "extraction failed")
		}
		item.Document = *out.Document
		item.Confidence = out.Document.OverallConfidence
		item.EngineVersion = out.ModelVersion
		ok, err := data.DB.ReplaceDocument(ctx, item)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if !ok {
			return conflictOrMissing(ctx, data, item.ID)
		}
		if err := data.DB.IncReanalysis(ctx, item.ID, out.Document); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		item.Version++
		return c.JSON(http.StatusOK, mapItem(item))
	}
}

type fieldInput struct {
	CategoryIndex int         `json:"categoryIndex"`
	Field         string      `json:"field"`
	Value         interface{} `json:"value"`
}

func editField(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("editField method")()
		ctx := c.Request().Context()
		if _, err := takeUser(c); err != nil {
			return err
		}
		var input fieldInput
		if err := c.Bind(&input); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "wrong input")
		}
		if input.Field == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "no field")
		}
		id := c.Param("id")
		for i := 0; i < editRetryCount; i++ {
			item, err := loadItem(ctx, data, id)
			if err != nil {
				return err
			}
			if persistence.RITerminal(item.Status) {
				return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("item is %s", item.Status))
			}
			if err := applyFieldEdit(&item.Document, &input); err != nil {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			ok, err := data.DB.ReplaceDocument(ctx, item)
			if err != nil {
				goapp.Log.Error().Err(err).Send()
				return echo.NewHTTPError(http.StatusInternalServerError)
			}
			if !ok {
				continue
			}
			if err := data.DB.MarkDataEdited(ctx, id); err != nil {
				goapp.Log.Error().Err(err).Send()
				return echo.NewHTTPError(http.StatusInternalServerError)
			}
			item.Version++
			return c.JSON(http.StatusOK, mapItem(item))
		}
		return echo.NewHTTPError(http.StatusConflict, "too many concurrent edits")
	}
}

// applyFieldEdit changes one field value. A human provided value
// is taken as fully trusted
func applyFieldEdit(doc *schema.Document, input *fieldInput) error {
	if input.CategoryIndex < 0 || input.CategoryIndex >= len(doc.Categories) {
		return fmt.Errorf("wrong category index %d", input.CategoryIndex)
	}
	cat := &doc.Categories[input.CategoryIndex]
	known := false
	for _, f := range schema.Fields(cat.Type) {
		if f.Name == input.Field {
			known = true
			break
		}
	}
	if !known {
		return fmt.Errorf("unknown field '%s' for %s", input.Field, cat.Type)
	}
	if cat.Data == nil {
		cat.Data = map[string]interface{}{}
	}
	if input.Value == nil {
		delete(cat.Data, input.Field)
		delete(cat.FieldConfidences, input.Field)
		return nil
	}
	cat.Data[input.Field] = input.Value
	if cat.FieldConfidences == nil {
		cat.FieldConfidences = map[string]float64{}
	}
	cat.FieldConfidences[input.Field] = 1
	return nil
}

func confirm(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("confirm method")()
		ctx := c.Request().Context()
		user, err := takeUser(c)
		if err != nil {
			return err
		}
		item, err := loadItem(ctx, data, c.Param("id"))
		if err != nil {
			return err
		}
		if err := data.Committer.Commit(ctx, item, user); err != nil {
			var te *utils.ErrTerminalState
			if errors.As(err, &te) {
				return echo.NewHTTPError(http.StatusConflict, fmt.Sprintf("item is %s", te.Status))
			}
			if utils.IsNonRetryable(err) {
				return echo.NewHTTPError(http.StatusBadRequest, err.Error())
			}
			goapp.Log.Error().Err(err).Send()
			if errInt := data.DB.MarkInReview(ctx, item.ID); errInt != nil {
				goapp.Log.Error().Err(errInt).Send()
			}
			// the reviewer needs to see which category failed, not a bare 500
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
		if err := data.MsgSender.SendMessage(ctx, &amessages.InformMessage{
			QueueMessage: amessages.QueueMessage{ID: item.RecordingID},
			Type:         amessages.InformTypeFinished, At: time.Now()}, messages.Inform); err != nil {
			goapp.Log.Error().Err(err).Msg("can't send inform msg")
		}
		return c.NoContent(http.StatusOK)
	}
}

func discard(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("discard method")()
		ctx := c.Request().Context()
		user, err := takeUser(c)
		if err != nil {
			return err
		}
		id := c.Param("id")
		ok, err := data.DB.Discard(ctx, id, user)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if !ok {
			return conflictOrMissing(ctx, data, id)
		}
		return c.NoContent(http.StatusOK)
	}
}

func audio(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("audio method")()
		ctx := c.Request().Context()
		id := c.Param("recordingId")
		if id == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "no recording id")
		}
		rec, err := data.RecDB.LoadRecording(ctx, id)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if rec == nil {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		file, err := data.Loader.LoadFile(ctx, rec.AudioPath)
		if err != nil {
			if isNotFound(err) {
				return echo.NewHTTPError(http.StatusNotFound)
			}
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		defer file.Close()
		disposition := "inline"
		if utils.ParamTrue(c.QueryParam("download")) {
			disposition = "attachment"
		}
		c.Response().Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%s", disposition, filepath.Base(rec.AudioPath)))
		http.ServeContent(c.Response(), c.Request(), rec.AudioPath, time.Time{}, file)
		return nil
	}
}

func isNotFound(err error) bool {
	var errTest minio.ErrorResponse
	return errors.As(err, &errTest) && errTest.StatusCode == http.StatusNotFound
}
