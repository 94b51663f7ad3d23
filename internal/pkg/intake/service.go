package intake

import (
	"context"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/facebookgo/grace/gracehttp"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/airenas/go-app/pkg/goapp"
	"github.com/carevox/carevox/internal/pkg/messages"
	"github.com/carevox/carevox/internal/pkg/persistence"
	"github.com/carevox/carevox/internal/pkg/status"
	"github.com/carevox/carevox/internal/pkg/utils"

	"github.com/labstack/echo-contrib/prometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

// FileSaver provides save file functionality
type FileSaver interface {
	SaveFile(ctx context.Context, name string, r io.Reader, fileSize int64) error
}

// MsgSender provides send msg functionality
type MsgSender interface {
	SendMessage(context.Context, amessages.Message, string) error
}

// DB saves recordings
type DB interface {
	InsertRecording(ctx context.Context, r *persistence.Recording) error
	LoadRecording(ctx context.Context, id string) (*persistence.Recording, error)
	MarkPending(ctx context.Context, id string) error
}

// Data keeps data required for service work
type Data struct {
	Port        int
	Saver       FileSaver
	DB          DB
	MsgSender   MsgSender
	RetrySecret string
}

// form params
const (
	prmFile       = "file"
	prmContext    = "context"
	prmPatientID  = "patientId"
	prmRecordedBy = "recordedBy"
	prmLanguage   = "language"
	prmDuration   = "duration"
)

const requestIDHeader = "x-doorman-requestid"

// StartWebServer starts echo web service
func StartWebServer(data *Data) error {
	goapp.Log.Info().Msgf("Starting HTTP carevox intake service at %d", data.Port)
	if err := validate(data); err != nil {
		return err
	}

	portStr := strconv.Itoa(data.Port)

	e := initRoutes(data)

	e.Server.Addr = ":" + portStr
	e.Server.ReadHeaderTimeout = 5 * time.Second
	e.Server.ReadTimeout = 180 * time.Second
	e.Server.WriteTimeout = 30 * time.Second

	gracehttp.SetLogger(log.New(goapp.Log, "", 0))

	return gracehttp.Serve(e.Server)
}

func validate(data *Data) error {
	if data.Saver == nil {
		return errors.New("no file saver")
	}
	if data.DB == nil {
		return fmt.Errorf("no DB")
	}
	if data.MsgSender == nil {
		return fmt.Errorf("no msg sender")
	}
	return nil
}

var promMdlw *prometheus.Prometheus

func init() {
	promMdlw = prometheus.NewPrometheus("carevox_intake", nil)
}

func initRoutes(data *Data) *echo.Echo {
	e := echo.New()
	e.Use(middleware.Logger())
	promMdlw.Use(e)

	e.POST("/recordings", upload(data))
	if data.RetrySecret != "" {
		e.POST(fmt.Sprintf("/retry/%s/:id", data.RetrySecret), retry(data))
	}
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

type result struct {
	ID string `json:"id"`
}

func upload(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("upload method")()
		ctx := c.Request().Context()

		form, err := c.MultipartForm()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "no multipart form data")
		}
		defer cleanFiles(form)

		file, header, err := takeFile(form)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		defer file.Close()

		rec := persistence.Recording{}
		rec.ID = uuid.NewString()
		rec.AudioPath, err = validateFileName(rec.ID, header.Filename)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		if err := fillContext(&rec, c); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		rec.RecordedBy = c.FormValue(prmRecordedBy)
		if rec.RecordedBy == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "no recordedBy")
		}
		rec.TranscriptLang = utils.ToSQLStr(c.FormValue(prmLanguage))
		if s := c.FormValue(prmDuration); s != "" {
			rec.DurationSec, err = strconv.ParseFloat(s, 64)
			if err != nil || rec.DurationSec < 0 {
				return echo.NewHTTPError(http.StatusBadRequest, "wrong duration")
			}
		}
		rec.Status = status.Pending.String()
		rec.Created = time.Now()
		rec.RequestID = c.Request().Header.Get(requestIDHeader)
		goapp.Log.Info().Str("requestID", rec.RequestID).Str("context", rec.Context).Msg("request info")

		// the context invariant is checked above, nothing is persisted on a bad request
		if err := data.DB.InsertRecording(ctx, &rec); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if err := data.Saver.SaveFile(ctx, rec.AudioPath, file, header.Size); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if err := data.MsgSender.SendMessage(ctx, &messages.ProcessMessage{
			QueueMessage: amessages.QueueMessage{ID: rec.ID},
			RequestID:    rec.RequestID}, messages.Process); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}

		return c.JSON(http.StatusOK, result{ID: rec.ID})
	}
}

func fillContext(rec *persistence.Recording, c echo.Context) error {
	rec.Context = c.FormValue(prmContext)
	patientID := c.FormValue(prmPatientID)
	switch rec.Context {
	case persistence.CtxPatient:
		if patientID == "" {
			return fmt.Errorf("no patientId for patient context")
		}
		rec.PatientID = utils.ToSQLStr(patientID)
		rec.ContextPatientID = utils.ToSQLStr(patientID)
	case persistence.CtxGlobal:
		if patientID != "" {
			return fmt.Errorf("patientId not allowed for global context")
		}
	default:
		return fmt.Errorf("wrong context '%s'", rec.Context)
	}
	return nil
}

func takeFile(form *multipart.Form) (multipart.File, *multipart.FileHeader, error) {
	files := form.File[prmFile]
	if len(files) == 0 {
		return nil, nil, fmt.Errorf("no file")
	}
	if len(files) > 1 {
		return nil, nil, fmt.Errorf("multiple files")
	}
	file, err := files[0].Open()
	if err != nil {
		return nil, nil, fmt.Errorf("can't open file")
	}
	return file, files[0], nil
}

func validateFileName(id, name string) (string, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if !utils.SupportAudioExt(ext) {
		return "", fmt.Errorf("unsupported audio type '%s'", ext)
	}
	return utils.MakeValidateFileName(id, name)
}

func cleanFiles(form *multipart.Form) {
	if form != nil {
		if err := form.RemoveAll(); err != nil {
			goapp.Log.Error().Err(err).Send()
		}
	}
}

func retry(data *Data) func(echo.Context) error {
	return func(c echo.Context) error {
		defer goapp.Estimate("retry method")()
		ctx := c.Request().Context()
		id := c.Param("id")
		if id == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "no id")
		}
		rec, err := data.DB.LoadRecording(ctx, id)
		if err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if rec == nil {
			return echo.NewHTTPError(http.StatusNotFound)
		}
		if err := data.DB.MarkPending(ctx, id); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		if err := data.MsgSender.SendMessage(ctx, &messages.ProcessMessage{
			QueueMessage: amessages.QueueMessage{ID: id},
			RequestID:    rec.RequestID}, messages.Process); err != nil {
			goapp.Log.Error().Err(err).Send()
			return echo.NewHTTPError(http.StatusInternalServerError)
		}
		return c.JSON(http.StatusOK, result{ID: id})
	}
}
