package review

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/carevox/carevox/internal/pkg/extractor"
	"github.com/carevox/carevox/internal/pkg/persistence"
	"github.com/carevox/carevox/internal/pkg/schema"
	"github.com/carevox/carevox/internal/pkg/test"
	"github.com/carevox/carevox/internal/pkg/test/mocks"
	"github.com/carevox/carevox/internal/pkg/utils"
	"github.com/labstack/echo/v4"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	dbMock        *mocks.ReviewDB
	recDBMock     *mocks.DB
	loaderMock    *mocks.Filer
	extractorMock *mocks.Extractor
	committerMock *mocks.Committer
	senderMock    *mocks.Sender
	tData         *Data
	tEcho         *echo.Echo
	tResp         *httptest.ResponseRecorder
)

func initTest(t *testing.T) {
	dbMock = &mocks.ReviewDB{}
	recDBMock = &mocks.DB{}
	loaderMock = &mocks.Filer{}
	extractorMock = &mocks.Extractor{}
	committerMock = &mocks.Committer{}
	senderMock = &mocks.Sender{}
	tData = &Data{}
	tData.DB = dbMock
	tData.RecDB = recDBMock
	tData.Loader = loaderMock
	tData.Extractor = extractorMock
	tData.Committer = committerMock
	tData.MsgSender = senderMock
	tEcho = initRoutes(tData)
	tResp = httptest.NewRecorder()
	dbMock.On("LoadReviewItem", mock.Anything, mock.Anything).Return(testItem(), nil)
	dbMock.On("LoadCategorizationLog", mock.Anything, mock.Anything).Return(
		&persistence.CategorizationLog{RecordingID: "r1", DetectedCategories: []string{"vitals"},
			ReanalysisCount: 2}, nil)
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func testItem() *persistence.ReviewItem {
	return &persistence.ReviewItem{ID: "i1", RecordingID: "r1",
		ContextType: persistence.CtxPatient, ContextPatientID: utils.ToSQLStr("p1"),
		Transcript: "patient temperature 37.2", Language: "en",
		Status: persistence.RIInReview, Confidence: 0.9, Version: 3,
		Document: schema.Document{Categories: []schema.Category{
			{Type: schema.Vitals, Data: map[string]interface{}{"temperature": 37.2},
				Confidence: 0.9}}, OverallConfidence: 0.9}}
}

func testCode(t *testing.T, req *http.Request, code int) *httptest.ResponseRecorder {
	t.Helper()
	tEcho.ServeHTTP(tResp, req)
	require.Equal(t, code, tResp.Code)
	return tResp
}

func newJSONRequest(t *testing.T, method, target string, body interface{}) *http.Request {
	t.Helper()
	b, err := json.Marshal(body)
	require.Nil(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(b))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("x-user-id", "user1")
	return req
}

func TestWrongPath(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/invalid", nil)
	testCode(t, req, 404)
}

func TestWrongMethod(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodPost, "/items", nil)
	testCode(t, req, 405)
}

func Test_Live(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	testCode(t, req, 200)
}

func Test_List_Returns(t *testing.T) {
	initTest(t)
	dbMock.On("ListReviewItems", mock.Anything, "pending", "", 0).
		Return([]*persistence.ReviewItem{testItem()}, nil)
	req := httptest.NewRequest(http.MethodGet, "/items?status=pending", nil)
	resp := testCode(t, req, http.StatusOK)
	res := test.Decode[[]itemResponse](t, resp.Result())
	require.Equal(t, 1, len(res))
	assert.Equal(t, "i1", res[0].ID)
	assert.Equal(t, "high", res[0].ConfidenceBand)
}

func Test_List_WrongLimit(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/items?limit=olia", nil)
	testCode(t, req, http.StatusBadRequest)
}

func Test_Get_Returns(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/items/i1", nil)
	resp := testCode(t, req, http.StatusOK)
	res := test.Decode[itemDetailsResponse](t, resp.Result())
	assert.Equal(t, "i1", res.ID)
	require.NotNil(t, res.Audit)
	assert.Equal(t, int32(2), res.Audit.ReanalysisCount)
}

func Test_Get_FlagsLowConfidenceFields(t *testing.T) {
	initTest(t)
	item := testItem()
	item.Document.Categories[0].FieldConfidences = map[string]float64{"temperature": 0.4}
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadReviewItem", mock.Anything, "i1").Return(item, nil)
	dbMock.On("LoadCategorizationLog", mock.Anything, mock.Anything).Return(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/items/i1", nil)
	resp := testCode(t, req, http.StatusOK)
	res := test.Decode[itemDetailsResponse](t, resp.Result())
	require.Equal(t, 1, len(res.LowConfidenceFields))
	assert.Equal(t, []string{"temperature"}, res.LowConfidenceFields[0])
}

func Test_Get_NoLowConfidenceFields(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/items/i1", nil)
	resp := testCode(t, req, http.StatusOK)
	res := test.Decode[itemDetailsResponse](t, resp.Result())
	assert.Nil(t, res.LowConfidenceFields)
}

func Test_Get_NotFound(t *testing.T) {
	initTest(t)
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadReviewItem", mock.Anything, mock.Anything).Return(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/items/i2", nil)
	testCode(t, req, http.StatusNotFound)
}

func Test_Open_Returns(t *testing.T) {
	initTest(t)
	dbMock.On("SetInReview", mock.Anything, "i1", "user1").Return(true, nil)
	req := newJSONRequest(t, http.MethodPost, "/items/i1/open", nil)
	resp := testCode(t, req, http.StatusOK)
	res := test.Decode[itemResponse](t, resp.Result())
	assert.Equal(t, "i1", res.ID)
}

func Test_Open_NoUser(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodPost, "/items/i1/open", nil)
	testCode(t, req, http.StatusBadRequest)
}

func Test_Open_Terminal(t *testing.T) {
	initTest(t)
	dbMock.On("SetInReview", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	item := testItem()
	item.Status = persistence.RIConfirmed
	dbMock.ExpectedCalls = nil
	dbMock.On("SetInReview", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	dbMock.On("LoadReviewItem", mock.Anything, mock.Anything).Return(item, nil)
	req := newJSONRequest(t, http.MethodPost, "/items/i1/open", nil)
	testCode(t, req, http.StatusConflict)
}

func Test_Transcript_Updates(t *testing.T) {
	initTest(t)
	dbMock.On("UpdateTranscript", mock.Anything, "i1", "fixed text").Return(true, nil)
	dbMock.On("MarkTranscriptEdited", mock.Anything, "i1").Return(nil)
	req := newJSONRequest(t, http.MethodPost, "/items/i1/transcript",
		transcriptInput{Transcript: "fixed text"})
	testCode(t, req, http.StatusOK)
	dbMock.AssertNumberOfCalls(t, "MarkTranscriptEdited", 1)
}

func Test_Transcript_Empty(t *testing.T) {
	initTest(t)
	req := newJSONRequest(t, http.MethodPost, "/items/i1/transcript", transcriptInput{})
	testCode(t, req, http.StatusBadRequest)
}

func Test_Transcript_Terminal(t *testing.T) {
	initTest(t)
	item := testItem()
	item.Status = persistence.RIDiscarded
	dbMock.ExpectedCalls = nil
	dbMock.On("UpdateTranscript", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	dbMock.On("LoadReviewItem", mock.Anything, mock.Anything).Return(item, nil)
	req := newJSONRequest(t, http.MethodPost, "/items/i1/transcript",
		transcriptInput{Transcript: "fixed text"})
	testCode(t, req, http.StatusConflict)
}

func Test_Reanalyze_Returns(t *testing.T) {
	initTest(t)
	extractorMock.On("Extract", mock.Anything, mock.Anything).Return(&extractor.Output{
		Document: &schema.Document{Categories: []schema.Category{
			{Type: schema.Pain, Data: map[string]interface{}{"scale": 4.0}, Confidence: 0.7}},
			OverallConfidence: 0.7}, ModelVersion: "v2"}, nil)
	dbMock.On("ReplaceDocument", mock.Anything, mock.Anything).Return(true, nil)
	dbMock.On("IncReanalysis", mock.Anything, "i1", mock.Anything).Return(nil)
	req := newJSONRequest(t, http.MethodPost, "/items/i1/reanalyze", nil)
	resp := testCode(t, req, http.StatusOK)
	res := test.Decode[itemResponse](t, resp.Result())
	assert.Equal(t, "v2", res.EngineVersion)
	assert.InDelta(t, 0.7, res.Confidence, 0.0001)
	assert.Equal(t, int32(4), res.Version)
	dbMock.AssertNumberOfCalls(t, "IncReanalysis", 1)
	in := mocks.To[*extractor.Input](extractorMock.Calls[0].Arguments[1])
	assert.Equal(t, "patient temperature 37.2", in.Text)
}

func Test_Reanalyze_Terminal(t *testing.T) {
	initTest(t)
	item := testItem()
	item.Status = persistence.RIConfirmed
	dbMock.ExpectedCalls = nil
	dbMock.On("LoadReviewItem", mock.Anything, mock.Anything).Return(item, nil)
	req := newJSONRequest(t, http.MethodPost, "/items/i1/reanalyze", nil)
	testCode(t, req, http.StatusConflict)
	extractorMock.AssertNumberOfCalls(t, "Extract", 0)
}

func Test_Reanalyze_EngineFails(t *testing.T) {
	initTest(t)
	extractorMock.On("Extract", mock.Anything, mock.Anything).Return(nil, fmt.Errorf("olia"))
	req := newJSONRequest(t, http.MethodPost, "/items/i1/reanalyze", nil)
	testCode(t, req, http.StatusBadGateway)
}

func Test_Field_Updates(t *testing.T) {
	initTest(t)
	dbMock.On("ReplaceDocument", mock.Anything, mock.Anything).Return(true, nil)
	dbMock.On("MarkDataEdited", mock.Anything, "i1").Return(nil)
	req := newJSONRequest(t, http.MethodPost, "/items/i1/fields",
		fieldInput{CategoryIndex: 0, Field: "heart_rate", Value: 72.0})
	resp := testCode(t, req, http.StatusOK)
	res := test.Decode[itemResponse](t, resp.Result())
	assert.InDelta(t, 72.0, res.Document.Categories[0].Data["heart_rate"].(float64), 0.0001)
	assert.InDelta(t, 1.0, res.Document.Categories[0].FieldConfidences["heart_rate"], 0.0001)
	dbMock.AssertNumberOfCalls(t, "MarkDataEdited", 1)
}

func Test_Field_Unknown(t *testing.T) {
	initTest(t)
	req := newJSONRequest(t, http.MethodPost, "/items/i1/fields",
		fieldInput{CategoryIndex: 0, Field: "olia", Value: 72.0})
	testCode(t, req, http.StatusBadRequest)
}

func Test_Field_WrongIndex(t *testing.T) {
	initTest(t)
	req := newJSONRequest(t, http.MethodPost, "/items/i1/fields",
		fieldInput{CategoryIndex: 5, Field: "heart_rate", Value: 72.0})
	testCode(t, req, http.StatusBadRequest)
}

func Test_Field_ConcurrentEdits(t *testing.T) {
	initTest(t)
	dbMock.On("ReplaceDocument", mock.Anything, mock.Anything).Return(false, nil)
	req := newJSONRequest(t, http.MethodPost, "/items/i1/fields",
		fieldInput{CategoryIndex: 0, Field: "heart_rate", Value: 72.0})
	testCode(t, req, http.StatusConflict)
	dbMock.AssertNumberOfCalls(t, "ReplaceDocument", editRetryCount)
}

func Test_Confirm_Returns(t *testing.T) {
	initTest(t)
	committerMock.On("Commit", mock.Anything, mock.Anything, "user1").Return(nil)
	req := newJSONRequest(t, http.MethodPost, "/items/i1/confirm", nil)
	testCode(t, req, http.StatusOK)
	committerMock.AssertNumberOfCalls(t, "Commit", 1)
	senderMock.AssertNumberOfCalls(t, "SendMessage", 1)
}

func Test_Confirm_Terminal(t *testing.T) {
	initTest(t)
	committerMock.On("Commit", mock.Anything, mock.Anything, mock.Anything).
		Return(utils.NewErrTerminalState(persistence.RIConfirmed))
	req := newJSONRequest(t, http.MethodPost, "/items/i1/confirm", nil)
	testCode(t, req, http.StatusConflict)
	senderMock.AssertNumberOfCalls(t, "SendMessage", 0)
}

func Test_Confirm_ValidationFails(t *testing.T) {
	initTest(t)
	committerMock.On("Commit", mock.Anything, mock.Anything, mock.Anything).
		Return(utils.NewErrNonRetryable(fmt.Errorf("missing required field")))
	req := newJSONRequest(t, http.MethodPost, "/items/i1/confirm", nil)
	testCode(t, req, http.StatusBadRequest)
}

func Test_Confirm_Fails_BackToReview(t *testing.T) {
	initTest(t)
	committerMock.On("Commit", mock.Anything, mock.Anything, mock.Anything).Return(fmt.Errorf("olia"))
	dbMock.On("MarkInReview", mock.Anything, "i1").Return(nil)
	req := newJSONRequest(t, http.MethodPost, "/items/i1/confirm", nil)
	testCode(t, req, http.StatusInternalServerError)
	dbMock.AssertNumberOfCalls(t, "MarkInReview", 1)
}

func Test_Discard_Returns(t *testing.T) {
	initTest(t)
	dbMock.On("Discard", mock.Anything, "i1", "user1").Return(true, nil)
	req := newJSONRequest(t, http.MethodPost, "/items/i1/discard", nil)
	testCode(t, req, http.StatusOK)
}

func Test_Discard_Terminal(t *testing.T) {
	initTest(t)
	item := testItem()
	item.Status = persistence.RIConfirmed
	dbMock.ExpectedCalls = nil
	dbMock.On("Discard", mock.Anything, mock.Anything, mock.Anything).Return(false, nil)
	dbMock.On("LoadReviewItem", mock.Anything, mock.Anything).Return(item, nil)
	req := newJSONRequest(t, http.MethodPost, "/items/i1/discard", nil)
	testCode(t, req, http.StatusConflict)
}

func Test_Audio_NotFound(t *testing.T) {
	initTest(t)
	recDBMock.On("LoadRecording", mock.Anything, "r2").Return(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/audio/r2", nil)
	testCode(t, req, http.StatusNotFound)
}

func Test_Audio_NoFile(t *testing.T) {
	initTest(t)
	recDBMock.On("LoadRecording", mock.Anything, "r1").Return(&persistence.Recording{ID: "r1", AudioPath: "r1/olia.wav"}, nil)
	loaderMock.On("LoadFile", mock.Anything, "r1/olia.wav").Return(nil, minio.ErrorResponse{StatusCode: http.StatusNotFound})
	req := httptest.NewRequest(http.MethodGet, "/audio/r1", nil)
	testCode(t, req, http.StatusNotFound)
}

func Test_Audio(t *testing.T) {
	initTest(t)
	recDBMock.On("LoadRecording", mock.Anything, "r1").Return(&persistence.Recording{ID: "r1", AudioPath: "r1/olia.wav"}, nil)
	loaderMock.On("LoadFile", mock.Anything, "r1/olia.wav").Return(&testFileWrap{s: "audio"}, nil)
	req := httptest.NewRequest(http.MethodGet, "/audio/r1", nil)
	resp := testCode(t, req, http.StatusOK)
	assert.Equal(t, "inline; filename=olia.wav", resp.Header().Get("Content-Disposition"))
}

func Test_Audio_Download(t *testing.T) {
	initTest(t)
	recDBMock.On("LoadRecording", mock.Anything, "r1").Return(&persistence.Recording{ID: "r1", AudioPath: "r1/olia.wav"}, nil)
	loaderMock.On("LoadFile", mock.Anything, "r1/olia.wav").Return(&testFileWrap{s: "audio"}, nil)
	req := httptest.NewRequest(http.MethodGet, "/audio/r1?download=true", nil)
	resp := testCode(t, req, http.StatusOK)
	assert.Equal(t, "attachment; filename=olia.wav", resp.Header().Get("Content-Disposition"))
}

type testFileWrap struct {
	s string
}

// Read implements io.ReadSeekCloser
func (fw *testFileWrap) Read(p []byte) (n int, err error) {
	return strings.NewReader(fw.s).Read(p)
}

// Seek implements io.ReadSeekCloser
func (fw *testFileWrap) Seek(offset int64, whence int) (int64, error) {
	return strings.NewReader(fw.s).Seek(offset, whence)
}

// Close implements io.ReadSeekCloser
func (fw *testFileWrap) Close() error {
	return nil
}

func Test_validate(t *testing.T) {
	initTest(t)
	type args struct {
		data *Data
	}
	tests := []struct {
		name    string
		args    args
		wantErr bool
	}{
		{name: "OK", args: args{data: &Data{DB: dbMock, RecDB: recDBMock, Loader: loaderMock,
			Extractor: extractorMock, Committer: committerMock, MsgSender: senderMock}}, wantErr: false},
		{name: "No DB", args: args{data: &Data{RecDB: recDBMock, Loader: loaderMock,
			Extractor: extractorMock, Committer: committerMock, MsgSender: senderMock}}, wantErr: true},
		{name: "No committer", args: args{data: &Data{DB: dbMock, RecDB: recDBMock, Loader: loaderMock,
			Extractor: extractorMock, MsgSender: senderMock}}, wantErr: true},
		{name: "No sender", args: args{data: &Data{DB: dbMock, RecDB: recDBMock, Loader: loaderMock,
			Extractor: extractorMock, Committer: committerMock}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.args.data)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}
