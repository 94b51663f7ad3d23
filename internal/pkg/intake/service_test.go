package intake

import (
	"bytes"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/carevox/carevox/internal/pkg/messages"
	"github.com/carevox/carevox/internal/pkg/persistence"
	"github.com/carevox/carevox/internal/pkg/test"
	"github.com/carevox/carevox/internal/pkg/test/mocks"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	saverMock  *mocks.Filer
	dbMock     *mocks.DB
	senderMock *mocks.Sender
	tData      *Data
	tEcho      *echo.Echo
	tResp      *httptest.ResponseRecorder
)

func initTest(t *testing.T) {
	saverMock = &mocks.Filer{}
	dbMock = &mocks.DB{}
	senderMock = &mocks.Sender{}
	tData = &Data{}
	tData.Saver = saverMock
	tData.DB = dbMock
	tData.MsgSender = senderMock
	tData.RetrySecret = "secret"
	tEcho = initRoutes(tData)
	tResp = httptest.NewRecorder()
	saverMock.On("SaveFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	dbMock.On("InsertRecording", mock.Anything, mock.Anything).Return(nil)
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func testCode(t *testing.T, req *http.Request, code int) *httptest.ResponseRecorder {
	t.Helper()
	tEcho.ServeHTTP(tResp, req)
	require.Equal(t, code, tResp.Code)
	return tResp
}

func newTestRequest(t *testing.T, file string, params [][2]string) *http.Request {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if file != "" {
		part, err := writer.CreateFormFile(prmFile, file)
		require.Nil(t, err)
		_, _ = part.Write([]byte("olia"))
	}
	for _, p := range params {
		require.Nil(t, writer.WriteField(p[0], p[1]))
	}
	require.Nil(t, writer.Close())
	req := httptest.NewRequest(http.MethodPost, "/recordings", body)
	req.Header.Set(echo.HeaderContentType, writer.FormDataContentType())
	return req
}

func patientParams() [][2]string {
	return [][2]string{{prmContext, "patient"}, {prmPatientID, "p1"}, {prmRecordedBy, "nurse1"}}
}

func TestWrongPath(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/invalid", nil)
	testCode(t, req, 404)
}

func TestWrongMethod(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/recordings", nil)
	testCode(t, req, 405)
}

func Test_Live(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodGet, "/live", nil)
	testCode(t, req, 200)
}

func Test_Upload_Returns(t *testing.T) {
	initTest(t)
	req := newTestRequest(t, "rec.wav", patientParams())
	resp := testCode(t, req, http.StatusOK)
	res := test.Decode[result](t, resp.Result())
	assert.NotEmpty(t, res.ID)
	rec := mocks.To[*persistence.Recording](dbMock.Calls[0].Arguments[1])
	assert.Equal(t, "p1", rec.PatientID.String)
	assert.Equal(t, "nurse1", rec.RecordedBy)
	assert.Equal(t, rec.ID+"/rec.wav", rec.AudioPath)
	msg := mocks.To[*messages.ProcessMessage](senderMock.Calls[0].Arguments[1])
	assert.Equal(t, rec.ID, msg.ID)
	assert.Equal(t, messages.Process, senderMock.Calls[0].Arguments[2])
}

func Test_Upload_GlobalContext(t *testing.T) {
	initTest(t)
	req := newTestRequest(t, "rec.mp3", [][2]string{{prmContext, "global"}, {prmRecordedBy, "nurse1"}})
	testCode(t, req, http.StatusOK)
	rec := mocks.To[*persistence.Recording](dbMock.Calls[0].Arguments[1])
	assert.False(t, rec.PatientID.Valid)
}

func Test_Upload_400(t *testing.T) {
	tests := []struct {
		name   string
		file   string
		params [][2]string
	}{
		{name: "no file", file: "", params: patientParams()},
		{name: "wrong ext", file: "rec.txt", params: patientParams()},
		{name: "bad name", file: "re%%c.wav", params: patientParams()},
		{name: "no context", file: "rec.wav", params: [][2]string{{prmRecordedBy, "nurse1"}}},
		{name: "wrong context", file: "rec.wav", params: [][2]string{{prmContext, "olia"},
			{prmRecordedBy, "nurse1"}}},
		{name: "patient without id", file: "rec.wav", params: [][2]string{{prmContext, "patient"},
			{prmRecordedBy, "nurse1"}}},
		{name: "global with patient", file: "rec.wav", params: [][2]string{{prmContext, "global"},
			{prmPatientID, "p1"}, {prmRecordedBy, "nurse1"}}},
		{name: "no recordedBy", file: "rec.wav", params: [][2]string{{prmContext, "patient"},
			{prmPatientID, "p1"}}},
		{name: "wrong duration", file: "rec.wav", params: append(patientParams(),
			[2]string{prmDuration, "olia"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			initTest(t)
			req := newTestRequest(t, tt.file, tt.params)
			testCode(t, req, http.StatusBadRequest)
			dbMock.AssertNumberOfCalls(t, "InsertRecording", 0)
		})
	}
}

func Test_Upload_Fails_DB(t *testing.T) {
	initTest(t)
	dbMock.ExpectedCalls = nil
	dbMock.On("InsertRecording", mock.Anything, mock.Anything).Return(fmt.Errorf("olia"))
	req := newTestRequest(t, "rec.wav", patientParams())
	testCode(t, req, http.StatusInternalServerError)
}

func Test_Upload_Fails_Saver(t *testing.T) {
	initTest(t)
	saverMock.ExpectedCalls = nil
	saverMock.On("SaveFile", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(fmt.Errorf("olia"))
	req := newTestRequest(t, "rec.wav", patientParams())
	testCode(t, req, http.StatusInternalServerError)
}

func Test_Upload_Fails_Sender(t *testing.T) {
	initTest(t)
	senderMock.ExpectedCalls = nil
	senderMock.On("SendMessage", mock.Anything, mock.Anything, mock.Anything).Return(fmt.Errorf("olia"))
	req := newTestRequest(t, "rec.wav", patientParams())
	testCode(t, req, http.StatusInternalServerError)
}

func Test_Retry_Returns(t *testing.T) {
	initTest(t)
	dbMock.On("LoadRecording", mock.Anything, "id1").Return(&persistence.Recording{ID: "id1",
		RequestID: "rID"}, nil)
	dbMock.On("MarkPending", mock.Anything, "id1").Return(nil)
	req := httptest.NewRequest(http.MethodPost, "/retry/secret/id1", nil)
	testCode(t, req, http.StatusOK)
	msg := mocks.To[*messages.ProcessMessage](senderMock.Calls[0].Arguments[1])
	assert.Equal(t, "rID", msg.RequestID)
}

func Test_Retry_NotFound(t *testing.T) {
	initTest(t)
	dbMock.On("LoadRecording", mock.Anything, mock.Anything).Return(nil, nil)
	req := httptest.NewRequest(http.MethodPost, "/retry/secret/id2", nil)
	testCode(t, req, http.StatusNotFound)
}

func Test_Retry_WrongSecret(t *testing.T) {
	initTest(t)
	req := httptest.NewRequest(http.MethodPost, "/retry/olia/id1", nil)
	testCode(t, req, http.StatusNotFound)
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
		{name: "OK", args: args{data: &Data{Saver: saverMock, DB: dbMock, MsgSender: senderMock}},
			wantErr: false},
		{name: "No saver", args: args{data: &Data{DB: dbMock, MsgSender: senderMock}}, wantErr: true},
		{name: "No DB", args: args{data: &Data{Saver: saverMock, MsgSender: senderMock}}, wantErr: true},
		{name: "No sender", args: args{data: &Data{Saver: saverMock, DB: dbMock}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.args.data)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}
