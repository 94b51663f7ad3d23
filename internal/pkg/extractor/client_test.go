package extractor

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/carevox/carevox/internal/pkg/schema"
	"github.com/carevox/carevox/internal/pkg/test"
	"github.com/carevox/carevox/internal/pkg/utils"
	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"
)

func initTestServer(t *testing.T, code int, resp string) (*Client, *[]string) {
	t.Helper()
	calls := make([]string, 0)
	cLock := &sync.Mutex{}
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		cLock.Lock()
		defer cLock.Unlock()
		calls = append(calls, req.URL.String())
		rw.WriteHeader(code)
		_, _ = rw.Write([]byte(resp))
	}))
	t.Cleanup(func() { server.Close() })
	cl := Client{}
	cl.httpclient = server.Client()
	cl.url = server.URL
	cl.timeout = time.Second * 5
	cl.sem = semaphore.NewWeighted(2)
	cl.backoff = func() backoff.BackOff {
		return &backoff.StopBackOff{}
	}
	return &cl, &calls
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("http://olia:8000", 4)
	assert.Nil(t, err)
	assert.NotNil(t, c)
}

func TestNewClient_Fail(t *testing.T) {
	_, err := NewClient("", 4)
	assert.NotNil(t, err)
	_, err = NewClient("http://olia:8000", 0)
	assert.NotNil(t, err)
}

func TestExtract(t *testing.T) {
	cl, calls := initTestServer(t, http.StatusOK,
		`{"document":{"categories":[{"type":"vitals","confidence":0.9,
			"data":{"temperature":36.5},"fieldConfidences":{"temperature":0.95}}],
			"overallConfidence":0.9},"modelVersion":"v1.2","processingMs":350}`)
	res, err := cl.Extract(test.Ctx(t), &Input{Text: "temperature 36.5", Language: "en"})
	require.Nil(t, err)
	assert.Equal(t, "v1.2", res.ModelVersion)
	assert.Equal(t, int64(350), res.ProcessingMs)
	require.Equal(t, 1, len(res.Document.Categories))
	assert.Equal(t, schema.Vitals, res.Document.Categories[0].Type)
	assert.NotEmpty(t, res.Raw)
	require.Equal(t, 1, len(*calls))
	assert.Equal(t, "/extract", (*calls)[0])
}

func TestExtract_EmptyCategories(t *testing.T) {
	cl, _ := initTestServer(t, http.StatusOK,
		`{"document":{"categories":[],"overallConfidence":0},"modelVersion":"v1.2"}`)
	res, err := cl.Extract(test.Ctx(t), &Input{Text: "olia"})
	require.Nil(t, err)
	assert.Empty(t, res.Document.Categories)
}

func TestExtract_SchemaViolation_NonRetryable(t *testing.T) {
	cl, _ := initTestServer(t, http.StatusOK,
		`{"document":{"categories":[{"type":"olia","confidence":0.9}],"overallConfidence":0.9}}`)
	_, err := cl.Extract(test.Ctx(t), &Input{Text: "olia"})
	require.NotNil(t, err)
	assert.True(t, utils.IsNonRetryable(err))
}

func TestExtract_BadConfidence_NonRetryable(t *testing.T) {
	cl, _ := initTestServer(t, http.StatusOK,
		`{"document":{"categories":[{"type":"vitals","confidence":1.9}],"overallConfidence":0.9}}`)
	_, err := cl.Extract(test.Ctx(t), &Input{Text: "olia"})
	require.NotNil(t, err)
	assert.True(t, utils.IsNonRetryable(err))
}

func TestExtract_BadJSON_NonRetryable(t *testing.T) {
	cl, _ := initTestServer(t, http.StatusOK, `{olia`)
	out, err := cl.Extract(test.Ctx(t), &Input{Text: "olia"})
	require.NotNil(t, err)
	assert.True(t, utils.IsNonRetryable(err))
	require.NotNil(t, out)
	assert.Equal(t, `{olia`, out.Raw)
}

func TestExtract_SchemaViolation_KeepsRaw(t *testing.T) {
	cl, _ := initTestServer(t, http.StatusOK,
		`{"document":{"categories":[{"type":"olia","confidence":0.9}],"overallConfidence":0.9}}`)
	out, err := cl.Extract(test.Ctx(t), &Input{Text: "olia"})
	require.NotNil(t, err)
	require.NotNil(t, out)
	assert.Contains(t, out.Raw, `"type":"olia"`)
}

func TestExtract_HTTPFail(t *testing.T) {
	cl, _ := initTestServer(t, http.StatusInternalServerError, "")
	_, err := cl.Extract(test.Ctx(t), &Input{Text: "olia"})
	assert.NotNil(t, err)
}

func TestTranslate(t *testing.T) {
	cl, calls := initTestServer(t, http.StatusOK, `{"text":"olia translated"}`)
	res, err := cl.Translate(test.Ctx(t), "olia", "ja", "en")
	require.Nil(t, err)
	assert.Equal(t, "olia translated", res)
	require.Equal(t, 1, len(*calls))
	assert.Equal(t, "/translate", (*calls)[0])
}

func TestTranslate_Fail(t *testing.T) {
	cl, _ := initTestServer(t, http.StatusBadRequest, "")
	_, err := cl.Translate(test.Ctx(t), "olia", "ja", "en")
	assert.NotNil(t, err)
}
