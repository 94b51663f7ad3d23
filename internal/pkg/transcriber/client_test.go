package transcriber

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/carevox/carevox/internal/pkg/test"
	tapi "github.com/carevox/carevox/internal/pkg/transcriber/api"
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

func TestTranscribe(t *testing.T) {
	cl, calls := initTestServer(t, http.StatusOK,
		`{"status":"success","language":"en","duration":5.2,"full_text":"blood pressure 120 over 80",
		"segments":[{"start":0,"end":5.2,"text":"blood pressure 120 over 80","confidence":0.93}]}`)
	res, err := cl.Transcribe(test.Ctx(t), &tapi.TranscribeInput{FileName: "olia.wav",
		Audio: strings.NewReader("audio"), LangHint: "en"})
	require.Nil(t, err)
	assert.Equal(t, "blood pressure 120 over 80", res.Text)
	assert.Equal(t, "en", res.Language)
	assert.Equal(t, 5.2, res.Duration)
	require.Equal(t, 1, len(res.Segments))
	assert.Equal(t, 0.93, res.Segments[0].Confidence)
	require.Equal(t, 1, len(*calls))
	assert.Equal(t, "/transcribe", (*calls)[0])
}

func TestTranscribe_EngineError(t *testing.T) {
	cl, _ := initTestServer(t, http.StatusOK, `{"status":"error","error":"malformed audio"}`)
	_, err := cl.Transcribe(test.Ctx(t), &tapi.TranscribeInput{FileName: "olia.wav",
		Audio: strings.NewReader("audio")})
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "malformed audio")
}

func TestTranscribe_HTTPFail(t *testing.T) {
	cl, _ := initTestServer(t, http.StatusInternalServerError, "")
	_, err := cl.Transcribe(test.Ctx(t), &tapi.TranscribeInput{FileName: "olia.wav",
		Audio: strings.NewReader("audio")})
	assert.NotNil(t, err)
}

func TestTranscribe_BoundsConcurrency(t *testing.T) {
	inFlight, maxInFlight := int32(0), int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, req *http.Request) {
		v := atomic.AddInt32(&inFlight, 1)
		defer atomic.AddInt32(&inFlight, -1)
		for {
			old := atomic.LoadInt32(&maxInFlight)
			if v <= old || atomic.CompareAndSwapInt32(&maxInFlight, old, v) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		_, _ = rw.Write([]byte(`{"status":"success","language":"en","full_text":"olia"}`))
	}))
	t.Cleanup(func() { server.Close() })
	cl := Client{httpclient: server.Client(), url: server.URL, timeout: time.Second * 5,
		sem: semaphore.NewWeighted(1), backoff: func() backoff.BackOff { return &backoff.StopBackOff{} }}

	wg := sync.WaitGroup{}
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := cl.Transcribe(test.Ctx(t), &tapi.TranscribeInput{FileName: "olia.wav",
				Audio: strings.NewReader("audio")})
			assert.Nil(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
}

func TestTranscribe_BadJSON(t *testing.T) {
	cl, _ := initTestServer(t, http.StatusOK, `{olia`)
	_, err := cl.Transcribe(test.Ctx(t), &tapi.TranscribeInput{FileName: "olia.wav",
		Audio: strings.NewReader("audio")})
	assert.NotNil(t, err)
}
