package transcriber

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	tapi "github.com/carevox/carevox/internal/pkg/transcriber/api"
	"github.com/carevox/carevox/internal/pkg/utils"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
)

// Client communicates with the speech-to-text engine
type Client struct {
	httpclient *http.Client
	url        string
	timeout    time.Duration
	backoff    func() backoff.BackOff
	// admission window: bounds concurrent calls to the engine,
	// excess work waits instead of failing
	sem *semaphore.Weighted
}

// NewClient creates a transcription engine client
func NewClient(url string, concurrency int64) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("no transcriber URL")
	}
	if concurrency < 1 {
		return nil, fmt.Errorf("wrong concurrency %d", concurrency)
	}
	res := Client{}
	res.url = url
	res.timeout = time.Second * 90
	res.httpclient = sttHTTPClient()
	res.backoff = newSimpleBackoff
	res.sem = semaphore.NewWeighted(concurrency)
	return &res, nil
}

type transcribeResponse struct {
	Status   string         `json:"status"`
	Language string         `json:"language"`
	Duration float64        `json:"duration"`
	FullText string         `json:"full_text"`
	Segments []tapi.Segment `json:"segments"`
	Error    string         `json:"error,omitempty"`
}

// Transcribe sends audio to the engine and waits for the result.
// Audio must be buffered by the caller if the call may be retried
func (sp *Client) Transcribe(ctx context.Context, in *tapi.TranscribeInput) (*tapi.Result, error) {
	if err := sp.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("can't acquire engine slot: %w", err)
	}
	defer sp.sem.Release(1)

	audio, err := io.ReadAll(in.Audio)
	if err != nil {
		return nil, fmt.Errorf("can't read audio: %w", err)
	}

	return goapp.InvokeWithBackoff(ctx, func() (*tapi.Result, bool, error) {
		body := &bytes.Buffer{}
		writer := multipart.NewWriter(body)
		part, err := writer.CreateFormFile("file", in.FileName)
		if err != nil {
			return nil, false, fmt.Errorf("can't add file to request: %w", err)
		}
		if _, err := part.Write(audio); err != nil {
			return nil, false, fmt.Errorf("can't add file content to request: %w", err)
		}
		if in.LangHint != "" {
			if err := writer.WriteField("language", in.LangHint); err != nil {
				return nil, false, fmt.Errorf("can't add param: %w", err)
			}
		}
		_ = writer.Close()

		ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
		defer cancelF()
		req, err := http.NewRequest(http.MethodPost, sp.url+"/transcribe", body)
		if err != nil {
			return nil, false, err
		}
		req.Header.Set("Content-Type", writer.FormDataContentType())
		req = req.WithContext(ctx)
		goapp.Log.Info().Str("url", req.URL.String()).Str("method", req.Method).Msg("call")
		resp, err := sp.httpclient.Do(req)
		if err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
			_ = resp.Body.Close()
		}()
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
			return nil, goapp.IsRetryableCode(resp.StatusCode), err
		}
		var respData transcribeResponse
		if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
			return nil, false, utils.NewErrNonRetryable(fmt.Errorf("can't unmarshal: %w", err))
		}
		if respData.Status != "success" {
			// the engine reports failures in a 200 body
			return nil, false, fmt.Errorf("engine error: %s", respData.Error)
		}
		return &tapi.Result{Text: respData.FullText, Language: respData.Language,
			Duration: respData.Duration, Segments: respData.Segments}, false, nil
	}, sp.backoff())
}

func sttHTTPClient() *http.Client {
	return &http.Client{Transport: &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   time.Second * 5,
			KeepAlive: time.Second * 30,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     time.Second * 90,
		TLSHandshakeTimeout: time.Second * 10,
	}}
}

func newSimpleBackoff() backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2)
}
