package extractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/airenas/go-app/pkg/goapp"
	"github.com/carevox/carevox/internal/pkg/schema"
	"github.com/carevox/carevox/internal/pkg/utils"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/semaphore"
)

// Client communicates with the language-extraction engine
type Client struct {
	httpclient *http.Client
	url        string
	timeout    time.Duration
	backoff    func() backoff.BackOff
	sem        *semaphore.Weighted
}

// NewClient creates an extraction engine client
func NewClient(url string, concurrency int64) (*Client, error) {
	if url == "" {
		return nil, fmt.Errorf("no extractor URL")
	}
	if concurrency < 1 {
		return nil, fmt.Errorf("wrong concurrency %d", concurrency)
	}
	res := Client{}
	res.url = url
	res.timeout = time.Second * 60
	res.httpclient = extractorHTTPClient()
	res.backoff = newSimpleBackoff
	res.sem = semaphore.NewWeighted(concurrency)
	return &res, nil
}

type extractRequest struct {
	Text     string            `json:"text"`
	Language string            `json:"language,omitempty"`
	Hints    map[string]string `json:"hints,omitempty"`
}

type extractResponse struct {
	Document     *schema.Document `json:"document"`
	ModelVersion string           `json:"modelVersion"`
	ProcessingMs int64            `json:"processingMs"`
}

// Extract sends a transcript to the engine and validates the returned
// document against the extraction schema. A schema-violating response
// is returned as a non retryable error with the raw body preserved
func (sp *Client) Extract(ctx context.Context, in *Input) (*Output, error) {
	if err := sp.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("can't acquire engine slot: %w", err)
	}
	defer sp.sem.Release(1)

	reqBody, err := json.Marshal(extractRequest{Text: in.Text, Language: in.Language, Hints: in.Hints})
	if err != nil {
		return nil, fmt.Errorf("can't marshal request: %w", err)
	}
	return goapp.InvokeWithBackoff(ctx, func() (*Output, bool, error) {
		ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
		defer cancelF()
		req, err := http.NewRequest(http.MethodPost, sp.url+"/extract", bytes.NewReader(reqBody))
		if err != nil {
			return nil, false, err
		}
		req.Header.Set("Content-Type", "application/json")
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
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, goapp.IsRetryableErr(err), fmt.Errorf("can't read body: %w", err)
		}
		var respData extractResponse
		if err := json.Unmarshal(raw, &respData); err != nil {
			// keep the unparseable body for the audit trail
			return &Output{Raw: string(raw)}, false, utils.NewErrNonRetryable(fmt.Errorf("can't unmarshal '%s': %w",
				goapp.Sanitize(limit(string(raw), 200)), err))
		}
		res := &Output{Document: respData.Document, ModelVersion: respData.ModelVersion,
			ProcessingMs: respData.ProcessingMs, Raw: string(raw)}
		if err := schema.ValidateDocument(res.Document); err != nil {
			return res, false, utils.NewErrNonRetryable(fmt.Errorf("schema violation: %w", err))
		}
		return res, false, nil
	}, sp.backoff())
}

type translateRequest struct {
	Text string `json:"text"`
	From string `json:"from,omitempty"`
	To   string `json:"to"`
}

type translateResponse struct {
	Text string `json:"text"`
}

// Translate projects a transcript into another language
func (sp *Client) Translate(ctx context.Context, text, fromLang, toLang string) (string, error) {
	if err := sp.sem.Acquire(ctx, 1); err != nil {
		return "", fmt.Errorf("can't acquire engine slot: %w", err)
	}
	defer sp.sem.Release(1)

	reqBody, err := json.Marshal(translateRequest{Text: text, From: fromLang, To: toLang})
	if err != nil {
		return "", fmt.Errorf("can't marshal request: %w", err)
	}
	return goapp.InvokeWithBackoff(ctx, func() (string, bool, error) {
		ctx, cancelF := context.WithTimeout(ctx, sp.timeout)
		defer cancelF()
		req, err := http.NewRequest(http.MethodPost, sp.url+"/translate", bytes.NewReader(reqBody))
		if err != nil {
			return "", false, err
		}
		req.Header.Set("Content-Type", "application/json")
		req = req.WithContext(ctx)
		resp, err := sp.httpclient.Do(req)
		if err != nil {
			return "", goapp.IsRetryableErr(err), fmt.Errorf("can't call: %w", err)
		}
		defer func() {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 10000))
			_ = resp.Body.Close()
		}()
		if err := goapp.ValidateHTTPResp(resp, 100); err != nil {
			err = fmt.Errorf("can't invoke '%s': %w", req.URL.String(), err)
			return "", goapp.IsRetryableCode(resp.StatusCode), err
		}
		var respData translateResponse
		if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
			return "", false, utils.NewErrNonRetryable(fmt.Errorf("can't unmarshal: %w", err))
		}
		return respData.Text, false, nil
	}, sp.backoff())
}

func limit(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}

func extractorHTTPClient() *http.Client {
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
