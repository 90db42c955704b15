package enhance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// JobStatus is the provider-reported state of a transformation job.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

// SubmitRequest describes one transformation.
type SubmitRequest struct {
	SourceURL   string `json:"source_url"`
	Instruction string `json:"instruction"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
	Fit         string `json:"fit,omitempty"`
}

// PollResult is one observation of a provider job. Progress is nil when the
// provider does not report it.
type PollResult struct {
	Status    JobStatus `json:"status"`
	Progress  *float64  `json:"progress,omitempty"`
	OutputURL string    `json:"output_url,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Provider is the asynchronous enhancement API.
type Provider interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
	Poll(ctx context.Context, jobID string) (*PollResult, error)
	Fetch(ctx context.Context, outputURL string) ([]byte, string, error)
}

type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
	// MaxFetchBytes caps downloaded outputs; zero means 50 MiB.
	MaxFetchBytes int64
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	maxFetch   int64
}

func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	maxFetch := opts.MaxFetchBytes
	if maxFetch <= 0 {
		maxFetch = 50 << 20
	}
	return &Client{
		httpClient: client,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      strings.TrimSpace(opts.APIKey),
		maxFetch:   maxFetch,
	}
}

type submitResp struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

type errorResp struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (c *Client) Submit(ctx context.Context, in SubmitRequest) (string, error) {
	if err := c.ready(); err != nil {
		return "", err
	}
	if strings.TrimSpace(in.SourceURL) == "" {
		return "", errors.New("enhance: source url required")
	}
	body, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/jobs", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	var out submitResp
	if err := c.do(req, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.ID) == "" {
		return "", errors.New("enhance: missing job id")
	}
	return out.ID, nil
}

func (c *Client) Poll(ctx context.Context, jobID string) (*PollResult, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/jobs/"+url.PathEscape(jobID), nil)
	if err != nil {
		return nil, err
	}
	var out PollResult
	if err := c.do(req, &out); err != nil {
		return nil, err
	}
	out.Status = JobStatus(strings.ToLower(strings.TrimSpace(string(out.Status))))
	return &out, nil
}

// Fetch downloads a finished output.
func (c *Client) Fetch(ctx context.Context, outputURL string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, outputURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, "", fmt.Errorf("enhance: fetch output: http %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxFetch+1))
	if err != nil {
		return nil, "", err
	}
	if int64(len(data)) > c.maxFetch {
		return nil, "", errors.New("enhance: output exceeds size limit")
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) ready() error {
	if c == nil || c.baseURL == "" {
		return errors.New("enhance client not configured")
	}
	if c.token == "" {
		return errors.New("enhance: API key is missing")
	}
	return nil
}

func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var e errorResp
		if json.Unmarshal(raw, &e) == nil && e.Message != "" {
			return fmt.Errorf("enhance error: %s (%s)", e.Message, e.Code)
		}
		return fmt.Errorf("enhance: http %d", resp.StatusCode)
	}
	return json.Unmarshal(raw, out)
}

var _ Provider = (*Client)(nil)
