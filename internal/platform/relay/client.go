// Package relay is the REST client for a gas-abstraction relay that submits
// sponsored contract calls on the oracle's behalf.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/marketoracle/internal/domain"
)

// Task states reported by the relay.
const (
	StateCheckPending    = "CheckPending"
	StateExecPending     = "ExecPending"
	StateWaitingForConf  = "WaitingForConfirmation"
	StateExecSuccess     = "ExecSuccess"
	StateExecReverted    = "ExecReverted"
	StateCancelled       = "Cancelled"
	StateNotFound        = "NotFound"
	sponsoredCallPath    = "/relays/v2/sponsored-call"
	taskStatusPathPrefix = "/tasks/status/"

	// HeaderIdempotencyKey makes a repeated create return the task already
	// registered under the same key.
	HeaderIdempotencyKey = "Idempotency-Key"
)

// HTTPError is a non-2xx relay response.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("relay: HTTP %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether the same request may succeed later.
func (e *HTTPError) Retryable() bool {
	return e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// Client talks to the relay API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a relay client. baseURL is the API root, e.g.
// "https://api.gelato.digital".
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type sponsoredCallRequest struct {
	ChainID       string `json:"chainId"`
	Target        string `json:"target"`
	Data          string `json:"data"`
	SponsorAPIKey string `json:"sponsorApiKey"`
}

type sponsoredCallResponse struct {
	TaskID string `json:"taskId"`
}

// TaskStatus is the relay's view of one task.
type TaskStatus struct {
	TaskID           string `json:"taskId"`
	ChainID          int64  `json:"chainId"`
	TaskState        string `json:"taskState"`
	TransactionHash  string `json:"transactionHash"`
	BlockNumber      uint64 `json:"blockNumber"`
	LastCheckMessage string `json:"lastCheckMessage"`
}

// Status maps the relay task state onto the oracle's RelayStatus.
func (s TaskStatus) Status() domain.RelayStatus {
	switch s.TaskState {
	case StateExecSuccess:
		return domain.RelayExecuted
	case StateExecReverted:
		return domain.RelayFailed
	case StateCancelled:
		return domain.RelayCancelled
	default:
		return domain.RelayPending
	}
}

// CreateTask submits a sponsored call of data against target and returns the
// task id. A non-empty idempotencyKey is sent so a create retried after an
// ambiguous failure resolves to the original task.
func (c *Client) CreateTask(ctx context.Context, chainID int64, target string, data []byte, idempotencyKey string) (string, error) {
	body, err := json.Marshal(sponsoredCallRequest{
		ChainID:       strconv.FormatInt(chainID, 10),
		Target:        target,
		Data:          hexutil.Encode(data),
		SponsorAPIKey: c.apiKey,
	})
	if err != nil {
		return "", fmt.Errorf("relay: encode request: %w", err)
	}
	var headers map[string]string
	if idempotencyKey != "" {
		headers = map[string]string{HeaderIdempotencyKey: idempotencyKey}
	}
	raw, err := c.do(ctx, http.MethodPost, sponsoredCallPath, body, headers)
	if err != nil {
		return "", fmt.Errorf("relay: create task: %w", err)
	}
	var resp sponsoredCallResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("relay: decode task: %w", err)
	}
	if resp.TaskID == "" {
		return "", fmt.Errorf("relay: create task: empty task id")
	}
	return resp.TaskID, nil
}

// GetTask returns the current state of taskID.
func (c *Client) GetTask(ctx context.Context, taskID string) (TaskStatus, error) {
	raw, err := c.do(ctx, http.MethodGet, taskStatusPathPrefix+url.PathEscape(taskID), nil, nil)
	if err != nil {
		return TaskStatus{}, fmt.Errorf("relay: get task %s: %w", taskID, err)
	}
	var resp struct {
		Task TaskStatus `json:"task"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return TaskStatus{}, fmt.Errorf("relay: decode task status: %w", err)
	}
	if resp.Task.TaskID == "" {
		resp.Task.TaskID = taskID
	}
	return resp.Task, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, headers map[string]string) ([]byte, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}
