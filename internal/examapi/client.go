// Package examapi is the HTTP client for the external session, answer and
// grading collaborator. All durable state in the system lives behind this
// API; the engine only keeps in-memory working state plus a Redis recovery
// cache.
package examapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/examflow/internal/model"
)

// API is the collaborator surface consumed by the engine.
type API interface {
	// CreateSession starts a new attempt. Fails with NOT_YET_OPEN,
	// ALREADY_CLOSED or ALREADY_SUBMITTED coded errors.
	CreateSession(ctx context.Context, examID, paperID uuid.UUID, userID int) (*model.ExamSession, error)

	// GetPaper fetches the immutable exam paper, once per session start.
	GetPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error)

	// SaveAnswer persists one answer. Safe to repeat with the same sequence;
	// the server discards sequences lower than one it already recorded.
	SaveAnswer(ctx context.Context, sessionID uuid.UUID, answer model.UserAnswer) error

	// SubmitExam finalizes the attempt. Safe to repeat with the same
	// idempotency key; returns the same result each time after the first
	// successful submission.
	SubmitExam(ctx context.Context, sessionID uuid.UUID, idempotencyKey string, payload model.SubmissionPayload) (*model.ExamResult, error)

	// GetResult recovers the graded result, e.g. after a reload
	// mid-submission.
	GetResult(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error)

	// GetRemainingTime returns the server's view of the session countdown,
	// used to resync the local baseline on drift.
	GetRemainingTime(ctx context.Context, sessionID uuid.UUID) (time.Duration, error)
}

// Client implements API over HTTP.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates a Client for the collaborator at baseURL. token is the
// service-to-service bearer token; empty disables the Authorization header.
func NewClient(baseURL, token string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "examapi_client").Logger(),
	}
}

// envelope matches the collaborator's response shape.
type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    ErrCode `json:"code"`
		Message string  `json:"message"`
	} `json:"error,omitempty"`
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var env envelope
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			// Non-JSON bodies (proxies, gateways) become plain status errors.
			if resp.StatusCode >= 400 {
				return &APIError{StatusCode: resp.StatusCode, Code: CodeInternal, Message: http.StatusText(resp.StatusCode)}
			}
			return fmt.Errorf("decode response: %w", err)
		}
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Code: CodeInternal, Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}

	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode data: %w", err)
		}
	}
	return nil
}

type createSessionRequest struct {
	ExamID  uuid.UUID `json:"exam_id"`
	PaperID uuid.UUID `json:"paper_id"`
	UserID  int       `json:"user_id"`
}

// CreateSession implements API.
func (c *Client) CreateSession(ctx context.Context, examID, paperID uuid.UUID, userID int) (*model.ExamSession, error) {
	var session model.ExamSession
	req := createSessionRequest{ExamID: examID, PaperID: paperID, UserID: userID}
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", nil, req, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetPaper implements API.
func (c *Client) GetPaper(ctx context.Context, examID uuid.UUID) (*model.ExamPaper, error) {
	var paper model.ExamPaper
	if err := c.do(ctx, http.MethodGet, "/v1/exams/"+examID.String()+"/paper", nil, nil, &paper); err != nil {
		return nil, err
	}
	return &paper, nil
}

// SaveAnswer implements API.
func (c *Client) SaveAnswer(ctx context.Context, sessionID uuid.UUID, answer model.UserAnswer) error {
	path := "/v1/sessions/" + sessionID.String() + "/answers/" + answer.QuestionID.String()
	return c.do(ctx, http.MethodPut, path, nil, answer, nil)
}

// SubmitExam implements API.
func (c *Client) SubmitExam(ctx context.Context, sessionID uuid.UUID, idempotencyKey string, payload model.SubmissionPayload) (*model.ExamResult, error) {
	var result model.ExamResult
	headers := map[string]string{"Idempotency-Key": idempotencyKey}
	path := "/v1/sessions/" + sessionID.String() + "/submit"
	if err := c.do(ctx, http.MethodPost, path, headers, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetResult implements API.
func (c *Client) GetResult(ctx context.Context, sessionID uuid.UUID) (*model.ExamResult, error) {
	var result model.ExamResult
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+sessionID.String()+"/result", nil, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type remainingTimeResponse struct {
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// GetRemainingTime implements API.
func (c *Client) GetRemainingTime(ctx context.Context, sessionID uuid.UUID) (time.Duration, error) {
	var out remainingTimeResponse
	if err := c.do(ctx, http.MethodGet, "/v1/sessions/"+sessionID.String()+"/remaining", nil, nil, &out); err != nil {
		return 0, err
	}
	return time.Duration(out.RemainingSeconds * float64(time.Second)), nil
}
