// Package client provides a typed Go client for the support-widget API and a
// Poller implementing the widget's reply synchronization protocol. It is used
// by cmd/chatcli and is suitable for programmatic embedding.
package client

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

	"github.com/tbourn/go-support-widget/internal/domain"
)

// APIError is a non-2xx response decoded from the server's error envelope.
type APIError struct {
	Status    int    `json:"-"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d code=%s message=%s", e.Status, e.Code, e.Message)
}

// Client is a thin HTTP wrapper around the widget API. The zero value is not
// usable; construct with New.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// New returns a Client for the API rooted at baseURL (including the
// /api/v1 prefix, e.g. "http://localhost:8080/api/v1"). A nil httpc falls
// back to a client with a 15s timeout.
func New(baseURL string, httpc *http.Client) *Client {
	if httpc == nil {
		httpc = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   httpc,
	}
}

// CreateSession creates a session, or returns the existing one when
// sessionID is already known to the server. created reports which case
// happened. Empty sessionID lets the server mint the id.
func (c *Client) CreateSession(ctx context.Context, sessionID, originWebsite string) (s *domain.Session, created bool, err error) {
	body := map[string]string{}
	if sessionID != "" {
		body["session_id"] = sessionID
	}
	if originWebsite != "" {
		body["origin_website"] = originWebsite
	}
	var out domain.Session
	status, err := c.do(ctx, http.MethodPost, "/sessions", nil, body, &out)
	if err != nil {
		return nil, false, err
	}
	return &out, status == http.StatusCreated, nil
}

// GetSession fetches a session by id.
func (c *Client) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	var out domain.Session
	if _, err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(sessionID), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type submitMessageResponse struct {
	Message domain.Message `json:"message"`
}

// SubmitMessage posts a user message and returns the created pending record.
// A non-empty idempotencyKey is sent as the Idempotency-Key header so retries
// of the same logical send do not duplicate the message.
func (c *Client) SubmitMessage(ctx context.Context, sessionID, content, idempotencyKey string) (*domain.Message, error) {
	var hdr http.Header
	if idempotencyKey != "" {
		hdr = http.Header{"Idempotency-Key": []string{idempotencyKey}}
	}
	var out submitMessageResponse
	path := "/sessions/" + url.PathEscape(sessionID) + "/messages"
	if _, err := c.do(ctx, http.MethodPost, path, hdr, map[string]string{"content": content}, &out); err != nil {
		return nil, err
	}
	return &out.Message, nil
}

type pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
}

type listMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination pagination       `json:"pagination"`
}

// ListMessages fetches one page of a session's messages, oldest first.
func (c *Client) ListMessages(ctx context.Context, sessionID string, page, pageSize int) ([]domain.Message, int, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		q.Set("page_size", strconv.Itoa(pageSize))
	}
	path := "/sessions/" + url.PathEscape(sessionID) + "/messages"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	var out listMessagesResponse
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, 0, err
	}
	return out.Messages, out.Pagination.TotalPages, nil
}

// ListAllMessages walks every page and returns the session's full transcript,
// oldest first.
func (c *Client) ListAllMessages(ctx context.Context, sessionID string) ([]domain.Message, error) {
	const pageSize = 200
	var all []domain.Message
	for page := 1; ; page++ {
		msgs, totalPages, err := c.ListMessages(ctx, sessionID, page, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, msgs...)
		if page >= totalPages || len(msgs) == 0 {
			return all, nil
		}
	}
}

// MessageStatus fetches the processing status of a single message.
func (c *Client) MessageStatus(ctx context.Context, messageID uint) (status string, generatorOutput string, err error) {
	var out struct {
		ID              uint   `json:"id"`
		Status          string `json:"status"`
		GeneratorOutput string `json:"generator_output,omitempty"`
	}
	path := "/messages/" + strconv.FormatUint(uint64(messageID), 10) + "/status"
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return "", "", err
	}
	return out.Status, out.GeneratorOutput, nil
}

type feedbackEnvelope struct {
	Feedback *domain.Feedback `json:"feedback"`
}

// SubmitFeedback records a helpful/not-helpful vote on a bot message.
// Repeating the call updates the existing vote in place.
func (c *Client) SubmitFeedback(ctx context.Context, sessionID string, messageID uint, isHelpful bool) (*domain.Feedback, error) {
	body := map[string]any{
		"session_id": sessionID,
		"is_helpful": isHelpful,
	}
	var out domain.Feedback
	path := "/messages/" + strconv.FormatUint(uint64(messageID), 10) + "/feedback"
	if _, err := c.do(ctx, http.MethodPost, path, nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// MessageFeedback fetches the feedback left on a message; nil when none.
func (c *Client) MessageFeedback(ctx context.Context, messageID uint) (*domain.Feedback, error) {
	var out feedbackEnvelope
	path := "/messages/" + strconv.FormatUint(uint64(messageID), 10) + "/feedback"
	if _, err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Feedback, nil
}

// do issues one request and decodes the JSON response into out (when out is
// non-nil). Non-2xx responses are returned as *APIError.
func (c *Client) do(ctx context.Context, method, path string, hdr http.Header, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return 0, fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		// Best effort envelope decode; the status code alone is still useful.
		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(apiErr)
		return resp.StatusCode, apiErr
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
