// Session HTTP handlers.
//
// This file exposes REST endpoints for widget sessions:
//   - POST /sessions        (idempotent get-or-create)
//   - GET  /sessions/{id}   (fetch)
//
// It also declares the service contracts consumed by every handler in this
// package and the Handlers wiring type. Handlers are transport-thin: they
// validate input, call application services, and translate results into
// HTTP responses.
package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-support-widget/internal/domain"
	"github.com/tbourn/go-support-widget/internal/services"
	"github.com/tbourn/go-support-widget/internal/upload"
	"github.com/tbourn/go-support-widget/internal/utils"
)

//
// Service contracts (context-aware)
//

// SessionService defines session operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type SessionService interface {
	// GetOrCreate returns the session for id, creating it when absent.
	// The bool reports whether a row was created.
	GetOrCreate(ctx context.Context, id, originWebsite string) (*domain.Session, bool, error)
	// Get fetches an existing session.
	Get(ctx context.Context, id string) (*domain.Session, error)
}

// MessageService defines the message lifecycle operations consumed by HTTP
// handlers. Submit returns the pending user message immediately; generation
// happens out of band and is observed via Status or ListPage.
type MessageService interface {
	Submit(ctx context.Context, sessionID, body string, attachments []domain.Attachment) (*domain.Message, error)
	Status(ctx context.Context, id uint) (*services.MessageStatus, error)
	ListPage(ctx context.Context, sessionID string, page, pageSize int) ([]domain.Message, int64, error)
}

// FeedbackService defines the feedback upsert and read operations.
type FeedbackService interface {
	Submit(ctx context.Context, sessionID string, messageID uint, isHelpful bool) (*domain.Feedback, error)
	ForMessage(ctx context.Context, messageID uint) (*domain.Feedback, error)
	ListBySession(ctx context.Context, sessionID string) ([]domain.Feedback, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for sessions, messages, and feedback.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	sessionSvc SessionService
	msgSvc     MessageService
	fbSvc      FeedbackService
	uploads    *upload.Store

	// idemTTL bounds the lifetime of stored idempotency records. Zero falls
	// back to defaultIdempotencyTTL.
	idemTTL time.Duration
}

// New constructs and returns a Handlers instance bound to the given services.
func New(sessionSvc SessionService, msgSvc MessageService, fbSvc FeedbackService, uploads *upload.Store, idemTTL time.Duration) *Handlers {
	return &Handlers{sessionSvc: sessionSvc, msgSvc: msgSvc, fbSvc: fbSvc, uploads: uploads, idemTTL: idemTTL}
}

const defaultIdempotencyTTL = 24 * time.Hour

// idempotencyTTL returns the configured record lifetime, defaulting when the
// handlers were wired without one.
func (h *Handlers) idempotencyTTL() time.Duration {
	if h.idemTTL > 0 {
		return h.idemTTL
	}
	return defaultIdempotencyTTL
}

//
// DTOs
//

// CreateSessionRequest is the JSON payload for opening a widget session.
// Both fields are optional: a widget that cached its id resends it, a fresh
// widget sends neither.
type CreateSessionRequest struct {
	// SessionID optionally re-supplies a cached session id.
	SessionID string `json:"session_id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// OriginWebsite records the embedding page's host.
	OriginWebsite string `json:"origin_website" example:"shop.example.com"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 50
		maxPageSize     = 200
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.ClampInt(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

//
// Handlers
//

// CreateSession godoc
// @ID          createSession
// @Summary     Open (or resume) a widget session
// @Description Idempotently returns the session for the supplied id, creating it when absent. Omitting the id mints a new session.
// @Tags        Sessions
// @Accept      json
// @Produce     json
//
// @Param       body  body  handlers.CreateSessionRequest  true  "Session payload"
//
// @Success     200  {object}  domain.Session  "Existing session"
// @Success     201  {object}  domain.Session  "Newly created session"
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions [post]
func (h *Handlers) CreateSession(c *gin.Context) {
	var req CreateSessionRequest
	// A fresh widget may POST an empty body; that means "mint everything".
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	sess, created, err := h.sessionSvc.GetOrCreate(c.Request.Context(),
		strings.TrimSpace(req.SessionID), req.OriginWebsite)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeCreateFailed, err.Error())
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	ok(c, status, sess)
}

// GetSession godoc
// @ID          getSession
// @Summary     Fetch a session
// @Tags        Sessions
// @Produce     json
//
// @Param       id  path  string  true  "Session ID"
//
// @Success     200  {object}  domain.Session
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /sessions/{id} [get]
func (h *Handlers) GetSession(c *gin.Context) {
	sess, err := h.sessionSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if err == services.ErrSessionNotFound {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, sess)
}
