// Message HTTP handlers.
//
// This file exposes REST endpoints for the message lifecycle:
//   - POST /sessions/{id}/messages   (submit; returns the pending user message)
//   - GET  /sessions/{id}/messages   (ordered list incl. attachments, ETag)
//   - GET  /messages/{id}/status     (poll a message's processing state)
//
// Submission accepts either a JSON body {"content": "..."} or a multipart
// form with a "content" field and "files" parts. Files pass through the
// upload store's size/type policy before the service ever sees them.
//
// The submit endpoint returns as soon as the user message is persisted;
// the widget discovers the bot reply by re-fetching the list (the ETag
// changes whenever a message lands or a status transition completes, so
// fast polling with If-None-Match stays cheap).
//
// Idempotency: if the client supplies an Idempotency-Key header and a
// previous successful submission exists for (session, key), the recorded
// user message is returned with `Idempotency-Replayed: true` and no new
// generation is dispatched.
package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-widget/internal/domain"
	"github.com/tbourn/go-support-widget/internal/repo"
	"github.com/tbourn/go-support-widget/internal/services"
)

//
// DTOs
//

// SubmitMessageRequest is the JSON payload for a text-only submission.
// Multipart submissions put the same text in the "content" form field.
type SubmitMessageRequest struct {
	// Content is the user's message text. May be empty only when files
	// accompany the submission.
	Content string `json:"content" example:"My order never arrived, can you help?"`
}

// SubmitMessageResponse is the JSON envelope for a newly created user
// message. Its processing_status starts at "pending"; poll the status or
// list endpoint to observe completion.
type SubmitMessageResponse struct {
	Message *domain.Message `json:"message"`
}

// ListMessagesResponse contains a page of session messages and pagination
// metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// parseMessageID parses the numeric message id path parameter.
func parseMessageID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message id must be a positive integer")
		return 0, false
	}
	return uint(id), true
}

// sanitizeContent normalizes user text for consistent downstream behavior:
// converts CRLF/CR to LF and trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}

// serviceDB exposes the GORM handle of the concrete MessageService for
// best-effort extras (ETag stats, idempotency records). Returns nil when the
// handler was wired with a test double.
func (h *Handlers) serviceDB() *gorm.DB {
	if svc, ok := h.msgSvc.(*services.MessageService); ok {
		return svc.DB
	}
	return nil
}

// idempotencyKey reads a client-supplied Idempotency-Key header, if any.
func idempotencyKey(c *gin.Context) string {
	return strings.TrimSpace(c.GetHeader("Idempotency-Key"))
}

//
// Handlers
//

// SubmitMessage godoc
// @ID          submitMessage
// @Summary     Submit a user message
// @Description Persists a user message (text and/or files) and schedules reply generation. Returns immediately with the pending message; poll the list or status endpoints for the reply.
// @Tags        Messages
// @Accept      json
// @Accept      multipart/form-data
// @Produce     json
//
// @Param       Idempotency-Key  header    string  false  "Idempotency key for safe retries"
// @Param       id               path      string  true   "Session ID"
// @Param       body             body      handlers.SubmitMessageRequest  false  "Message payload (JSON variant)"
// @Param       content          formData  string  false  "Message text (multipart variant)"
// @Param       files            formData  file    false  "Attachments (multipart variant)"
//
// @Success     201  {object}  handlers.SubmitMessageResponse  "Created user message (status=pending)"
// @Failure     400  {object}  handlers.ErrorResponse          "Empty message or rejected file"
// @Failure     404  {object}  handlers.ErrorResponse          "Session not found"
// @Failure     500  {object}  handlers.ErrorResponse          "Internal error"
// @Router      /sessions/{id}/messages [post]
func (h *Handlers) SubmitMessage(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	content, attachments, errCode, errMsg := h.readSubmission(c)
	if errCode != "" {
		fail(c, http.StatusBadRequest, errCode, errMsg)
		return
	}

	// Idempotency (replay path) – return the recorded message if present.
	idemKey := idempotencyKey(c)
	if idemKey != "" {
		if db := h.serviceDB(); db != nil {
			if rec, err := repo.GetIdempotency(ctx, db, sessionID, idemKey, time.Now().UTC()); err == nil && rec != nil {
				if prev, err2 := repo.GetMessage(db, rec.MessageID); err2 == nil {
					c.Header("Idempotency-Replayed", "true")
					ok(c, http.StatusCreated, SubmitMessageResponse{Message: prev})
					return
				}
			}
		}
	}

	m, err := h.msgSvc.Submit(ctx, sessionID, content, attachments)
	if err != nil {
		switch err {
		case services.ErrSessionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case services.ErrEmptyMessage:
			fail(c, http.StatusBadRequest, ErrCodeEmptyMessage, "message requires text or attachments")
		case services.ErrTooLong:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content too long")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeSubmitFailed, err.Error())
		}
		return
	}

	// Idempotency (store path) – best effort.
	if idemKey != "" {
		if db := h.serviceDB(); db != nil {
			_, _ = repo.CreateIdempotency(ctx, db, sessionID, idemKey, m.ID, http.StatusCreated, h.idempotencyTTL())
		}
	}

	ok(c, http.StatusCreated, SubmitMessageResponse{Message: m})
}

// readSubmission decodes either submission variant and runs uploads through
// the validation store. On failure it returns a non-empty error code.
func (h *Handlers) readSubmission(c *gin.Context) (content string, attachments []domain.Attachment, errCode, errMsg string) {
	ct := c.ContentType()
	if !strings.HasPrefix(ct, "multipart/") {
		var req SubmitMessageRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return "", nil, ErrCodeBadRequest, "invalid JSON body"
		}
		return sanitizeContent(req.Content), nil, "", ""
	}

	form, err := c.MultipartForm()
	if err != nil {
		return "", nil, ErrCodeBadRequest, "invalid multipart form"
	}
	content = sanitizeContent(c.PostForm("content"))

	for _, fh := range form.File["files"] {
		saved, err := h.uploads.Save(fh)
		if err != nil {
			return "", nil, ErrCodeFileRejected, fmt.Sprintf("%s: %v", fh.Filename, err)
		}
		attachments = append(attachments, domain.Attachment{
			StoredName:   saved.StoredName,
			OriginalName: saved.OriginalName,
			MimeType:     saved.MimeType,
			SizeBytes:    saved.SizeBytes,
			Path:         saved.Path,
		})
	}
	return content, attachments, "", ""
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a session
// @Description Returns the session's messages (attachments included) in stable (created_at, id) order. Supports weak ETag via If-None-Match; the tag changes when a message is appended or a reply finishes, so pollers can revalidate cheaply.
// @Tags        Messages
// @Produce     json
//
// @Param       id             path    string  true   "Session ID"
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(200) default(50)
//
// @Success     200  {object}  handlers.ListMessagesResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Failure     404  {object}  handlers.ErrorResponse "Session not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /sessions/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")

	// ETag pre-check (best effort).
	if db := h.serviceDB(); db != nil {
		count, outstanding, maxTS, err := repo.MessagesStats(ctx, db, sessionID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.UnixNano()
			}
			etag := fmt.Sprintf(`W/"messages:%s:%d:%d:%d"`, sessionID, count, outstanding, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	page, pageSize := clampPagination(c)

	items, total, err := h.msgSvc.ListPage(ctx, sessionID, page, pageSize)
	if err != nil {
		switch err {
		case services.ErrSessionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		}
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// MessageStatus godoc
// @ID          messageStatus
// @Summary     Read a message's processing status
// @Description Returns the reply-generation state of a user message (pending, processing, completed, failed) and, once terminal, the raw generator payload.
// @Tags        Messages
// @Produce     json
//
// @Param       id  path  int  true  "Message ID"
//
// @Success     200  {object}  services.MessageStatus
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Message not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /messages/{id}/status [get]
func (h *Handlers) MessageStatus(c *gin.Context) {
	id, okID := parseMessageID(c)
	if !okID {
		return
	}

	st, err := h.msgSvc.Status(c.Request.Context(), id)
	if err != nil {
		if err == services.ErrMessageNotFound {
			fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
			return
		}
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, st)
}
