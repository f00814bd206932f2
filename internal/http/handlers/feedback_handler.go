// Feedback HTTP handlers.
//
// This file exposes REST endpoints for message feedback:
//   - POST /messages/{id}/feedback  (create-or-update a vote)
//   - GET  /messages/{id}/feedback  (read a message's vote, if any)
//   - GET  /sessions/{id}/feedback  (list a session's votes)
//
// Votes upsert: the first POST for a message creates the row, every later
// POST updates it in place. The widget re-votes freely after its "change
// feedback" affordance; the server always treats that as an update. A GET
// for a message with no votes returns {"feedback": null} with 200, never
// 404.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-support-widget/internal/domain"
	"github.com/tbourn/go-support-widget/internal/services"
)

// SubmitFeedbackRequest is the JSON payload for voting on a bot message.
//
// IsHelpful is a pointer so that a missing field is distinguishable from an
// explicit false and can be rejected as malformed.
type SubmitFeedbackRequest struct {
	// SessionID is the voting widget's session.
	SessionID string `json:"session_id" binding:"required" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	// IsHelpful is true for a thumbs-up, false for a thumbs-down.
	IsHelpful *bool `json:"is_helpful" binding:"required" example:"true"`
}

// FeedbackEnvelope wraps a possibly-absent feedback record.
type FeedbackEnvelope struct {
	Feedback *domain.Feedback `json:"feedback"`
}

// SubmitFeedback godoc
// @ID          submitFeedback
// @Summary     Vote on a bot message
// @Description Records a helpful/not-helpful vote. Repeat votes for the same message update the existing record in place (the id stays stable); there is never more than one feedback row per message.
// @Tags        Feedback
// @Accept      json
// @Produce     json
//
// @Param       id    path  int  true  "Message ID"
// @Param       body  body  handlers.SubmitFeedbackRequest  true  "Feedback payload"
//
// @Success     200  {object}  domain.Feedback  "Created or updated vote"
// @Failure     400  {object}  handlers.ErrorResponse  "Malformed payload or non-bot target"
// @Failure     404  {object}  handlers.ErrorResponse  "Session or message not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal server error"
// @Router      /messages/{id}/feedback [post]
func (h *Handlers) SubmitFeedback(c *gin.Context) {
	messageID, okID := parseMessageID(c)
	if !okID {
		return
	}

	var req SubmitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.IsHelpful == nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "session_id and boolean is_helpful required")
		return
	}

	fb, err := h.fbSvc.Submit(c.Request.Context(), req.SessionID, messageID, *req.IsHelpful)
	if err != nil {
		switch err {
		case services.ErrSessionNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "session not found")
		case services.ErrMessageNotFound:
			fail(c, http.StatusNotFound, ErrCodeNotFound, "message not found")
		case services.ErrInvalidFeedback:
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "feedback is only accepted on bot messages")
		default:
			fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		}
		return
	}

	ok(c, http.StatusOK, fb)
}

// GetMessageFeedback godoc
// @ID          getMessageFeedback
// @Summary     Read a message's feedback
// @Description Returns the vote for a message, or {"feedback": null} when nobody has voted yet.
// @Tags        Feedback
// @Produce     json
//
// @Param       id  path  int  true  "Message ID"
//
// @Success     200  {object}  handlers.FeedbackEnvelope
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal server error"
// @Router      /messages/{id}/feedback [get]
func (h *Handlers) GetMessageFeedback(c *gin.Context) {
	messageID, okID := parseMessageID(c)
	if !okID {
		return
	}

	fb, err := h.fbSvc.ForMessage(c.Request.Context(), messageID)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, FeedbackEnvelope{Feedback: fb})
}

// ListSessionFeedback godoc
// @ID          listSessionFeedback
// @Summary     List a session's feedback
// @Tags        Feedback
// @Produce     json
//
// @Param       id  path  string  true  "Session ID"
//
// @Success     200  {array}   domain.Feedback
// @Failure     500  {object}  handlers.ErrorResponse  "Internal server error"
// @Router      /sessions/{id}/feedback [get]
func (h *Handlers) ListSessionFeedback(c *gin.Context) {
	items, err := h.fbSvc.ListBySession(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}
	if items == nil {
		items = []domain.Feedback{}
	}
	ok(c, http.StatusOK, items)
}
