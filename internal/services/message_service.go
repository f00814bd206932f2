// Package services – MessageService
//
// This file implements MessageService, the application-level component that
// owns the message lifecycle: accept a user message synchronously, dispatch
// reply generation to a detached background task, and make completion
// observable through the message's processing status. The widget discovers
// the outcome by polling; nothing is pushed back to the originating request,
// which has long since returned by the time generation finishes.
//
// Failure policy: a generation failure (including timeout) marks the user
// message failed and records an error payload. Generation is never retried —
// the only recourse is a new message. This is a deliberate cost/simplicity
// tradeoff; do not add silent retries.
//
// Observability: public methods are OpenTelemetry-instrumented; the
// background task logs through the global zerolog logger because the request
// context is gone.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-widget/internal/domain"
	"github.com/tbourn/go-support-widget/internal/generator"
	"github.com/tbourn/go-support-widget/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// FallbackReply is stored as the bot message body when the generator
// succeeds but returns an empty reply string.
const FallbackReply = "Thank you for your message. We have received it and will get back to you shortly."

// ReplyGenerator produces a reply for a submitted message. Implementations
// must bound their own execution time; the coordinator treats any returned
// error (including generator.ErrTimeout) the same way.
type ReplyGenerator interface {
	Generate(ctx context.Context, in generator.Input) (*generator.Result, error)
}

// MessageStatus is the read model returned by Status.
type MessageStatus struct {
	ID              uint    `json:"id"`
	Status          string  `json:"status"`
	GeneratorOutput *string `json:"generator_output,omitempty"`
}

// MessageService coordinates message persistence and asynchronous reply
// generation.
type MessageService struct {
	DB        *gorm.DB
	Generator ReplyGenerator

	// MaxBodyRunes caps user message bodies; 0 disables the check.
	MaxBodyRunes int

	// wg tracks in-flight generation tasks so shutdown can drain them.
	wg sync.WaitGroup
}

// Submit validates and persists a user message together with its attachment
// rows, then schedules reply generation and returns immediately. The
// returned message is in StatusPending; the caller never waits on the
// generator.
//
// Validation order matters: ErrEmptyMessage and ErrTooLong are rejected
// before any store write, and ErrSessionNotFound before the message row is
// created.
func (s *MessageService) Submit(ctx context.Context, sessionID, body string, attachments []domain.Attachment) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Submit",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("attachments", len(attachments)),
		),
	)
	defer span.End()

	body = strings.TrimSpace(body)
	if body == "" && len(attachments) == 0 {
		return nil, ErrEmptyMessage
	}
	if s.MaxBodyRunes > 0 && utf8.RuneCountInString(body) > s.MaxBodyRunes {
		return nil, ErrTooLong
	}

	if _, err := repo.GetSession(ctx, s.DB, sessionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}

	var bodyPtr *string
	if body != "" {
		bodyPtr = &body
	}

	var msg *domain.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := repo.CreateUserMessage(tx, sessionID, bodyPtr, attachments)
		if err != nil {
			return err
		}
		msg = m
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Fire and forget. The task outlives this request on purpose: closing
	// the widget or the connection does not cancel server-side generation.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(msg.ID, sessionID, body, attachments)
	}()

	return msg, nil
}

// Status returns the processing state of a message, or ErrMessageNotFound.
func (s *MessageService) Status(ctx context.Context, id uint) (*MessageStatus, error) {
	m, err := repo.GetMessage(s.DB.WithContext(ctx), id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return &MessageStatus{
		ID:              m.ID,
		Status:          m.ProcessingStatus,
		GeneratorOutput: m.GeneratorOutput,
	}, nil
}

// ListPage returns paginated messages for a session, attachments included,
// in (CreatedAt, ID) order.
func (s *MessageService) ListPage(ctx context.Context, sessionID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	if _, err := repo.GetSession(ctx, s.DB, sessionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrSessionNotFound
		}
		return nil, 0, err
	}

	total, err := repo.CountMessages(s.DB.WithContext(ctx), sessionID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}

	items, err := repo.ListMessagesPage(s.DB.WithContext(ctx), sessionID, offset, pageSize)
	return items, total, err
}

// Wait blocks until all in-flight generation tasks have finished. Called on
// graceful shutdown so terminal states are persisted before the process
// exits.
func (s *MessageService) Wait() { s.wg.Wait() }

// process runs the generation side of the lifecycle for one user message:
// pending → processing → completed|failed. It runs detached from any
// request context; the generator applies the configured timeout itself.
//
// Bot messages are appended in generation-completion order, which can differ
// from submission order when latencies vary. That reordering is an accepted
// property of the protocol, not a bug.
func (s *MessageService) process(msgID uint, sessionID, body string, attachments []domain.Attachment) {
	lg := log.With().Uint("message_id", msgID).Str("session_id", sessionID).Logger()

	if err := repo.MarkProcessing(s.DB, msgID); err != nil {
		// Raced with an external terminal update or the row is gone; either
		// way there is nothing left to process.
		lg.Warn().Err(err).Msg("skip generation: message not pending")
		return
	}

	files := make([]generator.FileRef, 0, len(attachments))
	for _, a := range attachments {
		files = append(files, generator.FileRef{
			Path:         a.Path,
			OriginalName: a.OriginalName,
			MimeType:     a.MimeType,
		})
	}

	res, err := s.Generator.Generate(context.Background(), generator.Input{
		Message:   body,
		Files:     files,
		SessionID: sessionID,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		s.markFailed(msgID, err, lg)
		return
	}

	reply := strings.TrimSpace(res.Response)
	if reply == "" {
		reply = FallbackReply
	}

	err = s.DB.Transaction(func(tx *gorm.DB) error {
		if err := repo.MarkTerminal(tx, msgID, domain.StatusCompleted, res.Raw); err != nil {
			return err
		}
		_, err := repo.CreateBotMessage(tx, sessionID, reply)
		return err
	})
	if err != nil {
		lg.Error().Err(err).Msg("persist generation result")
		return
	}
	lg.Info().Str("intent", res.Intent).Bool("structured", res.Structured).Msg("reply generated")
}

// markFailed records a terminal failure on the user message. No bot message
// is created and the error is observable only via status reads.
func (s *MessageService) markFailed(msgID uint, cause error, lg zerolog.Logger) {
	payload, _ := json.Marshal(map[string]string{"error": cause.Error()})
	if err := repo.MarkTerminal(s.DB, msgID, domain.StatusFailed, string(payload)); err != nil {
		lg.Error().Err(err).Msg("mark message failed")
		return
	}
	if errors.Is(cause, generator.ErrTimeout) {
		lg.Warn().Err(cause).Msg("generation timed out")
	} else {
		lg.Warn().Err(cause).Msg("generation failed")
	}
}
