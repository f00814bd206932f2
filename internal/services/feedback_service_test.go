package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-widget/internal/domain"
	"github.com/tbourn/go-support-widget/internal/repo"
)

func newFbSvc(t *testing.T) (*FeedbackService, *gorm.DB, uint) {
	t.Helper()
	db := newSvcDB(t)
	if err := db.Create(&domain.Session{ID: "s1", CreatedAt: time.Now().UTC()}).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	bot, err := repo.CreateBotMessage(db, "s1", "the answer")
	if err != nil {
		t.Fatalf("seed bot message: %v", err)
	}
	return &FeedbackService{DB: db}, db, bot.ID
}

func TestFeedbackSubmit_CreatesRow(t *testing.T) {
	svc, _, botID := newFbSvc(t)

	fb, err := svc.Submit(context.Background(), "s1", botID, true)
	if err != nil {
		t.Fatalf("Submit error: %v", err)
	}
	if fb.ID == "" || fb.MessageID != botID || !fb.IsHelpful {
		t.Fatalf("unexpected feedback: %+v", fb)
	}
}

func TestFeedbackSubmit_SameVoteKeepsRowAndRefreshesUpdatedAt(t *testing.T) {
	svc, db, botID := newFbSvc(t)
	ctx := context.Background()

	first, err := svc.Submit(ctx, "s1", botID, true)
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	second, err := svc.Submit(ctx, "s1", botID, true)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("id changed on identical vote: %q -> %q", first.ID, second.ID)
	}
	if !second.IsHelpful {
		t.Fatalf("vote value changed: %+v", second)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("identical vote must refresh updated_at: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}

	var n int64
	if err := db.Model(&domain.Feedback{}).Where("message_id = ?", botID).Count(&n).Error; err != nil || n != 1 {
		t.Fatalf("row count = %d, %v; want 1", n, err)
	}
}

func TestFeedbackSubmit_FlipUpdatesInPlace(t *testing.T) {
	svc, db, botID := newFbSvc(t)
	ctx := context.Background()

	first, err := svc.Submit(ctx, "s1", botID, true)
	if err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	flipped, err := svc.Submit(ctx, "s1", botID, false)
	if err != nil {
		t.Fatalf("flip Submit: %v", err)
	}
	if flipped.ID != first.ID {
		t.Fatalf("flip must keep the row id: %q -> %q", first.ID, flipped.ID)
	}
	if flipped.IsHelpful {
		t.Fatalf("vote not flipped: %+v", flipped)
	}
	if !flipped.UpdatedAt.After(first.UpdatedAt) {
		t.Fatalf("UpdatedAt not advanced on flip")
	}

	var n int64
	if err := db.Model(&domain.Feedback{}).Where("message_id = ?", botID).Count(&n).Error; err != nil || n != 1 {
		t.Fatalf("row count = %d, %v; want 1", n, err)
	}
}

func TestFeedbackSubmit_RejectsUserMessages(t *testing.T) {
	svc, db, _ := newFbSvc(t)

	body := "a question"
	userMsg, err := repo.CreateUserMessage(db, "s1", &body, nil)
	if err != nil {
		t.Fatalf("seed user message: %v", err)
	}
	if _, err := svc.Submit(context.Background(), "s1", userMsg.ID, true); !errors.Is(err, ErrInvalidFeedback) {
		t.Fatalf("expected ErrInvalidFeedback, got %v", err)
	}
}

func TestFeedbackSubmit_MissingEntities(t *testing.T) {
	svc, _, botID := newFbSvc(t)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "nope", botID, true); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.Submit(ctx, "s1", 99999, true); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestFeedbackForMessage_NilWhenAbsent(t *testing.T) {
	svc, _, botID := newFbSvc(t)

	fb, err := svc.ForMessage(context.Background(), botID)
	if err != nil {
		t.Fatalf("ForMessage error: %v", err)
	}
	if fb != nil {
		t.Fatalf("expected nil feedback for unrated message, got %+v", fb)
	}
}

func TestFeedbackListBySession(t *testing.T) {
	svc, db, botID := newFbSvc(t)
	ctx := context.Background()

	if _, err := svc.Submit(ctx, "s1", botID, true); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	bot2, err := repo.CreateBotMessage(db, "s1", "another answer")
	if err != nil {
		t.Fatalf("seed second bot: %v", err)
	}
	if _, err := svc.Submit(ctx, "s1", bot2.ID, false); err != nil {
		t.Fatalf("Submit second: %v", err)
	}

	out, err := svc.ListBySession(ctx, "s1")
	if err != nil || len(out) != 2 {
		t.Fatalf("ListBySession = %d rows, %v; want 2", len(out), err)
	}
}

func TestFeedbackSubmit_ConcurrentVotesYieldOneRow(t *testing.T) {
	svc, db, botID := newFbSvc(t)
	ctx := context.Background()

	const voters = 16
	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(helpful bool) {
			defer wg.Done()
			if _, err := svc.Submit(ctx, "s1", botID, helpful); err != nil {
				errs <- err
			}
		}(i%2 == 0)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent Submit error: %v", err)
	}

	var n int64
	if err := db.Model(&domain.Feedback{}).Where("message_id = ?", botID).Count(&n).Error; err != nil || n != 1 {
		t.Fatalf("row count = %d, %v; want exactly 1", n, err)
	}
}
