package services

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-support-widget/internal/domain"
)

// shared service-test DB helper
func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("svc_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.Session{}, &domain.Message{}, &domain.Attachment{}, &domain.Feedback{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func TestSessionGetOrCreate_MintsUUIDWhenEmpty(t *testing.T) {
	svc := &SessionService{DB: newSvcDB(t)}

	sess, created, err := svc.GetOrCreate(context.Background(), "", "https://example.com")
	if err != nil {
		t.Fatalf("GetOrCreate error: %v", err)
	}
	if !created {
		t.Fatalf("expected created=true for fresh session")
	}
	if _, err := uuid.Parse(sess.ID); err != nil {
		t.Fatalf("minted id is not a UUID: %q", sess.ID)
	}
	if sess.OriginWebsite != "https://example.com" {
		t.Fatalf("origin not stored: %+v", sess)
	}
}

func TestSessionGetOrCreate_KnownIDReturnsUnchanged(t *testing.T) {
	svc := &SessionService{DB: newSvcDB(t)}
	ctx := context.Background()

	first, created, err := svc.GetOrCreate(ctx, "widget-cached-id", "https://a.com")
	if err != nil || !created {
		t.Fatalf("first call: created=%v err=%v", created, err)
	}

	// Re-sending the cached id must return the stored row unchanged, even
	// when the widget reports a different origin.
	second, created, err := svc.GetOrCreate(ctx, "widget-cached-id", "https://b.com")
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if created {
		t.Fatalf("expected created=false on resume")
	}
	if second.ID != first.ID || second.OriginWebsite != "https://a.com" {
		t.Fatalf("session mutated on resume: %+v", second)
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Fatalf("CreatedAt changed on resume")
	}
}

func TestSessionGetOrCreate_AcceptsClientMintedID(t *testing.T) {
	svc := &SessionService{DB: newSvcDB(t)}

	sess, created, err := svc.GetOrCreate(context.Background(), "  my-id  ", "")
	if err != nil || !created {
		t.Fatalf("GetOrCreate: created=%v err=%v", created, err)
	}
	if sess.ID != "my-id" {
		t.Fatalf("id not trimmed/stored: %q", sess.ID)
	}
}

func TestSessionGet_NotFound(t *testing.T) {
	svc := &SessionService{DB: newSvcDB(t)}
	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
