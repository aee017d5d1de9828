package demo

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/technosupport/intellioptics/internal/data"
	"github.com/technosupport/intellioptics/internal/objectstore"
)

// TestManager_BuffersAndReleasesLatestFrameInRedis exercises the
// Redis-backed latest-frame buffer WithRegistry enables: a capture
// cycle should populate demo:frame:<id>, and Stop should release it
// (§4.12: "stop(id) signals it and releases the latest-frame buffer").
func TestManager_BuffersAndReleasesLatestFrameInRedis(t *testing.T) {
	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	defer rdb.Close()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("INSERT INTO demo_sessions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "started_at"}).
			AddRow(uuid.New(), time.Now()))
	mock.ExpectExec("UPDATE demo_sessions SET frames_captured").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE demo_sessions SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := objectstore.New(t.TempDir(), []byte("test-signer-key"), "")

	m := NewManager(
		data.DemoSessionModel{DB: db},
		data.DemoDetectionResultModel{DB: db},
		data.QueryModel{DB: db},
		data.DetectorModel{DB: db},
		data.DetectorConfigModel{DB: db},
		store,
		nil, // no detectors targeted below, so the dispatcher is never invoked
		&MockFrameSource{},
		slog.Default(),
	).WithRegistry(rdb)

	session, err := m.Start(context.Background(), "mock://camera-1", nil, 20)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	key := frameBufferKey(session.ID)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := srv.Get(key); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s to appear in redis", key)
		}
		time.Sleep(5 * time.Millisecond)
	}

	if ttl := srv.TTL(key); ttl <= 0 || ttl > latestFrameTTL {
		t.Errorf("expected buffered frame TTL in (0, %s], got %s", latestFrameTTL, ttl)
	}

	if err := m.Stop(context.Background(), session.ID); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if srv.Exists(key) {
		t.Errorf("expected %s to be released from redis after Stop", key)
	}
}
