package store

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	logrustest "github.com/sirupsen/logrus/hooks/test"
)

func newTestStore(t *testing.T) (*StreamerStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger, _ := logrustest.NewNullLogger()
	return NewStreamerStore(db, logger), mock
}

func TestResolveTenantByPublicToken(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT id FROM streamers WHERE overlay_token").
		WithArgs("tok-123").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("streamer-1"))

	got, err := store.ResolveTenantByPublicToken(context.Background(), "tok-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "streamer-1" {
		t.Fatalf("expected streamer-1, got %q", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestResolveTenantByPublicTokenNotFound(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT id FROM streamers WHERE overlay_token").
		WithArgs("tok-unknown").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.ResolveTenantByPublicToken(context.Background(), "tok-unknown")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetStreamer(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows([]string{"id", "twitch_user_id", "twitch_username", "scopes"}).
		AddRow("streamer-1", "12345", "somecaster", "{bits:read}")

	mock.ExpectQuery("SELECT id, twitch_user_id, twitch_username, scopes FROM streamers").
		WithArgs("streamer-1").
		WillReturnRows(rows)

	streamer, err := store.GetStreamer(context.Background(), "streamer-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if streamer.TwitchUserID != "12345" {
		t.Fatalf("unexpected twitch user id %q", streamer.TwitchUserID)
	}
	if len(streamer.Scopes) != 1 || streamer.Scopes[0] != "bits:read" {
		t.Fatalf("unexpected scopes %v", streamer.Scopes)
	}
}
