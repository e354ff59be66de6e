package connectors

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vyapaar/internal"
	"vyapaar/internal/config"
	"vyapaar/internal/pipeline"
	"vyapaar/internal/storage"
)

type fakeConnector struct {
	messages []internal.FetchedMailMessage
	err      error
}

func (f fakeConnector) FetchInbox(_ context.Context, _ string, max int) ([]internal.FetchedMailMessage, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(f.messages) > max {
		return f.messages[:max], nil
	}
	return f.messages, nil
}

func openDB(t *testing.T) (*storage.DB, string) {
	t.Helper()
	tmp := t.TempDir()
	db, err := storage.Open(filepath.Join(tmp, "app.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, tmp
}

func TestFetchAndStoreSkipsKnownMessages(t *testing.T) {
	db, tmp := openDB(t)
	rawDir := filepath.Join(tmp, "raw")
	conn := fakeConnector{messages: []internal.FetchedMailMessage{
		{Provider: "imap", MessageID: "<1@x>", From: "asha@example.com", Subject: "March", ReceivedAt: "2025-03-04T10:00:00Z", Raw: []byte("one")},
		{Provider: "imap", MessageID: "<2@x>", From: "asha@example.com", Subject: "April", ReceivedAt: "2025-04-04T10:00:00Z", Raw: []byte("two")},
	}}
	svc := NewFetchService(db, rawDir, conn, nil)

	res, err := svc.FetchAndStore(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	assert.Equal(t, FetchResult{Fetched: 2, Stored: 2}, res)

	again, err := svc.FetchAndStore(context.Background(), "INBOX", 10)
	require.NoError(t, err)
	assert.Equal(t, FetchResult{Fetched: 2, Duplicates: 2}, again)

	pending, err := db.ListEmailsByStatus(pipeline.EmailFetched, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	for _, e := range pending {
		blob, err := os.ReadFile(e.RawRef)
		require.NoError(t, err)
		assert.NotEmpty(t, blob)
		assert.Equal(t, filepath.Join(rawDir, "imap"), filepath.Dir(e.RawRef))
	}
}

func TestFetchAndStoreWrapsConnectorError(t *testing.T) {
	db, tmp := openDB(t)
	svc := NewFetchService(db, tmp, fakeConnector{err: errors.New("auth failed")}, nil)
	_, err := svc.FetchAndStore(context.Background(), "INBOX", 5)
	assert.ErrorContains(t, err, "fetch INBOX: auth failed")
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), config.Config{}, "pop3")
	assert.ErrorContains(t, err, "unsupported provider")
}
