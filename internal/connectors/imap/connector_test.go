package imap

import (
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"

	"vyapaar/internal/config"
)

func TestNewConnectorRequiresCredentials(t *testing.T) {
	_, err := NewConnector(config.Config{IMAPHost: "imap.example.com", IMAPUser: "shop"})
	assert.ErrorContains(t, err, "IMAP_PASSWORD")
}

func TestFormatAddresses(t *testing.T) {
	got := formatAddresses([]*imap.Address{
		{PersonalName: "Asha", MailboxName: "asha", HostName: "example.com"},
		nil,
		{MailboxName: "orders", HostName: "shop.in"},
	})
	assert.Equal(t, "Asha <asha@example.com>, orders@shop.in", got)
}

func TestToFetchedFallsBackToUID(t *testing.T) {
	received := time.Date(2025, 3, 4, 10, 0, 0, 0, time.UTC)
	msg := &imap.Message{Uid: 42, InternalDate: received}
	got := toFetched(msg, []byte("raw"))
	assert.Equal(t, "imap-42", got.MessageID)
	assert.Equal(t, "2025-03-04T10:00:00Z", got.ReceivedAt)
	assert.Equal(t, "imap", got.Provider)
}
