package connectors

import (
	"context"
	"fmt"
	"strings"

	"vyapaar/internal"
	"vyapaar/internal/config"
	"vyapaar/internal/connectors/gmail"
	"vyapaar/internal/connectors/imap"
)

// MailConnector pulls recent messages from one mailbox label.
type MailConnector interface {
	FetchInbox(ctx context.Context, label string, max int) ([]internal.FetchedMailMessage, error)
}

// New builds the connector for provider ("gmail" or "imap").
func New(ctx context.Context, cfg config.Config, provider string) (MailConnector, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "gmail":
		return gmail.NewConnector(ctx, cfg)
	case "imap":
		return imap.NewConnector(cfg)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
}
