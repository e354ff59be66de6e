package connectors

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"vyapaar/internal"
	"vyapaar/internal/pipeline"
	"vyapaar/internal/storage"
)

// MailStoreService keeps raw messages on disk, content-addressed by sha256,
// and indexes them in the emails table as fetched.
type MailStoreService struct {
	db         *storage.DB
	rawMailDir string
}

func NewMailStoreService(db *storage.DB, rawMailDir string) *MailStoreService {
	return &MailStoreService{db: db, rawMailDir: rawMailDir}
}

// Store returns the indexed row and whether the message was already known.
func (s *MailStoreService) Store(msg internal.FetchedMailMessage) (internal.EmailRow, bool, error) {
	existing, err := s.db.GetEmailByProviderMessageID(msg.Provider, msg.MessageID)
	if err != nil {
		return internal.EmailRow{}, false, err
	}
	if existing != nil {
		return *existing, true, nil
	}

	sum := sha256.Sum256(msg.Raw)
	hash := hex.EncodeToString(sum[:])

	dir := filepath.Join(s.rawMailDir, msg.Provider)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return internal.EmailRow{}, false, err
	}
	rawPath := filepath.Join(dir, hash+".eml")
	if _, err := os.Stat(rawPath); errors.Is(err, fs.ErrNotExist) {
		if err := os.WriteFile(rawPath, msg.Raw, 0o644); err != nil {
			return internal.EmailRow{}, false, err
		}
	}

	row, err := s.db.UpsertEmail(msg.Provider, msg.MessageID, msg.Subject, msg.From, msg.ReceivedAt, hash, rawPath, pipeline.EmailFetched)
	return row, false, err
}
