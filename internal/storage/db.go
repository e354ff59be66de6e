package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"vyapaar/internal"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

type DB struct {
	conn *sql.DB
}

func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	if _, err := conn.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = conn.Close()
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return db, nil
}

func (d *DB) Close() error {
	return d.conn.Close()
}

func (d *DB) init() error {
	schema := `
CREATE TABLE IF NOT EXISTS users (
  phone TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  email TEXT,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);

CREATE TABLE IF NOT EXISTS emails (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  provider TEXT NOT NULL,
  messageId TEXT NOT NULL,
  subject TEXT,
  sender TEXT,
  receivedAt TEXT,
  hash TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'fetched',
  rawRef TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(provider, messageId)
);

CREATE TABLE IF NOT EXISTS uploads (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  phone TEXT NOT NULL,
  filename TEXT NOT NULL,
  source TEXT NOT NULL,
  rowCount INTEGER NOT NULL,
  emailId INTEGER,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  UNIQUE(phone, filename),
  FOREIGN KEY(phone) REFERENCES users(phone),
  FOREIGN KEY(emailId) REFERENCES emails(id)
);

CREATE TABLE IF NOT EXISTS runs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  traceId TEXT NOT NULL,
  kind TEXT NOT NULL,
  emailId INTEGER,
  timingsJson TEXT NOT NULL,
  countsJson TEXT NOT NULL,
  createdAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP,
  FOREIGN KEY(emailId) REFERENCES emails(id)
);

CREATE TABLE IF NOT EXISTS metadata (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL,
  updatedAt TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

	_, err := d.conn.Exec(schema)
	return err
}

// UpsertUser registers a phone number, replacing the name and email of an
// existing registration.
func (d *DB) UpsertUser(phone, name string, email *string) (internal.UserRow, error) {
	if err := ValidatePhone(phone); err != nil {
		return internal.UserRow{}, err
	}
	if email != nil {
		normalized := strings.ToLower(strings.TrimSpace(*email))
		if normalized == "" {
			email = nil
		} else {
			email = &normalized
		}
	}
	_, err := d.conn.Exec(`
INSERT INTO users (phone, name, email) VALUES (?, ?, ?)
ON CONFLICT(phone) DO UPDATE SET
  name=excluded.name,
  email=excluded.email,
  updatedAt=CURRENT_TIMESTAMP
`, phone, name, email)
	if err != nil {
		return internal.UserRow{}, err
	}
	return d.GetUser(phone)
}

func (d *DB) GetUser(phone string) (internal.UserRow, error) {
	var row internal.UserRow
	err := d.conn.QueryRow(`SELECT phone, name, email, createdAt FROM users WHERE phone = ?`, phone).
		Scan(&row.Phone, &row.Name, &row.Email, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.UserRow{}, fmt.Errorf("%w: %s", ErrUserNotFound, phone)
	}
	if err != nil {
		return internal.UserRow{}, err
	}
	return row, nil
}

// GetUserByEmail returns nil when no user registered the address.
func (d *DB) GetUserByEmail(email string) (*internal.UserRow, error) {
	var row internal.UserRow
	err := d.conn.QueryRow(`
SELECT phone, name, email, createdAt FROM users WHERE email = ? ORDER BY createdAt ASC LIMIT 1
`, strings.ToLower(strings.TrimSpace(email))).Scan(&row.Phone, &row.Name, &row.Email, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) ListUsers() ([]internal.UserRow, error) {
	rows, err := d.conn.Query(`SELECT phone, name, email, createdAt FROM users ORDER BY phone ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.UserRow
	for rows.Next() {
		var row internal.UserRow
		if err := rows.Scan(&row.Phone, &row.Name, &row.Email, &row.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) InsertUpload(phone, filename string, source internal.TableSource, rowCount int, emailID *int) (internal.UploadRow, error) {
	_, err := d.conn.Exec(`
INSERT INTO uploads (phone, filename, source, rowCount, emailId) VALUES (?, ?, ?, ?, ?)
ON CONFLICT(phone, filename) DO UPDATE SET
  source=excluded.source,
  rowCount=excluded.rowCount,
  emailId=excluded.emailId
`, phone, filename, string(source), rowCount, emailID)
	if err != nil {
		return internal.UploadRow{}, err
	}
	return d.getUpload(phone, filename)
}

func (d *DB) getUpload(phone, filename string) (internal.UploadRow, error) {
	var row internal.UploadRow
	err := d.conn.QueryRow(`
SELECT id, phone, filename, source, rowCount, createdAt FROM uploads WHERE phone = ? AND filename = ?
`, phone, filename).Scan(&row.ID, &row.Phone, &row.Filename, &row.Source, &row.RowCount, &row.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return internal.UploadRow{}, fmt.Errorf("%w: %s/%s", ErrSnapshotNotFound, phone, filename)
	}
	if err != nil {
		return internal.UploadRow{}, err
	}
	return row, nil
}

// ListUploads returns a user's uploads in filename order, which is also
// chronological for timestamped snapshot names.
func (d *DB) ListUploads(phone string) ([]internal.UploadRow, error) {
	rows, err := d.conn.Query(`
SELECT id, phone, filename, source, rowCount, createdAt FROM uploads WHERE phone = ? ORDER BY filename ASC
`, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.UploadRow
	for rows.Next() {
		var row internal.UploadRow
		if err := rows.Scan(&row.ID, &row.Phone, &row.Filename, &row.Source, &row.RowCount, &row.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) UpsertEmail(provider, messageID, subject, sender, receivedAt, hash, rawRef, status string) (internal.EmailRow, error) {
	_, err := d.conn.Exec(`
INSERT INTO emails (provider, messageId, subject, sender, receivedAt, hash, status, rawRef)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(provider, messageId) DO UPDATE SET
  subject=excluded.subject,
  sender=excluded.sender,
  receivedAt=excluded.receivedAt,
  hash=excluded.hash,
  rawRef=excluded.rawRef,
  updatedAt=CURRENT_TIMESTAMP
`, provider, messageID, subject, sender, receivedAt, hash, status, rawRef)
	if err != nil {
		return internal.EmailRow{}, err
	}

	row, err := d.GetEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.EmailRow{}, err
	}
	if row == nil {
		return internal.EmailRow{}, errors.New("failed to upsert email")
	}
	return *row, nil
}

func (d *DB) GetEmailByProviderMessageID(provider, messageID string) (*internal.EmailRow, error) {
	var row internal.EmailRow
	err := d.conn.QueryRow(`
SELECT id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef
FROM emails WHERE provider = ? AND messageId = ?
`, provider, messageID).Scan(
		&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (d *DB) MustEmailByProviderMessageID(provider, messageID string) (internal.EmailRow, error) {
	row, err := d.GetEmailByProviderMessageID(provider, messageID)
	if err != nil {
		return internal.EmailRow{}, err
	}
	if row == nil {
		return internal.EmailRow{}, fmt.Errorf("email not found: provider=%s messageId=%s", provider, messageID)
	}
	return *row, nil
}

func (d *DB) ListEmailsByStatus(status string, limit int) ([]internal.EmailRow, error) {
	rows, err := d.conn.Query(`
SELECT id, provider, messageId, subject, sender, receivedAt, hash, status, rawRef
FROM emails WHERE status = ? ORDER BY receivedAt ASC LIMIT ?
`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []internal.EmailRow
	for rows.Next() {
		var row internal.EmailRow
		if err := rows.Scan(&row.ID, &row.Provider, &row.MessageID, &row.Subject, &row.Sender, &row.ReceivedAt, &row.Hash, &row.Status, &row.RawRef); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (d *DB) UpdateEmailStatus(emailID int, status string) error {
	_, err := d.conn.Exec(`UPDATE emails SET status = ?, updatedAt = CURRENT_TIMESTAMP WHERE id = ?`, status, emailID)
	return err
}

func (d *DB) InsertRun(traceID, kind string, emailID *int, timings map[string]float64, counts map[string]int) error {
	timingsJSON, _ := json.Marshal(timings)
	countsJSON, _ := json.Marshal(counts)
	_, err := d.conn.Exec(`INSERT INTO runs (traceId, kind, emailId, timingsJson, countsJson) VALUES (?, ?, ?, ?, ?)`,
		traceID, kind, emailID, string(timingsJSON), string(countsJSON))
	return err
}

func (d *DB) CountRuns(kind string) (int, error) {
	var n int
	err := d.conn.QueryRow(`SELECT COUNT(*) FROM runs WHERE kind = ?`, kind).Scan(&n)
	return n, err
}

func (d *DB) SetMetadata(key, value string) error {
	_, err := d.conn.Exec(`
INSERT INTO metadata (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updatedAt = CURRENT_TIMESTAMP
`, key, value)
	return err
}

func (d *DB) GetMetadata(key string) (*string, error) {
	var value string
	err := d.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &value, nil
}
