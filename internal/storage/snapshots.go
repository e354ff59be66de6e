package storage

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"vyapaar/internal"
)

const snapshotLayout = "2006-01-02_15-04-05"

var (
	ErrInvalidPhone        = errors.New("invalid phone number")
	ErrInvalidSnapshotName = errors.New("invalid snapshot name")

	phonePattern    = regexp.MustCompile(`^\+?[0-9]{6,15}$`)
	snapshotPattern = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z_.-]*\.csv$`)
)

// SnapshotStore keeps each user's cleaned uploads as CSV files under
// <dir>/<phone>/<timestamp>.csv.
type SnapshotStore struct {
	dir string
	now func() time.Time
}

func NewSnapshotStore(dir string) *SnapshotStore {
	return &SnapshotStore{dir: dir, now: time.Now}
}

func ValidatePhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return fmt.Errorf("%w: %q", ErrInvalidPhone, phone)
	}
	return nil
}

func (s *SnapshotStore) userDir(phone string) (string, error) {
	if err := ValidatePhone(phone); err != nil {
		return "", err
	}
	return filepath.Join(s.dir, phone), nil
}

func (s *SnapshotStore) snapshotPath(phone, name string) (string, error) {
	dir, err := s.userDir(phone)
	if err != nil {
		return "", err
	}
	if !snapshotPattern.MatchString(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidSnapshotName, name)
	}
	return filepath.Join(dir, name), nil
}

// SaveSnapshot writes table as a new timestamped snapshot and returns its
// name. A second save within the same second gets a numeric suffix.
func (s *SnapshotStore) SaveSnapshot(ctx context.Context, phone string, table internal.RawTable) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	dir, err := s.userDir(phone)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(table.Columns); err != nil {
		return "", err
	}
	for _, row := range table.Rows {
		if err := w.Write(row); err != nil {
			return "", err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}

	base := s.now().Format(snapshotLayout)
	name := base + ".csv"
	for i := 2; ; i++ {
		if _, err := os.Stat(filepath.Join(dir, name)); errors.Is(err, os.ErrNotExist) {
			break
		}
		name = fmt.Sprintf("%s_%d.csv", base, i)
	}

	tmp, err := os.CreateTemp(dir, ".snapshot-*.tmp")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	defer func() { _ = os.Remove(tmpPath) }()

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, name)); err != nil {
		return "", err
	}
	return name, nil
}

// ListSnapshots returns snapshot names in filename order. A user without a
// directory has no snapshots.
func (s *SnapshotStore) ListSnapshots(ctx context.Context, phone string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.userDir(phone)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".csv") {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *SnapshotStore) ReadSnapshot(ctx context.Context, phone, name string) (internal.RawTable, error) {
	if err := ctx.Err(); err != nil {
		return internal.RawTable{}, err
	}
	path, err := s.snapshotPath(phone, name)
	if err != nil {
		return internal.RawTable{}, err
	}
	blob, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return internal.RawTable{}, fmt.Errorf("%w: %s/%s", ErrSnapshotNotFound, phone, name)
	}
	if err != nil {
		return internal.RawTable{}, err
	}

	r := csv.NewReader(bytes.NewReader(blob))
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return internal.RawTable{}, fmt.Errorf("read snapshot %s: %w", name, err)
	}
	if len(records) == 0 {
		return internal.RawTable{}, nil
	}
	return internal.RawTable{Columns: records[0], Rows: records[1:]}, nil
}
