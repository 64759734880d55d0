// Package storage persists normalized mail records and their binary
// attachments under a subject-keyed folder layout.
//
// The layout on disk is:
//
//	<root>/<sanitized-subject>/<sanitized-subject_date>[_<n>].json
//	<root>/<sanitized-subject>/attachments/<messageID>/<sanitized-name>
//
// Folder identity is keyed by the sanitized subject, not the message ID:
// messages sharing a subject are colocated on purpose. A single writer is
// assumed; the check-then-write name allocation is not safe against
// concurrent processes targeting the same folder.
package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/mail-archiver/internal/email"
	"github.com/shineum/mail-archiver/internal/sanitize"
)

// fallbackFolder names the subject folder for messages whose subject
// sanitizes to nothing.
const fallbackFolder = "brak_tematu"

// fallbackAttachmentName names attachments whose declared name sanitizes
// to nothing.
const fallbackAttachmentName = "zalacznik"

// Store writes records and attachments below a fixed root directory.
type Store struct {
	root string
}

// New creates a Store rooted at the given directory. The directory is not
// created until EnsureRoot is called.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the storage root directory.
func (s *Store) Root() string {
	return s.root
}

// EnsureRoot creates the storage root if it does not exist. It is
// idempotent; failure here is fatal to the calling run.
func (s *Store) EnsureRoot() error {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("failed to create storage root %s: %w", s.root, err)
	}
	return nil
}

// ResetRoot recursively deletes the storage root and recreates it empty.
// The delete and recreate are not atomic; a crash in between leaves the
// root absent until the next EnsureRoot.
func (s *Store) ResetRoot() error {
	if err := os.RemoveAll(s.root); err != nil {
		return fmt.Errorf("failed to remove storage root %s: %w", s.root, err)
	}
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return fmt.Errorf("failed to recreate storage root %s: %w", s.root, err)
	}
	slog.Info("storage root reset", "root", s.root)
	return nil
}

// SaveRecord writes a record as pretty-printed JSON into its
// subject-keyed folder, allocating a collision-free file name. It returns
// the path of the file written.
func (s *Store) SaveRecord(rec *email.Record) (string, error) {
	dir := filepath.Join(s.root, subjectFolder(rec.Subject))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create record folder %s: %w", dir, err)
	}

	base := recordBaseName(rec)
	name, err := uniqueName(dir, base)
	if err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to serialize record: %w", err)
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write record %s: %w", path, err)
	}

	slog.Info("saved record", "path", path, "subject", rec.Subject)
	return path, nil
}

// SaveAttachment decodes an attachment's base64 payload and writes it
// under the message's attachment folder inside the same subject-keyed
// directory as the record. An attachment without a payload is logged and
// skipped without error. It returns the path written, or empty when the
// attachment was skipped.
func (s *Store) SaveAttachment(messageID, subject string, att *email.Attachment) (string, error) {
	if att.ContentBytes == "" {
		slog.Info("attachment has no content, skipping",
			"message_id", messageID,
			"attachment", att.Name,
		)
		return "", nil
	}

	content, err := decodeBase64(att.ContentBytes)
	if err != nil {
		return "", fmt.Errorf("failed to decode attachment %s: %w", att.Name, err)
	}

	if messageID == "" {
		messageID = uuid.NewString()
	}

	dir := filepath.Join(s.root, subjectFolder(subject), "attachments", messageID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create attachment folder %s: %w", dir, err)
	}

	name := sanitize.Sanitize(att.Name)
	if name == "" {
		name = fallbackAttachmentName
	}

	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write attachment %s: %w", path, err)
	}

	slog.Info("saved attachment",
		"path", path,
		"message_id", messageID,
		"size", len(content),
	)
	return path, nil
}

// subjectFolder maps a message subject to its storage folder name.
func subjectFolder(subject string) string {
	name := sanitize.Sanitize(subject)
	if name == "" {
		return fallbackFolder
	}
	return name
}

// recordBaseName builds the record file base name from the sanitized
// subject and the date-only part of the received timestamp.
func recordBaseName(rec *email.Record) string {
	base := sanitize.Sanitize(rec.Subject)
	if base == "" {
		base = fallbackFolder
	}

	date := time.Now().UTC().Format("2006-01-02")
	if t, err := time.Parse(time.RFC3339, rec.Metadata.ReceivedDateTime); err == nil {
		date = t.Format("2006-01-02")
	}

	return base + "_" + date
}

// uniqueName returns the first name of the form <base>.json or
// <base>_<n>.json that does not collide with an existing file in dir.
// The result is deterministic for a fixed folder state.
func uniqueName(dir, base string) (string, error) {
	candidate := base + ".json"
	for n := 1; ; n++ {
		_, err := os.Stat(filepath.Join(dir, candidate))
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("failed to probe %s: %w", filepath.Join(dir, candidate), err)
		}
		candidate = fmt.Sprintf("%s_%d.json", base, n)
	}
}

// decodeBase64 decodes standard base64, retrying without padding the way
// mail payloads sometimes arrive.
func decodeBase64(s string) ([]byte, error) {
	cleaned := strings.NewReplacer("\r", "", "\n", "").Replace(s)
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err == nil {
		return decoded, nil
	}
	return base64.RawStdEncoding.DecodeString(cleaned)
}
