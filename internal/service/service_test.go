package service

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shineum/mail-archiver/internal/email"
	"github.com/shineum/mail-archiver/internal/storage"
)

// fakeClient is an in-memory MailClient for exercising the pipeline.
type fakeClient struct {
	envelopes    []email.Envelope
	attachments  map[string][]email.Attachment
	readIDs      []string
	markedRead   []string
	markedUnread []string

	setReadErr  map[string]error
	getErr      map[string]error
	downloaded  []string
	fullPayload map[string]string
}

func (f *fakeClient) ListMessages(_ context.Context, _ string, _ int, _ bool) ([]email.Envelope, error) {
	return f.envelopes, nil
}

func (f *fakeClient) ListReadMessageIDs(_ context.Context, _ string) ([]string, error) {
	return f.readIDs, nil
}

func (f *fakeClient) ListAttachments(_ context.Context, _ string, messageID string) ([]email.Attachment, error) {
	return f.attachments[messageID], nil
}

func (f *fakeClient) GetAttachment(_ context.Context, _ string, messageID, attachmentID string) (*email.Attachment, error) {
	if err := f.getErr[attachmentID]; err != nil {
		return nil, err
	}
	f.downloaded = append(f.downloaded, attachmentID)
	for _, att := range f.attachments[messageID] {
		if att.ID == attachmentID {
			att.ContentBytes = f.fullPayload[attachmentID]
			return &att, nil
		}
	}
	return nil, errors.New("attachment not found")
}

func (f *fakeClient) SetRead(_ context.Context, _ string, messageID string, read bool) error {
	if err := f.setReadErr[messageID]; err != nil {
		return err
	}
	if read {
		f.markedRead = append(f.markedRead, messageID)
	} else {
		f.markedUnread = append(f.markedUnread, messageID)
	}
	return nil
}

func testEnvelope(id, subject string) email.Envelope {
	return email.Envelope{
		ID:               id,
		Subject:          subject,
		BodyHTML:         "<p>Dzień dobry</p>",
		From:             &email.Address{Name: "Anna", Address: "anna@example.com"},
		ToRecipients:     []email.Address{{Name: "Biuro", Address: "biuro@example.com"}},
		ReceivedDateTime: "2024-01-02T10:30:00Z",
	}
}

func archivedRecords(t *testing.T, root string) []string {
	t.Helper()
	paths, err := filepath.Glob(filepath.Join(root, "*", "*.json"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	return paths
}

func TestArchiver_ArchiveUser(t *testing.T) {
	t.Parallel()

	env1 := testEnvelope("msg-1", "Oferta działki")
	env1.HasAttachments = true
	env2 := testEnvelope("msg-2", "Umowa")

	client := &fakeClient{
		envelopes: []email.Envelope{env1, env2},
		attachments: map[string][]email.Attachment{
			"msg-1": {{
				ID:           "att-1",
				Name:         "Mapa.pdf",
				ContentType:  "application/pdf",
				Size:         5,
				ContentBytes: "aGVsbG8=",
			}},
		},
	}

	root := t.TempDir()
	a := New(client, storage.New(root), Options{})

	summary, err := a.ArchiveUser(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Fetched != 2 || summary.Archived != 2 || summary.Failed != 0 {
		t.Errorf("summary: got %+v, want fetched 2, archived 2, failed 0", summary)
	}

	records := archivedRecords(t, root)
	if len(records) != 2 {
		t.Fatalf("record count: got %d, want 2", len(records))
	}

	attPath := filepath.Join(root, "oferta_dzialki", "attachments", "msg-1", "mapa.pdf")
	data, err := os.ReadFile(attPath)
	if err != nil {
		t.Fatalf("attachment not saved: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("attachment content: got %q, want %q", data, "hello")
	}

	if len(client.markedRead) != 2 {
		t.Errorf("marked read: got %v, want both messages", client.markedRead)
	}
}

func TestArchiver_ArchiveUser_DownloadsMissingPayload(t *testing.T) {
	t.Parallel()

	env := testEnvelope("msg-1", "Oferta")
	env.HasAttachments = true

	client := &fakeClient{
		envelopes: []email.Envelope{env},
		attachments: map[string][]email.Attachment{
			// Listing omits the payload; the archiver must fetch it in full
			"msg-1": {{ID: "att-1", Name: "umowa.pdf", Size: 5}},
		},
		fullPayload: map[string]string{"att-1": "aGVsbG8="},
	}

	root := t.TempDir()
	a := New(client, storage.New(root), Options{})

	if _, err := a.ArchiveUser(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(client.downloaded) != 1 || client.downloaded[0] != "att-1" {
		t.Errorf("downloaded: got %v, want [att-1]", client.downloaded)
	}

	attPath := filepath.Join(root, "oferta", "attachments", "msg-1", "umowa.pdf")
	if _, err := os.Stat(attPath); err != nil {
		t.Errorf("attachment not saved: %v", err)
	}
}

func TestArchiver_ArchiveUser_SkipsFailedDownload(t *testing.T) {
	t.Parallel()

	env := testEnvelope("msg-1", "Oferta")
	env.HasAttachments = true

	client := &fakeClient{
		envelopes: []email.Envelope{env},
		attachments: map[string][]email.Attachment{
			"msg-1": {
				{ID: "att-1", Name: "zepsuty.pdf", Size: 5},
				{ID: "att-2", Name: "mapa.pdf", Size: 5, ContentBytes: "aGVsbG8="},
			},
		},
		getErr: map[string]error{"att-1": errors.New("download failed")},
	}

	root := t.TempDir()
	a := New(client, storage.New(root), Options{})

	summary, err := a.ArchiveUser(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The broken attachment is skipped; the message itself still archives
	if summary.Archived != 1 || summary.Failed != 0 {
		t.Errorf("summary: got %+v, want archived 1, failed 0", summary)
	}

	if _, err := os.Stat(filepath.Join(root, "oferta", "attachments", "msg-1", "mapa.pdf")); err != nil {
		t.Errorf("surviving attachment not saved: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "oferta", "attachments", "msg-1", "zepsuty.pdf")); !os.IsNotExist(err) {
		t.Error("failed attachment should not be saved")
	}

	if len(archivedRecords(t, root)) != 1 {
		t.Error("record should be saved despite the attachment failure")
	}
	if len(client.markedRead) != 1 || client.markedRead[0] != "msg-1" {
		t.Errorf("marked read: got %v, want [msg-1]", client.markedRead)
	}
}

func TestArchiver_ArchiveUser_SkipsUnwritableAttachment(t *testing.T) {
	t.Parallel()

	env := testEnvelope("msg-1", "Oferta")
	env.HasAttachments = true

	client := &fakeClient{
		envelopes: []email.Envelope{env},
		attachments: map[string][]email.Attachment{
			"msg-1": {
				{ID: "att-1", Name: "zly.pdf", Size: 5, ContentBytes: "%%%not-base64%%%"},
				{ID: "att-2", Name: "dobry.pdf", Size: 5, ContentBytes: "aGVsbG8="},
			},
		},
	}

	root := t.TempDir()
	a := New(client, storage.New(root), Options{})

	summary, err := a.ArchiveUser(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Archived != 1 || summary.Failed != 0 {
		t.Errorf("summary: got %+v, want archived 1, failed 0", summary)
	}

	if _, err := os.Stat(filepath.Join(root, "oferta", "attachments", "msg-1", "dobry.pdf")); err != nil {
		t.Errorf("valid attachment not saved: %v", err)
	}
	if len(archivedRecords(t, root)) != 1 {
		t.Error("record should be saved despite the unwritable attachment")
	}
	if len(client.markedRead) != 1 {
		t.Errorf("marked read: got %v, want [msg-1]", client.markedRead)
	}
}

func TestArchiver_ArchiveUser_ContinuesOnFailure(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		envelopes: []email.Envelope{
			testEnvelope("msg-1", "Pierwsza"),
			testEnvelope("msg-2", "Druga"),
		},
		setReadErr: map[string]error{"msg-1": errors.New("boom")},
	}

	root := t.TempDir()
	a := New(client, storage.New(root), Options{})

	summary, err := a.ArchiveUser(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Archived != 1 {
		t.Errorf("Archived: got %d, want 1", summary.Archived)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed: got %d, want 1", summary.Failed)
	}
	if len(client.markedRead) != 1 || client.markedRead[0] != "msg-2" {
		t.Errorf("marked read: got %v, want [msg-2]", client.markedRead)
	}
}

func TestArchiver_DryRun(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		envelopes: []email.Envelope{testEnvelope("msg-1", "Oferta działki")},
	}

	root := t.TempDir()
	var out bytes.Buffer
	a := New(client, storage.New(root), Options{DryRun: true, Output: &out})

	summary, err := a.ArchiveUser(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Archived != 1 {
		t.Errorf("Archived: got %d, want 1", summary.Archived)
	}
	if !strings.Contains(out.String(), "Subject: Oferta działki") {
		t.Errorf("dry-run output missing subject, got:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "From: Anna <anna@example.com>") {
		t.Errorf("dry-run output missing sender, got:\n%s", out.String())
	}

	if records := archivedRecords(t, root); len(records) != 0 {
		t.Errorf("dry run wrote %d records, want 0", len(records))
	}
	if len(client.markedRead) != 0 {
		t.Errorf("dry run marked messages read: %v", client.markedRead)
	}
}

func TestArchiver_Reset(t *testing.T) {
	t.Parallel()

	client := &fakeClient{
		readIDs:    []string{"msg-1", "msg-2", "msg-3"},
		setReadErr: map[string]error{"msg-2": errors.New("boom")},
	}

	root := t.TempDir()
	stale := filepath.Join(root, "oferta", "oferta_2024-01-02.json")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(stale, []byte("{}"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	a := New(client, storage.New(root), Options{})

	summary, err := a.Reset(context.Background(), "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.MarkedUnread != 2 {
		t.Errorf("MarkedUnread: got %d, want 2", summary.MarkedUnread)
	}
	if summary.Failed != 1 {
		t.Errorf("Failed: got %d, want 1", summary.Failed)
	}

	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("stale record should be removed by reset")
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("archive root should be recreated: %v", err)
	}
}

func TestFormatSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		bytes int64
		want  string
	}{
		{bytes: 512, want: "512 B"},
		{bytes: 2048, want: "2.0 KB"},
		{bytes: 3 * 1024 * 1024, want: "3.0 MB"},
	}

	for _, tt := range tests {
		if got := formatSize(tt.bytes); got != tt.want {
			t.Errorf("formatSize(%d): got %q, want %q", tt.bytes, got, tt.want)
		}
	}
}
