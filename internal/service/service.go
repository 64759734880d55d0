// Package service orchestrates the archive pipeline: fetch unread mail,
// download attachments, extract structured records, persist them, and
// mark the processed messages as read.
package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/shineum/mail-archiver/internal/email"
	"github.com/shineum/mail-archiver/internal/parser"
	"github.com/shineum/mail-archiver/internal/storage"
)

// defaultPageSize is the message page size requested from the API when
// none is configured.
const defaultPageSize = 50

// MailClient is the mailbox API surface the archiver depends on.
type MailClient interface {
	ListMessages(ctx context.Context, userID string, pageSize int, unreadOnly bool) ([]email.Envelope, error)
	ListReadMessageIDs(ctx context.Context, userID string) ([]string, error)
	ListAttachments(ctx context.Context, userID, messageID string) ([]email.Attachment, error)
	GetAttachment(ctx context.Context, userID, messageID, attachmentID string) (*email.Attachment, error)
	SetRead(ctx context.Context, userID, messageID string, read bool) error
}

// Options configures an Archiver.
type Options struct {
	// PageSize is the message page size requested from the API.
	// Zero selects the default of 50.
	PageSize int

	// DryRun renders records to Output instead of writing to disk, and
	// leaves message read states untouched.
	DryRun bool

	// AllMessages fetches every message instead of only unread ones.
	AllMessages bool

	// Output receives dry-run renderings, defaulting to os.Stdout.
	Output io.Writer
}

// Archiver runs the mailbox archive pipeline. Each run carries a unique
// run_id in its log records.
type Archiver struct {
	client     MailClient
	store      *storage.Store
	pageSize   int
	unreadOnly bool
	dryRun     bool
	out        io.Writer
	logger     *slog.Logger
}

// New creates an Archiver over the given mail client and store.
func New(client MailClient, store *storage.Store, opts Options) *Archiver {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	return &Archiver{
		client:     client,
		store:      store,
		pageSize:   pageSize,
		unreadOnly: !opts.AllMessages,
		dryRun:     opts.DryRun,
		out:        out,
		logger:     slog.Default().With("run_id", uuid.NewString()),
	}
}

// Summary reports the outcome of an archive run.
type Summary struct {
	Fetched  int
	Archived int
	Failed   int
}

// ArchiveUser fetches the messages of one mailbox (unread only, unless
// configured otherwise) and archives each of them. A failure on one
// message is logged and counted but does not stop the run.
func (a *Archiver) ArchiveUser(ctx context.Context, userID string) (*Summary, error) {
	if !a.dryRun {
		if err := a.store.EnsureRoot(); err != nil {
			return nil, fmt.Errorf("failed to prepare archive root: %w", err)
		}
	}

	envelopes, err := a.client.ListMessages(ctx, userID, a.pageSize, a.unreadOnly)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	a.logger.Info("fetched messages",
		"user_id", userID,
		"count", len(envelopes),
	)

	summary := &Summary{Fetched: len(envelopes)}
	for i := range envelopes {
		env := &envelopes[i]
		if err := a.archiveMessage(ctx, userID, env); err != nil {
			summary.Failed++
			a.logger.Error("failed to archive message",
				"message_id", env.ID,
				"subject", env.Subject,
				"error", err,
			)
			continue
		}
		summary.Archived++
	}

	a.logger.Info("archive run complete",
		"user_id", userID,
		"fetched", summary.Fetched,
		"archived", summary.Archived,
		"failed", summary.Failed,
		"dry_run", a.dryRun,
	)

	return summary, nil
}

// archiveMessage processes a single message end to end: download its
// attachments, extract the record, persist both, and mark it read.
func (a *Archiver) archiveMessage(ctx context.Context, userID string, env *email.Envelope) error {
	var attachments []email.Attachment
	if env.HasAttachments {
		listed, err := a.client.ListAttachments(ctx, userID, env.ID)
		if err != nil {
			return fmt.Errorf("failed to list attachments: %w", err)
		}

		for _, att := range listed {
			full := att
			if att.ContentBytes == "" {
				// The listing may omit payloads; fetch the attachment in full.
				// A failed download skips this attachment only
				got, err := a.client.GetAttachment(ctx, userID, env.ID, att.ID)
				if err != nil {
					a.logger.Error("failed to download attachment",
						"message_id", env.ID,
						"attachment", att.Name,
						"error", err,
					)
					continue
				}
				full = *got
			}
			attachments = append(attachments, full)
		}
	}

	rec := parser.Parse(env)
	rec.Content.PhysicalAttachments = append(rec.Content.PhysicalAttachments, descriptors(attachments)...)

	if a.dryRun {
		fmt.Fprint(a.out, renderRecord(rec, attachments))
		return nil
	}

	for i := range attachments {
		path, err := a.store.SaveAttachment(env.ID, env.Subject, &attachments[i])
		if err != nil {
			// One bad attachment must not block the rest or the record
			a.logger.Error("failed to save attachment",
				"message_id", env.ID,
				"attachment", attachments[i].Name,
				"error", err,
			)
			continue
		}
		if path != "" {
			a.logger.Debug("saved attachment",
				"message_id", env.ID,
				"path", path,
			)
		}
	}

	path, err := a.store.SaveRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	a.logger.Info("archived message",
		"message_id", env.ID,
		"subject", rec.Subject,
		"path", path,
	)

	if err := a.client.SetRead(ctx, userID, env.ID, true); err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	return nil
}

// ResetSummary reports the outcome of a reset run.
type ResetSummary struct {
	MarkedUnread int
	Failed       int
}

// Reset clears the archive root and flips every read message of the
// mailbox back to unread, so the next archive run reprocesses the whole
// mailbox from scratch.
func (a *Archiver) Reset(ctx context.Context, userID string) (*ResetSummary, error) {
	if err := a.store.ResetRoot(); err != nil {
		return nil, fmt.Errorf("failed to reset archive root: %w", err)
	}
	a.logger.Info("archive root reset", "root", a.store.Root())

	ids, err := a.client.ListReadMessageIDs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list read messages: %w", err)
	}

	summary := &ResetSummary{}
	for _, id := range ids {
		if err := a.client.SetRead(ctx, userID, id, false); err != nil {
			summary.Failed++
			a.logger.Error("failed to mark message unread",
				"message_id", id,
				"error", err,
			)
			continue
		}
		summary.MarkedUnread++
	}

	a.logger.Info("reset complete",
		"user_id", userID,
		"marked_unread", summary.MarkedUnread,
		"failed", summary.Failed,
	)

	return summary, nil
}

// descriptors copies attachments for embedding in a record, dropping the
// base64 payloads so record files stay small.
func descriptors(attachments []email.Attachment) []email.Attachment {
	out := make([]email.Attachment, 0, len(attachments))
	for _, att := range attachments {
		att.ContentBytes = ""
		out = append(out, att)
	}
	return out
}

// renderRecord formats a record for dry-run output in a human-readable
// format.
func renderRecord(rec *email.Record, attachments []email.Attachment) string {
	var b strings.Builder

	b.WriteString("========================================\n")
	b.WriteString(fmt.Sprintf("Subject: %s\n", rec.Subject))
	b.WriteString(fmt.Sprintf("From: %s\n", rec.Metadata.From))
	b.WriteString(fmt.Sprintf("To: %s\n", rec.Metadata.To))

	if len(rec.Metadata.Cc) > 0 {
		b.WriteString(fmt.Sprintf("Cc: %s\n", strings.Join(rec.Metadata.Cc, ", ")))
	}

	b.WriteString(fmt.Sprintf("Received: %s\n", rec.Metadata.ReceivedDateTime))

	for _, fwd := range rec.Metadata.ForwardChain {
		b.WriteString(fmt.Sprintf("Forwarded: %s -> %s (%s)\n", fwd.From, fwd.To, fwd.Date))
	}

	b.WriteString("Body:\n")
	b.WriteString(rec.Content.PlainText + "\n")

	if len(rec.Content.Links) > 0 {
		b.WriteString("Links:\n")
		for _, link := range rec.Content.Links {
			b.WriteString(fmt.Sprintf("  %s (%s)\n", link.Text, link.URL))
		}
	}

	if len(rec.Content.AttachmentRefs) > 0 {
		b.WriteString("Attachment links:\n")
		for _, ref := range rec.Content.AttachmentRefs {
			b.WriteString(fmt.Sprintf("  %s (%s)\n", ref.Name, ref.URL))
		}
	}

	if len(attachments) > 0 {
		names := make([]string, 0, len(attachments))
		for _, att := range attachments {
			names = append(names, fmt.Sprintf("%s (%s)", att.Name, formatSize(att.Size)))
		}
		b.WriteString(fmt.Sprintf("Attachments: %s\n", strings.Join(names, ", ")))
	}

	b.WriteString("========================================\n")

	return b.String()
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int64) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
