// Package parser extracts structured content from HTML mail bodies and
// builds normalized records ready for storage.
package parser

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/shineum/mail-archiver/internal/email"
)

// Fallback values substituted when the source message is missing a field.
// A built Record never carries an empty subject, sender, or recipient.
const (
	NoSubject        = "Brak tematu"
	UnknownSender    = "Nieznany nadawca"
	UnknownRecipient = "Nieznany odbiorca"
	attachmentLabel  = "Załącznik"
)

// fileHostDomain marks body hyperlinks that reference externally hosted
// attachments rather than ordinary pages.
const fileHostDomain = "drive.google.com"

// Extraction holds the four independent results of scanning one HTML body.
// Each field degrades to its zero value alone; a failure in one pass never
// empties the others.
type Extraction struct {
	PlainText      string
	Links          []email.Link
	AttachmentRefs []email.AttachmentRef
	ForwardChain   []email.Forward
}

// Parse builds a fully populated Record from an envelope. It never fails:
// whatever cannot be extracted or is missing from the envelope is replaced
// with a defined fallback, so downstream persistence always receives a
// complete record. Parse performs no I/O.
func Parse(env *email.Envelope) *email.Record {
	ex := Extract(env.BodyHTML)

	subject := env.Subject
	if subject == "" {
		subject = NoSubject
	}

	received := env.ReceivedDateTime
	if received == "" {
		received = time.Now().UTC().Format(time.RFC3339)
	}

	return &email.Record{
		Subject: subject,
		Content: email.Content{
			PlainText:           ex.PlainText,
			Links:               ex.Links,
			AttachmentRefs:      ex.AttachmentRefs,
			PhysicalAttachments: []email.Attachment{},
		},
		Metadata: email.Metadata{
			From:             formatSender(env.From),
			To:               formatRecipients(env.ToRecipients),
			Cc:               formatCc(env.CcRecipients),
			ReceivedDateTime: received,
			ForwardChain:     ex.ForwardChain,
		},
	}
}

// Extract runs the four extraction passes over an HTML body. Each pass
// parses the document independently and recovers locally, returning an
// empty (never nil) result on failure.
func Extract(body string) Extraction {
	return Extraction{
		PlainText:      ExtractText(body),
		Links:          ExtractLinks(body),
		AttachmentRefs: ExtractAttachmentRefs(body),
		ForwardChain:   ExtractForwardChain(body),
	}
}

// ExtractText returns the visible text of an HTML body with style and
// script content removed, non-breaking spaces replaced by ordinary
// spaces, whitespace runs collapsed, and surrounding whitespace trimmed.
func ExtractText(body string) string {
	doc, err := parseHTML(body)
	if err != nil {
		return ""
	}

	var b strings.Builder
	walk(doc, func(n *html.Node) bool {
		if n.Type == html.ElementNode && (n.Data == "style" || n.Data == "script") {
			return false
		}
		if n.Type == html.TextNode {
			// Text nodes concatenate directly; a word split across inline
			// elements must not gain a space
			b.WriteString(n.Data)
		}
		return true
	})

	text := strings.ReplaceAll(b.String(), " ", " ")
	return strings.TrimSpace(whitespaceRuns.ReplaceAllString(text, " "))
}

// ExtractLinks returns every hyperlink in document order, excluding
// mailto: targets. Anchors without an href are skipped.
func ExtractLinks(body string) []email.Link {
	doc, err := parseHTML(body)
	if err != nil {
		return []email.Link{}
	}

	links := []email.Link{}
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "a" {
			return true
		}
		href, ok := attr(n, "href")
		if !ok || strings.HasPrefix(href, "mailto:") {
			return true
		}
		links = append(links, email.Link{
			Text: textContent(n),
			URL:  href,
		})
		return true
	})
	return links
}

// ExtractAttachmentRefs returns hyperlinks whose target references the
// external file-hosting domain. The visible anchor text becomes the
// attachment name, with a generic label when the anchor is empty.
func ExtractAttachmentRefs(body string) []email.AttachmentRef {
	doc, err := parseHTML(body)
	if err != nil {
		return []email.AttachmentRef{}
	}

	refs := []email.AttachmentRef{}
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "a" {
			return true
		}
		href, ok := attr(n, "href")
		if !ok || !strings.Contains(href, fileHostDomain) {
			return true
		}
		name := textContent(n)
		if name == "" {
			name = attachmentLabel
		}
		refs = append(refs, email.AttachmentRef{
			Name: name,
			URL:  href,
		})
		return true
	})
	return refs
}

// Forwarded-message header labels as rendered by the mail client this
// mailbox receives from. Each captures one line of text after the label.
var (
	forwardFrom = regexp.MustCompile(`Od:\s*([^\n]+)`)
	forwardTo   = regexp.MustCompile(`Do:\s*([^\n]+)`)
	forwardDate = regexp.MustCompile(`Wysłane:\s*([^\n]+)`)

	whitespaceRuns = regexp.MustCompile(`\s+`)
)

// ExtractForwardChain scans each div element for a quoted forwarded-message
// header. A div contributes an entry only when all three labels (Od:, Do:,
// Wysłane:) match with non-empty values. Entries appear in document order.
func ExtractForwardChain(body string) []email.Forward {
	doc, err := parseHTML(body)
	if err != nil {
		return []email.Forward{}
	}

	chain := []email.Forward{}
	walk(doc, func(n *html.Node) bool {
		if n.Type != html.ElementNode || n.Data != "div" {
			return true
		}

		text := textContent(n)

		from := captureLine(forwardFrom, text)
		to := captureLine(forwardTo, text)
		date := captureLine(forwardDate, text)

		if from != "" && to != "" && date != "" {
			chain = append(chain, email.Forward{
				From: from,
				To:   to,
				Date: date,
			})
		}
		return true
	})
	return chain
}

// formatSender renders the sender as "Name <address>" when both parts
// are present, falling back to the unknown-sender label otherwise.
func formatSender(from *email.Address) string {
	if from == nil || from.Name == "" || from.Address == "" {
		return UnknownSender
	}
	return fmt.Sprintf("%s <%s>", from.Name, from.Address)
}

// formatRecipients renders a comma-joined recipient list. A recipient
// missing one of name/address still contributes its partial segment; only
// an empty list or a list where every recipient is fully blank falls back
// to the unknown-recipient label.
func formatRecipients(to []email.Address) string {
	if len(to) == 0 {
		return UnknownRecipient
	}

	segments := make([]string, 0, len(to))
	allEmpty := true
	for _, r := range to {
		if r.Name == "" && r.Address == "" {
			segments = append(segments, "")
			continue
		}
		allEmpty = false
		segments = append(segments, fmt.Sprintf("%s <%s>", r.Name, r.Address))
	}

	if allEmpty {
		return UnknownRecipient
	}
	return strings.Join(segments, ", ")
}

// formatCc renders CC recipients as formatted strings, or nil when the
// message carries none.
func formatCc(cc []email.Address) []string {
	if len(cc) == 0 {
		return nil
	}
	out := make([]string, 0, len(cc))
	for _, r := range cc {
		out = append(out, fmt.Sprintf("%s <%s>", r.Name, r.Address))
	}
	return out
}

// parseHTML parses a body, tolerating the malformed markup mail clients
// produce. x/net/html recovers from almost anything; an error here means
// the pass degrades to an empty result.
func parseHTML(body string) (*html.Node, error) {
	doc, err := html.Parse(strings.NewReader(body))
	if err != nil {
		slog.Warn("failed to parse HTML body", "error", err)
		return nil, err
	}
	return doc, nil
}

// walk visits nodes depth-first in document order. The visitor returns
// false to skip a node's subtree.
func walk(n *html.Node, visit func(*html.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

// attr returns the value of the named attribute on an element.
func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// textContent concatenates the raw text nodes under n, preserving the
// newlines the source document contains.
func textContent(n *html.Node) string {
	var b strings.Builder
	walk(n, func(c *html.Node) bool {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
		}
		return true
	})
	return b.String()
}

// captureLine applies a label pattern and returns the trimmed captured
// value, or empty when the label is absent.
func captureLine(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}
