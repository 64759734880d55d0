// Package recognize classifies archived attachment files by extension and
// produces summary reports over an archive directory tree.
package recognize

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
)

// Kind is the recognized category of an attachment file.
type Kind string

const (
	KindImage Kind = "image"
	KindPDF   Kind = "pdf"
	KindOther Kind = "other"
)

// Classify maps a file name to its Kind based on the extension.
// Unknown extensions classify as KindOther.
func Classify(name string) Kind {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	switch ext {
	case "jpg", "jpeg", "png":
		return KindImage
	case "pdf":
		return KindPDF
	default:
		return KindOther
	}
}

// Report summarizes the attachment files found under an archive root.
type Report struct {
	Records     int          `json:"records"`
	Attachments int          `json:"attachments"`
	ByKind      map[Kind]int `json:"byKind"`
}

// Scan walks an archive root and counts saved records and attachment
// files per kind. Records are the .json files directly under a subject
// folder; attachments live under <subject>/attachments/<message-id>/.
func Scan(root string) (*Report, error) {
	report := &Report{ByKind: make(map[Kind]int)}

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		parts := strings.Split(rel, string(filepath.Separator))

		switch {
		case len(parts) == 2 && strings.HasSuffix(d.Name(), ".json"):
			report.Records++
		case len(parts) == 4 && parts[1] == "attachments":
			report.Attachments++
			report.ByKind[Classify(d.Name())]++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan archive root %s: %w", root, err)
	}

	return report, nil
}

// Summary renders a report as a short human-readable string with kinds
// in stable order.
func (r *Report) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "records: %d, attachments: %d", r.Records, r.Attachments)

	kinds := make([]string, 0, len(r.ByKind))
	for k := range r.ByKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)

	for _, k := range kinds {
		fmt.Fprintf(&b, ", %s: %d", k, r.ByKind[Kind(k)])
	}
	return b.String()
}
