// internal/registry/entry.go
//
// Entry model for the redirect registry.
//
// Context
// -------
// One Entry maps a stable, scannable identifier to a mutable mail-compose
// target.  The identifier is the only externally addressable key; everything
// else (target, status, telemetry) may change over the entry's lifetime
// without invalidating codes already printed or distributed.
//
// Notes
// -----
// • Oxford commas, two spaces after periods.
package registry

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Status governs whether resolution of an entry succeeds.
type Status string

const (
	StatusActive  Status = "active"
	StatusStopped Status = "stopped"
)

// ParseStatus converts the wire representation into a Status.  The accepted
// vocabulary is exactly "active" and "stopped".
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(s)) {
	case StatusActive:
		return StatusActive, nil
	case StatusStopped:
		return StatusStopped, nil
	}
	return "", fmt.Errorf("status must be %q or %q, got %q", StatusActive, StatusStopped, s)
}

// Target is the structured mail-compose descriptor a redirect encodes.
// Subject, body, and cc may be empty; the recipient is mandatory and is
// validated at the administration boundary, never at resolution time.
type Target struct {
	Email   string `json:"email"`
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
	CC      string `json:"cc,omitempty"`
}

// MailtoURL renders the target as a mailto URI.  Query parts are emitted
// only when non-empty, in subject, body, cc order, matching the URI shape
// already encoded in distributed codes.
func (t Target) MailtoURL() string {
	var b strings.Builder
	b.WriteString("mailto:")
	b.WriteString(t.Email)

	params := make([]string, 0, 3)
	if t.Subject != "" {
		params = append(params, "subject="+encodeParam(t.Subject))
	}
	if t.Body != "" {
		params = append(params, "body="+encodeParam(t.Body))
	}
	if t.CC != "" {
		params = append(params, "cc="+encodeParam(t.CC))
	}
	if len(params) > 0 {
		b.WriteString("?")
		b.WriteString(strings.Join(params, "&"))
	}
	return b.String()
}

// encodeParam percent-encodes a mailto header value.  RFC 6068 requires
// %20 for spaces; QueryEscape alone would emit "+", which mail clients
// render literally.
func encodeParam(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// ScanRecord is one row of the bounded per-entry scan log: a timestamp plus
// coarse client metadata.  Fields other than At are best-effort and may be
// empty when the client sent no usable User-Agent or no GeoIP database is
// configured.
type ScanRecord struct {
	At      time.Time `json:"at"`
	Device  string    `json:"device,omitempty"`
	Browser string    `json:"browser,omitempty"`
	OS      string    `json:"os,omitempty"`
	Country string    `json:"country,omitempty"`
	Bot     bool      `json:"bot,omitempty"`
}

// Entry is the persisted record for one identifier.
type Entry struct {
	ID            string       `json:"id"`
	Target        Target       `json:"target"`
	Status        Status       `json:"status"`
	CreatedAt     time.Time    `json:"created_at"`
	ScanCount     int64        `json:"scan_count"`
	LastScannedAt *time.Time   `json:"last_scanned_at,omitempty"`
	ScanLog       []ScanRecord `json:"scan_log,omitempty"`
}

// Clone returns a deep copy.  Stores hand out clones so a caller can never
// mutate shared state behind the store's back.
func (e *Entry) Clone() *Entry {
	cp := *e
	if e.LastScannedAt != nil {
		at := *e.LastScannedAt
		cp.LastScannedAt = &at
	}
	if e.ScanLog != nil {
		cp.ScanLog = make([]ScanRecord, len(e.ScanLog))
		copy(cp.ScanLog, e.ScanLog)
	}
	return &cp
}
