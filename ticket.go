// Package ticketgate authorizes local actions with short-lived, HMAC-signed,
// single-use tickets and dispatches the authorized action to the local
// collaborators that perform it.
//
// A connection presents one ticket when it opens. Once that ticket validates,
// every message on the connection must declare the same action. Batch print
// messages carry one further ticket per job, each validated on its own.
package ticketgate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/crypto/blake2b"
)

// Action names a locally executed operation a ticket can authorize.
type Action string

// Recognised actions.
const (
	ActionIdentityQuery Action = "identity-query"
	ActionBatchPrint    Action = "batch-print"
	ActionPrintLabel    Action = "print-label"
	ActionPrintDocument Action = "print-document"
)

// NoPayloadDigest is the digest a ticket carries when its action has no payload.
const NoPayloadDigest = "-"

// Legacy action names still sent by older issuers.
var actionAliases = map[string]Action{
	"getmac":    ActionIdentityQuery,
	"print":     ActionBatchPrint,
	"print_zpl": ActionPrintLabel,
	"print_pdf": ActionPrintDocument,
}

// ParseAction trims, lower-cases and resolves legacy aliases.
func ParseAction(s string) (Action, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	switch a := Action(s); a {
	case ActionIdentityQuery, ActionBatchPrint, ActionPrintLabel, ActionPrintDocument:
		return a, true
	}
	a, ok := actionAliases[s]
	return a, ok
}

// CarriesPayload reports whether tickets for a must include a payload and
// its digest.
func (a Action) CarriesPayload() bool {
	return a == ActionPrintLabel || a == ActionPrintDocument
}

// DefaultPrinterClass is the destination class used when a print ticket
// does not name one.
func (a Action) DefaultPrinterClass() string {
	switch a {
	case ActionPrintLabel:
		return "label"
	case ActionPrintDocument:
		return "document"
	}
	return ""
}

func (a Action) String() string { return string(a) }

// Ticket is a signed authorization for one action. JSON field names match
// case-insensitively when decoding.
type Ticket struct {
	KeyID         string `json:"kid"`
	JobID         string `json:"jobId"`
	ClientID      string `json:"clientId"`
	Action        string `json:"action"`
	PrinterClass  string `json:"printerType,omitempty"`
	ContentType   string `json:"contentType,omitempty"`
	PayloadBase64 string `json:"payloadBase64"`
	PayloadSHA256 string `json:"payloadSha256"`
	IssuedAt      int64  `json:"iat"`
	ExpiresAt     int64  `json:"exp"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"sig"`
}

// Normalized returns a copy with every field in the form it is signed and
// compared in.
func (t *Ticket) Normalized() Ticket {
	n := *t
	n.KeyID = strings.TrimSpace(n.KeyID)
	n.JobID = strings.TrimSpace(n.JobID)
	n.ClientID = strings.TrimSpace(n.ClientID)
	n.Action = strings.ToLower(strings.TrimSpace(n.Action))
	n.PrinterClass = strings.ToLower(strings.TrimSpace(n.PrinterClass))
	n.PayloadSHA256 = strings.ToLower(strings.TrimSpace(n.PayloadSHA256))
	n.Nonce = strings.TrimSpace(n.Nonce)
	n.Signature = strings.ToLower(strings.TrimSpace(n.Signature))
	return n
}

// canonical is the signed form. t must already be normalized.
func (t *Ticket) canonical() string {
	var b strings.Builder
	for i, part := range [...]string{
		t.JobID,
		t.ClientID,
		t.Action,
		t.PrinterClass,
		t.PayloadSHA256,
		strconv.FormatInt(t.IssuedAt, 10),
		strconv.FormatInt(t.ExpiresAt, 10),
		t.Nonce,
	} {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(part)
	}
	return b.String()
}

// Sign returns the lower-case hex HMAC-SHA256 of t's canonical form.
// The ticket is normalized first and is not modified.
func Sign(secret []byte, t *Ticket) string {
	n := t.Normalized()
	return hex.EncodeToString(mac(secret, n.canonical()))
}

func mac(secret []byte, canonical string) []byte {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(canonical))
	return h.Sum(nil)
}

// Fingerprint identifies a consumed ticket in the replay cache.
type Fingerprint [16]byte

func (f Fingerprint) String() string { return hex.EncodeToString(f[:]) }

// FingerprintOf hashes the client, job and nonce of a normalized ticket.
// Identifier fields never contain control characters, so NUL separates them
// unambiguously.
func FingerprintOf(t *Ticket) Fingerprint {
	h, err := blake2b.New(len(Fingerprint{}), nil)
	if err != nil {
		panic("blake2b: " + err.Error())
	}
	h.Write([]byte(t.ClientID))
	h.Write([]byte{0})
	h.Write([]byte(t.JobID))
	h.Write([]byte{0})
	h.Write([]byte(t.Nonce))

	var fp Fingerprint
	h.Sum(fp[:0])
	return fp
}

func hasControl(s string) bool {
	return strings.IndexFunc(s, unicode.IsControl) >= 0
}
