package ticketgate

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"sync/atomic"
	"time"

	"github.com/kardianos/ticketgate/tclock"
)

// Validation defaults.
const (
	DefaultMaxSkew         = 120 * time.Second
	MinMaxSkew             = 10 * time.Second
	DefaultMaxLifetime     = 600 * time.Second
	DefaultMaxPayloadBytes = 5 << 20
	DefaultSweepInterval   = 30 * time.Second
)

// ValidatorOpt configures a Validator.
type ValidatorOpt struct {
	Keys *KeyStore

	// Replay holds consumed fingerprints. A private cache is created if nil.
	Replay *ReplayCache

	// Clock defaults to the wall clock.
	Clock tclock.Clock

	// MaxSkew is the tolerated clock disagreement with the issuer.
	// Zero means DefaultMaxSkew; smaller values are raised to MinMaxSkew.
	MaxSkew time.Duration

	// MaxLifetime caps exp - iat. Zero means DefaultMaxLifetime.
	MaxLifetime time.Duration

	// Retention is how long a consumed fingerprint is remembered.
	// Zero means 2*MaxSkew + MaxLifetime, long enough to outlive any ticket
	// that could still pass the time window.
	Retention time.Duration

	// SweepInterval throttles replay cache sweeps. Zero means
	// DefaultSweepInterval.
	SweepInterval time.Duration

	// MaxPayloadBytes caps the decoded payload. Zero means
	// DefaultMaxPayloadBytes.
	MaxPayloadBytes int64
}

// Validator verifies tickets. It is safe for concurrent use.
type Validator struct {
	keys        *KeyStore
	replay      *ReplayCache
	clock       tclock.Clock
	skew        time.Duration
	maxLifetime time.Duration
	retention   time.Duration
	sweepEvery  time.Duration
	maxPayload  int64

	lastSweep atomic.Int64 // Unix nanoseconds.
}

// NewValidator checks opt and fills in defaults.
func NewValidator(opt ValidatorOpt) (*Validator, error) {
	if opt.Keys == nil {
		return nil, &ConfigError{Setting: "ticket.keys", Err: errNoKeys}
	}
	v := &Validator{
		keys:        opt.Keys,
		replay:      opt.Replay,
		clock:       opt.Clock,
		skew:        opt.MaxSkew,
		maxLifetime: opt.MaxLifetime,
		retention:   opt.Retention,
		sweepEvery:  opt.SweepInterval,
		maxPayload:  opt.MaxPayloadBytes,
	}
	if v.replay == nil {
		v.replay = NewReplayCache(ReplayOpt{})
	}
	if v.clock == nil {
		v.clock = tclock.Real()
	}
	if v.skew <= 0 {
		v.skew = DefaultMaxSkew
	}
	v.skew = max(v.skew, MinMaxSkew)
	if v.maxLifetime <= 0 {
		v.maxLifetime = DefaultMaxLifetime
	}
	if v.retention <= 0 {
		v.retention = 2*v.skew + v.maxLifetime
	}
	if v.sweepEvery <= 0 {
		v.sweepEvery = DefaultSweepInterval
	}
	if v.maxPayload <= 0 {
		v.maxPayload = DefaultMaxPayloadBytes
	}
	v.lastSweep.Store(v.clock.Now().UnixNano())
	return v, nil
}

// MaxSkew returns the effective skew tolerance.
func (v *Validator) MaxSkew() time.Duration { return v.skew }

// Replay returns the cache consumed tickets are recorded in.
func (v *Validator) Replay() *ReplayCache { return v.replay }

// Validate verifies t and, on success, consumes it and returns its decoded
// payload (empty for actions without one). Any failure is a
// *ValidationError. t is not modified.
//
// The replay cache is only touched once everything else has passed, so a
// forged or stale ticket never uses up a nonce.
func (v *Validator) Validate(t *Ticket) ([]byte, error) {
	now := v.clock.Now()
	v.maybeSweep(now)

	n := t.Normalized()
	act, err := v.checkFields(&n)
	if err != nil {
		return nil, err
	}
	secret, ok := v.keys.Lookup(n.KeyID)
	if !ok {
		return nil, invalid(ErrUnknownKey, "")
	}
	if err := v.checkWindow(now, &n); err != nil {
		return nil, err
	}
	payload, err := v.materialize(&n, act)
	if err != nil {
		return nil, err
	}
	if !hexEqual(n.Signature, mac(secret, n.canonical()), sha256.Size) {
		return nil, invalid(ErrSignature, "")
	}
	if !v.replay.TryInsert(FingerprintOf(&n), now) {
		return nil, invalid(ErrReplay, "")
	}
	return payload, nil
}

func (v *Validator) maybeSweep(now time.Time) {
	last := v.lastSweep.Load()
	if now.UnixNano()-last < int64(v.sweepEvery) {
		return
	}
	if !v.lastSweep.CompareAndSwap(last, now.UnixNano()) {
		return
	}
	v.replay.Sweep(now, v.retention)
}

func (v *Validator) checkFields(n *Ticket) (Action, error) {
	for _, f := range [...]struct {
		name, value string
	}{
		{"kid", n.KeyID},
		{"jobId", n.JobID},
		{"clientId", n.ClientID},
		{"action", n.Action},
		{"nonce", n.Nonce},
		{"sig", n.Signature},
		{"payloadSha256", n.PayloadSHA256},
	} {
		if f.value == "" {
			return "", invalid(ErrMissingField, f.name)
		}
		if hasControl(f.value) {
			return "", invalid(ErrInvalidField, f.name)
		}
	}
	if n.IssuedAt == 0 {
		return "", invalid(ErrMissingField, "iat")
	}
	if n.ExpiresAt == 0 {
		return "", invalid(ErrMissingField, "exp")
	}
	if hasControl(n.PrinterClass) {
		return "", invalid(ErrInvalidField, "printerType")
	}

	act, ok := ParseAction(n.Action)
	if !ok {
		return "", invalid(ErrUnknownAction, "")
	}
	payload := strings.TrimSpace(n.PayloadBase64)
	if !act.CarriesPayload() {
		if payload != "" {
			return "", invalid(ErrPayloadNotAllowed, "payloadBase64")
		}
		if n.PayloadSHA256 != NoPayloadDigest {
			return "", invalid(ErrPayloadNotAllowed, "payloadSha256")
		}
		return act, nil
	}
	if payload == "" {
		return "", invalid(ErrPayloadRequired, "payloadBase64")
	}
	if n.PayloadSHA256 == NoPayloadDigest {
		return "", invalid(ErrPayloadRequired, "payloadSha256")
	}
	if int64(base64.StdEncoding.DecodedLen(len(payload))) > v.maxPayload+3 {
		return "", invalid(ErrPayloadTooLarge, "")
	}
	return act, nil
}

func (v *Validator) checkWindow(now time.Time, n *Ticket) error {
	iat := time.Unix(n.IssuedAt, 0)
	exp := time.Unix(n.ExpiresAt, 0)
	switch {
	case iat.After(now.Add(v.skew)):
		return invalid(ErrIssuedInFuture, "")
	case exp.Before(now.Add(-v.skew)):
		return invalid(ErrExpired, "")
	case exp.Before(iat), exp.Sub(iat) > v.maxLifetime:
		return invalid(ErrLifetimeExceeded, "")
	}
	return nil
}

func (v *Validator) materialize(n *Ticket, act Action) ([]byte, error) {
	if !act.CarriesPayload() {
		return []byte{}, nil
	}
	data, err := DecodePayload(n.PayloadBase64)
	if err != nil {
		return nil, invalid(ErrPayloadEncoding, "")
	}
	if int64(len(data)) > v.maxPayload {
		return nil, invalid(ErrPayloadTooLarge, "")
	}
	sum := sha256.Sum256(data)
	if !hexEqual(n.PayloadSHA256, sum[:], sha256.Size) {
		return nil, invalid(ErrPayloadDigest, "")
	}
	return data, nil
}

// DecodePayload decodes standard base64, padded or not, optionally behind a
// data URL prefix such as "data:application/pdf;base64,". Whitespace is
// ignored.
func DecodePayload(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.IndexByte(s, ','); i >= 0 {
			s = s[i+1:]
		}
	}
	if strings.ContainsAny(s, " \t\r\n") {
		s = strings.Join(strings.Fields(s), "")
	}
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

// hexEqual compares lower-case hex text to raw bytes in constant time.
// The length check is safe: size is fixed by the hash, not the secret.
func hexEqual(text string, want []byte, size int) bool {
	if len(text) != 2*size || len(want) != size {
		return false
	}
	wantHex := make([]byte, 2*size)
	hex.Encode(wantHex, want)
	return subtle.ConstantTimeCompare([]byte(text), wantHex) == 1
}
