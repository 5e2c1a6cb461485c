package ticketgate

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/kardianos/ticketgate/tclock"
)

var (
	testSecret = []byte("test-shared-secret")
	testStart  = time.Unix(1_700_000_000, 0)
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testKeys(t testing.TB) *KeyStore {
	t.Helper()
	ks, err := NewKeyStore(map[string]string{"k1": string(testSecret)})
	if err != nil {
		t.Fatal(err)
	}
	return ks
}

func newTestValidator(t testing.TB, clock tclock.Clock) *Validator {
	t.Helper()
	v, err := NewValidator(ValidatorOpt{Keys: testKeys(t), Clock: clock})
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// mint returns a signed identity-query ticket issued at now. mutate runs
// before signing.
func mint(now time.Time, mutate func(*Ticket)) Ticket {
	tk := Ticket{
		KeyID:         "k1",
		JobID:         "job-1",
		ClientID:      "client-1",
		Action:        string(ActionIdentityQuery),
		PayloadSHA256: NoPayloadDigest,
		IssuedAt:      now.Unix(),
		ExpiresAt:     now.Unix() + 60,
		Nonce:         "n1",
	}
	if mutate != nil {
		mutate(&tk)
	}
	tk.Signature = Sign(testSecret, &tk)
	return tk
}

// mintPrint returns a signed print ticket carrying payload.
func mintPrint(now time.Time, act Action, jobID string, payload []byte) Ticket {
	sum := sha256.Sum256(payload)
	return mint(now, func(tk *Ticket) {
		tk.Action = string(act)
		tk.JobID = jobID
		tk.Nonce = "nonce-" + jobID
		tk.PayloadBase64 = base64.StdEncoding.EncodeToString(payload)
		tk.PayloadSHA256 = hex.EncodeToString(sum[:])
	})
}

type submission struct {
	kind        string
	destination string
	data        string
}

type fakePrinter struct {
	mu    sync.Mutex
	calls []submission
	err   error
	panic bool
}

func (p *fakePrinter) record(kind, dest string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panic {
		panic("printer exploded")
	}
	if p.err != nil {
		return p.err
	}
	p.calls = append(p.calls, submission{kind: kind, destination: dest, data: string(data)})
	return nil
}

func (p *fakePrinter) SubmitRaw(_ context.Context, dest string, data []byte) error {
	return p.record("raw", dest, data)
}

func (p *fakePrinter) SubmitDocument(_ context.Context, dest string, data []byte) error {
	return p.record("document", dest, data)
}

func (p *fakePrinter) Calls() []submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]submission(nil), p.calls...)
}

type fakeIdentity struct {
	mac   string
	err   error
	calls int
}

func (f *fakeIdentity) LocalIdentity(context.Context) (string, error) {
	f.calls++
	return f.mac, f.err
}

type destinationMap map[string]string

func (d destinationMap) ResolveDestination(class string) string { return d[class] }

var testDestinations = destinationMap{
	"label":    "Zebra-01",
	"document": "Laser-01",
}

type testRig struct {
	clock    *tclock.Fake
	val      *Validator
	printer  *fakePrinter
	identity *fakeIdentity
	router   *Router
}

func newRig(t testing.TB) *testRig {
	t.Helper()
	rig := &testRig{
		clock:    tclock.NewFake(testStart),
		printer:  &fakePrinter{},
		identity: &fakeIdentity{mac: "00155D4A1B2C"},
	}
	rig.val = newTestValidator(t, rig.clock)
	r, err := NewRouter(RouterOpt{
		Validator:    rig.val,
		Identity:     rig.identity,
		Printer:      rig.printer,
		Destinations: testDestinations,
		Log:          discardLog(),
	})
	if err != nil {
		t.Fatal(err)
	}
	rig.router = r
	return rig
}
