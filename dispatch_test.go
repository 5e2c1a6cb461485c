package ticketgate

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestDispatchActionMismatch(t *testing.T) {
	rig := newRig(t)
	label := mintPrint(testStart, ActionPrintLabel, "job-1", []byte("^XA^XZ"))

	res := rig.router.Dispatch(context.Background(), ActionIdentityQuery, &Request{
		Action:  "print-label",
		Tickets: []Ticket{label},
	})
	if res.OK || res.Message != "action mismatch" {
		t.Fatalf("result = %+v, want action mismatch", res)
	}
	if len(rig.printer.Calls()) != 0 || rig.identity.calls != 0 {
		t.Fatal("a collaborator was invoked on mismatch")
	}
	if rig.val.Replay().Len() != 0 {
		t.Fatal("embedded ticket was consumed on mismatch")
	}
}

func TestDispatchMismatchCases(t *testing.T) {
	tests := []struct {
		authorized Action
		declared   string
		mismatch   bool
	}{
		{ActionIdentityQuery, " IDENTITY-QUERY ", false},
		{ActionIdentityQuery, "getmac", false},
		{ActionBatchPrint, "identity-query", true},
		{ActionIdentityQuery, "", true},
		{ActionIdentityQuery, "nonsense", true},
	}
	for _, tt := range tests {
		rig := newRig(t)
		res := rig.router.Dispatch(context.Background(), tt.authorized, &Request{Action: tt.declared})
		got := !res.OK && res.Message == ErrActionMismatch.Error()
		if got != tt.mismatch {
			t.Errorf("authorized %s, declared %q: mismatch = %v, want %v (%+v)", tt.authorized, tt.declared, got, tt.mismatch, res)
		}
	}
}

func TestDispatchIdentityQuery(t *testing.T) {
	rig := newRig(t)
	res := rig.router.Dispatch(context.Background(), ActionIdentityQuery, &Request{Action: "identity-query"})
	if !res.OK || res.Data != "00155D4A1B2C" {
		t.Fatalf("result = %+v", res)
	}

	rig.identity.mac = ""
	res = rig.router.Dispatch(context.Background(), ActionIdentityQuery, &Request{Action: "identity-query"})
	if res.OK {
		t.Fatal("empty identity reported as success")
	}

	rig.identity.err = errors.New("no adapters")
	res = rig.router.Dispatch(context.Background(), ActionIdentityQuery, &Request{Action: "identity-query"})
	if res.OK || !strings.Contains(res.Message, "no adapters") {
		t.Fatalf("result = %+v", res)
	}
}

func TestDispatchUnsupportedOuterAction(t *testing.T) {
	rig := newRig(t)
	res := rig.router.Dispatch(context.Background(), ActionPrintLabel, &Request{Action: "print-label"})
	if res.OK || res.Message != "unsupported action: print-label" {
		t.Fatalf("result = %+v", res)
	}
}

func TestDispatchBatchRoutesByAction(t *testing.T) {
	rig := newRig(t)
	label := mintPrint(testStart, ActionPrintLabel, "job-1", []byte("^XA^XZ"))
	doc := mintPrint(testStart, ActionPrintDocument, "job-2", []byte("%PDF-1.4"))
	zebra := mintPrint(testStart, ActionPrintLabel, "job-3", []byte("^XA^FD3^XZ"))
	zebra.PrinterClass = "Zebra"
	zebra.Signature = Sign(testSecret, &zebra)
	rig.router.destinations = destinationMap{"label": "Zebra-01", "document": "Laser-01", "zebra": "Zebra-02"}

	res := rig.router.Dispatch(context.Background(), ActionBatchPrint, &Request{
		Action:  "batch-print",
		Tickets: []Ticket{label, doc, zebra},
	})
	if !res.OK {
		t.Fatalf("result = %+v", res)
	}
	if rep := res.Data.(BatchReport); rep.Submitted != 3 || rep.Total != 3 {
		t.Fatalf("report = %+v", rep)
	}
	want := []submission{
		{kind: "raw", destination: "Zebra-01", data: "^XA^XZ"},
		{kind: "document", destination: "Laser-01", data: "%PDF-1.4"},
		{kind: "raw", destination: "Zebra-02", data: "^XA^FD3^XZ"},
	}
	got := rig.printer.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %+v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("call %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestDispatchBatchTamperedSecondJob(t *testing.T) {
	rig := newRig(t)
	first := mintPrint(testStart, ActionPrintLabel, "job-a", []byte("^XA^FDa^XZ"))
	second := mintPrint(testStart, ActionPrintLabel, "job-b", []byte("^XA^FDb^XZ"))
	second.PayloadSHA256 = strings.Repeat("0", 64)
	third := mintPrint(testStart, ActionPrintLabel, "job-c", []byte("^XA^FDc^XZ"))

	res := rig.router.Dispatch(context.Background(), ActionBatchPrint, &Request{
		Action:  "batch-print",
		Tickets: []Ticket{first, second, third},
	})
	if res.OK {
		t.Fatal("tampered batch succeeded")
	}
	if !strings.HasPrefix(res.Message, "job 2 (job-b): ") || !strings.Contains(res.Message, ErrPayloadDigest.Error()) {
		t.Fatalf("message = %q", res.Message)
	}
	rep := res.Data.(BatchReport)
	if rep.Submitted != 1 || rep.Total != 3 {
		t.Fatalf("report = %+v, want 1 of 3 submitted", rep)
	}
	calls := rig.printer.Calls()
	if len(calls) != 1 || calls[0].data != "^XA^FDa^XZ" {
		t.Fatalf("calls = %+v, want only the first job", calls)
	}
	// The third job's ticket was never looked at, so it can still be used.
	if _, err := rig.val.Validate(&third); err != nil {
		t.Fatalf("third ticket consumed: %v", err)
	}
}

func TestDispatchBatchFailures(t *testing.T) {
	tests := []struct {
		name    string
		tickets func() []Ticket
		setup   func(*testRig)
		want    string
	}{
		{
			name:    "empty batch",
			tickets: func() []Ticket { return nil },
			want:    ErrNoTickets.Error(),
		},
		{
			name: "destination not configured",
			tickets: func() []Ticket {
				tk := mintPrint(testStart, ActionPrintLabel, "j1", []byte("x"))
				tk.PrinterClass = "receipt"
				tk.Signature = Sign(testSecret, &tk)
				return []Ticket{tk}
			},
			want: "job 1 (j1): print receipt: destination not configured",
		},
		{
			name:    "printer error",
			tickets: func() []Ticket { return []Ticket{mintPrint(testStart, ActionPrintDocument, "j1", []byte("x"))} },
			setup:   func(r *testRig) { r.printer.err = errors.New("spooler offline") },
			want:    "job 1 (j1): print document: spooler offline",
		},
		{
			name:    "printer panic",
			tickets: func() []Ticket { return []Ticket{mintPrint(testStart, ActionPrintLabel, "j1", []byte("x"))} },
			setup:   func(r *testRig) { r.printer.panic = true },
			want:    "job 1 (j1): print label: internal error",
		},
		{
			name:    "inner identity query",
			tickets: func() []Ticket { return []Ticket{mint(testStart, nil)} },
			want:    "job 1 (job-1): unsupported action: identity-query",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rig := newRig(t)
			if tt.setup != nil {
				tt.setup(rig)
			}
			res := rig.router.Dispatch(context.Background(), ActionBatchPrint, &Request{
				Action:  "batch-print",
				Tickets: tt.tickets(),
			})
			if res.OK || res.Message != tt.want {
				t.Fatalf("result = %+v, want message %q", res, tt.want)
			}
		})
	}
}

func TestDispatchInnerIdentityNotConsumed(t *testing.T) {
	rig := newRig(t)
	tk := mint(testStart, nil)
	rig.router.Dispatch(context.Background(), ActionBatchPrint, &Request{Action: "batch-print", Tickets: []Ticket{tk}})
	if rig.val.Replay().Len() != 0 {
		t.Fatal("ticket refused for its action was consumed")
	}
}

func TestDispatchBatchCancelled(t *testing.T) {
	rig := newRig(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := rig.router.Dispatch(ctx, ActionBatchPrint, &Request{
		Action:  "batch-print",
		Tickets: []Ticket{mintPrint(testStart, ActionPrintLabel, "j1", []byte("x"))},
	})
	if res.OK || len(rig.printer.Calls()) != 0 {
		t.Fatalf("cancelled batch ran: %+v", res)
	}
}
