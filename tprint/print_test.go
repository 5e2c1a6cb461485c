package tprint

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDestinations(t *testing.T) {
	d := NewDestinations(" ZDesigner GK420t ", "HP LaserJet", map[string]string{
		"Receipt": "Epson TM-T20",
		"blank":   "  ",
	})
	tests := []struct {
		class, want string
	}{
		{"label", "ZDesigner GK420t"},
		{" LABEL ", "ZDesigner GK420t"},
		{"document", "HP LaserJet"},
		{"zebra", "ZDesigner GK420t"},
		{"Normal", "HP LaserJet"},
		{"receipt", "Epson TM-T20"},
		{"blank", ""},
		{"photo", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := d.ResolveDestination(tt.class); got != tt.want {
			t.Errorf("ResolveDestination(%q) = %q, want %q", tt.class, got, tt.want)
		}
	}
	if got := strings.Join(d.Classes(), ","); got != "document,label,receipt" {
		t.Errorf("Classes = %s", got)
	}

	override := NewDestinations("L", "D", map[string]string{"zebra": "Z"})
	if got := override.ResolveDestination("zebra"); got != "Z" {
		t.Errorf("explicit zebra class = %q, want Z", got)
	}
	empty := NewDestinations("", "", nil)
	if got := empty.ResolveDestination("zebra"); got != "" {
		t.Errorf("unconfigured alias = %q", got)
	}
}

type recordSpooler struct {
	jobs []Job
	err  error
}

func (r *recordSpooler) Submit(_ context.Context, job Job) error {
	if r.err != nil {
		return r.err
	}
	r.jobs = append(r.jobs, job)
	return nil
}

func quietLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPrinter(t *testing.T) {
	rs := &recordSpooler{}
	p := NewPrinter(rs, quietLog())
	ctx := context.Background()

	if err := p.SubmitRaw(ctx, "Zebra", []byte("^XA^XZ")); err != nil {
		t.Fatal(err)
	}
	if err := p.SubmitDocument(ctx, "Laser", []byte("%PDF")); err != nil {
		t.Fatal(err)
	}
	if len(rs.jobs) != 2 || !rs.jobs[0].Raw || rs.jobs[1].Raw {
		t.Fatalf("jobs = %+v", rs.jobs)
	}
	if rs.jobs[1].Destination != "Laser" || string(rs.jobs[1].Data) != "%PDF" {
		t.Fatalf("document job = %+v", rs.jobs[1])
	}

	if err := p.SubmitRaw(ctx, "Zebra", nil); !errors.Is(err, ErrEmptyJob) {
		t.Fatalf("empty job err = %v", err)
	}
	if err := p.SubmitRaw(ctx, " ", []byte("x")); err == nil {
		t.Fatal("blank destination accepted")
	}

	rs.err = errors.New("queue paused")
	err := p.SubmitDocument(ctx, "Laser", []byte("%PDF"))
	if err == nil || !strings.Contains(err.Error(), "queue paused") || !strings.Contains(err.Error(), "Laser") {
		t.Fatalf("err = %v", err)
	}
}

func TestDirSpooler(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "spool")
	s, err := NewDirSpooler(dir)
	if err != nil {
		t.Fatal(err)
	}
	p := NewPrinter(s, quietLog())
	ctx := context.Background()
	if err := p.SubmitRaw(ctx, "Zebra/01", []byte("^XA^XZ")); err != nil {
		t.Fatal(err)
	}
	if err := p.SubmitDocument(ctx, "Zebra/01", []byte("%PDF-1.4")); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "Zebra_01"))
	if err != nil {
		t.Fatal(err)
	}
	var prn, pdf int
	for _, e := range entries {
		switch filepath.Ext(e.Name()) {
		case ".prn":
			prn++
			b, _ := os.ReadFile(filepath.Join(dir, "Zebra_01", e.Name()))
			if string(b) != "^XA^XZ" {
				t.Errorf("raw content = %q", b)
			}
		case ".pdf":
			pdf++
		default:
			t.Errorf("unexpected file %s", e.Name())
		}
	}
	if prn != 1 || pdf != 1 {
		t.Fatalf("prn=%d pdf=%d", prn, pdf)
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := s.Submit(cancelled, Job{Destination: "x", Data: []byte("x")}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
}

func TestSafeName(t *testing.T) {
	tests := map[string]string{
		"HP LaserJet": "HP LaserJet",
		`\\srv\queue`: "__srv_queue",
		"..":          "_",
		"":            "_",
		"a:b":         "a_b",
	}
	for in, want := range tests {
		if got := safeName(in); got != want {
			t.Errorf("safeName(%q) = %q, want %q", in, got, want)
		}
	}
}
