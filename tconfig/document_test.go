package tconfig

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

const commented = `# ticketgate settings
server:
  # public port
  listen: :11000
printing:
  label-printer: ZEBRA_D220 # front desk
`

func openSample(t *testing.T) *Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ticketgate.yaml")
	if err := os.WriteFile(path, []byte(commented), 0o600); err != nil {
		t.Fatal(err)
	}
	d, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	return d
}

func TestGet(t *testing.T) {
	d := openSample(t)

	v, err := d.Get("printing.label-printer")
	if err != nil || v != "ZEBRA_D220" {
		t.Fatalf("Get = %v, %v", v, err)
	}
	v, err = d.Get("server:listen")
	if err != nil || v != ":11000" {
		t.Fatalf("Get colon path = %v, %v", v, err)
	}
	all, err := d.Get("")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := all.(map[string]any)["server"]; !ok {
		t.Fatalf("whole document = %v", all)
	}
	if _, err := d.Get("ticket.keys"); !errors.Is(err, ErrNoSuchKey) {
		t.Fatalf("missing key err = %v", err)
	}
}

func TestSetKeepsComments(t *testing.T) {
	d := openSample(t)
	if err := d.Set("printing.label-printer", "ZEBRA_ZD421"); err != nil {
		t.Fatal(err)
	}
	if err := d.Set("ticket.max-skew-seconds", "60"); err != nil {
		t.Fatal(err)
	}
	if err := d.Set("ticket.keys.central", "abc"); err != nil {
		t.Fatal(err)
	}
	if err := d.Save(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(d.Path())
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	for _, want := range []string{"# ticketgate settings", "# public port", "# front desk", "ZEBRA_ZD421", "max-skew-seconds: 60"} {
		if !strings.Contains(out, want) {
			t.Errorf("saved file lacks %q:\n%s", want, out)
		}
	}

	bak, err := os.ReadFile(d.Path() + ".bak")
	if err != nil {
		t.Fatal(err)
	}
	if string(bak) != commented {
		t.Errorf("backup = %q", bak)
	}

	s, err := Load(d.Path())
	if err != nil {
		t.Fatal(err)
	}
	if s.Ticket.MaxSkewSeconds != 60 || s.Ticket.Keys["central"] != "abc" {
		t.Errorf("reloaded ticket = %+v", s.Ticket)
	}
}

func TestSetRefusesInvalid(t *testing.T) {
	d := openSample(t)
	tests := []struct{ path, value string }{
		{"ticket.max-skew-seconds", "two minutes"},
		{"server.nope", "1"},
		{"server.listen.port", "1"},
		{"", "x"},
	}
	for _, tt := range tests {
		if err := d.Set(tt.path, tt.value); err == nil {
			t.Errorf("Set(%q, %q) succeeded", tt.path, tt.value)
		}
	}
	if v, _ := d.Get("server.listen"); v != ":11000" {
		t.Errorf("listen changed to %v", v)
	}
	if _, err := d.Settings(); err != nil {
		t.Errorf("document left invalid: %v", err)
	}
}

func TestEnsure(t *testing.T) {
	d := openSample(t)
	added, err := d.Ensure()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"ticket", "log", "server.quic-listen", "printing.document-printer"} {
		if !slices.Contains(added, want) {
			t.Errorf("Ensure did not add %s: %v", want, added)
		}
	}
	if slices.Contains(added, "server.listen") || slices.Contains(added, "printing.label-printer") {
		t.Errorf("Ensure re-added existing keys: %v", added)
	}

	again, _ := d.Ensure()
	if len(again) != 0 {
		t.Errorf("second Ensure added %v", again)
	}
	s, err := d.Settings()
	if err != nil {
		t.Fatal(err)
	}
	if s.Printing.LabelPrinter != "ZEBRA_D220" || s.Ticket.MaxSkewSeconds != 120 {
		t.Errorf("settings = %+v", s)
	}
}

func TestOpenMissingAndBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "ticketgate.yaml")
	d, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Backup(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("backup of missing file err = %v", err)
	}
	if err := d.Set("log.level", "debug"); err != nil {
		t.Fatal(err)
	}
	if err := d.Save(); err != nil {
		t.Fatal(err)
	}
	bak, err := Backup(path)
	if err != nil || bak != path+".bak" {
		t.Fatalf("Backup = %q, %v", bak, err)
	}
}
