package ticketgate

import (
	"errors"
	"strings"
	"testing"

	"github.com/kardianos/ticketgate/tstore"
)

func TestNewKeyStore(t *testing.T) {
	ks, err := NewKeyStore(map[string]string{"k1": "s1", " k2 ": "s2", "": "orphan", "k3": ""})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(ks.KeyIDs(), ","); got != "k1,k2" {
		t.Fatalf("KeyIDs = %s", got)
	}
	if s, ok := ks.Lookup("k2"); !ok || string(s) != "s2" {
		t.Fatalf("Lookup(k2) = %q, %v", s, ok)
	}
	if _, ok := ks.Lookup("k3"); ok {
		t.Fatal("blank secret was kept")
	}
}

func TestNewKeyStoreEmpty(t *testing.T) {
	for _, keys := range []map[string]string{nil, {}, {"k": ""}} {
		_, err := NewKeyStore(keys)
		var ce *ConfigError
		if !errors.As(err, &ce) {
			t.Fatalf("NewKeyStore(%v) err = %v, want *ConfigError", keys, err)
		}
	}
}

func TestLoadKeyStore(t *testing.T) {
	ds, err := tstore.NewFileDataStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveKey(ds, "pos-1", []byte("stored-one")); err != nil {
		t.Fatal(err)
	}
	if err := SaveKey(ds, "pos-2", []byte("stored-two")); err != nil {
		t.Fatal(err)
	}
	if err := ds.Set("printer.label", false, []byte("not a key")); err != nil {
		t.Fatal(err)
	}

	raw, err := ds.Get(KeyPrefix+"pos-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "stored-one") {
		t.Fatal("secret stored in plain text")
	}

	ks, err := LoadKeyStore(ds, map[string]string{"pos-2": "inline-two", "web": "inline-web"})
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(ks.KeyIDs(), ","); got != "pos-1,pos-2,web" {
		t.Fatalf("KeyIDs = %s", got)
	}
	if s, _ := ks.Lookup("pos-1"); string(s) != "stored-one" {
		t.Fatalf("pos-1 = %q", s)
	}
	if s, _ := ks.Lookup("pos-2"); string(s) != "inline-two" {
		t.Fatalf("inline did not override stored: %q", s)
	}
}

func TestLoadKeyStoreNilSource(t *testing.T) {
	if _, err := LoadKeyStore(nil, nil); err == nil {
		t.Fatal("expected configuration error with no keys")
	}
	ks, err := LoadKeyStore(nil, map[string]string{"k1": "s"})
	if err != nil || len(ks.KeyIDs()) != 1 {
		t.Fatalf("LoadKeyStore = %v, %v", ks, err)
	}
}

func TestSaveKeyRejects(t *testing.T) {
	ds, err := tstore.NewFileDataStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := SaveKey(ds, " ", []byte("x")); !errors.Is(err, ErrInvalidField) {
		t.Fatalf("blank kid err = %v", err)
	}
	if err := SaveKey(ds, "k", nil); !errors.Is(err, ErrMissingField) {
		t.Fatalf("empty secret err = %v", err)
	}
}
