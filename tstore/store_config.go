package tstore

import (
	"bufio"
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// A .conf store holds every key in one file:
//
//	printer.label=T{ZDesigner GK420t}
//	key.pos-1=B{AAECAwQF...}
//	note=T{
//	several lines
//	of text
//	}
//
// T{...} holds printable ASCII without braces. Everything else is written as
// B{...}, base64 wrapped at wrapWidth columns. Lines starting with # are
// comments.
const wrapWidth = 60

// entries is the in-memory form of a .conf file.
type entries map[string][]byte

// textSafe reports whether v can be written inside T{...}.
func textSafe(v []byte) bool {
	for _, b := range v {
		switch {
		case b == '{' || b == '}':
			return false
		case b >= 0x7f:
			return false
		case b < 0x20 && b != '\n' && b != '\t' && b != '\r':
			return false
		}
	}
	return true
}

type block struct {
	key    string
	binary bool
	body   bytes.Buffer
}

func (b *block) value() ([]byte, error) {
	if !b.binary {
		return bytes.Clone(bytes.Trim(b.body.Bytes(), "\n")), nil
	}
	return decodeBinary(b.key, b.body.String())
}

func decodeBinary(key, s string) ([]byte, error) {
	v, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, fmt.Errorf("decode base64 for key %q: %w", key, err)
	}
	return v, nil
}

// parseEntries reads the .conf format. Lines that do not parse are ignored.
func parseEntries(r io.Reader) (entries, error) {
	out := make(entries)
	sc := bufio.NewScanner(r)
	var open *block

	for sc.Scan() {
		raw := sc.Text()
		if open != nil {
			if raw != "}" {
				if open.body.Len() > 0 {
					open.body.WriteByte('\n')
				}
				open.body.WriteString(raw)
				continue
			}
			v, err := open.value()
			if err != nil {
				return nil, err
			}
			out[open.key] = v
			open = nil
			continue
		}

		line := strings.TrimSpace(raw)
		if line == "" || line[0] == '#' {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)
		if len(val) < 2 || (val[0] != 'T' && val[0] != 'B') || val[1] != '{' {
			continue
		}
		binary := val[0] == 'B'
		if val == "T{" || val == "B{" {
			open = &block{key: key, binary: binary}
			continue
		}
		if !strings.HasSuffix(val, "}") {
			continue
		}
		inner := val[2 : len(val)-1]
		if !binary {
			out[key] = []byte(inner)
			continue
		}
		v, err := decodeBinary(key, inner)
		if err != nil {
			return nil, err
		}
		out[key] = v
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if open != nil {
		return nil, fmt.Errorf("unterminated value for key %q", open.key)
	}
	return out, nil
}

// formatEntries writes e in key order.
func formatEntries(w io.Writer, e entries) error {
	keys := make([]string, 0, len(e))
	for k := range e {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	bw := bufio.NewWriter(w)
	for _, k := range keys {
		formatEntry(bw, k, e[k])
	}
	return bw.Flush()
}

func formatEntry(w *bufio.Writer, key string, v []byte) {
	if textSafe(v) {
		if bytes.IndexByte(v, '\n') >= 0 {
			fmt.Fprintf(w, "%s=T{\n%s\n}\n\n", key, v)
		} else {
			fmt.Fprintf(w, "%s=T{%s}\n\n", key, v)
		}
		return
	}
	enc := base64.StdEncoding.EncodeToString(v)
	if len(enc) <= wrapWidth {
		fmt.Fprintf(w, "%s=B{%s}\n\n", key, enc)
		return
	}
	fmt.Fprintf(w, "%s=B{\n", key)
	for len(enc) > 0 {
		n := min(wrapWidth, len(enc))
		w.WriteString(enc[:n])
		w.WriteByte('\n')
		enc = enc[n:]
	}
	w.WriteString("}\n\n")
}

// ConfigDataStore keeps all keys in a single .conf file. The whole file is
// rewritten on every change.
type ConfigDataStore struct {
	path string

	mu   sync.RWMutex
	data entries
}

var _ DataStore = (*ConfigDataStore)(nil)

// NewConfigDataStore loads path if it exists. The file is created on the
// first Set.
func NewConfigDataStore(path string) (*ConfigDataStore, error) {
	path = expandPath(path)
	s := &ConfigDataStore{path: path, data: make(entries)}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if s.data, err = parseEntries(f); err != nil {
		return nil, fmt.Errorf("tstore: %s: %w", path, err)
	}
	return s, nil
}

func (s *ConfigDataStore) Get(key string, decrypt bool) ([]byte, error) {
	s.mu.RLock()
	v := s.data[key]
	s.mu.RUnlock()

	if len(v) == 0 {
		return nil, nil
	}
	if !decrypt {
		return bytes.Clone(v), nil
	}
	plain, err := decryptValue(v)
	if err != nil {
		return nil, fmt.Errorf("tstore: decrypt %s: %w", key, err)
	}
	return plain, nil
}

func (s *ConfigDataStore) Set(key string, encrypt bool, value []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	v := bytes.Clone(value)
	if encrypt {
		var err error
		if v, err = encryptValue(value); err != nil {
			return fmt.Errorf("tstore: encrypt %s: %w", key, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = v
	return s.flush()
}

func (s *ConfigDataStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.flush()
}

func (s *ConfigDataStore) List(prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return filterSorted(keys, prefix), nil
}

func (s *ConfigDataStore) Path() string {
	return s.path
}

// flush must be called with mu held.
func (s *ConfigDataStore) flush() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := formatEntries(&buf, s.data); err != nil {
		return err
	}
	return writeFileAtomic(s.path, buf.Bytes(), 0600)
}
