package tconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoSuchKey is returned by Get for a path the document does not hold.
var ErrNoSuchKey = errors.New("tconfig: no such key")

// Document is a settings file held as a YAML node tree so edits keep the
// operator's comments and key order.
type Document struct {
	path string
	root yaml.Node
}

// Open reads the settings file at path. A missing or empty file gives an
// empty document.
func Open(path string) (*Document, error) {
	d := &Document{path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	case len(bytes.TrimSpace(data)) > 0:
		if err := yaml.Unmarshal(data, &d.root); err != nil {
			return nil, fmt.Errorf("parse settings %s: %w", path, err)
		}
	}
	if d.root.Kind == 0 {
		d.root = yaml.Node{Kind: yaml.DocumentNode}
	}
	if len(d.root.Content) == 0 {
		d.root.Content = []*yaml.Node{{Kind: yaml.MappingNode, Tag: "!!map"}}
	}
	if d.top().Kind != yaml.MappingNode {
		return nil, fmt.Errorf("parse settings %s: top level must be a mapping", path)
	}
	return d, nil
}

// Path returns the file the document was opened from.
func (d *Document) Path() string { return d.path }

func (d *Document) top() *yaml.Node { return d.root.Content[0] }

// splitPath accepts "a.b.c" or "a:b:c".
func splitPath(p string) []string {
	p = strings.TrimSpace(p)
	if p == "" {
		return nil
	}
	return strings.FieldsFunc(p, func(r rune) bool { return r == '.' || r == ':' })
}

func lookup(m *yaml.Node, key string) *yaml.Node {
	if m.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func (d *Document) find(path string) *yaml.Node {
	n := d.top()
	for _, k := range splitPath(path) {
		if n = lookup(n, k); n == nil {
			return nil
		}
	}
	return n
}

// Get decodes the value at path. An empty path returns the whole document.
func (d *Document) Get(path string) (any, error) {
	n := d.find(path)
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSuchKey, path)
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Set parses value as YAML and stores it at path, creating intermediate
// mappings. Comments on an existing key are kept. The change is refused
// when the result no longer decodes as Settings.
func (d *Document) Set(path, value string) error {
	keys := splitPath(path)
	if len(keys) == 0 {
		return errors.New("tconfig: empty key")
	}
	val, err := parseValue(value)
	if err != nil {
		return fmt.Errorf("tconfig: value for %s: %w", path, err)
	}

	n := d.top()
	for _, k := range keys[:len(keys)-1] {
		next := lookup(n, k)
		if next == nil {
			next = &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}
			n.Content = append(n.Content, scalar(k), next)
		}
		if next.Kind != yaml.MappingNode {
			return fmt.Errorf("tconfig: %s is not a section", k)
		}
		n = next
	}

	last := keys[len(keys)-1]
	target := lookup(n, last)
	if target == nil {
		n.Content = append(n.Content, scalar(last), val)
		if err := d.check(); err != nil {
			n.Content = n.Content[:len(n.Content)-2]
			return fmt.Errorf("tconfig: %s: %w", path, err)
		}
		return nil
	}

	old := *target
	target.Kind = val.Kind
	target.Tag = val.Tag
	target.Value = val.Value
	target.Style = val.Style
	target.Content = val.Content
	if err := d.check(); err != nil {
		*target = old
		return fmt.Errorf("tconfig: %s: %w", path, err)
	}
	return nil
}

func scalar(s string) *yaml.Node {
	return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: s}
}

func parseValue(s string) (*yaml.Node, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "", Style: yaml.DoubleQuotedStyle}, nil
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil {
		return nil, err
	}
	if len(doc.Content) == 0 {
		return scalar(s), nil
	}
	v := doc.Content[0]
	v.Line, v.Column = 0, 0
	return v, nil
}

func (d *Document) check() error {
	_, err := d.decode()
	return err
}

func (d *Document) decode() (Settings, error) {
	s := Default()
	data, err := yaml.Marshal(d.top())
	if err != nil {
		return s, err
	}
	return s, decode(data, &s)
}

// Settings decodes the document over the defaults and validates it.
func (d *Document) Settings() (*Settings, error) {
	s, err := d.decode()
	if err != nil {
		return nil, err
	}
	return &s, s.Validate()
}

// Ensure adds every default setting the document lacks without changing
// values already present. It returns the dotted paths it added.
func (d *Document) Ensure() ([]string, error) {
	var defaults yaml.Node
	if err := defaults.Encode(Default()); err != nil {
		return nil, err
	}
	var added []string
	merge(d.top(), &defaults, "", &added)
	return added, nil
}

func merge(dst, src *yaml.Node, prefix string, added *[]string) {
	for i := 0; i+1 < len(src.Content); i += 2 {
		k, v := src.Content[i], src.Content[i+1]
		p := k.Value
		if prefix != "" {
			p = prefix + "." + k.Value
		}
		have := lookup(dst, k.Value)
		switch {
		case have == nil:
			dst.Content = append(dst.Content, scalar(k.Value), v)
			*added = append(*added, p)
		case have.Kind == yaml.MappingNode && v.Kind == yaml.MappingNode:
			merge(have, v, p, added)
		}
	}
}

// Encode writes the document as YAML.
func (d *Document) Encode(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&d.root); err != nil {
		return err
	}
	return enc.Close()
}

// Save backs up the current file, if any, then replaces it atomically.
func (d *Document) Save() error {
	if _, err := Backup(d.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	var buf bytes.Buffer
	if err := d.Encode(&buf); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(d.path), ".settings-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	// The file may hold a PFX password.
	if err := os.Chmod(tmp.Name(), 0o600); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), d.path)
}

// Backup copies path to path+".bak" and returns the backup name.
func Backup(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	bak := path + ".bak"
	if err := os.WriteFile(bak, data, 0o600); err != nil {
		return "", err
	}
	return bak, nil
}
