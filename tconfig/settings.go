// Package tconfig reads and edits the service settings file.
package tconfig

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings is the decoded settings file.
type Settings struct {
	Server   Server   `yaml:"server"`
	Ticket   Ticket   `yaml:"ticket"`
	Printing Printing `yaml:"printing"`
	Log      Log      `yaml:"log"`
}

// Server configures the listeners.
type Server struct {
	// Listen is the WebSocket (HTTPS) listen address.
	Listen string `yaml:"listen"`
	// QUICListen enables the QUIC transport when set.
	QUICListen string `yaml:"quic-listen"`

	CertFile    string `yaml:"cert-file"`
	KeyFile     string `yaml:"key-file"`
	PFXFile     string `yaml:"pfx-file"`
	PFXPassword string `yaml:"pfx-password"`
	SelfSigned  bool   `yaml:"self-signed"`

	MaxMessageBytes    int64    `yaml:"max-message-bytes"`
	ReadTimeoutSeconds int      `yaml:"read-timeout-seconds"`
	OriginPatterns     []string `yaml:"origin-patterns"`
}

// Ticket configures ticket validation.
type Ticket struct {
	MaxSkewSeconds     int `yaml:"max-skew-seconds"`
	MaxLifetimeSeconds int `yaml:"max-lifetime-seconds"`

	// ReplayJournal persists consumed tickets across restarts when set.
	ReplayJournal string `yaml:"replay-journal"`
	// KeyStore is the tstore path holding encrypted signing keys.
	KeyStore string `yaml:"key-store"`
	// Keys are inline signing keys. They replace any stored keys.
	Keys map[string]string `yaml:"keys"`
}

// Printing configures the printer collaborators.
type Printing struct {
	LabelPrinter    string            `yaml:"label-printer"`
	DocumentPrinter string            `yaml:"document-printer"`
	Destinations    map[string]string `yaml:"destinations"`
	MaxPayloadBytes int               `yaml:"max-payload-bytes"`

	// Spooler is "system" or "dir".
	Spooler   string `yaml:"spooler"`
	SpoolDir  string `yaml:"spool-dir"`
	LPCommand string `yaml:"lp-command"`
}

// Log configures the service logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

const (
	SpoolerSystem = "system"
	SpoolerDir    = "dir"
)

// Default returns the settings used for any key the file leaves out.
func Default() Settings {
	return Settings{
		Server: Server{
			Listen:             ":11000",
			SelfSigned:         true,
			MaxMessageBytes:    8 << 20,
			ReadTimeoutSeconds: 0,
		},
		Ticket: Ticket{
			MaxSkewSeconds:     120,
			MaxLifetimeSeconds: 600,
			KeyStore:           defaultKeyStore(),
		},
		Printing: Printing{
			LabelPrinter:    "ZEBRA_D220",
			DocumentPrinter: "Microsoft Print to PDF",
			MaxPayloadBytes: 5 << 20,
			Spooler:         SpoolerSystem,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultPath is where the service looks for its settings file.
func DefaultPath() string {
	return filepath.Join(defaultDir(), "ticketgate.yaml")
}

// Load reads the settings file at path over the defaults.
// A missing file yields the defaults.
func Load(path string) (*Settings, error) {
	s := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return &s, nil
	case err != nil:
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err := decode(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return &s, s.Validate()
}

func decode(data []byte, s *Settings) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(s)
}

// Validate reports the first setting that cannot be used.
func (s *Settings) Validate() error {
	switch {
	case s.Server.Listen == "" && s.Server.QUICListen == "":
		return errors.New("server.listen or server.quic-listen is required")
	case s.Server.MaxMessageBytes < 0:
		return errors.New("server.max-message-bytes must not be negative")
	case s.Server.ReadTimeoutSeconds < 0:
		return errors.New("server.read-timeout-seconds must not be negative")
	case s.Ticket.MaxSkewSeconds < 0:
		return errors.New("ticket.max-skew-seconds must not be negative")
	case s.Ticket.MaxLifetimeSeconds < 0:
		return errors.New("ticket.max-lifetime-seconds must not be negative")
	case s.Printing.MaxPayloadBytes < 0:
		return errors.New("printing.max-payload-bytes must not be negative")
	}
	switch s.Printing.Spooler {
	case SpoolerSystem:
	case SpoolerDir:
		if s.Printing.SpoolDir == "" {
			return errors.New("printing.spool-dir is required for the dir spooler")
		}
	default:
		return fmt.Errorf("printing.spooler %q unknown (supported: system, dir)", s.Printing.Spooler)
	}
	switch s.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q unknown (supported: text, json)", s.Log.Format)
	}
	return nil
}

// MaxSkew returns the configured clock skew tolerance.
func (t Ticket) MaxSkew() time.Duration { return time.Duration(t.MaxSkewSeconds) * time.Second }

// MaxLifetime returns the configured ticket lifetime cap.
func (t Ticket) MaxLifetime() time.Duration {
	return time.Duration(t.MaxLifetimeSeconds) * time.Second
}

// ReadTimeout returns the idle read timeout, zero for none.
func (s Server) ReadTimeout() time.Duration {
	return time.Duration(s.ReadTimeoutSeconds) * time.Second
}
