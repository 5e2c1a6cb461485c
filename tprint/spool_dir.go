package tprint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DirSpooler writes each job to <dir>/<destination>/<time>-<id>.<ext>.
// Raw jobs get ".prn", documents ".pdf".
type DirSpooler struct {
	dir string
	now func() time.Time
}

var _ Spooler = (*DirSpooler)(nil)

// NewDirSpooler creates dir if needed.
func NewDirSpooler(dir string) (*DirSpooler, error) {
	if dir == "" {
		return nil, fmt.Errorf("tprint: spool directory is required")
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("tprint: create spool directory: %w", err)
	}
	return &DirSpooler{dir: dir, now: time.Now}, nil
}

func (s *DirSpooler) Submit(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sub := filepath.Join(s.dir, safeName(job.Destination))
	if err := os.MkdirAll(sub, 0750); err != nil {
		return err
	}
	ext := ".pdf"
	if job.Raw {
		ext = ".prn"
	}
	name := s.now().UTC().Format("20060102T150405") + "-" + uuid.NewString() + ext

	tmp := filepath.Join(sub, "."+name)
	if err := os.WriteFile(tmp, job.Data, 0640); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(sub, name))
}

// safeName keeps a destination usable as a single path element.
func safeName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r == '/' || r == '\\' || r == ':' || r < 0x20:
			return '_'
		}
		return r
	}, strings.TrimSpace(s))
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
