// Package tprint delivers authorized print jobs to output devices: an
// operating system print queue or, for testing and kiosks, a directory.
package tprint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
)

// Printer classes.
const (
	ClassLabel    = "label"
	ClassDocument = "document"
)

// Legacy class names accepted from older issuers.
var classAliases = map[string]string{
	"zebra":  ClassLabel,
	"normal": ClassDocument,
}

// Destinations maps printer classes to device names. It is immutable.
type Destinations struct {
	classes map[string]string
}

// NewDestinations builds the table. label and document fill the two
// standard classes; extra adds or overrides named classes.
func NewDestinations(label, document string, extra map[string]string) *Destinations {
	d := &Destinations{classes: make(map[string]string, len(extra)+2)}
	set := func(class, dest string) {
		class = strings.ToLower(strings.TrimSpace(class))
		dest = strings.TrimSpace(dest)
		if class != "" && dest != "" {
			d.classes[class] = dest
		}
	}
	set(ClassLabel, label)
	set(ClassDocument, document)
	for class, dest := range extra {
		set(class, dest)
	}
	return d
}

// ResolveDestination returns the device for class, or "" if none is
// configured. An explicitly configured class wins over its alias.
func (d *Destinations) ResolveDestination(class string) string {
	class = strings.ToLower(strings.TrimSpace(class))
	if dest, ok := d.classes[class]; ok {
		return dest
	}
	if alias, ok := classAliases[class]; ok {
		return d.classes[alias]
	}
	return ""
}

// Classes returns the configured class names in order.
func (d *Destinations) Classes() []string {
	out := make([]string, 0, len(d.classes))
	for c := range d.classes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Job is one submission to a spooler.
type Job struct {
	Destination string
	Name        string
	Data        []byte

	// Raw jobs bypass the driver; document jobs may be rendered by it.
	Raw bool
}

// Spooler hands a job to an output device.
type Spooler interface {
	Submit(ctx context.Context, job Job) error
}

// ErrEmptyJob is returned for a job with no data.
var ErrEmptyJob = errors.New("tprint: no data to print")

// Printer submits label and document payloads through a Spooler.
type Printer struct {
	spool Spooler
	log   *slog.Logger
}

// NewPrinter returns a Printer. log may be nil.
func NewPrinter(s Spooler, log *slog.Logger) *Printer {
	if log == nil {
		log = slog.Default()
	}
	return &Printer{spool: s, log: log}
}

// SubmitRaw sends printer-language bytes such as ZPL unmodified.
func (p *Printer) SubmitRaw(ctx context.Context, destination string, data []byte) error {
	return p.submit(ctx, Job{Destination: destination, Name: "ticketgate label", Data: data, Raw: true})
}

// SubmitDocument sends a document such as a PDF.
func (p *Printer) SubmitDocument(ctx context.Context, destination string, data []byte) error {
	return p.submit(ctx, Job{Destination: destination, Name: "ticketgate document", Data: data})
}

func (p *Printer) submit(ctx context.Context, job Job) error {
	if strings.TrimSpace(job.Destination) == "" {
		return errors.New("tprint: destination is empty")
	}
	if len(job.Data) == 0 {
		return ErrEmptyJob
	}
	if err := p.spool.Submit(ctx, job); err != nil {
		p.log.ErrorContext(ctx, "print failed", "destination", job.Destination, "raw", job.Raw, "err", err)
		return fmt.Errorf("print to %s: %w", job.Destination, err)
	}
	p.log.InfoContext(ctx, "printed", "destination", job.Destination, "raw", job.Raw, "bytes", len(job.Data))
	return nil
}
