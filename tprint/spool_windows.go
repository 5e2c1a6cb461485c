//go:build windows

package tprint

import (
	"context"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modWinspool = windows.NewLazySystemDLL("winspool.drv")

	procOpenPrinterW     = modWinspool.NewProc("OpenPrinterW")
	procClosePrinter     = modWinspool.NewProc("ClosePrinter")
	procStartDocPrinterW = modWinspool.NewProc("StartDocPrinterW")
	procEndDocPrinter    = modWinspool.NewProc("EndDocPrinter")
	procStartPagePrinter = modWinspool.NewProc("StartPagePrinter")
	procEndPagePrinter   = modWinspool.NewProc("EndPagePrinter")
	procWritePrinter     = modWinspool.NewProc("WritePrinter")
)

// docInfo1 is DOC_INFO_1W.
type docInfo1 struct {
	docName    *uint16
	outputFile *uint16
	datatype   *uint16
}

const writeChunk = 64 << 10

// SystemSpooler writes jobs to a Windows print queue with the RAW
// datatype. Documents must be in a language the printer accepts directly.
type SystemSpooler struct{}

var _ Spooler = (*SystemSpooler)(nil)

// NewSystemSpooler returns the winspool spooler. The argument is accepted
// for symmetry with other platforms and ignored.
func NewSystemSpooler(string) *SystemSpooler {
	return &SystemSpooler{}
}

func call(p *windows.LazyProc, step string, args ...uintptr) (uintptr, error) {
	r, _, errno := p.Call(args...)
	if r == 0 {
		return 0, fmt.Errorf("%s: %w", step, errno)
	}
	return r, nil
}

func (s *SystemSpooler) Submit(ctx context.Context, job Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	name, err := windows.UTF16PtrFromString(job.Destination)
	if err != nil {
		return err
	}
	var h windows.Handle
	if _, err := call(procOpenPrinterW, "OpenPrinter", uintptr(unsafe.Pointer(name)), uintptr(unsafe.Pointer(&h)), 0); err != nil {
		return err
	}
	defer procClosePrinter.Call(uintptr(h))

	docName, _ := windows.UTF16PtrFromString(job.Name)
	datatype, _ := windows.UTF16PtrFromString("RAW")
	di := docInfo1{docName: docName, datatype: datatype}
	if _, err := call(procStartDocPrinterW, "StartDocPrinter", uintptr(h), 1, uintptr(unsafe.Pointer(&di))); err != nil {
		return err
	}
	defer procEndDocPrinter.Call(uintptr(h))

	if _, err := call(procStartPagePrinter, "StartPagePrinter", uintptr(h)); err != nil {
		return err
	}
	defer procEndPagePrinter.Call(uintptr(h))

	data := job.Data
	for len(data) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := min(len(data), writeChunk)
		var written uint32
		if _, err := call(procWritePrinter, "WritePrinter",
			uintptr(h), uintptr(unsafe.Pointer(&data[0])), uintptr(n), uintptr(unsafe.Pointer(&written))); err != nil {
			return err
		}
		if written == 0 {
			return fmt.Errorf("WritePrinter: wrote 0 of %d bytes", n)
		}
		data = data[written:]
	}
	return nil
}
