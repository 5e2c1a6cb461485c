package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/kardianos/ticketgate"
	"github.com/kardianos/ticketgate/tcert"
	"github.com/kardianos/ticketgate/tconfig"
	"github.com/kardianos/ticketgate/tident"
	"github.com/kardianos/ticketgate/tprint"
	"github.com/kardianos/ticketgate/tquic"
	"github.com/kardianos/ticketgate/tstore"
)

// ServeOptions configures the serve mode.
type ServeOptions struct {
	ConfigPath string
}

// ServeResult reports the bound addresses once the service is listening.
type ServeResult struct {
	Addr     string // WebSocket listener, empty if disabled.
	QUICAddr string // QUIC listener, empty if disabled.
}

func runServeMode(ctx context.Context, args []string) error {
	opts := &ServeOptions{}
	fs := newFlagSet("serve", &opts.ConfigPath)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return RunServe(ctx, opts)
}

// RunServe runs the service until ctx is cancelled.
func RunServe(ctx context.Context, opts *ServeOptions) error {
	return RunServeWithResult(ctx, opts, nil)
}

// RunServeWithResult runs the service and, if resultCh is set, sends the
// listening addresses after startup.
func RunServeWithResult(ctx context.Context, opts *ServeOptions, resultCh chan<- *ServeResult) error {
	settings, err := tconfig.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	log, closeLog, err := newLogger(settings.Log, os.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	keys, err := loadKeys(settings, log)
	if err != nil {
		return err
	}

	replayOpt := ticketgate.ReplayOpt{
		OnJournalError: func(err error) { log.Error("replay journal", "err", err) },
	}
	if path := settings.Ticket.ReplayJournal; path != "" {
		journal, err := ticketgate.OpenBoltJournal(path)
		if err != nil {
			return &ticketgate.ConfigError{Setting: "ticket.replay-journal", Err: err}
		}
		defer journal.Close()
		replayOpt.Journal = journal
	}
	replay := ticketgate.NewReplayCache(replayOpt)
	if replayOpt.Journal != nil {
		n, err := replay.RestoreJournal()
		if err != nil {
			return &ticketgate.ConfigError{Setting: "ticket.replay-journal", Err: err}
		}
		log.Info("replay journal restored", "entries", n)
	}

	validator, err := ticketgate.NewValidator(ticketgate.ValidatorOpt{
		Keys:            keys,
		Replay:          replay,
		MaxSkew:         settings.Ticket.MaxSkew(),
		MaxLifetime:     settings.Ticket.MaxLifetime(),
		MaxPayloadBytes: int64(settings.Printing.MaxPayloadBytes),
	})
	if err != nil {
		return err
	}
	metrics := ticketgate.NewMetrics(replay)

	spooler, err := newSpooler(settings.Printing)
	if err != nil {
		return &ticketgate.ConfigError{Setting: "printing.spooler", Err: err}
	}
	router, err := ticketgate.NewRouter(ticketgate.RouterOpt{
		Validator: validator,
		Identity:  tident.NewResolver(),
		Printer:   tprint.NewPrinter(spooler, log),
		Destinations: tprint.NewDestinations(
			settings.Printing.LabelPrinter,
			settings.Printing.DocumentPrinter,
			settings.Printing.Destinations,
		),
		Log:     log,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}
	gate, err := ticketgate.NewServer(ticketgate.ServerOpt{
		Validator:       validator,
		Router:          router,
		Log:             log,
		Metrics:         metrics,
		MaxMessageBytes: settings.Server.MaxMessageBytes,
		ReadTimeout:     settings.Server.ReadTimeout(),
		OriginPatterns:  settings.Server.OriginPatterns,
	})
	if err != nil {
		return err
	}

	var cert *tls.Certificate
	src := tcert.Source{
		CertFile:    settings.Server.CertFile,
		KeyFile:     settings.Server.KeyFile,
		PFXFile:     settings.Server.PFXFile,
		PFXPassword: settings.Server.PFXPassword,
		SelfSigned:  settings.Server.SelfSigned,
	}
	if src.Configured() {
		c, err := tcert.Load(src)
		if err != nil {
			return &ticketgate.ConfigError{Setting: "server.cert-file", Err: err}
		}
		cert = &c
	}

	if settings.Server.QUICListen != "" && cert == nil {
		return &ticketgate.ConfigError{Setting: "server.quic-listen", Err: errors.New("QUIC requires a certificate")}
	}

	// The first listener to fail stops the other.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := &ServeResult{}
	errCh := make(chan error, 2)
	running := 0

	if addr := settings.Server.Listen; addr != "" {
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		result.Addr = ln.Addr().String()
		if cert != nil {
			ln = tls.NewListener(ln, tcert.ServerConfig(*cert, "http/1.1"))
		} else {
			log.Warn("serving WebSocket without TLS", "addr", result.Addr)
		}
		running++
		go func() { errCh <- gate.Serve(ctx, ln) }()
	}

	if addr := settings.Server.QUICListen; addr != "" {
		qs, err := tquic.NewServer(tquic.Opt{
			Gate:        gate,
			TLS:         tcert.ServerConfig(*cert),
			Log:         log,
			ReadTimeout: settings.Server.ReadTimeout(),
		})
		if err != nil {
			return err
		}
		pc, err := net.ListenPacket("udp", addr)
		if err != nil {
			return fmt.Errorf("listen quic: %w", err)
		}
		defer pc.Close()
		result.QUICAddr = pc.LocalAddr().String()
		running++
		go func() { errCh <- qs.Serve(ctx, pc) }()
	}

	log.Info("ticketgate started", "version", version, "addr", result.Addr, "quic_addr", result.QUICAddr, "keys", len(keys.KeyIDs()))
	if resultCh != nil {
		resultCh <- result
	}

	var first error
	for range running {
		if err := <-errCh; err != nil && first == nil {
			first = err
			cancel()
		}
	}
	log.Info("ticketgate stopped")
	return first
}

// loadKeys merges the key store with inline keys. A key store that cannot
// be opened is only fatal when there are no inline keys to fall back on.
func loadKeys(settings *tconfig.Settings, log *slog.Logger) (*ticketgate.KeyStore, error) {
	var src ticketgate.KeySource
	if path := settings.Ticket.KeyStore; path != "" {
		store, err := tstore.Open(path)
		switch {
		case err == nil:
			src = store
		case len(settings.Ticket.Keys) == 0:
			return nil, &ticketgate.ConfigError{Setting: "ticket.key-store", Err: err}
		default:
			log.Warn("key store unavailable, using inline keys", "path", path, "err", err)
		}
	}
	return ticketgate.LoadKeyStore(src, settings.Ticket.Keys)
}

func newSpooler(p tconfig.Printing) (tprint.Spooler, error) {
	if p.Spooler == tconfig.SpoolerDir {
		return tprint.NewDirSpooler(p.SpoolDir)
	}
	return tprint.NewSystemSpooler(p.LPCommand), nil
}
