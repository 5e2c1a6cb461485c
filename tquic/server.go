// Package tquic serves ticketgate sessions over QUIC.
//
// A client opens one bidirectional stream and sends its ticket as the
// first frame. The server answers with an acknowledgement Result and then
// handles request frames exactly as the WebSocket transport does. A
// rejected ticket closes the connection with CodeUnauthorized and the
// reason before anything else is read.
package tquic

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/kardianos/ticketgate"
	"github.com/quic-go/quic-go"
)

// ALPN is the application protocol negotiated in the TLS handshake.
const ALPN = "ticketgate"

// Connection close codes.
const (
	CodeOK           quic.ApplicationErrorCode = 0
	CodeProtocol     quic.ApplicationErrorCode = 400
	CodeUnauthorized quic.ApplicationErrorCode = 401
	CodeGoingAway    quic.ApplicationErrorCode = 1001
)

// DefaultKeepAlivePeriod keeps idle local connections open.
const DefaultKeepAlivePeriod = 15 * time.Second

// handshakeTimeout bounds the wait for the ticket frame.
const handshakeTimeout = 10 * time.Second

// Opt configures a Server.
type Opt struct {
	// Gate supplies sessions and the message limit.
	Gate *ticketgate.Server
	// TLS must hold the server certificate. NextProtos is replaced.
	TLS *tls.Config
	Log *slog.Logger

	KeepAlivePeriod time.Duration
	ReadTimeout     time.Duration
}

// Server accepts QUIC connections and serves each as a ticketgate session.
type Server struct {
	gate        *ticketgate.Server
	tls         *tls.Config
	log         *slog.Logger
	keepAlive   time.Duration
	readTimeout time.Duration

	wg sync.WaitGroup
}

// NewServer returns a Server.
func NewServer(opt Opt) (*Server, error) {
	if opt.Gate == nil {
		return nil, &ticketgate.ConfigError{Setting: "server.quic-listen", Err: errors.New("gate is required")}
	}
	if opt.TLS == nil || (len(opt.TLS.Certificates) == 0 && opt.TLS.GetCertificate == nil) {
		return nil, &ticketgate.ConfigError{Setting: "server.quic-listen", Err: errors.New("a certificate is required")}
	}
	tc := opt.TLS.Clone()
	tc.NextProtos = []string{ALPN}
	if tc.MinVersion < tls.VersionTLS13 {
		tc.MinVersion = tls.VersionTLS13
	}
	log := opt.Log
	if log == nil {
		log = slog.Default()
	}
	ka := opt.KeepAlivePeriod
	if ka <= 0 {
		ka = DefaultKeepAlivePeriod
	}
	return &Server{
		gate:        opt.Gate,
		tls:         tc,
		log:         log.With("transport", "quic"),
		keepAlive:   ka,
		readTimeout: opt.ReadTimeout,
	}, nil
}

// ListenAndServe listens on the UDP address addr and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	pc, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to create UDP packet conn: %w", err)
	}
	defer pc.Close()
	return s.Serve(ctx, pc)
}

// Serve accepts connections on pc until ctx is done, then closes open
// connections and waits for their sessions to end.
func (s *Server) Serve(ctx context.Context, pc net.PacketConn) error {
	qc := &quic.Config{
		KeepAlivePeriod: s.keepAlive,
		MaxIdleTimeout:  s.keepAlive * 4,
	}
	ln, err := quic.Listen(pc, s.tls, qc)
	if err != nil {
		return fmt.Errorf("failed to start QUIC listener: %w", err)
	}
	defer ln.Close()
	s.log.Info("listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(ctx, conn)
		}()
	}
}

func (s *Server) handleConn(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()

	hctx, cancel := context.WithTimeout(ctx, handshakeTimeout)
	stream, err := conn.AcceptStream(hctx)
	if err != nil {
		cancel()
		conn.CloseWithError(CodeProtocol, "no stream")
		return
	}
	fc := &frameConn{stream: stream, limit: s.gate.MaxMessageBytes(), readTimeout: s.readTimeout}
	raw, err := fc.ReadMessage(hctx)
	cancel()
	if err != nil {
		s.log.Debug("handshake read failed", "remote", remote, "err", err)
		conn.CloseWithError(CodeUnauthorized, ticketgate.ErrMissingHandshakeTicket.Error())
		return
	}

	var t ticketgate.Ticket
	if err := json.Unmarshal(raw, &t); err != nil {
		conn.CloseWithError(CodeUnauthorized, "invalid ticket: malformed JSON")
		return
	}
	sess := s.gate.NewSession(remote)
	if err := sess.Authorize(&t); err != nil {
		conn.CloseWithError(CodeUnauthorized, "invalid ticket: "+err.Error())
		return
	}

	ack, _ := json.Marshal(ticketgate.Result{OK: true, Message: "authorized"})
	if err := fc.WriteMessage(ctx, ack); err != nil {
		sess.Close()
		conn.CloseWithError(CodeProtocol, "write failed")
		return
	}

	err = sess.Serve(ctx, fc)
	var pe *ticketgate.ProtocolError
	switch {
	case err == nil:
		stream.Close()
		conn.CloseWithError(CodeOK, "")
	case errors.As(err, &pe):
		conn.CloseWithError(CodeProtocol, pe.Error())
	case ctx.Err() != nil:
		conn.CloseWithError(CodeGoingAway, "server shutting down")
	default:
		s.log.Debug("session ended", "session", sess.ID(), "err", err)
		conn.CloseWithError(CodeProtocol, "")
	}
}
