package ticketgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// DefaultMaxMessageBytes bounds one inbound message. It leaves room for a
// base64 payload of DefaultMaxPayloadBytes plus the surrounding ticket.
const DefaultMaxMessageBytes = 8 << 20

var errBinaryFrame = errors.New("binary frames are not accepted")

// ServerOpt configures a Server.
type ServerOpt struct {
	Validator *Validator
	Router    *Router
	Log       *slog.Logger
	Metrics   *Metrics

	// MaxMessageBytes is the inbound message limit. Default is
	// DefaultMaxMessageBytes.
	MaxMessageBytes int64

	// ReadTimeout closes a session that sends nothing for this long.
	// Zero disables it.
	ReadTimeout time.Duration

	// OriginPatterns restricts browser origins. Empty allows any origin;
	// the ticket is the authorization.
	OriginPatterns []string
}

// Server accepts WebSocket connections on /ws, authorizes each with the
// ticket in its query string and serves it as a Session.
type Server struct {
	validator   *Validator
	router      *Router
	log         *slog.Logger
	metrics     *Metrics
	maxMessage  int64
	readTimeout time.Duration
	origins     []string

	wg sync.WaitGroup
}

// NewServer returns a Server.
func NewServer(opt ServerOpt) (*Server, error) {
	if opt.Validator == nil {
		return nil, &ConfigError{Setting: "server", Err: errors.New("validator is required")}
	}
	if opt.Router == nil {
		return nil, &ConfigError{Setting: "server", Err: errors.New("router is required")}
	}
	log := opt.Log
	if log == nil {
		log = slog.Default()
	}
	maxMsg := opt.MaxMessageBytes
	if maxMsg <= 0 {
		maxMsg = DefaultMaxMessageBytes
	}
	return &Server{
		validator:   opt.Validator,
		router:      opt.Router,
		log:         log,
		metrics:     opt.Metrics,
		maxMessage:  maxMsg,
		readTimeout: opt.ReadTimeout,
		origins:     opt.OriginPatterns,
	}, nil
}

// MaxMessageBytes returns the effective inbound message limit.
func (s *Server) MaxMessageBytes() int64 { return s.maxMessage }

// NewSession returns a session for a connection from remote. Other
// transports use it to share validation, routing and metrics.
func (s *Server) NewSession(remote string) *Session {
	id := uuid.NewString()
	return NewSession(SessionOpt{
		ID:        id,
		Validator: s.validator,
		Router:    s.router,
		Metrics:   s.metrics,
		Log:       s.log.With("remote", remote),
	})
}

// Handler returns the HTTP routes: / for health, /ws for sessions and
// /metrics for Prometheus.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleHealth)
	mux.HandleFunc("/ws", s.handleWS)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return mux
}

// Serve serves HTTP on ln until ctx is done, then waits for open sessions
// to finish. ln may already be wrapped with TLS.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		ErrorLog:          slog.NewLogLogger(s.log.Handler(), slog.LevelWarn),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hs.Shutdown(shutdownCtx)
	}()

	s.log.Info("listening", "addr", ln.Addr().String())
	err := hs.Serve(ln)
	s.wg.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, "ticketgate ok\n")
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ticket")
	if strings.TrimSpace(raw) == "" {
		s.metrics.rejected()
		http.Error(w, ErrMissingHandshakeTicket.Error(), http.StatusUnauthorized)
		return
	}
	// Refuse plain HTTP before validating so the ticket is not consumed.
	if !isUpgrade(r) {
		http.Error(w, "websocket upgrade required", http.StatusBadRequest)
		return
	}
	var t Ticket
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		s.metrics.rejected()
		http.Error(w, "invalid ticket: malformed JSON", http.StatusUnauthorized)
		return
	}

	sess := s.NewSession(r.RemoteAddr)
	if err := sess.Authorize(&t); err != nil {
		http.Error(w, "invalid ticket: "+err.Error(), http.StatusUnauthorized)
		return
	}

	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns:     s.origins,
		InsecureSkipVerify: len(s.origins) == 0,
	})
	if err != nil {
		sess.Close()
		s.log.Warn("websocket accept failed", "session", sess.ID(), "err", err)
		return
	}
	c.SetReadLimit(s.maxMessage)

	s.wg.Add(1)
	defer s.wg.Done()

	err = sess.Serve(r.Context(), &wsConn{c: c, readTimeout: s.readTimeout})
	var pe *ProtocolError
	switch {
	case err == nil:
		c.Close(websocket.StatusNormalClosure, "")
	case errors.As(err, &pe):
		status := websocket.StatusPolicyViolation
		if pe.Op == "decode" || errors.Is(pe.Err, errBinaryFrame) {
			status = websocket.StatusUnsupportedData
		}
		c.Close(status, closeReason(pe.Error()))
	case r.Context().Err() != nil:
		c.Close(websocket.StatusGoingAway, "server shutting down")
	default:
		s.log.Debug("session ended", "session", sess.ID(), "err", err)
		c.CloseNow()
	}
}

func isUpgrade(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return false
	}
	for _, v := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(v), "upgrade") {
			return true
		}
	}
	return false
}

// closeReason fits a close frame's 123 byte reason limit.
func closeReason(s string) string {
	const limit = 123
	if len(s) <= limit {
		return s
	}
	return s[:limit]
}

// wsConn adapts a WebSocket connection to Conn.
type wsConn struct {
	c           *websocket.Conn
	readTimeout time.Duration
}

func (w *wsConn) ReadMessage(ctx context.Context) ([]byte, error) {
	if w.readTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.readTimeout)
		defer cancel()
	}
	typ, data, err := w.c.Read(ctx)
	if err != nil {
		switch websocket.CloseStatus(err) {
		case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
			return nil, io.EOF
		case websocket.StatusMessageTooBig:
			return nil, &ProtocolError{Op: "read", Err: ErrMessageTooLarge}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return nil, io.EOF
		}
		return nil, &ProtocolError{Op: "read", Err: err}
	}
	if typ != websocket.MessageText {
		return nil, &ProtocolError{Op: "read", Err: errBinaryFrame}
	}
	return data, nil
}

func (w *wsConn) WriteMessage(ctx context.Context, data []byte) error {
	if err := w.c.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}
