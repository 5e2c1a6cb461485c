package ticketgate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"

	"github.com/kardianos/ticketgate/tstate"
)

// SessionState is the lifecycle position of a Session.
type SessionState uint8

const (
	StateAwaitingTicket SessionState = iota
	StateAuthorized
	StateRejected
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateAwaitingTicket:
		return "awaiting-ticket"
	case StateAuthorized:
		return "authorized"
	case StateRejected:
		return "rejected"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var sessionTransitions = []tstate.Transition[SessionState]{
	{From: StateAwaitingTicket, To: StateAuthorized, Name: "authorize"},
	{From: StateAwaitingTicket, To: StateRejected, Name: "reject"},
	{From: StateAwaitingTicket, To: StateClosed, Name: "abandon"},
	{From: StateAuthorized, To: StateClosed, Name: "close"},
}

// Conn is a message-oriented transport carrying JSON text messages.
type Conn interface {
	// ReadMessage returns the next message. It returns io.EOF when the
	// peer closed cleanly and a *ProtocolError for bad framing.
	ReadMessage(ctx context.Context) ([]byte, error)
	WriteMessage(ctx context.Context, data []byte) error
}

// Session is one transport connection. It holds the single action its
// handshake ticket authorized and never re-validates that ticket.
type Session struct {
	id        string
	validator *Validator
	router    *Router
	metrics   *Metrics
	log       *slog.Logger
	state     *tstate.Machine[SessionState]

	action   Action
	clientID string
}

// SessionOpt configures a Session.
type SessionOpt struct {
	ID        string
	Validator *Validator
	Router    *Router
	Metrics   *Metrics
	Log       *slog.Logger
}

// NewSession returns a session awaiting its handshake ticket.
func NewSession(opt SessionOpt) *Session {
	log := opt.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Session{
		id:        opt.ID,
		validator: opt.Validator,
		router:    opt.Router,
		metrics:   opt.Metrics,
		log:       log.With("session", opt.ID),
	}
	s.state = tstate.New(StateAwaitingTicket, sessionTransitions, s.changed)
	return s
}

func (s *Session) changed(from, to SessionState, name string) {
	switch {
	case to == StateAuthorized:
		s.metrics.sessionOpened()
	case from == StateAuthorized:
		s.metrics.sessionClosed()
	case to == StateRejected:
		s.metrics.rejected()
	}
	s.log.Debug("session state", "from", from, "to", to, "event", name)
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() SessionState { return s.state.Current() }

// Action returns the authorized action, or "" before authorization.
func (s *Session) Action() Action {
	if s.state.Current() != StateAuthorized {
		return ""
	}
	return s.action
}

// Authorize validates the handshake ticket. On failure the session is
// rejected and the *ValidationError is returned for the transport to report.
func (s *Session) Authorize(t *Ticket) error {
	if s.state.Current() != StateAwaitingTicket {
		return &tstate.TransitionError[SessionState]{From: s.state.Current(), To: StateAuthorized}
	}
	_, err := s.validator.Validate(t)
	s.metrics.validated(err)
	if err != nil {
		_ = s.state.TransitionFrom(StateAwaitingTicket, StateRejected)
		s.log.Warn("handshake rejected", "client_id", t.ClientID, "job_id", t.JobID, "err", err)
		return err
	}
	act, _ := ParseAction(t.Action)
	s.action = act
	s.clientID = t.Normalized().ClientID
	if err := s.state.TransitionFrom(StateAwaitingTicket, StateAuthorized); err != nil {
		return err
	}
	s.log.Info("session authorized", "client_id", s.clientID, "action", act)
	return nil
}

// Close ends the session. It is safe to call more than once.
func (s *Session) Close() {
	for _, from := range []SessionState{StateAuthorized, StateAwaitingTicket} {
		if s.state.TransitionFrom(from, StateClosed) == nil {
			return
		}
	}
}

// Handle decodes and dispatches one message. The error is a *ProtocolError
// when the message cannot be decoded; the session should then be closed.
func (s *Session) Handle(ctx context.Context, raw []byte) (Result, error) {
	if s.state.Current() != StateAuthorized {
		return Result{}, &ProtocolError{Op: "dispatch", Err: ErrSessionNotAuthorized}
	}
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Result{}, &ProtocolError{Op: "decode", Err: err}
	}
	return s.router.Dispatch(ctx, s.action, &req), nil
}

// Serve processes messages from conn one at a time until the peer closes,
// ctx is cancelled or a protocol error occurs. The session is closed on
// return. A clean close returns nil.
func (s *Session) Serve(ctx context.Context, conn Conn) error {
	defer s.Close()
	if s.state.Current() != StateAuthorized {
		return &ProtocolError{Op: "serve", Err: ErrSessionNotAuthorized}
	}
	for {
		raw, err := conn.ReadMessage(ctx)
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			return err
		}

		res, err := s.Handle(ctx, raw)
		if err != nil {
			s.log.Warn("closing on protocol error", "err", err)
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		out, err := json.Marshal(res)
		if err != nil {
			return err
		}
		if err := conn.WriteMessage(ctx, out); err != nil {
			return err
		}
	}
}
