package tquic

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/kardianos/ticketgate"
	"github.com/quic-go/quic-go"
)

// ErrRejected is returned by Dial when the server refuses the ticket.
var ErrRejected = errors.New("tquic: ticket rejected")

// Client is an authorized session from the client side.
type Client struct {
	conn *quic.Conn
	fc   *frameConn

	mu sync.Mutex
}

// Dial connects to addr and presents t. It returns once the server has
// accepted the ticket. A refusal wraps ErrRejected with the server's reason.
func Dial(ctx context.Context, addr string, tlsConf *tls.Config, t *ticketgate.Ticket) (*Client, error) {
	tc := tlsConf.Clone()
	tc.NextProtos = []string{ALPN}
	conn, err := quic.DialAddr(ctx, addr, tc, &quic.Config{KeepAlivePeriod: DefaultKeepAlivePeriod})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(CodeProtocol, "stream error")
		return nil, err
	}
	c := &Client{conn: conn, fc: &frameConn{stream: stream, limit: ticketgate.DefaultMaxMessageBytes}}

	raw, err := json.Marshal(t)
	if err != nil {
		conn.CloseWithError(CodeOK, "")
		return nil, err
	}
	if err := c.fc.WriteMessage(ctx, raw); err != nil {
		return nil, c.fail(err)
	}
	ack, err := c.read(ctx)
	if err != nil {
		return nil, c.fail(err)
	}
	if !ack.OK {
		conn.CloseWithError(CodeOK, "")
		return nil, fmt.Errorf("%w: %s", ErrRejected, ack.Message)
	}
	return c, nil
}

func (c *Client) fail(err error) error {
	var ae *quic.ApplicationError
	if errors.As(err, &ae) && ae.ErrorCode == CodeUnauthorized {
		return fmt.Errorf("%w: %s", ErrRejected, ae.ErrorMessage)
	}
	c.conn.CloseWithError(CodeProtocol, "")
	return err
}

func (c *Client) read(ctx context.Context) (ticketgate.Result, error) {
	var res ticketgate.Result
	raw, err := c.fc.ReadMessage(ctx)
	if err != nil {
		return res, err
	}
	err = json.Unmarshal(raw, &res)
	return res, err
}

// Do sends req and waits for its Result.
func (c *Client) Do(ctx context.Context, req *ticketgate.Request) (ticketgate.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, err := json.Marshal(req)
	if err != nil {
		return ticketgate.Result{}, err
	}
	if err := c.fc.WriteMessage(ctx, raw); err != nil {
		return ticketgate.Result{}, err
	}
	return c.read(ctx)
}

// Close ends the session.
func (c *Client) Close() error {
	c.fc.stream.Close()
	return c.conn.CloseWithError(CodeOK, "client closing")
}
