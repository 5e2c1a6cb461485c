package tquic

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/kardianos/ticketgate"
	"github.com/quic-go/quic-go"
)

// frameConn carries length prefixed messages on one stream.
// Each frame is a 4 byte big-endian length followed by the message.
type frameConn struct {
	stream      *quic.Stream
	limit       int64
	readTimeout time.Duration
}

var _ ticketgate.Conn = (*frameConn)(nil)

func (f *frameConn) ReadMessage(ctx context.Context) ([]byte, error) {
	if f.readTimeout > 0 {
		f.stream.SetReadDeadline(time.Now().Add(f.readTimeout))
	} else {
		f.stream.SetReadDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() { f.stream.SetReadDeadline(time.Now()) })
	defer stop()

	var hdr [4]byte
	if _, err := io.ReadFull(f.stream, hdr[:]); err != nil {
		return nil, f.readErr(ctx, err)
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if int64(n) > f.limit {
		return nil, &ticketgate.ProtocolError{Op: "read", Err: ticketgate.ErrMessageTooLarge}
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(f.stream, buf); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, f.readErr(ctx, err)
	}
	return buf, nil
}

func (f *frameConn) readErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) || closedCleanly(err) {
		return io.EOF
	}
	var nerr interface{ Timeout() bool }
	if errors.As(err, &nerr) && nerr.Timeout() {
		return &ticketgate.ProtocolError{Op: "read", Err: errIdle}
	}
	return err
}

func (f *frameConn) WriteMessage(ctx context.Context, data []byte) error {
	if int64(len(data)) > int64(^uint32(0)) {
		return ticketgate.ErrMessageTooLarge
	}
	if dl, ok := ctx.Deadline(); ok {
		f.stream.SetWriteDeadline(dl)
	}
	frame := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[4:], data)
	if _, err := f.stream.Write(frame); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

var errIdle = errors.New("idle timeout")

// closedCleanly reports whether err is the peer closing the connection
// with code CodeOK.
func closedCleanly(err error) bool {
	var ae *quic.ApplicationError
	return errors.As(err, &ae) && ae.ErrorCode == CodeOK
}
