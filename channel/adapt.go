package channel

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidated reports that a connection can no longer be used and must be
// rebuilt.
var ErrInvalidated = errors.New("channel: connection invalidated")

// ErrClosed is returned by Invoke after Close.
var ErrClosed = errors.New("channel: closed")

// DefaultInvalidMessages are the failure messages that identify a dead
// session for providers without typed errors.
var DefaultInvalidMessages = []string{
	"session is closed",
	"connection is closed",
	"use of closed network connection",
	"broken pipe",
}

// IsInvalidated is the default Invalidated predicate.
func IsInvalidated(err error) bool {
	return errors.Is(err, ErrInvalidated)
}

// MatchMessages returns a predicate that matches errors whose message
// contains any of substrings, ignoring case.
func MatchMessages(substrings ...string) func(error) bool {
	lowered := make([]string, 0, len(substrings))
	for _, s := range substrings {
		if s != "" {
			lowered = append(lowered, strings.ToLower(s))
		}
	}
	return func(err error) bool {
		if err == nil {
			return false
		}
		msg := strings.ToLower(err.Error())
		for _, s := range lowered {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
}

// Adapt wraps conn so that errors matched by match also match
// ErrInvalidated. A nil match uses DefaultInvalidMessages.
func Adapt[Req, Resp any](conn Conn[Req, Resp], match func(error) bool) Conn[Req, Resp] {
	if match == nil {
		match = MatchMessages(DefaultInvalidMessages...)
	}
	return &adaptedConn[Req, Resp]{conn: conn, match: match}
}

// AdaptDialer applies Adapt to every connection d opens.
func AdaptDialer[Req, Resp any](d Dialer[Req, Resp], match func(error) bool) Dialer[Req, Resp] {
	return func(ctx context.Context) (Conn[Req, Resp], error) {
		conn, err := d(ctx)
		if err != nil {
			return nil, err
		}
		return Adapt(conn, match), nil
	}
}

type adaptedConn[Req, Resp any] struct {
	conn  Conn[Req, Resp]
	match func(error) bool
}

func (a *adaptedConn[Req, Resp]) Invoke(ctx context.Context, req Req) (Resp, error) {
	resp, err := a.conn.Invoke(ctx, req)
	if err != nil && !errors.Is(err, ErrInvalidated) && a.match(err) {
		return resp, fmt.Errorf("%w: %w", ErrInvalidated, err)
	}
	return resp, err
}

func (a *adaptedConn[Req, Resp]) Close() error {
	return a.conn.Close()
}
