// Package rpcretry retries plain RPC reads that fail because the endpoint is
// throttling or briefly unreachable.
package rpcretry

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxRetries      = 5
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
)

type options struct {
	maxRetries      uint64
	initialInterval time.Duration
	maxInterval     time.Duration
	name            string
}

type Option func(*options)

func WithMaxRetries(n uint64) Option {
	return func(o *options) { o.maxRetries = n }
}

func WithInterval(initial, max time.Duration) Option {
	return func(o *options) {
		o.initialInterval = initial
		o.maxInterval = max
	}
}

// WithName labels retry log lines.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// RateLimitRetry calls fn until it succeeds, returns an error that is not
// transient, exhausts its retries, or ctx is done.
func RateLimitRetry[T any](ctx context.Context, fn func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	o := options{
		maxRetries:      DefaultMaxRetries,
		initialInterval: DefaultInitialInterval,
		maxInterval:     DefaultMaxInterval,
		name:            "rpc",
	}
	for _, opt := range opts {
		opt(&o)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.initialInterval
	b.MaxInterval = o.maxInterval
	b.MaxElapsedTime = 0

	var result T
	attempt := 0
	op := func() error {
		attempt++
		v, err := fn(ctx)
		if err == nil {
			result = v
			return nil
		}
		if !IsTransient(err) {
			return backoff.Permanent(err)
		}
		log.Debug().Err(err).Str("call", o.name).Int("attempt", attempt).Msg("transient rpc error, retrying")
		return err
	}

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, o.maxRetries), ctx))
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}

var transientMessageTokens = []string{
	"rate limit",
	"too many requests",
	"429",
	"timeout",
	"timed out",
	"temporar",
	"unavailable",
	"connection reset",
	"connection refused",
	"broken pipe",
	"bad gateway",
	"502",
	"503",
	"504",
}

// IsTransient reports whether err looks like throttling or a dropped connection.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		switch rpcErr.ErrorCode() {
		case -32005, -32603:
			return true
		}
	}

	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode == 429 || httpErr.StatusCode >= 500
	}

	msg := strings.ToLower(err.Error())
	for _, token := range transientMessageTokens {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
