// Package watcher follows a bridge transfer from its source transaction to
// the transaction that completes it on the destination chain.
//
// A watch runs in its own goroutine and reports through a Stream: first the
// source receipt, then either the destination receipt or an error. The
// destination is polled in block windows until a match, the configured
// timeout, or Stream.Cancel.
package watcher

import (
	"context"
	"fmt"
)

const (
	RouteL1ToL2          = "l1_to_l2"
	RouteL2ToL1          = "l2_to_l1"
	RouteL2ToL2          = "l2_to_l2"
	RouteCanonicalL1ToL2 = "canonical_l1_to_l2"
	RouteCanonicalL2ToL1 = "canonical_l2_to_l1"
	RouteCanonicalL2ToL2 = "canonical_l2_to_l2"
)

// Watcher watches one transfer. Watch may only be called once.
type Watcher interface {
	Route() string
	Watch(ctx context.Context) (*Stream, error)
}

// New selects the Hop route watcher for the source and destination layers.
func New(cfg Config) (Watcher, error) {
	switch {
	case cfg.Source.IsL1:
		b, err := newBase(cfg, RouteL1ToL2)
		if err != nil {
			return nil, err
		}
		return &l1ToL2Watcher{base: b}, nil
	case cfg.Destination.IsL1:
		b, err := newBase(cfg, RouteL2ToL1)
		if err != nil {
			return nil, err
		}
		return &l2ToL1Watcher{base: b}, nil
	default:
		b, err := newBase(cfg, RouteL2ToL2)
		if err != nil {
			return nil, err
		}
		return &l2ToL2Watcher{base: b}, nil
	}
}

// NewCanonical selects the watcher for transfers through the chains' native
// token bridges.
func NewCanonical(cfg Config) (Watcher, error) {
	route := RouteCanonicalL2ToL2
	switch {
	case cfg.Source.IsL1:
		route = RouteCanonicalL1ToL2
	case cfg.Destination.IsL1:
		route = RouteCanonicalL2ToL1
	}
	b, err := newBase(cfg, route)
	if err != nil {
		return nil, err
	}

	switch route {
	case RouteCanonicalL1ToL2:
		return &canonicalL1ToL2Watcher{base: b}, nil
	case RouteCanonicalL2ToL1:
		return &canonicalL2ToL1Watcher{base: b}, nil
	default:
		return &canonicalL2ToL2Watcher{base: b}, nil
	}
}

// Watch builds the route watcher for cfg and starts it.
func Watch(ctx context.Context, cfg Config) (*Stream, error) {
	w, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return start(ctx, w)
}

// WatchCanonical is Watch for canonical bridge transfers.
func WatchCanonical(ctx context.Context, cfg Config) (*Stream, error) {
	w, err := NewCanonical(cfg)
	if err != nil {
		return nil, err
	}
	return start(ctx, w)
}

func start(ctx context.Context, w Watcher) (*Stream, error) {
	s, err := w.Watch(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s watch: %w", w.Route(), err)
	}
	return s, nil
}
