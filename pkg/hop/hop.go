// Package hop is the entry point for sending tokens across chains through Hop
// bridges and watching those transfers complete.
package hop

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"hop-bridge/pkg/addresses"
	"hop-bridge/pkg/chain"
	"hop-bridge/pkg/contracts"
	"hop-bridge/pkg/watcher"
)

var ErrNoProvider = errors.New("no provider configured for chain")

type Hop struct {
	Network string
	Chains  map[string]chain.Chain
	Table   addresses.Table

	privateKey *ecdsa.PrivateKey
}

type Option func(*Hop)

// WithTable replaces the embedded address table.
func WithTable(t addresses.Table) Option {
	return func(h *Hop) { h.Table = t }
}

// WithPrivateKey enables sending transactions.
func WithPrivateKey(key *ecdsa.PrivateKey) Option {
	return func(h *Hop) { h.privateKey = key }
}

// New indexes chains by slug. Every chain must carry a provider.
func New(network string, chains []chain.Chain, opts ...Option) (*Hop, error) {
	h := &Hop{
		Network: network,
		Chains:  make(map[string]chain.Chain, len(chains)),
		Table:   addresses.Default(),
	}
	for _, c := range chains {
		if c.Provider == nil {
			return nil, fmt.Errorf("%s: %w", c, ErrNoProvider)
		}
		h.Chains[c.Slug] = c
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Chain returns the configured chain for slug or any of its aliases.
func (h *Hop) Chain(slug string) (chain.Chain, error) {
	c, err := chain.FromSlug(slug)
	if err != nil {
		return chain.Chain{}, err
	}
	configured, ok := h.Chains[c.Slug]
	if !ok {
		return chain.Chain{}, fmt.Errorf("%s: %w", c, ErrNoProvider)
	}
	return configured, nil
}

// ChainByID returns the configured chain whose chain id is id.
func (h *Hop) ChainByID(id uint64) (chain.Chain, error) {
	for _, c := range h.Chains {
		if c.ChainID == id {
			return c, nil
		}
	}
	return chain.Chain{}, fmt.Errorf("chain id %d: %w", id, ErrNoProvider)
}

// Watch follows the transfer started by txHash on source until it completes on
// destination. Canonical selects the chains' native token bridges instead of
// Hop.
func (h *Hop) Watch(ctx context.Context, txHash common.Hash, token, source, destination string, canonical bool, opts watcher.Options) (*watcher.Stream, error) {
	src, err := h.Chain(source)
	if err != nil {
		return nil, err
	}
	dst, err := h.Chain(destination)
	if err != nil {
		return nil, err
	}

	cfg := watcher.Config{
		Network:      h.Network,
		Token:        token,
		SourceTxHash: txHash,
		Source:       src,
		Destination:  dst,
		Accessors:    contracts.NewAccessors(h.Network, token, h.Table),
		Options:      opts,
	}
	if canonical {
		return watcher.WatchCanonical(ctx, cfg)
	}
	return watcher.Watch(ctx, cfg)
}

// Bridge returns the facade for token.
func (h *Hop) Bridge(token string) *HopBridge {
	return &HopBridge{
		hop:       h,
		Token:     token,
		accessors: contracts.NewAccessors(h.Network, token, h.Table),
	}
}
