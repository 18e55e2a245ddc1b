// Package blockdater maps a unix timestamp to the first block mined at or
// after it.
package blockdater

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/core/types"

	"hop-bridge/pkg/cache"
	"hop-bridge/pkg/chain"
	"hop-bridge/pkg/rpcretry"
)

const (
	DefaultCacheSize = 4096
	DefaultCacheTTL  = 10 * time.Minute
)

type BlockDater struct {
	provider chain.Provider
	headers  *cache.TTL[uint64, uint64]
	retry    []rpcretry.Option
}

type config struct {
	size  int
	ttl   time.Duration
	clock cache.Clock
	retry []rpcretry.Option
}

type Option func(*config)

func WithCache(size int, ttl time.Duration, clock cache.Clock) Option {
	return func(c *config) {
		c.size = size
		c.ttl = ttl
		c.clock = clock
	}
}

func WithRetry(opts ...rpcretry.Option) Option {
	return func(c *config) { c.retry = opts }
}

func New(p chain.Provider, opts ...Option) (*BlockDater, error) {
	c := config{size: DefaultCacheSize, ttl: DefaultCacheTTL}
	for _, opt := range opts {
		opt(&c)
	}
	headers, err := cache.New[uint64, uint64](c.size, c.ttl, c.clock)
	if err != nil {
		return nil, fmt.Errorf("failed to create header cache: %w", err)
	}
	return &BlockDater{
		provider: p,
		headers:  headers,
		retry:    append([]rpcretry.Option{rpcretry.WithName("blockdater")}, c.retry...),
	}, nil
}

// BlockAt returns the lowest block whose timestamp is >= ts. Timestamps past
// the head resolve to the head.
func (b *BlockDater) BlockAt(ctx context.Context, ts uint64) (uint64, error) {
	head, err := rpcretry.RateLimitRetry(ctx, b.provider.BlockNumber, b.retry...)
	if err != nil {
		return 0, fmt.Errorf("failed to get head block: %w", err)
	}
	headTime, err := b.blockTime(ctx, head)
	if err != nil {
		return 0, err
	}
	if ts >= headTime {
		return head, nil
	}

	var searchErr error
	n := sort.Search(int(head), func(i int) bool {
		if searchErr != nil {
			return true
		}
		t, err := b.blockTime(ctx, uint64(i))
		if err != nil {
			searchErr = err
			return true
		}
		return t >= ts
	})
	if searchErr != nil {
		return 0, searchErr
	}
	return uint64(n), nil
}

func (b *BlockDater) blockTime(ctx context.Context, n uint64) (uint64, error) {
	if t, ok := b.headers.Get(n); ok {
		return t, nil
	}
	header, err := rpcretry.RateLimitRetry(ctx, func(ctx context.Context) (*types.Header, error) {
		return b.provider.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	}, b.retry...)
	if err != nil {
		return 0, fmt.Errorf("failed to get header %d: %w", n, err)
	}
	b.headers.Add(n, header.Time)
	return header.Time, nil
}
