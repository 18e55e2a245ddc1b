// Package tracker discovers Hop transfers sent to an address and watches each
// one until it completes on its destination chain.
package tracker

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"hop-bridge/pkg/chain"
	"hop-bridge/pkg/hop"
	"hop-bridge/pkg/watcher"
)

const (
	defaultMaxConcurrent = 16
	seenCacheSize        = 4096
)

// WatchFunc follows one transfer to completion.
type WatchFunc func(ctx context.Context, ev TransferSentEvent, destination chain.Chain) (*types.Receipt, error)

// HopWatchFunc watches transfers of token through h.
func HopWatchFunc(h *hop.Hop, token string, opts watcher.Options) WatchFunc {
	return func(ctx context.Context, ev TransferSentEvent, destination chain.Chain) (*types.Receipt, error) {
		stream, err := h.Watch(ctx, ev.TxHash, token, ev.Source.Slug, destination.Slug, false, opts)
		if err != nil {
			return nil, err
		}
		defer stream.Cancel()
		return stream.Result()
	}
}

// ResolveFunc maps a destination chain id to a chain.
type ResolveFunc func(chainID uint64) (chain.Chain, error)

// Tracker consumes transfers from a listener and runs a watch for each.
type Tracker struct {
	watch     WatchFunc
	resolve   ResolveFunc
	eventChan <-chan TransferSentEvent
	seen      *lru.Cache[common.Hash, struct{}]
	sem       chan struct{}
}

// NewTracker runs at most maxConcurrent watches at once; zero picks a default.
// A nil resolve only knows mainnet chain ids.
func NewTracker(watch WatchFunc, resolve ResolveFunc, eventChan <-chan TransferSentEvent, maxConcurrent int) (*Tracker, error) {
	if resolve == nil {
		resolve = chain.FromChainID
	}
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	seen, err := lru.New[common.Hash, struct{}](seenCacheSize)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		watch:     watch,
		resolve:   resolve,
		eventChan: eventChan,
		seen:      seen,
		sem:       make(chan struct{}, maxConcurrent),
	}, nil
}

// Start returns a done channel and the outcome channel. Outcomes must be
// drained; the tracker exits once the event channel is closed and every
// running watch has reported.
func (t *Tracker) Start(ctx context.Context) (<-chan struct{}, <-chan Outcome) {
	doneChan := make(chan struct{})
	outcomes := make(chan Outcome, cap(t.sem))

	go func() {
		defer close(doneChan)
		defer close(outcomes)

		var wg sync.WaitGroup
		defer wg.Wait()

		for ev := range t.eventChan {
			if t.alreadyTracked(ev.TxHash) {
				continue
			}
			destination, err := t.resolve(ev.DestinationChainID)
			if err != nil {
				outcomes <- Outcome{Transfer: ev, Err: fmt.Errorf("transfer %s: %w", ev.TxHash.Hex(), err)}
				continue
			}

			select {
			case t.sem <- struct{}{}:
			case <-ctx.Done():
				log.Info().Msg("tracker shutting down")
				return
			}
			wg.Add(1)
			go func(ev TransferSentEvent) {
				defer wg.Done()
				defer func() { <-t.sem }()
				outcomes <- t.run(ctx, ev, destination)
			}(ev)
		}
		log.Info().Msg("chan to tracker was closed, tracker is exiting")
	}()
	return doneChan, outcomes
}

func (t *Tracker) alreadyTracked(txHash common.Hash) bool {
	if t.seen.Contains(txHash) {
		log.Debug().Str("tx_hash", txHash.Hex()).Msg("transfer already tracked")
		return true
	}
	t.seen.Add(txHash, struct{}{})
	return false
}

func (t *Tracker) run(ctx context.Context, ev TransferSentEvent, destination chain.Chain) Outcome {
	logger := log.With().Str("tx_hash", ev.TxHash.Hex()).Str("source", ev.Source.String()).
		Str("destination", destination.String()).Logger()
	logger.Info().Str("amount", ev.Amount.String()).Msg("watching transfer")

	receipt, err := t.watch(ctx, ev, destination)
	switch {
	case err != nil:
		logger.Error().Err(err).Msg("transfer watch failed")
	case receipt == nil:
		logger.Warn().Msg("transfer watch ended without a destination receipt")
	default:
		logger.Info().Str("dest_tx_hash", receipt.TxHash.Hex()).Msg("transfer completed")
	}
	return Outcome{Transfer: ev, Receipt: receipt, Err: err}
}
