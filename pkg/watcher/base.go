package watcher

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"

	"hop-bridge/pkg/cache"
	"hop-bridge/pkg/chain"
	"hop-bridge/pkg/metrics"
)

const headerCacheSize = 1024

// pollFunc reports true once the destination side of the transfer was found
// and emitted.
type pollFunc func(ctx context.Context) (bool, error)

// source holds what startBase learned about the source transaction.
type source struct {
	tx      *types.Transaction
	from    common.Address
	header  *types.Header
	receipt *types.Receipt
}

type base struct {
	cfg    Config
	opts   Options
	route  string
	log    zerolog.Logger
	stream *Stream
	src    source

	headerTimes *cache.TTL[uint64, uint64]
}

func newBase(cfg Config, route string) (*base, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}
	opts := cfg.Options.withDefaults()
	headerTimes, err := cache.New[uint64, uint64](headerCacheSize, 0, opts.Clock)
	if err != nil {
		return nil, err
	}
	return &base{
		cfg:         cfg,
		opts:        opts,
		route:       route,
		log:         opts.Logger.With().Str("route", route).Str("tx_hash", cfg.SourceTxHash.Hex()).Logger(),
		headerTimes: headerTimes,
	}, nil
}

func validate(cfg Config) error {
	switch {
	case cfg.SourceTxHash == (common.Hash{}):
		return fmt.Errorf("%w: source tx hash is required", ErrInvalidConfig)
	case cfg.Source.Provider == nil:
		return fmt.Errorf("%w: no provider for source chain %s", ErrInvalidConfig, cfg.Source)
	case cfg.Destination.Provider == nil:
		return fmt.Errorf("%w: no provider for destination chain %s", ErrInvalidConfig, cfg.Destination)
	case cfg.Accessors == nil:
		return fmt.Errorf("%w: contract accessors are required", ErrInvalidConfig)
	}
	return nil
}

func (b *base) Route() string {
	return b.route
}

// run starts the watch goroutine. The returned stream owns every resource the
// route opens.
func (b *base) run(ctx context.Context, pollFn func(ctx context.Context) (pollFunc, error)) (*Stream, error) {
	if b.stream != nil {
		return nil, ErrAlreadyStarted
	}
	ctx, cancel := context.WithCancel(ctx)
	b.stream = newStream(cancel)
	metrics.WatchStarted.WithLabelValues(b.route).Inc()

	go func() {
		started := time.Now()
		defer func() {
			metrics.WatchDuration.WithLabelValues(b.route).Observe(time.Since(started).Seconds())
			metrics.WatchFinished.WithLabelValues(b.route, b.stream.State().String()).Inc()
			b.stream.close()
			cancel()
		}()

		if err := b.startBase(ctx); err != nil {
			b.fail(ctx, err)
			return
		}

		fn, err := pollFn(ctx)
		if err != nil {
			b.fail(ctx, err)
			return
		}

		b.stream.setState(Polling)
		if err := b.poll(ctx, fn); err != nil {
			b.fail(ctx, err)
			return
		}
		b.stream.finish(Completed, nil)
		b.log.Info().Msg("transfer completed on destination chain")
	}()
	return b.stream, nil
}

// fail moves the stream to its terminal error state. Cancellation by the
// caller is recorded but not emitted.
func (b *base) fail(ctx context.Context, err error) {
	state := Errored
	if errors.Is(err, ErrSourceTxReverted) {
		state = Failed
	}
	b.stream.finish(state, err)
	if ctx.Err() != nil && errors.Is(err, context.Canceled) {
		b.log.Debug().Msg("watch cancelled")
		return
	}
	b.log.Error().Err(err).Str("state", state.String()).Msg("watch ended with error")
	b.stream.emit(Event{Kind: Error, Chain: b.cfg.Destination, Err: err})
}

// startBase waits for the source receipt and caches the transaction, its block
// header and receipt. A reverted source transaction is reported once and then
// ends the watch with ErrSourceTxReverted.
func (b *base) startBase(ctx context.Context) error {
	b.stream.setState(AwaitingSourceReceipt)
	p := b.cfg.Source.Provider

	waitCtx, cancel := context.WithTimeout(ctx, b.opts.SourceTxTimeout)
	defer cancel()
	receipt, err := chain.WaitForTransaction(waitCtx, p, b.cfg.SourceTxHash, b.opts.ReceiptInterval)
	if err != nil {
		return fmt.Errorf("source transaction on %s: %w", b.cfg.Source, err)
	}

	tx, _, err := p.TransactionByHash(ctx, b.cfg.SourceTxHash)
	if err != nil {
		return fmt.Errorf("failed to get source transaction: %w", err)
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return fmt.Errorf("failed to recover source transaction sender: %w", err)
	}
	header, err := p.HeaderByNumber(ctx, receipt.BlockNumber)
	if err != nil {
		return fmt.Errorf("failed to get source block %s: %w", receipt.BlockNumber, err)
	}

	b.src = source{tx: tx, from: from, header: header, receipt: receipt}
	b.stream.emit(Event{Kind: SourceTxReceipt, Chain: b.cfg.Source, Receipt: receipt})

	if receipt.Status != types.ReceiptStatusSuccessful {
		return ErrSourceTxReverted
	}
	b.stream.setState(SourceConfirmed)
	b.log.Info().Uint64("block", receipt.BlockNumber.Uint64()).Str("from", from.Hex()).
		Msg("source transaction confirmed")
	return nil
}

// poll calls fn every PollInterval until it reports true, fails, or the
// configured deadline or attempt budget runs out.
func (b *base) poll(ctx context.Context, fn pollFunc) error {
	pollCtx := ctx
	if b.opts.Timeout > 0 {
		var cancel context.CancelFunc
		pollCtx, cancel = context.WithTimeout(ctx, b.opts.Timeout)
		defer cancel()
	}
	timedOut := func() bool {
		return pollCtx.Err() != nil && ctx.Err() == nil
	}

	for attempt := 1; ; attempt++ {
		metrics.PollIterations.WithLabelValues(b.route).Inc()
		done, err := fn(pollCtx)
		if err != nil {
			if timedOut() {
				return ErrPollTimeout
			}
			return err
		}
		if done {
			return nil
		}
		if b.opts.MaxAttempts > 0 && attempt >= b.opts.MaxAttempts {
			return fmt.Errorf("%w: %d", ErrMaxAttempts, attempt)
		}

		select {
		case <-pollCtx.Done():
			if timedOut() {
				return ErrPollTimeout
			}
			return ctx.Err()
		case <-time.After(b.opts.PollInterval):
		}
	}
}

// emitDestTxEvent waits for txHash to be mined on the destination chain and
// emits its receipt.
func (b *base) emitDestTxEvent(ctx context.Context, txHash common.Hash, isHTokenTransfer bool) error {
	receipt, err := chain.WaitForTransaction(ctx, b.cfg.Destination.Provider, txHash, b.opts.ReceiptInterval)
	if err != nil {
		return fmt.Errorf("destination transaction on %s: %w", b.cfg.Destination, err)
	}
	b.log.Info().Str("dest_tx_hash", txHash.Hex()).Uint64("block", receipt.BlockNumber.Uint64()).
		Msg("destination transaction found")
	b.stream.emit(Event{
		Kind:             DestinationTxReceipt,
		Chain:            b.cfg.Destination,
		Receipt:          receipt,
		IsHTokenTransfer: isHTokenTransfer,
	})
	return nil
}

// destBlockTime returns the timestamp of destination block n.
func (b *base) destBlockTime(ctx context.Context, n uint64) (uint64, error) {
	if t, ok := b.headerTimes.Get(n); ok {
		return t, nil
	}
	header, err := b.cfg.Destination.Provider.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
	if err != nil {
		return 0, fmt.Errorf("failed to get header %d: %w", n, err)
	}
	b.headerTimes.Add(n, header.Time)
	return header.Time, nil
}

// pollCursor is the window of destination blocks scanned by the last poll.
type pollCursor struct {
	Start, End uint64

	next   uint64
	seeded bool
}

// seed makes the next window begin at block.
func (c *pollCursor) seed(block uint64) {
	c.next = block
	c.seeded = true
}

// window advances to the next range of at most step+1 blocks ending no later
// than head. An unseeded cursor starts step blocks behind head. It returns
// false when there is nothing new to scan.
func (c *pollCursor) window(head, step uint64) (uint64, uint64, bool) {
	if !c.seeded {
		c.seed(saturatingSub(head, step))
	}
	if c.next > head {
		return 0, 0, false
	}
	c.Start = c.next
	c.End = c.Start + step
	if c.End > head {
		c.End = head
	}
	c.next = c.End + 1
	return c.Start, c.End, true
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
