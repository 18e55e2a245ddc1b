package watcher

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"hop-bridge/pkg/topics"
)

const (
	l2ToL2BatchBlocks = 1000
	l2ToL2TailBlocks  = 10000
	ammLookbackBlocks = 100
	// ammMaxTimeDelta is the largest gap in seconds between the source block
	// and a destination swap accepted as its counterpart.
	ammMaxTimeDelta = 500
)

// l2ToL2Watcher looks for the destination bridge bonding the transfer id.
// When that lookup fails it switches for good to matching AMM swaps made by
// the source sender shortly after the source transaction.
type l2ToL2Watcher struct {
	*base
	useAmm bool
}

func (w *l2ToL2Watcher) Watch(ctx context.Context) (*Stream, error) {
	return w.run(ctx, w.pollFn)
}

func (w *l2ToL2Watcher) pollFn(ctx context.Context) (pollFunc, error) {
	transferID, idErr := transferIDFromReceipt(w.base)
	var bridge common.Address
	if idErr == nil {
		h, err := w.cfg.Accessors.L2Bridge(w.cfg.Destination, nil)
		if err != nil {
			idErr = err
		} else {
			bridge = h.Address
		}
	}
	if idErr != nil {
		w.log.Warn().Err(idErr).Msg("bridge lookup unavailable, using AMM swap lookup")
		w.useAmm = true
	}

	cursor := &pollCursor{}
	return func(ctx context.Context) (bool, error) {
		if !w.useAmm {
			l, err := w.findBonded(ctx, bridge, transferID)
			switch {
			case err == nil && l != nil:
				return true, w.emitDestTxEvent(ctx, l.TxHash, false)
			case err == nil:
				return false, nil
			case ctx.Err() != nil:
				return false, err
			}
			w.log.Warn().Err(err).Msg("bridge lookup failed, falling back to AMM swap lookup")
			w.useAmm = true
		}

		l, err := w.findSwap(ctx, cursor)
		if err != nil || l == nil {
			return false, err
		}
		return true, w.emitDestTxEvent(ctx, l.TxHash, false)
	}, nil
}

// findBonded scans backwards from head in batches until a batch holds any
// WithdrawalBonded log or the tail limit is reached, then looks for the
// transfer id in that batch.
func (w *l2ToL2Watcher) findBonded(ctx context.Context, bridge common.Address, transferID common.Hash) (*types.Log, error) {
	head, err := w.cfg.Destination.Provider.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	limit := saturatingSub(head, l2ToL2TailBlocks)
	addrs := []common.Address{bridge}
	filter := [][]common.Hash{{topics.WithdrawalBonded}}

	var logs []types.Log
	for end := head; end > limit; {
		start := saturatingSub(end, l2ToL2BatchBlocks-1)
		logs, err = w.filter(ctx, addrs, filter, start, end)
		if err != nil {
			return nil, fmt.Errorf("failed to query WithdrawalBonded on %s: %w", w.cfg.Destination, err)
		}
		if len(logs) > 0 || start == 0 {
			break
		}
		end = start - 1
	}

	for i := len(logs) - 1; i >= 0; i-- {
		if len(logs[i].Topics) > 1 && logs[i].Topics[1] == transferID {
			return &logs[i], nil
		}
	}
	return nil, nil
}

// findSwap scans forward for a TokenSwap bought by the source sender within
// ammMaxTimeDelta of the source block.
func (w *l2ToL2Watcher) findSwap(ctx context.Context, cursor *pollCursor) (*types.Log, error) {
	swap, err := w.cfg.Accessors.SaddleSwap(w.cfg.Destination)
	if err != nil {
		return nil, err
	}
	if !cursor.seeded {
		head, err := w.cfg.Destination.Provider.BlockNumber(ctx)
		if err != nil {
			return nil, err
		}
		cursor.seed(saturatingSub(head, ammLookbackBlocks))
	}

	logs, err := w.scanForward(ctx, cursor, l2ToL2BatchBlocks,
		[]common.Address{swap.Address},
		[][]common.Hash{{topics.TokenSwap}, {addressTopic(w.src.from)}})
	if err != nil {
		return nil, err
	}

	srcTime := w.src.header.Time
	for i := len(logs) - 1; i >= 0; i-- {
		ts, err := w.destBlockTime(ctx, logs[i].BlockNumber)
		if err != nil {
			return nil, err
		}
		if absDiff(ts, srcTime) <= ammMaxTimeDelta {
			return &logs[i], nil
		}
	}
	return nil, nil
}

func absDiff(a, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}
