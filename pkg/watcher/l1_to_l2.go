package watcher

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"hop-bridge/pkg/addresses"
	"hop-bridge/pkg/blockdater"
	"hop-bridge/pkg/chain"
	"hop-bridge/pkg/topics"
)

const (
	l1ToL2BatchBlocks = 1000
	// l1ToL2MaxDelay bounds, in seconds, how long after the source block a
	// destination event is still attributed to it.
	l1ToL2MaxDelay = 3600
	// Polygon RPC nodes are often not archive nodes; when the timestamp lookup
	// fails the scan starts this far behind head.
	polygonFallbackBlocks = 1000
)

// l1ToL2Watcher matches the L2 side of a sendToL2 by recipient and amount.
// Which contract signals arrival depends on the destination chain.
type l1ToL2Watcher struct {
	*base
}

// l1ToL2Matcher decides whether a destination log completes the transfer.
type l1ToL2Matcher func(ctx context.Context, l types.Log) (matched, isHToken bool, err error)

func (w *l1ToL2Watcher) Watch(ctx context.Context) (*Stream, error) {
	return w.run(ctx, w.pollFn)
}

func (w *l1ToL2Watcher) pollFn(ctx context.Context) (pollFunc, error) {
	recipient, amount, err := w.sentToL2()
	if err != nil {
		return nil, err
	}

	addrs, filter, match, err := w.destinationFilter(recipient, amount)
	if err != nil {
		return nil, err
	}

	start, err := w.startBlock(ctx)
	if err != nil {
		return nil, err
	}
	cursor := &pollCursor{}
	cursor.seed(start)

	srcTime := w.src.header.Time
	return func(ctx context.Context) (bool, error) {
		logs, err := w.scanForward(ctx, cursor, l1ToL2BatchBlocks, addrs, filter)
		if err != nil {
			return false, err
		}
		for i := len(logs) - 1; i >= 0; i-- {
			l := logs[i]
			ts, err := w.destBlockTime(ctx, l.BlockNumber)
			if err != nil {
				return false, err
			}
			if ts < srcTime || ts > srcTime+l1ToL2MaxDelay {
				continue
			}
			matched, isHToken, err := match(ctx, l)
			if err != nil {
				return false, err
			}
			if matched {
				return true, w.emitDestTxEvent(ctx, l.TxHash, isHToken)
			}
		}
		return false, nil
	}, nil
}

// sentToL2 extracts recipient and amount from the TransferSentToL2 log of the
// source receipt.
func (w *l1ToL2Watcher) sentToL2() (common.Address, *big.Int, error) {
	var bridge *common.Address
	if h, err := w.cfg.Accessors.Address(w.cfg.Source, addresses.L1Bridge); err == nil {
		bridge = &h
	}
	l := topics.FindLog(w.src.receipt.Logs, topics.TransferSentToL2, bridge)
	if l == nil || len(l.Topics) < 3 {
		return common.Address{}, nil, fmt.Errorf("no TransferSentToL2 log in source receipt %s", w.cfg.SourceTxHash.Hex())
	}
	amount := topics.WordAt(l.Data, 0)
	if amount == nil {
		return common.Address{}, nil, fmt.Errorf("malformed TransferSentToL2 log in source receipt %s", w.cfg.SourceTxHash.Hex())
	}
	return topics.TopicAddress(l.Topics[2]), amount, nil
}

func (w *l1ToL2Watcher) startBlock(ctx context.Context) (uint64, error) {
	dater := w.cfg.BlockDater
	if dater == nil {
		var err error
		if dater, err = blockdater.New(w.cfg.Destination.Provider, blockdater.WithCache(blockdater.DefaultCacheSize, blockdater.DefaultCacheTTL, w.opts.Clock)); err != nil {
			return 0, err
		}
	}
	start, err := dater.BlockAt(ctx, w.src.header.Time)
	if err == nil {
		return start, nil
	}
	if w.cfg.Destination.Slug != chain.Polygon {
		return 0, fmt.Errorf("failed to find %s block at %d: %w", w.cfg.Destination, w.src.header.Time, err)
	}

	w.log.Warn().Err(err).Msg("block lookup by timestamp failed, scanning from recent blocks")
	head, err := w.cfg.Destination.Provider.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}
	return saturatingSub(head, polygonFallbackBlocks), nil
}

func (w *l1ToL2Watcher) destinationFilter(recipient common.Address, amount *big.Int) ([]common.Address, [][]common.Hash, l1ToL2Matcher, error) {
	dest := w.cfg.Destination
	acc := w.cfg.Accessors

	switch dest.Slug {
	case chain.Polygon:
		token, err := acc.Address(dest, addresses.L2CanonicalToken)
		if err != nil {
			return nil, nil, nil, err
		}
		match := func(_ context.Context, l types.Log) (bool, bool, error) {
			return transferMatches(l, recipient, amount), false, nil
		}
		return []common.Address{token},
			[][]common.Hash{{topics.Transfer}, nil, {addressTopic(recipient)}},
			match, nil

	case chain.Gnosis:
		amb, err := acc.Address(dest, addresses.L2Amb)
		if err != nil {
			return nil, nil, nil, err
		}
		recv := w.optionalAddresses()
		if recv.swap == nil && recv.hToken == nil {
			return nil, nil, nil, fmt.Errorf("no AMM or hop token configured for %s on %s", w.cfg.Token, dest)
		}
		match := func(ctx context.Context, l types.Log) (bool, bool, error) {
			receipt, err := dest.Provider.TransactionReceipt(ctx, l.TxHash)
			if err != nil {
				return false, false, fmt.Errorf("failed to get AMB relay receipt %s: %w", l.TxHash.Hex(), err)
			}
			for _, rl := range receipt.Logs {
				if ok, isHToken := recv.matches(*rl, recipient, amount); ok {
					return true, isHToken, nil
				}
			}
			return false, false, nil
		}
		return []common.Address{amb}, [][]common.Hash{{topics.AffirmationCompleted}}, match, nil

	default:
		recv := w.optionalAddresses()
		var addrs []common.Address
		if recv.swap != nil {
			addrs = append(addrs, *recv.swap)
		}
		if recv.hToken != nil {
			addrs = append(addrs, *recv.hToken)
		}
		if len(addrs) == 0 {
			return nil, nil, nil, fmt.Errorf("no AMM or hop token configured for %s on %s", w.cfg.Token, dest)
		}
		match := func(_ context.Context, l types.Log) (bool, bool, error) {
			ok, isHToken := recv.matches(l, recipient, amount)
			return ok, isHToken, nil
		}
		return addrs, [][]common.Hash{{topics.TokenSwap, topics.Transfer}}, match, nil
	}
}

// l2Receivers are the destination contracts that signal an L1->L2 arrival.
// swap is only set when the AMM wrapper that buys on the bridge's behalf is
// known too.
type l2Receivers struct {
	swap    *common.Address
	wrapper common.Address
	hToken  *common.Address
}

// optionalAddresses resolves the destination AMM and hop token; tokens
// without an AMM only have the latter.
func (w *l1ToL2Watcher) optionalAddresses() l2Receivers {
	var r l2Receivers
	swap, swapErr := w.cfg.Accessors.Address(w.cfg.Destination, addresses.L2SaddleSwap)
	wrapper, wrapperErr := w.cfg.Accessors.Address(w.cfg.Destination, addresses.L2AmmWrapper)
	if swapErr == nil && wrapperErr == nil {
		r.swap, r.wrapper = &swap, wrapper
	}
	if a, err := w.cfg.Accessors.Address(w.cfg.Destination, addresses.L2HopBridgeToken); err == nil {
		r.hToken = &a
	}
	return r
}

// matches accepts an AMM swap of amount bought by the wrapper, or an hToken
// transfer of amount to recipient. The second result reports the latter.
func (r l2Receivers) matches(l types.Log, recipient common.Address, amount *big.Int) (bool, bool) {
	if len(l.Topics) == 0 {
		return false, false
	}
	switch {
	case r.swap != nil && l.Address == *r.swap && l.Topics[0] == topics.TokenSwap:
		if len(l.Topics) < 2 || topics.TopicAddress(l.Topics[1]) != r.wrapper {
			return false, false
		}
		sold := topics.WordAt(l.Data, 0)
		return sold != nil && sold.Cmp(amount) == 0, false
	case r.hToken != nil && l.Address == *r.hToken && l.Topics[0] == topics.Transfer:
		return transferMatches(l, recipient, amount), true
	}
	return false, false
}

func transferMatches(l types.Log, recipient common.Address, amount *big.Int) bool {
	if len(l.Topics) < 3 || l.Topics[0] != topics.Transfer {
		return false
	}
	value := topics.WordAt(l.Data, 0)
	return topics.TopicAddress(l.Topics[2]) == recipient && value != nil && value.Cmp(amount) == 0
}
