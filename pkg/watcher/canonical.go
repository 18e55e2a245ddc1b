package watcher

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"hop-bridge/pkg/addresses"
	"hop-bridge/pkg/chain"
	"hop-bridge/pkg/topics"
)

const canonicalBatchBlocks = 1000

// canonicalL1ToL2Watcher follows a deposit through the chain's own token
// bridge. Gnosis reports it as TokensBridged on the L2 omnibridge; other
// chains as a Transfer of the L2 canonical token.
type canonicalL1ToL2Watcher struct {
	*base
}

func (w *canonicalL1ToL2Watcher) Watch(ctx context.Context) (*Stream, error) {
	return w.run(ctx, func(ctx context.Context) (pollFunc, error) {
		if w.cfg.Destination.Slug == chain.Gnosis {
			bridge, err := w.cfg.Accessors.CanonicalBridge(w.cfg.Destination)
			if err != nil {
				return nil, err
			}
			return w.pollSender(bridge.Address, topics.TokensBridged), nil
		}
		token, err := w.cfg.Accessors.Address(w.cfg.Destination, addresses.L2CanonicalToken)
		if err != nil {
			return nil, err
		}
		return w.pollSender(token, topics.Transfer), nil
	})
}

// canonicalL2ToL1Watcher follows a withdrawal to L1. Withdrawals from Gnosis
// surface on the L1 omnibridge; others as an L1 canonical token Transfer.
type canonicalL2ToL1Watcher struct {
	*base
}

func (w *canonicalL2ToL1Watcher) Watch(ctx context.Context) (*Stream, error) {
	return w.run(ctx, func(ctx context.Context) (pollFunc, error) {
		if w.cfg.Source.Slug == chain.Gnosis {
			bridge, err := w.cfg.Accessors.CanonicalBridge(w.cfg.Destination)
			if err != nil {
				return nil, err
			}
			return w.pollSender(bridge.Address, topics.TokensBridged), nil
		}
		token, err := w.cfg.Accessors.Address(w.cfg.Destination, addresses.L1CanonicalToken)
		if err != nil {
			return nil, err
		}
		return w.pollSender(token, topics.Transfer), nil
	})
}

// canonicalL2ToL2Watcher exists so dispatch is total; there is no canonical
// path between two L2s.
type canonicalL2ToL2Watcher struct {
	*base
}

func (w *canonicalL2ToL2Watcher) Watch(ctx context.Context) (*Stream, error) {
	return nil, ErrNotImplemented
}

// pollSender scans forward for topic logs emitted by addr whose indexed
// arguments contain the source sender.
func (b *base) pollSender(addr common.Address, topic common.Hash) pollFunc {
	cursor := &pollCursor{}
	addrs := []common.Address{addr}
	filter := [][]common.Hash{{topic}}

	return func(ctx context.Context) (bool, error) {
		logs, err := b.scanForward(ctx, cursor, canonicalBatchBlocks, addrs, filter)
		if err != nil {
			return false, err
		}
		for i := len(logs) - 1; i >= 0; i-- {
			if senderInTopics(logs[i], b.src.from) {
				return true, b.emitDestTxEvent(ctx, logs[i].TxHash, false)
			}
		}
		return false, nil
	}
}

func senderInTopics(l types.Log, sender common.Address) bool {
	if len(l.Topics) < 2 {
		return false
	}
	for _, t := range l.Topics[1:] {
		if topics.AddressInTopic(t, sender) {
			return true
		}
	}
	return false
}
