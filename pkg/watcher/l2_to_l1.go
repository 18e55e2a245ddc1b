package watcher

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"hop-bridge/pkg/topics"
)

const l2ToL1BatchBlocks = 1000

// l2ToL1Watcher waits for the L1 bridge to bond the withdrawal of the
// transfer sent on L2.
type l2ToL1Watcher struct {
	*base
}

func (w *l2ToL1Watcher) Watch(ctx context.Context) (*Stream, error) {
	return w.run(ctx, w.pollFn)
}

func (w *l2ToL1Watcher) pollFn(ctx context.Context) (pollFunc, error) {
	transferID, err := transferIDFromReceipt(w.base)
	if err != nil {
		return nil, err
	}
	bridge, err := w.cfg.Accessors.L1Bridge(w.cfg.Destination, nil)
	if err != nil {
		return nil, err
	}

	addrs := []common.Address{bridge.Address}
	feed := w.subscribe(ctx, ethereum.FilterQuery{
		Addresses: addrs,
		Topics:    [][]common.Hash{{topics.WithdrawalBonded}, {transferID}},
	})
	cursor := &pollCursor{}

	return func(ctx context.Context) (bool, error) {
		if l, ok := feed.next(); ok && len(l.Topics) > 1 && l.Topics[1] == transferID {
			w.unsubscribe(feed)
			return true, w.emitDestTxEvent(ctx, l.TxHash, false)
		}

		logs, err := w.scanForward(ctx, cursor, l2ToL1BatchBlocks, addrs, [][]common.Hash{{topics.WithdrawalBonded}})
		if err != nil {
			return false, err
		}
		for i := len(logs) - 1; i >= 0; i-- {
			l := logs[i]
			if len(l.Topics) > 1 && l.Topics[1] == transferID {
				w.unsubscribe(feed)
				return true, w.emitDestTxEvent(ctx, l.TxHash, false)
			}
		}
		return false, nil
	}, nil
}

// transferIDFromReceipt reads topics[1] of the TransferSent log in the
// source receipt.
func transferIDFromReceipt(b *base) (common.Hash, error) {
	l := topics.FindLog(b.src.receipt.Logs, topics.TransferSent, nil)
	if l == nil || len(l.Topics) < 2 {
		return common.Hash{}, fmt.Errorf("no TransferSent log in source receipt %s", b.cfg.SourceTxHash.Hex())
	}
	return l.Topics[1], nil
}
