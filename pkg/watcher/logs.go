package watcher

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const feedBuffer = 16

// logFeed is a live destination log subscription. A nil feed never yields.
type logFeed struct {
	sub  ethereum.Subscription
	logs chan types.Log
	dead bool
}

// subscribe opens a destination log subscription owned by the stream. It
// returns nil when the provider cannot push logs, leaving polling as the only
// source of matches.
func (b *base) subscribe(ctx context.Context, q ethereum.FilterQuery) *logFeed {
	ch := make(chan types.Log, feedBuffer)
	sub, err := b.cfg.Destination.Provider.SubscribeFilterLogs(ctx, q, ch)
	if err != nil {
		b.log.Debug().Err(err).Msg("log subscription unavailable, polling only")
		return nil
	}
	b.stream.track(sub)
	return &logFeed{sub: sub, logs: ch}
}

func (b *base) unsubscribe(f *logFeed) {
	if f == nil {
		return
	}
	b.stream.untrack(f.sub)
}

// next returns a pushed log if one is waiting. Logs dropped by a reorg are
// skipped.
func (f *logFeed) next() (types.Log, bool) {
	for f != nil && !f.dead {
		select {
		case l := <-f.logs:
			if l.Removed {
				continue
			}
			return l, true
		case <-f.sub.Err():
			f.dead = true
		default:
			return types.Log{}, false
		}
	}
	return types.Log{}, false
}

// filter queries destination logs in [from, to].
func (b *base) filter(ctx context.Context, addrs []common.Address, topics [][]common.Hash, from, to uint64) ([]types.Log, error) {
	b.log.Debug().Uint64("from_block", from).Uint64("to_block", to).Msg("querying destination logs")
	return b.cfg.Destination.Provider.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: addrs,
		Topics:    topics,
	})
}

// scanForward queries the next cursor window. It returns no logs when the
// cursor has caught up with the destination head.
func (b *base) scanForward(ctx context.Context, cursor *pollCursor, step uint64, addrs []common.Address, topics [][]common.Hash) ([]types.Log, error) {
	head, err := b.cfg.Destination.Provider.BlockNumber(ctx)
	if err != nil {
		return nil, err
	}
	from, to, ok := cursor.window(head, step)
	if !ok {
		return nil, nil
	}
	return b.filter(ctx, addrs, topics, from, to)
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}
