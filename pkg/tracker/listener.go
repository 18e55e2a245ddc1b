package tracker

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"hop-bridge/pkg/chain"
	"hop-bridge/pkg/topics"
)

const (
	defaultListenerInterval = 5 * time.Second
	listenerBatchSize       = 1000
	listenerEventBuffer     = 10
)

var errMalformedLog = errors.New("malformed transfer log")

type ListenerOptions struct {
	// FromBlock is the first block to scan. Zero starts at the current head.
	FromBlock    uint64
	PollInterval time.Duration
}

// Listener polls a source chain for transfers sent to one recipient through
// the Hop bridge deployed there.
type Listener struct {
	source    chain.Chain
	bridge    common.Address
	recipient common.Address
	opts      ListenerOptions
	DoneChan  chan struct{}
	EventChan chan TransferSentEvent
}

func NewListener(source chain.Chain, bridge, recipient common.Address, opts ListenerOptions) *Listener {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultListenerInterval
	}
	return &Listener{
		source:    source,
		bridge:    bridge,
		recipient: recipient,
		opts:      opts,
	}
}

func (l *Listener) Start(ctx context.Context) (<-chan struct{}, <-chan TransferSentEvent, error) {
	if l.source.Provider == nil {
		return nil, nil, fmt.Errorf("no provider for %s", l.source)
	}
	head, err := l.source.Provider.BlockNumber(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to obtain block number: %w", err)
	}

	// Blocks up to this value have been handled
	handled := head
	if l.opts.FromBlock > 0 && l.opts.FromBlock <= head {
		handled = l.opts.FromBlock - 1
	}
	log.Info().Str("chain", l.source.String()).Str("bridge", l.bridge.Hex()).
		Str("recipient", l.recipient.Hex()).Uint64("from_block", handled+1).
		Msg("starting transfer listener")

	l.DoneChan = make(chan struct{})
	l.EventChan = make(chan TransferSentEvent, listenerEventBuffer)

	go func() {
		defer close(l.DoneChan)
		defer close(l.EventChan)

		ticker := time.NewTicker(l.opts.PollInterval)
		defer ticker.Stop()

		for {
			handled = l.catchUp(ctx, handled)
			select {
			case <-ctx.Done():
				log.Info().Str("chain", l.source.String()).Msg("transfer listener shutting down")
				return
			case <-ticker.C:
			}
		}
	}()
	return l.DoneChan, l.EventChan, nil
}

// catchUp scans (handled, head] in batches and returns the last block fully
// handled. A failed query is retried on the next tick from the same block.
func (l *Listener) catchUp(ctx context.Context, handled uint64) uint64 {
	head, err := l.source.Provider.BlockNumber(ctx)
	if err != nil {
		log.Error().Err(err).Str("chain", l.source.String()).Msg("failed to obtain block number")
		return handled
	}

	for from := handled + 1; from <= head; from += listenerBatchSize {
		to := from + listenerBatchSize - 1
		if to > head {
			to = head
		}
		logs, err := l.source.Provider.FilterLogs(ctx, l.query(from, to))
		if err != nil {
			log.Error().Err(err).Str("chain", l.source.String()).
				Uint64("from_block", from).Uint64("to_block", to).
				Msg("failed to fetch transfer logs")
			return from - 1
		}
		log.Debug().Int("count", len(logs)).Uint64("from_block", from).Uint64("to_block", to).
			Str("chain", l.source.String()).Msg("fetched transfer logs")

		for _, raw := range logs {
			if raw.Removed {
				continue
			}
			ev, err := l.decode(raw)
			if err != nil {
				log.Warn().Err(err).Str("tx_hash", raw.TxHash.Hex()).Msg("skipping transfer log")
				continue
			}
			log.Info().Str("tx_hash", ev.TxHash.Hex()).Uint64("destination_chain_id", ev.DestinationChainID).
				Str("amount", ev.Amount.String()).Msg("transfer seen by listener")
			select {
			case l.EventChan <- ev:
			case <-ctx.Done():
				return from - 1
			}
		}
	}
	return head
}

func (l *Listener) query(from, to uint64) ethereum.FilterQuery {
	recipient := common.BytesToHash(common.LeftPadBytes(l.recipient.Bytes(), 32))
	q := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{l.bridge},
	}
	if l.source.IsL1 {
		q.Topics = [][]common.Hash{{topics.TransferSentToL2}, nil, {recipient}}
	} else {
		q.Topics = [][]common.Hash{{topics.TransferSent}, nil, nil, {recipient}}
	}
	return q
}

func (l *Listener) decode(raw types.Log) (TransferSentEvent, error) {
	ev := TransferSentEvent{
		Source:      l.source,
		TxHash:      raw.TxHash,
		BlockNumber: raw.BlockNumber,
		Amount:      topics.WordAt(raw.Data, 0),
	}
	if ev.Amount == nil {
		return TransferSentEvent{}, errMalformedLog
	}

	var chainID *big.Int
	switch {
	case l.source.IsL1 && len(raw.Topics) >= 3 && raw.Topics[0] == topics.TransferSentToL2:
		chainID = raw.Topics[1].Big()
		ev.Recipient = topics.TopicAddress(raw.Topics[2])
	case !l.source.IsL1 && len(raw.Topics) >= 4 && raw.Topics[0] == topics.TransferSent:
		ev.TransferID = raw.Topics[1]
		chainID = raw.Topics[2].Big()
		ev.Recipient = topics.TopicAddress(raw.Topics[3])
	default:
		return TransferSentEvent{}, errMalformedLog
	}
	if !chainID.IsUint64() {
		return TransferSentEvent{}, errMalformedLog
	}
	ev.DestinationChainID = chainID.Uint64()
	return ev, nil
}
