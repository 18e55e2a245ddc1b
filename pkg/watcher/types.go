package watcher

import (
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"hop-bridge/pkg/blockdater"
	"hop-bridge/pkg/cache"
	"hop-bridge/pkg/chain"
	"hop-bridge/pkg/contracts"
)

var (
	ErrSourceTxReverted = errors.New("source transaction reverted")
	ErrPollTimeout      = errors.New("timed out waiting for destination transfer")
	ErrMaxAttempts      = errors.New("max poll attempts reached")
	ErrNotImplemented   = errors.New("not implemented")
	ErrInvalidConfig    = errors.New("invalid watcher config")
	ErrAlreadyStarted   = errors.New("watch already started")
)

const (
	DefaultPollInterval    = 10 * time.Second
	DefaultTimeout         = 2 * time.Hour
	DefaultSourceTxTimeout = 30 * time.Minute
)

type Options struct {
	// PollInterval is the sleep between destination chain queries.
	PollInterval time.Duration
	// Timeout bounds the polling phase. Negative disables it.
	Timeout time.Duration
	// MaxAttempts bounds poll iterations; zero leaves only Timeout.
	MaxAttempts int
	// SourceTxTimeout bounds the wait for the source receipt.
	SourceTxTimeout time.Duration
	// ReceiptInterval is how often pending receipts are re-fetched.
	ReceiptInterval time.Duration
	Logger          *zerolog.Logger
	Clock           cache.Clock
}

func (o Options) withDefaults() Options {
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.Timeout == 0 {
		o.Timeout = DefaultTimeout
	}
	if o.SourceTxTimeout <= 0 {
		o.SourceTxTimeout = DefaultSourceTxTimeout
	}
	if o.ReceiptInterval <= 0 {
		o.ReceiptInterval = chain.DefaultReceiptPollInterval
	}
	if o.Logger == nil {
		o.Logger = &log.Logger
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

type Config struct {
	Network      string
	Token        string
	SourceTxHash common.Hash
	Source       chain.Chain
	Destination  chain.Chain
	Accessors    *contracts.Accessors
	// BlockDater locates the destination start block for L1 to L2 watches.
	// One is built over the destination provider when nil.
	BlockDater *blockdater.BlockDater
	Options    Options
}

type State int

const (
	Created State = iota
	AwaitingSourceReceipt
	SourceConfirmed
	Polling
	Completed
	Errored
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case AwaitingSourceReceipt:
		return "awaiting_source_receipt"
	case SourceConfirmed:
		return "source_confirmed"
	case Polling:
		return "polling"
	case Completed:
		return "completed"
	case Errored:
		return "errored"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == Completed || s == Errored || s == Failed
}

type EventKind int

const (
	SourceTxReceipt EventKind = iota
	DestinationTxReceipt
	Error
)

func (k EventKind) String() string {
	switch k {
	case SourceTxReceipt:
		return "sourceTxReceipt"
	case DestinationTxReceipt:
		return "destinationTxReceipt"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single item of a watch stream. Receipt is set for receipt
// events and Err for Error events.
type Event struct {
	Kind             EventKind
	Chain            chain.Chain
	Receipt          *types.Receipt
	IsHTokenTransfer bool
	Err              error
}
