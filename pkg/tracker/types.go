package tracker

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"hop-bridge/pkg/chain"
)

// TransferSentEvent is a transfer initiated on a source chain, decoded from a
// TransferSentToL2 (L1) or TransferSent (L2) log.
type TransferSentEvent struct {
	Source             chain.Chain
	DestinationChainID uint64
	TxHash             common.Hash
	BlockNumber        uint64
	// TransferID is zero for transfers sent from L1.
	TransferID common.Hash
	Recipient  common.Address
	Amount     *big.Int
}

// Outcome is the result of watching one transfer.
type Outcome struct {
	Transfer TransferSentEvent
	Receipt  *types.Receipt
	Err      error
}
