package hop

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"hop-bridge/pkg/addresses"
	"hop-bridge/pkg/chain"
	"hop-bridge/pkg/contracts"
	"hop-bridge/pkg/rpcretry"
	"hop-bridge/pkg/shared"
	"hop-bridge/pkg/watcher"
)

const nativeToken = "ETH"

var (
	ErrNoSigner           = errors.New("no private key configured")
	ErrUnexpectedResponse = errors.New("unexpected contract response")
)

// HopBridge sends one token through Hop and reads its balances and pools.
type HopBridge struct {
	hop       *Hop
	Token     string
	accessors *contracts.Accessors
}

type SendParams struct {
	Source      string
	Destination string
	Amount      *big.Int
	Recipient   common.Address
	// BonderFee is paid on L2 sends only.
	BonderFee    *big.Int
	AmountOutMin *big.Int
	Deadline     time.Time
	// Destination swap bounds for L2 to L2 sends.
	DestinationAmountOutMin *big.Int
	DestinationDeadline     time.Time
}

func (p SendParams) validate() error {
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return errors.New("amount must be positive")
	}
	if p.Recipient == (common.Address{}) {
		return errors.New("recipient is required")
	}
	return nil
}

// Send submits the source chain transaction of a transfer: sendToL2 on the L1
// bridge, swapAndSend on the L2 AMM wrapper otherwise.
func (b *HopBridge) Send(ctx context.Context, p SendParams) (*types.Transaction, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	src, err := b.hop.Chain(p.Source)
	if err != nil {
		return nil, err
	}
	dst, err := b.hop.Chain(p.Destination)
	if err != nil {
		return nil, err
	}
	signer, err := b.signer(ctx, src)
	if err != nil {
		return nil, err
	}

	var value *big.Int
	if b.Token == nativeToken {
		value = p.Amount
	}
	destChainID := new(big.Int).SetUint64(dst.ChainID)

	var tx *types.Transaction
	if src.IsL1 {
		bridge, err := b.accessors.L1Bridge(src, signer)
		if err != nil {
			return nil, err
		}
		tx, err = bridge.Transact(ctx, value, "sendToL2",
			destChainID,
			p.Recipient,
			p.Amount,
			orZero(p.AmountOutMin),
			unixOrZero(p.Deadline),
			common.Address{},
			big.NewInt(0))
		if err != nil {
			return nil, err
		}
	} else {
		wrapper, err := b.accessors.UniswapWrapper(src, signer)
		if err != nil {
			return nil, err
		}
		destAmountOutMin, destDeadline := big.NewInt(0), big.NewInt(0)
		if !dst.IsL1 {
			destAmountOutMin, destDeadline = orZero(p.DestinationAmountOutMin), unixOrZero(p.DestinationDeadline)
		}
		tx, err = wrapper.Transact(ctx, value, "swapAndSend",
			destChainID,
			p.Recipient,
			p.Amount,
			orZero(p.BonderFee),
			orZero(p.AmountOutMin),
			unixOrZero(p.Deadline),
			destAmountOutMin,
			destDeadline)
		if err != nil {
			return nil, err
		}
	}

	log.Info().Str("tx_hash", tx.Hash().Hex()).Str("token", b.Token).Str("source", src.String()).
		Str("destination", dst.String()).Str("amount", p.Amount.String()).Str("recipient", p.Recipient.Hex()).
		Msg("transfer sent")
	return tx, nil
}

// SendAndWait sends a transfer and blocks until the destination receipt
// arrives or the watch fails.
func (b *HopBridge) SendAndWait(ctx context.Context, p SendParams, opts watcher.Options) (*types.Receipt, error) {
	tx, err := b.Send(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to send transfer: %w", err)
	}
	stream, err := b.hop.Watch(ctx, tx.Hash(), b.Token, p.Source, p.Destination, false, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to watch transfer: %w", err)
	}
	defer stream.Cancel()

	var dest *types.Receipt
	for ev := range stream.Events() {
		switch ev.Kind {
		case watcher.SourceTxReceipt:
			log.Info().Str("tx_hash", ev.Receipt.TxHash.Hex()).Str("block", ev.Receipt.BlockNumber.String()).
				Msg("transfer included on source chain")
		case watcher.DestinationTxReceipt:
			dest = ev.Receipt
			log.Info().Str("tx_hash", ev.Receipt.TxHash.Hex()).Str("chain", ev.Chain.String()).
				Msg("transfer completed on destination chain")
		}
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	return dest, nil
}

// Approve lets spender move amount of the canonical token on chainSlug.
func (b *HopBridge) Approve(ctx context.Context, chainSlug string, spender common.Address, amount *big.Int) (*types.Transaction, error) {
	c, err := b.hop.Chain(chainSlug)
	if err != nil {
		return nil, err
	}
	signer, err := b.signer(ctx, c)
	if err != nil {
		return nil, err
	}
	token, err := b.accessors.ERC20(c, canonicalTokenField(c), signer)
	if err != nil {
		return nil, err
	}
	return token.Transact(ctx, nil, "approve", spender, amount)
}

func (b *HopBridge) Allowance(ctx context.Context, chainSlug string, owner, spender common.Address) (*big.Int, error) {
	c, err := b.hop.Chain(chainSlug)
	if err != nil {
		return nil, err
	}
	token, err := b.accessors.ERC20(c, canonicalTokenField(c), nil)
	if err != nil {
		return nil, err
	}
	return callBig(ctx, token, "allowance", owner, spender)
}

func (b *HopBridge) BalanceOf(ctx context.Context, chainSlug string, owner common.Address) (*big.Int, error) {
	c, err := b.hop.Chain(chainSlug)
	if err != nil {
		return nil, err
	}
	token, err := b.accessors.ERC20(c, canonicalTokenField(c), nil)
	if err != nil {
		return nil, err
	}
	return callBig(ctx, token, "balanceOf", owner)
}

// GetAmountOut quotes the AMM on an L2: canonical token to hToken, or the
// reverse when fromHToken is set.
func (b *HopBridge) GetAmountOut(ctx context.Context, chainSlug string, amountIn *big.Int, fromHToken bool) (*big.Int, error) {
	c, err := b.hop.Chain(chainSlug)
	if err != nil {
		return nil, err
	}
	swap, err := b.accessors.SaddleSwap(c)
	if err != nil {
		return nil, err
	}
	canonical, err := b.accessors.Address(c, addresses.L2CanonicalToken)
	if err != nil {
		return nil, err
	}
	hToken, err := b.accessors.Address(c, addresses.L2HopBridgeToken)
	if err != nil {
		return nil, err
	}

	from, to := canonical, hToken
	if fromHToken {
		from, to = hToken, canonical
	}
	fromIndex, err := callUint8(ctx, swap, "getTokenIndex", from)
	if err != nil {
		return nil, err
	}
	toIndex, err := callUint8(ctx, swap, "getTokenIndex", to)
	if err != nil {
		return nil, err
	}
	return callBig(ctx, swap, "calculateSwap", fromIndex, toIndex, amountIn)
}

func (b *HopBridge) signer(ctx context.Context, c chain.Chain) (*contracts.Signer, error) {
	if b.hop.privateKey == nil {
		return nil, ErrNoSigner
	}
	opts, err := shared.CreateTransactOpts(ctx, b.hop.privateKey, c.Provider)
	if err != nil {
		return nil, err
	}
	return &contracts.Signer{Opts: opts, ChainID: c.ChainID}, nil
}

func canonicalTokenField(c chain.Chain) addresses.Field {
	if c.IsL1 {
		return addresses.L1CanonicalToken
	}
	return addresses.L2CanonicalToken
}

func call(ctx context.Context, h *contracts.Handle, method string, args ...interface{}) (interface{}, error) {
	out, err := rpcretry.RateLimitRetry(ctx, func(ctx context.Context) ([]interface{}, error) {
		return h.Call(ctx, method, args...)
	}, rpcretry.WithName(method))
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%s returned %d values: %w", method, len(out), ErrUnexpectedResponse)
	}
	return out[0], nil
}

func callBig(ctx context.Context, h *contracts.Handle, method string, args ...interface{}) (*big.Int, error) {
	v, err := call(ctx, h, method, args...)
	if err != nil {
		return nil, err
	}
	n, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s returned %T: %w", method, v, ErrUnexpectedResponse)
	}
	return n, nil
}

func callUint8(ctx context.Context, h *contracts.Handle, method string, args ...interface{}) (uint8, error) {
	v, err := call(ctx, h, method, args...)
	if err != nil {
		return 0, err
	}
	n, ok := v.(uint8)
	if !ok {
		return 0, fmt.Errorf("%s returned %T: %w", method, v, ErrUnexpectedResponse)
	}
	return n, nil
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}

func unixOrZero(t time.Time) *big.Int {
	if t.IsZero() {
		return big.NewInt(0)
	}
	return big.NewInt(t.Unix())
}
