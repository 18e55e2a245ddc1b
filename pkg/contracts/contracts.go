// Package contracts resolves bridge contract addresses for a network and token
// and binds them to a chain's provider, or to a signer when one is connected
// to the same chain.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"

	"hop-bridge/pkg/addresses"
	"hop-bridge/pkg/chain"
)

var (
	ErrNoProvider = errors.New("chain has no provider")
	ErrReadOnly   = errors.New("contract handle is read-only")
)

// Signer is a transactor together with the chain it is connected to.
type Signer struct {
	Opts    *bind.TransactOpts
	ChainID uint64
}

// SignerOrProvider returns the signer's opts when it can sign for c. It
// returns false when the handle must fall back to read-only access.
func SignerOrProvider(c chain.Chain, signer *Signer) (*bind.TransactOpts, bool) {
	if signer == nil || signer.Opts == nil {
		return nil, false
	}
	if signer.ChainID != c.ChainID {
		log.Debug().Str("chain", c.String()).Uint64("signer_chain_id", signer.ChainID).
			Uint64("chain_id", c.ChainID).Msg("signer connected to another chain, using read-only provider")
		return nil, false
	}
	return signer.Opts, true
}

// Handle is a contract bound to a chain provider. Opts is nil for read-only
// handles.
type Handle struct {
	Address  common.Address
	ABI      abi.ABI
	Contract *bind.BoundContract
	Opts     *bind.TransactOpts
}

func (h *Handle) ReadOnly() bool {
	return h.Opts == nil
}

// Call runs a constant method and returns its unpacked outputs.
func (h *Handle) Call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	var out []interface{}
	if err := h.Contract.Call(&bind.CallOpts{Context: ctx}, &out, method, args...); err != nil {
		return nil, fmt.Errorf("call %s on %s: %w", method, h.Address.Hex(), err)
	}
	return out, nil
}

// Transact submits method with the handle's signer. value may be nil.
func (h *Handle) Transact(ctx context.Context, value *big.Int, method string, args ...interface{}) (*types.Transaction, error) {
	if h.ReadOnly() {
		return nil, ErrReadOnly
	}
	opts := *h.Opts
	opts.Context = ctx
	if value != nil {
		opts.Value = value
	}
	tx, err := h.Contract.Transact(&opts, method, args...)
	if err != nil {
		return nil, fmt.Errorf("transact %s on %s: %w", method, h.Address.Hex(), err)
	}
	return tx, nil
}

// Accessors hands out contract handles for one network and token.
type Accessors struct {
	Network string
	Token   string
	Table   addresses.Table
}

func NewAccessors(network, token string, table addresses.Table) *Accessors {
	return &Accessors{Network: network, Token: token, Table: table}
}

// Address resolves field for c.
func (a *Accessors) Address(c chain.Chain, field addresses.Field) (common.Address, error) {
	return a.Table.Resolve(a.Network, a.Token, c.Slug, field)
}

func (a *Accessors) bind(c chain.Chain, field addresses.Field, parsed abi.ABI, signer *Signer) (*Handle, error) {
	addr, err := a.Address(c, field)
	if err != nil {
		return nil, err
	}
	if c.Provider == nil {
		return nil, fmt.Errorf("%s: %w", c.String(), ErrNoProvider)
	}
	opts, _ := SignerOrProvider(c, signer)
	return &Handle{
		Address:  addr,
		ABI:      parsed,
		Contract: bind.NewBoundContract(addr, parsed, c.Provider, c.Provider, c.Provider),
		Opts:     opts,
	}, nil
}

func (a *Accessors) L1Bridge(l1 chain.Chain, signer *Signer) (*Handle, error) {
	return a.bind(l1, addresses.L1Bridge, L1BridgeABI, signer)
}

func (a *Accessors) L2Bridge(c chain.Chain, signer *Signer) (*Handle, error) {
	return a.bind(c, addresses.L2Bridge, L2BridgeABI, signer)
}

func (a *Accessors) SaddleSwap(c chain.Chain) (*Handle, error) {
	return a.bind(c, addresses.L2SaddleSwap, SaddleSwapABI, nil)
}

// UniswapWrapper returns the L2 AMM wrapper used for swapAndSend.
func (a *Accessors) UniswapWrapper(c chain.Chain, signer *Signer) (*Handle, error) {
	return a.bind(c, addresses.L2AmmWrapper, AmmWrapperABI, signer)
}

func (a *Accessors) AmbBridge(c chain.Chain) (*Handle, error) {
	field := addresses.L2Amb
	if c.IsL1 {
		field = addresses.L1Amb
	}
	return a.bind(c, field, AmbABI, nil)
}

func (a *Accessors) CanonicalBridge(c chain.Chain) (*Handle, error) {
	field := addresses.L2CanonicalBridge
	if c.IsL1 {
		field = addresses.L1CanonicalBridge
	}
	return a.bind(c, field, CanonicalBridgeABI, nil)
}

// ERC20 binds the token stored under field, e.g. the canonical token or the
// hop bridge token.
func (a *Accessors) ERC20(c chain.Chain, field addresses.Field, signer *Signer) (*Handle, error) {
	return a.bind(c, field, ERC20ABI, signer)
}
