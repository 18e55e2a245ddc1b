package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// Provider is the part of *ethclient.Client the SDK talks to.
type Provider interface {
	bind.ContractBackend
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

const DefaultReceiptPollInterval = 3 * time.Second

// WaitForTransaction blocks until the transaction is mined or ctx is done.
func WaitForTransaction(ctx context.Context, p Provider, hash common.Hash, interval time.Duration) (*types.Receipt, error) {
	if interval <= 0 {
		interval = DefaultReceiptPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := p.TransactionReceipt(ctx, hash)
		if receipt != nil {
			log.Debug().Str("tx_hash", hash.Hex()).Str("block", receipt.BlockNumber.String()).
				Msg("transaction included in block")
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to get receipt for %s: %w", hash.Hex(), err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for %s: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// LimitedProvider throttles every RPC call through a token bucket.
type LimitedProvider struct {
	Provider
	limiter *rate.Limiter
}

// NewLimitedProvider allows rps requests per second with the given burst.
func NewLimitedProvider(p Provider, rps float64, burst int) *LimitedProvider {
	if burst < 1 {
		burst = 1
	}
	return &LimitedProvider{
		Provider: p,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (l *LimitedProvider) ChainID(ctx context.Context) (*big.Int, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Provider.ChainID(ctx)
}

func (l *LimitedProvider) BlockNumber(ctx context.Context) (uint64, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	return l.Provider.BlockNumber(ctx)
}

func (l *LimitedProvider) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Provider.HeaderByNumber(ctx, number)
}

func (l *LimitedProvider) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, false, err
	}
	return l.Provider.TransactionByHash(ctx, hash)
}

func (l *LimitedProvider) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Provider.TransactionReceipt(ctx, txHash)
}

func (l *LimitedProvider) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Provider.FilterLogs(ctx, q)
}

func (l *LimitedProvider) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Provider.CallContract(ctx, call, blockNumber)
}
