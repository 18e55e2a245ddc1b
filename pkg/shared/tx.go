package shared

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"

	"hop-bridge/pkg/chain"
)

const (
	cancelGasLimit       = 21000
	cancelMaxRetries     = 5
	DefaultCancelTimeout = 60 * time.Second
)

// CreateTransactOpts builds keyed transact options for the chain behind p
// with the pending nonce and suggested EIP-1559 fees filled in.
func CreateTransactOpts(ctx context.Context, privateKey *ecdsa.PrivateKey, p chain.Provider) (*bind.TransactOpts, error) {
	chainID, err := p.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	auth, err := bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}

	nonce, err := p.PendingNonceAt(ctx, auth.From)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending nonce: %w", err)
	}
	auth.Nonce = new(big.Int).SetUint64(nonce)

	// Priority fee per gas
	gasTip, err := p.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas tip cap: %w", err)
	}
	// Priority fee plus base fee per gas
	gasPrice, err := p.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}
	auth.GasFeeCap = gasPrice
	auth.GasTipCap = gasTip
	auth.Context = ctx
	return auth, nil
}

// CancelPendingTxes replaces every pending transaction of the signing account
// with a zero value self-transfer and waits until none are left pending.
func CancelPendingTxes(ctx context.Context, privateKey *ecdsa.PrivateKey, p chain.Provider, timeout time.Duration) error {
	if err := cancelAllPendingTransactions(ctx, privateKey, p); err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = DefaultCancelTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		exist, err := PendingTransactionsExist(ctx, privateKey, p)
		if err != nil {
			return fmt.Errorf("failed to check pending transactions: %w", err)
		}
		if !exist {
			log.Info().Msg("all pending transactions for signing account have been cancelled")
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout: failed to cancel all pending transactions: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func cancelAllPendingTransactions(ctx context.Context, privateKey *ecdsa.PrivateKey, p chain.Provider) error {
	chainID, err := p.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to get chain id: %w", err)
	}
	fromAddress := crypto.PubkeyToAddress(privateKey.PublicKey)
	currentNonce, err := p.PendingNonceAt(ctx, fromAddress)
	if err != nil {
		return fmt.Errorf("failed to get current pending nonce: %w", err)
	}
	latestNonce, err := p.NonceAt(ctx, fromAddress, nil)
	if err != nil {
		return fmt.Errorf("failed to get latest nonce: %w", err)
	}
	log.Debug().Uint64("pending_nonce", currentNonce).Uint64("latest_nonce", latestNonce).Msg("checking for pending transactions")

	if currentNonce <= latestNonce {
		log.Info().Msg("no pending transactions to cancel")
		return nil
	}

	suggestedGasPrice, err := p.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("failed to get suggested gas price: %w", err)
	}
	signer := types.LatestSignerForChainID(chainID)

	for nonce := latestNonce; nonce < currentNonce; nonce++ {
		gasPrice := new(big.Int).Set(suggestedGasPrice)
		for retry := 0; retry < cancelMaxRetries; retry++ {
			if retry > 0 {
				gasPrice = bumpGasPrice(gasPrice)
				log.Debug().Int("retry", retry).Str("gas_price", gasPrice.String()).Msg("increased gas price")
			}

			tx := types.NewTransaction(nonce, fromAddress, big.NewInt(0), cancelGasLimit, gasPrice, nil)
			signedTx, err := types.SignTx(tx, signer, privateKey)
			if err != nil {
				return fmt.Errorf("failed to sign cancellation transaction for nonce %d: %w", nonce, err)
			}

			err = p.SendTransaction(ctx, signedTx)
			if err != nil {
				if isReplaceable(err) {
					log.Warn().Err(err).Int("retry", retry+1).Uint64("nonce", nonce).Msg("cancellation not accepted, increasing gas price")
					continue
				}
				return fmt.Errorf("failed to send cancellation transaction for nonce %d: %w", nonce, err)
			}
			log.Info().Uint64("nonce", nonce).Str("tx_hash", signedTx.Hash().Hex()).Str("gas_price", gasPrice.String()).
				Msg("sent cancel transaction")
			break
		}
	}
	return nil
}

// bumpGasPrice raises price by 10% plus one wei.
func bumpGasPrice(price *big.Int) *big.Int {
	increase := new(big.Int).Div(price, big.NewInt(10))
	return new(big.Int).Add(new(big.Int).Add(price, increase), big.NewInt(1))
}

func isReplaceable(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "replacement transaction underpriced") || strings.Contains(msg, "already known")
}

func PendingTransactionsExist(ctx context.Context, privateKey *ecdsa.PrivateKey, p chain.Provider) (bool, error) {
	fromAddress := crypto.PubkeyToAddress(privateKey.PublicKey)
	currentNonce, err := p.PendingNonceAt(ctx, fromAddress)
	if err != nil {
		return false, fmt.Errorf("failed to get current pending nonce: %w", err)
	}
	latestNonce, err := p.NonceAt(ctx, fromAddress, nil)
	if err != nil {
		return false, fmt.Errorf("failed to get latest nonce: %w", err)
	}
	return currentNonce > latestNonce, nil
}
