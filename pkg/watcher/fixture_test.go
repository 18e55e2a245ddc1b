package watcher

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"hop-bridge/pkg/addresses"
	"hop-bridge/pkg/chain"
	"hop-bridge/pkg/contracts"
	"hop-bridge/pkg/topics"
)

var (
	l1BridgeAddr    = common.HexToAddress("0x3666f603Cc164936C1b87e207F36BEBa4AC5f18a")
	l2BridgeAddr    = common.HexToAddress("0x1000000000000000000000000000000000000001")
	saddleSwapAddr  = common.HexToAddress("0x1000000000000000000000000000000000000002")
	hTokenAddr      = common.HexToAddress("0x1000000000000000000000000000000000000003")
	canonTokenAddr  = common.HexToAddress("0x1000000000000000000000000000000000000004")
	canonBridgeAddr = common.HexToAddress("0x1000000000000000000000000000000000000005")
	ambAddr         = common.HexToAddress("0x1000000000000000000000000000000000000006")
	ammWrapperAddr  = common.HexToAddress("0x1000000000000000000000000000000000000007")
	otherAddr       = common.HexToAddress("0x2000000000000000000000000000000000000009")
)

type fixture struct {
	key   *ecdsa.PrivateKey
	from  common.Address
	nonce uint64

	table       addresses.Table
	src, dst    *chain.MockProvider
	source      chain.Chain
	destination chain.Chain
}

func newFixture(t *testing.T, source, destination string) *fixture {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	src := chain.MustFromSlug(source)
	dst := chain.MustFromSlug(destination)
	srcProvider := chain.NewMockProvider(src.ChainID)
	dstProvider := chain.NewMockProvider(dst.ChainID)

	return &fixture{
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		table:       addresses.Table{},
		src:         srcProvider,
		dst:         dstProvider,
		source:      src.WithProvider(srcProvider),
		destination: dst.WithProvider(dstProvider),
	}
}

func (f *fixture) set(slug string, field addresses.Field, addr common.Address) {
	f.table.Set("mainnet", "USDC", slug, field, addr)
}

// sourceTx mines a transaction signed by the fixture key in block on the
// source chain.
func (f *fixture) sourceTx(t *testing.T, block uint64, status uint64, logs ...*types.Log) common.Hash {
	chainID := new(big.Int).SetUint64(f.source.ChainID)
	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     f.nonce,
		To:        &otherAddr,
		Gas:       21_000,
		GasFeeCap: big.NewInt(1),
		GasTipCap: big.NewInt(1),
	})
	f.nonce++
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), f.key)
	require.NoError(t, err)

	f.src.AddTransaction(signed, &types.Receipt{
		TxHash:      signed.Hash(),
		Status:      status,
		BlockNumber: new(big.Int).SetUint64(block),
		Logs:        logs,
	})
	f.src.SetHead(block + 10)
	return signed.Hash()
}

// destLog stores l on the destination chain with a mined receipt for its tx.
func (f *fixture) destLog(l types.Log) types.Log {
	if l.TxHash == (common.Hash{}) {
		l.TxHash = common.BigToHash(new(big.Int).SetUint64(1_000_000 + l.BlockNumber*10 + uint64(l.Index)))
	}
	f.dst.AddLogs(l)
	f.dst.AddReceipt(&types.Receipt{
		TxHash:      l.TxHash,
		Status:      types.ReceiptStatusSuccessful,
		BlockNumber: new(big.Int).SetUint64(l.BlockNumber),
	})
	return l
}

func (f *fixture) config(hash common.Hash) Config {
	return Config{
		Network:      "mainnet",
		Token:        "USDC",
		SourceTxHash: hash,
		Source:       f.source,
		Destination:  f.destination,
		Accessors:    contracts.NewAccessors("mainnet", "USDC", f.table),
		Options:      fastOptions(),
	}
}

func fastOptions() Options {
	return Options{
		PollInterval:    5 * time.Millisecond,
		ReceiptInterval: time.Millisecond,
		Timeout:         5 * time.Second,
	}
}

// prime runs startBase without the watch goroutine so route predicates can be
// driven by hand.
func prime(t *testing.T, b *base) {
	b.stream = newStream(func() {})
	require.NoError(t, b.startBase(context.Background()))
}

func collect(t *testing.T, s *Stream) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
			return out
		}
	}
}

func word(v int64) []byte {
	return common.LeftPadBytes(big.NewInt(v).Bytes(), 32)
}

func transferSentLog(transferID common.Hash) *types.Log {
	return &types.Log{
		Address: l2BridgeAddr,
		Topics:  []common.Hash{topics.TransferSent, transferID, common.BigToHash(big.NewInt(1)), addressTopic(otherAddr)},
		Data:    word(1_000_000),
	}
}

func withdrawalBondedLog(bridge common.Address, transferID common.Hash, block uint64) types.Log {
	return types.Log{
		Address:     bridge,
		Topics:      []common.Hash{topics.WithdrawalBonded, transferID},
		Data:        word(1_000_000),
		BlockNumber: block,
	}
}
