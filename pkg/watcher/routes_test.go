package watcher

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hop-bridge/pkg/addresses"
	"hop-bridge/pkg/metrics"
	"hop-bridge/pkg/topics"
)

func TestL2ToL1_MatchesOnlyBondedTransferID(t *testing.T) {
	f := newFixture(t, "optimism", "ethereum")
	f.set("ethereum", addresses.L1Bridge, l1BridgeAddr)
	transferID := common.HexToHash("0x7777")
	hash := f.sourceTx(t, 100, types.ReceiptStatusSuccessful, transferSentLog(transferID))

	f.dst.SetHead(5000)
	f.destLog(withdrawalBondedLog(l1BridgeAddr, common.HexToHash("0x1111"), 4500))
	f.destLog(withdrawalBondedLog(l1BridgeAddr, common.HexToHash("0x2222"), 4800))
	// Right id, wrong contract.
	f.destLog(withdrawalBondedLog(otherAddr, transferID, 4900))

	w, err := New(f.config(hash))
	require.NoError(t, err)
	route := w.(*l2ToL1Watcher)
	prime(t, route.base)
	<-route.stream.Events()

	ctx := context.Background()
	fn, err := route.pollFn(ctx)
	require.NoError(t, err)

	done, err := fn(ctx)
	require.NoError(t, err)
	assert.False(t, done)

	f.dst.SetHead(6000)
	done, err = fn(ctx)
	require.NoError(t, err)
	assert.False(t, done)

	match := f.destLog(withdrawalBondedLog(l1BridgeAddr, transferID, 6100))
	f.destLog(withdrawalBondedLog(l1BridgeAddr, common.HexToHash("0x3333"), 6150))
	f.dst.SetHead(6200)
	done, err = fn(ctx)
	require.NoError(t, err)
	assert.True(t, done)

	ev := <-route.stream.Events()
	assert.Equal(t, DestinationTxReceipt, ev.Kind)
	assert.Equal(t, match.TxHash, ev.Receipt.TxHash)

	require.Len(t, f.dst.FilterQueries, 3)
	assert.Equal(t, int64(4000), f.dst.FilterQueries[0].FromBlock.Int64())
	assert.Equal(t, int64(5001), f.dst.FilterQueries[1].FromBlock.Int64())
	assert.Equal(t, int64(6001), f.dst.FilterQueries[2].FromBlock.Int64())
	for _, q := range f.dst.FilterQueries {
		assert.Equal(t, []common.Address{l1BridgeAddr}, q.Addresses)
	}
	assert.Equal(t, 0, f.dst.ActiveSubscriptions())
}

func TestL2ToL1_MissingTransferSent(t *testing.T) {
	f := newFixture(t, "arbitrum", "ethereum")
	f.set("ethereum", addresses.L1Bridge, l1BridgeAddr)
	hash := f.sourceTx(t, 100, types.ReceiptStatusSuccessful)

	s, err := Watch(context.Background(), f.config(hash))
	require.NoError(t, err)
	events := collect(t, s)

	require.Len(t, events, 2)
	assert.ErrorContains(t, events[1].Err, "no TransferSent log")
}

func TestL2ToL1_CompletesFromSubscription(t *testing.T) {
	f := newFixture(t, "optimism", "ethereum")
	f.set("ethereum", addresses.L1Bridge, l1BridgeAddr)
	transferID := common.HexToHash("0x7777")
	hash := f.sourceTx(t, 100, types.ReceiptStatusSuccessful, transferSentLog(transferID))
	f.dst.SetHead(5000)

	s, err := Watch(context.Background(), f.config(hash))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.dst.ActiveSubscriptions() == 1 }, 2*time.Second, time.Millisecond)

	pushed := withdrawalBondedLog(l1BridgeAddr, transferID, 5001)
	pushed.TxHash = common.HexToHash("0xbeef")
	f.dst.AddReceipt(&types.Receipt{TxHash: pushed.TxHash, Status: 1, BlockNumber: big.NewInt(5001)})
	f.dst.Emit(pushed)

	events := collect(t, s)
	require.Len(t, events, 2)
	assert.Equal(t, DestinationTxReceipt, events[1].Kind)
	assert.Equal(t, pushed.TxHash, events[1].Receipt.TxHash)
	assert.NoError(t, s.Err())
	assert.Equal(t, Completed, s.State())
	assert.Equal(t, 0, f.dst.ActiveSubscriptions())
}

func TestL2ToL1_SkipsRemovedSubscriptionLogs(t *testing.T) {
	f := newFixture(t, "optimism", "ethereum")
	f.set("ethereum", addresses.L1Bridge, l1BridgeAddr)
	transferID := common.HexToHash("0x7778")
	hash := f.sourceTx(t, 100, types.ReceiptStatusSuccessful, transferSentLog(transferID))
	f.dst.SetHead(5000)

	s, err := Watch(context.Background(), f.config(hash))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return f.dst.ActiveSubscriptions() == 1 }, 2*time.Second, time.Millisecond)

	reorged := withdrawalBondedLog(l1BridgeAddr, transferID, 5001)
	reorged.TxHash = common.HexToHash("0xdead")
	reorged.Removed = true
	f.dst.AddReceipt(&types.Receipt{TxHash: reorged.TxHash, Status: 1, BlockNumber: big.NewInt(5001)})
	f.dst.Emit(reorged)

	assert.Never(t, func() bool { return s.State() == Completed }, 100*time.Millisecond, 5*time.Millisecond)

	pushed := withdrawalBondedLog(l1BridgeAddr, transferID, 5002)
	pushed.TxHash = common.HexToHash("0xbeef")
	f.dst.AddReceipt(&types.Receipt{TxHash: pushed.TxHash, Status: 1, BlockNumber: big.NewInt(5002)})
	f.dst.Emit(pushed)

	events := collect(t, s)
	require.Len(t, events, 2)
	assert.Equal(t, pushed.TxHash, events[1].Receipt.TxHash)
	assert.Equal(t, Completed, s.State())
}

func TestL2ToL2_FallsBackToAmmWhenBridgeQueryFails(t *testing.T) {
	f := newFixture(t, "xdai", "optimism")
	f.set("optimism", addresses.L2Bridge, l2BridgeAddr)
	f.set("optimism", addresses.L2SaddleSwap, saddleSwapAddr)
	f.dst.SetFilterError(l2BridgeAddr, errors.New("query returned more than 10000 results"))

	hash := f.sourceTx(t, 200, types.ReceiptStatusSuccessful, transferSentLog(common.HexToHash("0x4242")))

	f.dst.SetHead(300)
	// Outside the time window, then a swap by someone else, then the match.
	f.destLog(types.Log{Address: saddleSwapAddr, BlockNumber: 290, Topics: []common.Hash{topics.TokenSwap, addressTopic(f.from)}, Data: word(5)})
	f.destLog(types.Log{Address: saddleSwapAddr, BlockNumber: 230, Topics: []common.Hash{topics.TokenSwap, addressTopic(otherAddr)}, Data: word(5)})
	match := f.destLog(types.Log{Address: saddleSwapAddr, BlockNumber: 210, Topics: []common.Hash{topics.TokenSwap, addressTopic(f.from)}, Data: word(5)})

	before := testutil.ToFloat64(metrics.WatchStarted.WithLabelValues(RouteL2ToL2))
	s, err := Watch(context.Background(), f.config(hash))
	require.NoError(t, err)
	events := collect(t, s)

	require.NoError(t, s.Err())
	require.Len(t, events, 2)
	assert.Equal(t, SourceTxReceipt, events[0].Kind)
	assert.Equal(t, DestinationTxReceipt, events[1].Kind)
	assert.Equal(t, match.TxHash, events[1].Receipt.TxHash)
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.WatchStarted.WithLabelValues(RouteL2ToL2)))

	require.GreaterOrEqual(t, len(f.dst.FilterQueries), 2)
	assert.Equal(t, []common.Address{l2BridgeAddr}, f.dst.FilterQueries[0].Addresses)
	assert.Equal(t, []common.Address{saddleSwapAddr}, f.dst.FilterQueries[1].Addresses)
	assert.Equal(t, int64(200), f.dst.FilterQueries[1].FromBlock.Int64())
}

func TestL2ToL2_BridgeBondedScansBackwards(t *testing.T) {
	f := newFixture(t, "arbitrum", "optimism")
	f.set("optimism", addresses.L2Bridge, l2BridgeAddr)
	transferID := common.HexToHash("0x4242")
	hash := f.sourceTx(t, 200, types.ReceiptStatusSuccessful, transferSentLog(transferID))

	f.dst.SetHead(20_000)
	match := f.destLog(withdrawalBondedLog(l2BridgeAddr, transferID, 17_500))

	s, err := Watch(context.Background(), f.config(hash))
	require.NoError(t, err)
	events := collect(t, s)

	require.NoError(t, s.Err())
	require.Len(t, events, 2)
	assert.Equal(t, match.TxHash, events[1].Receipt.TxHash)

	// [19001,20000], [18001,19000], [17001,18000]
	require.Len(t, f.dst.FilterQueries, 3)
	assert.Equal(t, int64(17_001), f.dst.FilterQueries[2].FromBlock.Int64())
	assert.Equal(t, int64(18_000), f.dst.FilterQueries[2].ToBlock.Int64())
}

func TestL2ToL2_BridgeBondedStopsAtTail(t *testing.T) {
	f := newFixture(t, "arbitrum", "optimism")
	f.set("optimism", addresses.L2Bridge, l2BridgeAddr)
	hash := f.sourceTx(t, 200, types.ReceiptStatusSuccessful, transferSentLog(common.HexToHash("0x4242")))
	f.dst.SetHead(50_000)

	w, err := New(f.config(hash))
	require.NoError(t, err)
	route := w.(*l2ToL2Watcher)
	prime(t, route.base)

	l, err := route.findBonded(context.Background(), l2BridgeAddr, common.HexToHash("0x4242"))
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.Len(t, f.dst.FilterQueries, 10)
	assert.False(t, route.useAmm)
}

func TestL1ToL2_MatchesHTokenTransferInTimeWindow(t *testing.T) {
	f := newFixture(t, "ethereum", "arbitrum")
	f.set("ethereum", addresses.L1Bridge, l1BridgeAddr)
	f.set("arbitrum", addresses.L2SaddleSwap, saddleSwapAddr)
	f.set("arbitrum", addresses.L2AmmWrapper, ammWrapperAddr)
	f.set("arbitrum", addresses.L2HopBridgeToken, hTokenAddr)

	recipient := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	sent := &types.Log{
		Address: l1BridgeAddr,
		Topics:  []common.Hash{topics.TransferSentToL2, common.BigToHash(big.NewInt(42161)), addressTopic(recipient), addressTopic(common.Address{})},
		Data:    append(append(append(word(1_000_000), word(990_000)...), word(0)...), word(0)...),
	}
	hash := f.sourceTx(t, 100, types.ReceiptStatusSuccessful, sent)

	f.dst.SetHead(500)
	toRecipient := []common.Hash{topics.Transfer, addressTopic(common.Address{}), addressTopic(recipient)}
	// Over an hour after the source block.
	f.destLog(types.Log{Address: hTokenAddr, BlockNumber: 450, Topics: toRecipient, Data: word(1_000_000)})
	f.destLog(types.Log{Address: saddleSwapAddr, BlockNumber: 160, Topics: []common.Hash{topics.TokenSwap, addressTopic(ammWrapperAddr)}, Data: word(999)})
	match := f.destLog(types.Log{Address: hTokenAddr, BlockNumber: 150, Topics: toRecipient, Data: word(1_000_000)})

	s, err := Watch(context.Background(), f.config(hash))
	require.NoError(t, err)
	events := collect(t, s)

	require.NoError(t, s.Err())
	require.Len(t, events, 2)
	assert.Equal(t, match.TxHash, events[1].Receipt.TxHash)
	assert.True(t, events[1].IsHTokenTransfer)

	require.NotEmpty(t, f.dst.FilterQueries)
	assert.Equal(t, int64(100), f.dst.FilterQueries[0].FromBlock.Int64())
	assert.ElementsMatch(t, []common.Address{saddleSwapAddr, hTokenAddr}, f.dst.FilterQueries[0].Addresses)
}

func TestL1ToL2_MatchesAmmSwapByAmount(t *testing.T) {
	f := newFixture(t, "ethereum", "optimism")
	f.set("optimism", addresses.L2SaddleSwap, saddleSwapAddr)
	f.set("optimism", addresses.L2AmmWrapper, ammWrapperAddr)

	recipient := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	sent := &types.Log{
		Address: l1BridgeAddr,
		Topics:  []common.Hash{topics.TransferSentToL2, common.BigToHash(big.NewInt(10)), addressTopic(recipient), addressTopic(common.Address{})},
		Data:    word(5_000),
	}
	hash := f.sourceTx(t, 100, types.ReceiptStatusSuccessful, sent)

	f.dst.SetHead(300)
	match := f.destLog(types.Log{Address: saddleSwapAddr, BlockNumber: 120, Topics: []common.Hash{topics.TokenSwap, addressTopic(ammWrapperAddr)}, Data: word(5_000)})
	// A later swap of the same size by an unrelated trader.
	f.destLog(types.Log{Address: saddleSwapAddr, BlockNumber: 150, Topics: []common.Hash{topics.TokenSwap, addressTopic(otherAddr)}, Data: word(5_000)})

	s, err := Watch(context.Background(), f.config(hash))
	require.NoError(t, err)
	events := collect(t, s)

	require.NoError(t, s.Err())
	require.Len(t, events, 2)
	assert.Equal(t, match.TxHash, events[1].Receipt.TxHash)
	assert.False(t, events[1].IsHTokenTransfer)
}

func TestL1ToL2_IgnoresSwapsNotBoughtByWrapper(t *testing.T) {
	f := newFixture(t, "ethereum", "optimism")
	f.set("optimism", addresses.L2SaddleSwap, saddleSwapAddr)
	f.set("optimism", addresses.L2AmmWrapper, ammWrapperAddr)

	recipient := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	sent := &types.Log{
		Address: l1BridgeAddr,
		Topics:  []common.Hash{topics.TransferSentToL2, common.BigToHash(big.NewInt(10)), addressTopic(recipient), addressTopic(common.Address{})},
		Data:    word(5_000),
	}
	hash := f.sourceTx(t, 100, types.ReceiptStatusSuccessful, sent)

	f.dst.SetHead(300)
	f.destLog(types.Log{Address: saddleSwapAddr, BlockNumber: 120, Topics: []common.Hash{topics.TokenSwap, addressTopic(otherAddr)}, Data: word(5_000)})
	f.destLog(types.Log{Address: saddleSwapAddr, BlockNumber: 130, Topics: []common.Hash{topics.TokenSwap, addressTopic(l2BridgeAddr)}, Data: word(5_000)})
	f.destLog(types.Log{Address: saddleSwapAddr, BlockNumber: 140, Topics: []common.Hash{topics.TokenSwap}, Data: word(5_000)})

	cfg := f.config(hash)
	cfg.Options.MaxAttempts = 3

	s, err := Watch(context.Background(), cfg)
	require.NoError(t, err)
	events := collect(t, s)

	require.Len(t, events, 2)
	assert.Equal(t, Error, events[1].Kind)
	assert.ErrorIs(t, events[1].Err, ErrMaxAttempts)
	assert.Equal(t, Errored, s.State())
}

func TestL1ToL2_SwapWithoutWrapperFallsBackToHToken(t *testing.T) {
	f := newFixture(t, "ethereum", "arbitrum")
	f.set("arbitrum", addresses.L2SaddleSwap, saddleSwapAddr)
	f.set("arbitrum", addresses.L2HopBridgeToken, hTokenAddr)

	recipient := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	sent := &types.Log{
		Address: l1BridgeAddr,
		Topics:  []common.Hash{topics.TransferSentToL2, common.BigToHash(big.NewInt(42161)), addressTopic(recipient), addressTopic(common.Address{})},
		Data:    word(2_000),
	}
	hash := f.sourceTx(t, 100, types.ReceiptStatusSuccessful, sent)

	f.dst.SetHead(300)
	f.destLog(types.Log{Address: saddleSwapAddr, BlockNumber: 140, Topics: []common.Hash{topics.TokenSwap, addressTopic(otherAddr)}, Data: word(2_000)})
	match := f.destLog(types.Log{Address: hTokenAddr, BlockNumber: 120, Topics: []common.Hash{topics.Transfer, addressTopic(common.Address{}), addressTopic(recipient)}, Data: word(2_000)})

	s, err := Watch(context.Background(), f.config(hash))
	require.NoError(t, err)
	events := collect(t, s)

	require.NoError(t, s.Err())
	require.Len(t, events, 2)
	assert.Equal(t, match.TxHash, events[1].Receipt.TxHash)
	assert.True(t, events[1].IsHTokenTransfer)
	assert.Equal(t, []common.Address{hTokenAddr}, f.dst.FilterQueries[0].Addresses)
}

func TestL1ToL2_PolygonFallsBackWhenBlockLookupFails(t *testing.T) {
	f := newFixture(t, "ethereum", "polygon")
	f.set("polygon", addresses.L2CanonicalToken, canonTokenAddr)

	recipient := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	sent := &types.Log{
		Address: l1BridgeAddr,
		Topics:  []common.Hash{topics.TransferSentToL2, common.BigToHash(big.NewInt(137)), addressTopic(recipient), addressTopic(common.Address{})},
		Data:    word(7_000),
	}
	hash := f.sourceTx(t, 550, types.ReceiptStatusSuccessful, sent)

	f.dst.SetHead(1500)
	f.dst.SetSingleError("BlockNumber", errors.New("header not found"))
	toRecipient := []common.Hash{topics.Transfer, addressTopic(common.Address{}), addressTopic(recipient)}
	f.destLog(types.Log{Address: canonTokenAddr, BlockNumber: 580, Topics: toRecipient, Data: word(1)})
	match := f.destLog(types.Log{Address: canonTokenAddr, BlockNumber: 600, Topics: toRecipient, Data: word(7_000)})

	s, err := Watch(context.Background(), f.config(hash))
	require.NoError(t, err)
	events := collect(t, s)

	require.NoError(t, s.Err())
	require.Len(t, events, 2)
	assert.Equal(t, match.TxHash, events[1].Receipt.TxHash)
	assert.Equal(t, int64(500), f.dst.FilterQueries[0].FromBlock.Int64())
}

func TestL1ToL2_GnosisChecksRelayReceipt(t *testing.T) {
	f := newFixture(t, "ethereum", "gnosis")
	f.set("gnosis", addresses.L2Amb, ambAddr)
	f.set("gnosis", addresses.L2HopBridgeToken, hTokenAddr)

	recipient := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	sent := &types.Log{
		Address: l1BridgeAddr,
		Topics:  []common.Hash{topics.TransferSentToL2, common.BigToHash(big.NewInt(100)), addressTopic(recipient), addressTopic(common.Address{})},
		Data:    word(3_000),
	}
	hash := f.sourceTx(t, 100, types.ReceiptStatusSuccessful, sent)
	f.dst.SetHead(400)

	affirmation := types.Log{
		Address:     ambAddr,
		BlockNumber: 130,
		TxHash:      common.HexToHash("0xa11"),
		Topics:      []common.Hash{topics.AffirmationCompleted, addressTopic(otherAddr), addressTopic(otherAddr), common.HexToHash("0x99")},
	}
	f.dst.AddLogs(affirmation)
	f.dst.AddReceipt(&types.Receipt{
		TxHash:      affirmation.TxHash,
		Status:      1,
		BlockNumber: big.NewInt(130),
		Logs: []*types.Log{{
			Address: hTokenAddr,
			Topics:  []common.Hash{topics.Transfer, addressTopic(common.Address{}), addressTopic(recipient)},
			Data:    word(3_000),
		}},
	})

	s, err := Watch(context.Background(), f.config(hash))
	require.NoError(t, err)
	events := collect(t, s)

	require.NoError(t, s.Err())
	require.Len(t, events, 2)
	assert.Equal(t, affirmation.TxHash, events[1].Receipt.TxHash)
	assert.True(t, events[1].IsHTokenTransfer)
}

func TestL1ToL2_UnconfiguredDestination(t *testing.T) {
	f := newFixture(t, "ethereum", "base")
	sent := &types.Log{
		Address: l1BridgeAddr,
		Topics:  []common.Hash{topics.TransferSentToL2, common.BigToHash(big.NewInt(8453)), addressTopic(otherAddr), addressTopic(common.Address{})},
		Data:    word(1),
	}
	hash := f.sourceTx(t, 100, types.ReceiptStatusSuccessful, sent)

	s, err := Watch(context.Background(), f.config(hash))
	require.NoError(t, err)
	events := collect(t, s)

	require.Len(t, events, 2)
	assert.Equal(t, Error, events[1].Kind)
	assert.ErrorContains(t, events[1].Err, "no AMM or hop token")
}

func TestCanonicalL1ToL2_GnosisMatchesRecipientTopic(t *testing.T) {
	f := newFixture(t, "ethereum", "gnosis")
	f.set("gnosis", addresses.L2CanonicalBridge, canonBridgeAddr)
	hash := f.sourceTx(t, 100, types.ReceiptStatusSuccessful)

	f.dst.SetHead(2000)
	match := f.destLog(types.Log{Address: canonBridgeAddr, BlockNumber: 1500,
		Topics: []common.Hash{topics.TokensBridged, addressTopic(canonTokenAddr), addressTopic(f.from), common.HexToHash("0x01")}, Data: word(1)})
	f.destLog(types.Log{Address: canonBridgeAddr, BlockNumber: 1600,
		Topics: []common.Hash{topics.TokensBridged, addressTopic(canonTokenAddr), addressTopic(otherAddr), common.HexToHash("0x02")}, Data: word(1)})

	s, err := WatchCanonical(context.Background(), f.config(hash))
	require.NoError(t, err)
	events := collect(t, s)

	require.NoError(t, s.Err())
	require.Len(t, events, 2)
	assert.Equal(t, match.TxHash, events[1].Receipt.TxHash)
	assert.Equal(t, []common.Address{canonBridgeAddr}, f.dst.FilterQueries[0].Addresses)
	assert.Equal(t, int64(1000), f.dst.FilterQueries[0].FromBlock.Int64())
}

func TestCanonicalL2ToL1_MatchesCanonicalTokenTransfer(t *testing.T) {
	f := newFixture(t, "optimism", "ethereum")
	f.set("ethereum", addresses.L1CanonicalToken, canonTokenAddr)
	hash := f.sourceTx(t, 100, types.ReceiptStatusSuccessful)

	f.dst.SetHead(3000)
	match := f.destLog(types.Log{Address: canonTokenAddr, BlockNumber: 2900,
		Topics: []common.Hash{topics.Transfer, addressTopic(otherAddr), addressTopic(f.from)}, Data: word(10)})

	s, err := WatchCanonical(context.Background(), f.config(hash))
	require.NoError(t, err)
	events := collect(t, s)

	require.NoError(t, s.Err())
	require.Len(t, events, 2)
	assert.Equal(t, match.TxHash, events[1].Receipt.TxHash)
}

func TestCanonicalL2ToL1_GnosisUsesL1Bridge(t *testing.T) {
	f := newFixture(t, "gnosis", "ethereum")
	f.set("ethereum", addresses.L1CanonicalBridge, canonBridgeAddr)
	hash := f.sourceTx(t, 100, types.ReceiptStatusSuccessful)
	f.dst.SetHead(3000)

	s, err := WatchCanonical(context.Background(), f.config(hash))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.State() == Polling }, 2*time.Second, time.Millisecond)
	s.Cancel()

	require.NotEmpty(t, f.dst.FilterQueries)
	assert.Equal(t, []common.Address{canonBridgeAddr}, f.dst.FilterQueries[0].Addresses)
	assert.Equal(t, [][]common.Hash{{topics.TokensBridged}}, f.dst.FilterQueries[0].Topics)
}
