package topics

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHash_KnownTransferTopic(t *testing.T) {
	assert.Equal(t,
		common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"),
		Transfer,
	)
}

func TestRegistry_MatchesKeccak(t *testing.T) {
	signatures := map[string]string{
		"TransferSent":            TransferSentSignature,
		"TransferSentToL2":        TransferSentToL2Signature,
		"WithdrawalBonded":        WithdrawalBondedSignature,
		"TransferFromL1Completed": TransferFromL1CompletedSignature,
		"TokenSwap":               TokenSwapSignature,
		"Transfer":                TransferSignature,
		"TokensBridged":           TokensBridgedSignature,
		"AffirmationCompleted":    AffirmationCompletedSignature,
		"StateSynced":             StateSyncedSignature,
	}
	require.Len(t, Registry, len(signatures))
	for name, sig := range signatures {
		got, ok := ByName(name)
		require.True(t, ok, name)
		assert.Equal(t, crypto.Keccak256Hash([]byte(sig)), got, name)
	}

	_, ok := ByName("Nope")
	assert.False(t, ok)
}

func TestFindLog_FiltersByTopicAndAddress(t *testing.T) {
	bridge := common.HexToAddress("0x1000000000000000000000000000000000000001")
	other := common.HexToAddress("0x2000000000000000000000000000000000000002")

	logs := []*types.Log{
		nil,
		{Address: other, Topics: []common.Hash{WithdrawalBonded, common.HexToHash("0x01")}},
		{Address: bridge, Topics: []common.Hash{}},
		{Address: bridge, Topics: []common.Hash{TransferSent, common.HexToHash("0x02")}},
		{Address: bridge, Topics: []common.Hash{WithdrawalBonded, common.HexToHash("0x03")}},
	}

	l := FindLog(logs, WithdrawalBonded, nil)
	require.NotNil(t, l)
	assert.Equal(t, other, l.Address)

	l = FindLog(logs, WithdrawalBonded, &bridge)
	require.NotNil(t, l)
	assert.Equal(t, common.HexToHash("0x03"), l.Topics[1])

	assert.Nil(t, FindLog(logs, TokenSwap, nil))
	assert.Len(t, FindLogs(logs, WithdrawalBonded, nil), 2)
	assert.Len(t, FindLogs(logs, WithdrawalBonded, &other), 1)
}

func TestAddressInTopic(t *testing.T) {
	addr := common.HexToAddress("0xAbCdEf0000000000000000000000000000001234")
	topic := common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))

	assert.True(t, AddressInTopic(topic, addr))
	assert.False(t, AddressInTopic(topic, common.HexToAddress("0x1")))
	assert.Equal(t, addr, TopicAddress(topic))
}

func TestWordAt(t *testing.T) {
	data := append(common.LeftPadBytes(big.NewInt(5).Bytes(), 32), common.LeftPadBytes(big.NewInt(9).Bytes(), 32)...)

	assert.Equal(t, int64(5), WordAt(data, 0).Int64())
	assert.Equal(t, int64(9), WordAt(data, 1).Int64())
	assert.Nil(t, WordAt(data, 2))
	assert.Nil(t, WordAt(data, -1))
}
