// Package topics holds the event signatures the watchers look for inside raw
// receipts and log queries.
package topics

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/crypto/sha3"
)

const (
	TransferSentSignature            = "TransferSent(bytes32,uint256,address,uint256,bytes32,uint256,uint256,uint256,uint256)"
	TransferSentToL2Signature        = "TransferSentToL2(uint256,address,uint256,uint256,uint256,address,uint256)"
	WithdrawalBondedSignature        = "WithdrawalBonded(bytes32,uint256)"
	TransferFromL1CompletedSignature = "TransferFromL1Completed(address,uint256,uint256,uint256,address,uint256)"
	TokenSwapSignature               = "TokenSwap(address,uint256,uint256,uint128,uint128)"
	TransferSignature                = "Transfer(address,address,uint256)"
	TokensBridgedSignature           = "TokensBridged(address,address,uint256,bytes32)"
	AffirmationCompletedSignature    = "AffirmationCompleted(address,address,bytes32,bool)"
	StateSyncedSignature             = "StateSynced(uint256,address,bytes)"
)

var (
	TransferSent            = Hash(TransferSentSignature)
	TransferSentToL2        = Hash(TransferSentToL2Signature)
	WithdrawalBonded        = Hash(WithdrawalBondedSignature)
	TransferFromL1Completed = Hash(TransferFromL1CompletedSignature)
	TokenSwap               = Hash(TokenSwapSignature)
	Transfer                = Hash(TransferSignature)
	TokensBridged           = Hash(TokensBridgedSignature)
	AffirmationCompleted    = Hash(AffirmationCompletedSignature)
	StateSynced             = Hash(StateSyncedSignature)
)

// Registry maps event names to topic hashes.
var Registry = map[string]common.Hash{
	"TransferSent":            TransferSent,
	"TransferSentToL2":        TransferSentToL2,
	"WithdrawalBonded":        WithdrawalBonded,
	"TransferFromL1Completed": TransferFromL1Completed,
	"TokenSwap":               TokenSwap,
	"Transfer":                Transfer,
	"TokensBridged":           TokensBridged,
	"AffirmationCompleted":    AffirmationCompleted,
	"StateSynced":             StateSynced,
}

// Hash returns the keccak256 topic of an event signature.
func Hash(signature string) common.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return common.BytesToHash(h.Sum(nil))
}

// ByName looks up a topic by event name.
func ByName(name string) (common.Hash, bool) {
	h, ok := Registry[name]
	return h, ok
}

// FindLog returns the first log in logs whose topics[0] is topic. When addr is
// non-nil only logs emitted by that contract are considered.
func FindLog(logs []*types.Log, topic common.Hash, addr *common.Address) *types.Log {
	for _, l := range logs {
		if matches(l, topic, addr) {
			return l
		}
	}
	return nil
}

// FindLogs returns every log matching topic (and addr, when set).
func FindLogs(logs []*types.Log, topic common.Hash, addr *common.Address) []*types.Log {
	var out []*types.Log
	for _, l := range logs {
		if matches(l, topic, addr) {
			out = append(out, l)
		}
	}
	return out
}

func matches(l *types.Log, topic common.Hash, addr *common.Address) bool {
	if l == nil || len(l.Topics) == 0 {
		return false
	}
	if addr != nil && l.Address != *addr {
		return false
	}
	return l.Topics[0] == topic
}

// AddressInTopic reports whether addr appears inside the hex of topic. Both
// sides are lowercased and stripped of 0x.
func AddressInTopic(topic common.Hash, addr common.Address) bool {
	needle := strings.TrimPrefix(strings.ToLower(addr.Hex()), "0x")
	haystack := strings.TrimPrefix(strings.ToLower(topic.Hex()), "0x")
	return strings.Contains(haystack, needle)
}

// TopicAddress decodes a left-padded address topic.
func TopicAddress(topic common.Hash) common.Address {
	return common.BytesToAddress(topic.Bytes())
}

// WordAt returns the i-th 32-byte word of non-indexed event data, or nil when
// data is too short.
func WordAt(data []byte, i int) *big.Int {
	start := i * 32
	if i < 0 || len(data) < start+32 {
		return nil
	}
	return new(big.Int).SetBytes(data[start : start+32])
}
