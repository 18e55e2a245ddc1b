package contracts

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// Only the methods and events this module touches are declared.

const l1BridgeABI = `[
	{"type":"function","name":"sendToL2","stateMutability":"payable","inputs":[
		{"name":"chainId","type":"uint256"},{"name":"recipient","type":"address"},
		{"name":"amount","type":"uint256"},{"name":"amountOutMin","type":"uint256"},
		{"name":"deadline","type":"uint256"},{"name":"relayer","type":"address"},
		{"name":"relayerFee","type":"uint256"}],"outputs":[]},
	{"type":"event","name":"TransferSentToL2","anonymous":false,"inputs":[
		{"name":"chainId","type":"uint256","indexed":true},{"name":"recipient","type":"address","indexed":true},
		{"name":"amount","type":"uint256","indexed":false},{"name":"amountOutMin","type":"uint256","indexed":false},
		{"name":"deadline","type":"uint256","indexed":false},{"name":"relayer","type":"address","indexed":true},
		{"name":"relayerFee","type":"uint256","indexed":false}]},
	{"type":"event","name":"WithdrawalBonded","anonymous":false,"inputs":[
		{"name":"transferId","type":"bytes32","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

const l2BridgeABI = `[
	{"type":"function","name":"send","stateMutability":"payable","inputs":[
		{"name":"chainId","type":"uint256"},{"name":"recipient","type":"address"},
		{"name":"amount","type":"uint256"},{"name":"bonderFee","type":"uint256"},
		{"name":"amountOutMin","type":"uint256"},{"name":"deadline","type":"uint256"}],"outputs":[]},
	{"type":"event","name":"TransferSent","anonymous":false,"inputs":[
		{"name":"transferId","type":"bytes32","indexed":true},{"name":"chainId","type":"uint256","indexed":true},
		{"name":"recipient","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false},
		{"name":"transferNonce","type":"bytes32","indexed":false},{"name":"bonderFee","type":"uint256","indexed":false},
		{"name":"index","type":"uint256","indexed":false},{"name":"amountOutMin","type":"uint256","indexed":false},
		{"name":"deadline","type":"uint256","indexed":false}]},
	{"type":"event","name":"WithdrawalBonded","anonymous":false,"inputs":[
		{"name":"transferId","type":"bytes32","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

const ammWrapperABI = `[
	{"type":"function","name":"swapAndSend","stateMutability":"payable","inputs":[
		{"name":"chainId","type":"uint256"},{"name":"recipient","type":"address"},
		{"name":"amount","type":"uint256"},{"name":"bonderFee","type":"uint256"},
		{"name":"amountOutMin","type":"uint256"},{"name":"deadline","type":"uint256"},
		{"name":"destinationAmountOutMin","type":"uint256"},{"name":"destinationDeadline","type":"uint256"}],"outputs":[]}
]`

const saddleSwapABI = `[
	{"type":"function","name":"calculateSwap","stateMutability":"view","inputs":[
		{"name":"tokenIndexFrom","type":"uint8"},{"name":"tokenIndexTo","type":"uint8"},
		{"name":"dx","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"getTokenIndex","stateMutability":"view","inputs":[
		{"name":"tokenAddress","type":"address"}],"outputs":[{"name":"","type":"uint8"}]},
	{"type":"event","name":"TokenSwap","anonymous":false,"inputs":[
		{"name":"buyer","type":"address","indexed":true},{"name":"tokensSold","type":"uint256","indexed":false},
		{"name":"tokensBought","type":"uint256","indexed":false},{"name":"soldId","type":"uint128","indexed":false},
		{"name":"boughtId","type":"uint128","indexed":false}]}
]`

const erc20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
		{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[
		{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[
		{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"event","name":"Transfer","anonymous":false,"inputs":[
		{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false}]}
]`

const ambABI = `[
	{"type":"event","name":"AffirmationCompleted","anonymous":false,"inputs":[
		{"name":"sender","type":"address","indexed":true},{"name":"executor","type":"address","indexed":true},
		{"name":"messageId","type":"bytes32","indexed":true},{"name":"status","type":"bool","indexed":false}]}
]`

const canonicalBridgeABI = `[
	{"type":"event","name":"TokensBridged","anonymous":false,"inputs":[
		{"name":"token","type":"address","indexed":true},{"name":"recipient","type":"address","indexed":true},
		{"name":"value","type":"uint256","indexed":false},{"name":"messageId","type":"bytes32","indexed":true}]}
]`

var (
	L1BridgeABI        = mustParse(l1BridgeABI)
	L2BridgeABI        = mustParse(l2BridgeABI)
	AmmWrapperABI      = mustParse(ammWrapperABI)
	SaddleSwapABI      = mustParse(saddleSwapABI)
	ERC20ABI           = mustParse(erc20ABI)
	AmbABI             = mustParse(ambABI)
	CanonicalBridgeABI = mustParse(canonicalBridgeABI)
)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(err)
	}
	return parsed
}
