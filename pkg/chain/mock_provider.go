package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const (
	mockGenesisTime = uint64(1_600_000_000)
	mockBlockTime   = uint64(12)
)

// MockProvider implements Provider in memory for tests. Headers that were not
// set explicitly are synthesized with a fixed block time.
type MockProvider struct {
	mutex sync.Mutex

	chainID     *big.Int
	head        uint64
	genesisTime uint64
	blockTime   uint64
	headers     map[uint64]*types.Header
	txs         map[common.Hash]*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	logs        []types.Log
	callResults map[string][]byte
	nonce       uint64

	methodErrors map[string]error
	filterErrors map[common.Address]error
	singleErrors map[string]error

	subscriptions []*MockSubscription

	FilterQueries []ethereum.FilterQuery
	HeaderCalls   int
	Sent          []*types.Transaction
}

func NewMockProvider(chainID uint64) *MockProvider {
	return &MockProvider{
		chainID:      new(big.Int).SetUint64(chainID),
		genesisTime:  mockGenesisTime,
		blockTime:    mockBlockTime,
		headers:      make(map[uint64]*types.Header),
		txs:          make(map[common.Hash]*types.Transaction),
		receipts:     make(map[common.Hash]*types.Receipt),
		callResults:  make(map[string][]byte),
		methodErrors: make(map[string]error),
		filterErrors: make(map[common.Address]error),
		singleErrors: make(map[string]error),
	}
}

// SetHead moves the chain head.
func (m *MockProvider) SetHead(head uint64) {
	m.mutex.Lock()
	m.head = head
	m.mutex.Unlock()
}

// SetBlockTime changes how synthesized header timestamps are derived.
func (m *MockProvider) SetBlockTime(genesis, spacing uint64) {
	m.mutex.Lock()
	m.genesisTime = genesis
	m.blockTime = spacing
	m.mutex.Unlock()
}

// BlockTime returns the timestamp the mock reports for block n.
func (m *MockProvider) BlockTime(n uint64) uint64 {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.headerLocked(n).Time
}

func (m *MockProvider) SetHeader(h *types.Header) {
	m.mutex.Lock()
	m.headers[h.Number.Uint64()] = h
	m.mutex.Unlock()
}

// AddTransaction registers tx; a nil receipt leaves it pending.
func (m *MockProvider) AddTransaction(tx *types.Transaction, receipt *types.Receipt) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.txs[tx.Hash()] = tx
	if receipt != nil {
		m.receipts[tx.Hash()] = receipt
	}
}

// AddReceipt registers a receipt without a matching transaction body.
func (m *MockProvider) AddReceipt(receipt *types.Receipt) {
	m.mutex.Lock()
	m.receipts[receipt.TxHash] = receipt
	m.mutex.Unlock()
}

func (m *MockProvider) AddLogs(logs ...types.Log) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.logs = append(m.logs, logs...)
	sort.SliceStable(m.logs, func(i, j int) bool {
		return m.logs[i].BlockNumber < m.logs[j].BlockNumber
	})
}

// SetCallResult makes CallContract return data for calls to `to` whose input
// starts with selector.
func (m *MockProvider) SetCallResult(to common.Address, selector []byte, data []byte) {
	m.mutex.Lock()
	m.callResults[callKey(to, selector)] = data
	m.mutex.Unlock()
}

// SetError makes every call of method fail until cleared with a nil error.
func (m *MockProvider) SetError(method string, err error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err == nil {
		delete(m.methodErrors, method)
		return
	}
	m.methodErrors[method] = err
}

// SetSingleError makes the next call of method fail once.
func (m *MockProvider) SetSingleError(method string, err error) {
	m.mutex.Lock()
	m.singleErrors[method] = err
	m.mutex.Unlock()
}

// SetFilterError makes FilterLogs fail whenever the query names addr.
func (m *MockProvider) SetFilterError(addr common.Address, err error) {
	m.mutex.Lock()
	m.filterErrors[addr] = err
	m.mutex.Unlock()
}

// ActiveSubscriptions counts subscriptions that were not unsubscribed.
func (m *MockProvider) ActiveSubscriptions() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	n := 0
	for _, s := range m.subscriptions {
		if !s.closed() {
			n++
		}
	}
	return n
}

// Subscriptions returns every subscription opened so far.
func (m *MockProvider) Subscriptions() []*MockSubscription {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]*MockSubscription(nil), m.subscriptions...)
}

func (m *MockProvider) errFor(method string) error {
	if err, ok := m.singleErrors[method]; ok {
		delete(m.singleErrors, method)
		return err
	}
	return m.methodErrors[method]
}

func (m *MockProvider) headerLocked(n uint64) *types.Header {
	if h, ok := m.headers[n]; ok {
		return h
	}
	return &types.Header{
		Number: new(big.Int).SetUint64(n),
		Time:   m.genesisTime + n*m.blockTime,
	}
}

func (m *MockProvider) ChainID(ctx context.Context) (*big.Int, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.errFor("ChainID"); err != nil {
		return nil, err
	}
	return new(big.Int).Set(m.chainID), nil
}

func (m *MockProvider) BlockNumber(ctx context.Context) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.errFor("BlockNumber"); err != nil {
		return 0, err
	}
	return m.head, nil
}

func (m *MockProvider) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.HeaderCalls++
	if err := m.errFor("HeaderByNumber"); err != nil {
		return nil, err
	}
	if number == nil {
		return m.headerLocked(m.head), nil
	}
	n := number.Uint64()
	if n > m.head {
		return nil, ethereum.NotFound
	}
	return m.headerLocked(n), nil
}

func (m *MockProvider) TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.errFor("TransactionByHash"); err != nil {
		return nil, false, err
	}
	tx, ok := m.txs[hash]
	if !ok {
		return nil, false, ethereum.NotFound
	}
	_, mined := m.receipts[hash]
	return tx, !mined, nil
}

func (m *MockProvider) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.errFor("TransactionReceipt"); err != nil {
		return nil, err
	}
	r, ok := m.receipts[txHash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (m *MockProvider) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	m.FilterQueries = append(m.FilterQueries, q)
	if err := m.errFor("FilterLogs"); err != nil {
		return nil, err
	}
	for _, addr := range q.Addresses {
		if err, ok := m.filterErrors[addr]; ok {
			return nil, err
		}
	}

	from := uint64(0)
	if q.FromBlock != nil {
		from = q.FromBlock.Uint64()
	}
	to := m.head
	if q.ToBlock != nil {
		to = q.ToBlock.Uint64()
	}

	var out []types.Log
	for _, l := range m.logs {
		if l.BlockNumber < from || l.BlockNumber > to {
			continue
		}
		if !matchesQuery(l, q) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func matchesQuery(l types.Log, q ethereum.FilterQuery) bool {
	if len(q.Addresses) > 0 {
		found := false
		for _, a := range q.Addresses {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, alternatives := range q.Topics {
		if len(alternatives) == 0 {
			continue
		}
		if i >= len(l.Topics) {
			return false
		}
		found := false
		for _, t := range alternatives {
			if t == l.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (m *MockProvider) SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.errFor("SubscribeFilterLogs"); err != nil {
		return nil, err
	}
	sub := &MockSubscription{query: q, sink: ch, err: make(chan error, 1)}
	m.subscriptions = append(m.subscriptions, sub)
	return sub, nil
}

// Emit delivers l to every live subscription whose filter matches.
func (m *MockProvider) Emit(l types.Log) {
	for _, s := range m.Subscriptions() {
		if s.closed() || !matchesQuery(l, s.query) {
			continue
		}
		s.sink <- l
	}
}

func (m *MockProvider) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (m *MockProvider) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (m *MockProvider) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.errFor("CallContract"); err != nil {
		return nil, err
	}
	if call.To == nil || len(call.Data) < 4 {
		return nil, errors.New("mock: invalid call")
	}
	out, ok := m.callResults[callKey(*call.To, call.Data[:4])]
	if !ok {
		return nil, fmt.Errorf("mock: no result for %s %x", call.To.Hex(), call.Data[:4])
	}
	return out, nil
}

func (m *MockProvider) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.nonce, nil
}

func (m *MockProvider) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return m.nonce, nil
}

func (m *MockProvider) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (m *MockProvider) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (m *MockProvider) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (m *MockProvider) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if err := m.errFor("SendTransaction"); err != nil {
		return err
	}
	m.Sent = append(m.Sent, tx)
	m.txs[tx.Hash()] = tx
	m.nonce++
	return nil
}

// SentTransactions returns a copy of the transactions sent so far.
func (m *MockProvider) SentTransactions() []*types.Transaction {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return append([]*types.Transaction(nil), m.Sent...)
}

func callKey(to common.Address, selector []byte) string {
	return fmt.Sprintf("%s:%x", to.Hex(), selector)
}

// MockSubscription is returned by MockProvider.SubscribeFilterLogs.
type MockSubscription struct {
	mutex        sync.Mutex
	query        ethereum.FilterQuery
	sink         chan<- types.Log
	err          chan error
	unsubscribed bool
}

func (s *MockSubscription) Unsubscribe() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.unsubscribed {
		return
	}
	s.unsubscribed = true
	close(s.err)
}

func (s *MockSubscription) Err() <-chan error {
	return s.err
}

func (s *MockSubscription) closed() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.unsubscribed
}
