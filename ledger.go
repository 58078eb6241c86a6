package settlement

import (
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
)

// Journal records undo operations for mutations made inside a transaction
type Journal interface {
	Record(undo func())
}

// ReceivedKind tells a receiver hook what arrived
type ReceivedKind int

const (
	ReceivedNative ReceivedKind = iota
	ReceivedAsset
)

// Received describes a credit delivered to an account with a receiver hook
type Received struct {
	Kind       ReceivedKind
	From       common.Address
	To         common.Address
	Collection common.Address
	AssetID    *big.Int
	Amount     *big.Int
}

// ReceiveHook runs when an account receives native currency or an asset.
// Returning an error fails the transfer that triggered it.
type ReceiveHook func(r Received) error

type assetKey struct {
	collection common.Address
	id         string
}

type operatorKey struct {
	collection common.Address
	owner      common.Address
	operator   common.Address
}

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

// Ledger is an in-memory host chain: native balances, fungible tokens and
// non-fungible collections, with journaled snapshots for atomic execution.
type Ledger struct {
	txMu sync.Mutex

	mu         sync.RWMutex
	chainID    *big.Int
	time       uint64
	inTx       bool
	journal    []func()
	native     map[common.Address]*big.Int
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[allowanceKey]*big.Int
	owners     map[assetKey]common.Address
	approvals  map[assetKey]common.Address
	operators  map[operatorKey]bool
	receivers  map[common.Address]ReceiveHook
	logs       []*SettledEvent
	listeners  []func(*SettledEvent)
}

// NewLedger creates an empty ledger for chainID at block time now
func NewLedger(chainID *big.Int, now uint64) *Ledger {
	return &Ledger{
		chainID:    new(big.Int).Set(chainID),
		time:       now,
		native:     make(map[common.Address]*big.Int),
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[allowanceKey]*big.Int),
		owners:     make(map[assetKey]common.Address),
		approvals:  make(map[assetKey]common.Address),
		operators:  make(map[operatorKey]bool),
		receivers:  make(map[common.Address]ReceiveHook),
	}
}

// ChainID returns the live chain id
func (l *Ledger) ChainID() *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return new(big.Int).Set(l.chainID)
}

// SetChainID changes the live chain id, as after a chain split
func (l *Ledger) SetChainID(chainID *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.chainID = new(big.Int).Set(chainID)
}

// Time returns the current block timestamp
func (l *Ledger) Time() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.time
}

// SetTime sets the current block timestamp
func (l *Ledger) SetTime(now uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.time = now
}

// Apply runs fn as one serialized transaction. Every mutation fn makes is
// reverted when it returns an error; logs are delivered only on success.
func (l *Ledger) Apply(fn func() error) error {
	l.txMu.Lock()
	defer l.txMu.Unlock()

	l.mu.Lock()
	l.inTx = true
	firstLog := len(l.logs)
	l.mu.Unlock()

	err := fn()
	if err != nil {
		l.RevertToSnapshot(0)
	}

	l.mu.Lock()
	l.inTx = false
	l.journal = nil
	committed := append([]*SettledEvent(nil), l.logs[firstLog:]...)
	listeners := append(([]func(*SettledEvent))(nil), l.listeners...)
	l.mu.Unlock()

	if err != nil {
		return err
	}
	for _, ev := range committed {
		for _, fn := range listeners {
			fn(ev)
		}
	}
	return nil
}

// InTransaction reports whether a transaction is executing
func (l *Ledger) InTransaction() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inTx
}

// Snapshot returns an identifier for the current journal position
func (l *Ledger) Snapshot() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.journal)
}

// RevertToSnapshot undoes every mutation recorded after snapshot id
func (l *Ledger) RevertToSnapshot(id int) {
	l.mu.Lock()
	if id > len(l.journal) {
		l.mu.Unlock()
		return
	}
	undo := l.journal[id:]
	l.journal = l.journal[:id]
	l.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}
}

// Record appends an undo operation to the running transaction's journal
func (l *Ledger) Record(undo func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.record(undo)
}

func (l *Ledger) record(undo func()) {
	if l.inTx {
		l.journal = append(l.journal, undo)
	}
}

// AddLog appends a settlement log to the running transaction
func (l *Ledger) AddLog(ev *SettledEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, ev)
	n := len(l.logs) - 1
	l.record(func() {
		l.mu.Lock()
		l.logs = l.logs[:n]
		l.mu.Unlock()
	})
}

// Logs returns every committed settlement log
func (l *Ledger) Logs() []*SettledEvent {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]*SettledEvent(nil), l.logs...)
}

// Subscribe registers fn to receive settlement logs after their transaction commits
func (l *Ledger) Subscribe(fn func(*SettledEvent)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// SetReceiver installs a hook invoked whenever account receives value or an asset
func (l *Ledger) SetReceiver(account common.Address, hook ReceiveHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if hook == nil {
		delete(l.receivers, account)
		return
	}
	l.receivers[account] = hook
}

func (l *Ledger) notify(r Received) error {
	l.mu.RLock()
	hook, ok := l.receivers[r.To]
	l.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := hook(r); err != nil {
		return errors.Wrapf(ErrTransferFailed, "receiver %s rejected: %v", r.To.Hex(), err)
	}
	return nil
}

// setAmount replaces m[k] and journals the previous value; l.mu must be held
func (l *Ledger) setAmount(m map[common.Address]*big.Int, k common.Address, v *big.Int) {
	prev, existed := m[k]
	m[k] = v
	l.record(func() {
		l.mu.Lock()
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
		l.mu.Unlock()
	})
}

func amountOf(m map[common.Address]*big.Int, k common.Address) *big.Int {
	if v, ok := m[k]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// MintNative credits amount of native currency to account
func (l *Ledger) MintNative(account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setAmount(l.native, account, amountOf(l.native, account).Add(amountOf(l.native, account), amount))
}

// NativeBalance returns the native balance of account
func (l *Ledger) NativeBalance(account common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return amountOf(l.native, account)
}

// TransferNative moves amount of native currency from one account to another
func (l *Ledger) TransferNative(from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return errors.Wrap(ErrTransferFailed, "negative native amount")
	}

	l.mu.Lock()
	balance := amountOf(l.native, from)
	if balance.Cmp(amount) < 0 {
		l.mu.Unlock()
		return errors.Wrapf(ErrTransferFailed, "native balance of %s is %s, needs %s", from.Hex(), balance, amount)
	}
	l.setAmount(l.native, from, balance.Sub(balance, amount))
	l.setAmount(l.native, to, amountOf(l.native, to).Add(amountOf(l.native, to), amount))
	l.mu.Unlock()

	return l.notify(Received{Kind: ReceivedNative, From: from, To: to, Amount: new(big.Int).Set(amount)})
}

func (l *Ledger) tokenBalances(token common.Address) map[common.Address]*big.Int {
	m, ok := l.balances[token]
	if !ok {
		m = make(map[common.Address]*big.Int)
		l.balances[token] = m
	}
	return m
}

// MintToken credits amount of token to account
func (l *Ledger) MintToken(token, account common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.tokenBalances(token)
	l.setAmount(m, account, amountOf(m, account).Add(amountOf(m, account), amount))
}

// BalanceOf returns the token balance of account
func (l *Ledger) BalanceOf(token, account common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return amountOf(l.balances[token], account)
}

// Approve sets the allowance spender may pull from owner
func (l *Ledger) Approve(token, owner, spender common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	m, ok := l.allowances[token]
	if !ok {
		m = make(map[allowanceKey]*big.Int)
		l.allowances[token] = m
	}
	key := allowanceKey{owner: owner, spender: spender}
	prev, existed := m[key]
	m[key] = new(big.Int).Set(amount)
	l.record(func() {
		l.mu.Lock()
		if existed {
			m[key] = prev
		} else {
			delete(m, key)
		}
		l.mu.Unlock()
	})
}

// Allowance returns what spender may still pull from owner
func (l *Ledger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if v, ok := l.allowances[token][allowanceKey{owner: owner, spender: spender}]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

// TransferFrom moves amount of token from one account to another on behalf of spender
func (l *Ledger) TransferFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return errors.Wrap(ErrTransferFailed, "negative token amount")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if spender != from {
		key := allowanceKey{owner: from, spender: spender}
		allowance := new(big.Int)
		if v, ok := l.allowances[token][key]; ok {
			allowance.Set(v)
		}
		if allowance.Cmp(amount) < 0 {
			return errors.Wrapf(ErrTransferFailed, "allowance of %s for %s is %s, needs %s", from.Hex(), spender.Hex(), allowance, amount)
		}
		if amount.Sign() > 0 && allowance.Cmp(maxUint256) != 0 {
			m := l.allowances[token]
			prev := m[key]
			m[key] = allowance.Sub(allowance, amount)
			l.record(func() {
				l.mu.Lock()
				m[key] = prev
				l.mu.Unlock()
			})
		}
	}

	m := l.tokenBalances(token)
	balance := amountOf(m, from)
	if balance.Cmp(amount) < 0 {
		return errors.Wrapf(ErrTransferFailed, "token balance of %s is %s, needs %s", from.Hex(), balance, amount)
	}
	l.setAmount(m, from, balance.Sub(balance, amount))
	l.setAmount(m, to, amountOf(m, to).Add(amountOf(m, to), amount))
	return nil
}

func keyOf(collection common.Address, id *big.Int) assetKey {
	return assetKey{collection: collection, id: id.String()}
}

// MintAsset creates asset id in collection owned by to
func (l *Ledger) MintAsset(collection, to common.Address, id *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := keyOf(collection, id)
	if _, ok := l.owners[key]; ok {
		return errors.Errorf("asset %s #%s already minted", collection.Hex(), id)
	}
	l.owners[key] = to
	l.record(func() {
		l.mu.Lock()
		delete(l.owners, key)
		l.mu.Unlock()
	})
	return nil
}

// OwnerOf returns the owner of an asset, or the zero address if it does not exist
func (l *Ledger) OwnerOf(collection common.Address, id *big.Int) common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.owners[keyOf(collection, id)]
}

// ApproveAsset lets operator move one asset of owner
func (l *Ledger) ApproveAsset(collection, owner, operator common.Address, id *big.Int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := keyOf(collection, id)
	if l.owners[key] != owner {
		return errors.Errorf("%s does not own %s #%s", owner.Hex(), collection.Hex(), id)
	}
	prev, existed := l.approvals[key]
	l.approvals[key] = operator
	l.record(func() {
		l.mu.Lock()
		if existed {
			l.approvals[key] = prev
		} else {
			delete(l.approvals, key)
		}
		l.mu.Unlock()
	})
	return nil
}

// GetApproved returns the per-asset approved operator
func (l *Ledger) GetApproved(collection common.Address, id *big.Int) common.Address {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.approvals[keyOf(collection, id)]
}

// SetApprovalForAll lets operator move every asset owner holds in collection
func (l *Ledger) SetApprovalForAll(collection, owner, operator common.Address, approved bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := operatorKey{collection: collection, owner: owner, operator: operator}
	prev := l.operators[key]
	l.operators[key] = approved
	l.record(func() {
		l.mu.Lock()
		l.operators[key] = prev
		l.mu.Unlock()
	})
}

// IsApprovedForAll reports whether operator may move all of owner's assets in collection
func (l *Ledger) IsApprovedForAll(collection, owner, operator common.Address) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.operators[operatorKey{collection: collection, owner: owner, operator: operator}]
}

// TransferAsset moves an asset from one account to another on behalf of operator
func (l *Ledger) TransferAsset(collection, operator, from, to common.Address, id *big.Int) error {
	l.mu.Lock()
	key := keyOf(collection, id)
	owner, ok := l.owners[key]
	if !ok || owner != from {
		l.mu.Unlock()
		return errors.Wrapf(ErrTransferFailed, "%s does not own %s #%s", from.Hex(), collection.Hex(), id)
	}
	if operator != owner && l.approvals[key] != operator && !l.operators[operatorKey{collection: collection, owner: owner, operator: operator}] {
		l.mu.Unlock()
		return errors.Wrapf(ErrTransferFailed, "%s is not approved for %s #%s", operator.Hex(), collection.Hex(), id)
	}

	prevApproval, hadApproval := l.approvals[key]
	delete(l.approvals, key)
	l.owners[key] = to
	l.record(func() {
		l.mu.Lock()
		l.owners[key] = owner
		if hadApproval {
			l.approvals[key] = prevApproval
		}
		l.mu.Unlock()
	})
	l.mu.Unlock()

	return l.notify(Received{Kind: ReceivedAsset, From: from, To: to, Collection: collection, AssetID: new(big.Int).Set(id)})
}
