package settlement

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/kaifufi/nft-settlement-sdk-go/chain"
	"github.com/pkg/errors"
)

// ReplayGuard prevents one signed order from settling more than once
type ReplayGuard interface {
	Mode() ReplayMode
	// IsSettled reports whether digest was settled (always false in nonce mode)
	IsSettled(digest common.Hash) bool
	// Nonce returns the seller's current nonce (always zero in digest mode)
	Nonce(seller common.Address) *big.Int
	// Mark records a settlement; the mutation is undone if j reverts
	Mark(j Journal, order *chain.OrderTypedData, digest common.Hash) error
}

// NewReplayGuard returns the guard for mode
func NewReplayGuard(mode ReplayMode) ReplayGuard {
	if mode == ReplayNonce {
		return NewNonceCounter()
	}
	return NewDigestSet()
}

func checkReplay(ctx context.Context, mode ReplayMode, r StateReader, order *chain.OrderTypedData, digest common.Hash) error {
	switch mode {
	case ReplayNonce:
		current, err := r.Nonce(ctx, order.Seller)
		if err != nil {
			return errors.Wrap(err, "read nonce")
		}
		if current.Cmp(order.Nonce) != 0 {
			return errors.Wrapf(ErrSignatureReplayed, "order nonce %s, seller nonce %s", order.Nonce, current)
		}
	default:
		settled, err := r.IsSettled(ctx, digest)
		if err != nil {
			return errors.Wrap(err, "read settlement status")
		}
		if settled {
			return errors.Wrapf(ErrSignatureReplayed, "digest %s already settled", digest.Hex())
		}
	}
	return nil
}

// DigestSet is a write-once set of settled order digests
type DigestSet struct {
	mu      sync.RWMutex
	settled map[common.Hash]struct{}
}

func NewDigestSet() *DigestSet {
	return &DigestSet{settled: make(map[common.Hash]struct{})}
}

func (d *DigestSet) Mode() ReplayMode {
	return ReplayDigest
}

func (d *DigestSet) IsSettled(digest common.Hash) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.settled[digest]
	return ok
}

func (d *DigestSet) Nonce(common.Address) *big.Int {
	return new(big.Int)
}

func (d *DigestSet) Mark(j Journal, _ *chain.OrderTypedData, digest common.Hash) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.settled[digest]; ok {
		return errors.Wrapf(ErrSignatureReplayed, "digest %s already settled", digest.Hex())
	}
	d.settled[digest] = struct{}{}

	j.Record(func() {
		d.mu.Lock()
		delete(d.settled, digest)
		d.mu.Unlock()
	})
	return nil
}

// NonceCounter keeps a monotonically increasing nonce per seller
type NonceCounter struct {
	mu     sync.RWMutex
	nonces map[common.Address]*big.Int
}

func NewNonceCounter() *NonceCounter {
	return &NonceCounter{nonces: make(map[common.Address]*big.Int)}
}

func (n *NonceCounter) Mode() ReplayMode {
	return ReplayNonce
}

func (n *NonceCounter) IsSettled(common.Hash) bool {
	return false
}

func (n *NonceCounter) Nonce(seller common.Address) *big.Int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.current(seller)
}

func (n *NonceCounter) current(seller common.Address) *big.Int {
	if v, ok := n.nonces[seller]; ok {
		return new(big.Int).Set(v)
	}
	return new(big.Int)
}

func (n *NonceCounter) Mark(j Journal, order *chain.OrderTypedData, _ common.Hash) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	current := n.current(order.Seller)
	if current.Cmp(order.Nonce) != 0 {
		return errors.Wrapf(ErrSignatureReplayed, "order nonce %s, seller nonce %s", order.Nonce, current)
	}

	prev, existed := n.nonces[order.Seller]
	n.nonces[order.Seller] = current.Add(current, big.NewInt(1))

	seller := order.Seller
	j.Record(func() {
		n.mu.Lock()
		if existed {
			n.nonces[seller] = prev
		} else {
			delete(n.nonces, seller)
		}
		n.mu.Unlock()
	})
	return nil
}
