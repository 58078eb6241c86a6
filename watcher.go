package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/kaifufi/nft-settlement-sdk-go/chain"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often LogWatcher asks the node for new blocks
const DefaultPollInterval = 12 * time.Second

// EventSource delivers committed settlement events. Ledger and LogWatcher implement it.
type EventSource interface {
	Subscribe(fn func(*SettledEvent))
}

// LogWatcher polls a deployed settlement contract for Settled logs
type LogWatcher struct {
	caller   *chain.ContractCaller
	interval time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	listeners []func(*SettledEvent)
	started   bool
	next      uint64
}

func NewLogWatcher(caller *chain.ContractCaller, interval time.Duration, logger *zap.Logger) *LogWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.L()
	}
	return &LogWatcher{caller: caller, interval: interval, logger: logger}
}

// StartAt makes the next poll scan from block instead of the chain head
func (w *LogWatcher) StartAt(block uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.started = true
	w.next = block
}

func (w *LogWatcher) Subscribe(fn func(*SettledEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Poll delivers the events of every block mined since the last poll and
// returns how many were delivered. The first poll only records the head.
func (w *LogWatcher) Poll(ctx context.Context) (int, error) {
	latest, err := w.caller.BlockNumber(ctx)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	if !w.started {
		w.started = true
		w.next = latest + 1
		w.mu.Unlock()
		return 0, nil
	}
	from := w.next
	w.mu.Unlock()

	if latest < from {
		return 0, nil
	}

	logs, err := w.caller.SettledLogs(ctx, from, latest)
	if err != nil {
		return 0, err
	}

	w.mu.Lock()
	w.next = latest + 1
	listeners := append(([]func(*SettledEvent))(nil), w.listeners...)
	w.mu.Unlock()

	for _, l := range logs {
		ev := &SettledEvent{
			Seller:        l.Seller,
			Buyer:         l.Buyer,
			AssetContract: l.AssetContract,
			PaymentAsset:  l.PaymentAsset,
			AssetID:       l.AssetID,
			Price:         l.Price,
			Fee:           l.Fee,
			Deadline:      l.Deadline,
			Digest:        l.Digest,
		}
		for _, fn := range listeners {
			fn(ev)
		}
	}

	if len(logs) > 0 {
		w.logger.With(zap.Uint64("from", from), zap.Uint64("to", latest), zap.Int("events", len(logs))).Debug("Watcher: delivered settlements")
	}
	return len(logs), nil
}

// Run polls until ctx is done
func (w *LogWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		if _, err := w.Poll(ctx); err != nil && ctx.Err() == nil {
			w.logger.With(zap.Error(err)).Warn("Watcher: poll failed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
