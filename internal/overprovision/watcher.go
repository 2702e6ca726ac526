package overprovision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/repository/etcd"
)

// RatioSource lists and watches the keys holding per-storage ratios.
type RatioSource interface {
	ListPrefix(ctx context.Context, prefix string) ([]etcd.KeyValue, int64, error)
	WatchPrefix(ctx context.Context, prefix string, fromRevision int64) <-chan etcd.WatchEvent
}

// RatioEntry is the value stored under <prefix><storageID>.
type RatioEntry struct {
	Ratio decimal.Decimal `json:"ratio"`
}

const (
	minResyncInterval = 100 * time.Millisecond
	maxResyncInterval = 30 * time.Second
)

// Watcher keeps an Oracle in sync with the ratios stored in etcd.
type Watcher struct {
	source RatioSource
	oracle *Oracle
	prefix string
	logger *zap.Logger

	newBackOff func() backoff.BackOff
	watching   atomic.Bool
}

// NewWatcher creates a watcher for keys under prefix.
func NewWatcher(source RatioSource, oracle *Oracle, prefix string, logger *zap.Logger) *Watcher {
	return &Watcher{
		source:     source,
		oracle:     oracle,
		prefix:     prefix,
		logger:     logger.With(zap.String("component", "overprovision-watcher")),
		newBackOff: defaultBackOff,
	}
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = minResyncInterval
	b.MaxInterval = maxResyncInterval
	b.MaxElapsedTime = 0
	return b
}

// Synced reports whether the watcher has loaded the ratios and is following
// changes.
func (w *Watcher) Synced() bool {
	return w.watching.Load()
}

// Load reads every ratio under the prefix and returns the revision it read at.
func (w *Watcher) Load(ctx context.Context) (int64, error) {
	kvs, rev, err := w.source.ListPrefix(ctx, w.prefix)
	if err != nil {
		return 0, fmt.Errorf("failed to load over-provisioning ratios: %w", err)
	}
	stored := make(map[string]struct{}, len(kvs))
	for _, kv := range kvs {
		stored[strings.TrimPrefix(kv.Key, w.prefix)] = struct{}{}
		w.apply(etcd.WatchEvent{Type: etcd.EventTypePut, Key: kv.Key, Value: kv.Value})
	}
	// Ratios deleted while no watch was running.
	w.oracle.retain(stored)
	w.logger.Info("Loaded over-provisioning ratios", zap.Int("count", len(kvs)), zap.Int64("revision", rev))
	return rev, nil
}

// Run loads the current ratios and applies changes until ctx is done. When
// the load fails or the watch ends (compaction, lost connection) it backs off,
// reloads every ratio and watches again from the new revision.
func (w *Watcher) Run(ctx context.Context) error {
	b := w.newBackOff()
	for {
		rev, err := w.Load(ctx)
		if err == nil {
			b.Reset()
			w.follow(ctx, rev)
		} else if ctx.Err() == nil {
			w.logger.Warn("Failed to load over-provisioning ratios, retrying", zap.Error(err))
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			wait = maxResyncInterval
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// follow applies watch events until the channel closes or ctx is done.
func (w *Watcher) follow(ctx context.Context, rev int64) {
	w.watching.Store(true)
	defer w.watching.Store(false)

	events := w.source.WatchPrefix(ctx, w.prefix, rev+1)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				if ctx.Err() == nil {
					w.logger.Warn("Over-provisioning watch ended, resyncing", zap.Int64("revision", rev))
				}
				return
			}
			w.apply(ev)
		}
	}
}

func (w *Watcher) apply(ev etcd.WatchEvent) {
	storageID := strings.TrimPrefix(ev.Key, w.prefix)
	if storageID == "" || storageID == ev.Key {
		return
	}

	if ev.Type == etcd.EventTypeDelete {
		w.oracle.DeleteRatio(storageID)
		w.logger.Debug("Over-provisioning ratio removed", zap.String("storage_id", storageID))
		return
	}

	var entry RatioEntry
	if err := json.Unmarshal(ev.Value, &entry); err != nil {
		w.logger.Warn("Ignoring malformed over-provisioning ratio",
			zap.String("storage_id", storageID),
			zap.Error(err),
		)
		return
	}
	if err := w.oracle.SetRatio(storageID, entry.Ratio); err != nil {
		w.logger.Warn("Ignoring invalid over-provisioning ratio", zap.Error(err))
		return
	}
	w.logger.Debug("Over-provisioning ratio updated",
		zap.String("storage_id", storageID),
		zap.String("ratio", entry.Ratio.String()),
	)
}
