// Package etcd provides etcd client functionality for watched placement settings.
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/config"
)

// Client wraps an etcd client.
type Client struct {
	client *clientv3.Client
	logger *zap.Logger
}

// NewClient creates a new etcd client.
func NewClient(cfg config.EtcdConfig, logger *zap.Logger) (*Client, error) {
	client, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
		Username:    cfg.Username,
		Password:    cfg.Password,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	logger.Info("Connected to etcd", zap.Strings("endpoints", cfg.Endpoints))

	return &Client{
		client: client,
		logger: logger,
	}, nil
}

// Close closes the etcd client.
func (c *Client) Close() error {
	return c.client.Close()
}

// Health checks if etcd is reachable.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Status(ctx, c.client.Endpoints()[0])
	return err
}

// =============================================================================
// Key-Value Operations
// =============================================================================

// Put stores a JSON-encoded value in etcd.
func (c *Client) Put(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	if _, err := c.client.Put(ctx, key, string(data)); err != nil {
		return fmt.Errorf("failed to put key: %w", err)
	}
	return nil
}

// Delete removes a key from etcd.
func (c *Client) Delete(ctx context.Context, key string) error {
	_, err := c.client.Delete(ctx, key)
	return err
}

// KeyValue is a raw etcd entry.
type KeyValue struct {
	Key   string
	Value []byte
}

// ListPrefix returns every entry under prefix together with the store
// revision it was read at, so a watch can resume right after it.
func (c *Client) ListPrefix(ctx context.Context, prefix string) ([]KeyValue, int64, error) {
	resp, err := c.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list keys: %w", err)
	}

	kvs := make([]KeyValue, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		kvs = append(kvs, KeyValue{Key: string(kv.Key), Value: kv.Value})
	}
	return kvs, resp.Header.Revision, nil
}

// =============================================================================
// Watch Operations
// =============================================================================

// WatchEvent represents an etcd watch event.
type WatchEvent struct {
	Type  EventType
	Key   string
	Value []byte
}

// EventType represents the type of watch event.
type EventType string

const (
	EventTypePut    EventType = "PUT"
	EventTypeDelete EventType = "DELETE"
)

// WatchPrefix watches for changes under prefix starting at fromRevision
// (0 means from now). The channel is closed when ctx is done or the watch ends.
func (c *Client) WatchPrefix(ctx context.Context, prefix string, fromRevision int64) <-chan WatchEvent {
	events := make(chan WatchEvent, 10)

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if fromRevision > 0 {
		opts = append(opts, clientv3.WithRev(fromRevision))
	}

	go func() {
		defer close(events)

		watchCh := c.client.Watch(ctx, prefix, opts...)
		for {
			select {
			case <-ctx.Done():
				return
			case resp, ok := <-watchCh:
				if !ok {
					return
				}
				if err := resp.Err(); err != nil {
					c.logger.Warn("etcd watch failed", zap.String("prefix", prefix), zap.Error(err))
					return
				}
				for _, ev := range resp.Events {
					eventType := EventTypePut
					if ev.Type == clientv3.EventTypeDelete {
						eventType = EventTypeDelete
					}
					select {
					case events <- WatchEvent{
						Type:  eventType,
						Key:   string(ev.Kv.Key),
						Value: ev.Kv.Value,
					}:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return events
}
