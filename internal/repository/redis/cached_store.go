package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/localstorage"
)

const topologyKeyPrefix = "topology:"

// KV is the subset of Cache used by CachedStore.
type KV interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
}

var _ localstorage.Store = (*CachedStore)(nil)

// CachedStore caches storage types and cluster attachments in front of a
// localstorage.Store. Capacity and bindings change with every allocation and
// always go to the backing store.
type CachedStore struct {
	next   localstorage.Store
	cache  KV
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedStore wraps next with a Redis-backed cache.
func NewCachedStore(next localstorage.Store, cache KV, ttl time.Duration, logger *zap.Logger) *CachedStore {
	return &CachedStore{
		next:   next,
		cache:  cache,
		ttl:    ttl,
		logger: logger.With(zap.String("component", "topology-cache")),
	}
}

// CapacityTuples is not cached.
func (s *CachedStore) CapacityTuples(ctx context.Context, hostIDs []string) ([]domain.LocalStorageCapacity, error) {
	return s.next.CapacityTuples(ctx, hostIDs)
}

// PlacementRecord is not cached.
func (s *CachedStore) PlacementRecord(ctx context.Context, volumeID string) (*domain.PlacementRecord, error) {
	return s.next.PlacementRecord(ctx, volumeID)
}

// StorageType returns the cached storage type, loading it on a miss. Unknown
// storages are not cached.
func (s *CachedStore) StorageType(ctx context.Context, storageID string) (domain.StorageType, error) {
	key := fmt.Sprintf("%sstorage-type:%s", topologyKeyPrefix, storageID)

	var cached domain.StorageType
	if s.lookup(ctx, key, &cached) {
		return cached, nil
	}

	typ, err := s.next.StorageType(ctx, storageID)
	if err != nil {
		return "", err
	}
	s.store(ctx, key, typ)
	return typ, nil
}

// ClusterStorageTypes returns the cached storage types of the host's cluster.
func (s *CachedStore) ClusterStorageTypes(ctx context.Context, hostID string) ([]domain.StorageType, error) {
	key := fmt.Sprintf("%shost-storage-types:%s", topologyKeyPrefix, hostID)

	var cached []domain.StorageType
	if s.lookup(ctx, key, &cached) {
		return cached, nil
	}

	types, err := s.next.ClusterStorageTypes(ctx, hostID)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, types)
	return types, nil
}

// ClusterIsLocalStorageExclusive returns the cached exclusivity of a cluster.
func (s *CachedStore) ClusterIsLocalStorageExclusive(ctx context.Context, clusterID string) (bool, error) {
	key := fmt.Sprintf("%scluster-local-only:%s", topologyKeyPrefix, clusterID)

	var cached bool
	if s.lookup(ctx, key, &cached) {
		return cached, nil
	}

	exclusive, err := s.next.ClusterIsLocalStorageExclusive(ctx, clusterID)
	if err != nil {
		return false, err
	}
	s.store(ctx, key, exclusive)
	return exclusive, nil
}

// Invalidate drops every cached topology entry and returns how many were
// dropped.
func (s *CachedStore) Invalidate(ctx context.Context) (int, error) {
	n, err := s.cache.DeletePrefix(ctx, topologyKeyPrefix)
	if err != nil {
		return n, fmt.Errorf("failed to invalidate topology cache: %w", err)
	}
	s.logger.Info("Topology cache invalidated", zap.Int("entries", n))
	return n, nil
}

func (s *CachedStore) lookup(ctx context.Context, key string, dest interface{}) bool {
	err := s.cache.Get(ctx, key, dest)
	if err == nil {
		return true
	}
	if !errors.Is(err, ErrCacheMiss) {
		s.logger.Warn("Topology cache read failed, using backing store",
			zap.String("key", key),
			zap.Error(err),
		)
	}
	return false
}

func (s *CachedStore) store(ctx context.Context, key string, value interface{}) {
	if err := s.cache.Set(ctx, key, value, s.ttl); err != nil {
		s.logger.Warn("Topology cache write failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
