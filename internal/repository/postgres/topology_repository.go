package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/localstorage"
	"github.com/limiquantix/placement/internal/scheduler"
)

var (
	_ localstorage.Store       = (*TopologyRepository)(nil)
	_ scheduler.HostRepository = (*TopologyRepository)(nil)
)

// TopologyRepository reads hosts, storage attachments, local storage capacity
// and volume bindings from PostgreSQL.
type TopologyRepository struct {
	db     *DB
	logger *zap.Logger
}

// NewTopologyRepository creates a new PostgreSQL topology repository.
func NewTopologyRepository(db *DB, logger *zap.Logger) *TopologyRepository {
	return &TopologyRepository{
		db:     db,
		logger: logger.With(zap.String("repository", "topology")),
	}
}

// ListSchedulable returns every enabled and connected host, ordered by ID.
func (r *TopologyRepository) ListSchedulable(ctx context.Context) ([]*domain.HostCandidate, error) {
	query := `
		SELECT id, name, cluster_id, hypervisor_type
		FROM hosts
		WHERE state = $1 AND status = $2
		ORDER BY id
	`

	rows, err := r.db.pool.Query(ctx, query, string(domain.HostStateEnabled), string(domain.HostStatusConnected))
	if err != nil {
		return nil, queryError("failed to list schedulable hosts", err)
	}
	defer rows.Close()

	var hosts []*domain.HostCandidate
	for rows.Next() {
		h := &domain.HostCandidate{}
		if err := rows.Scan(&h.ID, &h.Name, &h.ClusterID, &h.HypervisorType); err != nil {
			return nil, fmt.Errorf("failed to scan host: %w", err)
		}
		hosts = append(hosts, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate hosts: %w", err)
	}

	return hosts, nil
}

// CapacityTuples returns the local storage capacity rows of the given hosts in
// a single query.
func (r *TopologyRepository) CapacityTuples(ctx context.Context, hostIDs []string) ([]domain.LocalStorageCapacity, error) {
	if len(hostIDs) == 0 {
		return nil, nil
	}

	query := `
		SELECT host_id, available_capacity, primary_storage_id
		FROM local_storage_host_refs
		WHERE host_id = ANY($1)
		ORDER BY host_id, primary_storage_id
	`

	rows, err := r.db.pool.Query(ctx, query, hostIDs)
	if err != nil {
		return nil, queryError("failed to query local storage capacity", err)
	}
	defer rows.Close()

	var tuples []domain.LocalStorageCapacity
	for rows.Next() {
		var (
			t     domain.LocalStorageCapacity
			avail int64
		)
		if err := rows.Scan(&t.HostID, &avail, &t.StorageID); err != nil {
			return nil, fmt.Errorf("failed to scan capacity: %w", err)
		}
		if avail > 0 {
			t.AvailableBytes = uint64(avail)
		}
		tuples = append(tuples, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate capacity: %w", err)
	}

	r.logger.Debug("Loaded local storage capacity",
		zap.Int("hosts", len(hostIDs)),
		zap.Int("tuples", len(tuples)),
	)
	return tuples, nil
}

// PlacementRecord returns the local storage binding of a resource.
func (r *TopologyRepository) PlacementRecord(ctx context.Context, resourceID string) (*domain.PlacementRecord, error) {
	query := `
		SELECT resource_id, resource_type, host_id, primary_storage_id, created_at
		FROM local_storage_resource_refs
		WHERE resource_id = $1
	`

	record := &domain.PlacementRecord{}
	err := r.db.pool.QueryRow(ctx, query, resourceID).Scan(
		&record.ResourceID,
		&record.ResourceType,
		&record.HostID,
		&record.StorageID,
		&record.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, queryError("failed to get placement record", err)
	}

	return record, nil
}

// StorageType returns the type of a primary storage.
func (r *TopologyRepository) StorageType(ctx context.Context, storageID string) (domain.StorageType, error) {
	var typ string
	err := r.db.pool.QueryRow(ctx, `SELECT type FROM primary_storages WHERE id = $1`, storageID).Scan(&typ)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", domain.ErrNotFound
		}
		return "", queryError("failed to get storage type", err)
	}
	return domain.StorageType(typ), nil
}

// ClusterStorageTypes returns the types of the storages attached to the
// cluster of the given host.
func (r *TopologyRepository) ClusterStorageTypes(ctx context.Context, hostID string) ([]domain.StorageType, error) {
	query := `
		SELECT ps.type
		FROM hosts h
		JOIN primary_storage_cluster_refs ref ON ref.cluster_id = h.cluster_id
		JOIN primary_storages ps ON ps.id = ref.primary_storage_id
		WHERE h.id = $1
	`

	rows, err := r.db.pool.Query(ctx, query, hostID)
	if err != nil {
		return nil, queryError("failed to query cluster storage types", err)
	}
	defer rows.Close()

	var types []domain.StorageType
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			return nil, fmt.Errorf("failed to scan storage type: %w", err)
		}
		types = append(types, domain.StorageType(typ))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate storage types: %w", err)
	}

	return types, nil
}

// ClusterIsLocalStorageExclusive reports whether the cluster has at least one
// storage attached and every attached storage is local.
func (r *TopologyRepository) ClusterIsLocalStorageExclusive(ctx context.Context, clusterID string) (bool, error) {
	query := `
		SELECT COUNT(*), COUNT(*) FILTER (WHERE ps.type <> $2)
		FROM primary_storage_cluster_refs ref
		JOIN primary_storages ps ON ps.id = ref.primary_storage_id
		WHERE ref.cluster_id = $1
	`

	var total, nonLocal int64
	if err := r.db.pool.QueryRow(ctx, query, clusterID, string(domain.StorageTypeLocal)).Scan(&total, &nonLocal); err != nil {
		return false, queryError("failed to check cluster storage exclusivity", err)
	}
	return total > 0 && nonLocal == 0, nil
}
