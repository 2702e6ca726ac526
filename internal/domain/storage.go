// Package domain contains core business entities for the placement service.
// This file defines storage-related models: primary storage types, local
// storage capacity tuples and the volume-to-host placement records.
package domain

import "time"

// StorageType identifies the backend type of a primary storage.
type StorageType string

const (
	StorageTypeLocal       StorageType = "LocalStorage"
	StorageTypeNFS         StorageType = "NFS"
	StorageTypeCeph        StorageType = "Ceph"
	StorageTypeSharedBlock StorageType = "SharedBlock"
)

// IsLocal reports whether the storage is host-attached, non-shared storage.
func (t StorageType) IsLocal() bool {
	return t == StorageTypeLocal
}

// PrimaryStorage is a storage that VM volumes are allocated from.
type PrimaryStorage struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Type StorageType `json:"type"`

	// ClusterIDs lists the clusters this storage is attached to.
	ClusterIDs []string `json:"cluster_ids,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// LocalStorageCapacity is the capacity of one local storage on one host.
// A host may carry several of these, one per attached local storage.
type LocalStorageCapacity struct {
	HostID         string `json:"host_id"`
	AvailableBytes uint64 `json:"available_bytes"`
	StorageID      string `json:"storage_id"`
}

// PlacementRecord binds a resource (usually a volume) to the host and local
// storage it was first placed on. Records are written by the volume service
// and only read during placement.
type PlacementRecord struct {
	ResourceID   string    `json:"resource_id"`
	ResourceType string    `json:"resource_type,omitempty"`
	HostID       string    `json:"host_id"`
	StorageID    string    `json:"storage_id"`
	CreatedAt    time.Time `json:"created_at"`
}
