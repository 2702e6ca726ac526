package domain

// VMOperation is the VM lifecycle operation a placement request is made for.
type VMOperation string

const (
	VMOperationCreate  VMOperation = "NewCreate"
	VMOperationStart   VMOperation = "Start"
	VMOperationMigrate VMOperation = "Migrate"
)

// HypervisorKVM is the only hypervisor the local storage strategy supports.
const HypervisorKVM = "KVM"

// StrategyName names a host allocation strategy. The empty name means no
// strategy was selected.
type StrategyName string

const (
	StrategyNone                  StrategyName = ""
	StrategyLocalStorage          StrategyName = "LocalStorageAllocatorStrategy"
	StrategyLocalStorageMigration StrategyName = "LocalStorageMigrateVmAllocatorStrategy"
)

// Volume is a VM disk as seen by placement.
type Volume struct {
	ID        string `json:"id"`
	StorageID string `json:"storage_id,omitempty"`
	Root      bool   `json:"root,omitempty"`
	SizeBytes uint64 `json:"size_bytes,omitempty"`
}

// HostCandidate is a host still eligible for placement after upstream filters.
type HostCandidate struct {
	ID             string `json:"id"`
	Name           string `json:"name,omitempty"`
	ClusterID      string `json:"cluster_id"`
	HypervisorType string `json:"hypervisor_type"`
}

// PlacementRequest carries everything the local storage strategy needs to
// decide eligibility for one VM operation.
type PlacementRequest struct {
	VMID          string      `json:"vm_id"`
	Operation     VMOperation `json:"operation"`
	DiskSizeBytes uint64      `json:"disk_size_bytes"`
	Volumes       []Volume    `json:"volumes,omitempty"`

	RequiredStorageID  string   `json:"required_storage_id,omitempty"`
	RequiredHostID     string   `json:"required_host_id,omitempty"`
	AllocationStrategy string   `json:"allocation_strategy,omitempty"`
	ExcludedStrategies []string `json:"excluded_strategies,omitempty"`
	DryRun             bool     `json:"dry_run,omitempty"`

	// Blacklist holds the (host, storage) pairs already rejected earlier in
	// this request. It is read, never modified, by the strategy.
	Blacklist Blacklist `json:"blacklist,omitempty"`
}

// IsStrategyExcluded reports whether the request opted out of the named strategy.
func (r *PlacementRequest) IsStrategyExcluded(name StrategyName) bool {
	for _, s := range r.ExcludedStrategies {
		if s == string(name) {
			return true
		}
	}
	return false
}

// RootVolume returns the volume flagged as root, falling back to the first
// volume. It returns nil when the VM has no volumes.
func (r *PlacementRequest) RootVolume() *Volume {
	for i := range r.Volumes {
		if r.Volumes[i].Root {
			return &r.Volumes[i]
		}
	}
	if len(r.Volumes) > 0 {
		return &r.Volumes[0]
	}
	return nil
}

// FilterResult is the outcome of narrowing candidates for a request.
type FilterResult struct {
	Candidates []*HostCandidate `json:"candidates"`
	// Blacklist is the request's blacklist plus every pair rejected by this step.
	Blacklist Blacklist `json:"blacklist"`
}

// HostIDs returns the IDs of the candidates, in order.
func (r *FilterResult) HostIDs() []string {
	ids := make([]string, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		ids = append(ids, c.ID)
	}
	return ids
}
