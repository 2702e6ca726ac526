package memory

import (
	"github.com/limiquantix/placement/internal/domain"
)

const gib = uint64(1024 * 1024 * 1024)

// SeedDemoData populates the repository with a small topology: a cluster
// backed only by local storage, a cluster mixing local and NFS storage, and
// an ESX host that the local storage strategy never accepts.
func (r *TopologyRepository) SeedDemoData() {
	local := r.AddCluster(&domain.Cluster{ID: "cluster-local", Name: "edge-local"})
	mixed := r.AddCluster(&domain.Cluster{ID: "cluster-mixed", Name: "core-mixed"})

	nvme := r.AddStorage(&domain.PrimaryStorage{ID: "ps-local-nvme", Name: "local-nvme", Type: domain.StorageTypeLocal})
	hdd := r.AddStorage(&domain.PrimaryStorage{ID: "ps-local-hdd", Name: "local-hdd", Type: domain.StorageTypeLocal})
	nfs := r.AddStorage(&domain.PrimaryStorage{ID: "ps-nfs", Name: "shared-nfs", Type: domain.StorageTypeNFS})

	_ = r.AttachStorage(nvme.ID, local.ID)
	_ = r.AttachStorage(hdd.ID, local.ID)
	_ = r.AttachStorage(nvme.ID, mixed.ID)
	_ = r.AttachStorage(nfs.ID, mixed.ID)

	hosts := []*domain.Host{
		{ID: "host-1", Name: "kvm-edge-1", ClusterID: local.ID, HypervisorType: domain.HypervisorKVM},
		{ID: "host-2", Name: "kvm-edge-2", ClusterID: local.ID, HypervisorType: domain.HypervisorKVM},
		{ID: "host-3", Name: "kvm-core-1", ClusterID: mixed.ID, HypervisorType: domain.HypervisorKVM},
		{ID: "host-4", Name: "esx-core-1", ClusterID: mixed.ID, HypervisorType: "ESX"},
	}
	for _, h := range hosts {
		h.State = domain.HostStateEnabled
		h.Status = domain.HostStatusConnected
		r.AddHost(h)
	}

	r.SetLocalCapacity("host-1", nvme.ID, 500*gib)
	r.SetLocalCapacity("host-1", hdd.ID, 2048*gib)
	r.SetLocalCapacity("host-2", nvme.ID, 40*gib)
	r.SetLocalCapacity("host-3", nvme.ID, 200*gib)

	r.BindResource(&domain.PlacementRecord{
		ResourceID:   "vol-demo-root",
		ResourceType: "VolumeVO",
		HostID:       "host-2",
		StorageID:    nvme.ID,
	})
}
