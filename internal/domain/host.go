package domain

import (
	"time"
)

// HostState is the administrative state of a host.
type HostState string

const (
	HostStateEnabled     HostState = "Enabled"
	HostStateDisabled    HostState = "Disabled"
	HostStateMaintenance HostState = "Maintenance"
)

// HostStatus is the connection status of a host.
type HostStatus string

const (
	HostStatusConnected    HostStatus = "Connected"
	HostStatusConnecting   HostStatus = "Connecting"
	HostStatusDisconnected HostStatus = "Disconnected"
)

// Host represents a physical hypervisor host.
type Host struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	ClusterID      string     `json:"cluster_id"`
	HypervisorType string     `json:"hypervisor_type"`
	State          HostState  `json:"state"`
	Status         HostStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsSchedulable returns true if VMs can be placed on the host.
func (h *Host) IsSchedulable() bool {
	return h.State == HostStateEnabled && h.Status == HostStatusConnected
}

// Candidate returns the placement view of the host.
func (h *Host) Candidate() *HostCandidate {
	return &HostCandidate{
		ID:             h.ID,
		Name:           h.Name,
		ClusterID:      h.ClusterID,
		HypervisorType: h.HypervisorType,
	}
}

// Cluster is a logical grouping of hosts sharing storage attachments.
type Cluster struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
