// Package domain contains domain models and business logic errors.
package domain

import (
	"errors"
	"fmt"
)

// Common domain errors
var (
	// ErrNotFound is returned when a requested resource is not found.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when a resource already exists.
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidArgument is returned when an invalid argument is provided.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrUnavailable is returned when a backing store is unavailable.
	ErrUnavailable = errors.New("service unavailable")

	// ErrNoAvailableHost is returned when placement narrows the candidate set to nothing.
	ErrNoAvailableHost = errors.New("no available host")
)

// NoAvailableHostError explains why a filtering or pinning step left no candidates.
type NoAvailableHostError struct {
	VMID           string
	RequestedBytes uint64
	// PinnedHostID is set when the VM is bound to a single host by its local volumes.
	PinnedHostID string
	Reason       string
}

// NewInsufficientCapacityError builds the error returned when no candidate has
// enough local disk for the requested size.
func NewInsufficientCapacityError(vmID string, requestedBytes uint64) *NoAvailableHostError {
	return &NoAvailableHostError{
		VMID:           vmID,
		RequestedBytes: requestedBytes,
		Reason: fmt.Sprintf("the local primary storage has no hosts with enough disk capacity[%d bytes] required by the vm[uuid:%s]",
			requestedBytes, vmID),
	}
}

// NewPinnedHostUnavailableError builds the error returned when the only host a
// VM can start on is not among the candidates.
func NewPinnedHostUnavailableError(vmID, hostID string) *NoAvailableHostError {
	return &NoAvailableHostError{
		VMID:         vmID,
		PinnedHostID: hostID,
		Reason: fmt.Sprintf("the vm[uuid: %s] using local primary storage can only be started on the host[uuid: %s], "+
			"but the host is either not having enough CPU/memory or not Enabled and Connected", vmID, hostID),
	}
}

func (e *NoAvailableHostError) Error() string {
	return fmt.Sprintf("%s: %s", ErrNoAvailableHost, e.Reason)
}

// Unwrap allows errors.Is(err, ErrNoAvailableHost).
func (e *NoAvailableHostError) Unwrap() error {
	return ErrNoAvailableHost
}
