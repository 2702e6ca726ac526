package localstorage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// pinToBoundHost restricts candidates to the host holding the first of the
// VM's volumes that is bound to local storage. Volumes are scanned in order
// and the scan stops at the first binding.
func (p *Provider) pinToBoundHost(ctx context.Context, candidates []*domain.HostCandidate, req *domain.PlacementRequest) ([]*domain.HostCandidate, error) {
	for _, vol := range req.Volumes {
		record, err := p.store.PlacementRecord(ctx, vol.ID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to look up placement of volume %s: %w", vol.ID, err)
		}

		var pinned []*domain.HostCandidate
		for _, c := range candidates {
			if c.ID == record.HostID {
				pinned = append(pinned, c)
			}
		}
		p.metrics.HostsFiltered.WithLabelValues("pinned_elsewhere").Add(float64(len(candidates) - len(pinned)))

		if len(pinned) == 0 {
			return nil, domain.NewPinnedHostUnavailableError(req.VMID, record.HostID)
		}

		p.logger.Debug("VM pinned to host of its local volume",
			zap.String("vm_id", req.VMID),
			zap.String("volume_id", vol.ID),
			zap.String("host_id", record.HostID),
		)
		return pinned, nil
	}

	return candidates, nil
}
