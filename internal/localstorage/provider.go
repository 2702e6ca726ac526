package localstorage

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

var errNilRequest = fmt.Errorf("%w: placement request is required", domain.ErrInvalidArgument)

// Provider is the local storage host allocation strategy. It is registered
// into the scheduler's strategy registry and is safe for concurrent use: all
// per-request state lives in the request and the returned result.
type Provider struct {
	store   Store
	oracle  CapacityOracle
	metrics *Metrics
	logger  *zap.Logger
}

// NewProvider creates a new local storage strategy provider.
func NewProvider(store Store, oracle CapacityOracle, metrics *Metrics, logger *zap.Logger) *Provider {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Provider{
		store:   store,
		oracle:  oracle,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "local-storage-strategy")),
	}
}

// Name returns the strategy this provider implements.
func (p *Provider) Name() domain.StrategyName {
	return domain.StrategyLocalStorage
}

// FilterCandidates narrows the candidate hosts for a request. Create requests
// are filtered by local storage capacity, Start requests are pinned to the
// host already holding the VM's local volumes, and any other operation passes
// through unchanged.
//
// The returned result always carries the blacklist, including when the error
// is a *domain.NoAvailableHostError, so callers can report which storages
// were rejected. The request's own blacklist is never modified.
func (p *Provider) FilterCandidates(ctx context.Context, candidates []*domain.HostCandidate, req *domain.PlacementRequest) (*domain.FilterResult, error) {
	if req == nil {
		return nil, errNilRequest
	}

	result := &domain.FilterResult{
		Candidates: candidates,
		Blacklist:  req.Blacklist.Clone(),
	}

	var err error
	switch req.Operation {
	case domain.VMOperationCreate:
		result.Candidates, err = p.filterByCapacity(ctx, candidates, req, result.Blacklist)
	case domain.VMOperationStart:
		result.Candidates, err = p.pinToBoundHost(ctx, candidates, req)
	}

	if err != nil {
		result.Candidates = nil
		var noHost *domain.NoAvailableHostError
		if errors.As(err, &noHost) {
			p.metrics.NoAvailableHost.WithLabelValues(string(req.Operation)).Inc()
			p.logger.Info("No available host for VM",
				zap.String("vm_id", req.VMID),
				zap.String("operation", string(req.Operation)),
				zap.String("reason", noHost.Reason),
			)
		}
		return result, err
	}

	return result, nil
}

// removeHosts returns candidates minus the hosts in drop, preserving order.
func removeHosts(candidates []*domain.HostCandidate, drop map[string]struct{}) []*domain.HostCandidate {
	kept := make([]*domain.HostCandidate, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := drop[c.ID]; ok {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}
