package scheduler

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
)

// Scheduler places VM operations on hosts using the registered strategies.
type Scheduler struct {
	hostRepo HostRepository
	registry *Registry
	config   Config
	logger   *zap.Logger
}

// New creates a new Scheduler instance.
func New(hostRepo HostRepository, registry *Registry, config Config, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		hostRepo: hostRepo,
		registry: registry,
		config:   config,
		logger:   logger.With(zap.String("component", "scheduler")),
	}
}

// PlacementResult contains the placement decision.
type PlacementResult struct {
	// Strategy is the strategy that governed the request, empty when none did.
	Strategy   domain.StrategyName     `json:"strategy"`
	Candidates []*domain.HostCandidate `json:"candidates"`
	Blacklist  domain.Blacklist        `json:"blacklist"`
}

// HostIDs returns the IDs of the eligible hosts, in order.
func (r *PlacementResult) HostIDs() []string {
	ids := make([]string, 0, len(r.Candidates))
	for _, c := range r.Candidates {
		ids = append(ids, c.ID)
	}
	return ids
}

// Place returns the hosts eligible for a request. When the error is a
// *domain.NoAvailableHostError the result is still returned so the caller
// can see the strategy and the blacklist.
func (s *Scheduler) Place(ctx context.Context, req *domain.PlacementRequest) (*PlacementResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: placement request is required", domain.ErrInvalidArgument)
	}
	req = s.withDisabledStrategies(req)

	logger := s.logger.With(
		zap.String("vm_id", req.VMID),
		zap.String("operation", string(req.Operation)),
		zap.Uint64("disk_size", req.DiskSizeBytes),
	)
	logger.Info("Starting placement for VM")

	// 1. Get all schedulable hosts
	candidates, err := s.hostRepo.ListSchedulable(ctx)
	if err != nil {
		logger.Error("Failed to list schedulable hosts", zap.Error(err))
		return nil, fmt.Errorf("failed to list schedulable hosts: %w", err)
	}

	result := &PlacementResult{Blacklist: req.Blacklist.Clone()}

	if len(candidates) == 0 {
		logger.Warn("No schedulable hosts available")
		return result, &domain.NoAvailableHostError{VMID: req.VMID, Reason: "no schedulable hosts available"}
	}

	// 2. Honour an explicit host
	if req.RequiredHostID != "" {
		candidates = onlyHost(candidates, req.RequiredHostID)
		if len(candidates) == 0 {
			logger.Warn("Required host is not schedulable", zap.String("host_id", req.RequiredHostID))
			return result, &domain.NoAvailableHostError{
				VMID:         req.VMID,
				PinnedHostID: req.RequiredHostID,
				Reason:       fmt.Sprintf("the required host[uuid: %s] is not Enabled and Connected", req.RequiredHostID),
			}
		}
	}

	// 3. Pick the governing strategy
	provider, strategy, err := s.selectProvider(ctx, req)
	if err != nil {
		logger.Error("Failed to select allocation strategy", zap.Error(err))
		return nil, err
	}
	result.Strategy = strategy

	if provider == nil {
		result.Candidates = sortByID(candidates)
		logger.Info("No allocation strategy governs the request, candidates unchanged",
			zap.Int("candidates", len(result.Candidates)),
		)
		return result, nil
	}

	logger = logger.With(zap.String("strategy", string(strategy)))

	// 4. Drop hosts whose hypervisor cannot run the strategy
	var gated []*domain.HostCandidate
	for _, c := range candidates {
		if provider.HypervisorGate(c) != domain.StrategyNone {
			gated = append(gated, c)
			continue
		}
		logger.Debug("Hypervisor does not support strategy",
			zap.String("host_id", c.ID),
			zap.String("hypervisor", c.HypervisorType),
		)
	}
	if len(gated) == 0 {
		logger.Warn("No candidate host supports the strategy", zap.Int("candidates", len(candidates)))
		return result, &domain.NoAvailableHostError{
			VMID:   req.VMID,
			Reason: fmt.Sprintf("no candidate host has a hypervisor supporting %s", strategy),
		}
	}

	// 5. Let the strategy narrow the candidates
	filtered, err := provider.FilterCandidates(ctx, gated, req)
	if filtered != nil {
		result.Blacklist = filtered.Blacklist
	}
	if err != nil {
		logger.Warn("Strategy left no eligible host", zap.Error(err))
		return result, err
	}

	result.Candidates = sortByID(filtered.Candidates)

	logger.Info("Placed VM successfully",
		zap.Strings("hosts", result.HostIDs()),
		zap.Int("blacklisted", result.Blacklist.Len()),
	)
	return result, nil
}

// selectProvider returns the first provider that claims the request.
func (s *Scheduler) selectProvider(ctx context.Context, req *domain.PlacementRequest) (StrategyProvider, domain.StrategyName, error) {
	for _, p := range s.registry.Providers() {
		var (
			name domain.StrategyName
			err  error
		)
		if req.Operation == domain.VMOperationMigrate {
			name, err = p.SelectMigrationStrategy(ctx, req)
		} else {
			name, err = p.SelectStrategy(ctx, req)
		}
		if err != nil {
			return nil, domain.StrategyNone, fmt.Errorf("strategy %s: %w", p.Name(), err)
		}
		if name != domain.StrategyNone {
			return p, name, nil
		}
	}
	return nil, domain.StrategyNone, nil
}

func (s *Scheduler) withDisabledStrategies(req *domain.PlacementRequest) *domain.PlacementRequest {
	if len(s.config.DisabledStrategies) == 0 {
		return req
	}
	cp := *req
	cp.ExcludedStrategies = append(append([]string(nil), req.ExcludedStrategies...), s.config.DisabledStrategies...)
	return &cp
}

func onlyHost(candidates []*domain.HostCandidate, hostID string) []*domain.HostCandidate {
	for _, c := range candidates {
		if c.ID == hostID {
			return []*domain.HostCandidate{c}
		}
	}
	return nil
}

func sortByID(candidates []*domain.HostCandidate) []*domain.HostCandidate {
	out := make([]*domain.HostCandidate, len(candidates))
	copy(out, candidates)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
