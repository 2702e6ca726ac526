package scheduler

import (
	"context"

	"github.com/limiquantix/placement/internal/domain"
)

// HostRepository defines the host data access needed by the scheduler.
type HostRepository interface {
	// ListSchedulable returns every enabled and connected host.
	ListSchedulable(ctx context.Context) ([]*domain.HostCandidate, error)
}

// StrategyProvider is a host allocation strategy the scheduler can consult.
type StrategyProvider interface {
	// Name is the strategy the provider implements.
	Name() domain.StrategyName

	// SelectStrategy returns the strategy name when the provider governs the
	// request, or domain.StrategyNone.
	SelectStrategy(ctx context.Context, req *domain.PlacementRequest) (domain.StrategyName, error)

	// SelectMigrationStrategy is SelectStrategy for migrations.
	SelectMigrationStrategy(ctx context.Context, req *domain.PlacementRequest) (domain.StrategyName, error)

	// HypervisorGate returns domain.StrategyNone when the host's hypervisor
	// cannot run the provider's strategy.
	HypervisorGate(host *domain.HostCandidate) domain.StrategyName

	// FilterCandidates narrows the candidates for the request.
	FilterCandidates(ctx context.Context, candidates []*domain.HostCandidate, req *domain.PlacementRequest) (*domain.FilterResult, error)
}
