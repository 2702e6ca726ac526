package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"connectrpc.com/connect"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/scheduler"
	"github.com/limiquantix/placement/internal/server/middleware"
)

// PlacementServiceName is the fully-qualified name of the placement service.
const PlacementServiceName = "limiquantix.placement.v1.PlacementService"

const (
	SelectStrategyProcedure           = "/" + PlacementServiceName + "/SelectStrategy"
	HypervisorGateProcedure           = "/" + PlacementServiceName + "/HypervisorGate"
	FilterCandidatesProcedure         = "/" + PlacementServiceName + "/FilterCandidates"
	SelectMigrationStrategyProcedure  = "/" + PlacementServiceName + "/SelectMigrationStrategy"
	PlaceProcedure                    = "/" + PlacementServiceName + "/Place"
	SetOverProvisioningRatioProcedure = "/" + PlacementServiceName + "/SetOverProvisioningRatio"
	InvalidateTopologyCacheProcedure  = "/" + PlacementServiceName + "/InvalidateTopologyCache"
)

// BlacklistHeader carries the JSON blacklist on NoAvailableHost errors so
// callers can still see which storages were rejected.
const BlacklistHeader = "Placement-Blacklist"

// StrategyResponse names the strategy chosen by a gate. An empty strategy
// means none applies.
type StrategyResponse struct {
	Strategy domain.StrategyName `json:"strategy"`
}

// HypervisorGateRequest asks whether a host can run the local storage strategy.
type HypervisorGateRequest struct {
	Host *domain.HostCandidate `json:"host,omitempty"`
}

// FilterCandidatesRequest narrows an explicit candidate list.
type FilterCandidatesRequest struct {
	Candidates []*domain.HostCandidate  `json:"candidates"`
	Request    *domain.PlacementRequest `json:"request"`
}

// FilterCandidatesResponse is the narrowed candidate list.
type FilterCandidatesResponse struct {
	Candidates []*domain.HostCandidate `json:"candidates"`
	Blacklist  domain.Blacklist        `json:"blacklist"`
}

// SetOverProvisioningRatioRequest sets or, with a nil ratio, clears the
// over-provisioning ratio of a storage.
type SetOverProvisioningRatioRequest struct {
	StorageID string           `json:"storage_id"`
	Ratio     *decimal.Decimal `json:"ratio,omitempty"`
}

// SetOverProvisioningRatioResponse is empty.
type SetOverProvisioningRatioResponse struct{}

// InvalidateTopologyCacheRequest is empty.
type InvalidateTopologyCacheRequest struct{}

// InvalidateTopologyCacheResponse reports whether a cache is configured and
// how many entries were dropped.
type InvalidateTopologyCacheResponse struct {
	Cached  bool `json:"cached"`
	Entries int  `json:"entries"`
}

// TopologyCache drops cached topology lookups.
type TopologyCache interface {
	Invalidate(ctx context.Context) (int, error)
}

// RatioPublisher changes per-storage over-provisioning ratios.
type RatioPublisher interface {
	SetRatio(ctx context.Context, storageID string, ratio decimal.Decimal) error
	ClearRatio(ctx context.Context, storageID string) error
}

// PlacementService implements the placement Connect-RPC service.
type PlacementService struct {
	provider    scheduler.StrategyProvider
	scheduler   *scheduler.Scheduler
	ratios      RatioPublisher
	cache       TopologyCache
	authEnabled bool
	logger      *zap.Logger
}

// NewPlacementService creates the service. provider answers the single-step
// procedures; sched runs full placements. cache may be nil when topology
// lookups are not cached.
func NewPlacementService(provider scheduler.StrategyProvider, sched *scheduler.Scheduler, ratios RatioPublisher, cache TopologyCache, authEnabled bool, logger *zap.Logger) *PlacementService {
	return &PlacementService{
		provider:    provider,
		scheduler:   sched,
		ratios:      ratios,
		cache:       cache,
		authEnabled: authEnabled,
		logger:      logger.With(zap.String("service", "placement")),
	}
}

// NewPlacementServiceHandler builds an HTTP handler serving every procedure of
// the service and returns the path to mount it on.
func NewPlacementServiceHandler(svc *PlacementService, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(SelectStrategyProcedure, connect.NewUnaryHandler(SelectStrategyProcedure, svc.SelectStrategy, opts...))
	mux.Handle(HypervisorGateProcedure, connect.NewUnaryHandler(HypervisorGateProcedure, svc.HypervisorGate, opts...))
	mux.Handle(FilterCandidatesProcedure, connect.NewUnaryHandler(FilterCandidatesProcedure, svc.FilterCandidates, opts...))
	mux.Handle(SelectMigrationStrategyProcedure, connect.NewUnaryHandler(SelectMigrationStrategyProcedure, svc.SelectMigrationStrategy, opts...))
	mux.Handle(PlaceProcedure, connect.NewUnaryHandler(PlaceProcedure, svc.Place, opts...))
	mux.Handle(SetOverProvisioningRatioProcedure, connect.NewUnaryHandler(SetOverProvisioningRatioProcedure, svc.SetOverProvisioningRatio, opts...))
	mux.Handle(InvalidateTopologyCacheProcedure, connect.NewUnaryHandler(InvalidateTopologyCacheProcedure, svc.InvalidateTopologyCache, opts...))

	return "/" + PlacementServiceName + "/", mux
}

// SelectStrategy reports whether the local storage strategy governs a request.
func (s *PlacementService) SelectStrategy(
	ctx context.Context,
	req *connect.Request[domain.PlacementRequest],
) (*connect.Response[StrategyResponse], error) {
	if err := s.authorize(ctx, domain.RoleAdmin, domain.RoleScheduler, domain.RoleViewer); err != nil {
		return nil, err
	}

	name, err := s.provider.SelectStrategy(ctx, req.Msg)
	if err != nil {
		s.logger.Error("Failed to select strategy", zap.String("vm_id", req.Msg.VMID), zap.Error(err))
		return nil, toConnectError(err, nil)
	}
	return connect.NewResponse(&StrategyResponse{Strategy: name}), nil
}

// HypervisorGate reports whether a host's hypervisor supports local storage.
func (s *PlacementService) HypervisorGate(
	ctx context.Context,
	req *connect.Request[HypervisorGateRequest],
) (*connect.Response[StrategyResponse], error) {
	if err := s.authorize(ctx, domain.RoleAdmin, domain.RoleScheduler, domain.RoleViewer); err != nil {
		return nil, err
	}

	return connect.NewResponse(&StrategyResponse{Strategy: s.provider.HypervisorGate(req.Msg.Host)}), nil
}

// FilterCandidates narrows the given candidates for a request.
func (s *PlacementService) FilterCandidates(
	ctx context.Context,
	req *connect.Request[FilterCandidatesRequest],
) (*connect.Response[FilterCandidatesResponse], error) {
	if err := s.authorize(ctx, domain.RoleAdmin, domain.RoleScheduler); err != nil {
		return nil, err
	}

	result, err := s.provider.FilterCandidates(ctx, req.Msg.Candidates, req.Msg.Request)
	if err != nil {
		var blacklist domain.Blacklist
		if result != nil {
			blacklist = result.Blacklist
		}
		return nil, toConnectError(err, blacklist)
	}

	return connect.NewResponse(&FilterCandidatesResponse{
		Candidates: result.Candidates,
		Blacklist:  result.Blacklist,
	}), nil
}

// SelectMigrationStrategy reports whether a migration must use the local
// storage migration strategy.
func (s *PlacementService) SelectMigrationStrategy(
	ctx context.Context,
	req *connect.Request[domain.PlacementRequest],
) (*connect.Response[StrategyResponse], error) {
	if err := s.authorize(ctx, domain.RoleAdmin, domain.RoleScheduler, domain.RoleViewer); err != nil {
		return nil, err
	}

	name, err := s.provider.SelectMigrationStrategy(ctx, req.Msg)
	if err != nil {
		s.logger.Error("Failed to select migration strategy", zap.String("vm_id", req.Msg.VMID), zap.Error(err))
		return nil, toConnectError(err, nil)
	}
	return connect.NewResponse(&StrategyResponse{Strategy: name}), nil
}

// Place runs a request through the scheduler against every schedulable host.
func (s *PlacementService) Place(
	ctx context.Context,
	req *connect.Request[domain.PlacementRequest],
) (*connect.Response[scheduler.PlacementResult], error) {
	if err := s.authorize(ctx, domain.RoleAdmin, domain.RoleScheduler); err != nil {
		return nil, err
	}

	result, err := s.scheduler.Place(ctx, req.Msg)
	if err != nil {
		var blacklist domain.Blacklist
		if result != nil {
			blacklist = result.Blacklist
		}
		return nil, toConnectError(err, blacklist)
	}
	return connect.NewResponse(result), nil
}

// SetOverProvisioningRatio changes the over-provisioning ratio of a storage.
func (s *PlacementService) SetOverProvisioningRatio(
	ctx context.Context,
	req *connect.Request[SetOverProvisioningRatioRequest],
) (*connect.Response[SetOverProvisioningRatioResponse], error) {
	if err := s.authorize(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}

	var err error
	if req.Msg.Ratio == nil {
		err = s.ratios.ClearRatio(ctx, req.Msg.StorageID)
	} else {
		err = s.ratios.SetRatio(ctx, req.Msg.StorageID, *req.Msg.Ratio)
	}
	if err != nil {
		return nil, toConnectError(err, nil)
	}

	s.logger.Info("Over-provisioning ratio changed",
		zap.String("storage_id", req.Msg.StorageID),
		zap.Bool("cleared", req.Msg.Ratio == nil),
	)
	return connect.NewResponse(&SetOverProvisioningRatioResponse{}), nil
}

// InvalidateTopologyCache drops cached storage types and cluster attachments
// after a topology change.
func (s *PlacementService) InvalidateTopologyCache(
	ctx context.Context,
	req *connect.Request[InvalidateTopologyCacheRequest],
) (*connect.Response[InvalidateTopologyCacheResponse], error) {
	if err := s.authorize(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}

	if s.cache == nil {
		return connect.NewResponse(&InvalidateTopologyCacheResponse{}), nil
	}

	n, err := s.cache.Invalidate(ctx)
	if err != nil {
		s.logger.Error("Failed to invalidate topology cache", zap.Error(err))
		return nil, toConnectError(fmt.Errorf("%w: %w", domain.ErrUnavailable, err), nil)
	}
	return connect.NewResponse(&InvalidateTopologyCacheResponse{Cached: true, Entries: n}), nil
}

func (s *PlacementService) authorize(ctx context.Context, roles ...domain.Role) error {
	if !s.authEnabled {
		return nil
	}
	return middleware.RequireRole(ctx, roles...)
}

// toConnectError maps domain errors onto Connect codes.
func toConnectError(err error, blacklist domain.Blacklist) error {
	code := connect.CodeInternal
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		code = connect.CodeInvalidArgument
	case errors.Is(err, domain.ErrNoAvailableHost):
		code = connect.CodeResourceExhausted
	case errors.Is(err, domain.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, domain.ErrAlreadyExists):
		code = connect.CodeAlreadyExists
	case errors.Is(err, domain.ErrUnavailable):
		code = connect.CodeUnavailable
	case errors.Is(err, context.Canceled):
		code = connect.CodeCanceled
	case errors.Is(err, context.DeadlineExceeded):
		code = connect.CodeDeadlineExceeded
	}

	cerr := connect.NewError(code, err)
	if blacklist.Len() > 0 {
		if data, mErr := json.Marshal(blacklist); mErr == nil {
			cerr.Meta().Set(BlacklistHeader, string(data))
		}
	}
	return cerr
}
