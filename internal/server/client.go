package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"connectrpc.com/connect"

	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/scheduler"
)

// PlacementServiceClient calls the placement service.
type PlacementServiceClient struct {
	selectStrategy          *connect.Client[domain.PlacementRequest, StrategyResponse]
	hypervisorGate          *connect.Client[HypervisorGateRequest, StrategyResponse]
	filterCandidates        *connect.Client[FilterCandidatesRequest, FilterCandidatesResponse]
	selectMigrationStrategy *connect.Client[domain.PlacementRequest, StrategyResponse]
	place                   *connect.Client[domain.PlacementRequest, scheduler.PlacementResult]
	setRatio                *connect.Client[SetOverProvisioningRatioRequest, SetOverProvisioningRatioResponse]
	invalidateCache         *connect.Client[InvalidateTopologyCacheRequest, InvalidateTopologyCacheResponse]
}

// NewPlacementServiceClient creates a client for the service at baseURL.
func NewPlacementServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *PlacementServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)

	return &PlacementServiceClient{
		selectStrategy: connect.NewClient[domain.PlacementRequest, StrategyResponse](
			httpClient, baseURL+SelectStrategyProcedure, opts...),
		hypervisorGate: connect.NewClient[HypervisorGateRequest, StrategyResponse](
			httpClient, baseURL+HypervisorGateProcedure, opts...),
		filterCandidates: connect.NewClient[FilterCandidatesRequest, FilterCandidatesResponse](
			httpClient, baseURL+FilterCandidatesProcedure, opts...),
		selectMigrationStrategy: connect.NewClient[domain.PlacementRequest, StrategyResponse](
			httpClient, baseURL+SelectMigrationStrategyProcedure, opts...),
		place: connect.NewClient[domain.PlacementRequest, scheduler.PlacementResult](
			httpClient, baseURL+PlaceProcedure, opts...),
		setRatio: connect.NewClient[SetOverProvisioningRatioRequest, SetOverProvisioningRatioResponse](
			httpClient, baseURL+SetOverProvisioningRatioProcedure, opts...),
		invalidateCache: connect.NewClient[InvalidateTopologyCacheRequest, InvalidateTopologyCacheResponse](
			httpClient, baseURL+InvalidateTopologyCacheProcedure, opts...),
	}
}

// SelectStrategy calls PlacementService.SelectStrategy.
func (c *PlacementServiceClient) SelectStrategy(ctx context.Context, req *connect.Request[domain.PlacementRequest]) (*connect.Response[StrategyResponse], error) {
	return c.selectStrategy.CallUnary(ctx, req)
}

// HypervisorGate calls PlacementService.HypervisorGate.
func (c *PlacementServiceClient) HypervisorGate(ctx context.Context, req *connect.Request[HypervisorGateRequest]) (*connect.Response[StrategyResponse], error) {
	return c.hypervisorGate.CallUnary(ctx, req)
}

// FilterCandidates calls PlacementService.FilterCandidates.
func (c *PlacementServiceClient) FilterCandidates(ctx context.Context, req *connect.Request[FilterCandidatesRequest]) (*connect.Response[FilterCandidatesResponse], error) {
	return c.filterCandidates.CallUnary(ctx, req)
}

// SelectMigrationStrategy calls PlacementService.SelectMigrationStrategy.
func (c *PlacementServiceClient) SelectMigrationStrategy(ctx context.Context, req *connect.Request[domain.PlacementRequest]) (*connect.Response[StrategyResponse], error) {
	return c.selectMigrationStrategy.CallUnary(ctx, req)
}

// Place calls PlacementService.Place.
func (c *PlacementServiceClient) Place(ctx context.Context, req *connect.Request[domain.PlacementRequest]) (*connect.Response[scheduler.PlacementResult], error) {
	return c.place.CallUnary(ctx, req)
}

// SetOverProvisioningRatio calls PlacementService.SetOverProvisioningRatio.
func (c *PlacementServiceClient) SetOverProvisioningRatio(ctx context.Context, req *connect.Request[SetOverProvisioningRatioRequest]) (*connect.Response[SetOverProvisioningRatioResponse], error) {
	return c.setRatio.CallUnary(ctx, req)
}

// InvalidateTopologyCache calls PlacementService.InvalidateTopologyCache.
func (c *PlacementServiceClient) InvalidateTopologyCache(ctx context.Context, req *connect.Request[InvalidateTopologyCacheRequest]) (*connect.Response[InvalidateTopologyCacheResponse], error) {
	return c.invalidateCache.CallUnary(ctx, req)
}

// BlacklistFromError returns the blacklist attached to a NoAvailableHost error.
func BlacklistFromError(err error) (domain.Blacklist, bool) {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return nil, false
	}
	raw := cerr.Meta().Get(BlacklistHeader)
	if raw == "" {
		return nil, false
	}
	var blacklist domain.Blacklist
	if err := json.Unmarshal([]byte(raw), &blacklist); err != nil {
		return nil, false
	}
	return blacklist, true
}
