package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/limiquantix/placement/internal/auth"
	"github.com/limiquantix/placement/internal/config"
	"github.com/limiquantix/placement/internal/domain"
	"github.com/limiquantix/placement/internal/repository/redis"
)

const gib = uint64(1024 * 1024 * 1024)

const testSecret = "test-secret-key-at-least-32-bytes-long"

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second},
		Placement: config.PlacementConfig{
			DefaultOverProvisioningRatio: 1,
			RatioKeyPrefix:               "/ratios/",
			TopologyCacheTTL:             time.Minute,
		},
		Auth:    config.AuthConfig{JWTSecret: testSecret, TokenExpiry: time.Hour},
		CORS:    config.CORSConfig{AllowedOrigins: []string{"*"}},
		Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

func newTestServer(t *testing.T, cfg *config.Config, opts ...ServerOption) (*httptest.Server, *PlacementServiceClient) {
	t.Helper()
	s, err := New(cfg, zap.NewNop(), opts...)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, NewPlacementServiceClient(ts.Client(), ts.URL)
}

func withToken(t *testing.T, req connect.AnyRequest, role domain.Role) {
	t.Helper()
	token, err := auth.NewJWTManager(config.AuthConfig{JWTSecret: testSecret, TokenExpiry: time.Hour}).
		Generate("test-allocator", role)
	require.NoError(t, err)
	req.Header().Set("Authorization", "Bearer "+token.AccessToken)
}

func TestPlacementService_Place(t *testing.T) {
	_, client := newTestServer(t, testConfig())

	resp, err := client.Place(context.Background(), connect.NewRequest(&domain.PlacementRequest{
		VMID:               "vm-1",
		Operation:          domain.VMOperationCreate,
		DiskSizeBytes:      100 * gib,
		AllocationStrategy: string(domain.StrategyLocalStorage),
	}))
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyLocalStorage, resp.Msg.Strategy)
	assert.Equal(t, []string{"host-1", "host-3"}, resp.Msg.HostIDs())
	assert.True(t, resp.Msg.Blacklist.Contains("host-2", "ps-local-nvme"))
}

func TestPlacementService_Place_NoAvailableHost(t *testing.T) {
	_, client := newTestServer(t, testConfig())

	_, err := client.Place(context.Background(), connect.NewRequest(&domain.PlacementRequest{
		VMID:              "vm-big",
		Operation:         domain.VMOperationCreate,
		DiskSizeBytes:     5000 * gib,
		RequiredStorageID: "ps-local-nvme",
	}))
	require.Error(t, err)
	assert.Equal(t, connect.CodeResourceExhausted, connect.CodeOf(err))
	assert.Contains(t, err.Error(), "vm[uuid:vm-big]")

	blacklist, ok := BlacklistFromError(err)
	require.True(t, ok)
	assert.Equal(t, 4, blacklist.Len())
}

func TestPlacementService_SelectStrategy(t *testing.T) {
	_, client := newTestServer(t, testConfig())
	ctx := context.Background()

	resp, err := client.SelectStrategy(ctx, connect.NewRequest(&domain.PlacementRequest{
		Operation:         domain.VMOperationCreate,
		RequiredStorageID: "ps-local-nvme",
	}))
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyLocalStorage, resp.Msg.Strategy)

	resp, err = client.SelectStrategy(ctx, connect.NewRequest(&domain.PlacementRequest{
		Operation:         domain.VMOperationCreate,
		RequiredStorageID: "ps-nfs",
		RequiredHostID:    "host-1",
	}))
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyNone, resp.Msg.Strategy)
}

func TestPlacementService_HypervisorGate(t *testing.T) {
	_, client := newTestServer(t, testConfig())
	ctx := context.Background()

	resp, err := client.HypervisorGate(ctx, connect.NewRequest(&HypervisorGateRequest{
		Host: &domain.HostCandidate{ID: "host-4", HypervisorType: "ESX"},
	}))
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyNone, resp.Msg.Strategy)

	resp, err = client.HypervisorGate(ctx, connect.NewRequest(&HypervisorGateRequest{}))
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyLocalStorage, resp.Msg.Strategy)
}

func TestPlacementService_FilterCandidates(t *testing.T) {
	_, client := newTestServer(t, testConfig())
	ctx := context.Background()

	resp, err := client.FilterCandidates(ctx, connect.NewRequest(&FilterCandidatesRequest{
		Candidates: []*domain.HostCandidate{
			{ID: "host-1", ClusterID: "cluster-local", HypervisorType: domain.HypervisorKVM},
			{ID: "host-2", ClusterID: "cluster-local", HypervisorType: domain.HypervisorKVM},
		},
		Request: &domain.PlacementRequest{
			VMID:          "vm-1",
			Operation:     domain.VMOperationCreate,
			DiskSizeBytes: 100 * gib,
		},
	}))
	require.NoError(t, err)
	require.Len(t, resp.Msg.Candidates, 1)
	assert.Equal(t, "host-1", resp.Msg.Candidates[0].ID)
	assert.Equal(t, []string{"ps-local-nvme"}, resp.Msg.Blacklist.Storages("host-2"))

	_, err = client.FilterCandidates(ctx, connect.NewRequest(&FilterCandidatesRequest{}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))
}

func TestPlacementService_SelectMigrationStrategy(t *testing.T) {
	_, client := newTestServer(t, testConfig())

	resp, err := client.SelectMigrationStrategy(context.Background(), connect.NewRequest(&domain.PlacementRequest{
		VMID:      "vm-demo",
		Operation: domain.VMOperationMigrate,
		Volumes:   []domain.Volume{{ID: "vol-demo-root", StorageID: "ps-local-nvme", Root: true}},
	}))
	require.NoError(t, err)
	assert.Equal(t, domain.StrategyLocalStorageMigration, resp.Msg.Strategy)
}

func TestPlacementService_SetOverProvisioningRatio(t *testing.T) {
	_, client := newTestServer(t, testConfig())
	ctx := context.Background()

	ratio := decimal.NewFromInt(4)
	_, err := client.SetOverProvisioningRatio(ctx, connect.NewRequest(&SetOverProvisioningRatioRequest{
		StorageID: "ps-local-nvme",
		Ratio:     &ratio,
	}))
	require.NoError(t, err)

	// 100 GiB now needs 25 GiB free, which host-2 has.
	resp, err := client.Place(ctx, connect.NewRequest(&domain.PlacementRequest{
		VMID:               "vm-1",
		Operation:          domain.VMOperationCreate,
		DiskSizeBytes:      100 * gib,
		AllocationStrategy: string(domain.StrategyLocalStorage),
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"host-1", "host-2", "host-3"}, resp.Msg.HostIDs())

	zero := decimal.Zero
	_, err = client.SetOverProvisioningRatio(ctx, connect.NewRequest(&SetOverProvisioningRatioRequest{
		StorageID: "ps-local-nvme",
		Ratio:     &zero,
	}))
	assert.Equal(t, connect.CodeInvalidArgument, connect.CodeOf(err))

	_, err = client.SetOverProvisioningRatio(ctx, connect.NewRequest(&SetOverProvisioningRatioRequest{
		StorageID: "ps-local-nvme",
	}))
	require.NoError(t, err)
}

func TestPlacementService_InvalidateTopologyCache(t *testing.T) {
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cache, err := redis.NewCache(config.RedisConfig{Host: mr.Host(), Port: port, KeyPrefix: "test:"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = cache.Close() })

	_, client := newTestServer(t, testConfig(), WithRedis(cache))
	ctx := context.Background()

	_, err = client.SelectStrategy(ctx, connect.NewRequest(&domain.PlacementRequest{
		Operation:         domain.VMOperationCreate,
		RequiredStorageID: "ps-local-nvme",
	}))
	require.NoError(t, err)
	require.NotEmpty(t, mr.Keys())

	resp, err := client.InvalidateTopologyCache(ctx, connect.NewRequest(&InvalidateTopologyCacheRequest{}))
	require.NoError(t, err)
	assert.True(t, resp.Msg.Cached)
	assert.Equal(t, 1, resp.Msg.Entries)
	assert.Empty(t, mr.Keys())
}

func TestPlacementService_InvalidateTopologyCache_NoCache(t *testing.T) {
	_, client := newTestServer(t, testConfig())

	resp, err := client.InvalidateTopologyCache(context.Background(), connect.NewRequest(&InvalidateTopologyCacheRequest{}))
	require.NoError(t, err)
	assert.False(t, resp.Msg.Cached)
	assert.Zero(t, resp.Msg.Entries)
}

func TestPlacementService_Auth(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Enabled = true
	_, client := newTestServer(t, cfg)
	ctx := context.Background()

	placeReq := func() *connect.Request[domain.PlacementRequest] {
		return connect.NewRequest(&domain.PlacementRequest{VMID: "vm-1", Operation: domain.VMOperationCreate})
	}

	_, err := client.Place(ctx, placeReq())
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	req := placeReq()
	req.Header().Set("Authorization", "Bearer not-a-token")
	_, err = client.Place(ctx, req)
	assert.Equal(t, connect.CodeUnauthenticated, connect.CodeOf(err))

	req = placeReq()
	withToken(t, req, domain.RoleViewer)
	_, err = client.Place(ctx, req)
	assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))

	req = placeReq()
	withToken(t, req, domain.RoleViewer)
	_, err = client.SelectStrategy(ctx, req)
	assert.NoError(t, err)

	req = placeReq()
	withToken(t, req, domain.RoleScheduler)
	_, err = client.Place(ctx, req)
	assert.NoError(t, err)

	ratio := decimal.NewFromInt(2)
	ratioReq := connect.NewRequest(&SetOverProvisioningRatioRequest{StorageID: "ps-local-nvme", Ratio: &ratio})
	withToken(t, ratioReq, domain.RoleScheduler)
	_, err = client.SetOverProvisioningRatio(ctx, ratioReq)
	assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))

	cacheReq := connect.NewRequest(&InvalidateTopologyCacheRequest{})
	withToken(t, cacheReq, domain.RoleScheduler)
	_, err = client.InvalidateTopologyCache(ctx, cacheReq)
	assert.Equal(t, connect.CodePermissionDenied, connect.CodeOf(err))

	cacheReq = connect.NewRequest(&InvalidateTopologyCacheRequest{})
	withToken(t, cacheReq, domain.RoleAdmin)
	_, err = client.InvalidateTopologyCache(ctx, cacheReq)
	assert.NoError(t, err)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts, client := newTestServer(t, testConfig())

	for _, path := range []string{"/health", "/ready", "/live", "/api/v1/info"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err, path)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
		assert.NotEmpty(t, resp.Header.Get(requestIDHeader), path)
	}

	_, err := client.SelectStrategy(context.Background(), connect.NewRequest(&domain.PlacementRequest{
		Operation:          domain.VMOperationCreate,
		AllocationStrategy: string(domain.StrategyLocalStorage),
	}))
	require.NoError(t, err)

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "placement_local_storage_strategy_decisions_total")
}
