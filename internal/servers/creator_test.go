package servers

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jbweber/homelab/paddock/internal/apperr"
	"github.com/jbweber/homelab/paddock/internal/daemon"
	"github.com/jbweber/homelab/paddock/internal/domain"
	"github.com/jbweber/homelab/paddock/internal/repository"
	"github.com/jbweber/homelab/paddock/internal/secret"
	"github.com/jbweber/homelab/paddock/internal/testutil"
)

type fakeProvisioner struct {
	mu    sync.Mutex
	calls []daemon.CreatePayload
	nodes []domain.Node
	err   error
}

func (p *fakeProvisioner) CreateServer(ctx context.Context, node domain.Node, payload daemon.CreatePayload) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, payload)
	p.nodes = append(p.nodes, node)
	return p.err
}

func (p *fakeProvisioner) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fixture struct {
	db      *sql.DB
	repos   repository.Repositories
	node    domain.Node
	egg     domain.Egg
	allocs  []domain.Allocation
	daemon  *fakeProvisioner
	creator *Creator
}

func setup(t *testing.T, name string) *fixture {
	t.Helper()
	ctx := context.Background()
	db, cleanup := testutil.SetupTestDBWithMigrations(t, name)
	t.Cleanup(cleanup)

	codec, err := secret.NewCodec(bytes.Repeat([]byte{3}, secret.KeySize))
	require.NoError(t, err)
	repos := repository.NewRepositories(db, codec)

	node, err := repos.Nodes.Save(ctx, domain.Node{
		Name:          "alpha",
		FQDN:          "alpha.example.com",
		Scheme:        "https",
		Memory:        1024,
		Disk:          10240,
		DaemonListen:  8080,
		DaemonSFTP:    2022,
		DaemonBase:    "/srv/daemon-data",
		DaemonTokenID: "alpha-token",
		DaemonToken:   "secret",
	})
	require.NoError(t, err)

	egg, err := repos.Eggs.Save(ctx, domain.Egg{
		Name:        "Vanilla",
		Service:     "minecraft",
		DockerImage: "quay.io/pterodactyl/core:java",
		Startup:     "java -Xmx{{SERVER_MEMORY}}M -jar server.jar",
	})
	require.NoError(t, err)
	_, err = repos.Eggs.SaveVariable(ctx, domain.EggVariable{EggID: egg.ID, EnvVariable: "VERSION", DefaultValue: "latest"})
	require.NoError(t, err)
	_, err = repos.Eggs.SaveVariable(ctx, domain.EggVariable{EggID: egg.ID, EnvVariable: "EULA", DefaultValue: "false"})
	require.NoError(t, err)

	allocs, err := repos.Allocations.CreateFromPorts(ctx, node.ID, "10.0.0.1", nil, []string{"25565-25567"})
	require.NoError(t, err)

	provisioner := &fakeProvisioner{}
	creator := NewCreator(Options{
		DB:     db,
		Repos:  repos,
		Daemon: provisioner,
		Logger: zaptest.NewLogger(t),
	})

	return &fixture{db: db, repos: repos, node: node, egg: egg, allocs: allocs, daemon: provisioner, creator: creator}
}

func (f *fixture) request() Request {
	return Request{
		Name:              "survival",
		NodeID:            f.node.ID,
		EggID:             f.egg.ID,
		OwnerID:           1,
		AllocationID:      f.allocs[0].ID,
		Memory:            512,
		Swap:              0,
		Disk:              1024,
		CPU:               100,
		IO:                500,
		Environment:       map[string]string{"EULA": "true"},
		StartOnCompletion: true,
	}
}

func TestCreator_Create(t *testing.T) {
	f := setup(t, "TestCreator_Create")
	ctx := context.Background()

	result, err := f.creator.Create(ctx, f.request())
	require.NoError(t, err)
	f.creator.Wait()

	server, err := f.repos.Servers.FindByID(ctx, result.Server.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(512), server.Memory)
	assert.Equal(t, f.egg.DockerImage, server.Image)
	assert.Equal(t, f.egg.Startup, server.Startup)

	alloc, err := f.repos.Allocations.FindByID(ctx, f.allocs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, alloc.ServerID)
	assert.Equal(t, server.ID, *alloc.ServerID)

	vars, err := f.repos.Servers.FindVariables(ctx, server.ID)
	require.NoError(t, err)
	assert.Len(t, vars, 2)

	require.Equal(t, 1, f.daemon.count())
	payload := f.daemon.calls[0]
	assert.Equal(t, server.UUID, payload.UUID)
	assert.Equal(t, daemon.Mapping{IP: "10.0.0.1", Port: 25565}, payload.Build.Default)
	assert.Equal(t, "true", payload.Build.Env["EULA"])
	assert.Equal(t, "latest", payload.Build.Env["VERSION"])
	assert.Equal(t, "512", payload.Build.Env["SERVER_MEMORY"])
	assert.Equal(t, "secret", f.daemon.nodes[0].DaemonToken)
}

func TestCreator_AdditionalAllocations(t *testing.T) {
	f := setup(t, "TestCreator_AdditionalAllocations")
	ctx := context.Background()
	req := f.request()
	req.AdditionalAllocations = []int64{f.allocs[1].ID, f.allocs[2].ID}

	result, err := f.creator.Create(ctx, req)
	require.NoError(t, err)
	f.creator.Wait()
	assert.Len(t, result.Allocations, 3)

	owned, err := f.repos.Allocations.FindByServerID(ctx, result.Server.ID)
	require.NoError(t, err)
	assert.Len(t, owned, 3)
	assert.Equal(t, []int{25565, 25566, 25567}, f.daemon.calls[0].Build.Ports["10.0.0.1"])
}

func TestCreator_NoProvisioningWithoutStart(t *testing.T) {
	f := setup(t, "TestCreator_NoProvisioningWithoutStart")
	req := f.request()
	req.StartOnCompletion = false

	_, err := f.creator.Create(context.Background(), req)
	require.NoError(t, err)
	f.creator.Wait()
	assert.Equal(t, 0, f.daemon.count())
}

func TestCreator_ProvisioningFailureKeepsRecord(t *testing.T) {
	f := setup(t, "TestCreator_ProvisioningFailureKeepsRecord")
	f.daemon.err = apperr.New(apperr.KindDaemon, "timed out connecting to alpha.example.com:8080")

	var mu sync.Mutex
	var warned []error
	f.creator.warnings = func(server domain.Server, err error) {
		mu.Lock()
		defer mu.Unlock()
		warned = append(warned, err)
	}

	result, err := f.creator.Create(context.Background(), f.request())
	require.NoError(t, err)
	f.creator.Wait()

	require.Len(t, warned, 1)
	assert.ErrorIs(t, warned[0], apperr.ErrDaemon)

	exists, err := f.repos.Servers.ExistsByID(context.Background(), result.Server.ID)
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestCreator_InsufficientCapacity(t *testing.T) {
	f := setup(t, "TestCreator_InsufficientCapacity")
	req := f.request()
	req.Memory = 2048

	_, err := f.creator.Create(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrInsufficientCapacity)

	servers, err := f.repos.Servers.FindAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, servers)
	assert.Equal(t, 0, f.daemon.count())
}

func TestCreator_AllocationAlreadyOwned(t *testing.T) {
	f := setup(t, "TestCreator_AllocationAlreadyOwned")
	ctx := context.Background()
	req := f.request()
	req.StartOnCompletion = false

	_, err := f.creator.Create(ctx, req)
	require.NoError(t, err)

	_, err = f.creator.Create(ctx, req)
	assert.ErrorIs(t, err, apperr.ErrAllocationUnavailable)
}

func TestCreator_AllocationOnOtherNode(t *testing.T) {
	f := setup(t, "TestCreator_AllocationOnOtherNode")
	ctx := context.Background()

	other := f.node
	other.ID = 0
	other.UUID = ""
	other.Name = "beta"
	other.DaemonTokenID = "beta-token"
	other, err := f.repos.Nodes.Save(ctx, other)
	require.NoError(t, err)
	foreign, err := f.repos.Allocations.CreateFromPorts(ctx, other.ID, "10.0.0.2", nil, []string{"25565"})
	require.NoError(t, err)

	req := f.request()
	req.AdditionalAllocations = []int64{foreign[0].ID}
	_, err = f.creator.Create(ctx, req)
	assert.ErrorIs(t, err, apperr.ErrAllocationUnavailable)

	alloc, err := f.repos.Allocations.FindByID(ctx, f.allocs[0].ID)
	require.NoError(t, err)
	assert.False(t, alloc.Assigned())
}

func TestCreator_Validation(t *testing.T) {
	f := setup(t, "TestCreator_Validation")

	tests := []struct {
		name   string
		mutate func(*Request)
	}{
		{name: "missing name", mutate: func(r *Request) { r.Name = "" }},
		{name: "negative memory", mutate: func(r *Request) { r.Memory = -5 }},
		{name: "bad threads", mutate: func(r *Request) { r.Threads = "a-b" }},
		{name: "duplicate primary", mutate: func(r *Request) { r.AdditionalAllocations = []int64{r.AllocationID} }},
		{name: "duplicate additional", mutate: func(r *Request) {
			r.AdditionalAllocations = []int64{f.allocs[1].ID, f.allocs[1].ID}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := f.request()
			tt.mutate(&req)
			_, err := f.creator.Create(context.Background(), req)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestCreator_MaintenanceNode(t *testing.T) {
	f := setup(t, "TestCreator_MaintenanceNode")
	ctx := context.Background()
	f.node.MaintenanceMode = true
	_, err := f.repos.Nodes.Save(ctx, f.node)
	require.NoError(t, err)

	_, err = f.creator.Create(ctx, f.request())
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCreator_MissingNodeAndEgg(t *testing.T) {
	f := setup(t, "TestCreator_MissingNodeAndEgg")

	req := f.request()
	req.NodeID = 9999
	_, err := f.creator.Create(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	req = f.request()
	req.EggID = 9999
	_, err = f.creator.Create(context.Background(), req)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestCreator_ConcurrentCreateSameAllocation(t *testing.T) {
	f := setup(t, "TestCreator_ConcurrentCreateSameAllocation")
	req := f.request()
	req.StartOnCompletion = false

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.creator.Create(context.Background(), req)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.True(t,
			errors.Is(err, apperr.ErrAllocationConflict) || errors.Is(err, apperr.ErrAllocationUnavailable),
			"unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)

	servers, err := f.repos.Servers.FindAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, servers, 1)
}

func TestCreator_ConcurrentCreateSameNodeCapacity(t *testing.T) {
	f := setup(t, "TestCreator_ConcurrentCreateSameNodeCapacity")

	// each request fits the node alone but not together
	names := []string{"survival", "creative"}
	errs := make([]error, len(names))
	var wg sync.WaitGroup
	for i := range errs {
		req := f.request()
		req.Name = names[i]
		req.AllocationID = f.allocs[i].ID
		req.Memory = 768
		req.StartOnCompletion = false

		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.creator.Create(context.Background(), req)
		}(i)
	}
	wg.Wait()

	var wins int
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, apperr.ErrInsufficientCapacity)
	}
	assert.Equal(t, 1, wins)

	usage, err := f.repos.Servers.UsageByNodeID(context.Background(), f.node.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(768), usage.Memory)
}
