package repository

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/paddock/internal/apperr"
	"github.com/jbweber/homelab/paddock/internal/domain"
)

func TestAllocationRepository_CreateFromPorts(t *testing.T) {
	_, repos := setupRepos(t, "TestAllocationRepository_CreateFromPorts")
	ctx := context.Background()
	node := createNode(t, repos, "alpha")
	alias := "play.example.com"

	created, err := repos.Allocations.CreateFromPorts(ctx, node.ID, "10.0.0.1", &alias, []string{"25565-25567", "25565", "abc"})
	require.NoError(t, err)
	require.Len(t, created, 3)
	assert.Equal(t, 25565, created[0].Port)
	assert.Equal(t, 25567, created[2].Port)
	for _, a := range created {
		assert.False(t, a.Assigned())
		require.NotNil(t, a.IPAlias)
		assert.Equal(t, alias, *a.IPAlias)
	}
}

func TestAllocationRepository_CreateFromPortsSkipsExisting(t *testing.T) {
	_, repos := setupRepos(t, "TestAllocationRepository_CreateFromPortsSkipsExisting")
	ctx := context.Background()
	node := createNode(t, repos, "alpha")

	first, err := repos.Allocations.CreateFromPorts(ctx, node.ID, "10.0.0.1", nil, []string{"25565"})
	require.NoError(t, err)

	second, err := repos.Allocations.CreateFromPorts(ctx, node.ID, "10.0.0.1", nil, []string{"25565-25566"})
	require.NoError(t, err)
	require.Len(t, second, 2)
	assert.Equal(t, first[0].ID, second[0].ID)

	all, err := repos.Allocations.FindByNodeID(ctx, node.ID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestAllocationRepository_CreateFromPortsValidation(t *testing.T) {
	_, repos := setupRepos(t, "TestAllocationRepository_CreateFromPortsValidation")
	ctx := context.Background()
	node := createNode(t, repos, "alpha")

	tests := []struct {
		name   string
		ip     string
		tokens []string
	}{
		{name: "ipv6", ip: "::1", tokens: []string{"80"}},
		{name: "hostname", ip: "example.com", tokens: []string{"80"}},
		{name: "no ports", ip: "10.0.0.1", tokens: []string{"abc", "70000"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repos.Allocations.CreateFromPorts(ctx, node.ID, tt.ip, nil, tt.tokens)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}

	_, err := repos.Allocations.CreateFromPorts(ctx, 9999, "10.0.0.1", nil, []string{"80"})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestAllocationRepository_ReserveExisting(t *testing.T) {
	db, repos := setupRepos(t, "TestAllocationRepository_ReserveExisting")
	ctx := context.Background()
	alpha := createNode(t, repos, "alpha")
	beta := createNode(t, repos, "beta")
	egg := createEgg(t, repos)

	onAlpha, err := repos.Allocations.CreateFromPorts(ctx, alpha.ID, "10.0.0.1", nil, []string{"25565-25567"})
	require.NoError(t, err)
	onBeta, err := repos.Allocations.CreateFromPorts(ctx, beta.ID, "10.0.0.2", nil, []string{"25565"})
	require.NoError(t, err)
	createServer(t, db, repos, alpha, egg, onAlpha[2], 128)

	reserved, err := repos.Allocations.ReserveExisting(ctx, alpha.ID, []int64{onAlpha[1].ID, onAlpha[0].ID})
	require.NoError(t, err)
	require.Len(t, reserved, 2)
	assert.Equal(t, onAlpha[1].ID, reserved[0].ID)

	tests := []struct {
		name string
		ids  []int64
	}{
		{name: "assigned", ids: []int64{onAlpha[2].ID}},
		{name: "other node", ids: []int64{onBeta[0].ID}},
		{name: "missing", ids: []int64{9999}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := repos.Allocations.ReserveExisting(ctx, alpha.ID, tt.ids)
			assert.ErrorIs(t, err, apperr.ErrAllocationUnavailable)
		})
	}

	_, err = repos.Allocations.ReserveExisting(ctx, alpha.ID, nil)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestAllocationRepository_ClaimAndRelease(t *testing.T) {
	db, repos := setupRepos(t, "TestAllocationRepository_ClaimAndRelease")
	ctx := context.Background()
	node := createNode(t, repos, "alpha")
	egg := createEgg(t, repos)

	allocs, err := repos.Allocations.CreateFromPorts(ctx, node.ID, "10.0.0.1", nil, []string{"25565-25566"})
	require.NoError(t, err)
	server := createServer(t, db, repos, node, egg, allocs[0], 128)

	require.NoError(t, repos.Allocations.Claim(ctx, server.ID, node.ID, []int64{allocs[1].ID}))

	owned, err := repos.Allocations.FindByServerID(ctx, server.ID)
	require.NoError(t, err)
	assert.Len(t, owned, 2)

	assert.ErrorIs(t, repos.Allocations.DeleteByID(ctx, allocs[1].ID), ErrInUse)

	require.NoError(t, repos.Allocations.Release(ctx, allocs[1].ID))
	require.NoError(t, repos.Allocations.DeleteByID(ctx, allocs[1].ID))

	assert.ErrorIs(t, repos.Allocations.DeleteByID(ctx, allocs[1].ID), ErrNotFound)
	assert.ErrorIs(t, repos.Allocations.Release(ctx, allocs[1].ID), ErrNotFound)
}

func TestAllocationRepository_EnsureFree(t *testing.T) {
	db, repos := setupRepos(t, "TestAllocationRepository_EnsureFree")
	ctx := context.Background()
	node := createNode(t, repos, "alpha")
	egg := createEgg(t, repos)

	allocs, err := repos.Allocations.CreateFromPorts(ctx, node.ID, "10.0.0.1", nil, []string{"25565-25566"})
	require.NoError(t, err)

	require.NoError(t, repos.Allocations.EnsureFree(ctx, node.ID, []int64{allocs[0].ID, allocs[1].ID}))

	createServer(t, db, repos, node, egg, allocs[0], 128)
	err = repos.Allocations.EnsureFree(ctx, node.ID, []int64{allocs[1].ID, allocs[0].ID})
	assert.ErrorIs(t, err, apperr.ErrAllocationConflict)
}

func TestAllocationRepository_ConcurrentClaim(t *testing.T) {
	db, repos := setupRepos(t, "TestAllocationRepository_ConcurrentClaim")
	ctx := context.Background()
	node := createNode(t, repos, "alpha")
	egg := createEgg(t, repos)

	allocs, err := repos.Allocations.CreateFromPorts(ctx, node.ID, "10.0.0.1", nil, []string{"25565-25567"})
	require.NoError(t, err)
	first := createServer(t, db, repos, node, egg, allocs[0], 128)
	second := createServer(t, db, repos, node, egg, allocs[1], 128)
	contested := allocs[2].ID

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, server := range []domain.Server{first, second} {
		wg.Add(1)
		go func(i int, serverID int64) {
			defer wg.Done()
			errs[i] = InTx(ctx, db, func(tx *sql.Tx) error {
				return repos.Allocations.WithTx(tx).Claim(ctx, serverID, node.ID, []int64{contested})
			})
		}(i, server.ID)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case apperr.KindOf(err) == apperr.KindAllocationConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, conflicts)

	a, err := repos.Allocations.FindByID(ctx, contested)
	require.NoError(t, err)
	require.NotNil(t, a.ServerID)
}

func TestAllocationRepository_ClaimRollsBackPartial(t *testing.T) {
	db, repos := setupRepos(t, "TestAllocationRepository_ClaimRollsBackPartial")
	ctx := context.Background()
	node := createNode(t, repos, "alpha")
	egg := createEgg(t, repos)

	allocs, err := repos.Allocations.CreateFromPorts(ctx, node.ID, "10.0.0.1", nil, []string{"25565-25567"})
	require.NoError(t, err)
	owner := createServer(t, db, repos, node, egg, allocs[0], 128)
	other := createServer(t, db, repos, node, egg, allocs[1], 128)

	// allocs[2] is free, allocs[0] is not: nothing may be claimed
	err = repos.Allocations.Claim(ctx, other.ID, node.ID, []int64{allocs[2].ID, allocs[0].ID})
	assert.ErrorIs(t, err, apperr.ErrAllocationConflict)

	a, err := repos.Allocations.FindByID(ctx, allocs[2].ID)
	require.NoError(t, err)
	assert.False(t, a.Assigned())

	a, err = repos.Allocations.FindByID(ctx, allocs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, owner.ID, *a.ServerID)
}

func TestAllocationRepository_Save(t *testing.T) {
	_, repos := setupRepos(t, "TestAllocationRepository_Save")
	ctx := context.Background()
	node := createNode(t, repos, "alpha")

	saved, err := repos.Allocations.Save(ctx, domain.Allocation{NodeID: node.ID, IP: "10.0.0.1", Port: 80})
	require.NoError(t, err)
	assert.NotZero(t, saved.ID)

	_, err = repos.Allocations.Save(ctx, domain.Allocation{NodeID: node.ID, IP: "10.0.0.1", Port: 70000})
	assert.ErrorIs(t, err, ErrInvalidEntity)

	_, err = repos.Allocations.Save(ctx, domain.Allocation{NodeID: node.ID, IP: "fe80::1", Port: 80})
	assert.ErrorIs(t, err, ErrInvalidEntity)
}
