package nodes

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gopkg.in/yaml.v3"

	"github.com/jbweber/homelab/paddock/internal/apperr"
	"github.com/jbweber/homelab/paddock/internal/domain"
	"github.com/jbweber/homelab/paddock/internal/repository"
	"github.com/jbweber/homelab/paddock/internal/secret"
	"github.com/jbweber/homelab/paddock/internal/testutil"
)

func setupService(t *testing.T, name string) (*Service, repository.Repositories, *sql.DB) {
	t.Helper()
	db, cleanup := testutil.SetupTestDBWithMigrations(t, name)
	t.Cleanup(cleanup)

	codec, err := secret.NewCodec(bytes.Repeat([]byte{4}, secret.KeySize))
	require.NoError(t, err)
	repos := repository.NewRepositories(db, codec)

	return NewService(repos, "https://panel.example.com", zaptest.NewLogger(t)), repos, db
}

func validInput() Input {
	return Input{
		Name:               "alpha",
		FQDN:               "alpha.example.com",
		Scheme:             "https",
		Memory:             4096,
		MemoryOverallocate: 10,
		Disk:               51200,
		DiskOverallocate:   -1,
	}
}

func TestService_Create(t *testing.T) {
	svc, _, _ := setupService(t, "TestService_Create")

	node, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	assert.NotZero(t, node.ID)
	assert.Len(t, node.UUID, 36)
	assert.Len(t, node.DaemonTokenID, TokenIDLength)
	assert.Len(t, node.DaemonToken, TokenLength)
	assert.Equal(t, int64(DefaultUploadSize), node.UploadSize)
	assert.Equal(t, DefaultDaemonListen, node.DaemonListen)
	assert.Equal(t, DefaultDaemonSFTP, node.DaemonSFTP)
	assert.Equal(t, DefaultDaemonBase, node.DaemonBase)

	other, err := svc.Create(context.Background(), Input{Name: "beta", FQDN: "10.0.0.2", Scheme: "http"})
	require.NoError(t, err)
	assert.NotEqual(t, node.DaemonToken, other.DaemonToken)
}

func TestService_CreateValidation(t *testing.T) {
	svc, _, _ := setupService(t, "TestService_CreateValidation")

	tests := []struct {
		name   string
		mutate func(*Input)
	}{
		{name: "missing name", mutate: func(in *Input) { in.Name = "" }},
		{name: "bad scheme", mutate: func(in *Input) { in.Scheme = "ftp" }},
		{name: "bad fqdn", mutate: func(in *Input) { in.FQDN = "not a host" }},
		{name: "overallocate below -1", mutate: func(in *Input) { in.MemoryOverallocate = -2 }},
		{name: "https on ip", mutate: func(in *Input) { in.FQDN = "10.0.0.1" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := validInput()
			tt.mutate(&in)
			_, err := svc.Create(context.Background(), in)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}

func TestService_HTTPSOnIPBehindProxy(t *testing.T) {
	svc, _, _ := setupService(t, "TestService_HTTPSOnIPBehindProxy")
	in := validInput()
	in.FQDN = "10.0.0.1"
	in.BehindProxy = true

	_, err := svc.Create(context.Background(), in)
	assert.NoError(t, err)
}

func TestService_UpdateKeepsCredentials(t *testing.T) {
	svc, _, _ := setupService(t, "TestService_UpdateKeepsCredentials")
	ctx := context.Background()
	node, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	in := validInput()
	in.MaintenanceMode = true
	updated, err := svc.Update(ctx, node.ID, in)
	require.NoError(t, err)
	assert.True(t, updated.MaintenanceMode)
	assert.Equal(t, node.DaemonToken, updated.DaemonToken)
	assert.Equal(t, node.UUID, updated.UUID)

	_, err = svc.Update(ctx, 9999, in)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestService_RotateToken(t *testing.T) {
	svc, _, _ := setupService(t, "TestService_RotateToken")
	ctx := context.Background()
	node, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	rotated, err := svc.RotateToken(ctx, node.ID)
	require.NoError(t, err)
	assert.NotEqual(t, node.DaemonTokenID, rotated.DaemonTokenID)
	assert.NotEqual(t, node.DaemonToken, rotated.DaemonToken)

	stored, err := svc.Get(ctx, node.ID)
	require.NoError(t, err)
	assert.Equal(t, rotated.DaemonToken, stored.DaemonToken)
}

func TestService_DeleteRefusedWithServers(t *testing.T) {
	svc, repos, db := setupService(t, "TestService_DeleteRefusedWithServers")
	ctx := context.Background()
	node, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	egg, err := repos.Eggs.Save(ctx, domain.Egg{Name: "egg", DockerImage: "img"})
	require.NoError(t, err)
	allocs, err := repos.Allocations.CreateFromPorts(ctx, node.ID, "10.0.0.1", nil, []string{"25565"})
	require.NoError(t, err)

	var server domain.Server
	err = repository.InTx(ctx, db, func(tx *sql.Tx) error {
		server, err = repos.Servers.WithTx(tx).Save(ctx, domain.Server{
			Name: "srv", NodeID: node.ID, OwnerID: 1, EggID: egg.ID, AllocationID: allocs[0].ID, IO: 500,
		})
		if err != nil {
			return err
		}
		return repos.Allocations.WithTx(tx).Claim(ctx, server.ID, node.ID, []int64{allocs[0].ID})
	})
	require.NoError(t, err)

	err = svc.Delete(ctx, node.ID)
	assert.ErrorIs(t, err, apperr.ErrNodeHasServers)

	_, err = svc.Get(ctx, node.ID)
	require.NoError(t, err)

	require.NoError(t, repos.Servers.DeleteByID(ctx, server.ID))
	require.NoError(t, svc.Delete(ctx, node.ID))

	_, err = svc.Get(ctx, node.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, node.ID), apperr.ErrNotFound)
}

func TestService_Configuration(t *testing.T) {
	svc, repos, _ := setupService(t, "TestService_Configuration")
	ctx := context.Background()
	node, err := svc.Create(ctx, validInput())
	require.NoError(t, err)

	mount, err := repos.Mounts.Save(ctx, domain.Mount{Name: "maps", Source: "/srv/maps", Target: "/maps"})
	require.NoError(t, err)
	require.NoError(t, repos.Mounts.Attach(ctx, mount.ID, node.ID))

	cfg, err := svc.Configuration(ctx, node.ID)
	require.NoError(t, err)

	assert.Equal(t, node.UUID, cfg.UUID)
	assert.Equal(t, node.DaemonTokenID, cfg.TokenID)
	assert.Equal(t, node.DaemonToken, cfg.Token)
	assert.Equal(t, "0.0.0.0", cfg.API.Host)
	assert.Equal(t, DefaultDaemonListen, cfg.API.Port)
	assert.True(t, cfg.API.SSL.Enabled)
	assert.Equal(t, "/etc/letsencrypt/live/alpha.example.com/fullchain.pem", cfg.API.SSL.Cert)
	assert.Equal(t, "/etc/letsencrypt/live/alpha.example.com/privkey.pem", cfg.API.SSL.Key)
	assert.Equal(t, int64(DefaultUploadSize), cfg.API.UploadLimit)
	assert.Equal(t, DefaultDaemonBase, cfg.System.Data)
	assert.Equal(t, DefaultDaemonSFTP, cfg.System.SFTP.BindPort)
	assert.Equal(t, []string{"/srv/maps"}, cfg.AllowedMounts)
	assert.Equal(t, "https://panel.example.com", cfg.Remote)
}

func TestConfiguration_Render(t *testing.T) {
	cfg := Configuration{
		UUID:    "uuid-1",
		TokenID: "tokenid",
		Token:   "token",
		API: APIConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			SSL:         SSLConfig{Enabled: false},
			UploadLimit: 100,
		},
		System:        SystemConfig{Data: "/srv", SFTP: SFTPConfig{BindPort: 2022}},
		AllowedMounts: []string{},
		Remote:        "https://panel.example.com",
	}

	out, err := cfg.Render("yaml")
	require.NoError(t, err)
	var fromYAML Configuration
	require.NoError(t, yaml.Unmarshal(out, &fromYAML))
	assert.Equal(t, "tokenid", fromYAML.TokenID)
	assert.Contains(t, string(out), "bind_port: 2022")
	assert.Contains(t, string(out), "upload_limit: 100")

	out, err = cfg.Render("json")
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, json.Unmarshal(out, &raw))
	assert.Equal(t, "uuid-1", raw["uuid"])
	assert.Contains(t, raw, "allowed_mounts")

	_, err = cfg.Render("toml")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestRandomString(t *testing.T) {
	s, err := randomString(64)
	require.NoError(t, err)
	assert.Len(t, s, 64)
	for _, r := range s {
		assert.Contains(t, tokenAlphabet, string(r))
	}
}
