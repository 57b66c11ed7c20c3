package repository

import (
	"bytes"
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jbweber/homelab/paddock/internal/domain"
	"github.com/jbweber/homelab/paddock/internal/secret"
	"github.com/jbweber/homelab/paddock/internal/testutil"
)

func setupRepos(t *testing.T, name string) (*sql.DB, Repositories) {
	t.Helper()
	db, cleanup := testutil.SetupTestDBWithMigrations(t, name)
	t.Cleanup(cleanup)

	codec, err := secret.NewCodec(bytes.Repeat([]byte{1}, secret.KeySize))
	require.NoError(t, err)

	return db, NewRepositories(db, codec)
}

func createNode(t *testing.T, repos Repositories, name string) domain.Node {
	t.Helper()
	node, err := repos.Nodes.Save(context.Background(), domain.Node{
		Name:          name,
		FQDN:          name + ".example.com",
		Scheme:        "https",
		Memory:        1024,
		Disk:          10240,
		UploadSize:    100,
		DaemonListen:  8080,
		DaemonSFTP:    2022,
		DaemonBase:    "/srv/daemon-data",
		DaemonTokenID: name + "-token-id",
		DaemonToken:   "token-for-" + name,
	})
	require.NoError(t, err)
	return node
}

func createEgg(t *testing.T, repos Repositories) domain.Egg {
	t.Helper()
	egg, err := repos.Eggs.Save(context.Background(), domain.Egg{
		Name:        "Vanilla",
		Service:     "minecraft",
		DockerImage: "quay.io/pterodactyl/core:java",
		Startup:     "java -jar server.jar",
	})
	require.NoError(t, err)
	return egg
}

// createServer places a server owning alloc, claiming it in the same transaction
func createServer(t *testing.T, db *sql.DB, repos Repositories, node domain.Node, egg domain.Egg, alloc domain.Allocation, memory int64) domain.Server {
	t.Helper()
	ctx := context.Background()
	var server domain.Server
	err := InTx(ctx, db, func(tx *sql.Tx) error {
		var err error
		server, err = repos.Servers.WithTx(tx).Save(ctx, domain.Server{
			Name:         "srv",
			NodeID:       node.ID,
			OwnerID:      1,
			EggID:        egg.ID,
			AllocationID: alloc.ID,
			Memory:       memory,
			Disk:         1000,
			IO:           500,
			Startup:      egg.Startup,
			Image:        egg.DockerImage,
		})
		if err != nil {
			return err
		}
		return repos.Allocations.WithTx(tx).Claim(ctx, server.ID, node.ID, []int64{alloc.ID})
	})
	require.NoError(t, err)
	return server
}
