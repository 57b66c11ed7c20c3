package migrations

import (
	"database/sql"
)

// GetPerformanceMigrations returns performance optimization migrations
func GetPerformanceMigrations() []Migration {
	return []Migration{
		{
			Version: 10,
			Name:    "add_performance_indices",
			Up: func(tx *sql.Tx) error {
				// Lookups on the placement and rebuild paths
				return execAll(tx,
					"CREATE INDEX IF NOT EXISTS idx_allocations_server_id ON allocations(server_id)",
					"CREATE INDEX IF NOT EXISTS idx_allocations_node_free ON allocations(node_id, server_id)",
					"CREATE INDEX IF NOT EXISTS idx_servers_node_id ON servers(node_id)",
					"CREATE INDEX IF NOT EXISTS idx_servers_egg_id ON servers(egg_id)",
					"CREATE INDEX IF NOT EXISTS idx_server_variables_server_id ON server_variables(server_id)",
					"CREATE INDEX IF NOT EXISTS idx_egg_variables_egg_id ON egg_variables(egg_id)",
					"CREATE INDEX IF NOT EXISTS idx_mount_node_node_id ON mount_node(node_id)",
				)
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx,
					"DROP INDEX IF EXISTS idx_allocations_server_id",
					"DROP INDEX IF EXISTS idx_allocations_node_free",
					"DROP INDEX IF EXISTS idx_servers_node_id",
					"DROP INDEX IF EXISTS idx_servers_egg_id",
					"DROP INDEX IF EXISTS idx_server_variables_server_id",
					"DROP INDEX IF EXISTS idx_egg_variables_egg_id",
					"DROP INDEX IF EXISTS idx_mount_node_node_id",
				)
			},
		},
	}
}
