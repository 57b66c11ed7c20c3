package migrations

import (
	"database/sql"
)

// GetInitialMigrations returns all initial migrations
func GetInitialMigrations() []Migration {
	return []Migration{
		{
			Version: 1,
			Name:    "create_nodes_and_allocations",
			Up: func(tx *sql.Tx) error {
				return execAll(tx,
					`CREATE TABLE nodes (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						uuid TEXT NOT NULL UNIQUE,
						name TEXT NOT NULL UNIQUE,
						fqdn TEXT NOT NULL,
						scheme TEXT NOT NULL DEFAULT 'https',
						behind_proxy BOOLEAN NOT NULL DEFAULT 0,
						maintenance_mode BOOLEAN NOT NULL DEFAULT 0,
						memory INTEGER NOT NULL,
						memory_overallocate INTEGER NOT NULL DEFAULT 0,
						disk INTEGER NOT NULL,
						disk_overallocate INTEGER NOT NULL DEFAULT 0,
						upload_size INTEGER NOT NULL DEFAULT 100,
						daemon_listen INTEGER NOT NULL DEFAULT 8080,
						daemon_sftp INTEGER NOT NULL DEFAULT 2022,
						daemon_base TEXT NOT NULL DEFAULT '/var/lib/pterodactyl/volumes',
						daemon_token_id TEXT NOT NULL UNIQUE,
						daemon_token TEXT NOT NULL,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE allocations (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						node_id INTEGER NOT NULL,
						ip TEXT NOT NULL,
						port INTEGER NOT NULL,
						ip_alias TEXT,
						server_id INTEGER,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						UNIQUE (node_id, ip, port),
						FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE,
						FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE SET NULL
					)`,
				)
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx,
					`DROP TABLE IF EXISTS allocations`,
					`DROP TABLE IF EXISTS nodes`,
				)
			},
		},
		{
			Version: 2,
			Name:    "create_eggs_and_servers",
			Up: func(tx *sql.Tx) error {
				return execAll(tx,
					`CREATE TABLE eggs (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						uuid TEXT NOT NULL UNIQUE,
						name TEXT NOT NULL,
						service TEXT NOT NULL,
						docker_image TEXT NOT NULL,
						startup TEXT NOT NULL,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
					)`,
					`CREATE TABLE egg_variables (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						egg_id INTEGER NOT NULL,
						env_variable TEXT NOT NULL,
						default_value TEXT NOT NULL DEFAULT '',
						UNIQUE (egg_id, env_variable),
						FOREIGN KEY (egg_id) REFERENCES eggs(id) ON DELETE CASCADE
					)`,
					`CREATE TABLE servers (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						uuid TEXT NOT NULL UNIQUE,
						uuid_short TEXT NOT NULL UNIQUE,
						name TEXT NOT NULL,
						description TEXT NOT NULL DEFAULT '',
						node_id INTEGER NOT NULL,
						owner_id INTEGER NOT NULL,
						egg_id INTEGER NOT NULL,
						allocation_id INTEGER NOT NULL UNIQUE,
						pack_uuid TEXT,
						memory INTEGER NOT NULL,
						swap INTEGER NOT NULL,
						disk INTEGER NOT NULL,
						io INTEGER NOT NULL,
						cpu INTEGER NOT NULL,
						threads TEXT NOT NULL DEFAULT '',
						oom_disabled BOOLEAN NOT NULL DEFAULT 1,
						startup TEXT NOT NULL,
						image TEXT NOT NULL,
						skip_scripts BOOLEAN NOT NULL DEFAULT 0,
						created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
						FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE RESTRICT,
						FOREIGN KEY (egg_id) REFERENCES eggs(id) ON DELETE RESTRICT,
						FOREIGN KEY (allocation_id) REFERENCES allocations(id)
					)`,
					`CREATE TABLE server_variables (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						server_id INTEGER NOT NULL,
						env_variable TEXT NOT NULL,
						value TEXT NOT NULL DEFAULT '',
						UNIQUE (server_id, env_variable),
						FOREIGN KEY (server_id) REFERENCES servers(id) ON DELETE CASCADE
					)`,
				)
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx,
					`DROP TABLE IF EXISTS server_variables`,
					`DROP TABLE IF EXISTS servers`,
					`DROP TABLE IF EXISTS egg_variables`,
					`DROP TABLE IF EXISTS eggs`,
				)
			},
		},
		{
			Version: 3,
			Name:    "create_mounts",
			Up: func(tx *sql.Tx) error {
				return execAll(tx,
					`CREATE TABLE mounts (
						id INTEGER PRIMARY KEY AUTOINCREMENT,
						uuid TEXT NOT NULL UNIQUE,
						name TEXT NOT NULL UNIQUE,
						source TEXT NOT NULL,
						target TEXT NOT NULL,
						read_only BOOLEAN NOT NULL DEFAULT 0
					)`,
					`CREATE TABLE mount_node (
						mount_id INTEGER NOT NULL,
						node_id INTEGER NOT NULL,
						PRIMARY KEY (mount_id, node_id),
						FOREIGN KEY (mount_id) REFERENCES mounts(id) ON DELETE CASCADE,
						FOREIGN KEY (node_id) REFERENCES nodes(id) ON DELETE CASCADE
					)`,
				)
			},
			Down: func(tx *sql.Tx) error {
				return execAll(tx,
					`DROP TABLE IF EXISTS mount_node`,
					`DROP TABLE IF EXISTS mounts`,
				)
			},
		},
	}
}

func execAll(tx *sql.Tx, statements ...string) error {
	for _, stmt := range statements {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
