package domain

// Node represents a physical or virtual host running a daemon
type Node struct {
	ID                 int64  // Unique identifier
	UUID               string // External identifier shared with the daemon
	Name               string // Display name
	FQDN               string // Hostname or literal IP the daemon listens on
	Scheme             string // "http" or "https"
	BehindProxy        bool   // TLS terminated in front of the daemon
	MaintenanceMode    bool   // No new servers while set
	Memory             int64  // Memory in MB
	MemoryOverallocate int64  // Percentage, -1 allowed
	Disk               int64  // Disk in MB
	DiskOverallocate   int64  // Percentage, -1 allowed
	UploadSize         int64  // Upload limit in MB
	DaemonListen       int    // Daemon HTTP port
	DaemonSFTP         int    // Daemon SFTP port
	DaemonBase         string // Base directory for server data
	DaemonTokenID      string // Public half of the daemon credential
	DaemonToken        string // Secret half, plaintext in memory only
}

// Allocation represents an ip:port pair on a node
type Allocation struct {
	ID       int64   // Unique identifier
	NodeID   int64   // Foreign key to Node
	IP       string  // IPv4 address
	Port     int     // Port number
	IPAlias  *string // Optional display alias
	ServerID *int64  // Owning server, nil when free
}

// Assigned reports whether a server owns the allocation
func (a Allocation) Assigned() bool {
	return a.ServerID != nil
}

// Egg describes how a kind of game server is built and started
type Egg struct {
	ID          int64  // Unique identifier
	UUID        string // External identifier
	Name        string // Display name
	Service     string // Service/nest type sent to the daemon
	DockerImage string // Default image
	Startup     string // Default startup command
}

// EggVariable is an environment variable declared by an egg
type EggVariable struct {
	ID           int64  // Unique identifier
	EggID        int64  // Foreign key to Egg
	EnvVariable  string // Variable name
	DefaultValue string // Value used when the server does not override it
}

// Server represents a game server placed on a node
type Server struct {
	ID           int64   // Unique identifier
	UUID         string  // External identifier
	UUIDShort    string  // First segment of the UUID
	Name         string  // Display name
	Description  string  // Optional description
	NodeID       int64   // Foreign key to Node
	OwnerID      int64   // Owning user (managed outside the panel core)
	EggID        int64   // Foreign key to Egg
	AllocationID int64   // Primary allocation
	PackUUID     *string // Optional pack
	Memory       int64   // Memory limit in MB
	Swap         int64   // Swap limit in MB, -1 unlimited
	Disk         int64   // Disk limit in MB
	IO           int64   // Block IO weight
	CPU          int64   // CPU limit percentage
	Threads      string  // CPU pinning, e.g. "0-1,3"
	OOMDisabled  bool    // OOM killer disabled
	Startup      string  // Startup command
	Image        string  // Container image
	SkipScripts  bool    // Skip the egg install script
}

// ServerVariable is an environment value set on a server
type ServerVariable struct {
	ID          int64  // Unique identifier
	ServerID    int64  // Foreign key to Server
	EnvVariable string // Variable name
	Value       string // Variable value
}

// Mount is a host path that may be mounted into servers on attached nodes
type Mount struct {
	ID       int64  // Unique identifier
	UUID     string // External identifier
	Name     string // Display name
	Source   string // Host path
	Target   string // Path inside the container
	ReadOnly bool   // Mounted read-only
}

// NodeUsage aggregates the resources already claimed on a node
type NodeUsage struct {
	Memory int64 // Sum of server memory in MB
	Disk   int64 // Sum of server disk in MB
}
