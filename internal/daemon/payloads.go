package daemon

// SystemInfo is the daemon's self description
type SystemInfo struct {
	Version       string `json:"version"`
	KernelVersion string `json:"kernel_version"`
	Architecture  string `json:"architecture"`
	OS            string `json:"os"`
	CPUCount      int    `json:"cpu_count"`
}

// BuildPayload updates a server's build on the daemon. Env replaces the
// daemon's environment wholesale.
type BuildPayload struct {
	Build   BuildSpec   `json:"build"`
	Service ServiceSpec `json:"service"`
	Rebuild bool        `json:"rebuild"`
}

// BuildSpec is the container image and its environment
type BuildSpec struct {
	Image string            `json:"image"`
	Env   map[string]string `json:"env"`
}

// ServiceSpec tells the daemon which egg to install and run
type ServiceSpec struct {
	Type        string  `json:"type"`
	Option      string  `json:"option"`
	Pack        *string `json:"pack"`
	SkipScripts bool    `json:"skip_scripts"`
}

// Mapping is the default ip:port a server binds to
type Mapping struct {
	IP   string `json:"ip"`
	Port int    `json:"port"`
}

// CreateBuild is the full resource envelope of a new server
type CreateBuild struct {
	Default     Mapping           `json:"default"`
	Ports       map[string][]int  `json:"ports"`
	Env         map[string]string `json:"env"`
	Memory      int64             `json:"memory"`
	Swap        int64             `json:"swap"`
	IO          int64             `json:"io"`
	CPU         int64             `json:"cpu"`
	Threads     string            `json:"threads,omitempty"`
	Disk        int64             `json:"disk"`
	Image       string            `json:"image"`
	OOMDisabled bool              `json:"oom_disabled"`
}

// CreatePayload provisions a server on the daemon
type CreatePayload struct {
	UUID              string      `json:"uuid"`
	Build             CreateBuild `json:"build"`
	Service           ServiceSpec `json:"service"`
	Rebuild           bool        `json:"rebuild"`
	StartOnCompletion bool        `json:"start_on_completion"`
}

// ServerState is one entry of the daemon's server list
type ServerState struct {
	UUID  string `json:"uuid"`
	State string `json:"state"`
}

type ipAddresses struct {
	IPAddresses []string `json:"ip_addresses"`
}
