package servers

import (
	"github.com/jbweber/homelab/paddock/internal/daemon"
	"github.com/jbweber/homelab/paddock/internal/domain"
)

// ServiceSpec describes the egg a server runs
func ServiceSpec(server domain.Server, egg domain.Egg) daemon.ServiceSpec {
	return daemon.ServiceSpec{
		Type:        egg.Service,
		Option:      egg.UUID,
		Pack:        server.PackUUID,
		SkipScripts: server.SkipScripts,
	}
}

// RebuildPayload is the declarative build a daemon rebuilds a server to
func RebuildPayload(server domain.Server, egg domain.Egg, env map[string]string) daemon.BuildPayload {
	return daemon.BuildPayload{
		Build:   daemon.BuildSpec{Image: server.Image, Env: env},
		Service: ServiceSpec(server, egg),
		Rebuild: true,
	}
}

// CreatePayload is the provisioning request for a new server
func CreatePayload(server domain.Server, egg domain.Egg, allocations []domain.Allocation, env map[string]string) daemon.CreatePayload {
	mappings := make(map[string][]int)
	var primary daemon.Mapping
	for _, a := range allocations {
		mappings[a.IP] = append(mappings[a.IP], a.Port)
		if a.ID == server.AllocationID {
			primary = daemon.Mapping{IP: a.IP, Port: a.Port}
		}
	}

	return daemon.CreatePayload{
		UUID: server.UUID,
		Build: daemon.CreateBuild{
			Default:     primary,
			Ports:       mappings,
			Env:         env,
			Memory:      server.Memory,
			Swap:        server.Swap,
			IO:          server.IO,
			CPU:         server.CPU,
			Threads:     server.Threads,
			Disk:        server.Disk,
			Image:       server.Image,
			OOMDisabled: server.OOMDisabled,
		},
		Service:           ServiceSpec(server, egg),
		StartOnCompletion: true,
	}
}
