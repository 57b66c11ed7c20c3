package servers

import (
	"strconv"

	"github.com/jbweber/homelab/paddock/internal/domain"
)

// System variables always win over egg defaults and server values
const (
	EnvStartup      = "STARTUP"
	EnvServerMemory = "SERVER_MEMORY"
	EnvServerIP     = "SERVER_IP"
	EnvServerPort   = "SERVER_PORT"
)

// Environment builds the environment a daemon runs a server with. Egg
// defaults are overlaid by the server's values, then by the system variables.
func Environment(server domain.Server, primary domain.Allocation, eggVars []domain.EggVariable, serverVars []domain.ServerVariable) map[string]string {
	env := make(map[string]string, len(eggVars)+len(serverVars)+4)
	for _, v := range eggVars {
		env[v.EnvVariable] = v.DefaultValue
	}
	for _, v := range serverVars {
		env[v.EnvVariable] = v.Value
	}
	env[EnvStartup] = server.Startup
	env[EnvServerMemory] = strconv.FormatInt(server.Memory, 10)
	env[EnvServerIP] = primary.IP
	env[EnvServerPort] = strconv.Itoa(primary.Port)
	return env
}

// variableValues overlays request values on the egg's declared defaults.
// Names the egg does not declare are ignored.
func variableValues(eggVars []domain.EggVariable, requested map[string]string) map[string]string {
	values := make(map[string]string, len(eggVars))
	for _, v := range eggVars {
		if value, ok := requested[v.EnvVariable]; ok {
			values[v.EnvVariable] = value
			continue
		}
		values[v.EnvVariable] = v.DefaultValue
	}
	return values
}
