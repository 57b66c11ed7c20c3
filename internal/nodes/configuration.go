package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jbweber/homelab/paddock/internal/apperr"
)

const letsEncryptLive = "/etc/letsencrypt/live"

// Configuration is the bootstrap document a daemon reads on startup
type Configuration struct {
	UUID          string       `json:"uuid" yaml:"uuid"`
	TokenID       string       `json:"token_id" yaml:"token_id"`
	Token         string       `json:"token" yaml:"token"`
	API           APIConfig    `json:"api" yaml:"api"`
	System        SystemConfig `json:"system" yaml:"system"`
	AllowedMounts []string     `json:"allowed_mounts" yaml:"allowed_mounts"`
	Remote        string       `json:"remote" yaml:"remote"`
}

// APIConfig is the daemon's HTTP listener
type APIConfig struct {
	Host        string    `json:"host" yaml:"host"`
	Port        int       `json:"port" yaml:"port"`
	SSL         SSLConfig `json:"ssl" yaml:"ssl"`
	UploadLimit int64     `json:"upload_limit" yaml:"upload_limit"`
}

// SSLConfig is the daemon's TLS setup
type SSLConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Cert    string `json:"cert" yaml:"cert"`
	Key     string `json:"key" yaml:"key"`
}

// SystemConfig is where the daemon keeps server data
type SystemConfig struct {
	Data string     `json:"data" yaml:"data"`
	SFTP SFTPConfig `json:"sftp" yaml:"sftp"`
}

// SFTPConfig is the daemon's SFTP listener
type SFTPConfig struct {
	BindPort int `json:"bind_port" yaml:"bind_port"`
}

// Configuration builds the bootstrap document for a node, with its token
// decrypted.
func (s *Service) Configuration(ctx context.Context, id int64) (Configuration, error) {
	node, err := s.Get(ctx, id)
	if err != nil {
		return Configuration{}, err
	}

	mounts, err := s.repos.Mounts.FindByNodeID(ctx, node.ID)
	if err != nil {
		return Configuration{}, err
	}
	allowed := make([]string, 0, len(mounts))
	for _, m := range mounts {
		allowed = append(allowed, m.Source)
	}

	return Configuration{
		UUID:    node.UUID,
		TokenID: node.DaemonTokenID,
		Token:   node.DaemonToken,
		API: APIConfig{
			Host: "0.0.0.0",
			Port: node.DaemonListen,
			SSL: SSLConfig{
				Enabled: node.Scheme == "https" && !node.BehindProxy,
				Cert:    fmt.Sprintf("%s/%s/fullchain.pem", letsEncryptLive, strings.ToLower(node.FQDN)),
				Key:     fmt.Sprintf("%s/%s/privkey.pem", letsEncryptLive, strings.ToLower(node.FQDN)),
			},
			UploadLimit: node.UploadSize,
		},
		System: SystemConfig{
			Data: node.DaemonBase,
			SFTP: SFTPConfig{BindPort: node.DaemonSFTP},
		},
		AllowedMounts: allowed,
		Remote:        s.panelURL,
	}, nil
}

// Render encodes the configuration as "yaml" (the default) or "json"
func (c Configuration) Render(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "", "yaml", "yml":
		return yaml.Marshal(c)
	case "json":
		return json.MarshalIndent(c, "", "  ")
	default:
		return nil, apperr.Validation(fmt.Sprintf("unsupported configuration format %q", format), "use yaml or json")
	}
}
