// Package nodes manages node lifecycle and the daemon bootstrap configuration.
package nodes

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/jbweber/homelab/paddock/internal/apperr"
	"github.com/jbweber/homelab/paddock/internal/domain"
	"github.com/jbweber/homelab/paddock/internal/repository"
	"github.com/jbweber/homelab/paddock/internal/validate"
)

const (
	TokenIDLength = 16
	TokenLength   = 64

	DefaultUploadSize   = 100
	DefaultDaemonListen = 8080
	DefaultDaemonSFTP   = 2022
	DefaultDaemonBase   = "/var/lib/pterodactyl/volumes"
)

const tokenAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Input is the editable part of a node
type Input struct {
	Name               string `json:"name" validate:"required,max=100"`
	FQDN               string `json:"fqdn" validate:"required,fqdn|ip4_addr"`
	Scheme             string `json:"scheme" validate:"required,oneof=http https"`
	BehindProxy        bool   `json:"behind_proxy"`
	MaintenanceMode    bool   `json:"maintenance_mode"`
	Memory             int64  `json:"memory" validate:"gte=0"`
	MemoryOverallocate int64  `json:"memory_overallocate" validate:"gte=-1"`
	Disk               int64  `json:"disk" validate:"gte=0"`
	DiskOverallocate   int64  `json:"disk_overallocate" validate:"gte=-1"`
	UploadSize         int64  `json:"upload_size" validate:"omitempty,gte=1,lte=1024"`
	DaemonListen       int    `json:"daemon_listen" validate:"omitempty,gte=1,lte=65535"`
	DaemonSFTP         int    `json:"daemon_sftp" validate:"omitempty,gte=1,lte=65535"`
	DaemonBase         string `json:"daemon_base"`
}

func (in Input) withDefaults() Input {
	if in.UploadSize == 0 {
		in.UploadSize = DefaultUploadSize
	}
	if in.DaemonListen == 0 {
		in.DaemonListen = DefaultDaemonListen
	}
	if in.DaemonSFTP == 0 {
		in.DaemonSFTP = DefaultDaemonSFTP
	}
	if in.DaemonBase == "" {
		in.DaemonBase = DefaultDaemonBase
	}
	return in
}

func (in Input) validate() error {
	if err := validate.Struct(in); err != nil {
		return err
	}
	if _, err := netip.ParseAddr(in.FQDN); err == nil && in.Scheme == "https" && !in.BehindProxy {
		return apperr.Validation("a node using SSL must use a hostname, not an IP address",
			"set scheme to http, or use a hostname the certificate is issued for")
	}
	return nil
}

// Service creates, updates and removes nodes
type Service struct {
	repos    repository.Repositories
	panelURL string
	logger   *zap.Logger
}

// NewService creates a node service. panelURL is what daemons call back to.
func NewService(repos repository.Repositories, panelURL string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repos: repos, panelURL: panelURL, logger: logger}
}

// Create registers a node with a fresh UUID and daemon credentials
func (s *Service) Create(ctx context.Context, in Input) (domain.Node, error) {
	in = in.withDefaults()
	if err := in.validate(); err != nil {
		return domain.Node{}, err
	}

	tokenID, err := randomString(TokenIDLength)
	if err != nil {
		return domain.Node{}, err
	}
	token, err := randomString(TokenLength)
	if err != nil {
		return domain.Node{}, err
	}

	node := apply(domain.Node{DaemonTokenID: tokenID, DaemonToken: token}, in)
	node, err = s.repos.Nodes.Save(ctx, node)
	if err != nil {
		return domain.Node{}, err
	}

	s.logger.Info("Node created",
		zap.Int64("node_id", node.ID),
		zap.String("uuid", node.UUID),
		zap.String("fqdn", node.FQDN))
	return node, nil
}

// Update changes a node's settings, keeping its identity and credentials
func (s *Service) Update(ctx context.Context, id int64, in Input) (domain.Node, error) {
	in = in.withDefaults()
	if err := in.validate(); err != nil {
		return domain.Node{}, err
	}

	node, err := s.Get(ctx, id)
	if err != nil {
		return domain.Node{}, err
	}
	return s.repos.Nodes.Save(ctx, apply(node, in))
}

// RotateToken issues new daemon credentials. The daemon must be given the
// new configuration before it can talk to the panel again.
func (s *Service) RotateToken(ctx context.Context, id int64) (domain.Node, error) {
	node, err := s.Get(ctx, id)
	if err != nil {
		return domain.Node{}, err
	}
	if node.DaemonTokenID, err = randomString(TokenIDLength); err != nil {
		return domain.Node{}, err
	}
	if node.DaemonToken, err = randomString(TokenLength); err != nil {
		return domain.Node{}, err
	}
	return s.repos.Nodes.Save(ctx, node)
}

// Get loads a node
func (s *Service) Get(ctx context.Context, id int64) (domain.Node, error) {
	node, err := s.repos.Nodes.FindByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return domain.Node{}, apperr.Newf(apperr.KindNotFound, "node %d not found", id)
	}
	return node, err
}

// List loads every node
func (s *Service) List(ctx context.Context) ([]domain.Node, error) {
	return s.repos.Nodes.FindAll(ctx)
}

// Delete removes a node. Nodes that still host servers are refused.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	count, err := s.repos.Servers.CountByNodeID(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return apperr.Newf(apperr.KindNodeHasServers, "node %d still hosts %d servers", id, count)
	}

	if err := s.repos.Nodes.DeleteByID(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Node deleted", zap.Int64("node_id", id))
	return nil
}

func apply(node domain.Node, in Input) domain.Node {
	node.Name = in.Name
	node.FQDN = in.FQDN
	node.Scheme = in.Scheme
	node.BehindProxy = in.BehindProxy
	node.MaintenanceMode = in.MaintenanceMode
	node.Memory = in.Memory
	node.MemoryOverallocate = in.MemoryOverallocate
	node.Disk = in.Disk
	node.DiskOverallocate = in.DiskOverallocate
	node.UploadSize = in.UploadSize
	node.DaemonListen = in.DaemonListen
	node.DaemonSFTP = in.DaemonSFTP
	node.DaemonBase = in.DaemonBase
	return node
}

// randomString draws n characters from tokenAlphabet without modulo bias
func randomString(n int) (string, error) {
	const limit = 256 - 256%len(tokenAlphabet)
	out := make([]byte, 0, n)
	buf := make([]byte, n)
	for len(out) < n {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to generate token: %w", err)
		}
		for _, b := range buf {
			if int(b) >= limit {
				continue
			}
			out = append(out, tokenAlphabet[int(b)%len(tokenAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out), nil
}
