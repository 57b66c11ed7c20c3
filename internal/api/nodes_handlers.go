package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jbweber/homelab/paddock/internal/apperr"
	"github.com/jbweber/homelab/paddock/internal/daemon"
	"github.com/jbweber/homelab/paddock/internal/domain"
	"github.com/jbweber/homelab/paddock/internal/nodes"
)

// NodesStore defines the node operations the handlers need
type NodesStore interface {
	Create(ctx context.Context, in nodes.Input) (domain.Node, error)
	Update(ctx context.Context, id int64, in nodes.Input) (domain.Node, error)
	RotateToken(ctx context.Context, id int64) (domain.Node, error)
	Get(ctx context.Context, id int64) (domain.Node, error)
	List(ctx context.Context) ([]domain.Node, error)
	Delete(ctx context.Context, id int64) error
	Configuration(ctx context.Context, id int64) (nodes.Configuration, error)
}

// NodeDaemon defines the daemon queries exposed per node
type NodeDaemon interface {
	SystemInformation(ctx context.Context, node domain.Node, connectTimeout time.Duration) (daemon.SystemInfo, error)
	ServerStatuses(ctx context.Context, node domain.Node) map[string]string
	NodeIPAddresses(ctx context.Context, node domain.Node) []string
}

// Nodes groups node handlers for testability
type Nodes struct {
	store  NodesStore
	daemon NodeDaemon
	logger *zap.Logger
}

func NewNodes(store NodesStore, d NodeDaemon, logger *zap.Logger) *Nodes {
	return &Nodes{store: store, daemon: d, logger: logger}
}

// NodeResponse is a node without its daemon secret
type NodeResponse struct {
	ID                 int64  `json:"id"`
	UUID               string `json:"uuid"`
	Name               string `json:"name"`
	FQDN               string `json:"fqdn"`
	Scheme             string `json:"scheme"`
	BehindProxy        bool   `json:"behind_proxy"`
	MaintenanceMode    bool   `json:"maintenance_mode"`
	Memory             int64  `json:"memory"`
	MemoryOverallocate int64  `json:"memory_overallocate"`
	Disk               int64  `json:"disk"`
	DiskOverallocate   int64  `json:"disk_overallocate"`
	UploadSize         int64  `json:"upload_size"`
	DaemonListen       int    `json:"daemon_listen"`
	DaemonSFTP         int    `json:"daemon_sftp"`
	DaemonBase         string `json:"daemon_base"`
	DaemonTokenID      string `json:"daemon_token_id"`
}

func toNodeResponse(n domain.Node) NodeResponse {
	return NodeResponse{
		ID:                 n.ID,
		UUID:               n.UUID,
		Name:               n.Name,
		FQDN:               n.FQDN,
		Scheme:             n.Scheme,
		BehindProxy:        n.BehindProxy,
		MaintenanceMode:    n.MaintenanceMode,
		Memory:             n.Memory,
		MemoryOverallocate: n.MemoryOverallocate,
		Disk:               n.Disk,
		DiskOverallocate:   n.DiskOverallocate,
		UploadSize:         n.UploadSize,
		DaemonListen:       n.DaemonListen,
		DaemonSFTP:         n.DaemonSFTP,
		DaemonBase:         n.DaemonBase,
		DaemonTokenID:      n.DaemonTokenID,
	}
}

func (n *Nodes) ListNodesHandler(w http.ResponseWriter, r *http.Request) {
	list, err := n.store.List(r.Context())
	if err != nil {
		writeError(w, n.logger, err)
		return
	}

	response := make([]NodeResponse, len(list))
	for i, node := range list {
		response[i] = toNodeResponse(node)
	}
	writeJSON(w, n.logger, http.StatusOK, response)
}

func (n *Nodes) CreateNodeHandler(w http.ResponseWriter, r *http.Request) {
	var in nodes.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, n.logger, err)
		return
	}

	node, err := n.store.Create(r.Context(), in)
	if err != nil {
		writeError(w, n.logger, err)
		return
	}
	writeJSON(w, n.logger, http.StatusCreated, toNodeResponse(node))
}

func (n *Nodes) GetNodeHandler(w http.ResponseWriter, r *http.Request) {
	node, ok := n.loadNode(w, r)
	if !ok {
		return
	}
	writeJSON(w, n.logger, http.StatusOK, toNodeResponse(node))
}

func (n *Nodes) UpdateNodeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, n.logger, err)
		return
	}

	var in nodes.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, n.logger, err)
		return
	}

	node, err := n.store.Update(r.Context(), id, in)
	if err != nil {
		writeError(w, n.logger, err)
		return
	}
	writeJSON(w, n.logger, http.StatusOK, toNodeResponse(node))
}

func (n *Nodes) DeleteNodeHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, n.logger, err)
		return
	}

	if err := n.store.Delete(r.Context(), id); err != nil {
		writeError(w, n.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *Nodes) RotateTokenHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, n.logger, err)
		return
	}

	node, err := n.store.RotateToken(r.Context(), id)
	if err != nil {
		writeError(w, n.logger, err)
		return
	}
	writeJSON(w, n.logger, http.StatusOK, toNodeResponse(node))
}

// ConfigurationHandler serves the daemon configuration document. The
// format query parameter selects yaml (default) or json.
func (n *Nodes) ConfigurationHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, n.logger, err)
		return
	}

	cfg, err := n.store.Configuration(r.Context(), id)
	if err != nil {
		writeError(w, n.logger, err)
		return
	}

	format := r.URL.Query().Get("format")
	body, err := cfg.Render(format)
	if err != nil {
		writeError(w, n.logger, err)
		return
	}

	contentType := "application/yaml"
	if strings.EqualFold(format, "json") {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		n.logger.Warn("Failed to write configuration", zap.Error(err))
	}
}

// SystemInformationHandler relays the daemon's self description. An
// optional timeout query parameter overrides the connect timeout.
func (n *Nodes) SystemInformationHandler(w http.ResponseWriter, r *http.Request) {
	node, ok := n.loadNode(w, r)
	if !ok {
		return
	}

	var timeout time.Duration
	if raw := r.URL.Query().Get("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			writeError(w, n.logger, apperr.Validation("invalid timeout", "use a positive duration such as 2s"))
			return
		}
		timeout = parsed
	}

	info, err := n.daemon.SystemInformation(r.Context(), node, timeout)
	if err != nil {
		writeError(w, n.logger, err)
		return
	}
	writeJSON(w, n.logger, http.StatusOK, info)
}

func (n *Nodes) IPAddressesHandler(w http.ResponseWriter, r *http.Request) {
	node, ok := n.loadNode(w, r)
	if !ok {
		return
	}
	writeJSON(w, n.logger, http.StatusOK, n.daemon.NodeIPAddresses(r.Context(), node))
}

func (n *Nodes) ServerStatusesHandler(w http.ResponseWriter, r *http.Request) {
	node, ok := n.loadNode(w, r)
	if !ok {
		return
	}
	writeJSON(w, n.logger, http.StatusOK, n.daemon.ServerStatuses(r.Context(), node))
}

// loadNode resolves the {id} parameter, writing the error response itself
func (n *Nodes) loadNode(w http.ResponseWriter, r *http.Request) (domain.Node, bool) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, n.logger, err)
		return domain.Node{}, false
	}

	node, err := n.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, n.logger, err)
		return domain.Node{}, false
	}
	return node, true
}
