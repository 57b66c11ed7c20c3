package api

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/jbweber/homelab/paddock/internal/apperr"
	"github.com/jbweber/homelab/paddock/internal/domain"
	"github.com/jbweber/homelab/paddock/internal/servers"
)

// ServersStore defines the server reads and deletes the handlers need
type ServersStore interface {
	FindByID(ctx context.Context, id int64) (domain.Server, error)
	FindAll(ctx context.Context) ([]domain.Server, error)
	FindByNodeID(ctx context.Context, nodeID int64) ([]domain.Server, error)
	FindVariables(ctx context.Context, serverID int64) ([]domain.ServerVariable, error)
	DeleteByID(ctx context.Context, id int64) error
}

// ServerCreator places new servers
type ServerCreator interface {
	Create(ctx context.Context, req servers.Request) (servers.Result, error)
}

// Servers groups server handlers for testability
type Servers struct {
	store   ServersStore
	creator ServerCreator
	logger  *zap.Logger
}

func NewServers(store ServersStore, creator ServerCreator, logger *zap.Logger) *Servers {
	return &Servers{store: store, creator: creator, logger: logger}
}

type ServerResponse struct {
	ID           int64             `json:"id"`
	UUID         string            `json:"uuid"`
	UUIDShort    string            `json:"uuid_short"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	NodeID       int64             `json:"node_id"`
	OwnerID      int64             `json:"owner_id"`
	EggID        int64             `json:"egg_id"`
	AllocationID int64             `json:"allocation_id"`
	PackUUID     *string           `json:"pack_uuid,omitempty"`
	Memory       int64             `json:"memory"`
	Swap         int64             `json:"swap"`
	Disk         int64             `json:"disk"`
	IO           int64             `json:"io"`
	CPU          int64             `json:"cpu"`
	Threads      string            `json:"threads,omitempty"`
	OOMDisabled  bool              `json:"oom_disabled"`
	Startup      string            `json:"startup"`
	Image        string            `json:"image"`
	SkipScripts  bool              `json:"skip_scripts"`
	Environment  map[string]string `json:"environment,omitempty"`
}

// CreateServerResponse is a new server with the allocations it claimed
type CreateServerResponse struct {
	ServerResponse
	Allocations []AllocationResponse `json:"allocations"`
}

func toServerResponse(s domain.Server) ServerResponse {
	return ServerResponse{
		ID:           s.ID,
		UUID:         s.UUID,
		UUIDShort:    s.UUIDShort,
		Name:         s.Name,
		Description:  s.Description,
		NodeID:       s.NodeID,
		OwnerID:      s.OwnerID,
		EggID:        s.EggID,
		AllocationID: s.AllocationID,
		PackUUID:     s.PackUUID,
		Memory:       s.Memory,
		Swap:         s.Swap,
		Disk:         s.Disk,
		IO:           s.IO,
		CPU:          s.CPU,
		Threads:      s.Threads,
		OOMDisabled:  s.OOMDisabled,
		Startup:      s.Startup,
		Image:        s.Image,
		SkipScripts:  s.SkipScripts,
	}
}

// ListServersHandler lists every server, or only a node's with ?node_id=
func (s *Servers) ListServersHandler(w http.ResponseWriter, r *http.Request) {
	var (
		list []domain.Server
		err  error
	)
	if raw := r.URL.Query().Get("node_id"); raw != "" {
		nodeID, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil || nodeID <= 0 {
			writeError(w, s.logger, apperr.Newf(apperr.KindValidation, "invalid node_id %q", raw))
			return
		}
		list, err = s.store.FindByNodeID(r.Context(), nodeID)
	} else {
		list, err = s.store.FindAll(r.Context())
	}
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	response := make([]ServerResponse, len(list))
	for i, server := range list {
		response[i] = toServerResponse(server)
	}
	writeJSON(w, s.logger, http.StatusOK, response)
}

func (s *Servers) CreateServerHandler(w http.ResponseWriter, r *http.Request) {
	var req servers.Request
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	result, err := s.creator.Create(r.Context(), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	response := CreateServerResponse{
		ServerResponse: toServerResponse(result.Server),
		Allocations:    toAllocationResponses(result.Allocations),
	}
	response.Environment = result.Environment
	writeJSON(w, s.logger, http.StatusCreated, response)
}

func (s *Servers) GetServerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	server, err := s.store.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	vars, err := s.store.FindVariables(r.Context(), id)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	response := toServerResponse(server)
	if len(vars) > 0 {
		response.Environment = make(map[string]string, len(vars))
		for _, v := range vars {
			response.Environment[v.EnvVariable] = v.Value
		}
	}
	writeJSON(w, s.logger, http.StatusOK, response)
}

// DeleteServerHandler removes the panel record and frees its allocations.
// The daemon is not contacted.
func (s *Servers) DeleteServerHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, s.logger, err)
		return
	}

	if err := s.store.DeleteByID(r.Context(), id); err != nil {
		writeError(w, s.logger, err)
		return
	}
	s.logger.Info("Server deleted", zap.Int64("server_id", id))
	w.WriteHeader(http.StatusNoContent)
}
