package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/jbweber/homelab/paddock/internal/domain"
	"github.com/jbweber/homelab/paddock/internal/validate"
)

// MountsStore defines the mount operations the handlers need
type MountsStore interface {
	Save(ctx context.Context, mount domain.Mount) (domain.Mount, error)
	FindAll(ctx context.Context) ([]domain.Mount, error)
	DeleteByID(ctx context.Context, id int64) error
	Attach(ctx context.Context, mountID, nodeID int64) error
	Detach(ctx context.Context, mountID, nodeID int64) error
}

// Mounts groups mount handlers for testability
type Mounts struct {
	store  MountsStore
	logger *zap.Logger
}

func NewMounts(store MountsStore, logger *zap.Logger) *Mounts {
	return &Mounts{store: store, logger: logger}
}

type CreateMountRequest struct {
	Name     string `json:"name" validate:"required,max=64"`
	Source   string `json:"source" validate:"required,startswith=/"`
	Target   string `json:"target" validate:"required,startswith=/"`
	ReadOnly bool   `json:"read_only"`
}

type MountResponse struct {
	ID       int64  `json:"id"`
	UUID     string `json:"uuid"`
	Name     string `json:"name"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	ReadOnly bool   `json:"read_only"`
}

func toMountResponse(m domain.Mount) MountResponse {
	return MountResponse{
		ID:       m.ID,
		UUID:     m.UUID,
		Name:     m.Name,
		Source:   m.Source,
		Target:   m.Target,
		ReadOnly: m.ReadOnly,
	}
}

func (m *Mounts) ListMountsHandler(w http.ResponseWriter, r *http.Request) {
	mounts, err := m.store.FindAll(r.Context())
	if err != nil {
		writeError(w, m.logger, err)
		return
	}

	response := make([]MountResponse, len(mounts))
	for i, mount := range mounts {
		response[i] = toMountResponse(mount)
	}
	writeJSON(w, m.logger, http.StatusOK, response)
}

func (m *Mounts) CreateMountHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateMountRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, m.logger, err)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, m.logger, err)
		return
	}

	mount, err := m.store.Save(r.Context(), domain.Mount{
		Name:     req.Name,
		Source:   req.Source,
		Target:   req.Target,
		ReadOnly: req.ReadOnly,
	})
	if err != nil {
		writeError(w, m.logger, err)
		return
	}
	writeJSON(w, m.logger, http.StatusCreated, toMountResponse(mount))
}

func (m *Mounts) DeleteMountHandler(w http.ResponseWriter, r *http.Request) {
	id, err := idParam(r, "id")
	if err != nil {
		writeError(w, m.logger, err)
		return
	}

	if err := m.store.DeleteByID(r.Context(), id); err != nil {
		writeError(w, m.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AttachMountHandler allows the mount on a node; attaching twice is a no-op
func (m *Mounts) AttachMountHandler(w http.ResponseWriter, r *http.Request) {
	m.link(w, r, m.store.Attach)
}

func (m *Mounts) DetachMountHandler(w http.ResponseWriter, r *http.Request) {
	m.link(w, r, m.store.Detach)
}

func (m *Mounts) link(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, mountID, nodeID int64) error) {
	mountID, err := idParam(r, "id")
	if err != nil {
		writeError(w, m.logger, err)
		return
	}
	nodeID, err := idParam(r, "nodeID")
	if err != nil {
		writeError(w, m.logger, err)
		return
	}

	if err := fn(r.Context(), mountID, nodeID); err != nil {
		writeError(w, m.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
