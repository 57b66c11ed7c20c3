package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/jbweber/homelab/paddock/internal/apperr"
	"github.com/jbweber/homelab/paddock/internal/domain"
)

// AllocationsStore defines the allocation operations the handlers need
type AllocationsStore interface {
	FindByID(ctx context.Context, id int64) (domain.Allocation, error)
	FindByNodeID(ctx context.Context, nodeID int64) ([]domain.Allocation, error)
	CreateFromPorts(ctx context.Context, nodeID int64, ip string, alias *string, tokens []string) ([]domain.Allocation, error)
	DeleteByID(ctx context.Context, id int64) error
}

// Allocations groups allocation handlers for testability
type Allocations struct {
	store  AllocationsStore
	logger *zap.Logger
}

func NewAllocations(store AllocationsStore, logger *zap.Logger) *Allocations {
	return &Allocations{store: store, logger: logger}
}

// CreateAllocationsRequest adds ports on one IP. Ports accept single
// values and ranges such as "25565-25570".
type CreateAllocationsRequest struct {
	IP    string   `json:"ip"`
	Alias *string  `json:"alias,omitempty"`
	Ports []string `json:"ports"`
}

type AllocationResponse struct {
	ID       int64   `json:"id"`
	NodeID   int64   `json:"node_id"`
	IP       string  `json:"ip"`
	Port     int     `json:"port"`
	IPAlias  *string `json:"ip_alias,omitempty"`
	ServerID *int64  `json:"server_id,omitempty"`
}

func toAllocationResponses(allocs []domain.Allocation) []AllocationResponse {
	response := make([]AllocationResponse, len(allocs))
	for i, a := range allocs {
		response[i] = AllocationResponse{
			ID:       a.ID,
			NodeID:   a.NodeID,
			IP:       a.IP,
			Port:     a.Port,
			IPAlias:  a.IPAlias,
			ServerID: a.ServerID,
		}
	}
	return response
}

func (a *Allocations) ListAllocationsHandler(w http.ResponseWriter, r *http.Request) {
	nodeID, err := idParam(r, "id")
	if err != nil {
		writeError(w, a.logger, err)
		return
	}

	allocs, err := a.store.FindByNodeID(r.Context(), nodeID)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, a.logger, http.StatusOK, toAllocationResponses(allocs))
}

// CreateAllocationsHandler responds with every allocation on the IP that
// matches the requested ports, including ones that already existed.
func (a *Allocations) CreateAllocationsHandler(w http.ResponseWriter, r *http.Request) {
	nodeID, err := idParam(r, "id")
	if err != nil {
		writeError(w, a.logger, err)
		return
	}

	var req CreateAllocationsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, a.logger, err)
		return
	}

	allocs, err := a.store.CreateFromPorts(r.Context(), nodeID, req.IP, req.Alias, req.Ports)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	writeJSON(w, a.logger, http.StatusCreated, toAllocationResponses(allocs))
}

func (a *Allocations) DeleteAllocationHandler(w http.ResponseWriter, r *http.Request) {
	nodeID, err := idParam(r, "id")
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	allocationID, err := idParam(r, "allocationID")
	if err != nil {
		writeError(w, a.logger, err)
		return
	}

	alloc, err := a.store.FindByID(r.Context(), allocationID)
	if err != nil {
		writeError(w, a.logger, err)
		return
	}
	if alloc.NodeID != nodeID {
		writeError(w, a.logger, apperr.Newf(apperr.KindNotFound, "allocation %d not found on node %d", allocationID, nodeID))
		return
	}

	if err := a.store.DeleteByID(r.Context(), allocationID); err != nil {
		writeError(w, a.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
