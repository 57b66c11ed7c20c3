package api

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/jbweber/homelab/paddock/internal/rebuild"
)

// Rebuilder runs a rebuild batch
type Rebuilder interface {
	Run(ctx context.Context, target rebuild.Target, progress func(rebuild.Progress)) (rebuild.Report, error)
}

// Rebuilds groups rebuild handlers for testability
type Rebuilds struct {
	rebuilder Rebuilder
	logger    *zap.Logger
}

func NewRebuilds(rebuilder Rebuilder, logger *zap.Logger) *Rebuilds {
	return &Rebuilds{rebuilder: rebuilder, logger: logger}
}

// RebuildRequest selects the targets; both zero means every server
type RebuildRequest struct {
	ServerID int64 `json:"server_id,omitempty"`
	NodeID   int64 `json:"node_id,omitempty"`
}

type RebuildResult struct {
	ServerID   int64  `json:"server_id"`
	ServerName string `json:"server_name"`
	NodeID     int64  `json:"node_id"`
	NodeName   string `json:"node_name"`
	State      string `json:"state"`
	Error      string `json:"error,omitempty"`
}

type RebuildResponse struct {
	Total     int             `json:"total"`
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Results   []RebuildResult `json:"results"`
}

// RebuildHandler runs the batch to completion. Per-server failures are
// part of a 200 response; only an unresolvable target fails the request.
func (rb *Rebuilds) RebuildHandler(w http.ResponseWriter, r *http.Request) {
	var req RebuildRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, rb.logger, err)
		return
	}

	report, err := rb.rebuilder.Run(r.Context(), rebuild.Target{ServerID: req.ServerID, NodeID: req.NodeID}, nil)
	if err != nil {
		writeError(w, rb.logger, err)
		return
	}

	response := RebuildResponse{
		Total:     len(report.Results),
		Succeeded: report.Succeeded(),
		Failed:    report.Failed(),
		Results:   make([]RebuildResult, len(report.Results)),
	}
	for i, res := range report.Results {
		response.Results[i] = RebuildResult{
			ServerID:   res.Server.ID,
			ServerName: res.Server.Name,
			NodeID:     res.Node.ID,
			NodeName:   res.Node.Name,
			State:      string(res.State),
			Error:      res.Message(),
		}
	}
	writeJSON(w, rb.logger, http.StatusOK, response)
}
