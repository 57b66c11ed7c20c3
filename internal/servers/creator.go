// Package servers places new game servers on nodes.
package servers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/jbweber/homelab/paddock/internal/apperr"
	"github.com/jbweber/homelab/paddock/internal/capacity"
	"github.com/jbweber/homelab/paddock/internal/daemon"
	"github.com/jbweber/homelab/paddock/internal/domain"
	"github.com/jbweber/homelab/paddock/internal/repository"
	"github.com/jbweber/homelab/paddock/internal/validate"
)

// Provisioner asks a node's daemon to install a server
type Provisioner interface {
	CreateServer(ctx context.Context, node domain.Node, payload daemon.CreatePayload) error
}

// WarningSink receives provisioning failures. The server record is kept;
// the failure only needs surfacing.
type WarningSink func(server domain.Server, err error)

// Request is a fully structured server creation request
type Request struct {
	Name                  string            `json:"name" validate:"required,max=191"`
	Description           string            `json:"description"`
	NodeID                int64             `json:"node_id" validate:"required,gt=0"`
	EggID                 int64             `json:"egg_id" validate:"required,gt=0"`
	OwnerID               int64             `json:"owner_id" validate:"required,gt=0"`
	AllocationID          int64             `json:"allocation_id" validate:"required,gt=0"`
	AdditionalAllocations []int64           `json:"additional_allocations" validate:"dive,gt=0"`
	PackUUID              *string           `json:"pack_uuid" validate:"omitempty,uuid"`
	Memory                int64             `json:"memory" validate:"gte=0"`
	Swap                  int64             `json:"swap" validate:"gte=-1"`
	Disk                  int64             `json:"disk" validate:"gte=0"`
	CPU                   int64             `json:"cpu" validate:"gte=0"`
	IO                    int64             `json:"io" validate:"gte=10,lte=1000"`
	Threads               string            `json:"threads" validate:"omitempty,threads"`
	OOMDisabled           bool              `json:"oom_disabled"`
	Environment           map[string]string `json:"environment"`
	Startup               string            `json:"startup"`
	Image                 string            `json:"image"`
	SkipScripts           bool              `json:"skip_scripts"`
	StartOnCompletion     bool              `json:"start_on_completion"`
}

// allocationIDs returns the primary followed by the additional allocations
func (r Request) allocationIDs() []int64 {
	return append([]int64{r.AllocationID}, r.AdditionalAllocations...)
}

// Result is a created server with what was claimed for it
type Result struct {
	Server      domain.Server       `json:"server"`
	Allocations []domain.Allocation `json:"allocations"`
	Environment map[string]string   `json:"environment"`
}

// Options configures a Creator
type Options struct {
	DB       *sql.DB
	Repos    repository.Repositories
	Daemon   Provisioner
	Logger   *zap.Logger
	Warnings WarningSink
}

// Creator runs server creation: validation, capacity, reservation,
// persistence, then optional provisioning on the daemon.
type Creator struct {
	db       *sql.DB
	repos    repository.Repositories
	daemon   Provisioner
	logger   *zap.Logger
	warnings WarningSink
	inflight sync.WaitGroup
}

// NewCreator creates a server creator
func NewCreator(opts Options) *Creator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Creator{
		db:       opts.DB,
		repos:    opts.Repos,
		daemon:   opts.Daemon,
		logger:   logger,
		warnings: opts.Warnings,
	}
}

// Create places a server. Each step short-circuits the rest on failure.
// Provisioning, when requested, runs after Create returns.
func (c *Creator) Create(ctx context.Context, req Request) (Result, error) {
	if err := validateRequest(req); err != nil {
		return Result{}, err
	}

	node, err := c.repos.Nodes.FindByID(ctx, req.NodeID)
	if errors.Is(err, repository.ErrNotFound) {
		return Result{}, apperr.Newf(apperr.KindNotFound, "node %d not found", req.NodeID)
	}
	if err != nil {
		return Result{}, err
	}
	if node.MaintenanceMode {
		return Result{}, apperr.Validation(
			fmt.Sprintf("node %s is in maintenance mode", node.Name),
			"choose another node or take this one out of maintenance")
	}

	egg, err := c.repos.Eggs.FindByID(ctx, req.EggID)
	if errors.Is(err, repository.ErrNotFound) {
		return Result{}, apperr.Newf(apperr.KindNotFound, "egg %d not found", req.EggID)
	}
	if err != nil {
		return Result{}, err
	}

	if err := checkCapacity(ctx, c.repos.Servers, node, req); err != nil {
		return Result{}, err
	}

	ids := req.allocationIDs()
	allocations, err := c.repos.Allocations.ReserveExisting(ctx, node.ID, ids)
	if err != nil {
		return Result{}, err
	}

	eggVars, err := c.repos.Eggs.FindVariables(ctx, egg.ID)
	if err != nil {
		return Result{}, err
	}
	values := variableValues(eggVars, req.Environment)

	server := domain.Server{
		Name:         req.Name,
		Description:  req.Description,
		NodeID:       node.ID,
		OwnerID:      req.OwnerID,
		EggID:        egg.ID,
		AllocationID: req.AllocationID,
		PackUUID:     req.PackUUID,
		Memory:       req.Memory,
		Swap:         req.Swap,
		Disk:         req.Disk,
		IO:           req.IO,
		CPU:          req.CPU,
		Threads:      req.Threads,
		OOMDisabled:  req.OOMDisabled,
		Startup:      firstNonEmpty(req.Startup, egg.Startup),
		Image:        firstNonEmpty(req.Image, egg.DockerImage),
		SkipScripts:  req.SkipScripts,
	}

	err = repository.InTx(ctx, c.db, func(tx *sql.Tx) error {
		allocs := c.repos.Allocations.WithTx(tx)
		servers := c.repos.Servers.WithTx(tx)

		// Usage is read again under the write lock so concurrent creations
		// on the same node cannot both fit.
		if err := checkCapacity(ctx, servers, node, req); err != nil {
			return err
		}
		if err := allocs.EnsureFree(ctx, node.ID, ids); err != nil {
			return err
		}
		saved, err := servers.Save(ctx, server)
		if err != nil {
			return err
		}
		if err := allocs.Claim(ctx, saved.ID, node.ID, ids); err != nil {
			return err
		}
		if err := servers.SaveVariables(ctx, saved.ID, values); err != nil {
			return err
		}
		server = saved
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	for i := range allocations {
		allocations[i].ServerID = &server.ID
	}

	serverVars := make([]domain.ServerVariable, 0, len(values))
	for name, value := range values {
		serverVars = append(serverVars, domain.ServerVariable{ServerID: server.ID, EnvVariable: name, Value: value})
	}
	env := Environment(server, allocations[0], eggVars, serverVars)

	c.logger.Info("Server created",
		zap.Int64("server_id", server.ID),
		zap.String("uuid", server.UUID),
		zap.Int64("node_id", node.ID),
		zap.Int("allocations", len(allocations)))

	if req.StartOnCompletion {
		c.provision(ctx, node, server, CreatePayload(server, egg, allocations, env))
	}

	return Result{Server: server, Allocations: allocations, Environment: env}, nil
}

// Wait blocks until every provisioning call started by Create has finished
func (c *Creator) Wait() {
	c.inflight.Wait()
}

func (c *Creator) provision(ctx context.Context, node domain.Node, server domain.Server, payload daemon.CreatePayload) {
	if c.daemon == nil {
		return
	}

	// Provisioning outlives the caller's request
	ctx = context.WithoutCancel(ctx)

	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()

		if err := c.daemon.CreateServer(ctx, node, payload); err != nil {
			c.logger.Warn("Failed to provision server on daemon",
				zap.Int64("server_id", server.ID),
				zap.String("uuid", server.UUID),
				zap.String("node", node.Name),
				zap.Error(err))
			if c.warnings != nil {
				c.warnings(server, err)
			}
			return
		}
		c.logger.Info("Server provisioning dispatched",
			zap.Int64("server_id", server.ID),
			zap.String("node", node.Name))
	}()
}

func checkCapacity(ctx context.Context, servers repository.ServerRepository, node domain.Node, req Request) error {
	usage, err := servers.UsageByNodeID(ctx, node.ID)
	if err != nil {
		return err
	}
	if !capacity.IsViable(node, usage, req.Memory, req.Disk) {
		return apperr.Newf(apperr.KindInsufficientCapacity,
			"node %s cannot fit %d MB memory and %d MB disk", node.Name, req.Memory, req.Disk)
	}
	return nil
}

func validateRequest(req Request) error {
	if err := validate.Struct(req); err != nil {
		return err
	}

	seen := map[int64]struct{}{req.AllocationID: {}}
	for _, id := range req.AdditionalAllocations {
		if _, ok := seen[id]; ok {
			return apperr.Validation(
				fmt.Sprintf("allocation %d is requested more than once", id),
				"additional allocations must be distinct from each other and from the primary allocation")
		}
		seen[id] = struct{}{}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
