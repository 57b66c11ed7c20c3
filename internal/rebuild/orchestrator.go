// Package rebuild pushes the current build of many servers to their daemons.
//
// Targets are independent: one unreachable node fails only its own servers
// and the batch always runs to the end. Re-running a batch is safe since a
// rebuild declares the desired build rather than a change to it.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jbweber/homelab/paddock/internal/apperr"
	"github.com/jbweber/homelab/paddock/internal/daemon"
	"github.com/jbweber/homelab/paddock/internal/domain"
	"github.com/jbweber/homelab/paddock/internal/repository"
	"github.com/jbweber/homelab/paddock/internal/servers"
)

// DefaultConcurrency is the number of targets rebuilt at once
const DefaultConcurrency = 4

// Updater pushes a build to a server's daemon
type Updater interface {
	UpdateServerBuild(ctx context.Context, node domain.Node, serverUUID string, payload daemon.BuildPayload) error
}

// Target selects servers: a single server when ServerID is set, else every
// server on NodeID when set, else every server.
type Target struct {
	ServerID int64
	NodeID   int64
}

// State is the lifecycle of one target
type State string

const (
	StatePending    State = "pending"
	StateInProgress State = "in_progress"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Result is the outcome of one target
type Result struct {
	Server domain.Server
	Node   domain.Node
	State  State
	Err    error
}

// Message describes a failed result with enough context to find the server
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return fmt.Sprintf("failed to rebuild server %q (id %d) on node %q (id %d): %s",
		r.Server.Name, r.Server.ID, r.Node.Name, r.Node.ID, apperr.UserMessage(r.Err))
}

// Progress is reported once per finished target
type Progress struct {
	Done   int
	Total  int
	Result Result
}

// Report holds every result in target order
type Report struct {
	Results []Result
}

// Succeeded counts targets rebuilt
func (r Report) Succeeded() int {
	return r.count(StateSucceeded)
}

// Failed counts targets that could not be rebuilt
func (r Report) Failed() int {
	return r.count(StateFailed)
}

func (r Report) count(state State) int {
	n := 0
	for _, res := range r.Results {
		if res.State == state {
			n++
		}
	}
	return n
}

// Options configures an Orchestrator
type Options struct {
	Repos       repository.Repositories
	Daemon      Updater
	Concurrency int
	Logger      *zap.Logger
}

// Orchestrator runs rebuild batches
type Orchestrator struct {
	repos       repository.Repositories
	daemon      Updater
	concurrency int
	logger      *zap.Logger
}

// New creates a rebuild orchestrator
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		repos:       opts.Repos,
		daemon:      opts.Daemon,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
	}
	if o.concurrency <= 0 {
		o.concurrency = DefaultConcurrency
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// Resolve lists the servers a target selects
func (o *Orchestrator) Resolve(ctx context.Context, target Target) ([]domain.Server, error) {
	switch {
	case target.ServerID != 0:
		server, err := o.repos.Servers.FindByID(ctx, target.ServerID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.Newf(apperr.KindNotFound, "server %d not found", target.ServerID)
		}
		if err != nil {
			return nil, err
		}
		return []domain.Server{server}, nil
	case target.NodeID != 0:
		exists, err := o.repos.Nodes.ExistsByID(ctx, target.NodeID)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, apperr.Newf(apperr.KindNotFound, "node %d not found", target.NodeID)
		}
		return o.repos.Servers.FindByNodeID(ctx, target.NodeID)
	default:
		return o.repos.Servers.FindAll(ctx)
	}
}

// Run rebuilds every server the target selects. Target failures are
// recorded in the report; the returned error is only set when the target
// set itself could not be resolved. progress may be nil and is never
// called concurrently.
func (o *Orchestrator) Run(ctx context.Context, target Target, progress func(Progress)) (Report, error) {
	targets, err := o.Resolve(ctx, target)
	if err != nil {
		return Report{}, err
	}

	nodes, err := o.nodesByID(ctx)
	if err != nil {
		return Report{}, err
	}
	eggs, err := o.eggsByID(ctx)
	if err != nil {
		return Report{}, err
	}

	results := make([]Result, len(targets))
	for i, server := range targets {
		results[i] = Result{Server: server, Node: nodes[server.NodeID], State: StatePending}
	}

	o.logger.Info("Starting rebuild",
		zap.Int("targets", len(targets)),
		zap.Int("concurrency", o.concurrency))

	var (
		mu   sync.Mutex
		done int
	)

	var group errgroup.Group
	group.SetLimit(o.concurrency)

	for i := range targets {
		group.Go(func() error {
			mu.Lock()
			results[i].State = StateInProgress
			mu.Unlock()

			err := o.rebuild(ctx, results[i].Server, results[i].Node, eggs)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				results[i].State = StateFailed
				results[i].Err = err
				o.logger.Warn("Rebuild failed",
					zap.Int64("server_id", results[i].Server.ID),
					zap.String("server", results[i].Server.Name),
					zap.Int64("node_id", results[i].Node.ID),
					zap.Error(err))
			} else {
				results[i].State = StateSucceeded
			}
			done++
			if progress != nil {
				progress(Progress{Done: done, Total: len(targets), Result: results[i]})
			}
			return nil
		})
	}
	_ = group.Wait() // workers record failures instead of returning them

	report := Report{Results: results}
	o.logger.Info("Rebuild finished",
		zap.Int("succeeded", report.Succeeded()),
		zap.Int("failed", report.Failed()))
	return report, nil
}

func (o *Orchestrator) rebuild(ctx context.Context, server domain.Server, node domain.Node, eggs map[int64]domain.Egg) error {
	if node.ID == 0 {
		return apperr.Newf(apperr.KindNotFound, "node %d not found", server.NodeID)
	}
	egg, ok := eggs[server.EggID]
	if !ok {
		return apperr.Newf(apperr.KindNotFound, "egg %d not found", server.EggID)
	}

	primary, err := o.repos.Allocations.FindByID(ctx, server.AllocationID)
	if err != nil {
		return fmt.Errorf("failed to load primary allocation: %w", err)
	}
	eggVars, err := o.repos.Eggs.FindVariables(ctx, egg.ID)
	if err != nil {
		return err
	}
	serverVars, err := o.repos.Servers.FindVariables(ctx, server.ID)
	if err != nil {
		return err
	}

	env := servers.Environment(server, primary, eggVars, serverVars)
	return o.daemon.UpdateServerBuild(ctx, node, server.UUID, servers.RebuildPayload(server, egg, env))
}

func (o *Orchestrator) nodesByID(ctx context.Context) (map[int64]domain.Node, error) {
	nodes, err := o.repos.Nodes.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	return byID, nil
}

func (o *Orchestrator) eggsByID(ctx context.Context) (map[int64]domain.Egg, error) {
	eggs, err := o.repos.Eggs.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[int64]domain.Egg, len(eggs))
	for _, e := range eggs {
		byID[e.ID] = e
	}
	return byID, nil
}
