package services

import (
	"github.com/fyrsmithlabs/orchd/internal/agent"
	"github.com/fyrsmithlabs/orchd/internal/decomposer"
	"github.com/fyrsmithlabs/orchd/internal/deliverable"
	"github.com/fyrsmithlabs/orchd/internal/events"
	"github.com/fyrsmithlabs/orchd/internal/executor"
	"github.com/fyrsmithlabs/orchd/internal/goal"
	"github.com/fyrsmithlabs/orchd/internal/healer"
	"github.com/fyrsmithlabs/orchd/internal/matcher"
	"github.com/fyrsmithlabs/orchd/internal/memory"
	"github.com/fyrsmithlabs/orchd/internal/scheduler"
	"github.com/fyrsmithlabs/orchd/internal/vectorstore"
)

// Registry provides access to all orchd services.
// Use accessor methods to retrieve individual services.
type Registry interface {
	Goals() goal.Store
	Deliverables() deliverable.Store
	Directory() agent.Directory
	Scheduler() *scheduler.Scheduler
	Executor() *executor.Executor
	Matcher() *matcher.Matcher
	Decomposer() *decomposer.Decomposer
	Healer() *healer.Monitor
	Memory() *memory.Service
	VectorStore() vectorstore.Store
	Bus() events.Bus
}

// Options configures the registry with service instances.
type Options struct {
	Goals        goal.Store
	Deliverables deliverable.Store
	Directory    agent.Directory
	Scheduler    *scheduler.Scheduler
	Executor     *executor.Executor
	Matcher      *matcher.Matcher
	Decomposer   *decomposer.Decomposer
	Healer       *healer.Monitor
	Memory       *memory.Service
	VectorStore  vectorstore.Store
	Bus          events.Bus
}

// registry is the concrete implementation of Registry.
type registry struct {
	goals        goal.Store
	deliverables deliverable.Store
	directory    agent.Directory
	scheduler    *scheduler.Scheduler
	executor     *executor.Executor
	matcher      *matcher.Matcher
	decomposer   *decomposer.Decomposer
	healer       *healer.Monitor
	memory       *memory.Service
	vectorStore  vectorstore.Store
	bus          events.Bus
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		goals:        opts.Goals,
		deliverables: opts.Deliverables,
		directory:    opts.Directory,
		scheduler:    opts.Scheduler,
		executor:     opts.Executor,
		matcher:      opts.Matcher,
		decomposer:   opts.Decomposer,
		healer:       opts.Healer,
		memory:       opts.Memory,
		vectorStore:  opts.VectorStore,
		bus:          opts.Bus,
	}
}

func (r *registry) Goals() goal.Store                  { return r.goals }
func (r *registry) Deliverables() deliverable.Store    { return r.deliverables }
func (r *registry) Directory() agent.Directory         { return r.directory }
func (r *registry) Scheduler() *scheduler.Scheduler    { return r.scheduler }
func (r *registry) Executor() *executor.Executor       { return r.executor }
func (r *registry) Matcher() *matcher.Matcher          { return r.matcher }
func (r *registry) Decomposer() *decomposer.Decomposer { return r.decomposer }
func (r *registry) Healer() *healer.Monitor            { return r.healer }
func (r *registry) Memory() *memory.Service            { return r.memory }
func (r *registry) VectorStore() vectorstore.Store     { return r.vectorStore }
func (r *registry) Bus() events.Bus                    { return r.bus }
