// Package runtime plays scenario graphs.
//
// A Player walks a graph.Graph: it activates start nodes, waits for each
// active node to complete, then activates the successors whose join policy
// is satisfied. All player state is owned by a Loop; node completions that
// happen on other goroutines are posted back to it.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/scenarioflow/core"
	"github.com/petal-labs/scenarioflow/graph"
	"github.com/petal-labs/scenarioflow/variables"
)

// Node is a flow node with behavior. Graph nodes that do not implement it
// are treated as pass-through: they complete as soon as they activate.
type Node interface {
	graph.FlowNode

	// Activate starts the node. It runs on the player's loop.
	Activate(ec *ExecutionContext)

	// Deactivate finishes the node. It runs on the player's loop and may be
	// called while Wait is still blocked.
	Deactivate(ec *ExecutionContext)

	// Wait blocks until the node completes or ctx is done. It runs on its
	// own goroutine.
	Wait(ctx context.Context) error

	// AllowNext reports whether completion should progress to successors.
	AllowNext() bool
}

// Kinded is implemented by nodes that report a kind for events and logs.
type Kinded interface {
	Kind() string
}

// NodeKind returns the kind of n, or "node" if it does not report one.
func NodeKind(n graph.FlowNode) string {
	if k, ok := n.(Kinded); ok {
		return k.Kind()
	}
	return "node"
}

// PlayerConfig configures a root player. Sub-players inherit the config of
// their parent.
type PlayerConfig struct {
	// Handler receives every event the player emits.
	Handler EventHandler

	// EmitterDecorator wraps the player's emitter, e.g. to add trace IDs.
	EmitterDecorator EventEmitterDecorator
}

type waiter struct {
	id     uint64
	cancel context.CancelFunc
}

// Player is the scenario state machine. Methods other than ID, Done and
// Loop must be called on the player's loop.
type Player struct {
	id       string
	loop     *Loop
	services Services
	logger   *slog.Logger
	emitter  EventEmitter

	parent *Player
	subs   []*Player

	ec     *ExecutionContext
	graph  *graph.Graph
	scope  *variables.Scope
	launch *core.LaunchParameters

	playing   bool
	runID     string
	startedAt time.Time
	seq       seqGen

	active        nodeSet
	completed     nodeSet
	activeStarted nodeSet
	endNodes      nodeSet
	processed     int

	orFired     map[graph.FlowNode]bool
	waits       map[graph.FlowNode]waiter
	activatedAt map[graph.FlowNode]time.Time
	waitSeq     uint64

	mu   sync.Mutex
	done chan struct{}
}

// NewPlayer returns a root player driven by loop.
func NewPlayer(loop *Loop, services Services, cfg PlayerConfig) *Player {
	if services.Logger == nil {
		services.Logger = slog.Default()
	}
	p := newPlayer(loop, services)
	p.ec = CreateRoot(services)
	p.launch = core.DefaultLaunchParameters()

	base := func(e Event) {
		if services.Bus != nil {
			services.Bus.Publish(e)
		}
		if cfg.Handler != nil {
			cfg.Handler(e)
		}
	}
	p.emitter = base
	if cfg.EmitterDecorator != nil {
		p.emitter = cfg.EmitterDecorator(base)
	}
	return p
}

func newPlayer(loop *Loop, services Services) *Player {
	done := make(chan struct{})
	close(done)
	return &Player{
		id:            uuid.NewString(),
		loop:          loop,
		services:      services,
		logger:        services.Logger,
		active:        make(nodeSet),
		completed:     make(nodeSet),
		activeStarted: make(nodeSet),
		endNodes:      make(nodeSet),
		orFired:       make(map[graph.FlowNode]bool),
		waits:         make(map[graph.FlowNode]waiter),
		activatedAt:   make(map[graph.FlowNode]time.Time),
		done:          done,
	}
}

// ID identifies the player for its whole lifetime.
func (p *Player) ID() string { return p.id }

// Loop returns the loop driving the player.
func (p *Player) Loop() *Loop { return p.loop }

// Done returns a channel closed when the current run stops. It is already
// closed when the player is idle.
func (p *Player) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

func (p *Player) Parent() *Player                          { return p.parent }
func (p *Player) ExecutionContext() *ExecutionContext      { return p.ec }
func (p *Player) Graph() *graph.Graph                      { return p.graph }
func (p *Player) Scope() *variables.Scope                  { return p.scope }
func (p *Player) LaunchParameters() *core.LaunchParameters { return p.launch }
func (p *Player) RunID() string                            { return p.runID }
func (p *Player) IsInitialized() bool                      { return p.graph != nil }
func (p *Player) IsPlaying() bool                          { return p.playing }
func (p *Player) ProcessedNodes() int                      { return p.processed }
func (p *Player) SubPlayers() []*Player                    { return slices.Clone(p.subs) }
func (p *Player) ActiveNodes() []graph.FlowNode            { return p.active.sorted() }
func (p *Player) CompletedNodes() []graph.FlowNode         { return p.completed.sorted() }
func (p *Player) ActiveStartedNodes() []graph.FlowNode     { return p.activeStarted.sorted() }
func (p *Player) EndNodesToComplete() []graph.FlowNode     { return p.endNodes.sorted() }

// IsActive reports whether node is in the active set.
func (p *Player) IsActive(node graph.FlowNode) bool { return p.active.has(node) }

// IsCompleted reports whether node is in the completed set.
func (p *Player) IsCompleted(node graph.FlowNode) bool { return p.completed.has(node) }

// CreateSubExecutionContext binds the player to a graph and scope and
// derives its execution context. It only takes effect once per run, which
// lets callers prepare the context (for example mix variables) before Play.
func (p *Player) CreateSubExecutionContext(g *graph.Graph, scope *variables.Scope) {
	if p.IsInitialized() {
		return
	}
	if scope == nil {
		scope = variables.NewScope()
	}
	p.graph = g
	p.scope = scope

	parent := p.ec
	if p.parent != nil {
		parent = p.parent.ec
	}
	if parent == nil {
		parent = CreateRoot(p.services)
	}
	p.ec = parent.CreateSubcontextHost(p)
}

func (p *Player) clearSubExecutionContext() {
	if !p.IsInitialized() {
		return
	}
	p.graph = nil
	p.scope = nil
	if p.parent != nil {
		p.ec = nil
		return
	}
	p.ec = p.ec.ClearToRoot()
}

// ForcePlay stops any current run and plays g.
func (p *Player) ForcePlay(g *graph.Graph, scope *variables.Scope, params *core.LaunchParameters) {
	p.Stop()
	p.Play(g, scope, params)
}

// Play starts a run of g. It is a no-op while the player is already
// playing. Passing nil params keeps the current launch parameters; a
// sub-player shares those of its parent.
func (p *Player) Play(g *graph.Graph, scope *variables.Scope, params *core.LaunchParameters) {
	if p.playing {
		return
	}
	if g == nil && !p.IsInitialized() {
		p.logger.Error("player: play without a graph", "player", p.id)
		return
	}
	p.playing = true
	p.runID = uuid.NewString()
	p.startedAt = time.Now()
	p.seq.Reset()
	p.mu.Lock()
	p.done = make(chan struct{})
	p.mu.Unlock()

	p.CreateSubExecutionContext(g, scope)

	if params != nil {
		p.launch = params
		p.ec.UpdateIdentityHash(params.IdentityHash)
	}
	if p.launch == nil {
		p.launch = core.DefaultLaunchParameters()
	}
	if p.parent == nil && p.services.RoleFilter != nil {
		p.services.RoleFilter.Clear()
	}

	var starts []graph.FlowNode
	for n := range p.graph.Nodes() {
		fn, ok := n.(graph.FlowNode)
		if !ok {
			continue
		}
		if graph.IsEnd(fn) {
			p.endNodes.add(fn)
		}
		if graph.IsStart(fn) {
			starts = append(starts, fn)
		}
	}

	if p.launch.UseLog {
		p.logger.Info("scenario started", "player", p.id, "run_id", p.runID, "status", p.launch.StatusString())
	}
	p.emit(NewEvent(EventScenarioStarted, p.runID).
		WithPayload("identity_hash", int32(p.ec.IdentityHash())).
		WithPayload("start_nodes", len(starts)).
		WithPayload("end_nodes", len(p.endNodes)))

	if len(starts) == 0 {
		p.stop(StopDeadEnd)
		return
	}
	for _, s := range starts {
		p.activeStarted.add(s)
	}
	for _, s := range starts {
		if !p.playing {
			break
		}
		p.Activate(s)
	}
	p.tryEndScenario()
}

// Stop ends the current run. Active nodes are deactivated without being
// marked completed, sub-players are stopped and removed, and every tracking
// set is cleared. Stop is idempotent.
func (p *Player) Stop() {
	p.stop(StopRequested)
}

func (p *Player) stop(reason string) {
	if !p.playing {
		return
	}
	p.playing = false

	for _, n := range p.active.sorted() {
		p.cancelWait(n)
		if node, ok := n.(Node); ok {
			p.invoke(n, "deactivate", func() { node.Deactivate(p.ec) })
		}
	}
	for n := range p.waits {
		p.cancelWait(n)
	}

	for len(p.subs) > 0 {
		p.RemoveSubPlayer(p.subs[0])
	}

	if p.useLog() {
		p.logger.Info("scenario stopped", "player", p.id, "run_id", p.runID, "reason", reason, "status", p.launch.StatusString())
	}
	p.emit(NewEvent(EventScenarioStopped, p.runID).
		WithElapsed(time.Since(p.startedAt)).
		WithPayload("reason", reason).
		WithPayload("completed_nodes", len(p.completed)))

	p.clearSubExecutionContext()
	p.launch = nil

	clear(p.active)
	clear(p.completed)
	clear(p.activeStarted)
	clear(p.endNodes)
	clear(p.orFired)
	clear(p.activatedAt)
	p.processed = 0

	p.mu.Lock()
	close(p.done)
	p.mu.Unlock()
}

// Activate makes node active, runs its Activate callback and starts
// waiting for its completion.
func (p *Player) Activate(node graph.FlowNode) {
	p.completed.remove(node)
	p.active.add(node)
	p.activatedAt[node] = time.Now()

	// A fresh activation starts a new join round for the successors.
	if p.graph != nil {
		for next := range p.graph.OutgoingNodes(node) {
			delete(p.orFired, next)
		}
	}
	if p.services.RoleFilter != nil {
		p.services.RoleFilter.Process(node, p.graph)
	}

	kind := NodeKind(node)
	if p.useLog() {
		p.logger.Info("node activated", "player", p.id, "node", node.Hash(), "kind", kind)
	}

	p.emit(NewEvent(EventNodeActivating, p.runID).WithNode(node.Hash(), kind))
	n, isNode := node.(Node)
	if isNode {
		if !p.invoke(node, "activate", func() { n.Activate(p.ec) }) {
			return
		}
	}
	p.emit(NewEvent(EventNodeActivated, p.runID).WithNode(node.Hash(), kind))

	if !p.playing || !p.active.has(node) {
		return
	}
	p.waitForCompletion(node, n)
}

// Deactivate marks node completed and runs its Deactivate callback. It is
// a no-op when the player is not playing, so an external skip racing a
// node's own completion is harmless.
func (p *Player) Deactivate(node graph.FlowNode) {
	if !p.playing {
		return
	}
	p.cancelWait(node)

	p.active.remove(node)
	p.completed.add(node)

	kind := NodeKind(node)
	if p.useLog() {
		p.logger.Info("node completed", "player", p.id, "node", node.Hash(), "kind", kind)
	}

	var elapsed time.Duration
	if at, ok := p.activatedAt[node]; ok {
		elapsed = time.Since(at)
		delete(p.activatedAt, node)
	}

	p.emit(NewEvent(EventNodeCompleting, p.runID).WithNode(node.Hash(), kind))
	if n, ok := node.(Node); ok {
		p.invoke(node, "deactivate", func() { n.Deactivate(p.ec) })
	}
	p.emit(NewEvent(EventNodeCompleted, p.runID).WithNode(node.Hash(), kind).WithElapsed(elapsed))

	if graph.IsStart(node) {
		p.activeStarted.remove(node)
	} else if graph.IsEnd(node) {
		p.endNodes.remove(node)
	}
	p.tryEndScenario()
}

// ProgressNextNodes completes node and activates every successor whose
// join policy is now satisfied.
func (p *Player) ProgressNextNodes(node graph.FlowNode) {
	p.Deactivate(node)
	if n, ok := node.(Node); ok && !n.AllowNext() {
		return
	}
	if !p.playing {
		return
	}

	// A graph without end nodes has already completed in Deactivate once
	// its last start node finished; the break only catches end nodes that
	// can no longer be reached.
	next := slices.Collect(p.graph.OutgoingNodes(node))
	if p.processed == 0 && len(next) == 0 {
		p.tryBreakScenario()
	}
	if !p.playing {
		return
	}

	p.processed += len(next)
	for _, succ := range next {
		if !p.playing {
			break
		}
		if p.active.has(succ) || p.orFired[succ] {
			p.processed--
			continue
		}
		if !p.canProgress(succ) {
			continue
		}
		p.processed--
		if isOr(succ) {
			p.orFired[succ] = true
		}
		p.Activate(succ)
	}
}

// SkipActiveNodes forces every active node to complete and progress.
func (p *Player) SkipActiveNodes() {
	if p.graph == nil {
		return
	}
	for _, n := range p.active.sorted() {
		if !p.playing {
			return
		}
		if p.active.has(n) {
			p.ProgressNextNodes(n)
		}
	}
}

// LogActiveNodes logs the active nodes grouped by kind.
func (p *Player) LogActiveNodes() {
	byKind := make(map[string][]string)
	for _, n := range p.active.sorted() {
		kind := NodeKind(n)
		byKind[kind] = append(byKind[kind], n.Hash().String())
	}
	attrs := []any{"player", p.id, "run_id", p.runID}
	for _, kind := range []string{"action", "condition"} {
		attrs = append(attrs, kind+"s", byKind[kind])
		delete(byKind, kind)
	}
	for kind, hashes := range byKind {
		attrs = append(attrs, kind, hashes)
	}
	p.logger.Info("active nodes", attrs...)
}

// CreateSubPlayer returns a child player sharing the loop, services and
// launch parameters of p.
func (p *Player) CreateSubPlayer() *Player {
	sub := newPlayer(p.loop, p.services)
	sub.parent = p
	sub.launch = p.launch
	sub.emitter = p.emitter
	p.subs = append(p.subs, sub)

	if p.useLog() {
		p.logger.Info("sub-scenario added", "child", sub.id, "parent", p.id)
	}
	p.emit(NewEvent(EventSubPlayerAdded, p.runID).WithPayload("player_id", sub.id))
	return sub
}

// RemoveSubPlayer stops sub and detaches it from p.
func (p *Player) RemoveSubPlayer(sub *Player) {
	i := slices.Index(p.subs, sub)
	if i < 0 {
		return
	}
	sub.Stop()

	if p.useLog() {
		p.logger.Info("sub-scenario removed", "child", sub.id, "parent", p.id)
	}
	p.emit(NewEvent(EventSubPlayerRemoved, p.runID).WithPayload("player_id", sub.id))

	if i = slices.Index(p.subs, sub); i >= 0 {
		p.subs = slices.Delete(p.subs, i, i+1)
	}
}

func (p *Player) tryBreakScenario() {
	if len(p.active) == 0 && len(p.activeStarted) == 0 {
		p.stop(StopDeadEnd)
	}
}

func (p *Player) tryEndScenario() {
	if len(p.endNodes) == 0 && len(p.activeStarted) == 0 {
		p.stop(StopCompleted)
	}
}

func (p *Player) canProgress(node graph.FlowNode) bool {
	or := isOr(node)
	for prev := range p.graph.IncomingNodes(node) {
		done := p.completed.has(prev)
		if or && done {
			return true
		}
		if !or && !done {
			return false
		}
	}
	return !or
}

func isOr(node graph.FlowNode) bool {
	if node.ActivationType() == core.ActivationOr {
		return true
	}
	if cn, ok := node.(graph.ComponentsNode); ok {
		return core.HasComponent(cn.Components(), func(c core.Component) bool {
			_, ok := c.(core.UseOr)
			return ok
		})
	}
	return false
}

func (p *Player) waitForCompletion(node graph.FlowNode, n Node) {
	ctx, cancel := context.WithCancel(context.Background())
	p.waitSeq++
	w := waiter{id: p.waitSeq, cancel: cancel}
	p.waits[node] = w

	go func() {
		var err error
		if n != nil {
			err = waitNode(ctx, n)
		}
		p.loop.Post(func() { p.completeWait(node, w.id, err) })
	}()
}

func waitNode(ctx context.Context, n Node) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("runtime: node wait panicked: %v", r)
		}
	}()
	return n.Wait(ctx)
}

func (p *Player) completeWait(node graph.FlowNode, id uint64, err error) {
	w, ok := p.waits[node]
	if !ok || w.id != id {
		return
	}
	delete(p.waits, node)
	w.cancel()

	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		p.logger.Error("player: node wait failed", "player", p.id, "node", node.Hash(), "error", err)
		p.emit(NewEvent(EventNodeFailed, p.runID).
			WithNode(node.Hash(), NodeKind(node)).
			WithPayload("op", "wait").
			WithPayload("error", err.Error()))
		return
	}
	if !p.playing {
		return
	}
	p.ProgressNextNodes(node)
}

func (p *Player) cancelWait(node graph.FlowNode) {
	if w, ok := p.waits[node]; ok {
		w.cancel()
		delete(p.waits, node)
	}
}

// invoke runs a node callback, converting a panic into a logged failure.
func (p *Player) invoke(node graph.FlowNode, op string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("player: node callback panicked", "player", p.id, "node", node.Hash(), "op", op, "panic", r)
			p.emit(NewEvent(EventNodeFailed, p.runID).
				WithNode(node.Hash(), NodeKind(node)).
				WithPayload("op", op).
				WithPayload("error", fmt.Sprint(r)))
			ok = false
		}
	}()
	fn()
	return true
}

func (p *Player) useLog() bool {
	return p.launch != nil && p.launch.UseLog
}

// scenarioName prefers the launch scenario for root players; sub-players
// share launch parameters with their parent and report their own graph.
func (p *Player) scenarioName() string {
	if p.parent == nil && p.launch != nil && p.launch.Scenario != "" {
		return p.launch.Scenario
	}
	if p.graph != nil {
		return p.graph.Name()
	}
	return ""
}

// emit stamps e with run metadata and hands it to the emitter.
func (p *Player) emit(e Event) {
	if p.emitter == nil {
		return
	}
	if e.RunID == "" {
		e.RunID = p.runID
	}
	if p.parent != nil {
		e.ParentRunID = p.parent.runID
	}
	if e.Scenario == "" {
		e.Scenario = p.scenarioName()
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	e.Seq = p.seq.Next()
	p.emitter(e)
}
