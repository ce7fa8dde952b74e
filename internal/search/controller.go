// Package search runs nearby searches: buffer a reference feature, query the
// target layer with the buffer and make the query result the layer's
// selection. Only the most recent run of a controller may touch selection.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/paulmach/orb"

	"github.com/mohammed-shakir/nearby-search/internal/core/model"
	"github.com/mohammed-shakir/nearby-search/internal/core/observability"
	"github.com/mohammed-shakir/nearby-search/internal/datasource"
	"github.com/mohammed-shakir/nearby-search/internal/geometry"
	"github.com/mohammed-shakir/nearby-search/internal/host"
	"github.com/mohammed-shakir/nearby-search/internal/logger"
	"github.com/mohammed-shakir/nearby-search/internal/rendered"
	"github.com/mohammed-shakir/nearby-search/internal/selection"
)

type State int

const (
	StateIdle State = iota
	StateBufferPending
	StateQueryPending
)

func (s State) String() string {
	switch s {
	case StateBufferPending:
		return "buffer_pending"
	case StateQueryPending:
		return "query_pending"
	default:
		return "idle"
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Editor presents a config for editing. ok=false means the edit was abandoned.
type Editor interface {
	Edit(ctx context.Context, seed model.SearchConfig, choices []host.DataSource) (model.SearchConfig, bool)
}

type EditorFunc func(ctx context.Context, seed model.SearchConfig, choices []host.DataSource) (model.SearchConfig, bool)

func (f EditorFunc) Edit(ctx context.Context, seed model.SearchConfig, choices []host.DataSource) (model.SearchConfig, bool) {
	return f(ctx, seed, choices)
}

// Deps are the collaborators shared by all actions.
type Deps struct {
	Host     *host.Registry
	Geometry geometry.Service
	Source   datasource.Source
	Rendered *rendered.Index
	Notifier Notifier
	Logger   *slog.Logger

	// zero disables the stage timeout
	BufferTimeout time.Duration
	QueryTimeout  time.Duration
}

func (d Deps) withDefaults() (Deps, error) {
	if d.Host == nil || d.Rendered == nil {
		return d, errors.New("search: host registry and rendered index are required")
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return d, nil
}

type RunSummary struct {
	Token    uint64    `json:"token"`
	Outcome  string    `json:"outcome"`
	Selected int       `json:"selected"`
	Skipped  int       `json:"skipped"`
	Finished time.Time `json:"finished"`
}

type Snapshot struct {
	ID     string             `json:"id"`
	Config model.SearchConfig `json:"config"`
	State  State              `json:"state"`
	Token  uint64             `json:"token"`
	Last   *RunSummary        `json:"last,omitempty"`
}

// Controller is the search_nearby action. Each controller owns its token
// sequence; controllers never share state.
type Controller struct {
	id   string
	deps Deps
	log  *slog.Logger

	mu     sync.Mutex
	cfg    model.SearchConfig
	state  State
	token  uint64
	cancel context.CancelFunc
	last   *RunSummary
	closed bool

	wg sync.WaitGroup
}

var _ Action = (*Controller)(nil)

func NewController(id string, cfg model.SearchConfig, deps Deps) (*Controller, error) {
	deps, err := deps.withDefaults()
	if err != nil {
		return nil, err
	}
	if deps.Geometry == nil || deps.Source == nil {
		return nil, errors.New("search: geometry service and data source are required")
	}
	return &Controller{
		id:   id,
		deps: deps,
		log:  deps.Logger.With("component", "search"),
		cfg:  cfg,
	}, nil
}

func (c *Controller) Name() string { return ActionSearchNearby }

func (c *Controller) ID() string { return c.id }

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{ID: c.id, Config: c.cfg, State: c.state, Token: c.token}
	if c.last != nil {
		last := *c.last
		s.Last = &last
	}
	return s
}

// Configure seeds ed with the current config and applies the edit only when
// it is valid. Invalid or abandoned edits leave the config unchanged.
func (c *Controller) Configure(ctx context.Context, ed Editor) (model.SearchConfig, bool) {
	choices := c.deps.Host.Selectable()
	c.mu.Lock()
	cur := c.cfg
	c.mu.Unlock()

	edited, ok := ed.Edit(ctx, seedConfig(cur, choices), choices)
	if !ok {
		return cur, false
	}
	if err := c.validate(edited); err != nil {
		c.log.InfoContext(ctx, "search config rejected", "search_id", c.id, "err", err)
		return cur, false
	}

	c.mu.Lock()
	c.cfg = edited
	c.mu.Unlock()
	c.log.InfoContext(ctx, "search configured",
		"search_id", c.id,
		"target", edited.TargetID,
		"distance", edited.Distance,
		"unit", string(edited.Unit))
	return edited, true
}

func seedConfig(cur model.SearchConfig, choices []host.DataSource) model.SearchConfig {
	seed := cur
	if seed.TargetID == "" && len(choices) > 0 {
		seed.TargetID = choices[0].ID
	}
	if !(seed.Distance > 0) {
		seed.Distance = 1
	}
	if !seed.Unit.Valid() {
		seed.Unit = model.UnitKilometer
	}
	return seed
}

func (c *Controller) validate(cfg model.SearchConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if ds, ok := c.deps.Host.DataSource(cfg.TargetID); !ok || !ds.Selectable {
		return fmt.Errorf("%w: unknown target %q", ErrConfigInvalid, cfg.TargetID)
	}
	return nil
}

// CanExecute has no side effects.
func (c *Controller) CanExecute(refCollection string, ref model.ReferenceFeature) bool {
	c.mu.Lock()
	cfg, closed := c.cfg, c.closed
	c.mu.Unlock()
	return !closed && c.executable(cfg, refCollection, ref)
}

func (c *Controller) executable(cfg model.SearchConfig, refCollection string, ref model.ReferenceFeature) bool {
	if _, ok := c.deps.Host.MapFor(refCollection); !ok {
		return false
	}
	if ds, ok := c.deps.Host.DataSource(cfg.TargetID); !ok || !ds.Selectable {
		return false
	}
	return cfg.TargetID != "" && cfg.Distance > 0 && cfg.Unit.Valid() && ref.Geometry != nil
}

type run struct {
	token uint64
	cfg   model.SearchConfig
	sr    model.SpatialReference
	ref   model.ReferenceFeature
}

// Execute supersedes any pending run and starts a new one in the background.
// It returns the token of the new run.
func (c *Controller) Execute(ctx context.Context, refCollection string, ref model.ReferenceFeature) (uint64, error) {
	m, _ := c.deps.Host.MapFor(refCollection)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	cfg := c.cfg
	if !c.executable(cfg, refCollection, ref) {
		c.mu.Unlock()
		return 0, ErrNotExecutable
	}
	if c.cancel != nil {
		// advisory; the token check discards whatever still arrives
		c.cancel()
	}
	if c.state != StateIdle {
		observability.IncSearchRun(c.id, "superseded")
		c.log.DebugContext(ctx, "superseding pending run", "search_id", c.id, "superseded", c.token, "state", c.state.String())
	}
	c.token++
	r := run{token: c.token, cfg: cfg, sr: m.SpatialRef, ref: ref}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel
	c.state = StateBufferPending
	c.wg.Add(1)
	c.mu.Unlock()

	runCtx = logger.WithToken(logger.WithSearchID(runCtx, c.id), r.token)
	go c.run(runCtx, cancel, r)
	return r.token, nil
}

func (c *Controller) run(ctx context.Context, cancel context.CancelFunc, r run) {
	defer c.wg.Done()
	defer cancel()

	start := time.Now()
	poly, err := await(ctx, c.deps.BufferTimeout, func(ctx context.Context) (orb.Geometry, error) {
		return c.deps.Geometry.Buffer(ctx, model.BufferRequest{
			Geometry:   r.ref.Geometry,
			Distance:   r.cfg.Distance,
			Unit:       r.cfg.Unit,
			SpatialRef: r.sr,
			Token:      r.token,
		})
	})
	observability.ObserveStage("buffer", time.Since(start).Seconds())
	if err != nil {
		c.fail(ctx, r.token, "buffer", KindBufferFailed, fmt.Sprintf("Buffer failed: %v", err))
		return
	}
	if !c.advance(r.token, StateQueryPending) {
		c.stale(ctx, "buffer")
		return
	}

	ds, ok := c.deps.Host.DataSource(r.cfg.TargetID)
	if !ok {
		c.fail(ctx, r.token, "query", KindTargetMissing, fmt.Sprintf("Target data source %q not found", r.cfg.TargetID))
		return
	}

	start = time.Now()
	res, err := await(ctx, c.deps.QueryTimeout, func(ctx context.Context) (model.QueryResult, error) {
		return c.deps.Source.ExecuteQuery(ctx, model.SpatialQuery{
			Layer:         ds.Layer,
			GeometryField: ds.GeometryField,
			IDField:       ds.ObjectIDField,
			Geometry:      poly,
			Predicate:     model.PredicateIntersects,
			SpatialRef:    r.sr,
			Token:         r.token,
		})
	})
	observability.ObserveStage("query", time.Since(start).Seconds())

	switch {
	case err != nil:
		c.fail(ctx, r.token, "query", KindQueryFailed, fmt.Sprintf("Query on %s failed: %v", ds.ID, err))
	case res.Canceled:
		if !c.finish(r.token, "canceled", selection.Stats{}) {
			c.stale(ctx, "query")
			return
		}
		c.notify(ctx, r.token, LevelInfo, KindQueryCanceled, "The search was canceled", 0)
	default:
		c.apply(ctx, r, ds, res.Records)
	}
}

// apply reconciles while holding c.mu so a newer run cannot start between
// the token check and the selection change.
func (c *Controller) apply(ctx context.Context, r run, ds host.DataSource, recs []model.Record) {
	ids := make([]int64, 0, len(recs))
	malformed := 0
	for _, rec := range recs {
		id, err := selection.ParseID(rec.ID)
		if err != nil {
			malformed++
			continue
		}
		ids = append(ids, id)
	}
	if len(recs) > 0 && len(ids) == 0 {
		// matches exist but none can be selected; keep the current selection
		c.fail(ctx, r.token, "query", KindNoUsableIDs,
			fmt.Sprintf("Query on %s returned %d features without usable ids", ds.ID, len(recs)))
		return
	}

	c.mu.Lock()
	if !c.current(r.token) {
		c.mu.Unlock()
		c.stale(ctx, "query")
		return
	}
	var st selection.Stats
	if layer, ok := c.deps.Rendered.Layer(ds.ID); ok {
		layer.Update(func(fs []*rendered.Feature) {
			st = selection.Reconcile(ids, fs)
		})
		observability.SetSelectionSize(ds.ID, st.Selected)
	}
	c.settle(r.token, "ok", st)
	c.mu.Unlock()

	observability.IncSearchRun(c.id, "ok")
	c.log.InfoContext(ctx, "search completed",
		"target", ds.ID,
		"records", len(recs),
		"selected", st.Selected,
		"skipped", st.Skipped,
		"malformed_records", malformed)
	c.notify(ctx, r.token, LevelInfo, KindCompleted,
		fmt.Sprintf("%d features selected in %s", st.Selected, ds.ID), st.Selected)
}

func (c *Controller) fail(ctx context.Context, token uint64, stage, kind, msg string) {
	if !c.finish(token, kind, selection.Stats{}) {
		c.stale(ctx, stage)
		return
	}
	c.log.WarnContext(ctx, "search failed", "stage", stage, "kind", kind, "msg", msg)
	c.notify(ctx, token, LevelWarn, kind, msg, 0)
}

func (c *Controller) stale(ctx context.Context, stage string) {
	observability.IncStaleCompletion(stage)
	c.log.DebugContext(ctx, "stale completion discarded", "stage", stage)
}

func (c *Controller) notify(ctx context.Context, token uint64, lvl Level, kind, msg string, selected int) {
	c.deps.Notifier.Notify(ctx, Notice{
		SearchID: c.id,
		Token:    token,
		Level:    lvl,
		Kind:     kind,
		Message:  msg,
		Selected: selected,
		Time:     time.Now().UTC(),
	})
}

func (c *Controller) current(token uint64) bool {
	return !c.closed && c.token == token
}

func (c *Controller) advance(token uint64, next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(token) {
		return false
	}
	c.state = next
	return true
}

// finish returns the controller to idle if token is still live.
func (c *Controller) finish(token uint64, outcome string, st selection.Stats) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.current(token) {
		return false
	}
	c.settle(token, outcome, st)
	observability.IncSearchRun(c.id, outcome)
	return true
}

// settle requires c.mu.
func (c *Controller) settle(token uint64, outcome string, st selection.Stats) {
	c.state = StateIdle
	c.cancel = nil
	c.last = &RunSummary{
		Token:    token,
		Outcome:  outcome,
		Selected: st.Selected,
		Skipped:  st.Skipped,
		Finished: time.Now().UTC(),
	}
}

// Wait blocks until no run is outstanding.
func (c *Controller) Wait() { c.wg.Wait() }

// Close abandons the pending run; its completion is discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.state = StateIdle
	c.mu.Unlock()
}

// await runs call with an optional timeout and returns as soon as ctx ends,
// even if call ignores cancellation.
func await[T any](ctx context.Context, timeout time.Duration, call func(context.Context) (T, error)) (T, error) {
	var cancel context.CancelFunc
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := call(ctx)
		ch <- result{v, err}
	}()
	select {
	case res := <-ch:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
