package reason

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/conceptmesh/mesh-go/pkg/bridge"
	"github.com/conceptmesh/mesh-go/pkg/concept"
	"github.com/conceptmesh/mesh-go/pkg/errors"
	"github.com/conceptmesh/mesh-go/pkg/store"
)

// Flag annotates a returned path.
type Flag string

// FlagDecoherence marks a path that traverses at least one concept below
// the hard stability cutoff. Such paths only appear when no clean route
// exists, and their confidence is capped.
const FlagDecoherence Flag = "decoherence"

// Reason explains an empty or reduced result. NoPath is an expected
// outcome, not an error.
type Reason string

const (
	ReasonOK     Reason = "ok"
	ReasonNoPath Reason = "no_path"
)

// Path is one ranked inference chain. Confidence is derived at query time
// and never stored.
type Path struct {
	Concepts   []string       `json:"concepts"`
	Edges      []concept.Edge `json:"edges"`
	Confidence float64        `json:"path_confidence"`
	Flags      []Flag         `json:"flags,omitempty"`
}

// Result is the outcome of one reasoning query.
type Result struct {
	Paths  []Path `json:"paths"`
	Reason Reason `json:"reason"`
}

// Config tunes the search. Immutable for the process lifetime.
type Config struct {
	HardCutoff         float64
	MaxHops            int
	BeamWidth          int
	DecoherenceCeiling float64
}

func (c *Config) defaults() {
	if c.MaxHops <= 0 {
		c.MaxHops = 4
	}
	if c.BeamWidth <= 0 {
		c.BeamWidth = 16
	}
	if c.DecoherenceCeiling <= 0 {
		c.DecoherenceCeiling = 0.25
	}
}

/*
Engine builds multi-hop inference paths over the mesh, biased by the
latest spectral state. It reads the store only through snapshots and
never writes, so queries run concurrently with mutations and with each
other, and cancelling one mid-search has no side effects.
*/
type Engine struct {
	store *store.Store
	cfg   Config

	mu        sync.RWMutex
	stability map[string]float64
}

// New creates an engine over the given store.
func New(s *store.Store, cfg Config) *Engine {
	cfg.defaults()
	return &Engine{
		store:     s,
		cfg:       cfg,
		stability: make(map[string]float64),
	}
}

/*
Consume drains a bridge subscription, keeping the engine's view of
stability fresh. Run on its own goroutine; returns when the subscription
closes or the context is cancelled.
*/
func (e *Engine) Consume(ctx context.Context, sub *bridge.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			switch v := evt.(type) {
			case bridge.ResyncSnapshot:
				e.mu.Lock()
				e.stability = v.Snapshot.Stability
				e.mu.Unlock()
			case bridge.DriftAlarm:
				log.Warn("reasoning under reduced coherence",
					"coherence", v.Coherence, "threshold", v.Threshold)
			}
		}
	}
}

// stabilityOf prefers the bridge's freshest score, falling back to the
// score persisted on the node before the first snapshot arrives.
func (e *Engine) stabilityOf(c *concept.Concept) float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if s, ok := e.stability[c.ID]; ok {
		return s
	}
	return c.Stability
}

/*
BuildPaths runs a beam search from start, bounded by maxHops (0 means the
configured default). With a target, only paths reaching it are returned;
without one, the best chains radiating from start are. Nodes below the
hard stability cutoff are excluded from normal expansion; when that
exclusion disconnects the target, or when the start node itself sits
below the cutoff, a fallback pass admits them and marks every resulting
path with the decoherence flag and a capped confidence. An unreachable
target yields Reason NoPath, never an error.
*/
func (e *Engine) BuildPaths(ctx context.Context, start, target string, maxHops int) (*Result, error) {
	if maxHops <= 0 || maxHops > e.cfg.MaxHops {
		maxHops = e.cfg.MaxHops
	}

	snap := e.store.Snapshot()
	startNode, ok := snap.Concepts[start]
	if !ok {
		return nil, errors.ErrConceptNotFound.WithMessagef("start concept %s not found", start)
	}
	if target != "" {
		if _, ok := snap.Concepts[target]; !ok {
			return nil, errors.ErrConceptNotFound.WithMessagef("target concept %s not found", target)
		}
	}

	// the start node is part of every path, so a below-cutoff start
	// degrades the whole query to the flagged fallback pass
	degraded := e.stabilityOf(startNode) < e.cfg.HardCutoff

	var paths []Path
	var err error
	if !degraded {
		paths, err = e.search(ctx, snap, start, target, maxHops, false)
		if err != nil {
			return nil, err
		}
	}

	if len(paths) == 0 && (degraded || target != "") {
		// fallback: admit unstable nodes, flag the result
		paths, err = e.search(ctx, snap, start, target, maxHops, true)
		if err != nil {
			return nil, err
		}
		for i := range paths {
			paths[i].Flags = append(paths[i].Flags, FlagDecoherence)
			if paths[i].Confidence > e.cfg.DecoherenceCeiling {
				paths[i].Confidence = e.cfg.DecoherenceCeiling
			}
		}
		rank(paths)
	}

	if len(paths) == 0 {
		return &Result{Paths: []Path{}, Reason: ReasonNoPath}, nil
	}
	return &Result{Paths: paths, Reason: ReasonOK}, nil
}

type partial struct {
	concepts   []string
	edges      []concept.Edge
	confidence float64
}

func (e *Engine) search(
	ctx context.Context,
	snap *store.Snapshot,
	start, target string,
	maxHops int,
	allowUnstable bool,
) ([]Path, error) {
	beam := []partial{{concepts: []string{start}, confidence: 1}}
	var found []Path

	for hop := 0; hop < maxHops && len(beam) > 0; hop++ {
		// cooperative cancellation between expansion steps; reasoning never
		// writes, so bailing here has no side effects
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var next []partial
		for _, p := range beam {
			last := p.concepts[len(p.concepts)-1]
			for _, edge := range snap.Edges[last] {
				dst, ok := snap.Concepts[edge.To]
				if !ok || dst.Archived || contains(p.concepts, edge.To) {
					continue
				}
				stab := e.stabilityOf(dst)
				if !allowUnstable && stab < e.cfg.HardCutoff {
					continue
				}

				ext := partial{
					concepts:   appendCopy(p.concepts, edge.To),
					edges:      append(append([]concept.Edge(nil), p.edges...), edge),
					confidence: p.confidence * survival(edge.Weight, stab),
				}

				if target == "" {
					found = append(found, ext.toPath())
					next = append(next, ext)
					continue
				}
				if edge.To == target {
					found = append(found, ext.toPath())
					continue
				}
				next = append(next, ext)
			}
		}

		sortPartials(next)
		if len(next) > e.cfg.BeamWidth {
			next = next[:e.cfg.BeamWidth]
		}
		beam = next
	}

	rank(found)
	return found, nil
}

// survival is the per-hop probability that a traversal holds up: the
// destination's stability damped by how well-worn the edge is.
func survival(weight, stability float64) float64 {
	return stability * (weight / (weight + 1))
}

func (p partial) toPath() Path {
	return Path{Concepts: p.concepts, Edges: p.edges, Confidence: p.confidence}
}

// rank orders paths by confidence, breaking ties by shorter length then
// lexical id order so results are reproducible.
func rank(paths []Path) {
	sort.Slice(paths, func(i, j int) bool {
		if paths[i].Confidence != paths[j].Confidence {
			return paths[i].Confidence > paths[j].Confidence
		}
		if len(paths[i].Concepts) != len(paths[j].Concepts) {
			return len(paths[i].Concepts) < len(paths[j].Concepts)
		}
		return strings.Join(paths[i].Concepts, "/") < strings.Join(paths[j].Concepts, "/")
	})
}

func sortPartials(ps []partial) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].confidence != ps[j].confidence {
			return ps[i].confidence > ps[j].confidence
		}
		if len(ps[i].concepts) != len(ps[j].concepts) {
			return len(ps[i].concepts) < len(ps[j].concepts)
		}
		return strings.Join(ps[i].concepts, "/") < strings.Join(ps[j].concepts, "/")
	})
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func appendCopy(list []string, v string) []string {
	out := make([]string, len(list)+1)
	copy(out, list)
	out[len(list)] = v
	return out
}
