package gateway

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/cohesivestack/valgo"

	"github.com/conceptmesh/mesh-go/pkg/archive"
	"github.com/conceptmesh/mesh-go/pkg/concept"
	"github.com/conceptmesh/mesh-go/pkg/errors"
	"github.com/conceptmesh/mesh-go/pkg/metrics"
	"github.com/conceptmesh/mesh-go/pkg/store"
)

// stripeCount is the number of lock stripes. Proposals for different
// concepts proceed in parallel; two proposals only contend when their
// fingerprints land on the same stripe.
const stripeCount = 64

// Status reports how a proposal was absorbed into the mesh.
type Status string

const (
	StatusCreated Status = "created"
	StatusMerged  Status = "merged"
)

// Receipt acknowledges an accepted mutation. AuditSeq is the sequence of
// the archive frame recorded before this receipt was produced.
type Receipt struct {
	ID       string `json:"id"`
	Status   Status `json:"status"`
	AuditSeq uint64 `json:"audit_seq"`
}

// Config bounds the gateway's lock waits.
type Config struct {
	LockWait time.Duration
}

/*
Gateway is the only component holding the store's Writer, which makes it
the single write path into the mesh. It validates and deduplicates
proposals, serializes mutations per concept id, and records every accepted
mutation in the audit archive before acknowledging it.
*/
type Gateway struct {
	writer   *store.Writer
	log      *archive.Log
	metrics  *metrics.MeshMetrics
	cfg      Config
	stripes  [stripeCount]chan struct{}
	commitMu sync.Mutex
}

/*
New wires a gateway around the store writer and the audit log.
*/
func New(writer *store.Writer, auditLog *archive.Log, m *metrics.MeshMetrics, cfg Config) *Gateway {
	if cfg.LockWait <= 0 {
		cfg.LockWait = 2 * time.Second
	}
	g := &Gateway{
		writer:  writer,
		log:     auditLog,
		metrics: m,
		cfg:     cfg,
	}
	for i := range g.stripes {
		g.stripes[i] = make(chan struct{}, 1)
	}
	return g
}

/*
Propose validates a mutation proposal and absorbs it into the mesh: a new
node when the fingerprint is unseen, otherwise a provenance merge onto the
existing node. The audit frame is appended synchronously before the
receipt is returned.
*/
func (g *Gateway) Propose(ctx context.Context, p concept.Proposal) (*Receipt, error) {
	start := time.Now()

	val := valgo.Is(
		valgo.String(p.ConceptText, "concept_text").Not().Blank().OfLengthBetween(1, concept.MaxConceptText),
		valgo.String(p.Source, "provenance_source").Not().Blank(),
	)
	if !val.Valid() {
		g.metrics.RecordProposal("rejected", time.Since(start))
		return nil, errors.ErrValidation.WithMessagef("invalid proposal: %v", val.Error())
	}

	id := concept.Fingerprint(p.ConceptText)

	unlock, err := g.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := time.Now().UTC()

	var (
		op      archive.Op
		payload []byte
		status  Status
	)

	if g.writer.Exists(id) {
		op = archive.OpMerge
		status = StatusMerged
		merge := store.MergePayload{
			ID:          id,
			Provenance:  concept.Provenance{Source: p.Source, Context: p.Context, Timestamp: now},
			EnergyDelta: 1,
		}
		if p.Context != "" {
			phase := concept.PhaseOf(concept.Fingerprint(p.Context))
			merge.ContextPhase = &phase
		}
		payload, err = json.Marshal(merge)
	} else {
		op = archive.OpCreate
		status = StatusCreated
		payload, err = json.Marshal(store.CreatePayload{Concept: *concept.New(p, now)})
	}
	if err != nil {
		return nil, errors.ErrInternal.WithMessagef("failed to encode mutation: %v", err)
	}

	seq, err := g.commit(op, payload)
	if err != nil {
		return nil, err
	}

	g.metrics.RecordProposal(string(status), time.Since(start))
	return &Receipt{ID: id, Status: status, AuditSeq: seq}, nil
}

/*
Relate records a co-occurrence edge between two existing concepts. Weight
accumulates additively across calls.
*/
func (g *Gateway) Relate(ctx context.Context, from, to, relation string, weight float64) (*Receipt, error) {
	val := valgo.Is(
		valgo.String(from, "from").Not().Blank(),
		valgo.String(to, "to").Not().Blank(),
		valgo.String(relation, "relation").Not().Blank(),
	)
	if !val.Valid() || weight <= 0 {
		return nil, errors.ErrValidation.WithMessagef("invalid edge proposal: %v", val.Error())
	}
	if !g.writer.Exists(from) || !g.writer.Exists(to) {
		return nil, errors.ErrConceptNotFound.WithMessagef("edge endpoints must exist: %s -> %s", from, to)
	}

	// Edges are owned by their source node, so serializing on the source
	// stripe is enough.
	unlock, err := g.lock(ctx, from)
	if err != nil {
		return nil, err
	}
	defer unlock()

	payload, err := json.Marshal(store.EdgePayload{From: from, To: to, Relation: relation, WeightDelta: weight})
	if err != nil {
		return nil, errors.ErrInternal.WithMessagef("failed to encode edge: %v", err)
	}

	seq, err := g.commit(archive.OpEdgeUpdate, payload)
	if err != nil {
		return nil, err
	}
	return &Receipt{ID: from, Status: StatusMerged, AuditSeq: seq}, nil
}

/*
ArchiveConcept soft-deletes a node. The concept stays resolvable by id but
drops out of phase queries and normal reasoning expansion.
*/
func (g *Gateway) ArchiveConcept(ctx context.Context, id string) (*Receipt, error) {
	if !g.writer.Exists(id) {
		return nil, errors.ErrConceptNotFound.WithMessagef("concept %s not found", id)
	}

	unlock, err := g.lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	payload, err := json.Marshal(store.ArchiveConceptPayload{ID: id})
	if err != nil {
		return nil, errors.ErrInternal.WithMessagef("failed to encode archive op: %v", err)
	}

	seq, err := g.commit(archive.OpArchiveConcept, payload)
	if err != nil {
		return nil, err
	}
	return &Receipt{ID: id, Status: StatusMerged, AuditSeq: seq}, nil
}

// commit applies the mutation in memory and then appends the audit frame.
// The frame append happens-before the caller's acknowledgment. Both steps
// run under one lock so the store version and the archive stay in
// lockstep: a snapshot cut mid-commit can never include a mutation whose
// frame is missing, which is what lets restarts replay only the tail.
func (g *Gateway) commit(op archive.Op, payload []byte) (uint64, error) {
	g.commitMu.Lock()
	defer g.commitMu.Unlock()

	if err := g.writer.Apply(op, payload); err != nil {
		return 0, err
	}

	seq, err := g.log.Append(op, payload)
	if err != nil {
		// The in-memory mutation stands but is not audited; surface loudly,
		// the archive is the source of truth on restart.
		log.Error("failed to append audit frame", "error", err, "op", op)
		return 0, errors.ErrInternal.WithMessagef("audit append failed: %v", err)
	}

	g.metrics.RecordFrame()
	return seq, nil
}

// lock acquires the stripe for a concept id, waiting at most cfg.LockWait.
// The returned func releases it.
func (g *Gateway) lock(ctx context.Context, id string) (func(), error) {
	stripe := g.stripes[stripeIndex(id)]

	timer := time.NewTimer(g.cfg.LockWait)
	defer timer.Stop()

	select {
	case stripe <- struct{}{}:
		return func() { <-stripe }, nil
	case <-timer.C:
		g.metrics.RecordLockTimeout()
		return nil, errors.ErrLockTimeout.WithMessagef("waited %s for concept %s", g.cfg.LockWait, id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func stripeIndex(id string) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % stripeCount)
}
