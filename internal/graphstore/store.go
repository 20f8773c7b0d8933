package graphstore

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/semops/semops-backend/internal/data/graph"
	taxrepo "github.com/semops/semops-backend/internal/data/repos/taxonomy"
	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/lineage"
	"github.com/semops/semops-backend/internal/pkg/dbctx"
	"github.com/semops/semops-backend/internal/pkg/errs"
	"github.com/semops/semops-backend/internal/pkg/logger"
	"github.com/semops/semops-backend/internal/platform/neo4jdb"
	"github.com/semops/semops-backend/internal/platform/vector"
)

// Store is the single write path into the pattern graph. Relational rows
// are the source of truth; Neo4j and the vector store are mirrors synced
// after commit, best-effort.
type Store struct {
	log      *logger.Logger
	patterns taxrepo.PatternRepo
	edges    taxrepo.PatternEdgeRepo
	rec      *lineage.Recorder
	neo      *neo4jdb.Client
	vectors  vector.Store
	locks    *patternLocks
}

func NewStore(
	log *logger.Logger,
	patterns taxrepo.PatternRepo,
	edges taxrepo.PatternEdgeRepo,
	rec *lineage.Recorder,
	neo *neo4jdb.Client,
	vectors vector.Store,
) *Store {
	return &Store{
		log:      log.With("service", "GraphStore"),
		patterns: patterns,
		edges:    edges,
		rec:      rec,
		neo:      neo,
		vectors:  vectors,
		locks:    newPatternLocks(),
	}
}

// EdgeTargetID is the stable episode target identity for an edge. Repeated
// upserts of the same (src, predicate, dst) triple share one target so the
// coherence scorer sees a single history.
func EdgeTargetID(src, dst uuid.UUID, predicate string) string {
	return src.String() + "|" + predicate + "|" + dst.String()
}

// UpsertPattern registers or refreshes a pattern. New patterns always land
// in the draft stage regardless of what the caller set; stage movement is
// the lifecycle engine's job.
func (s *Store) UpsertPattern(dbc dbctx.Context, p *types.Pattern, embedding []float32) (*types.Pattern, error) {
	if p == nil {
		return nil, errs.Validation("pattern", "required")
	}
	p.Slug = strings.TrimSpace(p.Slug)
	if p.Slug == "" {
		return nil, errs.Validation("slug", "required")
	}
	if strings.TrimSpace(p.Label) == "" {
		return nil, errs.Validation("label", "required")
	}
	if p.LifecycleStage != "" && !types.ValidStage(p.LifecycleStage) {
		return nil, errs.Validation("lifecycle_stage", fmt.Sprintf("unknown stage %q", p.LifecycleStage))
	}

	existing, err := s.patterns.GetBySlug(dbc, p.Slug)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		p.ID = existing.ID
		p.LifecycleStage = existing.LifecycleStage
	} else {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		p.LifecycleStage = types.StageDraft
	}
	if len(embedding) > 0 && p.VectorID == "" {
		p.VectorID = p.ID.String()
	}

	unlock := s.locks.Lock(p.ID)
	defer unlock()

	draft := &types.Episode{
		Operation:  types.OpRegisterPattern,
		TargetType: types.TargetPattern,
		TargetID:   p.ID.String(),
	}
	_, err = s.rec.Record(dbc, draft, func(ep *types.Episode) error {
		if err := s.patterns.UpsertBySlug(dbc, p); err != nil {
			return err
		}
		ep.Rationale = fmt.Sprintf("pattern %q upserted (stage=%s)", p.Slug, p.LifecycleStage)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mirrorPattern(dbc, p, embedding)
	return p, nil
}

// UpsertEdge commits a typed edge. Hierarchy predicates are cycle-checked
// under both pattern locks before the write; an edge that would close a
// cycle is rejected with a StructuralViolation and still leaves an episode
// explaining the refusal.
func (s *Store) UpsertEdge(dbc dbctx.Context, srcID, dstID uuid.UUID, predicate string, strength float64, evidence datatypes.JSON) (*types.PatternEdge, error) {
	if !types.ValidPredicate(predicate) {
		return nil, errs.Validation("predicate", fmt.Sprintf("unknown predicate %q", predicate))
	}
	if srcID == uuid.Nil || dstID == uuid.Nil {
		return nil, errs.Validation("pattern_id", "src and dst are required")
	}
	if srcID == dstID {
		return nil, errs.Validation("pattern_id", "self-edges are not allowed")
	}
	if strength < 0 || strength > 1 {
		return nil, errs.Validation("strength", "must be in [0,1]")
	}

	src, err := s.patterns.GetByID(dbc, srcID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("src pattern %s: %w", srcID, errs.ErrNotFound)
	}
	dst, err := s.patterns.GetByID(dbc, dstID)
	if err != nil {
		return nil, err
	}
	if dst == nil {
		return nil, fmt.Errorf("dst pattern %s: %w", dstID, errs.ErrNotFound)
	}

	unlock := s.locks.LockPair(srcID, dstID)
	defer unlock()

	edge := &types.PatternEdge{
		ID:           uuid.New(),
		SrcPatternID: srcID,
		DstPatternID: dstID,
		Predicate:    predicate,
		Strength:     strength,
		Evidence:     evidence,
	}

	draft := &types.Episode{
		Operation:  types.OpProposeEdge,
		TargetType: types.TargetEdge,
		TargetID:   EdgeTargetID(srcID, dstID, predicate),
	}
	_, err = s.rec.Record(dbc, draft, func(ep *types.Episode) error {
		if types.CycleCheckedPredicate(predicate) {
			cycle, cerr := s.DetectCycle(dbc, srcID, dstID, predicate)
			if cerr != nil {
				return cerr
			}
			if cycle {
				return &errs.StructuralViolation{
					SrcID:     srcID.String(),
					DstID:     dstID.String(),
					Predicate: predicate,
				}
			}
		}
		if err := s.edges.Upsert(dbc, edge); err != nil {
			return err
		}
		ep.Rationale = fmt.Sprintf("edge %s -[%s]-> %s committed", src.Slug, predicate, dst.Slug)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.mirrorEdge(dbc, edge)
	return edge, nil
}

// QueryNeighbors returns the edges touching a pattern plus the patterns on
// their far ends.
func (s *Store) QueryNeighbors(dbc dbctx.Context, patternID uuid.UUID) ([]*types.Pattern, []*types.PatternEdge, error) {
	if patternID == uuid.Nil {
		return nil, nil, errs.Validation("pattern_id", "required")
	}
	edges, err := s.edges.GetByPatternIDs(dbc, []uuid.UUID{patternID})
	if err != nil {
		return nil, nil, err
	}
	neighborIDs := make([]uuid.UUID, 0, len(edges))
	seen := map[uuid.UUID]struct{}{patternID: {}}
	for _, e := range edges {
		for _, id := range []uuid.UUID{e.SrcPatternID, e.DstPatternID} {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			neighborIDs = append(neighborIDs, id)
		}
	}
	neighbors, err := s.patterns.GetByIDs(dbc, neighborIDs)
	if err != nil {
		return nil, nil, err
	}
	return neighbors, edges, nil
}

// DetectCycle reports whether committing src-[predicate]->dst would close a
// hierarchy cycle. Neo4j answers when available; otherwise the relational
// edge set is walked directly.
func (s *Store) DetectCycle(dbc dbctx.Context, srcID, dstID uuid.UUID, predicate string) (bool, error) {
	if !types.CycleCheckedPredicate(predicate) {
		return false, nil
	}

	// Normalize to the broader direction: a narrower edge src->dst is the
	// broader edge dst->src.
	from, to := srcID, dstID
	if predicate == types.PredicateNarrower {
		from, to = dstID, srcID
	}
	if from == to {
		return true, nil
	}

	if s.neo != nil && s.neo.Driver != nil {
		cycle, err := graph.WouldCycle(dbc.Ctx, s.neo, from, to)
		if err == nil {
			return cycle, nil
		}
		s.log.Warn("neo4j cycle check failed, falling back to relational walk", "error", err)
	}
	return s.detectCycleRelational(dbc, from, to)
}

// detectCycleRelational walks broader-direction edges from `to` looking for
// `from`: if `to` already reaches `from`, adding from->to closes a loop.
func (s *Store) detectCycleRelational(dbc dbctx.Context, from, to uuid.UUID) (bool, error) {
	edges, err := s.edges.GetByPredicates(dbc, []string{types.PredicateBroader, types.PredicateNarrower})
	if err != nil {
		return false, err
	}

	adj := make(map[uuid.UUID][]uuid.UUID, len(edges))
	for _, e := range edges {
		a, b := e.SrcPatternID, e.DstPatternID
		if e.Predicate == types.PredicateNarrower {
			a, b = b, a
		}
		adj[a] = append(adj[a], b)
	}

	// The visited set bounds the walk; no depth cap, a deep hierarchy is
	// still a hierarchy.
	visited := map[uuid.UUID]struct{}{}
	queue := []uuid.UUID{to}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node == from {
			return true, nil
		}
		if _, ok := visited[node]; ok {
			continue
		}
		visited[node] = struct{}{}
		queue = append(queue, adj[node]...)
	}
	return false, nil
}

func (s *Store) mirrorPattern(dbc dbctx.Context, p *types.Pattern, embedding []float32) {
	if err := graph.SyncPatterns(dbc.Ctx, s.neo, s.log, []*types.Pattern{p}); err != nil {
		s.log.Warn("neo4j pattern mirror failed", "pattern_id", p.ID, "error", err)
	}
	if s.vectors == nil || len(embedding) == 0 || p.VectorID == "" {
		return
	}
	err := s.vectors.Upsert(dbc.Ctx, vector.NamespacePatterns, []vector.Vector{{
		ID:     p.VectorID,
		Values: embedding,
		Metadata: map[string]any{
			"pattern_id":      p.ID.String(),
			"slug":            p.Slug,
			"lifecycle_stage": p.LifecycleStage,
			"pattern_type":    p.PatternType,
		},
	}})
	if err != nil {
		s.log.Warn("vector mirror failed", "pattern_id", p.ID, "error", err)
	}
}

// MirrorStage propagates a committed stage change to the Neo4j node and
// the vector payload, keeping the embedding stage's candidate filter
// current. Artifact stages live only in the relational rows, so only
// pattern targets touch the mirrors. Mirror failures are logged, not
// returned; the relational stage is already the truth.
func (s *Store) MirrorStage(dbc dbctx.Context, targetType, targetID, stage string) error {
	if targetType != types.TargetPattern {
		return nil
	}
	id, err := uuid.Parse(targetID)
	if err != nil {
		return fmt.Errorf("stage mirror: bad pattern id %q: %w", targetID, err)
	}
	p, err := s.patterns.GetByID(dbc, id)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("pattern %s: %w", id, errs.ErrNotFound)
	}

	if err := graph.SetPatternStage(dbc.Ctx, s.neo, id, stage); err != nil {
		s.log.Warn("neo4j stage mirror failed", "pattern_id", id, "error", err)
	}
	if s.vectors != nil && p.VectorID != "" {
		err := s.vectors.SetPayload(dbc.Ctx, vector.NamespacePatterns, p.VectorID, map[string]any{
			"lifecycle_stage": stage,
		})
		if err != nil {
			s.log.Warn("vector stage mirror failed", "pattern_id", id, "error", err)
		}
	}
	return nil
}

func (s *Store) mirrorEdge(dbc dbctx.Context, e *types.PatternEdge) {
	if err := graph.SyncEdges(dbc.Ctx, s.neo, s.log, []*types.PatternEdge{e}); err != nil {
		s.log.Warn("neo4j edge mirror failed", "edge_id", e.ID, "error", err)
	}
}

// Metrics surfaces the structural signals the classifier's final stage and
// the coherence scorer read. When Neo4j is down the relational edges give a
// coarse substitute.
func (s *Store) Metrics(dbc dbctx.Context, patternID uuid.UUID) (*graph.PatternMetrics, error) {
	if s.neo != nil && s.neo.Driver != nil {
		m, err := graph.Metrics(dbc.Ctx, s.neo, patternID)
		if err == nil {
			return m, nil
		}
		s.log.Warn("neo4j metrics failed, falling back to relational degree", "pattern_id", patternID, "error", err)
	}

	edges, err := s.edges.GetByPatternIDs(dbc, []uuid.UUID{patternID})
	if err != nil {
		return nil, err
	}
	m := &graph.PatternMetrics{Degree: int64(len(edges))}
	for _, e := range edges {
		if types.HierarchicalPredicate(e.Predicate) {
			m.HierarchicalDegree++
		}
	}
	m.IsOrphan = m.HierarchicalDegree == 0
	return m, nil
}
