package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	types "github.com/semops/semops-backend/internal/domain"
	"github.com/semops/semops-backend/internal/pkg/logger"
	"github.com/semops/semops-backend/internal/platform/neo4jdb"
)

// Relationship types mirror the closed predicate set. Cypher cannot
// parameterize relationship types, so queries are assembled from this
// whitelist only. Narrower has no relationship type of its own: it is the
// inverse reading of broader and is stored in the broader direction, so
// the BROADER reachability walk sees every hierarchy edge.
var predicateRelTypes = map[string]string{
	types.PredicateBroader:  "BROADER",
	types.PredicateNarrower: "BROADER",
	types.PredicateRelated:  "RELATED",
	types.PredicateAdopts:   "ADOPTS",
	types.PredicateExtends:  "EXTENDS",
	types.PredicateModifies: "MODIFIES",
}

// normalizeEdge returns the relationship type and endpoint order an edge
// is mirrored under. A narrower edge src->dst is the broader edge
// dst->src; the predicate property on the relationship preserves the
// original reading so deletes stay precise.
func normalizeEdge(predicate string, srcID, dstID uuid.UUID) (relType string, from, to uuid.UUID, ok bool) {
	relType, ok = predicateRelTypes[predicate]
	if !ok {
		return "", uuid.Nil, uuid.Nil, false
	}
	if predicate == types.PredicateNarrower {
		return relType, dstID, srcID, true
	}
	return relType, srcID, dstID, true
}

// PatternMetrics summarizes a pattern's structural position in the graph.
type PatternMetrics struct {
	Degree             int64
	HierarchicalDegree int64
	DescendantCount    int64
	IsOrphan           bool
}

func SyncPatterns(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, patterns []*types.Pattern) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	nodes := make([]map[string]any, 0, len(patterns))
	for _, p := range patterns {
		if p == nil || p.ID == uuid.Nil {
			continue
		}
		nodes = append(nodes, map[string]any{
			"id":              p.ID.String(),
			"slug":            p.Slug,
			"label":           p.Label,
			"pattern_type":    p.PatternType,
			"lifecycle_stage": p.LifecycleStage,
			"provenance":      p.Provenance,
			"vector_id":       p.VectorID,
			"synced_at":       now,
		})
	}
	if len(nodes) == 0 {
		return nil
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	// Schema helpers are best-effort; restricted users may not hold the
	// privilege.
	if res, err := session.Run(ctx, `CREATE CONSTRAINT pattern_id_unique IF NOT EXISTS FOR (p:Pattern) REQUIRE p.id IS UNIQUE`, nil); err != nil {
		if log != nil {
			log.Warn("neo4j schema init failed (continuing)", "error", err)
		}
	} else {
		_, _ = res.Consume(ctx)
	}
	if res, err := session.Run(ctx, `CREATE INDEX pattern_stage_idx IF NOT EXISTS FOR (p:Pattern) ON (p.lifecycle_stage)`, nil); err != nil {
		if log != nil {
			log.Warn("neo4j schema init failed (continuing)", "error", err)
		}
	} else {
		_, _ = res.Consume(ctx)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
UNWIND $nodes AS n
MERGE (p:Pattern {id: n.id})
SET p += n
`, map[string]any{"nodes": nodes})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

func SyncEdges(ctx context.Context, client *neo4jdb.Client, log *logger.Logger, edges []*types.PatternEdge) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	byPredicate := make(map[string][]map[string]any)
	for _, e := range edges {
		if e == nil || e.SrcPatternID == uuid.Nil || e.DstPatternID == uuid.Nil {
			continue
		}
		_, from, to, ok := normalizeEdge(e.Predicate, e.SrcPatternID, e.DstPatternID)
		if !ok {
			return fmt.Errorf("neo4j edge sync: unknown predicate %q", e.Predicate)
		}
		byPredicate[e.Predicate] = append(byPredicate[e.Predicate], map[string]any{
			"id":            e.ID.String(),
			"src_id":        from.String(),
			"dst_id":        to.String(),
			"predicate":     e.Predicate,
			"strength":      e.Strength,
			"evidence_json": string(e.Evidence),
			"synced_at":     now,
		})
	}
	if len(byPredicate) == 0 {
		return nil
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for predicate, rels := range byPredicate {
			relType := predicateRelTypes[predicate]
			query := fmt.Sprintf(`
UNWIND $rels AS r
MATCH (a:Pattern {id: r.src_id})
MATCH (b:Pattern {id: r.dst_id})
MERGE (a)-[e:%s {predicate: r.predicate}]->(b)
SET e.id = r.id,
    e.strength = r.strength,
    e.evidence_json = r.evidence_json,
    e.synced_at = r.synced_at
`, relType)
			res, err := tx.Run(ctx, query, map[string]any{"rels": rels})
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return err
}

func DeleteEdge(ctx context.Context, client *neo4jdb.Client, srcID, dstID uuid.UUID, predicate string) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	relType, from, to, ok := normalizeEdge(predicate, srcID, dstID)
	if !ok {
		return fmt.Errorf("neo4j edge delete: unknown predicate %q", predicate)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	query := fmt.Sprintf(`
MATCH (a:Pattern {id: $src_id})-[e:%s {predicate: $predicate}]->(b:Pattern {id: $dst_id})
DELETE e
`, relType)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, query, map[string]any{
			"src_id":    from.String(),
			"dst_id":    to.String(),
			"predicate": predicate,
		})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// SetPatternStage refreshes lifecycle_stage on an already-mirrored node
// after a transition.
func SetPatternStage(ctx context.Context, client *neo4jdb.Client, patternID uuid.UUID, stage string) error {
	if client == nil || client.Driver == nil {
		return nil
	}
	if patternID == uuid.Nil {
		return fmt.Errorf("neo4j stage sync: missing patternID")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (p:Pattern {id: $id})
SET p.lifecycle_stage = $stage, p.synced_at = $synced_at
`, map[string]any{
			"id":        patternID.String(),
			"stage":     stage,
			"synced_at": time.Now().UTC().Format(time.RFC3339Nano),
		})
		if err != nil {
			return nil, err
		}
		if _, err := res.Consume(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

// Metrics reports degree and reachability counts for a single pattern.
// Orphanhood considers hierarchical predicates only; lineage edges do not
// anchor a pattern in the taxonomy.
func Metrics(ctx context.Context, client *neo4jdb.Client, patternID uuid.UUID) (*PatternMetrics, error) {
	if client == nil || client.Driver == nil {
		return nil, fmt.Errorf("neo4j metrics: client unavailable")
	}
	if patternID == uuid.Nil {
		return nil, fmt.Errorf("neo4j metrics: missing patternID")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (p:Pattern {id: $id})
OPTIONAL MATCH (p)-[r]-(:Pattern)
WITH p, count(r) AS degree
OPTIONAL MATCH (p)-[h:BROADER|RELATED]-(:Pattern)
WITH p, degree, count(h) AS hier_degree
OPTIONAL MATCH (p)<-[:BROADER*]-(d:Pattern)
RETURN degree, hier_degree, count(DISTINCT d) AS descendants
`, map[string]any{"id": patternID.String()})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		m := &PatternMetrics{}
		if v, ok := record.Get("degree"); ok {
			m.Degree, _ = v.(int64)
		}
		if v, ok := record.Get("hier_degree"); ok {
			m.HierarchicalDegree, _ = v.(int64)
		}
		if v, ok := record.Get("descendants"); ok {
			m.DescendantCount, _ = v.(int64)
		}
		m.IsOrphan = m.HierarchicalDegree == 0
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return out.(*PatternMetrics), nil
}

// WouldCycle reports whether adding src-[:BROADER]->dst would close a
// hierarchy cycle, i.e. whether dst already reaches src over BROADER
// edges. The walk is unbounded; the acyclicity invariant keeps it finite.
func WouldCycle(ctx context.Context, client *neo4jdb.Client, srcID, dstID uuid.UUID) (bool, error) {
	if client == nil || client.Driver == nil {
		return false, fmt.Errorf("neo4j cycle check: client unavailable")
	}
	if srcID == dstID {
		return true, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}

	session := client.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: client.Database,
	})
	defer session.Close(ctx)

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		res, err := tx.Run(ctx, `
MATCH (a:Pattern {id: $dst_id})
MATCH (b:Pattern {id: $src_id})
RETURN EXISTS((a)-[:BROADER*]->(b)) AS reachable
`, map[string]any{
			"src_id": srcID.String(),
			"dst_id": dstID.String(),
		})
		if err != nil {
			return nil, err
		}
		record, err := res.Single(ctx)
		if err != nil {
			return nil, err
		}
		v, ok := record.Get("reachable")
		if !ok {
			return false, nil
		}
		reachable, _ := v.(bool)
		return reachable, nil
	})
	if err != nil {
		return false, err
	}
	return out.(bool), nil
}
