package graph

import (
	"context"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"github.com/nidhogg/mnemo/internal/memory"
)

// Graph handles Neo4j operations for the relationship index.
type Graph struct {
	driver neo4j.DriverWithContext
	cfg    Config
	logger *zap.Logger
}

// New creates a Neo4j-backed Graph.
func New(uri, user, password string, cfg Config, logger *zap.Logger) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, password, ""))
	if err != nil {
		return nil, err
	}
	return &Graph{driver: driver, cfg: cfg, logger: logger}, nil
}

// Close shuts down the Neo4j driver.
func (g *Graph) Close(ctx context.Context) error {
	return g.driver.Close(ctx)
}

// Ping verifies the Neo4j connection.
func (g *Graph) Ping(ctx context.Context) error {
	return g.driver.VerifyConnectivity(ctx)
}

// Link compares a new event against the recent window and writes the
// resulting edges. window must be ordered newest first; the first element
// is the immediately preceding event. Returns the created relations.
// Failed signals degrade to fewer edges, never to a failed ingestion.
func (g *Graph) Link(ctx context.Context, ev *memory.Event, window []*memory.Event) ([]memory.Relation, error) {
	start := time.Now()

	var relations []memory.Relation
	for i, cand := range window {
		if cand.ID == ev.ID {
			continue
		}
		sig := Compare(ev, cand, i == 0, g.cfg)
		w := sig.Weight()
		if w < minEdgeWeight {
			continue
		}
		relations = append(relations, memory.Relation{
			TargetID: cand.ID,
			Type:     strings.Join(sig.Kinds(), "+"),
			Weight:   w,
		})
	}
	if len(relations) == 0 {
		return nil, nil
	}

	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	for _, rel := range relations {
		_, err := session.Run(ctx,
			`MERGE (a:Memory {id: $srcId, namespace: $ns})
			 ON CREATE SET a.ts = $srcTs
			 MERGE (b:Memory {id: $dstId, namespace: $ns})
			 MERGE (a)-[r:RELATED]->(b)
			 SET r.weight = $weight, r.kinds = $kinds`,
			map[string]interface{}{
				"srcId":  ev.ID,
				"dstId":  rel.TargetID,
				"ns":     ev.Namespace,
				"srcTs":  ev.Timestamp.Unix(),
				"weight": rel.Weight,
				"kinds":  rel.Type,
			})
		if err != nil {
			return relations, err
		}
	}

	// prune each touched endpoint independently
	touched := []string{ev.ID}
	for _, rel := range relations {
		touched = append(touched, rel.TargetID)
	}
	for _, id := range touched {
		if err := g.prune(ctx, session, ev.Namespace, id); err != nil {
			return relations, err
		}
	}

	g.logger.Debug("event linked",
		zap.String("namespace", ev.Namespace),
		zap.String("id", ev.ID),
		zap.Int("edges", len(relations)),
		zap.Duration("duration", time.Since(start)))
	return relations, nil
}

// prune drops a node's lowest-weight edges once it exceeds the
// max-connections bound. Pruning is per endpoint, so the stored edge set
// is not guaranteed symmetric.
func (g *Graph) prune(ctx context.Context, session neo4j.SessionWithContext, namespace, id string) error {
	_, err := session.Run(ctx,
		`MATCH (n:Memory {id: $id, namespace: $ns})-[r:RELATED]-()
		 WITH r ORDER BY r.weight ASC
		 WITH collect(r) AS rels
		 WITH rels, size(rels) - $max AS excess
		 WHERE excess > 0
		 UNWIND rels[0..excess] AS doomed
		 DELETE doomed`,
		map[string]interface{}{
			"id":  id,
			"ns":  namespace,
			"max": g.cfg.MaxConnections,
		})
	return err
}

// Relations returns all edges touching one event, treating stored
// direction as irrelevant.
func (g *Graph) Relations(ctx context.Context, namespace, id string) ([]memory.Relation, error) {
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Memory {id: $id, namespace: $ns})-[r:RELATED]-(b:Memory)
		 RETURN b.id AS target, r.weight AS weight, r.kinds AS kinds
		 ORDER BY r.weight DESC`,
		map[string]interface{}{"id": id, "ns": namespace})
	if err != nil {
		return nil, err
	}

	var rels []memory.Relation
	for result.Next(ctx) {
		rec := result.Record()
		rel := memory.Relation{}
		if v, ok := rec.Get("target"); ok && v != nil {
			rel.TargetID = v.(string)
		}
		if v, ok := rec.Get("weight"); ok && v != nil {
			rel.Weight = v.(float64)
		}
		if v, ok := rec.Get("kinds"); ok && v != nil {
			rel.Type = v.(string)
		}
		rels = append(rels, rel)
	}
	return rels, result.Err()
}

// Connectedness sums edge weights from each candidate toward the given
// context events, for the recall ranking tie-break.
func (g *Graph) Connectedness(ctx context.Context, namespace string, candidates, contextIDs []string) (map[string]float64, error) {
	if len(candidates) == 0 || len(contextIDs) == 0 {
		return nil, nil
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Memory {namespace: $ns})-[r:RELATED]-(b:Memory {namespace: $ns})
		 WHERE a.id IN $candidates AND b.id IN $context
		 RETURN a.id AS id, sum(r.weight) AS total`,
		map[string]interface{}{
			"ns":         namespace,
			"candidates": candidates,
			"context":    contextIDs,
		})
	if err != nil {
		return nil, err
	}

	scores := make(map[string]float64)
	for result.Next(ctx) {
		rec := result.Record()
		id, _ := rec.Get("id")
		total, _ := rec.Get("total")
		if id != nil && total != nil {
			scores[id.(string)] = total.(float64)
		}
	}
	return scores, result.Err()
}

// Edge is one undirected edge between two event ids.
type Edge struct {
	A, B   string
	Weight float64
}

// EdgesAmong returns the edges whose both endpoints are in ids, for
// reflection theme clustering.
func (g *Graph) EdgesAmong(ctx context.Context, namespace string, ids []string) ([]Edge, error) {
	if len(ids) < 2 {
		return nil, nil
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (a:Memory {namespace: $ns})-[r:RELATED]->(b:Memory {namespace: $ns})
		 WHERE a.id IN $ids AND b.id IN $ids
		 RETURN a.id AS a, b.id AS b, r.weight AS weight`,
		map[string]interface{}{"ns": namespace, "ids": ids})
	if err != nil {
		return nil, err
	}

	var edges []Edge
	for result.Next(ctx) {
		rec := result.Record()
		var e Edge
		if v, ok := rec.Get("a"); ok && v != nil {
			e.A = v.(string)
		}
		if v, ok := rec.Get("b"); ok && v != nil {
			e.B = v.(string)
		}
		if v, ok := rec.Get("weight"); ok && v != nil {
			e.Weight = v.(float64)
		}
		edges = append(edges, e)
	}
	return edges, result.Err()
}

// RemoveEvents detaches and deletes graph nodes for hard-deleted events.
func (g *Graph) RemoveEvents(ctx context.Context, namespace string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{})
	defer session.Close(ctx)

	_, err := session.Run(ctx,
		`MATCH (n:Memory {namespace: $ns})
		 WHERE n.id IN $ids
		 DETACH DELETE n`,
		map[string]interface{}{"ns": namespace, "ids": ids})
	return err
}
