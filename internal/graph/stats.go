package graph

import (
	"context"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

// Stats summarizes one namespace's graph. Computed lazily on demand;
// nothing here runs on the insert path.
type Stats struct {
	Nodes         int64           `json:"nodes"`
	Edges         int64           `json:"edges"`
	MeanDegree    float64         `json:"mean_degree"`
	Clusters      int             `json:"clusters"`
	LargestCluster int            `json:"largest_cluster"`
	Hubs          []CentralityHub `json:"hubs"`
}

// CentralityHub is one high-degree node.
type CentralityHub struct {
	ID     string  `json:"id"`
	Degree int64   `json:"degree"`
	Weight float64 `json:"weight"`
}

// ComputeStats walks the namespace graph once: degree centrality from
// Cypher, cluster structure via union-find over the fetched edge list.
func (g *Graph) ComputeStats(ctx context.Context, namespace string) (*Stats, error) {
	start := time.Now()
	session := g.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	st := &Stats{}

	result, err := session.Run(ctx,
		`MATCH (n:Memory {namespace: $ns})
		 OPTIONAL MATCH (n)-[r:RELATED]-()
		 WITH n, count(r) AS degree, coalesce(sum(r.weight), 0.0) AS weight
		 RETURN n.id AS id, degree, weight
		 ORDER BY degree DESC`,
		map[string]interface{}{"ns": namespace})
	if err != nil {
		return nil, err
	}

	var totalDegree int64
	for result.Next(ctx) {
		rec := result.Record()
		st.Nodes++
		var hub CentralityHub
		if v, ok := rec.Get("id"); ok && v != nil {
			hub.ID = v.(string)
		}
		if v, ok := rec.Get("degree"); ok && v != nil {
			hub.Degree = v.(int64)
		}
		if v, ok := rec.Get("weight"); ok && v != nil {
			hub.Weight = v.(float64)
		}
		totalDegree += hub.Degree
		if len(st.Hubs) < 5 && hub.Degree > 0 {
			st.Hubs = append(st.Hubs, hub)
		}
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	st.Edges = totalDegree / 2
	if st.Nodes > 0 {
		st.MeanDegree = float64(totalDegree) / float64(st.Nodes)
	}

	edgeResult, err := session.Run(ctx,
		`MATCH (a:Memory {namespace: $ns})-[:RELATED]->(b:Memory {namespace: $ns})
		 RETURN a.id AS a, b.id AS b`,
		map[string]interface{}{"ns": namespace})
	if err != nil {
		return nil, err
	}
	var edges []Edge
	for edgeResult.Next(ctx) {
		rec := edgeResult.Record()
		var e Edge
		if v, ok := rec.Get("a"); ok && v != nil {
			e.A = v.(string)
		}
		if v, ok := rec.Get("b"); ok && v != nil {
			e.B = v.(string)
		}
		edges = append(edges, e)
	}
	if err := edgeResult.Err(); err != nil {
		return nil, err
	}

	clusters := Clusters(edges)
	st.Clusters = len(clusters)
	for _, c := range clusters {
		if len(c) > st.LargestCluster {
			st.LargestCluster = len(c)
		}
	}

	g.logger.Debug("graph stats computed",
		zap.String("namespace", namespace),
		zap.Int64("nodes", st.Nodes),
		zap.Int64("edges", st.Edges),
		zap.Duration("duration", time.Since(start)))
	return st, nil
}

// Clusters groups connected event ids via union-find over an edge list.
// Isolated nodes (absent from edges) form no cluster. Output is ordered
// largest cluster first, members sorted for determinism.
func Clusters(edges []Edge) [][]string {
	parent := make(map[string]string)

	var find func(string) string
	find = func(x string) string {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}
	union := func(a, b string) {
		if _, ok := parent[a]; !ok {
			parent[a] = a
		}
		if _, ok := parent[b]; !ok {
			parent[b] = b
		}
		ra, rb := find(a), find(b)
		if ra != rb {
			parent[ra] = rb
		}
	}

	for _, e := range edges {
		union(e.A, e.B)
	}

	groups := make(map[string][]string)
	for node := range parent {
		root := find(node)
		groups[root] = append(groups[root], node)
	}

	out := make([][]string, 0, len(groups))
	for _, members := range groups {
		sort.Strings(members)
		out = append(out, members)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i]) != len(out[j]) {
			return len(out[i]) > len(out[j])
		}
		return out[i][0] < out[j][0]
	})
	return out
}
