// Package resolver implements component D of SPEC_FULL.md: topological
// ordering, cycle detection, rebuild-needed analysis, and reverse-dependency
// queries over the dependency graph of spec.md §3 ("DependencyGraph").
//
// The graph is an arena indexed by integer node ids with a name->id map, per
// the design note in spec.md §9 ("Graph representation") — grounded on the
// teacher's pkg/util/digraph.go, whose map-of-maps adjacency the teacher
// never actually got to compile; porg keeps the arena idea but gives it a
// real, idiomatic Go body.
package resolver

import "sort"

type nodeID int

// graph is the arena: node ids are dense indices into nodes/edges/rEdges.
type graph struct {
	nameToID map[string]nodeID
	names    []string
	edges    [][]nodeID // edges[n] = dependencies of node n (n depends on edges[n])
	rEdges   [][]nodeID // reverse adjacency, kept in sync with edges
}

func newGraph() *graph {
	return &graph{nameToID: map[string]nodeID{}}
}

func (g *graph) idFor(name string) nodeID {
	if id, ok := g.nameToID[name]; ok {
		return id
	}
	id := nodeID(len(g.names))
	g.nameToID[name] = id
	g.names = append(g.names, name)
	g.edges = append(g.edges, nil)
	g.rEdges = append(g.rEdges, nil)
	return id
}

// addEdge records that `from` depends on `to`. Both are created if unseen.
func (g *graph) addEdge(from, to string) {
	f := g.idFor(from)
	t := g.idFor(to)
	for _, e := range g.edges[f] {
		if e == t {
			return
		}
	}
	g.edges[f] = append(g.edges[f], t)
	g.rEdges[t] = append(g.rEdges[t], f)
}

// ensure registers a name with no edges if it isn't already present, so
// leaf packages with no dependencies still get a node.
func (g *graph) ensure(name string) { g.idFor(name) }

func (g *graph) sortedDeps(n nodeID) []nodeID {
	deps := append([]nodeID(nil), g.edges[n]...)
	sort.Slice(deps, func(i, j int) bool { return g.names[deps[i]] < g.names[deps[j]] })
	return deps
}
