// Package graph computes retained sizes over the heap reference graph.
//
// The object graph is a general directed graph: cycles, shared children and
// references to unknown ids all occur in real dumps. Retained sizes come from
// the dominator tree, which is built with the iterative Cooper, Harvey and
// Kennedy algorithm over a reverse post-order produced by an explicit stack.
package graph

import (
	"sort"

	"github.com/dump-correlator/pkg/collections"
	"github.com/dump-correlator/pkg/model"
)

const noDominator = -1

// Graph is a dense, index based view of a heap snapshot.
type Graph struct {
	ids     []string
	index   map[string]int32
	shallow []int64
	succ    [][]int32

	// DanglingRefs counts references to ids that are not in the snapshot.
	DanglingRefs int
}

// New builds a graph from objects. When an id repeats, the first record wins.
func New(objects []model.ObjectRecord) *Graph {
	g := &Graph{
		ids:     make([]string, 0, len(objects)),
		index:   make(map[string]int32, len(objects)),
		shallow: make([]int64, 0, len(objects)),
	}
	for i := range objects {
		o := &objects[i]
		if _, dup := g.index[o.ID]; dup {
			continue
		}
		g.index[o.ID] = int32(len(g.ids))
		g.ids = append(g.ids, o.ID)
		g.shallow = append(g.shallow, o.ShallowSize)
	}

	g.succ = make([][]int32, len(g.ids))
	for i := range objects {
		o := &objects[i]
		from, ok := g.index[o.ID]
		if !ok || g.succ[from] != nil {
			continue
		}
		edges := make([]int32, 0, len(o.Refs))
		for _, ref := range o.Refs {
			to, ok := g.index[ref]
			if !ok {
				g.DanglingRefs++
				continue
			}
			if to == from {
				continue
			}
			edges = append(edges, to)
		}
		g.succ[from] = edges
	}
	return g
}

// Len returns the number of objects in the graph.
func (g *Graph) Len() int {
	return len(g.ids)
}

// Has reports whether id is part of the graph.
func (g *Graph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// Analysis is the dominator tree of a graph together with retained sizes.
type Analysis struct {
	g        *Graph
	idom     []int32
	retained []int64
	roots    []int32
}

// Analyze computes dominators and retained sizes.
func (g *Graph) Analyze() *Analysis {
	n := len(g.ids)
	super := int32(n)

	roots := g.findRoots()
	post := make([]int32, 0, n+1)
	visited := collections.NewBitset(n + 1)
	visited.Set(int(super))

	// Roots without incoming edges first, then one node per unreached
	// cycle in id order.
	for _, r := range roots {
		post = g.walk(r, visited, post)
	}
	for _, v := range g.sortedByID() {
		if !visited.Test(int(v)) {
			roots = append(roots, v)
			post = g.walk(v, visited, post)
		}
	}
	post = append(post, super)

	rpo := make([]int32, n+1)
	for i, v := range post {
		rpo[v] = int32(len(post) - 1 - i)
	}

	preds := make([][]int32, n+1)
	for v := range g.succ {
		for _, w := range g.succ[v] {
			preds[w] = append(preds[w], int32(v))
		}
	}
	for _, r := range roots {
		preds[r] = append(preds[r], super)
	}

	idom := make([]int32, n+1)
	for i := range idom {
		idom[i] = noDominator
	}
	idom[super] = super

	intersect := func(a, b int32) int32 {
		for a != b {
			for rpo[a] > rpo[b] {
				a = idom[a]
			}
			for rpo[b] > rpo[a] {
				b = idom[b]
			}
		}
		return a
	}

	for changed := true; changed; {
		changed = false
		// reverse post-order, skipping the super root at the end of post
		for i := len(post) - 2; i >= 0; i-- {
			v := post[i]
			newIdom := int32(noDominator)
			for _, p := range preds[v] {
				if idom[p] == noDominator {
					continue
				}
				if newIdom == noDominator {
					newIdom = p
				} else {
					newIdom = intersect(p, newIdom)
				}
			}
			if newIdom != idom[v] {
				idom[v] = newIdom
				changed = true
			}
		}
	}

	// Post-order visits every node before its immediate dominator.
	retained := make([]int64, n+1)
	for _, v := range post {
		if v == super {
			continue
		}
		retained[v] += g.shallow[v]
		retained[idom[v]] += retained[v]
	}

	return &Analysis{g: g, idom: idom, retained: retained[:n], roots: roots}
}

// ComputeRetained returns id -> retained bytes for every object.
func (g *Graph) ComputeRetained() map[string]int64 {
	return g.Analyze().Map()
}

// findRoots returns nodes without incoming edges in index order.
func (g *Graph) findRoots() []int32 {
	hasIncoming := collections.NewBitset(len(g.ids))
	for _, edges := range g.succ {
		for _, w := range edges {
			hasIncoming.Set(int(w))
		}
	}
	var roots []int32
	for v := range g.ids {
		if !hasIncoming.Test(v) {
			roots = append(roots, int32(v))
		}
	}
	return roots
}

func (g *Graph) sortedByID() []int32 {
	order := make([]int32, len(g.ids))
	for i := range order {
		order[i] = int32(i)
	}
	sort.Slice(order, func(a, b int) bool { return g.ids[order[a]] < g.ids[order[b]] })
	return order
}

type frame struct {
	node int32
	next int
}

// walk appends the post-order of the nodes reachable from start that are
// not yet visited.
func (g *Graph) walk(start int32, visited *collections.Bitset, post []int32) []int32 {
	if visited.TestAndSet(int(start)) {
		return post
	}
	stack := collections.NewStack[frame](64)
	stack.Push(frame{node: start})

	for !stack.IsEmpty() {
		top, _ := stack.Pop()
		edges := g.succ[top.node]
		if top.next < len(edges) {
			child := edges[top.next]
			top.next++
			stack.Push(top)
			if !visited.TestAndSet(int(child)) {
				stack.Push(frame{node: child})
			}
			continue
		}
		post = append(post, top.node)
	}
	return post
}

// Retained returns the retained size of id.
func (a *Analysis) Retained(id string) (int64, bool) {
	v, ok := a.g.index[id]
	if !ok {
		return 0, false
	}
	return a.retained[v], true
}

// Dominator returns the immediate dominator of id. Roots return "".
func (a *Analysis) Dominator(id string) string {
	v, ok := a.g.index[id]
	if !ok {
		return ""
	}
	d := a.idom[v]
	if d == int32(len(a.g.ids)) || d == noDominator {
		return ""
	}
	return a.g.ids[d]
}

// Roots returns the ids used as roots, in the order they were chosen.
func (a *Analysis) Roots() []string {
	out := make([]string, len(a.roots))
	for i, r := range a.roots {
		out[i] = a.g.ids[r]
	}
	return out
}

// Map returns id -> retained bytes.
func (a *Analysis) Map() map[string]int64 {
	out := make(map[string]int64, len(a.retained))
	for i, id := range a.g.ids {
		out[id] = a.retained[i]
	}
	return out
}
