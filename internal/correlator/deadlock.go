package correlator

import (
	"fmt"
	"strings"

	"github.com/dump-correlator/pkg/model"
)

// lockOwners maps a monitor id to the index of the first thread holding it.
func lockOwners(threads []model.ThreadSnapshot) map[string]int {
	owners := make(map[string]int)
	for i := range threads {
		for _, m := range threads[i].HeldLocks {
			if _, taken := owners[m]; !taken {
				owners[m] = i
			}
		}
	}
	return owners
}

// waitCycles finds cycles in the wait-for graph. Every thread waits for at
// most one monitor, so each node has at most one outgoing edge. Each cycle
// is rotated to start at its smallest thread id and cycles are returned in
// order of first discovery by thread index.
func waitCycles(threads []model.ThreadSnapshot) [][]int {
	owners := lockOwners(threads)
	next := make([]int, len(threads))
	for i := range threads {
		next[i] = -1
		t := &threads[i]
		if !t.State.IsWaiting() || t.BlockedOn == "" {
			continue
		}
		if o, ok := owners[t.BlockedOn]; ok && o != i {
			next[i] = o
		}
	}

	const (
		unvisited = 0
		onPath    = 1
		done      = 2
	)
	state := make([]int, len(threads))
	var cycles [][]int

	for start := range threads {
		if state[start] != unvisited {
			continue
		}
		var path []int
		v := start
		for v != -1 && state[v] == unvisited {
			state[v] = onPath
			path = append(path, v)
			v = next[v]
		}
		if v != -1 && state[v] == onPath {
			// v closes a cycle that starts at its position on the path
			for k, p := range path {
				if p == v {
					cycles = append(cycles, rotateToSmallest(path[k:], threads))
					break
				}
			}
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return cycles
}

func rotateToSmallest(cycle []int, threads []model.ThreadSnapshot) []int {
	best := 0
	for k := 1; k < len(cycle); k++ {
		a, b := &threads[cycle[k]], &threads[cycle[best]]
		if a.ID < b.ID || (a.ID == b.ID && cycle[k] < cycle[best]) {
			best = k
		}
	}
	out := make([]int, 0, len(cycle))
	out = append(out, cycle[best:]...)
	return append(out, cycle[:best]...)
}

func checkDeadlock(rc *RuleContext) []model.Finding {
	var findings []model.Finding
	for _, cycle := range waitCycles(rc.Threads) {
		ids := make([]string, 0, 2*len(cycle))
		steps := make([]string, 0, len(cycle))
		for k, i := range cycle {
			t := &rc.Threads[i]
			holder := &rc.Threads[cycle[(k+1)%len(cycle)]]
			ids = append(ids, t.ID)
			steps = append(steps, fmt.Sprintf("%q waits for %s held by %q", t.ID, t.BlockedOn, holder.ID))
		}
		for _, i := range cycle {
			ids = append(ids, rc.Threads[i].BlockedOn)
		}

		findings = append(findings, model.Finding{
			Severity:  model.SeverityCritical,
			Rule:      model.RuleDeadlock,
			Message:   fmt.Sprintf("deadlock between %d threads: %s", len(cycle), strings.Join(steps, "; ")),
			SourceIDs: ids,
			Score:     int64(len(cycle)),
		})
	}
	return findings
}
