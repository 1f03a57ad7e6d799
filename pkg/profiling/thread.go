// Package profiling groups threads of a dump into pools.
package profiling

import (
	"sort"

	"github.com/dump-correlator/pkg/model"
)

// ExtractThreadGroup extracts the thread group name by removing trailing numbers and separators.
// For example: "grpc-nio-worker-1" -> "grpc-nio-worker"
func ExtractThreadGroup(threadName string) string {
	name := threadName
	for len(name) > 0 {
		lastChar := name[len(name)-1]
		if lastChar >= '0' && lastChar <= '9' {
			name = name[:len(name)-1]
		} else if lastChar == '-' || lastChar == '_' || lastChar == '#' {
			name = name[:len(name)-1]
		} else {
			break
		}
	}
	if name == "" {
		return threadName
	}
	return name
}

// GroupCount is the number of threads of one group.
type GroupCount struct {
	Group string `json:"group"`
	Count int    `json:"count"`
}

// WaitingGroups counts the threads that wait on a monitor, per thread group.
// The result is ordered by count descending, then group name.
func WaitingGroups(threads []model.ThreadSnapshot) []GroupCount {
	counts := make(map[string]int)
	for i := range threads {
		t := &threads[i]
		if !t.State.IsWaiting() || t.BlockedOn == "" {
			continue
		}
		counts[ExtractThreadGroup(t.ID)]++
	}

	groups := make([]GroupCount, 0, len(counts))
	for g, n := range counts {
		groups = append(groups, GroupCount{Group: g, Count: n})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].Count != groups[j].Count {
			return groups[i].Count > groups[j].Count
		}
		return groups[i].Group < groups[j].Group
	})
	return groups
}
