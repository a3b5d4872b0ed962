package coordinator

import (
	"sort"

	"wardsync/internal/clock"
	"wardsync/internal/entity"
)

type groupKey struct {
	entityType entity.Type
	entityID   string
}

// groupByEntity splits a batch into per-entity groups, preserving the
// order in which entities first appear.
func groupByEntity(batch []entity.Operation) ([]groupKey, map[groupKey][]entity.Operation) {
	keys := make([]groupKey, 0, len(batch))
	groups := make(map[groupKey][]entity.Operation, len(batch))
	for _, op := range batch {
		key := groupKey{entityType: op.EntityType, entityID: op.EntityID}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], op)
	}
	return keys, groups
}

// sortCausal orders one entity's operations so that every operation is
// scheduled after all operations its clock strictly succeeds. Clock
// dominance is a strict partial order, so the graph is acyclic and the
// schedule always drains. Concurrent operations and exact duplicates
// carry no edges; the ready set is drained in (client timestamp, node,
// counter) order so any permutation of the input yields one schedule.
func sortCausal(ops []entity.Operation) []entity.Operation {
	if len(ops) < 2 {
		return ops
	}

	indegree := make([]int, len(ops))
	successors := make([][]int, len(ops))
	for i := range ops {
		for j := range ops {
			if i != j && ops[i].Clock.Compare(ops[j].Clock) == clock.Precedes {
				successors[i] = append(successors[i], j)
				indegree[j]++
			}
		}
	}

	ready := make([]int, 0, len(ops))
	for i, deg := range indegree {
		if deg == 0 {
			ready = append(ready, i)
		}
	}

	ordered := make([]entity.Operation, 0, len(ops))
	for len(ready) > 0 {
		sort.Slice(ready, func(a, b int) bool {
			return opLess(ops[ready[a]], ops[ready[b]])
		})
		next := ready[0]
		ready = ready[1:]
		ordered = append(ordered, ops[next])
		for _, succ := range successors[next] {
			indegree[succ]--
			if indegree[succ] == 0 {
				ready = append(ready, succ)
			}
		}
	}
	return ordered
}

func opLess(a, b entity.Operation) bool {
	if a.ClientTS != b.ClientTS {
		return a.ClientTS < b.ClientTS
	}
	if a.Node != b.Node {
		return a.Node < b.Node
	}
	return a.Clock.Counter(a.Node) < b.Clock.Counter(b.Node)
}
