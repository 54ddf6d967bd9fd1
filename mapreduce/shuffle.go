package mapreduce

import (
	"sort"

	log "github.com/sirupsen/logrus"
)

// sortIntermediate puts one worker's map output into ascending key
// order, the precondition shuffle relies on to examine only each
// vector's tail.
func sortIntermediate(pairs []IntermediatePair) {
	sort.SliceStable(pairs, func(i, j int) bool {
		return pairs[i].Key.Less(pairs[j].Key)
	})
}

func keysEqual(a, b Key) bool {
	return !a.Less(b) && !b.Less(a)
}

// maxTailKey returns the largest key among every vector's last
// (remaining) element, and false once every vector is empty.
func maxTailKey(vectors [][]IntermediatePair) (Key, bool) {
	var best Key
	found := false
	for _, v := range vectors {
		if len(v) == 0 {
			continue
		}
		k := v[len(v)-1].Key
		if !found || best.Less(k) {
			best = k
			found = true
		}
	}
	return best, found
}

// shuffleVectors implements spec.md §4.7: repeatedly pull the largest
// remaining key across all sorted worker vectors, pop every trailing
// element equal to it from every vector, and append the collected
// group to the output in strictly descending key order. Ordering of
// pairs within a group is unspecified.
//
// prog tracks shuffle progress as completed pairs against the total
// pre-shuffle pair count (spec.md §9's preferred fix for the source's
// groups-vs-pairs denominator bug), so percent reaches exactly 100 at
// the end regardless of how pairs distribute across groups.
func shuffleVectors(vectors [][]IntermediatePair, prog *progress) []*Group {
	var groups []*Group
	for {
		best, ok := maxTailKey(vectors)
		if !ok {
			break
		}

		var values []interface{}
		for i, v := range vectors {
			for len(v) > 0 && keysEqual(v[len(v)-1].Key, best) {
				values = append(values, v[len(v)-1].Value)
				v = v[:len(v)-1]
			}
			vectors[i] = v
		}

		groups = append(groups, &Group{Key: best, Values: values})
		prog.addCompleted(uint32(len(values)))
		log.Debugf("mapreduce: shuffle grouped %d pairs into group %d", len(values), len(groups))
	}
	return groups
}
