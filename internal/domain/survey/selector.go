package survey

import "sort"

// QuestionID identifies one question in a group's fixed pool.
type QuestionID string

// Question pools per study group. The pool is fixed for the lifetime of the
// study; a participant only ever sees questions from their own group's pool.
var (
	PoolGroupA = []QuestionID{
		"GA_Q01", "GA_Q02", "GA_Q03", "GA_Q04", "GA_Q05",
		"GA_Q06", "GA_Q07", "GA_Q08", "GA_Q09", "GA_Q10",
	}
	PoolGroupB = []QuestionID{
		"GB_Q01", "GB_Q02", "GB_Q03", "GB_Q04", "GB_Q05",
		"GB_Q06", "GB_Q07", "GB_Q08", "GB_Q09", "GB_Q10",
	}
)

// PoolForGroup returns the question pool for the given group name. Unassigned
// participants get no questions until a group is set.
func PoolForGroup(group string) []QuestionID {
	switch group {
	case "GROUP_A":
		return PoolGroupA
	case "GROUP_B":
		return PoolGroupB
	default:
		return nil
	}
}

// SelectNext picks the next batch of questions to offer, least-answered first.
// Ties keep the pool's original order (stable sort), so selection is
// deterministic for a given pool and count state. counts is not mutated;
// pool entries missing from counts are treated as answered zero times.
func SelectNext(pool []QuestionID, counts map[QuestionID]int, batchSize int) []QuestionID {
	if batchSize <= 0 || len(pool) == 0 {
		return []QuestionID{}
	}

	ordered := make([]QuestionID, len(pool))
	copy(ordered, pool)
	sort.SliceStable(ordered, func(i, j int) bool {
		return counts[ordered[i]] < counts[ordered[j]]
	})

	if batchSize > len(ordered) {
		batchSize = len(ordered)
	}
	return ordered[:batchSize]
}
