package milestone

// DefaultThresholds are the active-day counts the study celebrates: a
// midpoint encouragement at 7 and the completion notice at 14.
var DefaultThresholds = []int{7, 14}

// Detect returns every threshold newly crossed by moving from prevCount to
// newCount that has not already been sent, in ascending order. It is a pure
// function: callers own the bookkeeping of marking returned thresholds as
// sent. thresholds must be in ascending order.
//
// A single call may cross several thresholds at once (e.g. a count jump from
// 6 to 15 fires both 7 and 14); the ledger only ever advances counts by one,
// but Detect does not rely on that.
func Detect(prevCount, newCount int, alreadySent map[int]bool, thresholds []int) []int {
	fired := make([]int, 0, len(thresholds))
	for _, t := range thresholds {
		if prevCount < t && t <= newCount && !alreadySent[t] {
			fired = append(fired, t)
		}
	}
	return fired
}
