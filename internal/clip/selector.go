package clip

import "sort"

// SelectBest returns the highest-scoring subset of clips whose cumulative
// native duration first reaches targetDuration. Sorting is stable, so
// equal scores keep their input order. When the material does not cover
// the target, every clip is returned; under-fill is the caller's problem
// to report.
func SelectBest(clips []*Clip, targetDuration float64) []*Clip {
	ranked := make([]*Clip, len(clips))
	copy(ranked, clips)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})

	var selected []*Clip
	var total float64
	for _, c := range ranked {
		if total >= targetDuration {
			break
		}
		total += c.NativeDuration
		selected = append(selected, c)
	}
	return selected
}
