package span

import "sort"

// selectOptimal solves weighted interval scheduling: the returned subset is
// overlap-free and has the largest total score. Equal totals prefer more spans,
// so a lone zero-score candidate is still accepted.
func selectOptimal(cands []candidate) []candidate {
	if len(cands) == 0 {
		return nil
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.end != b.end {
			return a.end < b.end
		}
		if a.start != b.start {
			return a.start < b.start
		}
		if a.score != b.score {
			return a.score > b.score
		}
		return a.label < b.label
	})

	n := len(cands)
	// prev[j] is the number of candidates that end at or before cands[j] starts.
	prev := make([]int, n)
	for j, c := range cands {
		prev[j] = sort.Search(j, func(i int) bool { return cands[i].end > c.start })
	}

	type best struct {
		total float64
		count int
	}
	better := func(a, b best) bool {
		if a.total != b.total {
			return a.total > b.total
		}
		return a.count > b.count
	}

	dp := make([]best, n+1)
	take := make([]bool, n+1)
	for j := 1; j <= n; j++ {
		c := cands[j-1]
		with := best{total: dp[prev[j-1]].total + c.score, count: dp[prev[j-1]].count + 1}
		if better(with, dp[j-1]) {
			dp[j] = with
			take[j] = true
		} else {
			dp[j] = dp[j-1]
		}
	}

	out := make([]candidate, 0, dp[n].count)
	for j := n; j > 0; {
		if take[j] {
			out = append(out, cands[j-1])
			j = prev[j-1]
			continue
		}
		j--
	}
	return out
}
