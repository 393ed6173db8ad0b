package coord

import "sort"

// Balance distributes ranges over live replicas as evenly as possible
// (sizes differ by at most one). A live replica keeps the ranges it already
// owns up to its quota; the larger quotas go to the replicas currently
// holding the most, so a stable membership produces no moves. The result is
// deterministic for a given input.
func Balance(current map[string][]string, ranges []string, live []string) map[string][]string {
	if len(live) == 0 {
		return nil
	}
	valid := make(map[string]bool, len(ranges))
	for _, r := range ranges {
		valid[r] = true
	}

	replicas := append([]string(nil), live...)
	sort.Strings(replicas)
	held := make(map[string][]string, len(replicas))
	taken := make(map[string]bool, len(ranges))
	for _, id := range replicas {
		rs := append([]string(nil), current[id]...)
		sort.Strings(rs)
		for _, r := range rs {
			if valid[r] && !taken[r] {
				taken[r] = true
				held[id] = append(held[id], r)
			}
		}
	}

	order := append([]string(nil), replicas...)
	sort.SliceStable(order, func(i, j int) bool { return len(held[order[i]]) > len(held[order[j]]) })
	base, extra := len(ranges)/len(replicas), len(ranges)%len(replicas)
	quota := make(map[string]int, len(replicas))
	for i, id := range order {
		quota[id] = base
		if i < extra {
			quota[id]++
		}
	}

	out := make(map[string][]string, len(replicas))
	assigned := make(map[string]bool, len(ranges))
	for _, id := range replicas {
		keep := held[id]
		if len(keep) > quota[id] {
			keep = keep[:quota[id]]
		}
		for _, r := range keep {
			assigned[r] = true
		}
		out[id] = append([]string{}, keep...)
	}

	pool := make([]string, 0, len(ranges))
	for _, r := range ranges {
		if !assigned[r] {
			pool = append(pool, r)
		}
	}
	sort.Strings(pool)
	for _, id := range replicas {
		for len(out[id]) < quota[id] && len(pool) > 0 {
			out[id] = append(out[id], pool[0])
			pool = pool[1:]
		}
		sort.Strings(out[id])
	}
	return out
}
