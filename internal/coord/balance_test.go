package coord

import (
	"fmt"
	"math/rand"
	"reflect"
	"sort"
	"testing"
	"testing/quick"
	"time"
)

func rangeIDs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("r-%03d", i)
	}
	return out
}

func replicaIDs(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("replica-%d", i)
	}
	return out
}

func checkBalanced(t *testing.T, owners map[string][]string, ranges, live []string) {
	t.Helper()
	a := Assignment{Owners: owners}
	if err := a.Validate(ranges); err != nil {
		t.Fatalf("not a partition: %v (%v)", err, owners)
	}
	min, max := len(ranges), 0
	for _, id := range live {
		n := len(owners[id])
		if n < min {
			min = n
		}
		if n > max {
			max = n
		}
	}
	if max-min > 1 {
		t.Fatalf("uneven sizes min=%d max=%d: %v", min, max, owners)
	}
}

func TestBalanceFresh(t *testing.T) {
	ranges := rangeIDs(8)
	live := replicaIDs(3)
	got := Balance(nil, ranges, live)
	checkBalanced(t, got, ranges, live)
	want := map[string][]string{
		"replica-0": {"r-000", "r-001", "r-002"},
		"replica-1": {"r-003", "r-004", "r-005"},
		"replica-2": {"r-006", "r-007"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestBalanceStableMembershipNoMoves(t *testing.T) {
	ranges := rangeIDs(10)
	live := replicaIDs(3)
	first := Balance(nil, ranges, live)
	second := Balance(first, ranges, live)
	if !SameOwners(first, second) {
		t.Fatalf("stable membership moved ranges: %v -> %v", first, second)
	}
}

func TestBalanceReplicaLeaves(t *testing.T) {
	ranges := rangeIDs(9)
	live := replicaIDs(3)
	before := Balance(nil, ranges, live)

	survivors := live[:2]
	after := Balance(before, ranges, survivors)
	checkBalanced(t, after, ranges, survivors)
	if _, ok := after["replica-2"]; ok {
		t.Fatalf("departed replica still owns ranges: %v", after)
	}
	for _, id := range survivors {
		kept := map[string]bool{}
		for _, r := range after[id] {
			kept[r] = true
		}
		for _, r := range before[id] {
			if !kept[r] {
				t.Fatalf("%s lost %s although it stayed live", id, r)
			}
		}
	}
}

func TestBalanceReplicaJoinsMovesMinimum(t *testing.T) {
	ranges := rangeIDs(8)
	before := Balance(nil, ranges, replicaIDs(2))
	live := replicaIDs(3)
	after := Balance(before, ranges, live)
	checkBalanced(t, after, ranges, live)

	moved := 0
	for _, id := range replicaIDs(2) {
		kept := map[string]bool{}
		for _, r := range after[id] {
			kept[r] = true
		}
		for _, r := range before[id] {
			if !kept[r] {
				moved++
			}
		}
	}
	if moved != len(after["replica-2"]) {
		t.Fatalf("moved %d ranges, newcomer got %d", moved, len(after["replica-2"]))
	}
}

func TestBalanceNoLiveReplicas(t *testing.T) {
	if got := Balance(map[string][]string{"a": {"r-000"}}, rangeIDs(1), nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
}

func TestBalanceDropsUnknownRanges(t *testing.T) {
	ranges := rangeIDs(2)
	got := Balance(map[string][]string{"a": {"r-000", "r-099"}}, ranges, []string{"a"})
	if !reflect.DeepEqual(got["a"], ranges) {
		t.Fatalf("got %v", got)
	}
}

func TestBalanceProperty(t *testing.T) {
	cfg := &quick.Config{Rand: rand.New(rand.NewSource(time.Now().UnixNano()))}
	prop := func(nRanges, nReplicas uint8, seed int64) bool {
		ranges := rangeIDs(int(nRanges%64) + 1)
		live := replicaIDs(int(nReplicas%9) + 1)

		rnd := rand.New(rand.NewSource(seed))
		current := map[string][]string{}
		pool := replicaIDs(len(live) + 2)
		for _, r := range ranges {
			if rnd.Intn(4) == 0 {
				continue
			}
			id := pool[rnd.Intn(len(pool))]
			current[id] = append(current[id], r)
		}

		got := Balance(current, ranges, live)
		if err := (Assignment{Owners: got}).Validate(ranges); err != nil {
			return false
		}
		sizes := make([]int, 0, len(live))
		for _, id := range live {
			sizes = append(sizes, len(got[id]))
		}
		sort.Ints(sizes)
		if sizes[len(sizes)-1]-sizes[0] > 1 {
			return false
		}
		return SameOwners(got, Balance(got, ranges, live))
	}
	if err := quick.Check(prop, cfg); err != nil {
		t.Fatalf("balance property failed: %v", err)
	}
}
