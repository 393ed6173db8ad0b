package coord

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	// ErrLeaseHeld is returned by AcquireLease when another replica holds a
	// live lease.
	ErrLeaseHeld = errors.New("coord: lease held by another replica")
	// ErrNotLeader is returned by RenewLease when the lease was lost.
	ErrNotLeader = errors.New("coord: not the lease holder")
	// ErrFenced is returned when a write carries a fencing token that is no
	// longer current.
	ErrFenced = errors.New("coord: stale fencing token")
)

// Clock returns the current time.
type Clock func() time.Time

// Role is the election state of a replica.
type Role int32

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	}
	return "unknown"
}

// Lease is the leader lease record.
type Lease struct {
	Holder       string    `json:"holder"`
	ExpiresAt    time.Time `json:"expiresAt"`
	FencingToken uint64    `json:"fencingToken"`
}

// Live reports whether the lease is held and unexpired at now.
func (l Lease) Live(now time.Time) bool { return l.Holder != "" && now.Before(l.ExpiresAt) }

// NextLease computes the result of replicaID acquiring the lease given the
// stored one. Reacquiring one's own live lease extends it under the same
// token; any other successful acquisition increments the token.
func NextLease(stored Lease, replicaID string, ttl time.Duration, now time.Time) (Lease, error) {
	if stored.Live(now) && stored.Holder != replicaID {
		return stored, ErrLeaseHeld
	}
	next := Lease{Holder: replicaID, ExpiresAt: now.Add(ttl), FencingToken: stored.FencingToken}
	if !(stored.Live(now) && stored.Holder == replicaID) {
		next.FencingToken++
	}
	return next, nil
}

// RenewedLease extends held if it is still the stored, live lease.
func RenewedLease(stored, held Lease, ttl time.Duration, now time.Time) (Lease, error) {
	if stored.Holder != held.Holder || stored.FencingToken != held.FencingToken || !stored.Live(now) {
		return stored, ErrNotLeader
	}
	return Lease{Holder: held.Holder, ExpiresAt: now.Add(ttl), FencingToken: held.FencingToken}, nil
}

// CheckFence verifies that held is the stored lease and still live.
func CheckFence(stored, held Lease, now time.Time) error {
	if stored.Holder != held.Holder || stored.FencingToken != held.FencingToken || !stored.Live(now) {
		return fmt.Errorf("%w: lease %s/%d, writer %s/%d", ErrFenced, stored.Holder, stored.FencingToken, held.Holder, held.FencingToken)
	}
	return nil
}

// Status is a replica's self-reported state.
type Status string

const (
	StatusActive   Status = "active"
	StatusDraining Status = "draining"
)

// Heartbeat is one row of the heartbeat table.
type Heartbeat struct {
	ReplicaID  string    `json:"replicaId"`
	LastSeenAt time.Time `json:"lastSeenAt"`
	Status     Status    `json:"status"`
}

// Alive reports whether the replica should own ranges at now.
func (h Heartbeat) Alive(now time.Time, eviction time.Duration) bool {
	return h.Status == StatusActive && now.Sub(h.LastSeenAt) <= eviction
}

// Assignment maps replica ids to the ranges they own.
type Assignment struct {
	Generation   uint64              `json:"generation"`
	FencingToken uint64              `json:"fencingToken"`
	Owners       map[string][]string `json:"owners"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// RangesOf returns the ranges owned by replicaID.
func (a Assignment) RangesOf(replicaID string) []string { return a.Owners[replicaID] }

// OwnerOf returns the replica owning rangeID.
func (a Assignment) OwnerOf(rangeID string) (string, bool) {
	for r, rs := range a.Owners {
		for _, x := range rs {
			if x == rangeID {
				return r, true
			}
		}
	}
	return "", false
}

// Validate checks that the owners form a partition of ranges: every range
// owned exactly once and nothing else owned.
func (a Assignment) Validate(ranges []string) error {
	want := make(map[string]bool, len(ranges))
	for _, r := range ranges {
		want[r] = false
	}
	for replica, rs := range a.Owners {
		for _, r := range rs {
			seen, ok := want[r]
			if !ok {
				return fmt.Errorf("replica %s owns unknown range %s", replica, r)
			}
			if seen {
				return fmt.Errorf("range %s is owned twice", r)
			}
			want[r] = true
		}
	}
	for r, seen := range want {
		if !seen {
			return fmt.Errorf("range %s is unassigned", r)
		}
	}
	return nil
}

// SameOwners reports whether two owner maps are equal ignoring order and
// empty entries.
func SameOwners(a, b map[string][]string) bool {
	norm := func(m map[string][]string) map[string][]string {
		out := make(map[string][]string, len(m))
		for k, v := range m {
			if len(v) == 0 {
				continue
			}
			s := append([]string(nil), v...)
			sort.Strings(s)
			out[k] = s
		}
		return out
	}
	na, nb := norm(a), norm(b)
	if len(na) != len(nb) {
		return false
	}
	for k, va := range na {
		vb, ok := nb[k]
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if va[i] != vb[i] {
				return false
			}
		}
	}
	return true
}
