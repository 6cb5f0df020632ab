// Package leaderrotation implements modules.LeaderRotation: mapping a
// view to the ID of its leader, deterministically and identically for
// every correct replica. Grounded on
// TTorgersen-Hotstuff_Repbased_Leader/leaderrotation/fixed.go's
// GetLeader(view)/NewFixed(leader) shape, generalized from a single fixed
// leader to round-robin over the validator set's order per spec's
// requirement that "the leader schedule is public and the same function
// of the validator set everywhere".
package leaderrotation

import (
	"github.com/hkey0/HotShot"
	"github.com/hkey0/HotShot/config"
	"github.com/hkey0/HotShot/modules"
)

type roundRobin struct {
	order []hotshot.ID
}

// NewRoundRobin returns a modules.LeaderRotation that cycles through set's
// replicas in the order given at configuration time, one leader per view.
func NewRoundRobin(set *config.ReplicaSet) modules.LeaderRotation {
	order := set.Order()
	rr := roundRobin{order: make([]hotshot.ID, len(order))}
	for i, id := range order {
		rr.order[i] = hotshot.ID(id)
	}
	return rr
}

func (rr roundRobin) GetLeader(view hotshot.View) hotshot.ID {
	if len(rr.order) == 0 {
		return 0
	}
	return rr.order[uint64(view)%uint64(len(rr.order))]
}
