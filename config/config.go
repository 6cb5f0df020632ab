// Package config holds the static, per-epoch validator set and the local
// replica's own identity and keys. The set is immutable for the lifetime
// of an epoch: rotation is handled by an outer protocol, not by this
// package (dynamic validator-set reconfiguration mid-view is a non-goal
// of the consensus core).
package config

import (
	"crypto/ecdsa"
	"fmt"
)

// ReplicaInfo describes one member of the validator set.
type ReplicaInfo struct {
	ID      hotshotID
	Address string
	PubKey  *ecdsa.PublicKey
	BLSPub  []byte // compressed BLS12-381 public key, nil if the epoch uses ECDSA multi-sig
	Stake   uint64
}

// hotshotID mirrors hotshot.ID without importing the root package, which
// would create an import cycle (config is imported by modules, which is
// imported by the root package's consumers). Conversions are explicit at
// the boundary in ReplicaSet below.
type hotshotID = uint32

// ReplicaSet is the ordered, immutable validator set for one epoch.
type ReplicaSet struct {
	order    []hotshotID
	replicas map[hotshotID]ReplicaInfo
	total    uint64
}

// NewReplicaSet builds a ReplicaSet from an ordered list of replicas. The
// order given is the order used for round-robin leader rotation.
func NewReplicaSet(replicas []ReplicaInfo) *ReplicaSet {
	rs := &ReplicaSet{
		replicas: make(map[hotshotID]ReplicaInfo, len(replicas)),
	}
	for _, r := range replicas {
		rs.order = append(rs.order, r.ID)
		rs.replicas[r.ID] = r
		rs.total += r.Stake
	}
	return rs
}

// Get returns the ReplicaInfo for id.
func (rs *ReplicaSet) Get(id hotshotID) (ReplicaInfo, bool) {
	r, ok := rs.replicas[id]
	return r, ok
}

// Len returns the number of replicas (including any stake-zero observers
// would not belong here; all members are assumed stake-bearing voters).
func (rs *ReplicaSet) Len() int { return len(rs.order) }

// Order returns the round-robin order used for leader rotation.
func (rs *ReplicaSet) Order() []hotshotID {
	out := make([]hotshotID, len(rs.order))
	copy(out, rs.order)
	return out
}

// TotalStake returns T, the sum of all replicas' stake.
func (rs *ReplicaSet) TotalStake() uint64 { return rs.total }

// QuorumThreshold returns Q = ceil(2T/3) + 1, strictly more than two
// thirds of total stake.
func (rs *ReplicaSet) QuorumThreshold() uint64 {
	t := rs.total
	return (2*t+2)/3 + 1
}

// TimeoutThreshold returns F+1 = floor(T/3) + 1, the stake needed to
// attest data availability, enough to prove at least one honest replica
// observed a fact. Timeout certificates seal at QuorumThreshold, not here.
func (rs *ReplicaSet) TimeoutThreshold() uint64 {
	return rs.total/3 + 1
}

// StakeOf returns the stake weight of id, or 0 if unknown.
func (rs *ReplicaSet) StakeOf(id hotshotID) uint64 {
	return rs.replicas[id].Stake
}

// ReplicaConfig is this process's view of the epoch: the full validator
// set, its own ID within it, and its private signing material.
type ReplicaConfig struct {
	ID         hotshotID
	Set        *ReplicaSet
	PrivateKey *ecdsa.PrivateKey
	BLSPriv    []byte // nil if the epoch uses ECDSA multi-sig instead of BLS aggregation
}

// Self returns the local replica's own ReplicaInfo.
func (c *ReplicaConfig) Self() ReplicaInfo {
	info, ok := c.Set.Get(c.ID)
	if !ok {
		panic(fmt.Errorf("config: own ID %d missing from validator set", c.ID))
	}
	return info
}
