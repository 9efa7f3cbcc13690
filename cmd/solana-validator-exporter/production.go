package main

import "github.com/svmlabs/solana-validator-exporter/pkg/rpc"

// ProductionStats is the tracked validator's epoch block production derived
// from getBlockProduction's aggregate counters. No per-block calls are
// involved; per-slot detail lives in the block window and never feeds these
// numbers.
type ProductionStats struct {
	// LeaderSlots is the number of leader slots already passed this epoch.
	LeaderSlots int64
	// BlocksProduced is the number of those slots with a confirmed block.
	BlocksProduced int64
	// SkippedSlots is LeaderSlots - BlocksProduced.
	SkippedSlots int64
	// SkipRate is SkippedSlots / LeaderSlots as a percentage.
	SkipRate float64
}

// SkipRate computes the skip-rate percentage for the given counters. A
// validator with no leader slots yet has nothing to skip, so assigned == 0
// yields 0 rather than an error or NaN.
func SkipRate(assigned, produced int64) float64 {
	if assigned == 0 {
		return 0
	}
	return float64(assigned-produced) / float64(assigned) * 100
}

// AnalyzeProduction derives the identity's production stats from the
// aggregate production counters. The boolean is false when the identity is
// absent from the production map, meaning the validator has had no leader
// slots this epoch; callers must report that as unavailable, not as zeros.
func AnalyzeProduction(production *rpc.BlockProduction, identity string) (ProductionStats, bool) {
	counters, ok := production.ByIdentity[identity]
	if !ok {
		return ProductionStats{}, false
	}
	return ProductionStats{
		LeaderSlots:    counters.LeaderSlots,
		BlocksProduced: counters.BlocksProduced,
		SkippedSlots:   counters.LeaderSlots - counters.BlocksProduced,
		SkipRate:       SkipRate(counters.LeaderSlots, counters.BlocksProduced),
	}, true
}
