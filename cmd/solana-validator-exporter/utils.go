package main

import (
	"fmt"
	"slices"

	"github.com/svmlabs/solana-validator-exporter/pkg/rpc"
)

const VoteProgram = "Vote111111111111111111111111111111111111111"

// toString is just a simple utility function for converting to strings
func toString(i any) string {
	return fmt.Sprintf("%v", i)
}

// GetEpochBounds returns the first slot and last slot within an [inclusive] Epoch
func GetEpochBounds(info *rpc.EpochInfo) (int64, int64) {
	firstSlot := info.AbsoluteSlot - info.SlotIndex
	return firstSlot, firstSlot + info.SlotsInEpoch - 1
}

// AssignedSlots extracts the identity's leader slots from an epoch leader
// schedule and converts them from epoch-relative indexes to absolute slots.
// The boolean reports whether the identity appears in the schedule at all.
func AssignedSlots(schedule map[string][]int64, identity string, epochFirstSlot int64) ([]int64, bool) {
	indexes, ok := schedule[identity]
	if !ok {
		return nil, false
	}
	absolute := make([]int64, len(indexes))
	for i, index := range indexes {
		absolute[i] = epochFirstSlot + index
	}
	slices.Sort(absolute)
	return absolute, true
}

// CountVoteTransactions counts the block's transactions that invoke the vote
// program.
func CountVoteTransactions(block *rpc.Block) int {
	voteCount := 0
	for _, tx := range block.Transactions {
		if slices.Contains(tx.Transaction.Message.AccountKeys, VoteProgram) {
			voteCount++
		}
	}
	return voteCount
}
