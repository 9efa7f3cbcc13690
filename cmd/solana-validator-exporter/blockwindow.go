package main

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/svmlabs/solana-validator-exporter/pkg/rpc"
	"github.com/svmlabs/solana-validator-exporter/pkg/slog"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type SlotStatus string

const (
	// StatusProduced means the node returned block data for the slot.
	StatusProduced SlotStatus = "produced"
	// StatusSkipped means the node explicitly reported the slot skipped.
	// Only this signal marks a skip; absence of data never does.
	StatusSkipped SlotStatus = "skipped"
	// StatusUpcoming means the slot has not been reached yet.
	StatusUpcoming SlotStatus = "upcoming"
	// StatusNoData means the node pruned the slot from its history. It must
	// never be conflated with StatusSkipped, nor counted against skip rate.
	StatusNoData SlotStatus = "no-data"
	// StatusError is any other fetch failure, surfaced with its detail.
	StatusError SlotStatus = "error"
)

// LeaderSlotRecord is one row of the block-production table: a slot in the
// window around the current confirmed slot. Past rows exist only for the
// tracked validator's leader slots; upcoming rows cover every slot, flagged
// with whether the tracked validator leads them.
type LeaderSlotRecord struct {
	Slot       int64      `json:"slot"`
	Epoch      int64      `json:"epoch"`
	EpochIndex int64      `json:"epoch_index"`
	IsLeader   bool       `json:"is_leader"`
	Status     SlotStatus `json:"status"`

	Blockhash           string `json:"blockhash,omitempty"`
	Transactions        int    `json:"transactions,omitempty"`
	VoteTransactions    int    `json:"vote_transactions,omitempty"`
	NonVoteTransactions int    `json:"non_vote_transactions,omitempty"`
	FeeLamports         int64  `json:"fee_lamports,omitempty"`
	ComputeUnits        int64  `json:"compute_units,omitempty"`

	EtaSeconds float64 `json:"eta_seconds,omitempty"`
	Error      string  `json:"error,omitempty"`
}

// BlockWindow reconstructs per-slot detail for a bounded window around the
// current confirmed slot. It runs on demand, outside the scrape cycle, and
// reads only the last published snapshot's epoch context. Its findings are
// display data; skip rate always comes from the aggregate counters.
type BlockWindow struct {
	client *rpc.Client
	config *Config
	logger *zap.SugaredLogger

	mu   sync.Mutex
	last []LeaderSlotRecord
}

func NewBlockWindow(client *rpc.Client, config *Config) *BlockWindow {
	return &BlockWindow{client: client, config: config, logger: slog.Get()}
}

// Last returns the records of the most recent fetch, or nil if none has run.
func (w *BlockWindow) Last() []LeaderSlotRecord {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Fetch builds the block table for the window around the current confirmed
// slot. Block fetches run concurrently under the configured limit; a failed
// slot is reported in its own record and never blocks the others.
func (w *BlockWindow) Fetch(ctx context.Context, snapshot *Snapshot) ([]LeaderSlotRecord, error) {
	if snapshot == nil || snapshot.Epoch == nil {
		return nil, fmt.Errorf("no epoch context available yet")
	}

	currentSlot, err := w.client.GetSlot(ctx, rpc.CommitmentConfirmed)
	if err != nil {
		return nil, fmt.Errorf("failed to get current slot: %w", err)
	}

	var (
		firstSlot = currentSlot - int64(w.config.WindowBehind)
		lastSlot  = currentSlot + int64(w.config.WindowAhead)
		slotTime  = snapshot.SlotTimeEstimate()
		records   []LeaderSlotRecord
	)
	if firstSlot < 0 {
		firstSlot = 0
	}

	for slot := firstSlot; slot <= lastSlot; slot++ {
		isLeader := slices.Contains(snapshot.AssignedSlots, slot)
		if slot >= currentSlot {
			records = append(records, LeaderSlotRecord{
				Slot:       slot,
				Epoch:      snapshot.Epoch.Epoch,
				EpochIndex: slot - snapshot.Epoch.FirstSlot,
				IsLeader:   isLeader,
				Status:     StatusUpcoming,
				EtaSeconds: (time.Duration(slot-currentSlot) * slotTime).Seconds(),
			})
			continue
		}
		if !isLeader {
			// past slots led by other validators are not part of the table
			continue
		}
		records = append(records, LeaderSlotRecord{
			Slot:       slot,
			Epoch:      snapshot.Epoch.Epoch,
			EpochIndex: slot - snapshot.Epoch.FirstSlot,
			IsLeader:   true,
		})
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(w.config.BlockConcurrency)
	for i := range records {
		record := &records[i]
		if record.Status == StatusUpcoming {
			continue
		}
		group.Go(func() error {
			w.fetchSlot(groupCtx, record)
			return nil
		})
	}
	_ = group.Wait()

	w.mu.Lock()
	w.last = records
	w.mu.Unlock()
	return records, nil
}

// fetchSlot resolves one past leader slot into its final classification.
func (w *BlockWindow) fetchSlot(ctx context.Context, record *LeaderSlotRecord) {
	block, err := w.client.GetBlock(ctx, rpc.CommitmentConfirmed, record.Slot)
	switch {
	case err == nil:
		voteCount := CountVoteTransactions(block)
		record.Status = StatusProduced
		record.Blockhash = block.Blockhash
		record.Transactions = len(block.Transactions)
		record.VoteTransactions = voteCount
		record.NonVoteTransactions = len(block.Transactions) - voteCount
		record.FeeLamports = block.FeeLamports()
		record.ComputeUnits = block.ComputeUnits()
	case rpc.IsSlotSkipped(err):
		record.Status = StatusSkipped
	case rpc.IsPruned(err):
		record.Status = StatusNoData
	default:
		record.Status = StatusError
		record.Error = err.Error()
		w.logger.Warnf("Failed to fetch block for slot %d: %v", record.Slot, err)
	}
}
