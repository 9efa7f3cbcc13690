package main

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/svmlabs/solana-validator-exporter/pkg/price"
	"github.com/svmlabs/solana-validator-exporter/pkg/rpc"
	"github.com/svmlabs/solana-validator-exporter/pkg/slog"
	"go.uber.org/zap"
)

type (
	// RewardRecord is the tracked vote account's inflation reward for one
	// epoch. Available is false while the epoch's rewards have not
	// finalized; a reward of exactly zero lamports is still Available.
	RewardRecord struct {
		Epoch         int64
		Lamports      int64
		Sol           float64
		Usd           decimal.Decimal
		UsdAvailable  bool
		EffectiveSlot int64
		PostBalance   int64
		Available     bool
	}

	// FeeEstimate is the fee income attributed to the validator's produced
	// blocks in the current epoch.
	FeeEstimate struct {
		Lamports  int64
		Sol       float64
		Available bool
		// Source is "blocks" when actual per-block fees from the block
		// window refined the estimate, "aggregate" otherwise.
		Source string
	}

	// RewardsReport is the economics section of one snapshot: the last two
	// closed epochs' inflation rewards plus the current epoch's fee income.
	RewardsReport struct {
		LastEpoch  RewardRecord
		PriorEpoch RewardRecord
		EpochFees  FeeEstimate
		Errors     []CycleError
	}
)

// RewardsTracker queries inflation rewards and derives fee income. Finalized
// rewards never change, so successful lookups are cached per epoch; misses
// are retried every cycle since the reward may finalize later.
type RewardsTracker struct {
	client *rpc.Client
	config *Config
	logger *zap.SugaredLogger

	mu    sync.Mutex
	cache map[int64]*rpc.InflationReward
}

func NewRewardsTracker(client *rpc.Client, config *Config) *RewardsTracker {
	return &RewardsTracker{
		client: client,
		config: config,
		logger: slog.Get(),
		cache:  make(map[int64]*rpc.InflationReward),
	}
}

// Collect builds the rewards report for the current epoch. quote, production
// and window may each be nil/empty; every missing input only narrows the
// report, never fails it.
func (t *RewardsTracker) Collect(
	ctx context.Context,
	epoch int64,
	quote *price.Quote,
	production *ProductionStats,
	window []LeaderSlotRecord,
) *RewardsReport {
	report := &RewardsReport{}
	report.LastEpoch = t.epochReward(ctx, epoch-1, quote, report)
	report.PriorEpoch = t.epochReward(ctx, epoch-2, quote, report)
	report.EpochFees = estimateEpochFees(epoch, production, window)
	return report
}

func (t *RewardsTracker) epochReward(
	ctx context.Context, epoch int64, quote *price.Quote, report *RewardsReport,
) RewardRecord {
	record := RewardRecord{Epoch: epoch}
	if epoch < 0 {
		return record
	}

	reward, err := t.lookupReward(ctx, epoch)
	if err != nil {
		kind := rpc.Classify(err)
		report.Errors = append(report.Errors, CycleError{
			Source: "inflation-reward",
			Kind:   kind.String(),
			Detail: err.Error(),
		})
		t.logger.Warnf("Inflation reward for epoch %d unavailable (%s): %v", epoch, kind, err)
		return record
	}
	if reward == nil {
		// not finalized yet. reporting zero here would be wrong: zero is a
		// valid reward value
		t.logger.Debugf("Inflation reward for epoch %d not finalized yet", epoch)
		return record
	}

	record.Available = true
	record.Lamports = reward.Amount
	record.Sol = float64(reward.Amount) / float64(rpc.LamportsInSol)
	record.EffectiveSlot = reward.EffectiveSlot
	record.PostBalance = reward.PostBalance
	if quote != nil {
		record.Usd = decimal.NewFromFloat(record.Sol).Mul(quote.Rate)
		record.UsdAvailable = true
	}
	return record
}

func (t *RewardsTracker) lookupReward(ctx context.Context, epoch int64) (*rpc.InflationReward, error) {
	t.mu.Lock()
	cached, ok := t.cache[epoch]
	t.mu.Unlock()
	if ok {
		return cached, nil
	}

	rewards, err := t.client.GetInflationReward(
		ctx, rpc.CommitmentFinalized, []string{t.config.VoteAccount}, epoch,
	)
	if err != nil {
		return nil, err
	}
	if len(rewards) == 0 || rewards[0] == nil {
		return nil, nil
	}

	t.mu.Lock()
	t.cache[epoch] = rewards[0]
	t.mu.Unlock()
	return rewards[0], nil
}

// estimateEpochFees derives the current epoch's fee income. Actual per-block
// fees observed by the block window take precedence for the blocks they
// cover; the remaining blocks are filled in at the observed mean fee. With
// no observed block there is no fee signal to extrapolate from, so the
// estimate is unavailable unless the validator produced nothing (a real
// zero).
func estimateEpochFees(epoch int64, production *ProductionStats, window []LeaderSlotRecord) FeeEstimate {
	var (
		observedFees   int64
		observedBlocks int64
	)
	for _, record := range window {
		if record.Status == StatusProduced && record.Epoch == epoch {
			observedFees += record.FeeLamports
			observedBlocks++
		}
	}

	if production == nil {
		// without the aggregate counters the observed sum cannot be scaled
		// to the whole epoch
		return FeeEstimate{}
	}
	if production.BlocksProduced == 0 {
		return FeeEstimate{Available: true, Source: "aggregate"}
	}
	if observedBlocks == 0 {
		return FeeEstimate{}
	}

	averageFee := observedFees / observedBlocks
	remaining := production.BlocksProduced - observedBlocks
	if remaining < 0 {
		remaining = 0
	}
	total := observedFees + averageFee*remaining
	return FeeEstimate{
		Lamports:  total,
		Sol:       float64(total) / float64(rpc.LamportsInSol),
		Available: true,
		Source:    "blocks",
	}
}
