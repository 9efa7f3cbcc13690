package main

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/svmlabs/solana-validator-exporter/pkg/price"
	"github.com/svmlabs/solana-validator-exporter/pkg/rpc"
	"github.com/svmlabs/solana-validator-exporter/pkg/slog"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultSlotTime is used for upcoming-slot countdowns until the node has
// served a performance sample.
const defaultSlotTime = 400 * time.Millisecond

type (
	// MetricValue is a metric reading with an explicit unavailable marker,
	// so that "no data" is never rendered as zero.
	MetricValue struct {
		Value     float64
		Available bool
	}

	// EpochContext is the epoch-progress view of one collection cycle. It is
	// written once during merging and read-only afterwards.
	EpochContext struct {
		Epoch            int64
		FirstSlot        int64
		LastSlot         int64
		SlotIndex        int64
		SlotsInEpoch     int64
		AbsoluteSlot     int64
		BlockHeight      int64
		TransactionCount int64
		Progress         float64
		// SlotTime is the estimated wall time per slot.
		SlotTime time.Duration
	}

	// CycleError is a non-fatal per-metric failure recorded during one cycle.
	CycleError struct {
		Source string `json:"source"`
		Kind   string `json:"kind"`
		Detail string `json:"detail"`
	}

	// Snapshot is the immutable result of one collection cycle. It is built
	// during merging, published atomically and never mutated afterwards;
	// readers always observe a fully-formed snapshot from a single cycle.
	Snapshot struct {
		CollectedAt   time.Time
		CycleDuration time.Duration
		// Stale is set when this snapshot is being re-served because a newer
		// cycle was abandoned.
		Stale bool

		Healthy     MetricValue
		SlotsBehind MetricValue
		Version     string

		Epoch       *EpochContext
		ClusterSlot MetricValue
		NetworkTPS  MetricValue

		IdentityBalance MetricValue
		VoteBalance     MetricValue

		ActivatedStake MetricValue
		LastVoteSlot   MetricValue
		RootSlot       MetricValue
		Commission     MetricValue
		Delinquent     MetricValue

		// LeaderSlotsAssigned is the epoch's full leader-slot count from the
		// schedule; AssignedSlots carries the absolute slot numbers for the
		// block window.
		LeaderSlotsAssigned MetricValue
		AssignedSlots       []int64
		// Production is nil when the identity is absent from the production
		// map, which means "no data", not "zero produced".
		Production *ProductionStats

		Rewards *RewardsReport
		Quote   *price.Quote

		Errors []CycleError
	}
)

// SlotTimeEstimate returns the epoch's slot-time estimate, falling back to
// the chain default when no cycle has measured one.
func (s *Snapshot) SlotTimeEstimate() time.Duration {
	if s != nil && s.Epoch != nil && s.Epoch.SlotTime > 0 {
		return s.Epoch.SlotTime
	}
	return defaultSlotTime
}

func available(value float64) MetricValue {
	return MetricValue{Value: value, Available: true}
}

func availableBool(value bool) MetricValue {
	if value {
		return available(1)
	}
	return available(0)
}

// CycleState tracks where the aggregator is within one collection cycle.
type CycleState int32

const (
	StateIdle CycleState = iota
	StateCollecting
	StateMerging
	StatePublished
)

// Aggregator runs the collection pipeline: one cycle per tick, fanned out
// across the independent RPC and price calls, merged into a Snapshot and
// published through an atomic pointer swap.
type Aggregator struct {
	client  *rpc.Client
	quotes  *price.CachingSource
	rewards *RewardsTracker
	window  *BlockWindow
	config  *Config
	logger  *zap.SugaredLogger

	state     atomic.Int32
	published atomic.Pointer[Snapshot]
	// collectMu serializes cycles; a tick that fires while a cycle is still
	// running is skipped rather than queued.
	collectMu sync.Mutex
}

func NewAggregator(
	client *rpc.Client, quotes *price.CachingSource, window *BlockWindow, config *Config,
) *Aggregator {
	return &Aggregator{
		client:  client,
		quotes:  quotes,
		rewards: NewRewardsTracker(client, config),
		window:  window,
		config:  config,
		logger:  slog.Get(),
	}
}

// State returns the aggregator's current cycle state.
func (a *Aggregator) State() CycleState {
	return CycleState(a.state.Load())
}

// Published returns the most recently published snapshot, or nil before the
// first cycle completes.
func (a *Aggregator) Published() *Snapshot {
	return a.published.Load()
}

// Current returns the published snapshot, running a collection cycle first
// if none has been published yet (on-demand use of the encoding interface).
func (a *Aggregator) Current(ctx context.Context) *Snapshot {
	if snapshot := a.published.Load(); snapshot != nil {
		return snapshot
	}
	return a.Collect(ctx)
}

// Run collects on the configured scrape interval until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) {
	ticker := time.NewTicker(a.config.ScrapeInterval)
	defer ticker.Stop()

	a.logger.Infof("Starting collection loop, running every %v", a.config.ScrapeInterval)
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("Stopping collection loop")
			return
		case <-ticker.C:
			a.Collect(ctx)
		}
	}
}

// cycleResults holds one result slot per fanned-out call. Each slot is
// written by exactly one goroutine and read only after the group is joined.
type cycleResults struct {
	health    string
	healthErr error

	voteAccounts *rpc.VoteAccounts
	voteErr      error

	epochInfo *rpc.EpochInfo
	epochErr  error

	version    string
	versionErr error

	clusterSlot    int64
	clusterSlotErr error

	identityBalance    float64
	identityBalanceErr error

	voteBalance    float64
	voteBalanceErr error

	samples    []rpc.PerformanceSample
	samplesErr error

	quote    *price.Quote
	quoteErr error

	schedule    map[string][]int64
	scheduleErr error

	production    *rpc.BlockProduction
	productionErr error
}

// Collect runs one full collection cycle and returns the snapshot that ends
// up published. Per-metric failures are recorded in the snapshot, never
// escalated; only a deadline overrun or both load-bearing calls failing
// aborts the cycle, in which case the previous snapshot is re-served with
// its staleness flag set.
func (a *Aggregator) Collect(ctx context.Context) *Snapshot {
	a.collectMu.Lock()
	defer a.collectMu.Unlock()

	started := time.Now()
	a.state.Store(int32(StateCollecting))
	defer a.state.Store(int32(StateIdle))

	cycleCtx, cancel := context.WithTimeout(ctx, a.config.CycleDeadline)
	defer cancel()

	results := a.fanOut(cycleCtx)

	a.state.Store(int32(StateMerging))

	// a cycle that exceeded its deadline is abandoned: in-flight results are
	// discarded and the previous snapshot is served again, flagged stale.
	if errors.Is(cycleCtx.Err(), context.DeadlineExceeded) {
		a.logger.Warnf("Collection cycle exceeded deadline %v, serving stale snapshot", a.config.CycleDeadline)
		return a.publishStale(started)
	}
	if results.healthErr != nil && results.voteErr != nil && a.published.Load() != nil {
		a.logger.Warn("Both health and vote-accounts calls failed, serving stale snapshot")
		return a.publishStale(started)
	}

	snapshot := a.merge(cycleCtx, results)
	snapshot.CollectedAt = started
	snapshot.CycleDuration = time.Since(started)

	a.published.Store(snapshot)
	a.state.Store(int32(StatePublished))
	a.logger.Debugf("Published snapshot in %v with %d metric errors", snapshot.CycleDuration, len(snapshot.Errors))
	return snapshot
}

// fanOut issues all RPC and price calls for one cycle. Calls with no data
// dependency run concurrently; the leader schedule and block production need
// the epoch info first and are sequenced behind it.
func (a *Aggregator) fanOut(ctx context.Context) *cycleResults {
	var (
		results cycleResults
		group   errgroup.Group
	)

	group.Go(func() error {
		results.health, results.healthErr = a.client.GetHealth(ctx)
		return nil
	})
	group.Go(func() error {
		results.voteAccounts, results.voteErr = a.client.GetVoteAccounts(ctx, rpc.CommitmentConfirmed, a.config.VoteAccount)
		return nil
	})
	group.Go(func() error {
		results.epochInfo, results.epochErr = a.client.GetEpochInfo(ctx, rpc.CommitmentFinalized)
		return nil
	})
	group.Go(func() error {
		results.version, results.versionErr = a.client.GetVersion(ctx)
		return nil
	})
	group.Go(func() error {
		results.clusterSlot, results.clusterSlotErr = a.client.GetSlot(ctx, rpc.CommitmentFinalized)
		return nil
	})
	group.Go(func() error {
		results.identityBalance, results.identityBalanceErr = a.client.GetBalance(ctx, rpc.CommitmentFinalized, a.config.Identity)
		return nil
	})
	group.Go(func() error {
		results.voteBalance, results.voteBalanceErr = a.client.GetBalance(ctx, rpc.CommitmentFinalized, a.config.VoteAccount)
		return nil
	})
	group.Go(func() error {
		results.samples, results.samplesErr = a.client.GetRecentPerformanceSamples(ctx, 5)
		return nil
	})
	group.Go(func() error {
		results.quote, results.quoteErr = a.quotes.Get(ctx)
		return nil
	})
	_ = group.Wait()

	// epoch-scoped calls are sequenced behind the epoch info:
	if results.epochErr == nil {
		epochFirstSlot, _ := GetEpochBounds(results.epochInfo)
		var epochGroup errgroup.Group
		epochGroup.Go(func() error {
			results.schedule, results.scheduleErr = a.client.GetLeaderSchedule(
				ctx, rpc.CommitmentConfirmed, epochFirstSlot, a.config.Identity,
			)
			return nil
		})
		epochGroup.Go(func() error {
			results.production, results.productionErr = a.client.GetBlockProduction(
				ctx, rpc.CommitmentFinalized, a.config.Identity,
			)
			return nil
		})
		_ = epochGroup.Wait()
	}

	return &results
}

// merge folds the cycle's result slots into a fresh snapshot, marking each
// failed metric unavailable and recording the classified failure.
func (a *Aggregator) merge(ctx context.Context, results *cycleResults) *Snapshot {
	snapshot := &Snapshot{}

	fail := func(source string, err error) {
		kind := rpc.Classify(err)
		snapshot.Errors = append(snapshot.Errors, CycleError{Source: source, Kind: kind.String(), Detail: err.Error()})
		a.logger.Warnf("Metric %s unavailable (%s): %v", source, kind, err)
	}

	// health. an unhealthy node is an answer, not a failure:
	if results.healthErr == nil {
		snapshot.Healthy = availableBool(results.health == "ok")
	} else {
		var rpcErr *rpc.RPCError
		if errors.As(results.healthErr, &rpcErr) && rpcErr.Code == rpc.NodeUnhealthyCode {
			snapshot.Healthy = available(0)
			var data rpc.NodeUnhealthyErrorData
			if err := rpc.UnpackRpcErrorData(rpcErr, &data); err == nil {
				snapshot.SlotsBehind = available(float64(data.NumSlotsBehind))
			}
		} else {
			fail("health", results.healthErr)
		}
	}

	if results.versionErr == nil {
		snapshot.Version = results.version
	} else {
		fail("version", results.versionErr)
	}

	if results.clusterSlotErr == nil {
		snapshot.ClusterSlot = available(float64(results.clusterSlot))
	} else {
		fail("cluster-slot", results.clusterSlotErr)
	}

	slotTime := defaultSlotTime
	if results.samplesErr == nil && len(results.samples) > 0 {
		sample := results.samples[0]
		if sample.SamplePeriodSecs > 0 {
			snapshot.NetworkTPS = available(float64(sample.NumTransactions) / float64(sample.SamplePeriodSecs))
		}
		if sample.NumSlots > 0 {
			slotTime = time.Duration(
				float64(sample.SamplePeriodSecs) / float64(sample.NumSlots) * float64(time.Second),
			)
		}
	} else if results.samplesErr != nil {
		fail("performance-samples", results.samplesErr)
	}

	if results.epochErr == nil {
		firstSlot, lastSlot := GetEpochBounds(results.epochInfo)
		progress := float64(0)
		if results.epochInfo.SlotsInEpoch > 0 {
			progress = float64(results.epochInfo.SlotIndex) / float64(results.epochInfo.SlotsInEpoch) * 100
		}
		snapshot.Epoch = &EpochContext{
			Epoch:            results.epochInfo.Epoch,
			FirstSlot:        firstSlot,
			LastSlot:         lastSlot,
			SlotIndex:        results.epochInfo.SlotIndex,
			SlotsInEpoch:     results.epochInfo.SlotsInEpoch,
			AbsoluteSlot:     results.epochInfo.AbsoluteSlot,
			BlockHeight:      results.epochInfo.BlockHeight,
			TransactionCount: results.epochInfo.TransactionCount,
			Progress:         progress,
			SlotTime:         slotTime,
		}
	} else {
		fail("epoch-info", results.epochErr)
	}

	if results.identityBalanceErr == nil {
		snapshot.IdentityBalance = available(results.identityBalance)
	} else {
		fail("identity-balance", results.identityBalanceErr)
	}
	if results.voteBalanceErr == nil {
		snapshot.VoteBalance = available(results.voteBalance)
	} else {
		fail("vote-balance", results.voteBalanceErr)
	}

	a.mergeVoteAccount(snapshot, results, fail)
	a.mergeProduction(snapshot, results, fail)

	if results.quoteErr == nil {
		snapshot.Quote = results.quote
	} else {
		fail("price", results.quoteErr)
	}

	if snapshot.Epoch != nil {
		snapshot.Rewards = a.rewards.Collect(ctx, snapshot.Epoch.Epoch, snapshot.Quote, snapshot.Production, a.window.Last())
		snapshot.Errors = append(snapshot.Errors, snapshot.Rewards.Errors...)
	}

	return snapshot
}

func (a *Aggregator) mergeVoteAccount(snapshot *Snapshot, results *cycleResults, fail func(string, error)) {
	if results.voteErr != nil {
		fail("vote-accounts", results.voteErr)
		return
	}

	// our vote account sits in exactly one of the two lists:
	for _, account := range results.voteAccounts.Current {
		if account.VotePubkey == a.config.VoteAccount {
			a.fillVoteAccount(snapshot, &account, false)
			return
		}
	}
	for _, account := range results.voteAccounts.Delinquent {
		if account.VotePubkey == a.config.VoteAccount {
			a.fillVoteAccount(snapshot, &account, true)
			return
		}
	}
	a.logger.Warnf("Vote account %s not found in getVoteAccounts response", a.config.VoteAccount)
}

func (a *Aggregator) fillVoteAccount(snapshot *Snapshot, account *rpc.VoteAccount, delinquent bool) {
	snapshot.ActivatedStake = available(float64(account.ActivatedStake) / float64(rpc.LamportsInSol))
	snapshot.LastVoteSlot = available(float64(account.LastVote))
	snapshot.RootSlot = available(float64(account.RootSlot))
	snapshot.Commission = available(float64(account.Commission))
	snapshot.Delinquent = availableBool(delinquent)
}

func (a *Aggregator) mergeProduction(snapshot *Snapshot, results *cycleResults, fail func(string, error)) {
	if results.epochErr != nil {
		// already recorded; nothing epoch-scoped can be derived
		return
	}

	if results.scheduleErr == nil {
		if assigned, ok := AssignedSlots(results.schedule, a.config.Identity, snapshot.Epoch.FirstSlot); ok {
			snapshot.AssignedSlots = assigned
			snapshot.LeaderSlotsAssigned = available(float64(len(assigned)))
		} else {
			a.logger.Infof("Identity %s has no leader slots this epoch", a.config.Identity)
			snapshot.LeaderSlotsAssigned = available(0)
		}
	} else {
		fail("leader-schedule", results.scheduleErr)
	}

	if results.productionErr == nil {
		if stats, ok := AnalyzeProduction(results.production, a.config.Identity); ok {
			snapshot.Production = &stats
		}
		// identity absent from the production map: all production fields stay
		// unavailable to keep "no data" distinct from "zero produced"
	} else {
		fail("block-production", results.productionErr)
	}
}

// publishStale re-serves the previous snapshot with its staleness flag set.
// Before any snapshot exists there is nothing to fall back on, so an empty
// stale snapshot is published to keep the encoder total.
func (a *Aggregator) publishStale(started time.Time) *Snapshot {
	previous := a.published.Load()
	var stale Snapshot
	if previous != nil {
		stale = *previous
	} else {
		stale.CollectedAt = started
	}
	stale.Stale = true
	a.published.Store(&stale)
	a.state.Store(int32(StatePublished))
	return &stale
}
