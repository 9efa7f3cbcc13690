package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/svmlabs/solana-validator-exporter/pkg/price"
	"github.com/svmlabs/solana-validator-exporter/pkg/rpc"
)

const (
	testIdentity = "aaa"
	testVotekey  = "AAA"
)

// stubPriceSource serves a fixed rate without any network access.
type stubPriceSource struct {
	rate decimal.Decimal
}

func (s stubPriceSource) Spot(_ context.Context, _ string) (decimal.Decimal, error) {
	return s.rate, nil
}

func testConfig() *Config {
	return &Config{
		RpcUrl:           "unused",
		Identity:         testIdentity,
		VoteAccount:      testVotekey,
		ListenAddress:    "127.0.0.1:0",
		HttpTimeout:      time.Second,
		ScrapeInterval:   15 * time.Second,
		CycleDeadline:    10 * time.Second,
		WindowBehind:     4,
		WindowAhead:      4,
		BlockConcurrency: 2,
		PricePair:        "SOLUSDT",
		PriceRefreshAge:  time.Minute,
		PriceStaleAge:    5 * time.Minute,
	}
}

// testFixture is the mock chain state shared by the aggregator tests: epoch
// 100 spans slots 0-31, the current slot is 11 and the tracked validator led
// slots 2 (produced), 5 (produced), 7 (skipped) and leads 12 next.
type testFixture struct {
	easyResults      map[string]any
	balances         map[string]int64
	inflationRewards map[int64]map[string]int64
	slotInfos        map[int64]rpc.MockSlotInfo
	validatorInfos   map[string]rpc.MockValidatorInfo
}

func newTestFixture() testFixture {
	return testFixture{
		easyResults: map[string]any{
			"getHealth":  "ok",
			"getVersion": map[string]string{"solana-core": "2.0.3"},
			"getSlot":    11,
			"getEpochInfo": map[string]int64{
				"absoluteSlot":     11,
				"blockHeight":      11,
				"epoch":            100,
				"slotIndex":        11,
				"slotsInEpoch":     32,
				"transactionCount": 2500,
			},
			"getRecentPerformanceSamples": []map[string]int64{
				{"slot": 11, "numSlots": 100, "numTransactions": 40000, "samplePeriodSecs": 40},
			},
		},
		balances: map[string]int64{
			testIdentity: 5 * rpc.LamportsInSol,
			testVotekey:  2 * rpc.LamportsInSol,
		},
		inflationRewards: map[int64]map[string]int64{
			99: {testVotekey: 5 * rpc.LamportsInSol},
		},
		slotInfos: map[int64]rpc.MockSlotInfo{
			2:  {Leader: testIdentity, Block: &rpc.MockBlockInfo{Fee: 10000, Transactions: [][]string{{VoteProgram}, {"some-program"}}}},
			3:  {Leader: "bbb", Block: &rpc.MockBlockInfo{Fee: 400}},
			5:  {Leader: testIdentity, Block: &rpc.MockBlockInfo{Fee: 20000, Transactions: [][]string{{VoteProgram}}}},
			7:  {Leader: testIdentity},
			12: {Leader: testIdentity},
		},
		validatorInfos: map[string]rpc.MockValidatorInfo{
			testIdentity: {Votekey: testVotekey, Stake: 1000 * rpc.LamportsInSol, LastVote: 10, Commission: 7},
		},
	}
}

func newTestAggregator(t *testing.T, fixture testFixture) (*rpc.MockServer, *Aggregator) {
	server, client := rpc.NewMockClient(
		t,
		fixture.easyResults,
		fixture.balances,
		fixture.inflationRewards,
		fixture.slotInfos,
		fixture.validatorInfos,
	)
	config := testConfig()
	quotes := price.NewCachingSource(
		stubPriceSource{rate: decimal.NewFromInt(150)},
		config.PricePair, config.PriceRefreshAge, config.PriceStaleAge,
	)
	window := NewBlockWindow(client, config)
	return server, NewAggregator(client, quotes, window, config)
}

func TestAggregator_Collect(t *testing.T) {
	_, aggregator := newTestAggregator(t, newTestFixture())

	snapshot := aggregator.Collect(context.Background())
	assert.NotNil(t, snapshot)
	assert.Empty(t, snapshot.Errors)
	assert.False(t, snapshot.Stale)
	assert.Same(t, snapshot, aggregator.Published())

	assert.Equal(t, available(1), snapshot.Healthy)
	assert.Equal(t, "2.0.3", snapshot.Version)
	assert.Equal(t, available(11), snapshot.ClusterSlot)
	assert.Equal(t, available(1000), snapshot.NetworkTPS)

	assert.NotNil(t, snapshot.Epoch)
	assert.Equal(t, int64(100), snapshot.Epoch.Epoch)
	assert.Equal(t, int64(0), snapshot.Epoch.FirstSlot)
	assert.Equal(t, int64(31), snapshot.Epoch.LastSlot)
	assert.Equal(t, 11.0/32.0*100, snapshot.Epoch.Progress)
	assert.Equal(t, 400*time.Millisecond, snapshot.Epoch.SlotTime)

	assert.Equal(t, available(5), snapshot.IdentityBalance)
	assert.Equal(t, available(2), snapshot.VoteBalance)

	assert.Equal(t, available(1000), snapshot.ActivatedStake)
	assert.Equal(t, available(10), snapshot.LastVoteSlot)
	assert.Equal(t, available(0), snapshot.RootSlot)
	assert.Equal(t, available(7), snapshot.Commission)
	assert.Equal(t, available(0), snapshot.Delinquent)

	assert.Equal(t, []int64{2, 5, 7, 12}, snapshot.AssignedSlots)
	assert.Equal(t, available(4), snapshot.LeaderSlotsAssigned)
	assert.Equal(t,
		&ProductionStats{LeaderSlots: 4, BlocksProduced: 2, SkippedSlots: 2, SkipRate: 50},
		snapshot.Production,
	)

	assert.NotNil(t, snapshot.Rewards)
	assert.True(t, snapshot.Rewards.LastEpoch.Available)
	assert.Equal(t, 5.0, snapshot.Rewards.LastEpoch.Sol)
	assert.True(t, snapshot.Rewards.LastEpoch.Usd.Equal(decimal.NewFromInt(750)))
	assert.False(t, snapshot.Rewards.PriorEpoch.Available)
	// no block window has run yet, so there is no fee signal:
	assert.False(t, snapshot.Rewards.EpochFees.Available)

	assert.NotNil(t, snapshot.Quote)
	assert.True(t, snapshot.Quote.Rate.Equal(decimal.NewFromInt(150)))
	assert.False(t, snapshot.Quote.Stale)
}

func TestAggregator_Collect_UnhealthyNode(t *testing.T) {
	fixture := newTestFixture()
	fixture.easyResults["getHealth"] = &rpc.RPCError{
		Code:    rpc.NodeUnhealthyCode,
		Message: "Node is behind by 175 slots",
		Data:    map[string]int64{"numSlotsBehind": 175},
	}
	_, aggregator := newTestAggregator(t, fixture)

	snapshot := aggregator.Collect(context.Background())
	// an unhealthy node is an answer, not a collection failure:
	assert.Empty(t, snapshot.Errors)
	assert.Equal(t, available(0), snapshot.Healthy)
	assert.Equal(t, available(175), snapshot.SlotsBehind)
}

func TestAggregator_Collect_PartialFailure(t *testing.T) {
	fixture := newTestFixture()
	delete(fixture.easyResults, "getRecentPerformanceSamples")
	_, aggregator := newTestAggregator(t, fixture)

	snapshot := aggregator.Collect(context.Background())
	assert.NotNil(t, snapshot)
	assert.False(t, snapshot.Stale)

	// only the failed metric is missing; everything else is intact:
	assert.False(t, snapshot.NetworkTPS.Available)
	assert.Equal(t, available(1), snapshot.Healthy)
	assert.Equal(t, available(5), snapshot.IdentityBalance)
	assert.NotNil(t, snapshot.Epoch)
	assert.Equal(t, defaultSlotTime, snapshot.Epoch.SlotTime)

	assert.Len(t, snapshot.Errors, 1)
	assert.Equal(t, "performance-samples", snapshot.Errors[0].Source)
	assert.Equal(t, "rpc-error", snapshot.Errors[0].Kind)
}

func TestAggregator_StaleOnTotalFailure(t *testing.T) {
	_, aggregator := newTestAggregator(t, newTestFixture())

	first := aggregator.Collect(context.Background())
	assert.False(t, first.Stale)

	// the node going away entirely must not wipe the published snapshot:
	aggregator.client.RpcUrl = "http://127.0.0.1:1"
	second := aggregator.Collect(context.Background())
	assert.True(t, second.Stale)
	assert.Equal(t, first.CollectedAt, second.CollectedAt)
	assert.Equal(t, first.Healthy, second.Healthy)
	assert.Equal(t, first.IdentityBalance, second.IdentityBalance)
}

func TestAggregator_FirstCycleFailure(t *testing.T) {
	_, aggregator := newTestAggregator(t, newTestFixture())
	aggregator.client.RpcUrl = "http://127.0.0.1:1"

	// with nothing to fall back on, a best-effort snapshot is still
	// published so the encoder has something to serve
	snapshot := aggregator.Collect(context.Background())
	assert.NotNil(t, snapshot)
	assert.False(t, snapshot.Healthy.Available)
	assert.NotEmpty(t, snapshot.Errors)
	for _, cycleErr := range snapshot.Errors {
		assert.Equal(t, "unreachable", cycleErr.Kind)
	}
}

func TestAggregator_DeadlineServesStale(t *testing.T) {
	_, aggregator := newTestAggregator(t, newTestFixture())

	first := aggregator.Collect(context.Background())
	assert.False(t, first.Stale)

	aggregator.config.CycleDeadline = time.Nanosecond
	second := aggregator.Collect(context.Background())
	assert.True(t, second.Stale)
	assert.Equal(t, first.CollectedAt, second.CollectedAt)
}

func TestAggregator_Current(t *testing.T) {
	_, aggregator := newTestAggregator(t, newTestFixture())
	assert.Nil(t, aggregator.Published())

	// Current runs a cycle on demand when nothing is published yet,
	// then keeps serving the published snapshot
	snapshot := aggregator.Current(context.Background())
	assert.NotNil(t, snapshot)
	assert.Same(t, snapshot, aggregator.Current(context.Background()))
}

func TestAggregator_ConcurrentPublish(t *testing.T) {
	_, aggregator := newTestAggregator(t, newTestFixture())
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 5; i++ {
			aggregator.Collect(ctx)
		}
	}()

	// readers must only ever observe fully-formed snapshots from a single
	// cycle, with publication times that never move backwards
	var wg sync.WaitGroup
	for reader := 0; reader < 4; reader++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var lastSeen time.Time
			for i := 0; i < 200; i++ {
				snapshot := aggregator.Published()
				if snapshot == nil {
					continue
				}
				assert.False(t, snapshot.CollectedAt.IsZero())
				assert.False(t, snapshot.CollectedAt.Before(lastSeen))
				lastSeen = snapshot.CollectedAt
				if snapshot.Epoch != nil {
					assert.Equal(t, int64(100), snapshot.Epoch.Epoch)
				}
			}
		}()
	}
	wg.Wait()
	<-done
}

func TestSnapshot_SlotTimeEstimate(t *testing.T) {
	var snapshot *Snapshot
	assert.Equal(t, defaultSlotTime, snapshot.SlotTimeEstimate())
	assert.Equal(t, defaultSlotTime, (&Snapshot{}).SlotTimeEstimate())
	withEpoch := &Snapshot{Epoch: &EpochContext{SlotTime: 500 * time.Millisecond}}
	assert.Equal(t, 500*time.Millisecond, withEpoch.SlotTimeEstimate())
}
