package main

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/svmlabs/solana-validator-exporter/pkg/slog"
	"go.uber.org/zap"
)

const (
	VersionLabel = "version"
	PairLabel    = "pair"
	EpochLabel   = "epoch"
)

// GaugeDesc pairs a prometheus descriptor with its label names so const
// metrics can be emitted with a simple call per snapshot field.
type GaugeDesc struct {
	Desc           *prometheus.Desc
	Name           string
	Help           string
	VariableLabels []string
}

func NewGaugeDesc(name string, description string, variableLabels ...string) *GaugeDesc {
	return &GaugeDesc{
		Desc:           prometheus.NewDesc(name, description, variableLabels, nil),
		Name:           name,
		Help:           description,
		VariableLabels: variableLabels,
	}
}

func (c *GaugeDesc) MustNewConstMetric(value float64, labels ...string) prometheus.Metric {
	logger := slog.Get()
	if len(labels) != len(c.VariableLabels) {
		logger.Fatalf("Provided labels (%v) do not match %s labels (%v)", labels, c.Name, c.VariableLabels)
	}
	return prometheus.MustNewConstMetric(c.Desc, prometheus.GaugeValue, value, labels...)
}

// SnapshotCollector renders the published snapshot as prometheus metrics.
// It holds no state of its own: every Collect reads whichever snapshot is
// published at that instant, so a scrape never observes a half-built cycle.
type SnapshotCollector struct {
	aggregator *Aggregator
	logger     *zap.SugaredLogger

	NodeHealth       *GaugeDesc
	NodeSlotsBehind  *GaugeDesc
	NodeVersion      *GaugeDesc
	EpochNumber      *GaugeDesc
	EpochSlotIndex   *GaugeDesc
	EpochSlotsTotal  *GaugeDesc
	EpochProgress    *GaugeDesc
	SlotHeight       *GaugeDesc
	BlockHeight      *GaugeDesc
	TransactionCount *GaugeDesc
	ClusterSlot      *GaugeDesc
	NetworkTPS       *GaugeDesc
	NetworkSlotTime  *GaugeDesc
	IdentityBalance  *GaugeDesc
	VoteBalance      *GaugeDesc
	ActivatedStake   *GaugeDesc
	LastVoteSlot     *GaugeDesc
	RootSlot         *GaugeDesc
	Commission       *GaugeDesc
	Delinquent       *GaugeDesc
	SlotsAssigned    *GaugeDesc
	LeaderSlots      *GaugeDesc
	BlocksProduced   *GaugeDesc
	BlocksSkipped    *GaugeDesc
	SkipRate         *GaugeDesc
	InflationReward  *GaugeDesc
	InflationUsd     *GaugeDesc
	EpochFees        *GaugeDesc
	PriceRate        *GaugeDesc
	PriceStale       *GaugeDesc
	ScrapeDuration   *GaugeDesc
	SnapshotStale    *GaugeDesc
	ScrapeTimestamp  *GaugeDesc
	BuildInfo        *GaugeDesc
}

func NewSnapshotCollector(aggregator *Aggregator) *SnapshotCollector {
	return &SnapshotCollector{
		aggregator: aggregator,
		logger:     slog.Get(),
		NodeHealth: NewGaugeDesc(
			"solana_node_health",
			"Node health status (1=healthy, 0=down)",
		),
		NodeSlotsBehind: NewGaugeDesc(
			"solana_node_slots_behind",
			"Number of slots the node is behind the cluster when unhealthy",
		),
		NodeVersion: NewGaugeDesc(
			"solana_node_version_info",
			"Solana node version info",
			VersionLabel,
		),
		EpochNumber: NewGaugeDesc(
			"solana_epoch_number",
			"Current epoch number",
		),
		EpochSlotIndex: NewGaugeDesc(
			"solana_epoch_slot_index",
			"Current slot within the epoch",
		),
		EpochSlotsTotal: NewGaugeDesc(
			"solana_epoch_slots_total",
			"Total slots in the current epoch",
		),
		EpochProgress: NewGaugeDesc(
			"solana_epoch_progress_percent",
			"Epoch completion percentage",
		),
		SlotHeight: NewGaugeDesc(
			"solana_slot_height",
			"Current absolute slot",
		),
		BlockHeight: NewGaugeDesc(
			"solana_block_height",
			"Current block height",
		),
		TransactionCount: NewGaugeDesc(
			"solana_transactions_total",
			"Total transactions since genesis",
		),
		ClusterSlot: NewGaugeDesc(
			"solana_cluster_slot",
			"Latest finalized cluster slot",
		),
		NetworkTPS: NewGaugeDesc(
			"solana_network_tps",
			"Network transactions per second",
		),
		NetworkSlotTime: NewGaugeDesc(
			"solana_network_slot_time_ms",
			"Estimated time per slot in milliseconds",
		),
		IdentityBalance: NewGaugeDesc(
			"solana_validator_identity_balance_sol",
			"Validator identity account balance (SOL)",
		),
		VoteBalance: NewGaugeDesc(
			"solana_validator_vote_balance_sol",
			"Validator vote account balance (SOL)",
		),
		ActivatedStake: NewGaugeDesc(
			"solana_validator_activated_stake_sol",
			"Active stake delegated to the validator (SOL)",
		),
		LastVoteSlot: NewGaugeDesc(
			"solana_validator_last_vote_slot",
			"Last voted-on slot",
		),
		RootSlot: NewGaugeDesc(
			"solana_validator_root_slot",
			"Root slot",
		),
		Commission: NewGaugeDesc(
			"solana_validator_commission_percent",
			"Validator commission percentage",
		),
		Delinquent: NewGaugeDesc(
			"solana_validator_delinquent",
			"Validator delinquency status (0=active, 1=delinquent)",
		),
		SlotsAssigned: NewGaugeDesc(
			"solana_validator_leader_slots_assigned",
			"Number of leader slots assigned this epoch",
		),
		LeaderSlots: NewGaugeDesc(
			"solana_validator_leader_slots_total",
			"Leader slots passed so far this epoch",
		),
		BlocksProduced: NewGaugeDesc(
			"solana_validator_blocks_produced",
			"Blocks successfully produced this epoch",
		),
		BlocksSkipped: NewGaugeDesc(
			"solana_validator_blocks_skipped",
			"Leader slots skipped this epoch",
		),
		SkipRate: NewGaugeDesc(
			"solana_validator_skip_rate_percent",
			"Skip rate percentage",
		),
		InflationReward: NewGaugeDesc(
			"solana_validator_inflation_reward_sol",
			"Inflation reward earned (SOL), by epoch",
			EpochLabel,
		),
		InflationUsd: NewGaugeDesc(
			"solana_validator_inflation_reward_usd",
			"Inflation reward earned (USD), by epoch",
			EpochLabel,
		),
		EpochFees: NewGaugeDesc(
			"solana_validator_epoch_fees_sol",
			"Fee income attributed to produced blocks this epoch (SOL)",
		),
		PriceRate: NewGaugeDesc(
			"solana_price_rate",
			"Latest spot exchange rate",
			PairLabel,
		),
		PriceStale: NewGaugeDesc(
			"solana_price_stale",
			"Whether the served price quote is older than its staleness threshold",
		),
		ScrapeDuration: NewGaugeDesc(
			"solana_exporter_scrape_duration_seconds",
			"Time spent in the last collection cycle",
		),
		SnapshotStale: NewGaugeDesc(
			"solana_exporter_snapshot_stale",
			"Whether the served snapshot is re-served from an abandoned cycle",
		),
		ScrapeTimestamp: NewGaugeDesc(
			"solana_exporter_scrape_timestamp_seconds",
			"Unix timestamp of the last scrape",
		),
		BuildInfo: NewGaugeDesc(
			"solana_exporter_build_info",
			"Exporter build info",
			VersionLabel,
		),
	}
}

func (c *SnapshotCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range c.allDescs() {
		ch <- desc.Desc
	}
}

func (c *SnapshotCollector) allDescs() []*GaugeDesc {
	return []*GaugeDesc{
		c.NodeHealth, c.NodeSlotsBehind, c.NodeVersion,
		c.EpochNumber, c.EpochSlotIndex, c.EpochSlotsTotal, c.EpochProgress,
		c.SlotHeight, c.BlockHeight, c.TransactionCount, c.ClusterSlot,
		c.NetworkTPS, c.NetworkSlotTime,
		c.IdentityBalance, c.VoteBalance,
		c.ActivatedStake, c.LastVoteSlot, c.RootSlot, c.Commission, c.Delinquent,
		c.SlotsAssigned, c.LeaderSlots, c.BlocksProduced, c.BlocksSkipped, c.SkipRate,
		c.InflationReward, c.InflationUsd, c.EpochFees,
		c.PriceRate, c.PriceStale,
		c.ScrapeDuration, c.SnapshotStale, c.ScrapeTimestamp, c.BuildInfo,
	}
}

// Collect renders the best available snapshot. Unavailable values are
// omitted entirely rather than emitted as zero, and transient upstream
// failures never make the scrape itself fail.
func (c *SnapshotCollector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.aggregator.Current(context.Background())

	ch <- c.BuildInfo.MustNewConstMetric(1, buildVersion)
	ch <- c.ScrapeTimestamp.MustNewConstMetric(float64(time.Now().Unix()))
	if snapshot == nil {
		return
	}

	emit := func(desc *GaugeDesc, value MetricValue, labels ...string) {
		if value.Available {
			ch <- desc.MustNewConstMetric(value.Value, labels...)
		}
	}

	emit(c.NodeHealth, snapshot.Healthy)
	emit(c.NodeSlotsBehind, snapshot.SlotsBehind)
	if snapshot.Version != "" {
		ch <- c.NodeVersion.MustNewConstMetric(1, snapshot.Version)
	}

	if epoch := snapshot.Epoch; epoch != nil {
		ch <- c.EpochNumber.MustNewConstMetric(float64(epoch.Epoch))
		ch <- c.EpochSlotIndex.MustNewConstMetric(float64(epoch.SlotIndex))
		ch <- c.EpochSlotsTotal.MustNewConstMetric(float64(epoch.SlotsInEpoch))
		ch <- c.EpochProgress.MustNewConstMetric(epoch.Progress)
		ch <- c.SlotHeight.MustNewConstMetric(float64(epoch.AbsoluteSlot))
		ch <- c.BlockHeight.MustNewConstMetric(float64(epoch.BlockHeight))
		ch <- c.TransactionCount.MustNewConstMetric(float64(epoch.TransactionCount))
		ch <- c.NetworkSlotTime.MustNewConstMetric(float64(epoch.SlotTime.Milliseconds()))
	}
	emit(c.ClusterSlot, snapshot.ClusterSlot)
	emit(c.NetworkTPS, snapshot.NetworkTPS)

	emit(c.IdentityBalance, snapshot.IdentityBalance)
	emit(c.VoteBalance, snapshot.VoteBalance)
	emit(c.ActivatedStake, snapshot.ActivatedStake)
	emit(c.LastVoteSlot, snapshot.LastVoteSlot)
	emit(c.RootSlot, snapshot.RootSlot)
	emit(c.Commission, snapshot.Commission)
	emit(c.Delinquent, snapshot.Delinquent)

	emit(c.SlotsAssigned, snapshot.LeaderSlotsAssigned)
	if production := snapshot.Production; production != nil {
		ch <- c.LeaderSlots.MustNewConstMetric(float64(production.LeaderSlots))
		ch <- c.BlocksProduced.MustNewConstMetric(float64(production.BlocksProduced))
		ch <- c.BlocksSkipped.MustNewConstMetric(float64(production.SkippedSlots))
		ch <- c.SkipRate.MustNewConstMetric(production.SkipRate)
	}

	if rewards := snapshot.Rewards; rewards != nil {
		for _, record := range []RewardRecord{rewards.LastEpoch, rewards.PriorEpoch} {
			if !record.Available {
				continue
			}
			epochStr := toString(record.Epoch)
			ch <- c.InflationReward.MustNewConstMetric(record.Sol, epochStr)
			if record.UsdAvailable {
				usd, _ := record.Usd.Float64()
				ch <- c.InflationUsd.MustNewConstMetric(usd, epochStr)
			}
		}
		if rewards.EpochFees.Available {
			ch <- c.EpochFees.MustNewConstMetric(rewards.EpochFees.Sol)
		}
	}

	if quote := snapshot.Quote; quote != nil {
		rate, _ := quote.Rate.Float64()
		ch <- c.PriceRate.MustNewConstMetric(rate, quote.Pair)
		stale := float64(0)
		if quote.Stale {
			stale = 1
		}
		ch <- c.PriceStale.MustNewConstMetric(stale)
	}

	ch <- c.ScrapeDuration.MustNewConstMetric(snapshot.CycleDuration.Seconds())
	staleFlag := float64(0)
	if snapshot.Stale {
		staleFlag = 1
	}
	ch <- c.SnapshotStale.MustNewConstMetric(staleFlag)
}
