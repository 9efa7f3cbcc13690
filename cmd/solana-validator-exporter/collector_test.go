package main

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
)

// gatherValues flattens one Gather pass into "name{label=value}" keys, so
// tests can assert both metric values and metric absence.
func gatherValues(t *testing.T, collector *SnapshotCollector) map[string]float64 {
	registry := prometheus.NewPedanticRegistry()
	assert.NoError(t, registry.Register(collector))

	var families []*dto.MetricFamily
	families, err := registry.Gather()
	assert.NoError(t, err)

	values := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			key := family.GetName()
			for _, label := range metric.GetLabel() {
				key += "{" + label.GetName() + "=" + label.GetValue() + "}"
			}
			values[key] = metric.GetGauge().GetValue()
		}
	}
	return values
}

func TestSnapshotCollector_Collect(t *testing.T) {
	_, aggregator := newTestAggregator(t, newTestFixture())
	aggregator.Collect(context.Background())
	collector := NewSnapshotCollector(aggregator)

	values := gatherValues(t, collector)

	assert.Equal(t, 1.0, values["solana_node_health"])
	assert.Equal(t, 1.0, values["solana_node_version_info{version=2.0.3}"])
	assert.Equal(t, 100.0, values["solana_epoch_number"])
	assert.Equal(t, 11.0, values["solana_epoch_slot_index"])
	assert.Equal(t, 32.0, values["solana_epoch_slots_total"])
	assert.Equal(t, 11.0/32.0*100, values["solana_epoch_progress_percent"])
	assert.Equal(t, 11.0, values["solana_slot_height"])
	assert.Equal(t, 11.0, values["solana_block_height"])
	assert.Equal(t, 2500.0, values["solana_transactions_total"])
	assert.Equal(t, 11.0, values["solana_cluster_slot"])
	assert.Equal(t, 1000.0, values["solana_network_tps"])
	assert.Equal(t, 400.0, values["solana_network_slot_time_ms"])

	assert.Equal(t, 5.0, values["solana_validator_identity_balance_sol"])
	assert.Equal(t, 2.0, values["solana_validator_vote_balance_sol"])
	assert.Equal(t, 1000.0, values["solana_validator_activated_stake_sol"])
	assert.Equal(t, 10.0, values["solana_validator_last_vote_slot"])
	assert.Equal(t, 7.0, values["solana_validator_commission_percent"])
	assert.Equal(t, 0.0, values["solana_validator_delinquent"])

	assert.Equal(t, 4.0, values["solana_validator_leader_slots_assigned"])
	assert.Equal(t, 4.0, values["solana_validator_leader_slots_total"])
	assert.Equal(t, 2.0, values["solana_validator_blocks_produced"])
	assert.Equal(t, 2.0, values["solana_validator_blocks_skipped"])
	assert.Equal(t, 50.0, values["solana_validator_skip_rate_percent"])

	assert.Equal(t, 5.0, values["solana_validator_inflation_reward_sol{epoch=99}"])
	assert.Equal(t, 750.0, values["solana_validator_inflation_reward_usd{epoch=99}"])
	// epoch 98's reward has not finalized, so it is absent, not zero:
	assert.NotContains(t, values, "solana_validator_inflation_reward_sol{epoch=98}")
	assert.NotContains(t, values, "solana_validator_epoch_fees_sol")

	assert.Equal(t, 150.0, values["solana_price_rate{pair=SOLUSDT}"])
	assert.Equal(t, 0.0, values["solana_price_stale"])
	assert.Equal(t, 0.0, values["solana_exporter_snapshot_stale"])
	assert.Equal(t, 1.0, values["solana_exporter_build_info{version=dev}"])
	assert.Contains(t, values, "solana_exporter_scrape_duration_seconds")
}

func TestSnapshotCollector_OmitsUnavailable(t *testing.T) {
	fixture := newTestFixture()
	delete(fixture.easyResults, "getRecentPerformanceSamples")
	_, aggregator := newTestAggregator(t, fixture)
	aggregator.Collect(context.Background())

	values := gatherValues(t, NewSnapshotCollector(aggregator))
	assert.NotContains(t, values, "solana_network_tps")
	assert.Equal(t, 1.0, values["solana_node_health"])
}

func TestSnapshotCollector_Idempotent(t *testing.T) {
	_, aggregator := newTestAggregator(t, newTestFixture())
	aggregator.Collect(context.Background())
	collector := NewSnapshotCollector(aggregator)

	// two scrapes of the same snapshot encode identically, except for the
	// wall-clock scrape timestamp
	first := gatherValues(t, collector)
	second := gatherValues(t, collector)
	delete(first, "solana_exporter_scrape_timestamp_seconds")
	delete(second, "solana_exporter_scrape_timestamp_seconds")
	assert.Equal(t, first, second)
}

func TestSnapshotCollector_Describe(t *testing.T) {
	_, aggregator := newTestAggregator(t, newTestFixture())
	collector := NewSnapshotCollector(aggregator)

	ch := make(chan *prometheus.Desc, 64)
	collector.Describe(ch)
	close(ch)

	count := 0
	for range ch {
		count++
	}
	assert.Equal(t, len(collector.allDescs()), count)
}
