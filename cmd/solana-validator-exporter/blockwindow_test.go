package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/svmlabs/solana-validator-exporter/pkg/rpc"
)

func windowSnapshot() *Snapshot {
	return &Snapshot{
		Epoch: &EpochContext{
			Epoch:     100,
			FirstSlot: 0,
			LastSlot:  31,
			SlotTime:  400 * time.Millisecond,
		},
		AssignedSlots: []int64{5, 6, 7, 9, 12},
	}
}

func TestBlockWindow_Fetch(t *testing.T) {
	// current slot 10, window 6..14. Leader slots: 5 just outside, 6
	// produced, 7 skipped, 9 pruned from history, 12 upcoming.
	_, client := rpc.NewMockClient(t,
		map[string]any{"getSlot": 10},
		nil, nil,
		map[int64]rpc.MockSlotInfo{
			6: {Leader: testIdentity, Block: &rpc.MockBlockInfo{
				Fee:          15000,
				ComputeUnits: 4000,
				Transactions: [][]string{{VoteProgram}, {VoteProgram}, {"some-program"}},
			}},
			7: {Leader: testIdentity},
		},
		nil,
	)
	window := NewBlockWindow(client, testConfig())

	assert.Nil(t, window.Last())

	records, err := window.Fetch(context.Background(), windowSnapshot())
	assert.NoError(t, err)

	bySlot := make(map[int64]LeaderSlotRecord)
	for _, record := range records {
		bySlot[record.Slot] = record
	}

	// past rows exist only for our leader slots; slot 5 is outside the
	// window and slot 8 belonged to someone else:
	assert.NotContains(t, bySlot, int64(5))
	assert.NotContains(t, bySlot, int64(8))
	assert.Len(t, records, 8)

	produced := bySlot[6]
	assert.Equal(t, StatusProduced, produced.Status)
	assert.True(t, produced.IsLeader)
	assert.Equal(t, "blockhash-6", produced.Blockhash)
	assert.Equal(t, 3, produced.Transactions)
	assert.Equal(t, 2, produced.VoteTransactions)
	assert.Equal(t, 1, produced.NonVoteTransactions)
	assert.Equal(t, int64(15000), produced.FeeLamports)
	assert.Equal(t, int64(4000), produced.ComputeUnits)
	assert.Equal(t, int64(100), produced.Epoch)
	assert.Equal(t, int64(6), produced.EpochIndex)

	assert.Equal(t, StatusSkipped, bySlot[7].Status)
	assert.Equal(t, StatusNoData, bySlot[9].Status)

	// every slot from the current one onward gets an upcoming row, leader
	// or not, with a countdown at the estimated slot time:
	for slot := int64(10); slot <= 14; slot++ {
		record, ok := bySlot[slot]
		assert.True(t, ok, "missing upcoming row for slot %d", slot)
		assert.Equal(t, StatusUpcoming, record.Status)
		assert.Equal(t, float64(slot-10)*0.4, record.EtaSeconds)
		assert.Equal(t, slot == 12, record.IsLeader)
	}

	assert.Equal(t, records, window.Last())
}

func TestBlockWindow_Fetch_NoEpochContext(t *testing.T) {
	_, client := rpc.NewMockClient(t, nil, nil, nil, nil, nil)
	window := NewBlockWindow(client, testConfig())

	_, err := window.Fetch(context.Background(), nil)
	assert.Error(t, err)
	_, err = window.Fetch(context.Background(), &Snapshot{})
	assert.Error(t, err)
}

func TestBlockWindow_Fetch_SlotUnavailable(t *testing.T) {
	_, client := rpc.NewMockClient(t, nil, nil, nil, nil, nil)
	window := NewBlockWindow(client, testConfig())

	_, err := window.Fetch(context.Background(), windowSnapshot())
	assert.Error(t, err)
	assert.Nil(t, window.Last())
}

func TestBlockWindow_Fetch_ClampsAtGenesis(t *testing.T) {
	_, client := rpc.NewMockClient(t,
		map[string]any{"getSlot": 2},
		nil, nil,
		map[int64]rpc.MockSlotInfo{},
		nil,
	)
	config := testConfig()
	window := NewBlockWindow(client, config)

	snapshot := windowSnapshot()
	snapshot.AssignedSlots = nil
	records, err := window.Fetch(context.Background(), snapshot)
	assert.NoError(t, err)
	for _, record := range records {
		assert.GreaterOrEqual(t, record.Slot, int64(0))
	}
}
