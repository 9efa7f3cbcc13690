package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestServer(t *testing.T, fixture testFixture) (*httptest.Server, *Aggregator) {
	_, aggregator := newTestAggregator(t, fixture)
	server := NewServer(aggregator, aggregator.window, NewSnapshotCollector(aggregator), aggregator.config)

	testServer := httptest.NewServer(server.httpServer.Handler)
	t.Cleanup(testServer.Close)
	return testServer, aggregator
}

func TestServer_Metrics(t *testing.T) {
	testServer, _ := newTestServer(t, newTestFixture())

	resp, err := http.Get(testServer.URL + "/metrics")
	assert.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	assert.Contains(t, string(body), "solana_node_health 1")
	assert.Contains(t, string(body), "solana_validator_skip_rate_percent 50")
	assert.Contains(t, string(body), `solana_node_version_info{version="2.0.3"} 1`)
}

func TestServer_Blocks(t *testing.T) {
	testServer, _ := newTestServer(t, newTestFixture())

	resp, err := http.Get(testServer.URL + "/blocks")
	assert.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json"))

	var payload struct {
		Slot   int64              `json:"slot"`
		Epoch  int64              `json:"epoch"`
		Blocks []LeaderSlotRecord `json:"blocks"`
	}
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	assert.Equal(t, int64(100), payload.Epoch)
	assert.NotEmpty(t, payload.Blocks)

	statuses := make(map[int64]SlotStatus)
	for _, record := range payload.Blocks {
		statuses[record.Slot] = record.Status
	}
	// the fixture's current slot is 11: leader slot 7 sits in the past part
	// of the window and was skipped, slot 12 is upcoming
	assert.Equal(t, StatusSkipped, statuses[7])
	assert.Equal(t, StatusUpcoming, statuses[12])
}

func TestServer_Livez(t *testing.T) {
	testServer, _ := newTestServer(t, newTestFixture())

	resp, err := http.Get(testServer.URL + "/livez")
	assert.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServer_Root(t *testing.T) {
	testServer, aggregator := newTestServer(t, newTestFixture())
	aggregator.Collect(context.Background())

	resp, err := http.Get(testServer.URL + "/")
	assert.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var info map[string]any
	assert.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	assert.Equal(t, "solana-validator-exporter", info["name"])
	assert.Equal(t, testIdentity, info["identity"])
	assert.Equal(t, false, info["stale"])
}
