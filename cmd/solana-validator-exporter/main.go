package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/svmlabs/solana-validator-exporter/pkg/price"
	"github.com/svmlabs/solana-validator-exporter/pkg/rpc"
	"github.com/svmlabs/solana-validator-exporter/pkg/slog"
)

var buildVersion = "dev"

func main() {
	slog.Init()
	logger := slog.Get()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config, err := LoadConfig()
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}
	logger.Infof(
		"Starting solana-validator-exporter %s for identity %s (vote %s) against %s",
		buildVersion, config.Identity, config.VoteAccount, config.RpcUrl,
	)

	client := rpc.NewRPCClient(config.RpcUrl, config.HttpTimeout)

	var source price.Source
	if config.PriceUrl != "" {
		source = price.NewHTTPSource(config.PriceUrl, config.HttpTimeout)
	} else {
		source = price.NewBinanceSource()
	}
	quotes := price.NewCachingSource(source, config.PricePair, config.PriceRefreshAge, config.PriceStaleAge)

	window := NewBlockWindow(client, config)
	aggregator := NewAggregator(client, quotes, window, config)
	collector := NewSnapshotCollector(aggregator)
	server := NewServer(aggregator, window, collector, config)

	// first cycle up front so the first scrape serves real data
	aggregator.Collect(ctx)
	go aggregator.Run(ctx)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("Shutdown failed: %v", err)
		}
	}()

	if err := server.ListenAndServe(); err != nil {
		logger.Fatalf("Server failed: %v", err)
	}
	logger.Info("Exporter stopped")
}
