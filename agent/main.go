package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/smartshieldai-idps/flowguard/agent/config"
	"github.com/smartshieldai-idps/flowguard/agent/pkg/monitoring"
	"github.com/smartshieldai-idps/flowguard/agent/pkg/network"
	"github.com/smartshieldai-idps/flowguard/agent/pkg/shipper"
	"github.com/smartshieldai-idps/flowguard/pkg/logging"
)

const shutdownFlushTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "config/agent.yaml", "path to the agent configuration file")
	listDevices := flag.Bool("list-devices", false, "print capture devices and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()
	logger = logger.With(zap.String("agent_id", cfg.AgentID))

	if *listDevices {
		devices, err := network.ListDevices()
		if err != nil {
			logger.Fatal("Failed to list devices", zap.Error(err))
		}
		for _, d := range devices {
			logger.Info("capture device", zap.String("name", d.Name), zap.String("description", d.Description))
		}
		return
	}

	logger.Info("Starting flow agent",
		zap.String("backend", cfg.Backend.URL),
		zap.String("interface", cfg.Network.Interface))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	capture, err := network.NewCapture(network.CaptureConfig{
		DeviceName:   cfg.Network.Interface,
		SnapLen:      cfg.Network.MaxPacketSize,
		Promiscuous:  cfg.Network.Promiscuous,
		BPFFilter:    cfg.Network.CaptureFilter,
		ExcludeIPs:   cfg.Network.ExcludeIPs,
		ExcludePorts: cfg.Network.ExcludePorts,
	}, logger.Named("capture"))
	if err != nil {
		logger.Fatal("Failed to initialize network capture", zap.Error(err))
	}
	defer capture.Close()

	ship := shipper.New(shipper.Config{
		BackendURL:         cfg.Backend.URL,
		AgentID:            cfg.AgentID,
		Timeout:            cfg.Backend.Timeout,
		InsecureSkipVerify: cfg.TLS.InsecureSkipVerify,
		RateLimit:          cfg.Security.RateLimit,
		RateLimitBurst:     cfg.Security.RateLimitBurst,
		BatchSize:          cfg.Backend.BatchSize,
		MaxRetries:         cfg.Backend.MaxRetries,
		RetryBackoff:       cfg.Backend.RetryBackoff,
	}, logger.Named("shipper"))

	aggregator := network.NewAggregator(cfg.Network.FlowTimeout)
	packets := make(chan network.PacketInfo, cfg.Network.QueueSize)

	collector := monitoring.NewCollector(cfg.AgentID, cfg.Monitoring.StatsInterval, monitoring.Sources{
		Capture:    capture.GetStats,
		Shipper:    ship.GetStats,
		ActiveFlow: aggregator.Len,
	}, logger.Named("stats"))

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		if err := capture.Run(ctx, packets); err != nil && ctx.Err() == nil {
			logger.Error("Packet capture stopped", zap.Error(err))
			stop()
		}
	}()
	go func() {
		defer wg.Done()
		aggregate(ctx, packets, aggregator)
	}()
	go func() {
		defer wg.Done()
		collector.Start(ctx)
	}()

	forward(ctx, aggregator, ship, cfg.Network.FlowTimeout, cfg.Network.FlushInterval, logger)

	logger.Info("Shutting down...")
	wg.Wait()

	flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()
	if err := ship.Ship(flushCtx, aggregator.Flush()); err != nil {
		logger.Error("Failed to ship remaining flows", zap.Error(err))
	}
	logger.Info("Agent shutdown complete")
}

func aggregate(ctx context.Context, packets <-chan network.PacketInfo, aggregator *network.Aggregator) {
	for {
		select {
		case <-ctx.Done():
			return
		case p := <-packets:
			aggregator.Add(p)
		}
	}
}

// forward ships idle flows as they expire and everything on every flush
// interval, until ctx is cancelled
func forward(ctx context.Context, aggregator *network.Aggregator, ship *shipper.Shipper, flowTimeout, flushInterval time.Duration, logger *zap.Logger) {
	expireEvery := flowTimeout / 2
	if expireEvery < time.Second {
		expireEvery = time.Second
	}
	expire := time.NewTicker(expireEvery)
	defer expire.Stop()
	flush := time.NewTicker(flushInterval)
	defer flush.Stop()

	send := func(flows []network.Flow, reason string) {
		if len(flows) == 0 {
			return
		}
		if err := ship.Ship(ctx, flows); err != nil && ctx.Err() == nil {
			logger.Error("Failed to ship flows",
				zap.String("reason", reason),
				zap.Int("flows", len(flows)),
				zap.Error(err))
			return
		}
		logger.Debug("Shipped flows", zap.String("reason", reason), zap.Int("flows", len(flows)))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-expire.C:
			send(aggregator.Expire(now), "idle")
		case <-flush.C:
			send(aggregator.Flush(), "interval")
		}
	}
}
