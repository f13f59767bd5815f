package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// BridgeState 橋接器狀態
type BridgeState int32

const (
	BridgeStateStopped BridgeState = iota
	BridgeStateStarting
	BridgeStateRunning
	BridgeStateStopping
)

func (s BridgeState) String() string {
	switch s {
	case BridgeStateStopped:
		return "stopped"
	case BridgeStateStarting:
		return "starting"
	case BridgeStateRunning:
		return "running"
	case BridgeStateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// 主題來源模式
const (
	SourceModeMQTT       = "mqtt"
	SourceModeSimulation = "simulation"
)

// BridgeStats 橋接器統計資訊
type BridgeStats struct {
	StartTime       time.Time
	Transport       string
	Source          string
	MQTTConnected   bool
	TotalRequests   uint64
	TotalErrors     uint64
	TopicUpdates    uint64
	LastTopicUpdate time.Time
}

// Bridge HeishaMon Modbus 橋接器
type Bridge struct {
	mu sync.RWMutex

	// 配置
	config *Config

	// 狀態
	state     atomic.Int32
	startTime time.Time

	// 元件
	partition  *AddressPartition
	cache      *TopicCache
	gate       *DiagnosticGate
	dispatcher *CommandDispatcher
	handler    *RequestHandler
	transport  Transport
	mqtt       *MQTTLink
	simulator  *SimulatedHeatpump
	simCancel  context.CancelFunc
	network    NetworkProvisioner
	metrics    *MetricsCollector

	// 日誌
	logger *zap.Logger
}

// NewBridge 建立橋接器
func NewBridge(config *Config, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Bridge{
		config: config,
		logger: logger,
	}
	b.metrics = NewMetricsCollector(b, logger.With(zap.String("component", "metrics")))
	return b
}

// Start 啟動橋接器
func (b *Bridge) Start(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(BridgeStateStopped), int32(BridgeStateStarting)) {
		return fmt.Errorf("橋接器已經在運行中")
	}

	b.startTime = time.Now()
	b.logger.Info("正在啟動橋接器",
		zap.String("transport", b.config.Server.Transport),
		zap.Int("port", b.config.Server.Port),
		zap.Bool("simulation", b.config.Simulation.Enabled),
	)

	if err := b.start(ctx); err != nil {
		b.cleanup(context.Background())
		b.state.Store(int32(BridgeStateStopped))
		return err
	}

	b.state.Store(int32(BridgeStateRunning))
	b.logger.Info("橋接器啟動完成",
		zap.String("transport", b.transport.Name()),
		zap.Duration("startup_time", time.Since(b.startTime)),
	)
	return nil
}

func (b *Bridge) start(ctx context.Context) error {
	partition, err := NewAddressPartition()
	if err != nil {
		return fmt.Errorf("位址分區無效: %w", err)
	}

	cache := DefaultTopicCache()
	gate := NewTopicDiagnosticGate()

	var (
		sender CommandSender
		relay  RelaySwitch
	)

	if b.config.Simulation.Enabled {
		sim := NewSimulatedHeatpump(cache,
			ParseScenarioType(b.config.Simulation.Scenario),
			b.config.Simulation.UpdateInterval,
			b.logger.With(zap.String("component", "simulator")),
		)
		simCtx, cancel := context.WithCancel(context.Background())
		sim.Prime()
		go sim.Run(simCtx)

		b.mu.Lock()
		b.simulator, b.simCancel = sim, cancel
		b.mu.Unlock()
		sender, relay = sim, sim
	} else {
		link := NewMQTTLink(b.config.MQTT, cache, b.logger.With(zap.String("component", "mqtt")))
		if err := link.Connect(); err != nil {
			return err
		}

		b.mu.Lock()
		b.mqtt = link
		b.mu.Unlock()
		sender, relay = link, link
	}

	dispatcher := NewCommandDispatcher(partition, sender, b.logger.With(zap.String("component", "commands")))
	dispatcher.SetAlternateVariant(b.config.Heatpump.AlternateVariant)

	handler := NewRequestHandler(partition, cache, gate, dispatcher, relay,
		WithHandlerLogger(b.logger.With(zap.String("component", "handler"))),
		WithReadCeiling(uint32(b.config.Server.LegacyReadCeiling)),
		WithRecorder(b.metrics),
	)

	if b.config.Network.AliasIP != "" {
		alias, err := b.config.Network.AliasAddr()
		if err != nil {
			return err
		}
		network := NewNetworkProvisioner(b.config.Network.Interface, b.logger)
		if err := network.Setup(ctx, alias); err != nil {
			return fmt.Errorf("設置別名 IP 失敗: %w", err)
		}
		b.mu.Lock()
		b.network = network
		b.mu.Unlock()
	}

	transport, err := NewTransport(b.config, handler, b.logger)
	if err != nil {
		return err
	}
	if err := transport.Start(ctx); err != nil {
		return err
	}

	b.mu.Lock()
	b.partition = partition
	b.cache = cache
	b.gate = gate
	b.dispatcher = dispatcher
	b.handler = handler
	b.transport = transport
	b.mu.Unlock()

	if b.config.Metrics.Enabled {
		if err := b.metrics.Start(b.config.Metrics.Endpoint, b.config.Metrics.Port); err != nil {
			b.logger.Warn("啟動指標伺服器失敗", zap.Error(err))
		}
	}

	return nil
}

// Stop 停止橋接器
func (b *Bridge) Stop(ctx context.Context) error {
	if !b.state.CompareAndSwap(int32(BridgeStateRunning), int32(BridgeStateStopping)) {
		return nil
	}

	b.logger.Info("正在停止橋接器")

	done := make(chan error, 1)
	go func() {
		done <- b.cleanup(ctx)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		b.logger.Warn("停止橋接器逾時")
		err = ctx.Err()
	}

	b.state.Store(int32(BridgeStateStopped))
	b.logger.Info("橋接器已停止", zap.Duration("uptime", time.Since(b.startTime)))
	return err
}

// cleanup 依啟動的反向順序釋放元件
func (b *Bridge) cleanup(ctx context.Context) error {
	b.mu.Lock()
	transport, link, cancel, network := b.transport, b.mqtt, b.simCancel, b.network
	b.transport, b.mqtt, b.simulator, b.simCancel, b.network = nil, nil, nil, nil, nil
	b.mu.Unlock()

	var errs []error
	if err := b.metrics.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("停止指標伺服器失敗: %w", err))
	}
	if transport != nil {
		if err := transport.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("停止傳輸層失敗: %w", err))
		}
	}
	if network != nil {
		if err := network.Teardown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("移除別名 IP 失敗: %w", err))
		}
	}
	if link != nil {
		link.Close()
	}
	if cancel != nil {
		cancel()
	}
	return errors.Join(errs...)
}

// State 取得橋接器狀態
func (b *Bridge) State() BridgeState {
	return BridgeState(b.state.Load())
}

// Cache 主題快取
func (b *Bridge) Cache() *TopicCache {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cache
}

// Partition 位址分區
func (b *Bridge) Partition() *AddressPartition {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.partition
}

// Handler 請求處理器
func (b *Bridge) Handler() *RequestHandler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.handler
}

// Metrics 指標收集器
func (b *Bridge) Metrics() *MetricsCollector {
	return b.metrics
}

// Stats 取得統計資訊
func (b *Bridge) Stats() BridgeStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BridgeStats{
		StartTime: b.startTime,
		Source:    SourceModeMQTT,
	}
	if b.config.Simulation.Enabled {
		stats.Source = SourceModeSimulation
	}
	if b.transport != nil {
		stats.Transport = b.transport.Name()
		ts := b.transport.Stats()
		stats.TotalRequests = ts.RequestCount.Load()
		stats.TotalErrors = ts.ErrorCount.Load()
	}
	if b.mqtt != nil {
		stats.MQTTConnected = b.mqtt.Connected()
	}
	if b.cache != nil {
		stats.LastTopicUpdate, stats.TopicUpdates = b.cache.LastUpdate()
	}
	return stats
}

// ApplyScenario 切換模擬場景 (僅模擬模式)
func (b *Bridge) ApplyScenario(t ScenarioType) error {
	b.mu.RLock()
	sim := b.simulator
	b.mu.RUnlock()

	if sim == nil {
		return fmt.Errorf("未啟用模擬模式")
	}

	b.logger.Info("套用場景", zap.String("scenario", t.String()))
	sim.Engine().SetScenario(t)
	return nil
}

// SetAlternateVariant 切換替代硬體型號
func (b *Bridge) SetAlternateVariant(alternate bool) {
	b.mu.RLock()
	d := b.dispatcher
	b.mu.RUnlock()

	if d != nil {
		d.SetAlternateVariant(alternate)
	}
}
