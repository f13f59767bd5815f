package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// 傳輸層類型
const (
	TransportTCP      = "tcp"
	TransportMBServer = "mbserver"
	TransportRTU      = "rtu"
)

// TransportState 傳輸層狀態
type TransportState int32

const (
	TransportStateStopped TransportState = iota
	TransportStateStarting
	TransportStateRunning
	TransportStateStopping
)

func (s TransportState) String() string {
	switch s {
	case TransportStateStopped:
		return "stopped"
	case TransportStateStarting:
		return "starting"
	case TransportStateRunning:
		return "running"
	case TransportStateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// Transport Modbus 伺服端傳輸層
type Transport interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Name() string
	State() TransportState
	Stats() *TransportStats
}

// TransportStats 傳輸層統計資訊
type TransportStats struct {
	StartTime       time.Time
	RequestCount    atomic.Uint64
	ErrorCount      atomic.Uint64
	LastRequestTime atomic.Int64
}

// record 記錄請求
func (s *TransportStats) record(hasError bool) {
	s.RequestCount.Add(1)
	s.LastRequestTime.Store(time.Now().UnixNano())
	if hasError {
		s.ErrorCount.Add(1)
	}
}

// NewTransport 依配置建立傳輸層
func NewTransport(cfg *Config, handler *RequestHandler, logger *zap.Logger) (Transport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	unitID := uint8(cfg.Server.UnitID)
	addr := listenAddr(cfg)

	switch cfg.Server.Transport {
	case TransportMBServer, "":
		logger = logger.With(zap.String("transport", TransportMBServer))
		warnSessionLimits(cfg, logger)
		return NewMBServerTransport(addr, unitID, handler, logger), nil
	case TransportRTU:
		logger = logger.With(zap.String("transport", TransportRTU))
		warnSessionLimits(cfg, logger)
		return NewRTUTransport(cfg.Server.RTU.SerialConfig(), unitID, handler, logger), nil
	case TransportTCP:
		// 請求在處理器之前由函式庫檢查，FC05 非法狀態值與超出範圍的數量會直接斷線而非回報異常
		return NewTCPTransport(addr, unitID, handler,
			cfg.Server.IdleTimeout, cfg.Server.MaxClients,
			logger.With(zap.String("transport", TransportTCP))), nil
	default:
		return nil, fmt.Errorf("未知的傳輸層類型: %s", cfg.Server.Transport)
	}
}

// warnSessionLimits mbserver 沒有閒置逾時與連線數限制
func warnSessionLimits(cfg *Config, logger *zap.Logger) {
	if cfg.Server.IdleTimeout == DefaultIdleTimeout && cfg.Server.MaxClients == DefaultMaxClients {
		return
	}
	logger.Warn("此傳輸層不支援 idle_timeout 與 max_clients，設定將被忽略",
		zap.Duration("idle_timeout", cfg.Server.IdleTimeout),
		zap.Int("max_clients", cfg.Server.MaxClients),
	)
}

// listenAddr 組合監聽位址；指定別名 IP 時優先綁定
func listenAddr(cfg *Config) string {
	ip := cfg.Server.ListenIP
	if ip == "" && cfg.Network.AliasIP != "" {
		if alias, err := cfg.Network.AliasAddr(); err == nil {
			ip = alias.IP.String()
		}
	}
	if ip == "" {
		ip = "0.0.0.0"
	}
	return net.JoinHostPort(ip, strconv.Itoa(cfg.Server.Port))
}

// exceptionCode 取得錯誤對應的 Modbus 異常碼
func exceptionCode(err error) uint8 {
	var me *ModbusError
	if errors.As(err, &me) {
		return me.Code
	}
	return ExceptionCodeSlaveDeviceFailure
}
