package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	svmodbus "github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// TCPTransport 以 simonvetter/modbus 提供 Modbus TCP 服務
//
// 支援閒置逾時與最大連線數；每個客戶端各自一個 goroutine，
// 請求的序列化由 RequestHandler 負責。
type TCPTransport struct {
	addr        string
	unitID      uint8
	idleTimeout time.Duration
	maxClients  int
	handler     *RequestHandler

	server *svmodbus.ModbusServer
	state  atomic.Int32
	stats  TransportStats
	logger *zap.Logger
}

// NewTCPTransport 建立 TCP 傳輸層
func NewTCPTransport(addr string, unitID uint8, handler *RequestHandler, idleTimeout time.Duration, maxClients int, logger *zap.Logger) *TCPTransport {
	return &TCPTransport{
		addr:        addr,
		unitID:      unitID,
		idleTimeout: idleTimeout,
		maxClients:  maxClients,
		handler:     handler,
		logger:      logger,
	}
}

// Name 傳輸層名稱
func (t *TCPTransport) Name() string {
	return TransportTCP
}

// Start 啟動伺服器
func (t *TCPTransport) Start(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(TransportStateStopped), int32(TransportStateStarting)) {
		return fmt.Errorf("傳輸層 %s 已經在運行中", t.Name())
	}

	server, err := svmodbus.NewServer(&svmodbus.ServerConfiguration{
		URL:        "tcp://" + t.addr,
		Timeout:    t.idleTimeout,
		MaxClients: uint(t.maxClients),
	}, &tcpRequestHandler{t: t})
	if err != nil {
		t.state.Store(int32(TransportStateStopped))
		return fmt.Errorf("建立 Modbus 伺服器失敗: %w", err)
	}

	t.stats.StartTime = time.Now()
	if err := server.Start(); err != nil {
		t.state.Store(int32(TransportStateStopped))
		return fmt.Errorf("監聽 %s 失敗: %w", t.addr, err)
	}
	t.server = server

	t.state.Store(int32(TransportStateRunning))
	t.logger.Info("Modbus 伺服器已啟動",
		zap.String("addr", t.addr),
		zap.Uint8("unitID", t.unitID),
		zap.Duration("idle_timeout", t.idleTimeout),
		zap.Int("max_clients", t.maxClients),
	)
	return nil
}

// Stop 停止伺服器
func (t *TCPTransport) Stop(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(TransportStateRunning), int32(TransportStateStopping)) {
		return nil
	}

	var err error
	if t.server != nil {
		err = t.server.Stop()
	}

	t.state.Store(int32(TransportStateStopped))
	t.logger.Info("Modbus 伺服器已停止",
		zap.Duration("uptime", time.Since(t.stats.StartTime)),
		zap.Uint64("requests", t.stats.RequestCount.Load()),
	)
	return err
}

// State 取得當前狀態
func (t *TCPTransport) State() TransportState {
	return TransportState(t.state.Load())
}

// Stats 取得統計資訊
func (t *TCPTransport) Stats() *TransportStats {
	return &t.stats
}

// tcpRequestHandler 實作 simonvetter 的 RequestHandler 介面
type tcpRequestHandler struct {
	t *TCPTransport
}

// HandleCoils 僅支援單一線圈寫入 (FC 05)
func (h *tcpRequestHandler) HandleCoils(req *svmodbus.CoilsRequest) ([]bool, error) {
	if err := h.checkUnit(req.UnitId); err != nil {
		return nil, err
	}
	if !req.IsWrite || req.Quantity != 1 || len(req.Args) != 1 {
		return nil, h.result(errIllegalFunction)
	}

	state := CoilStateOff
	if req.Args[0] {
		state = CoilStateOn
	}
	return nil, h.result(h.t.handler.WriteSingleCoil(req.Addr, state))
}

// HandleDiscreteInputs 不支援
func (h *tcpRequestHandler) HandleDiscreteInputs(req *svmodbus.DiscreteInputsRequest) ([]bool, error) {
	if err := h.checkUnit(req.UnitId); err != nil {
		return nil, err
	}
	return nil, h.result(errIllegalFunction)
}

// HandleHoldingRegisters 讀取 (FC 03) 或寫入單一暫存器 (FC 06)
func (h *tcpRequestHandler) HandleHoldingRegisters(req *svmodbus.HoldingRegistersRequest) ([]uint16, error) {
	if err := h.checkUnit(req.UnitId); err != nil {
		return nil, err
	}

	if req.IsWrite {
		if req.Quantity != 1 || len(req.Args) != 1 {
			return nil, h.result(errIllegalFunction)
		}
		return nil, h.result(h.t.handler.WriteSingleRegister(req.Addr, req.Args[0]))
	}

	regs, err := h.t.handler.ReadRegisters(req.Addr, req.Quantity)
	return regs, h.result(err)
}

// HandleInputRegisters 讀取輸入暫存器 (FC 04)，與保持暫存器共用同一份位址表
func (h *tcpRequestHandler) HandleInputRegisters(req *svmodbus.InputRegistersRequest) ([]uint16, error) {
	if err := h.checkUnit(req.UnitId); err != nil {
		return nil, err
	}

	regs, err := h.t.handler.ReadRegisters(req.Addr, req.Quantity)
	return regs, h.result(err)
}

func (h *tcpRequestHandler) checkUnit(unitID uint8) error {
	if unitID == h.t.unitID {
		return nil
	}
	h.t.logger.Debug("unit id 不符", zap.Uint8("unitID", unitID), zap.Uint8("expected", h.t.unitID))
	return h.result(errSlaveDeviceFailure)
}

// result 記錄統計並轉換為 simonvetter 的錯誤值
func (h *tcpRequestHandler) result(err error) error {
	h.t.stats.record(err != nil)
	if err == nil {
		return nil
	}

	switch exceptionCode(err) {
	case ExceptionCodeIllegalFunction:
		return svmodbus.ErrIllegalFunction
	case ExceptionCodeIllegalDataAddress:
		return svmodbus.ErrIllegalDataAddress
	case ExceptionCodeIllegalDataValue:
		return svmodbus.ErrIllegalDataValue
	default:
		return svmodbus.ErrServerDeviceFailure
	}
}
