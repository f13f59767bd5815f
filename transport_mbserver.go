package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/goburrow/serial"
	"github.com/tbrandon/mbserver"
	"go.uber.org/zap"
)

// MBServerTransport 以 mbserver 提供 Modbus TCP 或 RTU 服務
type MBServerTransport struct {
	addr    string
	serial  *serial.Config
	unitID  uint8
	handler *RequestHandler

	server *mbserver.Server
	state  atomic.Int32
	stats  TransportStats
	logger *zap.Logger
}

// NewMBServerTransport 建立 TCP 傳輸層
func NewMBServerTransport(addr string, unitID uint8, handler *RequestHandler, logger *zap.Logger) *MBServerTransport {
	return &MBServerTransport{
		addr:    addr,
		unitID:  unitID,
		handler: handler,
		logger:  logger,
	}
}

// NewRTUTransport 建立序列埠 RTU 傳輸層
func NewRTUTransport(cfg *serial.Config, unitID uint8, handler *RequestHandler, logger *zap.Logger) *MBServerTransport {
	return &MBServerTransport{
		serial:  cfg,
		unitID:  unitID,
		handler: handler,
		logger:  logger,
	}
}

// Name 傳輸層名稱
func (t *MBServerTransport) Name() string {
	if t.serial != nil {
		return TransportRTU
	}
	return TransportMBServer
}

// Start 啟動伺服器
func (t *MBServerTransport) Start(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(TransportStateStopped), int32(TransportStateStarting)) {
		return fmt.Errorf("傳輸層 %s 已經在運行中", t.Name())
	}

	t.server = mbserver.NewServer()
	t.registerHandlers(t.server)
	t.stats.StartTime = time.Now()

	var err error
	if t.serial != nil {
		err = t.server.ListenRTU(t.serial)
	} else {
		err = t.server.ListenTCP(t.addr)
	}
	if err != nil {
		t.state.Store(int32(TransportStateStopped))
		return fmt.Errorf("監聽 %s 失敗: %w", t.endpoint(), err)
	}

	t.state.Store(int32(TransportStateRunning))
	t.logger.Info("Modbus 伺服器已啟動",
		zap.String("addr", t.endpoint()),
		zap.Uint8("unitID", t.unitID),
	)
	return nil
}

// Stop 停止伺服器
func (t *MBServerTransport) Stop(ctx context.Context) error {
	if !t.state.CompareAndSwap(int32(TransportStateRunning), int32(TransportStateStopping)) {
		return nil
	}

	if t.server != nil {
		t.server.Close()
	}

	t.state.Store(int32(TransportStateStopped))
	t.logger.Info("Modbus 伺服器已停止",
		zap.Duration("uptime", time.Since(t.stats.StartTime)),
		zap.Uint64("requests", t.stats.RequestCount.Load()),
	)
	return nil
}

// State 取得當前狀態
func (t *MBServerTransport) State() TransportState {
	return TransportState(t.state.Load())
}

// Stats 取得統計資訊
func (t *MBServerTransport) Stats() *TransportStats {
	return &t.stats
}

func (t *MBServerTransport) endpoint() string {
	if t.serial != nil {
		return t.serial.Address
	}
	return t.addr
}

// registerHandlers 覆寫 mbserver 預設的記憶體暫存器處理
func (t *MBServerTransport) registerHandlers(s *mbserver.Server) {
	s.RegisterFunctionHandler(FuncCodeReadHoldingRegisters, t.handleReadRegisters)
	s.RegisterFunctionHandler(FuncCodeReadInputRegisters, t.handleReadRegisters)
	s.RegisterFunctionHandler(FuncCodeWriteSingleCoil, t.handleWriteSingleCoil)
	s.RegisterFunctionHandler(FuncCodeWriteSingleRegister, t.handleWriteSingleRegister)

	for _, fc := range []uint8{
		FuncCodeReadCoils,
		FuncCodeReadDiscreteInputs,
		FuncCodeWriteMultipleCoils,
		FuncCodeWriteMultipleRegisters,
	} {
		s.RegisterFunctionHandler(fc, t.handleUnsupported)
	}
}

func (t *MBServerTransport) handleReadRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	start, quantity, ex := t.decodeRequest(frame)
	if ex != nil {
		return []byte{}, ex
	}

	regs, err := t.handler.ReadRegisters(start, quantity)
	if err != nil {
		return t.fail(err)
	}

	out := make([]byte, 1+2*len(regs))
	out[0] = byte(2 * len(regs))
	for i, r := range regs {
		binary.BigEndian.PutUint16(out[1+2*i:], r)
	}

	t.stats.record(false)
	return out, &mbserver.Success
}

func (t *MBServerTransport) handleWriteSingleCoil(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	addr, state, ex := t.decodeRequest(frame)
	if ex != nil {
		return []byte{}, ex
	}

	if err := t.handler.WriteSingleCoil(addr, state); err != nil {
		return t.fail(err)
	}

	t.stats.record(false)
	return frame.GetData()[0:4], &mbserver.Success
}

func (t *MBServerTransport) handleWriteSingleRegister(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	addr, value, ex := t.decodeRequest(frame)
	if ex != nil {
		return []byte{}, ex
	}

	if err := t.handler.WriteSingleRegister(addr, value); err != nil {
		return t.fail(err)
	}

	t.stats.record(false)
	return frame.GetData()[0:4], &mbserver.Success
}

func (t *MBServerTransport) handleUnsupported(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	t.stats.record(true)
	t.logger.Debug("不支援的功能碼", zap.Uint8("function", frame.GetFunction()))
	return []byte{}, &mbserver.IllegalFunction
}

// decodeRequest 檢查 unit id 並取出請求的兩個 16 位元欄位
func (t *MBServerTransport) decodeRequest(frame mbserver.Framer) (uint16, uint16, *mbserver.Exception) {
	if unit, ok := frameUnitID(frame); ok && unit != t.unitID {
		t.stats.record(true)
		t.logger.Debug("unit id 不符", zap.Uint8("unitID", unit), zap.Uint8("expected", t.unitID))
		return 0, 0, &mbserver.SlaveDeviceFailure
	}

	data := frame.GetData()
	if len(data) < 4 {
		t.stats.record(true)
		return 0, 0, &mbserver.IllegalDataValue
	}
	return binary.BigEndian.Uint16(data[0:2]), binary.BigEndian.Uint16(data[2:4]), nil
}

func (t *MBServerTransport) fail(err error) ([]byte, *mbserver.Exception) {
	t.stats.record(true)
	return []byte{}, mbserverException(err)
}

// frameUnitID 取得 TCP Unit Identifier 或 RTU 從站位址
func frameUnitID(frame mbserver.Framer) (uint8, bool) {
	switch f := frame.(type) {
	case *mbserver.TCPFrame:
		return f.Device, true
	case *mbserver.RTUFrame:
		return f.Address, true
	default:
		return 0, false
	}
}

// mbserverException 將錯誤轉換為 mbserver 異常
func mbserverException(err error) *mbserver.Exception {
	switch exceptionCode(err) {
	case ExceptionCodeIllegalFunction:
		return &mbserver.IllegalFunction
	case ExceptionCodeIllegalDataAddress:
		return &mbserver.IllegalDataAddress
	case ExceptionCodeIllegalDataValue:
		return &mbserver.IllegalDataValue
	default:
		return &mbserver.SlaveDeviceFailure
	}
}
