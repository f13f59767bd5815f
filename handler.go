package main

import (
	"sync"

	"go.uber.org/zap"
)

// 請求類型 (指標標籤)
const (
	OpReadRegisters = "read_registers"
	OpWriteCoil     = "write_coil"
	OpWriteRegister = "write_register"
)

// RelaySwitch 繼電器控制
type RelaySwitch interface {
	SetRelay(on bool) error
}

// RequestRecorder 請求結果記錄 (指標)
type RequestRecorder interface {
	RecordRequest(operation string, err error)
	RecordDiagnostic(source TopicSource)
}

// RequestHandler Modbus 請求處理器
//
// 所有請求以 mu 序列化，等同單一工作者處理。
type RequestHandler struct {
	mu sync.Mutex

	partition  *AddressPartition
	store      TopicStore
	gate       *DiagnosticGate
	dispatcher *CommandDispatcher
	relay      RelaySwitch

	recorder RequestRecorder
	logger   *zap.Logger

	// 舊版讀取上限 (start+quantity)，0 表示停用
	readCeiling uint32
}

// HandlerOption 處理器配置選項
type HandlerOption func(*RequestHandler)

// WithReadCeiling 設定舊版讀取上限
func WithReadCeiling(ceiling uint32) HandlerOption {
	return func(h *RequestHandler) {
		h.readCeiling = ceiling
	}
}

// WithRecorder 設定指標記錄器
func WithRecorder(r RequestRecorder) HandlerOption {
	return func(h *RequestHandler) {
		h.recorder = r
	}
}

// WithHandlerLogger 設定日誌
func WithHandlerLogger(logger *zap.Logger) HandlerOption {
	return func(h *RequestHandler) {
		h.logger = logger
	}
}

// NewRequestHandler 建立請求處理器
func NewRequestHandler(
	partition *AddressPartition,
	store TopicStore,
	gate *DiagnosticGate,
	dispatcher *CommandDispatcher,
	relay RelaySwitch,
	opts ...HandlerOption,
) *RequestHandler {
	h := &RequestHandler{
		partition:  partition,
		store:      store,
		gate:       gate,
		dispatcher: dispatcher,
		relay:      relay,
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.logger == nil {
		h.logger = zap.NewNop()
	}

	return h
}

// ReadRegisters 處理讀取保持/輸入暫存器請求 (FC 03/04)
//
// 任一位址無法解析即整筆回報非法位址，不回傳部分資料。
func (h *RequestHandler) ReadRegisters(start, quantity uint16) ([]uint16, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	regs, err := h.readRegisters(start, quantity)
	if err != nil {
		h.logger.Debug("讀取暫存器失敗",
			zap.Uint16("address", start),
			zap.Uint16("quantity", quantity),
			zap.Error(err),
		)
	}
	h.record(OpReadRegisters, err)
	return regs, err
}

func (h *RequestHandler) readRegisters(start, quantity uint16) ([]uint16, error) {
	if quantity == 0 || quantity > MaxRegistersPerRead {
		return nil, errIllegalDataValue
	}

	end := uint32(start) + uint32(quantity)
	if end > 0x10000 {
		return nil, errIllegalDataAddress
	}
	if h.readCeiling > 0 && end > h.readCeiling {
		return nil, errIllegalDataAddress
	}

	result := make([]uint16, 0, quantity)
	var memo floatMemo
	for addr := uint32(start); addr < end; addr++ {
		word, ok := h.readWord(uint16(addr), &memo)
		if !ok {
			return nil, errIllegalDataAddress
		}
		result = append(result, word)
	}
	return result, nil
}

// floatMemo 同一請求內浮點主題的高低字取自同一份快照
type floatMemo struct {
	valid  bool
	source TopicSource
	index  int
	msw    uint16
	lsw    uint16
}

func (h *RequestHandler) readWord(addr uint16, memo *floatMemo) (uint16, bool) {
	if res, ok := h.partition.ResolveScaled(addr); ok && h.inStore(res) {
		return h.scaledWord(res), true
	}
	if res, ok := h.partition.ResolveFloat(addr); ok && h.inStore(res) {
		return h.floatWord(res, memo), true
	}
	return 0, false
}

// inStore 解析出的索引須落在實際的主題數內
func (h *RequestHandler) inStore(res Resolution) bool {
	return res.Index < h.store.TopicCount(res.Source) && res.Index < len(TopicTable(res.Source))
}

func (h *RequestHandler) scaledWord(res Resolution) uint16 {
	text, ok := h.store.TopicText(res.Source, res.Index)
	if !ok {
		return 0
	}

	topic := TopicTable(res.Source)[res.Index]
	word, enc := EncodeScaled(text, topic)
	if enc == EncodingInvalid {
		h.diagnose(res, topic, text)
	}
	return word
}

func (h *RequestHandler) floatWord(res Resolution, memo *floatMemo) uint16 {
	if !memo.valid || memo.source != res.Source || memo.index != res.Index {
		*memo = floatMemo{valid: true, source: res.Source, index: res.Index}

		if text, ok := h.store.TopicText(res.Source, res.Index); ok {
			msw, lsw, numeric := EncodeFloat(text)
			if !numeric {
				h.diagnose(res, TopicTable(res.Source)[res.Index], text)
			}
			memo.msw, memo.lsw = msw, lsw
		}
	}

	if res.Word == WordMSW {
		return memo.msw
	}
	return memo.lsw
}

func (h *RequestHandler) diagnose(res Resolution, topic TopicDescriptor, text string) {
	if h.gate == nil || !h.gate.ShouldLog(res.Source, res.Index) {
		return
	}
	h.logger.Warn("主題值非數值，以 0 回報",
		zap.String("source", res.Source.String()),
		zap.String("topic", topic.Name),
		zap.String("value", text),
	)
	if h.recorder != nil {
		h.recorder.RecordDiagnostic(res.Source)
	}
}

// WriteSingleCoil 處理寫入單一線圈請求 (FC 05)
//
// 線圈 0..2 皆控制同一個繼電器。
func (h *RequestHandler) WriteSingleCoil(address, state uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	err := h.writeSingleCoil(address, state)
	h.record(OpWriteCoil, err)
	return err
}

func (h *RequestHandler) writeSingleCoil(address, state uint16) error {
	if address > RelayCoilLast {
		return errIllegalDataAddress
	}

	var on bool
	switch state {
	case CoilStateOff:
		on = false
	case CoilStateOn:
		on = true
	default:
		return errIllegalDataValue
	}

	if err := h.relay.SetRelay(on); err != nil {
		h.logger.Warn("切換繼電器失敗",
			zap.Uint16("address", address),
			zap.Bool("on", on),
			zap.Error(err),
		)
		return nil
	}

	h.logger.Info("繼電器已切換", zap.Uint16("address", address), zap.Bool("on", on))
	return nil
}

// WriteSingleRegister 處理寫入單一暫存器請求 (FC 06)
func (h *RequestHandler) WriteSingleRegister(address, value uint16) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var err error
	switch h.dispatcher.Write(address, value) {
	case WriteSuccess:
	case WriteInvalidAddress:
		err = errIllegalDataAddress
	case WriteUnsupportedValue:
		err = errIllegalDataValue
	}

	h.record(OpWriteRegister, err)
	return err
}

func (h *RequestHandler) record(op string, err error) {
	if h.recorder != nil {
		h.recorder.RecordRequest(op, err)
	}
}
