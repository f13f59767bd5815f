package main

import (
	"strconv"
	"sync/atomic"

	"go.uber.org/zap"
)

// CommandDescriptor 命令描述
type CommandDescriptor struct {
	Name string
	ID   uint16
	// Structured 命令需要結構化 (JSON) 內容，無法由單一暫存器寫入
	Structured bool
}

// MainCommands 主要命令表，以 ID 而非位置對應位址偏移
var MainCommands = []CommandDescriptor{
	{Name: "SetHeatpump", ID: 0},
	{Name: "SetPump", ID: 1},
	{Name: "SetMaxPumpDuty", ID: 2},
	{Name: "SetQuietMode", ID: 3},
	{Name: "SetZ1HeatRequestTemperature", ID: 4},
	{Name: "SetZ1CoolRequestTemperature", ID: 5},
	{Name: "SetZ2HeatRequestTemperature", ID: 6},
	{Name: "SetZ2CoolRequestTemperature", ID: 7},
	{Name: "SetOperationMode", ID: 8},
	{Name: "SetForceDHW", ID: 9},
	{Name: "SetDHWTemp", ID: 10},
	{Name: "SetHolidayMode", ID: 11},
	{Name: "SetForceDefrost", ID: 12},
	{Name: "SetForceSterilization", ID: 13},
	{Name: "SetPowerfulMode", ID: 14},
	{Name: "SetZones", ID: 15},
	{Name: "SetFloorHeatDelta", ID: 16},
	{Name: "SetFloorCoolDelta", ID: 17},
	{Name: "SetDHWHeatDelta", ID: 18},
	{Name: "SetCurves", ID: 19, Structured: true},
	{Name: "SetHeaterDelayTime", ID: 20},
	{Name: "SetHeaterStartDelta", ID: 21},
	{Name: "SetHeaterStopDelta", ID: 22},
	{Name: "SetMainSchedule", ID: 23},
	{Name: "SetAltExternalSensor", ID: 24},
	{Name: "SetExternalPadHeater", ID: 25},
	{Name: "SetBufferDelta", ID: 26},
	{Name: "SetBuffer", ID: 27},
	{Name: "SetHeatingOffOutdoorTemp", ID: 28},
	{Name: "SetExternalControl", ID: 29},
	{Name: "SetExternalError", ID: 30},
	{Name: "SetExternalCompressorControl", ID: 31},
	{Name: "SetExternalHeatCoolControl", ID: 32},
	{Name: "SetBivalentControl", ID: 33},
	{Name: "SetBivalentMode", ID: 34},
	{Name: "SetBivalentStartTemp", ID: 35},
	{Name: "SetBivalentAPStartTemp", ID: 36},
	{Name: "SetBivalentAPStopTemp", ID: 37},
	// 38 保留給已移除的 SetForceHeater
	{Name: "SetExternalPumpControl", ID: 39},
}

// OptionalCommands 選配 PCB 命令表，以位置對應位址偏移
var OptionalCommands = []CommandDescriptor{
	{Name: "SetHeatCoolMode"},
	{Name: "SetCompressorState"},
	{Name: "SetSmartGridMode"},
	{Name: "SetExternalThermostat1State"},
	{Name: "SetExternalThermostat2State"},
	{Name: "SetDemandControl"},
	{Name: "SetPoolTemp"},
	{Name: "SetBufferTemp"},
	{Name: "SetZ1RoomTemp"},
	{Name: "SetZ1WaterTemp"},
	{Name: "SetZ2RoomTemp"},
	{Name: "SetZ2WaterTemp"},
	{Name: "SetSolarTemp"},
	{Name: "SetOptPCBByte9"},
}

// CommandSender 將命令轉送給熱泵連線
type CommandSender interface {
	SendCommand(name, payload string, alternate bool) error
}

// WriteResult 命令寫入結果
type WriteResult int

const (
	WriteSuccess WriteResult = iota
	WriteInvalidAddress
	WriteUnsupportedValue
)

func (r WriteResult) String() string {
	switch r {
	case WriteSuccess:
		return "success"
	case WriteInvalidAddress:
		return "invalid_address"
	case WriteUnsupportedValue:
		return "unsupported_value"
	default:
		return "unknown"
	}
}

// CommandDispatcher 將暫存器寫入轉換為熱泵命令
type CommandDispatcher struct {
	partition *AddressPartition
	sender    CommandSender
	logger    *zap.Logger

	// 替代硬體型號 (改變命令的封裝方式)
	alternate atomic.Bool

	sendFailures atomic.Uint64
}

// NewCommandDispatcher 建立命令分派器
func NewCommandDispatcher(partition *AddressPartition, sender CommandSender, logger *zap.Logger) *CommandDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandDispatcher{
		partition: partition,
		sender:    sender,
		logger:    logger,
	}
}

// SetAlternateVariant 設定替代硬體型號旗標
func (d *CommandDispatcher) SetAlternateVariant(alternate bool) {
	d.alternate.Store(alternate)
}

// AlternateVariant 取得替代硬體型號旗標
func (d *CommandDispatcher) AlternateVariant() bool {
	return d.alternate.Load()
}

// SendFailures 轉送失敗次數
func (d *CommandDispatcher) SendFailures() uint64 {
	return d.sendFailures.Load()
}

// ResolveCommandName 解析命令位址；主要命令比對 ID，選配命令比對位置
func (d *CommandDispatcher) ResolveCommandName(addr uint16) (CommandDescriptor, bool) {
	r, offset, ok := d.partition.ResolveCommand(addr)
	if !ok {
		return CommandDescriptor{}, false
	}
	return commandAt(r.Source, offset)
}

func commandAt(source TopicSource, offset uint16) (CommandDescriptor, bool) {
	switch source {
	case SourceMain:
		for _, c := range MainCommands {
			if c.ID == offset {
				return c, true
			}
		}
	case SourceOptional:
		if int(offset) < len(OptionalCommands) {
			return OptionalCommands[offset], true
		}
	}
	return CommandDescriptor{}, false
}

// Write 將原始暫存器值以有號十進位文字轉送為命令
//
// 轉送失敗只記錄於日誌與計數，寫入仍回報成功；不重試。
func (d *CommandDispatcher) Write(addr uint16, raw uint16) WriteResult {
	cmd, ok := d.ResolveCommandName(addr)
	if !ok {
		return WriteInvalidAddress
	}
	if cmd.Structured {
		d.logger.Debug("命令需要結構化內容，拒絕暫存器寫入",
			zap.String("command", cmd.Name),
			zap.Uint16("address", addr),
		)
		return WriteUnsupportedValue
	}

	payload := strconv.Itoa(int(int16(raw)))
	if err := d.sender.SendCommand(cmd.Name, payload, d.AlternateVariant()); err != nil {
		d.logger.Warn("轉送命令失敗",
			zap.String("command", cmd.Name),
			zap.String("payload", payload),
			zap.Error(err),
		)
		d.sendFailures.Add(1)
		return WriteSuccess
	}

	d.logger.Info("已轉送命令",
		zap.String("command", cmd.Name),
		zap.String("payload", payload),
		zap.Uint16("address", addr),
	)
	return WriteSuccess
}
