package main

// Modbus 協議常數
const (
	// Modbus 功能碼
	FuncCodeReadCoils              = 0x01
	FuncCodeReadDiscreteInputs     = 0x02
	FuncCodeReadHoldingRegisters   = 0x03
	FuncCodeReadInputRegisters     = 0x04
	FuncCodeWriteSingleCoil        = 0x05
	FuncCodeWriteSingleRegister    = 0x06
	FuncCodeWriteMultipleCoils     = 0x0F
	FuncCodeWriteMultipleRegisters = 0x10

	// Modbus 異常碼
	ExceptionCodeIllegalFunction    = 0x01
	ExceptionCodeIllegalDataAddress = 0x02
	ExceptionCodeIllegalDataValue   = 0x03
	ExceptionCodeSlaveDeviceFailure = 0x04

	// Modbus TCP 常數
	ModbusTCPDefaultPort = 502
	DefaultUnitID        = 1

	// 暫存器限制
	MaxRegistersPerRead = 125

	// 線圈狀態值
	CoilStateOff uint16 = 0x0000
	CoilStateOn  uint16 = 0xFF00

	// 繼電器線圈位址 (0..2 皆對應同一個實體繼電器)
	RelayCoilLast = 2
)

// ModbusError Modbus 異常錯誤
type ModbusError struct {
	Code uint8
}

func (e *ModbusError) Error() string {
	switch e.Code {
	case ExceptionCodeIllegalFunction:
		return "非法功能碼"
	case ExceptionCodeIllegalDataAddress:
		return "非法資料位址"
	case ExceptionCodeIllegalDataValue:
		return "非法資料值"
	case ExceptionCodeSlaveDeviceFailure:
		return "從站設備故障"
	default:
		return "未知錯誤"
	}
}

var (
	errIllegalFunction    = &ModbusError{Code: ExceptionCodeIllegalFunction}
	errIllegalDataAddress = &ModbusError{Code: ExceptionCodeIllegalDataAddress}
	errIllegalDataValue   = &ModbusError{Code: ExceptionCodeIllegalDataValue}
	errSlaveDeviceFailure = &ModbusError{Code: ExceptionCodeSlaveDeviceFailure}
)

// DataKind 位址解析後的資料類型
type DataKind int

const (
	KindScaled DataKind = iota
	KindFloat
	KindCommand
)

func (k DataKind) String() string {
	switch k {
	case KindScaled:
		return "scaled"
	case KindFloat:
		return "float32"
	case KindCommand:
		return "command"
	default:
		return "unknown"
	}
}

// RegisterCount 返回該資料類型每個主題佔用的暫存器數量
func (k DataKind) RegisterCount() int {
	if k == KindFloat {
		return 2
	}
	return 1
}
