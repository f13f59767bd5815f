package main

// TopicSource 主題來源
type TopicSource int

const (
	SourceMain TopicSource = iota
	SourceExtra
	SourceOptional
)

// topicSourceCount 來源數量
const topicSourceCount = 3

func (s TopicSource) String() string {
	switch s {
	case SourceMain:
		return "main"
	case SourceExtra:
		return "extra"
	case SourceOptional:
		return "optional"
	default:
		return "unknown"
	}
}

// ParseTopicSource 解析來源名稱 (即 MQTT 主題區段)
func ParseTopicSource(s string) (TopicSource, bool) {
	switch s {
	case "main":
		return SourceMain, true
	case "extra":
		return SourceExtra, true
	case "optional":
		return SourceOptional, true
	default:
		return SourceMain, false
	}
}

// ListTopicSources 列出所有來源
func ListTopicSources() []TopicSource {
	return []TopicSource{SourceMain, SourceExtra, SourceOptional}
}

// Unit 物理單位
type Unit int

const (
	UnitNone Unit = iota
	UnitCelsius
	UnitKelvin
	UnitLitersPerMinute
	UnitBar
	UnitKgfPerCm2
	UnitWatt
	UnitHertz
	UnitHours
	UnitCounter
	UnitRPM
	UnitAmpere
	UnitMinutes
	UnitPercent
	UnitState
	UnitFaultCode
)

func (u Unit) String() string {
	switch u {
	case UnitCelsius:
		return "°C"
	case UnitKelvin:
		return "K"
	case UnitLitersPerMinute:
		return "l/min"
	case UnitBar:
		return "bar"
	case UnitKgfPerCm2:
		return "kgf/cm2"
	case UnitWatt:
		return "W"
	case UnitHertz:
		return "Hz"
	case UnitHours:
		return "h"
	case UnitCounter:
		return "count"
	case UnitRPM:
		return "r/min"
	case UnitAmpere:
		return "A"
	case UnitMinutes:
		return "min"
	case UnitPercent:
		return "%"
	case UnitState:
		return "state"
	case UnitFaultCode:
		return "fault"
	default:
		return ""
	}
}

// Scaled 該單位的數值是否以 ×100 整數傳送
func (u Unit) Scaled() bool {
	switch u {
	case UnitCelsius, UnitKelvin, UnitLitersPerMinute, UnitBar, UnitKgfPerCm2:
		return true
	default:
		return false
	}
}

// TopicDescriptor 主題描述
type TopicDescriptor struct {
	Name string
	Unit Unit
	// Decimal 熱泵以小數回報此主題
	Decimal bool
}

// Scaled 此主題是否以 ×100 整數編碼
func (d TopicDescriptor) Scaled() bool {
	return d.Decimal || d.Unit.Scaled()
}

// MainTopics 主要主題表 (索引即 HeishaMon TOP 編號)
var MainTopics = []TopicDescriptor{
	{Name: "Heatpump_State", Unit: UnitState},
	{Name: "Pump_Flow", Unit: UnitLitersPerMinute},
	{Name: "Force_DHW_State", Unit: UnitState},
	{Name: "Quiet_Mode_Schedule", Unit: UnitState},
	{Name: "Operating_Mode_State", Unit: UnitState},
	{Name: "Main_Inlet_Temp", Unit: UnitCelsius},
	{Name: "Main_Outlet_Temp", Unit: UnitCelsius},
	{Name: "Main_Target_Temp", Unit: UnitCelsius},
	{Name: "Compressor_Freq", Unit: UnitHertz},
	{Name: "DHW_Target_Temp", Unit: UnitCelsius},
	{Name: "DHW_Temp", Unit: UnitCelsius},
	{Name: "Operations_Hours", Unit: UnitHours},
	{Name: "Operations_Counter", Unit: UnitCounter},
	{Name: "Main_Schedule_State", Unit: UnitState},
	{Name: "Outside_Temp", Unit: UnitCelsius},
	{Name: "Heat_Power_Production", Unit: UnitWatt},
	{Name: "Heat_Power_Consumption", Unit: UnitWatt},
	{Name: "Powerful_Mode_Time", Unit: UnitMinutes},
	{Name: "Quiet_Mode_Level", Unit: UnitState},
	{Name: "Holiday_Mode_State", Unit: UnitState},
	{Name: "ThreeWay_Valve_State", Unit: UnitState},
	{Name: "Outside_Pipe_Temp", Unit: UnitCelsius},
	{Name: "DHW_Heat_Delta", Unit: UnitKelvin},
	{Name: "Heat_Delta", Unit: UnitKelvin},
	{Name: "Cool_Delta", Unit: UnitKelvin},
	{Name: "DHW_Holiday_Shift_Temp", Unit: UnitKelvin},
	{Name: "Defrosting_State", Unit: UnitState},
	{Name: "Z1_Heat_Request_Temp", Unit: UnitCelsius},
	{Name: "Z1_Cool_Request_Temp", Unit: UnitCelsius},
	{Name: "Z1_Heat_Curve_Target_High_Temp", Unit: UnitCelsius},
	{Name: "Z1_Heat_Curve_Target_Low_Temp", Unit: UnitCelsius},
	{Name: "Z1_Heat_Curve_Outside_High_Temp", Unit: UnitCelsius},
	{Name: "Z1_Heat_Curve_Outside_Low_Temp", Unit: UnitCelsius},
	{Name: "Room_Thermostat_Temp", Unit: UnitCelsius},
	{Name: "Z2_Heat_Request_Temp", Unit: UnitCelsius},
	{Name: "Z2_Cool_Request_Temp", Unit: UnitCelsius},
	{Name: "Z1_Water_Temp", Unit: UnitCelsius},
	{Name: "Z2_Water_Temp", Unit: UnitCelsius},
	{Name: "Cool_Power_Production", Unit: UnitWatt},
	{Name: "Cool_Power_Consumption", Unit: UnitWatt},
	{Name: "DHW_Power_Production", Unit: UnitWatt},
	{Name: "DHW_Power_Consumption", Unit: UnitWatt},
	{Name: "Z1_Water_Target_Temp", Unit: UnitCelsius},
	{Name: "Z2_Water_Target_Temp", Unit: UnitCelsius},
	{Name: "Error", Unit: UnitFaultCode},
	{Name: "Room_Holiday_Shift_Temp", Unit: UnitKelvin},
	{Name: "Buffer_Temp", Unit: UnitCelsius},
	{Name: "Solar_Temp", Unit: UnitCelsius},
	{Name: "Pool_Temp", Unit: UnitCelsius},
	{Name: "Main_Hex_Outlet_Temp", Unit: UnitCelsius},
	{Name: "Discharge_Temp", Unit: UnitCelsius},
	{Name: "Inside_Pipe_Temp", Unit: UnitCelsius},
	{Name: "Defrost_Temp", Unit: UnitCelsius},
	{Name: "Eva_Outlet_Temp", Unit: UnitCelsius},
	{Name: "Bypass_Outlet_Temp", Unit: UnitCelsius},
	{Name: "Ipm_Temp", Unit: UnitCelsius},
	{Name: "Z1_Temp", Unit: UnitCelsius},
	{Name: "Z2_Temp", Unit: UnitCelsius},
	{Name: "DHW_Heater_State", Unit: UnitState},
	{Name: "Room_Heater_State", Unit: UnitState},
	{Name: "Internal_Heater_State", Unit: UnitState},
	{Name: "External_Heater_State", Unit: UnitState},
	{Name: "Fan1_Motor_Speed", Unit: UnitRPM},
	{Name: "Fan2_Motor_Speed", Unit: UnitRPM},
	{Name: "High_Pressure", Unit: UnitKgfPerCm2},
	{Name: "Pump_Speed", Unit: UnitRPM},
	{Name: "Low_Pressure", Unit: UnitKgfPerCm2},
	{Name: "Compressor_Current", Unit: UnitAmpere, Decimal: true},
	{Name: "Force_Heater_State", Unit: UnitState},
	{Name: "Sterilization_State", Unit: UnitState},
	{Name: "Sterilization_Temp", Unit: UnitCelsius},
	{Name: "Sterilization_Max_Time", Unit: UnitMinutes},
	{Name: "Z1_Cool_Curve_Target_High_Temp", Unit: UnitCelsius},
	{Name: "Z1_Cool_Curve_Target_Low_Temp", Unit: UnitCelsius},
	{Name: "Z1_Cool_Curve_Outside_High_Temp", Unit: UnitCelsius},
	{Name: "Z1_Cool_Curve_Outside_Low_Temp", Unit: UnitCelsius},
	{Name: "Heating_Mode", Unit: UnitState},
	{Name: "Heating_Off_Outdoor_Temp", Unit: UnitCelsius},
	{Name: "Heater_On_Outdoor_Temp", Unit: UnitCelsius},
	{Name: "Heat_To_Cool_Temp", Unit: UnitCelsius},
	{Name: "Cool_To_Heat_Temp", Unit: UnitCelsius},
	{Name: "Cooling_Mode", Unit: UnitState},
	{Name: "Z2_Heat_Curve_Target_High_Temp", Unit: UnitCelsius},
	{Name: "Z2_Heat_Curve_Target_Low_Temp", Unit: UnitCelsius},
	{Name: "Z2_Heat_Curve_Outside_High_Temp", Unit: UnitCelsius},
	{Name: "Z2_Heat_Curve_Outside_Low_Temp", Unit: UnitCelsius},
	{Name: "Z2_Cool_Curve_Target_High_Temp", Unit: UnitCelsius},
	{Name: "Z2_Cool_Curve_Target_Low_Temp", Unit: UnitCelsius},
	{Name: "Z2_Cool_Curve_Outside_High_Temp", Unit: UnitCelsius},
	{Name: "Z2_Cool_Curve_Outside_Low_Temp", Unit: UnitCelsius},
	{Name: "Room_Heater_Operations_Hours", Unit: UnitHours},
	{Name: "DHW_Heater_Operations_Hours", Unit: UnitHours},
	{Name: "Heat_Pump_Model", Unit: UnitState},
	{Name: "Pump_Duty", Unit: UnitPercent},
	{Name: "Zones_State", Unit: UnitState},
	{Name: "Max_Pump_Duty", Unit: UnitPercent},
	{Name: "Heater_Delay_Time", Unit: UnitMinutes},
	{Name: "Heater_Start_Delta", Unit: UnitKelvin},
	{Name: "Heater_Stop_Delta", Unit: UnitKelvin},
	{Name: "Buffer_Installed", Unit: UnitState},
	{Name: "DHW_Installed", Unit: UnitState},
	{Name: "Solar_Mode", Unit: UnitState},
	{Name: "Solar_On_Delta", Unit: UnitKelvin},
	{Name: "Solar_Off_Delta", Unit: UnitKelvin},
	{Name: "Solar_Frost_Protection", Unit: UnitCelsius},
	{Name: "Solar_High_Limit", Unit: UnitCelsius},
	{Name: "Pump_Flowrate_Mode", Unit: UnitState},
	{Name: "Liquid_Type", Unit: UnitState},
	{Name: "Alt_External_Sensor", Unit: UnitState},
	{Name: "Anti_Freeze_Mode", Unit: UnitState},
	{Name: "Optional_PCB", Unit: UnitState},
	{Name: "Z1_Sensor_Settings", Unit: UnitState},
	{Name: "Z2_Sensor_Settings", Unit: UnitState},
	{Name: "Buffer_Tank_Delta", Unit: UnitKelvin},
	{Name: "External_Pad_Heater", Unit: UnitState},
	{Name: "Water_Pressure", Unit: UnitBar},
	{Name: "Second_Inlet_Temp", Unit: UnitCelsius},
	{Name: "Economizer_Outlet_Temp", Unit: UnitCelsius},
	{Name: "Second_Room_Thermostat_Temp", Unit: UnitCelsius},
	{Name: "External_Control", Unit: UnitState},
	{Name: "External_Heat_Cool_Control", Unit: UnitState},
	{Name: "External_Error_Signal", Unit: UnitState},
	{Name: "External_Compressor_Control", Unit: UnitState},
	{Name: "Z2_Pump_State", Unit: UnitState},
	{Name: "Z1_Pump_State", Unit: UnitState},
	{Name: "TwoWay_Valve_State", Unit: UnitState},
	{Name: "ThreeWay_Valve_State2", Unit: UnitState},
	{Name: "Z1_Valve_PID", Unit: UnitPercent, Decimal: true},
	{Name: "Z2_Valve_PID", Unit: UnitPercent, Decimal: true},
	{Name: "Bivalent_Control", Unit: UnitState},
	{Name: "Bivalent_Mode", Unit: UnitState},
	{Name: "Bivalent_Start_Temp", Unit: UnitCelsius},
	{Name: "Bivalent_Advanced_Heat", Unit: UnitState},
	{Name: "Bivalent_Advanced_DHW", Unit: UnitState},
	{Name: "Bivalent_Advanced_Start_Temp", Unit: UnitCelsius},
	{Name: "Bivalent_Advanced_Stop_Temp", Unit: UnitCelsius},
	{Name: "Bivalent_Advanced_Start_Delay", Unit: UnitMinutes},
	{Name: "Bivalent_Advanced_Stop_Delay", Unit: UnitMinutes},
	{Name: "Bivalent_Advanced_DHW_Delay", Unit: UnitMinutes},
}

// ExtraTopics 額外主題表 (K/L 系列的 XTOP)
var ExtraTopics = []TopicDescriptor{
	{Name: "Heat_Power_Consumption_Extra", Unit: UnitWatt},
	{Name: "Cool_Power_Consumption_Extra", Unit: UnitWatt},
	{Name: "DHW_Power_Consumption_Extra", Unit: UnitWatt},
	{Name: "Heat_Power_Production_Extra", Unit: UnitWatt},
	{Name: "Cool_Power_Production_Extra", Unit: UnitWatt},
	{Name: "DHW_Power_Production_Extra", Unit: UnitWatt},
}

// OptionalTopics 選配 PCB 主題表
var OptionalTopics = []TopicDescriptor{
	{Name: "Z1_Water_Pump", Unit: UnitState},
	{Name: "Z1_Mixing_Valve", Unit: UnitState},
	{Name: "Z2_Water_Pump", Unit: UnitState},
	{Name: "Z2_Mixing_Valve", Unit: UnitState},
	{Name: "Pool_Water_Pump", Unit: UnitState},
	{Name: "Solar_Water_Pump", Unit: UnitState},
	{Name: "Alarm_State", Unit: UnitState},
}

// TopicTable 取得指定來源的主題表
func TopicTable(source TopicSource) []TopicDescriptor {
	switch source {
	case SourceMain:
		return MainTopics
	case SourceExtra:
		return ExtraTopics
	case SourceOptional:
		return OptionalTopics
	default:
		return nil
	}
}

// LookupTopic 以名稱查詢主題索引
func LookupTopic(source TopicSource, name string) (int, bool) {
	for i, d := range TopicTable(source) {
		if d.Name == name {
			return i, true
		}
	}
	return 0, false
}
