package main

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ScenarioType 模擬場景類型
type ScenarioType int

const (
	ScenarioNormal ScenarioType = iota
	ScenarioDefrost
	ScenarioFault
	ScenarioSensorFault
)

func (s ScenarioType) String() string {
	switch s {
	case ScenarioNormal:
		return "normal"
	case ScenarioDefrost:
		return "defrost"
	case ScenarioFault:
		return "fault"
	case ScenarioSensorFault:
		return "sensor_fault"
	default:
		return "unknown"
	}
}

// ParseScenarioType 解析場景類型
func ParseScenarioType(s string) ScenarioType {
	switch s {
	case "normal":
		return ScenarioNormal
	case "defrost":
		return ScenarioDefrost
	case "fault":
		return ScenarioFault
	case "sensor_fault":
		return ScenarioSensorFault
	default:
		return ScenarioNormal
	}
}

// ListScenarioTypes 列出所有場景類型
func ListScenarioTypes() []ScenarioType {
	return []ScenarioType{
		ScenarioNormal,
		ScenarioDefrost,
		ScenarioFault,
		ScenarioSensorFault,
	}
}

// ScenarioHandler 場景處理介面
type ScenarioHandler interface {
	Type() ScenarioType
	Update(w TopicWriter)
	Reset(w TopicWriter)
}

// 場景處理器工廠註冊表 (每個模擬器各自持有狀態)
var (
	scenarioFactories   = make(map[ScenarioType]func() ScenarioHandler)
	scenarioFactoriesMu sync.RWMutex
)

func init() {
	RegisterScenarioHandler(ScenarioNormal, func() ScenarioHandler { return &NormalScenario{} })
	RegisterScenarioHandler(ScenarioDefrost, func() ScenarioHandler { return &DefrostScenario{} })
	RegisterScenarioHandler(ScenarioFault, func() ScenarioHandler { return &FaultScenario{} })
	RegisterScenarioHandler(ScenarioSensorFault, func() ScenarioHandler { return &SensorFaultScenario{} })
}

// RegisterScenarioHandler 註冊場景處理器
func RegisterScenarioHandler(t ScenarioType, factory func() ScenarioHandler) {
	scenarioFactoriesMu.Lock()
	defer scenarioFactoriesMu.Unlock()
	scenarioFactories[t] = factory
}

// GetScenarioHandler 建立場景處理器
func GetScenarioHandler(t ScenarioType) ScenarioHandler {
	scenarioFactoriesMu.RLock()
	defer scenarioFactoriesMu.RUnlock()
	factory, ok := scenarioFactories[t]
	if !ok {
		return nil
	}
	return factory()
}

func setMain(w TopicWriter, name string, v float64, decimals int) {
	_ = w.SetByName(SourceMain, name, strconv.FormatFloat(v, 'f', decimals, 64))
}

func setMainText(w TopicWriter, name, text string) {
	_ = w.SetByName(SourceMain, name, text)
}

func jitter(spread float64) float64 {
	return (rand.Float64()*2 - 1) * spread
}

// --- Normal Scenario ---

// NormalScenario 正常暖房運轉 - 小幅波動
type NormalScenario struct {
	hours      float64
	counter    int
	lastUpdate time.Time
}

func (s *NormalScenario) Type() ScenarioType {
	return ScenarioNormal
}

func (s *NormalScenario) Update(w TopicWriter) {
	if s.lastUpdate.IsZero() {
		s.hours = 1200
		s.counter = 850
		s.lastUpdate = time.Now()
	}

	s.hours += time.Since(s.lastUpdate).Hours()
	s.lastUpdate = time.Now()

	inlet := 30 + jitter(0.2)
	outlet := inlet + 5 + jitter(0.2)
	production := 5000 + jitter(200)

	setMainText(w, "Heatpump_State", "1")
	setMainText(w, "Defrosting_State", "0")
	setMainText(w, "Error", "No error")
	setMain(w, "Outside_Temp", 5+jitter(0.3), 0)
	setMain(w, "Main_Inlet_Temp", inlet, 2)
	setMain(w, "Main_Outlet_Temp", outlet, 2)
	setMain(w, "Main_Target_Temp", 35, 0)
	setMain(w, "Compressor_Freq", float64(38+rand.Intn(5)), 0)
	setMain(w, "Pump_Flow", 15+jitter(0.5), 2)
	setMain(w, "Heat_Power_Production", production, 0)
	setMain(w, "Heat_Power_Consumption", production/3.5, 0)
	setMain(w, "Operations_Hours", s.hours, 0)
	setMain(w, "Operations_Counter", float64(s.counter), 0)
	setMain(w, "Compressor_Current", 4.5+jitter(0.3), 1)
	setMain(w, "High_Pressure", 22+jitter(0.5), 1)
	setMain(w, "Water_Pressure", 1.8+jitter(0.05), 2)
	setMain(w, "DHW_Temp", 47+jitter(0.5), 0)
}

func (s *NormalScenario) Reset(w TopicWriter) {
	s.lastUpdate = time.Time{}
	setMain(w, "Z1_Heat_Request_Temp", 35, 0)
	setMain(w, "Z1_Cool_Request_Temp", 18, 0)
	setMain(w, "DHW_Target_Temp", 48, 0)
	setMainText(w, "Operating_Mode_State", "0")
	setMainText(w, "Quiet_Mode_Level", "0")
	setMainText(w, "Force_DHW_State", "0")
}

// --- Defrost Scenario ---

// DefrostScenario 除霜中 - 出水溫度下降且不產熱
type DefrostScenario struct {
	normal NormalScenario
}

func (s *DefrostScenario) Type() ScenarioType {
	return ScenarioDefrost
}

func (s *DefrostScenario) Update(w TopicWriter) {
	s.normal.Update(w)
	setMainText(w, "Defrosting_State", "1")
	setMain(w, "Main_Outlet_Temp", 26+jitter(0.5), 2)
	setMainText(w, "Heat_Power_Production", "0")
}

func (s *DefrostScenario) Reset(w TopicWriter) {
	s.normal.Reset(w)
}

// --- Fault Scenario ---

// FaultScenario 熱泵故障 - 壓縮機停止並回報故障碼
type FaultScenario struct {
	normal NormalScenario
	code   string
}

func (s *FaultScenario) Type() ScenarioType {
	return ScenarioFault
}

func (s *FaultScenario) Update(w TopicWriter) {
	if s.code == "" {
		s.code = "H62"
	}
	s.normal.Update(w)
	setMainText(w, "Error", s.code)
	setMainText(w, "Compressor_Freq", "0")
	setMainText(w, "Heat_Power_Production", "0")
}

func (s *FaultScenario) Reset(w TopicWriter) {
	s.code = ""
	s.normal.Reset(w)
}

// --- Sensor Fault Scenario ---

// SensorFaultScenario 外氣感測器失效 - 主題內容為非數值文字
type SensorFaultScenario struct {
	normal NormalScenario
}

func (s *SensorFaultScenario) Type() ScenarioType {
	return ScenarioSensorFault
}

func (s *SensorFaultScenario) Update(w TopicWriter) {
	s.normal.Update(w)
	setMainText(w, "Outside_Temp", "n/a")
}

func (s *SensorFaultScenario) Reset(w TopicWriter) {
	s.normal.Reset(w)
}

// ScenarioEngine 場景引擎 (管理場景切換和更新)
type ScenarioEngine struct {
	mu sync.Mutex

	currentType    ScenarioType
	currentHandler ScenarioHandler
}

// NewScenarioEngine 建立場景引擎
func NewScenarioEngine(t ScenarioType) *ScenarioEngine {
	return &ScenarioEngine{
		currentType:    t,
		currentHandler: GetScenarioHandler(t),
	}
}

// SetScenario 設定場景
func (e *ScenarioEngine) SetScenario(t ScenarioType) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.currentType = t
	e.currentHandler = GetScenarioHandler(t)
}

// GetScenario 取得當前場景
func (e *ScenarioEngine) GetScenario() ScenarioType {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentType
}

// Update 更新主題
func (e *ScenarioEngine) Update(w TopicWriter) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.currentHandler != nil {
		e.currentHandler.Update(w)
	}
}

// Reset 重設目前場景的設定值
func (e *ScenarioEngine) Reset(w TopicWriter) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.currentHandler != nil {
		e.currentHandler.Reset(w)
	}
}

// commandTopics 模擬器收到命令後回寫的主題
var commandTopics = map[string]string{
	"SetHeatpump":                 "Heatpump_State",
	"SetQuietMode":                "Quiet_Mode_Level",
	"SetZ1HeatRequestTemperature": "Z1_Heat_Request_Temp",
	"SetZ1CoolRequestTemperature": "Z1_Cool_Request_Temp",
	"SetZ2HeatRequestTemperature": "Z2_Heat_Request_Temp",
	"SetZ2CoolRequestTemperature": "Z2_Cool_Request_Temp",
	"SetOperationMode":            "Operating_Mode_State",
	"SetForceDHW":                 "Force_DHW_State",
	"SetDHWTemp":                  "DHW_Target_Temp",
	"SetHolidayMode":              "Holiday_Mode_State",
	"SetMaxPumpDuty":              "Max_Pump_Duty",
}

// maxRecordedCommands 模擬器保留的最近命令數
const maxRecordedCommands = 64

// SentCommand 模擬器收到的命令
type SentCommand struct {
	Name      string
	Payload   string
	Alternate bool
	Time      time.Time
}

// SimulatedHeatpump 不連線 MQTT 時的熱泵模擬器
//
// 定期以場景更新主題快取，並實作 CommandSender 與 RelaySwitch。
type SimulatedHeatpump struct {
	mu sync.Mutex

	writer   TopicWriter
	engine   *ScenarioEngine
	interval time.Duration
	logger   *zap.Logger

	relay    bool
	commands []SentCommand
}

// NewSimulatedHeatpump 建立熱泵模擬器
func NewSimulatedHeatpump(w TopicWriter, scenario ScenarioType, interval time.Duration, logger *zap.Logger) *SimulatedHeatpump {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimulatedHeatpump{
		writer:   w,
		engine:   NewScenarioEngine(scenario),
		interval: interval,
		logger:   logger,
	}
}

// Engine 場景引擎
func (s *SimulatedHeatpump) Engine() *ScenarioEngine {
	return s.engine
}

// Prime 寫入初始設定值與第一批量測值
func (s *SimulatedHeatpump) Prime() {
	s.engine.Reset(s.writer)
	s.engine.Update(s.writer)
}

// Run 執行模擬更新迴圈直到 ctx 結束 (初始值由 Prime 寫入)
func (s *SimulatedHeatpump) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.engine.Update(s.writer)
		}
	}
}

// SendCommand 記錄命令並回寫對應的設定主題
func (s *SimulatedHeatpump) SendCommand(name, payload string, alternate bool) error {
	s.mu.Lock()
	if len(s.commands) == maxRecordedCommands {
		copy(s.commands, s.commands[1:])
		s.commands = s.commands[:maxRecordedCommands-1]
	}
	s.commands = append(s.commands, SentCommand{
		Name:      name,
		Payload:   payload,
		Alternate: alternate,
		Time:      time.Now(),
	})
	s.mu.Unlock()

	if topic, ok := commandTopics[name]; ok {
		if err := s.writer.SetByName(SourceMain, topic, payload); err != nil {
			return err
		}
	}

	s.logger.Debug("模擬器收到命令",
		zap.String("command", name),
		zap.String("payload", payload),
		zap.Bool("alternate", alternate),
	)
	return nil
}

// SetRelay 切換模擬繼電器
func (s *SimulatedHeatpump) SetRelay(on bool) error {
	s.mu.Lock()
	s.relay = on
	s.mu.Unlock()

	s.logger.Debug("模擬繼電器", zap.Bool("on", on))
	return nil
}

// Relay 模擬繼電器狀態
func (s *SimulatedHeatpump) Relay() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.relay
}

// Commands 最近收到的命令 (由舊到新)
func (s *SimulatedHeatpump) Commands() []SentCommand {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SentCommand, len(s.commands))
	copy(out, s.commands)
	return out
}
