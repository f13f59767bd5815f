package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/goburrow/serial"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Config 全域配置
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server" mapstructure:"server"`
	MQTT       MQTTConfig       `json:"mqtt" yaml:"mqtt" mapstructure:"mqtt"`
	Heatpump   HeatpumpConfig   `json:"heatpump" yaml:"heatpump" mapstructure:"heatpump"`
	Simulation SimulationConfig `json:"simulation" yaml:"simulation" mapstructure:"simulation"`
	Network    NetworkConfig    `json:"network" yaml:"network" mapstructure:"network"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging" mapstructure:"logging"`
	Metrics    MetricsConfig    `json:"metrics" yaml:"metrics" mapstructure:"metrics"`
}

// ServerConfig Modbus 伺服器配置
type ServerConfig struct {
	Port      int    `json:"port" yaml:"port" mapstructure:"port"`
	UnitID    int    `json:"unit_id" yaml:"unit_id" mapstructure:"unit_id"`
	ListenIP  string `json:"listen_ip" yaml:"listen_ip" mapstructure:"listen_ip"`
	Transport string `json:"transport" yaml:"transport" mapstructure:"transport"`

	// 僅 tcp 傳輸層使用
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxClients  int           `json:"max_clients" yaml:"max_clients" mapstructure:"max_clients"`

	// 舊版相容：start+quantity 超過此值即回報非法位址，0 表示停用
	LegacyReadCeiling int `json:"legacy_read_ceiling" yaml:"legacy_read_ceiling" mapstructure:"legacy_read_ceiling"`

	GracefulTimeout time.Duration `json:"graceful_timeout" yaml:"graceful_timeout" mapstructure:"graceful_timeout"`

	RTU RTUConfig `json:"rtu" yaml:"rtu" mapstructure:"rtu"`
}

// RTUConfig 序列埠配置
type RTUConfig struct {
	Device   string        `json:"device" yaml:"device" mapstructure:"device"`
	BaudRate int           `json:"baud_rate" yaml:"baud_rate" mapstructure:"baud_rate"`
	DataBits int           `json:"data_bits" yaml:"data_bits" mapstructure:"data_bits"`
	StopBits int           `json:"stop_bits" yaml:"stop_bits" mapstructure:"stop_bits"`
	Parity   string        `json:"parity" yaml:"parity" mapstructure:"parity"`
	Timeout  time.Duration `json:"timeout" yaml:"timeout" mapstructure:"timeout"`
}

// SerialConfig 轉換為 goburrow/serial 配置
func (r RTUConfig) SerialConfig() *serial.Config {
	return &serial.Config{
		Address:  r.Device,
		BaudRate: r.BaudRate,
		DataBits: r.DataBits,
		StopBits: r.StopBits,
		Parity:   r.Parity,
		Timeout:  r.Timeout,
	}
}

// MQTTConfig HeishaMon MQTT 配置
type MQTTConfig struct {
	Broker         string        `json:"broker" yaml:"broker" mapstructure:"broker"`
	Username       string        `json:"username" yaml:"username" mapstructure:"username"`
	Password       string        `json:"password" yaml:"password" mapstructure:"password"`
	ClientID       string        `json:"client_id" yaml:"client_id" mapstructure:"client_id"`
	BaseTopic      string        `json:"base_topic" yaml:"base_topic" mapstructure:"base_topic"`
	QoS            byte          `json:"qos" yaml:"qos" mapstructure:"qos"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout" mapstructure:"connect_timeout"`
	PublishTimeout time.Duration `json:"publish_timeout" yaml:"publish_timeout" mapstructure:"publish_timeout"`
	RelayTopic     string        `json:"relay_topic" yaml:"relay_topic" mapstructure:"relay_topic"`
}

// HeatpumpConfig 熱泵配置
type HeatpumpConfig struct {
	AlternateVariant bool `json:"alternate_variant" yaml:"alternate_variant" mapstructure:"alternate_variant"`
}

// SimulationConfig 模擬主題來源配置 (不連線 MQTT)
type SimulationConfig struct {
	Enabled        bool          `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Scenario       string        `json:"scenario" yaml:"scenario" mapstructure:"scenario"`
	UpdateInterval time.Duration `json:"update_interval" yaml:"update_interval" mapstructure:"update_interval"`
}

// NetworkConfig 網路配置
type NetworkConfig struct {
	Interface string `json:"interface" yaml:"interface" mapstructure:"interface"`
	// AliasIP 以 CIDR 表示，例如 192.168.1.50/24
	AliasIP string `json:"alias_ip" yaml:"alias_ip" mapstructure:"alias_ip"`
}

// AliasAddr 解析別名 IP
func (n NetworkConfig) AliasAddr() (*net.IPNet, error) {
	ip, ipNet, err := net.ParseCIDR(n.AliasIP)
	if err != nil || ip.To4() == nil {
		return nil, fmt.Errorf("無效的別名 IP: %s (需為 IPv4 CIDR)", n.AliasIP)
	}
	ipNet.IP = ip.To4()
	return ipNet, nil
}

// LoggingConfig 日誌配置
type LoggingConfig struct {
	Level      string `json:"level" yaml:"level" mapstructure:"level"`
	Format     string `json:"format" yaml:"format" mapstructure:"format"`
	OutputPath string `json:"output_path" yaml:"output_path" mapstructure:"output_path"`
}

// MetricsConfig 指標配置
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" mapstructure:"enabled"`
	Endpoint string `json:"endpoint" yaml:"endpoint" mapstructure:"endpoint"`
	Port     int    `json:"port" yaml:"port" mapstructure:"port"`
}

// tcp 傳輸層的連線限制預設值
const (
	DefaultIdleTimeout = 20 * time.Second
	DefaultMaxClients  = 10
)

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            ModbusTCPDefaultPort,
			UnitID:          DefaultUnitID,
			Transport:       TransportMBServer,
			IdleTimeout:     DefaultIdleTimeout,
			MaxClients:      DefaultMaxClients,
			GracefulTimeout: 10 * time.Second,
			RTU: RTUConfig{
				Device:   "/dev/ttyUSB0",
				BaudRate: 9600,
				DataBits: 8,
				StopBits: 1,
				Parity:   "N",
				Timeout:  time.Second,
			},
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			BaseTopic:      "panasonic_heat_pump",
			ConnectTimeout: 10 * time.Second,
			PublishTimeout: 5 * time.Second,
			RelayTopic:     "gpio/relay/one",
		},
		Simulation: SimulationConfig{
			Scenario:       ScenarioNormal.String(),
			UpdateInterval: time.Second,
		},
		Network: NetworkConfig{
			Interface: "eth0",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
			Port:     9090,
		},
	}
}

// LoadConfig 載入配置檔
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/heishabridge/")
		v.AddConfigPath("$HOME/.heishabridge/")
	}

	// 環境變數覆蓋，例如 HEISHABRIDGE_SERVER_PORT
	v.SetEnvPrefix("HEISHABRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, reflect.TypeOf(*cfg), "")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
		}
		// 配置檔不存在，使用預設值
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置驗證失敗: %w", err)
	}

	return cfg, nil
}

// bindEnvs 讓 viper 認得所有巢狀鍵，環境變數才能在沒有配置檔時生效
func bindEnvs(v *viper.Viper, t reflect.Type, prefix string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}
		key := tag
		if prefix != "" {
			key = prefix + "." + tag
		}
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, f.Type, key)
			continue
		}
		_ = v.BindEnv(key)
	}
}

// Validate 驗證配置
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無效的埠號: %d", c.Server.Port)
	}

	if c.Server.UnitID < 1 || c.Server.UnitID > 247 {
		return fmt.Errorf("無效的 unit id: %d (範圍 1-247)", c.Server.UnitID)
	}

	if c.Server.ListenIP != "" && net.ParseIP(c.Server.ListenIP) == nil {
		return fmt.Errorf("無效的監聽 IP: %s", c.Server.ListenIP)
	}

	switch c.Server.Transport {
	case TransportTCP, TransportMBServer:
	case TransportRTU:
		if err := c.Server.RTU.Validate(); err != nil {
			return fmt.Errorf("RTU 配置驗證失敗: %w", err)
		}
	default:
		return fmt.Errorf("未知的傳輸層類型: %s", c.Server.Transport)
	}

	if c.Server.IdleTimeout < 0 {
		return fmt.Errorf("閒置逾時不可為負值")
	}

	if c.Server.MaxClients < 0 {
		return fmt.Errorf("最大連線數不可為負值")
	}

	if c.Server.LegacyReadCeiling < 0 || c.Server.LegacyReadCeiling > 0x10000 {
		return fmt.Errorf("無效的舊版讀取上限: %d", c.Server.LegacyReadCeiling)
	}

	if c.Simulation.Enabled {
		if c.Simulation.UpdateInterval <= 0 {
			return fmt.Errorf("模擬更新間隔必須大於 0")
		}
		if ParseScenarioType(c.Simulation.Scenario).String() != c.Simulation.Scenario {
			return fmt.Errorf("未知的模擬場景: %s", c.Simulation.Scenario)
		}
	} else if err := c.MQTT.Validate(); err != nil {
		return fmt.Errorf("MQTT 配置驗證失敗: %w", err)
	}

	if c.Network.AliasIP != "" {
		if _, err := c.Network.AliasAddr(); err != nil {
			return err
		}
	}

	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("無效的日誌等級: %s", c.Logging.Level)
	}

	if c.Metrics.Enabled && (c.Metrics.Port < 1 || c.Metrics.Port > 65535) {
		return fmt.Errorf("無效的指標埠號: %d", c.Metrics.Port)
	}

	return nil
}

// Validate 驗證序列埠配置
func (r *RTUConfig) Validate() error {
	if r.Device == "" {
		return fmt.Errorf("必須指定序列埠裝置")
	}
	if r.BaudRate <= 0 {
		return fmt.Errorf("無效的鮑率: %d", r.BaudRate)
	}
	switch r.Parity {
	case "N", "E", "O":
	default:
		return fmt.Errorf("無效的同位元: %s (N/E/O)", r.Parity)
	}
	return nil
}

// Validate 驗證 MQTT 配置
func (m *MQTTConfig) Validate() error {
	if m.Broker == "" {
		return fmt.Errorf("必須指定 broker")
	}
	if m.BaseTopic == "" {
		return fmt.Errorf("必須指定主題前綴")
	}
	if m.QoS > 2 {
		return fmt.Errorf("無效的 QoS: %d", m.QoS)
	}
	if m.ConnectTimeout <= 0 || m.PublishTimeout <= 0 {
		return fmt.Errorf("逾時必須大於 0")
	}
	if m.RelayTopic == "" {
		return fmt.Errorf("必須指定繼電器主題")
	}
	return nil
}

// SaveConfig 儲存配置到檔案，副檔名 .yaml/.yml 輸出 YAML，其餘輸出 JSON
func (c *Config) SaveConfig(path string) error {
	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("序列化配置失敗: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("寫入配置檔失敗: %w", err)
	}

	return nil
}
