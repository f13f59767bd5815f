package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/goburrow/modbus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	cfgFile   string
	logger    *zap.Logger
	appConfig *Config
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "heishabridge",
	Short: "HeishaMon Modbus 橋接器",
	Long: `將 HeishaMon 經由 MQTT 發布的熱泵主題轉為 Modbus 暫存器，
並把 Modbus 寫入轉送為熱泵命令與繼電器控制。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var loadErr error

		// 載入配置 (除了 version 和 help 命令)
		appConfig = DefaultConfig()
		if cmd.Name() != "version" && cmd.Name() != "help" && cmd.Name() != "generate" {
			if cfg, err := LoadConfig(cfgFile); err != nil {
				loadErr = err
			} else {
				appConfig = cfg
			}
		}

		var err error
		logger, err = initLogger(appConfig.Logging)
		if err != nil {
			return fmt.Errorf("初始化日誌失敗: %w", err)
		}

		if loadErr != nil {
			if cfgFile != "" || cmd.Name() == "validate" {
				return loadErr
			}
			logger.Warn("載入配置失敗，使用預設配置", zap.Error(loadErr))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// startCmd 啟動命令
var startCmd = &cobra.Command{
	Use:   "start",
	Short: "啟動橋接器",
	Long:  "連線 MQTT (或啟用模擬器) 並開始監聽 Modbus 請求。",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 覆蓋 CLI 參數
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			appConfig.Server.Port = port
		}
		if unit, _ := cmd.Flags().GetInt("unit"); unit > 0 {
			appConfig.Server.UnitID = unit
		}
		if transport, _ := cmd.Flags().GetString("transport"); transport != "" {
			appConfig.Server.Transport = transport
		}
		if broker, _ := cmd.Flags().GetString("broker"); broker != "" {
			appConfig.MQTT.Broker = broker
		}
		if cmd.Flags().Changed("simulate") {
			appConfig.Simulation.Enabled, _ = cmd.Flags().GetBool("simulate")
		}
		if scenario, _ := cmd.Flags().GetString("scenario"); scenario != "" {
			appConfig.Simulation.Scenario = scenario
		}
		if cmd.Flags().Changed("alternate") {
			appConfig.Heatpump.AlternateVariant, _ = cmd.Flags().GetBool("alternate")
		}

		if err := appConfig.Validate(); err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}

		pidFile, _ := cmd.Flags().GetString("pid-file")
		if pidFile != "" {
			if err := os.WriteFile(pidFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
				return fmt.Errorf("寫入 PID 檔案失敗: %w", err)
			}
			defer os.Remove(pidFile)
		}

		logger.Info("啟動 HeishaMon 橋接器",
			zap.Int("port", appConfig.Server.Port),
			zap.Int("unit_id", appConfig.Server.UnitID),
			zap.String("transport", appConfig.Server.Transport),
		)

		bridge := NewBridge(appConfig, logger)

		ctx := cmd.Context()

		if err := bridge.Start(ctx); err != nil {
			return fmt.Errorf("啟動橋接器失敗: %w", err)
		}

		// 等待信號
		<-ctx.Done()
		logger.Info("收到關閉信號")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), appConfig.Server.GracefulTimeout)
		defer shutdownCancel()

		if err := bridge.Stop(shutdownCtx); err != nil {
			logger.Error("關閉橋接器失敗", zap.Error(err))
			return err
		}

		logger.Info("橋接器已停止")
		return nil
	},
}

// stopCmd 停止命令
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "停止橋接器",
	Long:  "透過 PID 檔案對運行中的橋接器發送 SIGTERM。",
	RunE: func(cmd *cobra.Command, args []string) error {
		pidFile, _ := cmd.Flags().GetString("pid-file")

		data, err := os.ReadFile(pidFile)
		if err != nil {
			return fmt.Errorf("讀取 PID 檔案失敗: %w", err)
		}

		pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			return fmt.Errorf("解析 PID 失敗: %w", err)
		}

		process, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("找不到程序: %w", err)
		}

		if err := process.Signal(syscall.SIGTERM); err != nil {
			return fmt.Errorf("發送信號失敗: %w", err)
		}

		fmt.Printf("已發送停止信號到 PID %d\n", pid)
		return nil
	},
}

// statusCmd 狀態命令
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "查看運行狀態",
	Long:  "經由指標伺服器的 /api/status 取得運行中橋接器的狀態。",
	RunE: func(cmd *cobra.Command, args []string) error {
		var snapshot MetricsSnapshot
		if err := apiCall(cmd, http.MethodGet, "/api/status", &snapshot); err != nil {
			return err
		}

		fmt.Printf("狀態:       %s\n", snapshot.BridgeState)
		fmt.Printf("運行時間:   %s\n", snapshot.Uptime)
		fmt.Printf("傳輸層:     %s\n", snapshot.Transport)
		fmt.Printf("主題來源:   %s (MQTT 已連線: %v)\n", snapshot.Source, snapshot.MQTTConnected)
		fmt.Printf("請求數:     %d (錯誤 %d, %.2f%%)\n", snapshot.TotalRequests, snapshot.TotalErrors, snapshot.ErrorRate)
		fmt.Printf("主題更新數: %d\n", snapshot.TopicUpdates)
		if !snapshot.LastTopicUpdate.IsZero() {
			fmt.Printf("最後更新:   %s\n", snapshot.LastTopicUpdate.Format(time.RFC3339))
		}
		return nil
	},
}

// apiCall 呼叫運行中實例的 HTTP API
func apiCall(cmd *cobra.Command, method, path string, out interface{}) error {
	base, _ := cmd.Flags().GetString("api")
	if base == "" {
		base = fmt.Sprintf("http://127.0.0.1:%d", appConfig.Metrics.Port)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(base, "/")+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("連線橋接器 API 失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return fmt.Errorf("API 回應 %d: %s", resp.StatusCode, body["error"])
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// newModbusClient 建立 Modbus TCP 客戶端
func newModbusClient(cmd *cobra.Command) (*modbus.TCPClientHandler, modbus.Client, error) {
	host, _ := cmd.Flags().GetString("host")
	if host == "" {
		host = fmt.Sprintf("127.0.0.1:%d", appConfig.Server.Port)
	}
	unit, _ := cmd.Flags().GetInt("unit")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	handler := modbus.NewTCPClientHandler(host)
	handler.Timeout = timeout
	handler.SlaveId = byte(unit)
	if err := handler.Connect(); err != nil {
		return nil, nil, fmt.Errorf("連線 %s 失敗: %w", host, err)
	}
	return handler, modbus.NewClient(handler), nil
}

// readCmd 讀取暫存器
var readCmd = &cobra.Command{
	Use:   "read <address> [count]",
	Short: "讀取暫存器",
	Long:  "以 FC 03 (或 --input 使用 FC 04) 讀取暫存器並依位址表解碼。",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return fmt.Errorf("無效的位址: %s", args[0])
		}
		count := uint64(1)
		if len(args) == 2 {
			if count, err = strconv.ParseUint(args[1], 0, 16); err != nil {
				return fmt.Errorf("無效的數量: %s", args[1])
			}
		}

		handler, client, err := newModbusClient(cmd)
		if err != nil {
			return err
		}
		defer handler.Close()

		var data []byte
		if input, _ := cmd.Flags().GetBool("input"); input {
			data, err = client.ReadInputRegisters(uint16(address), uint16(count))
		} else {
			data, err = client.ReadHoldingRegisters(uint16(address), uint16(count))
		}
		if err != nil {
			return fmt.Errorf("讀取失敗: %w", err)
		}

		partition, err := NewAddressPartition()
		if err != nil {
			return err
		}

		words := make([]uint16, len(data)/2)
		for i := range words {
			words[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
		}

		for _, v := range DescribeRegisters(partition, uint16(address), words) {
			fmt.Printf("%5d  0x%04X  %-10s %-36s %s\n", v.Address, v.Raw, v.Kind, v.Topic, v.Value)
		}
		return nil
	},
}

// writeCmd 寫入命令暫存器
var writeCmd = &cobra.Command{
	Use:   "write <address> <value>",
	Short: "寫入命令暫存器",
	Long:  "以 FC 06 寫入有號 16 位元值，由橋接器轉送為熱泵命令。",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return fmt.Errorf("無效的位址: %s", args[0])
		}
		value, err := strconv.ParseInt(args[1], 10, 16)
		if err != nil {
			return fmt.Errorf("無效的值 (需為 int16): %s", args[1])
		}

		handler, client, err := newModbusClient(cmd)
		if err != nil {
			return err
		}
		defer handler.Close()

		if _, err := client.WriteSingleRegister(uint16(address), uint16(int16(value))); err != nil {
			return fmt.Errorf("寫入失敗: %w", err)
		}

		name := "?"
		if partition, err := NewAddressPartition(); err == nil {
			if c, ok := NewCommandDispatcher(partition, nil, nil).ResolveCommandName(uint16(address)); ok {
				name = c.Name
			}
		}
		fmt.Printf("已送出 %s = %d\n", name, value)
		return nil
	},
}

// coilCmd 切換繼電器
var coilCmd = &cobra.Command{
	Use:   "coil <address> <on|off>",
	Short: "切換繼電器",
	Long:  "以 FC 05 寫入線圈 0..2 (皆對應同一個繼電器)。",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := strconv.ParseUint(args[0], 0, 16)
		if err != nil {
			return fmt.Errorf("無效的位址: %s", args[0])
		}

		var state uint16
		switch strings.ToLower(args[1]) {
		case "on", "1", "true":
			state = CoilStateOn
		case "off", "0", "false":
			state = CoilStateOff
		default:
			return fmt.Errorf("無效的狀態: %s (on/off)", args[1])
		}

		handler, client, err := newModbusClient(cmd)
		if err != nil {
			return err
		}
		defer handler.Close()

		if _, err := client.WriteSingleCoil(uint16(address), state); err != nil {
			return fmt.Errorf("寫入失敗: %w", err)
		}

		fmt.Printf("繼電器已切換: %s\n", strings.ToLower(args[1]))
		return nil
	},
}

// topicsCmd 列出位址表
var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "列出位址表",
	Long:  "列出所有主題與命令的 Modbus 位址。",
	RunE: func(cmd *cobra.Command, args []string) error {
		partition, err := NewAddressPartition()
		if err != nil {
			return err
		}

		sources := ListTopicSources()
		if name, _ := cmd.Flags().GetString("source"); name != "" {
			source, ok := ParseTopicSource(name)
			if !ok {
				return fmt.Errorf("未知的主題來源: %s", name)
			}
			sources = []TopicSource{source}
		}

		for _, source := range sources {
			fmt.Printf("[%s]\n", source)
			for i, t := range TopicTable(source) {
				scaled, _ := partition.ScaledAddress(source, i)
				floatAddr, _ := partition.FloatAddress(source, i)
				mark := ""
				if t.Scaled() {
					mark = "x100"
				}
				fmt.Printf("  %5d  %5d-%-5d  %-36s %-6s %s\n", scaled, floatAddr, floatAddr+1, t.Name, t.Unit, mark)
			}
		}

		if commands, _ := cmd.Flags().GetBool("commands"); commands {
			fmt.Println("[commands]")
			for _, c := range MainCommands {
				note := ""
				if c.Structured {
					note = "(不支援)"
				}
				fmt.Printf("  %5d  %s %s\n", CommandMainBase+c.ID, c.Name, note)
			}
			for i, c := range OptionalCommands {
				fmt.Printf("  %5d  %s\n", int(CommandOptionalBase)+i, c.Name)
			}
		}
		return nil
	},
}

// networkCmd 網路命令組
var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "網路管理命令",
	Long:  "管理橋接器綁定的別名 IP。",
}

func networkProvisioner(cmd *cobra.Command) NetworkProvisioner {
	if iface, _ := cmd.Flags().GetString("interface"); iface != "" {
		appConfig.Network.Interface = iface
	}
	return NewNetworkProvisioner(appConfig.Network.Interface, logger)
}

// networkSetupCmd 設置網路
var networkSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "建立別名 IP",
	Long:  "在指定的網路介面上加入別名 IP。",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alias, _ := cmd.Flags().GetString("alias"); alias != "" {
			appConfig.Network.AliasIP = alias
		}
		if appConfig.Network.AliasIP == "" {
			return fmt.Errorf("必須指定 --alias 或 network.alias_ip")
		}
		alias, err := appConfig.Network.AliasAddr()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		if err := networkProvisioner(cmd).Setup(ctx, alias); err != nil {
			return fmt.Errorf("設置網路失敗: %w", err)
		}

		fmt.Printf("別名 IP 設置完成: %s\n", alias)
		return nil
	},
}

// networkTeardownCmd 移除網路
var networkTeardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "移除別名 IP",
	Long:  "移除指定的別名 IP。",
	RunE: func(cmd *cobra.Command, args []string) error {
		if alias, _ := cmd.Flags().GetString("alias"); alias != "" {
			appConfig.Network.AliasIP = alias
		}
		if appConfig.Network.AliasIP == "" {
			return fmt.Errorf("必須指定 --alias 或 network.alias_ip")
		}
		alias, err := appConfig.Network.AliasAddr()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		if err := networkProvisioner(cmd).Remove(ctx, alias); err != nil {
			return fmt.Errorf("移除網路失敗: %w", err)
		}

		fmt.Println("別名 IP 已移除")
		return nil
	},
}

// networkListCmd 列出網路
var networkListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出介面 IP",
	Long:  "列出網路介面上目前的 IPv4 位址。",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		ips, err := networkProvisioner(cmd).List(ctx)
		if err != nil {
			return fmt.Errorf("列出 IP 失敗: %w", err)
		}

		if len(ips) == 0 {
			fmt.Println("介面上沒有 IPv4 位址")
			return nil
		}

		fmt.Printf("%s 的 IPv4 位址 (%d 個):\n", appConfig.Network.Interface, len(ips))
		for _, ip := range ips {
			fmt.Printf("  - %s\n", ip.String())
		}
		return nil
	},
}

// scenarioCmd 場景命令組
var scenarioCmd = &cobra.Command{
	Use:   "scenario",
	Short: "模擬場景命令",
	Long:  "管理模擬模式下的熱泵場景。",
}

// scenarioListCmd 列出場景
var scenarioListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出可用場景",
	Run: func(cmd *cobra.Command, args []string) {
		descriptions := map[ScenarioType]string{
			ScenarioNormal:      "正常暖房運轉，量測值小幅波動",
			ScenarioDefrost:     "除霜中，出水溫度下降且不產熱",
			ScenarioFault:       "故障 (H62)，壓縮機停止",
			ScenarioSensorFault: "外氣感測器失效，回報非數值",
		}

		fmt.Println("可用的模擬場景:")
		for _, t := range ListScenarioTypes() {
			fmt.Printf("  %-15s %s\n", t, descriptions[t])
		}
	},
}

// scenarioApplyCmd 套用場景
var scenarioApplyCmd = &cobra.Command{
	Use:   "apply <scenario>",
	Short: "套用場景",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiCall(cmd, http.MethodPost, "/api/scenario/"+args[0], nil); err != nil {
			return err
		}
		fmt.Printf("已套用場景: %s\n", args[0])
		return nil
	},
}

// scenarioResetCmd 重設場景
var scenarioResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "重設為正常場景",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := apiCall(cmd, http.MethodPost, "/api/scenario/"+ScenarioNormal.String(), nil); err != nil {
			return err
		}
		fmt.Println("已重設為正常場景")
		return nil
	},
}

// configCmd 配置命令組
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "配置管理命令",
	Long:  "管理配置檔。",
}

// configValidateCmd 驗證配置
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "驗證配置檔",
	Long:  "驗證指定的配置檔是否有效。",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig

		fmt.Println("配置驗證通過")
		fmt.Printf("  Port: %d (unit %d, %s)\n", cfg.Server.Port, cfg.Server.UnitID, cfg.Server.Transport)
		if cfg.Simulation.Enabled {
			fmt.Printf("  Source: simulation (%s)\n", cfg.Simulation.Scenario)
		} else {
			fmt.Printf("  Source: %s (%s)\n", cfg.MQTT.Broker, cfg.MQTT.BaseTopic)
		}
		fmt.Printf("  Alternate variant: %v\n", cfg.Heatpump.AlternateVariant)
		return nil
	},
}

// configGenerateCmd 生成配置
var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "生成範例配置",
	Long:  "生成範例配置檔，副檔名 .yaml/.yml 輸出 YAML。",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		if err := DefaultConfig().SaveConfig(output); err != nil {
			return fmt.Errorf("生成配置失敗: %w", err)
		}

		fmt.Printf("範例配置已生成: %s\n", output)
		return nil
	},
}

// versionCmd 版本命令
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "顯示版本資訊",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("heishabridge version %s\n", Version)
		fmt.Printf("  Build: %s\n", BuildTime)
		fmt.Printf("  Commit: %s\n", GitCommit)
	},
}

func init() {
	// 全域 flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置檔路徑")

	// start 命令 flags
	startCmd.Flags().IntP("port", "p", 0, "監聽埠號")
	startCmd.Flags().IntP("unit", "u", 0, "Unit ID")
	startCmd.Flags().StringP("transport", "t", "", "傳輸層 (mbserver/tcp/rtu)")
	startCmd.Flags().StringP("broker", "b", "", "MQTT broker")
	startCmd.Flags().Bool("simulate", false, "以模擬器取代 MQTT")
	startCmd.Flags().String("scenario", "", "模擬場景")
	startCmd.Flags().Bool("alternate", false, "替代硬體型號的命令封裝")
	startCmd.Flags().String("pid-file", "", "PID 檔案路徑")

	stopCmd.Flags().String("pid-file", "/var/run/heishabridge.pid", "PID 檔案路徑")

	// 客戶端命令 flags
	for _, c := range []*cobra.Command{readCmd, writeCmd, coilCmd} {
		c.Flags().StringP("host", "H", "", "橋接器位址 (host:port)")
		c.Flags().IntP("unit", "u", DefaultUnitID, "Unit ID")
		c.Flags().Duration("timeout", 5*time.Second, "逾時")
	}
	readCmd.Flags().Bool("input", false, "使用 FC 04 讀取輸入暫存器")

	topicsCmd.Flags().StringP("source", "s", "", "只列出指定來源 (main/extra/optional)")
	topicsCmd.Flags().Bool("commands", false, "一併列出命令位址")

	// API flags
	for _, c := range []*cobra.Command{statusCmd, scenarioApplyCmd, scenarioResetCmd} {
		c.Flags().String("api", "", "橋接器 API 位址 (預設 http://127.0.0.1:<metrics.port>)")
	}

	// network 命令 flags
	for _, c := range []*cobra.Command{networkSetupCmd, networkTeardownCmd, networkListCmd} {
		c.Flags().StringP("interface", "i", "", "網路介面")
	}
	networkSetupCmd.Flags().String("alias", "", "別名 IP (CIDR)")
	networkTeardownCmd.Flags().String("alias", "", "別名 IP (CIDR)")

	// config 命令 flags
	configGenerateCmd.Flags().StringP("output", "o", "config.json", "輸出檔案路徑")

	// 組裝命令樹
	networkCmd.AddCommand(networkSetupCmd, networkTeardownCmd, networkListCmd)
	scenarioCmd.AddCommand(scenarioListCmd, scenarioApplyCmd, scenarioResetCmd)
	configCmd.AddCommand(configValidateCmd, configGenerateCmd)

	rootCmd.AddCommand(
		startCmd,
		stopCmd,
		statusCmd,
		readCmd,
		writeCmd,
		coilCmd,
		topicsCmd,
		networkCmd,
		scenarioCmd,
		configCmd,
		versionCmd,
	)
}

func initLogger(cfg LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	zcfg.Level = level

	output := cfg.OutputPath
	if output == "" {
		output = "stdout"
	}
	zcfg.OutputPaths = []string{output}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}

// Execute 執行 CLI
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
