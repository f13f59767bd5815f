//go:build integration

package main

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goburrow/modbus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startSimulatedBridge(t *testing.T, transport string, port int) *Bridge {
	t.Helper()

	logger, _ := zap.NewDevelopment()
	config := DefaultConfig()
	config.Server.Port = port // 使用非特權埠
	config.Server.ListenIP = "127.0.0.1"
	config.Server.Transport = transport
	config.Simulation.Enabled = true
	config.Simulation.UpdateInterval = 50 * time.Millisecond
	config.Metrics.Enabled = false
	require.NoError(t, config.Validate())

	bridge := NewBridge(config, logger)
	require.NoError(t, bridge.Start(context.Background()))
	t.Cleanup(func() {
		_ = bridge.Stop(context.Background())
	})

	// 等待伺服器啟動
	time.Sleep(100 * time.Millisecond)
	return bridge
}

func newClient(t *testing.T, port int, unit byte) modbus.Client {
	t.Helper()

	handler := modbus.NewTCPClientHandler(fmt.Sprintf("127.0.0.1:%d", port))
	handler.Timeout = 5 * time.Second
	handler.SlaveId = unit
	require.NoError(t, handler.Connect())
	t.Cleanup(func() { handler.Close() })

	return modbus.NewClient(handler)
}

func TestBridgeIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	for i, transport := range []string{TransportTCP, TransportMBServer} {
		port := 15502 + i
		t.Run(transport, func(t *testing.T) {
			bridge := startSimulatedBridge(t, transport, port)
			client := newClient(t, port, DefaultUnitID)

			// 讀取縮放整數 (FC 03)
			t.Run("ReadHoldingRegisters", func(t *testing.T) {
				results, err := client.ReadHoldingRegisters(0, 1)
				require.NoError(t, err)
				require.Len(t, results, 2) // 1 暫存器 = 2 bytes
				assert.Equal(t, uint16(1), uint16(results[0])<<8|uint16(results[1]), "Heatpump_State")
			})

			// 讀取浮點 (FC 04)
			t.Run("ReadInputRegistersFloat", func(t *testing.T) {
				results, err := client.ReadInputRegisters(1010, 2)
				require.NoError(t, err)
				require.Len(t, results, 4)

				msw := uint16(results[0])<<8 | uint16(results[1])
				lsw := uint16(results[2])<<8 | uint16(results[3])
				assert.InDelta(t, 30.0, DecodeFloat(msw, lsw), 1.0, "Main_Inlet_Temp")
			})

			t.Run("ReadIllegalAddress", func(t *testing.T) {
				_, err := client.ReadHoldingRegisters(uint16(len(MainTopics)-1), 2)
				require.Error(t, err)

				var mbErr *modbus.ModbusError
				require.ErrorAs(t, err, &mbErr)
				assert.Equal(t, byte(ExceptionCodeIllegalDataAddress), mbErr.ExceptionCode)
			})

			// 寫入命令 (FC 06) 後模擬器回寫設定主題
			t.Run("WriteSingleRegister", func(t *testing.T) {
				_, err := client.WriteSingleRegister(2010, 52)
				require.NoError(t, err)

				idx, _ := LookupTopic(SourceMain, "DHW_Target_Temp")
				results, err := client.ReadHoldingRegisters(uint16(idx), 1)
				require.NoError(t, err)
				assert.Equal(t, uint16(5200), uint16(results[0])<<8|uint16(results[1]))
			})

			t.Run("WriteStructuredCommand", func(t *testing.T) {
				_, err := client.WriteSingleRegister(2019, 1)
				var mbErr *modbus.ModbusError
				require.ErrorAs(t, err, &mbErr)
				assert.Equal(t, byte(ExceptionCodeIllegalDataValue), mbErr.ExceptionCode)
			})

			// 切換繼電器 (FC 05)
			t.Run("WriteSingleCoil", func(t *testing.T) {
				_, err := client.WriteSingleCoil(1, CoilStateOn)
				require.NoError(t, err)
			})

			t.Run("Stats", func(t *testing.T) {
				stats := bridge.Stats()
				assert.Equal(t, transport, stats.Transport)
				assert.Equal(t, SourceModeSimulation, stats.Source)
				assert.Greater(t, stats.TotalRequests, uint64(0))
				assert.Greater(t, stats.TopicUpdates, uint64(0))
			})
		})
	}
}

func TestBridgeScenarioIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	bridge := startSimulatedBridge(t, TransportTCP, 15510)
	client := newClient(t, 15510, DefaultUnitID)

	require.NoError(t, bridge.ApplyScenario(ScenarioFault))

	idx, _ := LookupTopic(SourceMain, "Error")
	assert.Eventually(t, func() bool {
		results, err := client.ReadHoldingRegisters(uint16(idx), 1)
		if err != nil {
			return false
		}
		code, ok := DecodeFaultCode(uint16(results[0])<<8 | uint16(results[1]))
		return ok && code == "H62"
	}, 2*time.Second, 50*time.Millisecond)
}

func BenchmarkBridgeRead(b *testing.B) {
	logger := zap.NewNop()
	config := DefaultConfig()
	config.Server.Port = 15520
	config.Server.ListenIP = "127.0.0.1"
	config.Simulation.Enabled = true
	config.Metrics.Enabled = false

	bridge := NewBridge(config, logger)
	if err := bridge.Start(context.Background()); err != nil {
		b.Fatal(err)
	}
	defer bridge.Stop(context.Background())

	time.Sleep(100 * time.Millisecond)

	handler := modbus.NewTCPClientHandler("127.0.0.1:15520")
	handler.SlaveId = DefaultUnitID
	if err := handler.Connect(); err != nil {
		b.Fatal(err)
	}
	defer handler.Close()
	client := modbus.NewClient(handler)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := client.ReadHoldingRegisters(0, MaxRegistersPerRead); err != nil {
			b.Fatal(err)
		}
	}
}
