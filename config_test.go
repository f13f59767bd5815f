package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ModbusTCPDefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultUnitID, cfg.Server.UnitID)
	assert.Equal(t, TransportMBServer, cfg.Server.Transport)
	assert.Equal(t, 20*time.Second, cfg.Server.IdleTimeout)
	assert.Equal(t, 10, cfg.Server.MaxClients)
	assert.Zero(t, cfg.Server.LegacyReadCeiling)
	assert.Equal(t, "panasonic_heat_pump", cfg.MQTT.BaseTopic)
	assert.Equal(t, "gpio/relay/one", cfg.MQTT.RelayTopic)
	assert.False(t, cfg.Heatpump.AlternateVariant)
	assert.Equal(t, "normal", cfg.Simulation.Scenario)
	assert.True(t, cfg.Metrics.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid port - too low",
			modify: func(c *Config) {
				c.Server.Port = 0
			},
			wantErr: true,
		},
		{
			name: "invalid port - too high",
			modify: func(c *Config) {
				c.Server.Port = 70000
			},
			wantErr: true,
		},
		{
			name: "invalid unit id",
			modify: func(c *Config) {
				c.Server.UnitID = 248
			},
			wantErr: true,
		},
		{
			name: "invalid listen ip",
			modify: func(c *Config) {
				c.Server.ListenIP = "not-an-ip"
			},
			wantErr: true,
		},
		{
			name: "unknown transport",
			modify: func(c *Config) {
				c.Server.Transport = "udp"
			},
			wantErr: true,
		},
		{
			name: "tcp transport",
			modify: func(c *Config) {
				c.Server.Transport = TransportTCP
			},
			wantErr: false,
		},
		{
			name: "rtu with bad parity",
			modify: func(c *Config) {
				c.Server.Transport = TransportRTU
				c.Server.RTU.Parity = "X"
			},
			wantErr: true,
		},
		{
			name: "rtu ignored when unused",
			modify: func(c *Config) {
				c.Server.RTU.Device = ""
			},
			wantErr: false,
		},
		{
			name: "negative idle timeout",
			modify: func(c *Config) {
				c.Server.IdleTimeout = -time.Second
			},
			wantErr: true,
		},
		{
			name: "read ceiling too high",
			modify: func(c *Config) {
				c.Server.LegacyReadCeiling = 0x10001
			},
			wantErr: true,
		},
		{
			name: "missing broker",
			modify: func(c *Config) {
				c.MQTT.Broker = ""
			},
			wantErr: true,
		},
		{
			name: "broker not needed in simulation",
			modify: func(c *Config) {
				c.MQTT.Broker = ""
				c.Simulation.Enabled = true
			},
			wantErr: false,
		},
		{
			name: "unknown scenario",
			modify: func(c *Config) {
				c.Simulation.Enabled = true
				c.Simulation.Scenario = "meltdown"
			},
			wantErr: true,
		},
		{
			name: "invalid qos",
			modify: func(c *Config) {
				c.MQTT.QoS = 3
			},
			wantErr: true,
		},
		{
			name: "invalid alias cidr",
			modify: func(c *Config) {
				c.Network.AliasIP = "192.168.1.300/24"
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			modify: func(c *Config) {
				c.Logging.Level = "verbose"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNetworkConfig_AliasAddr(t *testing.T) {
	n := NetworkConfig{AliasIP: "192.168.1.50/24"}
	alias, err := n.AliasAddr()
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.50", alias.IP.String())
	ones, _ := alias.Mask.Size()
	assert.Equal(t, 24, ones)

	n.AliasIP = "fe80::1/64"
	_, err = n.AliasAddr()
	assert.Error(t, err)
}

func TestListenAddr(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0:502", listenAddr(cfg))

	cfg.Network.AliasIP = "10.0.0.9/24"
	assert.Equal(t, "10.0.0.9:502", listenAddr(cfg))

	cfg.Server.ListenIP = "127.0.0.1"
	cfg.Server.Port = 1502
	assert.Equal(t, "127.0.0.1:1502", listenAddr(cfg))
}

func TestConfig_SaveAndLoad(t *testing.T) {
	for _, name := range []string{"config.json", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			cfg := DefaultConfig()
			cfg.Server.Port = 1502
			cfg.Server.IdleTimeout = 45 * time.Second
			cfg.MQTT.BaseTopic = "heishamon"
			cfg.Heatpump.AlternateVariant = true

			require.NoError(t, cfg.SaveConfig(path))
			_, err := os.Stat(path)
			require.NoError(t, err)

			loaded, err := LoadConfig(path)
			require.NoError(t, err)
			assert.Equal(t, 1502, loaded.Server.Port)
			assert.Equal(t, 45*time.Second, loaded.Server.IdleTimeout)
			assert.Equal(t, "heishamon", loaded.MQTT.BaseTopic)
			assert.True(t, loaded.Heatpump.AlternateVariant)
			assert.Equal(t, cfg.MQTT.RelayTopic, loaded.MQTT.RelayTopic)
		})
	}
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, DefaultConfig().SaveConfig(path))

	t.Setenv("HEISHABRIDGE_SERVER_PORT", "5020")
	t.Setenv("HEISHABRIDGE_MQTT_BASE_TOPIC", "hp")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 5020, cfg.Server.Port)
	assert.Equal(t, "hp", cfg.MQTT.BaseTopic)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  unit_id: 0\n"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
