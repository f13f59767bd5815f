package main

import (
	"context"
	"net"

	"go.uber.org/zap"
)

// NetworkProvisioner 網路配置器介面
type NetworkProvisioner interface {
	// Setup 在介面上加入別名 IP，讓橋接器綁定專屬位址
	Setup(ctx context.Context, alias *net.IPNet) error

	// Teardown 移除本次加入的別名 IP
	Teardown(ctx context.Context) error

	// Remove 移除指定的別名 IP (不論是否由本程序加入)
	Remove(ctx context.Context, alias *net.IPNet) error

	// List 列出介面上的 IPv4 位址
	List(ctx context.Context) ([]net.IP, error)
}

// NewNetworkProvisioner 建立網路配置器
func NewNetworkProvisioner(interfaceName string, logger *zap.Logger) NetworkProvisioner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newPlatformProvisioner(interfaceName, logger)
}

// BaseProvisioner 基礎配置器 (共用邏輯)
type BaseProvisioner struct {
	InterfaceName string
	Logger        *zap.Logger
	Configured    *net.IPNet
}

// localIPv4 取得本機非 loopback 的 IPv4 位址
func localIPv4() ([]net.IP, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil, err
	}

	var ips []net.IP
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && !ipNet.IP.IsLoopback() {
			if ipNet.IP.To4() != nil {
				ips = append(ips, ipNet.IP)
			}
		}
	}
	return ips, nil
}
