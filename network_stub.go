//go:build !linux

package main

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
)

// StubProvisioner 非 Linux 平台的 stub 配置器
type StubProvisioner struct {
	BaseProvisioner
}

func newPlatformProvisioner(interfaceName string, logger *zap.Logger) NetworkProvisioner {
	return &StubProvisioner{
		BaseProvisioner: BaseProvisioner{
			InterfaceName: interfaceName,
			Logger:        logger,
		},
	}
}

// Setup 僅記錄別名，不實際配置
func (p *StubProvisioner) Setup(ctx context.Context, alias *net.IPNet) error {
	if alias == nil || alias.IP.To4() == nil {
		return fmt.Errorf("別名必須為 IPv4 位址")
	}

	p.Logger.Warn("別名 IP 配置僅在 Linux 上支援，使用模擬模式",
		zap.String("interface", p.InterfaceName),
		zap.String("alias", alias.String()),
	)
	p.Configured = alias
	return nil
}

// Teardown 移除別名 (stub)
func (p *StubProvisioner) Teardown(ctx context.Context) error {
	p.Configured = nil
	return nil
}

// Remove 移除別名 (stub)
func (p *StubProvisioner) Remove(ctx context.Context, alias *net.IPNet) error {
	if p.Configured != nil && alias != nil && p.Configured.IP.Equal(alias.IP) {
		p.Configured = nil
	}
	return nil
}

// List 返回本地 IP 與模擬配置的別名
func (p *StubProvisioner) List(ctx context.Context) ([]net.IP, error) {
	ips, err := localIPv4()
	if err != nil {
		return nil, fmt.Errorf("取得本地 IP 失敗: %w", err)
	}
	if p.Configured != nil {
		ips = append(ips, p.Configured.IP)
	}
	return ips, nil
}
