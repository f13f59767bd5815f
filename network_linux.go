//go:build linux

package main

import (
	"context"
	"fmt"
	"net"
	"os"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// LinuxProvisioner Linux 網路配置器
type LinuxProvisioner struct {
	BaseProvisioner
	link netlink.Link
	// 別名在 Setup 前即已存在時不在 Teardown 移除
	preexisting bool
}

func newPlatformProvisioner(interfaceName string, logger *zap.Logger) NetworkProvisioner {
	return &LinuxProvisioner{
		BaseProvisioner: BaseProvisioner{
			InterfaceName: interfaceName,
			Logger:        logger,
		},
	}
}

func (p *LinuxProvisioner) resolveLink() (netlink.Link, error) {
	if p.link != nil {
		return p.link, nil
	}
	link, err := netlink.LinkByName(p.InterfaceName)
	if err != nil {
		return nil, fmt.Errorf("找不到網路介面 %s: %w", p.InterfaceName, err)
	}
	p.link = link
	return link, nil
}

// Setup 設置別名 IP (使用 netlink)
func (p *LinuxProvisioner) Setup(ctx context.Context, alias *net.IPNet) error {
	if alias == nil || alias.IP.To4() == nil {
		return fmt.Errorf("別名必須為 IPv4 位址")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	link, err := p.resolveLink()
	if err != nil {
		return err
	}

	p.Logger.Info("正在設置別名 IP",
		zap.String("interface", p.InterfaceName),
		zap.String("alias", alias.String()),
	)

	if err := netlink.AddrAdd(link, &netlink.Addr{IPNet: alias}); err != nil {
		if !os.IsExist(err) {
			return fmt.Errorf("添加 IP %s 失敗: %w", alias, err)
		}
		p.Logger.Debug("IP 已存在", zap.String("ip", alias.IP.String()))
		p.preexisting = true
	}

	p.Configured = alias
	p.Logger.Info("別名 IP 設置完成", zap.String("alias", alias.String()))
	return nil
}

// Teardown 移除別名 IP
func (p *LinuxProvisioner) Teardown(ctx context.Context) error {
	if p.Configured == nil {
		return nil
	}
	if p.preexisting {
		p.Logger.Debug("別名 IP 非本程式加入，保留", zap.String("alias", p.Configured.String()))
		p.Configured = nil
		return nil
	}
	if err := p.Remove(ctx, p.Configured); err != nil {
		return err
	}
	p.Configured = nil
	return nil
}

// Remove 移除指定的別名 IP
func (p *LinuxProvisioner) Remove(ctx context.Context, alias *net.IPNet) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	link, err := p.resolveLink()
	if err != nil {
		return err
	}

	if err := netlink.AddrDel(link, &netlink.Addr{IPNet: alias}); err != nil {
		return fmt.Errorf("移除 IP %s 失敗: %w", alias, err)
	}

	p.Logger.Info("別名 IP 已移除", zap.String("alias", alias.String()))
	return nil
}

// List 列出介面上的 IPv4 位址
func (p *LinuxProvisioner) List(ctx context.Context) ([]net.IP, error) {
	link, err := p.resolveLink()
	if err != nil {
		return nil, err
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("列出 IP 失敗: %w", err)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		ips = append(ips, addr.IP)
	}
	return ips, nil
}
