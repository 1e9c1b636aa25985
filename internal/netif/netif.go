/*
Package netif 本机网络接口枚举

规则的源接口名来自这里列出的接口；转发引擎通过 ListenAddress 确定监听地址。
*/
package netif

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"sort"
	"strings"

	psnet "github.com/shirou/gopsutil/v3/net"
)

var (
	ErrInterfaceNotFound = errors.New("网络接口不存在")
	ErrNoAddress         = errors.New("网络接口没有可用地址")
)

/*
Interface 网络接口信息
*/
type Interface struct {
	Name         string         `json:"name"`
	Index        int            `json:"index"`
	MTU          int            `json:"mtu"`
	HardwareAddr string         `json:"hardware_addr,omitempty"`
	Up           bool           `json:"up"`
	Loopback     bool           `json:"loopback"`
	Addrs        []netip.Prefix `json:"addrs"`
}

/*
Resolver 按接口名解析监听地址
*/
type Resolver interface {
	ListenAddress(ctx context.Context, name string) (netip.Addr, error)
}

/* listFunc 与 gopsutil 的接口列表函数签名一致，测试中替换 */
type listFunc func(ctx context.Context) (psnet.InterfaceStatList, error)

/*
Enumerator 接口枚举器
*/
type Enumerator struct {
	list listFunc
}

/*
New 创建基于 gopsutil 的接口枚举器
*/
func New() *Enumerator {
	return &Enumerator{list: psnet.InterfacesWithContext}
}

/*
List 列出本机全部网络接口
功能：按名称排序；无法解析的地址被跳过
*/
func (e *Enumerator) List(ctx context.Context) ([]Interface, error) {
	stats, err := e.list(ctx)
	if err != nil {
		return nil, fmt.Errorf("枚举网络接口失败: %w", err)
	}

	out := make([]Interface, 0, len(stats))
	for _, s := range stats {
		out = append(out, convert(s))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

/*
Names 列出全部接口名
*/
func (e *Enumerator) Names(ctx context.Context) ([]string, error) {
	ifaces, err := e.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		names = append(names, iface.Name)
	}
	return names, nil
}

/*
ListenAddress 返回接口的首个地址
功能：优先 IPv4，其次非链路本地的 IPv6，最后链路本地 IPv6（带 zone）
*/
func (e *Enumerator) ListenAddress(ctx context.Context, name string) (netip.Addr, error) {
	ifaces, err := e.List(ctx)
	if err != nil {
		return netip.Addr{}, err
	}
	for _, iface := range ifaces {
		if iface.Name != name {
			continue
		}
		if addr, ok := iface.pick(); ok {
			return addr, nil
		}
		return netip.Addr{}, fmt.Errorf("%w: %s", ErrNoAddress, name)
	}
	return netip.Addr{}, fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
}

func (i Interface) pick() (netip.Addr, bool) {
	var v6, linkLocal netip.Addr
	for _, p := range i.Addrs {
		a := p.Addr()
		switch {
		case a.Is4():
			return a, true
		case a.IsLinkLocalUnicast():
			if !linkLocal.IsValid() {
				linkLocal = a.WithZone(i.Name)
			}
		default:
			if !v6.IsValid() {
				v6 = a
			}
		}
	}
	if v6.IsValid() {
		return v6, true
	}
	return linkLocal, linkLocal.IsValid()
}

func convert(s psnet.InterfaceStat) Interface {
	iface := Interface{
		Name:         s.Name,
		Index:        s.Index,
		MTU:          s.MTU,
		HardwareAddr: s.HardwareAddr,
	}
	for _, f := range s.Flags {
		switch strings.ToLower(f) {
		case "up":
			iface.Up = true
		case "loopback":
			iface.Loopback = true
		}
	}
	for _, a := range s.Addrs {
		if p, err := netip.ParsePrefix(a.Addr); err == nil {
			iface.Addrs = append(iface.Addrs, p)
		} else if addr, err := netip.ParseAddr(a.Addr); err == nil {
			iface.Addrs = append(iface.Addrs, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return iface
}

/*
Static 固定的接口名到地址映射
功能：用于测试，或在配置中显式指定监听地址
*/
type Static map[string]netip.Addr

func (s Static) ListenAddress(_ context.Context, name string) (netip.Addr, error) {
	if addr, ok := s[name]; ok {
		return addr, nil
	}
	return netip.Addr{}, fmt.Errorf("%w: %s", ErrInterfaceNotFound, name)
}
