package netif

import (
	"context"
	"errors"
	"net/netip"
	"testing"

	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeEnumerator(stats psnet.InterfaceStatList, err error) *Enumerator {
	return &Enumerator{list: func(context.Context) (psnet.InterfaceStatList, error) {
		return stats, err
	}}
}

func sampleStats() psnet.InterfaceStatList {
	return psnet.InterfaceStatList{
		{
			Name:  "wlan0",
			Index: 3,
			MTU:   1500,
			Flags: []string{"up", "broadcast", "multicast"},
			Addrs: psnet.InterfaceAddrList{
				{Addr: "fe80::1234/64"},
				{Addr: "192.168.1.20/24"},
			},
		},
		{
			Name:  "lo",
			Index: 1,
			MTU:   65536,
			Flags: []string{"up", "loopback"},
			Addrs: psnet.InterfaceAddrList{{Addr: "127.0.0.1/8"}, {Addr: "::1/128"}},
		},
		{
			Name:  "tun0",
			Index: 5,
			Flags: []string{"up", "pointtopoint"},
			Addrs: psnet.InterfaceAddrList{{Addr: "fe80::9/64"}, {Addr: "2001:db8::5/64"}},
		},
		{
			Name:  "eth1",
			Index: 4,
			Addrs: psnet.InterfaceAddrList{{Addr: "not-an-address"}},
		},
	}
}

func TestEnumerator_List(t *testing.T) {
	e := fakeEnumerator(sampleStats(), nil)

	ifaces, err := e.List(context.Background())
	require.NoError(t, err)

	names, err := e.Names(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"eth1", "lo", "tun0", "wlan0"}, names)

	lo := ifaces[1]
	assert.True(t, lo.Up)
	assert.True(t, lo.Loopback)
	assert.Len(t, lo.Addrs, 2)

	assert.False(t, ifaces[0].Up)
	assert.Empty(t, ifaces[0].Addrs, "无法解析的地址应被跳过")
}

func TestEnumerator_ListenAddress(t *testing.T) {
	e := fakeEnumerator(sampleStats(), nil)
	ctx := context.Background()

	addr, err := e.ListenAddress(ctx, "wlan0")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("192.168.1.20"), addr, "优先 IPv4")

	addr, err = e.ListenAddress(ctx, "tun0")
	require.NoError(t, err)
	assert.Equal(t, netip.MustParseAddr("2001:db8::5"), addr)

	_, err = e.ListenAddress(ctx, "eth1")
	assert.True(t, errors.Is(err, ErrNoAddress))

	_, err = e.ListenAddress(ctx, "eth9")
	assert.True(t, errors.Is(err, ErrInterfaceNotFound))
}

func TestEnumerator_LinkLocalOnly(t *testing.T) {
	e := fakeEnumerator(psnet.InterfaceStatList{{
		Name:  "usb0",
		Addrs: psnet.InterfaceAddrList{{Addr: "fe80::2/64"}},
	}}, nil)

	addr, err := e.ListenAddress(context.Background(), "usb0")
	require.NoError(t, err)
	assert.Equal(t, "usb0", addr.Zone())
}

func TestEnumerator_Error(t *testing.T) {
	e := fakeEnumerator(nil, errors.New("boom"))
	_, err := e.List(context.Background())
	assert.ErrorContains(t, err, "boom")
}

func TestStatic(t *testing.T) {
	s := Static{"lo": netip.MustParseAddr("127.0.0.1")}

	addr, err := s.ListenAddress(context.Background(), "lo")
	require.NoError(t, err)
	assert.True(t, addr.IsLoopback())

	_, err = s.ListenAddress(context.Background(), "eth0")
	assert.True(t, errors.Is(err, ErrInterfaceNotFound))
}

func TestEnumerator_Real(t *testing.T) {
	ifaces, err := New().List(context.Background())
	if err != nil {
		t.Skipf("当前环境无法枚举网络接口: %v", err)
	}
	for _, iface := range ifaces {
		assert.NotEmpty(t, iface.Name)
	}
}
