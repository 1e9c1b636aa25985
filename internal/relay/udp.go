package relay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

/* udpReadInterval 读循环检查停止信号的间隔 */
const udpReadInterval = time.Second

/*
UDPRelay UDP 转发器
功能：按客户端地址维护会话，每个会话使用独立的出站套接字，
目标的响应经监听套接字回传给对应客户端
*/
type UDPRelay struct {
	config Config
	conn   *net.UDPConn
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[netip.AddrPort]*udpSession
	running  atomic.Bool
	started  atomic.Bool
	loops    sync.WaitGroup

	stats *Stats
}

type udpSession struct {
	client     netip.AddrPort
	target     *net.UDPConn
	lastActive atomic.Int64
}

func (s *udpSession) touch() { s.lastActive.Store(time.Now().UnixNano()) }

func (s *udpSession) idle(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, s.lastActive.Load()))
}

/*
NewUDPRelay 创建 UDP 转发器
*/
func NewUDPRelay(cfg Config) *UDPRelay {
	ctx, cancel := context.WithCancel(context.Background())
	return &UDPRelay{
		config:   cfg.withDefaults(),
		ctx:      ctx,
		cancel:   cancel,
		logger:   zap.L().Named("udp-relay").With(zap.String("name", cfg.Name)),
		sessions: make(map[netip.AddrPort]*udpSession),
		stats:    &Stats{StartTime: time.Now()},
	}
}

/*
Start 开始监听
*/
func (r *UDPRelay) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	conn, err := net.ListenUDP("udp", net.UDPAddrFromAddrPort(r.config.Listen))
	if err != nil {
		return fmt.Errorf("UDP 监听失败 [%s]: %w", r.config.Listen, err)
	}
	r.conn = conn
	r.running.Store(true)

	r.logger.Info("UDP 转发器已启动",
		zap.String("listen", conn.LocalAddr().String()),
		zap.String("target", r.config.Target.String()))

	r.loops.Add(2)
	go r.readLoop()
	go r.cleanupLoop()
	return nil
}

func (r *UDPRelay) readLoop() {
	defer r.loops.Done()
	buf := make([]byte, r.config.BufferSize)

	for {
		if r.ctx.Err() != nil {
			return
		}
		_ = r.conn.SetReadDeadline(time.Now().Add(udpReadInterval))

		n, client, err := r.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) || !r.running.Load() {
				return
			}
			r.logger.Warn("读取 UDP 数据失败", zap.Error(err))
			continue
		}
		if n == 0 {
			continue
		}
		r.stats.BytesIn.Add(int64(n))

		session, err := r.session(client)
		if err != nil {
			r.logger.Warn("创建 UDP 会话失败", zap.String("client", client.String()), zap.Error(err))
			r.stats.FailedConns.Inc()
			continue
		}
		session.touch()

		if _, err := session.target.Write(buf[:n]); err != nil {
			r.logger.Debug("转发 UDP 数据失败", zap.String("client", client.String()), zap.Error(err))
			r.stats.FailedConns.Inc()
		}
	}
}

/*
session 查找或创建客户端会话
*/
func (r *UDPRelay) session(client netip.AddrPort) (*udpSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[client]; ok {
		return s, nil
	}
	if r.config.MaxConnections > 0 && len(r.sessions) >= r.config.MaxConnections {
		return nil, fmt.Errorf("UDP 会话数已达上限: %d", r.config.MaxConnections)
	}

	target, err := net.DialUDP("udp", nil, net.UDPAddrFromAddrPort(r.config.Target))
	if err != nil {
		return nil, fmt.Errorf("连接目标失败: %w", err)
	}

	s := &udpSession{client: client, target: target}
	s.touch()
	r.sessions[client] = s
	r.stats.TotalConns.Inc()
	r.stats.ActiveConns.Inc()

	r.logger.Debug("创建 UDP 会话", zap.String("client", client.String()))

	r.loops.Add(1)
	go r.reverseLoop(s)
	return s, nil
}

/*
reverseLoop 目标 -> 客户端
*/
func (r *UDPRelay) reverseLoop(s *udpSession) {
	defer r.loops.Done()
	defer r.removeSession(s)
	buf := make([]byte, r.config.BufferSize)

	for {
		if r.ctx.Err() != nil {
			return
		}
		_ = s.target.SetReadDeadline(time.Now().Add(udpReadInterval))

		n, err := s.target.Read(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if s.idle(time.Now()) > r.config.IdleTimeout {
					return
				}
				continue
			}
			return
		}
		if n == 0 {
			continue
		}
		r.stats.BytesOut.Add(int64(n))
		s.touch()

		if _, err := r.conn.WriteToUDPAddrPort(buf[:n], s.client); err != nil {
			r.logger.Debug("回传 UDP 数据失败", zap.String("client", s.client.String()), zap.Error(err))
		}
	}
}

func (r *UDPRelay) removeSession(s *udpSession) {
	r.mu.Lock()
	current, ok := r.sessions[s.client]
	if ok && current == s {
		delete(r.sessions, s.client)
	}
	r.mu.Unlock()

	if ok && current == s {
		_ = s.target.Close()
		r.stats.ActiveConns.Dec()
		r.logger.Debug("移除 UDP 会话", zap.String("client", s.client.String()))
	}
}

/*
cleanupLoop 定期移除空闲会话
*/
func (r *UDPRelay) cleanupLoop() {
	defer r.loops.Done()

	interval := r.config.IdleTimeout / 2
	if interval > 30*time.Second {
		interval = 30 * time.Second
	}
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case now := <-ticker.C:
			var expired []*udpSession
			r.mu.Lock()
			for _, s := range r.sessions {
				if s.idle(now) > r.config.IdleTimeout {
					expired = append(expired, s)
				}
			}
			r.mu.Unlock()
			for _, s := range expired {
				r.removeSession(s)
			}
		}
	}
}

/*
Sessions 当前会话数
*/
func (r *UDPRelay) Sessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

/*
Stop 停止监听并关闭全部会话
*/
func (r *UDPRelay) Stop() error {
	if !r.running.CompareAndSwap(true, false) {
		r.cancel()
		return nil
	}
	r.cancel()

	err := r.conn.Close()

	r.mu.Lock()
	sessions := make([]*udpSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		r.removeSession(s)
	}

	done := make(chan struct{})
	go func() {
		r.loops.Wait()
		close(done)
	}()
	select {
	case <-done:
		r.logger.Info("UDP 转发器已停止")
	case <-time.After(stopTimeout):
		r.logger.Warn("UDP 转发器停止超时")
	}
	return err
}

func (r *UDPRelay) Running() bool { return r.running.Load() }

func (r *UDPRelay) Stats() Snapshot { return r.stats.snapshot() }

func (r *UDPRelay) Addr() netip.AddrPort {
	if r.conn == nil {
		return r.config.Listen
	}
	return r.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}
