package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

/* stopTimeout 停止时等待活跃连接退出的最长时间 */
const stopTimeout = 10 * time.Second

/*
TCPRelay TCP 转发器
功能：在监听端口接受连接，双向拷贝到目标地址
*/
type TCPRelay struct {
	config   Config
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	logger   *zap.Logger

	running    atomic.Bool
	started    atomic.Bool
	conns      sync.WaitGroup
	acceptDone chan struct{}

	stats *Stats
}

/*
NewTCPRelay 创建 TCP 转发器
*/
func NewTCPRelay(cfg Config) *TCPRelay {
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPRelay{
		config: cfg.withDefaults(),
		ctx:    ctx,
		cancel: cancel,
		logger: zap.L().Named("tcp-relay").With(zap.String("name", cfg.Name)),
		stats:  &Stats{StartTime: time.Now()},
	}
}

/*
Start 开始监听
*/
func (r *TCPRelay) Start() error {
	if !r.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	listener, err := net.Listen("tcp", r.config.Listen.String())
	if err != nil {
		return fmt.Errorf("TCP 监听失败 [%s]: %w", r.config.Listen, err)
	}
	r.listener = listener
	r.acceptDone = make(chan struct{})
	r.running.Store(true)

	r.logger.Info("TCP 转发器已启动",
		zap.String("listen", listener.Addr().String()),
		zap.String("target", r.config.Target.String()))

	go r.acceptLoop()
	return nil
}

func (r *TCPRelay) acceptLoop() {
	defer close(r.acceptDone)
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || !r.running.Load() {
				return
			}
			r.logger.Warn("接受连接失败", zap.Error(err))
			continue
		}

		if r.config.MaxConnections > 0 && r.stats.ActiveConns.Load() >= int64(r.config.MaxConnections) {
			r.logger.Warn("连接数已达上限，拒绝新连接",
				zap.Int64("current", r.stats.ActiveConns.Load()),
				zap.Int("max", r.config.MaxConnections))
			_ = conn.Close()
			r.stats.FailedConns.Inc()
			continue
		}

		r.conns.Add(1)
		r.stats.TotalConns.Inc()
		r.stats.ActiveConns.Inc()
		go r.handle(conn)
	}
}

func (r *TCPRelay) handle(client net.Conn) {
	defer func() {
		_ = client.Close()
		r.stats.ActiveConns.Dec()
		r.conns.Done()
	}()

	dialer := net.Dialer{Timeout: r.config.DialTimeout}
	target, err := dialer.DialContext(r.ctx, "tcp", r.config.Target.String())
	if err != nil {
		r.logger.Warn("连接目标失败",
			zap.String("client", client.RemoteAddr().String()),
			zap.Error(err))
		r.stats.FailedConns.Inc()
		return
	}
	defer target.Close()

	/* 停止时主动关闭两端，解除阻塞的读 */
	stop := context.AfterFunc(r.ctx, func() {
		_ = client.Close()
		_ = target.Close()
	})
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.pipe(target, client, r.stats.BytesIn.Add)
	}()
	go func() {
		defer wg.Done()
		r.pipe(client, target, r.stats.BytesOut.Add)
	}()
	wg.Wait()
}

/*
pipe 单方向拷贝
功能：源端读到 EOF 后半关闭目的端的写方向，另一方向继续传输
*/
func (r *TCPRelay) pipe(dst, src net.Conn, count func(int64) int64) {
	buf := make([]byte, r.config.BufferSize)
	for {
		_ = src.SetReadDeadline(time.Now().Add(r.config.IdleTimeout))
		n, readErr := src.Read(buf)
		if n > 0 {
			_ = dst.SetWriteDeadline(time.Now().Add(r.config.WriteTimeout))
			written, writeErr := dst.Write(buf[:n])
			count(int64(written))
			if writeErr != nil {
				_ = src.Close()
				return
			}
		}
		if readErr != nil {
			if readErr != io.EOF {
				r.logger.Debug("读取结束", zap.Error(readErr))
				_ = dst.Close()
				return
			}
			if cw, ok := dst.(interface{ CloseWrite() error }); ok {
				_ = cw.CloseWrite()
			} else {
				_ = dst.Close()
			}
			return
		}
	}
}

/*
Stop 停止监听并关闭全部连接
*/
func (r *TCPRelay) Stop() error {
	if !r.running.CompareAndSwap(true, false) {
		r.cancel()
		return nil
	}
	r.cancel()

	var err error
	if r.listener != nil {
		err = r.listener.Close()
		<-r.acceptDone
	}

	done := make(chan struct{})
	go func() {
		r.conns.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("TCP 转发器已停止")
	case <-time.After(stopTimeout):
		r.logger.Warn("TCP 转发器停止超时")
	}
	return err
}

func (r *TCPRelay) Running() bool { return r.running.Load() }

func (r *TCPRelay) Stats() Snapshot { return r.stats.snapshot() }

func (r *TCPRelay) Addr() netip.AddrPort {
	if r.listener == nil {
		return r.config.Listen
	}
	if addr, ok := r.listener.Addr().(*net.TCPAddr); ok {
		return addr.AddrPort()
	}
	return r.config.Listen
}
