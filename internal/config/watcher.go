package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

/* debounceDelay 编辑器保存时常产生多个连续事件，合并为一次重载 */
const debounceDelay = 200 * time.Millisecond

// Subscriber 配置变更回调
type Subscriber func(old, new *Config)

/*
Watcher 配置文件热更新
功能：监听配置文件所在目录（兼容编辑器先写临时文件再改名的保存方式），
文件变化后重新加载；解析失败时保留旧配置
*/
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	logger  *zap.Logger

	mu      sync.RWMutex
	current *Config
	subs    []Subscriber

	stopCh chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewWatcher 创建配置监听器，initial 为当前生效的配置
func NewWatcher(path string, initial *Config) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析配置路径失败: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("创建文件监听失败: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("监听配置目录失败: %w", err)
	}

	w := &Watcher{
		path:    abs,
		watcher: fw,
		logger:  zap.L().Named("config"),
		current: initial,
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Subscribe 注册配置变更回调
func (w *Watcher) Subscribe(sub Subscriber) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, sub)
}

// Current 当前生效的配置
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

func (w *Watcher) loop() {
	defer close(w.done)

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounceDelay)
			} else {
				timer.Reset(debounceDelay)
			}
			fire = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("配置文件监听错误", zap.Error(err))
		case <-fire:
			fire = nil
			w.Reload()
		}
	}
}

/*
Reload 重新加载配置并通知订阅者
*/
func (w *Watcher) Reload() {
	next, err := LoadConfig(w.path)
	if err != nil {
		w.logger.Warn("配置重载失败，保留当前配置", zap.Error(err))
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = next
	subs := append([]Subscriber(nil), w.subs...)
	w.mu.Unlock()

	w.logger.Info("配置已重载", zap.String("path", w.path))
	for _, sub := range subs {
		w.notify(sub, old, next)
	}
}

/* notify 调用单个订阅者，订阅者 panic 不影响其他订阅者 */
func (w *Watcher) notify(sub Subscriber, old, next *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("配置订阅者 panic", zap.Any("panic", r))
		}
	}()
	sub(old, next)
}

// Close 停止监听
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.stopCh)
		<-w.done
		err = w.watcher.Close()
	})
	return err
}
