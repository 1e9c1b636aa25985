package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"portfwd/internal/db/dao"
	"portfwd/internal/db/database"
	"portfwd/internal/rule"
	"portfwd/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

/* recordingSink 记录收到的事件 */
type recordingSink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *recordingSink) Emit(e telemetry.Event) {
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
}

func (s *recordingSink) Close() error { return nil }

func (s *recordingSink) types() []telemetry.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]telemetry.EventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Type)
	}
	return out
}

func openDB(t *testing.T, path string) *dao.DAO {
	t.Helper()
	cfg := database.DefaultConfig()
	cfg.SQLitePath = path
	cfg.LogLevel = "silent"

	db, err := database.NewDatabase(cfg)
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return dao.New(db)
}

func newTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	return New(openDB(t, ":memory:"), opts)
}

func buildRule(t *testing.T, name string, port int, enabled bool) rule.Rule {
	t.Helper()
	r, err := rule.NewBuilder().
		Name(name).
		TCP(true).
		SourceInterface("wlan0").
		SourcePortMin(port).
		TargetIP("192.168.1.10").
		TargetPortMin(80).
		Enabled(enabled).
		Build(nil)
	require.NoError(t, err)
	return r
}

func TestStore_InsertAndGet(t *testing.T) {
	sink := &recordingSink{}
	s := newTestStore(t, Options{Sink: sink})

	web := buildRule(t, "web", 8080, true)
	id, err := s.Insert(web)
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, web.WithID(id), got)
	assert.Equal(t, 0, got.SourcePortMax())

	addr, err := got.TargetAddress(0)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10:80", addr.String())

	enabled, err := s.GetEnabled()
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, id, enabled[0].ID())

	assert.Equal(t, []telemetry.EventType{telemetry.EventRuleSaved}, sink.types())
}

func TestStore_InsertAssignsUniqueIDs(t *testing.T) {
	s := newTestStore(t, Options{})

	seen := make(map[int64]bool)
	for i := 0; i < 20; i++ {
		r := buildRule(t, fmt.Sprintf("r%d", i), 2000+i, true)
		id, err := s.Insert(r)
		require.NoError(t, err)
		assert.False(t, seen[id], "ID 重复: %d", id)
		seen[id] = true

		got, err := s.Get(id)
		require.NoError(t, err)
		assert.Equal(t, r.WithID(id), got)
	}

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)
}

func TestStore_InsertIgnoresCallerID(t *testing.T) {
	s := newTestStore(t, Options{})

	first, err := s.Insert(buildRule(t, "a", 2000, true))
	require.NoError(t, err)

	second, err := s.Insert(buildRule(t, "b", 2001, true).WithID(first))
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	got, err := s.Get(first)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name(), "已有规则不应被覆盖")
}

func TestStore_RejectsInvalid(t *testing.T) {
	sink := &recordingSink{}
	s := newTestStore(t, Options{Sink: sink})

	_, err := s.Insert(rule.Rule{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidRule))
	assert.Equal(t, KindInvalid, FromError(err))

	var verr *rule.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.NotNil(t, verr.Field(rule.FieldName))
	assert.NotNil(t, verr.Field(rule.FieldProtocol))

	/* 端口低于 1024 的规则 */
	low, buildErr := rule.NewBuilder().
		Name("low").TCP(true).SourceInterface("eth0").
		SourcePortMin(80).TargetIP("10.0.0.1").TargetPortMin(80).
		Build(rule.NewValidator(rule.Limits{MinPort: 1, MaxPort: 65535, TargetMinPort: 1}))
	require.NoError(t, buildErr)
	_, err = s.Insert(low)
	assert.True(t, errors.Is(err, ErrInvalidRule))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "无效规则不应写入")
	assert.Empty(t, sink.types())
}

func TestStore_StricterValidator(t *testing.T) {
	strict := rule.NewValidator(rule.Limits{MinPort: 5000, MaxPort: 6000, TargetMinPort: 1})
	s := newTestStore(t, Options{Validator: strict})

	_, err := s.Insert(buildRule(t, "web", 8080, true))
	assert.True(t, errors.Is(err, ErrInvalidRule))

	_, err = s.Insert(buildRule(t, "web", 5500, true))
	assert.NoError(t, err)
	assert.Same(t, strict, s.Validator())
}

func TestStore_UpdateOverwrites(t *testing.T) {
	sink := &recordingSink{}
	s := newTestStore(t, Options{Sink: sink})

	id, err := s.Insert(buildRule(t, "web", 8080, true))
	require.NoError(t, err)

	changed, err := rule.NewBuilder().
		ID(id).
		Name("web-udp").
		UDP(true).
		SourceInterface("eth1").
		SourcePortMin(9000).
		SourcePortMax(9010).
		TargetIP("fe80::1").
		TargetPortMin(9000).
		Enabled(false).
		Build(nil)
	require.NoError(t, err)
	require.NoError(t, s.Update(changed))

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, changed, got)
	assert.False(t, got.TCP(), "整行覆盖应清除 TCP 标志")

	enabled, err := s.GetEnabled()
	require.NoError(t, err)
	assert.Empty(t, enabled, "禁用后不再出现在启用列表中")

	/* 再次启用立即生效 */
	require.NoError(t, s.Update(got.WithEnabled(true)))
	enabled, err = s.GetEnabled()
	require.NoError(t, err)
	assert.Len(t, enabled, 1)

	assert.Equal(t, []telemetry.EventType{
		telemetry.EventRuleSaved, telemetry.EventRuleSaved, telemetry.EventRuleSaved,
	}, sink.types())
}

func TestStore_SetEnabled(t *testing.T) {
	sink := &recordingSink{}
	s := newTestStore(t, Options{Sink: sink})

	id, err := s.Insert(buildRule(t, "web", 8080, true))
	require.NoError(t, err)

	got, err := s.SetEnabled(id, false)
	require.NoError(t, err)
	assert.False(t, got.Enabled())
	assert.Equal(t, "web", got.Name())

	stored, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, got, stored)

	_, err = s.SetEnabled(0, true)
	assert.True(t, errors.Is(err, ErrMissingID))
	_, err = s.SetEnabled(404, true)
	assert.True(t, errors.Is(err, ErrNotFound))

	assert.Equal(t, []telemetry.EventType{
		telemetry.EventRuleSaved, telemetry.EventRuleSaved,
	}, sink.types())
}

/*
TestStore_SetEnabledKeepsConcurrentUpdate 启用切换与整行更新并发
功能：切换启用状态不能把并发提交的目标端口改回旧值
*/
func TestStore_SetEnabledKeepsConcurrentUpdate(t *testing.T) {
	s := New(openDB(t, filepath.Join(t.TempDir(), "rules.db")), Options{})

	base := buildRule(t, "web", 8080, true)
	id, err := s.Insert(base)
	require.NoError(t, err)

	const rounds = 200
	updates := make([]rule.Rule, rounds)
	for i := range updates {
		r, err := rule.FromRule(base.WithID(id)).TargetPortMin(1000 + i).Build(nil)
		require.NoError(t, err)
		updates[i] = r
	}

	for i, next := range updates {
		var wg sync.WaitGroup
		var updateErr, toggleErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			updateErr = s.Update(next)
		}()
		go func(enabled bool) {
			defer wg.Done()
			_, toggleErr = s.SetEnabled(id, enabled)
		}(i%2 == 0)
		wg.Wait()
		require.NoError(t, updateErr)
		require.NoError(t, toggleErr)

		got, err := s.Get(id)
		require.NoError(t, err)
		require.Equal(t, 1000+i, got.TargetPortMin(), "第 %d 轮：已提交的更新被覆盖", i)
	}
}

func TestStore_UpdateErrors(t *testing.T) {
	s := newTestStore(t, Options{})

	err := s.Update(buildRule(t, "web", 8080, true))
	assert.True(t, errors.Is(err, ErrMissingID))

	err = s.Update(buildRule(t, "web", 8080, true).WithID(404))
	var nf *NotFoundError
	require.True(t, errors.As(err, &nf))
	assert.Equal(t, int64(404), nf.ID)
	assert.Equal(t, KindNotFound, FromError(err))

	id, err := s.Insert(buildRule(t, "web", 8080, true))
	require.NoError(t, err)
	err = s.Update(rule.Rule{}.WithID(id))
	assert.True(t, errors.Is(err, ErrInvalidRule))

	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "web", got.Name(), "无效更新不应改变已有规则")
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t, Options{})

	_, err := s.Get(12345)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestStore_GetAllOrderAndEnabledFilter(t *testing.T) {
	s := newTestStore(t, Options{})

	var ids []int64
	for i := 0; i < 6; i++ {
		id, err := s.Insert(buildRule(t, fmt.Sprintf("r%d", i), 3000+i, i%2 == 0))
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := s.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 6)
	for i, r := range all {
		assert.Equal(t, ids[len(ids)-1-i], r.ID(), "应按 ID 倒序")
	}

	enabled, err := s.GetEnabled()
	require.NoError(t, err)
	require.Len(t, enabled, 3)
	for i, r := range enabled {
		assert.True(t, r.Enabled())
		if i > 0 {
			assert.Greater(t, enabled[i-1].ID(), r.ID())
		}
	}
	assert.Equal(t, float64(3), testutil.ToFloat64(s.metrics.enabled))
	assert.Equal(t, float64(6), testutil.ToFloat64(s.metrics.total))
}

func TestStore_DeleteIdempotent(t *testing.T) {
	sink := &recordingSink{}
	s := newTestStore(t, Options{Sink: sink})

	keep, err := s.Insert(buildRule(t, "keep", 2000, true))
	require.NoError(t, err)
	drop, err := s.Insert(buildRule(t, "drop", 2001, true))
	require.NoError(t, err)

	removed, err := s.Delete(drop)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = s.Delete(drop)
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = s.Delete(99999)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = s.Get(drop)
	assert.True(t, errors.Is(err, ErrNotFound))
	_, err = s.Get(keep)
	assert.NoError(t, err)

	assert.Equal(t, []telemetry.EventType{
		telemetry.EventRuleSaved, telemetry.EventRuleSaved, telemetry.EventRuleDeleted,
	}, sink.types())
}

func TestStore_DecodeErrorAbortsRead(t *testing.T) {
	d := openDB(t, ":memory:")
	s := New(d, Options{})

	good, err := s.Insert(buildRule(t, "good", 2000, true))
	require.NoError(t, err)
	bad, err := s.Insert(buildRule(t, "bad", 2001, true))
	require.NoError(t, err)

	require.NoError(t, d.DB.Exec("UPDATE rules SET from_port_max = ? WHERE id = ?", 70000, bad).Error)

	_, err = s.Get(bad)
	var decodeErr *rule.DecodeError
	require.True(t, errors.As(err, &decodeErr))
	assert.Equal(t, "from_port_max", decodeErr.Column)
	assert.False(t, errors.Is(err, ErrNotFound), "解码失败与不存在必须区分")
	assert.Equal(t, KindDecode, FromError(err))

	_, err = s.GetAll()
	assert.True(t, errors.As(err, &decodeErr))
	_, err = s.GetEnabled()
	assert.True(t, errors.As(err, &decodeErr))

	_, err = s.Get(good)
	assert.NoError(t, err)
}

func TestStore_ColumnTypeMismatchIsDecodeError(t *testing.T) {
	d := openDB(t, ":memory:")
	s := New(d, Options{})

	id, err := s.Insert(buildRule(t, "web", 8080, true))
	require.NoError(t, err)
	require.NoError(t, d.DB.Exec("UPDATE rules SET from_port_min = 'abc' WHERE id = ?", id).Error)

	var decodeErr *rule.DecodeError

	_, err = s.GetAll()
	require.True(t, errors.As(err, &decodeErr), "err=%v", err)
	assert.Equal(t, "from_port_min", decodeErr.Column)
	assert.Equal(t, KindDecode, FromError(err))
	assert.False(t, errors.Is(err, ErrStorage))

	_, err = s.GetEnabled()
	assert.Equal(t, KindDecode, FromError(err))

	_, err = s.Get(id)
	require.True(t, errors.As(err, &decodeErr), "err=%v", err)
	assert.Equal(t, "from_port_min", decodeErr.Column)
	assert.Equal(t, id, decodeErr.ID)

	_, err = s.SetEnabled(id, false)
	assert.Equal(t, KindDecode, FromError(err))
}

func TestStore_StorageError(t *testing.T) {
	d := openDB(t, ":memory:")
	s := New(d, Options{})

	sqlDB, err := d.DB.DB()
	require.NoError(t, err)
	require.NoError(t, sqlDB.Close())

	_, err = s.Insert(buildRule(t, "web", 8080, true))
	assert.True(t, errors.Is(err, ErrStorage))
	assert.Equal(t, KindStorage, FromError(err))

	_, err = s.GetAll()
	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "list", se.Op)
}

func TestStore_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newTestStore(t, Options{Registerer: reg})

	_, err := s.Insert(buildRule(t, "web", 8080, true))
	require.NoError(t, err)
	_, _ = s.Insert(rule.Rule{})
	_, _ = s.Get(999)

	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.ops.WithLabelValues("insert", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.ops.WithLabelValues("insert", "invalid")))
	assert.Equal(t, float64(1), testutil.ToFloat64(s.metrics.ops.WithLabelValues("get", "not_found")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

/*
TestStore_ConcurrentReadWrite 读写并发
功能：转发引擎持续读取启用列表的同时用户增删改规则，读到的规则必须全部有效
*/
func TestStore_ConcurrentReadWrite(t *testing.T) {
	s := New(openDB(t, filepath.Join(t.TempDir(), "rules.db")), Options{})

	var seed []int64
	for i := 0; i < 5; i++ {
		id, err := s.Insert(buildRule(t, fmt.Sprintf("seed%d", i), 4000+i, true))
		require.NoError(t, err)
		seed = append(seed, id)
	}

	const writers, readers, rounds = 4, 4, 25

	/* 规则在主协程中构造，工作协程只调用存储 */
	inserts := make([][]rule.Rule, writers)
	reseeds := make([][]rule.Rule, writers)
	for w := 0; w < writers; w++ {
		for i := 0; i < rounds; i++ {
			inserts[w] = append(inserts[w], buildRule(t, fmt.Sprintf("w%d-%d", w, i), 5000+w*100+i, i%2 == 0))
			reseeds[w] = append(reseeds[w], buildRule(t, "seed", 4000+w, i%3 == 0))
		}
	}

	var wg sync.WaitGroup
	errCh := make(chan error, writers*rounds*3+readers*rounds)

	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				r := inserts[w][i]
				id, err := s.Insert(r)
				if err != nil {
					errCh <- err
					continue
				}
				if err := s.Update(r.WithID(id).WithEnabled(i%2 != 0)); err != nil {
					errCh <- err
				}
				target := seed[(w+i)%len(seed)]
				if err := s.Update(reseeds[w][i].WithID(target)); err != nil {
					errCh <- err
				}
				if i%5 == 0 {
					if _, err := s.Delete(id); err != nil {
						errCh <- err
					}
				}
			}
		}(w)
	}

	validator := rule.Default()
	for rd := 0; rd < readers; rd++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < rounds; i++ {
				enabled, err := s.GetEnabled()
				if err != nil {
					errCh <- err
					continue
				}
				for _, r := range enabled {
					if !r.Enabled() || !validator.IsValid(r) {
						errCh <- fmt.Errorf("读取到不符合要求的规则: %s", r)
					}
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Error(err)
	}

	all, err := s.GetAll()
	require.NoError(t, err)
	/* 5 条种子 + 每个写者 rounds 条，其中每 5 条删 1 条 */
	assert.Len(t, all, 5+writers*(rounds-rounds/5))
}
