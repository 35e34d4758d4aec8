package registry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depth-sync/internal/core/model"
	"depth-sync/internal/core/reconcile"
	"depth-sync/internal/stats/syncstats"
)

// fakeFetcher 可控的快照获取器
type fakeFetcher struct {
	calls   atomic.Int32
	release chan struct{}
	mu      sync.Mutex
	ids     map[string]int64
	err     error
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{ids: make(map[string]int64)}
}

func (f *fakeFetcher) FetchSnapshot(ctx context.Context, symbol string) (*model.Snapshot, error) {
	f.calls.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &model.Snapshot{
		Symbol:       symbol,
		LastUpdateID: f.ids[symbol],
		Bids:         []model.Level{{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(1)}},
		Asks:         []model.Level{{Price: decimal.NewFromInt(101), Qty: decimal.NewFromInt(1)}},
	}, nil
}

func update(symbol string, first, final int64) *model.DepthUpdate {
	return &model.DepthUpdate{
		Symbol:  symbol,
		FirstID: first,
		FinalID: final,
		Bids:    []model.Level{{Price: decimal.NewFromInt(100), Qty: decimal.NewFromInt(final)}},
	}
}

func TestRegistry_SyncAndIngest(t *testing.T) {
	f := newFakeFetcher()
	f.ids["BTCUSDT"] = 160
	stats := syncstats.NewTracker(100)

	var synced atomic.Int32
	r := New(f, reconcile.Options{}, stats, nil, Hooks{
		OnSynced: func(symbol string, report reconcile.SpliceReport) { synced.Add(1) },
	})
	defer r.Close()

	r.Subscribe("BTCUSDT", model.DialectSpot)
	for _, u := range []*model.DepthUpdate{update("BTCUSDT", 150, 155), update("BTCUSDT", 156, 161)} {
		res, err := r.Ingest(u)
		require.NoError(t, err)
		assert.Equal(t, reconcile.ResultBuffered, res)
	}

	_, err := r.GetBook("BTCUSDT", 10)
	assert.ErrorIs(t, err, reconcile.ErrNotSynced)

	report, err := r.Sync(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Dropped)
	assert.Equal(t, int64(161), report.Nonce)
	assert.Equal(t, int32(1), synced.Load())

	res, err := r.Ingest(update("BTCUSDT", 162, 170))
	require.NoError(t, err)
	assert.Equal(t, reconcile.ResultApplied, res)

	view, err := r.GetBook("BTCUSDT", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(170), view.Nonce)
	assert.True(t, view.Bids[0].Qty.Equal(decimal.NewFromInt(170)))

	s := stats.Stats("BTCUSDT")
	assert.Equal(t, int64(2), s.Applied)
	assert.Equal(t, int64(2), s.Buffered)
	assert.Equal(t, int64(1), s.Syncs)
}

func TestRegistry_SingleFlight(t *testing.T) {
	f := newFakeFetcher()
	f.ids["BTCUSDT"] = 100
	f.release = make(chan struct{})
	r := New(f, reconcile.Options{}, nil, nil, Hooks{})
	defer r.Close()

	r.Subscribe("BTCUSDT", model.DialectSpot)
	require.NoError(t, r.StartSync(context.Background(), "BTCUSDT"))
	assert.ErrorIs(t, r.StartSync(context.Background(), "BTCUSDT"), reconcile.ErrSyncInFlight)

	close(f.release)
	view, err := r.Wait(context.Background(), "BTCUSDT", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(100), view.Nonce)
	assert.Equal(t, int32(1), f.calls.Load())

	_, err = r.Sync(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, reconcile.ErrAlreadySynced)
}

func TestRegistry_GapIsolation(t *testing.T) {
	f := newFakeFetcher()
	f.ids["AAA"] = 100
	f.ids["BBB"] = 100

	gaps := make(chan string, 1)
	r := New(f, reconcile.Options{}, nil, nil, Hooks{
		OnGap: func(symbol string, err error) { gaps <- symbol },
	})
	defer r.Close()

	for _, s := range []string{"AAA", "BBB"} {
		r.Subscribe(s, model.DialectSpot)
		_, err := r.Sync(context.Background(), s)
		require.NoError(t, err)
	}

	_, err := r.Ingest(update("AAA", 105, 110))
	assert.ErrorIs(t, err, reconcile.ErrSequenceGap)
	assert.Equal(t, "AAA", <-gaps)

	_, err = r.GetBook("AAA", 10)
	assert.ErrorIs(t, err, ErrNotSubscribed)
	assert.Equal(t, []string{"BBB"}, r.Symbols())

	res, err := r.Ingest(update("BBB", 101, 102))
	require.NoError(t, err)
	assert.Equal(t, reconcile.ResultApplied, res)
}

func TestRegistry_UnsubscribeDuringFetch(t *testing.T) {
	f := newFakeFetcher()
	f.ids["BTCUSDT"] = 100
	f.release = make(chan struct{})
	r := New(f, reconcile.Options{}, nil, nil, Hooks{})
	defer r.Close()

	r.Subscribe("BTCUSDT", model.DialectSpot)
	done := make(chan error, 1)
	go func() {
		_, err := r.Sync(context.Background(), "BTCUSDT")
		done <- err
	}()

	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	r.Unsubscribe("BTCUSDT")
	close(f.release)

	select {
	case err := <-done:
		assert.ErrorIs(t, err, reconcile.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("Sync 未返回")
	}
	_, ok := r.Phase("BTCUSDT")
	assert.False(t, ok)
}

func TestRegistry_SnapshotFailure(t *testing.T) {
	f := newFakeFetcher()
	f.err = errors.New("503")

	var failed atomic.Int32
	stats := syncstats.NewTracker(100)
	r := New(f, reconcile.Options{}, stats, nil, Hooks{
		OnSnapshotError: func(symbol string, err error) { failed.Add(1) },
	})
	defer r.Close()

	r.Subscribe("BTCUSDT", model.DialectSpot)
	_, _ = r.Ingest(update("BTCUSDT", 101, 105))

	_, err := r.Sync(context.Background(), "BTCUSDT")
	assert.ErrorIs(t, err, reconcile.ErrSnapshotFetch)
	assert.Equal(t, int32(1), failed.Load())
	assert.Equal(t, int64(1), stats.Stats("BTCUSDT").SnapshotFailures)

	phase, ok := r.Phase("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, reconcile.PhaseBuffering, phase)

	// 恢复后重试，缓冲仍然可用
	f.mu.Lock()
	f.err = nil
	f.ids["BTCUSDT"] = 100
	f.mu.Unlock()

	report, err := r.Sync(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, int64(105), report.Nonce)
}

func TestRegistry_Invalidate(t *testing.T) {
	f := newFakeFetcher()
	f.ids["BTCUSDT"] = 100
	var gaps atomic.Int32
	r := New(f, reconcile.Options{}, nil, nil, Hooks{
		OnGap: func(string, error) { gaps.Add(1) },
	})
	defer r.Close()

	r.Subscribe("BTCUSDT", model.DialectSpot)
	_, err := r.Sync(context.Background(), "BTCUSDT")
	require.NoError(t, err)

	err = r.Invalidate("BTCUSDT", reconcile.ErrMalformedMessage)
	assert.ErrorIs(t, err, reconcile.ErrSequenceGap)
	assert.Equal(t, int32(1), gaps.Load())

	assert.ErrorIs(t, r.Invalidate("BTCUSDT", reconcile.ErrMalformedMessage), ErrNotSubscribed)
}

func TestRegistry_ResubscribeReplacesBook(t *testing.T) {
	f := newFakeFetcher()
	f.ids["BTCUSDT"] = 100
	r := New(f, reconcile.Options{}, nil, nil, Hooks{})
	defer r.Close()

	old := r.Subscribe("BTCUSDT", model.DialectSpot)
	r.Subscribe("BTCUSDT", model.DialectSpot)
	assert.ErrorIs(t, old.Err(), reconcile.ErrClosed)

	phase, ok := r.Phase("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, reconcile.PhaseBuffering, phase)
}

func TestRegistry_UnknownSymbol(t *testing.T) {
	r := New(newFakeFetcher(), reconcile.Options{}, nil, nil, Hooks{})
	defer r.Close()

	_, err := r.Ingest(update("XYZ", 1, 2))
	assert.ErrorIs(t, err, ErrNotSubscribed)
	assert.ErrorIs(t, r.StartSync(context.Background(), "XYZ"), ErrNotSubscribed)
}

// gatedFetcher 第一次请求阻塞直到 first 关闭并返回旧快照，之后的请求立即返回新快照
type gatedFetcher struct {
	calls atomic.Int32
	first chan struct{}
}

func (f *gatedFetcher) FetchSnapshot(ctx context.Context, symbol string) (*model.Snapshot, error) {
	id := int64(300)
	if f.calls.Add(1) == 1 {
		select {
		case <-f.first:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		id = 100
	}
	return &model.Snapshot{Symbol: symbol, LastUpdateID: id}, nil
}

// TestRegistry_ReplacedBookFetchesOwnSnapshot 替换后的订单簿不复用旧实例的在途快照请求
func TestRegistry_ReplacedBookFetchesOwnSnapshot(t *testing.T) {
	f := &gatedFetcher{first: make(chan struct{})}
	r := New(f, reconcile.Options{}, nil, nil, Hooks{})
	defer r.Close()

	r.Subscribe("BTCUSDT", model.DialectSpot)
	require.NoError(t, r.StartSync(context.Background(), "BTCUSDT"))
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	r.Unsubscribe("BTCUSDT")
	r.Subscribe("BTCUSDT", model.DialectSpot)
	_, err := r.Ingest(update("BTCUSDT", 301, 305))
	require.NoError(t, err)
	require.NoError(t, r.StartSync(context.Background(), "BTCUSDT"))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	view, err := r.Wait(ctx, "BTCUSDT", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(305), view.Nonce)
	assert.Equal(t, int32(2), f.calls.Load())

	// 旧请求完成后对新订单簿无影响
	close(f.first)
	time.Sleep(20 * time.Millisecond)
	view, err = r.GetBook("BTCUSDT", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(305), view.Nonce)
}
