package geo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syn2much/mantis/internal/apperrors"
	"github.com/syn2much/mantis/internal/model"
)

type fakeCache struct {
	mu    sync.Mutex
	store map[string]*model.GeoInfo
}

func newFakeCache() *fakeCache { return &fakeCache{store: make(map[string]*model.GeoInfo)} }

func (f *fakeCache) GetGeo(_ context.Context, ip string) (*model.GeoInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if g, ok := f.store[ip]; ok {
		return g, nil
	}
	return nil, apperrors.ErrNotFound
}

func (f *fakeCache) SaveGeo(_ context.Context, g *model.GeoInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[g.IP] = g
	return nil
}

func TestResolvePrivateNetworkShortCircuits(t *testing.T) {
	l := New(newFakeCache(), "http://unused")
	info, err := l.Resolve(context.Background(), "192.168.1.5")
	require.NoError(t, err)
	assert.Equal(t, "Private / Local Network", info.Country)
}

func TestResolveCachesResult(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_ = json.NewEncoder(w).Encode(map[string]any{"country": "Testland"})
	}))
	defer srv.Close()

	cache := newFakeCache()
	l := New(cache, srv.URL+"/%s")
	defer l.Close()

	info, err := l.Resolve(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, "Testland", info.Country)

	info2, err := l.Resolve(context.Background(), "8.8.8.8")
	require.NoError(t, err)
	assert.Equal(t, "Testland", info2.Country)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestResolveDeduplicatesConcurrentLookups(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		<-release
		_ = json.NewEncoder(w).Encode(map[string]any{"country": "Slowland"})
	}))
	defer srv.Close()

	l := New(newFakeCache(), srv.URL+"/%s")
	defer l.Close()

	var wg sync.WaitGroup
	results := make([]*model.GeoInfo, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			info, err := l.Resolve(context.Background(), "9.9.9.9")
			require.NoError(t, err)
			results[i] = info
		}(i)
	}

	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	for _, r := range results {
		assert.Equal(t, "Slowland", r.Country)
	}
}
