package app

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/princekumarofficial/transcode-service/internal/config"
	"github.com/princekumarofficial/transcode-service/internal/encoder"
	"github.com/princekumarofficial/transcode-service/internal/logger"
	"github.com/princekumarofficial/transcode-service/internal/services/transcode"
	"github.com/princekumarofficial/transcode-service/internal/storage"
	"github.com/princekumarofficial/transcode-service/internal/types/media"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(supabaseURL string) *config.Config {
	return &config.Config{
		Supabase: config.Supabase{URL: supabaseURL, AnonKey: "anon"},
		Tables:   config.DefaultTables(),
		Transcode: config.Transcode{
			ScratchDir:       "/tmp/transcode-test",
			WorkerBatchSize:  10,
			FetchTimeout:     time.Minute,
			TranscodeTimeout: time.Minute,
			UploadTimeout:    time.Minute,
			DBTimeout:        time.Second,
			StaleAfter:       time.Hour,
		},
	}
}

func trackingStore(called *bool) StoreFactory {
	return func(context.Context, *config.Config) (storage.Storage, func() error, error) {
		*called = true
		return nil, nil, errors.New("store must not be opened")
	}
}

// emptyStore has no rows and cannot report columns.
type emptyStore struct{}

func (emptyStore) Columns(context.Context, media.Table) ([]string, error) { return nil, nil }
func (emptyStore) ListCandidates(context.Context, media.Table, []media.Status, int) ([]media.Record, error) {
	return nil, nil
}
func (emptyStore) GetRecord(context.Context, media.Table, string) (*media.Record, error) {
	return nil, storage.ErrNotFound
}
func (emptyStore) Claim(context.Context, media.Table, string, []media.Status) (bool, error) {
	return false, nil
}
func (emptyStore) SetStatus(context.Context, media.Table, string, media.Status) error { return nil }
func (emptyStore) SetRendition(context.Context, media.Table, string, string, string) error {
	return storage.ErrConflict
}
func (emptyStore) ResetStale(context.Context, media.Table, time.Duration) (int64, error) {
	return 0, nil
}

func memoryStore(context.Context, *config.Config) (storage.Storage, func() error, error) {
	return emptyStore{}, nil, nil
}

func TestBuild_EncoderNotFoundConstructsNothing(t *testing.T) {
	var storeOpened bool
	locator := &encoder.Locator{
		GOOS: "linux",
		Run: func(context.Context, string, ...string) ([]byte, error) {
			return nil, errors.New("exit status 1")
		},
	}

	a, err := Build(context.Background(), testConfig("http://127.0.0.1:1"), logger.Discard(), Options{
		Locator: locator,
		Store:   trackingStore(&storeOpened),
	})
	require.Error(t, err)
	assert.Nil(t, a)
	assert.ErrorIs(t, err, encoder.ErrEncoderNotFound)
	assert.Contains(t, err.Error(), "FFMPEG_BIN")
	assert.False(t, storeOpened)
	assert.Equal(t, 1, ExitCode(err))
}

func TestBuild_EncoderVerifyFailure(t *testing.T) {
	var storeOpened bool
	locator := &encoder.Locator{
		Override: "/opt/broken/ffmpeg",
		GOOS:     "linux",
		Run: func(context.Context, string, ...string) ([]byte, error) {
			return nil, errors.New("permission denied")
		},
	}

	_, err := Build(context.Background(), testConfig("http://127.0.0.1:1"), logger.Discard(), Options{
		Locator: locator,
		Store:   trackingStore(&storeOpened),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/opt/broken/ffmpeg")
	assert.False(t, storeOpened)
}

func TestBuild_WiresRestStoreAndRedis(t *testing.T) {
	var (
		mu    sync.Mutex
		paths []string
	)
	supabase := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer supabase.Close()

	mr := miniredis.RunT(t)
	cfg := testConfig(supabase.URL)
	cfg.Redis.Addr = mr.Addr()

	locator := &encoder.Locator{
		Override: "/usr/bin/ffmpeg",
		GOOS:     "linux",
		Run: func(context.Context, string, ...string) ([]byte, error) {
			return []byte("ffmpeg version 6.1.1\n"), nil
		},
	}

	a, err := Build(context.Background(), cfg, logger.Discard(), Options{Locator: locator, HTTPClient: supabase.Client()})
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, cfg.Tables, a.Service.Tables())
	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, paths, "/rest/v1/booms")
	assert.Contains(t, paths, "/rest/v1/videos")
	assert.NotNil(t, a.redis)
	assert.Nil(t, a.hub)

	// No status address: returns at once.
	assert.NoError(t, a.RunStatus(context.Background()))
	assert.NoError(t, a.Close())
}

func readyLocator(deadlines *[]bool) *encoder.Locator {
	return &encoder.Locator{
		Override: "/usr/bin/ffmpeg",
		GOOS:     "linux",
		Run: func(ctx context.Context, _ string, _ ...string) ([]byte, error) {
			_, ok := ctx.Deadline()
			*deadlines = append(*deadlines, ok)
			return []byte("ffmpeg version 6.1.1\n"), nil
		},
	}
}

func TestBuild_EncoderCheckIsBounded(t *testing.T) {
	var deadlines []bool
	a, err := Build(context.Background(), testConfig("http://127.0.0.1:1"), logger.Discard(), Options{
		Locator: readyLocator(&deadlines),
		Store:   memoryStore,
	})
	require.NoError(t, err)
	defer a.Close()

	require.NotEmpty(t, deadlines)
	for _, ok := range deadlines {
		assert.True(t, ok, "encoder check ran without a deadline")
	}
}

func TestBuild_HubOnlyWhenStatusIsServed(t *testing.T) {
	var deadlines []bool
	cfg := testConfig("http://127.0.0.1:1")
	cfg.StatusAddr = "127.0.0.1:0"

	oneShot, err := Build(context.Background(), cfg, logger.Discard(), Options{
		Locator: readyLocator(&deadlines),
		Store:   memoryStore,
	})
	require.NoError(t, err)
	defer oneShot.Close()
	assert.Nil(t, oneShot.hub)
	assert.NoError(t, oneShot.RunStatus(context.Background()))

	serving, err := Build(context.Background(), cfg, logger.Discard(), Options{
		Locator:     readyLocator(&deadlines),
		Store:       memoryStore,
		ServeStatus: true,
	})
	require.NoError(t, err)
	defer serving.Close()
	assert.NotNil(t, serving.hub)
}

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

func TestRunWorker_WaitsForStatusShutdown(t *testing.T) {
	var deadlines []bool
	cfg := testConfig("http://127.0.0.1:1")
	cfg.StatusAddr = freeAddr(t)

	a, err := Build(context.Background(), cfg, logger.Discard(), Options{
		Locator:     readyLocator(&deadlines),
		Store:       memoryStore,
		ServeStatus: true,
	})
	require.NoError(t, err)
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.RunWorker(ctx, time.Hour, false) }()

	healthz := "http://" + cfg.StatusAddr + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(healthz)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(7 * time.Second):
		t.Fatal("worker did not stop")
	}

	_, err = http.Get(healthz)
	assert.Error(t, err, "status server still listening after RunWorker returned")
}

func TestRunWorker_OnceReturnsAfterOneScan(t *testing.T) {
	var deadlines []bool
	a, err := Build(context.Background(), testConfig("http://127.0.0.1:1"), logger.Discard(), Options{
		Locator: readyLocator(&deadlines),
		Store:   memoryStore,
	})
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.RunWorker(context.Background(), time.Hour, true))
	assert.Equal(t, transcode.ModeWorker, a.Service.LastStats().Mode)
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 1, ExitCode(errors.New("boom")))
}
