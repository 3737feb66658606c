package engine

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m00npl/guardant/pkg/config"
	"github.com/m00npl/guardant/pkg/events"
	"github.com/m00npl/guardant/pkg/log"
	"github.com/m00npl/guardant/pkg/probe"
	"github.com/m00npl/guardant/pkg/storage"
	"github.com/m00npl/guardant/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true})
	os.Exit(m.Run())
}

// testMonitoringConfig keeps checks single-attempt and offline-safe
func testMonitoringConfig() config.MonitoringConfig {
	f := false
	tr := true
	return config.MonitoringConfig{
		MaxRetries:               1,
		RetryDelaySeconds:        1,
		CheckTimeoutMillis:       2000,
		ConcurrentChecks:         4,
		NetworkConnectivityCheck: &f,
		StoreMetrics:             &tr,
	}
}

func newTestEngine(t *testing.T) (*Engine, storage.Store) {
	t.Helper()
	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	eng := New(store, probe.NewRegistry(), broker, testMonitoringConfig())
	t.Cleanup(eng.Shutdown)
	return eng, store
}

func TestEngine_RegisterService(t *testing.T) {
	eng, store := newTestEngine(t)

	svc := &types.NestService{
		ID:       "svc_web",
		NestID:   "nest-1",
		Name:     "Main Site",
		Type:     types.ServiceTypeWeb,
		Target:   "https://example.com",
		Interval: 3600,
	}
	require.NoError(t, eng.RegisterService(svc))

	// The service row is durable and loadable
	loaded, err := eng.GetService("nest-1", "svc_web")
	require.NoError(t, err)
	assert.Equal(t, "Main Site", loaded.Name)
	assert.NotZero(t, loaded.CreatedAt)

	// Another tenant cannot see it
	_, err = eng.GetService("nest-2", "svc_web")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// Row lives under the configuration data type
	keys, err := store.ListKeys("nest-1", storage.DataTypeConfiguration, "service:")
	require.NoError(t, err)
	assert.Equal(t, []string{"service:svc_web"}, keys)
}

func TestEngine_RegisterServiceValidation(t *testing.T) {
	eng, _ := newTestEngine(t)

	err := eng.RegisterService(&types.NestService{
		ID:       "svc_bad",
		NestID:   "nest-1",
		Type:     "telepathy",
		Target:   "somewhere",
		Interval: 60,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown service type")

	err = eng.RegisterService(&types.NestService{
		ID:     "svc_bad2",
		NestID: "nest-1",
		Type:   types.ServiceTypeWeb,
		Target: "https://example.com",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "interval")
}

func TestEngine_RemoveService(t *testing.T) {
	eng, _ := newTestEngine(t)

	svc := &types.NestService{
		ID:       "svc_rm",
		NestID:   "nest-1",
		Type:     types.ServiceTypeWeb,
		Target:   "https://example.com",
		Interval: 3600,
	}
	require.NoError(t, eng.RegisterService(svc))
	require.NoError(t, eng.RemoveService("nest-1", "svc_rm"))

	_, err := eng.GetService("nest-1", "svc_rm")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestEngine_RecordHeartbeat(t *testing.T) {
	eng, _ := newTestEngine(t)

	svc := &types.NestService{
		ID:        "svc_hb",
		NestID:    "nest-1",
		Type:      types.ServiceTypeHeartbeat,
		Interval:  3600,
		Heartbeat: &types.HeartbeatConfig{ExpectedInterval: 60},
	}
	require.NoError(t, eng.RegisterService(svc))
	require.NoError(t, eng.RecordHeartbeat("nest-1", "svc_hb"))

	loaded, err := eng.GetService("nest-1", "svc_hb")
	require.NoError(t, err)
	assert.NotZero(t, loaded.Heartbeat.LastHeartbeat)

	// A heartbeat against a non-heartbeat service is rejected
	web := &types.NestService{
		ID:       "svc_web",
		NestID:   "nest-1",
		Type:     types.ServiceTypeWeb,
		Target:   "https://example.com",
		Interval: 3600,
	}
	require.NoError(t, eng.RegisterService(web))
	assert.Error(t, eng.RecordHeartbeat("nest-1", "svc_web"))
}

func TestEngine_CheckServiceUp(t *testing.T) {
	eng, _ := newTestEngine(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	svc := &types.NestService{
		ID:       "svc_chk",
		NestID:   "nest-1",
		Type:     types.ServiceTypeWeb,
		Target:   server.URL,
		Interval: 3600,
	}
	result := eng.CheckService(context.Background(), svc)

	require.NotNil(t, result)
	assert.Equal(t, types.StatusUp, result.Status)
	assert.Equal(t, 1, result.Attempt)
	assert.Equal(t, "svc_chk", result.ServiceID)
	assert.NotZero(t, result.Timestamp)
}

func TestEngine_CheckServiceDownStaysDown(t *testing.T) {
	// Connectivity sanity check is disabled in the test config, so a refused
	// connection reports down, not unknown
	eng, _ := newTestEngine(t)

	svc := &types.NestService{
		ID:       "svc_down",
		NestID:   "nest-1",
		Type:     types.ServiceTypeWeb,
		Target:   "http://127.0.0.1:1",
		Interval: 3600,
	}
	result := eng.CheckService(context.Background(), svc)

	require.NotNil(t, result)
	assert.Equal(t, types.StatusDown, result.Status)
}
