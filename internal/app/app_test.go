package app

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	grpcapi "github.com/arkilian/dissolve/internal/api/grpc"
	"github.com/arkilian/dissolve/internal/config"
	"github.com/arkilian/dissolve/internal/logging"
)

const body = `{
  "table": {
    "geometry": "geometry",
    "columns": [
      {"name": "borough", "values": ["a", "a"]},
      {"name": "geometry", "values": [
        "POLYGON ((0 0, 1 0, 1 1, 0 1, 0 0))",
        "POLYGON ((1 0, 2 0, 2 1, 1 1, 1 0))"
      ]}
    ]
  },
  "by": "borough"
}`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")
	cfg.Storage.Path = ""
	cfg.HTTP.Addr = "127.0.0.1:0"
	cfg.GRPC.Addr = "127.0.0.1:0"
	cfg.HTTP.WriteTimeout = 5 * time.Second
	return cfg
}

func start(t *testing.T, cfg *config.Config) (*App, context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	a, err := New(ctx, cfg, WithLogger(logging.NewNop()))
	require.NoError(t, err)
	require.NoError(t, a.Listen())

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	t.Cleanup(cancel)
	return a, cancel, done
}

func postDissolve(t *testing.T, addr string) map[string]any {
	t.Helper()
	resp, err := http.Post("http://"+addr+"/v1/dissolve", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAppServesHTTPAndShutsDown(t *testing.T) {
	a, cancel, done := start(t, testConfig(t))

	out := postDissolve(t, a.HTTPAddr())
	assert.Equal(t, 1.0, out["groups"])
	assert.NotEmpty(t, out["request_id"])

	resp, err := http.Get("http://" + a.HTTPAddr() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("app did not stop")
	}
	assert.Empty(t, a.GRPCAddr())
}

func TestAppServesGRPC(t *testing.T) {
	cfg := testConfig(t)
	cfg.GRPC.Enabled = true
	a, _, _ := start(t, cfg)

	conn, err := grpc.NewClient(a.GRPCAddr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	in := new(structpb.Struct)
	require.NoError(t, protojson.Unmarshal([]byte(body), in))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	out, err := grpcapi.NewClient(conn).Dissolve(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, 1.0, out.GetFields()["groups"].GetNumberValue())
}

func TestAppRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t)
	cfg.Cache.Enabled = true
	cfg.Cache.RedisAddr = mr.Addr()
	a, _, _ := start(t, cfg)

	first := postDissolve(t, a.HTTPAddr())
	assert.Nil(t, first["cached"])
	second := postDissolve(t, a.HTTPAddr())
	assert.Equal(t, true, second["cached"])
	assert.Len(t, mr.Keys(), 1)
	assert.True(t, strings.HasPrefix(mr.Keys()[0], cfg.Cache.Prefix))
}

func TestAppRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Type = "ftp"
	_, err := New(context.Background(), cfg, WithLogger(logging.NewNop()))
	assert.Error(t, err)

	cfg = testConfig(t)
	cfg.Log.Level = "loud"
	_, err = New(context.Background(), cfg)
	assert.Error(t, err)
}

func TestAppRunTwice(t *testing.T) {
	a, _, _ := start(t, testConfig(t))
	// Give the first Run a moment to mark the app as running.
	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return a.running
	}, time.Second, 5*time.Millisecond)
	assert.Error(t, a.Run(context.Background()))
}
