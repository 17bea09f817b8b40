package supervisor

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// healthServer serves a 200 /health on a real port, standing in for a
// handler process that came up correctly. The supervised child itself
// is a plain sleep; only the probe target matters to these tests.
func healthServer(t *testing.T) (port int, shutdown func()) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Handler: mux}
	go srv.Serve(listener)

	port = listener.Addr().(*net.TCPAddr).Port
	return port, func() { _ = srv.Close() }
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.StartupGraceSeconds = 0
	cfg.HealthRetries = 2
	cfg.HealthBackoffSeconds = 0
	cfg.ProbeTimeoutSeconds = 1
	cfg.StopTimeoutSeconds = 2
	return cfg
}

func sleepDescriptor(name string, port int) Descriptor {
	return Descriptor{
		Name:      name,
		Transport: "http",
		Command:   "sleep",
		Args:      []string{"60"},
		Port:      port,
	}
}

func TestSupervisor_StartHealthyHandler(t *testing.T) {
	port, shutdown := healthServer(t)
	defer shutdown()

	registry := NewRegistry()
	require.NoError(t, registry.Register(sleepDescriptor("youtube_search", port)))

	sup := New(registry, fastConfig(), nil, nil)
	defer sup.StopAll(context.Background())

	class, err := sup.Start(context.Background(), "youtube_search")
	require.NoError(t, err)
	assert.Equal(t, ClassHealthy, class)

	records := sup.Records()
	require.Len(t, records, 1)
	assert.Equal(t, StatusHealthy, records[0].Status)
	assert.NotZero(t, records[0].PID)
}

func TestSupervisor_StartIsIdempotentWhenHealthy(t *testing.T) {
	port, shutdown := healthServer(t)
	defer shutdown()

	registry := NewRegistry()
	require.NoError(t, registry.Register(sleepDescriptor("youtube_search", port)))

	sup := New(registry, fastConfig(), nil, nil)
	defer sup.StopAll(context.Background())

	_, err := sup.Start(context.Background(), "youtube_search")
	require.NoError(t, err)
	firstPID := sup.Records()[0].PID

	class, err := sup.Start(context.Background(), "youtube_search")
	require.NoError(t, err)
	assert.Equal(t, ClassHealthy, class)
	assert.Equal(t, firstPID, sup.Records()[0].PID, "healthy handler must not be relaunched")
	assert.Equal(t, 0, sup.Records()[0].Restarts)
}

func TestSupervisor_DeadHandlerReportedWithinRetryWindow(t *testing.T) {
	registry := NewRegistry()
	// Exits immediately; nothing ever serves the port.
	require.NoError(t, registry.Register(Descriptor{
		Name:      "web_search",
		Transport: "http",
		Command:   "false",
		Port:      freePort(t),
	}))

	cfg := fastConfig()
	cfg.HealthRetries = 3
	cfg.HealthBackoffSeconds = 1
	sup := New(registry, cfg, nil, nil)

	start := time.Now()
	class, err := sup.Start(context.Background(), "web_search")
	require.NoError(t, err, "handler failure is reported, never raised")
	assert.Equal(t, ClassDead, class)

	// Bounded: grace + retries x backoff plus probe slack, not a hang.
	assert.Less(t, time.Since(start), 10*time.Second)
	assert.Equal(t, StatusStopped, sup.Records()[0].Status)
}

func TestSupervisor_AliveButUnhealthy(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(sleepDescriptor("kocw_search", freePort(t))))

	sup := New(registry, fastConfig(), nil, nil)
	defer sup.StopAll(context.Background())

	class, err := sup.Start(context.Background(), "kocw_search")
	require.NoError(t, err)
	assert.Equal(t, ClassUnhealthy, class)
	assert.Equal(t, StatusUnhealthy, sup.Records()[0].Status)
}

func TestSupervisor_StopMarksRecordStopped(t *testing.T) {
	port, shutdown := healthServer(t)
	defer shutdown()

	registry := NewRegistry()
	require.NoError(t, registry.Register(sleepDescriptor("youtube_search", port)))

	sup := New(registry, fastConfig(), nil, nil)

	_, err := sup.Start(context.Background(), "youtube_search")
	require.NoError(t, err)

	require.NoError(t, sup.Stop(context.Background(), "youtube_search"))
	assert.Equal(t, StatusStopped, sup.Records()[0].Status)

	// Stopping again is a no-op.
	require.NoError(t, sup.Stop(context.Background(), "youtube_search"))
}

func TestSupervisor_UnknownHandler(t *testing.T) {
	sup := New(NewRegistry(), fastConfig(), nil, nil)

	_, err := sup.Start(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrHandlerNotFound)

	_, err = sup.Health(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrHandlerNotFound)
}

func TestSupervisor_HealthDetectsDeadProcess(t *testing.T) {
	registry := NewRegistry()
	require.NoError(t, registry.Register(Descriptor{
		Name:      "web_search",
		Transport: "http",
		Command:   "sleep",
		Args:      []string{"0.1"},
		Port:      freePort(t),
	}))

	sup := New(registry, fastConfig(), nil, nil)

	_, err := sup.Start(context.Background(), "web_search")
	require.NoError(t, err)

	time.Sleep(500 * time.Millisecond)

	class, err := sup.Health(context.Background(), "web_search")
	require.NoError(t, err)
	assert.Equal(t, ClassDead, class)
	assert.Equal(t, StatusStopped, sup.Records()[0].Status)
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	_, portStr, err := net.SplitHostPort(l.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return port
}

// TestPortListenerProcess is re-executed as a separate process by
// TestSupervisor_StartReclaimsOccupiedPort to occupy a port the way a
// leftover handler from a previous run would.
func TestPortListenerProcess(t *testing.T) {
	port := os.Getenv("AGENTD_TEST_LISTEN_PORT")
	if port == "" {
		t.Skip("subprocess entry point")
	}
	l, err := net.Listen("tcp", "127.0.0.1:"+port)
	if err != nil {
		os.Exit(1)
	}
	defer l.Close()
	time.Sleep(time.Minute)
}

func TestSupervisor_StartReclaimsOccupiedPort(t *testing.T) {
	if _, err := exec.LookPath("lsof"); err != nil {
		t.Skip("lsof not available")
	}

	port := freePort(t)

	foreign := exec.Command(os.Args[0], "-test.run=TestPortListenerProcess")
	foreign.Env = append(os.Environ(), "AGENTD_TEST_LISTEN_PORT="+strconv.Itoa(port))
	require.NoError(t, foreign.Start())
	t.Cleanup(func() { _ = foreign.Process.Kill() })

	require.Eventually(t, func() bool {
		conn, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
		if err != nil {
			return false
		}
		conn.Close()
		return true
	}, 5*time.Second, 50*time.Millisecond, "foreign process never took the port")

	registry := NewRegistry()
	require.NoError(t, registry.Register(sleepDescriptor("web_search", port)))

	sup := New(registry, fastConfig(), nil, nil)
	defer sup.StopAll(context.Background())

	_, err := sup.Start(context.Background(), "web_search")
	require.NoError(t, err)

	// The occupying process was terminated before the launch.
	exited := make(chan struct{})
	go func() {
		_ = foreign.Wait()
		close(exited)
	}()
	select {
	case <-exited:
	case <-time.After(5 * time.Second):
		t.Fatal("foreign port owner survived start")
	}
	assert.True(t, PortFree(port))
}
