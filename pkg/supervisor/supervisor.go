package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/majorfree/agentd/pkg/correlation"
	"github.com/majorfree/agentd/pkg/telemetry"
)

// Status is a process record's lifecycle state.
type Status string

const (
	StatusStarting  Status = "starting"
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusStopped   Status = "stopped"
)

// Classification is the outcome of a start or health check. Handler
// unavailability is an expected, reportable condition, so these are
// returned as values, never raised as errors.
type Classification string

const (
	// ClassHealthy: the process is alive and the probe succeeded.
	ClassHealthy Classification = "healthy"
	// ClassUnhealthy: the process is alive but the probe kept failing.
	ClassUnhealthy Classification = "unhealthy"
	// ClassDead: the process exited or never came up.
	ClassDead Classification = "dead"
)

// Record is the supervisor's view of one handler process. Callers read
// it through the supervisor API, never the process handle itself.
type Record struct {
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	PID       int       `json:"pid,omitempty"`
	LastCheck time.Time `json:"last_check"`
	Restarts  int       `json:"restarts"`
}

// Config holds supervisor tuning.
type Config struct {
	// HandlersFile is the YAML registry of handler descriptors loaded at
	// startup and on file change.
	HandlersFile string `yaml:"handlers_file" json:"handlers_file"`

	// StartupGraceSeconds is the wait after launch before probing.
	StartupGraceSeconds int `yaml:"startup_grace_seconds" json:"startup_grace_seconds"`

	// HealthRetries and HealthBackoffSeconds bound the startup probe:
	// retries × backoff caps how long a start can take.
	HealthRetries        int `yaml:"health_retries" json:"health_retries"`
	HealthBackoffSeconds int `yaml:"health_backoff_seconds" json:"health_backoff_seconds"`

	// ProbeTimeoutSeconds bounds a single health probe request.
	ProbeTimeoutSeconds int `yaml:"probe_timeout_seconds" json:"probe_timeout_seconds"`

	// StopTimeoutSeconds is the graceful-termination window before kill.
	StopTimeoutSeconds int `yaml:"stop_timeout_seconds" json:"stop_timeout_seconds"`
}

// DefaultConfig returns supervisor defaults: 2s grace, 5 probes at 2s
// backoff, 3s per probe, 5s stop window.
func DefaultConfig() Config {
	return Config{
		StartupGraceSeconds:  2,
		HealthRetries:        5,
		HealthBackoffSeconds: 2,
		ProbeTimeoutSeconds:  3,
		StopTimeoutSeconds:   5,
	}
}

func (c Config) startupGrace() time.Duration {
	return time.Duration(c.StartupGraceSeconds) * time.Second
}

func (c Config) healthBackoff() time.Duration {
	return time.Duration(c.HealthBackoffSeconds) * time.Second
}

func (c Config) probeTimeout() time.Duration {
	if c.ProbeTimeoutSeconds <= 0 {
		return 3 * time.Second
	}
	return time.Duration(c.ProbeTimeoutSeconds) * time.Second
}

func (c Config) stopTimeout() time.Duration {
	if c.StopTimeoutSeconds <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}

// Supervisor owns the registry and the process table. The registry and
// table support concurrent reads; mutations are serialized per handler
// name, so one in-flight start/stop per name at a time.
type Supervisor struct {
	registry *Registry
	config   Config
	logger   *slog.Logger
	metrics  *telemetry.Metrics
	probe    *http.Client

	mu        sync.RWMutex
	records   map[string]*Record
	processes map[string]*childProcess

	nameMu sync.Mutex
	names  map[string]*sync.Mutex
}

// New creates a supervisor over the given registry. metrics may be nil.
func New(registry *Registry, cfg Config, logger *slog.Logger, metrics *telemetry.Metrics) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		registry:  registry,
		config:    cfg,
		logger:    logger.With("component", "supervisor"),
		metrics:   metrics,
		probe:     &http.Client{Timeout: cfg.probeTimeout()},
		records:   make(map[string]*Record),
		processes: make(map[string]*childProcess),
		names:     make(map[string]*sync.Mutex),
	}
}

// Registry exposes the descriptor registry.
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// lockName serializes start/stop/health per handler name.
func (s *Supervisor) lockName(name string) func() {
	s.nameMu.Lock()
	l, ok := s.names[name]
	if !ok {
		l = &sync.Mutex{}
		s.names[name] = l
	}
	s.nameMu.Unlock()

	l.Lock()
	return l.Unlock
}

// Start launches the named handler and reports the outcome. An error is
// returned only for an unregistered name; handler failure is reported
// through the Classification.
//
// An already-healthy handler is left alone: no duplicate process, port
// unchanged.
func (s *Supervisor) Start(ctx context.Context, name string) (Classification, error) {
	d, err := s.registry.Describe(name)
	if err != nil {
		return ClassDead, err
	}

	unlock := s.lockName(name)
	defer unlock()

	logger := correlation.Logger(ctx, s.logger).With("handler", name, "port", d.Port)

	// Idempotent for a live process: re-probe instead of relaunching.
	if p := s.process(name); p != nil && p.alive() {
		class := s.probeWithRetries(ctx, d, 1)
		if class == ClassHealthy {
			s.setStatus(name, StatusHealthy, p.pid())
			return ClassHealthy, nil
		}
		logger.Warn("running handler failed re-probe, restarting")
		if err := p.stop(s.config.stopTimeout()); err != nil {
			logger.Warn("stop before restart failed", "error", err)
		}
		s.recordRestart(name)
	} else if s.record(name) != nil {
		// A previous run exists in the table; this launch is a restart.
		s.recordRestart(name)
	}

	s.setStatus(name, StatusStarting, 0)

	// Reclaim the port if a foreign process occupies it.
	if pid, ok := portOwner(d.Port); ok {
		logger.Warn("port occupied, terminating owner", "owner_pid", pid)
		if err := killPID(pid); err != nil {
			logger.Warn("failed to reclaim port", "owner_pid", pid, "error", err)
		}
	}

	p, err := launch(d, s.buildEnv(d), logger)
	if err != nil {
		logger.Error("handler launch failed", "error", err)
		s.setStatus(name, StatusStopped, 0)
		s.recordStartMetric(name, ClassDead)
		return ClassDead, nil
	}

	s.mu.Lock()
	s.processes[name] = p
	s.mu.Unlock()

	// Bounded startup: grace period, then fixed retries at fixed backoff.
	select {
	case <-time.After(s.config.startupGrace()):
	case <-ctx.Done():
		_ = p.stop(s.config.stopTimeout())
		s.setStatus(name, StatusStopped, 0)
		return ClassDead, nil
	}

	class := s.probeWithRetries(ctx, d, s.config.HealthRetries)
	if !p.alive() {
		class = ClassDead
	}

	switch class {
	case ClassHealthy:
		s.setStatus(name, StatusHealthy, p.pid())
		logger.Info("handler started", "pid", p.pid())
	case ClassUnhealthy:
		s.setStatus(name, StatusUnhealthy, p.pid())
		logger.Warn("handler alive but not responding", "pid", p.pid())
	case ClassDead:
		s.setStatus(name, StatusStopped, 0)
		logger.Warn("handler died during startup")
	}

	s.recordStartMetric(name, class)
	return class, nil
}

// Stop terminates the handler, releases the port and marks the record
// stopped. Stopping a handler that is not running is a no-op.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	if _, err := s.registry.Describe(name); err != nil {
		return err
	}

	unlock := s.lockName(name)
	defer unlock()

	p := s.process(name)
	if p == nil {
		s.setStatus(name, StatusStopped, 0)
		return nil
	}

	if err := p.stop(s.config.stopTimeout()); err != nil {
		return fmt.Errorf("stop handler %s: %w", name, err)
	}

	s.mu.Lock()
	delete(s.processes, name)
	s.mu.Unlock()

	s.setStatus(name, StatusStopped, 0)
	correlation.Logger(ctx, s.logger).Info("handler stopped", "handler", name)
	return nil
}

// Health re-checks the handler on demand with a single probe and the
// same classification as Start.
func (s *Supervisor) Health(ctx context.Context, name string) (Classification, error) {
	d, err := s.registry.Describe(name)
	if err != nil {
		return ClassDead, err
	}

	p := s.process(name)
	if p == nil || !p.alive() {
		s.setStatus(name, StatusStopped, 0)
		return ClassDead, nil
	}

	class := s.probeWithRetries(ctx, d, 1)
	switch class {
	case ClassHealthy:
		s.setStatus(name, StatusHealthy, p.pid())
	default:
		s.setStatus(name, StatusUnhealthy, p.pid())
	}
	return class, nil
}

// Records returns a snapshot of the process table.
func (s *Supervisor) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		out = append(out, *r)
	}
	return out
}

// MarkUnavailable flags a handler whose call just failed, so the table
// reflects the lazily-detected death without a background reaper.
func (s *Supervisor) MarkUnavailable(name string) {
	p := s.process(name)
	if p != nil && p.alive() {
		s.setStatus(name, StatusUnhealthy, p.pid())
		return
	}
	s.setStatus(name, StatusStopped, 0)
}

// StopAll terminates every running handler; used during shutdown.
func (s *Supervisor) StopAll(ctx context.Context) {
	for _, d := range s.registry.List() {
		if err := s.Stop(ctx, d.Name); err != nil {
			s.logger.Warn("shutdown stop failed", "handler", d.Name, "error", err)
		}
	}
}

func (s *Supervisor) probeWithRetries(ctx context.Context, d Descriptor, retries int) Classification {
	url := d.BaseURL() + d.HealthPath

	for attempt := 0; attempt < retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(s.config.healthBackoff()):
			case <-ctx.Done():
				return ClassUnhealthy
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return ClassUnhealthy
		}
		resp, err := s.probe.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			return ClassHealthy
		}
	}

	return ClassUnhealthy
}

// buildEnv merges the parent environment with the descriptor's declared
// variables, prepending the handler's working directory to PATH so
// handler-local executables resolve first.
func (s *Supervisor) buildEnv(d Descriptor) []string {
	env := os.Environ()
	for k, v := range d.Env {
		env = append(env, k+"="+v)
	}
	if d.WorkDir != "" {
		env = append(env, "PATH="+d.WorkDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	}
	return env
}

func (s *Supervisor) process(name string) *childProcess {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processes[name]
}

func (s *Supervisor) record(name string) *Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[name]
}

func (s *Supervisor) setStatus(name string, status Status, pid int) {
	s.mu.Lock()
	r, ok := s.records[name]
	if !ok {
		r = &Record{Name: name}
		s.records[name] = r
	}
	r.Status = status
	r.PID = pid
	r.LastCheck = time.Now()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.UpdateHandlerStatus(name, status == StatusHealthy)
	}
}

func (s *Supervisor) recordRestart(name string) {
	s.mu.Lock()
	if r, ok := s.records[name]; ok {
		r.Restarts++
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordHandlerRestart(name)
	}
}

func (s *Supervisor) recordStartMetric(name string, class Classification) {
	if s.metrics != nil {
		s.metrics.RecordHandlerStart(name, string(class))
	}
}

// portOwner reports the pid listening on the port, if any. It asks lsof
// because the owner is typically a foreign process from a previous run,
// not one of ours.
func portOwner(port int) (int, bool) {
	out, err := exec.Command("lsof", "-ti", ":"+strconv.Itoa(port)).Output()
	if err != nil {
		return 0, false
	}
	field := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	if field == "" {
		return 0, false
	}
	pid, err := strconv.Atoi(field)
	if err != nil {
		return 0, false
	}
	return pid, true
}

func killPID(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Kill()
}

// PortFree reports whether the port accepts a listener; used by tests
// and the registry API to pre-validate descriptors.
func PortFree(port int) bool {
	l, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	l.Close()
	return true
}
