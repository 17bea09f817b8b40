package supervisor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// childProcess wraps one launched handler process. Stdout and stderr are
// captured and forwarded line-wise to the log sink; a monitor goroutine
// records the exit so liveness can be checked without blocking.
type childProcess struct {
	name   string
	cmd    *exec.Cmd
	done   chan struct{}
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	exitCode int
}

// launch starts the descriptor's command detached from the parent's
// process group, with the merged environment, forwarding output to the
// logger.
func launch(d Descriptor, env []string, logger *slog.Logger) (*childProcess, error) {
	cmd := exec.Command(d.Command, d.Args...)
	cmd.Env = env
	if d.WorkDir != "" {
		cmd.Dir = d.WorkDir
	}
	// New session so the handler survives parent signal delivery and is
	// addressable as its own process group on stop.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		stdout.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		stdout.Close()
		stderr.Close()
		return nil, fmt.Errorf("start %s: %w", d.Command, err)
	}

	p := &childProcess{
		name:     d.Name,
		cmd:      cmd,
		done:     make(chan struct{}),
		logger:   logger.With("handler", d.Name, "pid", cmd.Process.Pid),
		running:  true,
		exitCode: -1,
	}

	go p.forward(stdout, slog.LevelInfo, "stdout")
	go p.forward(stderr, slog.LevelWarn, "stderr")
	go p.monitor()

	return p, nil
}

// forward copies one output stream into the log sink line by line.
func (p *childProcess) forward(r io.Reader, level slog.Level, stream string) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		p.logger.Log(context.Background(), level, "handler output", "stream", stream, "line", line)
	}
}

func (p *childProcess) monitor() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.running = false
	if p.cmd.ProcessState != nil {
		p.exitCode = p.cmd.ProcessState.ExitCode()
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("handler process exited", "error", err, "exit_code", p.exitCode)
	} else {
		p.logger.Info("handler process exited", "exit_code", p.exitCode)
	}

	close(p.done)
}

// alive reports whether the process is still running.
func (p *childProcess) alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// pid returns the child's process id.
func (p *childProcess) pid() int {
	if p.cmd.Process == nil {
		return 0
	}
	return p.cmd.Process.Pid
}

// stop terminates the process: SIGTERM first, SIGKILL after the timeout.
func (p *childProcess) stop(timeout time.Duration) error {
	p.mu.Lock()
	running := p.running
	p.mu.Unlock()

	if !running {
		return nil
	}

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil && err != os.ErrProcessDone {
		p.logger.Warn("failed to send SIGTERM", "error", err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(timeout):
	}

	p.logger.Warn("handler did not exit gracefully, killing")
	if err := p.cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
		return fmt.Errorf("kill handler %s: %w", p.name, err)
	}

	select {
	case <-p.done:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("handler %s did not exit after kill", p.name)
	}
}
