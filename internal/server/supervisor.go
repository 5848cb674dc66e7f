package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrAlreadyRunning is returned by Start while a server process is alive.
var ErrAlreadyRunning = errors.New("server: already running")

type State int

const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Killing
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Killing:
		return "killing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type StopResult int

const (
	// StopNotRunning: nothing was alive, no command was sent.
	StopNotRunning StopResult = iota
	StopGraceful
	// StopTimedOut: the server ignored the stop command and was killed.
	StopTimedOut
)

const (
	DefaultStopCommand = "stop"
	DefaultKillGrace   = 500 * time.Millisecond

	killWarning = "say Killing server!"
)

type Config struct {
	Dir         string
	Command     []string
	StopCommand string
	// KillGrace is the pause between the kill warning and SIGKILL.
	KillGrace time.Duration
}

// Supervisor runs at most one server process and parses its console.
// Methods are safe for concurrent use.
type Supervisor struct {
	cfg Config
	log *zap.Logger
	now func() time.Time

	// OnLine receives every parsed console line, from the reader goroutine.
	// It must not block.
	OnLine func(Line)
	// OnExit is called once the process has exited and its output is drained.
	OnExit func(err error)

	// cmdFactory builds the command for each start. Tests replace it.
	cmdFactory func() *exec.Cmd

	mu        sync.Mutex
	state     State
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	done      chan struct{}
	startedAt time.Time

	wg sync.WaitGroup
}

func New(cfg Config, log *zap.Logger) *Supervisor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.StopCommand == "" {
		cfg.StopCommand = DefaultStopCommand
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = DefaultKillGrace
	}
	s := &Supervisor{cfg: cfg, log: log, now: time.Now}
	s.cmdFactory = func() *exec.Cmd {
		if len(cfg.Command) == 0 {
			return nil
		}
		cmd := exec.Command(cfg.Command[0], cfg.Command[1:]...) //nolint:gosec // configured server command
		cmd.Dir = cfg.Dir
		return cmd
	}
	return s
}

// NewWithFactory is New with a custom command factory.
func NewWithFactory(cfg Config, log *zap.Logger, factory func() *exec.Cmd) *Supervisor {
	s := New(cfg, log)
	s.cmdFactory = factory
	return s
}

func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Alive reports whether a server process is running (or being stopped).
func (s *Supervisor) Alive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cmd != nil
}

// StartedAt returns the start time of the live process, zero if none.
func (s *Supervisor) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cmd == nil {
		return time.Time{}
	}
	return s.startedAt
}

// Start spawns the server and begins reading its console.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cmd != nil {
		return ErrAlreadyRunning
	}
	cmd := s.cmdFactory()
	if cmd == nil {
		return errors.New("server: no command configured")
	}
	s.state = Starting
	setProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		s.state = Stopped
		return fmt.Errorf("start server: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		s.state = Stopped
		return fmt.Errorf("start server: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		s.state = Stopped
		return fmt.Errorf("start server: %w", err)
	}
	if err := cmd.Start(); err != nil {
		s.state = Stopped
		return fmt.Errorf("start server: %w", err)
	}

	done := make(chan struct{})
	s.cmd, s.stdin, s.done = cmd, stdin, done
	s.startedAt = s.now()
	s.state = Running
	s.log.Info("server started", zap.Int("pid", cmd.Process.Pid), zap.Strings("command", cmd.Args))

	var output sync.WaitGroup
	output.Add(2)
	s.wg.Add(3)
	go func() {
		defer s.wg.Done()
		defer output.Done()
		s.readConsole(stdout)
	}()
	go func() {
		defer s.wg.Done()
		defer output.Done()
		s.drainStderr(stderr)
	}()
	// Wait must not run before the pipes are drained.
	go func() {
		defer s.wg.Done()
		output.Wait()
		werr := cmd.Wait()

		s.mu.Lock()
		if s.cmd == cmd {
			s.cmd, s.stdin = nil, nil
			s.state = Stopped
		}
		s.mu.Unlock()
		close(done)

		s.log.Info("server exited", zap.Int("pid", cmd.Process.Pid), zap.Error(werr))
		if s.OnExit != nil {
			s.OnExit(werr)
		}
	}()
	return nil
}

// SendLine writes one console command. Anything after the first line break
// is dropped. Without a live process it does nothing.
func (s *Supervisor) SendLine(text string) {
	if i := strings.IndexAny(text, "\r\n"); i >= 0 {
		text = text[:i]
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stdin == nil {
		return
	}
	if _, err := io.WriteString(s.stdin, text+"\n"); err != nil {
		s.log.Warn("console write failed", zap.Error(err))
	}
}

// Stop asks the server to stop and waits up to timeout for it to exit.
// If it does not, or ctx ends first, the server is killed.
func (s *Supervisor) Stop(ctx context.Context, timeout time.Duration) StopResult {
	s.mu.Lock()
	if s.cmd == nil {
		s.mu.Unlock()
		return StopNotRunning
	}
	done := s.done
	s.state = Stopping
	s.mu.Unlock()

	s.SendLine(s.cfg.StopCommand)

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return StopGraceful
	case <-t.C:
	case <-ctx.Done():
	}
	s.log.Warn("server did not stop in time", zap.Duration("timeout", timeout))
	s.Kill(context.WithoutCancel(ctx))
	return StopTimedOut
}

// Kill warns the players, waits the kill grace period and kills the whole
// process group. It reports whether a live process was found.
func (s *Supervisor) Kill(ctx context.Context) bool {
	s.mu.Lock()
	if s.cmd == nil {
		s.mu.Unlock()
		return false
	}
	cmd, done := s.cmd, s.done
	s.state = Killing
	s.mu.Unlock()

	s.SendLine(killWarning)

	t := time.NewTimer(s.cfg.KillGrace)
	defer t.Stop()
	select {
	case <-t.C:
	case <-done:
		return true
	case <-ctx.Done():
	}

	if err := killProcessGroup(cmd); err != nil {
		s.log.Warn("kill server", zap.Error(err))
	}
	select {
	case <-done:
	case <-ctx.Done():
	}
	return true
}

// Close kills a live server and waits for every supervisor goroutine.
func (s *Supervisor) Close() {
	s.Kill(context.Background())
	s.wg.Wait()
}

// readConsole parses stdout line by line. The first line that does not
// look like a log line ends parsing for this process; the rest of the
// output is still drained so the server never blocks on a full pipe.
func (s *Supervisor) readConsole(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line, ok := ParseLine(sc.Text(), s.now())
		if !ok {
			s.log.Warn("unrecognized console output, console relay stopped", zap.String("line", sc.Text()))
			break
		}
		if s.OnLine != nil {
			s.OnLine(line)
		}
	}
	if err := sc.Err(); err != nil {
		s.log.Warn("console read", zap.Error(err))
	}
	_, _ = io.Copy(io.Discard, r)
}

func (s *Supervisor) drainStderr(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		s.log.Debug("server stderr", zap.String("line", sc.Text()))
	}
	_, _ = io.Copy(io.Discard, r)
}
