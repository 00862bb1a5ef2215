// Package reader runs the external BLE reader process for one battery and
// exposes its reports as a stream of lines.
package reader

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/ryansname/bmsbridge/src/telemetry"
)

const (
	defaultStopTimeout = 5 * time.Second
	// killGrace is how long Stop waits after the kill before giving up
	killGrace     = 2 * time.Second
	maxReportSize = 1 << 20
)

// Options controls how the reader process is launched
type Options struct {
	Command     string
	Args        []string // passed before the battery name and refresh interval
	Refresh     float64  // seconds between reports
	StopTimeout time.Duration
	Env         []string
}

// Handle owns one reader process for one battery.
// The process is invoked as: Command Args... <name> <refresh>
type Handle struct {
	source telemetry.Source
	opts   Options

	mu       sync.Mutex
	cancel   context.CancelFunc
	lines    chan string
	exited   chan Exit
	quit     chan struct{}
	done     chan struct{}
	stopping bool
}

// New creates a handle for source. The process is not started until Start.
func New(source telemetry.Source, opts Options) *Handle {
	if opts.StopTimeout <= 0 {
		opts.StopTimeout = defaultStopTimeout
	}
	return &Handle{source: source, opts: opts}
}

// Source returns the battery this handle reads
func (h *Handle) Source() telemetry.Source {
	return h.source
}

func (h *Handle) args() []string {
	args := append([]string(nil), h.opts.Args...)
	return append(args, h.source.Name, strconv.FormatFloat(h.opts.Refresh, 'f', -1, 64))
}

// Start launches the reader process. Cancelling ctx terminates it the same way Stop does.
func (h *Handle) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.done != nil && !closed(h.done) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	cmd := exec.CommandContext(runCtx, h.opts.Command, h.args()...)
	cmd.Env = append(os.Environ(), "BMS_BUS="+h.source.Bus)
	cmd.Env = append(cmd.Env, h.opts.Env...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	// Killed if still running this long after SIGTERM
	cmd.WaitDelay = h.opts.StopTimeout

	stdoutR, stdoutW := io.Pipe()
	stderrR, stderrW := io.Pipe()
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		cancel()
		stdoutR.Close()
		stderrR.Close()
		return &SpawnError{BatteryID: h.source.ID, Command: h.opts.Command, Err: err}
	}

	h.cancel = cancel
	h.lines = make(chan string)
	h.exited = make(chan Exit, 1)
	h.quit = make(chan struct{})
	h.done = make(chan struct{})
	h.stopping = false

	log.Info().
		Int("battery", h.source.ID).
		Str("name", h.source.Name).
		Int("pid", cmd.Process.Pid).
		Msg("Reader started")

	go pumpLines(stdoutR, h.lines, h.quit, h.source.ID)
	go pumpDiagnostics(stderrR, h.source.ID)
	go h.wait(cmd, stdoutW, stderrW, h.exited, h.done, cancel)

	return nil
}

func (h *Handle) wait(cmd *exec.Cmd, stdout, stderr *io.PipeWriter, exited chan<- Exit, done chan<- struct{}, cancel context.CancelFunc) {
	err := cmd.Wait()
	stdout.Close()
	stderr.Close()
	cancel()

	exit := Exit{BatteryID: h.source.ID, Code: cmd.ProcessState.ExitCode()}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) && !errors.Is(err, context.Canceled) {
		exit.Err = err
	}

	exited <- exit
	close(done)
}

// Lines returns the report lines of the current run.
// The channel is closed when the process stops writing to stdout.
func (h *Handle) Lines() <-chan string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lines
}

// Exited delivers one Exit event per run
func (h *Handle) Exited() <-chan Exit {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exited
}

// Stop terminates the process: SIGTERM, then kill after StopTimeout.
// It is safe to call more than once and after the process has already exited.
func (h *Handle) Stop() error {
	h.mu.Lock()
	if h.cancel == nil {
		h.mu.Unlock()
		return nil
	}
	if !h.stopping {
		h.stopping = true
		close(h.quit)
	}
	cancel, done := h.cancel, h.done
	h.mu.Unlock()

	cancel()

	select {
	case <-done:
		return nil
	case <-time.After(h.opts.StopTimeout + killGrace):
		return errors.Wrapf(ErrStopTimeout, "battery %d", h.source.ID)
	}
}

// pumpLines forwards stdout lines until EOF. After quit is closed lines are
// discarded but stdout is still drained so the process never blocks on a full pipe.
func pumpLines(r *io.PipeReader, lines chan<- string, quit <-chan struct{}, batteryID int) {
	defer close(lines)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxReportSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case lines <- line:
		case <-quit:
		}
	}

	if err := scanner.Err(); err != nil {
		log.Warn().Err(err).Int("battery", batteryID).Msg("Reader stdout unreadable, discarding remaining output")
	}
	_, _ = io.Copy(io.Discard, r)
}

// pumpDiagnostics logs stderr lines; they never affect telemetry
func pumpDiagnostics(r *io.PipeReader, batteryID int) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxReportSize)
	for scanner.Scan() {
		log.Debug().Int("battery", batteryID).Str("line", scanner.Text()).Msg("Reader stderr")
	}
	_, _ = io.Copy(io.Discard, r)
}

func closed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
