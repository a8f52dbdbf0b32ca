// Package tracker runs hand landmark detection in a worker subprocess.
//
// The worker speaks length-prefixed msgpack over stdin and stdout. It sends
// "ready" once its model is loaded, then a "result" per processed camera
// frame, or an "error" when it cannot continue.
package tracker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.aimuz.me/slidemark/internal/ready"
	"go.aimuz.me/slidemark/internal/types"
)

var (
	ErrNotRunning       = errors.New("tracker: not running")
	ErrAlreadyRunning   = errors.New("tracker: already running")
	ErrPermissionDenied = errors.New("tracker: camera permission denied")
	ErrExited           = errors.New("tracker: worker exited")
)

// CodePermissionDenied is the worker error code for a refused camera.
const CodePermissionDenied = "permission_denied"

// stopGrace is how long Stop waits for the worker before killing it.
const stopGrace = 2 * time.Second

// Frame is an externally captured camera frame for workers that do not
// open the camera themselves.
type Frame struct {
	Seq    uint64
	Width  int
	Height int
	Data   []byte // packed RGB
}

// Result is the hand landmarks detected in one frame.
type Result struct {
	Seq       uint64
	Timestamp time.Time
	Hands     []types.Hand
}

// Tracker produces hand landmark results.
type Tracker interface {
	// Start blocks until the tracker is ready or has failed.
	Start(ctx context.Context) error
	Send(f Frame) error
	// Results holds at most the latest result; older ones are dropped.
	Results() <-chan Result
	Errors() <-chan error
	Stop() error
}

// WorkerError is an error reported by the worker process.
type WorkerError struct {
	Code    string
	Message string
}

func (e *WorkerError) Error() string {
	return fmt.Sprintf("tracker worker: %s: %s", e.Code, e.Message)
}

// Is maps the permission code onto ErrPermissionDenied.
func (e *WorkerError) Is(target error) bool {
	return target == ErrPermissionDenied && e.Code == CodePermissionDenied
}

// Config configures a Worker.
type Config struct {
	// Command is the worker executable and its leading arguments.
	Command []string
	// Env is added to the inherited environment.
	Env []string

	MinDetectionConfidence float64
	MinTrackingConfidence  float64
	MaxHands               int
	// Camera is the device index the worker opens; negative means frames
	// arrive through Send.
	Camera       int
	ReadyTimeout time.Duration
}

// DefaultConfig returns the stock worker settings.
func DefaultConfig() Config {
	return Config{
		Command:                []string{"python3", "scripts/hand_worker.py"},
		MinDetectionConfidence: 0.6,
		MinTrackingConfidence:  0.6,
		MaxHands:               1,
		Camera:                 0,
		ReadyTimeout:           10 * time.Second,
	}
}

func (c Config) args() []string {
	args := append([]string(nil), c.Command[1:]...)
	args = append(args,
		"--min-detection-confidence", strconv.FormatFloat(c.MinDetectionConfidence, 'f', -1, 64),
		"--min-tracking-confidence", strconv.FormatFloat(c.MinTrackingConfidence, 'f', -1, 64),
		"--max-hands", strconv.Itoa(c.MaxHands),
	)
	if c.Camera >= 0 {
		args = append(args, "--camera", strconv.Itoa(c.Camera))
	}
	return args
}

// Stats are counters for a running worker.
type Stats struct {
	Received uint64
	Dropped  uint64
	Sent     uint64
}

// Worker is a Tracker backed by a subprocess.
type Worker struct {
	cfg Config

	mu      sync.Mutex // guards stdin writes
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	cancel  context.CancelFunc
	ready   *ready.Signal
	results chan Result
	errs    chan error
	wg      sync.WaitGroup

	running  atomic.Bool
	stopping atomic.Bool

	received atomic.Uint64
	dropped  atomic.Uint64
	sent     atomic.Uint64
}

// NewWorker creates a stopped worker.
func NewWorker(cfg Config) (*Worker, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, errors.New("tracker: worker command is required")
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultConfig().ReadyTimeout
	}
	if cfg.MaxHands <= 0 {
		cfg.MaxHands = 1
	}
	return &Worker{
		cfg:     cfg,
		results: make(chan Result, 1),
		errs:    make(chan error, 4),
	}, nil
}

// Start spawns the worker and waits for it to report ready.
func (w *Worker) Start(ctx context.Context) error {
	if !w.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	w.stopping.Store(false)
	w.results = make(chan Result, 1)
	w.errs = make(chan error, 4)
	w.ready = ready.New()

	if err := w.spawn(); err != nil {
		w.running.Store(false)
		return fmt.Errorf("spawn tracker: %w", err)
	}

	if err := w.ready.Wait(ctx, w.cfg.ReadyTimeout); err != nil {
		_ = w.Stop()
		return fmt.Errorf("wait for tracker: %w", err)
	}
	slog.Info("tracker ready", "pid", w.cmd.Process.Pid)
	return nil
}

func (w *Worker) spawn() error {
	wctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(wctx, w.cfg.Command[0], w.cfg.args()...)
	cmd.Env = append(os.Environ(), w.cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("start worker: %w", err)
	}
	slog.Debug("tracker spawned", "pid", cmd.Process.Pid, "command", w.cfg.Command)

	w.cmd = cmd
	w.stdin = stdin
	w.cancel = cancel

	var pipes sync.WaitGroup
	pipes.Add(2)
	w.wg.Add(3)
	go func() {
		defer w.wg.Done()
		defer pipes.Done()
		w.readResults(stdout)
	}()
	go func() {
		defer w.wg.Done()
		defer pipes.Done()
		logStderr(stderr)
	}()
	go func() {
		defer w.wg.Done()
		// Wait must not run before the pipes are drained.
		pipes.Wait()
		w.waitProcess()
	}()
	return nil
}

func (w *Worker) readResults(stdout io.Reader) {
	for {
		m, err := ReadMessage(stdout)
		if err != nil {
			if !errors.Is(err, io.EOF) && !w.stopping.Load() {
				slog.Error("read tracker output", "error", err)
			}
			return
		}

		switch m.Type {
		case MsgReady:
			w.ready.Resolve()
		case MsgResult:
			w.received.Add(1)
			w.deliver(Result{
				Seq:       m.Seq,
				Timestamp: time.UnixMilli(m.TS),
				Hands:     m.Hands,
			})
		case MsgError:
			werr := &WorkerError{Code: m.Code, Message: m.Message}
			slog.Warn("tracker error", "code", m.Code, "message", m.Message)
			select {
			case <-w.ready.Done():
				w.report(werr)
			default:
				w.ready.Reject(werr)
			}
		default:
			slog.Debug("unknown tracker message", "type", m.Type)
		}
	}
}

// deliver replaces any unread result with r.
func (w *Worker) deliver(r Result) {
	for {
		select {
		case w.results <- r:
			return
		default:
		}
		select {
		case <-w.results:
			w.dropped.Add(1)
		default:
		}
	}
}

func (w *Worker) report(err error) {
	select {
	case w.errs <- err:
	default:
		slog.Warn("tracker error channel full", "error", err)
	}
}

func (w *Worker) waitProcess() {
	err := w.cmd.Wait()
	if w.stopping.Load() {
		slog.Debug("tracker exited", "pid", w.cmd.Process.Pid)
		return
	}
	if err == nil {
		err = ErrExited
	} else {
		err = fmt.Errorf("%w: %w", ErrExited, err)
	}
	slog.Error("tracker exited unexpectedly", "pid", w.cmd.Process.Pid, "error", err)
	w.ready.Reject(err)
	w.report(err)
}

// logStderr maps worker log lines onto slog levels.
func logStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.Contains(line, "[ERROR]"), strings.Contains(line, "[CRITICAL]"):
			slog.Error("tracker worker", "log", line)
		case strings.Contains(line, "[WARNING]"), strings.Contains(line, "[WARN]"):
			slog.Warn("tracker worker", "log", line)
		default:
			slog.Debug("tracker worker", "log", line)
		}
	}
}

// Send passes a frame to the worker.
func (w *Worker) Send(f Frame) error {
	if !w.running.Load() {
		return ErrNotRunning
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	err := WriteMessage(w.stdin, &Message{
		Type:   MsgFrame,
		Seq:    f.Seq,
		Width:  f.Width,
		Height: f.Height,
		Data:   f.Data,
	})
	if err != nil {
		return fmt.Errorf("send frame %d: %w", f.Seq, err)
	}
	w.sent.Add(1)
	return nil
}

// Results returns the latest-result channel. It is closed by Stop.
func (w *Worker) Results() <-chan Result {
	return w.results
}

// Errors returns worker failures after startup. It is closed by Stop.
func (w *Worker) Errors() <-chan error {
	return w.errs
}

// Stats returns the worker counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Received: w.received.Load(),
		Dropped:  w.dropped.Load(),
		Sent:     w.sent.Load(),
	}
}

// Stop closes the worker's stdin and kills it if it has not exited within
// the grace period. Stopping a stopped worker does nothing.
func (w *Worker) Stop() error {
	if !w.running.CompareAndSwap(true, false) {
		return nil
	}
	w.stopping.Store(true)

	w.mu.Lock()
	_ = w.stdin.Close()
	w.mu.Unlock()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(stopGrace):
		slog.Warn("tracker stop timeout, killing worker", "pid", w.cmd.Process.Pid)
		w.cancel()
		<-done
	}
	w.cancel()

	close(w.results)
	close(w.errs)
	st := w.Stats()
	slog.Info("tracker stopped", "received", st.Received, "dropped", st.Dropped)
	return nil
}
