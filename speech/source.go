package speech

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.aimuz.me/slidemark/internal/ready"
)

var (
	ErrNotRunning       = errors.New("speech: not running")
	ErrAlreadyRunning   = errors.New("speech: already running")
	ErrPermissionDenied = errors.New("speech: microphone permission denied")
	ErrStreamEnded      = errors.New("speech: audio stream ended")
)

// AudioSource delivers mono float32 PCM.
type AudioSource interface {
	// Start begins delivering chunks to onAudio and returns once audio is
	// flowing or the source has failed.
	Start(onAudio func(samples []float32)) error
	// Wait blocks until the stream ends. It returns nil after Stop.
	Wait() error
	Stop() error
	SampleRate() int
}

// permissionHints are lower-cased fragments capture tools print when the
// device is refused.
var permissionHints = []string{
	"permission denied",
	"operation not permitted",
	"access denied",
	"not authorized",
}

// CommandSourceConfig configures a CommandSource.
type CommandSourceConfig struct {
	// Command writes raw little-endian float32 mono PCM to stdout.
	Command    []string
	Env        []string
	SampleRate int
	// Chunk is the duration of audio per callback.
	Chunk        time.Duration
	StartTimeout time.Duration
}

// CommandSource reads PCM from a capture command such as arecord.
type CommandSource struct {
	cfg CommandSourceConfig

	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stderr  *tailBuffer
	done    chan struct{}
	err     error
	running atomic.Bool
	stopped atomic.Bool
}

// NewCommandSource creates a stopped source.
func NewCommandSource(cfg CommandSourceConfig) (*CommandSource, error) {
	if len(cfg.Command) == 0 || cfg.Command[0] == "" {
		return nil, errors.New("speech: capture command is required")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Chunk <= 0 {
		cfg.Chunk = 100 * time.Millisecond
	}
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 3 * time.Second
	}
	return &CommandSource{cfg: cfg}, nil
}

// SampleRate returns the PCM rate of the stream.
func (c *CommandSource) SampleRate() int {
	return c.cfg.SampleRate
}

// Start runs the capture command and waits for the first chunk.
func (c *CommandSource) Start(onAudio func(samples []float32)) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	c.stopped.Store(false)
	c.done = make(chan struct{})
	c.err = nil
	c.stderr = &tailBuffer{limit: 4096}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, c.cfg.Command[0], c.cfg.Command[1:]...)
	cmd.Env = append(os.Environ(), c.cfg.Env...)
	cmd.Stderr = c.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		c.running.Store(false)
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		c.running.Store(false)
		if errors.Is(err, os.ErrPermission) {
			return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
		}
		return fmt.Errorf("start capture: %w", err)
	}
	slog.Debug("audio capture spawned", "pid", cmd.Process.Pid, "command", c.cfg.Command)
	c.cmd = cmd
	c.cancel = cancel

	sig := ready.New()
	go c.read(stdout, onAudio, sig)

	if err := sig.Wait(context.Background(), c.cfg.StartTimeout); err != nil {
		_ = c.Stop()
		return fmt.Errorf("wait for audio: %w", err)
	}
	return nil
}

func (c *CommandSource) read(stdout io.Reader, onAudio func([]float32), sig *ready.Signal) {
	defer close(c.done)

	buf := make([]byte, int(c.cfg.Chunk.Seconds()*float64(c.cfg.SampleRate))*4)
	for {
		n, err := io.ReadFull(stdout, buf)
		if n >= 4 {
			sig.Resolve()
			onAudio(decodeFloat32LE(buf[:n-n%4]))
		}
		if err != nil {
			break
		}
	}

	werr := c.cmd.Wait()
	if c.stopped.Load() {
		return
	}
	c.err = c.classify(werr)
	slog.Warn("audio capture ended", "error", c.err)
	sig.Reject(c.err)
}

// classify maps the exit of the capture command onto a stream error.
func (c *CommandSource) classify(werr error) error {
	msg := strings.ToLower(c.stderr.String())
	for _, hint := range permissionHints {
		if strings.Contains(msg, hint) {
			return fmt.Errorf("%w: %s", ErrPermissionDenied, strings.TrimSpace(c.stderr.String()))
		}
	}
	if werr != nil {
		return fmt.Errorf("%w: %w", ErrStreamEnded, werr)
	}
	return ErrStreamEnded
}

// Wait blocks until the stream ends.
func (c *CommandSource) Wait() error {
	if c.done == nil {
		return ErrNotRunning
	}
	<-c.done
	return c.err
}

// Stop kills the capture command. Stopping a stopped source does nothing.
func (c *CommandSource) Stop() error {
	if !c.running.CompareAndSwap(true, false) {
		return nil
	}
	c.stopped.Store(true)
	c.cancel()
	<-c.done
	slog.Debug("audio capture stopped")
	return nil
}

func decodeFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   []byte
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
