package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"babybaton/internal/ports"
)

const (
	defaultStartupGrace = 250 * time.Millisecond
	defaultStopTimeout  = 1200 * time.Millisecond
)

// FFMPEGCapture records s16le microphone PCM by running ffmpeg. A capture is
// exclusive: Start fails while a previous session is still open.
type FFMPEGCapture struct {
	command      string
	startupGrace time.Duration
	stopTimeout  time.Duration

	mu   sync.Mutex
	open *ffmpegSession
}

// Option configures an FFMPEGCapture.
type Option func(*FFMPEGCapture)

// WithStartupGrace sets how long ffmpeg must survive before the device counts as open.
func WithStartupGrace(d time.Duration) Option {
	return func(c *FFMPEGCapture) { c.startupGrace = d }
}

// WithStopTimeout sets how long Stop waits after SIGINT before killing ffmpeg.
func WithStopTimeout(d time.Duration) Option {
	return func(c *FFMPEGCapture) { c.stopTimeout = d }
}

func NewFFMPEGCapture(command string, opts ...Option) *FFMPEGCapture {
	if command == "" {
		command = "ffmpeg"
	}
	c := &FFMPEGCapture{
		command:      command,
		startupGrace: defaultStartupGrace,
		stopTimeout:  defaultStopTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultInputFormat returns the ffmpeg input device family for this OS.
func DefaultInputFormat() string {
	switch runtime.GOOS {
	case "darwin":
		return "avfoundation"
	case "windows":
		return "dshow"
	default:
		return "pulse"
	}
}

// DefaultInputDevice returns the default microphone name for format.
func DefaultInputDevice(format string) string {
	switch format {
	case "avfoundation":
		return ":0"
	case "dshow":
		return "audio=default"
	default:
		return "default"
	}
}

func (c *FFMPEGCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open != nil && !c.open.stopped() {
		return nil, errors.New("microphone is already in use by another recording")
	}

	cmd := exec.CommandContext(ctx, c.command, captureArgs(cfg)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("create ffmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	out := newPCMBuffer()
	waitErr := make(chan error, 1)
	go func() {
		// Wait closes stdout, so it may only run once the copy saw EOF.
		out.fill(stdout)
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, fmt.Errorf("microphone could not be opened: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, errors.New("microphone could not be opened: ffmpeg exited immediately")
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		_ = stdout.Close()
		<-waitErr
		return nil, ctx.Err()
	case <-time.After(c.startupGrace):
	}

	c.open = &ffmpegSession{
		out:         out,
		stdout:      stdout,
		stderr:      &stderr,
		process:     cmd.Process,
		waitErr:     waitErr,
		stopTimeout: c.stopTimeout,
		done:        make(chan struct{}),
	}
	return c.open, nil
}

func captureArgs(cfg ports.AudioConfig) []string {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = DefaultInputFormat()
	}
	if cfg.InputDevice == "" {
		cfg.InputDevice = DefaultInputDevice(cfg.InputFormat)
	}
	return []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.InputDevice,
		"-ac", strconv.Itoa(cfg.Channels),
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
}

type ffmpegSession struct {
	out    *pcmBuffer
	stdout io.Closer
	stderr *bytes.Buffer

	process     *os.Process
	waitErr     <-chan error
	stopTimeout time.Duration

	stopOnce sync.Once
	done     chan struct{}
	doneOnce sync.Once
	stopErr  error
}

// Read returns captured PCM, including what ffmpeg flushed while stopping,
// and io.EOF once ffmpeg closed its output and everything was read.
func (s *ffmpegSession) Read(p []byte) (int, error) {
	return s.out.Read(p)
}

func (s *ffmpegSession) Close() error {
	return s.Stop()
}

// Stop asks ffmpeg to flush and exit, killing it after the stop timeout.
func (s *ffmpegSession) Stop() error {
	s.stopOnce.Do(func() {
		defer s.markStopped()

		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(s.stopTimeout):
			if s.process != nil {
				_ = s.process.Kill()
			}
			select {
			case err, ok := <-s.waitErr:
				if ok {
					s.stopErr = normalizeStopErr(err)
				}
			case <-time.After(s.stopTimeout):
				// A child of the killed process still holds stdout open.
				_ = s.stdout.Close()
				if err, ok := <-s.waitErr; ok {
					s.stopErr = normalizeStopErr(err)
				}
			}
		}

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, strings.TrimSpace(s.stderr.String()))
		}
	})
	return s.stopErr
}

func (s *ffmpegSession) markStopped() {
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *ffmpegSession) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// normalizeStopErr treats ffmpeg's non-zero exit on SIGINT as a clean stop.
func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

// pcmBuffer decouples reading ffmpeg's stdout from the consumer, so the pipe
// is drained to EOF before the process is reaped.
type pcmBuffer struct {
	mu   sync.Mutex
	cond *sync.Cond
	buf  bytes.Buffer
	err  error
}

func newPCMBuffer() *pcmBuffer {
	b := &pcmBuffer{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

func (b *pcmBuffer) fill(r io.Reader) {
	chunk := make([]byte, 32*1024)
	for {
		n, err := r.Read(chunk)
		b.mu.Lock()
		if n > 0 {
			b.buf.Write(chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) {
				err = io.EOF
			}
			b.err = err
		}
		b.cond.Broadcast()
		b.mu.Unlock()
		if err != nil {
			return
		}
	}
}

func (b *pcmBuffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.buf.Len() == 0 && b.err == nil {
		b.cond.Wait()
	}
	if b.buf.Len() > 0 {
		return b.buf.Read(p)
	}
	return 0, b.err
}
