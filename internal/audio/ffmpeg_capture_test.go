package audio

import (
	"context"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"babybaton/internal/ports"
)

func TestFFMPEGCaptureStartReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello'\nsleep 2\n")
	capture := NewFFMPEGCapture(script, WithStopTimeout(200*time.Millisecond))

	session, err := capture.Start(context.Background(), ports.AudioConfig{})
	require.NoError(t, err)

	buf := make([]byte, 8)
	n, _ := session.Read(buf)
	require.Positive(t, n)
	require.Contains(t, string(buf[:n]), "hello")

	require.NoError(t, session.Stop())
	require.NoError(t, session.Stop())
}

func TestFFMPEGCaptureKeepsAudioFlushedOnStop(t *testing.T) {
	t.Parallel()

	const tail = 32 * 1024
	script := writeScript(t, "flush.sh", "#!/usr/bin/env bash\n"+
		"trap 'head -c 32768 /dev/zero; exit 0' INT\n"+
		"printf 'ready'\n"+
		"while true; do sleep 0.05; done\n")

	for run := 0; run < 5; run++ {
		capture := NewFFMPEGCapture(script, WithStartupGrace(50*time.Millisecond))
		session, err := capture.Start(context.Background(), ports.AudioConfig{})
		require.NoError(t, err)

		type result struct {
			n   int
			err error
		}
		readDone := make(chan result, 1)
		go func() {
			var total int
			buf := make([]byte, 4096)
			for {
				n, err := session.Read(buf)
				total += n
				if err != nil {
					readDone <- result{n: total, err: err}
					return
				}
			}
		}()

		require.NoError(t, session.Stop(), "run %d", run)
		got := <-readDone
		require.ErrorIs(t, got.err, io.EOF, "run %d", run)
		require.Equal(t, len("ready")+tail, got.n, "run %d", run)
	}
}

func TestFFMPEGCaptureIsExclusive(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nsleep 2\n")
	capture := NewFFMPEGCapture(script, WithStartupGrace(50*time.Millisecond), WithStopTimeout(200*time.Millisecond))

	first, err := capture.Start(context.Background(), ports.AudioConfig{})
	require.NoError(t, err)

	_, err = capture.Start(context.Background(), ports.AudioConfig{})
	require.ErrorContains(t, err, "already in use")

	require.NoError(t, first.Stop())
	second, err := capture.Start(context.Background(), ports.AudioConfig{})
	require.NoError(t, err)
	require.NoError(t, second.Stop())
}

func TestFFMPEGCaptureStartEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'no such device' 1>&2\nexit 1\n")
	capture := NewFFMPEGCapture(script)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := capture.Start(ctx, ports.AudioConfig{})
	require.ErrorContains(t, err, "microphone could not be opened")
	require.ErrorContains(t, err, "no such device")
}

func TestCaptureArgsDefaults(t *testing.T) {
	t.Parallel()

	args := captureArgs(ports.AudioConfig{InputFormat: "alsa", InputDevice: "hw:1"})
	require.Equal(t, []string{
		"-nostdin", "-hide_banner", "-loglevel", "warning",
		"-f", "alsa", "-i", "hw:1",
		"-ac", "1", "-ar", "16000",
		"-f", "s16le", "-",
	}, args)
	require.Equal(t, ":0", DefaultInputDevice("avfoundation"))
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-c", "exit 1").Run()
	require.Error(t, err)
	require.NoError(t, normalizeStopErr(err))
}

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o700))
	return path
}
