package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"babybaton/internal/domain"
	"babybaton/internal/ports"
)

// recording owns the open microphone session of one attempt, plus the optional
// caption stream fed from the same audio.
type recording struct {
	cancel context.CancelFunc
	audio  ports.AudioSession
	stream ports.StreamingSession

	pcm        bytes.Buffer
	readErr    error
	captions   *transcriptAggregator
	pumpDone   chan struct{}
	eventsDone chan struct{}
}

func newRecording(cancel context.CancelFunc, audio ports.AudioSession, stream ports.StreamingSession) *recording {
	rec := &recording{
		cancel:     cancel,
		audio:      audio,
		stream:     stream,
		captions:   newTranscriptAggregator(),
		pumpDone:   make(chan struct{}),
		eventsDone: make(chan struct{}),
	}
	if stream == nil {
		close(rec.eventsDone)
	}
	return rec
}

func (r *recording) run(chunkSize int, events ports.EventSink, logger *slog.Logger) {
	if r.stream != nil {
		go consumeCaptions(r.stream, r.captions, events, r.eventsDone)
	}
	go r.pump(chunkSize, events, logger)
}

// pump buffers audio until the session ends. Chunks are also forwarded to the
// caption stream; a failing stream stops forwarding but not buffering.
func (r *recording) pump(chunkSize int, events ports.EventSink, logger *slog.Logger) {
	defer close(r.pumpDone)

	if chunkSize < 256 {
		chunkSize = 4096
	}

	stream := r.stream
	buf := make([]byte, chunkSize)
	for {
		n, err := r.audio.Read(buf)
		if n > 0 {
			r.pcm.Write(buf[:n])
			if stream != nil {
				if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
					logger.Warn("caption stream send failed", "err", sendErr)
					events.PipelineError(domain.ErrorCodeAudioStream, fmt.Sprintf("failed to stream audio: %v", sendErr))
					stream = nil
				}
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.readErr = err
			}
			return
		}
	}
}

// finish stops the microphone and waits for the buffered PCM and the final
// captions. grace gives the caption provider time to flush.
func (r *recording) finish(ctx context.Context, grace time.Duration, logger *slog.Logger) ([]byte, string, error) {
	if err := r.audio.Stop(); err != nil {
		logger.Warn("audio capture did not stop cleanly", "err", err)
	}
	<-r.pumpDone

	if r.stream != nil {
		if grace > 0 {
			timer := time.NewTimer(grace)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
			}
		}
		_ = r.stream.CloseSend()
		if err := waitForStream(r.stream, 4*time.Second); err != nil {
			logger.Warn("caption stream ended with error", "err", err)
		}
		<-r.eventsDone
	}
	r.cancel()

	return r.pcm.Bytes(), r.captions.Raw(), r.readErr
}

// discard tears the recording down without keeping anything.
func (r *recording) discard() {
	r.cancel()
	_ = r.audio.Stop()
	if r.stream != nil {
		_ = r.stream.Close()
	}
	<-r.pumpDone
	<-r.eventsDone
	r.pcm.Reset()
}

func waitForStream(session ports.StreamingSession, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- session.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		_ = session.Close()
		return <-done
	}
}
