package audio

import (
	"encoding/binary"
	"errors"

	"babybaton/internal/domain"
	"babybaton/internal/ports"
)

const (
	wavHeaderSize = 44
	bitsPerSample = 16

	// WAVContentType and WAVFilename describe recordings produced on desktop.
	WAVContentType = "audio/wav"
	WAVFilename    = "recording.wav"
)

// WAVEncoder wraps s16le PCM in a RIFF/WAVE container.
type WAVEncoder struct{}

func (WAVEncoder) Encode(pcm []byte, cfg ports.AudioConfig) (domain.CaptureArtifact, error) {
	return NewWAVArtifact(pcm, cfg.SampleRate, cfg.Channels)
}

// NewWAVArtifact builds an uploadable recording from PCM. Trailing bytes that
// do not form a whole frame are dropped.
func NewWAVArtifact(pcm []byte, sampleRate, channels int) (domain.CaptureArtifact, error) {
	if sampleRate <= 0 || channels <= 0 {
		return domain.CaptureArtifact{}, errors.New("wav: sample rate and channels must be positive")
	}
	frame := channels * bitsPerSample / 8
	pcm = pcm[:len(pcm)-len(pcm)%frame]
	if len(pcm) == 0 {
		return domain.CaptureArtifact{}, errors.New("wav: no audio frames captured")
	}
	return domain.CaptureArtifact{
		Data:        encodeWAV(pcm, sampleRate, channels),
		Filename:    WAVFilename,
		ContentType: WAVContentType,
	}, nil
}

func encodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, wavHeaderSize+dataSize)
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataSize))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(buf[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataSize))
	copy(buf[wavHeaderSize:], pcm)
	return buf
}
