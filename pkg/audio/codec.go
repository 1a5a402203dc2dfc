package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// pcmScale is the factor between float samples and signed 16-bit PCM.
const pcmScale = 32768

// ErrMalformedPCM is returned by [DecodeAudioData] when the raw bytes cannot
// be interpreted as interleaved 16-bit samples for the requested layout.
var ErrMalformedPCM = errors.New("audio: malformed pcm data")

// PCMMIMEType returns the MIME descriptor for raw 16-bit little-endian PCM at
// rate Hz, e.g. "audio/pcm;rate=16000".
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// EncodePCM16 converts float samples to 16-bit signed little-endian PCM. Each
// sample is scaled by 32768 and truncated toward zero; values outside the
// int16 range are clamped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := float64(s) * pcmScale
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// EncodeBase64 encodes samples as 16-bit PCM and returns the base64 payload
// together with the MIME descriptor for rate.
func EncodeBase64(samples []float32, rate int) (mimeType, data string) {
	return PCMMIMEType(rate), base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

// DecodeBase64 reverses the transport encoding of a payload and returns the
// raw bytes. It does not interpret the bytes.
func DecodeBase64(payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("audio: decode base64: %w", err)
	}
	return raw, nil
}

// DecodeAudioData reinterprets data as interleaved 16-bit signed little-endian
// samples with the given channel count, deinterleaves them and rescales each
// sample by 1/32768. The layout is supplied by the caller; nothing is inferred
// from the bytes.
func DecodeAudioData(data []byte, sampleRate, channels int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrMalformedPCM, sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("%w: channel count %d", ErrMalformedPCM, channels)
	}
	frameBytes := 2 * channels
	if len(data)%frameBytes != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedPCM, len(data), frameBytes)
	}

	frames := len(data) / frameBytes
	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			off := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(data[off:]))
			buf.Channels[ch][i] = float32(s) / pcmScale
		}
	}
	return buf, nil
}

// DecodePCM16 converts 16-bit little-endian mono PCM to float samples. A
// trailing odd byte is ignored.
func DecodePCM16(pcm []byte) []float32 {
	out := make([]float32, len(pcm)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:]))) / pcmScale
	}
	return out
}
