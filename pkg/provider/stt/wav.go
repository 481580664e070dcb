package stt

import (
	"encoding/binary"
	"fmt"
	"io"
)

const bitsPerSample = 16

// EncodeWAV wraps raw 16-bit signed little-endian PCM data in a RIFF/WAV
// container.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8
	dataSize := len(pcm)

	buf := make([]byte, 44+dataSize)

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
	copy(buf[44:], pcm)

	return buf
}

// ReadAudio reads the request audio and returns it in a form every provider
// accepts, together with a filename. Raw PCM is wrapped in a WAV container.
func ReadAudio(req Request) ([]byte, string, error) {
	if req.Audio == nil {
		return nil, "", fmt.Errorf("stt: request has no audio")
	}
	data, err := io.ReadAll(req.Audio)
	if err != nil {
		return nil, "", fmt.Errorf("stt: read audio: %w", err)
	}
	if len(data) == 0 {
		return nil, "", fmt.Errorf("stt: audio is empty")
	}

	name := req.Filename
	if req.IsPCM() {
		if req.SampleRate <= 0 || req.Channels <= 0 {
			return nil, "", fmt.Errorf("stt: pcm audio needs sample rate and channels")
		}
		data = EncodeWAV(data, req.SampleRate, req.Channels)
		name = "audio.wav"
	}
	if name == "" {
		name = "audio.wav"
	}
	return data, name, nil
}
