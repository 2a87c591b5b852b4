package client

import (
	"bytes"
	"encoding/binary"
	"errors"
)

var errNotWAV = errors.New("not a RIFF/WAVE stream")

// WAVDuration measures a PCM WAV stream in seconds. Streaming encoders write
// placeholder sizes, so a data chunk longer than the payload is clamped.
func WAVDuration(data []byte) (float64, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return 0, errNotWAV
	}

	var byteRate uint32
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := binary.LittleEndian.Uint32(data[pos+4 : pos+8])
		body := pos + 8
		switch id {
		case "fmt ":
			if body+12 > len(data) {
				return 0, errNotWAV
			}
			byteRate = binary.LittleEndian.Uint32(data[body+8 : body+12])
		case "data":
			if byteRate == 0 {
				return 0, errors.New("wav data chunk before fmt chunk")
			}
			remaining := uint32(len(data) - body)
			if size > remaining {
				size = remaining
			}
			return float64(size) / float64(byteRate), nil
		}
		next := body + int(size)
		if size%2 == 1 {
			next++
		}
		if next <= pos {
			break
		}
		pos = next
	}
	return 0, errors.New("wav stream has no data chunk")
}

// EncodeSilentWAV builds a mono 8-bit PCM WAV of the given length.
func EncodeSilentWAV(seconds float64, sampleRate int) []byte {
	samples := int(seconds * float64(sampleRate))
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+samples))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1)) // mono
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(sampleRate)) // byte rate
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))          // block align
	_ = binary.Write(&buf, binary.LittleEndian, uint16(8))          // bits per sample
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(samples))
	buf.Write(bytes.Repeat([]byte{0x80}, samples))
	return buf.Bytes()
}
