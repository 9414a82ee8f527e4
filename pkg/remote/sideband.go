package remote

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Sideband channel identifiers.
const (
	SidebandData     byte = 0x01
	SidebandProgress byte = 0x02
	SidebandError    byte = 0x03
)

// maxSidebandFrame bounds a single frame so a corrupt length cannot force a
// huge allocation.
const maxSidebandFrame = 16 << 20

// SidebandWriter writes length-prefixed sideband frames.
// Frame format: [4 bytes big-endian length][1 byte channel][payload]
type SidebandWriter struct {
	w io.Writer
}

func NewSidebandWriter(w io.Writer) *SidebandWriter {
	return &SidebandWriter{w: w}
}

func (sw *SidebandWriter) writeFrame(channel byte, data []byte) error {
	frame := make([]byte, 5, 5+len(data))
	binary.BigEndian.PutUint32(frame, uint32(1+len(data)))
	frame[4] = channel
	frame = append(frame, data...)
	if _, err := sw.w.Write(frame); err != nil {
		return fmt.Errorf("write sideband frame: %w", err)
	}
	return nil
}

func (sw *SidebandWriter) WriteData(data []byte) error {
	return sw.writeFrame(SidebandData, data)
}

func (sw *SidebandWriter) WriteProgress(msg string) error {
	return sw.writeFrame(SidebandProgress, []byte(msg))
}

func (sw *SidebandWriter) WriteError(msg string) error {
	return sw.writeFrame(SidebandError, []byte(msg))
}

// SidebandReader reads length-prefixed sideband frames.
type SidebandReader struct {
	r io.Reader
}

func NewSidebandReader(r io.Reader) *SidebandReader {
	return &SidebandReader{r: r}
}

// ReadFrame reads one sideband frame, returning channel and payload.
// Returns io.EOF when no more frames are available.
func (sr *SidebandReader) ReadFrame() (byte, []byte, error) {
	var frameLen uint32
	if err := binary.Read(sr.r, binary.BigEndian, &frameLen); err != nil {
		return 0, nil, err
	}
	if frameLen < 1 || frameLen > maxSidebandFrame {
		return 0, nil, fmt.Errorf("sideband frame length %d out of range", frameLen)
	}

	frame := make([]byte, frameLen)
	if _, err := io.ReadFull(sr.r, frame); err != nil {
		return 0, nil, fmt.Errorf("read frame: %w", err)
	}
	return frame[0], frame[1:], nil
}

// demuxSideband splits a complete sideband body into its data payload,
// passing progress frames to onMessage. An error frame fails the call.
func demuxSideband(body []byte, onMessage func(string)) ([]byte, error) {
	sr := NewSidebandReader(bytes.NewReader(body))
	var data bytes.Buffer
	for {
		channel, payload, err := sr.ReadFrame()
		if errors.Is(err, io.EOF) {
			return data.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
		switch channel {
		case SidebandData:
			data.Write(payload)
		case SidebandProgress:
			if onMessage != nil {
				onMessage(string(payload))
			}
		case SidebandError:
			return nil, fmt.Errorf("remote error: %s", payload)
		}
	}
}
