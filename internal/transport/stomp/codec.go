package stomp

import (
	"bytes"
	"errors"
	"io"

	"github.com/go-stomp/stomp/v3/frame"
)

var heartbeat = []byte{'\n'}

// encodeFrame renders f as one WebSocket text message.
func encodeFrame(f *frame.Frame) ([]byte, error) {
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// decodeFrames parses every frame in one WebSocket message. Brokers usually send
// one frame per message but may prepend heart-beat newlines; those are skipped.
func decodeFrames(data []byte) ([]*frame.Frame, error) {
	r := frame.NewReader(bytes.NewReader(data))
	var out []*frame.Frame
	for {
		f, err := r.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		if f != nil {
			out = append(out, f)
		}
	}
}
