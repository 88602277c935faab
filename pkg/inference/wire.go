package inference

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/gwillem/fingercount/pkg/hand"
	"github.com/vmihailenco/msgpack/v5"
)

// maxMessage bounds a single framed message; a 1080p RGB frame is ~6MB.
const maxMessage = 32 << 20

// request is sent to the worker for every frame.
type request struct {
	Seq       uint64 `msgpack:"seq"`
	Width     int    `msgpack:"width"`
	Height    int    `msgpack:"height"`
	FrameData []byte `msgpack:"frame_data"`
	Timestamp int64  `msgpack:"timestamp"` // unix ms
}

// response is the worker's answer to the request with the same Seq.
type response struct {
	Seq         uint64     `msgpack:"seq"`
	Hands       []wireHand `msgpack:"hands"`
	Error       string     `msgpack:"error"`
	InferenceMS float64    `msgpack:"inference_ms"`

	// err is set locally for a response that was framed but did not decode.
	err error
}

type wireHand struct {
	Handedness string      `msgpack:"handedness"`
	Score      float64     `msgpack:"score"`
	Landmarks  [][]float64 `msgpack:"landmarks"`
}

func (h wireHand) detection() (hand.Detection, error) {
	label, err := hand.ParseHandedness(h.Handedness)
	if err != nil {
		return hand.Detection{}, err
	}
	d := hand.Detection{
		Handedness: label,
		Score:      h.Score,
		Landmarks:  make([]hand.Point, len(h.Landmarks)),
	}
	for i, p := range h.Landmarks {
		if len(p) != 3 {
			return hand.Detection{}, fmt.Errorf("%w: point %d has %d coordinates, want 3", hand.ErrMalformedLandmarks, i, len(p))
		}
		d.Landmarks[i] = hand.Point{X: p[0], Y: p[1], Z: p[2]}
	}
	return d, nil
}

// writeMessage writes v as [u32 big-endian length][msgpack].
func writeMessage(w io.Writer, v any) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal msgpack: %w", err)
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	if _, err := w.Write(buf); err != nil {
		return err
	}
	return nil
}

// DecodeError reports a message that was read in full but whose body did
// not decode. The stream is still aligned on the next frame.
type DecodeError struct {
	Data []byte
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to unmarshal msgpack: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

func isDecodeError(err error) (*DecodeError, bool) {
	var de *DecodeError
	ok := errors.As(err, &de)
	return de, ok
}

// readMessage reads one framed message into v.
func readMessage(r io.Reader, v any) error {
	var lengthBuf [4]byte
	if _, err := io.ReadFull(r, lengthBuf[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(lengthBuf[:])
	if n > maxMessage {
		return fmt.Errorf("message too large: %d bytes", n)
	}
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}
	if err := msgpack.Unmarshal(data, v); err != nil {
		return &DecodeError{Data: data, Err: err}
	}
	return nil
}
