package inference

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/gwillem/fingercount/pkg/camera"
	"github.com/gwillem/fingercount/pkg/hand"
	"github.com/gwillem/fingercount/pkg/hand/handtest"
)

// fakeModel serves requests on the other end of the pipes.
type fakeModel struct {
	reqR  *io.PipeReader
	respW *io.PipeWriter
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startFake returns a worker connected to a fake model whose behaviour is
// decided per request by handle. A nil reply means no reply is sent.
func startFake(t *testing.T, timeout time.Duration, handle func(request) any) (*Worker, *fakeModel) {
	t.Helper()
	reqR, reqW := io.Pipe()
	respR, respW := io.Pipe()
	m := &fakeModel{reqR: reqR, respW: respW}

	go func() {
		defer respW.Close()
		for {
			var req request
			if err := readMessage(reqR, &req); err != nil {
				return
			}
			if resp := handle(req); resp != nil {
				if err := writeMessage(respW, resp); err != nil {
					return
				}
			}
		}
	}()

	w := NewPipeWorker(reqW, respR, WorkerConfig{Timeout: timeout, Logger: quietLogger()})
	t.Cleanup(func() { w.Close() })
	return w, m
}

func toWire(d hand.Detection) wireHand {
	h := wireHand{Handedness: string(d.Handedness), Score: d.Score}
	for _, p := range d.Landmarks {
		h.Landmarks = append(h.Landmarks, []float64{p.X, p.Y, p.Z})
	}
	return h
}

func frame() camera.Frame {
	return camera.Frame{Width: 4, Height: 2, Data: make([]byte, 24), Timestamp: time.Now()}
}

func TestWorker_Infer(t *testing.T) {
	right := handtest.Detection(hand.Right, 3, 0.3)
	left := handtest.Detection(hand.Left, 5, 0.7)

	w, _ := startFake(t, time.Second, func(req request) any {
		if req.Width != 4 || len(req.FrameData) != 24 {
			return &response{Seq: req.Seq, Error: "bad frame"}
		}
		return &response{Seq: req.Seq, Hands: []wireHand{toWire(right), toWire(left)}}
	})

	dets, err := w.Infer(context.Background(), frame())
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(dets) != 2 {
		t.Fatalf("got %d detections, want 2", len(dets))
	}
	if dets[0].Handedness != hand.Right || dets[1].Handedness != hand.Left {
		t.Errorf("handedness = %s, %s", dets[0].Handedness, dets[1].Handedness)
	}
	n, err := hand.CountFingers(dets[0].Landmarks, dets[0].Handedness)
	if err != nil || n != 3 {
		t.Errorf("CountFingers = %d, %v, want 3", n, err)
	}
}

func TestWorker_NoHands(t *testing.T) {
	w, _ := startFake(t, time.Second, func(req request) any {
		return &response{Seq: req.Seq}
	})
	dets, err := w.Infer(context.Background(), frame())
	if err != nil {
		t.Fatalf("Infer: %v", err)
	}
	if len(dets) != 0 {
		t.Errorf("got %d detections, want 0", len(dets))
	}
}

func TestWorker_ErrorResponseIsNotFatal(t *testing.T) {
	calls := 0
	w, _ := startFake(t, time.Second, func(req request) any {
		calls++
		if calls == 1 {
			return &response{Seq: req.Seq, Error: "model exploded"}
		}
		return &response{Seq: req.Seq}
	})

	if _, err := w.Infer(context.Background(), frame()); err == nil || errors.Is(err, ErrEngineLost) {
		t.Fatalf("first Infer = %v, want a non-fatal error", err)
	}
	if _, err := w.Infer(context.Background(), frame()); err != nil {
		t.Fatalf("second Infer: %v", err)
	}
}

func TestWorker_TimeoutThenStaleResponseDiscarded(t *testing.T) {
	release := make(chan struct{})
	w, _ := startFake(t, 50*time.Millisecond, func(req request) any {
		if req.Seq == 1 {
			<-release // answer the first request late
		}
		return &response{Seq: req.Seq, Hands: []wireHand{toWire(handtest.Detection(hand.Right, int(req.Seq), 0.5))}}
	})

	if _, err := w.Infer(context.Background(), frame()); err == nil {
		t.Fatal("expected timeout")
	}
	close(release)

	dets, err := w.Infer(context.Background(), frame())
	if err != nil {
		t.Fatalf("Infer after timeout: %v", err)
	}
	n, _ := hand.CountFingers(dets[0].Landmarks, hand.Right)
	if n != 2 {
		t.Errorf("got response for seq with %d fingers, want the seq 2 answer", n)
	}
	if _, _, stale := w.Stats(); stale == 0 {
		t.Error("late response was not counted as stale")
	}
}

func TestWorker_LostWhenModelExits(t *testing.T) {
	w, m := startFake(t, time.Second, func(req request) any {
		return &response{Seq: req.Seq}
	})
	m.respW.Close()
	m.reqR.Close()

	deadline := time.Now().Add(time.Second)
	for {
		_, err := w.Infer(context.Background(), frame())
		if errors.Is(err, ErrEngineLost) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Infer = %v, want ErrEngineLost", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWorker_BadHandedness(t *testing.T) {
	w, _ := startFake(t, time.Second, func(req request) any {
		h := toWire(handtest.Detection(hand.Right, 1, 0.5))
		h.Handedness = "Middle"
		return &response{Seq: req.Seq, Hands: []wireHand{h}}
	})
	if _, err := w.Infer(context.Background(), frame()); err == nil || errors.Is(err, ErrEngineLost) {
		t.Errorf("Infer = %v, want a non-fatal error", err)
	}
}

func TestWorkerConfig_Args(t *testing.T) {
	cfg := WorkerConfig{MaxHands: 2, MinDetectionConfidence: 0.7, MinTrackingConfidence: 0.5}
	got := cfg.args()
	want := []string{"--max-hands", "2", "--min-detection-confidence", "0.70", "--min-tracking-confidence", "0.50"}
	if len(got) != len(want) {
		t.Fatalf("args = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("args[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestWorker_UndecodableResponseIsNotFatal(t *testing.T) {
	calls := 0
	w, _ := startFake(t, time.Second, func(req request) any {
		calls++
		switch calls {
		case 1:
			return map[string]any{"seq": req.Seq, "hands": "oops"}
		case 2:
			return map[string]any{"hands": 42}
		}
		return &response{Seq: req.Seq}
	})

	_, err := w.Infer(context.Background(), frame())
	if err == nil || errors.Is(err, ErrEngineLost) {
		t.Fatalf("first Infer = %v, want a non-fatal error", err)
	}
	// no seq to match on, so this request runs into its timeout
	w.timeout = 50 * time.Millisecond
	if _, err := w.Infer(context.Background(), frame()); err == nil || errors.Is(err, ErrEngineLost) {
		t.Fatalf("second Infer = %v, want a non-fatal error", err)
	}
	w.timeout = time.Second
	if _, err := w.Infer(context.Background(), frame()); err != nil {
		t.Fatalf("third Infer: %v", err)
	}
	if _, failures, _ := w.Stats(); failures < 2 {
		t.Errorf("failures = %d, want at least 2", failures)
	}
}

func TestWorker_LandmarkArity(t *testing.T) {
	tests := []struct {
		name  string
		point []float64
	}{
		{"two coordinates", []float64{0.1, 0.2}},
		{"four coordinates", []float64{0.1, 0.2, 0.3, 0.4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			w, _ := startFake(t, time.Second, func(req request) any {
				calls++
				if calls > 1 {
					return &response{Seq: req.Seq}
				}
				h := toWire(handtest.Detection(hand.Right, 2, 0.5))
				h.Landmarks[4] = tt.point
				return &response{Seq: req.Seq, Hands: []wireHand{h}}
			})

			_, err := w.Infer(context.Background(), frame())
			if !errors.Is(err, hand.ErrMalformedLandmarks) {
				t.Fatalf("Infer = %v, want ErrMalformedLandmarks", err)
			}
			if errors.Is(err, ErrEngineLost) {
				t.Fatalf("Infer = %v, want a non-fatal error", err)
			}
			if _, err := w.Infer(context.Background(), frame()); err != nil {
				t.Errorf("next Infer: %v", err)
			}
		})
	}
}
