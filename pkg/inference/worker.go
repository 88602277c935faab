package inference

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gwillem/fingercount/pkg/camera"
	"github.com/gwillem/fingercount/pkg/hand"
	"github.com/vmihailenco/msgpack/v5"
)

// WorkerConfig configures the landmark worker process.
type WorkerConfig struct {
	// Command starts the worker, e.g. ["python3", "scripts/hand_worker.py"].
	Command                []string
	MaxHands               int
	MinDetectionConfidence float64
	MinTrackingConfidence  float64
	// Timeout bounds one inference round trip.
	Timeout time.Duration
	Logger  *slog.Logger
}

func (c *WorkerConfig) setDefaults() {
	if c.MaxHands <= 0 {
		c.MaxHands = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 500 * time.Millisecond
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// args are appended to Command so the worker configures its model.
func (c WorkerConfig) args() []string {
	return []string{
		"--max-hands", fmt.Sprint(c.MaxHands),
		"--min-detection-confidence", fmt.Sprintf("%.2f", c.MinDetectionConfidence),
		"--min-tracking-confidence", fmt.Sprintf("%.2f", c.MinTrackingConfidence),
	}
}

// Worker is an Engine that talks to a landmark model running in a child
// process over stdin/stdout using length-prefixed msgpack messages.
type Worker struct {
	timeout time.Duration
	log     *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader

	mu  sync.Mutex // one request in flight
	seq uint64

	responses chan response
	lost      chan struct{}
	lostErr   error
	lostOnce  sync.Once
	closing   atomic.Bool
	wg        sync.WaitGroup

	inferences atomic.Uint64
	failures   atomic.Uint64
	stale      atomic.Uint64
}

// StartWorker spawns the worker process.
func StartWorker(cfg WorkerConfig) (*Worker, error) {
	cfg.setDefaults()
	if len(cfg.Command) == 0 {
		return nil, fmt.Errorf("worker command is required")
	}

	args := append(cfg.Command[1:len(cfg.Command):len(cfg.Command)], cfg.args()...)
	cmd := exec.Command(cfg.Command[0], args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start worker: %w", err)
	}
	cfg.Logger.Info("inference worker spawned",
		"command", strings.Join(cfg.Command, " "),
		"pid", cmd.Process.Pid,
		"max_hands", cfg.MaxHands,
	)

	w := newWorker(stdin, stdout, cfg)
	w.cmd = cmd

	w.wg.Add(2)
	go w.logStderr(stderr)
	go w.waitProcess()
	return w, nil
}

// NewPipeWorker returns a Worker speaking the protocol over existing
// streams instead of a child process.
func NewPipeWorker(stdin io.WriteCloser, stdout io.Reader, cfg WorkerConfig) *Worker {
	cfg.setDefaults()
	return newWorker(stdin, stdout, cfg)
}

func newWorker(stdin io.WriteCloser, stdout io.Reader, cfg WorkerConfig) *Worker {
	w := &Worker{
		timeout:   cfg.Timeout,
		log:       cfg.Logger,
		stdin:     stdin,
		stdout:    stdout,
		responses: make(chan response, 4),
		lost:      make(chan struct{}),
	}
	w.wg.Add(1)
	go w.readResults()
	return w
}

// Infer sends f to the worker and waits for the matching response.
// A timeout or worker-side error fails only this call; losing the process
// or its pipes returns ErrEngineLost from then on.
func (w *Worker) Infer(ctx context.Context, f camera.Frame) ([]hand.Detection, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.lostError(); err != nil {
		return nil, err
	}

	w.seq++
	seq := w.seq
	req := request{
		Seq:       seq,
		Width:     f.Width,
		Height:    f.Height,
		FrameData: f.Data,
		Timestamp: f.Timestamp.UnixMilli(),
	}

	timer := time.NewTimer(w.timeout)
	defer timer.Stop()

	writeErr := make(chan error, 1)
	go func() { writeErr <- writeMessage(w.stdin, req) }()
	select {
	case err := <-writeErr:
		if err != nil {
			w.markLost(fmt.Errorf("write request: %w", err))
			return nil, w.lostError()
		}
	case <-timer.C:
		// a half-written frame would corrupt the stream
		w.markLost(fmt.Errorf("stdin write timeout"))
		return nil, w.lostError()
	case <-w.lost:
		return nil, w.lostError()
	}

	for {
		select {
		case resp := <-w.responses:
			if resp.Seq != seq {
				w.stale.Add(1)
				continue
			}
			return w.detections(resp, f)
		case <-timer.C:
			w.failures.Add(1)
			return nil, fmt.Errorf("inference timeout after %v (seq %d)", w.timeout, seq)
		case <-ctx.Done():
			w.failures.Add(1)
			return nil, ctx.Err()
		case <-w.lost:
			return nil, w.lostError()
		}
	}
}

func (w *Worker) detections(resp response, f camera.Frame) ([]hand.Detection, error) {
	if resp.err != nil {
		return nil, resp.err
	}
	if resp.Error != "" {
		w.failures.Add(1)
		return nil, fmt.Errorf("worker: %s", resp.Error)
	}
	dets := make([]hand.Detection, 0, len(resp.Hands))
	for i, h := range resp.Hands {
		d, err := h.detection()
		if err != nil {
			w.failures.Add(1)
			return nil, fmt.Errorf("hand %d: %w", i, err)
		}
		dets = append(dets, d)
	}
	w.inferences.Add(1)
	w.log.Debug("inference complete",
		"seq", resp.Seq,
		"hands", len(dets),
		"inference_ms", resp.InferenceMS,
		"trace_id", f.TraceID,
	)
	return dets, nil
}

// Stats returns completed inferences, failed ones and discarded late responses.
func (w *Worker) Stats() (inferences, failures, stale uint64) {
	return w.inferences.Load(), w.failures.Load(), w.stale.Load()
}

// Close closes the worker's stdin, which asks it to exit, and kills it if
// it has not exited within two seconds.
func (w *Worker) Close() error {
	if !w.closing.CompareAndSwap(false, true) {
		return nil
	}
	err := w.stdin.Close()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		if w.cmd != nil && w.cmd.Process != nil {
			w.log.Warn("inference worker did not exit, killing it", "pid", w.cmd.Process.Pid)
			w.cmd.Process.Kill()
		}
		<-done
	}
	w.markLost(errors.New("closed"))
	return err
}

func (w *Worker) markLost(cause error) {
	w.lostOnce.Do(func() {
		w.lostErr = fmt.Errorf("%w: %w", ErrEngineLost, cause)
		close(w.lost)
		if !w.closing.Load() {
			w.log.Error("inference worker lost", "error", cause)
		}
	})
}

func (w *Worker) lostError() error {
	select {
	case <-w.lost:
		return w.lostErr
	default:
		return nil
	}
}

// readResults forwards responses until stdout closes.
func (w *Worker) readResults() {
	defer w.wg.Done()
	for {
		var resp response
		if err := readMessage(w.stdout, &resp); err != nil {
			if de, ok := isDecodeError(err); ok {
				resp, ok = w.malformed(de)
				if !ok {
					continue
				}
			} else if errors.Is(err, io.EOF) {
				w.markLost(fmt.Errorf("worker stdout closed"))
				return
			} else {
				w.markLost(fmt.Errorf("read response: %w", err))
				return
			}
		}
		select {
		case w.responses <- resp:
		default:
			w.stale.Add(1)
			w.log.Warn("dropping worker response, nobody waiting", "seq", resp.Seq)
		}
	}
}

// malformed counts an undecodable response and, when its seq can still be
// read, turns it into a failed answer for the waiting request.
func (w *Worker) malformed(de *DecodeError) (response, bool) {
	w.failures.Add(1)
	var hdr struct {
		Seq uint64 `msgpack:"seq"`
	}
	if err := msgpack.Unmarshal(de.Data, &hdr); err != nil || hdr.Seq == 0 {
		w.log.Warn("discarding malformed worker response", "error", de.Err)
		return response{}, false
	}
	w.log.Warn("malformed worker response", "seq", hdr.Seq, "error", de.Err)
	return response{Seq: hdr.Seq, err: fmt.Errorf("malformed response: %w", de)}, true
}

// logStderr maps the worker's log lines to slog levels.
func (w *Worker) logStderr(stderr io.Reader) {
	defer w.wg.Done()
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case containsAny(line, "[ERROR]", "[CRITICAL]"):
			w.log.Error("inference worker error", "log", line)
		case containsAny(line, "[WARNING]", "[WARN]"):
			w.log.Warn("inference worker warning", "log", line)
		default:
			w.log.Debug("inference worker log", "log", line)
		}
	}
}

func (w *Worker) waitProcess() {
	defer w.wg.Done()
	err := w.cmd.Wait()
	if w.closing.Load() {
		w.log.Debug("inference worker exited", "pid", w.cmd.Process.Pid)
		return
	}
	if err == nil {
		err = errors.New("exit status 0")
	}
	w.markLost(fmt.Errorf("worker exited: %w", err))
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
