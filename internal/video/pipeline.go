package video

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/dudu/magicmirror/internal/logging"
)

// FrameProcessor transforms one decoded frame. It may return the input Mat
// itself (pass-through) or a newly allocated one; the pipeline owns both
// afterwards.
type FrameProcessor func(index int, frame gocv.Mat) (gocv.Mat, error)

// Progress is a snapshot of pipeline throughput.
type Progress struct {
	Processed  int
	Total      int
	ETASeconds float64
}

// Options configures a pipeline run.
type Options struct {
	Workers    int
	Cancel     *atomic.Bool
	OnProgress func(Progress)
}

// writerPollInterval bounds how long the writer sleeps before re-checking
// for the next in-order frame.
const writerPollInterval = 50 * time.Millisecond

type frameItem struct {
	index int
	frame gocv.Mat
	end   bool
}

// Process runs the staged pipeline: one decoder goroutine feeding a bounded
// queue, opts.Workers workers, and one writer draining an ordered buffer so
// frames land in decode order regardless of completion order. Returns the
// number of frames written. Process takes ownership of the writer and
// closes it; the caller keeps ownership of the reader.
//
// A failing frame passes through unprocessed; decoder or writer failures
// abort the run. Cancellation is observed at the decoder after each frame,
// at each worker before inference, and at the writer before each write; on
// cancellation the partial output file is deleted and ErrCancelled returned.
func Process(reader *Reader, writer *Writer, process FrameProcessor, opts Options) (int, error) {
	log := logging.Component("video")

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	queueCap := 3 * workers
	if queueCap < 5 {
		queueCap = 5
	}

	cancelled := func() bool {
		return opts.Cancel != nil && opts.Cancel.Load()
	}

	var (
		readQueue    = make(chan frameItem, queueCap+workers) // room for sentinels
		buffer       = newOrderedBuffer()
		stopCh       = make(chan struct{})
		stopOnce     sync.Once
		runErr       error
		errMu        sync.Mutex
		decodedTotal atomic.Int64
		processed    atomic.Int64
		written      int
	)
	decodedTotal.Store(-1)

	stop := func(err error) {
		errMu.Lock()
		if runErr == nil && err != nil {
			runErr = err
		}
		errMu.Unlock()
		stopOnce.Do(func() { close(stopCh) })
	}
	stopped := func() bool {
		select {
		case <-stopCh:
			return true
		default:
			return false
		}
	}

	rate := newRateWindow(32)

	var wg sync.WaitGroup

	// Decoder: produces monotonically indexed frames, then one sentinel per
	// worker so every worker terminates deterministically.
	wg.Add(1)
	go func() {
		defer wg.Done()
		idx := 0
		for !cancelled() && !stopped() {
			frame := gocv.NewMat()
			if !reader.Read(&frame) {
				frame.Close()
				break
			}
			readQueue <- frameItem{index: idx, frame: frame}
			idx++
		}
		decodedTotal.Store(int64(idx))
		for i := 0; i < workers; i++ {
			readQueue <- frameItem{end: true}
		}
	}()

	// Workers: stateless with respect to per-call inputs; model sessions are
	// shared behind the processor closure.
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for item := range readQueue {
				if item.end {
					return
				}
				if cancelled() || stopped() {
					item.frame.Close()
					continue
				}

				out, err := process(item.index, item.frame)
				if err != nil {
					log.WithField("frame", item.index).Warnf("frame processing failed, passing through: %v", err)
					out = item.frame
				} else if out.Ptr() != item.frame.Ptr() {
					item.frame.Close()
				}

				buffer.put(item.index, out)

				done := int(processed.Add(1))
				rate.tick()
				if opts.OnProgress != nil {
					total := reader.TotalFrames
					opts.OnProgress(Progress{
						Processed:  done,
						Total:      total,
						ETASeconds: rate.eta(total - done),
					})
				}
			}
		}()
	}

	// Writer: frames leave in decode order, not completion order.
	wg.Add(1)
	go func() {
		defer wg.Done()
		next := 0
		for {
			if cancelled() || stopped() {
				return
			}

			if frame, ok := buffer.take(next); ok {
				err := writer.Write(frame)
				frame.Close()
				if err != nil {
					stop(ErrWriteFailed)
					return
				}
				next++
				written++
				continue
			}

			if total := decodedTotal.Load(); total >= 0 && int64(next) >= total {
				return
			}
			buffer.waitSignal(writerPollInterval)
		}
	}()

	wg.Wait()

	// Release anything stranded by an early stop.
	for {
		select {
		case item := <-readQueue:
			if !item.end {
				item.frame.Close()
			}
			continue
		default:
		}
		break
	}
	buffer.drain()

	closeErr := writer.Close()

	if cancelled() {
		_ = os.Remove(writer.path)
		return written, ErrCancelled
	}

	errMu.Lock()
	err := runErr
	errMu.Unlock()
	if err == nil && closeErr != nil {
		err = ErrWriteFailed
	}
	if err != nil {
		_ = os.Remove(writer.path)
		return written, err
	}
	return written, nil
}

// orderedBuffer holds processed frames keyed by decode index until the
// writer reaches them. It has no cap: memory scales with the worker count,
// not the frame count, because the bounded read queue throttles the decoder.
type orderedBuffer struct {
	mu     sync.Mutex
	items  map[int]gocv.Mat
	notify chan struct{}
}

func newOrderedBuffer() *orderedBuffer {
	return &orderedBuffer{
		items:  make(map[int]gocv.Mat),
		notify: make(chan struct{}, 1),
	}
}

func (b *orderedBuffer) put(index int, frame gocv.Mat) {
	b.mu.Lock()
	b.items[index] = frame
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

func (b *orderedBuffer) take(index int) (gocv.Mat, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	frame, ok := b.items[index]
	if ok {
		delete(b.items, index)
	}
	return frame, ok
}

// waitSignal blocks until a deposit arrives or the timeout elapses.
func (b *orderedBuffer) waitSignal(timeout time.Duration) {
	select {
	case <-b.notify:
	case <-time.After(timeout):
	}
}

func (b *orderedBuffer) drain() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for k, frame := range b.items {
		frame.Close()
		delete(b.items, k)
	}
}

// rateWindow tracks completion timestamps over a sliding window to estimate
// throughput for ETA reporting.
type rateWindow struct {
	mu    sync.Mutex
	size  int
	times []time.Time
}

func newRateWindow(size int) *rateWindow {
	return &rateWindow{size: size}
}

func (r *rateWindow) tick() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.times = append(r.times, time.Now())
	if len(r.times) > r.size {
		r.times = r.times[len(r.times)-r.size:]
	}
}

// eta returns the estimated seconds to process remaining frames at the
// recent average rate, or 0 when unknown.
func (r *rateWindow) eta(remaining int) float64 {
	if remaining <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.times) < 2 {
		return 0
	}
	span := r.times[len(r.times)-1].Sub(r.times[0]).Seconds()
	if span <= 0 {
		return 0
	}
	fps := float64(len(r.times)-1) / span
	if fps <= 0 {
		return 0
	}
	return float64(remaining) / fps
}
