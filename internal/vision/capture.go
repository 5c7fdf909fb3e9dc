package vision

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gocv.io/x/gocv"

	"github.com/banshee-data/facefollow/internal/frame"
	"github.com/banshee-data/facefollow/internal/monitoring"
)

var logf = monitoring.Prefixed("Vision")

// ErrStreamStalled is returned by Latest after the decoder failed to read a
// frame for longer than the stall timeout.
var ErrStreamStalled = errors.New("vision: video stream stalled")

// StreamCapture decodes a video stream in the background and keeps only the
// newest frame.
type StreamCapture struct {
	url          string
	stallTimeout time.Duration

	capture *gocv.VideoCapture
	stop    atomic.Bool
	done    chan struct{}

	mu       sync.Mutex
	latest   *frame.Frame
	lastRead time.Time
	seq      uint64

	closeOnce sync.Once
}

// OpenStream starts decoding url, e.g. "udp://@0.0.0.0:11111".
func OpenStream(url string, stallTimeout time.Duration) (*StreamCapture, error) {
	if os.Getenv("OPENCV_FFMPEG_CAPTURE_OPTIONS") == "" {
		os.Setenv("OPENCV_FFMPEG_CAPTURE_OPTIONS", "fflags;nobuffer|flags;low_delay")
	}
	vc, err := gocv.VideoCaptureFile(url)
	if err != nil {
		return nil, err
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	s := &StreamCapture{
		url:          url,
		stallTimeout: stallTimeout,
		capture:      vc,
		done:         make(chan struct{}),
		lastRead:     time.Now(),
	}
	go s.decode()
	logf("decoding %s", url)
	return s, nil
}

func (s *StreamCapture) decode() {
	defer close(s.done)
	img := gocv.NewMat()
	defer img.Close()

	for !s.stop.Load() {
		if ok := s.capture.Read(&img); !ok || img.Empty() {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.mu.Lock()
		s.seq++
		seq := s.seq
		s.mu.Unlock()

		now := time.Now()
		f, err := FromMat(seq, now, img)
		if err != nil {
			logf("decode: %v", err)
			continue
		}
		s.mu.Lock()
		s.latest = f
		s.lastRead = now
		s.mu.Unlock()
	}
}

// Latest returns the newest frame, nil before the first one.
func (s *StreamCapture) Latest() (*frame.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stallTimeout > 0 && time.Since(s.lastRead) > s.stallTimeout {
		return nil, ErrStreamStalled
	}
	return s.latest, nil
}

// Close stops the decoder. The capture is released only once the decode
// goroutine has returned; a read stuck inside FFmpeg leaks it instead.
func (s *StreamCapture) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.stop.Store(true)
		select {
		case <-s.done:
			err = s.capture.Close()
		case <-time.After(2 * time.Second):
			logf("decoder for %s did not stop, leaking capture", s.url)
		}
	})
	return err
}

// DeferredStream opens its StreamCapture on the first Latest call, in the
// background, since probing a UDP stream blocks until the sender starts.
// Latest returns nil until the capture is open.
type DeferredStream struct {
	url          string
	stallTimeout time.Duration
	once         sync.Once

	mu      sync.Mutex
	capture *StreamCapture
	err     error
	closed  bool
}

func NewDeferredStream(url string, stallTimeout time.Duration) *DeferredStream {
	return &DeferredStream{url: url, stallTimeout: stallTimeout}
}

func (d *DeferredStream) open() {
	c, err := OpenStream(d.url, d.stallTimeout)
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed && c != nil {
		go c.Close()
		return
	}
	d.capture, d.err = c, err
}

func (d *DeferredStream) Latest() (*frame.Frame, error) {
	d.once.Do(func() { go d.open() })
	d.mu.Lock()
	c, err := d.capture, d.err
	d.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if c == nil {
		return nil, nil
	}
	return c.Latest()
}

func (d *DeferredStream) Close() error {
	d.mu.Lock()
	d.closed = true
	c := d.capture
	d.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}
