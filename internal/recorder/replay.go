package recorder

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/banshee-data/facefollow/internal/frame"
	"github.com/banshee-data/facefollow/internal/timeutil"
)

// Replayer reads frames back from a log directory.
type Replayer struct {
	basePath string
	header   LogHeader
	index    []IndexEntry
	clock    timeutil.Clock

	mu           sync.Mutex
	currentFrame uint64
	rate         float64
	currentChunk int
	chunkData    []byte

	// live playback
	playStart time.Time
	playFrom  int64
	last      *frame.Frame
	done      chan struct{}
	doneOnce  sync.Once
}

// NewReplayer opens a log. A nil clock uses wall time.
func NewReplayer(basePath string, clock timeutil.Clock) (*Replayer, error) {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	r := &Replayer{
		basePath:     basePath,
		clock:        clock,
		currentChunk: -1,
		rate:         1.0,
		done:         make(chan struct{}),
	}

	headerData, err := os.ReadFile(filepath.Join(basePath, "header.json"))
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(headerData, &r.header); err != nil {
		return nil, fmt.Errorf("parse header: %w", err)
	}

	indexFile, err := os.Open(filepath.Join(basePath, "index.bin"))
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	defer indexFile.Close()

	r.index = make([]IndexEntry, 0, r.header.TotalFrames)
	for {
		var entry IndexEntry
		if err := binary.Read(indexFile, binary.LittleEndian, &entry); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read index: %w", err)
		}
		r.index = append(r.index, entry)
	}
	return r, nil
}

func (r *Replayer) Header() LogHeader { return r.header }

func (r *Replayer) TotalFrames() uint64 { return uint64(len(r.index)) }

func (r *Replayer) CurrentFrame() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currentFrame
}

// Seek positions the replayer at a frame index.
func (r *Replayer) Seek(frameIdx uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if frameIdx >= uint64(len(r.index)) {
		return fmt.Errorf("frame index out of range: %d >= %d", frameIdx, len(r.index))
	}
	r.currentFrame = frameIdx
	r.playStart = time.Time{}
	return nil
}

// SeekToTimestamp positions the replayer at the first frame at or after
// timestampNs, or the last frame if none is.
func (r *Replayer) SeekToTimestamp(timestampNs int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.index) == 0 {
		return fmt.Errorf("empty log")
	}
	i := sort.Search(len(r.index), func(i int) bool {
		return r.index[i].TimestampNs >= timestampNs
	})
	r.currentFrame = uint64(min(i, len(r.index)-1))
	r.playStart = time.Time{}
	return nil
}

// SetRate sets the playback speed multiplier used by Latest.
func (r *Replayer) SetRate(rate float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rate > 0 {
		r.rate = rate
		r.playStart = time.Time{}
	}
}

// ReadFrame returns the current frame and advances. It returns io.EOF past
// the last frame.
func (r *Replayer) ReadFrame() (*frame.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readLocked()
}

func (r *Replayer) readLocked() (*frame.Frame, error) {
	if r.currentFrame >= uint64(len(r.index)) {
		return nil, io.EOF
	}
	entry := r.index[r.currentFrame]
	if int(entry.ChunkID) != r.currentChunk {
		data, err := os.ReadFile(chunkPath(r.basePath, int(entry.ChunkID)))
		if err != nil {
			return nil, fmt.Errorf("read chunk: %w", err)
		}
		r.chunkData = data
		r.currentChunk = int(entry.ChunkID)
	}

	offset := uint64(entry.Offset)
	if offset+4 > uint64(len(r.chunkData)) {
		return nil, fmt.Errorf("frame %d: invalid offset", r.currentFrame)
	}
	n := uint64(binary.LittleEndian.Uint32(r.chunkData[offset:]))
	offset += 4
	if offset+n > uint64(len(r.chunkData)) {
		return nil, fmt.Errorf("frame %d: invalid length", r.currentFrame)
	}
	f, err := decodeFrame(r.chunkData[offset : offset+n])
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", r.currentFrame, err)
	}
	r.currentFrame++
	return f, nil
}

// Latest plays the log in real time (scaled by the rate): it returns the
// newest frame whose recorded offset has elapsed. After the last frame it
// keeps returning that frame and Done is closed.
func (r *Replayer) Latest() (*frame.Frame, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if r.playStart.IsZero() {
		r.playStart = now
		if r.currentFrame < uint64(len(r.index)) {
			r.playFrom = r.index[r.currentFrame].TimestampNs
		}
	}
	due := r.playFrom + int64(float64(now.Sub(r.playStart))*r.rate)

	for r.currentFrame < uint64(len(r.index)) && r.index[r.currentFrame].TimestampNs <= due {
		f, err := r.readLocked()
		if err != nil {
			return r.last, err
		}
		r.last = f
	}
	if r.currentFrame >= uint64(len(r.index)) {
		r.doneOnce.Do(func() {
			logf("replay of %s finished after %d frames", r.basePath, len(r.index))
			close(r.done)
		})
	}
	return r.last, nil
}

// Done is closed once Latest has served the last frame.
func (r *Replayer) Done() <-chan struct{} { return r.done }

// Close releases the cached chunk.
func (r *Replayer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chunkData = nil
	r.currentChunk = -1
	return nil
}
