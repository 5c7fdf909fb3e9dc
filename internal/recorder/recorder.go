// Package recorder writes raw video frames to a chunked log directory and
// replays them as a frame source.
package recorder

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/banshee-data/facefollow/internal/frame"
	"github.com/banshee-data/facefollow/internal/monitoring"
)

var logf = monitoring.Prefixed("Recorder")

// FileExtension is the extension of frame log directories.
const FileExtension = ".fflog"

// ChunkSize is the number of frames per chunk file. A 960x720 frame is about
// 2MB, so offsets stay well inside uint32.
const ChunkSize = 100

// recordHeaderSize is seq, captured ns, width and height.
const recordHeaderSize = 8 + 8 + 4 + 4

// LogHeader describes a recorded log. It is written on Close.
type LogHeader struct {
	Version     string `json:"version"`
	CreatedNs   int64  `json:"created_ns"`
	SessionID   string `json:"session_id"`
	TotalFrames uint64 `json:"total_frames"`
	StartNs     int64  `json:"start_ns"`
	EndNs       int64  `json:"end_ns"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// IndexEntry locates one frame.
type IndexEntry struct {
	Seq         uint64
	TimestampNs int64
	ChunkID     uint32
	Offset      uint32
}

// Recorder writes frames to a log directory. It is a frame sink and owns
// its files exclusively.
type Recorder struct {
	basePath string

	header       LogHeader
	index        []IndexEntry
	currentChunk int
	chunkFile    *os.File
	chunkOffset  uint32

	frameCount uint64

	mu     sync.Mutex
	closed bool
}

// NewRecorder creates the log directory. An empty basePath creates a
// timestamped directory under the system temp dir.
func NewRecorder(basePath, sessionID string) (*Recorder, error) {
	if basePath == "" {
		basePath = filepath.Join(os.TempDir(), fmt.Sprintf("facefollow_%d%s", time.Now().Unix(), FileExtension))
	}
	if err := os.MkdirAll(filepath.Join(basePath, "frames"), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	return &Recorder{
		basePath:     basePath,
		currentChunk: -1,
		header: LogHeader{
			Version:   "1.0",
			CreatedNs: time.Now().UnixNano(),
			SessionID: sessionID,
		},
	}, nil
}

func (r *Recorder) Name() string { return "recorder" }

// Write records one frame.
func (r *Recorder) Write(f *frame.Frame) error { return r.Record(f) }

// Record appends a length-prefixed frame record to the current chunk.
func (r *Recorder) Record(f *frame.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder is closed")
	}

	ts := f.Captured.UnixNano()
	if r.frameCount == 0 {
		r.header.StartNs = ts
		r.header.Width, r.header.Height = f.Width, f.Height
	}
	r.header.EndNs = ts

	chunkIdx := int(r.frameCount / ChunkSize)
	if chunkIdx != r.currentChunk {
		if err := r.rotateChunk(chunkIdx); err != nil {
			return err
		}
	}

	data := encodeFrame(f)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := r.chunkFile.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if _, err := r.chunkFile.Write(data); err != nil {
		return fmt.Errorf("write frame data: %w", err)
	}

	r.index = append(r.index, IndexEntry{
		Seq:         f.Seq,
		TimestampNs: ts,
		ChunkID:     uint32(chunkIdx),
		Offset:      r.chunkOffset,
	})
	r.chunkOffset += uint32(4 + len(data))
	r.frameCount++
	return nil
}

func (r *Recorder) rotateChunk(chunkIdx int) error {
	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return err
		}
	}
	f, err := os.Create(chunkPath(r.basePath, chunkIdx))
	if err != nil {
		return fmt.Errorf("create chunk file: %w", err)
	}
	r.chunkFile = f
	r.currentChunk = chunkIdx
	r.chunkOffset = 0
	return nil
}

func chunkPath(base string, idx int) string {
	return filepath.Join(base, "frames", fmt.Sprintf("chunk_%04d.bin", idx))
}

// Close flushes the chunk and writes header.json and index.bin. It is
// idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	if r.chunkFile != nil {
		if err := r.chunkFile.Close(); err != nil {
			return fmt.Errorf("close chunk: %w", err)
		}
	}

	r.header.TotalFrames = r.frameCount
	headerData, err := json.MarshalIndent(r.header, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal header: %w", err)
	}
	if err := os.WriteFile(filepath.Join(r.basePath, "header.json"), headerData, 0644); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	indexFile, err := os.Create(filepath.Join(r.basePath, "index.bin"))
	if err != nil {
		return fmt.Errorf("create index file: %w", err)
	}
	defer indexFile.Close()
	for _, entry := range r.index {
		if err := binary.Write(indexFile, binary.LittleEndian, entry); err != nil {
			return fmt.Errorf("write index: %w", err)
		}
	}
	logf("closed %s: %d frames", r.basePath, r.frameCount)
	return nil
}

// Path returns the log directory.
func (r *Recorder) Path() string { return r.basePath }

// FrameCount returns the number of frames recorded.
func (r *Recorder) FrameCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frameCount
}

func encodeFrame(f *frame.Frame) []byte {
	buf := make([]byte, recordHeaderSize+len(f.Pix))
	binary.LittleEndian.PutUint64(buf[0:], f.Seq)
	binary.LittleEndian.PutUint64(buf[8:], uint64(f.Captured.UnixNano()))
	binary.LittleEndian.PutUint32(buf[16:], uint32(f.Width))
	binary.LittleEndian.PutUint32(buf[20:], uint32(f.Height))
	copy(buf[recordHeaderSize:], f.Pix)
	return buf
}

func decodeFrame(data []byte) (*frame.Frame, error) {
	if len(data) < recordHeaderSize {
		return nil, fmt.Errorf("short frame record: %d bytes", len(data))
	}
	seq := binary.LittleEndian.Uint64(data[0:])
	ts := int64(binary.LittleEndian.Uint64(data[8:]))
	w := int(binary.LittleEndian.Uint32(data[16:]))
	h := int(binary.LittleEndian.Uint32(data[20:]))
	pix := make([]byte, len(data)-recordHeaderSize)
	copy(pix, data[recordHeaderSize:])
	return frame.New(seq, time.Unix(0, ts), w, h, pix)
}
