package vision

import (
	"fmt"
	"path/filepath"

	"gocv.io/x/gocv"

	"github.com/banshee-data/facefollow/internal/frame"
	"github.com/banshee-data/facefollow/internal/timeutil"
)

// VideoWriterSink records frames to an MP4 file opened on the first frame.
type VideoWriterSink struct {
	Dir   string
	FPS   float64
	Codec string
	clock timeutil.Clock

	writer        *gocv.VideoWriter
	path          string
	width, height int
	written       int
}

// NewVideoWriterSink writes video_<timestamp>.mp4 files into dir at 30fps.
func NewVideoWriterSink(dir string, clock timeutil.Clock) *VideoWriterSink {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &VideoWriterSink{Dir: dir, FPS: 30, Codec: "mp4v", clock: clock}
}

func (v *VideoWriterSink) Name() string { return "video" }

// Path is the output file, empty until the first frame.
func (v *VideoWriterSink) Path() string { return v.path }

func (v *VideoWriterSink) Write(f *frame.Frame) error {
	if v.writer == nil {
		name := fmt.Sprintf("video_%s.mp4", v.clock.Now().Format("2006-01-02_15-04-05"))
		v.path = filepath.Join(v.Dir, name)
		w, err := gocv.VideoWriterFile(v.path, v.Codec, v.FPS, f.Width, f.Height, true)
		if err != nil {
			return fmt.Errorf("open %s: %w", v.path, err)
		}
		v.writer, v.width, v.height = w, f.Width, f.Height
		logf("recording %dx%d to %s", f.Width, f.Height, v.path)
	}
	if f.Width != v.width || f.Height != v.height {
		return fmt.Errorf("frame %d is %dx%d, recording is %dx%d", f.Seq, f.Width, f.Height, v.width, v.height)
	}
	img, err := ToMat(f)
	if err != nil {
		return err
	}
	defer img.Close()
	if err := v.writer.Write(img); err != nil {
		return fmt.Errorf("write frame %d: %w", f.Seq, err)
	}
	v.written++
	return nil
}

func (v *VideoWriterSink) Close() error {
	if v.writer == nil {
		return nil
	}
	logf("closed %s after %d frames", v.path, v.written)
	err := v.writer.Close()
	v.writer = nil
	return err
}
