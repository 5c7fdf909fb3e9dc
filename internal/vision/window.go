package vision

import (
	"runtime"

	"gocv.io/x/gocv"

	"github.com/banshee-data/facefollow/internal/control"
	"github.com/banshee-data/facefollow/internal/frame"
)

// WindowSink shows frames in a HighGUI window and forwards keystrokes. All
// window calls happen on the sink's goroutine, which it locks to its OS
// thread on the first frame.
type WindowSink struct {
	title  string
	window *gocv.Window
	keys   chan control.Key
}

// NewWindowSink creates the sink; the window opens on the first frame.
func NewWindowSink(title string) *WindowSink {
	return &WindowSink{title: title, keys: make(chan control.Key, 8)}
}

func (w *WindowSink) Name() string { return "display" }

// Keys delivers keystrokes to the control loop. It is never closed.
func (w *WindowSink) Keys() <-chan control.Key { return w.keys }

func (w *WindowSink) Write(f *frame.Frame) error {
	if w.window == nil {
		runtime.LockOSThread()
		w.window = gocv.NewWindow(w.title)
	}
	img, err := ToMat(f)
	if err != nil {
		return err
	}
	defer img.Close()
	w.window.IMShow(img)

	if k := w.window.WaitKey(1); k >= 0 {
		select {
		case w.keys <- control.Key(k & 0xff):
		default:
			logf("key %q dropped, loop not reading", rune(k&0xff))
		}
	}
	return nil
}

func (w *WindowSink) Close() error {
	if w.window == nil {
		return nil
	}
	err := w.window.Close()
	w.window = nil
	runtime.UnlockOSThread()
	return err
}
