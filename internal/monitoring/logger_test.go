package monitoring

import (
	"fmt"
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) {
		called = true
	})
	Logf("test message")

	if !called {
		t.Error("Custom logger was not called")
	}

	// nil installs a no-op; must not panic
	SetLogger(nil)
	Logf("test message")
}

func TestPrefixed(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	logf := Prefixed("Control")

	var got string
	SetLogger(func(format string, v ...interface{}) {
		got = fmt.Sprintf(format, v...)
	})
	logf("tick %d", 7)

	if got != "[Control] tick 7" {
		t.Errorf("expected %q, got %q", "[Control] tick 7", got)
	}
}
