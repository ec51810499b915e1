package critical

import (
	"errors"
	"testing"
)

func TestCriticalError_RaiseInvokesAction(t *testing.T) {
	var gotMsg string
	var gotErr error
	c := New(nil, func(message string, err error) {
		gotMsg = message
		gotErr = err
	})

	boom := errors.New("boom")
	c.Raise("failed to forward message to error queue", boom)

	if gotMsg != "failed to forward message to error queue" {
		t.Errorf("unexpected message %q", gotMsg)
	}
	if !errors.Is(gotErr, boom) {
		t.Errorf("expected boom, got %v", gotErr)
	}
	if !errors.Is(c.Last(), boom) {
		t.Errorf("Last() = %v, want boom", c.Last())
	}
}

func TestCriticalError_NilActionOnlyLogs(t *testing.T) {
	c := New(nil, nil)
	c.Raise("nothing to call", errors.New("x"))
	if c.Last() == nil {
		t.Error("expected last error to be recorded")
	}
}
