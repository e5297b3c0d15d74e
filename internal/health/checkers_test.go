package health

import (
	"context"
	"errors"
	"testing"
)

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func TestPingChecker(t *testing.T) {
	ok := PingChecker("backend", fakePinger{})
	if ok.Name != "backend" {
		t.Errorf("Name = %q", ok.Name)
	}
	if err := ok.Check(context.Background()); err != nil {
		t.Errorf("Check() error = %v, want nil", err)
	}

	down := PingChecker("backend", fakePinger{err: errors.New("connection refused")})
	if err := down.Check(context.Background()); err == nil {
		t.Error("Check() = nil, want error")
	}
}

func TestReadyChecker(t *testing.T) {
	ready := false
	c := ReadyChecker("capture", func() bool { return ready }, "no audio input device")

	err := c.Check(context.Background())
	if err == nil || err.Error() != "no audio input device" {
		t.Errorf("Check() error = %v", err)
	}

	ready = true
	if err := c.Check(context.Background()); err != nil {
		t.Errorf("Check() error = %v, want nil", err)
	}
}
