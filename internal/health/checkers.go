package health

import (
	"context"
	"errors"
)

// Pinger is anything that can probe a remote dependency. The backend client
// satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker builds a [Checker] that passes when p.Ping succeeds.
func PingChecker(name string, p Pinger) Checker {
	return Checker{
		Name:  name,
		Check: p.Ping,
	}
}

// ReadyChecker builds a [Checker] from a boolean readiness probe, for
// dependencies whose state is known locally (the capture controller, the
// camera). failMsg is reported when ready returns false.
func ReadyChecker(name string, ready func() bool, failMsg string) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !ready() {
				return errors.New(failMsg)
			}
			return nil
		},
	}
}
