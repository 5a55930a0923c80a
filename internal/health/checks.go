package health

import (
	"context"
	"fmt"
	"os"
)

// Pinger is implemented by dependencies with a cheap liveness round trip,
// such as the postgres history store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Readier is implemented by components that become usable some time after
// construction, such as the Discord gateway session.
type Readier interface {
	Ready(ctx context.Context) error
}

// Ping returns a [Checker] that calls p.Ping.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Ready returns a [Checker] that calls r.Ready.
func Ready(name string, r Readier) Checker {
	return Checker{Name: name, Check: r.Ready}
}

// DirWritable returns a [Checker] that creates and removes a temporary file
// in dir. Recordings are written there, so /ecoute fails without it.
func DirWritable(name, dir string) Checker {
	return Checker{Name: name, Check: func(ctx context.Context) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		f, err := os.CreateTemp(dir, ".readyz-*")
		if err != nil {
			return fmt.Errorf("%s not writable: %w", dir, err)
		}
		path := f.Name()
		f.Close()
		return os.Remove(path)
	}}
}
