package entrypoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/loykin/fleetd/internal/service"
)

// frontend accepts connections for a wire-protocol api. It answers each
// client with a one-line greeting and closes; protocol handling lives in
// the platform, not here.
func frontend(n service.Name) Func {
	return func(ctx context.Context, d Deps) error {
		ln, err := d.listen(n)
		if err != nil {
			return err
		}
		d.Log.Info("api listening", "addr", ln.Addr().String())
		go func() {
			<-ctx.Done()
			_ = ln.Close()
		}()
		greeting := fmt.Sprintf("fleetd %s %s\n", n, d.Version)
		var wg sync.WaitGroup
		defer wg.Wait()
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			wg.Add(1)
			go func(c net.Conn) {
				defer wg.Done()
				defer func() { _ = c.Close() }()
				_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
				_, _ = c.Write([]byte(greeting))
			}(conn)
		}
	}
}
