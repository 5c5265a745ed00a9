package monitor

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("monitor",
	fx.Provide(NewLocker),
	fx.Provide(New),
)

// Run wires the monitor loop into the fx lifecycle.
func Run(lc fx.Lifecycle, m *Monitor) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				m.RunForever(ctx)
			}()
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			<-done
			return nil
		},
	})
}
