package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/diagrammer/internal/api"
	"github.com/rendis/diagrammer/internal/service"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr  string
		grace time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `serve exposes the generation, assistant and validation endpoints under
/api/v1 plus health and Prometheus metrics. SIGHUP reloads the settings file
and swaps in a freshly wired API without dropping the listener.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			wire := func() (*service.Runtime, *api.Server, error) {
				rt, err := root.runtime(cmd, true, nil)
				if err != nil {
					return nil, nil, err
				}
				if err := rt.Start(ctx); err != nil {
					closeRuntime(rt)
					return nil, nil, err
				}
				return rt, api.FromRuntime(rt, version), nil
			}

			rt, srv, err := wire()
			if err != nil {
				return err
			}
			listen := rt.Config.ListenAddr
			if changed(cmd, "listen-addr") {
				listen = addr
			}

			live := &liveAPI{rt: rt, srv: srv, swapper: newHandlerSwapper(srv.Handler())}
			defer live.close()

			hup := make(chan os.Signal, 1)
			signal.Notify(hup, syscall.SIGHUP)
			defer signal.Stop(hup)
			go func() {
				for {
					select {
					case <-ctx.Done():
						return
					case <-hup:
						nrt, nsrv, err := wire()
						if err != nil {
							live.logger().Error("reload failed, keeping current configuration", slog.String("error", err.Error()))
							continue
						}
						live.replace(nrt, nsrv)
						nrt.Logger.Info("configuration reloaded")
					}
				}
			}()

			return api.ListenAndServe(ctx, listen, live.swapper, grace, rt.Logger, live.closeStreams)
		},
	}
	cmd.Flags().StringVar(&addr, "listen-addr", ":8000", "TCP listen address (overrides listen_addr)")
	cmd.Flags().DurationVar(&grace, "shutdown-grace", 15*time.Second, "time allowed for in-flight requests on shutdown")
	return cmd
}

// liveAPI tracks the runtime and server currently behind the swapper.
type liveAPI struct {
	mu      sync.Mutex
	rt      *service.Runtime
	srv     *api.Server
	swapper *handlerSwapper
}

func (l *liveAPI) logger() *slog.Logger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rt.Logger
}

// replace swaps in the new API, then ends the previous one's streams and
// drains its runtime.
func (l *liveAPI) replace(rt *service.Runtime, srv *api.Server) {
	l.mu.Lock()
	oldRT, oldSrv := l.rt, l.srv
	l.rt, l.srv = rt, srv
	l.swapper.Swap(srv.Handler())
	l.mu.Unlock()

	oldSrv.Close()
	go closeRuntime(oldRT)
}

func (l *liveAPI) closeStreams() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.srv.Close()
}

func (l *liveAPI) close() {
	l.mu.Lock()
	rt := l.rt
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := rt.Close(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown: %v\n", err)
	}
}
