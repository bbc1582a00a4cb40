package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"

	"github.com/trickstertwo/xproxy"
	"github.com/trickstertwo/xproxy/adapter/websocket"
)

// DefaultServeCaller names the serving endpoint. It must differ from the
// requesting side's caller, or requests are skipped as our own echo.
const DefaultServeCaller = "xproxy-serve"

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Caller string
	Listen string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Answer requests with the built-in handlers",
		Long: `Answer requests with the built-in handlers:

  ping   replies "pong"
  echo   replies with the request content
  time   replies with the current time (RFC 3339)

By default requests are read from the configured receive channel and replies
posted to the send channel. With --listen, websocket clients are accepted on
<addr>/ws instead and each connection is served on its own.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Caller, "caller", DefaultServeCaller, "endpoint name stamped on replies")
	cmd.Flags().StringVar(&opts.Listen, "listen", "", "accept websocket clients on this address")

	return cmd
}

// registerBuiltins installs the handlers served by the serve command.
func registerBuiltins(r *xproxy.Responder, clock xclock.Clock) {
	r.Handle("ping", func(context.Context, *xproxy.Request) (any, error) {
		return "pong", nil
	})
	r.Handle("echo", func(_ context.Context, req *xproxy.Request) (any, error) {
		return req.Envelope.Message.Content, nil
	})
	r.Handle("time", func(context.Context, *xproxy.Request) (any, error) {
		return clock.Now().UTC().Format(time.RFC3339Nano), nil
	})
}

func runServe(cmd *cobra.Command, opts *ServeOptions) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics, err := startMetrics(cfg.Metrics, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "start metrics", err)
	}
	defer metrics.Close(context.Background())

	newResponder := func(receive, reply xproxy.Channel) *xproxy.Responder {
		r := xproxy.NewResponder(xproxy.ResponderConfig{
			Prefix:         cfg.Prefix,
			Caller:         opts.Caller,
			ReceiveChannel: receive,
			ReplyChannel:   reply,
		},
			xproxy.WithResponderLogger(logger),
			xproxy.WithResponderObserver(metrics.observers()...),
			xproxy.WithResponderMiddleware(xproxy.TimeoutMiddleware(cfg.Timeout)),
		)
		registerBuiltins(r, xclock.Default())
		return r
	}

	if opts.Listen != "" {
		return serveWebSocket(ctx, opts.Listen, newResponder, logger)
	}

	ch, err := openChannels(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "open channels", err)
	}
	defer ch.Close(context.Background())

	responder := newResponder(ch.receive, ch.send)
	if err := responder.Listen(ctx); err != nil {
		return WrapExitError(ExitCommandError, "listen", err)
	}
	logger.Info().Str("caller", opts.Caller).Str("transport", cfg.Send.Transport).Msg("serving")

	<-ctx.Done()
	return responder.Close(context.Background())
}

func serveWebSocket(ctx context.Context, addr string, newResponder func(receive, reply xproxy.Channel) *xproxy.Responder, logger *xlog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			logger.Warn().Err(err).Msg("websocket accept failed")
			return
		}
		responder := newResponder(conn, conn)
		if err := responder.Listen(ctx); err != nil {
			_ = conn.Close(context.Background())
			return
		}
		select {
		case <-conn.Done():
		case <-ctx.Done():
		}
		_ = responder.Close(context.Background())
		_ = conn.Close(context.Background())
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("accepting websocket clients")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return WrapExitError(ExitCommandError, "websocket server", err)
	}
	return nil
}
