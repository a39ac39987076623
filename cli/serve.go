package cli

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/notifica/server"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

// NewServeCmd creates the "serve" subcommand: the HTTP API behind the
// guardian portal page.
func NewServeCmd(factory AppFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the guardian portal API",
		RunE: withApp(factory, func(cmd *cobra.Command, app *App, _ []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			if addr == "" {
				addr = app.Config.GetPort()
			}
			handler, err := server.New(app.Config, app.Portal, server.WithLogger(app.Logger))
			if err != nil {
				return err
			}

			displayAppName(cmd, app.Config.GetAppName())
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, app, &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second})
		}),
	}
	cmd.Flags().String("addr", "", "Listen address (default: NOTIFICA_PORT)")
	return cmd
}

// serve runs srv until ctx is done, then shuts it down gracefully.
func serve(ctx context.Context, app *App, srv *http.Server) error {
	ln, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return errors.Wrap(err, "[serve] listen")
	}
	app.Logger.Info().Str("addr", ln.Addr().String()).Msg("server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "[serve]")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "[serve] shutdown")
	}
	app.Logger.Info().Msg("server stopped")
	return nil
}

func displayAppName(cmd *cobra.Command, appName string) {
	banner := figure.NewFigure(appName, "cybermedium", true)
	fmt.Fprintln(cmd.OutOrStdout(), banner.String())
}
