package http

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/speedrun-hq/fundgraph/logging"
)

const shutdownTimeout = 10 * time.Second

// StartAsync serves srv in the background. The returned channel receives the
// listener error if the server stops for any reason other than shutdown.
func StartAsync(srv *http.Server, logger zerolog.Logger) (shutdownFunc func(context.Context), errs <-chan error) {
	logger = logger.With().Str(logging.FieldModule, "http").Str("addr", srv.Addr).Logger()
	errCh := make(chan error, 1)

	go func() {
		logger.Info().Msg("Starting HTTP server")

		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Err(err).Msg("HTTP server error")
			errCh <- errors.Wrap(err, "http server stopped")
		}
	}()

	shutdownFunc = func(ctx context.Context) {
		logger.Info().Msg("Shutting down HTTP server")

		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logger.Err(err).Msg("Failed to shutdown HTTP server")
			return
		}

		logger.Info().Msg("HTTP server shutdown complete")
	}

	return shutdownFunc, errCh
}
