package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"sheetgate/pkg/logging"
)

// ShutdownTimeout bounds the graceful drain of in-flight HTTP requests.
const ShutdownTimeout = 15 * time.Second

// Start launches the background loops and the HTTP listener. On failure the
// parts already started are stopped again.
func (s *Services) Start(ctx context.Context) error {
	if s.sweeper != nil {
		interval := s.config.OAuth.SessionStore.SweepInterval
		if interval <= 0 {
			interval = time.Minute
		}
		s.sweeper.Start(ctx, interval)
	}

	if err := s.Manager.Start(ctx); err != nil {
		s.stopBackground()
		return fmt.Errorf("failed to start token manager: %w", err)
	}

	if s.Watcher != nil {
		if err := s.Watcher.Start(); err != nil {
			// Out-of-band deletions are then only noticed on the next load.
			logging.Warn("Services", "Token directory watcher disabled: %v", err)
			s.Watcher = nil
		}
	}

	if err := s.Server.Start(ctx); err != nil {
		s.stopBackground()
		return err
	}

	logging.Info("Services", "Listening on %s (public URL %s)", s.Server.Addr(), s.config.Server.PublicURL)
	return nil
}

// Stop drains the HTTP server, then stops the background loops and closes
// backend connections. Safe to call after a partial Start.
func (s *Services) Stop(ctx context.Context) error {
	err := s.Server.Shutdown(ctx)
	s.stopBackground()
	s.Close()
	return err
}

func (s *Services) stopBackground() {
	if s.Watcher != nil {
		if err := s.Watcher.Stop(); err != nil {
			logging.Warn("Services", "Error stopping token directory watcher: %v", err)
		}
	}
	s.Manager.Stop()
	if s.sweeper != nil {
		s.sweeper.Stop()
	}
}

// runServer is the serve lifecycle: start everything, report readiness to
// systemd when run as a notify unit, and block until a signal, ctx
// cancellation or a server failure.
//
// Signal Handling:
//   - SIGINT (Ctrl+C): Triggers graceful shutdown
//   - SIGTERM: Triggers graceful shutdown (common in container environments)
func runServer(ctx context.Context, services *Services) error {
	if err := services.Start(ctx); err != nil {
		logging.Error("Lifecycle", err, "Failed to start services")
		services.Close()
		return err
	}
	notifySystemd(daemon.SdNotifyReady)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var runErr error
	select {
	case sig := <-sigChan:
		logging.Info("Lifecycle", "Received %s, shutting down", sig)
	case <-ctx.Done():
		logging.Info("Lifecycle", "Context cancelled, shutting down")
	case err := <-services.Server.Errors():
		logging.Error("Lifecycle", err, "HTTP server failed")
		runErr = err
	}

	notifySystemd(daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := services.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Warn("Lifecycle", "Graceful shutdown incomplete: %v", err)
		if runErr == nil {
			runErr = err
		}
	}

	logging.Info("Lifecycle", "Shutdown complete")
	return runErr
}

// notifySystemd is a no-op outside a systemd notify unit.
func notifySystemd(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		logging.Debug("Lifecycle", "sd_notify %q failed: %v", state, err)
		return
	}
	if sent {
		logging.Debug("Lifecycle", "sd_notify %q sent", state)
	}
}
