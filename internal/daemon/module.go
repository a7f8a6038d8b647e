// Package daemon composes the session daemon: one process per session
// holding the lock, the store, the realtime transport and the chat and
// roster controllers, wired together with fx.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/arcadely/chatd/internal/bus"
	"github.com/arcadely/chatd/internal/chat"
	"github.com/arcadely/chatd/internal/config"
	"github.com/arcadely/chatd/internal/history"
	"github.com/arcadely/chatd/internal/lock"
	"github.com/arcadely/chatd/internal/logging"
	"github.com/arcadely/chatd/internal/notify"
	"github.com/arcadely/chatd/internal/roster"
	"github.com/arcadely/chatd/internal/session"
	"github.com/arcadely/chatd/internal/status"
	"github.com/arcadely/chatd/internal/store"
	"github.com/arcadely/chatd/internal/transport"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideGate,
			provideLock,
			provideStore,
			provideHistoryClient,
			provideNotifier,
			provideTransport,
			provideController,
			provideRoster,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideConfig() (*config.Config, error) {
	return config.Load(session.ConfigPath())
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideGate() *status.Gate {
	return status.NewGate()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.AppDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideHistoryClient(cfg *config.Config) *history.Client {
	return history.NewClient(cfg.ServerURL, cfg.Token)
}

func provideNotifier(b *bus.Bus) *notify.Notifier {
	return notify.NewNotifier(notify.PickSink(b), nil)
}

func provideTransport(cfg *config.Config, machine *status.Machine, logger *zap.Logger) *transport.Transport {
	return transport.New(transport.Options{
		URL:      cfg.RealtimeURL,
		Username: cfg.Username,
		Token:    cfg.Token,
	}, machine, logger)
}

func provideController(cfg *config.Config, tr *transport.Transport, db *store.DB, hist *history.Client,
	notifier *notify.Notifier, b *bus.Bus, gate *status.Gate, logger *zap.Logger) *chat.Controller {
	return chat.NewController(cfg.Username, tr, db, hist, notifier, b, gate, logger)
}

func provideRoster(cfg *config.Config, hist *history.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *roster.Controller {
	return roster.New(cfg.Username, hist, db, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, cfg *config.Config, tr *transport.Transport,
	ctrl *chat.Controller, rost *roster.Controller, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// The transport and controller are constructed independently;
			// bind the inbound path before the first connect attempt.
			tr.Bind(ctrl.HandleFrame, ctrl.OnConnect, ctrl.OnDisconnect)

			ctrl.Start()
			rost.Start()

			if cfg.Username == "" || cfg.Token() == "" {
				logger.Warn("username or token missing, realtime channel disabled")
			} else {
				tr.Start(context.Background())
			}

			// Initial roster load; the realtime channel keeps it fresh.
			go func() {
				if err := rost.Refresh(context.Background()); err != nil {
					logger.Warn("initial roster refresh failed", zap.Error(err))
				}
			}()

			return nil
		},
		OnStop: func(_ context.Context) error {
			// Offline presence must go out while the connection is still up,
			// so the controller closes before the transport.
			ctrl.Close()
			tr.Stop()
			rost.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
