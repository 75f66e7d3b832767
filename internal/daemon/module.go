// Package daemon wires the runtime together: config, logging, the data-dir
// lock, the mirror store, caches, supervisor, and the command services.
package daemon

import (
	"context"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/obdesk/obdesk/internal/bus"
	"github.com/obdesk/obdesk/internal/cache"
	"github.com/obdesk/obdesk/internal/command"
	"github.com/obdesk/obdesk/internal/config"
	"github.com/obdesk/obdesk/internal/lock"
	"github.com/obdesk/obdesk/internal/logging"
	"github.com/obdesk/obdesk/internal/onebot"
	"github.com/obdesk/obdesk/internal/paths"
	"github.com/obdesk/obdesk/internal/store"
	"github.com/obdesk/obdesk/internal/supervisor"
)

// Services bundles the command surface handed to the transport layer.
type Services struct {
	Conn     *command.ConnService
	Messages *command.MessageService
	Requests *command.RequestService
	Media    *command.MediaService
	Watcher  *command.Watcher
}

// Module builds the fx application module. configPath may be empty; the
// default layout's config path is used then, and a missing file yields an
// empty config.
func Module(configPath string) fx.Option {
	return fx.Options(
		fx.Provide(
			func() (*config.Config, *paths.Layout, error) {
				return loadConfig(configPath)
			},
			func(layout *paths.Layout) (*zap.Logger, error) {
				return logging.New(layout.LogPath())
			},
			bus.New,
			store.NewManager,
			newSupervisor,
			newCaches,
			newServices,
		),
		fx.Invoke(run),
	)
}

// loadConfig resolves the layout from the config file's data_dir. A missing
// config file is not an error; the daemon starts with defaults.
func loadConfig(configPath string) (*config.Config, *paths.Layout, error) {
	if configPath == "" {
		configPath = paths.New("").ConfigPath()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, nil, err
		}
		cfg = &config.Config{}
	}
	return cfg, paths.New(cfg.DataDir), nil
}

func newSupervisor(b *bus.Bus, stores *store.Manager, logger *zap.Logger) *supervisor.Supervisor {
	return supervisor.New(b, stores, logger, func() onebot.Client {
		return onebot.NewWSClient(logger)
	})
}

func newCaches(layout *paths.Layout, sup *supervisor.Supervisor, logger *zap.Logger) *cache.Manager {
	return cache.NewManager(layout, sup, logger)
}

func newServices(sup *supervisor.Supervisor, stores *store.Manager, caches *cache.Manager,
	b *bus.Bus, logger *zap.Logger) *Services {
	return &Services{
		Conn:     command.NewConnService(sup),
		Messages: command.NewMessageService(stores, sup, logger),
		Requests: command.NewRequestService(stores, sup),
		Media:    command.NewMediaService(caches, sup),
		Watcher:  command.NewWatcher(b),
	}
}

// run acquires the data-dir lock, optionally auto-connects, trims history per
// config, and tears everything down on stop.
func run(lc fx.Lifecycle, cfg *config.Config, layout *paths.Layout,
	sup *supervisor.Supervisor, stores *store.Manager, b *bus.Bus, logger *zap.Logger) {
	var dirLock *lock.Lock

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			l, err := lock.Acquire(layout.Base())
			if err != nil {
				return err
			}
			dirLock = l
			logger.Info("daemon started", zap.String("data_dir", layout.Base()))

			if cfg.KeepMessages > 0 {
				go trimOnIdentity(b, stores, cfg.KeepMessages, logger)
			}
			if cfg.Endpoint != "" {
				if err := sup.Connect(cfg.Endpoint, cfg.AccessToken); err != nil {
					logger.Warn("auto connect", zap.Error(err))
				}
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sup.Disconnect()
			stores.CloseAll()
			err := dirLock.Release()
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return err
		},
	})
}

// trimOnIdentity waits for the account identity, then trims that account's
// history to the configured size.
func trimOnIdentity(b *bus.Bus, stores *store.Manager, keep int, logger *zap.Logger) {
	events, cancel := b.Subscribe("conn.self_id", 1)
	defer cancel()

	evt, ok := <-events
	if !ok {
		return
	}
	selfID, _ := evt.Payload.(int64)
	db, err := stores.Get(selfID)
	if err != nil {
		logger.Warn("open mirror for trim", zap.Error(err))
		return
	}
	purged, err := db.TrimMessages(keep)
	if err != nil {
		logger.Warn("trim history", zap.Error(err))
		return
	}
	if purged > 0 {
		logger.Info("history trimmed", zap.Int64("self_id", selfID), zap.Int("purged", purged))
	}
}
