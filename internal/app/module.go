// Package app wires the components of one profile with fx.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/textile/internal/alert"
	"github.com/matheus3301/textile/internal/bills"
	"github.com/matheus3301/textile/internal/bus"
	"github.com/matheus3301/textile/internal/classify"
	"github.com/matheus3301/textile/internal/config"
	"github.com/matheus3301/textile/internal/export"
	"github.com/matheus3301/textile/internal/importer"
	"github.com/matheus3301/textile/internal/lock"
	"github.com/matheus3301/textile/internal/logging"
	"github.com/matheus3301/textile/internal/profile"
	"github.com/matheus3301/textile/internal/rewrite"
	"github.com/matheus3301/textile/internal/store"
)

// Params holds the resolved profile and configuration.
type Params struct {
	Profile string
	Config  *config.Config
}

// Components is what a command can ask for.
type Components struct {
	fx.In

	Logger   *zap.Logger
	Bus      *bus.Bus
	DB       *store.DB
	Importer *importer.Importer
	Rewriter *rewrite.Rewriter
	Scanner  *alert.Scanner
	Bills    *bills.Tracker
	Exporter *export.Exporter
}

// Module returns the fx module for a profile.
func Module(p Params) fx.Option {
	return fx.Module("textile",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			bus.New,
			provideLock,
			provideStore,
			provideClassifier,
			provideImporter,
			provideRewriter,
			provideScanner,
			provideTracker,
			export.New,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	return logging.New(profile.LogPath(p.Profile), p.Profile, p.Config.Log.Level)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Debug("profile lock acquired", zap.String("profile", p.Profile))
	return l, nil
}

// The lock parameter orders store opening after lock acquisition.
func provideStore(p Params, logger *zap.Logger, _ *lock.Lock) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	schema, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if schema.Applied > 0 {
		logger.Info("migrations applied", zap.Int("count", schema.Applied), zap.Uint("version", schema.Version))
	}
	logger.Debug("store initialized", zap.String("path", dbPath), zap.Uint("version", schema.Version))
	return db, nil
}

func provideClassifier(p Params) *classify.Classifier {
	return classify.New(classify.WithOTPExpiry(p.Config.Classify.OTPExpiry.Std()))
}

func provideImporter(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger, c *classify.Classifier) *importer.Importer {
	opts := importer.DefaultOptions()
	opts.ChunkSize = p.Config.Import.ChunkSize
	opts.ChunkDelay = p.Config.Import.ChunkDelay.Std()
	opts.Limits = p.Config.Limits.Policy()
	return importer.New(db, b, logger.Named("importer"), c, opts)
}

func provideRewriter(p Params, b *bus.Bus, logger *zap.Logger) *rewrite.Rewriter {
	sink := rewrite.DirSink{Dir: profile.OutputDir(p.Profile)}
	return rewrite.New(sink, p.Config.Limits.Policy(), b, logger.Named("rewrite"))
}

func provideScanner(p Params, db *store.DB, b *bus.Bus, logger *zap.Logger) *alert.Scanner {
	return alert.NewScanner(db, b, logger.Named("alert"),
		p.Config.Alert.Interval.Std(), p.Config.Alert.Lookback.Std())
}

func provideTracker(db *store.DB, logger *zap.Logger) *bills.Tracker {
	return bills.NewTracker(db, logger.Named("bills"))
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, scanner *alert.Scanner, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			scanner.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			_ = logger.Sync()
			return nil
		},
	})
}
