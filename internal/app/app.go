package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vote-escrow/internal/alerting"
	"vote-escrow/internal/clock"
	"vote-escrow/internal/config"
	"vote-escrow/internal/deposit"
	"vote-escrow/internal/epoch"
	"vote-escrow/internal/escrow"
	"vote-escrow/internal/registry"
	"vote-escrow/internal/scheduler"
	"vote-escrow/internal/server"
	"vote-escrow/internal/service"
	"vote-escrow/internal/storage"
	badgerstore "vote-escrow/internal/storage/badger"
	"vote-escrow/internal/storage/postgres"
	"vote-escrow/internal/storage/sqlite"
	"vote-escrow/internal/version"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	Out    io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

// runtime is an opened escrow with everything it depends on.
type runtime struct {
	backend storage.Backend
	escrow  *escrow.Escrow
	book    *deposit.Book
	closers []func()
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func (a *App) openBackend(ctx context.Context) (storage.Backend, error) {
	db := a.Config.Database
	switch db.Driver {
	case config.DriverSQLite:
		handle, err := sqlite.Open(db.Path)
		if err != nil {
			return nil, err
		}
		return sqlite.NewStore(handle), nil
	case config.DriverBadger:
		return badgerstore.Open(badgerstore.Config{Path: db.Path, SyncWrites: true, Logger: a.Logger})
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, db)
		if err != nil {
			return nil, err
		}
		store := postgres.NewStore(pool, a.Logger)
		if err := store.Migrate(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", db.Driver)
	}
}

func (a *App) newClock(ctx context.Context) (clock.Clock, func(), error) {
	if a.Config.App.Clock != config.ClockChain {
		return clock.NewSystem(0), func() {}, nil
	}
	client, err := ethclient.DialContext(ctx, a.Config.Ethereum.RPCURL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial ethereum rpc: %w", err)
	}
	return clock.NewChain(client), client.Close, nil
}

func (a *App) newAsset(ctx context.Context, backend storage.Backend) (deposit.Asset, *deposit.Book, error) {
	if a.Config.Deposit.Backend == config.DepositERC20 {
		eth := a.Config.Ethereum
		asset, err := deposit.NewERC20(deposit.ERC20Options{
			RPCURL:         eth.RPCURL,
			TokenAddress:   eth.TokenAddress,
			CustodyKey:     eth.CustodyKey,
			ChainID:        eth.ChainID,
			Timeout:        eth.RequestTimeout,
			ReceiptTimeout: eth.ReceiptTimeout,
			PollInterval:   eth.PollInterval,
		}, a.Logger)
		if err != nil {
			return nil, nil, err
		}
		return asset, nil, nil
	}

	book := deposit.NewBook(common.HexToAddress(a.Config.Deposit.Custody), backend)
	if err := book.Load(ctx); err != nil {
		return nil, nil, err
	}
	return book, book, nil
}

func (a *App) newNotifier() alerting.Notifier {
	var out alerting.Fanout
	for _, ch := range a.Config.Alerting.Channels {
		switch ch {
		case alerting.ChannelTelegram:
			cfg := a.Config.Alerting.Telegram
			if cfg.Enabled {
				out = append(out, alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger))
			}
		case alerting.ChannelLog:
			out = append(out, alerting.NewLogNotifier(a.Logger))
		}
	}
	switch len(out) {
	case 0:
		return nil
	case 1:
		return out[0]
	default:
		return out
	}
}

// open assembles the escrow from configuration. Callers must Close the result.
func (a *App) open(ctx context.Context) (*runtime, error) {
	rt := &runtime{}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	backend, err := a.openBackend(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", a.Config.Database.Driver, err)
	}
	rt.backend = backend
	rt.closers = append(rt.closers, func() {
		if err := backend.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("close store")
		}
	})

	clk, closeClock, err := a.newClock(ctx)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeClock)

	asset, book, err := a.newAsset(ctx, backend)
	if err != nil {
		return nil, fmt.Errorf("open deposit asset: %w", err)
	}
	rt.book = book

	reg := registry.NewMemory(backend)
	if err := reg.Load(ctx); err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	e, err := escrow.Open(ctx, escrow.Options{
		Clock:    clk,
		Deposit:  asset,
		Registry: reg,
		Store:    backend,
		Logger:   a.Logger,
		Decimals: a.Config.Deposit.Decimals,
	})
	if err != nil {
		return nil, err
	}
	rt.escrow = e

	ok = true
	return rt, nil
}

// Serve runs the HTTP API and the checkpoint keeper until interrupted.
func (a *App) Serve(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rt, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv, err := server.New(server.Options{
		Escrow:    rt.escrow,
		Journal:   rt.backend,
		Decimals:  a.Config.Deposit.Decimals,
		Symbol:    a.Config.Deposit.Symbol,
		Version:   version.Resolved(),
		RateLimit: a.Config.Server.RateLimit,
		RateBurst: a.Config.Server.RateBurst,
		Logger:    a.Logger,
	})
	if err != nil {
		return err
	}

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: true,
		StartupDelay: a.Config.Scheduler.StartupDelay,
		RunAtStart:   true,
		Boundary: func(t time.Time) time.Time {
			return time.Unix(epoch.Next(t.Unix()), 0).UTC()
		},
	}, a.Logger)
	svc := service.New(a.Config, sched, rt.escrow, rt.backend, a.newNotifier(), a.Logger)

	a.Logger.Info().
		Str("driver", a.Config.Database.Driver).
		Str("deposit", a.Config.Deposit.Backend).
		Uint64("epoch", rt.escrow.Epoch()).
		Msg("starting vecore")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx, a.Config.Server) })
	g.Go(func() error { return svc.Run(gctx) })

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("vecore terminated with error")
		return err
	}

	a.Logger.Info().Msg("vecore stopped")
	return nil
}

// ExportOptions hold parameters for exporting the weight curve.
type ExportOptions struct {
	From       *time.Time
	To         *time.Time
	PNGPath    string
	CSVPath    string
	MaxPoints  int
	PositionID uint64
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit     int
	Positions bool
}
