package cmd

import (
	"context"
	"log/slog"

	"github.com/Aman-CERP/indexkeeper/internal/config"
	"github.com/Aman-CERP/indexkeeper/internal/daemon"
	"github.com/Aman-CERP/indexkeeper/internal/identity"
	"github.com/Aman-CERP/indexkeeper/internal/search"
	"github.com/Aman-CERP/indexkeeper/internal/service"
)

// backend is what CLI commands run against: the daemon when it is up, an
// in-process service otherwise.
type backend interface {
	Search(ctx context.Context, p daemon.SearchParams) (*search.Result, error)
	Suggest(ctx context.Context, p daemon.SearchParams) (*search.Result, error)
	Index(ctx context.Context, p daemon.IndexParams) (bool, error)
	Delete(ctx context.Context, p daemon.DeleteParams) (bool, error)
	DirectoryQuery(ctx context.Context, p daemon.DirectoryQueryParams) ([]identity.Identity, error)
	DirectoryChanged(ctx context.Context, p daemon.DirectoryChangedParams) error
	Close() error
}

type remoteBackend struct {
	*daemon.Client
}

func (remoteBackend) Close() error { return nil }

type localBackend struct {
	svc *service.Service
}

func (b localBackend) Search(ctx context.Context, p daemon.SearchParams) (*search.Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return b.svc.Search(ctx, p)
}

func (b localBackend) Suggest(ctx context.Context, p daemon.SearchParams) (*search.Result, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return b.svc.Suggest(ctx, p)
}

func (b localBackend) Index(ctx context.Context, p daemon.IndexParams) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}
	res, err := b.svc.Index(ctx, p)
	return res.Applied, err
}

func (b localBackend) Delete(ctx context.Context, p daemon.DeleteParams) (bool, error) {
	if err := p.Validate(); err != nil {
		return false, err
	}
	res, err := b.svc.Delete(ctx, p)
	return res.Applied, err
}

func (b localBackend) DirectoryQuery(ctx context.Context, p daemon.DirectoryQueryParams) ([]identity.Identity, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return b.svc.DirectoryQuery(ctx, p)
}

func (b localBackend) DirectoryChanged(ctx context.Context, p daemon.DirectoryChangedParams) error {
	if err := p.Validate(); err != nil {
		return err
	}
	return b.svc.DirectoryChanged(ctx, p)
}

func (b localBackend) Close() error { return b.svc.Close() }

// openBackend connects to the daemon unless local is set or the daemon is
// not running, in which case the indexes are opened in this process.
func openBackend(ctx context.Context, cfg *config.Config, local bool) (backend, error) {
	if !local {
		dcfg := daemonConfig(cfg)
		client := daemon.NewClient(dcfg)
		if client.IsRunning() {
			slog.Debug("using_daemon", slog.String("socket", dcfg.SocketPath))
			return remoteBackend{client}, nil
		}
		slog.Debug("daemon_not_running_using_local")
	}

	svc, err := service.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return localBackend{svc: svc}, nil
}

// daemonConfig derives the daemon settings from cfg.
func daemonConfig(cfg *config.Config) daemon.Config {
	d := daemon.DefaultConfig(config.DataDir())
	if cfg.Daemon.Socket != "" {
		d.SocketPath = cfg.Daemon.Socket
	}
	if cfg.Daemon.PIDFile != "" {
		d.PIDPath = cfg.Daemon.PIDFile
	}
	return d
}
