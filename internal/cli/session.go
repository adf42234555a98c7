package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/roach88/docgrove/internal/config"
	"github.com/roach88/docgrove/internal/contract"
	"github.com/roach88/docgrove/internal/grove"
	"github.com/roach88/docgrove/internal/kv"
	"github.com/roach88/docgrove/internal/metrics"
	"github.com/roach88/docgrove/internal/token"
)

// session is an open store plus the settings and logger of one command.
type session struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *grove.DB
}

// resolveConfig loads the config file and applies the global flag
// overrides. A --db path without --backend selects sqlite when the
// configured backend is memory.
func resolveConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Backend != "" {
		cfg.Store.Backend = opts.Backend
	}
	if opts.DB != "" {
		cfg.Store.Path = opts.DB
		if opts.Backend == "" && kv.Kind(cfg.Store.Backend) == kv.KindMemory {
			cfg.Store.Backend = string(kv.KindSQLite)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the slog logger for a command. Logs go to stderr so they
// never mix with command output; --verbose lowers the level to debug.
func newLogger(cfg *config.Config, opts *RootOptions, w io.Writer) *slog.Logger {
	level, _ := cfg.Log.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if opts.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}

// openSession resolves the configuration and opens the store.
func openSession(opts *RootOptions, logOut io.Writer) (*session, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	logger := newLogger(cfg, opts, logOut)
	metrics.SetEnabled(cfg.Metrics.Enabled)

	backend, err := kv.Open(kv.Kind(cfg.Store.Backend), cfg.Store.Path, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open store", err)
	}
	logger.Debug("store opened", "backend", cfg.Store.Backend, "path", cfg.Store.Path)

	return &session{
		cfg:    cfg,
		logger: logger,
		db:     grove.Open(backend, grove.WithLogger(logger)),
	}, nil
}

func (s *session) Close() {
	if err := s.db.Close(); err != nil {
		s.logger.Error("error closing store", "error", err)
	}
}

// ensureContract registers c unless the store already holds it at the same
// or a higher version. It returns the contract as stored.
func (s *session) ensureContract(ctx context.Context, p *token.Processor, c *contract.DataContract) (*contract.DataContract, bool, error) {
	reg := contract.NewRegistry(s.logger)
	var stored *contract.DataContract
	err := s.db.View(ctx, func(tx *grove.Tx) error {
		var ferr error
		stored, ferr = reg.Fetch(tx, c.ID)
		return ferr
	})
	switch {
	case errors.Is(err, contract.ErrContractNotFound):
	case err != nil:
		return nil, false, err
	case stored.Version >= c.Version:
		return stored, false, nil
	}

	if err := p.RegisterIdentities(ctx, c.OwnerID); err != nil {
		return nil, false, err
	}
	if err := p.RegisterContract(ctx, c); err != nil {
		return nil, false, fmt.Errorf("register contract %s: %w", c.ID, err)
	}
	s.logger.Info("contract registered", "contract", c.ID.String(), "version", c.Version)
	return c, true, nil
}

// loadContracts loads every contract in dir.
func loadContracts(dir string) ([]*contract.DataContract, error) {
	contracts, err := contract.LoadCUE(dir)
	if err != nil {
		return nil, err
	}
	if len(contracts) == 0 {
		return nil, fmt.Errorf("no contracts found in %s", dir)
	}
	return contracts, nil
}

// pickContract selects the contract named by id, or the only contract when
// id is empty.
func pickContract(contracts []*contract.DataContract, id string) (*contract.DataContract, error) {
	if id == "" {
		if len(contracts) != 1 {
			return nil, fmt.Errorf("%d contracts loaded; choose one with --contract", len(contracts))
		}
		return contracts[0], nil
	}
	for _, c := range contracts {
		if c.ID.String() == id {
			return c, nil
		}
	}
	return nil, fmt.Errorf("contract %s not found", id)
}
