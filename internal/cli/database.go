package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/deeds/internal/kvstore"
	"github.com/roach88/deeds/internal/ledger"
	"github.com/roach88/deeds/internal/store"
)

// ValidBackends defines the allowed storage backends.
var ValidBackends = []string{"sqlite", "badger"}

// DBOptions selects the contract database of a command.
type DBOptions struct {
	Database string
	Backend  string
}

func addDBFlags(cmd *cobra.Command, opts *DBOptions) {
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the contract database (required)")
	cmd.Flags().StringVar(&opts.Backend, "backend", "sqlite", "storage backend (sqlite|badger)")
	_ = cmd.MarkFlagRequired("db")
}

func (o *DBOptions) validate() error {
	if !slices.Contains(ValidBackends, o.Backend) {
		return NewExitError(ExitCommandError,
			fmt.Sprintf("invalid backend %q: must be one of %v", o.Backend, ValidBackends))
	}
	return nil
}

// creator returns the factory that creates a new contract database.
func (o *DBOptions) creator() (ledger.CreateFunc, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	if o.Backend == "badger" {
		cfg := kvstore.DefaultConfig(o.Database)
		cfg.Logger = slog.Default()
		return kvstore.Creator(cfg), nil
	}
	return store.Creator(o.Database), nil
}

// errNoContract reports whether err says the database is empty.
func errNoContract(err error) bool {
	return errors.Is(err, store.ErrNoContract) || errors.Is(err, kvstore.ErrNoContract)
}

// openStock opens an existing contract database.
func (o *DBOptions) openStock() (ledger.Stock, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}
	if _, err := os.Stat(o.Database); os.IsNotExist(err) {
		return nil, NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", o.Database))
	}
	var (
		stock ledger.Stock
		err   error
	)
	if o.Backend == "badger" {
		cfg := kvstore.DefaultConfig(o.Database)
		cfg.Logger = slog.Default()
		stock, err = kvstore.Open(cfg)
	} else {
		stock, err = store.Open(o.Database)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return stock, nil
}

// openLedger opens the ledger of an existing contract database.
func (o *DBOptions) openLedger() (*ledger.Ledger, error) {
	stock, err := o.openStock()
	if err != nil {
		return nil, err
	}
	l, err := ledger.Load(stock, ledger.WithLogger(slog.Default()))
	if err != nil {
		stock.Close()
		return nil, WrapExitError(ExitCommandError, "failed to load ledger", err)
	}
	return l, nil
}

// closeLedger closes l, logging instead of failing the command.
func closeLedger(l *ledger.Ledger) {
	if err := l.Close(); err != nil {
		slog.Error("error closing database", "error", err)
	}
}
