package ledger

import (
	"context"
	"fmt"

	"tournament-desk/internal/config"
	"tournament-desk/internal/ledger/httpapi"
	"tournament-desk/internal/ledger/sqlite"
	"tournament-desk/internal/sheets"
)

var (
	_ Store   = (*sqlite.Store)(nil)
	_ Store   = (*sheets.Client)(nil)
	_ Backend = (*httpapi.Client)(nil)
)

// Open returns the configured ledger. The second result is non-nil when the
// ledger is local and can be served or administered.
func Open(ctx context.Context, cfg config.Config) (Backend, Store, error) {
	switch cfg.LedgerBackend {
	case config.BackendSQLite:
		st, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	case config.BackendSheets:
		st, err := sheets.New(ctx, sheets.Config{
			CredentialsFile: cfg.GoogleServiceAccountJSON,
			SpreadsheetID:   cfg.SpreadsheetID,
			PhotoFolderID:   cfg.PhotoFolderID,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := st.EnsureHeaders(ctx); err != nil {
			return nil, nil, fmt.Errorf("prepare sheets: %w", err)
		}
		return st, st, nil
	case config.BackendHTTP:
		c, err := httpapi.New(cfg.LedgerURL, cfg.RequestTimeout)
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend: %s", cfg.LedgerBackend)
	}
}

// OpenStore is Open for callers that need a local ledger.
func OpenStore(ctx context.Context, cfg config.Config) (Store, error) {
	_, st, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, fmt.Errorf("ledger backend %s is remote; administer it on its own host", cfg.LedgerBackend)
	}
	return st, nil
}
