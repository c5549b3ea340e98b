package sheets

import (
	"context"
	"fmt"
	"os"
	"sync"

	drivev3 "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"
)

// Client is a participant ledger kept in a Google spreadsheet.
type Client struct {
	srv           *sheetsv4.Service
	drive         *drivev3.Service
	spreadsheetID string
	photoFolderID string

	// mu serializes read-check-write sequences issued by this process.
	mu sync.Mutex
}

type Config struct {
	CredentialsFile string
	SpreadsheetID   string
	// PhotoFolderID is the Drive folder photos are uploaded to. Empty keeps
	// photos inline in the sheet.
	PhotoFolderID string
}

func New(ctx context.Context, cfg Config, opts ...option.ClientOption) (*Client, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is empty")
	}
	if cfg.CredentialsFile != "" {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account json: %w", err)
		}
		opts = append([]option.ClientOption{
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(sheetsv4.SpreadsheetsScope, drivev3.DriveFileScope),
		}, opts...)
	}
	srv, err := sheetsv4.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}
	c := &Client{srv: srv, spreadsheetID: cfg.SpreadsheetID, photoFolderID: cfg.PhotoFolderID}
	if cfg.PhotoFolderID != "" {
		if c.drive, err = drivev3.NewService(ctx, opts...); err != nil {
			return nil, fmt.Errorf("drive service: %w", err)
		}
	}
	return c, nil
}

func (c *Client) SpreadsheetID() string { return c.spreadsheetID }

func (c *Client) Close() error { return nil }
