package config

import (
	"flag"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
)

const (
	BackendSQLite = "sqlite"
	BackendSheets = "sheets"
	BackendHTTP   = "http"
)

type Config struct {
	TelegramToken string `env:"TELEGRAM_BOT_TOKEN"`
	OperatorTGIDs string `env:"OPERATOR_TG_IDS"`

	LedgerBackend  string        `env:"LEDGER_BACKEND" envDefault:"sqlite"`
	LedgerURL      string        `env:"LEDGER_URL"`
	RequestTimeout time.Duration `env:"LEDGER_TIMEOUT" envDefault:"15s"`

	SQLitePath string `env:"SQLITE_PATH" envDefault:"tournament.db"`

	SpreadsheetID            string `env:"GOOGLE_SHEETS_SPREADSHEET_ID"`
	GoogleServiceAccountJSON string `env:"GOOGLE_SERVICE_ACCOUNT_JSON"`
	PhotoFolderID            string `env:"GOOGLE_DRIVE_PHOTO_FOLDER_ID"`

	HTTPAddr      string `env:"HTTP_ADDR" envDefault:":8080"`
	BasePublicURL string `env:"BASE_PUBLIC_URL"`
	ExportSecret  string `env:"EXPORT_SECRET"`

	QRFPS        int    `env:"QR_FPS" envDefault:"10"`
	QRBox        int    `env:"QR_BOX" envDefault:"250"`
	TournamentTZ string `env:"TOURNAMENT_TZ" envDefault:"Asia/Kolkata"`
	LogLevel     string `env:"LOG_LEVEL" envDefault:"info"`

	Operators map[int64]bool `env:"-"`
}

// FromEnv reads the environment and validates the ledger settings.
func FromEnv() (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return c, fmt.Errorf("parse env: %w", err)
	}
	c.normalize()
	return c, c.Validate()
}

// ParseConfig reads the environment, then lets flags override it.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var c Config
	if err := env.Parse(&c); err != nil {
		return c, fmt.Errorf("parse env: %w", err)
	}
	fs.StringVar(&c.HTTPAddr, "addr", c.HTTPAddr, "HTTP listen address for the ledger server")
	fs.StringVar(&c.LedgerBackend, "backend", c.LedgerBackend, "ledger backend: sqlite, sheets or http")
	fs.StringVar(&c.SQLitePath, "db", c.SQLitePath, "sqlite ledger file")
	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return c, err
	}
	c.normalize()
	return c, c.Validate()
}

func (c *Config) normalize() {
	c.TelegramToken = strings.TrimSpace(c.TelegramToken)
	c.LedgerBackend = strings.ToLower(strings.TrimSpace(c.LedgerBackend))
	if c.LedgerBackend == "" {
		c.LedgerBackend = BackendSQLite
	}
	c.LedgerURL = strings.TrimRight(strings.TrimSpace(c.LedgerURL), "/")
	c.BasePublicURL = strings.TrimRight(strings.TrimSpace(c.BasePublicURL), "/")
	c.Operators = parseOperatorIDs(c.OperatorTGIDs)
}

// Validate checks the fields the selected backend needs.
func (c Config) Validate() error {
	switch c.LedgerBackend {
	case BackendSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH is empty")
		}
	case BackendSheets:
		if c.SpreadsheetID == "" {
			return fmt.Errorf("GOOGLE_SHEETS_SPREADSHEET_ID is empty")
		}
		if c.GoogleServiceAccountJSON == "" {
			return fmt.Errorf("GOOGLE_SERVICE_ACCOUNT_JSON is empty")
		}
		// Registration photos exceed what a sheet cell holds.
		if c.PhotoFolderID == "" {
			return fmt.Errorf("GOOGLE_DRIVE_PHOTO_FOLDER_ID is empty")
		}
	case BackendHTTP:
		if c.LedgerURL == "" {
			return fmt.Errorf("LEDGER_URL is empty")
		}
	default:
		return fmt.Errorf("unknown ledger backend: %s", c.LedgerBackend)
	}
	if c.QRFPS <= 0 {
		return fmt.Errorf("QR_FPS must be positive")
	}
	if c.QRBox < 0 {
		return fmt.Errorf("QR_BOX must not be negative")
	}
	if _, err := time.LoadLocation(c.TournamentTZ); err != nil {
		return fmt.Errorf("TOURNAMENT_TZ: %w", err)
	}
	return nil
}

// ValidateBot adds the checks the operator bot needs.
func (c Config) ValidateBot() error {
	if c.TelegramToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN is empty")
	}
	if len(c.Operators) == 0 {
		return fmt.Errorf("OPERATOR_TG_IDS is empty")
	}
	return nil
}

// Location is the tournament time zone; Validate has already checked it.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TournamentTZ)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c Config) SlogLevel() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func parseOperatorIDs(raw string) map[int64]bool {
	m := map[int64]bool{}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return m
	}
	parts := strings.Split(raw, ",")
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		v, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			continue
		}
		m[v] = true
	}
	return m
}
