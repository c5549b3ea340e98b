// Command ledgerctl administers a local ledger: roster import, tournament
// settings, reports and a bot-less HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"

	"tournament-desk/internal/config"
	"tournament-desk/internal/ledger"
	"tournament-desk/internal/models"
	"tournament-desk/internal/server"
)

const usage = `usage: ledgerctl [flags] <command> [args]

commands:
  import <roster.csv>      add or update participants from a CSV roster
  set-start <YYYY-MM-DD>   set the tournament start date
  list                     list participants and registration status
  counts                   meals served per day and meal
  export-url               print the signed meal log link
  serve                    serve the ledger HTTP API without the bot
`

func main() {
	_ = godotenv.Load()

	fs := flag.NewFlagSet("ledgerctl", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	cfg, err := config.ParseConfig(fs, os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, fs.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, args []string, out io.Writer) error {
	cmd, rest := args[0], args[1:]
	if cmd == "export-url" {
		if cfg.ExportSecret == "" {
			return fmt.Errorf("EXPORT_SECRET is empty")
		}
		fmt.Fprintln(out, server.ExportURL(cfg.BasePublicURL, cfg.HTTPAddr, cfg.ExportSecret))
		return nil
	}

	st, err := ledger.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	switch cmd {
	case "import":
		if len(rest) != 1 {
			return fmt.Errorf("import takes one roster file")
		}
		return importRoster(ctx, st, rest[0], out)
	case "set-start":
		if len(rest) != 1 {
			return fmt.Errorf("set-start takes one date")
		}
		if err := st.SetStartDate(ctx, rest[0]); err != nil {
			return err
		}
		fmt.Fprintln(out, "start date set to", rest[0])
		return nil
	case "list":
		return listParticipants(ctx, st, out)
	case "counts":
		return mealCounts(ctx, st, out)
	case "serve":
		return serve(ctx, cfg, st)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func importRoster(ctx context.Context, st ledger.Store, path string, out io.Writer) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	entries, err := ledger.ParseRoster(f)
	if err != nil {
		return err
	}
	n, err := st.ImportRoster(ctx, entries)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "imported %d participants\n", n)
	return nil
}

func listParticipants(ctx context.Context, st ledger.Store, out io.Writer) error {
	all, err := st.ListParticipants(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCOLLEGE\tSPORT\tPHOTO\tMEALS")
	for _, p := range all {
		photo := "-"
		if p.HasPhoto() {
			photo = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n", p.ID, p.Name, p.College, p.Sport, photo, p.Food.Count())
	}
	return w.Flush()
}

func mealCounts(ctx context.Context, st ledger.Store, out io.Writer) error {
	counts, err := st.MealCounts(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprint(w, "DAY")
	for _, m := range models.Meals {
		fmt.Fprintf(w, "\t%s", m.Label())
	}
	fmt.Fprintln(w)
	for _, d := range models.Days {
		fmt.Fprint(w, d.Label())
		for _, m := range models.Meals {
			fmt.Fprintf(w, "\t%d", counts[models.SlotKey(d, m)])
		}
		fmt.Fprintln(w)
	}
	return w.Flush()
}

func serve(ctx context.Context, cfg config.Config, st ledger.Store) error {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	srv := server.New(st, server.Options{Addr: cfg.HTTPAddr, ExportSecret: cfg.ExportSecret, Log: log})

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP listening", "addr", cfg.HTTPAddr, "backend", cfg.LedgerBackend)
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
