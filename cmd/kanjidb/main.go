package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/japaniel/kanjidb/pkg/api"
	"github.com/japaniel/kanjidb/pkg/config"
	"github.com/japaniel/kanjidb/pkg/kanjidb"
	"github.com/japaniel/kanjidb/pkg/logger"
	"github.com/japaniel/kanjidb/pkg/reader"
	"github.com/japaniel/kanjidb/pkg/state"
)

const usage = `Usage: kanjidb [flags] <command> [args]

Commands:
  update            download the latest kanji and radical data
  status            print the database state and stored versions
  lookup <chars>    look up kanji
  article -url <u>  list the kanji used in a web article
  destroy           delete all local data
  serve             run the HTTP API with scheduled updates

Flags:
`

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fs := flag.NewFlagSet("kanjidb", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	dbFlag := fs.String("db", cfg.Database.Path, "Path to SQLite database")
	baseURLFlag := fs.String("base-url", cfg.Database.BaseURL, "Base URL of the published data files")
	langFlag := fs.String("lang", cfg.Database.Lang, "Language of the meanings")
	logLevelFlag := fs.String("log-level", cfg.Logging.Level, "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg.Database.Path = *dbFlag
	cfg.Database.BaseURL = *baseURLFlag
	cfg.Database.Lang = *langFlag
	cfg.Logging.Level = *logLevelFlag
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := logger.Init(cfg.Logging.Level); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Logger

	if fs.NArg() == 0 {
		fs.Usage()
		return errors.New("missing command")
	}
	cmd, cmdArgs := fs.Arg(0), fs.Args()[1:]

	d, err := kanjidb.Open(ctx, kanjidb.Options{
		Path:    cfg.Database.Path,
		BaseURL: cfg.Database.BaseURL,
		Lang:    cfg.Database.Lang,
		Client:  newHTTPClient(cfg.Update.HTTPTimeout),
		Logger:  log,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer d.Close()

	select {
	case <-d.Ready():
	case <-ctx.Done():
		return ctx.Err()
	}

	switch cmd {
	case "update":
		return runUpdate(ctx, d, stdout)
	case "status":
		return printJSON(stdout, statusOf(d))
	case "lookup":
		return runLookup(ctx, d, cmdArgs, stdout)
	case "article":
		return runArticle(ctx, d, cmdArgs, stdout)
	case "destroy":
		if err := d.Destroy(ctx); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "Local data deleted.")
		return nil
	case "serve":
		return runServe(ctx, d, cfg, log)
	default:
		fs.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

// newHTTPClient bounds the wait for response headers only, so large
// snapshots can take as long as they need.
func newHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = timeout
	return &http.Client{Transport: transport}
}

type status struct {
	State    kanjidb.State    `json:"state"`
	Versions kanjidb.Versions `json:"versions"`
	Update   string           `json:"update"`
}

func statusOf(d *kanjidb.Database) status {
	return status{State: d.State(), Versions: d.Versions(), Update: d.UpdateState().String()}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runUpdate(ctx context.Context, d *kanjidb.Database, stdout io.Writer) error {
	var last state.Kind
	unsubscribe := d.OnChange(func(c kanjidb.Change) {
		if c.Topic != kanjidb.TopicUpdateState {
			return
		}
		if s := d.UpdateState(); s.Kind != last {
			last = s.Kind
			fmt.Fprintln(stdout, s.String())
		}
	})
	defer unsubscribe()

	// Update outlives its caller's context; stop it explicitly on signal.
	stop := context.AfterFunc(ctx, func() { d.CancelUpdate() })
	defer stop()

	if err := d.Update(ctx); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	fmt.Fprintln(stdout, "Update complete.")
	return printJSON(stdout, statusOf(d))
}

func runLookup(ctx context.Context, d *kanjidb.Database, args []string, stdout io.Writer) error {
	var chars []string
	for _, arg := range args {
		for _, r := range arg {
			chars = append(chars, string(r))
		}
	}
	if len(chars) == 0 {
		return errors.New("lookup: no characters given")
	}
	if d.State() != kanjidb.StateOk {
		return fmt.Errorf("database is %s; run kanjidb update first", d.State())
	}

	results, err := d.GetKanji(ctx, chars)
	if err != nil {
		return err
	}
	return printJSON(stdout, results)
}

func runArticle(ctx context.Context, d *kanjidb.Database, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("article", flag.ContinueOnError)
	urlFlag := fs.String("url", "", "URL to process")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *urlFlag == "" {
		return errors.New("article: please provide a -url")
	}

	article, err := reader.FetchArticle(ctx, &http.Client{Timeout: 30 * time.Second}, *urlFlag)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Title: %s\n", article.Title)

	analyzer, err := reader.NewAnalyzer()
	if err != nil {
		return fmt.Errorf("create analyzer: %w", err)
	}
	sentences, err := analyzer.AnalyzeDocument(ctx, article.Text)
	if err != nil {
		return fmt.Errorf("analyze: %w", err)
	}
	usages := reader.CollectKanji(sentences)
	fmt.Fprintf(stdout, "Analyzed %d sentences, %d distinct kanji.\n", len(sentences), len(usages))

	results, err := d.GetKanji(ctx, reader.Chars(usages))
	if err != nil {
		return err
	}
	meanings := make(map[string][]string, len(results))
	for _, r := range results {
		meanings[r.Char] = r.M
	}

	for _, u := range usages {
		m, ok := meanings[u.Char]
		desc := strings.Join(m, ", ")
		if !ok {
			desc = "(not in database)"
		}
		fmt.Fprintf(stdout, "%s\t%d\t%s\t%s\n", u.Char, u.Count, desc, strings.Join(u.Words, " "))
	}
	return nil
}

func runServe(ctx context.Context, d *kanjidb.Database, cfg *config.Config, log *zap.Logger) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           api.NewHandler(d, log).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	c := cron.New()
	if cfg.Update.Schedule != "" {
		if _, err := c.AddFunc(cfg.Update.Schedule, func() {
			log.Info("scheduled update starting")
			if err := d.Update(ctx); err != nil {
				log.Error("scheduled update failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("invalid update schedule: %w", err)
		}
		c.Start()
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	d.CancelUpdate()
	<-c.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server exited")
	return nil
}
