package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"vyapaar/internal/config"
	"vyapaar/internal/connectors"
	"vyapaar/internal/httpapi"
	"vyapaar/internal/listener"
	"vyapaar/internal/logging"
	"vyapaar/internal/notify"
	"vyapaar/internal/pipeline"
	"vyapaar/internal/storage"
)

// app holds the services shared by every command.
type app struct {
	cfg        config.Config
	logger     *slog.Logger
	db         *storage.DB
	uploads    *pipeline.UploadService
	processing *pipeline.ProcessingService
	summaries  *notify.SummaryService
	closers    []func() error
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	logger := logging.New(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	db, err := storage.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, db: db, closers: []func() error{db.Close}}

	var advisor pipeline.Advisor
	if strings.TrimSpace(cfg.GeminiAPIKey) != "" {
		gen, err := pipeline.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			logger.Warn("gemini advisor disabled", slog.String("error", err.Error()))
		} else {
			a.closers = append(a.closers, gen.Close)
			advisor = &pipeline.ModelAdvisor{Generator: gen, Fallback: pipeline.RuleAdvisor{}, Logger: logger}
		}
	}

	a.uploads = pipeline.NewUploadService(db, storage.NewSnapshotStore(cfg.DataDir),
		pipeline.NewAnalyzerFromConfig(cfg, advisor), pipeline.NewForecasterFromConfig(cfg), logger)
	a.processing = pipeline.NewProcessingService(db, a.uploads, logger)
	a.summaries = notify.NewSummaryService(db, a.uploads, notify.NewClient(cfg), logger)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i]()
	}
}

func main() {
	cfg, err := config.Load()
	must(err)

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg)
	must(err)
	defer a.Close()

	cmd := os.Args[1]
	args := os.Args[2:]
	switch cmd {
	case "analyze":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		input := fs.String("input", "", "input file path")
		inType := fs.String("type", "", "csv|xlsx|html|email (default: from extension)")
		_ = fs.Parse(args)
		if strings.TrimSpace(*input) == "" {
			must(fmt.Errorf("--input is required"))
		}
		raw, _, err := pipeline.ReadInputFile(*inType, *input)
		must(err)
		analysis, err := a.uploads.Analyzer().Analyze(ctx, raw)
		must(err)
		printJSON(analysis)
	case "register":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		phone := fs.String("phone", "", "WhatsApp number, e.g. +919876543210")
		name := fs.String("name", "", "display name")
		email := fs.String("email", "", "address mailed reports come from")
		_ = fs.Parse(args)
		if strings.TrimSpace(*phone) == "" || strings.TrimSpace(*name) == "" {
			must(fmt.Errorf("--phone and --name are required"))
		}
		var emailPtr *string
		if strings.TrimSpace(*email) != "" {
			emailPtr = email
		}
		user, err := a.db.UpsertUser(strings.TrimSpace(*phone), strings.TrimSpace(*name), emailPtr)
		must(err)
		fmt.Printf("registered %s (%s)\n", user.Name, user.Phone)
	case "upload":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		phone := fs.String("phone", "", "registered phone")
		input := fs.String("input", "", "input file path")
		inType := fs.String("type", "", "csv|xlsx|html|email (default: from extension)")
		_ = fs.Parse(args)
		if strings.TrimSpace(*phone) == "" || strings.TrimSpace(*input) == "" {
			must(fmt.Errorf("--phone and --input are required"))
		}
		raw, source, err := pipeline.ReadInputFile(*inType, *input)
		must(err)
		res, err := a.uploads.StoreTable(ctx, *phone, source, raw, nil)
		must(err)
		fmt.Printf("stored %s rows=%d\n", res.Upload.Filename, res.Upload.RowCount)
		fmt.Println(res.Analysis.Advice)
	case "history":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		phone := fs.String("phone", "", "registered phone")
		_ = fs.Parse(args)
		entries, err := a.uploads.AnalyzeHistory(ctx, requirePhone(a, *phone))
		must(err)
		printJSON(entries)
	case "forecast":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		phone := fs.String("phone", "", "registered phone")
		_ = fs.Parse(args)
		res := a.uploads.Forecast(ctx, requirePhone(a, *phone))
		printJSON(res)
		if res.Error == "" && len(res.Predictions) == 0 && res.Periods < cfg.ForecastMinPeriods {
			fmt.Fprintf(os.Stderr, "upload at least %d periods to get a forecast (have %d)\n", cfg.ForecastMinPeriods, res.Periods)
		}
	case "export:xlsx":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		phone := fs.String("phone", "", "registered phone")
		file := fs.String("file", "", "snapshot name (default: latest)")
		out := fs.String("out", "", "output xlsx path")
		withForecast := fs.Bool("forecast", false, "add a forecast sheet")
		_ = fs.Parse(args)
		p := requirePhone(a, *phone)
		name := *file
		if strings.TrimSpace(name) == "" {
			name = latestSnapshot(ctx, a, p)
		}
		target := *out
		if strings.TrimSpace(target) == "" {
			target = filepath.Join(cfg.OutputDir, p, strings.TrimSuffix(name, ".csv")+".xlsx")
		}
		analysis, err := a.uploads.AnalyzeSnapshot(ctx, p, name)
		must(err)
		var forecast *pipeline.ForecastResult
		if *withForecast {
			fc := a.uploads.Forecast(ctx, p)
			forecast = &fc
		}
		must(pipeline.ExportReportXLSX(name, analysis, forecast, target))
		fmt.Printf("exported %s to %s\n", name, target)
	case "notify:send":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		phone := fs.String("phone", "", "registered phone")
		file := fs.String("file", "", "snapshot name (default: latest)")
		message := fs.String("message", "", "free text instead of a summary")
		_ = fs.Parse(args)
		if strings.TrimSpace(*message) != "" {
			res, err := a.summaries.SendMessage(ctx, strings.TrimSpace(*phone), *message)
			must(err)
			fmt.Printf("sent sid=%s\n", res.SID)
			return
		}
		p := requirePhone(a, *phone)
		if strings.TrimSpace(*file) == "" {
			res, name, err := a.summaries.SendLatestSummary(ctx, p)
			must(err)
			fmt.Printf("sent summary of %s sid=%s\n", name, res.SID)
			return
		}
		res, err := a.summaries.SendSummary(ctx, p, *file)
		must(err)
		fmt.Printf("sent summary of %s sid=%s\n", *file, res.SID)
	case "mail:fetch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		label := fs.String("label", cfg.MailListenerLabel, "mailbox/label")
		max := fs.Int("max", 50, "max messages")
		_ = fs.Parse(args)
		conn, err := connectors.New(ctx, cfg, *provider)
		must(err)
		result, err := connectors.NewFetchService(a.db, cfg.RawMailDir, conn, a.logger).FetchAndStore(ctx, *label, *max)
		must(err)
		fmt.Printf("mail fetch done provider=%s fetched=%d stored=%d duplicates=%d\n", *provider, result.Fetched, result.Stored, result.Duplicates)
	case "mail:process":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		provider := fs.String("provider", cfg.MailListenerProvider, "gmail|imap")
		messageID := fs.String("messageId", "", "specific message-id")
		batch := fs.Int("batch", 20, "batch size")
		_ = fs.Parse(args)
		if strings.TrimSpace(*messageID) != "" {
			res, err := a.processing.ProcessByProviderMessageID(ctx, *provider, *messageID)
			must(err)
			printProcessResult(res)
			return
		}
		results, err := a.processing.ProcessPending(ctx, *batch, *provider)
		must(err)
		for _, res := range results {
			printProcessResult(res)
		}
		fmt.Printf("processed pending emails=%d\n", len(results))
	case "mail:listen":
		must(newListener(a).Run(ctx))
	case "serve":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		addr := fs.String("addr", cfg.HTTPAddr, "listen address")
		withListener := fs.Bool("listen-mail", false, "also run the mail listener")
		_ = fs.Parse(args)
		a.cfg.HTTPAddr = *addr

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return httpapi.NewServer(a.cfg, a.db, a.uploads, a.summaries, a.logger).ListenAndServe(gctx)
		})
		if *withListener {
			g.Go(func() error { return newListener(a).Run(gctx) })
		}
		must(g.Wait())
	default:
		usage()
		os.Exit(1)
	}
}

func newListener(a *app) *listener.Service {
	return listener.NewService(a.db, a.cfg, a.processing, a.summaries, a.logger)
}

func requirePhone(a *app, phone string) string {
	phone = strings.TrimSpace(phone)
	if phone == "" {
		must(fmt.Errorf("--phone is required"))
	}
	_, err := a.db.GetUser(phone)
	must(err)
	return phone
}

func latestSnapshot(ctx context.Context, a *app, phone string) string {
	names, err := a.uploads.Snapshots().ListSnapshots(ctx, phone)
	must(err)
	if len(names) == 0 {
		must(storage.ErrSnapshotNotFound)
	}
	return names[len(names)-1]
}

func printProcessResult(res pipeline.ProcessResult) {
	fmt.Printf("email id=%d status=%s phone=%s stored=%d\n", res.EmailID, res.Status, res.Phone, len(res.Stored))
	for _, e := range res.Errors {
		fmt.Printf("  - %s\n", e)
	}
}

func printJSON(v any) {
	blob, err := json.MarshalIndent(v, "", "  ")
	must(err)
	fmt.Println(string(blob))
}

func usage() {
	fmt.Println("usage: vyapaar <command>")
	fmt.Println("commands:")
	fmt.Println("  analyze --input=sales.csv [--type=csv|xlsx|html|email]")
	fmt.Println("  register --phone=+919876543210 --name=... [--email=...]")
	fmt.Println("  upload --phone=... --input=sales.csv [--type=...]")
	fmt.Println("  history --phone=...")
	fmt.Println("  forecast --phone=...")
	fmt.Println("  export:xlsx --phone=... [--file=<snapshot>.csv] [--out=report.xlsx] [--forecast]")
	fmt.Println("  notify:send --phone=... [--file=<snapshot>.csv | --message=...]")
	fmt.Println("  mail:fetch --provider=gmail|imap --label=INBOX --max=50")
	fmt.Println("  mail:process --provider=gmail|imap [--messageId=...] [--batch=20]")
	fmt.Println("  mail:listen")
	fmt.Println("  serve [--addr=:5000] [--listen-mail]")
}

func must(err error) {
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
