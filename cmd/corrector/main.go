package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pavelanni/corrector/internal/correction"
	"github.com/pavelanni/corrector/internal/grade"
	"github.com/pavelanni/corrector/internal/handler"
	appI18n "github.com/pavelanni/corrector/internal/i18n"
	"github.com/pavelanni/corrector/internal/metrics"
	"github.com/pavelanni/corrector/internal/model"
	"github.com/pavelanni/corrector/internal/store"
	"github.com/pavelanni/corrector/internal/tracing"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "corrector",
		Short:        "Exam grading and AI correction service",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), gradeCmd(), triggerCmd(), exportCmd(), hashTokenCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `corrector --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSlice("cors-origin", nil, "Allowed CORS origins (repeatable)")
	f.String("api-token-hash", "", "bcrypt hash of the API bearer token (empty disables auth)")
	f.String("trace-endpoint", "", "Jaeger collector endpoint (empty disables export)")
	f.Duration("drain-timeout", 30*time.Second, "Time allowed for queued jobs to finish on shutdown")
	addStoreFlags(f)
	addCorrectionFlags(f)
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import class bundles (JSON)",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runImport,
	}
	f := cmd.Flags()
	f.Bool("force", false, "Import even if the file is unchanged since the last import")
	addStoreFlags(f)
	addLogFlags(f)
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade STUDENT_ID EXAM_ID",
		Short: "Print the grade of one student exam",
		Args:  cobra.ExactArgs(2),
		RunE:  runGrade,
	}
	f := cmd.Flags()
	addStoreFlags(f)
	addCorrectionFlags(f)
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func triggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger CLASS_ID",
		Short: "Run AI correction for a class",
		Args:  cobra.ExactArgs(1),
		RunE:  runTrigger,
	}
	f := cmd.Flags()
	f.StringP("model", "m", "", "AI model used for correction (required)")
	f.Bool("wait", false, "Wait for the batch and print its final status")
	f.Duration("drain-timeout", 30*time.Minute, "Time allowed for queued jobs to finish before exit")
	_ = cmd.MarkFlagRequired("model")
	addStoreFlags(f)
	addCorrectionFlags(f)
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export CLASS_ID",
		Short: "Export the grades of a class as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addStoreFlags(f)
	addCorrectionFlags(f)
	addLLMFlags(f)
	addLogFlags(f)
	return cmd
}

func hashTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-token TOKEN",
		Short: "Print the bcrypt hash to use for --api-token-hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := handler.HashToken(args[0])
			if err != nil {
				return fmt.Errorf("hash token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}

func addStoreFlags(f *pflag.FlagSet) {
	f.String("db-driver", string(store.DriverSQLite), "Database driver (sqlite, postgres)")
	f.String("db", "corrector.db", "SQLite path or Postgres DSN")
}

func addLogFlags(f *pflag.FlagSet) {
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated")
}

func addCorrectionFlags(f *pflag.FlagSet) {
	d := correction.DefaultConfig()
	f.Int("workers", d.Workers, "Correction workers")
	f.Int("queue-capacity", d.QueueCapacity, "Maximum queued correction jobs")
	f.Int("question-concurrency", d.QuestionConcurrency, "Model calls in flight per job")
	f.Duration("model-timeout", d.ModelTimeout, "Timeout of one model call")
	f.Int("max-retries", d.MaxRetries, "Retries of a failed model call")
	f.Duration("retry-delay", d.RetryDelay, "Delay between model call retries")
	f.Duration("default-rate", d.DefaultRate, "Expected model time per open question, for estimates")
	f.StringToString("model-rate", nil, "Per-model time per open question (name=duration)")
	f.StringSlice("models", nil, "Accepted model names (empty accepts any)")
	f.Bool("on-demand", false, "Score unresolved open questions when a grade is requested")
	f.String("on-demand-model", "", "Model used for on-demand scoring")
	f.Float64("final-weight", d.Policy.FinalExamWeight, "Weight of the final exam in the final average")
	f.Float64("pass-threshold", d.Policy.PassThreshold, "Minimum final average for approval")
	f.Float64("scale", d.Policy.Scale, "Maximum score value")
	f.Int("round-places", d.Policy.RoundPlaces, "Decimals shown in grades")
	f.StringP("lang", "l", "en", "Message language (en, ru)")
}

func addLLMFlags(f *pflag.FlagSet) {
	f.String("openai-base-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("openai-api-key", "ollama", "API key for the OpenAI-compatible API")
	f.String("gemini-api-key", "", "Gemini API key (enables gemini* models)")
	f.String("prompt-variant", "standard", "Scoring prompt variant (strict, standard, lenient)")
	f.Int("default-rpm", 60, "Model requests per minute (0 = unlimited)")
	f.StringToString("model-rpm", nil, "Per-model requests per minute (name=rpm)")
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("CORRECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("corrector")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/corrector")
	v.AddConfigPath("/etc/corrector")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func openStore(ctx context.Context, v *viper.Viper) (*store.Store, error) {
	db, err := store.Open(ctx, store.Driver(v.GetString("db-driver")), v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup("corrector", v.GetString("trace-endpoint"))
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			slog.Warn("flush traces", "error", err)
		}
	}()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	cfg, err := correctionConfig(v)
	if err != nil {
		return err
	}
	scorer, closeScorer, err := buildScorer(ctx, v)
	if err != nil {
		return err
	}
	defer closeScorer()

	m := metrics.New()
	orch, err := correction.NewOrchestrator(cfg, db, scorer, db, db, m)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}
	svc, err := correction.NewService(cfg, db, db, scorer)
	if err != nil {
		return fmt.Errorf("create correction service: %w", err)
	}

	h := handler.New(svc, orch, db, db, handler.Config{
		Lang:           lang,
		AllowedOrigins: v.GetStringSlice("cors-origin"),
		TokenHash:      v.GetString("api-token-hash"),
		Metrics:        m,
	})

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"db_driver", v.GetString("db-driver"),
			"workers", cfg.Workers,
			"queue_capacity", cfg.QueueCapacity,
			"lang", lang,
			"auth", v.GetString("api-token-hash") != "",
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
	case <-ctx.Done():
		slog.Info("shutting down")
	}

	drain, cancel := context.WithTimeout(context.Background(), v.GetDuration("drain-timeout"))
	defer cancel()
	if err := srv.Shutdown(drain); err != nil {
		slog.Warn("http shutdown", "error", err)
	}
	if err := orch.Shutdown(drain); err != nil {
		slog.Warn("correction shutdown", "error", err)
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	force := v.GetBool("force")
	for _, path := range args {
		if err := importFile(ctx, db, path, force); err != nil {
			return err
		}
	}
	return nil
}

func importFile(ctx context.Context, db *store.Store, path string, force bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	hash := sha256sum(data)
	storedHash, err := db.GetImportedFileHash(ctx, path)
	if err != nil {
		return fmt.Errorf("check import status for %s: %w", path, err)
	}
	if storedHash == hash && !force {
		slog.Info("class file unchanged, skipping", "path", path)
		return nil
	}

	var bundle model.ClassImport
	if err := json.Unmarshal(data, &bundle); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	stats, err := db.ImportClass(ctx, bundle)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	if err := db.SetImportedFileHash(ctx, path, hash); err != nil {
		return fmt.Errorf("record import for %s: %w", path, err)
	}
	slog.Info("imported class",
		"path", path,
		"class", bundle.ClassID,
		"exams", stats.Exams,
		"questions", stats.Questions,
		"submissions", stats.Submissions,
		"term_scores", stats.TermScores,
	)
	return nil
}

func runGrade(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	examID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid exam ID %q: %w", args[1], err)
	}

	svc, cleanup, err := buildService(ctx, v)
	if err != nil {
		return err
	}
	defer cleanup()

	g, err := svc.CorrectExam(ctx, args[0], examID)
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), grade.View(g, svc.Policy().RoundPlaces))
}

func runTrigger(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}
	db, err := openStore(ctx, v)
	if err != nil {
		return err
	}
	defer db.Close()

	cfg, err := correctionConfig(v)
	if err != nil {
		return err
	}
	scorer, closeScorer, err := buildScorer(ctx, v)
	if err != nil {
		return err
	}
	defer closeScorer()

	orch, err := correction.NewOrchestrator(cfg, db, scorer, db, db, nil)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	resp, err := orch.TriggerCorrection(appI18n.WithLang(ctx, v.GetString("lang")), args[0], v.GetString("model"))
	if err != nil {
		_ = orch.Shutdown(ctx)
		return err
	}
	if err := writeJSON(cmd.OutOrStdout(), resp); err != nil {
		return err
	}

	// A CLI run cannot leave work behind, so queued jobs always drain.
	drain, cancel := context.WithTimeout(ctx, v.GetDuration("drain-timeout"))
	defer cancel()
	if v.GetBool("wait") {
		batch, err := orch.WaitBatch(drain, resp.BatchID)
		if err != nil {
			slog.Warn("batch did not finish", "batch", resp.BatchID, "error", err)
		}
		if err := writeJSON(cmd.OutOrStdout(), batch); err != nil {
			return err
		}
	}
	return orch.Shutdown(drain)
}

func runExport(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	svc, cleanup, err := buildService(ctx, v)
	if err != nil {
		return err
	}
	defer cleanup()

	export, err := svc.ExportClass(ctx, args[0])
	if err != nil {
		return fmt.Errorf("export class: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return writeJSON(w, export)
}

// buildService opens the store and creates a correction service. The
// returned cleanup closes both.
func buildService(ctx context.Context, v *viper.Viper) (*correction.Service, func(), error) {
	db, err := openStore(ctx, v)
	if err != nil {
		return nil, nil, err
	}
	cfg, err := correctionConfig(v)
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var scorer correction.Scorer
	closeScorer := func() {}
	if cfg.OnDemand {
		r, c, err := buildScorer(ctx, v)
		if err != nil {
			db.Close()
			return nil, nil, err
		}
		scorer, closeScorer = r, c
	}

	svc, err := correction.NewService(cfg, db, db, scorer)
	if err != nil {
		closeScorer()
		db.Close()
		return nil, nil, fmt.Errorf("create correction service: %w", err)
	}
	return svc, func() {
		closeScorer()
		db.Close()
	}, nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
