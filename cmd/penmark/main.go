package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/penmark/internal/app"
	"github.com/pavelanni/penmark/internal/handler"
	appI18n "github.com/pavelanni/penmark/internal/i18n"
	"github.com/pavelanni/penmark/internal/llm"
	"github.com/pavelanni/penmark/internal/llm/prompts"
	"github.com/pavelanni/penmark/internal/media"
	"github.com/pavelanni/penmark/internal/model"
	"github.com/pavelanni/penmark/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "penmark",
		Short: "Handwritten work assessment for teachers, powered by vision LLMs",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd(), compareCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `penmark --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func addStoreFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "penmark.db", "SQLite database path")
	f.String("key", app.DefaultKey, "Store key of the application document")
	f.Bool("compress", false, "Store the document zstd-compressed")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addLLMFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("llm-provider", "gemini", "Model provider (gemini, openai)")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL (openai provider)")
	f.String("llm-key", "", "API key for the model provider (or set PENMARK_LLM_KEY)")
	f.String("llm-model", "", "Model name (default depends on provider)")
	f.Bool("llm-ping", true, "Check the model endpoint on startup")
	f.StringP("lang", "l", appI18n.DefaultLang, "UI language (tr, en)")
	f.String("prompt-lang", string(prompts.LangTurkish), "Prompt language (tr, en)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	addStoreFlags(cmd)
	addLLMFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.Int("max-image-edge", 2048, "Downscale uploads whose longest side exceeds this many pixels (0 = keep)")
	f.Int64("max-upload", handler.DefaultMaxUpload, "Maximum upload size in bytes")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /penmark)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the application document as JSON",
		RunE:  runExport,
	}
	addStoreFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func compareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compare",
		Short: "Compare the transcripts of a grade for shared passages",
		RunE:  runCompare,
	}
	addStoreFlags(cmd)
	addLLMFlags(cmd)
	cmd.Flags().StringP("grade", "g", "", "Grade id or name (required)")
	_ = cmd.MarkFlagRequired("grade")
	return cmd
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
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
// Variables from a .env file in the working directory are loaded first.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("error reading .env file", "error", err)
	}

	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("PENMARK")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("penmark")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/penmark")
	v.AddConfigPath("/etc/penmark")
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

func openStore(v *viper.Viper) (*store.Store, error) {
	var opts []store.Option
	if v.GetBool("compress") {
		opts = append(opts, store.WithCompression())
	}
	db, err := store.New(v.GetString("db"), opts...)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

type transport interface {
	llm.Transport
	Ping(ctx context.Context) error
	Name() string
}

func newTransport(ctx context.Context, v *viper.Viper) (transport, error) {
	key := v.GetString("llm-key")
	modelName := v.GetString("llm-model")
	switch provider := strings.ToLower(v.GetString("llm-provider")); provider {
	case "gemini", "":
		if key == "" {
			return nil, errors.New("gemini API key is required: set --llm-key or PENMARK_LLM_KEY")
		}
		if modelName == "" {
			modelName = llm.DefaultGeminiModel
		}
		return llm.NewGemini(ctx, key, modelName)
	case "openai":
		if modelName == "" {
			return nil, errors.New("--llm-model is required for the openai provider")
		}
		return llm.NewOpenAI(v.GetString("llm-url"), key, modelName), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (want gemini or openai)", provider)
	}
}

// initLanguage loads the locales with lang as the fallback language and
// returns the language in use. A language without a locale file falls back
// to the default.
func initLanguage(lang string) (string, error) {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if err := appI18n.Init(lang); err == nil && slices.Contains(appI18n.Languages(), lang) {
		return lang, nil
	}
	slog.Warn("no locale for language, using default", "lang", lang, "default", appI18n.DefaultLang)
	if err := appI18n.Init(appI18n.DefaultLang); err != nil {
		return "", fmt.Errorf("init i18n: %w", err)
	}
	return appI18n.DefaultLang, nil
}

// newEvaluator builds the evaluation client with messages in the UI language.
func newEvaluator(ctx context.Context, v *viper.Viper, lang string) (*llm.Client, error) {
	t, err := newTransport(ctx, v)
	if err != nil {
		return nil, fmt.Errorf("create LLM transport: %w", err)
	}
	if v.GetBool("llm-ping") {
		if err := t.Ping(ctx); err != nil {
			return nil, fmt.Errorf("LLM health check: %w", err)
		}
		slog.Info("LLM endpoint OK", "transport", t.Name())
	}

	promptLang := strings.ToLower(strings.TrimSpace(v.GetString("prompt-lang")))
	if !prompts.IsValidLanguage(promptLang) {
		slog.Warn("invalid prompt-lang, using Turkish", "lang", promptLang)
		promptLang = string(prompts.LangTurkish)
	}
	return llm.New(t,
		llm.WithLanguage(prompts.Language(promptLang)),
		llm.WithMessages(llm.Messages{
			DefaultGradeLabel: appI18n.Lookup(lang, "GeneralGrade"),
			ShortCircuit:      appI18n.Lookup(lang, "CompareShortCircuit"),
			NoComparison:      appI18n.Lookup(lang, "NoComparison"),
		}),
	)
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	lang, err := initLanguage(v.GetString("lang"))
	if err != nil {
		return err
	}
	evaluator, err := newEvaluator(ctx, v, lang)
	if err != nil {
		return err
	}

	controller := app.New(db, evaluator,
		app.WithKey(v.GetString("key")),
		app.WithDefaultGradeLabel(appI18n.Lookup(lang, "GeneralGrade")),
		app.WithImageNormalizer(media.Normalizer{MaxEdge: v.GetInt("max-image-edge")}),
		app.WithLogger(slog.Default()),
	)
	if err := controller.Load(ctx); err != nil {
		// The controller starts from an empty document; keep serving.
		slog.Error("loading stored data failed", "error", err)
	}
	defer func() {
		if err := controller.Close(); err != nil {
			slog.Error("final save failed", "error", err)
		}
	}()

	// Normalize base path.
	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	h := handler.New(controller,
		handler.WithBasePath(basePath),
		handler.WithMaxUpload(v.GetInt64("max-upload")),
	)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))

	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server",
			"addr", addr,
			"provider", v.GetString("llm-provider"),
			"lang", lang,
			"prompt_lang", v.GetString("prompt-lang"),
			"base_path", basePath,
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
	}
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	key := v.GetString("key")
	doc, err := db.Load(ctx, key)
	if err != nil {
		return fmt.Errorf("load document: %w", err)
	}
	if doc == nil {
		d := model.NewDocument()
		doc = &d
	}
	storedAt, err := db.UpdatedAt(ctx, key)
	if err != nil {
		return fmt.Errorf("read update time: %w", err)
	}

	export := buildExport(*doc, key, storedAt, time.Now())

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)

	slog.Info("exported document", "key", key,
		"grades", export.Summary.Grades, "students", export.Summary.Students)
	return nil
}

func runCompare(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()

	db, err := openStore(v)
	if err != nil {
		return err
	}
	defer db.Close()

	lang, err := initLanguage(v.GetString("lang"))
	if err != nil {
		return err
	}
	evaluator, err := newEvaluator(ctx, v, lang)
	if err != nil {
		return err
	}

	controller := app.New(db, evaluator, app.WithKey(v.GetString("key")), app.WithLogger(slog.Default()))
	if err := controller.Load(ctx); err != nil {
		return err
	}
	defer controller.Close()

	gradeID, err := resolveGrade(controller.Snapshot(), v.GetString("grade"))
	if err != nil {
		return err
	}
	result, err := controller.ComparePlagiarism(ctx, gradeID)
	if err != nil {
		return fmt.Errorf("compare: %w", err)
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), result)
	return err
}

// buildExport wraps doc in the export envelope. A zero storedAt means the
// document was never saved and is left out.
func buildExport(doc model.Document, key string, storedAt, now time.Time) model.DocumentExport {
	doc.Normalize()
	export := model.DocumentExport{
		ExportedAt: now.UTC(),
		Key:        key,
		Summary:    model.Summarize(doc),
		Document:   doc,
	}
	if !storedAt.IsZero() {
		t := storedAt.UTC()
		export.StoredAt = &t
	}
	return export
}

// resolveGrade accepts either a grade id or a unique grade name.
func resolveGrade(doc model.Document, ref string) (string, error) {
	if g, ok := doc.FindGrade(ref); ok {
		return g.ID, nil
	}
	var matches []model.Grade
	for _, g := range doc.Grades {
		if strings.EqualFold(g.Name, ref) {
			matches = append(matches, g)
		}
	}
	switch len(matches) {
	case 0:
		return "", fmt.Errorf("no grade named %q", ref)
	case 1:
		return matches[0].ID, nil
	default:
		return "", fmt.Errorf("grade name %q is ambiguous (%d matches)", ref, len(matches))
	}
}
