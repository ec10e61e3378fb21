package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pavelanni/assessor/internal/embed"
	"github.com/pavelanni/assessor/internal/extract"
	"github.com/pavelanni/assessor/internal/handler"
	appI18n "github.com/pavelanni/assessor/internal/i18n"
	"github.com/pavelanni/assessor/internal/integrity"
	"github.com/pavelanni/assessor/internal/metrics"
	"github.com/pavelanni/assessor/internal/model"
	"github.com/pavelanni/assessor/internal/pipeline"
	"github.com/pavelanni/assessor/internal/report"
	"github.com/pavelanni/assessor/internal/scoring"
	"github.com/pavelanni/assessor/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "assessor",
		Short: "Rubric-based grading and academic integrity checks for written submissions",
	}
	root.AddCommand(gradeCmd(), serveCmd(), exportCmd(), tokenCmd())
	return root
}

func addLogFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func addEmbedFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("embed-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("embed-key", "ollama", "API key for the embedding endpoint")
	f.String("embed-model", "all-minilm", "Embedding model name")
	f.Int("embed-cache", embed.DefaultCacheSize, "Embedding vectors kept in memory (0 disables the cache)")
	f.IntP("workers", "w", 4, "Concurrent scoring workers")
	f.StringP("lang", "l", "en", "Report language (en, ru)")
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade a directory of submissions and write reports",
		RunE:  runGrade,
	}
	f := cmd.Flags()
	f.StringP("rubric", "r", "rubric.txt", "Rubric file")
	f.StringP("submissions", "s", "submissions", "Directory of .txt, .md and .pdf submissions")
	f.StringP("out", "o", "results", "Output directory")
	f.String("db", "", "Also store the batch in this SQLite database")
	f.String("pdftotext", "pdftotext", "pdftotext binary used for PDF submissions")
	addEmbedFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP grading API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "assessor.db", "SQLite database path")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /grading)")
	f.String("admin-token", "", "Bearer token for token management (or set ASSESSOR_ADMIN_TOKEN)")
	f.StringSlice("cors-origins", nil, "Allowed CORS origins (repeatable)")
	f.Int("batches-per-minute", 10, "Per-client limit on batch creation (0 disables)")
	f.Int64("max-upload-mb", 32, "Maximum batch upload size in MiB")
	f.String("pdftotext", "pdftotext", "pdftotext binary used for PDF uploads")
	addEmbedFlags(cmd)
	addLogFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a stored batch",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "assessor.db", "SQLite database path")
	f.String("batch", "", "Batch id (defaults to the most recent batch)")
	f.StringP("format", "f", report.FormatJSON, "Output format (json, yaml, csv)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	addLogFlags(cmd)
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}

	create := &cobra.Command{
		Use:   "create LABEL",
		Short: "Create an API token and print it once",
		Args:  cobra.ExactArgs(1),
		RunE:  runTokenCreate,
	}
	list := &cobra.Command{
		Use:   "list",
		Short: "List API tokens",
		Args:  cobra.NoArgs,
		RunE:  runTokenList,
	}
	revoke := &cobra.Command{
		Use:   "revoke ID",
		Short: "Revoke an API token",
		Args:  cobra.ExactArgs(1),
		RunE:  runTokenRevoke,
	}
	for _, c := range []*cobra.Command{create, list, revoke} {
		c.Flags().String("db", "assessor.db", "SQLite database path")
		addLogFlags(c)
	}
	cmd.AddCommand(create, list, revoke)
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
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("ASSESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("assessor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/assessor")
	v.AddConfigPath("/etc/assessor")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// initI18n loads the report translations, falling back to English for a
// language without a bundled translation.
func initI18n(lang string) (string, error) {
	if err := appI18n.Init("en"); err != nil {
		return "", fmt.Errorf("init i18n: %w", err)
	}
	if !appI18n.Supported(lang) {
		slog.Warn("unsupported report language, using en", "lang", lang)
		return "en", nil
	}
	if err := appI18n.Init(lang); err != nil {
		return "", fmt.Errorf("init i18n: %w", err)
	}
	return lang, nil
}

// newPipeline builds the embedding client and grading pipeline from flags and
// checks that the embedding endpoint answers.
func newPipeline(ctx context.Context, v *viper.Viper) (*pipeline.Pipeline, error) {
	client, err := embed.New(v.GetString("embed-url"), v.GetString("embed-key"),
		v.GetString("embed-model"), v.GetInt("embed-cache"))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx); err != nil {
		return nil, fmt.Errorf("embedding health check: %w", err)
	}
	slog.Info("embedding endpoint OK", "url", v.GetString("embed-url"), "model", client.Model())

	cfg := model.BatchConfig{
		Workers:        v.GetInt("workers"),
		EmbeddingModel: client.Model(),
	}
	return pipeline.New(scoring.NewEngine(client), integrity.NewDetector(client), cfg), nil
}

func runGrade(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	metrics.Init()

	lang, err := initI18n(v.GetString("lang"))
	if err != nil {
		return err
	}

	rubricSource, err := os.ReadFile(v.GetString("rubric"))
	if err != nil {
		return fmt.Errorf("read rubric: %w", err)
	}

	x := extract.New()
	x.PDFTool = v.GetString("pdftotext")
	subs, err := x.Dir(ctx, v.GetString("submissions"))
	if err != nil {
		return err
	}
	if len(subs) == 0 {
		return fmt.Errorf("no submissions found in %s", v.GetString("submissions"))
	}
	if err := pipeline.ValidateSubmissions(subs); err != nil {
		return err
	}

	p, err := newPipeline(ctx, v)
	if err != nil {
		return err
	}
	batch, err := p.Run(ctx, string(rubricSource), subs)
	if err != nil {
		return err
	}

	out := v.GetString("out")
	reportCtx := appI18n.WithLocalizer(ctx, appI18n.NewLocalizer(lang))
	if err := report.WriteAll(reportCtx, out, batch); err != nil {
		return err
	}

	if dbPath := v.GetString("db"); dbPath != "" {
		db, err := store.New(dbPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := db.SaveBatch(batch); err != nil {
			return fmt.Errorf("save batch: %w", err)
		}
		slog.Info("stored batch", "batch", batch.ID, "db", dbPath)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Graded %d submissions (batch %s), %d integrity rows need review. Results in %s\n",
		len(batch.Students), batch.ID, batch.Integrity.FlagCount(), out)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := context.Background()
	metrics.Init()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	adminToken := v.GetString("admin-token")
	tokens, err := db.TokenCount()
	if err != nil {
		return fmt.Errorf("count tokens: %w", err)
	}
	if adminToken == "" && tokens == 0 {
		return fmt.Errorf("no API tokens: set --admin-token or ASSESSOR_ADMIN_TOKEN, or run `assessor token create`")
	}

	lang, err := initI18n(v.GetString("lang"))
	if err != nil {
		return err
	}

	p, err := newPipeline(ctx, v)
	if err != nil {
		return err
	}

	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	x := extract.New()
	x.PDFTool = v.GetString("pdftotext")
	h := handler.New(db, p, x, model.ServerConfig{
		BasePath:         basePath,
		AdminToken:       adminToken,
		MaxUploadBytes:   v.GetInt64("max-upload-mb") << 20,
		BatchesPerMinute: v.GetInt("batches-per-minute"),
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	if origins := v.GetStringSlice("cors-origins"); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type", "Accept-Language"},
			ExposedHeaders: []string{"Location"},
			MaxAge:         300,
		}))
	}
	r.Use(appI18n.Middleware(lang))
	r.Handle("/metrics", metrics.Handler())

	if basePath != "" {
		r.Route(basePath, h.Routes)
	} else {
		h.Routes(r)
	}

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"embed_model", v.GetString("embed-model"),
		"embed_url", v.GetString("embed-url"),
		"lang", lang,
		"workers", v.GetInt("workers"),
		"base_path", basePath,
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	id := v.GetString("batch")
	if id == "" {
		id, err = db.LastBatchID()
		if err != nil {
			return fmt.Errorf("read last batch: %w", err)
		}
		if id == "" {
			return fmt.Errorf("no batches stored in %s", v.GetString("db"))
		}
	}

	exp, err := db.ExportBatch(id)
	if err != nil {
		return err
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

	if err := report.WriteExport(w, exp, v.GetString("format")); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	return nil
}

func openTokenStore(cmd *cobra.Command) (*store.Store, error) {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return db, nil
}

func runTokenCreate(cmd *cobra.Command, args []string) error {
	db, err := openTokenStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	token, err := db.CreateAPIToken(args[0])
	if err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

func runTokenList(cmd *cobra.Command, _ []string) error {
	db, err := openTokenStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	tokens, err := db.ListAPITokens()
	if err != nil {
		return fmt.Errorf("list tokens: %w", err)
	}
	out := cmd.OutOrStdout()
	for _, t := range tokens {
		lastUsed := "never"
		if t.LastUsedAt != nil {
			lastUsed = t.LastUsedAt.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(out, "%d\t%s\t%s\tcreated %s\tlast used %s\n",
			t.ID, t.Label, t.Prefix, t.CreatedAt.Format("2006-01-02"), lastUsed)
	}
	return nil
}

func runTokenRevoke(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid token id %q", args[0])
	}
	db, err := openTokenStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.RevokeAPIToken(id); err != nil {
		return fmt.Errorf("revoke token %d: %w", id, err)
	}
	slog.Info("revoked API token", "id", id)
	return nil
}
