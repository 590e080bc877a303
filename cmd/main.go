package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"rag-assistant/internal/api"
	"rag-assistant/internal/config"
	"rag-assistant/internal/embedding"
	"rag-assistant/internal/helper"
	"rag-assistant/internal/llmservice"
	"rag-assistant/internal/parser"
	"rag-assistant/internal/persistence"
	"rag-assistant/internal/rag"
)

const (
	defaultConfigPath = "./configs/config.yaml"
	shutdownTimeout   = 10 * time.Second
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	configPath := flag.String("config", defaultConfigPath, "Path to the YAML config file")
	files := flag.String("file", "", "Comma separated document files to ingest")
	query := flag.String("query", "", "Question to answer from the ingested documents")
	stats := flag.Bool("stats", false, "Print index statistics")
	clearIndex := flag.Bool("clear", false, "Remove every document from the index")
	serve := flag.Bool("serve", false, "Start the HTTP server")
	export := flag.Bool("export", false, "Export the index as an encrypted chromem file")
	flag.Parse()

	if !*clearIndex && *files == "" && *query == "" && !*stats && !*export && !*serve {
		flag.Usage()
		os.Exit(2)
	}

	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("No .env file loaded")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		log.Warn().Str("log_level", cfg.LogLevel).Msg("Unknown log level, keeping debug")
	} else {
		zerolog.SetGlobalLevel(level)
	}
	log.Debug().Interface("config", cfg).Msg("Loaded config")

	ctx := context.Background()

	backend, err := persistence.Open(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error opening snapshot backend")
	}
	defer backend.Close()

	engine, err := newEngine(cfg, backend)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing engine")
	}
	if err := engine.Load(ctx); err != nil {
		log.Fatal().Err(err).Msg("Error loading saved index")
	}

	if *clearIndex {
		if err := engine.ClearIndex(ctx); err != nil {
			log.Fatal().Err(err).Msg("Error clearing index")
		}
	}

	if *files != "" {
		ingestFiles(ctx, engine, *files)
	}

	if *query != "" {
		answerQuery(ctx, engine, *query)
	}

	if *stats {
		helper.PrettyPrint(engine.Stats())
	}

	if *export {
		exportIndex(ctx, cfg, engine)
	}

	if *serve {
		if err := runServer(cfg, engine); err != nil {
			log.Fatal().Err(err).Msg("Server stopped with error")
		}
	}
}

func newEngine(cfg *config.Config, backend persistence.Backend) (*rag.Engine, error) {
	embedder, err := embedding.New(&cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	completer, err := llmservice.New(&cfg.LLM)
	if err != nil {
		return nil, err
	}
	return rag.NewEngine(rag.OptionsFromConfig(cfg), embedder, completer, backend)
}

func ingestFiles(ctx context.Context, engine *rag.Engine, list string) {
	var inputs []rag.FileInput
	for _, path := range strings.Split(list, ",") {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		inputs = append(inputs, rag.FileInput{Path: path, Filename: filepath.Base(path)})
	}

	report, err := engine.IngestFiles(ctx, inputs, parser.Extractor{})
	if err != nil {
		log.Fatal().Err(err).Msg("Error ingesting documents")
	}
	log.Info().
		Int("files", report.FilesProcessed).
		Int("failed", len(report.FilesFailed)).
		Int("chunks_added", report.ChunksAdded).
		Int("total_chunks", report.TotalChunks).
		Msg("Ingested documents")
	for _, f := range report.FilesFailed {
		log.Warn().Str("filename", f.Filename).Str("error", f.Error).Msg("Skipped file")
	}
}

func answerQuery(ctx context.Context, engine *rag.Engine, query string) {
	response, err := engine.Query(ctx, query)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Sources: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	for _, s := range response.Sources {
		fmt.Printf("[%s] (%.3f) %s\n\n", s.Filename, s.SimilarityScore, s.TextSnippet)
	}

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", response.Answer)
}

func exportIndex(ctx context.Context, cfg *config.Config, engine *rag.Engine) {
	snap, err := engine.Snapshot()
	if err != nil {
		log.Fatal().Err(err).Msg("Error reading index")
	}
	path, err := persistence.Export(ctx, cfg, snap)
	if err != nil {
		log.Fatal().Err(err).Msg("Error exporting collection")
	}
	log.Info().Str("file", path).Int("chunks", len(snap.Chunks)).Msg("Exported index")
}

func runServer(cfg *config.Config, engine *rag.Engine) error {
	handler := api.NewHandler(engine, parser.Extractor{}, cfg.Server.UploadDir, cfg.Server.MaxUploadMB)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      api.NewRouter(handler),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSecs) * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Strs("formats", parser.SupportedExtensions()).Msg("Starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
