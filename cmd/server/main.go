package main

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	openai "github.com/sashabaranov/go-openai"

	"videoIndex/config"
	"videoIndex/enrich"
	"videoIndex/index"
	"videoIndex/media"
	"videoIndex/pipeline"
	"videoIndex/retrieval"
	"videoIndex/server"
	"videoIndex/store"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}
	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		log.Error("create data root", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Provider clients. Without an API key the pipeline runs fully
	// offline on the mock providers and the hash embedder.
	var oa *openai.Client
	if cfg.HasValidAPI() {
		clientConfig := openai.DefaultConfig(cfg.API.Key)
		if cfg.API.BaseURL != "" {
			clientConfig.BaseURL = cfg.API.BaseURL
		}
		oa = openai.NewClientWithConfig(clientConfig)
	}

	var (
		emb index.Embedder
		asr enrich.Transcriber
		vlm enrich.FrameDescriber
	)
	if oa != nil {
		emb = index.NewOpenAIEmbedder(oa, cfg.API.EmbeddingModel, 1536)
		asr = enrich.NewWhisperTranscriber(oa, cfg.API.WhisperModel, cfg.Language,
			time.Duration(cfg.Limits.TranscribeTimeoutSec)*time.Second)
		vlm = enrich.NewVisionDescriber(oa, cfg.API.VisionModel, cfg.Language,
			time.Duration(cfg.Limits.DescribeTimeoutSec)*time.Second)
	} else {
		log.Warn("no API key configured, using mock providers and hash embeddings")
		emb = index.NewHashEmbedder(256)
		asr = enrich.MockTranscriber{}
		vlm = enrich.MockDescriber{}
	}

	idx, repo := buildStores(ctx, cfg, emb.Dim(), log)
	defer func() { _ = idx.Close(ctx) }()

	extractor := media.NewExtractor(media.Options{
		DataRoot:       cfg.DataRoot,
		ProbeTimeout:   time.Duration(cfg.Limits.ProbeTimeoutSec) * time.Second,
		ExtractTimeout: time.Duration(cfg.Limits.ExtractTimeoutSec) * time.Second,
	}, log)
	coord := enrich.NewCoordinator(asr, vlm, cfg.Limits.VLMRequestsPerMinute, log)
	builder := index.NewBuilder(emb, cfg.ChunkCharBudget, log)
	runner := pipeline.NewRunner(repo, extractor, coord, builder, idx, cfg.FrameIntervalSec, log)
	engine := retrieval.NewEngine(emb, idx, log)

	srv := server.New(cfg, repo, runner, engine, idx, log)
	log.Info("listening", "addr", cfg.Listen, "store", cfg.Store.Backend)
	if err := srv.Router().Run(cfg.Listen); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// buildStores selects the vector index and source repository backends,
// falling back to the in-process implementations when the configured
// backend is unreachable.
func buildStores(ctx context.Context, cfg *config.Config, dim int, log *slog.Logger) (store.VectorIndex, store.SourceRepository) {
	switch cfg.Store.Backend {
	case "pgvector":
		idx, err := store.NewPgIndex(ctx, cfg.Store.PostgresURL, dim)
		if err != nil {
			log.Warn("pgvector unavailable, falling back to memory store", "error", err)
			break
		}
		pool, err := pgxpool.New(ctx, cfg.Store.PostgresURL)
		if err == nil {
			if repo, rerr := store.NewPostgresSourceRepository(ctx, pool); rerr == nil {
				return idx, repo
			} else {
				log.Warn("postgres source table unavailable, using memory repository", "error", rerr)
			}
		}
		return idx, store.NewMemorySourceRepository()
	case "milvus":
		idx, err := store.NewMilvusIndex(ctx, cfg.Store.MilvusAddr, cfg.Store.MilvusCollection, dim)
		if err != nil {
			log.Warn("milvus unavailable, falling back to memory store", "error", err)
			break
		}
		return idx, store.NewMemorySourceRepository()
	}
	return store.NewMemoryIndex(), store.NewMemorySourceRepository()
}
