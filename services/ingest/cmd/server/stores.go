package main

import (
	"fmt"
	"net/http"

	"meetinggenius/services/ingest/config"
	"meetinggenius/services/ingest/internal/chunk"
	"meetinggenius/services/ingest/internal/database"
	"meetinggenius/services/ingest/internal/gemini"
	"meetinggenius/services/ingest/internal/job"
)

func newChunkStore(conf *config.AppConfig) (chunk.Store, error) {
	switch conf.Pipeline.ChunkStore {
	case "redis":
		return chunk.NewRedisStore(database.RedisDB, conf.Pipeline.ChunkTTL), nil
	case "minio":
		return chunk.NewMinioStore(database.MinioDB, conf.Minio.Prefix), nil
	case "memory":
		return chunk.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown chunk store %q", conf.Pipeline.ChunkStore)
}

func newResultStore(conf *config.AppConfig) (job.ResultStore, error) {
	switch conf.Pipeline.ResultStore {
	case "redis":
		return job.NewRedisResultStore(database.RedisDB, conf.Pipeline.ResultTTL), nil
	case "postgres":
		if conf.Pipeline.Ledger != "postgres" {
			return nil, fmt.Errorf("result_store=postgres requires ledger=postgres")
		}
		return job.NewGormResultStore(database.PostgresDB), nil
	case "memory":
		return job.NewMemoryResultStore(), nil
	}
	return nil, fmt.Errorf("unknown result store %q", conf.Pipeline.ResultStore)
}

func newLedger(conf *config.AppConfig) (job.Ledger, error) {
	switch conf.Pipeline.Ledger {
	case "postgres":
		return job.NewRepository(database.PostgresDB), nil
	case "memory":
		return job.NewMemoryLedger(), nil
	}
	return nil, fmt.Errorf("unknown ledger %q", conf.Pipeline.Ledger)
}

func geminiConfig(g config.GeminiConfig) gemini.Config {
	var fallbacks gemini.FallbackTable
	if len(g.FallbackChains) > 0 {
		fallbacks = make(gemini.FallbackTable, len(g.FallbackChains))
		for _, fc := range g.FallbackChains {
			fallbacks[fc.Model] = fc.Chain
		}
	}

	return gemini.Config{
		BaseURL:         g.BaseURL,
		APIKey:          g.APIKey,
		BlockSize:       g.UploadBlockSize,
		PollInterval:    g.PollInterval,
		PollMaxAttempts: g.PollMaxAttempts,
		MaxRetries:      g.MaxRetries,
		RetryBaseDelay:  g.RetryBaseDelay,
		Fallbacks:       fallbacks,
		HTTPClient:      &http.Client{Timeout: g.RequestTimeout},
	}
}
