package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/ragline/ragline/batch"
	"github.com/ragline/ragline/config"
	log "github.com/sirupsen/logrus"
	mbp "go.gazette.dev/core/mainboilerplate"
)

type cmdSeed struct {
	Database    config.Postgres       `group:"Database" namespace:"database"`
	Batch       config.Batch          `group:"Batch" namespace:"batch"`
	Log         mbp.LogConfig         `group:"Logging" namespace:"log" env-namespace:"LOG"`
	Diagnostics mbp.DiagnosticsConfig `group:"Debug" namespace:"debug" env-namespace:"DEBUG"`
}

const seedTimeout = time.Minute

// documentsDDL matches the table the CDC connector snapshots. Version and
// updated_at advance in the store's UPDATE statements.
const documentsDDL = `
CREATE TABLE IF NOT EXISTS documents (
	id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	title      TEXT NOT NULL,
	content    TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 1,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type seedDocument struct {
	id      uuid.UUID
	title   string
	content string
}

// Identifiers are fixed so that reseeding is idempotent: every insert
// lands ON CONFLICT DO NOTHING on a second run.
var sampleDocuments = []seedDocument{
	{
		id:    uuid.MustParse("7d8f3c1a-52b4-4c1e-9d5a-e3b8a0f6c2d1"),
		title: "Introduction to RAG Systems",
		content: "Retrieval-Augmented Generation (RAG) combines the power of information retrieval with language models. " +
			"It allows systems to access external knowledge bases and provide accurate, up-to-date answers. " +
			"RAG systems typically consist of a retriever that finds relevant documents and a generator that creates responses.",
	},
	{
		id:    uuid.MustParse("b2e9f0c4-77d1-4b6e-8a3f-5c941d7e0b26"),
		title: "Change Data Capture Overview",
		content: "Change Data Capture (CDC) is a technique for identifying and capturing changes made to data in a database. " +
			"CDC enables real-time data synchronization by tracking INSERT, UPDATE, and DELETE operations. " +
			"Common CDC tools include Debezium, which captures changes from database transaction logs.",
	},
	{
		id:    uuid.MustParse("3a5c82d9-e1f4-4d07-b9c6-0f7a2e8d541b"),
		title: "Vector Databases for Semantic Search",
		content: "Vector databases store high-dimensional vectors and enable fast similarity search. " +
			"They are essential for RAG systems as they allow efficient retrieval of semantically similar documents. " +
			"Popular vector databases include Qdrant, Pinecone, and Weaviate. They use algorithms like HNSW for fast approximate nearest neighbor search.",
	},
}

func (cmd cmdSeed) Execute(_ []string) error {
	defer mbp.InitDiagnosticsAndRecover(cmd.Diagnostics)()
	mbp.InitLog(cmd.Log)

	log.WithFields(log.Fields{
		"config":    cmd,
		"version":   mbp.Version,
		"buildDate": mbp.BuildDate,
	}).Info("raglinectl configuration")

	var ctx, cancel = context.WithTimeout(context.Background(), seedTimeout)
	defer cancel()

	poolCfg, err := pgxpool.ParseConfig(cmd.Database.URL)
	if err != nil {
		return fmt.Errorf("parsing postgres URL: %w", err)
	}
	poolCfg.MinConns = int32(cmd.Database.PoolMin)
	poolCfg.MaxConns = int32(cmd.Database.PoolMax)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return fmt.Errorf("creating postgres pool: %w", err)
	}
	defer pool.Close()

	if _, err = pool.Exec(ctx, documentsDDL); err != nil {
		return fmt.Errorf("creating documents table: %w", err)
	}

	var seeded, skipped int
	var flush = func(ctx context.Context, docs []seedDocument) error {
		var b pgx.Batch
		for _, doc := range docs {
			b.Queue(
				"INSERT INTO documents (id, title, content, version) VALUES ($1, $2, $3, 1) ON CONFLICT (id) DO NOTHING",
				doc.id.String(), doc.title, doc.content)
		}
		var results = pool.SendBatch(ctx, &b)
		defer results.Close()

		for _, doc := range docs {
			tag, err := results.Exec()
			if err != nil {
				return fmt.Errorf("inserting %q: %w", doc.title, err)
			}
			if tag.RowsAffected() == 1 {
				seeded++
				fmt.Println(green("seeded"), doc.title)
			} else {
				skipped++
				fmt.Println(yellow("exists"), doc.title)
			}
		}
		return nil
	}

	var inserts = batch.New(ctx, cmd.Batch.Size, cmd.Batch.Timeout(), flush)
	for _, doc := range sampleDocuments {
		if err = inserts.Add(ctx, doc); err != nil {
			return err
		}
	}
	if err = inserts.Flush(ctx); err != nil {
		return err
	}

	fmt.Printf("\nSeeded %d documents (%d already present)\n", seeded, skipped)
	return nil
}

var green = color.New(color.FgGreen).SprintFunc()
var yellow = color.New(color.FgYellow).SprintFunc()
