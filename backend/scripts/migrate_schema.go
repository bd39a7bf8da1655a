package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"voice-bridge/backend/internal/graph"
	"voice-bridge/backend/pkg/config"
	"voice-bridge/backend/pkg/logger"
)

const migrationVersion = "voice_schema_v1"

func main() {
	force := flag.Bool("force", false, "Force migration even if already applied")
	flag.Parse()

	// Initialize logger
	if err := logger.Init("development"); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting Neo4j schema migration...")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}

	// Initialize Neo4j driver
	driver, err := neo4j.NewDriverWithContext(
		cfg.Neo4jURI,
		neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""),
	)
	if err != nil {
		log.Fatal("Failed to create Neo4j driver", zap.Error(err))
	}
	repo := graph.NewRepository(driver)
	defer repo.Close(context.Background())

	// Verify connection
	ctx := context.Background()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		log.Fatal("Failed to verify Neo4j connectivity", zap.Error(err))
	}

	// Check if migration already applied
	if !*force {
		applied, err := checkMigrationApplied(ctx, driver)
		if err != nil {
			log.Fatal("Failed to check migration status", zap.Error(err))
		}
		if applied {
			log.Info("Migration already applied. Use -force to reapply.")
			os.Exit(0)
		}
	}

	if err := repo.EnsureSchema(ctx); err != nil {
		log.Fatal("Failed to create constraints and indexes", zap.Error(err))
	}

	if err := runBackfills(ctx, driver, log); err != nil {
		log.Fatal("Migration failed", zap.Error(err))
	}

	// Mark migration as applied
	if err := markMigrationApplied(ctx, driver); err != nil {
		log.Warn("Failed to mark migration as applied", zap.Error(err))
	}

	log.Info("Migration completed successfully!")
}

func checkMigrationApplied(ctx context.Context, driver neo4j.DriverWithContext) (bool, error) {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (m:Migration {version: $version})
		RETURN m.applied_at as applied_at
	`, map[string]interface{}{"version": migrationVersion})
	if err != nil {
		return false, err
	}

	return result.Next(ctx), nil
}

func markMigrationApplied(ctx context.Context, driver neo4j.DriverWithContext) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	_, err := session.Run(ctx, `
		MERGE (m:Migration {version: $version})
		SET m.applied_at = datetime(),
		    m.description = 'Voice conversation schema: owners, message chains and timestamps'
	`, map[string]interface{}{"version": migrationVersion})
	return err
}

// runBackfills brings conversations written before the schema existed in
// line with what the gateway queries on.
func runBackfills(ctx context.Context, driver neo4j.DriverWithContext, log *zap.Logger) error {
	session := driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	backfills := []struct {
		name  string
		query string
	}{
		{
			name: "Conversation owners",
			query: `
				MATCH (u:User)-[:OWNS]->(c:Conversation)
				WHERE c.user_id IS NULL
				SET c.user_id = u.id
				RETURN count(c) as updated
			`,
		},
		{
			name: "Message timestamps",
			query: `
				MATCH (m:Message)
				WHERE m.created_at IS NULL
				SET m.created_at = datetime()
				RETURN count(m) as updated
			`,
		},
		{
			name: "Reply links",
			query: `
				MATCH (m:Message), (parent:Message {id: m.parent_id})
				WHERE NOT (m)-[:REPLIES_TO]->(parent)
				MERGE (m)-[:REPLIES_TO]->(parent)
				RETURN count(m) as updated
			`,
		},
	}

	for i, b := range backfills {
		result, err := session.Run(ctx, b.query, nil)
		if err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
		record, err := result.Single(ctx)
		if err != nil {
			return fmt.Errorf("%s: %w", b.name, err)
		}
		updated, _ := record.Get("updated")

		log.Info("Backfill completed",
			zap.Int("step", i+1),
			zap.Int("total", len(backfills)),
			zap.String("name", b.name),
			zap.Any("updated", updated),
		)
	}
	return nil
}
