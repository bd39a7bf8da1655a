package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"voice-bridge/backend/pkg/logger"
)

// Repository is the Neo4j-backed Persistence Gateway for live conversations.
//
// Graph shape:
//
//	(:User)-[:OWNS]->(:Conversation)-[:CONTAINS]->(:Message)-[:REPLIES_TO]->(:Message)
type Repository struct {
	driver neo4j.DriverWithContext
	logger *zap.Logger
}

// NewRepository creates a new graph repository
func NewRepository(driver neo4j.DriverWithContext) *Repository {
	return &Repository{
		driver: driver,
		logger: logger.Named("graph"),
	}
}

// Close closes the Neo4j driver connection
func (r *Repository) Close(ctx context.Context) error {
	return r.driver.Close(ctx)
}

// schemaStatements are idempotent and safe to run on every start.
var schemaStatements = []string{
	`CREATE CONSTRAINT message_id IF NOT EXISTS FOR (m:Message) REQUIRE m.id IS UNIQUE`,
	`CREATE CONSTRAINT conversation_id IF NOT EXISTS FOR (c:Conversation) REQUIRE c.id IS UNIQUE`,
	`CREATE CONSTRAINT user_id IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`,
	`CREATE INDEX message_created_at IF NOT EXISTS FOR (m:Message) ON (m.created_at)`,
	`CREATE INDEX conversation_user IF NOT EXISTS FOR (c:Conversation) ON (c.user_id)`,
}

// EnsureSchema creates the constraints and indexes the gateway relies on
func (r *Repository) EnsureSchema(ctx context.Context) error {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	for _, stmt := range schemaStatements {
		if _, err := session.Run(ctx, stmt, nil); err != nil {
			return fmt.Errorf("failed to apply schema statement %q: %w", stmt, err)
		}
	}

	r.logger.Info("Graph schema ensured", zap.Int("statements", len(schemaStatements)))
	return nil
}
