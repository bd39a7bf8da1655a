package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"voice-bridge/backend/internal/state"
	apperrors "voice-bridge/backend/pkg/errors"
)

// ============================================================================
// Conversation Operations
// ============================================================================

// ErrConversationNotOwned is returned when writing into a conversation that
// belongs to another user
var ErrConversationNotOwned = errors.New("conversation belongs to another user")

// GetRecentMessages returns up to limit messages of a conversation owned by
// userID, oldest first.
func (r *Repository) GetRecentMessages(ctx context.Context, conversationID, userID string, limit int) ([]state.Message, error) {
	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	if limit < 1 {
		limit = 20
	}

	query := `
		MATCH (c:Conversation {id: $conversationID, user_id: $userID})-[:CONTAINS]->(m:Message)
		RETURN m.id as id, m.parent_id as parent_id, m.text as text, m.sender as sender,
		       m.is_created_by_user as is_created_by_user, m.model as model,
		       m.endpoint as endpoint, m.created_at as created_at
		ORDER BY m.created_at DESC
		LIMIT $limit
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"conversationID": conversationID,
		"userID":         userID,
		"limit":          limit,
	})
	if err != nil {
		return nil, apperrors.NewPersistenceFailed("get_recent_messages", err)
	}

	var messages []state.Message
	for result.Next(ctx) {
		record := result.Record()
		messages = append(messages, state.Message{
			MessageID:       getStringFromRecord(record, "id"),
			ParentMessageID: getStringFromRecord(record, "parent_id"),
			ConversationID:  conversationID,
			UserID:          userID,
			Sender:          getStringFromRecord(record, "sender"),
			Text:            getStringFromRecord(record, "text"),
			IsCreatedByUser: getBoolFromRecord(record, "is_created_by_user"),
			Model:           getStringFromRecord(record, "model"),
			Endpoint:        getStringFromRecord(record, "endpoint"),
			CreatedAt:       getTimeFromRecord(record, "created_at"),
		})
	}
	if err := result.Err(); err != nil {
		return nil, apperrors.NewPersistenceFailed("get_recent_messages", err)
	}

	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// SaveMessage stores a message and links it into its conversation's causal
// chain. Saving the same message id twice is a no-op. Conversations owned by
// another user are never written.
func (r *Repository) SaveMessage(ctx context.Context, msg state.Message) (*state.Message, error) {
	if msg.MessageID == "" || msg.ConversationID == "" {
		return nil, apperrors.NewPersistenceFailed("save_message", fmt.Errorf("message id and conversation id are required"))
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	createdAt := msg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		MERGE (c:Conversation {id: $conversationID})
		ON CREATE SET c.user_id = $userID, c.created_at = datetime($now), c.updated_at = datetime($now)
		WITH c WHERE c.user_id = $userID
		MERGE (u:User {id: $userID})
		MERGE (u)-[:OWNS]->(c)

		MERGE (m:Message {id: $messageID})
		ON CREATE SET m.parent_id = $parentID,
		              m.text = $text,
		              m.sender = $sender,
		              m.is_created_by_user = $isCreatedByUser,
		              m.model = $model,
		              m.endpoint = $endpoint,
		              m.created_at = datetime($now)
		MERGE (c)-[:CONTAINS]->(m)

		WITH m
		OPTIONAL MATCH (parent:Message {id: $parentID})
		FOREACH (ignored IN CASE WHEN parent IS NOT NULL THEN [1] ELSE [] END |
			MERGE (m)-[:REPLIES_TO]->(parent)
		)
		RETURN m.id as id, m.created_at as created_at
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userID":          msg.UserID,
		"conversationID":  msg.ConversationID,
		"messageID":       msg.MessageID,
		"parentID":        msg.ParentMessageID,
		"text":            msg.Text,
		"sender":          msg.Sender,
		"isCreatedByUser": msg.IsCreatedByUser,
		"model":           msg.Model,
		"endpoint":        msg.Endpoint,
		"now":             createdAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return nil, apperrors.NewPersistenceFailed("save_message", err)
	}

	records, err := result.Collect(ctx)
	if err != nil {
		return nil, apperrors.NewPersistenceFailed("save_message", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NewPersistenceFailed("save_message", ErrConversationNotOwned)
	}
	record := records[0]

	saved := msg
	saved.CreatedAt = getTimeFromRecord(record, "created_at")

	r.logger.Debug("Message saved",
		zap.String("message_id", saved.MessageID),
		zap.String("parent_message_id", saved.ParentMessageID),
		zap.String("conversation_id", saved.ConversationID),
		zap.Bool("is_created_by_user", saved.IsCreatedByUser),
	)
	return &saved, nil
}

// SaveConversation upserts conversation metadata. An existing non-empty
// title is kept so later turns do not rename the conversation.
func (r *Repository) SaveConversation(ctx context.Context, meta state.ConversationMeta) error {
	if meta.ConversationID == "" {
		return apperrors.NewPersistenceFailed("save_conversation", fmt.Errorf("conversation id is required"))
	}

	session := r.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
	defer session.Close(ctx)

	updatedAt := meta.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	query := `
		MERGE (c:Conversation {id: $conversationID})
		ON CREATE SET c.user_id = $userID, c.created_at = datetime($now)
		WITH c WHERE c.user_id = $userID
		MERGE (u:User {id: $userID})
		SET c.title = CASE WHEN c.title IS NULL OR c.title = '' THEN $title ELSE c.title END,
		    c.model = $model,
		    c.endpoint = $endpoint,
		    c.updated_at = datetime($now)
		MERGE (u)-[:OWNS]->(c)
		RETURN c.id as id
	`

	result, err := session.Run(ctx, query, map[string]interface{}{
		"userID":         meta.UserID,
		"conversationID": meta.ConversationID,
		"title":          meta.Title,
		"model":          meta.Model,
		"endpoint":       meta.Endpoint,
		"now":            updatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return apperrors.NewPersistenceFailed("save_conversation", err)
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return apperrors.NewPersistenceFailed("save_conversation", err)
	}
	if len(records) == 0 {
		return apperrors.NewPersistenceFailed("save_conversation", ErrConversationNotOwned)
	}

	return nil
}
