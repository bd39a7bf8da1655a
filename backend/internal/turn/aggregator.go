package turn

import (
	"context"
	"errors"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"voice-bridge/backend/internal/constants"
	"voice-bridge/backend/internal/state"
	apperrors "voice-bridge/backend/pkg/errors"
)

// Store is the part of the Persistence Gateway a turn writes to
type Store interface {
	SaveMessage(ctx context.Context, msg state.Message) (*state.Message, error)
	SaveConversation(ctx context.Context, meta state.ConversationMeta) error
}

// Refiner corrects raw speech transcripts
type Refiner interface {
	Refine(ctx context.Context, text string) (string, error)
}

// Options configure an Aggregator. Zero timeouts mean no extra deadline.
type Options struct {
	UserID         string
	Model          string
	RefineTimeout  time.Duration
	PersistTimeout time.Duration

	// NewID and Now are replaceable for tests
	NewID func() string
	Now   func() time.Time
}

// Result describes what a flush persisted
type Result struct {
	Persisted          bool
	NewConversation    bool
	ConversationID     string
	UserMessageID      string
	AssistantMessageID string

	// LastMessageID is the tip of the causal chain after this turn
	LastMessageID string

	// UserText is the refined user text when it was persisted
	UserText      string
	AssistantText string
}

// Aggregator accumulates one turn at a time and persists it as linked messages.
type Aggregator struct {
	store   Store
	refiner Refiner
	opts    Options
	logger  *zap.Logger

	mu    sync.Mutex
	acc   Accumulator
	ref   state.ConversationRef
	model string
}

// NewAggregator creates a new aggregator. refiner may be nil.
func NewAggregator(store Store, refiner Refiner, ref state.ConversationRef, opts Options, logger *zap.Logger) *Aggregator {
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Aggregator{
		store:   store,
		refiner: refiner,
		opts:    opts,
		logger:  logger,
		ref:     ref,
		model:   opts.Model,
	}
}

// OnUserText appends a user transcript fragment
func (a *Aggregator) OnUserText(fragment string) {
	a.mu.Lock()
	a.acc.addUser(fragment)
	a.mu.Unlock()
}

// OnAssistantText appends an assistant transcript or text fragment
func (a *Aggregator) OnAssistantText(fragment string) {
	a.mu.Lock()
	a.acc.addAssistant(fragment)
	a.mu.Unlock()
}

// OnAssistantAudioChunk counts one audio chunk of the assistant reply
func (a *Aggregator) OnAssistantAudioChunk() {
	a.mu.Lock()
	a.acc.addAudioChunk()
	a.mu.Unlock()
}

// Pending reports whether anything has been accumulated since the last Take
func (a *Aggregator) Pending() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.acc.empty()
}

// Take snapshots the current turn and resets the accumulators
func (a *Aggregator) Take() Turn {
	a.mu.Lock()
	defer a.mu.Unlock()
	t := a.acc.snapshot()
	a.acc.reset()
	return t
}

// Reset drops anything accumulated so far
func (a *Aggregator) Reset() {
	a.mu.Lock()
	a.acc.reset()
	a.mu.Unlock()
}

// Ref returns the current position of the causal chain
func (a *Aggregator) Ref() state.ConversationRef {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ref
}

// SetModel changes the model recorded on later assistant messages
func (a *Aggregator) SetModel(model string) {
	a.mu.Lock()
	a.model = model
	a.mu.Unlock()
}

// Flush persists and resets the current turn
func (a *Aggregator) Flush(ctx context.Context) Result {
	return a.Persist(ctx, a.Take())
}

// Persist writes a taken turn: the user message first, then the assistant
// message (or the voice-only placeholder) linked to it. A failed message is
// logged and does not stop the other one.
func (a *Aggregator) Persist(ctx context.Context, t Turn) Result {
	var result Result
	if t.IsEmpty() {
		return result
	}

	a.mu.Lock()
	ref := a.ref
	model := a.model
	a.mu.Unlock()

	conversationID := ref.ConversationID
	minted := false
	if conversationID == "" {
		conversationID = a.opts.NewID()
		minted = true
	}
	parent := ref.ParentID()

	if t.UserText != "" {
		text := a.refine(ctx, t.UserText)
		msg := state.Message{
			MessageID:       a.opts.NewID(),
			ParentMessageID: parent,
			ConversationID:  conversationID,
			UserID:          a.opts.UserID,
			Sender:          constants.UserSender,
			Text:            text,
			IsCreatedByUser: true,
			Model:           model,
			Endpoint:        constants.LiveEndpoint,
			CreatedAt:       a.opts.Now(),
		}
		if a.save(ctx, msg) {
			parent = msg.MessageID
			result.Persisted = true
			result.UserMessageID = msg.MessageID
			result.UserText = text
		}
	}

	assistantText := t.AssistantText
	if assistantText == "" && t.AudioChunks > 0 {
		assistantText = constants.VoiceOnlyPlaceholder
	}
	if assistantText != "" {
		msg := state.Message{
			MessageID:       a.opts.NewID(),
			ParentMessageID: parent,
			ConversationID:  conversationID,
			UserID:          a.opts.UserID,
			Sender:          model,
			Text:            assistantText,
			Model:           model,
			Endpoint:        constants.LiveEndpoint,
			CreatedAt:       a.opts.Now(),
		}
		if a.save(ctx, msg) {
			parent = msg.MessageID
			result.Persisted = true
			result.AssistantMessageID = msg.MessageID
			result.AssistantText = assistantText
		}
	}

	if !result.Persisted {
		return result
	}

	a.mu.Lock()
	a.ref = state.ConversationRef{ConversationID: conversationID, LastMessageID: parent}
	a.mu.Unlock()

	result.ConversationID = conversationID
	result.LastMessageID = parent
	result.NewConversation = minted
	a.saveConversation(ctx, conversationID, model, result.UserText)

	a.logger.Info("Turn persisted",
		zap.String("conversation_id", conversationID),
		zap.String("user_message_id", result.UserMessageID),
		zap.String("assistant_message_id", result.AssistantMessageID),
		zap.Bool("new_conversation", minted),
	)
	return result
}

// refine returns the corrected text, or the raw text when refinement is
// disabled, fails or times out.
func (a *Aggregator) refine(ctx context.Context, raw string) string {
	if a.refiner == nil {
		return raw
	}

	rctx, cancel := a.withTimeout(ctx, a.opts.RefineTimeout)
	defer cancel()

	refined, err := a.refiner.Refine(rctx, raw)
	if errors.Is(err, context.DeadlineExceeded) {
		err = apperrors.NewContextTimeout("refine_transcript", a.opts.RefineTimeout)
	}
	if err != nil || refined == "" {
		a.logger.Warn("Transcript refinement failed, using raw text", zap.Error(err))
		return raw
	}
	return refined
}

func (a *Aggregator) save(ctx context.Context, msg state.Message) bool {
	pctx, cancel := a.withTimeout(ctx, a.opts.PersistTimeout)
	defer cancel()

	if _, err := a.store.SaveMessage(pctx, msg); err != nil {
		a.logger.Error("Failed to persist message",
			zap.Error(err),
			zap.String("message_id", msg.MessageID),
			zap.Bool("is_created_by_user", msg.IsCreatedByUser),
		)
		return false
	}
	return true
}

func (a *Aggregator) saveConversation(ctx context.Context, conversationID, model, userText string) {
	pctx, cancel := a.withTimeout(ctx, a.opts.PersistTimeout)
	defer cancel()

	meta := state.ConversationMeta{
		ConversationID: conversationID,
		UserID:         a.opts.UserID,
		Title:          title(userText),
		Model:          model,
		Endpoint:       constants.LiveEndpoint,
		UpdatedAt:      a.opts.Now(),
	}
	if err := a.store.SaveConversation(pctx, meta); err != nil {
		a.logger.Error("Failed to save conversation", zap.Error(err), zap.String("conversation_id", conversationID))
	}
}

func (a *Aggregator) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// title derives a conversation title from the first user text
func title(text string) string {
	if utf8.RuneCountInString(text) <= constants.ConversationTitleMaxLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:constants.ConversationTitleMaxLength]) + "…"
}
