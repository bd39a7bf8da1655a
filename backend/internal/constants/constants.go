package constants

import "time"

// Session modes
const (
	// ModeChat is the default voice conversation mode
	ModeChat = "chat"
	// ModeLiveAnalysis is the video inspection mode that also streams reports
	ModeLiveAnalysis = "live_analysis"
)

// Conversation constants
const (
	// NoParentMessageID is the parent of the first message in a conversation
	NoParentMessageID = "00000000-0000-0000-0000-000000000000"

	// VoiceOnlyPlaceholder is persisted when the assistant answered with audio only
	VoiceOnlyPlaceholder = "[Respuesta de voz]"

	// LiveEndpoint is recorded on persisted messages and conversations
	LiveEndpoint = "google"

	// UserSender is the sender label of user messages
	UserSender = "User"

	// ConversationTitleMaxLength bounds titles derived from the first user text
	ConversationTitleMaxLength = 60
)

// Audio constants
const (
	// InputSampleRate is the sample rate of PCM16 audio sent upstream
	InputSampleRate = 16000

	// OutputSampleRate is the sample rate of PCM16 audio produced upstream
	OutputSampleRate = 24000

	// PlaybackJitterMargin is the lead time applied when playback falls behind
	PlaybackJitterMargin = 50 * time.Millisecond
)

// Websocket constants
const (
	// ClientPingInterval is how often the server pings a connected client
	ClientPingInterval = 20 * time.Second

	// ClientPongWait is how long a client may stay silent before it is dropped
	ClientPongWait = 60 * time.Second

	// ClientWriteTimeout bounds a single frame write to the client
	ClientWriteTimeout = 5 * time.Second

	// ClientMaxMessageBytes bounds a single inbound client frame (video stills included)
	ClientMaxMessageBytes = 4 << 20

	// OutboundQueueSize is the per-session outbound frame buffer
	OutboundQueueSize = 256
)

// Status values sent to the client in "status" frames
const (
	StatusConnecting   = "connecting"
	StatusReady        = "ready"
	StatusTurnComplete = "turn_complete"
	StatusInterrupted  = "interrupted"
	StatusReconnecting = "reconnecting"
	StatusStopped      = "stopped"
)

// LiveAnalysisInstruction is the forced system instruction of live-analysis sessions
const LiveAnalysisInstruction = `Eres un Experto Senior en Prevención de Riesgos Laborales (HSE).
Tu misión es realizar investigaciones exhaustivas de entornos laborales mediante video.

MODOS DE RESPUESTA:
1. AUDIO: Sé conversacional, directo y profesional. Explica lo que ves y haz preguntas si es necesario.
2. TEXTO: Genera INFORMES TÉCNICOS ESTRUCTURADOS en Markdown.
   - Usa tablas para matrices de riesgo y jerarquía de controles.
   - NO incluyas saludos ni preguntas en el texto.
   - El texto debe ser un documento formal listo para guardar.

Responde SIEMPRE en español.`
