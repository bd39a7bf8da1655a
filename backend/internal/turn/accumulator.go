package turn

import "strings"

// Accumulator collects the fragments of one conversational turn.
// It is not safe for concurrent use; the Aggregator guards it.
type Accumulator struct {
	user        strings.Builder
	assistant   strings.Builder
	audioChunks int
}

// Turn is an immutable snapshot of an Accumulator
type Turn struct {
	UserText      string
	AssistantText string
	AudioChunks   int
}

// IsEmpty reports whether the turn has nothing worth persisting
func (t Turn) IsEmpty() bool {
	return t.UserText == "" && t.AssistantText == "" && t.AudioChunks == 0
}

func (a *Accumulator) addUser(fragment string) {
	a.user.WriteString(fragment)
}

func (a *Accumulator) addAssistant(fragment string) {
	a.assistant.WriteString(fragment)
}

func (a *Accumulator) addAudioChunk() {
	a.audioChunks++
}

func (a *Accumulator) empty() bool {
	return a.user.Len() == 0 && a.assistant.Len() == 0 && a.audioChunks == 0
}

func (a *Accumulator) snapshot() Turn {
	return Turn{
		UserText:      strings.TrimSpace(a.user.String()),
		AssistantText: strings.TrimSpace(a.assistant.String()),
		AudioChunks:   a.audioChunks,
	}
}

func (a *Accumulator) reset() {
	a.user.Reset()
	a.assistant.Reset()
	a.audioChunks = 0
}
