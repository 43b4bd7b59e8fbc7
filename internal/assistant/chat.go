package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TrialConsent/internal/consentform"
	"github.com/BTreeMap/TrialConsent/internal/models"
	"github.com/BTreeMap/TrialConsent/internal/util"
)

// ErrTooManyChats is returned when the chat registry is full of busy chats.
var ErrTooManyChats = errors.New("too many active chats")

// PatchTarget receives field patches. *consentform.Session implements it.
type PatchTarget interface {
	ApplyPatch(patch consentform.Patch) (consentform.PatchResult, error)
}

// Transcript is one result from the speech recognizer.
type Transcript struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Turn is the result of one user message.
type Turn struct {
	User   models.ChatMessage       `json:"user"`
	Reply  models.ChatMessage       `json:"reply"`
	Tier   Tier                     `json:"tier"`
	Patch  *consentform.PatchResult `json:"patch,omitempty"`
	Speech *Speech                  `json:"speech,omitempty"`
}

// resolver is the slice of Bridge a chat session uses.
type resolver interface {
	Resolve(ctx context.Context, chatCtx models.ChatContext, message string) (Reply, error)
}

// ChatSession is one participant's conversation. Messages are appended as
// soon as they arrive but resolved one at a time, in arrival order.
type ChatSession struct {
	id       string
	context  models.ChatContext
	resolver resolver
	speaker  *Speaker
	target   PatchTarget

	mu           sync.Mutex
	messages     []models.ChatMessage
	nextID       int
	pending      int
	speakReplies bool
	tail         chan struct{} // closed when the most recently queued turn finishes
	now          func() time.Time
	lastActive   time.Time
}

func newChatSession(id string, chatCtx models.ChatContext, r resolver, speaker *Speaker, target PatchTarget, greeting string, now func() time.Time) *ChatSession {
	done := make(chan struct{})
	close(done)
	if now == nil {
		now = time.Now
	}
	c := &ChatSession{
		id:         id,
		context:    chatCtx,
		resolver:   r,
		speaker:    speaker,
		target:     target,
		tail:       done,
		now:        now,
		lastActive: now(),
	}
	if greeting != "" {
		c.appendLocked(greeting, true)
	}
	return c
}

// ID returns the chat identifier.
func (c *ChatSession) ID() string { return c.id }

// Context returns the fixed operating mode of the chat.
func (c *ChatSession) Context() models.ChatContext { return c.context }

// Messages returns a copy of the log.
func (c *ChatSession) Messages() []models.ChatMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.ChatMessage(nil), c.messages...)
}

// Typing reports whether a reply is being resolved or waiting its turn.
func (c *ChatSession) Typing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending > 0
}

// SetSpeakReplies sets the persistent speak-replies preference.
func (c *ChatSession) SetSpeakReplies(on bool) {
	c.mu.Lock()
	c.speakReplies = on
	c.mu.Unlock()
}

// SpeakReplies reports the speak-replies preference.
func (c *ChatSession) SpeakReplies() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.speakReplies
}

// LastActive returns when a message was last added to the log.
func (c *ChatSession) LastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive
}

// idleSince reports whether the chat has been quiet since before cutoff with
// nothing queued.
func (c *ChatSession) idleSince(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending == 0 && c.lastActive.Before(cutoff)
}

func (c *ChatSession) appendLocked(text string, isBot bool) models.ChatMessage {
	c.lastActive = c.now()
	c.nextID++
	msg := models.ChatMessage{ID: c.nextID, Text: text, IsBot: isBot}
	c.messages = append(c.messages, msg)
	return msg
}

// Send appends the user message, waits for earlier messages to be answered,
// then resolves this one. voice marks a message that came from a transcript;
// its reply is always spoken. A cancelled ctx abandons the wait but keeps the
// user message in the log.
func (c *ChatSession) Send(ctx context.Context, text string, voice bool) (Turn, error) {
	if strings.TrimSpace(text) == "" {
		return Turn{}, models.ErrEmptyChatMessage
	}

	c.mu.Lock()
	user := c.appendLocked(text, false)
	c.pending++
	prev := c.tail
	mine := make(chan struct{})
	c.tail = mine
	c.mu.Unlock()

	select {
	case <-prev:
	case <-ctx.Done():
		// the queue position is handed on once the earlier turn finishes
		go func() {
			<-prev
			c.finish(mine)
		}()
		slog.Debug("ChatSession.Send: abandoned while queued", "chatID", c.id, "error", ctx.Err())
		return Turn{User: user}, ctx.Err()
	}

	reply := c.resolve(ctx, text)
	turn := Turn{User: user, Tier: reply.Tier}

	botText := reply.Text
	if len(reply.Patch) > 0 && c.target != nil {
		res, err := c.target.ApplyPatch(reply.Patch)
		switch {
		case errors.Is(err, consentform.ErrNotEditable):
			botText = "I couldn't change the form because it is not being edited right now. Choose \"Edit again\" to make changes."
		case err != nil:
			slog.Error("ChatSession.Send: applying patch failed", "chatID", c.id, "error", err)
			botText = ApologyMessage
		default:
			turn.Patch = &res
			if len(res.Rejected) > 0 {
				rejected := strings.Join(sortedKeys(res.Rejected), ", ")
				if len(res.Applied) == 0 {
					botText = fmt.Sprintf("I couldn't use the value given for: %s. Please check the format and try again.", rejected)
				} else {
					botText = fmt.Sprintf("%s Some values were not accepted: %s.", updatedReply(res.Applied), rejected)
				}
			}
		}
	}

	c.mu.Lock()
	turn.Reply = c.appendLocked(botText, true)
	speak := voice || c.speakReplies
	c.mu.Unlock()
	c.finish(mine)

	if speak && c.speaker != nil {
		sp := c.speaker.Speak(ctx, botText)
		turn.Speech = &sp
	}
	return turn, nil
}

// HandleTranscript sends a finalized transcript as a voice message. Interim
// results are ignored and yield a nil turn.
func (c *ChatSession) HandleTranscript(ctx context.Context, t Transcript) (*Turn, error) {
	if !t.Final || strings.TrimSpace(t.Text) == "" {
		return nil, nil
	}
	turn, err := c.Send(ctx, t.Text, true)
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

func (c *ChatSession) finish(mine chan struct{}) {
	c.mu.Lock()
	c.pending--
	c.mu.Unlock()
	close(mine)
}

// resolve turns any resolver error or panic into the apology reply.
func (c *ChatSession) resolve(ctx context.Context, text string) (reply Reply) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("ChatSession.resolve: resolver panicked", "chatID", c.id, "panic", r)
			reply = Apology()
		}
	}()
	reply, err := c.resolver.Resolve(ctx, c.context, text)
	if err != nil {
		slog.Warn("ChatSession.resolve: resolution failed", "chatID", c.id, "error", err)
		return Apology()
	}
	if c.context != models.ChatContextForm {
		reply.Patch = nil
	}
	return reply
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// DefaultMaxChats bounds the chat registry.
const DefaultMaxChats = 10000

// Chats holds the live chat sessions.
type Chats struct {
	bridge  *Bridge
	speaker *Speaker
	now     func() time.Time
	max     int

	mu       sync.RWMutex
	sessions map[string]*ChatSession
}

// ChatsOption configures a Chats registry.
type ChatsOption func(*Chats)

// WithChatClock overrides time.Now, for tests.
func WithChatClock(now func() time.Time) ChatsOption {
	return func(c *Chats) { c.now = now }
}

// WithMaxChats caps the number of live chats. Zero or less disables the cap.
func WithMaxChats(n int) ChatsOption {
	return func(c *Chats) { c.max = n }
}

// NewChats creates an empty registry.
func NewChats(bridge *Bridge, speaker *Speaker, opts ...ChatsOption) *Chats {
	c := &Chats{
		bridge:   bridge,
		speaker:  speaker,
		now:      time.Now,
		max:      DefaultMaxChats,
		sessions: make(map[string]*ChatSession),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Create starts a chat seeded with the context greeting. target is only used
// in the form context and may be nil. A full registry first drops its least
// recently active idle chat; ErrTooManyChats means every chat is busy.
func (c *Chats) Create(chatCtx models.ChatContext, target PatchTarget) (*ChatSession, error) {
	if !models.IsValidChatContext(chatCtx) {
		return nil, models.ErrInvalidContext
	}
	if chatCtx != models.ChatContextForm {
		target = nil
	}
	s := newChatSession(util.GenerateChatID(), chatCtx, c.bridge, c.speaker, target, c.bridge.Greeting(chatCtx), c.now)

	c.mu.Lock()
	if c.max > 0 && len(c.sessions) >= c.max && !c.dropOldestLocked() {
		c.mu.Unlock()
		slog.Warn("Chats.Create: registry full", "max", c.max)
		return nil, ErrTooManyChats
	}
	c.sessions[s.id] = s
	c.mu.Unlock()
	slog.Debug("Chats.Create: chat started", "chatID", s.id, "context", chatCtx)
	return s, nil
}

// dropOldestLocked removes the idle chat with the oldest activity.
func (c *Chats) dropOldestLocked() bool {
	var oldest *ChatSession
	var oldestAt time.Time
	for _, s := range c.sessions {
		if s.Typing() {
			continue
		}
		at := s.LastActive()
		if oldest == nil || at.Before(oldestAt) {
			oldest, oldestAt = s, at
		}
	}
	if oldest == nil {
		return false
	}
	delete(c.sessions, oldest.id)
	slog.Debug("Chats.dropOldestLocked: chat dropped", "chatID", oldest.id, "lastActive", oldestAt)
	return true
}

// Get returns a chat by id.
func (c *Chats) Get(id string) (*ChatSession, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sessions[id]
	return s, ok
}

// Remove discards a chat.
func (c *Chats) Remove(id string) {
	c.mu.Lock()
	delete(c.sessions, id)
	c.mu.Unlock()
}

// EvictIdle discards chats with no activity since cutoff and nothing queued,
// returning their ids.
func (c *Chats) EvictIdle(cutoff time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var evicted []string
	for id, s := range c.sessions {
		if s.idleSince(cutoff) {
			delete(c.sessions, id)
			evicted = append(evicted, id)
		}
	}
	return evicted
}

// Len returns the number of live chats.
func (c *Chats) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sessions)
}
