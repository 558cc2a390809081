// Package chat implements the chat session: it forwards user messages to
// the backend, substitutes fallback text on failure and records history.
package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/offdoc/internal/history"
	"github.com/loykin/offdoc/internal/metrics"
	"github.com/loykin/offdoc/internal/readiness"
	"github.com/loykin/offdoc/internal/settings"
)

// ReplyEmpty is shown when the backend answers with no text.
const ReplyEmpty = "I apologize, but I could not generate a response."

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrNoSymptoms   = errors.New("at least one symptom is required")
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Entry is one line of the transcript.
type Entry struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Reply is the assistant's answer to one submission.
type Reply struct {
	Text     string `json:"response"`
	Fallback bool   `json:"fallback"`
}

// Backend is what the controller needs from the consultation service.
type Backend interface {
	Consult(ctx context.Context, message string) (string, error)
	AnalyzeSymptoms(ctx context.Context, symptoms []string) (string, error)
}

// StateSource reports the current readiness.
type StateSource interface {
	State() readiness.State
}

// Options configures a Controller. Readiness, History and Settings are
// optional; without Settings every exchange is saved.
type Options struct {
	Backend   Backend
	Readiness StateSource
	History   *history.Book
	Settings  *settings.Settings
	Policy    Policy
	Logger    *slog.Logger
}

type Controller struct {
	backend  Backend
	ready    StateSource
	book     *history.Book
	settings *settings.Settings
	fallback *picker
	log      *slog.Logger
	now      func() time.Time

	mu         sync.Mutex
	session    string
	transcript []Entry
}

func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Policy == "" {
		opts.Policy = PolicyRandom
	}
	return &Controller{
		backend:  opts.Backend,
		ready:    opts.Readiness,
		book:     opts.History,
		settings: opts.Settings,
		fallback: &picker{policy: opts.Policy},
		log:      opts.Logger,
		now:      time.Now,
		session:  uuid.NewString(),
	}
}

// Send submits a user message. Backend failures never surface as errors:
// the reply carries fallback text instead. Both transcript entries are
// always appended.
func (c *Controller) Send(ctx context.Context, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	metrics.IncChatRequest("consultation")
	c.append(RoleUser, text)

	var reply Reply
	if c.unavailable() {
		c.log.Debug("backend unavailable, skipping request")
		reply = c.fallbackReply("consultation")
	} else if resp, err := c.backend.Consult(ctx, text); err != nil {
		c.log.Warn("consultation failed", "error", err)
		reply = c.fallbackReply("consultation")
	} else if resp == "" {
		reply = Reply{Text: ReplyEmpty}
	} else {
		reply = Reply{Text: resp}
	}

	c.append(RoleAssistant, reply.Text)
	c.save(ctx, history.TypeConsultation, text, reply.Text)
	return reply, nil
}

// SymptomMessage is the chat message a symptom list is reformulated into.
func SymptomMessage(symptoms []string) string {
	return "I have the following symptoms: " + strings.Join(symptoms, ", ") + ". What could this indicate?"
}

// AnalyzeSymptoms asks the backend to analyze symptoms. When that fails the
// list is reformulated as a chat message and submitted through Send.
func (c *Controller) AnalyzeSymptoms(ctx context.Context, symptoms []string) (Reply, error) {
	clean := make([]string, 0, len(symptoms))
	for _, s := range symptoms {
		if s = strings.TrimSpace(s); s != "" {
			clean = append(clean, s)
		}
	}
	if len(clean) == 0 {
		return Reply{}, ErrNoSymptoms
	}
	msg := SymptomMessage(clean)
	if c.unavailable() {
		return c.Send(ctx, msg)
	}
	metrics.IncChatRequest("symptoms")
	resp, err := c.backend.AnalyzeSymptoms(ctx, clean)
	if err != nil {
		c.log.Warn("symptom analysis failed, resubmitting as chat", "error", err)
		metrics.IncChatFallback("symptoms")
		return c.Send(ctx, msg)
	}
	if resp == "" {
		resp = ReplyEmpty
	}
	c.append(RoleUser, msg)
	c.append(RoleAssistant, resp)
	c.save(ctx, history.TypeSymptom, "Symptoms: "+strings.Join(clean, ", "), resp)
	return Reply{Text: resp}, nil
}

// Transcript returns a copy of the current conversation.
func (c *Controller) Transcript() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Reset starts a new conversation. Saved history is kept.
func (c *Controller) Reset() {
	c.mu.Lock()
	c.transcript = nil
	c.session = uuid.NewString()
	c.mu.Unlock()
}

// SessionID identifies the current conversation.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Controller) append(role Role, text string) {
	c.mu.Lock()
	c.transcript = append(c.transcript, Entry{Role: role, Text: text, Timestamp: c.now()})
	c.mu.Unlock()
}

func (c *Controller) unavailable() bool {
	return c.ready != nil && c.ready.State() == readiness.Unavailable
}

func (c *Controller) fallbackReply(kind string) Reply {
	metrics.IncChatFallback(kind)
	return Reply{Text: c.fallback.pick(), Fallback: true}
}

func (c *Controller) save(ctx context.Context, typ history.Type, user, ai string) {
	if c.book == nil {
		return
	}
	if c.settings != nil {
		on, err := c.settings.SaveHistory(ctx)
		if err != nil {
			c.log.Warn("read saveHistory setting", "error", err)
		}
		if !on {
			return
		}
	}
	if _, err := c.book.Add(ctx, history.Record{Type: typ, Date: c.now().UTC(), UserMessage: user, AIResponse: ai}); err != nil {
		c.log.Warn("save history failed", "error", err)
	}
}
