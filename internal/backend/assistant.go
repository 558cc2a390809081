// Package backend is the Go rendition of the local consultation service: a
// loopback HTTP API that turns consultation, symptom and medication requests
// into prompts for the model runtime.
package backend

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/loykin/offdoc/internal/ollama"
)

// Runtime is the subset of the model runtime client the assistant uses.
type Runtime interface {
	CheckRunning(ctx context.Context) error
	ListModels(ctx context.Context) ([]ollama.ModelInfo, error)
	EnsureModel(ctx context.Context, name string) error
	Generate(ctx context.Context, req ollama.GenerateRequest) (*ollama.GenerateResponse, error)
}

const systemPrompt = `You are a medical AI assistant designed to provide helpful medical information and guidance.
Your role is to:
1. Analyze symptoms and provide general medical guidance
2. Suggest when to seek professional medical care
3. Provide information about common conditions
4. Offer health and wellness advice

Important disclaimers:
- You are not a replacement for professional medical diagnosis or treatment
- Always recommend consulting healthcare professionals for serious concerns
- Do not provide specific medication dosages or prescriptions
- Emphasize the importance of professional medical care when appropriate

Please provide helpful, accurate, and responsible medical guidance.`

// Replies used when generation does not produce model text.
const (
	ReplyModelUnavailable = "I'm sorry, but the medical AI model is not currently available. Please check your Ollama installation."
	ReplyRuntimeError     = "I'm experiencing technical difficulties. Please try again later."
	ReplyTimeout          = "The request timed out. Please try again with a shorter message."
	ReplyInternalError    = "I'm sorry, but I encountered an error while processing your request."
	ReplyEmpty            = "I apologize, but I could not generate a response."
)

var generateOptions = ollama.Options{Temperature: 0.3, TopP: 0.9, NumPredict: 500}

// Assistant holds the selected model and builds prompts.
type Assistant struct {
	rt  Runtime
	log *slog.Logger

	mu    sync.RWMutex
	model string
}

func NewAssistant(rt Runtime, model string, log *slog.Logger) *Assistant {
	if model == "" {
		model = ollama.DefaultModel
	}
	if log == nil {
		log = slog.Default()
	}
	return &Assistant{rt: rt, model: model, log: log}
}

func (a *Assistant) Model() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.model
}

// Available reports whether the runtime answers.
func (a *Assistant) Available(ctx context.Context) bool {
	if err := a.rt.CheckRunning(ctx); err != nil {
		a.log.Debug("model runtime status check failed", "error", err)
		return false
	}
	return true
}

// Models lists installed model names; failures yield an empty list.
func (a *Assistant) Models(ctx context.Context) []string {
	ms, err := a.rt.ListModels(ctx)
	if err != nil {
		a.log.Warn("list models failed", "error", err)
		return []string{}
	}
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Name)
	}
	return out
}

// SelectModel makes name current once it is installed (pulling if needed).
func (a *Assistant) SelectModel(ctx context.Context, name string) error {
	if err := a.rt.EnsureModel(ctx, name); err != nil {
		a.log.Warn("model not available", "model", name, "error", err)
		return err
	}
	a.mu.Lock()
	a.model = name
	a.mu.Unlock()
	a.log.Info("model selected", "model", name)
	return nil
}

// Respond always returns text: model output or one of the Reply constants.
func (a *Assistant) Respond(ctx context.Context, message string) string {
	model := a.Model()
	if err := a.rt.EnsureModel(ctx, model); err != nil {
		a.log.Warn("model not available", "model", model, "error", err)
		return ReplyModelUnavailable
	}
	opts := generateOptions
	resp, err := a.rt.Generate(ctx, ollama.GenerateRequest{
		Model:   model,
		System:  systemPrompt,
		Prompt:  "Patient: " + message + "\n\nMedical Assistant:",
		Options: &opts,
	})
	switch {
	case err == nil:
	case errors.Is(err, ollama.ErrTimeout):
		return ReplyTimeout
	case errors.Is(err, ollama.ErrNotRunning):
		a.log.Error("generate failed", "error", err)
		return ReplyInternalError
	default:
		a.log.Error("generate failed", "model", model, "error", err)
		return ReplyRuntimeError
	}
	if strings.TrimSpace(resp.Response) == "" {
		return ReplyEmpty
	}
	return resp.Response
}

// SymptomPrompt is the message generated for a symptom list.
func SymptomPrompt(symptoms []string) string {
	return "I have the following symptoms: " + strings.Join(symptoms, ", ") + ". What could this indicate and what should I do?"
}

// InteractionPrompt is the message generated for a medication list.
func InteractionPrompt(meds []string) string {
	return "Are there any known interactions between these medications: " + strings.Join(meds, ", ") + "?"
}
