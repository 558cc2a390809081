package chat

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Fallbacks are shown when the backend cannot answer.
var Fallbacks = []string{
	"I'm currently unable to connect to the medical AI service. Please ensure the backend server is running and try again.",
	"The medical AI service appears to be offline. Please check that Ollama is installed and running, then restart the application.",
	"I'm experiencing connectivity issues with the AI service. This could be due to the backend server not running or Ollama not being available.",
}

// Policy selects which fallback is shown.
type Policy string

const (
	PolicyRandom     Policy = "random"
	PolicyRoundRobin Policy = "round_robin"
	PolicyFirst      Policy = "first"
)

// ParsePolicy accepts the configured policy name; empty means random.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(s); p {
	case "":
		return PolicyRandom, nil
	case PolicyRandom, PolicyRoundRobin, PolicyFirst:
		return p, nil
	default:
		return "", fmt.Errorf("unknown fallback policy %q", s)
	}
}

type picker struct {
	policy Policy
	mu     sync.Mutex
	next   int
}

func (p *picker) pick() string {
	switch p.policy {
	case PolicyFirst:
		return Fallbacks[0]
	case PolicyRoundRobin:
		p.mu.Lock()
		defer p.mu.Unlock()
		s := Fallbacks[p.next%len(Fallbacks)]
		p.next++
		return s
	default:
		return Fallbacks[rand.IntN(len(Fallbacks))]
	}
}
