package studio

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/brandforge/api/internal/plan"
)

// MetricAITokens is the usage counter metered by content generation.
const MetricAITokens = "ai_tokens"

type Request struct {
	Prompt    string `json:"prompt"`
	Tone      string `json:"tone"`
	MaxTokens int    `json:"max_tokens"`
}

type Result struct {
	Content    string `json:"content"`
	TokensUsed int    `json:"tokens_used"`
}

// Generator produces brand content from a prompt. The production
// implementation is glue around a hosted generative-AI API.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Result, error)
}

// MockGenerator returns canned content. Placeholder until the real
// generation pipeline lands.
type MockGenerator struct {
	Latency time.Duration
}

func (g *MockGenerator) Generate(ctx context.Context, req *Request) (*Result, error) {
	if g.Latency > 0 {
		select {
		case <-time.After(g.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	tone := req.Tone
	if tone == "" {
		tone = "neutral"
	}
	content := fmt.Sprintf("[%s] %s", tone, strings.TrimSpace(req.Prompt))
	tokens := len(strings.Fields(req.Prompt)) + 8
	if req.MaxTokens > 0 && tokens > req.MaxTokens {
		tokens = req.MaxTokens
	}

	return &Result{Content: content, TokensUsed: tokens}, nil
}

// Service runs generation behind a circuit breaker and meters the tokens
// consumed. The usage increment lives here, with the metered operation,
// not in the admission layer.
type Service struct {
	generator Generator
	plans     plan.Store
	cb        *gobreaker.CircuitBreaker
}

func NewService(generator Generator, plans plan.Store) *Service {
	settings := gobreaker.Settings{
		Name:        "studio-generator",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	}
	return &Service{
		generator: generator,
		plans:     plans,
		cb:        gobreaker.NewCircuitBreaker(settings),
	}
}

// Generate produces content for the tenant and returns the result along
// with the tenant's new cumulative token usage.
func (s *Service) Generate(ctx context.Context, tenantID string, req *Request) (*Result, int64, error) {
	raw, err := s.cb.Execute(func() (interface{}, error) {
		return s.generator.Generate(ctx, req)
	})
	if err != nil {
		return nil, 0, fmt.Errorf("generation failed: %w", err)
	}
	result := raw.(*Result)

	total, err := s.plans.AddUsage(ctx, tenantID, MetricAITokens, int64(result.TokensUsed))
	if err != nil {
		// The content was produced; losing one increment is preferable to
		// failing the request after the work is done.
		return result, 0, fmt.Errorf("usage metering failed: %w", err)
	}

	return result, total, nil
}
