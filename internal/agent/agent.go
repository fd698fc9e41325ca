// Package agent runs the tool-calling answer loop: the model may search
// the manual any number of times within an iteration budget, then answers.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"policyrag/internal/domain"
	"policyrag/internal/retrieval"
)

const (
	defaultMaxIterations = 4
	defaultMaxTokens     = 500
)

type Config struct {
	Model          domain.ChatModel
	Tools          []domain.Tool
	Persona        string
	Refusal        string
	MaxIterations  int
	HistoryTurns   int
	EnforceRefusal bool
	MaxTokens      int
	Temperature    float64
	Logger         *zap.Logger
}

// Agent answers one query per call and keeps no state between calls.
type Agent struct {
	model          domain.ChatModel
	tools          map[string]domain.Tool
	defs           []domain.ToolDefinition
	system         string
	refusal        string
	maxIterations  int
	historyTurns   int
	enforceRefusal bool
	maxTokens      int
	temperature    float64
	logger         *zap.Logger
}

var _ domain.Assistant = (*Agent)(nil)

func New(cfg Config) *Agent {
	if cfg.Persona == "" {
		cfg.Persona = DefaultPersona
	}
	if cfg.Refusal == "" {
		cfg.Refusal = DefaultRefusal
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = defaultMaxIterations
	}
	if cfg.HistoryTurns < 0 {
		cfg.HistoryTurns = 0
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	a := &Agent{
		model:          cfg.Model,
		tools:          make(map[string]domain.Tool, len(cfg.Tools)),
		refusal:        cfg.Refusal,
		maxIterations:  cfg.MaxIterations,
		historyTurns:   cfg.HistoryTurns,
		enforceRefusal: cfg.EnforceRefusal,
		maxTokens:      cfg.MaxTokens,
		temperature:    cfg.Temperature,
		logger:         cfg.Logger,
	}
	toolName := retrieval.ToolName
	for i, t := range cfg.Tools {
		if i == 0 {
			toolName = t.Name()
		}
		a.tools[t.Name()] = t
		a.defs = append(a.defs, domain.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	a.system = BuildSystemPrompt(cfg.Persona, cfg.Refusal, toolName)
	return a
}

// SystemPrompt returns the instructions sent with every model call.
func (a *Agent) SystemPrompt() string { return a.system }

// Refusal returns the fixed answer used when the manual lacks the information.
func (a *Agent) Refusal() string { return a.refusal }

// Answer runs one turn. history holds prior user and assistant turns;
// only the most recent HistoryTurns of them are sent. Model failures wrap
// ErrModel and retrieval failures wrap ErrRetrieval.
func (a *Agent) Answer(ctx context.Context, query string, history []domain.Turn) (string, error) {
	messages := a.historyMessages(history)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: query})

	started := time.Now()
	toolCalls, sentinels := 0, 0
	for iteration := 0; iteration < a.maxIterations; iteration++ {
		req := domain.ChatRequest{
			System:      a.system,
			Messages:    messages,
			MaxTokens:   a.maxTokens,
			Temperature: a.temperature,
		}
		// The last call offers no tools so the model has to answer.
		if iteration < a.maxIterations-1 {
			req.Tools = a.defs
		}
		a.logger.Debug("agent iteration", zap.Int("iteration", iteration+1), zap.Int("messages", len(messages)))

		resp, err := a.model.Chat(ctx, req)
		if err != nil {
			return "", fmt.Errorf("%w: %s: %w", domain.ErrModel, a.model.Name(), err)
		}

		if !resp.HasToolCalls() {
			answer := strings.TrimSpace(resp.Content)
			if a.enforceRefusal && ((toolCalls > 0 && sentinels == toolCalls) || strings.Contains(answer, retrieval.Sentinel)) {
				answer = a.refusal
			}
			if answer == "" {
				return "", fmt.Errorf("%w: empty answer", domain.ErrModel)
			}
			a.logger.Info("answered",
				zap.Int("iterations", iteration+1),
				zap.Int("tool_calls", toolCalls),
				zap.Duration("took", time.Since(started)))
			return answer, nil
		}
		if iteration == a.maxIterations-1 {
			break
		}

		messages = append(messages, domain.Message{
			Role:      domain.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		for _, tc := range resp.ToolCalls {
			result, err := a.executeTool(ctx, tc)
			if err != nil {
				return "", err
			}
			toolCalls++
			if strings.TrimSpace(result) == retrieval.Sentinel {
				sentinels++
			}
			messages = append(messages, domain.Message{
				Role:       domain.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
				ToolName:   tc.Name,
			})
		}
	}
	return "", fmt.Errorf("%w: no answer after %d iterations", domain.ErrModel, a.maxIterations)
}

// executeTool returns the tool output, or an error message for the model
// when the call itself was malformed. Only retrieval failures abort the turn.
func (a *Agent) executeTool(ctx context.Context, tc domain.ToolCall) (string, error) {
	tool, ok := a.tools[tc.Name]
	if !ok {
		a.logger.Warn("model requested unknown tool", zap.String("tool", tc.Name))
		return fmt.Sprintf("Error: unknown tool %q", tc.Name), nil
	}
	a.logger.Debug("executing tool", zap.String("tool", tc.Name), zap.Any("args", tc.Arguments))
	result, err := tool.Execute(ctx, tc.Arguments)
	if err != nil {
		if errors.Is(err, domain.ErrRetrieval) {
			return "", err
		}
		return fmt.Sprintf("Error executing tool %s: %s", tc.Name, err), nil
	}
	return result, nil
}

func (a *Agent) historyMessages(history []domain.Turn) []domain.Message {
	var turns []domain.Turn
	for _, t := range history {
		if t.Role == domain.RoleUser || t.Role == domain.RoleAssistant {
			turns = append(turns, t)
		}
	}
	if len(turns) > a.historyTurns {
		turns = turns[len(turns)-a.historyTurns:]
	}
	out := make([]domain.Message, 0, len(turns)+1)
	for _, t := range turns {
		out = append(out, domain.Message{Role: t.Role, Content: t.Content})
	}
	return out
}
