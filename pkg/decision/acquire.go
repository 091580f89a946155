package decision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"arena-api/pkg/llm"
)

// ErrProvider marks transport or API failures from the model provider,
// as opposed to local parse failures which degrade to a neutral intent.
var ErrProvider = errors.New("decision: model provider error")

const (
	defaultMaxToolCalls = 10
	defaultMaxLoopTime  = 30 * time.Second

	correctiveMessage = "Your previous reply was not valid JSON matching the required intent contract. Reply again with exactly one JSON object and nothing else."
	finalTurnMessage  = "Tool budget exhausted. Provide your final decision now as a single JSON object matching the intent contract."
)

// Result is a completed acquisition: the intent plus the accounting the
// caller needs for billing and the decision record.
type Result struct {
	Intent      *Intent
	Usage       llm.Usage
	Model       string
	ToolCalls   int
	RawResponse string
	Fallback    bool // neutral fallback was used
}

// Acquirer turns a market context into an Intent via the LLM.
type Acquirer struct {
	client       llm.LLMClient
	model        string
	maxToolCalls int
	maxLoopTime  time.Duration
	now          func() time.Time
}

// Option customizes an Acquirer.
type Option func(*Acquirer)

// WithModel pins a model alias instead of the client default.
func WithModel(model string) Option {
	return func(a *Acquirer) { a.model = model }
}

// WithToolBudget overrides the tool-call count budget.
func WithToolBudget(n int) Option {
	return func(a *Acquirer) {
		if n > 0 {
			a.maxToolCalls = n
		}
	}
}

// WithTimeBudget overrides the wall-clock budget for the agentic loop.
func WithTimeBudget(d time.Duration) Option {
	return func(a *Acquirer) {
		if d > 0 {
			a.maxLoopTime = d
		}
	}
}

// WithClock injects a deterministic time source for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Acquirer) {
		if now != nil {
			a.now = now
		}
	}
}

// NewAcquirer constructs an Acquirer with spec defaults.
func NewAcquirer(client llm.LLMClient, opts ...Option) (*Acquirer, error) {
	if client == nil {
		return nil, errors.New("decision: llm client is required")
	}
	a := &Acquirer{
		client:       client,
		maxToolCalls: defaultMaxToolCalls,
		maxLoopTime:  defaultMaxLoopTime,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Passive issues one request with all context pre-embedded. A malformed
// reply gets exactly one corrective retry; a second failure degrades to
// a neutral intent. Provider errors propagate wrapped in ErrProvider.
func (a *Acquirer) Passive(ctx context.Context, mc *MarketContext) (*Result, error) {
	messages := []llm.Message{
		{Role: "system", Content: systemPrompt(mc, false)},
		{Role: "user", Content: passiveUserPrompt(mc, a.now())},
	}

	result := &Result{}
	intent, raw, err := a.requestIntent(ctx, mc.Market, messages, result)
	if err != nil {
		return nil, err
	}
	result.Intent = intent
	result.RawResponse = raw
	return result, nil
}

// loopState drives the agentic exchange.
type loopState int

const (
	stateGathering loopState = iota
	stateAwaitingFinal
	stateDone
	stateFailed
)

// Agentic runs the bounded tool loop: the model gathers data through the
// toolbox until it answers, or until either budget (tool calls or wall
// clock) forces a final no-tools turn.
func (a *Acquirer) Agentic(ctx context.Context, mc *MarketContext, toolbox *Toolbox) (*Result, error) {
	if toolbox == nil {
		return nil, errors.New("decision: toolbox is required for agentic mode")
	}

	messages := []llm.Message{
		{Role: "system", Content: systemPrompt(mc, true)},
		{Role: "user", Content: agenticUserPrompt(mc, a.now())},
	}
	tools := toolbox.Definitions()
	deadline := a.now().Add(a.maxLoopTime)

	result := &Result{}
	state := stateGathering

	for state == stateGathering {
		resp, err := a.chat(ctx, &llm.ChatRequest{
			Model:    a.model,
			Messages: messages,
			Tools:    tools,
		}, result)
		if err != nil {
			return nil, err
		}

		choice := firstChoice(resp)
		if choice == nil {
			state = stateAwaitingFinal
			break
		}

		if len(choice.ToolCalls) == 0 {
			// The model answered in text; parse with one corrective retry.
			intent, parseErr := ParseIntent(choice.Message.Content)
			if parseErr == nil {
				result.Intent = intent
				result.RawResponse = choice.Message.Content
				state = stateDone
				break
			}
			messages = append(messages,
				llm.Message{Role: "assistant", Content: choice.Message.Content},
				llm.Message{Role: "user", Content: correctiveMessage},
			)
			intent, raw, retryErr := a.finalAttempt(ctx, messages, result)
			if retryErr != nil {
				return nil, retryErr
			}
			if intent != nil {
				result.Intent = intent
				result.RawResponse = raw
				state = stateDone
			} else {
				state = stateFailed
			}
			break
		}

		// Execute the requested tools, budget permitting.
		messages = append(messages, llm.Message{
			Role:      "assistant",
			Content:   choice.Message.Content,
			ToolCalls: choice.ToolCalls,
		})
		for _, call := range choice.ToolCalls {
			if result.ToolCalls >= a.maxToolCalls {
				messages = append(messages, llm.Message{
					Role:       "tool",
					ToolCallID: call.ID,
					Content:    errPayload("tool budget exhausted"),
				})
				continue
			}
			result.ToolCalls++
			output := toolbox.Dispatch(ctx, call.Function.Name, call.Function.Arguments)
			messages = append(messages, llm.Message{
				Role:       "tool",
				ToolCallID: call.ID,
				Content:    output,
			})
		}

		if result.ToolCalls >= a.maxToolCalls || a.now().After(deadline) {
			state = stateAwaitingFinal
		}
	}

	if state == stateAwaitingFinal {
		messages = append(messages, llm.Message{Role: "user", Content: finalTurnMessage})
		intent, raw, err := a.finalAttempt(ctx, messages, result)
		if err != nil {
			return nil, err
		}
		if intent != nil {
			result.Intent = intent
			result.RawResponse = raw
			state = stateDone
		} else {
			state = stateFailed
		}
	}

	if state != stateDone {
		result.Intent = NeutralIntent(mc.Market, "model did not return a parseable intent")
		result.Fallback = true
	}
	return result, nil
}

// requestIntent performs one request plus at most one corrective retry,
// then falls back to neutral.
func (a *Acquirer) requestIntent(ctx context.Context, marketName string, messages []llm.Message, result *Result) (*Intent, string, error) {
	resp, err := a.chat(ctx, &llm.ChatRequest{Model: a.model, Messages: messages}, result)
	if err != nil {
		return nil, "", err
	}
	content := firstContent(resp)
	intent, parseErr := ParseIntent(content)
	if parseErr == nil {
		return intent, content, nil
	}

	messages = append(messages,
		llm.Message{Role: "assistant", Content: content},
		llm.Message{Role: "user", Content: correctiveMessage},
	)
	intent, raw, err := a.finalAttempt(ctx, messages, result)
	if err != nil {
		return nil, "", err
	}
	if intent == nil {
		result.Fallback = true
		return NeutralIntent(marketName, "model did not return a parseable intent"), raw, nil
	}
	return intent, raw, nil
}

// finalAttempt issues one request with no tools offered and returns a nil
// intent (not an error) when the reply still fails to parse.
func (a *Acquirer) finalAttempt(ctx context.Context, messages []llm.Message, result *Result) (*Intent, string, error) {
	resp, err := a.chat(ctx, &llm.ChatRequest{Model: a.model, Messages: messages}, result)
	if err != nil {
		return nil, "", err
	}
	content := firstContent(resp)
	intent, parseErr := ParseIntent(content)
	if parseErr != nil {
		return nil, content, nil
	}
	return intent, content, nil
}

func (a *Acquirer) chat(ctx context.Context, req *llm.ChatRequest, result *Result) (*llm.ChatResponse, error) {
	resp, err := a.client.Chat(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	result.Usage.Add(resp.Usage)
	if resp.Model != "" {
		result.Model = resp.Model
	}
	return resp, nil
}

func firstChoice(resp *llm.ChatResponse) *llm.Choice {
	if resp == nil || len(resp.Choices) == 0 {
		return nil
	}
	return &resp.Choices[0]
}

func firstContent(resp *llm.ChatResponse) string {
	if choice := firstChoice(resp); choice != nil {
		return strings.TrimSpace(choice.Message.Content)
	}
	return ""
}
