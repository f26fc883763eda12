package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/selfhosted-assistant/internal/coreerr"
	"github.com/nugget/selfhosted-assistant/internal/events"
	"github.com/nugget/selfhosted-assistant/internal/llm"
	"github.com/nugget/selfhosted-assistant/internal/store"
	"github.com/nugget/selfhosted-assistant/internal/thread"
)

// baseInstructions is embedded verbatim into every first-exchange
// system prompt.
const baseInstructions = `You have persistent memory across conversations.
Always call recall before remember on a topic you are not certain you already know.
Each remember call stores exactly one atomic fact — do not bundle unrelated facts into one call.
To correct or update an existing memory, pass its id as replace_id; otherwise the new fact coexists alongside the old one.
Be selective: remember what matters, not every detail of the conversation.`

// defaultMaxIterations bounds the tool-call loop when the caller's
// configuration does not set one.
const defaultMaxIterations = 25

// StreamEventKind discriminates a StreamEvent's payload.
type StreamEventKind int

const (
	KindDelta StreamEventKind = iota
	KindToolCall
	KindToolResult
)

// StreamEvent is the tagged variant yielded over the course of one
// run_stream call: a text delta, a tool invocation, or a tool's
// result.
type StreamEvent struct {
	Kind StreamEventKind

	// Delta carries text for KindDelta.
	Delta string

	// CallID, ToolName, and Arguments carry the tool invocation for
	// KindToolCall; Arguments is the raw JSON argument string.
	CallID    string
	ToolName  string
	Arguments string

	// Output carries the tool's result string for KindToolResult.
	// CallID and ToolName are repeated so adapters need not correlate
	// back to the KindToolCall event.
	Output string
}

// StreamHandle is returned by RunStream: a lazy, single-consumer
// sequence of StreamEvents plus a usage future resolved once the run
// completes.
type StreamHandle struct {
	Events    <-chan StreamEvent
	ModelName string

	usage   chan *store.Usage
	errCh   chan error
	errOnce sync.Once
	err     error
}

// Usage blocks until the run's token usage is resolved (nil if the
// upstream never reported one) and returns it exactly once.
func (h *StreamHandle) Usage() *store.Usage {
	return <-h.usage
}

// Err blocks until the run has finished and returns the terminal error,
// if any; later calls return the same error without blocking. A non-nil
// error here corresponds to the adapter's `error`
// wire event (see §4.12); the assistant message may still have been
// persisted with partial text per §4.7's failure semantics.
func (h *StreamHandle) Err() error {
	h.errOnce.Do(func() { h.err = <-h.errCh })
	return h.err
}

// NewStreamHandle builds an already-resolved StreamHandle, for test
// doubles of collaborators that hold an AgentRunner.
func NewStreamHandle(events <-chan StreamEvent, modelName string, usage *store.Usage, err error) *StreamHandle {
	usageCh := make(chan *store.Usage, 1)
	usageCh <- usage
	errCh := make(chan error, 1)
	errCh <- err
	return &StreamHandle{Events: events, ModelName: modelName, usage: usageCh, errCh: errCh}
}

// Threads is the subset of thread.Service the Agent Service needs to
// persist a turn's messages and read back history.
type Threads interface {
	AddMessage(ctx context.Context, threadID int64, role store.MessageRole, model *string, content store.MessageContent) (*store.Message, error)
	Messages(ctx context.Context, threadID int64) ([]*store.Message, error)
}

// ToolExecutor is the subset of tools.Registry the Agent Service needs
// to advertise and invoke tools during the loop.
type ToolExecutor interface {
	List() []map[string]any
	Execute(ctx context.Context, name string, argsJSON string) (string, error)
}

// Service is the Agent Service: it drives the LM through a streaming,
// tool-using turn over a thread's persisted history.
type Service struct {
	threads   Threads
	llmClient llm.Client
	tools     ToolExecutor
	bus       *events.Bus
	context   ContextProvider

	modelName     string
	maxIterations int

	// inFlight tracks threads with a RunStream already in progress in
	// this process, so a second stream on the same thread is rejected
	// rather than racing the first for the same message history.
	inFlight sync.Map

	logger *slog.Logger
}

// Config configures a Service.
type Config struct {
	ModelName     string
	MaxIterations int
}

// New creates an Agent Service. context supplies the first-exchange
// system-prompt contributions (typically a CompositeContextProvider
// wrapping the Memory Service and the channel-awareness provider).
func New(threads Threads, llmClient llm.Client, registry ToolExecutor, bus *events.Bus, context ContextProvider, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = defaultMaxIterations
	}
	return &Service{
		threads:       threads,
		llmClient:     llmClient,
		tools:         registry,
		bus:           bus,
		context:       context,
		modelName:     cfg.ModelName,
		maxIterations: maxIter,
		logger:        logger.With("component", "agent"),
	}
}

// RunStream drives one conversational turn on threadID. It persists
// the user message synchronously before returning, then runs the LM
// call and tool loop on a background goroutine, streaming events on
// the returned handle.
func (s *Service) RunStream(ctx context.Context, threadID int64, userMessage string) (*StreamHandle, error) {
	if _, already := s.inFlight.LoadOrStore(threadID, struct{}{}); already {
		return nil, coreerr.New(coreerr.Validation, "a stream is already in progress on thread %d", threadID)
	}
	// Every return below must release the marker exactly once: the
	// early-return paths release directly, and the success path hands
	// ownership to run(), which releases via its own defer.
	userMsg, err := s.threads.AddMessage(ctx, threadID, store.RoleUser, nil, store.MessageContent{
		Role:    store.RoleUser,
		Content: userMessage,
	})
	if err != nil {
		s.inFlight.Delete(threadID)
		return nil, coreerr.Wrap(coreerr.Storage, err, "persist user message")
	}

	history, err := s.threads.Messages(ctx, threadID)
	if err != nil {
		s.inFlight.Delete(threadID)
		return nil, coreerr.Wrap(coreerr.Storage, err, "load thread history")
	}

	if thread.IsFirstExchange(history, userMsg.ID) {
		systemText := s.assembleSystemPrompt(ctx, userMessage)
		if _, err := s.threads.AddMessage(ctx, threadID, store.RoleSystem, nil, store.MessageContent{
			Role:    store.RoleSystem,
			Content: systemText,
		}); err != nil {
			s.inFlight.Delete(threadID)
			return nil, coreerr.Wrap(coreerr.Storage, err, "persist system prompt")
		}
		history, err = s.threads.Messages(ctx, threadID)
		if err != nil {
			s.inFlight.Delete(threadID)
			return nil, coreerr.Wrap(coreerr.Storage, err, "reload thread history")
		}
	}

	eventsCh := make(chan StreamEvent, 32)
	handle := &StreamHandle{
		Events:    eventsCh,
		ModelName: s.modelName,
		usage:     make(chan *store.Usage, 1),
		errCh:     make(chan error, 1),
	}

	go s.run(ctx, threadID, history, eventsCh, handle)

	return handle, nil
}

// assembleSystemPrompt builds the first-exchange system prompt: base
// instructions, current wall-clock time, and whatever the context
// provider contributes. A provider failure is logged and the prompt
// falls back to base instructions alone — assembly is best-effort and
// must never abort the conversation.
func (s *Service) assembleSystemPrompt(ctx context.Context, userMessage string) string {
	text := baseInstructions + "\n\nCurrent time: " + time.Now().Format(time.RFC1123)

	if s.context == nil {
		return text
	}
	extra, err := s.context.GetContext(ctx, userMessage)
	if err != nil {
		s.logger.Warn("context provider failed during prompt assembly", "error", err)
		return text
	}
	if extra == "" {
		return text
	}
	return text + "\n\n" + extra
}

// run executes the bounded tool-call loop and streams events until
// completion. It always closes eventsCh and resolves the usage and
// error futures exactly once.
func (s *Service) run(ctx context.Context, threadID int64, history []*store.Message, eventsCh chan StreamEvent, handle *StreamHandle) {
	defer close(eventsCh)
	defer s.inFlight.Delete(threadID)

	messages := toLLMMessages(history)
	toolDefs := s.tools.List()

	var fullText string
	var lastResp *llm.ChatResponse
	var runErr error

	for iteration := 0; iteration < s.maxIterations; iteration++ {
		forceFinal := iteration == s.maxIterations-1
		reqTools := toolDefs
		if forceFinal {
			reqTools = nil
		}

		resp, err := s.llmClient.ChatStream(ctx, s.modelName, messages, reqTools, func(ev llm.StreamEvent) {
			if ev.Kind == llm.KindToken && ev.Token != "" {
				fullText += ev.Token
				eventsCh <- StreamEvent{Kind: KindDelta, Delta: ev.Token}
			}
		})
		if err != nil {
			if fullText == "" && lastResp == nil {
				runErr = coreerr.Wrap(coreerr.Upstream, err, "language model call")
				handle.errCh <- runErr
				handle.usage <- nil
				return
			}
			runErr = coreerr.Wrap(coreerr.Upstream, err, "language model call mid-stream")
			break
		}
		lastResp = resp

		if len(resp.Message.ToolCalls) == 0 || forceFinal {
			break
		}

		messages = append(messages, resp.Message)
		for _, call := range resp.Message.ToolCalls {
			argsJSON, _ := json.Marshal(call.Function.Arguments)
			eventsCh <- StreamEvent{
				Kind:      KindToolCall,
				CallID:    call.ID,
				ToolName:  call.Function.Name,
				Arguments: string(argsJSON),
			}

			output, err := s.tools.Execute(ctx, call.Function.Name, string(argsJSON))
			if err != nil {
				output = fmt.Sprintf("tool error: %v", err)
			}

			eventsCh <- StreamEvent{
				Kind:     KindToolResult,
				CallID:   call.ID,
				ToolName: call.Function.Name,
				Output:   output,
			}

			messages = append(messages, llm.Message{
				Role:       "tool",
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	if runErr == nil {
		_, err := s.threads.AddMessage(ctx, threadID, store.RoleAssistant, &s.modelName, store.MessageContent{
			Role:    store.RoleAssistant,
			Content: fullText,
			Usage:   usageOf(lastResp),
		})
		if err != nil {
			runErr = coreerr.Wrap(coreerr.Storage, err, "persist assistant message")
		}
	} else {
		// Partial reply: persist what the user already saw, per §4.7's
		// failure semantics, with no usage since the run did not reach
		// a clean completion.
		s.threads.AddMessage(ctx, threadID, store.RoleAssistant, &s.modelName, store.MessageContent{
			Role:    store.RoleAssistant,
			Content: fullText,
		})
	}

	s.bus.Publish(events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAgent,
		Kind:      events.KindResponseComplete,
		Data:      map[string]any{"thread_id": threadID},
	})

	handle.usage <- usageOf(lastResp)
	handle.errCh <- runErr
}

func usageOf(resp *llm.ChatResponse) *store.Usage {
	if resp == nil || (resp.InputTokens == 0 && resp.OutputTokens == 0) {
		return nil
	}
	return &store.Usage{
		InputTokens:  resp.InputTokens,
		OutputTokens: resp.OutputTokens,
		TotalTokens:  resp.InputTokens + resp.OutputTokens,
	}
}

func toLLMMessages(history []*store.Message) []llm.Message {
	out := make([]llm.Message, 0, len(history))
	for _, m := range history {
		out = append(out, llm.Message{
			Role:    string(m.Role),
			Content: m.Content.Content,
		})
	}
	return out
}

