package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chenpu17/ai-browser/internal/browser"
	aiberrors "github.com/chenpu17/ai-browser/internal/errors"
	"github.com/chenpu17/ai-browser/internal/events"
	"github.com/chenpu17/ai-browser/internal/id"
	"github.com/chenpu17/ai-browser/internal/llm"
	"github.com/chenpu17/ai-browser/internal/logging"
	"github.com/chenpu17/ai-browser/internal/memory"
	"github.com/chenpu17/ai-browser/internal/tools"
)

// Config tunes one agent loop.
type Config struct {
	MaxIterations        int
	MaxConsecutiveErrors int
	HardTimeout          time.Duration
	AskHumanTimeout      time.Duration
	ResultCharBudget     int
	MemoryInjectBudget   int
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 30
	}
	if c.MaxConsecutiveErrors <= 0 {
		c.MaxConsecutiveErrors = 3
	}
	if c.HardTimeout <= 0 {
		c.HardTimeout = 10 * time.Minute
	}
	if c.AskHumanTimeout <= 0 {
		c.AskHumanTimeout = 5 * time.Minute
	}
	if c.ResultCharBudget <= 0 {
		c.ResultCharBudget = defaultResultBudget
	}
	if c.MemoryInjectBudget <= 0 {
		c.MemoryInjectBudget = 1500
	}
	return c
}

// Result is what a finished run reports.
type Result struct {
	Success    bool           `json:"success"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Iterations int            `json:"iterations"`
	TokenUsage llm.TokenUsage `json:"tokenUsage"`
}

// ToolExecutor runs one decoded tool call. The tool bus satisfies it; tests
// substitute scripted executors.
type ToolExecutor interface {
	Execute(ctx context.Context, call tools.Call) *tools.Result
}

// Loop is the reason-act controller for one task. It owns a browser session
// for its lifetime and publishes its events to a stream.
type Loop struct {
	cfg       Config
	client    llm.Client
	bus       ToolExecutor
	manager   *browser.Manager
	memories  *memory.CardStore
	stream    *events.Stream
	logger    logging.Logger
	formatter *Formatter

	sessionID   string
	ownsSession bool

	mu          sync.Mutex
	running     bool
	finished    bool
	done        bool
	iteration   int
	consecutive int
	pending     *inputWaiter

	usage     *tools.UsageTracker
	detector  *LoopDetector
	progress  *ProgressEstimator
	recalled  map[string]bool
	lastURL   string
	lastTask  string
	tokenUsed llm.TokenUsage
}

// Options bundle the collaborators a loop needs.
type Options struct {
	Config      Config
	Client      llm.Client
	Bus         ToolExecutor
	Manager     *browser.Manager
	Memory      *memory.CardStore
	Stream      *events.Stream
	Logger      logging.Logger
	SessionID   string
	OwnsSession bool
}

// NewLoop creates an idle loop bound to an existing session.
func NewLoop(opts Options) *Loop {
	cfg := opts.Config.withDefaults()
	return &Loop{
		cfg:         cfg,
		client:      opts.Client,
		bus:         opts.Bus,
		manager:     opts.Manager,
		memories:    opts.Memory,
		stream:      opts.Stream,
		logger:      logging.OrNop(opts.Logger),
		formatter:   NewFormatter(cfg.ResultCharBudget),
		sessionID:   opts.SessionID,
		ownsSession: opts.OwnsSession,
		usage:       tools.NewUsageTracker(),
		detector:    NewLoopDetector(),
		progress:    NewProgressEstimator(),
		recalled:    make(map[string]bool),
	}
}

// SessionID returns the bound session.
func (l *Loop) SessionID() string { return l.sessionID }

// UsageRecords returns the tool calls made so far.
func (l *Loop) UsageRecords() []tools.UsageRecord { return l.usage.Records() }

// Run drives the loop to completion. A second Run while one is in flight
// fails with "already running"; a finished loop cannot be rerun.
func (l *Loop) Run(ctx context.Context, task string) (*Result, error) {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return nil, aiberrors.New(aiberrors.CodeInvalidRequest, "agent is already running")
	}
	if l.finished {
		l.mu.Unlock()
		return nil, aiberrors.New(aiberrors.CodeInvalidRequest, "agent run already finished")
	}
	l.running = true
	l.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, l.cfg.HardTimeout)
	defer cancel()

	result := l.run(ctx, task)

	l.mu.Lock()
	l.running = false
	l.finished = true
	l.mu.Unlock()

	l.emit(events.Event{
		Type:      events.TypeDone,
		Iteration: result.Iterations,
		Data: map[string]any{
			"success": result.Success,
			"result":  result.Result,
			"error":   result.Error,
		},
	})
	return result, nil
}

func (l *Loop) run(ctx context.Context, task string) *Result {
	l.lastTask = task
	conversation := []llm.Message{
		{Role: "system", Content: buildSystemPrompt()},
		{Role: "user", Content: task},
	}
	conversation = append(conversation, l.preRecall(ctx, task)...)

	toolDefs := append(tools.Definitions(), tools.PseudoToolDefinitions()...)
	reminded := false

	for l.iteration < l.cfg.MaxIterations {
		if l.isDone() {
			break
		}
		if ctx.Err() != nil {
			return l.fail("run canceled or timed out", aiberrors.CodeRunTimeout)
		}
		l.iteration++

		remaining := l.cfg.MaxIterations - l.iteration
		if !reminded && remaining <= 2 && l.cfg.MaxIterations > 3 {
			conversation = append(conversation, llm.Message{Role: "user", Content: reminderMessage(remaining + 1)})
			reminded = true
		}

		l.emit(events.Event{Type: events.TypeThinking, Iteration: l.iteration, Data: map[string]any{
			"messages": len(conversation),
		}})

		resp, err := l.client.Complete(ctx, llm.CompletionRequest{
			Messages: conversation,
			Tools:    toolDefs,
			Metadata: map[string]any{"request_id": id.NewRequestID()},
		})
		if err != nil {
			l.consecutive++
			decision := Recover("llm", err, l.consecutive, l.cfg.MaxConsecutiveErrors)
			l.logger.Warn("llm call failed (consecutive=%d, decision=%s): %v", l.consecutive, decision.Kind, err)
			if decision.Kind == DecideAbort {
				return l.fail("model endpoint failed: "+decision.Reason, aiberrors.CodeExecutionError)
			}
			select {
			case <-ctx.Done():
				return l.fail("run canceled or timed out", aiberrors.CodeRunTimeout)
			case <-time.After(llmRetryDelay(decision)):
			}
			continue
		}
		l.consecutive = 0
		l.tokenUsed.Add(resp.Usage)

		assistant := llm.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls}
		conversation = append(conversation, assistant)

		for _, subgoal := range l.progress.ObserveContent(resp.Content) {
			l.emit(events.Event{Type: events.TypeSubgoalCompleted, Iteration: l.iteration,
				Data: map[string]any{"subgoal": subgoal}})
		}

		if len(resp.ToolCalls) == 0 {
			content := strings.TrimSpace(resp.Content)
			if content == "" {
				continue
			}
			return l.succeed(content)
		}

		var deferredHints []string
		turnDone := false
		var doneResult *Result

		for _, toolCall := range resp.ToolCalls {
			switch toolCall.Name {
			case tools.ToolDone:
				doneResult = l.handleDone(toolCall)
				conversation = append(conversation, llm.Message{
					Role: "tool", ToolCallID: toolCall.ID, Name: toolCall.Name,
					Content: "Task marked as complete.",
				})
				turnDone = true
			case tools.ToolAskHuman:
				message, hint := l.handleAskHuman(ctx, toolCall)
				conversation = append(conversation, message)
				if hint != "" {
					deferredHints = append(deferredHints, hint)
				}
			default:
				message, hints := l.handleToolCall(ctx, toolCall)
				conversation = append(conversation, message)
				deferredHints = append(deferredHints, hints...)
			}
			if turnDone {
				break
			}
		}

		// Deferred hints come after every tool message of the turn so tool
		// results stay contiguous with their assistant message.
		for _, hint := range deferredHints {
			conversation = append(conversation, llm.Message{Role: "user", Content: hint})
		}

		if doneResult != nil {
			return doneResult
		}

		l.emit(events.Event{Type: events.TypeProgress, Iteration: l.iteration, Data: map[string]any{
			"estimate": l.progress.Estimate(),
			"tokens":   estimateTokens(conversation),
		}})
	}

	if l.isDone() {
		return l.fail("run canceled", aiberrors.CodeRunCanceled)
	}
	return l.fail(fmt.Sprintf("iteration budget (%d) exhausted before done", l.cfg.MaxIterations), aiberrors.CodeExecutionError)
}

// handleDone parses the done pseudo-tool and triggers memory capture on
// success.
func (l *Loop) handleDone(call llm.ToolCall) *Result {
	args, err := tools.DecodeArguments(call.Arguments)
	if err != nil {
		args = map[string]any{}
	}
	resultText := tools.StringArg(args, "result")
	success := tools.BoolArg(args, "success", true)
	if !success {
		res := l.fail(resultText, aiberrors.CodeExecutionError)
		return res
	}
	return l.succeed(resultText)
}

// handleAskHuman suspends the loop on a one-shot waiter and returns the tool
// message carrying the (masked) answer, plus an optional deferred hint.
func (l *Loop) handleAskHuman(ctx context.Context, call llm.ToolCall) (llm.Message, string) {
	args, err := tools.DecodeArguments(call.Arguments)
	if err != nil {
		return llm.Message{Role: "tool", ToolCallID: call.ID, Name: call.Name,
			Content: "ERROR INVALID_PARAMETER: " + err.Error()}, ""
	}
	question := tools.StringArg(args, "question")
	fields := parseInputFields(args["fields"])

	requestID := id.NewInputRequestID()
	waiter := newInputWaiter(requestID, fields, l.cfg.AskHumanTimeout)
	l.mu.Lock()
	l.pending = waiter
	l.mu.Unlock()

	l.emit(events.Event{Type: events.TypeInputRequired, Iteration: l.iteration, Data: map[string]any{
		"requestId": requestID,
		"question":  question,
		"fields":    fields,
	}})

	values, waitErr := waiter.wait()
	l.mu.Lock()
	l.pending = nil
	l.mu.Unlock()

	if waitErr != nil || ctx.Err() != nil {
		return llm.Message{Role: "tool", ToolCallID: call.ID, Name: call.Name,
				Content: "The human did not respond in time. Continue without this information or finish with done."},
			""
	}

	masked := maskValues(values, fields)
	maskedJSON, _ := json.Marshal(masked)
	l.emit(events.Event{Type: events.TypeToolResult, Iteration: l.iteration, Data: map[string]any{
		"tool":   call.Name,
		"ok":     true,
		"result": string(maskedJSON),
	}})

	// The model sees real values so it can type them; events never do.
	realJSON, _ := json.Marshal(values)
	return llm.Message{Role: "tool", ToolCallID: call.ID, Name: call.Name, Content: string(realJSON)}, ""
}

func parseInputFields(raw any) []InputField {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var fields []InputField
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		field := InputField{}
		field.Name, _ = m["name"].(string)
		field.Type, _ = m["type"].(string)
		field.Label, _ = m["label"].(string)
		if field.Name != "" {
			fields = append(fields, field)
		}
	}
	return fields
}

// handleToolCall decodes, dispatches, and formats one browser tool call.
// Returned hints are deferred to the end of the turn.
func (l *Loop) handleToolCall(ctx context.Context, toolCall llm.ToolCall) (llm.Message, []string) {
	var hints []string

	args, decodeErr := tools.DecodeArguments(toolCall.Arguments)
	if decodeErr != nil {
		l.consecutive++
		result := tools.Fail(tools.Call{ID: toolCall.ID, Name: toolCall.Name}, decodeErr)
		l.emitToolEvents(toolCall.Name, nil, result)
		return llm.Message{Role: "tool", ToolCallID: toolCall.ID, Name: toolCall.Name,
			Content: l.formatter.Format(tools.Call{Name: toolCall.Name}, result)}, hints
	}

	// The session binding is authoritative; whatever the model put there is
	// discarded.
	call := tools.Call{ID: toolCall.ID, Name: toolCall.Name, SessionID: l.sessionID, Args: args}

	if toolCall.Name == tools.ToolNavigate {
		if hint := l.autoRecall(tools.StringArg(args, "url")); hint != "" {
			hints = append(hints, hint)
		}
	}

	l.emit(events.Event{Type: events.TypeToolCall, Iteration: l.iteration, Data: map[string]any{
		"tool": call.Name,
		"args": MaskSecrets(mustJSON(args)),
	}})

	started := time.Now()
	result := l.bus.Execute(ctx, call)
	l.usage.Record(call, result, started)
	l.emitToolEvents(call.Name, call.Args, result)

	if result.OK {
		l.consecutive = 0
		if call.Name == tools.ToolNavigate {
			if url, ok := result.Data["url"].(string); ok {
				l.lastURL = url
			}
		}
	} else {
		l.consecutive++
		decision := Recover(call.Name, resultError(result), l.consecutive, l.cfg.MaxConsecutiveErrors)
		switch decision.Kind {
		case DecideAbort:
			l.requestStop()
		case DecideInjectHint:
			hints = append(hints, decision.Hint)
		case DecideRetry:
			time.Sleep(decision.Delay)
		}
	}
	l.progress.ObserveTool(call.Name, result.OK)

	if hint := l.detector.Observe(call.Name, call.Args, result.OK); hint != "" {
		hints = append(hints, hint)
	}

	return llm.Message{Role: "tool", ToolCallID: toolCall.ID, Name: toolCall.Name,
		Content: l.formatter.Format(call, result)}, hints
}

func resultError(result *tools.Result) error {
	err := aiberrors.New(result.ErrorCode, result.Message)
	if result.Hint != "" {
		return err.WithHint(result.Hint)
	}
	return err
}

func (l *Loop) emitToolEvents(tool string, args map[string]any, result *tools.Result) {
	data := map[string]any{
		"tool": tool,
		"ok":   result.OK,
	}
	if !result.OK {
		data["errorCode"] = result.ErrorCode
		data["message"] = result.Message
	} else {
		data["result"] = MaskSecrets(truncateForEvent(result.Content))
	}
	l.emit(events.Event{Type: events.TypeToolResult, Iteration: l.iteration, Data: data})
}

func truncateForEvent(s string) string {
	if len(s) > 500 {
		return s[:500] + "…"
	}
	return s
}

// preRecall asks the model which remembered domains matter for the task and
// injects their cards before the first real turn. Any failure skips recall.
func (l *Loop) preRecall(ctx context.Context, task string) []llm.Message {
	if l.memories == nil {
		return nil
	}
	index := l.memories.ListDomains()
	if len(index) == 0 {
		return nil
	}

	var listing strings.Builder
	for _, entry := range index {
		fmt.Fprintf(&listing, "- %s (%d patterns)\n", entry.Domain, entry.PatternCount)
	}
	resp, err := l.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: "Pick up to three domains from the list that are relevant to the task. Reply with a JSON array of domain strings, nothing else."},
			{Role: "user", Content: "Task: " + task + "\n\nKnown domains:\n" + listing.String()},
		},
	})
	if err != nil {
		l.logger.Debug("memory pre-recall skipped: %v", err)
		return nil
	}
	l.tokenUsed.Add(resp.Usage)

	var domains []string
	cleaned := strings.Trim(strings.TrimSpace(resp.Content), "`")
	if err := json.Unmarshal([]byte(cleaned), &domains); err != nil {
		return nil
	}

	var messages []llm.Message
	for i, domain := range domains {
		if i >= 3 {
			break
		}
		card := l.memories.LoadCard(domain)
		if card == nil {
			continue
		}
		snippet := memory.Inject(card, task, l.cfg.MemoryInjectBudget)
		if snippet == "" {
			continue
		}
		l.recalled[card.Domain] = true
		l.emit(events.Event{Type: events.TypeMemoryRecall, Data: map[string]any{
			"domain": card.Domain, "version": card.Version,
		}})
		messages = append(messages, llm.Message{Role: "user", Content: "[系统提示] " + snippet})
	}
	return messages
}

// autoRecall injects the best card for a navigation target, once per domain
// per run.
func (l *Loop) autoRecall(url string) string {
	if l.memories == nil || url == "" {
		return ""
	}
	card := memory.BestCardForURL(l.memories, url)
	if card == nil || l.recalled[card.Domain] {
		return ""
	}
	snippet := memory.Inject(card, url, l.cfg.MemoryInjectBudget)
	if snippet == "" {
		return ""
	}
	l.recalled[card.Domain] = true
	l.emit(events.Event{Type: events.TypeMemoryRecall, Iteration: l.iteration, Data: map[string]any{
		"domain": card.Domain, "version": card.Version,
	}})
	return "[系统提示] " + snippet
}

// capture saves learned patterns after a successful run. Failures are
// swallowed.
func (l *Loop) capture(task string) {
	if l.memories == nil {
		return
	}
	domain := memory.ExtractDomainFromTask(task)
	if domain == "" && l.lastURL != "" {
		domain = memory.DomainOfURL(l.lastURL)
	}
	if domain == "" {
		return
	}
	var steps []memory.TraceStep
	for _, rec := range l.usage.Records() {
		steps = append(steps, memory.TraceStep{Tool: rec.Tool, Args: rec.Args, OK: rec.OK, At: rec.EndedAt})
	}
	patterns := memory.Capture(task, steps)
	if len(patterns) == 0 {
		return
	}
	l.memories.SaveCard(&memory.KnowledgeCard{Domain: domain, Patterns: patterns})
	l.logger.Info("captured %d patterns for %s", len(patterns), domain)
}

func (l *Loop) succeed(resultText string) *Result {
	l.capture(l.lastTask)
	return &Result{Success: true, Result: resultText, Iterations: l.iteration, TokenUsage: l.tokenUsed}
}

func (l *Loop) fail(reason string, code aiberrors.Code) *Result {
	return &Result{Success: false, Error: fmt.Sprintf("%s: %s", code, reason),
		Iterations: l.iteration, TokenUsage: l.tokenUsed}
}

// ResolveInput resumes a run suspended on ask_human. Returns false when no
// request with that id is pending.
func (l *Loop) ResolveInput(requestID string, values map[string]string) bool {
	l.mu.Lock()
	waiter := l.pending
	l.mu.Unlock()
	if waiter == nil || waiter.requestID != requestID {
		return false
	}
	return waiter.resolve(values)
}

// Stop requests cooperative cancellation; the loop exits at the next
// iteration boundary.
func (l *Loop) Stop() {
	l.requestStop()
	l.mu.Lock()
	waiter := l.pending
	l.mu.Unlock()
	if waiter != nil {
		waiter.cancel()
	}
}

func (l *Loop) requestStop() {
	l.mu.Lock()
	l.done = true
	l.mu.Unlock()
}

func (l *Loop) isDone() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Cleanup releases the loop's session when it owns one, and unblocks any
// pending input waiter.
func (l *Loop) Cleanup(ctx context.Context) {
	l.Stop()
	if l.ownsSession && l.manager != nil {
		l.manager.Close(ctx, l.sessionID)
	}
}

func (l *Loop) emit(event events.Event) {
	if l.stream != nil {
		l.stream.Publish(event)
	}
}

func mustJSON(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
