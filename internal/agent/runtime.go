package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wardenhq/warden/internal/acl"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/log"
	"github.com/wardenhq/warden/internal/memory"
	"github.com/wardenhq/warden/internal/policy"
	"github.com/wardenhq/warden/internal/provider"
	"github.com/wardenhq/warden/internal/security"
	"github.com/wardenhq/warden/internal/skills"
	"github.com/wardenhq/warden/internal/store"
	"github.com/wardenhq/warden/internal/tools"
)

// User-facing texts for the fixed loop outcomes.
const (
	msgPolicyDenied  = "Tool execution denied by policy."
	msgLimitReached  = "Tool call limit reached. Please refine your request or confirm required actions."
	msgUserCancelled = "User cancelled side-effect tool execution."
	msgAwaiting      = "Awaiting side-effect tool confirmation"
	msgEmptyReply    = "No response content returned by the model."
)

// Memory importance per saved event kind.
const (
	importanceUserPrompt = 0.7
	importanceCompletion = 0.6
	importanceLimit      = 0.4
	importanceDenial     = 0.5
)

// Runtime drives agent runs end to end. It is safe for concurrent use; all
// per-run state lives on the stack or in the pending store.
type Runtime struct {
	cfg      *config.Config
	provider ChatProvider
	store    *store.Store
	memory   *memory.Store
	acl      *acl.Manager
	policy   *policy.Evaluator
	selector *skills.Selector

	pending *pendingStore
	limiter *chatLimiter
	tracer  trace.Tracer
	logger  log.Logger
}

// New creates the runtime. mem may be nil, which disables memory recall and
// the memory tools for every run.
func New(cfg *config.Config, chat ChatProvider, st *store.Store, mem *memory.Store, aclMgr *acl.Manager, pol *policy.Evaluator, logger log.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if chat == nil {
		return nil, fmt.Errorf("chat provider is nil")
	}
	if st == nil {
		return nil, fmt.Errorf("session store is nil")
	}
	if aclMgr == nil {
		return nil, fmt.Errorf("acl manager is nil")
	}
	if pol == nil {
		return nil, fmt.Errorf("policy evaluator is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	var completer skills.Completer
	if cfg.RerankModel != "" {
		completer = &rerankCompleter{provider: chat, model: cfg.RerankModel}
	}

	return &Runtime{
		cfg:      cfg,
		provider: chat,
		store:    st,
		memory:   mem,
		acl:      aclMgr,
		policy:   pol,
		selector: skills.NewSelector(cfg.Skills, completer, logger),
		pending:  newPendingStore(),
		limiter:  newChatLimiter(cfg.Agent.RateLimitPerMinute, cfg.Agent.RateLimitBurst),
		tracer:   otel.Tracer("warden/agent"),
		logger:   logger.With("component", "agent"),
	}, nil
}

// runState carries one run's loop context across iterations and across a
// confirmation suspend.
type runState struct {
	sessionID int64
	chatID    int64
	userID    int64

	workspaceRoot  string
	system         string
	allowedTools   []string
	selectedSkills []string
	registry       *tools.Registry
	history        []json.RawMessage
	iteration      int
}

// Run starts a new agent run for the prompt and drives it until it
// completes, fails, hits the iteration cap or suspends on a side-effecting
// tool call.
func (r *Runtime) Run(ctx context.Context, chatID, userID int64, prompt string) (*Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.Int64("chat.id", chatID),
		attribute.Int64("user.id", userID),
	))
	defer span.End()

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("prompt is empty")
	}
	if decision := r.acl.Authorize(chatID, userID, "agent", acl.KindCommand); !decision.Allowed {
		return nil, fmt.Errorf("agent access denied: %s", decision.Reason)
	}
	if !r.limiter.allow(chatID) {
		return nil, ErrRateLimited
	}

	workspaceRoot, err := EnsureChatWorkspace(r.cfg.Agent.WorkspaceDir, chatID)
	if err != nil {
		return nil, fmt.Errorf("preparing workspace: %w", err)
	}

	loaded, err := skills.Load(r.cfg.Skills.Dir, r.logger)
	if err != nil {
		r.logger.Warn("skill loading failed, continuing with built-ins only", "error", err)
		loaded = nil
	}
	loaded = append([]skills.Skill{skills.CoreWorkspace()}, loaded...)
	selection := r.selector.Select(ctx, prompt, loaded)

	candidates := selection.AllowedTools
	if r.memory != nil {
		// Memory tools sit outside the skill system; they are always
		// candidates when the subsystem is available, subject to ACL.
		candidates = append(append([]string{}, candidates...),
			tools.NameMemorySave, tools.NameMemorySearch, tools.NameMemoryForget)
	}
	allowedTools := r.acl.FilterAllowedTools(chatID, userID, candidates)
	system := buildSystemPrompt(workspaceRoot, skills.Catalog(loaded), selection.Skills)

	modelLabel := r.provider.Name() + ":" + r.cfg.ModelName
	sessionID, err := r.store.CreateSession(ctx, chatID, userID, modelLabel, prompt, selection.Names)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	span.SetAttributes(attribute.Int64("session.id", sessionID))

	r.saveMemory(ctx, chatID, userID, sessionID, "user", "conversation", prompt, importanceUserPrompt)

	augmented := augmentPrompt(r.memoryContext(ctx, chatID, prompt), prompt)

	registry, err := r.buildRegistry(workspaceRoot, chatID, userID, sessionID)
	if err != nil {
		r.failSession(ctx, sessionID, "preparing tools failed")
		return nil, fmt.Errorf("preparing tools: %w", err)
	}

	if _, err := r.store.AppendStep(ctx, sessionID, "system", system, nil); err != nil {
		r.logger.Warn("recording system step failed", "session_id", sessionID, "error", err)
	}
	userTurn := r.provider.UserTurn(augmented)
	if _, err := r.store.AppendStep(ctx, sessionID, "user", augmented, userTurn); err != nil {
		r.logger.Warn("recording user step failed", "session_id", sessionID, "error", err)
	}

	rs := &runState{
		sessionID:      sessionID,
		chatID:         chatID,
		userID:         userID,
		workspaceRoot:  workspaceRoot,
		system:         system,
		allowedTools:   allowedTools,
		selectedSkills: selection.Names,
		registry:       registry,
		history:        []json.RawMessage{userTurn},
	}
	return r.loop(ctx, rs)
}

// loop drives provider round-trips until a terminal outcome. rs.iteration
// is preserved across suspend and resume, so a run cannot exceed the cap by
// confirming repeatedly.
func (r *Runtime) loop(ctx context.Context, rs *runState) (*Outcome, error) {
	for ; rs.iteration < r.cfg.Agent.MaxToolIterations; rs.iteration++ {
		reply, err := r.provider.Generate(ctx, r.cfg.ModelName, rs.system, rs.history, rs.registry.Specs(rs.allowedTools))
		if err != nil {
			r.failSession(ctx, rs.sessionID, "model call failed")
			return nil, fmt.Errorf("model call: %w", err)
		}

		rs.history = append(rs.history, reply.Turn)
		stepID, err := r.store.AppendStep(ctx, rs.sessionID, "assistant", reply.Text, reply.Turn)
		if err != nil {
			r.logger.Warn("recording assistant step failed", "session_id", rs.sessionID, "error", err)
		}

		if len(reply.ToolCalls) == 0 {
			text := strings.TrimSpace(reply.Text)
			if text == "" {
				text = msgEmptyReply
			}
			r.saveMemory(ctx, rs.chatID, rs.userID, rs.sessionID, "assistant", "conversation", text, importanceCompletion)
			if err := r.store.CompleteSession(ctx, rs.sessionID, store.SessionCompleted, text); err != nil {
				return nil, fmt.Errorf("completing session: %w", err)
			}
			return &Outcome{
				SessionID:      rs.sessionID,
				Status:         store.SessionCompleted,
				Text:           text,
				SelectedSkills: rs.selectedSkills,
			}, nil
		}

		for _, call := range reply.ToolCalls {
			outcome, err := r.handleToolCall(ctx, rs, stepID, call)
			if err != nil {
				return nil, err
			}
			if outcome != nil {
				return outcome, nil
			}
		}
	}

	r.saveMemory(ctx, rs.chatID, rs.userID, rs.sessionID, "assistant", "conversation", msgLimitReached, importanceLimit)
	if err := r.store.CompleteSession(ctx, rs.sessionID, store.SessionLimitReached, msgLimitReached); err != nil {
		return nil, fmt.Errorf("completing session: %w", err)
	}
	return &Outcome{
		SessionID:      rs.sessionID,
		Status:         store.SessionLimitReached,
		Text:           msgLimitReached,
		SelectedSkills: rs.selectedSkills,
	}, nil
}

// handleToolCall records, authorizes and either executes or suspends one
// tool call. A non-nil outcome suspends the run; a nil, nil return means
// the loop continues with the call's result appended to history.
func (r *Runtime) handleToolCall(ctx context.Context, rs *runState, stepID int64, call provider.ToolCall) (*Outcome, error) {
	argsRaw, err := json.Marshal(call.Args)
	if err != nil {
		argsRaw = json.RawMessage(`{}`)
	}

	spec, known := rs.registry.Spec(call.Name)
	requiresConfirmation := known && spec.SideEffecting && r.cfg.Agent.RequiresConfirmation(call.Name)

	status := store.CallRequested
	if requiresConfirmation {
		status = store.CallAwaitingConfirmation
	}
	rowID, err := r.store.InsertToolCall(ctx, rs.sessionID, stepID, call.ID, call.Name, argsRaw, status, requiresConfirmation)
	if err != nil {
		r.logger.Warn("recording tool call failed", "session_id", rs.sessionID, "tool", call.Name, "error", err)
	}

	if err := r.policy.Evaluate(call.Name, call.Args, rs.allowedTools); err != nil {
		r.logger.Info("tool call denied",
			"session_id", rs.sessionID, "tool", call.Name, "reason", err)
		r.recordCallResult(ctx, rowID, store.CallDenied, errorPayload(err), nil)
		// The model gets the concrete denial reason, not a generic notice.
		r.appendToolResult(ctx, rs, call, err.Error(), true)
		return nil, nil
	}

	if requiresConfirmation {
		confirmationID := r.pending.put(&pendingAction{
			chatID:         rs.chatID,
			userID:         rs.userID,
			sessionID:      rs.sessionID,
			call:           call,
			callRowID:      rowID,
			iterations:     rs.iteration,
			workspaceRoot:  rs.workspaceRoot,
			model:          r.cfg.ModelName,
			system:         rs.system,
			allowedTools:   rs.allowedTools,
			selectedSkills: rs.selectedSkills,
			history:        rs.history,
		})
		if err := r.store.CompleteSession(ctx, rs.sessionID, store.SessionAwaitingConfirmation, msgAwaiting); err != nil {
			return nil, fmt.Errorf("suspending session: %w", err)
		}
		r.logger.Info("run suspended for confirmation",
			"session_id", rs.sessionID, "tool", call.Name, "confirmation_id", confirmationID)
		return &Outcome{
			SessionID:      rs.sessionID,
			Status:         store.SessionAwaitingConfirmation,
			Text:           msgAwaiting,
			SelectedSkills: rs.selectedSkills,
			ConfirmationID: confirmationID,
			PendingTool:    call.Name,
			PendingArgs:    call.Args,
		}, nil
	}

	r.executeCall(ctx, rs, rowID, call, nil)
	return nil, nil
}

// executeCall dispatches the call against the run's tool registry and
// appends its result turn. confirmedBy is set on the confirmation path.
func (r *Runtime) executeCall(ctx context.Context, rs *runState, rowID int64, call provider.ToolCall, confirmedBy *int64) {
	result, err := rs.registry.Dispatch(ctx, call.Name, call.Args)
	if err != nil {
		r.logger.Warn("tool call failed",
			"session_id", rs.sessionID, "tool", call.Name, "error", err)
		r.recordCallResult(ctx, rowID, store.CallFailed, errorPayload(err), confirmedBy)
		r.appendToolResult(ctx, rs, call, err.Error(), true)
		return
	}
	r.recordCallResult(ctx, rowID, store.CallCompleted, outputPayload(result), confirmedBy)
	r.appendToolResult(ctx, rs, call, result, false)
}

// Resume continues a suspended run after the requesting user confirmed the
// pending tool call. Policy is re-evaluated at confirmation time, so an ACL
// or policy change between suspend and confirm still denies the call.
func (r *Runtime) Resume(ctx context.Context, confirmationID string, userID int64) (*Outcome, error) {
	ctx, span := r.tracer.Start(ctx, "agent.resume", trace.WithAttributes(
		attribute.Int64("user.id", userID),
	))
	defer span.End()

	p, err := r.pending.take(confirmationID, userID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int64("session.id", p.sessionID))

	registry, err := r.buildRegistry(p.workspaceRoot, p.chatID, p.userID, p.sessionID)
	if err != nil {
		r.failSession(ctx, p.sessionID, "preparing tools failed")
		return nil, fmt.Errorf("preparing tools: %w", err)
	}

	// The permission file can change while the run is suspended; the
	// allow-list captured at suspend time is re-filtered against the live
	// ACL snapshot, never trusted as-is.
	allowedTools := r.acl.FilterAllowedTools(p.chatID, p.userID, p.allowedTools)

	rs := &runState{
		sessionID:      p.sessionID,
		chatID:         p.chatID,
		userID:         p.userID,
		workspaceRoot:  p.workspaceRoot,
		system:         p.system,
		allowedTools:   allowedTools,
		selectedSkills: p.selectedSkills,
		registry:       registry,
		history:        p.history,
		iteration:      p.iterations,
	}

	if err := r.policy.Evaluate(p.call.Name, p.call.Args, allowedTools); err != nil {
		r.logger.Info("confirmed tool call denied by policy",
			"session_id", p.sessionID, "tool", p.call.Name, "reason", err)
		r.recordCallResult(ctx, p.callRowID, store.CallDenied, errorPayload(err), &userID)
		r.saveMemory(ctx, p.chatID, p.userID, p.sessionID, "assistant", "conversation", msgPolicyDenied, importanceDenial)
		if err := r.store.CompleteSession(ctx, p.sessionID, store.SessionDenied, msgPolicyDenied); err != nil {
			return nil, fmt.Errorf("completing session: %w", err)
		}
		return &Outcome{
			SessionID:      p.sessionID,
			Status:         store.SessionDenied,
			Text:           msgPolicyDenied,
			SelectedSkills: p.selectedSkills,
		}, nil
	}

	r.logger.Info("resuming confirmed tool call",
		"session_id", p.sessionID, "tool", p.call.Name, "confirmed_by", userID)
	r.executeCall(ctx, rs, p.callRowID, p.call, &userID)

	// The suspended iteration is now finished; the loop continues with the
	// next provider round-trip.
	rs.iteration++
	return r.loop(ctx, rs)
}

// Cancel aborts a suspended run. Only the requesting user may cancel.
func (r *Runtime) Cancel(ctx context.Context, confirmationID string, userID int64) (*Outcome, error) {
	p, err := r.pending.take(confirmationID, userID)
	if err != nil {
		return nil, err
	}

	r.recordCallResult(ctx, p.callRowID, store.CallCancelled, json.RawMessage(`{"status":"cancelled_by_user"}`), &userID)
	if err := r.store.CompleteSession(ctx, p.sessionID, store.SessionCancelled, msgUserCancelled); err != nil {
		return nil, fmt.Errorf("completing session: %w", err)
	}
	r.logger.Info("pending tool call cancelled",
		"session_id", p.sessionID, "tool", p.call.Name, "cancelled_by", userID)
	return &Outcome{
		SessionID:      p.sessionID,
		Status:         store.SessionCancelled,
		Text:           msgUserCancelled,
		SelectedSkills: p.selectedSkills,
	}, nil
}

// CancelAllForChat drops every pending action the user holds in the chat
// and supersedes their still-active sessions. It returns the number of
// sessions affected.
func (r *Runtime) CancelAllForChat(ctx context.Context, chatID, userID int64) (int64, error) {
	taken := r.pending.takeAllForChat(chatID, userID)
	for _, p := range taken {
		r.recordCallResult(ctx, p.callRowID, store.CallCancelled, json.RawMessage(`{"status":"cancelled_by_user"}`), &userID)
		if err := r.store.CompleteSession(ctx, p.sessionID, store.SessionCancelled, msgUserCancelled); err != nil {
			r.logger.Warn("cancelling suspended session failed", "session_id", p.sessionID, "error", err)
		}
	}

	superseded, err := r.store.SupersedeActiveSessions(ctx, chatID, userID)
	if err != nil {
		return 0, fmt.Errorf("superseding sessions: %w", err)
	}
	return superseded + int64(len(taken)), nil
}

// PendingCount reports how many runs are currently suspended.
func (r *Runtime) PendingCount() int {
	return r.pending.len()
}

// buildRegistry assembles the per-run tool registry: file and exec tools
// sandboxed to the workspace, plus memory tools scoped to the chat when the
// memory subsystem is available.
func (r *Runtime) buildRegistry(workspaceRoot string, chatID, userID, sessionID int64) (*tools.Registry, error) {
	resolver, err := security.NewResolver(workspaceRoot, r.logger)
	if err != nil {
		return nil, err
	}
	guard, err := security.NewCommandGuard(resolver, security.GuardConfig{
		RestrictToWorkspace: r.cfg.Exec.RestrictToWorkspace,
		DenyPatterns:        r.cfg.Exec.DenyPatterns,
	}, r.logger)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()

	fileTools, err := tools.NewFileTools(resolver, r.logger)
	if err != nil {
		return nil, err
	}
	fileTools.Register(registry)

	execTool, err := tools.NewExecTool(resolver, guard, r.cfg.Exec, r.logger)
	if err != nil {
		return nil, err
	}
	execTool.Register(registry)

	if r.memory != nil {
		memTools, err := tools.NewMemoryTools(&chatMemory{
			store:     r.memory,
			chatID:    chatID,
			userID:    userID,
			sessionID: sessionID,
		}, r.logger)
		if err != nil {
			return nil, err
		}
		memTools.Register(registry)
	}
	return registry, nil
}

// memoryContext recalls chat memories relevant to the prompt and renders
// them as a context block. Recall failures degrade to no context.
func (r *Runtime) memoryContext(ctx context.Context, chatID int64, prompt string) string {
	if r.memory == nil {
		return ""
	}
	hits, err := r.memory.Recall(ctx, chatID, prompt)
	if err != nil {
		r.logger.Warn("memory recall failed, continuing without context", "chat_id", chatID, "error", err)
		return ""
	}
	return r.memory.ContextBlock(hits)
}

func (r *Runtime) saveMemory(ctx context.Context, chatID, userID, sessionID int64, role, category, content string, importance float64) {
	if r.memory == nil {
		return
	}
	if err := r.memory.Save(ctx, chatID, userID, sessionID, role, category, content, importance); err != nil {
		r.logger.Warn("memory save failed", "chat_id", chatID, "session_id", sessionID, "error", err)
	}
}

// appendToolResult appends the provider-native tool result turn to history
// and records it as a session step.
func (r *Runtime) appendToolResult(ctx context.Context, rs *runState, call provider.ToolCall, result string, isError bool) {
	turn := r.provider.ToolResultTurn(call, result, isError)
	rs.history = append(rs.history, turn)
	if _, err := r.store.AppendStep(ctx, rs.sessionID, "tool", result, turn); err != nil {
		r.logger.Warn("recording tool step failed", "session_id", rs.sessionID, "error", err)
	}
}

func (r *Runtime) recordCallResult(ctx context.Context, rowID int64, status string, result json.RawMessage, confirmedBy *int64) {
	if rowID == 0 {
		return
	}
	if err := r.store.UpdateToolCallStatus(ctx, rowID, status, result, confirmedBy); err != nil {
		r.logger.Warn("updating tool call failed", "tool_call_row", rowID, "status", status, "error", err)
	}
}

func (r *Runtime) failSession(ctx context.Context, sessionID int64, reason string) {
	if err := r.store.CompleteSession(ctx, sessionID, store.SessionFailed, reason); err != nil {
		r.logger.Warn("marking session failed", "session_id", sessionID, "error", err)
	}
}

func outputPayload(result string) json.RawMessage {
	raw, err := json.Marshal(map[string]string{"output": result})
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

func errorPayload(err error) json.RawMessage {
	raw, merr := json.Marshal(map[string]string{"error": err.Error()})
	if merr != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}

// rerankCompleter adapts the chat provider to the skill selector's
// completion interface using the configured cheap re-rank model.
type rerankCompleter struct {
	provider ChatProvider
	model    string
}

func (c *rerankCompleter) Complete(ctx context.Context, system, user string) (string, error) {
	return c.provider.Complete(ctx, c.model, system, user)
}

// chatMemory is the chat-scoped memory backend handed to the memory tools.
type chatMemory struct {
	store     *memory.Store
	chatID    int64
	userID    int64
	sessionID int64
}

func (m *chatMemory) Save(ctx context.Context, content, category string, importance float64) error {
	return m.store.Save(ctx, m.chatID, m.userID, m.sessionID, "assistant", category, content, importance)
}

func (m *chatMemory) Search(ctx context.Context, query string, limit int) ([]tools.MemoryHit, error) {
	hits, err := m.store.Recall(ctx, m.chatID, query)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]tools.MemoryHit, 0, len(hits))
	for _, h := range hits {
		out = append(out, tools.MemoryHit{
			ID:       strconv.FormatInt(h.ID, 10),
			Content:  h.Content,
			Category: h.Category,
			Score:    h.Score,
		})
	}
	return out, nil
}

func (m *chatMemory) Forget(ctx context.Context, ids []string) (int, error) {
	parsed := make([]int64, 0, len(ids))
	for _, id := range ids {
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid memory id %q", id)
		}
		parsed = append(parsed, n)
	}
	removed, err := m.store.Forget(ctx, m.chatID, parsed)
	return int(removed), err
}
