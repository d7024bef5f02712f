package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/connexus-ai/ragbox-backend/internal/apperr"
	"github.com/connexus-ai/ragbox-backend/internal/mcpclient"
	"github.com/connexus-ai/ragbox-backend/internal/model"
	"github.com/connexus-ai/ragbox-backend/internal/provider"
	"github.com/connexus-ai/ragbox-backend/internal/tools"
)

// maxHistoryMessages is N in "load the last N messages, oldest first" for
// an existing conversation's chat prefix (spec §4.7 step 1).
const maxHistoryMessages = 20

// attachmentPollInterval/attachmentPollBudget bound how long the Agent
// Loop waits for an attached file's ingestion before proceeding anyway
// (spec §4.7 step 3: "wait up to 5s, polling at 1s").
const (
	attachmentPollInterval = 1 * time.Second
	attachmentPollBudget   = 5 * time.Second
)

// pointsPerChatMessage and chatMessageReason ground spec's S1 acceptance
// test: one PointTransaction of amount=1 for every turn persisted.
const (
	pointsPerChatMessage = 1
	chatMessageReason    = "发送聊天消息"
)

var supportedToolKinds = map[string]struct{}{
	"rag":        {},
	"web_search": {},
	"mcp_tool":   {},
}

// ConversationStore is the persistence contract the Agent Loop needs
// from internal/repository.ConversationRepo.
type ConversationStore interface {
	Create(ctx context.Context, ownerID string, title *string) (*model.AIConversation, error)
	GetByID(ctx context.Context, ownerID, id string) (*model.AIConversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]model.AIConversationMessage, error)
	BeginTx(ctx context.Context) (pgx.Tx, error)
	AppendTurnTx(ctx context.Context, tx pgx.Tx, conversationID string, messages []model.AIConversationMessage) error
	SetTitleIfAbsent(ctx context.Context, conversationID, title string) (string, error)
}

// AttachmentStore is the persistence contract for conversation-scoped
// temporary-file attachments (internal/repository.TempFileRepo).
type AttachmentStore interface {
	Create(ctx context.Context, conversationID, blobKey, mime string) (*model.AIConversationTemporaryFile, error)
	GetStatus(ctx context.Context, id string) (model.TempFileStatus, error)
	ListTextByConversation(ctx context.Context, conversationID string) ([]string, error)
}

// ChatCredentialResolver resolves the chat provider credential the Agent
// Loop should use, honoring a request's model override.
type ChatCredentialResolver interface {
	ChatCredentialFor(ctx context.Context, ownerID string, modelOverride *string) (provider.Credential, error)
}

// Retriever is the Retrieval Engine (C7) contract the rag tool calls.
type Retriever interface {
	Retrieve(ctx context.Context, cred provider.Credential, ownerID string, kbIDs []string, query string) (*RetrievalResult, error)
}

// AgentEnqueuer schedules the temp-file ingestion job, mirroring
// document.go's Enqueuer onto the "ingest_temp_file" task type.
type AgentEnqueuer interface {
	Enqueue(ctx context.Context, taskType string, priority model.TaskPriority, data any) (string, error)
}

// MCPCaller invokes a single tool on a remote MCP server
// (internal/mcpclient.Client).
type MCPCaller interface {
	CallTool(ctx context.Context, endpoint, toolName string, args map[string]any) (*mcpclient.Result, error)
}

// GapLogger records a content gap when a rag retrieval comes up empty or
// low-confidence, feeding the content-gap read routes (spec §11's
// Silence Protocol), implemented by service.ContentGapService.LogGap.
type GapLogger interface {
	LogGap(ctx context.Context, userID, query string, confidence float64) error
}

// AgentPointsHook is the C13 contract the Agent Loop credits once per
// turn, composed into the same transaction as AppendTurnTx.
type AgentPointsHook interface {
	AwardPoints(ctx context.Context, tx pgx.Tx, userID string, amount int, reason string, txType model.PointTransactionType, relatedEntityType, relatedEntityID *string) error
	CheckAndAwardAchievements(ctx context.Context, tx pgx.Tx, userID string) error
	IncrementChatMessageCounter(ctx context.Context, tx pgx.Tx, userID string) error
}

// AttachedFile is a file uploaded alongside a chat turn.
type AttachedFile struct {
	FileName string
	Mime     string
	Content  []byte
}

// MCPToolRequest names the remote tool an mcp_tool call should invoke.
type MCPToolRequest struct {
	Endpoint string
	ToolName string
	Args     map[string]any
}

// AgentRequest is the Agent Loop's single-turn input (spec §4.7).
type AgentRequest struct {
	UserID            string
	Query             string
	ConversationID    *string
	KBIDs             []string
	UseTools          bool
	PreferredTools    []string // subset of {"rag","web_search","mcp_tool"}, or {"all"}
	ChatModelOverride *string
	AttachedFile      *AttachedFile
	MCPTool           *MCPToolRequest
}

// AgentResult is the Agent Loop's single-turn output (spec §4.7).
type AgentResult struct {
	Answer         string
	AnswerMode     string
	LLMTypeUsed    string
	LLMModelUsed   string
	ConversationID string
	TurnMessages   []model.AIConversationMessage
	SourceArticles []RankedChunk
	SearchResults  []provider.WebResult
}

// AgentService implements the Agent Loop (C8): a single-turn, non-
// streaming planner that optionally calls the rag/web_search/mcp_tool
// tools, runs one synthesis call, and persists the whole turn atomically.
type AgentService struct {
	conversations ConversationStore
	attachments   AttachmentStore
	creds         ChatCredentialResolver
	gateway       provider.Gateway
	retriever     Retriever
	mcp           MCPCaller
	enqueuer      AgentEnqueuer
	points        AgentPointsHook
	gaps          GapLogger
	executor      *tools.ToolExecutor
}

// NewAgentService wires the Agent Loop's dependencies and registers its
// three tool kinds onto a dedicated tools.ToolExecutor — the teacher's
// RBAC-checked, timeout-and-panic-guarded dispatcher kept verbatim as the
// mechanism for executing whichever tools a turn selects.
func NewAgentService(
	conversations ConversationStore,
	attachments AttachmentStore,
	creds ChatCredentialResolver,
	gateway provider.Gateway,
	retriever Retriever,
	mcp MCPCaller,
	enqueuer AgentEnqueuer,
	points AgentPointsHook,
	gaps GapLogger,
) *AgentService {
	executor := tools.NewToolExecutor()
	executor.Register("rag", &ragTool{retriever: retriever})
	executor.Register("web_search", &webSearchTool{gateway: gateway})
	executor.Register("mcp_tool", &mcpTool{caller: mcp})

	return &AgentService{
		conversations: conversations,
		attachments:   attachments,
		creds:         creds,
		gateway:       gateway,
		retriever:     retriever,
		mcp:           mcp,
		enqueuer:      enqueuer,
		points:        points,
		gaps:          gaps,
		executor:      executor,
	}
}

// Answer runs the full single-turn agent loop for req.
func (s *AgentService) Answer(ctx context.Context, req AgentRequest) (*AgentResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, apperr.BadRequest("query is empty")
	}

	toolSet, err := s.resolveToolSet(req)
	if err != nil {
		return nil, err
	}

	conv, firstExchange, history, err := s.resolveConversation(ctx, req.UserID, req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("service.Agent.Answer: resolve conversation: %w", err)
	}

	cred, err := s.creds.ChatCredentialFor(ctx, req.UserID, req.ChatModelOverride)
	if err != nil {
		return nil, fmt.Errorf("service.Agent.Answer: resolve credential: %w", err)
	}
	if !cred.Configured() {
		return nil, apperr.ProviderUnconfigured("no chat provider configured for this user")
	}

	var attachmentID string
	if req.AttachedFile != nil {
		attachmentID, err = s.ingestAttachment(ctx, conv.ID, req.AttachedFile)
		if err != nil {
			slog.Warn("attachment ingestion enqueue failed, proceeding without it", "conversation_id", conv.ID, "error", err)
		} else {
			s.awaitAttachment(ctx, attachmentID)
		}
	}

	toolMessages, answerMode, sourceChunks, searchResults := s.runTools(ctx, req, conv.ID, cred, toolSet)

	chatHistory := buildChatHistory(history, toolMessages, req.Query)
	synth, err := s.gateway.Chat(ctx, cred, chatHistory)
	if err != nil {
		return nil, fmt.Errorf("service.Agent.Answer: synthesis call: %w", err)
	}

	now := time.Now().UTC()
	llmType := synth.LLMTypeUsed
	llmModel := synth.LLMModelUsed
	turn := append([]model.AIConversationMessage{
		{Role: model.RoleUser, Content: req.Query, SentAt: now},
	}, toolMessages...)
	turn = append(turn, model.AIConversationMessage{
		Role:         model.RoleAssistant,
		Content:      synth.Content,
		LLMTypeUsed:  &llmType,
		LLMModelUsed: &llmModel,
		SentAt:       now,
	})

	if err := s.persistTurn(ctx, req.UserID, conv.ID, turn); err != nil {
		return nil, fmt.Errorf("service.Agent.Answer: persist turn: %w", err)
	}

	if firstExchange {
		s.maybeGenerateTitle(ctx, conv.ID, req.Query, cred)
	}

	return &AgentResult{
		Answer:         synth.Content,
		AnswerMode:     answerMode,
		LLMTypeUsed:    synth.LLMTypeUsed,
		LLMModelUsed:   synth.LLMModelUsed,
		ConversationID: conv.ID,
		TurnMessages:   turn,
		SourceArticles: sourceChunks,
		SearchResults:  searchResults,
	}, nil
}

// resolveToolSet applies spec §4.7 step 4: use_tools=false -> empty set;
// preferred_tools=["all"] -> every supported kind; otherwise the
// intersection, rejecting unknown names.
func (s *AgentService) resolveToolSet(req AgentRequest) (map[string]struct{}, error) {
	if !req.UseTools {
		return map[string]struct{}{}, nil
	}
	for _, name := range req.PreferredTools {
		if name == "all" {
			all := make(map[string]struct{}, len(supportedToolKinds))
			for k := range supportedToolKinds {
				all[k] = struct{}{}
			}
			return all, nil
		}
	}

	set := make(map[string]struct{}, len(req.PreferredTools))
	for _, name := range req.PreferredTools {
		if _, ok := supportedToolKinds[name]; !ok {
			return nil, apperr.BadRequest(fmt.Sprintf("unknown tool %q", name))
		}
		set[name] = struct{}{}
	}
	return set, nil
}

// resolveConversation implements spec §4.7 step 1.
func (s *AgentService) resolveConversation(ctx context.Context, userID string, conversationID *string) (*model.AIConversation, bool, []model.AIConversationMessage, error) {
	if conversationID == nil || *conversationID == "" {
		conv, err := s.conversations.Create(ctx, userID, nil)
		if err != nil {
			return nil, false, nil, err
		}
		return conv, true, nil, nil
	}

	conv, err := s.conversations.GetByID(ctx, userID, *conversationID)
	if err != nil {
		return nil, false, nil, apperr.NotFound("conversation not found")
	}

	msgs, err := s.conversations.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, false, nil, err
	}
	if len(msgs) > maxHistoryMessages {
		msgs = msgs[len(msgs)-maxHistoryMessages:]
	}
	return conv, false, msgs, nil
}

// ingestAttachment enqueues an "ingest_temp_file" task for an uploaded
// file, grounded on document.go's Upload -> "ingest_document" enqueue.
func (s *AgentService) ingestAttachment(ctx context.Context, conversationID string, file *AttachedFile) (string, error) {
	f, err := s.attachments.Create(ctx, conversationID, file.FileName, file.Mime)
	if err != nil {
		return "", fmt.Errorf("service.Agent.ingestAttachment: %w", err)
	}
	if _, err := s.enqueuer.Enqueue(ctx, "ingest_temp_file", model.PriorityNormal, map[string]string{
		"temp_file_id": f.ID,
	}); err != nil {
		return "", fmt.Errorf("service.Agent.ingestAttachment: enqueue: %w", err)
	}
	return f.ID, nil
}

// awaitAttachment polls an attachment's status for attachmentPollBudget,
// then proceeds regardless per spec §4.7 step 3.
func (s *AgentService) awaitAttachment(ctx context.Context, fileID string) {
	deadline := time.Now().Add(attachmentPollBudget)
	for time.Now().Before(deadline) {
		status, err := s.attachments.GetStatus(ctx, fileID)
		if err != nil {
			return
		}
		if status == model.TempFileStatusCompleted || status == model.TempFileStatusFailed {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(attachmentPollInterval):
		}
	}
}

// runTools executes every tool in toolSet sequentially (spec §4.7 step 5)
// and returns the tool_call/tool_result message pairs plus a diagnostic
// answerMode and any structured output the caller response surfaces.
func (s *AgentService) runTools(ctx context.Context, req AgentRequest, conversationID string, cred provider.Credential, toolSet map[string]struct{}) (messages []model.AIConversationMessage, answerMode string, sourceChunks []RankedChunk, searchResults []provider.WebResult) {
	answerMode = "general"
	now := time.Now().UTC()

	if _, ok := toolSet["rag"]; ok {
		query := req.Query
		if tempTexts, err := s.attachments.ListTextByConversation(ctx, conversationID); err == nil && len(tempTexts) > 0 {
			// Attachment text rides along inside the query string rather than
			// as another kb_id: temp files belong to no KnowledgeBase (spec
			// §4.7 step 5, "kb_ids ∪ conversation's temporary files").
			query = query + "\n\n" + strings.Join(tempTexts, "\n\n")
		}

		result, err := s.executor.Execute(ctx, "rag", map[string]interface{}{
			"credential": cred,
			"owner_id":   req.UserID,
			"kb_ids":     req.KBIDs,
			"query":      query,
		}, "system")
		messages = append(messages, toolMessagePair(now, "rag", req.Query, err, result))
		if err == nil {
			if rr, ok := result.Data.(*RetrievalResult); ok {
				sourceChunks = rr.Chunks
				if len(rr.Chunks) > 0 {
					answerMode = "rag"
				}
				s.logGapIfNeeded(ctx, req.UserID, query, rr)
			}
		}
	}

	if _, ok := toolSet["web_search"]; ok {
		result, err := s.executor.Execute(ctx, "web_search", map[string]interface{}{
			"credential": cred,
			"query":      req.Query,
			"limit":      5,
		}, "system")
		messages = append(messages, toolMessagePair(now, "web_search", req.Query, err, result))
		if err == nil {
			if results, ok := result.Data.([]provider.WebResult); ok {
				searchResults = results
				if answerMode == "general" {
					answerMode = "web_search"
				}
			}
		}
	}

	if _, ok := toolSet["mcp_tool"]; ok && req.MCPTool != nil {
		result, err := s.executor.Execute(ctx, "mcp_tool", map[string]interface{}{
			"endpoint":  req.MCPTool.Endpoint,
			"tool_name": req.MCPTool.ToolName,
			"args":      req.MCPTool.Args,
		}, "system")
		messages = append(messages, toolMessagePair(now, "mcp_tool", req.MCPTool.ToolName, err, result))
		if err == nil && answerMode == "general" {
			answerMode = "tool"
		}
	}

	return messages, answerMode, sourceChunks, searchResults
}

// lowConfidenceRetrievalScore is the top chunk's score below which a rag
// retrieval counts as "low confidence" for content-gap logging.
const lowConfidenceRetrievalScore = 0.5

// logGapIfNeeded records a content gap when a rag retrieval returned no
// chunks or its best chunk scored below lowConfidenceRetrievalScore, so
// /api/content-gaps reflects what the Agent Loop actually struggled to
// answer.
func (s *AgentService) logGapIfNeeded(ctx context.Context, userID, query string, rr *RetrievalResult) {
	if s.gaps == nil {
		return
	}
	confidence := 0.0
	if len(rr.Chunks) > 0 {
		confidence = rr.Chunks[0].Score
		if confidence >= lowConfidenceRetrievalScore {
			return
		}
	}
	if err := s.gaps.LogGap(ctx, userID, query, confidence); err != nil {
		slog.Warn("content gap logging failed", "user_id", userID, "error", err)
	}
}

// toolMessagePair records a tool's outcome as a single RoleTool message.
// A tool failure still produces a message (its content explains the
// failure) so the synthesis call can see it and respond gracefully
// (spec §4.7 edge case: "a tool fails ... synthesis call sees it").
func toolMessagePair(at time.Time, toolName, input string, err error, result *tools.ToolResult) model.AIConversationMessage {
	content := fmt.Sprintf("tool=%s input=%q", toolName, input)
	if err != nil {
		content += fmt.Sprintf(" error=%v", err)
	} else if result != nil {
		content += fmt.Sprintf(" result=%v", result.Data)
	}
	return model.AIConversationMessage{
		Role:    model.RoleTool,
		Content: content,
		SentAt:  at,
	}
}

// buildChatHistory assembles the synthesis call's message list: prior
// history, tool outputs inlined, then the user's query (spec §4.7 step 6).
func buildChatHistory(history, toolMessages []model.AIConversationMessage, query string) []provider.ChatMessage {
	out := make([]provider.ChatMessage, 0, len(history)+len(toolMessages)+1)
	for _, m := range history {
		out = append(out, provider.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	for _, m := range toolMessages {
		out = append(out, provider.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	out = append(out, provider.ChatMessage{Role: string(model.RoleUser), Content: query})
	return out
}

// persistTurn appends the turn and credits points/achievements in one
// transaction (spec §4.7 step 7). A failure anywhere rolls the whole
// thing back — no partial turn is ever observed.
func (s *AgentService) persistTurn(ctx context.Context, userID, conversationID string, messages []model.AIConversationMessage) error {
	tx, err := s.conversations.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.conversations.AppendTurnTx(ctx, tx, conversationID, messages); err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	if err := s.points.AwardPoints(ctx, tx, userID, pointsPerChatMessage, chatMessageReason, model.PointTxEarn, nil, nil); err != nil {
		return fmt.Errorf("award points: %w", err)
	}
	if err := s.points.IncrementChatMessageCounter(ctx, tx, userID); err != nil {
		return fmt.Errorf("increment counter: %w", err)
	}
	if err := s.points.CheckAndAwardAchievements(ctx, tx, userID); err != nil {
		return fmt.Errorf("check achievements: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// maybeGenerateTitle implements spec §4.7 step 8: one additional chat
// call asking for a short title; failures here are swallowed, since a
// missing title just means it can be regenerated on demand later.
func (s *AgentService) maybeGenerateTitle(ctx context.Context, conversationID, firstQuery string, cred provider.Credential) {
	result, err := s.gateway.Chat(ctx, cred, []provider.ChatMessage{
		{Role: string(model.RoleSystem), Content: "Summarize the user's request in 16 characters or fewer. Respond with only the summary."},
		{Role: string(model.RoleUser), Content: firstQuery},
	})
	if err != nil {
		slog.Warn("title generation failed, leaving title null", "conversation_id", conversationID, "error", err)
		return
	}
	title := strings.TrimSpace(result.Content)
	if title == "" {
		return
	}
	if len([]rune(title)) > 16 {
		title = string([]rune(title)[:16])
	}
	if _, err := s.conversations.SetTitleIfAbsent(ctx, conversationID, title); err != nil {
		slog.Warn("title generation produced a title but failed to persist it", "conversation_id", conversationID, "error", err)
	}
}

// --- tool adapters, dispatched through tools.ToolExecutor ---

type ragTool struct {
	retriever Retriever
}

func (t *ragTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.ToolResult, error) {
	cred, _ := params["credential"].(provider.Credential)
	ownerID, _ := params["owner_id"].(string)
	kbIDs, _ := params["kb_ids"].([]string)
	query, _ := params["query"].(string)

	result, err := t.retriever.Retrieve(ctx, cred, ownerID, kbIDs, query)
	if err != nil {
		return nil, tools.NewUpstreamError("rag", err)
	}
	return &tools.ToolResult{Data: result}, nil
}

type webSearchTool struct {
	gateway provider.Gateway
}

func (t *webSearchTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.ToolResult, error) {
	cred, _ := params["credential"].(provider.Credential)
	query, _ := params["query"].(string)
	limit, _ := params["limit"].(int)
	if limit <= 0 {
		limit = 5
	}

	results, err := t.gateway.WebSearch(ctx, cred, query, limit)
	if err != nil {
		if appErr, ok := apperr.As(err); ok && appErr.Kind == apperr.KindProviderUnconfigured {
			return nil, tools.NewValidationError("web_search", "no search engine configured")
		}
		return nil, tools.NewUpstreamError("web_search", err)
	}
	return &tools.ToolResult{Data: results}, nil
}

type mcpTool struct {
	caller MCPCaller
}

func (t *mcpTool) Execute(ctx context.Context, params map[string]interface{}) (*tools.ToolResult, error) {
	endpoint, _ := params["endpoint"].(string)
	toolName, _ := params["tool_name"].(string)
	args, _ := params["args"].(map[string]any)
	if endpoint == "" || toolName == "" {
		return nil, tools.NewValidationError("mcp_tool", "endpoint and tool_name are required")
	}

	result, err := t.caller.CallTool(ctx, endpoint, toolName, args)
	if err != nil {
		return nil, tools.NewUpstreamError("mcp_tool", err)
	}
	return &tools.ToolResult{Data: result}, nil
}
