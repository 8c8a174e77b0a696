package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ragnote/ragcore/internal/llm"
	"github.com/ragnote/ragcore/internal/metrics"
	"github.com/ragnote/ragcore/internal/vectorstore"
	"github.com/ragnote/ragcore/internal/websearch"
)

// answerSystemPrompt forbids meta-commentary so the model never
// enumerates or references the retrieved context blocks.
const answerSystemPrompt = `You are a professional AI assistant. Read any reference information silently and synthesize it as your own knowledge. Never mention contexts, sources, documents, or the answering process. Never write "Context N", "根据上下文", "根据文档", or any similar phrase. Start with a direct answer, then supporting detail, formatted in Markdown. Answer in the language of the question.`

// ChatRequest is one user turn.
type ChatRequest struct {
	UserID         int64
	Username       string
	ConversationID string
	Content        string
	SystemPrompt   string
}

// ChatResponse is the assistant turn plus conversation bookkeeping.
type ChatResponse struct {
	Response           string
	ConversationID     string
	Title              string
	SuggestedQuestions []string
	CacheHit           bool
}

// Chat runs the retrieval pipeline for one message: rate limit,
// session validation, semantic cache, vector retrieval with optional
// rerank and web search, LLM generation, then persistence and cache
// population.
func (p *Pipeline) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	if strings.TrimSpace(req.Content) == "" {
		return nil, &ValidationError{Msg: "Message content is required"}
	}
	if err := p.limiter.Allow(req.Username, "chat"); err != nil {
		return nil, err
	}

	started := time.Now()
	defer func() {
		metrics.ChatDuration.Observe(time.Since(started).Seconds())
	}()

	conversationID := req.ConversationID
	firstTurn := false
	if conversationID == "" {
		conv, err := p.store.CreateConversation(ctx, req.UserID, defaultTitle)
		if err != nil {
			metrics.ChatRequests.WithLabelValues("error").Inc()
			return nil, err
		}
		conversationID = conv.ID
		firstTurn = true
	} else {
		if _, err := p.validator.Validate(ctx, conversationID, req.UserID); err != nil {
			metrics.ChatRequests.WithLabelValues("rejected").Inc()
			return nil, err
		}
		n, err := p.store.CountMessages(ctx, conversationID)
		if err != nil {
			metrics.ChatRequests.WithLabelValues("error").Inc()
			return nil, err
		}
		firstTurn = n == 0
	}

	embedder, chat, err := p.providers(req.UserID)
	if err != nil {
		metrics.ChatRequests.WithLabelValues("rejected").Inc()
		return nil, err
	}

	queryVec, err := embedder.Embed(ctx, req.Content)
	if err != nil {
		metrics.ChatRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	if p.semcache != nil {
		if hit := p.semcache.Get(ctx, req.Content, queryVec); hit != nil {
			if err := p.store.AppendExchange(ctx, conversationID, req.Content, hit.Answer); err != nil {
				return nil, err
			}
			metrics.ChatRequests.WithLabelValues("cache_hit").Inc()
			return &ChatResponse{
				Response:       hit.Answer,
				ConversationID: conversationID,
				CacheHit:       true,
			}, nil
		}
	}

	chunks, err := p.retrieve(ctx, req.UserID, conversationID, req.Content, queryVec)
	if err != nil {
		metrics.ChatRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	contexts := make([]string, 0, len(chunks)+2)
	if p.websearch != nil && p.websearch.Enabled() && websearch.NeedsSearch(req.Content, len(chunks) > 0) {
		results, err := p.websearch.Search(ctx, req.Content)
		if err != nil {
			p.logger.Warn("Web search failed, continuing without it", zap.Error(err))
		} else if block := websearch.FormatResults(results); block != "" {
			contexts = append(contexts, block)
		}
	}
	contexts = append(contexts, chunks...)
	if p.memory != nil {
		contexts = append(contexts, p.recallContext(ctx, req.UserID, conversationID, queryVec)...)
	}

	systemPrompt := answerSystemPrompt
	if req.SystemPrompt != "" {
		systemPrompt = req.SystemPrompt
	}
	answer, err := chat.Chat(ctx, buildMessages(systemPrompt, req.Content, contexts), llm.Options{})
	if err != nil {
		metrics.ChatRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := p.store.AppendExchange(ctx, conversationID, req.Content, answer); err != nil {
		metrics.ChatRequests.WithLabelValues("error").Inc()
		return nil, err
	}

	if p.semcache != nil {
		p.semcache.Set(ctx, req.Content, answer, queryVec)
	}
	if p.memory != nil {
		if err := p.memory.Remember(ctx, req.UserID, conversationID, req.Content, answer, queryVec, 0); err != nil {
			p.logger.Debug("Memory write failed", zap.Error(err))
		}
	}

	resp := &ChatResponse{
		Response:       answer,
		ConversationID: conversationID,
	}
	if firstTurn {
		title := chat.GenerateTitle(ctx, req.Content, answer)
		if err := p.store.UpdateConversationTitle(ctx, conversationID, title); err != nil {
			p.logger.Warn("Title update failed", zap.Error(err))
		} else {
			resp.Title = title
		}
	}
	resp.SuggestedQuestions = chat.SuggestFollowups(ctx, req.Content, answer)

	metrics.ChatRequests.WithLabelValues("ok").Inc()
	return resp, nil
}

// retrieve searches the caller's vector store for this conversation and
// keeps the reranked top chunks. A conversation with no ingested
// documents yields no chunks without error.
func (p *Pipeline) retrieve(ctx context.Context, userID int64, conversationID, query string, queryVec []float32) ([]string, error) {
	vs, err := p.vectors.Get(userID)
	if err != nil {
		return nil, err
	}
	n, err := vs.ChunkCount(ctx, conversationID)
	if err != nil || n == 0 {
		return nil, err
	}

	var results []vectorstore.SearchResult
	if n > twoLevelThreshold {
		results, err = vs.SearchTwoLevel(ctx, queryVec, &conversationID, searchTopK)
	} else {
		results, err = vs.Search(ctx, queryVec, &conversationID, searchTopK)
	}
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	if p.reranker != nil && p.reranker.Enabled() {
		order := p.reranker.Rerank(ctx, query, texts, contextTopN)
		kept := make([]string, 0, len(order))
		for _, idx := range order {
			kept = append(kept, texts[idx])
		}
		return kept, nil
	}
	if len(texts) > contextTopN {
		texts = texts[:contextTopN]
	}
	return texts, nil
}

// recallContext folds relevant long-term memories into the prompt.
func (p *Pipeline) recallContext(ctx context.Context, userID int64, conversationID string, queryVec []float32) []string {
	recalled, err := p.memory.Recall(ctx, userID, queryVec, conversationID)
	if err != nil {
		p.logger.Debug("Memory recall failed", zap.Error(err))
		return nil
	}
	out := make([]string, 0, len(recalled))
	for _, m := range recalled {
		out = append(out, fmt.Sprintf("Previously discussed: %s %s", m.Question, m.Answer))
	}
	return out
}

// buildMessages merges all context into one seamless block. Separators
// between blocks are plain spaces so the model cannot enumerate them.
func buildMessages(systemPrompt, query string, contexts []string) []llm.Message {
	contextText := strings.Join(contexts, " ")
	userContent := query
	if contextText != "" {
		userContent = fmt.Sprintf("Reference Information:\n\n%s\n\n---\n\nUser Question: %s", contextText, query)
	}
	return []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userContent},
	}
}
