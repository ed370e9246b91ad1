package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/chamikara/helachat/internal/bus"
	"github.com/chamikara/helachat/internal/config"
	"github.com/chamikara/helachat/internal/lang"
	"github.com/chamikara/helachat/internal/llm"
	"github.com/chamikara/helachat/internal/logging"
	"github.com/chamikara/helachat/internal/sheets"
	"github.com/chamikara/helachat/internal/vector"
	"github.com/chamikara/helachat/internal/websearch"
)

// ═══════════════════════════════════════════════════════════════════════════
// Collaborator interfaces
// ═══════════════════════════════════════════════════════════════════════════

// DocumentSearcher finds relevant document chunks for a tenant.
type DocumentSearcher interface {
	SearchDocuments(ctx context.Context, businessID int64, query string, topK int) ([]vector.Match, error)
}

// SheetSearcher queries a tenant's connected sheets.
type SheetSearcher interface {
	SearchSheets(ctx context.Context, businessID int64, query string, maxPerSheet int) ([]sheets.Match, error)
}

// BusinessLookup resolves a tenant snapshot by ID.
type BusinessLookup interface {
	BusinessByID(ctx context.Context, id int64) (*Business, error)
}

// ═══════════════════════════════════════════════════════════════════════════
// Agent
// ═══════════════════════════════════════════════════════════════════════════

// Result is what a completed turn hands back to the caller.
type Result struct {
	Response       string `json:"response"`
	Language       string `json:"language"`
	Confidence     int    `json:"confidence"`
	ProcessingTime int64  `json:"processing_time_ms"`
}

// Agent orchestrates the response pipeline. It holds no per-turn state, so a
// single Agent serves all dispatcher workers concurrently.
type Agent struct {
	provider   llm.Provider
	documents  DocumentSearcher
	sheets     SheetSearcher
	web        websearch.Searcher
	translator lang.Translator
	businesses BusinessLookup
	events     *bus.Bus

	cfg config.AgentConfig
	log *logging.Logger
}

// New wires an agent from its collaborators. The bus may be nil when no
// observer or metrics collector is attached.
func New(cfg config.AgentConfig, provider llm.Provider, documents DocumentSearcher,
	sheetSearch SheetSearcher, web websearch.Searcher, translator lang.Translator,
	businesses BusinessLookup, events *bus.Bus) *Agent {

	return &Agent{
		provider:   provider,
		documents:  documents,
		sheets:     sheetSearch,
		web:        web,
		translator: translator,
		businesses: businesses,
		events:     events,
		cfg:        cfg,
		log:        logging.Global().WithComponent("Agent"),
	}
}

// ProcessMessage runs the full pipeline for one inbound message. The only
// fatal error is a failed business lookup; every stage after that degrades
// rather than aborting the turn.
func (a *Agent) ProcessMessage(ctx context.Context, text string, businessID int64, senderPhone string) (*Result, error) {
	biz, err := a.businesses.BusinessByID(ctx, businessID)
	if err != nil {
		return nil, fmt.Errorf("look up business %d: %w", businessID, err)
	}

	turn := NewTurn(text, senderPhone, *biz)
	a.publish(bus.NewTurnEvent(bus.EventTurnStarted, turn.ID, businessID))

	turn = a.detectLanguage(turn)
	turn = a.analyzeIntent(ctx, turn)
	turn = a.searchDocuments(ctx, turn)

	switch a.routeAfterDocuments(turn) {
	case ToGenerate:
		// Documents alone suffice.
	case ToSheets:
		turn = a.searchSheets(ctx, turn)

		switch a.routeAfterSheets(turn) {
		case ToGenerate:
		case ToWeb:
			turn = a.searchWeb(ctx, turn)
		}
	}

	turn, failed := a.generate(ctx, turn)

	switch a.routeAfterGenerate(turn) {
	case ToTranslate:
		turn = a.translate(ctx, turn)
	case ToEnd:
	}

	elapsed := time.Since(turn.StartedAt)

	// A turn gets exactly one terminal event. A failed generation already
	// published turn_failed, so only successful turns complete here.
	if !failed {
		done := bus.NewTurnEvent(bus.EventTurnCompleted, turn.ID, businessID)
		done.Confidence = turn.Confidence
		done.Language = turn.Language
		done.DurationMs = elapsed.Milliseconds()
		a.publish(done)
	}

	a.log.Info("turn %s finished in %s (language=%s confidence=%d failed=%v)",
		turn.ID, elapsed.Round(time.Millisecond), turn.Language, turn.Confidence, failed)

	return &Result{
		Response:       turn.Response,
		Language:       turn.Language,
		Confidence:     turn.Confidence,
		ProcessingTime: elapsed.Milliseconds(),
	}, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Stages
// ═══════════════════════════════════════════════════════════════════════════

func (a *Agent) detectLanguage(turn Turn) Turn {
	start := time.Now()
	turn = turn.WithLanguage(lang.Detect(turn.InputText))
	a.publishStage(turn, "detect_language", 0, start)
	return turn
}

func (a *Agent) analyzeIntent(ctx context.Context, turn Turn) Turn {
	start := time.Now()

	resp, err := a.provider.Chat(ctx, &llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "user", Content: buildAnalysisPrompt(turn)},
		},
		MaxTokens:   100,
		Temperature: 0.3,
	})
	if err != nil || resp.Content == "" {
		a.log.Warn("intent analysis failed for turn %s: %v", turn.ID, err)
		turn = turn.WithAnalysis("General inquiry")
	} else {
		turn = turn.WithAnalysis(resp.Content)
	}

	a.publishStage(turn, "analyze_intent", 0, start)
	return turn
}

func (a *Agent) searchDocuments(ctx context.Context, turn Turn) Turn {
	start := time.Now()

	matches, err := a.documents.SearchDocuments(ctx, turn.Business.ID, turn.InputText, a.cfg.DocumentTopK)
	if err != nil {
		a.log.Warn("document search failed for turn %s: %v", turn.ID, err)
		matches = nil
	}

	turn = turn.WithDocumentMatches(matches)
	a.publishStage(turn, "search_documents", len(turn.DocumentMatches), start)
	return turn
}

func (a *Agent) searchSheets(ctx context.Context, turn Turn) Turn {
	start := time.Now()

	matches, err := a.sheets.SearchSheets(ctx, turn.Business.ID, turn.InputText, a.cfg.SheetMaxResults)
	if err != nil {
		a.log.Warn("sheet search failed for turn %s: %v", turn.ID, err)
		matches = nil
	}

	turn = turn.WithSheetMatches(matches)
	a.publishStage(turn, "search_sheets", len(turn.SheetMatches), start)
	return turn
}

func (a *Agent) searchWeb(ctx context.Context, turn Turn) Turn {
	start := time.Now()

	results, err := a.web.Search(ctx, turn.InputText, a.cfg.WebMaxResults)
	if err != nil {
		a.log.Warn("web search failed for turn %s: %v", turn.ID, err)
		results = nil
	}

	turn = turn.WithWebMatches(results)
	a.publishStage(turn, "search_web", len(turn.WebMatches), start)
	return turn
}

// generate produces the reply. The second return reports a failed
// generation, whose turn_failed event is the turn's terminal event.
func (a *Agent) generate(ctx context.Context, turn Turn) (Turn, bool) {
	start := time.Now()

	resp, err := a.provider.Chat(ctx, &llm.ChatRequest{
		SystemPrompt: buildSystemPrompt(turn),
		Messages: []llm.Message{
			{Role: "user", Content: turn.InputText},
		},
		Temperature: 0.7,
	})
	if err != nil || resp.Content == "" {
		a.log.Error("generation failed for turn %s: %v", turn.ID, err)
		turn = turn.WithResponse(apology(turn.Language), 0)

		fail := bus.NewTurnEvent(bus.EventTurnFailed, turn.ID, turn.Business.ID)
		if err != nil {
			fail.Error = err.Error()
		}
		fail.Stage = "generate"
		a.publish(fail)
		return turn, true
	}

	confidence := 60
	if turn.HasRetrievalResults() {
		confidence = 85
	}
	turn = turn.WithResponse(resp.Content, confidence)

	a.publishStage(turn, "generate", 0, start)
	return turn, false
}

func (a *Agent) translate(ctx context.Context, turn Turn) Turn {
	start := time.Now()

	translated, err := a.translator.Translate(ctx, turn.Response)
	if err != nil {
		// Keep the untranslated response rather than losing the answer.
		a.log.Warn("translation failed for turn %s: %v", turn.ID, err)
		a.publishStage(turn, "translate", 0, start)
		return turn
	}

	turn = turn.WithResponse(translated, turn.Confidence)
	a.publishStage(turn, "translate", 0, start)
	return turn
}

// ═══════════════════════════════════════════════════════════════════════════
// Routing
// ═══════════════════════════════════════════════════════════════════════════

// routeAfterDocuments decides on match count alone; scores are not consulted.
func (a *Agent) routeAfterDocuments(turn Turn) Decision {
	if len(turn.DocumentMatches) >= a.cfg.MinDocumentMatches {
		return ToGenerate
	}
	return ToSheets
}

func (a *Agent) routeAfterSheets(turn Turn) Decision {
	if len(turn.SheetMatches) >= a.cfg.MinSheetMatches {
		return ToGenerate
	}
	return ToWeb
}

// routeAfterGenerate sends Sinhala turns whose response came back without any
// Sinhala characters through translation.
func (a *Agent) routeAfterGenerate(turn Turn) Decision {
	if turn.Language == lang.Sinhala && !lang.ContainsSinhala(turn.Response) {
		return ToTranslate
	}
	return ToEnd
}

// ═══════════════════════════════════════════════════════════════════════════
// Events
// ═══════════════════════════════════════════════════════════════════════════

func (a *Agent) publish(e bus.Event) {
	if a.events == nil {
		return
	}
	a.events.Publish(e)
}

func (a *Agent) publishStage(turn Turn, stage string, resultCount int, start time.Time) {
	if a.events == nil {
		return
	}
	e := bus.NewStageEvent(turn.ID, turn.Business.ID, stage, resultCount, time.Since(start))
	e.Language = turn.Language
	a.events.Publish(e)
}
