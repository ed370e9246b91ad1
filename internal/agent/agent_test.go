package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/chamikara/helachat/internal/bus"
	"github.com/chamikara/helachat/internal/config"
	"github.com/chamikara/helachat/internal/llm"
	"github.com/chamikara/helachat/internal/sheets"
	"github.com/chamikara/helachat/internal/vector"
	"github.com/chamikara/helachat/internal/websearch"
)

// ═══════════════════════════════════════════════════════════════════════════
// Fakes
// ═══════════════════════════════════════════════════════════════════════════

type fakeProvider struct {
	calls    int
	requests []*llm.ChatRequest
	replies  []string
	errs     []error
}

func (p *fakeProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	i := p.calls
	p.calls++
	p.requests = append(p.requests, req)

	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	reply := "Here is your answer."
	if i < len(p.replies) && p.replies[i] != "" {
		reply = p.replies[i]
	}
	return &llm.ChatResponse{Content: reply}, nil
}

func (p *fakeProvider) Name() string    { return "fake" }
func (p *fakeProvider) Available() bool { return true }

type fakeDocs struct {
	calls    int
	lastTopK int
	matches  []vector.Match
	err      error
}

func (d *fakeDocs) SearchDocuments(ctx context.Context, businessID int64, query string, topK int) ([]vector.Match, error) {
	d.calls++
	d.lastTopK = topK
	return d.matches, d.err
}

type fakeSheets struct {
	calls   int
	matches []sheets.Match
	err     error
}

func (s *fakeSheets) SearchSheets(ctx context.Context, businessID int64, query string, maxPerSheet int) ([]sheets.Match, error) {
	s.calls++
	return s.matches, s.err
}

type fakeWeb struct {
	calls   int
	results []websearch.Result
	err     error
}

func (w *fakeWeb) Search(ctx context.Context, query string, numResults int) ([]websearch.Result, error) {
	w.calls++
	return w.results, w.err
}

type fakeTranslator struct {
	calls int
	out   string
	err   error
}

func (t *fakeTranslator) Translate(ctx context.Context, text string) (string, error) {
	t.calls++
	if t.err != nil {
		return "", t.err
	}
	return t.out, nil
}

type fakeLookup struct {
	biz *Business
	err error
}

func (l *fakeLookup) BusinessByID(ctx context.Context, id int64) (*Business, error) {
	if l.err != nil {
		return nil, l.err
	}
	return l.biz, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Harness
// ═══════════════════════════════════════════════════════════════════════════

type harness struct {
	agent      *Agent
	provider   *fakeProvider
	docs       *fakeDocs
	sheets     *fakeSheets
	web        *fakeWeb
	translator *fakeTranslator
}

func newHarness() *harness {
	h := &harness{
		provider:   &fakeProvider{},
		docs:       &fakeDocs{},
		sheets:     &fakeSheets{},
		web:        &fakeWeb{},
		translator: &fakeTranslator{out: "පරිවර්තනය කළ පිළිතුර"},
	}

	lookup := &fakeLookup{biz: &Business{
		ID:              1,
		Name:            "Ceylon Tea Shop",
		Description:     "We sell tea online",
		DefaultLanguage: "en",
	}}

	cfg := config.AgentConfig{
		DocumentTopK:       5,
		MinDocumentMatches: 2,
		MinSheetMatches:    1,
		SheetMaxResults:    5,
		WebMaxResults:      5,
	}

	h.agent = New(cfg, h.provider, h.docs, h.sheets, h.web, h.translator, lookup, nil)
	return h
}

func docMatches(n int) []vector.Match {
	out := make([]vector.Match, n)
	for i := range out {
		out[i] = vector.Match{Content: "chunk", DocumentID: 1, ChunkIndex: i, Score: 0.9}
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════
// Routing properties
// ═══════════════════════════════════════════════════════════════════════════

func TestDocumentsSufficientSkipsSheetsAndWeb(t *testing.T) {
	h := newHarness()
	h.docs.matches = docMatches(2)

	res, err := h.agent.ProcessMessage(context.Background(), "what teas do you sell?", 1, "+94771234567")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	if h.docs.calls != 1 {
		t.Errorf("expected 1 document search, got %d", h.docs.calls)
	}
	if h.sheets.calls != 0 {
		t.Errorf("expected sheet search to be skipped, got %d calls", h.sheets.calls)
	}
	if h.web.calls != 0 {
		t.Errorf("expected web search to be skipped, got %d calls", h.web.calls)
	}
	if res.Confidence != 85 {
		t.Errorf("expected confidence 85, got %d", res.Confidence)
	}
	if h.docs.lastTopK != 5 {
		t.Errorf("expected topK 5, got %d", h.docs.lastTopK)
	}
}

func TestSheetsFallbackSkipsWeb(t *testing.T) {
	h := newHarness()
	h.docs.matches = docMatches(1) // below the threshold of 2
	h.sheets.matches = []sheets.Match{
		{Sheet: "Products", Row: sheets.Row{"Item": "Green Tea", "Price": "450"}},
	}

	res, err := h.agent.ProcessMessage(context.Background(), "green tea price", 1, "+94771234567")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	if h.sheets.calls != 1 {
		t.Errorf("expected 1 sheet search, got %d", h.sheets.calls)
	}
	if h.web.calls != 0 {
		t.Errorf("expected web search to be skipped, got %d calls", h.web.calls)
	}
	if res.Confidence != 85 {
		t.Errorf("expected confidence 85, got %d", res.Confidence)
	}
}

func TestWebFallbackWhenNothingElseMatches(t *testing.T) {
	h := newHarness()
	h.web.results = []websearch.Result{{Title: "t", Snippet: "s"}}

	res, err := h.agent.ProcessMessage(context.Background(), "something obscure", 1, "+94771234567")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	if h.sheets.calls != 1 || h.web.calls != 1 {
		t.Errorf("expected sheets and web each called once, got %d and %d", h.sheets.calls, h.web.calls)
	}
	if res.Confidence != 85 {
		t.Errorf("expected confidence 85 with web results, got %d", res.Confidence)
	}
}

func TestEmptyRetrievalLowersConfidence(t *testing.T) {
	h := newHarness()

	res, err := h.agent.ProcessMessage(context.Background(), "hello", 1, "+94771234567")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	if res.Confidence != 60 {
		t.Errorf("expected confidence 60 with no retrieval results, got %d", res.Confidence)
	}
	if res.Response == "" {
		t.Error("expected a generated response even without context")
	}
}

func TestRetrievalErrorsDegradeToEmpty(t *testing.T) {
	h := newHarness()
	h.docs.err = errors.New("index unavailable")
	h.sheets.err = errors.New("sheet fetch failed")
	h.web.err = errors.New("serpapi down")

	res, err := h.agent.ProcessMessage(context.Background(), "hello", 1, "+94771234567")
	if err != nil {
		t.Fatalf("retrieval errors must not fail the turn: %v", err)
	}
	if res.Confidence != 60 {
		t.Errorf("expected confidence 60, got %d", res.Confidence)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Generation and language handling
// ═══════════════════════════════════════════════════════════════════════════

func TestGenerationFailureReturnsApology(t *testing.T) {
	h := newHarness()
	h.provider.errs = []error{nil, errors.New("model overloaded")}

	res, err := h.agent.ProcessMessage(context.Background(), "hello", 1, "+94771234567")
	if err != nil {
		t.Fatalf("generation failure must not fail the turn: %v", err)
	}

	if res.Response != apologyEnglish {
		t.Errorf("expected English apology, got %q", res.Response)
	}
	if res.Confidence != 0 {
		t.Errorf("expected confidence 0, got %d", res.Confidence)
	}
}

func TestGenerationFailureSinhalaApology(t *testing.T) {
	h := newHarness()
	h.provider.errs = []error{nil, errors.New("model overloaded")}

	res, err := h.agent.ProcessMessage(context.Background(), "ඔබේ මිල ගණන් මොනවාද", 1, "+94771234567")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	if res.Language != "si" {
		t.Fatalf("expected Sinhala detection, got %q", res.Language)
	}
	if res.Response != apologySinhala {
		t.Errorf("expected Sinhala apology, got %q", res.Response)
	}
	if h.translator.calls != 0 {
		t.Errorf("apology is already Sinhala, translator should not run, got %d calls", h.translator.calls)
	}
}

func TestSinhalaTurnTranslatesEnglishResponse(t *testing.T) {
	h := newHarness()
	h.provider.replies = []string{"pricing question", "Our green tea costs 450 rupees."}

	res, err := h.agent.ProcessMessage(context.Background(), "ඔබේ මිල ගණන් මොනවාද", 1, "+94771234567")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	if h.translator.calls != 1 {
		t.Fatalf("expected 1 translation call, got %d", h.translator.calls)
	}
	if res.Response != "පරිවර්තනය කළ පිළිතුර" {
		t.Errorf("expected translated response, got %q", res.Response)
	}
	if res.Language != "si" {
		t.Errorf("expected language si, got %q", res.Language)
	}
}

func TestSinhalaResponseSkipsTranslation(t *testing.T) {
	h := newHarness()
	h.provider.replies = []string{"pricing question", "හරිත තේ රුපියල් 450 යි."}

	_, err := h.agent.ProcessMessage(context.Background(), "ඔබේ මිල ගණන් මොනවාද", 1, "+94771234567")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	if h.translator.calls != 0 {
		t.Errorf("response already Sinhala, expected no translation, got %d calls", h.translator.calls)
	}
}

func TestEnglishTurnNeverTranslates(t *testing.T) {
	h := newHarness()

	_, err := h.agent.ProcessMessage(context.Background(), "do you deliver to Kandy?", 1, "+94771234567")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	if h.translator.calls != 0 {
		t.Errorf("English turns must not translate, got %d calls", h.translator.calls)
	}
}

func TestTranslationFailureKeepsOriginal(t *testing.T) {
	h := newHarness()
	h.provider.replies = []string{"pricing question", "Our green tea costs 450 rupees."}
	h.translator.err = errors.New("mymemory timeout")

	res, err := h.agent.ProcessMessage(context.Background(), "ඔබේ මිල ගණන් මොනවාද", 1, "+94771234567")
	if err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	if res.Response != "Our green tea costs 450 rupees." {
		t.Errorf("expected the untranslated response kept, got %q", res.Response)
	}
	if res.Confidence != 60 {
		t.Errorf("translation failure must not change confidence, got %d", res.Confidence)
	}
}

func TestIntentAnalysisFailureFallsBack(t *testing.T) {
	h := newHarness()
	h.provider.errs = []error{errors.New("rate limited"), nil}

	res, err := h.agent.ProcessMessage(context.Background(), "hello", 1, "+94771234567")
	if err != nil {
		t.Fatalf("analysis failure must not fail the turn: %v", err)
	}
	if res.Response == "" {
		t.Error("expected a response despite analysis failure")
	}

	// The fallback classification still flavors the generation prompt.
	if len(h.provider.requests) != 2 {
		t.Fatalf("expected 2 LLM calls, got %d", len(h.provider.requests))
	}
	if !strings.Contains(h.provider.requests[1].SystemPrompt, "General inquiry") {
		t.Error("expected fallback intent in the generation prompt")
	}
}

func TestBusinessLookupFailureIsFatal(t *testing.T) {
	h := newHarness()
	agent := New(config.AgentConfig{DocumentTopK: 5, MinDocumentMatches: 2, MinSheetMatches: 1},
		h.provider, h.docs, h.sheets, h.web, h.translator,
		&fakeLookup{err: errors.New("no such business")}, nil)

	_, err := agent.ProcessMessage(context.Background(), "hello", 42, "+94771234567")
	if err == nil {
		t.Fatal("expected error for unknown business")
	}
	if h.provider.calls != 0 {
		t.Errorf("no stage should run after a failed lookup, got %d LLM calls", h.provider.calls)
	}
	if h.docs.calls != 0 {
		t.Errorf("no stage should run after a failed lookup, got %d document searches", h.docs.calls)
	}
}

func TestDocumentSearchAlwaysRuns(t *testing.T) {
	h := newHarness()

	for _, text := range []string{"hello", "ආයුබෝවන්", "price of tea"} {
		before := h.docs.calls
		if _, err := h.agent.ProcessMessage(context.Background(), text, 1, "+94771234567"); err != nil {
			t.Fatalf("ProcessMessage(%q) failed: %v", text, err)
		}
		if h.docs.calls != before+1 {
			t.Errorf("document search must run for every turn, got %d calls after %q", h.docs.calls, text)
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Terminal events
// ═══════════════════════════════════════════════════════════════════════════

// terminalEvents pulls the turn-ending events out of the bus history, which
// Publish appends to synchronously.
func terminalEvents(events *bus.Bus) []bus.Event {
	var out []bus.Event
	for _, e := range events.GetHistory() {
		if e.Type == bus.EventTurnCompleted || e.Type == bus.EventTurnFailed {
			out = append(out, e)
		}
	}
	return out
}

func newEventedAgent(h *harness, events *bus.Bus) *Agent {
	lookup := &fakeLookup{biz: &Business{
		ID:              1,
		Name:            "Ceylon Tea Shop",
		DefaultLanguage: "en",
	}}
	cfg := config.AgentConfig{
		DocumentTopK:       5,
		MinDocumentMatches: 2,
		MinSheetMatches:    1,
		SheetMaxResults:    5,
		WebMaxResults:      5,
	}
	return New(cfg, h.provider, h.docs, h.sheets, h.web, h.translator, lookup, events)
}

func TestFailedGenerationPublishesOnlyTurnFailed(t *testing.T) {
	h := newHarness()
	h.provider.errs = []error{nil, errors.New("model overloaded")}

	events := bus.NewBus()
	defer events.Close()
	agent := newEventedAgent(h, events)

	if _, err := agent.ProcessMessage(context.Background(), "hello", 1, "+94771234567"); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	got := terminalEvents(events)
	if len(got) != 1 {
		t.Fatalf("expected exactly one terminal event, got %d: %v", len(got), got)
	}
	if got[0].Type != bus.EventTurnFailed {
		t.Errorf("expected turn_failed, got %s", got[0].Type)
	}
	if got[0].Stage != "generate" {
		t.Errorf("expected failing stage recorded, got %q", got[0].Stage)
	}
	if got[0].Error == "" {
		t.Error("expected the provider error on the event")
	}
}

func TestSuccessfulTurnPublishesOnlyTurnCompleted(t *testing.T) {
	h := newHarness()
	h.docs.matches = docMatches(2)

	events := bus.NewBus()
	defer events.Close()
	agent := newEventedAgent(h, events)

	if _, err := agent.ProcessMessage(context.Background(), "what teas do you sell?", 1, "+94771234567"); err != nil {
		t.Fatalf("ProcessMessage failed: %v", err)
	}

	got := terminalEvents(events)
	if len(got) != 1 {
		t.Fatalf("expected exactly one terminal event, got %d: %v", len(got), got)
	}
	if got[0].Type != bus.EventTurnCompleted {
		t.Errorf("expected turn_completed, got %s", got[0].Type)
	}
	if got[0].Confidence != 85 {
		t.Errorf("expected confidence 85 on the event, got %d", got[0].Confidence)
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Tenant isolation under concurrency
// ═══════════════════════════════════════════════════════════════════════════

// tenantDocs tags every match with the requesting tenant so leaks are visible
// in the generated reply. Stateless, safe for concurrent turns.
type tenantDocs struct{}

func (tenantDocs) SearchDocuments(ctx context.Context, businessID int64, query string, topK int) ([]vector.Match, error) {
	content := fmt.Sprintf("business-%d knowledge", businessID)
	return []vector.Match{
		{Content: content, DocumentID: businessID, Score: 0.9},
		{Content: content, DocumentID: businessID, ChunkIndex: 1, Score: 0.8},
	}, nil
}

// echoContextProvider answers generation calls with the system prompt itself,
// so the reply exposes exactly which tenant's context was assembled.
type echoContextProvider struct{}

func (echoContextProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req.SystemPrompt == "" {
		return &llm.ChatResponse{Content: "General inquiry"}, nil
	}
	return &llm.ChatResponse{Content: req.SystemPrompt}, nil
}

func (echoContextProvider) Name() string    { return "echo" }
func (echoContextProvider) Available() bool { return true }

type directoryLookup struct {
	businesses map[int64]*Business
}

func (d *directoryLookup) BusinessByID(ctx context.Context, id int64) (*Business, error) {
	biz, ok := d.businesses[id]
	if !ok {
		return nil, fmt.Errorf("no business %d", id)
	}
	return biz, nil
}

func TestConcurrentTurnsStayTenantIsolated(t *testing.T) {
	names := map[int64]string{1: "Ceylon Tea Shop", 2: "Lanka Spice House"}
	lookup := &directoryLookup{businesses: map[int64]*Business{
		1: {ID: 1, Name: names[1], DefaultLanguage: "en"},
		2: {ID: 2, Name: names[2], DefaultLanguage: "en"},
	}}
	cfg := config.AgentConfig{
		DocumentTopK:       5,
		MinDocumentMatches: 2,
		MinSheetMatches:    1,
		SheetMaxResults:    5,
		WebMaxResults:      5,
	}

	// Two document matches per turn route straight to generation, so the
	// sheet, web, and translation fakes are never touched.
	agent := New(cfg, echoContextProvider{}, tenantDocs{}, &fakeSheets{}, &fakeWeb{},
		&fakeTranslator{}, lookup, nil)

	const turns = 100
	var wg sync.WaitGroup
	errs := make(chan error, turns)

	for i := 0; i < turns; i++ {
		id := int64(i%2 + 1)
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()

			res, err := agent.ProcessMessage(context.Background(), "what do you sell?", id, "+94771234567")
			if err != nil {
				errs <- fmt.Errorf("business %d: %w", id, err)
				return
			}

			own := fmt.Sprintf("business-%d knowledge", id)
			other := fmt.Sprintf("business-%d knowledge", 3-id)
			switch {
			case !strings.Contains(res.Response, own):
				errs <- fmt.Errorf("business %d reply missing its own context: %q", id, res.Response)
			case !strings.Contains(res.Response, names[id]):
				errs <- fmt.Errorf("business %d reply missing its own name: %q", id, res.Response)
			case strings.Contains(res.Response, other):
				errs <- fmt.Errorf("business %d reply carries another tenant's context: %q", id, res.Response)
			case strings.Contains(res.Response, names[3-id]):
				errs <- fmt.Errorf("business %d reply carries another tenant's name: %q", id, res.Response)
			}
		}(id)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
