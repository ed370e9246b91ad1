// Package agent implements the response pipeline that turns an inbound
// WhatsApp message into a reply. A Turn carries the state of one execution
// through the stages; routing between stages is expressed as Decision values
// consumed by switches in ProcessMessage.
package agent

import (
	"time"

	"github.com/google/uuid"

	"github.com/chamikara/helachat/internal/sheets"
	"github.com/chamikara/helachat/internal/vector"
	"github.com/chamikara/helachat/internal/websearch"
)

// Decision is the outcome of a routing step.
type Decision int

const (
	// ToGenerate proceeds directly to response generation.
	ToGenerate Decision = iota

	// ToSheets falls through to the sheet search stage.
	ToSheets

	// ToWeb falls through to the web search stage.
	ToWeb

	// ToTranslate sends the generated response through translation.
	ToTranslate

	// ToEnd finishes the turn as-is.
	ToEnd
)

// String returns the decision name for logs and events.
func (d Decision) String() string {
	switch d {
	case ToGenerate:
		return "generate"
	case ToSheets:
		return "sheets"
	case ToWeb:
		return "web"
	case ToTranslate:
		return "translate"
	case ToEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Business is the tenant snapshot a turn operates on. It is fetched once at
// turn start and never written afterwards.
type Business struct {
	ID                 int64
	Name               string
	Description        string
	Persona            string
	SupportedLanguages []string
	DefaultLanguage    string
}

// Turn is the state of a single pipeline execution. Turns are immutable
// values: stages derive new turns through the With methods, so no stage ever
// observes another stage's writes in progress.
type Turn struct {
	ID          string
	StartedAt   time.Time
	InputText   string
	SenderPhone string
	Business    Business

	// Set once by the detect stage.
	Language string

	// Advisory intent classification; routing never consults it.
	Analysis string

	// Retrieval results, each populated by at most one stage. An empty
	// slice means the stage ran and found nothing.
	DocumentMatches []vector.Match
	SheetMatches    []sheets.Match
	WebMatches      []websearch.Result

	// Set by the generate stage; overwritten at most once by translate.
	Response   string
	Confidence int
}

// NewTurn creates a turn for one inbound message.
func NewTurn(text, senderPhone string, biz Business) Turn {
	return Turn{
		ID:          uuid.NewString(),
		StartedAt:   time.Now().UTC(),
		InputText:   text,
		SenderPhone: senderPhone,
		Business:    biz,
	}
}

// WithLanguage returns a copy with the detected language set.
func (t Turn) WithLanguage(language string) Turn {
	t.Language = language
	return t
}

// WithAnalysis returns a copy with the intent classification set.
func (t Turn) WithAnalysis(analysis string) Turn {
	t.Analysis = analysis
	return t
}

// WithDocumentMatches returns a copy with document search results.
// A nil slice is stored as empty so downstream code can treat "ran but
// found nothing" and "found nothing" identically.
func (t Turn) WithDocumentMatches(matches []vector.Match) Turn {
	if matches == nil {
		matches = []vector.Match{}
	}
	t.DocumentMatches = matches
	return t
}

// WithSheetMatches returns a copy with sheet search results.
func (t Turn) WithSheetMatches(matches []sheets.Match) Turn {
	if matches == nil {
		matches = []sheets.Match{}
	}
	t.SheetMatches = matches
	return t
}

// WithWebMatches returns a copy with web search results.
func (t Turn) WithWebMatches(matches []websearch.Result) Turn {
	if matches == nil {
		matches = []websearch.Result{}
	}
	t.WebMatches = matches
	return t
}

// WithResponse returns a copy with the generated response and confidence.
func (t Turn) WithResponse(response string, confidence int) Turn {
	t.Response = response
	t.Confidence = confidence
	return t
}

// HasRetrievalResults reports whether any retrieval stage found something.
func (t Turn) HasRetrievalResults() bool {
	return len(t.DocumentMatches) > 0 || len(t.SheetMatches) > 0 || len(t.WebMatches) > 0
}
