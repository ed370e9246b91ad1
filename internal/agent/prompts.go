package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/chamikara/helachat/internal/sheets"
)

const (
	// Context assembly limits for the generation prompt.
	maxContextDocuments   = 3
	maxContextSheetRows   = 5
	maxContextWebSnippets = 2
	snippetMaxLen         = 200
)

// Canned replies used when generation fails outright.
const (
	apologySinhala = "කණගාටුයි, දැන් මට ඔබගේ ප්‍රශ්නයට පිළිතුරු දීමට අපහසුයි. කරුණාකර පසුව නැවත උත්සාහ කරන්න."
	apologyEnglish = "Sorry, I'm having trouble processing your request right now. Please try again later."
)

// apology returns the fallback reply for the given language.
func apology(language string) string {
	if language == "si" {
		return apologySinhala
	}
	return apologyEnglish
}

// truncate shortens s to at most n runes, appending an ellipsis when cut.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// buildAnalysisPrompt asks the LLM to classify the customer's intent.
// The result is advisory only; it flavors the generation prompt but never
// drives routing.
func buildAnalysisPrompt(t Turn) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are analyzing a customer message sent to %s, a business on WhatsApp.\n", t.Business.Name)
	fmt.Fprintf(&b, "The message is written in %s.\n\n", languageName(t.Language))
	fmt.Fprintf(&b, "Customer message: %s\n\n", t.InputText)
	b.WriteString("Classify the customer's intent in one short phrase ")
	b.WriteString("(for example: product inquiry, pricing question, complaint, greeting, order status).")
	return b.String()
}

// buildSystemPrompt assembles the generation system prompt from the tenant
// persona and whatever retrieval context the turn collected.
func buildSystemPrompt(t Turn) string {
	var b strings.Builder

	persona := t.Business.Persona
	if persona == "" {
		persona = fmt.Sprintf("You are a helpful customer service assistant for %s.", t.Business.Name)
	}
	b.WriteString(persona)
	b.WriteString("\n\n")

	if t.Business.Description != "" {
		fmt.Fprintf(&b, "About the business: %s\n\n", t.Business.Description)
	}

	if t.Analysis != "" {
		fmt.Fprintf(&b, "Customer intent: %s\n\n", t.Analysis)
	}

	context := buildContext(t)
	if context != "" {
		b.WriteString("Use the following information to answer the customer:\n")
		b.WriteString(context)
		b.WriteString("\n")
	}

	b.WriteString("Reply to the customer directly and concisely. ")
	b.WriteString("If the information above does not answer the question, say so honestly and offer to help another way.")
	return b.String()
}

// buildContext renders the turn's retrieval results into prompt context.
// Documents are capped at 3 entries of 200 chars, sheet rows at 5, web
// snippets at 2 of 200 chars.
func buildContext(t Turn) string {
	var parts []string

	for i, m := range t.DocumentMatches {
		if i >= maxContextDocuments {
			break
		}
		parts = append(parts, fmt.Sprintf("- %s", truncate(m.Content, snippetMaxLen)))
	}

	for i, m := range t.SheetMatches {
		if i >= maxContextSheetRows {
			break
		}
		parts = append(parts, "- "+formatSheetRow(m))
	}

	for i, r := range t.WebMatches {
		if i >= maxContextWebSnippets {
			break
		}
		parts = append(parts, fmt.Sprintf("- %s: %s", r.Title, truncate(r.Snippet, snippetMaxLen)))
	}

	return strings.Join(parts, "\n")
}

// formatSheetRow renders a matched row as "[sheet] col: val, col: val".
// Columns are sorted so the rendering is stable.
func formatSheetRow(m sheets.Match) string {
	pairs := make([]string, 0, len(m.Row))
	for _, col := range sortedKeys(m.Row) {
		pairs = append(pairs, fmt.Sprintf("%s: %s", col, m.Row[col]))
	}
	return fmt.Sprintf("[%s] %s", m.Sheet, strings.Join(pairs, ", "))
}

// languageName expands a language code for prompt text.
func languageName(code string) string {
	if code == "si" {
		return "Sinhala"
	}
	return "English"
}

// sortedKeys returns the map keys in sorted order.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
