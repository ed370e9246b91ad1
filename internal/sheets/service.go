// Package sheets provides live lookups against customer Google Sheets.
// Sheets are fetched through the public CSV export endpoint, cached with a
// per-connection TTL, and queried with keyword matching across all columns.
package sheets

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/chamikara/helachat/internal/logging"
)

// ErrNotPublic indicates the sheet is not shared publicly. The connection
// management surface reports this distinctly so owners can fix sharing.
var ErrNotPublic = errors.New("sheet is not publicly accessible")

// DefaultCacheTTL is how long fetched sheet data stays fresh.
const DefaultCacheTTL = 10 * time.Minute

// sheetIDPattern extracts the document ID from a Google Sheets sharing URL.
var sheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// bareIDPattern matches a raw sheet ID passed without a URL.
var bareIDPattern = regexp.MustCompile(`^[a-zA-Z0-9-_]+$`)

// ExtractSheetID pulls the sheet ID out of a sharing URL. A bare ID is
// accepted as-is. Returns an error when no ID can be found.
func ExtractSheetID(rawURL string) (string, error) {
	if m := sheetIDPattern.FindStringSubmatch(rawURL); m != nil {
		return m[1], nil
	}
	if bareIDPattern.MatchString(rawURL) {
		return rawURL, nil
	}
	return "", fmt.Errorf("no sheet ID found in %q", rawURL)
}

// Connection identifies one connected sheet of a business.
type Connection struct {
	Name     string
	SheetID  string
	CacheTTL time.Duration // zero means the service default
}

// Row is a single sheet row keyed by column header.
type Row map[string]string

// Match is a row that satisfied a query, tagged with its sheet name.
type Match struct {
	Sheet string `json:"sheet"`
	Row   Row    `json:"row"`
}

// QueryResult carries the matched rows plus sheet shape metadata.
type QueryResult struct {
	Rows      []Row
	Columns   []string
	TotalRows int
}

// cacheEntry is an immutable snapshot of fetched sheet data. Entries are
// replaced wholesale, never mutated, so readers need no row-level locking.
type cacheEntry struct {
	columns   []string
	rows      []Row
	fetchedAt time.Time
}

// Service fetches, caches, and queries sheet data.
type Service struct {
	baseURL    string
	client     *http.Client
	defaultTTL time.Duration

	mu    sync.Mutex
	cache map[string]*cacheEntry

	log *logging.Logger
}

// Config configures the sheets service.
type Config struct {
	// BaseURL overrides the Google Docs host (tests point it at a fixture server)
	BaseURL string
	// CacheTTL is the default cache lifetime
	CacheTTL time.Duration
	// FetchTimeout is the HTTP timeout for CSV fetches
	FetchTimeout time.Duration
}

// NewService creates a sheets service.
func NewService(cfg Config) *Service {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://docs.google.com"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 30 * time.Second
	}

	return &Service{
		baseURL:    cfg.BaseURL,
		client:     &http.Client{Timeout: cfg.FetchTimeout},
		defaultTTL: cfg.CacheTTL,
		cache:      make(map[string]*cacheEntry),
		log:        logging.Global().WithComponent("Sheets"),
	}
}

// Query returns rows matching the query text. The full lowercased query is
// matched as a phrase against each row's joined text, and additionally each
// whitespace token is tried on its own, so "red shoes" matches rows
// containing either the phrase or just "shoes". Collection stops once
// maxResults rows are found.
func (s *Service) Query(ctx context.Context, conn Connection, query string, maxResults int) (*QueryResult, error) {
	entry, err := s.data(ctx, conn, false)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(query))
	tokens := strings.Fields(needle)

	var matched []Row
	for _, row := range entry.rows {
		if maxResults > 0 && len(matched) >= maxResults {
			break
		}
		if rowMatches(row, needle, tokens) {
			matched = append(matched, row)
		}
	}

	return &QueryResult{
		Rows:      matched,
		Columns:   entry.columns,
		TotalRows: len(entry.rows),
	}, nil
}

// Preview returns the column headers and up to n leading rows.
func (s *Service) Preview(ctx context.Context, conn Connection, n int) (*QueryResult, error) {
	entry, err := s.data(ctx, conn, false)
	if err != nil {
		return nil, err
	}

	rows := entry.rows
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}

	return &QueryResult{
		Rows:      rows,
		Columns:   entry.columns,
		TotalRows: len(entry.rows),
	}, nil
}

// Refresh bypasses the cache and refetches the sheet.
// Returns the row and column counts for sync bookkeeping.
func (s *Service) Refresh(ctx context.Context, conn Connection) (rows, cols int, err error) {
	entry, err := s.data(ctx, conn, true)
	if err != nil {
		return 0, 0, err
	}
	return len(entry.rows), len(entry.columns), nil
}

// TestConnection verifies a sharing URL points to a publicly readable sheet.
func (s *Service) TestConnection(ctx context.Context, rawURL string) error {
	id, err := ExtractSheetID(rawURL)
	if err != nil {
		return err
	}
	_, err = s.fetch(ctx, id)
	return err
}

// data returns fresh-enough cached sheet data, fetching when stale or forced.
func (s *Service) data(ctx context.Context, conn Connection, force bool) (*cacheEntry, error) {
	ttl := conn.CacheTTL
	if ttl == 0 {
		ttl = s.defaultTTL
	}

	s.mu.Lock()
	cached, ok := s.cache[conn.SheetID]
	s.mu.Unlock()

	if !force && ok && time.Since(cached.fetchedAt) < ttl {
		return cached, nil
	}

	entry, err := s.fetch(ctx, conn.SheetID)
	if err != nil {
		// An expired entry never masks a failed refetch. A sheet whose
		// sharing was revoked must surface ErrNotPublic, not keep
		// answering with old rows.
		if ok {
			s.log.Warn("sheet %s refetch failed, cached data expired: %v", conn.SheetID, err)
		}
		return nil, err
	}

	s.mu.Lock()
	s.cache[conn.SheetID] = entry
	s.mu.Unlock()

	return entry, nil
}

// fetch downloads and parses the sheet CSV export.
func (s *Service) fetch(ctx context.Context, sheetID string) (*cacheEntry, error) {
	url := fmt.Sprintf("%s/spreadsheets/d/%s/export?format=csv&gid=0", s.baseURL, sheetID)

	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sheet: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("sheet %s: %w", sheetID, ErrNotPublic)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("fetch sheet %s: unexpected status %d", sheetID, resp.StatusCode)
	}

	reader := csv.NewReader(resp.Body)
	reader.FieldsPerRecord = -1 // ragged rows happen in real sheets

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse sheet CSV: %w", err)
	}
	if len(records) == 0 {
		return &cacheEntry{fetchedAt: time.Now()}, nil
	}

	columns := records[0]
	rows := make([]Row, 0, len(records)-1)
	for _, record := range records[1:] {
		row := make(Row, len(columns))
		for i, col := range columns {
			if i < len(record) {
				row[col] = record[i]
			}
		}
		rows = append(rows, row)
	}

	return &cacheEntry{
		columns:   columns,
		rows:      rows,
		fetchedAt: time.Now(),
	}, nil
}

// rowMatches checks the phrase and token conditions against a row.
func rowMatches(row Row, needle string, tokens []string) bool {
	if needle == "" {
		return false
	}

	var sb strings.Builder
	for _, v := range row {
		sb.WriteString(strings.ToLower(v))
		sb.WriteString(" ")
	}
	haystack := sb.String()

	if strings.Contains(haystack, needle) {
		return true
	}
	for _, tok := range tokens {
		if strings.Contains(haystack, tok) {
			return true
		}
	}
	return false
}
