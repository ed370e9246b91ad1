package lang

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// DefaultTranslationEndpoint is the public MyMemory API base URL.
const DefaultTranslationEndpoint = "https://api.mymemory.translated.net"

// Translator converts English text to Sinhala.
type Translator interface {
	// Translate returns the Sinhala rendition of English text.
	Translate(ctx context.Context, text string) (string, error)
}

// MyMemoryTranslator implements Translator against the free MyMemory API.
type MyMemoryTranslator struct {
	endpoint string
	client   *http.Client
}

// NewMyMemoryTranslator creates a translator with the given endpoint and timeout.
// Zero values fall back to the public endpoint and a 10 second timeout.
func NewMyMemoryTranslator(endpoint string, timeout time.Duration) *MyMemoryTranslator {
	if endpoint == "" {
		endpoint = DefaultTranslationEndpoint
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &MyMemoryTranslator{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// myMemoryResponse is the subset of the MyMemory payload we consume.
type myMemoryResponse struct {
	ResponseData struct {
		TranslatedText string  `json:"translatedText"`
		Match          float64 `json:"match"`
	} `json:"responseData"`
	ResponseStatus int `json:"responseStatus"`
}

// Translate sends text through the MyMemory en|si language pair.
// Callers decide what to do on error; the pipeline keeps the original text.
func (t *MyMemoryTranslator) Translate(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", nil
	}

	q := url.Values{}
	q.Set("q", text)
	q.Set("langpair", "en|si")

	reqURL := t.endpoint + "/get?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("translation error (status %d)", resp.StatusCode)
	}

	var mm myMemoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&mm); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}

	if mm.ResponseData.TranslatedText == "" {
		return "", fmt.Errorf("empty translation in response")
	}

	return mm.ResponseData.TranslatedText, nil
}
