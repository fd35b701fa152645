package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/thibautrey/second-brain-ai-syst-sub006/internal/logging"
)

// ===========================================================================
// WEB SEARCH TOOL (Tavily API)
// ===========================================================================

const (
	defaultTavilyEndpoint = "https://api.tavily.com/search"
	maxQueryLength        = 500
	maxSearchResults      = 10
)

// TavilyRequest is the Tavily search API request body.
type TavilyRequest struct {
	APIKey        string `json:"api_key"`
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	MaxResults    int    `json:"max_results"`
	IncludeAnswer bool   `json:"include_answer"`
}

// TavilyResult is a single search hit.
type TavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// TavilyResponse is the Tavily search API response body.
type TavilyResponse struct {
	Query   string         `json:"query"`
	Answer  string         `json:"answer,omitempty"`
	Results []TavilyResult `json:"results"`
}

type searchCacheEntry struct {
	result    *TavilyResponse
	expiresAt time.Time
}

// searchCache is a small TTL cache keyed by normalized query hash.
type searchCache struct {
	mu      sync.RWMutex
	entries map[string]*searchCacheEntry
	ttl     time.Duration
	maxSize int
}

// WebSearchTool searches the web via Tavily, sanitizes the results against
// prompt injection, and wraps them in XML so the model treats them as data.
type WebSearchTool struct {
	apiKey            string
	endpoint          string
	httpClient        *http.Client
	cache             *searchCache
	dangerousPatterns []*regexp.Regexp
	log               *logging.Logger
}

// WebSearchOption configures a WebSearchTool.
type WebSearchOption func(*WebSearchTool)

// WithSearchEndpoint overrides the Tavily endpoint, used in tests.
func WithSearchEndpoint(endpoint string) WebSearchOption {
	return func(w *WebSearchTool) {
		w.endpoint = endpoint
	}
}

// WithSearchCacheTTL sets how long results are cached.
func WithSearchCacheTTL(ttl time.Duration) WebSearchOption {
	return func(w *WebSearchTool) {
		w.cache.ttl = ttl
	}
}

// WithSearchHTTPClient overrides the HTTP client.
func WithSearchHTTPClient(client *http.Client) WebSearchOption {
	return func(w *WebSearchTool) {
		w.httpClient = client
	}
}

// NewWebSearchTool creates the web search tool. The API key may be empty;
// calls then fail with an invalid-arguments error telling the user to
// configure it.
func NewWebSearchTool(apiKey string, opts ...WebSearchOption) *WebSearchTool {
	w := &WebSearchTool{
		apiKey:   apiKey,
		endpoint: defaultTavilyEndpoint,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		cache: &searchCache{
			entries: make(map[string]*searchCacheEntry),
			ttl:     15 * time.Minute,
			maxSize: 100,
		},
		log: logging.Global().WithComponent("websearch"),
	}
	w.compileDangerousPatterns()
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// compileDangerousPatterns builds the regexes used to strip instruction
// injection attempts out of fetched web content.
func (w *WebSearchTool) compileDangerousPatterns() {
	patterns := []string{
		`ignore\s+(all\s+)?previous\s+instructions`,
		`disregard\s+(all\s+)?prior\s+instructions`,
		`you\s+are\s+now\s+a?\s*\w*\s*assistant`,
		`system\s*:\s*`,
		`\[INST\]`,
		`<\|im_start\|>`,
		`<\|im_end\|>`,
	}
	for _, p := range patterns {
		if re, err := regexp.Compile("(?i)" + p); err == nil {
			w.dangerousPatterns = append(w.dangerousPatterns, re)
		}
	}
}

func (w *WebSearchTool) Name() string { return "web_search" }

func (w *WebSearchTool) Description() string {
	return "Search the web for current information. Returns a ranked list of sources with titles, URLs, and content excerpts."
}

func (w *WebSearchTool) Parameters() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The search query"},
			"max_results": {"type": "integer", "description": "Maximum number of results (1-10, default 5)"}
		},
		"required": ["query"]
	}`)
}

type webSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

func (w *WebSearchTool) Execute(ctx context.Context, userID string, args json.RawMessage) (string, error) {
	var params webSearchArgs
	if err := json.Unmarshal(args, &params); err != nil {
		return "", &InvalidArgumentsError{Reason: fmt.Sprintf("parse arguments: %v", err)}
	}

	query := strings.TrimSpace(params.Query)
	if query == "" {
		return "", &InvalidArgumentsError{Reason: "search query cannot be empty"}
	}
	if len(query) > maxQueryLength {
		return "", &InvalidArgumentsError{Reason: fmt.Sprintf("search query too long (max %d characters)", maxQueryLength)}
	}
	if w.apiKey == "" {
		return "", &InvalidArgumentsError{Reason: "search API key not configured, set TAVILY_API_KEY"}
	}

	maxResults := params.MaxResults
	if maxResults < 1 {
		maxResults = 5
	} else if maxResults > maxSearchResults {
		maxResults = maxSearchResults
	}

	cacheKey := w.cacheKey(query)
	if cached := w.cache.get(cacheKey); cached != nil {
		w.log.Debug("cache hit for query: %s", query)
		return w.formatResults(cached), nil
	}

	resp, err := w.callTavily(ctx, &TavilyRequest{
		APIKey:        w.apiKey,
		Query:         query,
		SearchDepth:   "basic",
		MaxResults:    maxResults,
		IncludeAnswer: true,
	})
	if err != nil {
		return "", &TransientError{Err: err}
	}

	w.sanitizeResponse(resp)
	w.cache.set(cacheKey, resp)

	w.log.Info("found %d results for %q", len(resp.Results), query)
	return w.formatResults(resp), nil
}

func (w *WebSearchTool) callTavily(ctx context.Context, req *TavilyRequest) (*TavilyResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("api call failed: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api returned status %d", httpResp.StatusCode)
	}

	var resp TavilyResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &resp, nil
}

func (w *WebSearchTool) cacheKey(query string) string {
	normalized := strings.ToLower(strings.TrimSpace(query))
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:16])
}

func (c *searchCache) get(key string) *TavilyResponse {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expiresAt) {
		return nil
	}
	return entry.result
}

func (c *searchCache) set(key string, result *TavilyResponse) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}
	c.entries[key] = &searchCacheEntry{
		result:    result,
		expiresAt: time.Now().Add(c.ttl),
	}
}

// evictOldest drops the entry closest to expiry. Called with c.mu held.
func (c *searchCache) evictOldest() {
	victim := ""
	var deadline time.Time
	for key, entry := range c.entries {
		if victim == "" || entry.expiresAt.Before(deadline) {
			victim, deadline = key, entry.expiresAt
		}
	}
	delete(c.entries, victim)
}

// ===========================================================================
// SANITIZATION AND FORMATTING
// ===========================================================================

func (w *WebSearchTool) sanitizeResponse(resp *TavilyResponse) {
	resp.Answer = w.sanitizeText(resp.Answer)
	for i := range resp.Results {
		resp.Results[i].Title = w.sanitizeText(resp.Results[i].Title)
		resp.Results[i].Content = w.sanitizeText(resp.Results[i].Content)
		// URLs are validated elsewhere, rewriting them would break links.
	}
}

func (w *WebSearchTool) sanitizeText(text string) string {
	for _, pattern := range w.dangerousPatterns {
		text = pattern.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}

// formatResults wraps results in XML so the model treats them as passive
// data rather than instructions.
func (w *WebSearchTool) formatResults(resp *TavilyResponse) string {
	var sb strings.Builder
	sb.WriteString("<web_search_results>\n")
	if resp.Answer != "" {
		fmt.Fprintf(&sb, "<summary>%s</summary>\n", escapeXML(resp.Answer))
	}
	for i, r := range resp.Results {
		fmt.Fprintf(&sb, "<result rank=\"%d\" url=\"%s\">\n<title>%s</title>\n%s\n</result>\n",
			i+1, escapeXML(r.URL), escapeXML(r.Title), escapeXML(truncateContent(r.Content, 500)))
	}
	sb.WriteString("</web_search_results>")
	return sb.String()
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	return s
}

func truncateContent(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
