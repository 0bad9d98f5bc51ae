package proxy

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// Source yields proxy URLs from some external inventory.
type Source interface {
	Name() string
	Load(ctx context.Context) ([]string, error)
}

// FileSource reads proxies from a local file, either one URL per line or a
// JSON array of strings/objects.
type FileSource struct {
	name string
	path string
}

func NewFileSource(name, path string) *FileSource {
	return &FileSource{name: name, path: path}
}

func (s *FileSource) Name() string { return s.name }

func (s *FileSource) Load(_ context.Context) ([]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read proxy file %s: %w", s.path, err)
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		urls, err := parseJSONList([]byte(trimmed))
		if err != nil {
			return nil, fmt.Errorf("parse proxy file %s: %w", s.path, err)
		}
		return urls, nil
	}

	var urls []string
	scanner := bufio.NewScanner(strings.NewReader(trimmed))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, normalizeProxyURL(line))
	}
	return urls, scanner.Err()
}

// HTTPSource fetches proxies from a provider endpoint. Providers disagree on
// response shape, so several common envelopes are tried in turn.
type HTTPSource struct {
	name   string
	url    string
	client *http.Client
}

func NewHTTPSource(name, url string) *HTTPSource {
	return &HTTPSource{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) Load(ctx context.Context) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("build proxy request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch proxies from %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy source %s returned status %d", s.name, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read proxy response: %w", err)
	}
	return parseProviderResponse(body)
}

// parseProviderResponse accepts a bare JSON list, the data/proxies/result
// envelopes, or a plain newline list.
func parseProviderResponse(body []byte) ([]string, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "[") {
		return parseJSONList([]byte(trimmed))
	}
	if strings.HasPrefix(trimmed, "{") {
		var envelope map[string]json.RawMessage
		if err := json.Unmarshal([]byte(trimmed), &envelope); err != nil {
			return nil, fmt.Errorf("parse proxy response: %w", err)
		}
		for _, key := range []string{"data", "proxies", "result"} {
			if raw, ok := envelope[key]; ok {
				return parseJSONList(raw)
			}
		}
		return nil, fmt.Errorf("proxy response has no recognized list field")
	}

	var urls []string
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			urls = append(urls, normalizeProxyURL(line))
		}
	}
	return urls, nil
}

func parseJSONList(raw []byte) ([]string, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("parse proxy list: %w", err)
	}

	var urls []string
	for _, item := range items {
		var str string
		if err := json.Unmarshal(item, &str); err == nil {
			urls = append(urls, normalizeProxyURL(str))
			continue
		}

		var obj struct {
			URL      string `json:"url"`
			Proxy    string `json:"proxy"`
			ProxyURL string `json:"proxy_url"`
			Address  string `json:"address"`
			IP       string `json:"ip"`
			Port     any    `json:"port"`
		}
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		switch {
		case obj.URL != "":
			urls = append(urls, normalizeProxyURL(obj.URL))
		case obj.Proxy != "":
			urls = append(urls, normalizeProxyURL(obj.Proxy))
		case obj.ProxyURL != "":
			urls = append(urls, normalizeProxyURL(obj.ProxyURL))
		case obj.Address != "":
			urls = append(urls, normalizeProxyURL(obj.Address))
		case obj.IP != "" && obj.Port != nil:
			urls = append(urls, normalizeProxyURL(fmt.Sprintf("%s:%v", obj.IP, obj.Port)))
		}
	}
	return urls, nil
}

// normalizeProxyURL defaults bare host:port entries to the http scheme.
func normalizeProxyURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		return raw
	}
	return "http://" + raw
}

// Querier is the slice of the pgx pool API the database source needs.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// DatabaseSource loads proxies from a Postgres inventory table.
type DatabaseSource struct {
	name string
	db   Querier
}

func NewDatabaseSource(name string, db Querier) *DatabaseSource {
	return &DatabaseSource{name: name, db: db}
}

func (s *DatabaseSource) Name() string { return s.name }

func (s *DatabaseSource) Load(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT url FROM proxies WHERE enabled = true ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query proxy inventory: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan proxy row: %w", err)
		}
		urls = append(urls, normalizeProxyURL(u))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proxy rows: %w", err)
	}
	return urls, nil
}
