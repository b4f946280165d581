package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// HealthResponse — ответ /health/detailed.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service,omitempty"`
	Timestamp string `json:"timestamp"`
	Database  string `json:"database,omitempty"`
	Error     string `json:"error,omitempty"`
}

// QueueStats — глубина очереди.
type QueueStats struct {
	Name      string `json:"name"`
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
}

// QueueStatsResponse — ответ /stats/queue.
type QueueStatsResponse struct {
	Ready QueueStats `json:"ready"`
	DLQ   QueueStats `json:"dlq"`
}

// HTTPClientStats — ответ /stats/http-client.
type HTTPClientStats struct {
	ClientID      string  `json:"client_id"`
	CreatedAt     string  `json:"created_at"`
	TotalRequests int64   `json:"total_requests"`
	Succeeded     int64   `json:"succeeded"`
	Failed        int64   `json:"failed"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
	MaxSockets    int     `json:"max_sockets"`
	DebugMode     bool    `json:"debug_mode"`
}

// CircuitState — circuit одной страницы.
type CircuitState struct {
	PageID      string `json:"page_id"`
	Failures    int    `json:"failures"`
	IsOpen      bool   `json:"is_open"`
	LastFailure string `json:"last_failure"`
}

// CircuitBreakerStats — ответ /stats/circuit-breaker.
type CircuitBreakerStats struct {
	Enabled   bool           `json:"enabled"`
	Threshold int            `json:"threshold"`
	TimeoutMS int64          `json:"timeout_ms"`
	Circuits  []CircuitState `json:"circuits"`
}

// LogWriterStats — ответ /stats/log-writer.
type LogWriterStats struct {
	BufferedLogs    int     `json:"buffered_logs"`
	BatchSize       int     `json:"batch_size"`
	BatchIntervalMS int64   `json:"batch_interval_ms"`
	FillPercentage  float64 `json:"fill_percentage"`
}

// RateLimitStats — ответ /stats/rate-limit/{pageId}.
type RateLimitStats struct {
	PageID    string `json:"page_id"`
	Current   int64  `json:"current"`
	Max       int    `json:"max"`
	Remaining int64  `json:"remaining"`
	WindowMS  int64  `json:"window_ms"`
}

// ResetResponse — ответ на ручной сброс.
type ResetResponse struct {
	PageID  string `json:"page_id"`
	Message string `json:"message"`
}

// RunSummary — сводка run.
type RunSummary struct {
	ID      int64            `json:"id"`
	Kind    string           `json:"kind"`
	Status  string           `json:"status"`
	Counts  map[string]int64 `json:"counts"`
	Total   int64            `json:"total"`
	Details json.RawMessage  `json:"error,omitempty"`
}

// PurgeResponse — ответ на удаление jobs.
type PurgeResponse struct {
	Kind    string `json:"kind"`
	RunID   int64  `json:"run_id"`
	Message string `json:"message"`
}

// RunKind — вид run в путях API.
type RunKind string

const (
	KindRun     RunKind = "run"
	KindTrigger RunKind = "trigger"
)

func (k RunKind) resource() (string, error) {
	switch k {
	case KindRun:
		return "runs", nil
	case KindTrigger:
		return "trigger-runs", nil
	default:
		return "", fmt.Errorf("unknown run kind %q (want run or trigger)", k)
	}
}

// ErrUnhealthy — сервис ответил 503 на проверку здоровья.
var ErrUnhealthy = errors.New("service unhealthy")

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для операционного API Relay.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// --- Health ---

// Health проверяет процесс и его БД. При 503 возвращает ответ вместе
// с ErrUnhealthy.
func (c *Client) Health() (*HealthResponse, error) {
	resp, err := c.do(http.MethodGet, "/health/detailed")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusServiceUnavailable {
		return nil, c.checkError(resp)
	}

	var health HealthResponse
	if err := decodeData(resp.Body, &health); err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusServiceUnavailable {
		return &health, ErrUnhealthy
	}
	return &health, nil
}

// --- Stats ---

// QueueStats возвращает глубину очередей.
func (c *Client) QueueStats() (*QueueStatsResponse, error) {
	var stats QueueStatsResponse
	err := c.get("/stats/queue", &stats)
	return &stats, err
}

// HTTPClientStats возвращает статистику клиента провайдера воркера.
func (c *Client) HTTPClientStats() (*HTTPClientStats, error) {
	var stats HTTPClientStats
	err := c.get("/stats/http-client", &stats)
	return &stats, err
}

// CircuitStats возвращает состояние circuit breaker воркера.
func (c *Client) CircuitStats() (*CircuitBreakerStats, error) {
	var stats CircuitBreakerStats
	err := c.get("/stats/circuit-breaker", &stats)
	return &stats, err
}

// LogWriterStats возвращает заполнение буфера log writer воркера.
func (c *Client) LogWriterStats() (*LogWriterStats, error) {
	var stats LogWriterStats
	err := c.get("/stats/log-writer", &stats)
	return &stats, err
}

// RateLimitStats возвращает заполнение окна страницы.
func (c *Client) RateLimitStats(pageID string) (*RateLimitStats, error) {
	var stats RateLimitStats
	err := c.get("/stats/rate-limit/"+url.PathEscape(pageID), &stats)
	return &stats, err
}

// Performance возвращает сводку /stats/performance как есть.
func (c *Client) Performance() (map[string]any, error) {
	var stats map[string]any
	err := c.get("/stats/performance", &stats)
	return stats, err
}

// --- Resets ---

// ResetCircuit закрывает circuit страницы.
func (c *Client) ResetCircuit(pageID string) (*ResetResponse, error) {
	var res ResetResponse
	err := c.send(http.MethodPost, "/circuit-breaker/reset/"+url.PathEscape(pageID), &res)
	return &res, err
}

// ResetRateLimit очищает окно страницы.
func (c *Client) ResetRateLimit(pageID string) (*ResetResponse, error) {
	var res ResetResponse
	err := c.send(http.MethodPost, "/rate-limit/reset/"+url.PathEscape(pageID), &res)
	return &res, err
}

// --- Runs ---

// RunSummary возвращает сводку run указанного вида.
func (c *Client) RunSummary(kind RunKind, id int64) (*RunSummary, error) {
	resource, err := kind.resource()
	if err != nil {
		return nil, err
	}
	var s RunSummary
	err = c.get("/api/v1/"+resource+"/"+strconv.FormatInt(id, 10)+"/summary", &s)
	return &s, err
}

// PurgeJobs отмечает jobs run для удаления.
func (c *Client) PurgeJobs(kind RunKind, id int64) (*PurgeResponse, error) {
	resource, err := kind.resource()
	if err != nil {
		return nil, err
	}
	var res PurgeResponse
	err = c.send(http.MethodDelete, "/api/v1/admin/jobs/"+resource+"/"+strconv.FormatInt(id, 10), &res)
	return &res, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.send(http.MethodGet, path, result)
}

func (c *Client) send(method, path string, result any) error {
	resp, err := c.do(method, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}
	return decodeData(resp.Body, result)
}

func (c *Client) do(method, path string) (*http.Response, error) {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.httpClient.Do(req)
}

func decodeData(r io.Reader, result any) error {
	var dr dataResponse
	if err := json.NewDecoder(r).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if result == nil {
		return nil
	}
	return json.Unmarshal(dr.Data, result)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error.Code == "" {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
