// Package provider отправляет сообщения через Messenger Send API.
//
// Один HTTP вызов на сообщение. Ответ — либо message_id, либо
// структурированная ошибка {code, message, type}.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout      = 60 * time.Second
	defaultMaxSockets   = 500
	maxIdleConnsPerHost = 100
	idleConnTimeout     = 30 * time.Second
	maxResponseBody     = 1 << 20
)

// Config — параметры клиента.
type Config struct {
	// URL — адрес Send API или debug endpoint.
	URL string

	// Debug — отправка на debug endpoint без access_token.
	Debug bool

	// MaxSockets — максимум соединений к хосту провайдера.
	MaxSockets int

	Timeout time.Duration
	Logger  *slog.Logger

	// HTTPClient — клиент для тестов. Если задан, MaxSockets и Timeout игнорируются.
	HTTPClient *http.Client
}

// Result — итог одной отправки.
type Result struct {
	MessageID   string
	RecipientID string
	Duration    time.Duration

	// Err — nil при успехе.
	Err *Error
}

// OK возвращает true при успешной отправке.
func (r Result) OK() bool {
	return r.Err == nil
}

// Stats — статистика клиента.
type Stats struct {
	ClientID      string    `json:"client_id"`
	CreatedAt     time.Time `json:"created_at"`
	TotalRequests int64     `json:"total_requests"`
	Succeeded     int64     `json:"succeeded"`
	Failed        int64     `json:"failed"`
	AvgDurationMS float64   `json:"avg_duration_ms"`
	MaxSockets    int       `json:"max_sockets"`
	DebugMode     bool      `json:"debug_mode"`
}

// Client — клиент Send API с пулом keep-alive соединений.
type Client struct {
	url        string
	debug      bool
	maxSockets int
	http       *http.Client
	logger     *slog.Logger

	id        string
	createdAt time.Time

	total     atomic.Int64
	succeeded atomic.Int64
	failed    atomic.Int64
	durations atomic.Int64 // суммарно, в микросекундах
}

// NewClient создаёт клиента.
func NewClient(cfg Config) *Client {
	if cfg.MaxSockets <= 0 {
		cfg.MaxSockets = defaultMaxSockets
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		transport := &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 60 * time.Second,
			}).DialContext,
			ForceAttemptHTTP2:   true,
			MaxIdleConns:        cfg.MaxSockets,
			MaxIdleConnsPerHost: maxIdleConnsPerHost,
			MaxConnsPerHost:     cfg.MaxSockets,
			IdleConnTimeout:     idleConnTimeout,
			TLSHandshakeTimeout: 10 * time.Second,
		}
		httpClient = &http.Client{Transport: transport, Timeout: cfg.Timeout}
	}

	c := &Client{
		url:        cfg.URL,
		debug:      cfg.Debug,
		maxSockets: cfg.MaxSockets,
		http:       httpClient,
		logger:     cfg.Logger.With("component", "provider"),
		id:         uuid.NewString()[:8],
		createdAt:  time.Now().UTC(),
	}

	c.logger.Info("provider client initialized",
		"client_id", c.id,
		"max_sockets", cfg.MaxSockets,
		"debug", cfg.Debug,
	)
	return c
}

type apiResponse struct {
	MessageID   string    `json:"message_id"`
	RecipientID string    `json:"recipient_id"`
	Error       *apiError `json:"error"`
}

type apiError struct {
	Code    json.Number `json:"code"`
	Message string      `json:"message"`
	Type    string      `json:"type"`
}

// Send отправляет сообщение получателю.
//
// msg — JSON объект с messaging_type, tag и message; recipient
// добавляется клиентом. Ошибки не возвращаются отдельно: любая
// неудача описывается в Result.Err.
func (c *Client) Send(ctx context.Context, accessToken, recipientID string, msg json.RawMessage) Result {
	c.total.Add(1)
	start := time.Now()

	res := c.send(ctx, accessToken, recipientID, msg)
	res.Duration = time.Since(start)
	c.durations.Add(res.Duration.Microseconds())

	if res.OK() {
		c.succeeded.Add(1)
		c.logger.Debug("message sent",
			"recipient_id", recipientID,
			"message_id", res.MessageID,
			"duration", res.Duration,
		)
	} else {
		c.failed.Add(1)
		c.logger.Warn("provider error",
			"recipient_id", recipientID,
			"error_code", res.Err.Code,
			"error_type", res.Err.Type,
			"error", res.Err.Message,
			"duration", res.Duration,
		)
	}
	return res
}

func (c *Client) send(ctx context.Context, accessToken, recipientID string, msg json.RawMessage) Result {
	body, err := buildPayload(recipientID, msg)
	if err != nil {
		return Result{Err: &Error{Code: CodeUnknown, Message: err.Error(), Type: "InvalidMessage"}}
	}

	endpoint := c.url
	if !c.debug {
		u, err := url.Parse(c.url)
		if err != nil {
			return Result{Err: &Error{Code: CodeUnknown, Message: err.Error(), Type: "InvalidURL"}}
		}
		q := u.Query()
		q.Set("access_token", accessToken)
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Err: &Error{Code: CodeUnknown, Message: err.Error(), Type: "InvalidRequest"}}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{Err: &Error{Code: CodeNetworkError, Message: redact(err), Type: "NetworkError"}}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return Result{Err: &Error{Code: CodeNetworkError, Message: err.Error(), Type: "NetworkError"}}
	}

	var parsed apiResponse
	jsonErr := json.Unmarshal(raw, &parsed)

	if parsed.Error != nil {
		code := parsed.Error.Code.String()
		if code == "" {
			code = CodeUnknown
		}
		typ := parsed.Error.Type
		if typ == "" {
			typ = "UnknownError"
		}
		return Result{Err: &Error{Code: code, Message: parsed.Error.Message, Type: typ}}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{Err: &Error{
			Code:    "HTTP_" + strconv.Itoa(resp.StatusCode),
			Message: http.StatusText(resp.StatusCode),
			Type:    "HTTPError",
		}}
	}

	if c.debug {
		return Result{
			MessageID:   fmt.Sprintf("debug_%d_%s", time.Now().UnixMilli(), recipientID),
			RecipientID: recipientID,
		}
	}
	if jsonErr != nil {
		return Result{Err: &Error{Code: CodeUnknown, Message: "invalid response body: " + jsonErr.Error(), Type: "InvalidResponse"}}
	}
	return Result{MessageID: parsed.MessageID, RecipientID: parsed.RecipientID}
}

// buildPayload добавляет recipient к полям сообщения.
func buildPayload(recipientID string, msg json.RawMessage) ([]byte, error) {
	fields := make(map[string]json.RawMessage)
	if len(msg) > 0 {
		if err := json.Unmarshal(msg, &fields); err != nil {
			return nil, fmt.Errorf("decode message: %w", err)
		}
	}
	recipient, err := json.Marshal(map[string]string{"id": recipientID})
	if err != nil {
		return nil, err
	}
	fields["recipient"] = recipient
	return json.Marshal(fields)
}

// redact убирает URL с access_token из текста сетевой ошибки.
func redact(err error) string {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return urlErr.Op + ": " + urlErr.Err.Error()
	}
	return err.Error()
}

// Stats возвращает статистику клиента.
func (c *Client) Stats() Stats {
	total := c.total.Load()
	var avg float64
	if total > 0 {
		avg = float64(c.durations.Load()) / float64(total) / 1000
	}
	return Stats{
		ClientID:      c.id,
		CreatedAt:     c.createdAt,
		TotalRequests: total,
		Succeeded:     c.succeeded.Load(),
		Failed:        c.failed.Load(),
		AvgDurationMS: avg,
		MaxSockets:    c.maxSockets,
		DebugMode:     c.debug,
	}
}
