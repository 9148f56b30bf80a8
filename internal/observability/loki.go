package observability

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Config holds the Loki push settings.
type Config struct {
	URL            string
	Username       string
	APIKey         string
	AppName        string
	InstanceID     string
	InstanceRegion string
}

type LokiClient struct {
	url            string
	username       string
	apiKey         string
	httpClient     *http.Client
	enabled        bool
	appName        string
	instanceID     string
	instanceRegion string
}

// Loki Push API format
type lokiPushRequest struct {
	Streams []lokiStream `json:"streams"`
}

type lokiStream struct {
	Stream map[string]string `json:"stream"`
	Values [][]string        `json:"values"`
}

var (
	clientMu      sync.RWMutex
	defaultClient *LokiClient
)

// Init configures the process-wide Loki client. Pushing is disabled when the
// URL or credentials are missing.
func Init(cfg Config) {
	appName := cfg.AppName
	if appName == "" {
		appName = "storefront-dev"
	}

	c := &LokiClient{enabled: false, appName: appName, instanceID: cfg.InstanceID, instanceRegion: cfg.InstanceRegion}
	if cfg.URL == "" || cfg.Username == "" || cfg.APIKey == "" {
		log.Println("Loki not configured, logging disabled")
	} else {
		c.url = cfg.URL + "/loki/api/v1/push"
		c.username = cfg.Username
		c.apiKey = cfg.APIKey
		c.httpClient = &http.Client{Timeout: 5 * time.Second}
		c.enabled = true
		log.Println("Loki client initialized")
	}

	clientMu.Lock()
	defaultClient = c
	clientMu.Unlock()
}

func Push(labels map[string]string, data map[string]any) {
	clientMu.RLock()
	c := defaultClient
	clientMu.RUnlock()
	if c == nil || !c.enabled {
		return
	}

	go c.push(labels, data)
}

func (c *LokiClient) push(labels map[string]string, data map[string]any) {
	if err := c.send(labels, data, time.Now()); err != nil {
		log.Printf("Loki: %v", err)
	}
}

func (c *LokiClient) send(labels map[string]string, data map[string]any, at time.Time) error {
	if labels == nil {
		labels = make(map[string]string)
	}
	labels["app"] = c.appName
	labels["instance"] = c.instanceID
	labels["region"] = c.instanceRegion

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	req := lokiPushRequest{
		Streams: []lokiStream{
			{
				Stream: labels,
				Values: [][]string{
					{strconv.FormatInt(at.UnixNano(), 10), string(dataJSON)},
				},
			},
		},
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequest("POST", c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.SetBasicAuth(c.username, c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	return nil
}

// LogTokenExchange logs a service account token exchange. It never carries
// the assertion or the token itself.
func LogTokenExchange(outcome string, statusCode int, durationMs int64, errMsg string) {
	level := "info"
	if outcome != "ok" {
		level = "error"
	}
	labels := map[string]string{
		"type":    "token_exchange",
		"outcome": outcome,
		"level":   level,
	}

	data := map[string]any{
		"outcome":     outcome,
		"status_code": statusCode,
		"duration_ms": durationMs,
	}
	if errMsg != "" {
		data["error"] = errMsg
	}

	Push(labels, data)
}

// LogRequest logs an incoming request to Loki
func LogRequest(requestID, method, path string, statusCode int, durationMs int64) {
	labels := map[string]string{
		"type":   "request",
		"method": method,
		"level":  "info",
	}

	data := map[string]any{
		"request_id":  requestID,
		"method":      method,
		"path":        path,
		"status_code": statusCode,
		"duration_ms": durationMs,
	}

	Push(labels, data)
}

// LogError logs an error to Loki
func LogError(context string, err error) {
	labels := map[string]string{
		"type":  "error",
		"level": "error",
	}

	data := map[string]any{
		"context": context,
		"error":   fmt.Sprintf("%v", err),
	}

	Push(labels, data)
}

// LogSecurityEvent logs a security-related event to Loki
func LogSecurityEvent(requestID, event string, details map[string]any) {
	labels := map[string]string{
		"type":  "security",
		"level": "warn",
	}

	data := map[string]any{
		"request_id": requestID,
		"event":      event,
	}
	for k, v := range details {
		data[k] = v
	}

	Push(labels, data)
}
