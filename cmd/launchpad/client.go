package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/Jeremy-Gitau/launch-pad/internal/process"
	"github.com/Jeremy-Gitau/launch-pad/internal/store"
)

const defaultAPIURL = "http://127.0.0.1:8713"

// APIClient talks to a running launchpad daemon.
type APIClient struct {
	baseURL string
	client  *http.Client
}

func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if baseURL == "" {
		baseURL = defaultAPIURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &APIClient{baseURL: baseURL, client: &http.Client{Timeout: timeout}}
}

// IsReachable reports whether the daemon answers at all.
func (c *APIClient) IsReachable() bool {
	resp, err := c.client.Get(c.baseURL + "/status")
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *APIClient) do(method, path string, out any) error {
	req, err := http.NewRequest(method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		var er struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&er); err != nil || er.Error == "" {
			return fmt.Errorf("daemon returned %s", resp.Status)
		}
		return fmt.Errorf("daemon error: %s", er.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *APIClient) Start(service string) error {
	return c.do(http.MethodPost, "/start?service="+url.QueryEscape(service), nil)
}

func (c *APIClient) Stop(service string) error {
	return c.do(http.MethodPost, "/stop?service="+url.QueryEscape(service), nil)
}

func (c *APIClient) StartAll() error { return c.do(http.MethodPost, "/start-all", nil) }

func (c *APIClient) StopAll() error { return c.do(http.MethodPost, "/stop-all", nil) }

func (c *APIClient) ApplyPreset(name string) error {
	return c.do(http.MethodPost, "/preset?name="+url.QueryEscape(name), nil)
}

func (c *APIClient) Status() ([]process.Status, error) {
	var out []process.Status
	err := c.do(http.MethodGet, "/status", &out)
	return out, err
}

// LogRecord mirrors the daemon's log payload.
type LogRecord struct {
	Service  string    `json:"service"`
	At       time.Time `json:"at"`
	Severity string    `json:"severity"`
	Line     string    `json:"line"`
}

func (c *APIClient) Logs(service string, n int) ([]LogRecord, error) {
	var out []LogRecord
	err := c.do(http.MethodGet, "/logs?service="+url.QueryEscape(service)+"&n="+strconv.Itoa(n), &out)
	return out, err
}

func (c *APIClient) MergedLogs(n int) ([]LogRecord, error) {
	var out []LogRecord
	err := c.do(http.MethodGet, "/logs/merged?n="+strconv.Itoa(n), &out)
	return out, err
}

func (c *APIClient) SearchLogs(term string) ([]LogRecord, error) {
	var out []LogRecord
	err := c.do(http.MethodGet, "/logs/search?q="+url.QueryEscape(term), &out)
	return out, err
}

func (c *APIClient) History(service string, limit int) ([]store.Record, error) {
	var out []store.Record
	err := c.do(http.MethodGet, "/history?service="+url.QueryEscape(service)+"&limit="+strconv.Itoa(limit), &out)
	return out, err
}
