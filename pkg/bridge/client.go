package bridge

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
)

// Client consumes the bridge's SSE feed from another process, with
// reconnection. A reconnect is harmless because the feed resyncs: the
// first event after connecting is at most one resync interval stale.
type Client struct {
	URL     string
	Headers map[string]string

	httpClient *http.Client
}

// NewClient creates a feed client for the given /events URL.
func NewClient(url string) *Client {
	return &Client{
		URL:        url,
		Headers:    make(map[string]string),
		httpClient: &http.Client{},
	}
}

/*
Subscribe connects to the feed and invokes handler for every decoded
event until the context is cancelled. Connection failures are retried
with exponential backoff; decode failures on individual events are logged
and skipped so one malformed message cannot kill the stream.
*/
func (c *Client) Subscribe(ctx context.Context, handler func(Event)) error {
	const maxRetries = 5
	retryCount := 0
	baseDelay := time.Second

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := c.consume(ctx, handler)
		if err == nil || ctx.Err() != nil {
			return ctx.Err()
		}

		if retryCount >= maxRetries {
			return fmt.Errorf("max retries exceeded: %w", err)
		}
		delay := baseDelay * time.Duration(1<<retryCount)
		log.Warn("feed connection lost, reconnecting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		retryCount++
	}
}

// consume runs one connection until it drops.
func (c *Client) consume(ctx context.Context, handler func(Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return err
		}

		line = bytes.TrimSpace(line)
		if len(line) == 0 || bytes.HasPrefix(line, []byte(":")) {
			continue
		}
		data, ok := strings.CutPrefix(string(line), "data: ")
		if !ok {
			continue
		}

		var env Envelope
		if err := json.Unmarshal([]byte(data), &env); err != nil {
			log.Error("failed to decode feed envelope", "error", err)
			continue
		}
		evt, err := Open(&env)
		if err != nil {
			log.Error("failed to open feed event", "error", err, "type", env.Type)
			continue
		}
		handler(evt)
	}
}
