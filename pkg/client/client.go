package client

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"time"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/cellsim/cellsim/pkg/events"
)

// Client is a struct for communicating with the cellsim server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient is a constructor for creating a new Client. addr is a host:port
// pair or a full http URL.
func NewClient(addr string) *Client {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return &Client{
		baseURL:    strings.TrimSuffix(addr, "/"),
		httpClient: &http.Client{},
	}
}

// Send is a method for sending a request to the cellsim server
func (c *Client) Send(method string, path string, data string) (string, error) {
	logrus.WithFields(logrus.Fields{
		"method": method,
		"path":   path,
		"data":   data,
		"server": c.baseURL,
	}).Debug("sending request")

	req, err := http.NewRequest(method, c.baseURL+path, strings.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	if data != "" {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if pkgerrors.Is(err, syscall.ECONNREFUSED) {
			return "", ErrServerNotRunning
		}
		return "", fmt.Errorf("failed to send request: %w", err)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			logrus.Errorf("failed to close response body: %v", err)
		}
	}()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	body := string(b)

	if resp.StatusCode == http.StatusNotFound {
		return "", ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("got %d: %s", resp.StatusCode, body)
	}

	return body, nil
}

// Get is a method for sending a GET request to the cellsim server
func (c *Client) Get(path string) (string, error) {
	return c.Send(http.MethodGet, path, "")
}

// Post is a method for sending a POST request to the cellsim server
func (c *Client) Post(path string, data string) (string, error) {
	return c.Send(http.MethodPost, path, data)
}

// Put is a method for sending a PUT request to the cellsim server
func (c *Client) Put(path string, data string) (string, error) {
	return c.Send(http.MethodPut, path, data)
}

// Delete is a method for sending a DELETE request to the cellsim server
func (c *Client) Delete(path string) (string, error) {
	return c.Send(http.MethodDelete, path, "")
}

// SubscribeEvents opens the SSE stream and delivers events on the returned
// channel until the context is canceled or the connection drops.
func (c *Client) SubscribeEvents(ctx context.Context) chan events.Event {
	ch := make(chan events.Event, 16)

	go func() {
		defer close(ch)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
		if err != nil {
			logrus.WithError(err).Error("failed to create event request")
			return
		}
		req.Header.Set("Accept", "text/event-stream")

		// No client timeout: the stream stays open indefinitely.
		resp, err := (&http.Client{Timeout: 0}).Do(req)
		if err != nil {
			logrus.WithError(err).Debug("event stream unavailable")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			logrus.Errorf("event stream returned %d", resp.StatusCode)
			return
		}

		var name string
		var data strings.Builder
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				data.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			case line == "":
				if name == "" && data.Len() == 0 {
					continue
				}
				ev := events.Event{Name: name, Data: []byte(data.String())}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
				name = ""
				data.Reset()
			}
		}
	}()

	return ch
}

// WaitForServer polls /version until the server answers or the timeout
// elapses.
func (c *Client) WaitForServer(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := c.Get("/version"); err == nil {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return ErrServerNotRunning
}
