// Package telegram implements the chat transport on top of the Telegram Bot API:
// polling for the next inbound message, sending text and media, and downloading
// attached files.
package telegram

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
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/conorfennell/knolbot/internal/domain"
	"github.com/google/uuid"
)

// ClientConfig contains configuration for the Telegram client.
type ClientConfig struct {
	// Token is the Telegram Bot API token
	Token string

	// BaseURL is the Telegram Bot API base URL (default: https://api.telegram.org)
	BaseURL string

	// Timeout bounds every HTTP request
	Timeout time.Duration

	// RetryAttempts is the number of retries for transient failures
	RetryAttempts int

	// RetryDelay is the initial delay between retries; it doubles on each retry
	RetryDelay time.Duration

	// DownloadDir receives downloaded files
	DownloadDir string

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(token string) ClientConfig {
	return ClientConfig{
		Token:         token,
		BaseURL:       "https://api.telegram.org",
		Timeout:       10 * time.Second,
		RetryAttempts: 3,
		RetryDelay:    1 * time.Second,
		DownloadDir:   "download",
	}
}

// Client is the Telegram Bot API client.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger

	// offset is the next update id to request; older updates are acknowledged.
	offset int64
}

// NewClient creates a new Telegram client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.telegram.org"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger,
	}
}

// GetUpdates fetches updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, limit int) ([]Update, error) {
	body := map[string]interface{}{
		"offset":          offset,
		"limit":           limit,
		"allowed_updates": []string{"message"},
	}

	var updates []Update
	if err := c.callAPI(ctx, "getUpdates", body, &updates); err != nil {
		return nil, fmt.Errorf("get updates: %w", err)
	}
	return updates, nil
}

// NextEvent returns the newest unseen inbound message after since, or nil when
// there is none. Older unseen updates are skipped and acknowledged.
func (c *Client) NextEvent(ctx context.Context, since int64) (*domain.Event, error) {
	offset := c.offset
	if since+1 > offset {
		offset = since + 1
	}

	updates, err := c.GetUpdates(ctx, offset, 100)
	if err != nil {
		return nil, err
	}

	var newest *domain.Event
	for _, update := range updates {
		if update.UpdateID >= c.offset {
			c.offset = update.UpdateID + 1
		}
		if ev, ok := toEvent(update); ok {
			newest = &ev
		}
	}
	if skipped := len(updates) - 1; newest != nil && skipped > 0 {
		c.logger.Debug("skipped older updates", "count", skipped)
	}
	return newest, nil
}

// toEvent decodes an update into the domain event it carries. The message kind
// is decided here once.
func toEvent(update Update) (domain.Event, bool) {
	msg := update.Message
	if msg == nil || msg.Chat == nil {
		return domain.Event{}, false
	}

	ev := domain.Event{
		UpdateID:     update.UpdateID,
		Conversation: domain.ConversationID(msg.Chat.ID),
	}
	switch {
	case len(msg.Photo) > 0:
		// Sizes are ordered smallest first.
		largest := msg.Photo[len(msg.Photo)-1]
		ev.Message = domain.Message{Kind: domain.MessagePhoto, FileRef: largest.FileID, Caption: msg.Caption}
	case msg.Audio != nil:
		ev.Message = domain.Message{Kind: domain.MessageAudio, FileRef: msg.Audio.FileID, FileName: msg.Audio.FileName, Caption: msg.Caption}
	case msg.Video != nil:
		ev.Message = domain.Message{Kind: domain.MessageVideo, FileRef: msg.Video.FileID, FileName: msg.Video.FileName, Caption: msg.Caption}
	case msg.Document != nil:
		ev.Message = domain.Message{Kind: domain.MessageDocument, FileRef: msg.Document.FileID, FileName: msg.Document.FileName, Caption: msg.Caption}
	case msg.Text != "":
		ev.Message = domain.Message{Kind: domain.MessageText, Text: msg.Text}
	default:
		return domain.Event{}, false
	}
	return ev, true
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, conv domain.ConversationID, text string) error {
	body := map[string]interface{}{
		"chat_id": int64(conv),
		"text":    text,
	}

	var message Message
	if err := c.callAPI(ctx, "sendMessage", body, &message); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

var mediaMethods = map[domain.Kind]struct{ method, field string }{
	domain.KindPhoto: {"sendPhoto", "photo"},
	domain.KindAudio: {"sendAudio", "audio"},
	domain.KindVideo: {"sendVideo", "video"},
}

// SendMedia sends a previously uploaded file by its file id.
func (c *Client) SendMedia(ctx context.Context, conv domain.ConversationID, kind domain.Kind, ref, caption string) error {
	m, ok := mediaMethods[kind]
	if !ok {
		return fmt.Errorf("send media: unsupported kind %s", kind)
	}

	body := map[string]interface{}{
		"chat_id": int64(conv),
		m.field:   ref,
	}
	if caption != "" {
		body["caption"] = caption
	}

	var message Message
	if err := c.callAPI(ctx, m.method, body, &message); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}
	return nil
}

// Download fetches the file behind a file id into DownloadDir and returns the local path.
func (c *Client) Download(ctx context.Context, fileID string) (string, error) {
	var file File
	if err := c.callAPI(ctx, "getFile", map[string]interface{}{"file_id": fileID}, &file); err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}
	if file.FilePath == "" {
		return "", fmt.Errorf("get file %s: empty file path", fileID)
	}

	url := fmt.Sprintf("%s/file/bot%s/%s", c.config.BaseURL, c.config.Token, file.FilePath)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Code: resp.StatusCode, Description: "file download failed"}
	}

	if err := os.MkdirAll(c.config.DownloadDir, 0o755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}
	localPath := filepath.Join(c.config.DownloadDir, uuid.NewString()+path.Ext(file.FilePath))
	out, err := os.Create(localPath)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		return "", fmt.Errorf("write file: %w", err)
	}
	if err := out.Close(); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	c.logger.Debug("downloaded file", "file_id", fileID, "path", localPath)
	return localPath, nil
}

// callAPI makes a call to the Telegram Bot API with retries.
func (c *Client) callAPI(ctx context.Context, method string, body map[string]interface{}, result interface{}) error {
	var lastErr error

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			delay := c.config.RetryDelay * time.Duration(1<<uint(attempt-1))

			var apiErr *APIError
			if errors.As(lastErr, &apiErr) && apiErr.RetryAfter > 0 {
				delay = time.Duration(apiErr.RetryAfter) * time.Second
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err := c.doAPICall(ctx, method, body, result)
		if err == nil {
			return nil
		}
		lastErr = err

		if !isRetryableError(err) {
			return err
		}
		c.logger.Warn("telegram api call failed, retrying",
			"method", method,
			"attempt", attempt+1,
			"error", err,
		)
	}

	return fmt.Errorf("api call failed after %d retries: %w", c.config.RetryAttempts, lastErr)
}

// doAPICall performs a single API call.
func (c *Client) doAPICall(ctx context.Context, method string, body map[string]interface{}, result interface{}) error {
	url := fmt.Sprintf("%s/bot%s/%s", c.config.BaseURL, c.config.Token, method)

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 500 {
			return &APIError{Code: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("unmarshal response: %w", err)
	}

	if !apiResp.OK {
		apiErr := &APIError{
			Code:        apiResp.ErrorCode,
			Description: apiResp.Description,
		}
		if apiResp.Parameters != nil {
			apiErr.RetryAfter = apiResp.Parameters.RetryAfter
		}
		return apiErr
	}

	if result != nil && len(apiResp.Result) > 0 {
		if err := json.Unmarshal(apiResp.Result, result); err != nil {
			return fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return nil
}

// APIError represents a Telegram API error.
type APIError struct {
	Code        int
	Description string
	RetryAfter  int
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// isRetryableError reports whether err is a transient failure: rate limiting,
// server errors, or network trouble.
func isRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	errStr := err.Error()
	for _, s := range []string{"timeout", "connection refused", "temporary", "reset"} {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}
