package alerts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const defaultTelegramAPI = "https://api.telegram.org"

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken string
	ChatID   string
	// Cooldown suppresses repeats of the same alert for the same client.
	Cooldown time.Duration
	// APIBase overrides the Bot API host.
	APIBase string
}

// Validate validates the Telegram bot configuration
func (c TelegramConfig) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("telegram bot token is required")
	}
	if c.ChatID == "" {
		return fmt.Errorf("telegram chat ID is required")
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("telegram cooldown cannot be negative")
	}
	return nil
}

// telegramResponse represents the response from Telegram API
type telegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// TelegramSink sends alert events as chat messages through the Bot API.
type TelegramSink struct {
	cfg        TelegramConfig
	httpClient *http.Client
	now        func() time.Time

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// NewTelegramSink creates a sink. A zero cooldown defaults to 30 seconds.
func NewTelegramSink(cfg TelegramConfig) (*TelegramSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Cooldown == 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.APIBase == "" {
		cfg.APIBase = defaultTelegramAPI
	}
	return &TelegramSink{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		now:        time.Now,
		lastSent:   make(map[string]time.Time),
	}, nil
}

// Name implements Sink.
func (t *TelegramSink) Name() string { return "telegram" }

// Send implements Sink. Events inside the cooldown of the same client and
// alert are dropped without error.
func (t *TelegramSink) Send(ctx context.Context, ev Event) error {
	key := ev.ClientID + "/" + ev.Alert
	if !t.reserve(key) {
		return nil
	}

	payload := map[string]interface{}{
		"chat_id":    t.cfg.ChatID,
		"text":       formatAlert(ev),
		"parse_mode": "HTML",
	}
	if err := t.sendTelegramRequest(ctx, "sendMessage", payload); err != nil {
		t.release(key)
		return err
	}
	return nil
}

// reserve claims the cooldown slot of key.
func (t *TelegramSink) reserve(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	if last, ok := t.lastSent[key]; ok && now.Sub(last) < t.cfg.Cooldown {
		return false
	}
	t.lastSent[key] = now
	return true
}

func (t *TelegramSink) release(key string) {
	t.mu.Lock()
	delete(t.lastSent, key)
	t.mu.Unlock()
}

var alertTitles = map[string]string{
	"face_missing": "Driver not visible",
	"eye_closed":   "Eyes closed",
	"perclos":      "Drowsiness (PERCLOS)",
	"yawn":         "Yawning",
	"yawn_rate":    "Frequent yawning",
	"head_pose":    "Head turned away",
	"gaze":         "Eyes off the road",
	"phone_usage":  "Phone in use",
}

func formatAlert(ev Event) string {
	title, ok := alertTitles[ev.Alert]
	if !ok {
		title = ev.Alert
	}
	at := time.Unix(0, int64(ev.Timestamp*1e9)).UTC().Format("15:04:05")

	var b strings.Builder
	fmt.Fprintf(&b, "🚨 <b>%s</b>\n", html.EscapeString(title))
	fmt.Fprintf(&b, "Driver: <code>%s</code>\n", html.EscapeString(ev.ClientID))
	fmt.Fprintf(&b, "Frame %d at %s UTC", ev.Frame, at)
	if ec := ev.Metrics.EyeClosure; ec != nil && ev.Alert == "perclos" {
		fmt.Fprintf(&b, "\nPERCLOS: %.0f%%", ec.PERCLOS*100)
	}
	return b.String()
}

func (t *TelegramSink) sendTelegramRequest(ctx context.Context, method string, payload map[string]interface{}) error {
	url := fmt.Sprintf("%s/bot%s/%s", t.cfg.APIBase, t.cfg.BotToken, method)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return handleResponse(resp)
}

// handleResponse processes the Telegram API response
func handleResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp telegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !telegramResp.OK {
		return fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}
	return nil
}
