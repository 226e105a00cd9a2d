package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dealmungchi/snipedeal/internal/model"
	"github.com/dealmungchi/snipedeal/logger"
	apperrors "github.com/dealmungchi/snipedeal/pkg/errors"
)

// ErrNotConfigured is reported when the bot token or chat id is missing
var ErrNotConfigured = apperrors.NewConfiguration("telegram bot token or chat id missing", nil)

// Outcome is the result of one delivery attempt
type Outcome struct {
	Delivered bool
	Reason    string
}

// Notifier delivers one alert per listing
type Notifier interface {
	Notify(ctx context.Context, listing model.Listing) Outcome
	Configured() bool
}

// Config configures the Telegram transport
type Config struct {
	APIURL string
	Token  string
	ChatID string
	// Delay is the minimum spacing between two sends
	Delay   time.Duration
	Timeout time.Duration
}

// Telegram sends alerts through the Bot API sendMessage method
type Telegram struct {
	cfg         Config
	client      *http.Client
	rateLimiter *rate.Limiter
	log         *logger.Logger
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// NewTelegram creates a Telegram notifier
func NewTelegram(cfg Config, log *logger.Logger) *Telegram {
	if cfg.APIURL == "" {
		cfg.APIURL = "https://api.telegram.org"
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.ForNotifier()
	}

	limit := rate.Inf
	if cfg.Delay > 0 {
		limit = rate.Every(cfg.Delay)
	}

	return &Telegram{
		cfg:         cfg,
		client:      &http.Client{Timeout: cfg.Timeout},
		rateLimiter: rate.NewLimiter(limit, 1),
		log:         log,
	}
}

// Configured reports whether credentials are present
func (t *Telegram) Configured() bool {
	return t.cfg.Token != "" && t.cfg.ChatID != ""
}

// Notify sends the alert. Only a 2xx answer counts as delivered.
func (t *Telegram) Notify(ctx context.Context, listing model.Listing) Outcome {
	if !t.Configured() {
		return Outcome{Reason: ErrNotConfigured.Error()}
	}
	if err := t.rateLimiter.Wait(ctx); err != nil {
		return Outcome{Reason: fmt.Sprintf("rate limiter: %v", err)}
	}

	err := t.send(ctx, FormatMessage(listing))
	if err != nil {
		t.log.Warn().
			Err(err).
			Str("external_id", listing.ExternalID).
			Msg("Notification failed")
		return Outcome{Reason: err.Error()}
	}

	t.log.Debug().Str("external_id", listing.ExternalID).Msg("Notification delivered")
	return Outcome{Delivered: true}
}

func (t *Telegram) send(ctx context.Context, text string) error {
	payload, err := json.Marshal(sendMessageRequest{
		ChatID:    t.cfg.ChatID,
		Text:      text,
		ParseMode: "Markdown",
	})
	if err != nil {
		return apperrors.NewNotification("notifier", "encode message", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.APIURL, t.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return apperrors.NewNotification("notifier", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// the token is part of the URL; keep it out of logs
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return apperrors.NewNotification("notifier", "send message", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return apperrors.NewNotification("notifier",
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))), nil)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// FormatMessage renders the Markdown alert text for a listing
func FormatMessage(l model.Listing) string {
	var b strings.Builder
	b.WriteString("🔔 *Nuovo annuncio!*\n\n")
	fmt.Fprintf(&b, "*%s*\n", escapeMarkdown(l.Title))
	fmt.Fprintf(&b, "💰 %s €\n", l.Price.String())
	fmt.Fprintf(&b, "📍 %s\n", escapeMarkdown(l.Location))
	fmt.Fprintf(&b, "🕓 %s\n\n", escapeMarkdown(l.Date))
	fmt.Fprintf(&b, "[Visualizza annuncio](%s)", l.URL)
	return b.String()
}

var markdownEscaper = strings.NewReplacer("_", `\_`, "*", `\*`, "`", "\\`", "[", `\[`)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
