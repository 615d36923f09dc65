// Package telegram checks bot tokens against the Telegram Bot API before they
// are written into a gateway configuration.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const defaultTimeout = 10 * time.Second

var tokenPattern = regexp.MustCompile(`^[0-9]+:[A-Za-z0-9_-]+$`)

// ErrMalformedToken is returned for tokens that cannot be a bot token.
var ErrMalformedToken = errors.New("telegram bot token must look like <bot id>:<secret>")

// Options tunes ValidateToken. The zero value talks to api.telegram.org.
type Options struct {
	// Endpoint is a tgbotapi endpoint format with two %s verbs for the
	// token and the method name.
	Endpoint   string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Bot describes the account a token belongs to.
type Bot struct {
	ID        int64
	Username  string
	FirstName string
}

// ValidateToken calls getMe with token and returns the bot it belongs to.
// The token never appears in returned errors.
func ValidateToken(ctx context.Context, token string, opts Options) (Bot, error) {
	token = strings.TrimSpace(token)
	if !tokenPattern.MatchString(token) {
		return Bot{}, ErrMalformedToken
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	bot, err := tgbotapi.NewBotAPIWithClient(token, endpoint, contextClient{ctx: ctx, client: client})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Bot{}, fmt.Errorf("telegram getMe: %w", ctxErr)
		}
		return Bot{}, fmt.Errorf("telegram getMe: %s", scrub(err.Error(), token))
	}
	return Bot{ID: bot.Self.ID, Username: bot.Self.UserName, FirstName: bot.Self.FirstName}, nil
}

// contextClient binds outgoing requests to ctx, since tgbotapi builds its
// requests without one.
type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

func scrub(msg, token string) string {
	return strings.ReplaceAll(msg, token, "[REDACTED]")
}
