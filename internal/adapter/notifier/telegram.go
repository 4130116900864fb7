package notifier

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/multierr"

	"github.com/semmidev/dbvault/internal/config"
)

// Tag prefixes every outgoing message.
const Tag = "[dbvault]"

type Logger interface {
	Debugf(template string, args ...interface{})
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Telegram struct {
	token     string
	chatIDs   []string
	endpoint  string
	timeout   time.Duration
	client    *http.Client
	logger    Logger
	newSender func(ctx context.Context) sender
}

func NewTelegram(cfg config.TelegramConfig, timeout time.Duration, logger Logger) *Telegram {
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	t := &Telegram{
		token:    cfg.BotToken,
		chatIDs:  append([]string(nil), cfg.ChatIDs...),
		endpoint: endpoint,
		timeout:  timeout,
		client:   &http.Client{},
		logger:   logger,
	}
	t.newSender = t.bot
	return t
}

// Notify sends message to every configured chat. A failing chat never
// stops delivery to the rest, and no error reaches the caller.
func (t *Telegram) Notify(ctx context.Context, message string) {
	if t.token == "" {
		t.logger.Debugf("Telegram notifications disabled (no bot token), not sending: %s", message)
		return
	}
	if len(t.chatIDs) == 0 {
		t.logger.Warnf("Telegram bot token set but no chat IDs configured, not sending: %s", message)
		return
	}

	text := Tag + " " + message

	var errs error
	for _, chatID := range t.chatIDs {
		if err := t.sendTo(ctx, chatID, text); err != nil {
			t.logger.Errorf("Failed to send Telegram notification to %s: %v", chatID, err)
			errs = multierr.Append(errs, fmt.Errorf("chat %s: %w", chatID, err))
		}
	}

	if errs != nil {
		failed := len(multierr.Errors(errs))
		t.logger.Warnf("Telegram notification delivered to %d/%d chat(s): %v",
			len(t.chatIDs)-failed, len(t.chatIDs), errs)
	}
}

func (t *Telegram) sendTo(ctx context.Context, chatID, text string) (err error) {
	// A panicking client must not take the cycle down with it.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("telegram send panicked: %v", r)
		}
	}()

	msg, err := newMessage(chatID, text)
	if err != nil {
		return err
	}

	sendCtx, cancel := notificationContext(ctx, t.timeout)
	defer cancel()

	if _, err := t.newSender(sendCtx).Send(msg); err != nil {
		return fmt.Errorf("failed to send telegram notification: %w", err)
	}
	return nil
}

func newMessage(chatID, text string) (tgbotapi.MessageConfig, error) {
	if id, err := strconv.ParseInt(chatID, 10, 64); err == nil {
		msg := tgbotapi.NewMessage(id, text)
		msg.DisableWebPagePreview = true
		return msg, nil
	}
	if strings.HasPrefix(chatID, "@") {
		msg := tgbotapi.NewMessageToChannel(chatID, text)
		msg.DisableWebPagePreview = true
		return msg, nil
	}
	return tgbotapi.MessageConfig{}, fmt.Errorf("invalid chat id %q", chatID)
}

// bot builds a client bound to ctx. It skips the getMe round trip that
// tgbotapi.NewBotAPI performs, so a bad token only fails the sends.
func (t *Telegram) bot(ctx context.Context) sender {
	bot := &tgbotapi.BotAPI{
		Token:  t.token,
		Client: &contextClient{ctx: ctx, client: t.client},
		Buffer: 100,
	}
	bot.SetAPIEndpoint(t.endpoint)
	return bot
}

// notificationContext keeps request-scoped values but ignores parent
// cancellation, so failure reports still go out during shutdown.
func notificationContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c *contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}
