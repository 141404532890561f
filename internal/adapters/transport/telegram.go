// Package transport implements the chat transport adapter. It owns the
// long-poll connection to Telegram, translates inbound updates into
// transport-neutral InboundMessage values for the dispatcher, and sends
// outbound replies through the shared adapters.Adapter contract so the
// outbox queue can treat it like any other delivery target.
package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/basket/boss/internal/adapters"
)

// InboundMessage is the transport-neutral shape handed to the dispatcher
// (internal/dispatch) for every text message or button press received.
type InboundMessage struct {
	TransportUpdateID string
	ChatID            int64
	UserID            int64
	UserName          string
	Text              string
	CallbackData      string // non-empty for inline-keyboard button presses
}

// Handler processes one inbound message. A non-nil error is logged but
// never aborts the poll loop; transient handler failures must not take
// down the long-poll connection.
type Handler func(ctx context.Context, msg InboundMessage) error

// SendOperation is the adapters.Operation this adapter understands.
type SendOperation struct {
	ChatID    int64
	Text      string
	Keyboard  *tgbotapi.InlineKeyboardMarkup
	EditMsgID int // when non-zero, edits this message instead of sending a new one
}

// SendResult is returned from Execute on success.
type SendResult struct {
	MessageID int
}

// Telegram is the chat transport adapter. One instance owns one bot
// token and one long-poll connection; allowed users are enforced at the
// dispatch layer, not here, since authorization policy can vary by
// deployment.
type Telegram struct {
	bot *tgbotapi.BotAPI

	mu       sync.Mutex
	cancelFn context.CancelFunc
}

func New(token string) (*Telegram, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("transport: telegram init: %w", err)
	}
	return &Telegram{bot: bot}, nil
}

func (t *Telegram) Name() string { return "telegram" }

// BotUserName reports the bot's own username, useful for startup logging.
func (t *Telegram) BotUserName() string { return t.bot.Self.UserName }

// Listen runs the long-poll reconnect loop until ctx is cancelled,
// invoking handler for every message and callback query received from an
// allowed chat. It blocks; callers run it in its own goroutine.
func (t *Telegram) Listen(ctx context.Context, handler Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancelFn = cancel
	t.mu.Unlock()
	defer cancel()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 30 * time.Second

	for {
		if ctx.Err() != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates, handler)
		t.bot.StopReceivingUpdates()

		if pollErr == nil {
			return nil
		}

		wait := b.NextBackOff()
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Stop cancels an in-flight Listen call.
func (t *Telegram) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancelFn != nil {
		t.cancelFn()
	}
}

// pollUpdates reads until ctx is done, the update channel closes, or no
// update arrives for 2.5x the long-poll timeout, at which point it
// returns an error so Listen reconnects.
func (t *Telegram) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel, handler Handler) error {
	const stallTimeout = 150 * time.Second
	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("transport: telegram update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			msg, ok := toInbound(update)
			if !ok {
				continue
			}
			if err := handler(ctx, msg); err != nil {
				continue
			}
		case <-timer.C:
			return fmt.Errorf("transport: no updates for %v, assuming disconnect", stallTimeout)
		}
	}
}

func toInbound(update tgbotapi.Update) (InboundMessage, bool) {
	switch {
	case update.Message != nil:
		return InboundMessage{
			TransportUpdateID: fmt.Sprintf("tg-%d", update.UpdateID),
			ChatID:            update.Message.Chat.ID,
			UserID:            update.Message.From.ID,
			UserName:          update.Message.From.UserName,
			Text:              strings.TrimSpace(update.Message.Text),
		}, true
	case update.CallbackQuery != nil:
		return InboundMessage{
			TransportUpdateID: fmt.Sprintf("tg-%d", update.UpdateID),
			ChatID:            update.CallbackQuery.Message.Chat.ID,
			UserID:            update.CallbackQuery.From.ID,
			UserName:          update.CallbackQuery.From.UserName,
			CallbackData:      update.CallbackQuery.Data,
		}, true
	default:
		return InboundMessage{}, false
	}
}

// Execute sends or edits a message. It implements adapters.Adapter so the
// outbox queue can deliver replies through the same retry/circuit-breaker
// path as every other external collaborator.
func (t *Telegram) Execute(ctx context.Context, op adapters.Operation) (adapters.Result, *adapters.AdapterError) {
	send, ok := op.(SendOperation)
	if !ok {
		return nil, &adapters.AdapterError{Kind: adapters.KindPermanent, Err: fmt.Errorf("transport: unsupported operation %T", op)}
	}

	if send.EditMsgID != 0 {
		edit := tgbotapi.NewEditMessageText(send.ChatID, send.EditMsgID, escapeMarkdownV2(send.Text))
		edit.ParseMode = tgbotapi.ModeMarkdownV2
		if _, err := t.bot.Send(edit); err != nil {
			return nil, classifySendErr(err)
		}
		return SendResult{MessageID: send.EditMsgID}, nil
	}

	msg := tgbotapi.NewMessage(send.ChatID, escapeMarkdownV2(send.Text))
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	if send.Keyboard != nil {
		msg.ReplyMarkup = send.Keyboard
	}
	sent, err := t.bot.Send(msg)
	if err != nil {
		return nil, classifySendErr(err)
	}
	return SendResult{MessageID: sent.MessageID}, nil
}

func classifySendErr(err error) *adapters.AdapterError {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "retry after"):
		return &adapters.AdapterError{Kind: adapters.KindRateLimited, RetryAfter: 5 * time.Second, Err: err}
	case strings.Contains(msg, "Unauthorized") || strings.Contains(msg, "forbidden"):
		return &adapters.AdapterError{Kind: adapters.KindUnauthorized, Err: err}
	case strings.Contains(msg, "chat not found") || strings.Contains(msg, "bot was blocked"):
		return &adapters.AdapterError{Kind: adapters.KindPermanent, Err: err}
	default:
		return &adapters.AdapterError{Kind: adapters.KindTransient, Err: err}
	}
}

// escapeMarkdownV2 escapes the characters Telegram's MarkdownV2 parse mode
// treats as special, outside of fenced code blocks.
func escapeMarkdownV2(s string) string {
	special := "_*[]()~`>#+-=|{}.!"
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
