package transport

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// rawUpdate mirrors the subset of the Telegram Bot API Update JSON shape
// this adapter understands: a plain text message or an inline-keyboard
// callback query. Unlike the long-poll path (which gets a parsed
// tgbotapi.Update from the bot library), a webhook delivery arrives as raw
// bytes, so decoding here is independent of tgbotapi's types.
type rawUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64  `json:"message_id"`
		Text      string `json:"text"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		From struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"from"`
	} `json:"message"`
	CallbackQuery *struct {
		ID   string `json:"id"`
		Data string `json:"data"`
		From struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"from"`
		Message struct {
			Chat struct {
				ID int64 `json:"id"`
			} `json:"chat"`
		} `json:"message"`
	} `json:"callback_query"`
}

// DecodeWebhookUpdate parses a raw Telegram webhook delivery body into the
// same transport-neutral InboundMessage the long-poll path produces, so
// the dispatcher never distinguishes delivery mode.
func DecodeWebhookUpdate(body []byte) (InboundMessage, error) {
	var u rawUpdate
	if err := json.Unmarshal(body, &u); err != nil {
		return InboundMessage{}, fmt.Errorf("transport: decode webhook update: %w", err)
	}

	switch {
	case u.Message != nil:
		return InboundMessage{
			TransportUpdateID: strconv.FormatInt(u.UpdateID, 10),
			ChatID:            u.Message.Chat.ID,
			UserID:            u.Message.From.ID,
			UserName:          u.Message.From.Username,
			Text:              u.Message.Text,
		}, nil
	case u.CallbackQuery != nil:
		return InboundMessage{
			TransportUpdateID: strconv.FormatInt(u.UpdateID, 10),
			ChatID:            u.CallbackQuery.Message.Chat.ID,
			UserID:            u.CallbackQuery.From.ID,
			UserName:          u.CallbackQuery.From.Username,
			CallbackData:      u.CallbackQuery.Data,
		}, nil
	default:
		return InboundMessage{}, fmt.Errorf("transport: webhook update has neither message nor callback_query")
	}
}
