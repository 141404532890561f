package webhook

import (
	"strconv"

	"github.com/basket/boss/internal/adapters/transport"
	"github.com/basket/boss/internal/dispatch"
)

// TelegramDecoder adapts transport.DecodeWebhookUpdate to the
// TransportDecoder shape the router expects, so cmd/boss can register it
// for the "telegram" path without this package importing tgbotapi itself.
func TelegramDecoder(body []byte) (dispatch.Inbound, error) {
	msg, err := transport.DecodeWebhookUpdate(body)
	if err != nil {
		return dispatch.Inbound{}, err
	}
	text := msg.Text
	if text == "" {
		text = msg.CallbackData
	}
	return dispatch.Inbound{
		UserID:            strconv.FormatInt(msg.UserID, 10),
		Text:              text,
		TransportUpdateID: msg.TransportUpdateID,
	}, nil
}
