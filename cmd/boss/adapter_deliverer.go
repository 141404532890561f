package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/basket/boss/internal/adapters"
	"github.com/basket/boss/internal/adapters/calendar"
	"github.com/basket/boss/internal/adapters/sheet"
	"github.com/basket/boss/internal/adapters/transport"
	"github.com/basket/boss/internal/adapters/webhooktarget"
	"github.com/basket/boss/internal/store"
)

// adapterDeliverer bridges the generic adapters.Adapter contract to the
// outbox package's narrower Deliverer contract, decoding each queued
// item's JSON payload into the concrete Operation its target adapter
// expects. One instance per target_adapter name.
type adapterDeliverer struct {
	adapter adapters.Adapter
	decode  func(payload []byte) (adapters.Operation, error)
}

func (d adapterDeliverer) Deliver(ctx context.Context, item store.OutboxItem) error {
	op, err := d.decode(item.Payload)
	if err != nil {
		return &adapters.AdapterError{Kind: adapters.KindPermanent, Err: err}
	}
	_, adapterErr := d.adapter.Execute(ctx, op)
	if adapterErr != nil {
		return adapterErr
	}
	return nil
}

// telegramDeliverer sends every outbox item destined for "telegram" to the
// boss's own chat. Per-assignee routing by role/channel (spec.md §4.8 step
// 5b) is left to TeamMember.secondary_channel_id once a multi-chat
// transport is configured; today every route collapses to the boss DM.
func telegramDeliverer(t *transport.Telegram, bossChatID int64) adapterDeliverer {
	return adapterDeliverer{
		adapter: adapters.WithCircuitBreaker(t),
		decode: func(payload []byte) (adapters.Operation, error) {
			var route struct {
				TaskID   string `json:"task_id"`
				Channel  string `json:"channel"`
				Title    string `json:"title"`
				Assignee string `json:"assignee"`
				Message  string `json:"message"`
				Job      string `json:"job"`
			}
			if err := json.Unmarshal(payload, &route); err != nil {
				return nil, err
			}

			text := route.Message
			if text == "" {
				text = fmt.Sprintf("%s assigned to %s", route.Title, route.Assignee)
			}
			return transport.SendOperation{ChatID: bossChatID, Text: text}, nil
		},
	}
}

func sheetDeliverer(s *sheet.Sheet) adapterDeliverer {
	return adapterDeliverer{
		adapter: adapters.WithCircuitBreaker(s),
		decode: func(payload []byte) (adapters.Operation, error) {
			var op sheet.UpsertRowOperation
			if err := json.Unmarshal(payload, &op); err != nil {
				return nil, err
			}
			return op, nil
		},
	}
}

func calendarDeliverer(c *calendar.Calendar) adapterDeliverer {
	return adapterDeliverer{
		adapter: adapters.WithCircuitBreaker(c),
		decode: func(payload []byte) (adapters.Operation, error) {
			var op calendar.CreateEventOperation
			if err := json.Unmarshal(payload, &op); err != nil {
				return nil, err
			}
			return op, nil
		},
	}
}

func webhookTargetDeliverer(target *webhooktarget.Target, url, secret string) adapterDeliverer {
	return adapterDeliverer{
		adapter: adapters.WithCircuitBreaker(target),
		decode: func(payload []byte) (adapters.Operation, error) {
			return webhooktarget.SendOperation{URL: url, Secret: secret, Body: payload}, nil
		},
	}
}
