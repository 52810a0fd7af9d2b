package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/md-rashed-zaman/storefront/services/scheduling-service/internal/model"
	"github.com/segmentio/kafka-go"
)

// StorefrontUpserted is the catalog topic that announces storefront
// registrations and settings changes.
const StorefrontUpserted = "catalog.storefront.upserted.v1"

type storefrontPayload struct {
	Slug                string `json:"slug"`
	MerchantID          string `json:"merchant_id"`
	SlotDurationMinutes int    `json:"slot_duration_minutes"`
	Timezone            string `json:"timezone"`
}

type StorefrontSyncer interface {
	SyncStorefront(ctx context.Context, sf model.Storefront) error
}

func StorefrontHandler(svc StorefrontSyncer) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var p storefrontPayload
		if err := json.Unmarshal(msg.Value, &p); err != nil {
			return fmt.Errorf("decode storefront event: %w", err)
		}
		return svc.SyncStorefront(ctx, model.Storefront{
			Slug:                p.Slug,
			MerchantID:          p.MerchantID,
			SlotDurationMinutes: p.SlotDurationMinutes,
			Timezone:            p.Timezone,
		})
	}
}
