// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file installs the demo customer data set: the
// administrative seeding path that is, besides the action executor, the only
// writer of customer records.
package repo

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
)

// SeedCustomers installs one demo customer per service tier when the
// customers table is empty. It is a no-op on an already-populated database,
// so repeated boots never duplicate rows.
func SeedCustomers(ctx context.Context, db *gorm.DB) error {
	total, err := CountCustomers(ctx, db)
	if err != nil {
		return err
	}
	if total > 0 {
		return nil
	}

	vol := 40
	song := "Midnight City"
	seed := []domain.Customer{
		{
			ID:          uuid.NewString(),
			Name:        "Ava Brooks",
			ServiceTier: domain.TierBasic,
			Devices: []domain.Device{
				{ID: uuid.NewString(), Type: "speaker", Location: "living room", PowerState: domain.PowerOff},
			},
		},
		{
			ID:          uuid.NewString(),
			Name:        "Liam Carter",
			ServiceTier: domain.TierPremium,
			Devices: []domain.Device{
				{ID: uuid.NewString(), Type: "speaker", Location: "kitchen", PowerState: domain.PowerOn, Volume: &vol},
			},
		},
		{
			ID:          uuid.NewString(),
			Name:        "Noah Patel",
			ServiceTier: domain.TierEnterprise,
			Devices: []domain.Device{
				{
					ID:          uuid.NewString(),
					Type:        "speaker",
					Location:    "office",
					PowerState:  domain.PowerOn,
					Volume:      &vol,
					CurrentSong: &song,
					Playlist:    []string{"Midnight City", "Weightless", "Nightcall"},
				},
			},
		},
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range seed {
			if err := tx.Create(&seed[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}
