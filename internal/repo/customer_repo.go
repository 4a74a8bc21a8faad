// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Customer
// store: identity/tier lookup and device-state writes.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions or connection-scoped operations. They
// follow the "thin repository" approach: no business logic, only CRUD
// persistence and query composition.
//
// Error semantics:
//   - When a customer or device is not found, functions return
//     gorm.ErrRecordNotFound (also exported here as ErrNotFound).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetCustomer fetches a customer by ID with devices preloaded in position
// order. The read goes straight to the primary handle, so the processor sees
// current tier and device state, not a cached snapshot. Returns ErrNotFound
// when the customer does not exist.
func GetCustomer(ctx context.Context, db *gorm.DB, id string) (*domain.Customer, error) {
	var c domain.Customer
	err := db.WithContext(ctx).
		Preload("Devices", func(q *gorm.DB) *gorm.DB {
			return q.Order("position ASC, created_at ASC")
		}).
		Where("id = ?", id).
		First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// UpdateDeviceState applies a partial update to one device owned by
// customerID. The changes map uses column names ("power_state", "volume",
// "current_song"). If no row matches (device missing, not owned, or removed
// since it was read), it returns ErrNotFound so the caller can report a stale
// write instead of silently succeeding.
func UpdateDeviceState(ctx context.Context, db *gorm.DB, customerID, deviceID string, changes map[string]any) error {
	if len(changes) == 0 {
		return nil
	}
	res := db.WithContext(ctx).
		Model(&domain.Device{}).
		Where("id = ? AND customer_id = ?", deviceID, customerID).
		Updates(changes)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// CountCustomers returns the total number of customer rows. Used by seeding
// to decide whether the demo data set should be installed.
func CountCustomers(ctx context.Context, db *gorm.DB) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Model(&domain.Customer{}).Count(&total).Error
	return total, err
}
