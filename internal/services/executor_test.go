package services

import (
	"context"
	"errors"
	"fmt"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/permissions"
	"github.com/tbourn/go-support-backend/internal/repo"
)

func newServiceDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

// newCustomer persists a customer with a single device for the tier. The
// device carries the capability fields the tier allows.
func newCustomer(t *testing.T, db *gorm.DB, tier string) *domain.Customer {
	t.Helper()

	dev := domain.Device{
		ID:         uuid.NewString(),
		Type:       "speaker",
		Location:   "living room",
		PowerState: domain.PowerOff,
	}
	if tier == domain.TierPremium || tier == domain.TierEnterprise {
		vol := 50
		dev.Volume = &vol
	}
	if tier == domain.TierEnterprise {
		song := "Weightless"
		dev.CurrentSong = &song
		dev.Playlist = []string{"Midnight City", "Weightless", "Nightcall"}
	}

	c := &domain.Customer{
		ID:          uuid.NewString(),
		Name:        "Jordan",
		ServiceTier: tier,
		Devices:     []domain.Device{dev},
	}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("create customer: %v", err)
	}
	return c
}

func mustPolicy(t *testing.T, tier string) permissions.Policy {
	t.Helper()
	p, err := permissions.PolicyFor(permissions.Tier(tier))
	if err != nil {
		t.Fatalf("policy for %s: %v", tier, err)
	}
	return p
}

func reloadDevice(t *testing.T, db *gorm.DB, customerID string) domain.Device {
	t.Helper()
	c, err := repo.GetCustomer(context.Background(), db, customerID)
	if err != nil {
		t.Fatalf("reload customer: %v", err)
	}
	if len(c.Devices) != 1 {
		t.Fatalf("devices = %d", len(c.Devices))
	}
	return c.Devices[0]
}

func TestExecute_StatusIsReadOnly(t *testing.T) {
	db := newServiceDB(t)
	c := newCustomer(t, db, domain.TierBasic)
	ax := &ActionExecutor{DB: db}

	report, err := ax.Execute(context.Background(), c, mustPolicy(t, domain.TierBasic), permissions.ActionDeviceStatus, ExtractedContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !report.Executed || report.NoOp {
		t.Fatalf("report = %+v", report)
	}
	if report.Device == nil || report.Device.PowerState != domain.PowerOff {
		t.Fatalf("device snapshot = %+v", report.Device)
	}
}

func TestExecute_PowerSetPersists(t *testing.T) {
	db := newServiceDB(t)
	c := newCustomer(t, db, domain.TierBasic)
	ax := &ActionExecutor{DB: db}

	report, err := ax.Execute(context.Background(), c, mustPolicy(t, domain.TierBasic), permissions.ActionDevicePower, ExtractedContext{PowerState: domain.PowerOn})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !report.Executed || report.Device.PowerState != domain.PowerOn {
		t.Fatalf("report = %+v", report)
	}
	if got := reloadDevice(t, db, c.ID); got.PowerState != domain.PowerOn {
		t.Fatalf("persisted power = %s", got.PowerState)
	}
}

func TestExecute_PowerWithoutStateIsNoOp(t *testing.T) {
	db := newServiceDB(t)
	c := newCustomer(t, db, domain.TierBasic)
	ax := &ActionExecutor{DB: db}

	report, err := ax.Execute(context.Background(), c, mustPolicy(t, domain.TierBasic), permissions.ActionDevicePower, ExtractedContext{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !report.NoOp || report.Reason != ReasonNoChange {
		t.Fatalf("report = %+v", report)
	}
	if got := reloadDevice(t, db, c.ID); got.PowerState != domain.PowerOff {
		t.Fatalf("no-op mutated device: %s", got.PowerState)
	}
}

func TestExecute_VolumeSetUpDownClamped(t *testing.T) {
	cases := []struct {
		direction string
		amount    int
		want      int
	}{
		{DirectionSet, 70, 70},
		{DirectionUp, 30, 80},   // 50 + 30
		{DirectionUp, 80, 100},  // clamps high
		{DirectionDown, 20, 30}, // 50 - 20
		{DirectionDown, 90, 0},  // clamps low
	}
	for _, tc := range cases {
		db := newServiceDB(t)
		c := newCustomer(t, db, domain.TierPremium)
		ax := &ActionExecutor{DB: db}

		amt := tc.amount
		report, err := ax.Execute(context.Background(), c, mustPolicy(t, domain.TierPremium), permissions.ActionVolumeControl, ExtractedContext{Direction: tc.direction, Amount: &amt})
		if err != nil {
			t.Fatalf("%s %d: %v", tc.direction, tc.amount, err)
		}
		if report.Device.Volume == nil || *report.Device.Volume != tc.want {
			t.Fatalf("%s %d: volume = %v, want %d", tc.direction, tc.amount, report.Device.Volume, tc.want)
		}
		if got := reloadDevice(t, db, c.ID); got.Volume == nil || *got.Volume != tc.want {
			t.Fatalf("%s %d: persisted volume = %v", tc.direction, tc.amount, got.Volume)
		}
	}
}

func TestExecute_VolumeWithoutAmountIsNoOp(t *testing.T) {
	db := newServiceDB(t)
	c := newCustomer(t, db, domain.TierPremium)
	ax := &ActionExecutor{DB: db}

	report, err := ax.Execute(context.Background(), c, mustPolicy(t, domain.TierPremium), permissions.ActionVolumeControl, ExtractedContext{Direction: DirectionUp})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !report.NoOp || report.Reason != ReasonNoChange {
		t.Fatalf("report = %+v", report)
	}
}

func TestExecute_SongSkipAdvancesAndWraps(t *testing.T) {
	db := newServiceDB(t)
	c := newCustomer(t, db, domain.TierEnterprise)
	ax := &ActionExecutor{DB: db}
	policy := mustPolicy(t, domain.TierEnterprise)

	// Current song "Weightless" is at index 1; skip lands on "Nightcall".
	report, err := ax.Execute(context.Background(), c, policy, permissions.ActionSongChanges, ExtractedContext{Command: CommandSkip})
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if report.Device.CurrentSong == nil || *report.Device.CurrentSong != "Nightcall" {
		t.Fatalf("current song = %v", report.Device.CurrentSong)
	}

	// Skipping from the last song wraps back to the first.
	report, err = ax.Execute(context.Background(), c, policy, permissions.ActionSongChanges, ExtractedContext{Command: CommandSkip})
	if err != nil {
		t.Fatalf("wrap skip: %v", err)
	}
	if *report.Device.CurrentSong != "Midnight City" {
		t.Fatalf("wrapped song = %q", *report.Device.CurrentSong)
	}
	if got := reloadDevice(t, db, c.ID); got.CurrentSong == nil || *got.CurrentSong != "Midnight City" {
		t.Fatalf("persisted song = %v", got.CurrentSong)
	}
}

func TestExecute_SongPlayAndPause(t *testing.T) {
	db := newServiceDB(t)
	c := newCustomer(t, db, domain.TierEnterprise)
	ax := &ActionExecutor{DB: db}
	policy := mustPolicy(t, domain.TierEnterprise)

	// A current song is set, so play resumes without a write.
	report, err := ax.Execute(context.Background(), c, policy, permissions.ActionSongChanges, ExtractedContext{Command: CommandPlay})
	if err != nil || !report.Executed {
		t.Fatalf("play: (%+v, %v)", report, err)
	}
	if *report.Device.CurrentSong != "Weightless" {
		t.Fatalf("play changed song to %q", *report.Device.CurrentSong)
	}

	report, err = ax.Execute(context.Background(), c, policy, permissions.ActionSongChanges, ExtractedContext{Command: CommandPause})
	if err != nil || !report.Executed || report.NoOp {
		t.Fatalf("pause: (%+v, %v)", report, err)
	}
}

func TestExecute_SongPlayStartsPlaylistHead(t *testing.T) {
	db := newServiceDB(t)
	c := newCustomer(t, db, domain.TierEnterprise)
	c.Devices[0].CurrentSong = nil
	if err := db.Model(&domain.Device{}).Where("id = ?", c.Devices[0].ID).Update("current_song", nil).Error; err != nil {
		t.Fatalf("clear song: %v", err)
	}
	ax := &ActionExecutor{DB: db}

	report, err := ax.Execute(context.Background(), c, mustPolicy(t, domain.TierEnterprise), permissions.ActionSongChanges, ExtractedContext{Command: CommandPlay})
	if err != nil {
		t.Fatalf("play: %v", err)
	}
	if report.Device.CurrentSong == nil || *report.Device.CurrentSong != "Midnight City" {
		t.Fatalf("current song = %v", report.Device.CurrentSong)
	}
}

func TestExecute_EmptyPlaylistIsNoOp(t *testing.T) {
	db := newServiceDB(t)
	c := newCustomer(t, db, domain.TierEnterprise)
	c.Devices[0].Playlist = nil
	c.Devices[0].CurrentSong = nil
	ax := &ActionExecutor{DB: db}

	report, err := ax.Execute(context.Background(), c, mustPolicy(t, domain.TierEnterprise), permissions.ActionSongChanges, ExtractedContext{Command: CommandSkip})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !report.NoOp || report.Reason != ReasonEmptyPlaylist {
		t.Fatalf("report = %+v", report)
	}
}

func TestExecute_NotEntitledFails(t *testing.T) {
	db := newServiceDB(t)
	c := newCustomer(t, db, domain.TierBasic)
	ax := &ActionExecutor{DB: db}

	amt := 50
	report, err := ax.Execute(context.Background(), c, mustPolicy(t, domain.TierBasic), permissions.ActionVolumeControl, ExtractedContext{Direction: DirectionSet, Amount: &amt})
	if !errors.Is(err, ErrActionExecutionFailed) {
		t.Fatalf("expected ErrActionExecutionFailed, got %v", err)
	}
	if report.Reason != ReasonNotEntitled {
		t.Fatalf("reason = %q", report.Reason)
	}
}

func TestExecute_NoRegisteredDeviceFails(t *testing.T) {
	db := newServiceDB(t)
	c := &domain.Customer{ID: uuid.NewString(), Name: "Empty", ServiceTier: domain.TierBasic}
	if err := db.Create(c).Error; err != nil {
		t.Fatalf("create: %v", err)
	}
	ax := &ActionExecutor{DB: db}

	report, err := ax.Execute(context.Background(), c, mustPolicy(t, domain.TierBasic), permissions.ActionDevicePower, ExtractedContext{PowerState: domain.PowerOn})
	if !errors.Is(err, ErrActionExecutionFailed) {
		t.Fatalf("expected ErrActionExecutionFailed, got %v", err)
	}
	if report.Reason != ReasonNoDevice {
		t.Fatalf("reason = %q", report.Reason)
	}
}

func TestExecute_StaleDeviceRowIsWriteConflict(t *testing.T) {
	db := newServiceDB(t)
	c := newCustomer(t, db, domain.TierBasic)
	// The row disappears between load and write.
	if err := db.Delete(&domain.Device{}, "id = ?", c.Devices[0].ID).Error; err != nil {
		t.Fatalf("delete device: %v", err)
	}
	ax := &ActionExecutor{DB: db}

	report, err := ax.Execute(context.Background(), c, mustPolicy(t, domain.TierBasic), permissions.ActionDevicePower, ExtractedContext{PowerState: domain.PowerOn})
	if !errors.Is(err, ErrActionExecutionFailed) {
		t.Fatalf("expected ErrActionExecutionFailed, got %v", err)
	}
	if report.Reason != ReasonWriteConflict {
		t.Fatalf("reason = %q", report.Reason)
	}
}
