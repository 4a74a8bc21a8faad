// Package domain defines the persistence models for customers, devices,
// conversation messages, and feedback. These types are mapped with GORM and
// form the core data layer of the support backend.
package domain

import "time"

// Service tiers in upgrade order. Each tier's entitlement is a superset of
// the tiers below it (see internal/permissions).
const (
	TierBasic      = "basic"
	TierPremium    = "premium"
	TierEnterprise = "enterprise"
)

// Customer represents a support customer. Customers are seeded
// administratively and never deleted by the pipeline; the only runtime
// mutation path is device state applied by the action executor.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - Name: display name used when addressing the customer in replies.
//   - ServiceTier: entitlement level (basic|premium|enterprise).
//   - Devices: the customer's registered devices, ordered by position.
type Customer struct {
	ID          string    `json:"id"           gorm:"type:char(36);primaryKey"`
	Name        string    `json:"name"         gorm:"type:varchar(128);not null"`
	ServiceTier string    `json:"service_tier" gorm:"type:varchar(16);not null;check:service_tier IN ('basic','premium','enterprise')"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Devices is ordered by Position. The pipeline acts on the customer's
	// single registered device; higher tiers merely allow more slots.
	Devices []Device `json:"devices" gorm:"foreignKey:CustomerID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Customer.
func (Customer) TableName() string { return "customers" }

// Device power states.
const (
	PowerOn  = "on"
	PowerOff = "off"
)

// Device is a smart-home device registered to a customer. Volume is only
// meaningful for premium-capable tiers; CurrentSong and Playlist only for
// enterprise. Legacy rows may carry values outside the owning customer's
// current tier; the executor must never mutate those fields in that case.
type Device struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	CustomerID  string    `json:"customer_id" gorm:"type:char(36);not null;index:idx_customer_devices,priority:1"`
	Type        string    `json:"type"        gorm:"type:varchar(32);not null"`
	Location    string    `json:"location"    gorm:"type:varchar(64)"`
	PowerState  string    `json:"power_state" gorm:"type:varchar(8);not null;default:'off';check:power_state IN ('on','off')"`
	Volume      *int      `json:"volume,omitempty"`       // premium capability
	CurrentSong *string   `json:"current_song,omitempty"` // enterprise capability
	Playlist    []string  `json:"playlist,omitempty" gorm:"serializer:json"`
	Position    int       `json:"-"           gorm:"not null;default:0;index:idx_customer_devices,priority:2"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Device.
func (Device) TableName() string { return "devices" }

// Message senders.
const (
	SenderUser = "user"
	SenderBot  = "bot"
)

// Message is a single utterance within a conversation. The log is
// append-only: messages are immutable once written and never deleted. The
// processor writes one record for the inbound customer message and one for
// the generated bot reply; bot records carry pipeline metadata.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - ConversationID: groups messages into one conversation (indexed).
//   - CustomerID: owner of the conversation (indexed for per-customer history).
//   - Sender: "user" or "bot" (enforced by DB constraint).
//   - Text: full message text.
//   - RequestType: classified primary action, set on bot messages only.
//   - RequiredActions: every action the request implied, bot messages only.
//   - Allowed: permission decision; nil when no permission check ran.
type Message struct {
	ID              string    `json:"id"              gorm:"type:char(36);primaryKey"`
	ConversationID  string    `json:"conversation_id" gorm:"type:char(36);not null;index:idx_conv_msgs,priority:1"`
	CustomerID      string    `json:"customer_id"     gorm:"type:char(36);not null;index"`
	Sender          string    `json:"sender"          gorm:"type:varchar(8);not null;check:sender IN ('user','bot')"`
	Text            string    `json:"text"            gorm:"type:text;not null"`
	RequestType     *string   `json:"request_type,omitempty"     gorm:"type:varchar(32)"`
	RequiredActions []string  `json:"required_actions,omitempty" gorm:"serializer:json"`
	Allowed         *bool     `json:"allowed,omitempty"`
	CreatedAt       time.Time `json:"timestamp" gorm:"index:idx_conv_msgs,priority:2"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// Feedback represents a customer-provided rating on a specific bot reply.
// A customer can only leave one feedback entry per message (enforced by
// unique index).
type Feedback struct {
	ID         string    `json:"id"          gorm:"type:char(36);primaryKey"`
	MessageID  string    `json:"message_id"  gorm:"type:char(36);not null;index;uniqueIndex:ux_feedback_message_customer"`
	CustomerID string    `json:"customer_id" gorm:"type:varchar(64);not null;index;uniqueIndex:ux_feedback_message_customer"`
	Value      int       `json:"value"       gorm:"not null;check:value IN (-1,1)"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Message is the rated bot message. Feedback is cascade-deleted if the
	// underlying message is removed.
	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Feedback.
func (Feedback) TableName() string { return "feedback" }
