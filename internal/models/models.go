package models

import (
	"time"

	"gorm.io/gorm"
)

// Model is the base model with common fields for all database entities
type Model struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"deleted_at,omitempty" gorm:"index"`
}

// DeviceStatus is the cached tank health of a device
type DeviceStatus string

const (
	StatusOK       DeviceStatus = "OK"
	StatusLow      DeviceStatus = "LOW"
	StatusCritical DeviceStatus = "CRITICAL"
	StatusOffline  DeviceStatus = "OFFLINE"
)

// Severity grades an audit event
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityCritical Severity = "CRITICAL"
)

// Owner is the account that claims devices and manages operators and prices
type Owner struct {
	Model
	Name   string `json:"name" gorm:"Column:name"`
	Email  string `json:"email" gorm:"Column:email"`
	Phone  string `json:"phone" gorm:"Column:phone"`
	Active bool   `json:"active" gorm:"Column:active"`
}

// Device model represents a dispensing station node
type Device struct {
	Model
	DeviceID        string       `json:"device_id" gorm:"Column:device_id;size:32;uniqueIndex"`
	SiteName        string       `json:"site_name" gorm:"Column:site_name"`
	APIKeyHash      string       `json:"-" gorm:"Column:api_key_hash"`
	Status          DeviceStatus `json:"status" gorm:"Column:status;size:16"`
	LastSeenAt      *time.Time   `json:"last_seen_at" gorm:"Column:last_seen_at"`
	LastTelemetryAt *time.Time   `json:"last_telemetry_at" gorm:"Column:last_telemetry_at"`
	FirmwareVersion string       `json:"firmware_version" gorm:"Column:firmware_version"`
	OwnerID         *uint        `json:"owner_id" gorm:"Column:owner_id;index"`
	Owner           *Owner       `json:"owner,omitempty" gorm:"foreignKey:OwnerID"`
}

// Telemetry is an immutable sensor snapshot. Rows are ordered by TS, not ID.
type Telemetry struct {
	ID           uint      `json:"id" gorm:"primarykey"`
	DeviceID     uint      `json:"device_id" gorm:"Column:device_id;index:idx_telemetry_device_ts"`
	TS           time.Time `json:"ts" gorm:"Column:ts;index:idx_telemetry_device_ts"`
	OilPercent   float64   `json:"oil_percent" gorm:"Column:oil_percent"`
	OilLiters    float64   `json:"oil_liters" gorm:"Column:oil_liters"`
	DistanceCm   float64   `json:"distance_cm" gorm:"Column:distance_cm"`
	FlowLpm      float64   `json:"flow_lpm" gorm:"Column:flow_lpm"`
	LitersTotal  float64   `json:"liters_total" gorm:"Column:liters_total"`
	PumpState    bool      `json:"pump_state" gorm:"Column:pump_state"`
	SafetyStatus string    `json:"safety_status" gorm:"Column:safety_status;size:64"`
	WifiRssi     int       `json:"wifi_rssi" gorm:"Column:wifi_rssi"`
	UptimeSec    int64     `json:"uptime_sec" gorm:"Column:uptime_sec"`
	CreatedAt    time.Time `json:"created_at"`
}

// Event is an immutable audit record
type Event struct {
	ID        uint      `json:"id" gorm:"primarykey"`
	DeviceID  uint      `json:"device_id" gorm:"Column:device_id;index"`
	TS        time.Time `json:"ts" gorm:"Column:ts;index"`
	Type      string    `json:"type" gorm:"Column:type;size:64;index"`
	Severity  Severity  `json:"severity" gorm:"Column:severity;size:16"`
	Message   string    `json:"message" gorm:"Column:message"`
	Meta      string    `json:"meta,omitempty" gorm:"Column:meta;type:text"`
	CreatedAt time.Time `json:"created_at"`
}

// AlertRule configures the LOW/CRITICAL boundaries. A nil DeviceID is the global rule.
type AlertRule struct {
	Model
	DeviceID          *uint   `json:"device_id" gorm:"Column:device_id;index"`
	LowThreshold      float64 `json:"low_threshold" gorm:"Column:low_threshold"`
	CriticalThreshold float64 `json:"critical_threshold" gorm:"Column:critical_threshold"`
	Enabled           bool    `json:"enabled" gorm:"Column:enabled"`
	NotifyEmail       string  `json:"notify_email" gorm:"Column:notify_email"`
	NotifyPhone       string  `json:"notify_phone" gorm:"Column:notify_phone"`
}

// Operator is a person who runs dispenses on an owner's devices
type Operator struct {
	Model
	OwnerID   uint   `json:"owner_id" gorm:"Column:owner_id;index"`
	Name      string `json:"name" gorm:"Column:name"`
	Role      string `json:"role" gorm:"Column:role;size:32"`
	PinHash   string `json:"-" gorm:"Column:pin_hash"`
	PinDigest string `json:"-" gorm:"Column:pin_digest;size:64"`
	Active    bool   `json:"active" gorm:"Column:active"`
}

// Price is a selling/cost price per liter effective from a point in time.
// DeviceID scopes it to one device; otherwise it applies to every device of OwnerID.
type Price struct {
	Model
	OwnerID       *uint     `json:"owner_id" gorm:"Column:owner_id;index"`
	DeviceID      *uint     `json:"device_id" gorm:"Column:device_id;index"`
	PricePerLiter float64   `json:"price_per_liter" gorm:"Column:price_per_liter"`
	CostPerLiter  float64   `json:"cost_per_liter" gorm:"Column:cost_per_liter"`
	Currency      string    `json:"currency" gorm:"Column:currency;size:8"`
	EffectiveFrom time.Time `json:"effective_from" gorm:"Column:effective_from;index"`
}
