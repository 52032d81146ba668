package models

import (
	"time"
)

// TransactionStatus is the device-reported outcome of a dispense session
type TransactionStatus string

const (
	TransactionDone     TransactionStatus = "DONE"
	TransactionError    TransactionStatus = "ERROR"
	TransactionCanceled TransactionStatus = "CANCELED"
)

// UnassignedOperator keys shift summaries for transactions without an operator
const UnassignedOperator = "UNASSIGNED"

// DispenseTransaction is the ledger entry for one dispense session.
// SessionID is the client idempotency key.
type DispenseTransaction struct {
	ID              string            `json:"id" gorm:"primaryKey;size:36"`
	SessionID       string            `json:"session_id" gorm:"Column:session_id;size:64;uniqueIndex"`
	DeviceID        uint              `json:"device_id" gorm:"Column:device_id;index"`
	OperatorID      *uint             `json:"operator_id" gorm:"Column:operator_id;index"`
	StartedAt       time.Time         `json:"started_at" gorm:"Column:started_at;index"`
	EndedAt         *time.Time        `json:"ended_at" gorm:"Column:ended_at"`
	Status          TransactionStatus `json:"status" gorm:"Column:status;size:16"`
	TargetLiters    float64           `json:"target_liters" gorm:"Column:target_liters"`
	DispensedLiters float64           `json:"dispensed_liters" gorm:"Column:dispensed_liters"`
	PricePerLiter   float64           `json:"price_per_liter" gorm:"Column:price_per_liter"`
	CostPerLiter    float64           `json:"cost_per_liter" gorm:"Column:cost_per_liter"`
	TotalCost       float64           `json:"total_cost" gorm:"Column:total_cost"`
	TotalProfit     float64           `json:"total_profit" gorm:"Column:total_profit"`
	Currency        string            `json:"currency" gorm:"Column:currency;size:8"`
	Priced          bool              `json:"priced" gorm:"Column:priced"`
	DurationSec     int               `json:"duration_sec" gorm:"Column:duration_sec"`
	ErrorMessage    string            `json:"error_message,omitempty" gorm:"Column:error_message"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// ShiftSummary is the additive daily rollup per device and operator
type ShiftSummary struct {
	ID          uint      `json:"id" gorm:"primarykey"`
	DeviceID    uint      `json:"device_id" gorm:"Column:device_id;uniqueIndex:idx_shift_key"`
	OperatorKey string    `json:"operator_key" gorm:"Column:operator_key;size:32;uniqueIndex:idx_shift_key"`
	ShiftDate   time.Time `json:"shift_date" gorm:"Column:shift_date;uniqueIndex:idx_shift_key"`
	TxCount     int64     `json:"tx_count" gorm:"Column:tx_count"`
	TotalLiters float64   `json:"total_liters" gorm:"Column:total_liters"`
	TotalSales  float64   `json:"total_sales" gorm:"Column:total_sales"`
	TotalProfit float64   `json:"total_profit" gorm:"Column:total_profit"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// CommandType identifies what a device should do
type CommandType string

const (
	CommandDispense CommandType = "DISPENSE"
	CommandSetPrice CommandType = "SET_PRICE"
	CommandLock     CommandType = "LOCK"
	CommandUnlock   CommandType = "UNLOCK"
	CommandReboot   CommandType = "REBOOT"
)

// CommandStatus tracks a command through the relay
type CommandStatus string

const (
	CommandPending CommandStatus = "PENDING"
	CommandSent    CommandStatus = "SENT"
	CommandAcked   CommandStatus = "ACKED"
	CommandFailed  CommandStatus = "FAILED"
	CommandExpired CommandStatus = "EXPIRED"
)

// Command is a dashboard-to-device instruction
type Command struct {
	ID        string        `json:"id" gorm:"primaryKey;size:36"`
	DeviceID  uint          `json:"device_id" gorm:"Column:device_id;index"`
	Type      CommandType   `json:"type" gorm:"Column:type;size:32"`
	Payload   string        `json:"payload,omitempty" gorm:"Column:payload;type:text"`
	Status    CommandStatus `json:"status" gorm:"Column:status;size:16;index"`
	ExpiresAt time.Time     `json:"expires_at" gorm:"Column:expires_at;index"`
	SentAt    *time.Time    `json:"sent_at,omitempty" gorm:"Column:sent_at"`
	AckedAt   *time.Time    `json:"acked_at,omitempty" gorm:"Column:acked_at"`
	CreatedBy string        `json:"created_by" gorm:"Column:created_by"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Expired reports whether the command must be treated as void at t
func (c *Command) Expired(t time.Time) bool {
	return !t.Before(c.ExpiresAt)
}

// CommandAck is an immutable device response to a command
type CommandAck struct {
	ID         string     `json:"id" gorm:"primaryKey;size:36"`
	CommandID  string     `json:"command_id" gorm:"Column:command_id;size:36;index"`
	DeviceID   uint       `json:"device_id" gorm:"Column:device_id;index"`
	OK         bool       `json:"ok" gorm:"Column:ok"`
	ExecutedAt *time.Time `json:"executed_at" gorm:"Column:executed_at"`
	Message    string     `json:"message" gorm:"Column:message"`
	Meta       string     `json:"meta,omitempty" gorm:"Column:meta;type:text"`
	CreatedAt  time.Time  `json:"created_at"`
}
