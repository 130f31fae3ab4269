package domain

import "time"

// RelayStatus is the lifecycle of a gas-abstracted relay task.
type RelayStatus string

const (
	RelayPending   RelayStatus = "pending"
	RelayExecuted  RelayStatus = "executed"
	RelayFailed    RelayStatus = "failed"
	RelayCancelled RelayStatus = "cancelled"
)

// Terminal reports whether the task will not change state again.
func (s RelayStatus) Terminal() bool {
	return s == RelayExecuted || s == RelayFailed || s == RelayCancelled
}

// RelayTask tracks one relay submission until it reaches a terminal state.
type RelayTask struct {
	TaskID         string
	MarketID       string
	TargetContract string
	Payload        string // 0x-prefixed calldata
	Status         RelayStatus
	TxHash         string
	LastCheckMsg   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
