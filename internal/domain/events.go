package domain

import "time"

// LedgerEventType names a lifecycle change published through the outbox.
type LedgerEventType string

const (
	EventTaskPosted          LedgerEventType = "task.posted"
	EventTaskClaimed         LedgerEventType = "task.claimed"
	EventTaskProofSubmitted  LedgerEventType = "task.proof_submitted"
	EventTaskVerified        LedgerEventType = "task.verified"
	EventTaskCancelled       LedgerEventType = "task.cancelled"
	EventRedemptionRequested LedgerEventType = "redemption.requested"
	EventRedemptionCompleted LedgerEventType = "redemption.completed"
	EventRedemptionRejected  LedgerEventType = "redemption.rejected"
	EventWorkerRegistered    LedgerEventType = "worker.registered"
)

// RoutingKey is the AMQP routing key for events of this type.
func (t LedgerEventType) RoutingKey() string {
	return "ledger." + string(t)
}

// LedgerEvent is the message written to the outbox in the same transaction as the change it describes.
// Amount is the reward for task events and the credit amount for redemption events.
type LedgerEvent struct {
	EventID      string          `json:"event_id"`
	EventType    LedgerEventType `json:"event_type"`
	TaskID       string          `json:"task_id,omitempty"`
	RedemptionID string          `json:"redemption_id,omitempty"`
	WorkerID     string          `json:"worker_id,omitempty"`
	OrgID        string          `json:"org_id,omitempty"`
	Amount       int64           `json:"amount"`
	BalanceAfter *int64          `json:"balance_after,omitempty"`
	OccurredAt   time.Time       `json:"occurred_at"`
}

// TaskEvent builds an event describing task's current state.
func TaskEvent(id string, eventType LedgerEventType, task *Task, now time.Time) *LedgerEvent {
	return &LedgerEvent{
		EventID:    id,
		EventType:  eventType,
		TaskID:     task.ID,
		WorkerID:   task.ClaimedBy,
		OrgID:      task.PostedByOrg,
		Amount:     task.RewardMeals,
		OccurredAt: now,
	}
}

// RedemptionEvent builds an event describing redemption's current state.
func RedemptionEvent(id string, eventType LedgerEventType, redemption *Redemption, now time.Time) *LedgerEvent {
	return &LedgerEvent{
		EventID:      id,
		EventType:    eventType,
		RedemptionID: redemption.ID,
		WorkerID:     redemption.UserID,
		OrgID:        redemption.OrgID,
		Amount:       redemption.MealCredits,
		OccurredAt:   now,
	}
}

// WithBalance records the wallet balance after the change.
func (e *LedgerEvent) WithBalance(balance int64) *LedgerEvent {
	e.BalanceAfter = &balance
	return e
}

// OutboxMessage is a LedgerEvent waiting for delivery.
type OutboxMessage struct {
	ID         string
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
	LastError  string
	CreatedAt  time.Time
}
