/**
 * @description
 * Task model and its state machine. A task moves strictly forward:
 *
 *   open -> claimed -> submitted -> verified
 *   open | claimed -> cancelled
 *
 * The transition methods on *Task are pure: they validate the current state, mutate the
 * in-memory copy and never touch storage. The engine calls them inside a store
 * transaction so that validation and persistence observe the same snapshot.
 */

package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskStatus is the closed set of task lifecycle states.
type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskClaimed   TaskStatus = "claimed"
	TaskSubmitted TaskStatus = "submitted"
	TaskVerified  TaskStatus = "verified"
	TaskCancelled TaskStatus = "cancelled"
)

var taskTransitions = map[TaskStatus][]TaskStatus{
	TaskOpen:      {TaskClaimed, TaskCancelled},
	TaskClaimed:   {TaskSubmitted, TaskCancelled},
	TaskSubmitted: {TaskVerified},
}

// Valid reports whether s is one of the known task states.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskOpen, TaskClaimed, TaskSubmitted, TaskVerified, TaskCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no transition leaves s.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskVerified || s == TaskCancelled
}

// ParseTaskStatus normalizes and validates a status string.
func ParseTaskStatus(raw string) (TaskStatus, error) {
	status := TaskStatus(strings.ToLower(strings.TrimSpace(raw)))
	if !status.Valid() {
		return "", fmt.Errorf("%w: unknown task status %q", ErrInvalidInput, raw)
	}
	return status, nil
}

// CanTransitionTask reports whether from -> to is listed in the task transition table.
func CanTransitionTask(from, to TaskStatus) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Location is an optional latitude/longitude pair. It is carried as data only.
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lng float64 `json:"lng" yaml:"lng"`
}

func (l *Location) validate() error {
	if l == nil {
		return nil
	}
	if l.Lat < -90 || l.Lat > 90 || l.Lng < -180 || l.Lng > 180 {
		return fmt.Errorf("%w: location out of range (%f, %f)", ErrInvalidInput, l.Lat, l.Lng)
	}
	return nil
}

// Proof is the worker-submitted evidence that a claimed task was completed.
type Proof struct {
	PhotoRef    string    `json:"photo_ref"`
	Geo         *Location `json:"geo,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Task is a verified micro-task posted by an organization.
// PostedByOrgName and ClaimedByName are display copies; never authorize on them.
type Task struct {
	ID              string     `json:"id"`
	Title           string     `json:"title"`
	Description     string     `json:"description"`
	PostedByOrg     string     `json:"posted_by_org"`
	PostedByOrgName string     `json:"posted_by_org_name,omitempty"`
	Location        *Location  `json:"location,omitempty"`
	RewardMeals     int64      `json:"reward_meals"`
	Status          TaskStatus `json:"status"`
	ClaimedBy       string     `json:"claimed_by,omitempty"`
	ClaimedByName   string     `json:"claimed_by_name,omitempty"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	Proof           *Proof     `json:"proof,omitempty"`
	DueBy           time.Time  `json:"due_by"`
	VerifiedAt      *time.Time `json:"verified_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	Version         int64      `json:"-"`
}

// PostTaskInput is the request to publish a new task.
type PostTaskInput struct {
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description" yaml:"description"`
	OrgID       string    `json:"org_id" yaml:"org_id"`
	RewardMeals int64     `json:"reward_meals" yaml:"reward_meals"`
	DueBy       time.Time `json:"due_by" yaml:"due_by"`
	Location    *Location `json:"location,omitempty" yaml:"location,omitempty"`
}

// Validate checks the fields that do not need storage to verify.
func (in PostTaskInput) Validate() error {
	if strings.TrimSpace(in.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	if strings.TrimSpace(in.OrgID) == "" {
		return fmt.Errorf("%w: organization is required", ErrInvalidInput)
	}
	if in.RewardMeals <= 0 {
		return fmt.Errorf("%w: reward meals must be greater than zero", ErrInvalidInput)
	}
	if in.RewardMeals > MaxMealAmount {
		return fmt.Errorf("%w: reward meals must not exceed %d", ErrInvalidInput, MaxMealAmount)
	}
	if in.DueBy.IsZero() {
		return fmt.Errorf("%w: due date is required", ErrInvalidInput)
	}
	return in.Location.validate()
}

// ProofInput is the request to attach proof to a claimed task.
// SubmittedBy is optional; when set it must match the claimant.
type ProofInput struct {
	PhotoRef    string    `json:"photo_ref"`
	Geo         *Location `json:"geo,omitempty"`
	SubmittedBy string    `json:"-"`
}

// Validate checks the proof payload.
func (in ProofInput) Validate() error {
	if strings.TrimSpace(in.PhotoRef) == "" {
		return fmt.Errorf("%w: photo reference is required", ErrInvalidInput)
	}
	return in.Geo.validate()
}

// NewTask builds an open task from validated input.
func NewTask(id string, in PostTaskInput, org *Organization, now time.Time) *Task {
	task := &Task{
		ID:          id,
		Title:       strings.TrimSpace(in.Title),
		Description: strings.TrimSpace(in.Description),
		PostedByOrg: org.ID,
		Location:    in.Location,
		RewardMeals: in.RewardMeals,
		Status:      TaskOpen,
		DueBy:       in.DueBy.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	task.PostedByOrgName = org.Name
	return task
}

func (t *Task) moveTo(to TaskStatus, now time.Time) {
	if !CanTransitionTask(t.Status, to) {
		// Callers check preconditions first; reaching this is a programming error.
		panic(fmt.Sprintf("task %s: illegal transition %s -> %s", t.ID, t.Status, to))
	}
	t.Status = to
	t.UpdatedAt = now
}

// Claim reserves an open task for workerID. claimedBy is never rewritten afterwards.
func (t *Task) Claim(workerID, workerName string, now time.Time) error {
	if strings.TrimSpace(workerID) == "" {
		return fmt.Errorf("%w: worker is required", ErrInvalidInput)
	}
	if t.Status != TaskOpen || t.ClaimedBy != "" {
		return fmt.Errorf("%w: task %s is %s", ErrTaskNotOpen, t.ID, t.Status)
	}
	t.moveTo(TaskClaimed, now)
	t.ClaimedBy = workerID
	t.ClaimedByName = strings.TrimSpace(workerName)
	claimedAt := now
	t.ClaimedAt = &claimedAt
	return nil
}

// SubmitProof stores proof on a claimed task.
func (t *Task) SubmitProof(in ProofInput, now time.Time) error {
	if t.Status != TaskClaimed {
		return fmt.Errorf("%w: task %s is %s", ErrTaskNotClaimed, t.ID, t.Status)
	}
	if in.SubmittedBy != "" && in.SubmittedBy != t.ClaimedBy {
		return fmt.Errorf("%w: task %s", ErrNotClaimant, t.ID)
	}
	t.moveTo(TaskSubmitted, now)
	t.Proof = &Proof{
		PhotoRef:    strings.TrimSpace(in.PhotoRef),
		Geo:         in.Geo,
		SubmittedAt: now,
	}
	return nil
}

// Verify approves submitted proof. The caller must credit the claimant in the same transaction.
func (t *Task) Verify(now time.Time) error {
	switch {
	case t.Status == TaskVerified:
		return fmt.Errorf("%w: task %s", ErrAlreadyVerified, t.ID)
	case t.Status != TaskSubmitted:
		return fmt.Errorf("%w: task %s is %s", ErrTaskNotSubmitted, t.ID, t.Status)
	case t.ClaimedBy == "":
		return fmt.Errorf("%w: task %s", ErrNoClaimant, t.ID)
	}
	t.moveTo(TaskVerified, now)
	verifiedAt := now
	t.VerifiedAt = &verifiedAt
	return nil
}

// Cancel withdraws an open or claimed task. No wallet effect.
func (t *Task) Cancel(now time.Time) error {
	switch t.Status {
	case TaskVerified, TaskCancelled:
		return fmt.Errorf("%w: task %s is %s", ErrTaskTerminal, t.ID, t.Status)
	case TaskSubmitted:
		return fmt.Errorf("%w: task %s", ErrTaskAwaitingVerification, t.ID)
	}
	t.moveTo(TaskCancelled, now)
	cancelledAt := now
	t.CancelledAt = &cancelledAt
	return nil
}
