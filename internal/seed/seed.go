/**
 * @description
 * YAML fixtures for demo and test data. A fixture is replayed through the Engine, so
 * seeded wallets, journal entries and outbox events are exactly what the same
 * sequence of API calls would have produced.
 *
 * @dependencies
 * - gopkg.in/yaml.v3: fixture decoding.
 */

package seed

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/Aayu095/Job4Meal/internal/app"
	"github.com/Aayu095/Job4Meal/internal/domain"
	"gopkg.in/yaml.v3"
)

const defaultDueIn = 72 * time.Hour

// Fixture is the top-level document of a seed file.
type Fixture struct {
	Organizations []domain.RegisterOrganizationInput `yaml:"organizations"`
	Workers       []domain.RegisterWorkerInput       `yaml:"workers"`
	Tasks         []TaskFixture                      `yaml:"tasks"`
	Redemptions   []RedemptionFixture                `yaml:"redemptions"`
}

// TaskFixture posts a task and drives it to Status. Any status past open needs ClaimedBy,
// except cancelled, which may also cancel an unclaimed task.
type TaskFixture struct {
	Title       string            `yaml:"title"`
	Description string            `yaml:"description"`
	OrgID       string            `yaml:"org_id"`
	RewardMeals int64             `yaml:"reward_meals"`
	DueIn       string            `yaml:"due_in"`
	Location    *domain.Location  `yaml:"location,omitempty"`
	Status      domain.TaskStatus `yaml:"status"`
	ClaimedBy   string            `yaml:"claimed_by"`
	PhotoRef    string            `yaml:"photo_ref"`
}

// RedemptionFixture requests a redemption and optionally completes or rejects it.
type RedemptionFixture struct {
	WorkerID     string                  `yaml:"worker_id"`
	OrgID        string                  `yaml:"org_id"`
	MealCredits  int64                   `yaml:"meal_credits"`
	Status       domain.RedemptionStatus `yaml:"status"`
	RejectReason string                  `yaml:"reject_reason"`
}

// Summary counts what Apply created.
type Summary struct {
	Organizations int `json:"organizations"`
	Workers       int `json:"workers"`
	Tasks         int `json:"tasks"`
	Redemptions   int `json:"redemptions"`
}

// Load reads and parses the fixture at path.
func Load(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixture: %w", err)
	}
	return Parse(data)
}

// Parse decodes a fixture, rejecting unknown fields.
func Parse(data []byte) (*Fixture, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var fixture Fixture
	if err := decoder.Decode(&fixture); err != nil {
		return nil, fmt.Errorf("parse fixture: %w", err)
	}
	for i, task := range fixture.Tasks {
		if task.Status != "" && !task.Status.Valid() {
			return nil, fmt.Errorf("tasks[%d]: unknown status %q", i, task.Status)
		}
		if task.DueIn != "" {
			if _, err := time.ParseDuration(task.DueIn); err != nil {
				return nil, fmt.Errorf("tasks[%d]: invalid due_in: %w", i, err)
			}
		}
	}
	for i, redemption := range fixture.Redemptions {
		if redemption.Status != "" && !redemption.Status.Valid() {
			return nil, fmt.Errorf("redemptions[%d]: unknown status %q", i, redemption.Status)
		}
	}
	return &fixture, nil
}

// Apply replays the fixture through engine in document order: organizations, workers,
// tasks, then redemptions. It stops at the first failure.
func Apply(ctx context.Context, engine *app.Engine, fixture *Fixture, now time.Time) (Summary, error) {
	var summary Summary

	for i, in := range fixture.Organizations {
		if _, err := engine.RegisterOrganization(ctx, in); err != nil {
			return summary, fmt.Errorf("organizations[%d] %q: %w", i, in.Name, err)
		}
		summary.Organizations++
	}
	for i, in := range fixture.Workers {
		if _, err := engine.RegisterWorker(ctx, in); err != nil {
			return summary, fmt.Errorf("workers[%d] %q: %w", i, in.Name, err)
		}
		summary.Workers++
	}
	for i, task := range fixture.Tasks {
		if err := applyTask(ctx, engine, task, now); err != nil {
			return summary, fmt.Errorf("tasks[%d] %q: %w", i, task.Title, err)
		}
		summary.Tasks++
	}
	for i, redemption := range fixture.Redemptions {
		if err := applyRedemption(ctx, engine, redemption); err != nil {
			return summary, fmt.Errorf("redemptions[%d]: %w", i, err)
		}
		summary.Redemptions++
	}
	return summary, nil
}

func applyTask(ctx context.Context, engine *app.Engine, fixture TaskFixture, now time.Time) error {
	dueIn := defaultDueIn
	if fixture.DueIn != "" {
		parsed, err := time.ParseDuration(fixture.DueIn)
		if err != nil {
			return err
		}
		dueIn = parsed
	}

	task, err := engine.PostTask(ctx, domain.PostTaskInput{
		Title:       fixture.Title,
		Description: fixture.Description,
		OrgID:       fixture.OrgID,
		RewardMeals: fixture.RewardMeals,
		DueBy:       now.Add(dueIn),
		Location:    fixture.Location,
	})
	if err != nil {
		return err
	}

	status := fixture.Status
	if status == "" || status == domain.TaskOpen {
		return nil
	}
	claimedBy := strings.TrimSpace(fixture.ClaimedBy)
	if status == domain.TaskCancelled && claimedBy == "" {
		_, err := engine.CancelTask(ctx, task.ID)
		return err
	}
	if claimedBy == "" {
		return fmt.Errorf("%w: status %s requires claimed_by", domain.ErrInvalidInput, status)
	}

	if _, err := engine.ClaimTask(ctx, task.ID, claimedBy, ""); err != nil {
		return err
	}
	switch status {
	case domain.TaskClaimed:
		return nil
	case domain.TaskCancelled:
		_, err := engine.CancelTask(ctx, task.ID)
		return err
	}

	photoRef := fixture.PhotoRef
	if photoRef == "" {
		photoRef = "seed/" + task.ID + ".jpg"
	}
	if _, err := engine.SubmitProof(ctx, task.ID, domain.ProofInput{PhotoRef: photoRef, SubmittedBy: claimedBy}); err != nil {
		return err
	}
	if status == domain.TaskVerified {
		_, err := engine.VerifyTask(ctx, task.ID)
		return err
	}
	return nil
}

func applyRedemption(ctx context.Context, engine *app.Engine, fixture RedemptionFixture) error {
	redemption, err := engine.RequestRedemption(ctx, domain.RedemptionRequest{
		WorkerID:    fixture.WorkerID,
		OrgID:       fixture.OrgID,
		MealCredits: fixture.MealCredits,
	})
	if err != nil {
		return err
	}
	switch fixture.Status {
	case domain.RedemptionCompleted:
		_, err = engine.CompleteRedemption(ctx, redemption.ID, redemption.UserID, redemption.MealCredits)
	case domain.RedemptionRejected:
		_, err = engine.RejectRedemption(ctx, redemption.ID, fixture.RejectReason)
	}
	return err
}
