package reporting

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/Aayu095/Job4Meal/internal/domain"
	"github.com/Aayu095/Job4Meal/pkg/rabbitmq"
)

// maxRememberedEvents bounds the redelivery filter. Older ids are forgotten once a
// snapshot replaces the counters.
const maxRememberedEvents = 100_000

// Projection keeps dashboard counters current between snapshots by applying ledger
// events as they are consumed. Redeliveries are dropped by event id.
type Projection struct {
	mu      sync.RWMutex
	metrics domain.DashboardMetrics
	seen    map[string]struct{}
	now     func() time.Time
}

func NewProjection(initial domain.DashboardMetrics) *Projection {
	return &Projection{
		metrics: initial,
		seen:    make(map[string]struct{}),
		now:     time.Now,
	}
}

// Metrics returns a copy of the current counters.
func (p *Projection) Metrics() domain.DashboardMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.metrics
}

// Replace resets the counters to a freshly computed snapshot.
func (p *Projection) Replace(snapshot domain.DashboardMetrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = snapshot
	if len(p.seen) > maxRememberedEvents {
		p.seen = make(map[string]struct{})
	}
}

// Apply folds one event into the counters. It reports false for a redelivered event.
func (p *Projection) Apply(event domain.LedgerEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.EventID != "" {
		if _, dup := p.seen[event.EventID]; dup {
			return false
		}
		p.seen[event.EventID] = struct{}{}
	}

	m := &p.metrics
	switch event.EventType {
	case domain.EventTaskPosted:
		m.TotalTasks++
		m.ActiveTasks++
	case domain.EventTaskProofSubmitted:
		m.ActiveTasks--
		m.PendingVerifications++
	case domain.EventTaskVerified:
		m.PendingVerifications--
		m.CompletedTasks++
		m.TotalMealsIssued += event.Amount
		m.OutstandingCredits += event.Amount
	case domain.EventTaskCancelled:
		m.ActiveTasks--
		m.CancelledTasks++
	case domain.EventRedemptionRequested:
		m.PendingRedemptions++
	case domain.EventRedemptionCompleted:
		m.PendingRedemptions--
		m.CompletedRedemptions++
		m.MealsRedeemed += event.Amount
		m.OutstandingCredits -= event.Amount
	case domain.EventRedemptionRejected:
		m.PendingRedemptions--
	case domain.EventWorkerRegistered:
		m.TotalUsers++
	}
	m.GeneratedAt = p.now().UTC()
	return true
}

// Handlers returns consumer bindings for every ledger event type.
func (p *Projection) Handlers() map[string]rabbitmq.Handler {
	eventTypes := []domain.LedgerEventType{
		domain.EventTaskPosted,
		domain.EventTaskClaimed,
		domain.EventTaskProofSubmitted,
		domain.EventTaskVerified,
		domain.EventTaskCancelled,
		domain.EventRedemptionRequested,
		domain.EventRedemptionCompleted,
		domain.EventRedemptionRejected,
		domain.EventWorkerRegistered,
	}
	handlers := make(map[string]rabbitmq.Handler, len(eventTypes))
	for _, eventType := range eventTypes {
		handlers[eventType.RoutingKey()] = p.handle
	}
	return handlers
}

// handle acknowledges malformed bodies; requeueing them would loop forever.
func (p *Projection) handle(body []byte) bool {
	var event domain.LedgerEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=reporting_projection msg=\"dropping malformed ledger event\" err=%v", err)
		return true
	}
	if !p.Apply(event) {
		log.Printf("level=info component=reporting_projection msg=\"duplicate ledger event ignored\" event_id=%s", event.EventID)
	}
	return true
}
