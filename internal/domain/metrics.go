package domain

import "time"

// DashboardMetrics is the read-only aggregate served to dashboards.
type DashboardMetrics struct {
	TotalUsers           int       `json:"total_users"`
	TotalOrganizations   int       `json:"total_organizations"`
	TotalTasks           int       `json:"total_tasks"`
	ActiveTasks          int       `json:"active_tasks"`
	CompletedTasks       int       `json:"completed_tasks"`
	CancelledTasks       int       `json:"cancelled_tasks"`
	PendingVerifications int       `json:"pending_verifications"`
	TotalMealsIssued     int64     `json:"total_meals_issued"`
	PendingRedemptions   int       `json:"pending_redemptions"`
	CompletedRedemptions int       `json:"completed_redemptions"`
	MealsRedeemed        int64     `json:"meals_redeemed"`
	OutstandingCredits   int64     `json:"outstanding_credits"`
	GeneratedAt          time.Time `json:"generated_at"`
}

// WalletReconciliation compares a wallet with what its history says it should hold.
type WalletReconciliation struct {
	WorkerID        string `json:"worker_id"`
	WalletBalance   int64  `json:"wallet_balance"`
	EarnedCredits   int64  `json:"earned_credits"`
	RedeemedCredits int64  `json:"redeemed_credits"`
	ExpectedBalance int64  `json:"expected_balance"`
	JournalBalance  int64  `json:"journal_balance"`
	JournalEntries  int    `json:"journal_entries"`
	Consistent      bool   `json:"consistent"`
}
