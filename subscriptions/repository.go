package subscriptions

import (
	"database/sql"
	"time"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Get returns the subscription record for a user, or nil when none exists.
func (r *Repository) Get(userID int) (*Subscription, error) {
	row := r.db.QueryRow(`SELECT user_id, plan, status, customer_id, subscription_id, price_id, product_id, original_transaction_id, transaction_id, period_start, period_end, cancel_at, canceled_at, updated_at FROM subscriptions WHERE user_id=? LIMIT 1`, userID)
	var s Subscription
	if err := row.Scan(&s.UserID, &s.Plan, &s.Status, &s.CustomerID, &s.SubscriptionID, &s.PriceID, &s.ProductID, &s.OriginalTransactionID, &s.TransactionID, &s.PeriodStart, &s.PeriodEnd, &s.CancelAt, &s.CanceledAt, &s.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Upsert writes the full record with set/merge semantics: replaying the same
// event converges on the same row instead of accumulating anything.
func (r *Repository) Upsert(s *Subscription) error {
	_, err := r.db.Exec(`INSERT INTO subscriptions
		(user_id, plan, status, customer_id, subscription_id, price_id, product_id, original_transaction_id, transaction_id, period_start, period_end, cancel_at, canceled_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON DUPLICATE KEY UPDATE
		plan=VALUES(plan), status=VALUES(status), customer_id=VALUES(customer_id),
		subscription_id=VALUES(subscription_id), price_id=VALUES(price_id), product_id=VALUES(product_id),
		original_transaction_id=VALUES(original_transaction_id), transaction_id=VALUES(transaction_id),
		period_start=VALUES(period_start), period_end=VALUES(period_end),
		cancel_at=VALUES(cancel_at), canceled_at=VALUES(canceled_at)`,
		s.UserID, s.Plan, s.Status, s.CustomerID, s.SubscriptionID, s.PriceID, s.ProductID,
		s.OriginalTransactionID, s.TransactionID, s.PeriodStart, s.PeriodEnd, s.CancelAt, s.CanceledAt)
	return err
}

// SetStatus patches the status only, leaving the rest of the record alone.
func (r *Repository) SetStatus(userID int, status string) error {
	_, err := r.db.Exec(`UPDATE subscriptions SET status=? WHERE user_id=?`, status, userID)
	return err
}

// SetPlanStatus downgrades (or upgrades) plan and status together.
func (r *Repository) SetPlanStatus(userID int, plan, status string) error {
	_, err := r.db.Exec(`INSERT INTO subscriptions (user_id, plan, status) VALUES (?,?,?)
		ON DUPLICATE KEY UPDATE plan=VALUES(plan), status=VALUES(status)`, userID, plan, status)
	return err
}

// SetStatusPeriod patches status and billing period, used by the
// subscription-updated webhook.
func (r *Repository) SetStatusPeriod(userID int, status string, start, end *time.Time) error {
	_, err := r.db.Exec(`UPDATE subscriptions SET status=?, period_start=?, period_end=? WHERE user_id=?`,
		status, start, end, userID)
	return err
}

// MarkCanceled records a cancellation timestamp along with the final status.
func (r *Repository) MarkCanceled(userID int, status string, canceledAt time.Time) error {
	_, err := r.db.Exec(`UPDATE subscriptions SET status=?, canceled_at=? WHERE user_id=?`,
		status, canceledAt, userID)
	return err
}

// SetCancelAt marks a pending end-of-period cancellation (or clears it with nil).
func (r *Repository) SetCancelAt(userID int, status string, cancelAt *time.Time) error {
	_, err := r.db.Exec(`INSERT INTO subscriptions (user_id, status, cancel_at) VALUES (?,?,?)
		ON DUPLICATE KEY UPDATE status=VALUES(status), cancel_at=VALUES(cancel_at)`, userID, status, cancelAt)
	return err
}

// FindUserByOriginalTransaction resolves a store transaction id to a user,
// checking the subscription records first and purchase records as fallback.
func (r *Repository) FindUserByOriginalTransaction(origTxID string) (int, error) {
	var userID int
	err := r.db.QueryRow(`SELECT user_id FROM subscriptions WHERE original_transaction_id=? LIMIT 1`, origTxID).Scan(&userID)
	if err == nil {
		return userID, nil
	}
	if err != sql.ErrNoRows {
		return 0, err
	}
	err = r.db.QueryRow(`SELECT user_id FROM purchase_records WHERE original_transaction_id=? LIMIT 1`, origTxID).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return userID, nil
}

// IsPremiumUser reports whether the user's current record grants premium
// limits. A missing record means free tier.
func (r *Repository) IsPremiumUser(userID int) (bool, error) {
	s, err := r.Get(userID)
	if err != nil {
		return false, err
	}
	return s.IsPremium(), nil
}

// --- Stripe customer mapping ---

func (r *Repository) GetCustomerID(userID int) (string, error) {
	var id string
	err := r.db.QueryRow(`SELECT customer_id FROM stripe_customers WHERE user_id=? LIMIT 1`, userID).Scan(&id)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) SaveCustomer(userID int, customerID, email string) error {
	_, err := r.db.Exec(`INSERT INTO stripe_customers (user_id, customer_id, email) VALUES (?,?,?)
		ON DUPLICATE KEY UPDATE customer_id=VALUES(customer_id), email=VALUES(email)`, userID, customerID, email)
	return err
}

// FindUserByCustomerID resolves a Stripe customer id back to a user.
func (r *Repository) FindUserByCustomerID(customerID string) (int, error) {
	var userID int
	err := r.db.QueryRow(`SELECT user_id FROM stripe_customers WHERE customer_id=? LIMIT 1`, customerID).Scan(&userID)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return userID, nil
}
