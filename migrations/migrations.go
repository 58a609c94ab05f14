package migrations

import (
	"database/sql"
	"fmt"
	"time"
)

type User struct {
	ID        int       `db:"id"`
	FirstName string    `db:"first_name"`
	LastName  string    `db:"last_name"`
	Email     string    `db:"email"`
	Password  string    `db:"password"`
	Role      string    `db:"role"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

var db *sql.DB

// Init sets the DB connection for migrations and queries
func Init(database *sql.DB) {
	db = database
}

// Migrate creates required tables if they do not exist
func Migrate() error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	createUsers := `
	CREATE TABLE IF NOT EXISTS users (
		id INT AUTO_INCREMENT PRIMARY KEY,
		first_name VARCHAR(100) NOT NULL,
		last_name VARCHAR(100) NOT NULL,
		email VARCHAR(191) NOT NULL UNIQUE,
		password VARCHAR(191) NOT NULL,
		role VARCHAR(50) NOT NULL DEFAULT 'user',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createUsers); err != nil {
		return err
	}

	// One subscription record per user, mutated by the webhook receivers and
	// the reconciliation endpoints with set/merge semantics.
	createSubs := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		user_id INT PRIMARY KEY,
		plan VARCHAR(32) NOT NULL DEFAULT 'free',
		status VARCHAR(32) NOT NULL DEFAULT 'active',
		customer_id VARCHAR(64) NOT NULL DEFAULT '',
		subscription_id VARCHAR(64) NOT NULL DEFAULT '',
		price_id VARCHAR(64) NOT NULL DEFAULT '',
		product_id VARCHAR(64) NOT NULL DEFAULT '',
		original_transaction_id VARCHAR(64) NOT NULL DEFAULT '',
		transaction_id VARCHAR(64) NOT NULL DEFAULT '',
		period_start DATETIME NULL,
		period_end DATETIME NULL,
		cancel_at DATETIME NULL,
		canceled_at DATETIME NULL,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		INDEX idx_subs_orig_tx (original_transaction_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createSubs); err != nil {
		return err
	}

	createCustomers := `
	CREATE TABLE IF NOT EXISTS stripe_customers (
		user_id INT PRIMARY KEY,
		customer_id VARCHAR(64) NOT NULL UNIQUE,
		email VARCHAR(191) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createCustomers); err != nil {
		return err
	}

	createPurchases := `
	CREATE TABLE IF NOT EXISTS purchase_records (
		id INT AUTO_INCREMENT PRIMARY KEY,
		user_id INT NOT NULL,
		original_transaction_id VARCHAR(64) NOT NULL,
		product_id VARCHAR(64) NOT NULL DEFAULT '',
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_purchase_orig_tx (original_transaction_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createPurchases); err != nil {
		return err
	}

	createUsage := `
	CREATE TABLE IF NOT EXISTS api_usage (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		user_id INT NOT NULL,
		provider VARCHAR(32) NOT NULL,
		model VARCHAR(100) NOT NULL DEFAULT '',
		prompt_tokens INT NOT NULL DEFAULT 0,
		completion_tokens INT NOT NULL DEFAULT 0,
		total_tokens INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_usage_user_provider (user_id, provider, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4;`
	if _, err := db.Exec(createUsage); err != nil {
		return err
	}
	return nil
}

// GetUserByEmail returns the user for an email, or nil when not found.
func GetUserByEmail(email string) *User {
	if db == nil {
		return nil
	}
	row := db.QueryRow(`SELECT id, first_name, last_name, email, password, role, created_at, updated_at FROM users WHERE email=? LIMIT 1`, email)
	var u User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil
	}
	return &u
}

// GetUserByID returns the user for an id, or nil when not found.
func GetUserByID(id int) *User {
	if db == nil {
		return nil
	}
	row := db.QueryRow(`SELECT id, first_name, last_name, email, password, role, created_at, updated_at FROM users WHERE id=? LIMIT 1`, id)
	var u User
	if err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Password, &u.Role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil
	}
	return &u
}

func EmailExists(email string) (bool, error) {
	if db == nil {
		return false, fmt.Errorf("db is not initialized")
	}
	var n int
	if err := db.QueryRow(`SELECT COUNT(1) FROM users WHERE email=?`, email).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func CreateUser(firstName, lastName, email, password, role string) error {
	if db == nil {
		return fmt.Errorf("db is not initialized")
	}
	_, err := db.Exec(`INSERT INTO users (first_name, last_name, email, password, role) VALUES (?,?,?,?,?)`,
		firstName, lastName, email, password, role)
	return err
}
