// Package dbtest opens isolated SQLite databases carrying the settlement schema.
package dbtest

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Open returns a fresh in-memory database private to the calling test.
// The pool is pinned to one connection so concurrent goroutines serialize on
// transactions instead of failing with SQLITE_LOCKED.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000&_foreign_keys=on", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range strings.Split(schema, ";\n") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v\n%s", err, stmt)
		}
	}
	return conn
}

const schema = `
CREATE TABLE providers (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  status TEXT NOT NULL,
  verified BOOLEAN NOT NULL DEFAULT 0,
  commission_type TEXT NOT NULL,
  commission_rate TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME
);

CREATE TABLE provider_members (
  id TEXT PRIMARY KEY,
  provider_id TEXT NOT NULL REFERENCES providers(id),
  user_id TEXT NOT NULL,
  role TEXT NOT NULL,
  active BOOLEAN NOT NULL DEFAULT 1,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (provider_id, user_id)
);

CREATE TABLE provider_stats (
  provider_id TEXT PRIMARY KEY,
  status_counts TEXT NOT NULL,
  total_deliveries INTEGER NOT NULL DEFAULT 0,
  lifetime_earnings TEXT NOT NULL,
  unclaimed_commission TEXT NOT NULL,
  pending_payout_total TEXT NOT NULL,
  computed_at DATETIME NOT NULL
);

CREATE TABLE deliveries (
  id TEXT PRIMARY KEY,
  order_id TEXT NOT NULL,
  store_id TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  provider_id TEXT,
  partner_id TEXT,
  status TEXT NOT NULL,
  version INTEGER NOT NULL DEFAULT 1,
  delivery_fee TEXT NOT NULL,
  partner_commission TEXT,
  tracking_number TEXT NOT NULL,
  expected_delivery_date DATETIME,
  delivered_at DATETIME,
  buyer_confirmed BOOLEAN NOT NULL DEFAULT 0,
  buyer_confirmed_at DATETIME,
  confirmation_trigger TEXT,
  proof_of_delivery_ref TEXT,
  auto_confirm_at DATETIME,
  timeout_suspended BOOLEAN NOT NULL DEFAULT 0,
  timeout_suspended_at DATETIME,
  items TEXT NOT NULL,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (order_id, store_id)
);

CREATE TABLE delivery_events (
  id TEXT PRIMARY KEY,
  delivery_id TEXT NOT NULL REFERENCES deliveries(id),
  sequence INTEGER NOT NULL,
  kind TEXT NOT NULL,
  from_status TEXT,
  to_status TEXT,
  actor_user_id TEXT,
  actor_role TEXT NOT NULL,
  note TEXT,
  reason TEXT,
  previous_assignee_id TEXT,
  new_assignee_id TEXT,
  created_at DATETIME,
  UNIQUE (delivery_id, sequence)
);

CREATE TABLE sweep_cursors (
  name TEXT PRIMARY KEY,
  cursor_at DATETIME,
  cursor_id TEXT,
  updated_at DATETIME
);

CREATE TABLE escrow_holds (
  id TEXT PRIMARY KEY,
  delivery_id TEXT NOT NULL UNIQUE REFERENCES deliveries(id),
  order_id TEXT NOT NULL,
  amount TEXT NOT NULL,
  status TEXT NOT NULL,
  release_trigger TEXT,
  released_at DATETIME,
  refunded_at DATETIME,
  refund_reason TEXT,
  created_at DATETIME,
  updated_at DATETIME
);

CREATE TABLE payouts (
  id TEXT PRIMARY KEY,
  provider_id TEXT NOT NULL,
  period_start DATETIME NOT NULL,
  period_end DATETIME NOT NULL,
  delivery_count INTEGER NOT NULL DEFAULT 0,
  amount TEXT NOT NULL,
  status TEXT NOT NULL,
  payment_method TEXT,
  payment_reference TEXT,
  failure_reason TEXT,
  cancel_reason TEXT,
  processed_at DATETIME,
  completed_at DATETIME,
  failed_at DATETIME,
  cancelled_at DATETIME,
  claims_released_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);

CREATE UNIQUE INDEX ux_payouts_provider_period
  ON payouts (provider_id, period_start, period_end)
  WHERE status <> 'cancelled';

CREATE TABLE commissions (
  id TEXT PRIMARY KEY,
  delivery_id TEXT NOT NULL UNIQUE REFERENCES deliveries(id),
  provider_id TEXT NOT NULL,
  partner_id TEXT,
  policy_type TEXT NOT NULL,
  rate TEXT NOT NULL,
  delivery_fee TEXT NOT NULL,
  amount TEXT NOT NULL,
  computed_at DATETIME NOT NULL,
  payout_id TEXT REFERENCES payouts(id),
  created_at DATETIME
);

CREATE TABLE ledger_events (
  id TEXT PRIMARY KEY,
  type TEXT NOT NULL,
  delivery_id TEXT,
  provider_id TEXT,
  commission_id TEXT,
  payout_id TEXT,
  actor_user_id TEXT,
  amount TEXT NOT NULL,
  note TEXT,
  metadata TEXT,
  created_at DATETIME
);

CREATE TABLE outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);

CREATE TABLE outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
)
`
