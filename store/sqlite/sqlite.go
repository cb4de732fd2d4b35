/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements every persistence interface of the engine and the claims
  workflow using SQLite. In production, the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  benefit.CatalogStore:    Coverage lookups
  benefit.CatalogWriter:   Administrative authoring
  benefit.UsageStore:      Usage counters (atomic increment)
  benefit.MembershipStore: Pet-to-plan memberships
  claims.Store:            Claim records
  claims.UsageAudit:       Usage event trail

ATOMIC INCREMENT:
  IncrementUsage is a single statement:

    INSERT ... VALUES (..., 1)
    ON CONFLICT(pet_id, procedure_id, plan_id, year)
    DO UPDATE SET count = count + 1
    RETURNING count

  Creation and increment happen in one step, so two concurrent commits
  of the same key always return N+1 and N+2.

APPEND-ONLY ENFORCEMENT:
  - usage_records: no statement lowers count (Reset wipes demo data only)
  - usage_events:  insert only

KEY TABLES:
  plans, procedures, coverage_rules: Catalog
  pets, memberships:                 Who is covered by what, since when
  usage_records:                     One row per (pet, procedure, plan, year)
  usage_events:                      One row per committed use
  claims:                            Adjudicated claims with their decision

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/benefit.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  ledger := benefit.NewLedger(store)
  catalog := benefit.NewCachedCatalog(benefit.NewCatalog(store))

SEE ALSO:
  - benefit/store.go: Interfaces
  - benefit/store/memory.go: In-memory implementation for testing
  - store/redis/redis.go: Alternative usage ledger
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/warp/benefit-engine/benefit"
	"github.com/warp/benefit-engine/claims"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Catalog
	CREATE TABLE IF NOT EXISTS plans (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		plan_type TEXT NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS procedures (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		category TEXT NOT NULL DEFAULT '',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS coverage_rules (
		plan_id TEXT NOT NULL REFERENCES plans(id),
		procedure_id TEXT NOT NULL REFERENCES procedures(id),
		is_included BOOLEAN NOT NULL,
		gross_price_cents INTEGER NOT NULL,
		payer_value_cents INTEGER NOT NULL,
		coparticipation_cents INTEGER NOT NULL,
		waiting_period_days INTEGER NOT NULL DEFAULT 0,
		annual_limit INTEGER NOT NULL DEFAULT 0,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (plan_id, procedure_id)
	);

	-- Pets and memberships
	CREATE TABLE IF NOT EXISTS pets (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		species TEXT NOT NULL DEFAULT '',
		owner_name TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS memberships (
		id TEXT PRIMARY KEY,
		pet_id TEXT NOT NULL REFERENCES pets(id),
		plan_id TEXT NOT NULL REFERENCES plans(id),
		coverage_start TEXT NOT NULL,
		coverage_end TEXT,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memberships_pet
		ON memberships(pet_id, coverage_start);

	-- Usage ledger: count only ever goes up
	CREATE TABLE IF NOT EXISTS usage_records (
		pet_id TEXT NOT NULL,
		procedure_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		count INTEGER NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (pet_id, procedure_id, plan_id, year)
	);

	CREATE INDEX IF NOT EXISTS idx_usage_records_pet_year
		ON usage_records(pet_id, year);

	CREATE TABLE IF NOT EXISTS usage_events (
		id TEXT PRIMARY KEY,
		pet_id TEXT NOT NULL,
		procedure_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		year INTEGER NOT NULL,
		claim_id TEXT NOT NULL,
		count_after INTEGER NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_usage_events_key
		ON usage_events(pet_id, procedure_id, plan_id, year);

	-- Claims
	CREATE TABLE IF NOT EXISTS claims (
		id TEXT PRIMARY KEY,
		pet_id TEXT NOT NULL,
		procedure_id TEXT NOT NULL,
		plan_id TEXT NOT NULL,
		unit_id TEXT NOT NULL DEFAULT '',
		membership_id TEXT NOT NULL DEFAULT '',
		requested_at TEXT NOT NULL,
		status TEXT NOT NULL,
		reason TEXT NOT NULL,
		allowed BOOLEAN NOT NULL,
		gross_cents INTEGER NOT NULL,
		payer_value_cents INTEGER NOT NULL,
		coparticipation_cents INTEGER NOT NULL,
		remaining_uses INTEGER NOT NULL,
		annual_limit INTEGER NOT NULL,
		eligible_on TEXT,
		usage_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_claims_pet
		ON claims(pet_id, created_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// CATALOG (benefit.CatalogStore / benefit.CatalogWriter)
// =============================================================================

// SavePlan inserts or updates a plan.
func (s *Store) SavePlan(ctx context.Context, p benefit.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := timestamp(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plans (id, name, plan_type, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			plan_type = excluded.plan_type,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, p.Type, p.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to save plan: %w", err)
	}
	return nil
}

// GetPlan returns nil, nil when the plan does not exist.
func (s *Store) GetPlan(ctx context.Context, id benefit.PlanID) (*benefit.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p benefit.Plan
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, plan_type, active FROM plans WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.Type, &p.Active)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPlans returns all plans ordered by name.
func (s *Store) ListPlans(ctx context.Context) ([]benefit.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, plan_type, active FROM plans ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []benefit.Plan
	for rows.Next() {
		var p benefit.Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.Type, &p.Active); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// SaveProcedure inserts or updates a procedure.
func (s *Store) SaveProcedure(ctx context.Context, p benefit.Procedure) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := timestamp(time.Now())
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO procedures (id, name, category, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			category = excluded.category,
			active = excluded.active,
			updated_at = excluded.updated_at
	`, p.ID, p.Name, p.Category, p.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to save procedure: %w", err)
	}
	return nil
}

// ListProcedures returns all procedures ordered by name.
func (s *Store) ListProcedures(ctx context.Context) ([]benefit.Procedure, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT id, name, category, active FROM procedures ORDER BY name, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []benefit.Procedure
	for rows.Next() {
		var p benefit.Procedure
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.Active); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// SaveCoverageRule inserts or replaces the rule for a (plan, procedure) pair.
func (s *Store) SaveCoverageRule(ctx context.Context, r benefit.CoverageRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coverage_rules
		(plan_id, procedure_id, is_included, gross_price_cents, payer_value_cents,
		 coparticipation_cents, waiting_period_days, annual_limit, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(plan_id, procedure_id) DO UPDATE SET
			is_included = excluded.is_included,
			gross_price_cents = excluded.gross_price_cents,
			payer_value_cents = excluded.payer_value_cents,
			coparticipation_cents = excluded.coparticipation_cents,
			waiting_period_days = excluded.waiting_period_days,
			annual_limit = excluded.annual_limit,
			updated_at = excluded.updated_at
	`,
		r.PlanID, r.ProcedureID, r.IsIncluded,
		r.GrossPrice.Int64(), r.PayerValue.Int64(), r.Coparticipation.Int64(),
		r.WaitingPeriodDays, r.AnnualLimit,
		timestamp(time.Now()),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("coverage rule %s/%s references an unknown plan or procedure: %w",
				r.PlanID, r.ProcedureID, err)
		}
		return fmt.Errorf("failed to save coverage rule: %w", err)
	}
	return nil
}

const coverageColumns = `plan_id, procedure_id, is_included, gross_price_cents, payer_value_cents,
	coparticipation_cents, waiting_period_days, annual_limit`

// GetCoverageRule returns found=false when the pair has no rule.
func (s *Store) GetCoverageRule(ctx context.Context, plan benefit.PlanID, procedure benefit.ProcedureID) (benefit.CoverageRule, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT "+coverageColumns+" FROM coverage_rules WHERE plan_id = ? AND procedure_id = ?",
		plan, procedure)
	r, err := scanCoverageRule(row)
	if err == sql.ErrNoRows {
		return benefit.CoverageRule{}, false, nil
	}
	if err != nil {
		return benefit.CoverageRule{}, false, err
	}
	return r, true, nil
}

// ListCoverageRules returns every rule of a plan.
func (s *Store) ListCoverageRules(ctx context.Context, plan benefit.PlanID) ([]benefit.CoverageRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+coverageColumns+" FROM coverage_rules WHERE plan_id = ? ORDER BY procedure_id", plan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []benefit.CoverageRule
	for rows.Next() {
		r, err := scanCoverageRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *Store) PlanExists(ctx context.Context, plan benefit.PlanID) (bool, error) {
	return s.exists(ctx, "SELECT 1 FROM plans WHERE id = ?", plan)
}

func (s *Store) ProcedureExists(ctx context.Context, procedure benefit.ProcedureID) (bool, error) {
	return s.exists(ctx, "SELECT 1 FROM procedures WHERE id = ?", procedure)
}

func (s *Store) exists(ctx context.Context, query string, arg any) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CatalogVersion summarizes the catalog tables. It changes on every plan,
// procedure or rule write, and when rows are removed by Reset.
func (s *Store) CatalogVersion(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var version string
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) || '@' || COALESCE(MAX(updated_at), '') FROM plans) || '/' ||
			(SELECT COUNT(*) || '@' || COALESCE(MAX(updated_at), '') FROM procedures) || '/' ||
			(SELECT COUNT(*) || '@' || COALESCE(MAX(updated_at), '') FROM coverage_rules)
	`).Scan(&version)
	if err != nil {
		return "", fmt.Errorf("failed to read catalog version: %w", err)
	}
	return version, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCoverageRule(row scanner) (benefit.CoverageRule, error) {
	var r benefit.CoverageRule
	var gross, payer, copay int64
	err := row.Scan(&r.PlanID, &r.ProcedureID, &r.IsIncluded, &gross, &payer, &copay,
		&r.WaitingPeriodDays, &r.AnnualLimit)
	if err != nil {
		return benefit.CoverageRule{}, err
	}
	r.GrossPrice = benefit.Cents(gross)
	r.PayerValue = benefit.Cents(payer)
	r.Coparticipation = benefit.Cents(copay)
	return r, nil
}

// =============================================================================
// PETS
// =============================================================================

// Pet is the covered animal. Owned by the membership system; kept here so
// claims and memberships have something to point at.
type Pet struct {
	ID        benefit.PetID
	Name      string
	Species   string
	OwnerName string
	CreatedAt time.Time
}

// SavePet inserts or updates a pet.
func (s *Store) SavePet(ctx context.Context, p Pet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pets (id, name, species, owner_name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			species = excluded.species,
			owner_name = excluded.owner_name
	`, p.ID, p.Name, p.Species, p.OwnerName, timestamp(time.Now()))
	return err
}

// GetPet returns nil, nil when the pet does not exist.
func (s *Store) GetPet(ctx context.Context, id benefit.PetID) (*Pet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var p Pet
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, species, owner_name, created_at FROM pets WHERE id = ?", id,
	).Scan(&p.ID, &p.Name, &p.Species, &p.OwnerName, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTimestamp(createdAt)
	return &p, nil
}

// =============================================================================
// MEMBERSHIPS (benefit.MembershipStore)
// =============================================================================

// SaveMembership inserts or updates a membership.
func (s *Store) SaveMembership(ctx context.Context, m benefit.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var end sql.NullString
	if m.CoverageEnd != nil {
		end = sql.NullString{String: m.CoverageEnd.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (id, pet_id, plan_id, coverage_start, coverage_end, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			plan_id = excluded.plan_id,
			coverage_start = excluded.coverage_start,
			coverage_end = excluded.coverage_end
	`, m.ID, m.PetID, m.PlanID, m.CoverageStart.String(), end, timestamp(time.Now()))
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("membership %s references an unknown pet or plan: %w", m.ID, err)
		}
		return fmt.Errorf("failed to save membership: %w", err)
	}
	return nil
}

// GetMembershipsByPet returns a pet's memberships, oldest first.
func (s *Store) GetMembershipsByPet(ctx context.Context, pet benefit.PetID) ([]benefit.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pet_id, plan_id, coverage_start, coverage_end
		FROM memberships WHERE pet_id = ? ORDER BY coverage_start, id
	`, pet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []benefit.Membership
	for rows.Next() {
		var m benefit.Membership
		var start string
		var end sql.NullString
		if err := rows.Scan(&m.ID, &m.PetID, &m.PlanID, &start, &end); err != nil {
			return nil, err
		}
		if m.CoverageStart, err = benefit.ParseDate(start); err != nil {
			return nil, fmt.Errorf("membership %s: bad coverage_start %q: %w", m.ID, start, err)
		}
		if end.Valid {
			d, err := benefit.ParseDate(end.String)
			if err != nil {
				return nil, fmt.Errorf("membership %s: bad coverage_end %q: %w", m.ID, end.String, err)
			}
			m.CoverageEnd = &d
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// =============================================================================
// USAGE (benefit.UsageStore / claims.UsageAudit)
// =============================================================================

// UsageCount returns 0 when no record exists yet.
func (s *Store) UsageCount(ctx context.Context, key benefit.UsageKey) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT count FROM usage_records
		WHERE pet_id = ? AND procedure_id = ? AND plan_id = ? AND year = ?
	`, key.PetID, key.ProcedureID, key.PlanID, key.Year).Scan(&count)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return count, nil
}

// IncrementUsage creates or bumps the record and returns the new count.
func (s *Store) IncrementUsage(ctx context.Context, key benefit.UsageKey, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO usage_records (pet_id, procedure_id, plan_id, year, count, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT(pet_id, procedure_id, plan_id, year) DO UPDATE SET
			count = count + 1,
			updated_at = excluded.updated_at
		RETURNING count
	`, key.PetID, key.ProcedureID, key.PlanID, key.Year, timestamp(at)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return count, nil
}

// ListUsage returns a pet's counters for a year.
func (s *Store) ListUsage(ctx context.Context, pet benefit.PetID, year int) ([]benefit.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT pet_id, procedure_id, plan_id, year, count, updated_at
		FROM usage_records WHERE pet_id = ? AND year = ?
		ORDER BY procedure_id, plan_id
	`, pet, year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []benefit.UsageRecord
	for rows.Next() {
		var r benefit.UsageRecord
		var updatedAt string
		if err := rows.Scan(&r.Key.PetID, &r.Key.ProcedureID, &r.Key.PlanID, &r.Key.Year, &r.Count, &updatedAt); err != nil {
			return nil, err
		}
		r.UpdatedAt = parseTimestamp(updatedAt)
		result = append(result, r)
	}
	return result, rows.Err()
}

// AppendUsageEvent records one committed use. Insert only.
func (s *Store) AppendUsageEvent(ctx context.Context, e claims.UsageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_events (id, pet_id, procedure_id, plan_id, year, claim_id, count_after, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.Key.PetID, e.Key.ProcedureID, e.Key.PlanID, e.Key.Year, e.ClaimID, e.CountAfter, timestamp(e.At))
	if err != nil {
		return fmt.Errorf("failed to append usage event: %w", err)
	}
	return nil
}

// ListUsageEvents returns the audit trail for one counter, oldest first.
func (s *Store) ListUsageEvents(ctx context.Context, key benefit.UsageKey) ([]claims.UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, pet_id, procedure_id, plan_id, year, claim_id, count_after, created_at
		FROM usage_events
		WHERE pet_id = ? AND procedure_id = ? AND plan_id = ? AND year = ?
		ORDER BY count_after
	`, key.PetID, key.ProcedureID, key.PlanID, key.Year)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []claims.UsageEvent
	for rows.Next() {
		var e claims.UsageEvent
		var at string
		if err := rows.Scan(&e.ID, &e.Key.PetID, &e.Key.ProcedureID, &e.Key.PlanID, &e.Key.Year,
			&e.ClaimID, &e.CountAfter, &at); err != nil {
			return nil, err
		}
		e.At = parseTimestamp(at)
		result = append(result, e)
	}
	return result, rows.Err()
}

// =============================================================================
// CLAIMS (claims.Store)
// =============================================================================

// SaveClaim inserts a claim. Claims are immutable once written.
func (s *Store) SaveClaim(ctx context.Context, c claims.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := c.Decision
	var eligibleOn sql.NullString
	if !d.EligibleOn.IsZero() {
		eligibleOn = sql.NullString{String: d.EligibleOn.String(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO claims
		(id, pet_id, procedure_id, plan_id, unit_id, membership_id, requested_at,
		 status, reason, allowed, gross_cents, payer_value_cents, coparticipation_cents,
		 remaining_uses, annual_limit, eligible_on, usage_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		c.ID, c.PetID, c.ProcedureID, c.PlanID, c.UnitID, c.MembershipID, c.RequestedAt.String(),
		c.Status, d.Reason, d.Allowed, d.Gross.Int64(), d.PayerValue.Int64(), d.Coparticipation.Int64(),
		int(d.RemainingAnnualUses), d.AnnualLimit, eligibleOn, c.UsageCount, timestamp(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save claim: %w", err)
	}
	return nil
}

const claimColumns = `id, pet_id, procedure_id, plan_id, unit_id, membership_id, requested_at,
	status, reason, allowed, gross_cents, payer_value_cents, coparticipation_cents,
	remaining_uses, annual_limit, eligible_on, usage_count, created_at`

// GetClaim returns nil, nil when the claim does not exist.
func (s *Store) GetClaim(ctx context.Context, id string) (*claims.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, err := scanClaim(s.db.QueryRowContext(ctx, "SELECT "+claimColumns+" FROM claims WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListClaimsByPet returns a pet's claims, newest first.
func (s *Store) ListClaimsByPet(ctx context.Context, pet benefit.PetID) ([]claims.Claim, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+claimColumns+" FROM claims WHERE pet_id = ? ORDER BY created_at DESC, id", pet)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []claims.Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func scanClaim(row scanner) (claims.Claim, error) {
	var c claims.Claim
	var requestedAt, createdAt string
	var eligibleOn sql.NullString
	var gross, payer, copay int64
	var remaining int

	err := row.Scan(&c.ID, &c.PetID, &c.ProcedureID, &c.PlanID, &c.UnitID, &c.MembershipID, &requestedAt,
		&c.Status, &c.Decision.Reason, &c.Decision.Allowed, &gross, &payer, &copay,
		&remaining, &c.Decision.AnnualLimit, &eligibleOn, &c.UsageCount, &createdAt)
	if err != nil {
		return claims.Claim{}, err
	}

	if c.RequestedAt, err = benefit.ParseDate(requestedAt); err != nil {
		return claims.Claim{}, fmt.Errorf("claim %s: bad requested_at %q: %w", c.ID, requestedAt, err)
	}
	if eligibleOn.Valid {
		if c.Decision.EligibleOn, err = benefit.ParseDate(eligibleOn.String); err != nil {
			return claims.Claim{}, fmt.Errorf("claim %s: bad eligible_on %q: %w", c.ID, eligibleOn.String, err)
		}
	}
	c.CreatedAt = parseTimestamp(createdAt)

	c.Decision.PetID = c.PetID
	c.Decision.ProcedureID = c.ProcedureID
	c.Decision.PlanID = c.PlanID
	c.Decision.AsOf = c.RequestedAt
	c.Decision.Gross = benefit.Cents(gross)
	c.Decision.PayerValue = benefit.Cents(payer)
	c.Decision.Coparticipation = benefit.Cents(copay)
	c.Decision.RemainingAnnualUses = benefit.Uses(remaining)
	return c, nil
}

// =============================================================================
// ADMIN
// =============================================================================

// Reset clears every table. Used by the demo scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"claims", "usage_events", "usage_records", "memberships", "pets", "coverage_rules", "procedures", "plans"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTimestamp(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isForeignKeyError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}
