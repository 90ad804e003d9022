package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang-reconciliation-engine/internal/fetcher"
	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/tolerance"
	"golang-reconciliation-engine/internal/validator"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3/database"
	"github.com/shopspring/decimal"
)

const sqliteDateLayout = "2006-01-02"

// SQLiteStore persists everything in one SQLite file. Write transactions are
// opened with BEGIN IMMEDIATE so concurrent confirms serialize on the
// database lock before they read balances.
type SQLiteStore struct {
	db     *sql.DB
	logger logger.Logger
}

// NewSQLiteStore opens (or creates) the database at path and applies migrations.
func NewSQLiteStore(ctx context.Context, path string, log logger.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	if path == ":memory:" {
		// every connection would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	log = logger.OrNop(log)
	if err := Migrate(ctx, db, database.DialectSQLite3, log); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: log.WithComponent("sqlite_store")}, nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// withTx runs fn inside a transaction, committing on success.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

// Seed loads reference data, replacing rows with the same key.
func (s *SQLiteStore) Seed(ctx context.Context, data models.Dataset) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, t := range data.Targets {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO targets
				(id, kind, amount, currency, txn_date, counterparty_name, counterparty_id, project_id)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID, string(t.Kind), t.Amount.String(), t.Currency, t.Date.UTC().Format(sqliteDateLayout),
				t.CounterpartyName, t.CounterpartyID, t.ProjectID); err != nil {
				return fmt.Errorf("failed to insert target %s: %w", t.ID, err)
			}
		}
		for _, c := range data.Candidates {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO candidates
				(id, kind, amount, doc_date, counterparty_name, counterparty_id, group_key, project_id)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					kind = excluded.kind, amount = excluded.amount, doc_date = excluded.doc_date,
					counterparty_name = excluded.counterparty_name, counterparty_id = excluded.counterparty_id,
					group_key = excluded.group_key, project_id = excluded.project_id`,
				c.ID, string(c.Kind), c.Amount.String(), c.Date.UTC().Format(sqliteDateLayout),
				c.CounterpartyName, c.CounterpartyID, c.GroupKey, c.ProjectID); err != nil {
				return fmt.Errorf("failed to insert candidate %s: %w", c.ID, err)
			}
		}
		for _, g := range data.Groups {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO group_balances (group_key, total) VALUES (?, ?)`,
				g.GroupKey, g.Total.String()); err != nil {
				return fmt.Errorf("failed to insert group balance %s: %w", g.GroupKey, err)
			}
		}
		for _, l := range data.Lines {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO line_balances (line_key, group_key, remaining_amount, remaining_qty) VALUES (?, ?, ?, ?)`,
				l.LineKey, l.GroupKey, l.RemainingAmount.String(), nullableDecimal(l.RemainingQty)); err != nil {
				return fmt.Errorf("failed to insert line balance %s: %w", l.LineKey, err)
			}
		}
		for _, tw := range data.ThreeWay {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR REPLACE INTO three_way (line_key, ordered_qty, received_qty, invoiced_qty) VALUES (?, ?, ?, ?)`,
				tw.LineKey, tw.OrderedQty.String(), tw.ReceivedQty.String(), tw.InvoicedQty.String()); err != nil {
				return fmt.Errorf("failed to insert three-way status %s: %w", tw.LineKey, err)
			}
		}
		return nil
	})
}

// PutTolerances stores scope overrides.
func (s *SQLiteStore) PutTolerances(ctx context.Context, overrides []tolerance.ScopeOverride) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, o := range overrides {
			var receipt interface{}
			if o.Override.ReceiptRequired != nil {
				receipt = boolToInt(*o.Override.ReceiptRequired)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR REPLACE INTO tolerance_scopes
				(scope, scope_key, amount_tolerance, qty_tolerance, receipt_required, amount_weight, counterparty_weight, date_weight)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				string(o.Scope), o.Key,
				nullableFloat(o.Override.AmountTolerance), nullableFloat(o.Override.QtyTolerance), receipt,
				nullableFloat(o.Override.AmountWeight), nullableFloat(o.Override.CounterpartyWeight), nullableFloat(o.Override.DateWeight),
			); err != nil {
				return fmt.Errorf("failed to store tolerance %s/%s: %w", o.Scope, o.Key, err)
			}
		}
		return nil
	})
}

// GetTolerance implements tolerance.Store.
func (s *SQLiteStore) GetTolerance(ctx context.Context, scope tolerance.Scope, key string) (tolerance.Override, bool, error) {
	var (
		amount, qty, amountW, cpW, dateW sql.NullFloat64
		receipt                          sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT amount_tolerance, qty_tolerance, receipt_required, amount_weight, counterparty_weight, date_weight
		FROM tolerance_scopes WHERE scope = ? AND scope_key = ?`,
		string(scope), key,
	).Scan(&amount, &qty, &receipt, &amountW, &cpW, &dateW)
	if err == sql.ErrNoRows {
		return tolerance.Override{}, false, nil
	}
	if err != nil {
		return tolerance.Override{}, false, err
	}

	o := tolerance.Override{
		AmountTolerance:    floatPtr(amount),
		QtyTolerance:       floatPtr(qty),
		AmountWeight:       floatPtr(amountW),
		CounterpartyWeight: floatPtr(cpW),
		DateWeight:         floatPtr(dateW),
	}
	if receipt.Valid {
		o.ReceiptRequired = tolerance.Bool(receipt.Int64 != 0)
	}
	return o, true, nil
}

// GetTarget returns a stored target by id.
func (s *SQLiteStore) GetTarget(ctx context.Context, id string) (models.Target, error) {
	var (
		t              models.Target
		kind, amt, day string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, amount, currency, txn_date, counterparty_name, counterparty_id, project_id
		FROM targets WHERE id = ?`, id,
	).Scan(&t.ID, &kind, &amt, &t.Currency, &day, &t.CounterpartyName, &t.CounterpartyID, &t.ProjectID)
	if err == sql.ErrNoRows {
		return models.Target{}, errors.NotFound("target", id)
	}
	if err != nil {
		return models.Target{}, err
	}

	t.Kind = models.TargetKind(kind)
	if t.Amount, err = decimal.NewFromString(amt); err != nil {
		return models.Target{}, fmt.Errorf("target %s amount %q: %w", id, amt, fetcher.ErrUnexpectedShape)
	}
	if t.Date, err = time.Parse(sqliteDateLayout, day); err != nil {
		return models.Target{}, fmt.Errorf("target %s date %q: %w", id, day, fetcher.ErrUnexpectedShape)
	}
	return t, nil
}

// FetchCandidates returns open candidates matching filter, in load order.
func (s *SQLiteStore) FetchCandidates(ctx context.Context, filter fetcher.CandidateFilter) ([]models.Candidate, error) {
	query := `
		SELECT id, kind, amount, doc_date, counterparty_name, counterparty_id, group_key, project_id
		FROM candidates WHERE doc_date >= ? AND doc_date < ?`
	args := []interface{}{filter.From.UTC().Format(sqliteDateLayout), filter.To.UTC().Format(sqliteDateLayout)}
	if filter.CounterpartyID != "" {
		query += ` AND counterparty_id = ?`
		args = append(args, filter.CounterpartyID)
	}
	if len(filter.Kinds) > 0 {
		query += ` AND kind IN (` + placeholders(len(filter.Kinds)) + `)`
		for _, k := range filter.Kinds {
			args = append(args, string(k))
		}
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []models.Candidate
	for rows.Next() {
		var (
			c              models.Candidate
			kind, amt, day string
		)
		if err := rows.Scan(&c.ID, &kind, &amt, &day, &c.CounterpartyName, &c.CounterpartyID, &c.GroupKey, &c.ProjectID); err != nil {
			return nil, err
		}
		if c.Kind, err = models.ParseCandidateKind(kind); err != nil {
			return nil, fmt.Errorf("candidate %s: %v: %w", c.ID, err, fetcher.ErrUnexpectedShape)
		}
		if c.Amount, err = decimal.NewFromString(amt); err != nil {
			return nil, fmt.Errorf("candidate %s amount %q: %w", c.ID, amt, fetcher.ErrUnexpectedShape)
		}
		if c.Date, err = time.Parse(sqliteDateLayout, day); err != nil {
			return nil, fmt.Errorf("candidate %s date %q: %w", c.ID, day, fetcher.ErrUnexpectedShape)
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.LineKey()
	}
	lines, err := s.lineBalances(ctx, s.db, keys)
	if err != nil {
		return nil, err
	}
	links, err := s.linksFor(ctx, s.db, keys, nil)
	if err != nil {
		return nil, err
	}

	l := newLedger(links)
	out := make([]models.Candidate, 0, len(candidates))
	for _, c := range candidates {
		var line *models.LineBalance
		if lb, ok := lines[c.LineKey()]; ok {
			line = &lb
		}
		open, ok := l.openCandidate(c, line)
		if ok && filter.Matches(open) {
			out = append(out, open)
		}
	}
	return out, nil
}

// FetchBalances returns open balances for the requested keys and the groups of the requested lines.
func (s *SQLiteStore) FetchBalances(ctx context.Context, groupKeys, lineKeys []string) (models.Balances, error) {
	return s.balances(ctx, s.db, groupKeys, lineKeys, false)
}

// FetchThreeWay returns three-way status with linked quantities counted as invoiced.
func (s *SQLiteStore) FetchThreeWay(ctx context.Context, lineKeys []string) (map[string]models.ThreeWayStatus, error) {
	b, err := s.balances(ctx, s.db, nil, lineKeys, true)
	if err != nil {
		return nil, err
	}
	return b.ThreeWay, nil
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (s *SQLiteStore) balances(ctx context.Context, q queryer, groupKeys, lineKeys []string, withThreeWay bool) (models.Balances, error) {
	b := models.NewBalances()

	lines, err := s.lineBalances(ctx, q, lineKeys)
	if err != nil {
		return b, err
	}
	if err := s.candidateLines(ctx, q, missingLines(lineKeys, lines), lines); err != nil {
		return b, err
	}
	groups := append([]string(nil), groupKeys...)
	for _, line := range lines {
		if line.GroupKey != "" {
			groups = append(groups, line.GroupKey)
		}
	}

	links, err := s.linksFor(ctx, q, lineKeys, groups)
	if err != nil {
		return b, err
	}
	l := newLedger(links)

	for k, line := range lines {
		b.Lines[k] = l.openLine(line)
	}

	if len(groups) > 0 {
		rows, err := q.QueryContext(ctx,
			`SELECT group_key, total FROM group_balances WHERE group_key IN (`+placeholders(len(groups))+`)`,
			stringArgs(groups)...)
		if err != nil {
			return b, err
		}
		defer rows.Close()
		for rows.Next() {
			var key, total string
			if err := rows.Scan(&key, &total); err != nil {
				return b, err
			}
			g := models.GroupBalance{GroupKey: key}
			if g.Total, err = decimal.NewFromString(total); err != nil {
				return b, fmt.Errorf("group %s total %q: %w", key, total, fetcher.ErrUnexpectedShape)
			}
			b.Groups[key] = l.openGroup(g)
		}
		if err := rows.Err(); err != nil {
			return b, err
		}
	}

	if withThreeWay && len(lineKeys) > 0 {
		rows, err := q.QueryContext(ctx,
			`SELECT line_key, ordered_qty, received_qty, invoiced_qty FROM three_way WHERE line_key IN (`+placeholders(len(lineKeys))+`)`,
			stringArgs(lineKeys)...)
		if err != nil {
			return b, err
		}
		defer rows.Close()
		for rows.Next() {
			var key, ordered, received, invoiced string
			if err := rows.Scan(&key, &ordered, &received, &invoiced); err != nil {
				return b, err
			}
			tw, err := parseThreeWay(key, ordered, received, invoiced)
			if err != nil {
				return b, err
			}
			b.ThreeWay[key] = l.openThreeWay(tw)
		}
		if err := rows.Err(); err != nil {
			return b, err
		}
	}

	return b, nil
}

func (s *SQLiteStore) lineBalances(ctx context.Context, q queryer, lineKeys []string) (map[string]models.LineBalance, error) {
	lines := make(map[string]models.LineBalance)
	if len(lineKeys) == 0 {
		return lines, nil
	}
	rows, err := q.QueryContext(ctx,
		`SELECT line_key, group_key, remaining_amount, remaining_qty FROM line_balances WHERE line_key IN (`+placeholders(len(lineKeys))+`)`,
		stringArgs(lineKeys)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			lb        models.LineBalance
			remaining string
			qty       sql.NullString
		)
		if err := rows.Scan(&lb.LineKey, &lb.GroupKey, &remaining, &qty); err != nil {
			return nil, err
		}
		if lb.RemainingAmount, err = decimal.NewFromString(remaining); err != nil {
			return nil, fmt.Errorf("line %s remaining %q: %w", lb.LineKey, remaining, fetcher.ErrUnexpectedShape)
		}
		if qty.Valid {
			d, err := decimal.NewFromString(qty.String)
			if err != nil {
				return nil, fmt.Errorf("line %s qty %q: %w", lb.LineKey, qty.String, fetcher.ErrUnexpectedShape)
			}
			lb.RemainingQty = &d
		}
		lines[lb.LineKey] = lb
	}
	return lines, rows.Err()
}

// candidateLines adds the balance of every candidate among keys to lines.
func (s *SQLiteStore) candidateLines(ctx context.Context, q queryer, keys []string, lines map[string]models.LineBalance) error {
	if len(keys) == 0 {
		return nil
	}
	rows, err := q.QueryContext(ctx,
		`SELECT id, kind, amount, group_key FROM candidates WHERE id IN (`+placeholders(len(keys))+`)`,
		stringArgs(keys)...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			c         models.Candidate
			kind, amt string
		)
		if err := rows.Scan(&c.ID, &kind, &amt, &c.GroupKey); err != nil {
			return err
		}
		if c.Kind, err = models.ParseCandidateKind(kind); err != nil {
			return fmt.Errorf("candidate %s: %v: %w", c.ID, err, fetcher.ErrUnexpectedShape)
		}
		if c.Amount, err = decimal.NewFromString(amt); err != nil {
			return fmt.Errorf("candidate %s amount %q: %w", c.ID, amt, fetcher.ErrUnexpectedShape)
		}
		lines[c.LineKey()] = candidateLine(c)
	}
	return rows.Err()
}

// linksFor reads persisted links drawing from any of the line or group keys.
func (s *SQLiteStore) linksFor(ctx context.Context, q queryer, lineKeys, groupKeys []string) ([]models.Link, error) {
	if len(lineKeys) == 0 && len(groupKeys) == 0 {
		return nil, nil
	}
	query := `SELECT id, target_id, candidate_id, line_id, group_key, amount, quantity, created_by, created_at FROM links WHERE `
	var (
		clauses []string
		args    []interface{}
	)
	if len(lineKeys) > 0 {
		clauses = append(clauses, `line_key IN (`+placeholders(len(lineKeys))+`)`)
		args = append(args, stringArgs(lineKeys)...)
	}
	if len(groupKeys) > 0 {
		clauses = append(clauses, `group_key IN (`+placeholders(len(groupKeys))+`)`)
		args = append(args, stringArgs(groupKeys)...)
	}
	return s.scanLinks(ctx, q, query+strings.Join(clauses, " OR "), args...)
}

func (s *SQLiteStore) scanLinks(ctx context.Context, q queryer, query string, args ...interface{}) ([]models.Link, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []models.Link
	for rows.Next() {
		var (
			l            models.Link
			amt, created string
			qty          sql.NullString
		)
		if err := rows.Scan(&l.ID, &l.TargetID, &l.CandidateID, &l.LineID, &l.GroupKey, &amt, &qty, &l.CreatedBy, &created); err != nil {
			return nil, err
		}
		if l.Amount, err = decimal.NewFromString(amt); err != nil {
			return nil, fmt.Errorf("link %s amount %q: %w", l.ID, amt, fetcher.ErrUnexpectedShape)
		}
		if qty.Valid {
			d, err := decimal.NewFromString(qty.String)
			if err != nil {
				return nil, fmt.Errorf("link %s quantity %q: %w", l.ID, qty.String, fetcher.ErrUnexpectedShape)
			}
			l.Quantity = &d
		}
		if l.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("link %s created_at %q: %w", l.ID, created, fetcher.ErrUnexpectedShape)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// WriteLinksTransactional re-reads balances inside an immediate transaction,
// runs check and writes the links and event only when it passes.
func (s *SQLiteStore) WriteLinksTransactional(ctx context.Context, batch models.LinkBatch, check validator.CheckFunc) (bool, []models.Violation, error) {
	var violations []models.Violation

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		proposed := batch.ProposedLinks()
		balances, err := s.balances(ctx, tx, validator.GroupKeys(proposed), validator.LineKeys(proposed), true)
		if err != nil {
			return err
		}
		if check != nil {
			if violations = check(proposed, balances); len(violations) > 0 {
				return nil
			}
		}
		batch.Links = resolveGroupKeys(batch.Links, balances.Lines)

		for _, l := range batch.Links {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO links
				(id, target_id, candidate_id, line_id, line_key, group_key, amount, quantity, created_by, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				l.ID, l.TargetID, l.CandidateID, l.LineID, l.LineKey(), l.GroupKey,
				l.Amount.String(), nullableDecimal(l.Quantity), l.CreatedBy, l.CreatedAt.UTC().Format(time.RFC3339Nano),
			); err != nil {
				return fmt.Errorf("failed to insert link %s: %w", l.ID, err)
			}
		}
		return insertEvent(ctx, tx, batch.Event)
	})
	if err != nil {
		return false, nil, err
	}
	if len(violations) > 0 {
		return false, violations, nil
	}

	s.logger.WithFields(logger.Fields{
		"target_id": batch.Event.TargetID,
		"links":     len(batch.Links),
	}).Debug("Links written")
	return true, nil, nil
}

// WriteEvent appends an audit event.
func (s *SQLiteStore) WriteEvent(ctx context.Context, event models.MatchEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertEvent(ctx, tx, event)
	})
}

func insertEvent(ctx context.Context, tx *sql.Tx, e models.MatchEvent) error {
	candidateIDs, _ := json.Marshal(nonNilStrings(e.CandidateIDs))
	chosenIDs, _ := json.Marshal(nonNilStrings(e.ChosenIDs))
	reasons, _ := json.Marshal(nonNilStrings(e.Reasons))
	metadata := []byte("{}")
	if len(e.Metadata) > 0 {
		metadata, _ = json.Marshal(e.Metadata)
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO match_events
		(id, target_id, candidate_ids, chosen_ids, confidence, reasons, accepted, actor, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TargetID, string(candidateIDs), string(chosenIDs), e.Confidence, string(reasons),
		boolToInt(e.Accepted), e.Actor, string(metadata), e.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", e.ID, err)
	}
	return nil
}

// Links returns the persisted links of a target, or all links for an empty id.
func (s *SQLiteStore) Links(ctx context.Context, targetID string) ([]models.Link, error) {
	query := `SELECT id, target_id, candidate_id, line_id, group_key, amount, quantity, created_by, created_at FROM links`
	var args []interface{}
	if targetID != "" {
		query += ` WHERE target_id = ?`
		args = append(args, targetID)
	}
	return s.scanLinks(ctx, s.db, query+` ORDER BY created_at, id`, args...)
}

// Events returns the audit events of a target, or all events for an empty id, oldest first.
func (s *SQLiteStore) Events(ctx context.Context, targetID string) ([]models.MatchEvent, error) {
	query := `SELECT id, target_id, candidate_ids, chosen_ids, confidence, reasons, accepted, actor, metadata, created_at FROM match_events`
	var args []interface{}
	if targetID != "" {
		query += ` WHERE target_id = ?`
		args = append(args, targetID)
	}
	rows, err := s.db.QueryContext(ctx, query+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.MatchEvent
	for rows.Next() {
		var (
			e                                               models.MatchEvent
			candidateIDs, chosenIDs, reasons, meta, created string
			accepted                                        int
		)
		if err := rows.Scan(&e.ID, &e.TargetID, &candidateIDs, &chosenIDs, &e.Confidence, &reasons, &accepted, &e.Actor, &meta, &created); err != nil {
			return nil, err
		}
		if err := decodeEventJSON(&e, candidateIDs, chosenIDs, reasons, meta); err != nil {
			return nil, err
		}
		e.Accepted = accepted != 0
		if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("event %s created_at %q: %w", e.ID, created, fetcher.ErrUnexpectedShape)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func decodeEventJSON(e *models.MatchEvent, candidateIDs, chosenIDs, reasons, meta string) error {
	for _, field := range []struct {
		raw string
		dst interface{}
	}{
		{candidateIDs, &e.CandidateIDs},
		{chosenIDs, &e.ChosenIDs},
		{reasons, &e.Reasons},
		{meta, &e.Metadata},
	} {
		if err := json.Unmarshal([]byte(field.raw), field.dst); err != nil {
			return fmt.Errorf("event %s: %v: %w", e.ID, err, fetcher.ErrUnexpectedShape)
		}
	}
	if len(e.Metadata) == 0 {
		e.Metadata = nil
	}
	return nil
}

func parseThreeWay(key, ordered, received, invoiced string) (models.ThreeWayStatus, error) {
	tw := models.ThreeWayStatus{LineKey: key}
	var err error
	if tw.OrderedQty, err = decimal.NewFromString(ordered); err != nil {
		return tw, fmt.Errorf("three-way %s ordered %q: %w", key, ordered, fetcher.ErrUnexpectedShape)
	}
	if tw.ReceivedQty, err = decimal.NewFromString(received); err != nil {
		return tw, fmt.Errorf("three-way %s received %q: %w", key, received, fetcher.ErrUnexpectedShape)
	}
	if tw.InvoicedQty, err = decimal.NewFromString(invoiced); err != nil {
		return tw, fmt.Errorf("three-way %s invoiced %q: %w", key, invoiced, fetcher.ErrUnexpectedShape)
	}
	return tw, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

func nullableDecimal(d *decimal.Decimal) interface{} {
	if d == nil {
		return nil
	}
	return d.String()
}

func nullableFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func floatPtr(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	return tolerance.Float(f.Float64)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
