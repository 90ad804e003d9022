package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"golang-reconciliation-engine/internal/fetcher"
	"golang-reconciliation-engine/internal/models"
	"golang-reconciliation-engine/internal/tolerance"
	"golang-reconciliation-engine/internal/validator"
	"golang-reconciliation-engine/pkg/errors"
	"golang-reconciliation-engine/pkg/logger"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3/database"
	"github.com/shopspring/decimal"
)

// PostgresStore runs against a pgx connection pool. Confirms lock the
// affected candidate, group and line rows with SELECT ... FOR UPDATE, always
// in key order, before re-reading balances.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger logger.Logger
}

// NewPostgresStore connects, pings and applies migrations.
func NewPostgresStore(ctx context.Context, url string, maxConns int32, log logger.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log = logger.OrNop(log)
	db := stdlib.OpenDBFromPool(pool)
	if err := Migrate(ctx, db, database.DialectPostgres, log); err != nil {
		_ = db.Close()
		pool.Close()
		return nil, err
	}
	_ = db.Close()

	return &PostgresStore{pool: pool, logger: log.WithComponent("postgres_store")}, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) withTx(ctx context.Context, fn func(pgx.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()
	return fn(tx)
}

// Seed loads reference data, replacing rows with the same key.
func (s *PostgresStore) Seed(ctx context.Context, data models.Dataset) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, t := range data.Targets {
			batch.Queue(`
				INSERT INTO targets (id, kind, amount, currency, txn_date, counterparty_name, counterparty_id, project_id)
				VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)
				ON CONFLICT (id) DO UPDATE SET
					kind = EXCLUDED.kind, amount = EXCLUDED.amount, currency = EXCLUDED.currency,
					txn_date = EXCLUDED.txn_date, counterparty_name = EXCLUDED.counterparty_name,
					counterparty_id = EXCLUDED.counterparty_id, project_id = EXCLUDED.project_id`,
				t.ID, string(t.Kind), t.Amount.String(), t.Currency, t.Date.UTC(),
				t.CounterpartyName, t.CounterpartyID, t.ProjectID)
		}
		for _, c := range data.Candidates {
			batch.Queue(`
				INSERT INTO candidates (id, kind, amount, doc_date, counterparty_name, counterparty_id, group_key, project_id)
				VALUES ($1, $2, $3::numeric, $4, $5, $6, $7, $8)
				ON CONFLICT (id) DO UPDATE SET
					kind = EXCLUDED.kind, amount = EXCLUDED.amount, doc_date = EXCLUDED.doc_date,
					counterparty_name = EXCLUDED.counterparty_name, counterparty_id = EXCLUDED.counterparty_id,
					group_key = EXCLUDED.group_key, project_id = EXCLUDED.project_id`,
				c.ID, string(c.Kind), c.Amount.String(), c.Date.UTC(),
				c.CounterpartyName, c.CounterpartyID, c.GroupKey, c.ProjectID)
		}
		for _, g := range data.Groups {
			batch.Queue(`
				INSERT INTO group_balances (group_key, total) VALUES ($1, $2::numeric)
				ON CONFLICT (group_key) DO UPDATE SET total = EXCLUDED.total`,
				g.GroupKey, g.Total.String())
		}
		for _, l := range data.Lines {
			batch.Queue(`
				INSERT INTO line_balances (line_key, group_key, remaining_amount, remaining_qty)
				VALUES ($1, $2, $3::numeric, $4::numeric)
				ON CONFLICT (line_key) DO UPDATE SET
					group_key = EXCLUDED.group_key, remaining_amount = EXCLUDED.remaining_amount,
					remaining_qty = EXCLUDED.remaining_qty`,
				l.LineKey, l.GroupKey, l.RemainingAmount.String(), nullableDecimal(l.RemainingQty))
		}
		for _, tw := range data.ThreeWay {
			batch.Queue(`
				INSERT INTO three_way (line_key, ordered_qty, received_qty, invoiced_qty)
				VALUES ($1, $2::numeric, $3::numeric, $4::numeric)
				ON CONFLICT (line_key) DO UPDATE SET
					ordered_qty = EXCLUDED.ordered_qty, received_qty = EXCLUDED.received_qty,
					invoiced_qty = EXCLUDED.invoiced_qty`,
				tw.LineKey, tw.OrderedQty.String(), tw.ReceivedQty.String(), tw.InvoicedQty.String())
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

// PutTolerances stores scope overrides.
func (s *PostgresStore) PutTolerances(ctx context.Context, overrides []tolerance.ScopeOverride) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		for _, o := range overrides {
			if _, err := tx.Exec(ctx, `
				INSERT INTO tolerance_scopes
				(scope, scope_key, amount_tolerance, qty_tolerance, receipt_required, amount_weight, counterparty_weight, date_weight)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (scope, scope_key) DO UPDATE SET
					amount_tolerance = EXCLUDED.amount_tolerance, qty_tolerance = EXCLUDED.qty_tolerance,
					receipt_required = EXCLUDED.receipt_required, amount_weight = EXCLUDED.amount_weight,
					counterparty_weight = EXCLUDED.counterparty_weight, date_weight = EXCLUDED.date_weight`,
				string(o.Scope), o.Key,
				o.Override.AmountTolerance, o.Override.QtyTolerance, o.Override.ReceiptRequired,
				o.Override.AmountWeight, o.Override.CounterpartyWeight, o.Override.DateWeight,
			); err != nil {
				return fmt.Errorf("failed to store tolerance %s/%s: %w", o.Scope, o.Key, err)
			}
		}
		return nil
	})
}

// GetTolerance implements tolerance.Store.
func (s *PostgresStore) GetTolerance(ctx context.Context, scope tolerance.Scope, key string) (tolerance.Override, bool, error) {
	var o tolerance.Override
	err := s.pool.QueryRow(ctx, `
		SELECT amount_tolerance, qty_tolerance, receipt_required, amount_weight, counterparty_weight, date_weight
		FROM tolerance_scopes WHERE scope = $1 AND scope_key = $2`,
		string(scope), key,
	).Scan(&o.AmountTolerance, &o.QtyTolerance, &o.ReceiptRequired, &o.AmountWeight, &o.CounterpartyWeight, &o.DateWeight)
	if err == pgx.ErrNoRows {
		return tolerance.Override{}, false, nil
	}
	if err != nil {
		return tolerance.Override{}, false, err
	}
	return o, true, nil
}

// GetTarget returns a stored target by id.
func (s *PostgresStore) GetTarget(ctx context.Context, id string) (models.Target, error) {
	var (
		t         models.Target
		kind, amt string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, kind, amount::text, currency, txn_date, counterparty_name, counterparty_id, project_id
		FROM targets WHERE id = $1`, id,
	).Scan(&t.ID, &kind, &amt, &t.Currency, &t.Date, &t.CounterpartyName, &t.CounterpartyID, &t.ProjectID)
	if err == pgx.ErrNoRows {
		return models.Target{}, errors.NotFound("target", id)
	}
	if err != nil {
		return models.Target{}, err
	}
	t.Kind = models.TargetKind(kind)
	if t.Amount, err = decimal.NewFromString(amt); err != nil {
		return models.Target{}, fmt.Errorf("target %s amount %q: %w", id, amt, fetcher.ErrUnexpectedShape)
	}
	return t, nil
}

// FetchCandidates returns open candidates matching filter, in load order.
func (s *PostgresStore) FetchCandidates(ctx context.Context, filter fetcher.CandidateFilter) ([]models.Candidate, error) {
	kinds := make([]string, len(filter.Kinds))
	for i, k := range filter.Kinds {
		kinds[i] = string(k)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, kind, amount::text, doc_date, counterparty_name, counterparty_id, group_key, project_id
		FROM candidates
		WHERE doc_date >= $1::date AND doc_date < $2::date
		  AND ($3 = '' OR counterparty_id = $3)
		  AND (cardinality($4::text[]) = 0 OR kind = ANY($4::text[]))
		ORDER BY seq`,
		filter.From.UTC(), filter.To.UTC(), filter.CounterpartyID, kinds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []models.Candidate
	for rows.Next() {
		var (
			c         models.Candidate
			kind, amt string
		)
		if err := rows.Scan(&c.ID, &kind, &amt, &c.Date, &c.CounterpartyName, &c.CounterpartyID, &c.GroupKey, &c.ProjectID); err != nil {
			return nil, err
		}
		if c.Kind, err = models.ParseCandidateKind(kind); err != nil {
			return nil, fmt.Errorf("candidate %s: %v: %w", c.ID, err, fetcher.ErrUnexpectedShape)
		}
		if c.Amount, err = decimal.NewFromString(amt); err != nil {
			return nil, fmt.Errorf("candidate %s amount %q: %w", c.ID, amt, fetcher.ErrUnexpectedShape)
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
	lines, err := pgLineBalances(ctx, s.pool, keys, false)
	if err != nil {
		return nil, err
	}
	links, err := pgLinksFor(ctx, s.pool, keys, nil)
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
func (s *PostgresStore) FetchBalances(ctx context.Context, groupKeys, lineKeys []string) (models.Balances, error) {
	return pgBalances(ctx, s.pool, groupKeys, lineKeys, false, false)
}

// FetchThreeWay returns three-way status with linked quantities counted as invoiced.
func (s *PostgresStore) FetchThreeWay(ctx context.Context, lineKeys []string) (map[string]models.ThreeWayStatus, error) {
	b, err := pgBalances(ctx, s.pool, nil, lineKeys, true, false)
	if err != nil {
		return nil, err
	}
	return b.ThreeWay, nil
}

// pgQuerier is satisfied by *pgxpool.Pool and pgx.Tx.
type pgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func lockClause(forUpdate bool) string {
	if forUpdate {
		return " FOR UPDATE"
	}
	return ""
}

func pgBalances(ctx context.Context, q pgQuerier, groupKeys, lineKeys []string, withThreeWay, forUpdate bool) (models.Balances, error) {
	b := models.NewBalances()

	lines, err := pgLineBalances(ctx, q, lineKeys, forUpdate)
	if err != nil {
		return b, err
	}
	if err := pgCandidateLines(ctx, q, missingLines(lineKeys, lines), lines, forUpdate); err != nil {
		return b, err
	}
	seen := make(map[string]bool)
	var groups []string
	for _, k := range groupKeys {
		if !seen[k] {
			seen[k] = true
			groups = append(groups, k)
		}
	}
	for _, line := range lines {
		if line.GroupKey != "" && !seen[line.GroupKey] {
			seen[line.GroupKey] = true
			groups = append(groups, line.GroupKey)
		}
	}
	sort.Strings(groups)

	if len(groups) > 0 {
		rows, err := q.Query(ctx,
			`SELECT group_key, total::text FROM group_balances WHERE group_key = ANY($1) ORDER BY group_key`+lockClause(forUpdate),
			groups)
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
			b.Groups[key] = g
		}
		if err := rows.Err(); err != nil {
			return b, err
		}
	}

	links, err := pgLinksFor(ctx, q, lineKeys, groups)
	if err != nil {
		return b, err
	}
	l := newLedger(links)
	for k, line := range lines {
		b.Lines[k] = l.openLine(line)
	}
	for k, g := range b.Groups {
		b.Groups[k] = l.openGroup(g)
	}

	if withThreeWay && len(lineKeys) > 0 {
		rows, err := q.Query(ctx,
			`SELECT line_key, ordered_qty::text, received_qty::text, invoiced_qty::text FROM three_way WHERE line_key = ANY($1)`,
			lineKeys)
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

func pgLineBalances(ctx context.Context, q pgQuerier, lineKeys []string, forUpdate bool) (map[string]models.LineBalance, error) {
	lines := make(map[string]models.LineBalance)
	if len(lineKeys) == 0 {
		return lines, nil
	}
	keys := append([]string(nil), lineKeys...)
	sort.Strings(keys)

	rows, err := q.Query(ctx,
		`SELECT line_key, group_key, remaining_amount::text, remaining_qty::text FROM line_balances WHERE line_key = ANY($1) ORDER BY line_key`+lockClause(forUpdate),
		keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			lb        models.LineBalance
			remaining string
			qty       *string
		)
		if err := rows.Scan(&lb.LineKey, &lb.GroupKey, &remaining, &qty); err != nil {
			return nil, err
		}
		if lb.RemainingAmount, err = decimal.NewFromString(remaining); err != nil {
			return nil, fmt.Errorf("line %s remaining %q: %w", lb.LineKey, remaining, fetcher.ErrUnexpectedShape)
		}
		if qty != nil {
			d, err := decimal.NewFromString(*qty)
			if err != nil {
				return nil, fmt.Errorf("line %s qty %q: %w", lb.LineKey, *qty, fetcher.ErrUnexpectedShape)
			}
			lb.RemainingQty = &d
		}
		lines[lb.LineKey] = lb
	}
	return lines, rows.Err()
}

// pgCandidateLines adds the balance of every candidate among keys to lines.
func pgCandidateLines(ctx context.Context, q pgQuerier, keys []string, lines map[string]models.LineBalance, forUpdate bool) error {
	if len(keys) == 0 {
		return nil
	}
	keys = append([]string(nil), keys...)
	sort.Strings(keys)

	rows, err := q.Query(ctx,
		`SELECT id, kind, amount::text, group_key FROM candidates WHERE id = ANY($1) ORDER BY id`+lockClause(forUpdate),
		keys)
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

const pgLinkColumns = `id::text, target_id, candidate_id, line_id, group_key, amount::text, quantity::text, created_by, created_at`

func pgLinksFor(ctx context.Context, q pgQuerier, lineKeys, groupKeys []string) ([]models.Link, error) {
	if len(lineKeys) == 0 && len(groupKeys) == 0 {
		return nil, nil
	}
	if lineKeys == nil {
		lineKeys = []string{}
	}
	if groupKeys == nil {
		groupKeys = []string{}
	}
	return pgScanLinks(ctx, q,
		`SELECT `+pgLinkColumns+` FROM links WHERE line_key = ANY($1) OR group_key = ANY($2)`,
		lineKeys, groupKeys)
}

func pgScanLinks(ctx context.Context, q pgQuerier, query string, args ...any) ([]models.Link, error) {
	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []models.Link
	for rows.Next() {
		var (
			l   models.Link
			amt string
			qty *string
		)
		if err := rows.Scan(&l.ID, &l.TargetID, &l.CandidateID, &l.LineID, &l.GroupKey, &amt, &qty, &l.CreatedBy, &l.CreatedAt); err != nil {
			return nil, err
		}
		if l.Amount, err = decimal.NewFromString(amt); err != nil {
			return nil, fmt.Errorf("link %s amount %q: %w", l.ID, amt, fetcher.ErrUnexpectedShape)
		}
		if qty != nil {
			d, err := decimal.NewFromString(*qty)
			if err != nil {
				return nil, fmt.Errorf("link %s quantity %q: %w", l.ID, *qty, fetcher.ErrUnexpectedShape)
			}
			l.Quantity = &d
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// WriteLinksTransactional locks the affected rows, re-reads balances, runs
// check and writes the links and event only when it passes.
func (s *PostgresStore) WriteLinksTransactional(ctx context.Context, batch models.LinkBatch, check validator.CheckFunc) (bool, []models.Violation, error) {
	var violations []models.Violation

	err := s.withTx(ctx, func(tx pgx.Tx) error {
		proposed := batch.ProposedLinks()

		candidateIDs := make([]string, 0, len(batch.Links))
		for _, l := range batch.Links {
			candidateIDs = append(candidateIDs, l.CandidateID)
		}
		sort.Strings(candidateIDs)
		if _, err := tx.Exec(ctx,
			`SELECT id FROM candidates WHERE id = ANY($1) ORDER BY id FOR UPDATE`, candidateIDs); err != nil {
			return fmt.Errorf("failed to lock candidates: %w", err)
		}

		balances, err := pgBalances(ctx, tx, validator.GroupKeys(proposed), validator.LineKeys(proposed), true, true)
		if err != nil {
			return err
		}
		if check != nil {
			if violations = check(proposed, balances); len(violations) > 0 {
				return nil
			}
		}
		batch.Links = resolveGroupKeys(batch.Links, balances.Lines)

		rows := make([][]any, len(batch.Links))
		for i, l := range batch.Links {
			var qty any
			if l.Quantity != nil {
				qty = l.Quantity.String()
			}
			rows[i] = []any{l.ID, l.TargetID, l.CandidateID, l.LineID, l.LineKey(), l.GroupKey, l.Amount.String(), qty, l.CreatedBy, l.CreatedAt.UTC()}
		}
		for _, r := range rows {
			if _, err := tx.Exec(ctx, `
				INSERT INTO links (id, target_id, candidate_id, line_id, line_key, group_key, amount, quantity, created_by, created_at)
				VALUES ($1::uuid, $2, $3, $4, $5, $6, $7::numeric, $8::numeric, $9, $10)`, r...); err != nil {
				return fmt.Errorf("failed to insert link %v: %w", r[0], err)
			}
		}
		return pgInsertEvent(ctx, tx, batch.Event)
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
func (s *PostgresStore) WriteEvent(ctx context.Context, event models.MatchEvent) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return pgInsertEvent(ctx, tx, event)
	})
}

func pgInsertEvent(ctx context.Context, tx pgx.Tx, e models.MatchEvent) error {
	candidateIDs, _ := json.Marshal(nonNilStrings(e.CandidateIDs))
	chosenIDs, _ := json.Marshal(nonNilStrings(e.ChosenIDs))
	reasons, _ := json.Marshal(nonNilStrings(e.Reasons))
	metadata := []byte("{}")
	if len(e.Metadata) > 0 {
		metadata, _ = json.Marshal(e.Metadata)
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO match_events
		(id, target_id, candidate_ids, chosen_ids, confidence, reasons, accepted, actor, metadata, created_at)
		VALUES ($1::uuid, $2, $3::jsonb, $4::jsonb, $5, $6::jsonb, $7, $8, $9::jsonb, $10)`,
		e.ID, e.TargetID, string(candidateIDs), string(chosenIDs), e.Confidence, string(reasons),
		e.Accepted, e.Actor, string(metadata), e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event %s: %w", e.ID, err)
	}
	return nil
}

// Links returns the persisted links of a target, or all links for an empty id.
func (s *PostgresStore) Links(ctx context.Context, targetID string) ([]models.Link, error) {
	return pgScanLinks(ctx, s.pool,
		`SELECT `+pgLinkColumns+` FROM links WHERE ($1 = '' OR target_id = $1) ORDER BY created_at, id`,
		targetID)
}

// Events returns the audit events of a target, or all events for an empty id, oldest first.
func (s *PostgresStore) Events(ctx context.Context, targetID string) ([]models.MatchEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id::text, target_id, candidate_ids::text, chosen_ids::text, confidence, reasons::text,
		       accepted, actor, metadata::text, created_at
		FROM match_events WHERE ($1 = '' OR target_id = $1) ORDER BY created_at, id`, targetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.MatchEvent
	for rows.Next() {
		var (
			e                                      models.MatchEvent
			candidateIDs, chosenIDs, reasons, meta string
		)
		if err := rows.Scan(&e.ID, &e.TargetID, &candidateIDs, &chosenIDs, &e.Confidence, &reasons,
			&e.Accepted, &e.Actor, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		if err := decodeEventJSON(&e, candidateIDs, chosenIDs, reasons, meta); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
