// Package store persists tickets, conversations, tags, knowledge documents
// and the audit trail in SQLite.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"supportdesk/internal/domain"
	"supportdesk/internal/embedding"
)

// SQLiteStore implements domain.TicketStore, domain.DocumentSearcher and
// domain.AuditLogger.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ domain.TicketStore      = (*SQLiteStore)(nil)
	_ domain.DocumentSearcher = (*SQLiteStore)(nil)
	_ domain.AuditLogger      = (*SQLiteStore)(nil)
)

func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cannot create database directory %s: %w", dir, err)
	}

	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("cannot open database: %w", err)
	}

	// Single connection: SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := RunMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SchemaVersion reports the applied migration version.
func (s *SQLiteStore) SchemaVersion() (int, error) {
	return GetSchemaVersion(s.db)
}

// --- tickets ---

// CreateTicket inserts a ticket, filling ID, status, priority and timestamps
// when unset.
func (s *SQLiteStore) CreateTicket(ctx context.Context, t domain.Ticket) (*domain.Ticket, error) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = domain.StatusOpen
	}
	if t.Priority == "" {
		t.Priority = domain.PriorityMedium
	}
	if !t.Status.Valid() {
		return nil, fmt.Errorf("invalid status %q", t.Status)
	}
	if !t.Priority.Valid() {
		return nil, fmt.Errorf("invalid priority %q", t.Priority)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = t.CreatedAt

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (id, title, description, status, priority, customer_id, assignee_id, ai_summary, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Title, t.Description, string(t.Status), string(t.Priority),
		t.CustomerID, t.AssigneeID, t.AISummary, t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert ticket: %w", err)
	}
	t.Tags = nil
	return &t, nil
}

func (s *SQLiteStore) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	var (
		t                domain.Ticket
		status, priority string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, description, status, priority, customer_id, assignee_id, ai_summary, created_at, updated_at
		 FROM tickets WHERE id = ?`, id,
	).Scan(&t.ID, &t.Title, &t.Description, &status, &priority,
		&t.CustomerID, &t.AssigneeID, &t.AISummary, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket %s: %w", id, err)
	}
	t.Status = domain.TicketStatus(status)
	t.Priority = domain.TicketPriority(priority)

	tags, err := s.ticketTagNames(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Tags = tags
	return &t, nil
}

// ListTickets returns the most recently updated tickets first.
func (s *SQLiteStore) ListTickets(ctx context.Context, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, status, priority, customer_id, updated_at
		 FROM tickets ORDER BY updated_at DESC, id LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		var (
			t                domain.Ticket
			status, priority string
		)
		if err := rows.Scan(&t.ID, &t.Title, &status, &priority, &t.CustomerID, &t.UpdatedAt); err != nil {
			return nil, err
		}
		t.Status = domain.TicketStatus(status)
		t.Priority = domain.TicketPriority(priority)
		tickets = append(tickets, t)
	}
	return tickets, rows.Err()
}

// CountTicketsByStatus returns the number of tickets per status.
func (s *SQLiteStore) CountTicketsByStatus(ctx context.Context) (map[domain.TicketStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM tickets GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count tickets: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.TicketStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.TicketStatus(status)] = n
	}
	return counts, rows.Err()
}

var ticketFieldColumns = map[domain.TicketField]string{
	domain.FieldStatus:   "status",
	domain.FieldPriority: "priority",
}

func (s *SQLiteStore) UpdateTicketField(ctx context.Context, ticketID string, field domain.TicketField, value string) error {
	col, ok := ticketFieldColumns[field]
	if !ok {
		return fmt.Errorf("unsupported ticket field %q", field)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET `+col+` = ?, updated_at = ? WHERE id = ?`,
		value, time.Now().UTC(), ticketID,
	)
	if err != nil {
		return fmt.Errorf("update ticket %s: %w", field, err)
	}
	return requireRow(res)
}

func (s *SQLiteStore) SetAISummary(ctx context.Context, ticketID, summary string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tickets SET ai_summary = ?, updated_at = ? WHERE id = ?`,
		summary, time.Now().UTC(), ticketID,
	)
	if err != nil {
		return fmt.Errorf("set ai summary: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrTicketNotFound
	}
	return nil
}

// --- messages ---

func (s *SQLiteStore) AddMessage(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (id, ticket_id, author_id, body, is_internal, is_system, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.TicketID, msg.AuthorID, msg.Body, msg.IsInternal, msg.IsSystem, msg.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	return &msg, nil
}

// ListMessages returns a ticket's conversation in creation order.
func (s *SQLiteStore) ListMessages(ctx context.Context, ticketID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ticket_id, author_id, body, is_internal, is_system, created_at
		 FROM messages WHERE ticket_id = ? ORDER BY created_at ASC, rowid ASC`, ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.TicketID, &m.AuthorID, &m.Body, &m.IsInternal, &m.IsSystem, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// --- tags ---

// ErrTagExists rejects a tag whose name folds to an existing one.
var ErrTagExists = errors.New("tag already exists")

// CreateTag adds a tag to the global catalog. Names are unique under the
// same Unicode case folding FindTagByName uses.
func (s *SQLiteStore) CreateTag(ctx context.Context, name, color string) (*domain.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("tag name is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tag insert: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT name FROM tags`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	for rows.Next() {
		var existing string
		if err := rows.Scan(&existing); err != nil {
			rows.Close()
			return nil, err
		}
		if strings.EqualFold(existing, name) {
			rows.Close()
			return nil, fmt.Errorf("tag %q: %w (existing %q)", name, ErrTagExists, existing)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tag := domain.Tag{ID: uuid.NewString(), Name: name, Color: color}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO tags (id, name, color) VALUES (?, ?, ?)`, tag.ID, tag.Name, tag.Color,
	); err != nil {
		return nil, fmt.Errorf("insert tag %q: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit tag %q: %w", name, err)
	}
	return &tag, nil
}

func (s *SQLiteStore) ListTags(ctx context.Context) ([]domain.Tag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, color FROM tags ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	var tags []domain.Tag
	for rows.Next() {
		var t domain.Tag
		if err := rows.Scan(&t.ID, &t.Name, &t.Color); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	return tags, rows.Err()
}

// FindTagByName matches the catalog with Unicode case folding, which
// SQLite's NOCASE collation does not cover. Returns nil, nil on a miss.
func (s *SQLiteStore) FindTagByName(ctx context.Context, name string) (*domain.Tag, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	tags, err := s.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tags {
		if strings.EqualFold(t.Name, name) {
			return &t, nil
		}
	}
	return nil, nil
}

// AttachTag links a tag to a ticket. Re-attaching is a no-op.
func (s *SQLiteStore) AttachTag(ctx context.Context, ticketID, tagID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ticket_tags (ticket_id, tag_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(ticket_id, tag_id) DO NOTHING`,
		ticketID, tagID, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("attach tag: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ticketTagNames(ctx context.Context, ticketID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.name FROM ticket_tags tt JOIN tags t ON t.id = tt.tag_id
		 WHERE tt.ticket_id = ? ORDER BY t.name`, ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("ticket tags: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// --- documents ---

// AddDocument stores a document together with its embedding vector.
func (s *SQLiteStore) AddDocument(ctx context.Context, doc domain.Document, vector []float32) (*domain.Document, error) {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	if vector == nil {
		vector = []float32{}
	}
	encoded, err := json.Marshal(vector)
	if err != nil {
		return nil, fmt.Errorf("encode embedding: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, content, embedding, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET filename = excluded.filename, content = excluded.content, embedding = excluded.embedding`,
		doc.ID, doc.Filename, doc.Content, string(encoded), doc.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return &doc, nil
}

// AttachDocument links a document to a ticket. Re-attaching is a no-op.
func (s *SQLiteStore) AttachDocument(ctx context.Context, ticketID, documentID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ticket_documents (ticket_id, document_id) VALUES (?, ?)
		 ON CONFLICT(ticket_id, document_id) DO NOTHING`,
		ticketID, documentID,
	)
	if err != nil {
		return fmt.Errorf("attach document: %w", err)
	}
	return nil
}

// SearchSimilar scores every stored embedding against query in memory.
func (s *SQLiteStore) SearchSimilar(ctx context.Context, query []float32, threshold float64, limit int) ([]domain.RetrievedDocument, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, filename, content, embedding FROM documents ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("search documents: %w", err)
	}
	defer rows.Close()

	var (
		docs    []domain.RetrievedDocument
		vectors [][]float32
	)
	for rows.Next() {
		var (
			d   domain.RetrievedDocument
			raw string
			vec []float32
		)
		if err := rows.Scan(&d.DocumentID, &d.Source, &d.Content, &raw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(raw), &vec); err != nil {
			s.logger.Warn("skipping document with unreadable embedding", "document", d.DocumentID, "error", err)
			continue
		}
		docs = append(docs, d)
		vectors = append(vectors, vec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hits := embedding.FindTopK(query, vectors, threshold, limit)
	out := make([]domain.RetrievedDocument, 0, len(hits))
	for _, h := range hits {
		d := docs[h.Index]
		d.Score = h.Similarity
		out = append(out, d)
	}
	return out, nil
}

// TicketDocuments returns documents attached to a ticket, scored 1.
func (s *SQLiteStore) TicketDocuments(ctx context.Context, ticketID string) ([]domain.RetrievedDocument, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.filename, d.content FROM ticket_documents td
		 JOIN documents d ON d.id = td.document_id
		 WHERE td.ticket_id = ? ORDER BY d.filename, d.id`, ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("ticket documents: %w", err)
	}
	defer rows.Close()

	var docs []domain.RetrievedDocument
	for rows.Next() {
		d := domain.RetrievedDocument{Score: 1}
		if err := rows.Scan(&d.DocumentID, &d.Source, &d.Content); err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// --- audit ---

func (s *SQLiteStore) LogAudit(ctx context.Context, entry domain.AuditEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log (ticket_id, user_id, action, result, details) VALUES (?, ?, ?, ?, ?)`,
		entry.TicketID, entry.UserID, entry.Action, entry.Result, entry.Details,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// ListAudit returns a ticket's audit trail, oldest first.
func (s *SQLiteStore) ListAudit(ctx context.Context, ticketID string) ([]domain.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ticket_id, user_id, action, result, details FROM audit_log WHERE ticket_id = ? ORDER BY id`, ticketID,
	)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var result, details sql.NullString
		if err := rows.Scan(&e.TicketID, &e.UserID, &e.Action, &result, &details); err != nil {
			return nil, err
		}
		e.Result = result.String
		e.Details = details.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
