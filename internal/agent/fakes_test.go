package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"supportdesk/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memStore is an in-memory domain.TicketStore with failure injection.
type memStore struct {
	mu        sync.Mutex
	tickets   map[string]*domain.Ticket
	messages  map[string][]domain.Message
	tags      []domain.Tag
	ticketTag map[string]map[string]bool // ticketID -> tagID set
	mutations int
	failOn    map[string]error // operation name -> error
	nextID    int
}

func newMemStore() *memStore {
	return &memStore{
		tickets:   make(map[string]*domain.Ticket),
		messages:  make(map[string][]domain.Message),
		ticketTag: make(map[string]map[string]bool),
		failOn:    make(map[string]error),
	}
}

func (s *memStore) addTicket(t domain.Ticket) {
	s.tickets[t.ID] = &t
}

func (s *memStore) addTag(name string) domain.Tag {
	tag := domain.Tag{ID: "tag-" + strings.ToLower(name), Name: name}
	s.tags = append(s.tags, tag)
	return tag
}

func (s *memStore) fail(op string) error { return s.failOn[op] }

func (s *memStore) GetTicket(ctx context.Context, id string) (*domain.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("GetTicket"); err != nil {
		return nil, err
	}
	t, ok := s.tickets[id]
	if !ok {
		return nil, domain.ErrTicketNotFound
	}
	cp := *t
	cp.Tags = s.tagNames(id)
	return &cp, nil
}

func (s *memStore) tagNames(ticketID string) []string {
	names := []string{}
	for _, tag := range s.tags {
		if s.ticketTag[ticketID][tag.ID] {
			names = append(names, tag.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (s *memStore) ListMessages(ctx context.Context, ticketID string) ([]domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Message(nil), s.messages[ticketID]...), nil
}

func (s *memStore) UpdateTicketField(ctx context.Context, ticketID string, field domain.TicketField, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("UpdateTicketField:" + value); err != nil {
		return err
	}
	t, ok := s.tickets[ticketID]
	if !ok {
		return domain.ErrTicketNotFound
	}
	switch field {
	case domain.FieldStatus:
		t.Status = domain.TicketStatus(value)
	case domain.FieldPriority:
		t.Priority = domain.TicketPriority(value)
	default:
		return fmt.Errorf("unsupported field %s", field)
	}
	s.mutations++
	return nil
}

func (s *memStore) SetAISummary(ctx context.Context, ticketID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("SetAISummary"); err != nil {
		return err
	}
	t, ok := s.tickets[ticketID]
	if !ok {
		return domain.ErrTicketNotFound
	}
	t.AISummary = summary
	s.mutations++
	return nil
}

func (s *memStore) AddMessage(ctx context.Context, msg domain.Message) (*domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail("AddMessage"); err != nil {
		return nil, err
	}
	s.nextID++
	msg.ID = fmt.Sprintf("msg-%d", s.nextID)
	msg.CreatedAt = time.Date(2025, 1, 1, 0, s.nextID, 0, 0, time.UTC)
	s.messages[msg.TicketID] = append(s.messages[msg.TicketID], msg)
	s.mutations++
	return &msg, nil
}

func (s *memStore) FindTagByName(ctx context.Context, name string) (*domain.Tag, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, tag := range s.tags {
		if strings.EqualFold(tag.Name, name) {
			t := tag
			return &t, nil
		}
	}
	return nil, nil
}

func (s *memStore) AttachTag(ctx context.Context, ticketID, tagID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ticketTag[ticketID] == nil {
		s.ticketTag[ticketID] = make(map[string]bool)
	}
	s.ticketTag[ticketID][tagID] = true
	s.mutations++
	return nil
}

func (s *memStore) associations(ticketID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ticketTag[ticketID])
}

// scriptedProvider returns canned replies in order and records requests.
type scriptedProvider struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []domain.ChatRequest
}

func (p *scriptedProvider) Name() string                      { return "scripted" }
func (p *scriptedProvider) Mode() domain.ProviderMode         { return domain.ModeAPI }
func (p *scriptedProvider) Models() []string                  { return []string{"scripted-1"} }
func (p *scriptedProvider) Healthy(ctx context.Context) error { return nil }

func (p *scriptedProvider) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return nil, p.err
	}
	if len(p.replies) == 0 {
		return nil, errors.New("no scripted reply left")
	}
	reply := p.replies[0]
	p.replies = p.replies[1:]
	return &domain.ChatResponse{Content: reply, FinishReason: "stop"}, nil
}

// stubRetriever returns fixed documents and records the last call.
type stubRetriever struct {
	docs     []domain.RetrievedDocument
	query    string
	ticketID string
	calls    int
}

func (r *stubRetriever) Retrieve(ctx context.Context, query, ticketID string) []domain.RetrievedDocument {
	r.calls++
	r.query, r.ticketID = query, ticketID
	return r.docs
}

type recordingAuditor struct {
	entries []domain.AuditEntry
}

func (a *recordingAuditor) Audit(ctx context.Context, e domain.AuditEntry) {
	a.entries = append(a.entries, e)
}

type roleGate struct{}

func (roleGate) Authorize(role string) error {
	if role == "admin" || role == "support" {
		return nil
	}
	return &domain.AuthorizationError{Role: role}
}

func openTicket() domain.Ticket {
	return domain.Ticket{
		ID:          "T-100",
		Title:       "Refund not received",
		Description: "I returned the item two weeks ago.",
		Status:      domain.StatusOpen,
		Priority:    domain.PriorityMedium,
		CustomerID:  "cust-9",
		CreatedAt:   time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC),
		UpdatedAt:   time.Date(2025, 2, 1, 8, 0, 0, 0, time.UTC),
	}
}

type harness struct {
	store    *memStore
	provider *scriptedProvider
	retr     *stubRetriever
	auditor  *recordingAuditor
	agent    *Agent
}

func newHarness(t *testing.T, replies ...string) *harness {
	t.Helper()
	h := &harness{
		store:    newMemStore(),
		provider: &scriptedProvider{replies: replies},
		retr:     &stubRetriever{},
		auditor:  &recordingAuditor{},
	}
	h.store.addTicket(openTicket())
	h.agent = New(Config{
		Authorizer:  roleGate{},
		Store:       h.store,
		Retriever:   h.retr,
		Interpreter: NewInterpreter(InterpreterConfig{Provider: h.provider, Logger: testLogger()}),
		Executor: NewExecutor(ExecutorConfig{
			Store:    h.store,
			Provider: h.provider,
			Auditor:  h.auditor,
			Logger:   testLogger(),
		}),
		Logger: testLogger(),
	})
	return h
}
