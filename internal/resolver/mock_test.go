package resolver

import (
	"context"
	"fmt"
	"sync"

	"github.com/sells-group/client-linker/internal/events"
	"github.com/sells-group/client-linker/internal/model"
	"github.com/sells-group/client-linker/internal/store"
	"github.com/sells-group/client-linker/pkg/anthropic"
)

// mockModel returns canned responses in order, or a fixed error.
type mockModel struct {
	responses []string
	err       error
	calls     int
	lastReq   anthropic.MessageRequest
}

func (m *mockModel) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	idx := m.calls - 1
	if idx >= len(m.responses) {
		idx = len(m.responses) - 1
	}
	return &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: m.responses[idx]}},
	}, nil
}

// mockNotifier records escalation notifications.
type mockNotifier struct {
	err   error
	calls []string
}

func (m *mockNotifier) NotifyNeedsHuman(ctx context.Context, t *model.Transcript, reason string) error {
	m.calls = append(m.calls, t.ID+": "+reason)
	return m.err
}

// capturePublisher records published events.
type capturePublisher struct {
	keys []string
	msgs []events.Envelope
}

func (p *capturePublisher) Publish(ctx context.Context, key string, msg events.Envelope) error {
	p.keys = append(p.keys, key)
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

// memStore is an in-memory store.Store for orchestrator tests.
type memStore struct {
	mu          sync.Mutex
	clients     map[string]*model.Client
	transcripts map[string]*model.Transcript
	attempts    map[string][]model.ResolutionAttempt
	secrets     map[string]string

	linkErr   error // forced LinkTranscript failure
	appendErr error // forced AppendAttempt failure
}

func newMemStore() *memStore {
	return &memStore{
		clients:     make(map[string]*model.Client),
		transcripts: make(map[string]*model.Transcript),
		attempts:    make(map[string][]model.ResolutionAttempt),
		secrets:     make(map[string]string),
	}
}

func (s *memStore) addClient(c model.Client) {
	s.clients[c.ID] = &c
}

func (s *memStore) addTranscript(t model.Transcript) {
	s.transcripts[t.ID] = &t
}

func (s *memStore) CreateClient(ctx context.Context, c *model.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = fmt.Sprintf("c-%d", len(s.clients)+1)
	}
	cp := *c
	s.clients[c.ID] = &cp
	return nil
}

func (s *memStore) GetClient(ctx context.Context, id string) (*model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memStore) ListClientsByOwner(ctx context.Context, ownerID string) ([]model.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Client
	for _, c := range s.clients {
		if c.OwnerID == ownerID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (s *memStore) AddClientEmail(ctx context.Context, clientID, email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return store.ErrNotFound
	}
	e := model.NormalizeEmail(email)
	if !c.HasEmail(e) {
		c.ExtraEmails = append(c.ExtraEmails, e)
	}
	return nil
}

func (s *memStore) CreateTranscript(ctx context.Context, t *model.Transcript) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.transcripts {
		if existing.OwnerID == t.OwnerID && existing.ExternalID == t.ExternalID {
			*t = *existing
			return false, nil
		}
	}
	if t.ID == "" {
		t.ID = fmt.Sprintf("t-%d", len(s.transcripts)+1)
	}
	t.LinkingStatus = model.LinkingStatusUnlinked
	cp := *t
	s.transcripts[t.ID] = &cp
	return true, nil
}

func (s *memStore) GetTranscript(ctx context.Context, id string) (*model.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memStore) GetTranscriptByExternalID(ctx context.Context, ownerID, externalID string) (*model.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.transcripts {
		if t.OwnerID == ownerID && t.ExternalID == externalID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) ListTranscripts(ctx context.Context, filter store.TranscriptFilter) ([]model.Transcript, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Transcript
	for _, t := range s.transcripts {
		if filter.OwnerID != "" && t.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && t.LinkingStatus != filter.Status {
			continue
		}
		if !filter.UpdatedBefore.IsZero() && !t.UpdatedAt.Before(filter.UpdatedBefore) {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (s *memStore) LinkTranscript(ctx context.Context, id, clientID string, status model.LinkingStatus, expectedVersion int) error {
	if s.linkErr != nil {
		return s.linkErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return store.ErrNotFound
	}
	if t.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	t.LinkingStatus = status
	t.ClientID = clientID
	t.Version++
	return nil
}

func (s *memStore) SetTranscriptStatus(ctx context.Context, id string, status model.LinkingStatus, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return store.ErrNotFound
	}
	if t.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	t.LinkingStatus = status
	if !status.Linked() {
		t.ClientID = ""
	}
	t.Version++
	return nil
}

func (s *memStore) UnlinkTranscript(ctx context.Context, id string, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.transcripts[id]
	if !ok {
		return store.ErrNotFound
	}
	if t.Version != expectedVersion {
		return store.ErrVersionConflict
	}
	t.LinkingStatus = model.LinkingStatusUnlinked
	t.ClientID = ""
	t.Version++
	return nil
}

func (s *memStore) AppendAttempt(ctx context.Context, a *model.ResolutionAttempt) error {
	if s.appendErr != nil {
		return s.appendErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	a.ID = fmt.Sprintf("a-%d", len(s.attempts[a.TranscriptID])+1)
	s.attempts[a.TranscriptID] = append(s.attempts[a.TranscriptID], *a)
	return nil
}

func (s *memStore) ListAttempts(ctx context.Context, transcriptID string) ([]model.ResolutionAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.ResolutionAttempt(nil), s.attempts[transcriptID]...), nil
}

func (s *memStore) GetWebhookSecret(ctx context.Context, ownerID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.secrets[ownerID], nil
}

func (s *memStore) SetWebhookSecret(ctx context.Context, ownerID, secret string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.secrets[ownerID] = secret
	return nil
}

func (s *memStore) Migrate(ctx context.Context) error { return nil }
func (s *memStore) Close() error                      { return nil }
