package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"example.com/recurring/internal/domain"
	"example.com/recurring/internal/rates"
)

type memStore struct {
	mu sync.Mutex

	defs     map[string]domain.Definition
	profiles map[string]string
	rows     []domain.LedgerTransaction
	keys     map[string]bool

	queryErr   error
	profileErr error
	insertErr  func(domain.LedgerTransaction) error
	saveErr    error
	panicOn    string

	saves int
}

func newMemStore(defs ...domain.Definition) *memStore {
	s := &memStore{
		defs:     make(map[string]domain.Definition),
		profiles: make(map[string]string),
		keys:     make(map[string]bool),
	}
	for _, d := range defs {
		s.defs[d.ID] = d
	}
	return s
}

func (s *memStore) DueDefinitions(_ context.Context, today time.Time) ([]domain.Definition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}
	var due []domain.Definition
	for _, d := range s.defs {
		if d.Progress().Due(today) {
			due = append(due, d)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ID < due[j].ID })
	return due, nil
}

func (s *memStore) DefaultCurrency(_ context.Context, userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.profileErr != nil {
		return "", s.profileErr
	}
	currency, ok := s.profiles[userID]
	if !ok {
		return "", domain.ErrProfileNotFound
	}
	return currency, nil
}

func (s *memStore) InsertTransaction(_ context.Context, tx domain.LedgerTransaction) error {
	if tx.SourceRecurringID == s.panicOn && s.panicOn != "" {
		panic("storage exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		if err := s.insertErr(tx); err != nil {
			return err
		}
	}
	key := fmt.Sprintf("%s#%d", tx.SourceRecurringID, tx.OccurrenceNumber)
	if s.keys[key] {
		return domain.ErrDuplicateOccurrence
	}
	s.keys[key] = true
	s.rows = append(s.rows, tx)
	return nil
}

func (s *memStore) SaveProgress(_ context.Context, id string, previous time.Time, p domain.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	def, ok := s.defs[id]
	if !ok || !def.NextDueDate.Equal(previous) || def.Status != domain.StatusActive {
		return domain.ErrProgressConflict
	}
	s.defs[id] = def.WithProgress(p)
	return nil
}

func (s *memStore) rowsFor(id string) []domain.LedgerTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.LedgerTransaction
	for _, r := range s.rows {
		if r.SourceRecurringID == id {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurrenceNumber < out[j].OccurrenceNumber })
	return out
}

func (s *memStore) definition(id string) domain.Definition {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defs[id]
}

type stubResolver struct {
	mu    sync.Mutex
	value float64
	ok    bool
	calls int
}

func (r *stubResolver) Resolve(_ context.Context, from, to string) (rates.Rate, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if !r.ok {
		return rates.Rate{}, false
	}
	return rates.Rate{From: from, To: to, Value: r.value, Source: "stub"}, true
}

func mustDate(t *testing.T, value string) time.Time {
	t.Helper()
	d, err := domain.ParseDate(value)
	require.NoError(t, err)
	return d
}

func ptr[T any](v T) *T { return &v }

func definition(t *testing.T, id, due string, freq domain.Frequency) domain.Definition {
	t.Helper()
	return domain.Definition{
		ID:          id,
		UserID:      "user-" + id,
		Amount:      100,
		Currency:    "ILS",
		Type:        "donation",
		Category:    ptr("charity"),
		Description: ptr("monthly pledge"),
		Recipient:   ptr("Food bank"),
		IsChomesh:   true,
		Frequency:   freq,
		NextDueDate: mustDate(t, due),
		Status:      domain.StatusActive,
	}
}

// occurrenceCount reads recurring_engine_occurrences_total{outcome} from the default registry.
func occurrenceCount(t *testing.T, outcome string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "recurring_engine_occurrences_total" {
			continue
		}
		for _, metric := range family.GetMetric() {
			if hasLabel(metric, "outcome", outcome) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func hasLabel(metric *dto.Metric, name, value string) bool {
	for _, pair := range metric.GetLabel() {
		if pair.GetName() == name && pair.GetValue() == value {
			return true
		}
	}
	return false
}
