/*
Package memory provides an in-memory implementation of the storage
interfaces, for tests and dev mode.

PURPOSE:
  Implements credit.TxStore and session.Store with maps under a single
  RWMutex. Behaves like the SQLite store including the per-session
  uniqueness of standing booking debits and refunds, so the same test
  suites run against both. A booking_rollback entry clears the standing
  debit, allowing a fresh debit after a compensated booking failure.

TRANSACTIONS:
  WithTx is simulated with a snapshot of the maps: fn runs against an
  unlocked view, and an error restores the snapshot.
*/
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/studiofit/session-engine/credit"
	"github.com/studiofit/session-engine/session"
)

type Store struct {
	mu sync.RWMutex

	clients      map[credit.ClientID]credit.Client
	transactions []credit.Transaction
	sessions     map[credit.SessionID]session.Record

	// bySession indexes per-session debit/refund reasons for uniqueness.
	bySession map[credit.SessionID]map[credit.Reason]bool
}

func New() *Store {
	return &Store{
		clients:   make(map[credit.ClientID]credit.Client),
		sessions:  make(map[credit.SessionID]session.Record),
		bySession: make(map[credit.SessionID]map[credit.Reason]bool),
	}
}

// =============================================================================
// TRANSACTION STORE (credit.TransactionStore)
// =============================================================================

func (s *Store) AppendTransaction(ctx context.Context, tx credit.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(tx)
}

func (s *Store) appendLocked(tx credit.Transaction) error {
	if tx.RelatedSessionID != "" {
		seen := s.bySession[tx.RelatedSessionID]
		switch tx.Reason {
		case credit.ReasonBookingDebit:
			if seen[credit.ReasonBookingDebit] {
				return credit.ErrDuplicateDebit
			}
		case credit.ReasonCancellationRefund:
			if seen[credit.ReasonCancellationRefund] {
				return credit.ErrAlreadyRefunded
			}
		}
		if seen == nil {
			seen = make(map[credit.Reason]bool)
			s.bySession[tx.RelatedSessionID] = seen
		}
		if tx.Reason == credit.ReasonBookingRollback {
			// The rollback clears the standing debit; a retried booking may
			// debit this session again. The refund marker is untouched.
			seen[credit.ReasonBookingDebit] = false
		} else {
			seen[tx.Reason] = true
		}
	}
	s.transactions = append(s.transactions, tx)
	return nil
}

func (s *Store) TransactionsByClient(ctx context.Context, clientID credit.ClientID) ([]credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []credit.Transaction
	for _, tx := range s.transactions {
		if tx.ClientID == clientID {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) TransactionsBySession(ctx context.Context, sessionID credit.SessionID) ([]credit.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []credit.Transaction
	for _, tx := range s.transactions {
		if tx.RelatedSessionID == sessionID {
			out = append(out, tx)
		}
	}
	return out, nil
}

// =============================================================================
// CLIENT STORE (credit.ClientStore)
// =============================================================================

func (s *Store) GetClient(ctx context.Context, id credit.ClientID) (*credit.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getClientLocked(id)
}

func (s *Store) getClientLocked(id credit.ClientID) (*credit.Client, error) {
	c, ok := s.clients[id]
	if !ok {
		return nil, nil
	}
	cp := c
	return &cp, nil
}

func (s *Store) SaveClient(ctx context.Context, c credit.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.ID] = c
	return nil
}

func (s *Store) UpdateClient(ctx context.Context, id credit.ClientID, mutate func(*credit.Client) error) (*credit.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateClientLocked(id, mutate)
}

func (s *Store) updateClientLocked(id credit.ClientID, mutate func(*credit.Client) error) (*credit.Client, error) {
	c, ok := s.clients[id]
	if !ok {
		return nil, credit.ErrClientNotFound
	}
	if err := mutate(&c); err != nil {
		return nil, err
	}
	s.clients[id] = c
	cp := c
	return &cp, nil
}

func (s *Store) ListClients(ctx context.Context) ([]credit.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]credit.Client, 0, len(s.clients))
	for _, c := range s.clients {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// =============================================================================
// TRANSACTIONAL STORE (credit.TxStore)
// =============================================================================

// WithTx executes fn with snapshot/rollback semantics. fn runs against an
// unlocked view of the already-locked store, so it must not call back into
// the public methods.
func (s *Store) WithTx(ctx context.Context, fn func(credit.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := s.snapshotLocked()
	if err := fn(&txView{parent: s}); err != nil {
		s.restoreLocked(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	clients      map[credit.ClientID]credit.Client
	transactions []credit.Transaction
	bySession    map[credit.SessionID]map[credit.Reason]bool
}

func (s *Store) snapshotLocked() memorySnapshot {
	clients := make(map[credit.ClientID]credit.Client, len(s.clients))
	for k, v := range s.clients {
		clients[k] = v
	}
	bySession := make(map[credit.SessionID]map[credit.Reason]bool, len(s.bySession))
	for k, v := range s.bySession {
		seen := make(map[credit.Reason]bool, len(v))
		for r, b := range v {
			seen[r] = b
		}
		bySession[k] = seen
	}
	return memorySnapshot{
		clients:      clients,
		transactions: append([]credit.Transaction{}, s.transactions...),
		bySession:    bySession,
	}
}

func (s *Store) restoreLocked(snap memorySnapshot) {
	s.clients = snap.clients
	s.transactions = snap.transactions
	s.bySession = snap.bySession
}

// txView forwards to the locked internals of its parent.
type txView struct {
	parent *Store
}

func (tv *txView) AppendTransaction(ctx context.Context, tx credit.Transaction) error {
	return tv.parent.appendLocked(tx)
}

func (tv *txView) TransactionsByClient(ctx context.Context, clientID credit.ClientID) ([]credit.Transaction, error) {
	var out []credit.Transaction
	for _, tx := range tv.parent.transactions {
		if tx.ClientID == clientID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (tv *txView) TransactionsBySession(ctx context.Context, sessionID credit.SessionID) ([]credit.Transaction, error) {
	var out []credit.Transaction
	for _, tx := range tv.parent.transactions {
		if tx.RelatedSessionID == sessionID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (tv *txView) GetClient(ctx context.Context, id credit.ClientID) (*credit.Client, error) {
	return tv.parent.getClientLocked(id)
}

func (tv *txView) SaveClient(ctx context.Context, c credit.Client) error {
	tv.parent.clients[c.ID] = c
	return nil
}

func (tv *txView) UpdateClient(ctx context.Context, id credit.ClientID, mutate func(*credit.Client) error) (*credit.Client, error) {
	return tv.parent.updateClientLocked(id, mutate)
}

func (tv *txView) ListClients(ctx context.Context) ([]credit.Client, error) {
	out := make([]credit.Client, 0, len(tv.parent.clients))
	for _, c := range tv.parent.clients {
		out = append(out, c)
	}
	return out, nil
}

// =============================================================================
// SESSION STORE (session.Store)
// =============================================================================

func (s *Store) CreateSession(ctx context.Context, r session.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[r.ID]; ok {
		return session.ErrDuplicateSession
	}
	s.sessions[r.ID] = r
	return nil
}

func (s *Store) GetSession(ctx context.Context, id credit.SessionID) (*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.sessions[id]
	if !ok {
		return nil, nil
	}
	rp := r
	return &rp, nil
}

func (s *Store) UpdateSession(ctx context.Context, id credit.SessionID, expect session.Status, mutate func(*session.Record) error) (*session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	if r.Status != expect {
		return nil, session.ErrStatusConflict
	}

	before := r.Status
	if err := mutate(&r); err != nil {
		return nil, err
	}
	if r.Status != before && !session.CanTransition(before, r.Status) {
		return nil, &session.InvalidTransitionError{SessionID: id, From: before, To: r.Status}
	}

	r.UpdatedAt = time.Now().UTC()
	s.sessions[id] = r
	rp := r
	return &rp, nil
}

func (s *Store) ListSessions(ctx context.Context, f session.Filter) ([]session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []session.Record
	for _, r := range s.sessions {
		if matches(r, f) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (s *Store) FindOverlapping(ctx context.Context, trainerID credit.TrainerID, start, end time.Time, statuses []session.Status) ([]session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wanted := make(map[session.Status]bool, len(statuses))
	for _, st := range statuses {
		wanted[st] = true
	}

	var out []session.Record
	for _, r := range s.sessions {
		if r.TrainerID != trainerID {
			continue
		}
		if len(wanted) > 0 && !wanted[r.Status] {
			continue
		}
		if r.Overlaps(start, end) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clients = make(map[credit.ClientID]credit.Client)
	s.transactions = nil
	s.sessions = make(map[credit.SessionID]session.Record)
	s.bySession = make(map[credit.SessionID]map[credit.Reason]bool)
	return nil
}

func matches(r session.Record, f session.Filter) bool {
	if f.TrainerID != "" && r.TrainerID != f.TrainerID {
		return false
	}
	if f.ClientID != "" && r.ClientID != f.ClientID {
		return false
	}
	if len(f.Statuses) > 0 {
		ok := false
		for _, st := range f.Statuses {
			if r.Status == st {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.From != nil && r.StartsAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !r.StartsAt.Before(*f.To) {
		return false
	}
	return true
}
