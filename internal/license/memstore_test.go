package license

import (
	"context"
	"sync"
	"time"

	"github.com/protocollm/seat-licensing/internal/model"
)

// memStore is an in-memory SeatStore for tests.  Every method holds one
// mutex for its whole body, which gives the same atomicity the MySQL
// implementation gets from conditional UPDATEs and lets the tests drive
// real goroutine races through Claim.
type memStore struct {
	mu     sync.Mutex
	nextID uint64
	seats  map[uint64]*model.Seat
	spent  map[uint64]string // seat id -> last redeemed code
}

func newMemStore() *memStore {
	return &memStore{
		seats: make(map[uint64]*model.Seat),
		spent: make(map[uint64]string),
	}
}

var _ SeatStore = (*memStore)(nil)

func copySeat(s *model.Seat) model.Seat {
	out := *s
	if s.InviteCode != nil {
		v := *s.InviteCode
		out.InviteCode = &v
	}
	if s.ClaimerID != nil {
		v := *s.ClaimerID
		out.ClaimerID = &v
	}
	if s.DeviceFingerprint != nil {
		v := *s.DeviceFingerprint
		out.DeviceFingerprint = &v
	}
	if s.ClaimedAt != nil {
		v := *s.ClaimedAt
		out.ClaimedAt = &v
	}
	if s.RevokedAt != nil {
		v := *s.RevokedAt
		out.RevokedAt = &v
	}
	return out
}

func (m *memStore) CountByPurchaser(_ context.Context, purchaserID uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.seats {
		if s.PurchaserID == purchaserID && s.Status != model.SeatRevoked {
			n++
		}
	}
	return n, nil
}

func (m *memStore) CreateUnclaimed(_ context.Context, purchaserID uint64, inviteCode string) (model.Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.seats {
		if s.InviteCode != nil && *s.InviteCode == inviteCode {
			return model.Seat{}, ErrDuplicateCode
		}
	}
	m.nextID++
	code := inviteCode
	seat := &model.Seat{
		ID:          m.nextID,
		PurchaserID: purchaserID,
		Status:      model.SeatUnclaimed,
		InviteCode:  &code,
		CreatedAt:   time.Now().UTC(),
	}
	m.seats[seat.ID] = seat
	return copySeat(seat), nil
}

func (m *memStore) GetByID(_ context.Context, seatID uint64) (model.Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.seats[seatID]
	if !ok {
		return model.Seat{}, ErrSeatNotFound
	}
	return copySeat(s), nil
}

func (m *memStore) FindByInviteCode(_ context.Context, code string) (model.Seat, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.findLocked(code)
}

func (m *memStore) findLocked(code string) (model.Seat, bool, error) {
	for _, s := range m.seats {
		if s.InviteCode != nil && *s.InviteCode == code {
			return copySeat(s), false, nil
		}
	}
	for id, spent := range m.spent {
		if spent == code {
			return copySeat(m.seats[id]), true, nil
		}
	}
	return model.Seat{}, false, ErrInviteNotFound
}

func (m *memStore) ListByPurchaser(_ context.Context, purchaserID uint64) ([]model.Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Seat
	// IDs are monotonic, so descending id order is newest first.
	for id := m.nextID; id > 0; id-- {
		if s, ok := m.seats[id]; ok && s.PurchaserID == purchaserID {
			out = append(out, copySeat(s))
		}
	}
	return out, nil
}

func (m *memStore) Claim(_ context.Context, inviteCode string, claimerID uint64, fingerprint string) (model.Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.seats {
		if s.InviteCode != nil && *s.InviteCode == inviteCode && s.Status == model.SeatUnclaimed {
			now := time.Now().UTC()
			s.Status = model.SeatClaimed
			s.ClaimerID = &claimerID
			fp := fingerprint
			s.DeviceFingerprint = &fp
			s.ClaimedAt = &now
			m.spent[s.ID] = inviteCode
			s.InviteCode = nil
			return copySeat(s), nil
		}
	}
	if _, _, err := m.findLocked(inviteCode); err != nil {
		return model.Seat{}, err
	}
	return model.Seat{}, ErrAlreadyClaimed
}

func (m *memStore) Release(_ context.Context, seatID uint64, newCode string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.seats[seatID]
	if !ok || s.Status != model.SeatClaimed {
		return ErrSeatNotClaimed
	}
	for _, other := range m.seats {
		if other.InviteCode != nil && *other.InviteCode == newCode {
			return ErrDuplicateCode
		}
	}
	now := time.Now().UTC()
	s.Status = model.SeatUnclaimed
	code := newCode
	s.InviteCode = &code
	s.ClaimerID = nil
	s.DeviceFingerprint = nil
	s.RevokedAt = &now
	return nil
}

func (m *memStore) ClaimedCountByFingerprint(_ context.Context, fingerprint string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.seats {
		if s.Status == model.SeatClaimed && s.DeviceFingerprint != nil && *s.DeviceFingerprint == fingerprint {
			n++
		}
	}
	return n, nil
}

func (m *memStore) RetireByPurchaser(_ context.Context, purchaserID uint64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	n := 0
	for _, s := range m.seats {
		if s.PurchaserID == purchaserID && s.Status != model.SeatRevoked {
			s.Status = model.SeatRevoked
			s.InviteCode = nil
			s.ClaimerID = nil
			s.DeviceFingerprint = nil
			s.RevokedAt = &now
			delete(m.spent, s.ID)
			n++
		}
	}
	return n, nil
}
