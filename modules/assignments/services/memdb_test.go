package services_test

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/iota-fleet/modules/assignments/domain/assignment"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/entity"
	"github.com/iota-uz/iota-fleet/modules/assignments/domain/events"
)

type memTxKey struct{}

type memState struct {
	assignments map[uuid.UUID]*assignment.Assignment
	order       []uuid.UUID
	history     []*assignment.History
	events      []events.AssignmentChangedV1
	entities    map[entity.Kind]map[uuid.UUID]bool
	vehicles    map[uuid.UUID]entity.Vehicle
}

func (s *memState) clone() *memState {
	c := &memState{
		assignments: make(map[uuid.UUID]*assignment.Assignment, len(s.assignments)),
		order:       append([]uuid.UUID(nil), s.order...),
		history:     append([]*assignment.History(nil), s.history...),
		events:      append([]events.AssignmentChangedV1(nil), s.events...),
		entities:    make(map[entity.Kind]map[uuid.UUID]bool, len(s.entities)),
		vehicles:    make(map[uuid.UUID]entity.Vehicle, len(s.vehicles)),
	}
	for id, a := range s.assignments {
		c.assignments[id] = a.Clone()
	}
	for k, ids := range s.entities {
		c.entities[k] = make(map[uuid.UUID]bool, len(ids))
		for id := range ids {
			c.entities[k][id] = true
		}
	}
	for id, v := range s.vehicles {
		c.vehicles[id] = v
	}
	return c
}

// memDB is an in-memory Repository, TxRunner and EventOutbox. Transactions
// are serialized and roll back to a snapshot on error. beforeCommit plays
// the part of deferred database constraints.
type memDB struct {
	txMu   sync.Mutex
	dataMu sync.Mutex
	state  *memState

	beforeCommit func(*memState) error
}

func newMemDB() *memDB {
	return &memDB{state: &memState{
		assignments: map[uuid.UUID]*assignment.Assignment{},
		entities:    map[entity.Kind]map[uuid.UUID]bool{},
		vehicles:    map[uuid.UUID]entity.Vehicle{},
	}}
}

func (m *memDB) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(memTxKey{}) != nil {
		return fn(ctx)
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	m.dataMu.Lock()
	snapshot := m.state.clone()
	m.dataMu.Unlock()

	err := fn(context.WithValue(ctx, memTxKey{}, true))
	if err == nil && m.beforeCommit != nil {
		m.dataMu.Lock()
		err = m.beforeCommit(m.state)
		m.dataMu.Unlock()
	}
	if err != nil {
		m.dataMu.Lock()
		m.state = snapshot
		m.dataMu.Unlock()
	}
	return err
}

func (m *memDB) addEntity(kind entity.Kind) entity.Ref {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	id := uuid.New()
	if m.state.entities[kind] == nil {
		m.state.entities[kind] = map[uuid.UUID]bool{}
	}
	m.state.entities[kind][id] = true
	ref, err := entity.NewRef(kind, id)
	if err != nil {
		panic(err)
	}
	return ref
}

func (m *memDB) addVehicle(capacity int, active bool) entity.VehicleRef {
	ref := m.addEntity(entity.KindVehicle).(entity.VehicleRef)
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.state.vehicles[ref.ID()] = entity.Vehicle{ID: ref.ID(), Capacity: capacity, IsActive: active}
	return ref
}

func (m *memDB) put(a *assignment.Assignment) {
	if _, ok := m.state.assignments[a.ID]; !ok {
		m.state.order = append(m.state.order, a.ID)
	}
	m.state.assignments[a.ID] = a.Clone()
}

func (m *memDB) all() []*assignment.Assignment {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	out := make([]*assignment.Assignment, 0, len(m.state.order))
	for _, id := range m.state.order {
		out = append(out, m.state.assignments[id].Clone())
	}
	return out
}

func (m *memDB) historyOf(id uuid.UUID) []*assignment.History {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	var out []*assignment.History
	for _, h := range m.state.history {
		if h.AssignmentID == id {
			out = append(out, h)
		}
	}
	return out
}

func (m *memDB) allHistory() []*assignment.History {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	return append([]*assignment.History(nil), m.state.history...)
}

func (m *memDB) allEvents() []events.AssignmentChangedV1 {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	return append([]events.AssignmentChangedV1(nil), m.state.events...)
}

func (m *memDB) find(pred func(*assignment.Assignment) bool) []*assignment.Assignment {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	var out []*assignment.Assignment
	for _, id := range m.state.order {
		if a := m.state.assignments[id]; pred(a) {
			out = append(out, a.Clone())
		}
	}
	return out
}

func notFound(what string, id uuid.UUID) error {
	return fmt.Errorf("%s %s: %w", what, id, pgx.ErrNoRows)
}

func (m *memDB) Insert(_ context.Context, a *assignment.Assignment) error {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	if _, ok := m.state.assignments[a.ID]; ok {
		return fmt.Errorf("assignment %s already exists", a.ID)
	}
	m.put(a)
	return nil
}

func (m *memDB) Get(_ context.Context, id uuid.UUID) (*assignment.Assignment, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	a, ok := m.state.assignments[id]
	if !ok {
		return nil, notFound("assignment", id)
	}
	return a.Clone(), nil
}

func (m *memDB) LockByID(ctx context.Context, id uuid.UUID) (*assignment.Assignment, error) {
	return m.Get(ctx, id)
}

func (m *memDB) UpdateStatus(_ context.Context, a *assignment.Assignment) error {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	if _, ok := m.state.assignments[a.ID]; !ok {
		return notFound("assignment", a.ID)
	}
	m.put(a)
	return nil
}

func (m *memDB) filter(pred func(*assignment.Assignment) bool) []*assignment.Assignment {
	var out []*assignment.Assignment
	for _, id := range m.state.order {
		if a := m.state.assignments[id]; pred(a) {
			out = append(out, a.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].EffectiveDate.Before(out[j].EffectiveDate) })
	return out
}

func (m *memDB) ListActiveByAssigneeForUpdate(_ context.Context, kind assignment.Kind, assignee entity.Ref) ([]*assignment.Assignment, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	return m.filter(func(a *assignment.Assignment) bool {
		return a.Status == assignment.StatusActive && a.Kind == kind && entity.Equal(a.Assignee, assignee)
	}), nil
}

func (m *memDB) CountActiveOccupants(_ context.Context, vehicleID uuid.UUID) (int, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	return countOccupants(m.state, vehicleID), nil
}

func countOccupants(s *memState, vehicleID uuid.UUID) int {
	seen := map[uuid.UUID]bool{}
	for _, a := range s.assignments {
		if a.Status == assignment.StatusActive && a.Kind == assignment.ChildToVehicle && a.Target.ID() == vehicleID {
			seen[a.Assignee.ID()] = true
		}
	}
	return len(seen)
}

func (m *memDB) ListActiveFor(_ context.Context, assignee entity.Ref, kind *assignment.Kind, asOf time.Time) ([]*assignment.Assignment, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	return m.filter(func(a *assignment.Assignment) bool {
		return a.ActiveOn(asOf) && entity.Equal(a.Assignee, assignee) && (kind == nil || a.Kind == *kind)
	}), nil
}

func (m *memDB) ListActiveTargeting(_ context.Context, target entity.Ref, kind *assignment.Kind, asOf time.Time) ([]*assignment.Assignment, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	return m.filter(func(a *assignment.Assignment) bool {
		return a.ActiveOn(asOf) && entity.Equal(a.Target, target) && (kind == nil || a.Kind == *kind)
	}), nil
}

func (m *memDB) ListDueForExpiry(_ context.Context, day time.Time) ([]*assignment.Assignment, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	return m.filter(func(a *assignment.Assignment) bool {
		return a.Status == assignment.StatusActive && a.ExpiryDate != nil && a.ExpiryDate.Before(day)
	}), nil
}

func (m *memDB) InsertHistory(_ context.Context, h *assignment.History) error {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.state.history = append(m.state.history, h)
	return nil
}

func (m *memDB) ListHistory(_ context.Context, assignmentID uuid.UUID) ([]*assignment.History, error) {
	return m.historyOf(assignmentID), nil
}

func (m *memDB) GetVehicle(_ context.Context, id uuid.UUID) (*entity.Vehicle, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	v, ok := m.state.vehicles[id]
	if !ok {
		return nil, notFound("vehicle", id)
	}
	return &v, nil
}

func (m *memDB) LockVehicle(ctx context.Context, id uuid.UUID) (*entity.Vehicle, error) {
	return m.GetVehicle(ctx, id)
}

func (m *memDB) MissingEntities(_ context.Context, kind entity.Kind, ids []uuid.UUID) ([]uuid.UUID, error) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	var missing []uuid.UUID
	for _, id := range ids {
		if !m.state.entities[kind][id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (m *memDB) Enqueue(_ context.Context, ev events.AssignmentChangedV1) error {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	m.state.events = append(m.state.events, ev)
	return nil
}
