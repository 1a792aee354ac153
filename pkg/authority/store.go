package authority

import (
	"errors"
	"sort"
)

var (
	// ErrIDReuse is returned when an injected core hashes to the id of a
	// terminal (EXPIRED or VOID) record. Terminal ids are never revived.
	ErrIDReuse = errors.New("authority: content id collides with terminal record")
	// ErrNotFound is returned for transitions on ids the store has never seen.
	ErrNotFound = errors.New("authority: record not found")
	// ErrNotActive is returned for transitions that require an ACTIVE record.
	ErrNotActive = errors.New("authority: record not active")
)

// Store holds every authority record the kernel has seen, including terminal
// ones. The kernel owns the store exclusively and drives it from a single
// goroutine; determinism comes from sorted iteration, not locking.
type Store struct {
	// authorities holds ACTIVE, EXPIRED and VOID records by id.
	authorities map[string]Record
	// pending holds PENDING records by id until their start epoch.
	pending map[string]Record
	// suspended marks ACTIVE ids excluded from scope indices while their
	// holder identity is inactive.
	suspended map[string]struct{}
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		authorities: make(map[string]Record),
		pending:     make(map[string]Record),
		suspended:   make(map[string]struct{}),
	}
}

// Inject records a PENDING record under its content-addressed id.
//
// Injection is idempotent: if the id already names a PENDING or ACTIVE
// record nothing mutates and isDuplicate is true. A collision with a
// terminal record fails with ErrIDReuse; terminal ids are permanent.
func (s *Store) Inject(rec Record) (id string, isDuplicate bool, err error) {
	if existing, ok := s.lookup(rec.ID); ok {
		if existing.Status.Terminal() {
			return "", false, ErrIDReuse
		}
		return existing.ID, true, nil
	}
	s.pending[rec.ID] = rec
	return rec.ID, false, nil
}

// Expire transitions every record whose expiry epoch has passed to EXPIRED,
// in ascending id order, and returns the expired records. Pending records
// expire too: a record whose expiry passed before its start epoch never
// activates. Runs before ActivatePending on every epoch advance.
func (s *Store) Expire(epoch uint64) []Record {
	var expired []Record
	for _, id := range sortedKeys(s.pending) {
		rec := s.pending[id]
		if rec.ExpiryEpoch < epoch {
			rec = rec.WithStatus(StatusExpired)
			delete(s.pending, id)
			delete(s.suspended, id)
			s.authorities[id] = rec
			expired = append(expired, rec)
		}
	}
	for _, id := range sortedKeys(s.authorities) {
		rec := s.authorities[id]
		if rec.Status == StatusActive && rec.ExpiryEpoch < epoch {
			rec = rec.WithStatus(StatusExpired)
			delete(s.suspended, id)
			s.authorities[id] = rec
			expired = append(expired, rec)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].ID < expired[j].ID })
	return expired
}

// ActivatePending promotes every PENDING record whose start epoch has
// arrived to ACTIVE, in ascending id order, and returns the activated
// records.
func (s *Store) ActivatePending(epoch uint64) []Record {
	var activated []Record
	for _, id := range sortedKeys(s.pending) {
		rec := s.pending[id]
		if rec.StartEpoch <= epoch {
			rec = rec.WithStatus(StatusActive)
			delete(s.pending, id)
			s.authorities[id] = rec
			activated = append(activated, rec)
		}
	}
	return activated
}

// Get returns the record for id regardless of status.
func (s *Store) Get(id string) (Record, bool) {
	return s.lookup(id)
}

// Void transitions an ACTIVE record to VOID and returns the voided record.
func (s *Store) Void(id string) (Record, error) {
	rec, ok := s.authorities[id]
	if !ok {
		if _, pending := s.pending[id]; pending {
			return Record{}, ErrNotActive
		}
		return Record{}, ErrNotFound
	}
	if rec.Status != StatusActive {
		return Record{}, ErrNotActive
	}
	rec = rec.WithStatus(StatusVoid)
	delete(s.suspended, id)
	s.authorities[id] = rec
	return rec, nil
}

// ActiveForScope returns the ACTIVE, unsuspended records on a scope in
// ascending id order.
func (s *Store) ActiveForScope(scope string) []Record {
	var out []Record
	for _, id := range sortedKeys(s.authorities) {
		rec := s.authorities[id]
		if rec.Status != StatusActive || rec.ResourceScope != scope {
			continue
		}
		if _, susp := s.suspended[id]; susp {
			continue
		}
		out = append(out, rec)
	}
	return out
}

// ActiveWithPermission returns the ACTIVE, unsuspended records on a scope
// whose vector carries the given permission bit, in ascending id order.
func (s *Store) ActiveWithPermission(scope string, bit Vector) []Record {
	var out []Record
	for _, rec := range s.ActiveForScope(scope) {
		if rec.Vector.Has(bit) {
			out = append(out, rec)
		}
	}
	return out
}

// ActiveScopes returns every scope with at least one ACTIVE, unsuspended
// record, sorted.
func (s *Store) ActiveScopes() []string {
	seen := make(map[string]struct{})
	for id, rec := range s.authorities {
		if rec.Status != StatusActive {
			continue
		}
		if _, susp := s.suspended[id]; susp {
			continue
		}
		seen[rec.ResourceScope] = struct{}{}
	}
	scopes := make([]string, 0, len(seen))
	for scope := range seen {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

// ActiveHolders returns the distinct holder ids with at least one ACTIVE,
// unsuspended record, sorted.
func (s *Store) ActiveHolders() []string {
	seen := make(map[string]struct{})
	for id, rec := range s.authorities {
		if rec.Status != StatusActive {
			continue
		}
		if _, susp := s.suspended[id]; susp {
			continue
		}
		seen[rec.HolderID] = struct{}{}
	}
	holders := make([]string, 0, len(seen))
	for h := range seen {
		holders = append(holders, h)
	}
	sort.Strings(holders)
	return holders
}

// Suspend excludes an ACTIVE record from scope indices without changing its
// status. Suspending a non-ACTIVE id is a no-op.
func (s *Store) Suspend(id string) {
	if rec, ok := s.authorities[id]; ok && rec.Status == StatusActive {
		s.suspended[id] = struct{}{}
	}
}

// Reactivate restores a suspended record to scope indices.
func (s *Store) Reactivate(id string) {
	delete(s.suspended, id)
}

// Suspended returns the suspended ids, sorted.
func (s *Store) Suspended() []string {
	return sortedSet(s.suspended)
}

// IsSuspended reports whether the id is currently suspended.
func (s *Store) IsSuspended(id string) bool {
	_, ok := s.suspended[id]
	return ok
}

// ActiveHeldBy returns the ACTIVE record ids (suspended included) whose
// holder is holderID, sorted. Used at succession boundaries.
func (s *Store) ActiveHeldBy(holderID string) []string {
	var ids []string
	for id, rec := range s.authorities {
		if rec.Status == StatusActive && rec.HolderID == holderID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SuspendedHeldBy returns the suspended ids whose holder is holderID, sorted.
func (s *Store) SuspendedHeldBy(holderID string) []string {
	var ids []string
	for id := range s.suspended {
		if rec, ok := s.authorities[id]; ok && rec.HolderID == holderID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Clone returns an independent copy of the store. Records are immutable
// values, so the copies share record slices safely; only the maps are new.
func (s *Store) Clone() *Store {
	c := NewStore()
	for id, rec := range s.authorities {
		c.authorities[id] = rec
	}
	for id, rec := range s.pending {
		c.pending[id] = rec
	}
	for id := range s.suspended {
		c.suspended[id] = struct{}{}
	}
	return c
}

// Snapshot is the store's contribution to the kernel state hash.
type Snapshot struct {
	Authorities map[string]Record `json:"authorities"`
	Pending     map[string]Record `json:"pending_authorities"`
	Suspended   []string          `json:"suspended"`
}

// Snapshot returns a hashable view of the store.
func (s *Store) Snapshot() Snapshot {
	return Snapshot{
		Authorities: s.authorities,
		Pending:     s.pending,
		Suspended:   sortedSet(s.suspended),
	}
}

func (s *Store) lookup(id string) (Record, bool) {
	if rec, ok := s.authorities[id]; ok {
		return rec, true
	}
	if rec, ok := s.pending[id]; ok {
		return rec, true
	}
	return Record{}, false
}

func sortedKeys(m map[string]Record) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedSet(m map[string]struct{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
