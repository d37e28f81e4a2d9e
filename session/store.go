package session

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var (
	// ErrUserNotFound is returned when no record with the requested user id exists.
	ErrUserNotFound = errors.New("user not found")
	// ErrCouldNotPersist is returned when a mutation could not be written to storage.
	// The in-memory state is left unchanged.
	ErrCouldNotPersist = errors.New("could not persist auth info")
	// ErrCouldNotLoad is wrapped by every LoadError.
	ErrCouldNotLoad = errors.New("could not load persisted auth info")
)

// Storage is the string key-value collaborator the store persists into.
// Get reports ok=false for a missing key.
type Storage interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

// LoadError describes why a persisted key was skipped during load.
type LoadError struct {
	Key string
	Err error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("%s: key %q: %v", ErrCouldNotLoad, e.Key, e.Err)
}

func (e *LoadError) Unwrap() []error {
	return []error{ErrCouldNotLoad, e.Err}
}

// Option configures a Store.
type Option func(*Store)

// WithLoadErrorHandler registers fn to receive the keys load skipped or discarded.
// fn runs at most once, from NewStore.
func WithLoadErrorHandler(fn func(error)) Option {
	return func(s *Store) {
		s.onLoadError = fn
	}
}

type state struct {
	order   []string
	records map[string]AuthInfo
	active  string
	device  string
}

func newState() state {
	return state{records: make(map[string]AuthInfo)}
}

func (st state) clone() state {
	out := state{
		order:   slices.Clone(st.order),
		records: make(map[string]AuthInfo, len(st.records)),
		active:  st.active,
		device:  st.device,
	}
	for id, info := range st.records {
		out.records[id] = info.Clone()
	}
	return out
}

// Store holds every known AuthInfo in login order plus the active-user pointer.
//
// Store is safe for concurrent use. Storage calls are made while holding the store
// lock, so a Storage implementation never sees interleaved mutations.
type Store struct {
	mu          sync.RWMutex
	storage     Storage
	namespace   string
	cur         state
	onLoadError func(error)
}

// NewStore creates a [Store] over storage and loads any state persisted under
// namespace. Loading never fails: an unreadable index yields an empty store, and
// corrupt records or a dangling active pointer are skipped.
func NewStore(storage Storage, namespace string, opts ...Option) *Store {
	s := &Store{
		storage:   storage,
		namespace: namespace,
		cur:       newState(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	loaded, err := s.load()
	if err != nil && s.onLoadError != nil {
		s.onLoadError(err)
	}
	s.cur = loaded
	return s
}

func (s *Store) indexKey() string {
	return s.namespace + ":users"
}

func (s *Store) userKey(userID string) string {
	return s.namespace + ":user:" + userID
}

func (s *Store) activeKey() string {
	return s.namespace + ":active"
}

func (s *Store) deviceKey() string {
	return s.namespace + ":device"
}

// load reads the persisted state. An unreadable index yields an empty store. A record
// that is missing or undecodable is skipped, and an active pointer that names no
// loaded record is dropped, so one bad key never costs the other users. Every skipped
// key is reported in the returned error.
func (s *Store) load() (state, error) {
	st := newState()
	var problems []error

	ids, err := s.loadIndex()
	if err != nil {
		// The device id is device-level memory and does not depend on user records.
		if device, ok, derr := s.storage.Get(s.deviceKey()); derr == nil && ok {
			st.device = device
		}
		return st, err
	}
	for _, id := range ids {
		info, err := s.loadRecord(id)
		if err != nil {
			problems = append(problems, err)
			continue
		}
		st.order = append(st.order, id)
		st.records[id] = info
	}

	active, ok, err := s.storage.Get(s.activeKey())
	switch {
	case err != nil:
		problems = append(problems, &LoadError{Key: s.activeKey(), Err: err})
	case ok && active != "":
		if _, exists := st.records[active]; exists {
			st.active = active
			break
		}
		problems = append(problems, &LoadError{Key: s.activeKey(), Err: fmt.Errorf("active user %q is not indexed", active)})
		// Best effort: a later load must not revive the pointer if the id is indexed again.
		_ = s.storage.Remove(s.activeKey())
	}

	device, ok, err := s.storage.Get(s.deviceKey())
	if err != nil {
		problems = append(problems, &LoadError{Key: s.deviceKey(), Err: err})
	} else if ok {
		st.device = device
	}
	return st, errors.Join(problems...)
}

func (s *Store) loadIndex() ([]string, error) {
	raw, ok, err := s.storage.Get(s.indexKey())
	if err != nil {
		return nil, &LoadError{Key: s.indexKey(), Err: err}
	}
	if !ok {
		return nil, nil
	}
	ids, err := decodeIndex([]byte(raw))
	if err != nil {
		return nil, &LoadError{Key: s.indexKey(), Err: err}
	}
	return ids, nil
}

func (s *Store) loadRecord(id string) (AuthInfo, error) {
	key := s.userKey(id)
	blob, ok, err := s.storage.Get(key)
	if err != nil {
		return AuthInfo{}, &LoadError{Key: key, Err: err}
	}
	if !ok {
		return AuthInfo{}, &LoadError{Key: key, Err: errors.New("record missing")}
	}
	info, err := Decode([]byte(blob))
	if err != nil {
		return AuthInfo{}, &LoadError{Key: key, Err: err}
	}
	if info.UserID != id {
		return AuthInfo{}, &LoadError{Key: key, Err: fmt.Errorf("record user id %q does not match index", info.UserID)}
	}
	return info, nil
}

// List returns copies of all records in login order.
func (s *Store) List() []AuthInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.list()
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cur.order)
}

// Active returns the active record.
func (s *Store) Active() (AuthInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.activeRecord()
}

// Get returns the record for userID.
func (s *Store) Get(userID string) (AuthInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	info, ok := s.cur.records[userID]
	if !ok {
		return AuthInfo{}, false
	}
	return info.Clone(), true
}

// DeviceID returns the last device id seen on this device. It survives user removal.
func (s *Store) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cur.device
}

// SetActive points the active pointer at userID and persists.
func (s *Store) SetActive(userID string) error {
	return s.Mutate(func(tx *Tx) error {
		return tx.SetActive(userID)
	})
}

// ClearActive unsets the active pointer and persists.
func (s *Store) ClearActive() error {
	return s.Mutate(func(tx *Tx) error {
		tx.ClearActive()
		return nil
	})
}

// Upsert inserts info or merges its non-zero fields into the existing record with the
// same user id. A new record is appended to the login order.
func (s *Store) Upsert(info AuthInfo) (inserted bool, err error) {
	err = s.Mutate(func(tx *Tx) error {
		var uerr error
		inserted, uerr = tx.Upsert(info)
		return uerr
	})
	return inserted, err
}

// Update replaces the record for userID with fn's result and returns it.
func (s *Store) Update(userID string, fn func(AuthInfo) AuthInfo) (AuthInfo, error) {
	var out AuthInfo
	err := s.Mutate(func(tx *Tx) error {
		var uerr error
		out, uerr = tx.Update(userID, fn)
		return uerr
	})
	return out, err
}

// Remove deletes the record for userID, clearing the active pointer if it pointed at
// it. Removing an absent user is a no-op.
func (s *Store) Remove(userID string) (removed bool, err error) {
	err = s.Mutate(func(tx *Tx) error {
		removed = tx.Remove(userID)
		return nil
	})
	return removed, err
}

// Mutate runs fn against a private copy of the state and commits the copy only after
// it was persisted. An error from fn discards every change fn made.
func (s *Store) Mutate(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cur.clone()
	tx := &Tx{st: &next}
	if err := fn(tx); err != nil {
		return err
	}
	if !tx.dirty {
		return nil
	}
	if err := s.persistDiff(s.cur, next); err != nil {
		return fmt.Errorf("%w: %w", ErrCouldNotPersist, err)
	}
	s.cur = next
	return nil
}

// Persist rewrites every key of the current state.
func (s *Store) Persist() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.persistDiff(newState(), s.cur); err != nil {
		return fmt.Errorf("%w: %w", ErrCouldNotPersist, err)
	}
	return nil
}

// persistDiff writes the keys that differ between prev and next. Records are written
// before the index so an interrupted write never indexes a missing record, and the
// active pointer never names a user the stored index does not contain.
func (s *Store) persistDiff(prev, next state) error {
	for _, id := range next.order {
		info := next.records[id]
		blob, err := Encode(info)
		if err != nil {
			return err
		}
		if old, ok := prev.records[id]; ok {
			if oldBlob, err := Encode(old); err == nil && string(oldBlob) == string(blob) {
				continue
			}
		}
		if err := s.storage.Set(s.userKey(id), string(blob)); err != nil {
			return err
		}
	}

	writeIndex := func() error {
		if prev.order != nil && slices.Equal(prev.order, next.order) {
			return nil
		}
		index, err := encodeIndex(next.order)
		if err != nil {
			return err
		}
		return s.storage.Set(s.indexKey(), string(index))
	}
	writeActive := func() error {
		if prev.active == next.active && prev.order != nil {
			return nil
		}
		if next.active == "" {
			return s.storage.Remove(s.activeKey())
		}
		return s.storage.Set(s.activeKey(), next.active)
	}

	// Move the pointer off a user before the index drops it; index a new user
	// before the pointer moves onto it.
	steps := []func() error{writeIndex, writeActive}
	if _, indexed := prev.records[next.active]; next.active == "" || indexed {
		steps = []func() error{writeActive, writeIndex}
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}

	if prev.device != next.device || (prev.order == nil && next.device != "") {
		if err := s.storage.Set(s.deviceKey(), next.device); err != nil {
			return err
		}
	}

	for _, id := range prev.order {
		if _, kept := next.records[id]; kept {
			continue
		}
		if err := s.storage.Remove(s.userKey(id)); err != nil {
			return err
		}
	}
	return nil
}

func (st *state) list() []AuthInfo {
	out := make([]AuthInfo, 0, len(st.order))
	for _, id := range st.order {
		out = append(out, st.records[id].Clone())
	}
	return out
}

func (st *state) activeRecord() (AuthInfo, bool) {
	if st.active == "" {
		return AuthInfo{}, false
	}
	info, ok := st.records[st.active]
	if !ok {
		return AuthInfo{}, false
	}
	return info.Clone(), true
}

// Tx is the view of the state handed to Mutate callbacks. It must not be retained
// after the callback returns.
type Tx struct {
	st    *state
	dirty bool
}

// List returns copies of all records in login order.
func (tx *Tx) List() []AuthInfo {
	return tx.st.list()
}

// Active returns the active record.
func (tx *Tx) Active() (AuthInfo, bool) {
	return tx.st.activeRecord()
}

// ActiveID returns the active user id, or "".
func (tx *Tx) ActiveID() string {
	return tx.st.active
}

// Get returns the record for userID.
func (tx *Tx) Get(userID string) (AuthInfo, bool) {
	info, ok := tx.st.records[userID]
	if !ok {
		return AuthInfo{}, false
	}
	return info.Clone(), true
}

// DeviceID returns the device id as of this transaction.
func (tx *Tx) DeviceID() string {
	return tx.st.device
}

// SetDeviceID records id as the device id.
func (tx *Tx) SetDeviceID(id string) {
	if id == "" || id == tx.st.device {
		return
	}
	tx.st.device = id
	tx.dirty = true
}

// Upsert inserts info or merges its non-zero fields into the existing record.
func (tx *Tx) Upsert(info AuthInfo) (bool, error) {
	if info.UserID == "" {
		return false, fmt.Errorf("%w: empty user id", ErrInvalidRecord)
	}
	info = normalize(info)
	existing, ok := tx.st.records[info.UserID]
	if ok {
		tx.st.records[info.UserID] = existing.Merge(PatchOf(info))
	} else {
		tx.st.records[info.UserID] = info.Clone()
		tx.st.order = append(tx.st.order, info.UserID)
	}
	tx.SetDeviceID(info.DeviceID)
	tx.dirty = true
	return !ok, nil
}

// Update replaces the record for userID with fn's result. The user id cannot change.
func (tx *Tx) Update(userID string, fn func(AuthInfo) AuthInfo) (AuthInfo, error) {
	existing, ok := tx.st.records[userID]
	if !ok {
		return AuthInfo{}, ErrUserNotFound
	}
	next := normalize(fn(existing.Clone()))
	next.UserID = userID
	tx.st.records[userID] = next
	tx.SetDeviceID(next.DeviceID)
	tx.dirty = true
	return next.Clone(), nil
}

// Remove deletes the record for userID. It reports whether a record was removed.
func (tx *Tx) Remove(userID string) bool {
	if _, ok := tx.st.records[userID]; !ok {
		return false
	}
	delete(tx.st.records, userID)
	tx.st.order = slices.DeleteFunc(tx.st.order, func(id string) bool { return id == userID })
	if tx.st.active == userID {
		tx.st.active = ""
	}
	tx.dirty = true
	return true
}

// SetActive points the active pointer at userID.
func (tx *Tx) SetActive(userID string) error {
	if _, ok := tx.st.records[userID]; !ok {
		return ErrUserNotFound
	}
	if tx.st.active != userID {
		tx.st.active = userID
		tx.dirty = true
	}
	return nil
}

// ClearActive unsets the active pointer.
func (tx *Tx) ClearActive() {
	if tx.st.active != "" {
		tx.st.active = ""
		tx.dirty = true
	}
}

// normalize truncates timestamps to the persisted precision so memory and storage agree.
func normalize(info AuthInfo) AuthInfo {
	if !info.LastAuthActivity.IsZero() {
		info.LastAuthActivity = info.LastAuthActivity.UTC().Truncate(time.Millisecond)
	}
	return info
}
