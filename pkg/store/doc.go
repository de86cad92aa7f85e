package store

import (
	"fmt"
	"sort"
	"strings"

	"github.com/automerge/automerge-go"
)

// Save returns the full document. The result can be passed to Load.
func (s *Store) Save() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Save()
}

func (s *Store) Heads() []automerge.ChangeHash {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Heads()
}

// Changes returns the change history in causal order.
func (s *Store) Changes() ([]*automerge.Change, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Changes()
}

// Fork returns an independent copy of the store. The copy has no listeners.
func (s *Store) Fork() (*Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, err := s.doc.Fork()
	if err != nil {
		return nil, fmt.Errorf("failed to fork: %w", err)
	}
	return newStore(doc, nil)
}

// Merge applies every change of other that this store is missing.
func (s *Store) Merge(other *Store) error {
	fork, err := other.Fork()
	if err != nil {
		return err
	}
	s.mu.Lock()
	before := s.doc.Heads()
	_, err = s.doc.Merge(fork.doc)
	after := s.doc.Heads()
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to merge: %w", err)
	}
	if !sameHeads(before, after) {
		s.notify(Change{Remote: true})
	}
	return nil
}

// SyncState tracks what a single remote peer is known to have. A SyncState must
// only be used with the store that created it.
type SyncState struct {
	ss *automerge.SyncState
}

func (s *Store) NewSyncState() *SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &SyncState{ss: automerge.NewSyncState(s.doc)}
}

// LoadSyncState restores a sync state persisted with SyncState.Save.
func (s *Store) LoadSyncState(raw []byte) (*SyncState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ss, err := automerge.LoadSyncState(s.doc, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load sync state: %w", err)
	}
	return &SyncState{ss: ss}, nil
}

func (st *SyncState) Save() []byte {
	return st.ss.Save()
}

// GenerateSyncMessage returns the next message for the peer, or nil when the peer
// is believed to be up to date.
func (s *Store) GenerateSyncMessage(st *SyncState) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, valid := st.ss.GenerateMessage()
	if !valid || msg == nil {
		return nil
	}
	return msg.Bytes()
}

// ReceiveSyncMessage applies a message from the peer. Listeners are notified with
// Remote set when the message changed the document.
func (s *Store) ReceiveSyncMessage(st *SyncState, msg []byte) error {
	s.mu.Lock()
	before := s.doc.Heads()
	if _, err := st.ss.ReceiveMessage(msg); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to receive message: %w", err)
	}
	after := s.doc.Heads()
	s.mu.Unlock()
	if !sameHeads(before, after) {
		s.notify(Change{Remote: true})
	}
	return nil
}

func sameHeads(a, b []automerge.ChangeHash) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[automerge.ChangeHash]bool, len(a))
	for _, h := range a {
		seen[h] = true
	}
	for _, h := range b {
		if !seen[h] {
			return false
		}
	}
	return true
}

// HeadsKey returns a stable string identifying the given heads, used to detect
// whether a document changed between two points in time.
func HeadsKey(heads []automerge.ChangeHash) string {
	keys := make([]string, len(heads))
	for i, h := range heads {
		keys[i] = h.String()
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}
