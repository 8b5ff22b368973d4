package dialer

import "github.com/libp2p/go-libp2p/core/peer"

// pendingSet is an insertion-ordered set of peer ids. Pop returns the
// oldest member. Remove purges the id's order slot eagerly so a later
// re-Push enqueues at the back rather than inheriting the old position.
type pendingSet struct {
	order   []peer.ID
	members map[peer.ID]struct{}
}

func newPendingSet() *pendingSet {
	return &pendingSet{
		members: make(map[peer.ID]struct{}),
	}
}

// Push appends id unless it is already a member.
func (s *pendingSet) Push(id peer.ID) {
	if _, ok := s.members[id]; ok {
		return
	}
	s.members[id] = struct{}{}
	s.order = append(s.order, id)
}

// Pop removes and returns the oldest member.
func (s *pendingSet) Pop() (peer.ID, bool) {
	if len(s.order) == 0 {
		return "", false
	}
	id := s.order[0]
	s.order = s.order[1:]
	delete(s.members, id)
	return id, true
}

func (s *pendingSet) Remove(id peer.ID) {
	if _, ok := s.members[id]; !ok {
		return
	}
	delete(s.members, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *pendingSet) Contains(id peer.ID) bool {
	_, ok := s.members[id]
	return ok
}

func (s *pendingSet) Len() int {
	return len(s.members)
}

func (s *pendingSet) Clear() {
	s.order = nil
	s.members = make(map[peer.ID]struct{})
}
