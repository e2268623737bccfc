package engine

// Global membership list, spec §3 / §9.
//
// A C-style singly-threaded intrusive list with prev/next pointers is
// replaced here with a plain slice kept sorted by ascending channel number
// plus a map for O(1) lookup; unlink only ever happens at teardown so O(n)
// removal from a slice is not a real cost. A Registry also keeps the group
// round-robin heads used for outbound channel selection.

import (
	"sort"
	"sync"
)

// Registry is the process-wide Port directory, protected by a single
// mutex per spec §5's "Interface-list mutex".
type Registry struct {
	mu    sync.Mutex
	ports []*Port
	byNum map[int]*Port

	// roundRobin remembers the last channel number handed out per group,
	// so RequestInGroup rotates fairly around a hunt group.
	roundRobin map[int]int
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byNum:      make(map[int]*Port),
		roundRobin: make(map[int]int),
	}
}

// Add inserts p, keeping the slice sorted by channel number.
func (r *Registry) Add(p *Port) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.byNum[p.Channel] = p
	idx := sort.Search(len(r.ports), func(i int) bool { return r.ports[i].Channel >= p.Channel })
	r.ports = append(r.ports, nil)
	copy(r.ports[idx+1:], r.ports[idx:])
	r.ports[idx] = p
}

// Remove deletes p from the registry. Called only at teardown per §5.
func (r *Registry) Remove(p *Port) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.byNum, p.Channel)
	for i, m := range r.ports {
		if m == p {
			r.ports = append(r.ports[:i], r.ports[i+1:]...)
			return
		}
	}
}

// ByChannel looks up a Port by channel number.
func (r *Registry) ByChannel(channel int) (*Port, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byNum[channel]
	return p, ok
}

// All returns a snapshot of the membership list, sorted by channel number.
func (r *Registry) All() []*Port {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Port, len(r.ports))
	copy(out, r.ports)
	return out
}

// RequestInGroup implements the resource-exhaustion-free part of §4.2
// "request": scan the group round-robin starting just after the last
// channel handed out, returning the first Port that is Down and not
// locally/remotely blocked. Returns ErrBusy if a channel matched the group
// but all were owned, or ErrCongestion if the group itself resolved no
// member at all.
func (r *Registry) RequestInGroup(group int) (*Port, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var members []*Port
	for _, p := range r.ports {
		if p.Group == group {
			members = append(members, p)
		}
	}
	if len(members) == 0 {
		return nil, ErrCongestion
	}

	start := r.roundRobin[group]
	for i := 0; i < len(members); i++ {
		idx := (start + i) % len(members)
		p := members[idx]
		p.mu.Lock()
		available := p.State == StateDown && !p.Flags.LocallyBlocked && !p.Flags.RemotelyBlocked && p.Flags.InService
		p.mu.Unlock()
		if available {
			r.roundRobin[group] = (idx + 1) % len(members)
			return p, nil
		}
	}
	return nil, ErrBusy
}
