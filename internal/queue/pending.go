package queue

// Pending is the FIFO of queued job ids. Order defines processing order.
type Pending struct {
	ids []string
}

// Len reports the number of queued ids.
func (p *Pending) Len() int {
	return len(p.ids)
}

// Push appends an id at the tail.
func (p *Pending) Push(id string) {
	p.ids = append(p.ids, id)
}

// Pop removes and returns the head.
func (p *Pending) Pop() (string, bool) {
	if len(p.ids) == 0 {
		return "", false
	}
	id := p.ids[0]
	p.ids[0] = ""
	p.ids = p.ids[1:]
	return id, true
}

// Remove deletes id wherever it sits, preserving the order of the rest.
func (p *Pending) Remove(id string) bool {
	for i, candidate := range p.ids {
		if candidate == id {
			p.ids = append(p.ids[:i:i], p.ids[i+1:]...)
			return true
		}
	}
	return false
}

// Position returns the zero-based index of id, or -1.
func (p *Pending) Position(id string) int {
	for i, candidate := range p.ids {
		if candidate == id {
			return i
		}
	}
	return -1
}

// IDs returns a copy of the queued ids in order.
func (p *Pending) IDs() []string {
	return append([]string(nil), p.ids...)
}

// State is a point-in-time copy of the queue.
type State struct {
	Pending      []string `json:"pending"`
	ActiveID     string   `json:"active_id,omitempty"`
	ActiveStatus Status   `json:"active_status,omitempty"`
	Paused       bool     `json:"paused"`
	Capacity     int      `json:"capacity"`
}

// Idle reports whether no job is active.
func (s State) Idle() bool {
	return s.ActiveID == ""
}
