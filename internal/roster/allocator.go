package roster

// Allocator issues participant ids for the current session. It is not safe
// for concurrent use; the Store serializes access to it.
type Allocator struct {
	next int
}

func NewAllocator() *Allocator {
	return &Allocator{next: 1}
}

// Next returns a fresh id, strictly greater than any id issued before it.
func (a *Allocator) Next() int {
	id := a.next
	a.next++
	return id
}

// Peek returns the id the next call to Next will issue.
func (a *Allocator) Peek() int {
	return a.next
}

// Recalibrate sets the next id to max(existing ids)+1, or 1 for an empty roster.
func (a *Allocator) Recalibrate(participants []Participant) {
	a.next = maxID(participants) + 1
}

// Raise moves the next id past the existing ids without ever lowering it.
func (a *Allocator) Raise(participants []Participant) {
	if floor := maxID(participants) + 1; floor > a.next {
		a.next = floor
	}
}

func (a *Allocator) Reset() {
	a.next = 1
}

func maxID(participants []Participant) int {
	highest := 0
	for _, p := range participants {
		if p.ID > highest {
			highest = p.ID
		}
	}
	return highest
}
