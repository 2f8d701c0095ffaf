package pcode

// SeqNum uniquely places an op within a function: Addr locates the
// source instruction, Order disambiguates operations emitted for that one
// address, and Time is a monotonically increasing per-function counter
// assigned at op creation. Full ordering compares Addr first, then Time;
// Order is carried along but not consulted by Compare, so two SeqNums
// with the same Addr and Time compare equal whatever their Order.
type SeqNum struct {
	Addr  Address
	Order int
	Time  uint64
}

func NewSeqNum(addr Address, order int, time uint64) SeqNum {
	return SeqNum{Addr: addr, Order: order, Time: time}
}

// Compare orders by address, then by time.
func (s SeqNum) Compare(o SeqNum) int {
	if c := s.Addr.Compare(o.Addr); c != 0 {
		return c
	}
	switch {
	case s.Time < o.Time:
		return -1
	case s.Time > o.Time:
		return 1
	default:
		return 0
	}
}

func (s SeqNum) Less(o SeqNum) bool { return s.Compare(o) < 0 }

// TimeCounter hands out monotonically increasing SeqNum.Time values for
// one function. Never reused, even across destroy; saved/restored across
// decoding so a decoded bank's counter resumes above every Time it saw.
type TimeCounter struct {
	next uint64
}

func (c *TimeCounter) Next() uint64 {
	v := c.next
	c.next++
	return v
}

// Observe raises the counter so that future Next() calls stay above any
// Time already seen (e.g. from a decoded SeqNum whose Time exceeds what
// this counter has handed out).
func (c *TimeCounter) Observe(t uint64) {
	if t >= c.next {
		c.next = t + 1
	}
}

func (c *TimeCounter) Save() uint64        { return c.next }
func (c *TimeCounter) Restore(saved uint64) { c.next = saved }
