package modifier

// RecordState tracks the lifecycle of one outstanding prediction.
type RecordState string

const (
	RecordPredicted    RecordState = "predicted"
	RecordAcknowledged RecordState = "acknowledged"
	RecordCorrected    RecordState = "corrected"
	RecordExpired      RecordState = "expired"
)

// Record is a locally issued, not yet acknowledged request. Predicted holds
// the effective level the shadow stack showed after the optimistic apply;
// reconciliation compares it against the authoritative value.
type Record struct {
	Op        Op
	Level     Level
	RemoveAll bool
	Tick      uint64
	NetType   NetType
	Predicted Level
	State     RecordState
}

// Ledger is the per-category queue of outstanding predictions, ordered by
// issuing tick. Growth is bounded by the expiry window: records that outlive
// it are dropped with a rollback, exactly like a correction.
type Ledger struct {
	records []Record
	window  uint64
}

// DefaultExpiryTicks bounds unacknowledged predictions when the category
// does not override the window.
const DefaultExpiryTicks uint64 = 90

func NewLedger(window uint64) *Ledger {
	if window == 0 {
		window = DefaultExpiryTicks
	}
	return &Ledger{window: window}
}

func (l *Ledger) Push(record Record) {
	record.State = RecordPredicted
	l.records = append(l.records, record)
}

func (l *Ledger) Len() int {
	return len(l.records)
}

// Outstanding copies the still-unresolved records in issue order.
func (l *Ledger) Outstanding() []Record {
	if len(l.records) == 0 {
		return nil
	}
	copied := make([]Record, len(l.records))
	copy(copied, l.records)
	return copied
}

// OldestTick reports the issuing tick of the oldest outstanding record.
func (l *Ledger) OldestTick() (uint64, bool) {
	if len(l.records) == 0 {
		return 0, false
	}
	return l.records[0].Tick, true
}

// ResolveThrough removes and returns every record issued at or before the
// authoritative tick. The caller decides whether they acknowledge or
// correct.
func (l *Ledger) ResolveThrough(tick uint64) []Record {
	cut := 0
	for cut < len(l.records) && l.records[cut].Tick <= tick {
		cut++
	}
	if cut == 0 {
		return nil
	}
	resolved := make([]Record, cut)
	copy(resolved, l.records[:cut])
	l.records = append(l.records[:0], l.records[cut:]...)
	return resolved
}

// ExpireThrough removes and returns records whose ack window has closed at
// the given tick.
func (l *Ledger) ExpireThrough(tick uint64) []Record {
	if tick <= l.window {
		return nil
	}
	cutoff := tick - l.window
	expired := l.ResolveThrough(cutoff)
	for i := range expired {
		expired[i].State = RecordExpired
	}
	return expired
}

// Window reports the configured expiry window in ticks.
func (l *Ledger) Window() uint64 {
	return l.window
}

// Reset drops every outstanding record, e.g. on actor destruction.
func (l *Ledger) Reset() int {
	n := len(l.records)
	l.records = l.records[:0]
	return n
}
