package activity

// Queue is the FIFO staging buffer for batched records. When full it drops
// the oldest record to make room. Not safe for concurrent use.
type Queue struct {
	records []LogRecord
	limit   int
	dropped uint64
}

func NewQueue(limit int) *Queue {
	return &Queue{limit: limit}
}

// Push appends rec and reports whether an older record was dropped for it.
func (q *Queue) Push(rec LogRecord) bool {
	dropped := false
	if q.limit > 0 && len(q.records) >= q.limit {
		q.records[0] = LogRecord{}
		q.records = q.records[1:]
		q.dropped++
		dropped = true
	}
	q.records = append(q.records, rec)
	return dropped
}

// Pop removes and returns up to n records from the head.
func (q *Queue) Pop(n int) []LogRecord {
	if n > len(q.records) {
		n = len(q.records)
	}
	if n <= 0 {
		return nil
	}

	batch := make([]LogRecord, n)
	copy(batch, q.records[:n])
	for i := 0; i < n; i++ {
		q.records[i] = LogRecord{}
	}
	q.records = q.records[n:]
	if len(q.records) == 0 {
		q.records = nil
	}
	return batch
}

func (q *Queue) Len() int        { return len(q.records) }
func (q *Queue) Dropped() uint64 { return q.dropped }
