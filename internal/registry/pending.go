package registry

// Segment is a not-yet-delivered part of an output chunk. Buf is the chunk as
// read from the process and Offset the first undelivered byte.
type Segment struct {
	Buf    []byte
	Offset int
}

// Remaining returns the undelivered bytes.
func (s Segment) Remaining() []byte {
	return s.Buf[s.Offset:]
}

// PendingQueue is an ordered queue of output segments waiting for ring space.
// Segments reference the original chunks; nothing is copied.
type PendingQueue struct {
	segs  []Segment
	bytes int
}

// Bytes returns the number of queued bytes.
func (q *PendingQueue) Bytes() int {
	return q.bytes
}

// Empty reports whether nothing is queued.
func (q *PendingQueue) Empty() bool {
	return len(q.segs) == 0
}

// Segments returns the number of queued segments.
func (q *PendingQueue) Segments() int {
	return len(q.segs)
}

// Front returns the oldest undelivered bytes.
func (q *PendingQueue) Front() []byte {
	if len(q.segs) == 0 {
		return nil
	}
	return q.segs[0].Remaining()
}

func (q *PendingQueue) push(buf []byte, offset int) {
	if offset >= len(buf) {
		return
	}
	q.segs = append(q.segs, Segment{Buf: buf, Offset: offset})
	q.bytes += len(buf) - offset
}

// consume marks n bytes of the front segment delivered.
func (q *PendingQueue) consume(n int) {
	front := &q.segs[0]
	front.Offset += n
	q.bytes -= n
	if front.Offset >= len(front.Buf) {
		q.segs[0] = Segment{}
		q.segs = q.segs[1:]
	}
}

func (q *PendingQueue) clear() int {
	n := q.bytes
	q.segs = nil
	q.bytes = 0
	return n
}
