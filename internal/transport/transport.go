package transport

import (
	"fmt"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/Iron-Ham/termhost/internal/errors"
)

// Handles names the shared-memory files making up a transport. The UI process
// creates them and passes them to the host in an init-buffers request.
type Handles struct {
	Shards   []string `json:"shards"`
	Signal   string   `json:"signal"`
	Analysis string   `json:"analysis,omitempty"`
}

// Transport is the producer side of the shard set. It is not safe for
// concurrent use; the host drives it from its event loop.
type Transport struct {
	shards   []*Ring
	signal   *Signal
	analysis *Ring
	dirty    bool
}

// New assembles a transport from already attached rings. analysis may be nil.
func New(shards []*Ring, signal *Signal, analysis *Ring) (*Transport, error) {
	if len(shards) == 0 {
		return nil, errors.NewTransportError("no shards", errors.ErrBufferHandle)
	}
	if signal == nil {
		return nil, errors.NewTransportError("no signal", errors.ErrBufferHandle)
	}
	return &Transport{shards: shards, signal: signal, analysis: analysis}, nil
}

// Open maps every handle. On failure, anything already mapped is released.
func Open(h Handles) (*Transport, error) {
	var shards []*Ring
	var signal *Signal
	var analysis *Ring
	fail := func(err error) (*Transport, error) {
		for _, r := range shards {
			r.Close()
		}
		if signal != nil {
			signal.Close()
		}
		return nil, err
	}

	for i, path := range h.Shards {
		r, err := OpenRing(path)
		if err != nil {
			var te *errors.TransportError
			if errors.As(err, &te) {
				te.WithShard(i)
			}
			return fail(err)
		}
		shards = append(shards, r)
	}
	if h.Signal == "" {
		return fail(errors.NewTransportError("missing signal handle", errors.ErrBufferHandle))
	}
	signal, err := OpenSignal(h.Signal)
	if err != nil {
		return fail(err)
	}
	if h.Analysis != "" {
		if analysis, err = OpenRing(h.Analysis); err != nil {
			return fail(err)
		}
	}
	return New(shards, signal, analysis)
}

// Create makes a full set of shared buffers under dir and returns their
// handles. The host side then attaches with Open.
func Create(dir, prefix string, shardCount, shardSize, analysisSize int) (Handles, error) {
	var h Handles
	for i := 0; i < shardCount; i++ {
		path := filepath.Join(dir, fmt.Sprintf("%s-shard-%d", prefix, i))
		r, err := CreateRing(path, shardSize)
		if err != nil {
			return Handles{}, err
		}
		r.Close()
		h.Shards = append(h.Shards, path)
	}
	h.Signal = filepath.Join(dir, prefix+"-signal")
	s, err := CreateSignal(h.Signal)
	if err != nil {
		return Handles{}, err
	}
	s.Close()
	if analysisSize > 0 {
		h.Analysis = filepath.Join(dir, prefix+"-analysis")
		r, err := CreateRing(h.Analysis, analysisSize)
		if err != nil {
			return Handles{}, err
		}
		r.Close()
	}
	return h, nil
}

// ShardCount returns the number of shards.
func (t *Transport) ShardCount() int {
	return len(t.shards)
}

// ShardFor maps a terminal ID to its shard. The mapping is stable for the
// lifetime of the transport.
func (t *Transport) ShardFor(terminalID string) int {
	return int(xxhash.Sum64String(terminalID) % uint64(len(t.shards)))
}

// Shard returns shard i.
func (t *Transport) Shard(i int) *Ring {
	return t.shards[i]
}

// Signal returns the wake-up signal.
func (t *Transport) Signal() *Signal {
	return t.signal
}

// Frame encodes a packet for shard. It returns nil when the packet cannot be
// encoded or could never fit in the shard even when empty.
func (t *Transport) Frame(shard int, terminalID string, payload []byte) []byte {
	if FramedSize(len(terminalID), len(payload)) > t.shards[shard].Cap() {
		return nil
	}
	return Frame(terminalID, payload)
}

// Write writes a framed packet to shard. It reports whether the whole packet
// was written.
func (t *Transport) Write(shard int, packet []byte) bool {
	if t.shards[shard].Write(packet) == 0 {
		return false
	}
	t.dirty = true
	return true
}

// Utilization returns shard's utilization percentage.
func (t *Transport) Utilization(shard int) float64 {
	return t.shards[shard].Utilization()
}

// HasAnalysis reports whether a secondary analysis ring is attached.
func (t *Transport) HasAnalysis() bool {
	return t.analysis != nil
}

// WriteAnalysis offers a packet to the analysis ring. A full ring drops the
// packet; the caller never waits for the analysis consumer.
func (t *Transport) WriteAnalysis(terminalID string, payload []byte) bool {
	if t.analysis == nil {
		return false
	}
	pkt := Frame(terminalID, payload)
	if pkt == nil || t.analysis.Write(pkt) == 0 {
		return false
	}
	t.dirty = true
	return true
}

// Flush wakes the consumer once if anything was written since the last
// Flush, and reports whether it did.
func (t *Transport) Flush() bool {
	if !t.dirty {
		return false
	}
	t.dirty = false
	t.signal.Notify()
	return true
}

// Close releases every mapping.
func (t *Transport) Close() error {
	var errs []error
	for _, r := range t.shards {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if t.analysis != nil {
		if err := t.analysis.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := t.signal.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
