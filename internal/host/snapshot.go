package host

import (
	"github.com/Iron-Ham/termhost/internal/event"
	"github.com/Iron-Ham/termhost/internal/registry"
)

func (h *Host) handleGetSnapshot(r GetSnapshotRequest) error {
	t, err := h.reg.MustGet(r.ID)
	if err != nil {
		return err
	}
	h.bus.Publish(event.NewSnapshotEvent(r.RequestID, h.snapshot(t)))
	return nil
}

func (h *Host) handleGetAllSnapshots(r GetAllSnapshotsRequest) {
	terminals := h.reg.All()
	snaps := make([]event.TerminalSnapshot, 0, len(terminals))
	for _, t := range terminals {
		snaps = append(snaps, h.snapshot(t))
	}
	h.bus.Publish(event.NewSnapshotsEvent(r.RequestID, snaps))
}

// snapshot captures a terminal's current state and its most recent output
// lines, escape sequences removed.
func (h *Host) snapshot(t *registry.Terminal) event.TerminalSnapshot {
	s := event.TerminalSnapshot{
		TerminalID:   t.ID,
		ProjectID:    t.ProjectID,
		Kind:         t.Kind.String(),
		Tier:         t.Tier.String(),
		Stream:       t.Stream.State.String(),
		Trashed:      t.Trashed,
		CreatedAt:    t.CreatedAt,
		LastInputAt:  t.LastInputAt,
		LastOutputAt: t.LastOutputAt,
		Activity:     "idle",
	}
	if t.Process != nil {
		s.PID = t.Process.Pid()
	}
	if t.Activity != nil {
		s.Activity = t.Activity.State()
	}
	if t.Output != nil {
		s.Lines = t.Output.Lines(h.cfg.SnapshotLines)
	}
	if s.Lines == nil {
		s.Lines = []string{}
	}
	return s
}
