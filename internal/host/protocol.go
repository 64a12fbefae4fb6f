package host

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/Iron-Ham/termhost/internal/errors"
	"github.com/Iron-Ham/termhost/internal/event"
	"github.com/Iron-Ham/termhost/internal/transport"
)

// Request type names on the wire.
const (
	TypeSpawn           = "spawn"
	TypeWrite           = "write"
	TypeResize          = "resize"
	TypeKill            = "kill"
	TypeTrash           = "trash"
	TypeRestore         = "restore"
	TypeSetActivityTier = "set-activity-tier"
	TypeAcknowledgeData = "acknowledge-data"
	TypeInitBuffers     = "init-buffers"
	TypeGetSnapshot     = "get-snapshot"
	TypeGetAllSnapshots = "get-all-snapshots"
	TypePauseAll        = "pause-all"
	TypeResumeAll       = "resume-all"
	TypeWakeStream      = "wake-stream"
)

// Request is a decoded host message. The set of implementations is closed;
// Handle switches over all of them.
type Request interface {
	// Type returns the wire type name.
	Type() string
	// Terminal returns the target terminal ID, or "" for host-wide requests.
	Terminal() string

	request()
}

// target is embedded by requests addressed to one terminal.
type target struct {
	ID string `json:"id"`
}

func (t target) Terminal() string { return t.ID }
func (target) request()           {}

// hostWide is embedded by requests addressed to the host.
type hostWide struct{}

func (hostWide) Terminal() string { return "" }
func (hostWide) request()         {}

// ActivityOverrides replace the configured activity detection for one
// terminal. Empty lists keep the defaults.
type ActivityOverrides struct {
	IgnoreInputs       []string `json:"ignoreInputs,omitempty"`
	WorkingPatterns    []string `json:"workingPatterns,omitempty"`
	CompletionPatterns []string `json:"completionPatterns,omitempty"`
	PromptPatterns     []string `json:"promptPatterns,omitempty"`
	RecoveryDelayMs    *int     `json:"recoveryDelayMs,omitempty"`
}

// SpawnRequest starts a terminal. An empty ID is replaced by a generated one.
type SpawnRequest struct {
	target
	Kind       string             `json:"kind,omitempty"`
	ProjectID  string             `json:"projectId,omitempty"`
	Shell      string             `json:"shell,omitempty"`
	Args       []string           `json:"args,omitempty"`
	Cwd        string             `json:"cwd,omitempty"`
	Env        map[string]string  `json:"env,omitempty"`
	Cols       int                `json:"cols,omitempty"`
	Rows       int                `json:"rows,omitempty"`
	Tier       string             `json:"tier,omitempty"`
	SkipVisual bool               `json:"skipVisual,omitempty"`
	Analysis   bool               `json:"analysis,omitempty"`
	Activity   *ActivityOverrides `json:"activity,omitempty"`
}

func (SpawnRequest) Type() string { return TypeSpawn }

// WriteRequest sends user input to a terminal.
type WriteRequest struct {
	target
	Data    string `json:"data"`
	TraceID string `json:"traceId,omitempty"`
}

func (WriteRequest) Type() string { return TypeWrite }

// ResizeRequest changes a terminal's size.
type ResizeRequest struct {
	target
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

func (ResizeRequest) Type() string { return TypeResize }

// KillRequest ends a terminal.
type KillRequest struct {
	target
	Reason string `json:"reason,omitempty"`
	Signal string `json:"signal,omitempty"`
}

func (KillRequest) Type() string { return TypeKill }

// TrashRequest soft-deletes a terminal; it is killed when the trash expires.
type TrashRequest struct{ target }

func (TrashRequest) Type() string { return TypeTrash }

// RestoreRequest takes a terminal out of the trash.
type RestoreRequest struct{ target }

func (RestoreRequest) Type() string { return TypeRestore }

// SetActivityTierRequest moves a terminal between the active and background
// tiers.
type SetActivityTierRequest struct {
	target
	Tier string `json:"tier"`
}

func (SetActivityTierRequest) Type() string { return TypeSetActivityTier }

// AcknowledgeDataRequest reports bytes consumed from the fallback channel.
type AcknowledgeDataRequest struct {
	target
	ByteCount int `json:"byteCount"`
}

func (AcknowledgeDataRequest) Type() string { return TypeAcknowledgeData }

// InitBuffersRequest attaches the shared-memory transport.
type InitBuffersRequest struct {
	hostWide
	ShardHandles   []string `json:"shardHandles"`
	SignalHandle   string   `json:"signalHandle"`
	AnalysisHandle string   `json:"analysisHandle,omitempty"`
}

func (InitBuffersRequest) Type() string { return TypeInitBuffers }

// Handles converts the request to transport handles.
func (r InitBuffersRequest) Handles() transport.Handles {
	return transport.Handles{Shards: r.ShardHandles, Signal: r.SignalHandle, Analysis: r.AnalysisHandle}
}

// GetSnapshotRequest asks for one terminal's snapshot.
type GetSnapshotRequest struct {
	target
	RequestID string `json:"requestId,omitempty"`
}

func (GetSnapshotRequest) Type() string { return TypeGetSnapshot }

// GetAllSnapshotsRequest asks for every terminal's snapshot.
type GetAllSnapshotsRequest struct {
	hostWide
	RequestID string `json:"requestId,omitempty"`
}

func (GetAllSnapshotsRequest) Type() string { return TypeGetAllSnapshots }

// PauseAllRequest pauses every terminal before the system sleeps.
type PauseAllRequest struct{ hostWide }

func (PauseAllRequest) Type() string { return TypePauseAll }

// ResumeAllRequest resumes every terminal after wake, staggered.
type ResumeAllRequest struct{ hostWide }

func (ResumeAllRequest) Type() string { return TypeResumeAll }

// WakeStreamRequest restores a suspended output stream.
type WakeStreamRequest struct{ target }

func (WakeStreamRequest) Type() string { return TypeWakeStream }

var decoders = map[string]func([]byte) (Request, error){
	TypeSpawn:           decodeAs[SpawnRequest],
	TypeWrite:           decodeAs[WriteRequest],
	TypeResize:          decodeAs[ResizeRequest],
	TypeKill:            decodeAs[KillRequest],
	TypeTrash:           decodeAs[TrashRequest],
	TypeRestore:         decodeAs[RestoreRequest],
	TypeSetActivityTier: decodeAs[SetActivityTierRequest],
	TypeAcknowledgeData: decodeAs[AcknowledgeDataRequest],
	TypeInitBuffers:     decodeAs[InitBuffersRequest],
	TypeGetSnapshot:     decodeAs[GetSnapshotRequest],
	TypeGetAllSnapshots: decodeAs[GetAllSnapshotsRequest],
	TypePauseAll:        decodeAs[PauseAllRequest],
	TypeResumeAll:       decodeAs[ResumeAllRequest],
	TypeWakeStream:      decodeAs[WakeStreamRequest],
}

func decodeAs[T Request](msg []byte) (Request, error) {
	var req T
	if err := json.Unmarshal(msg, &req); err != nil {
		return nil, errors.NewProtocolError("cannot decode message",
			fmt.Errorf("%w: %v", errors.ErrMalformedMessage, err)).WithMessageType(req.Type())
	}
	return req, nil
}

// DecodeRequest parses one message. The type field is read first so that an
// unknown type is reported as such rather than as a decoding failure.
func DecodeRequest(msg []byte) (Request, error) {
	if !gjson.ValidBytes(msg) {
		return nil, errors.NewProtocolError("message is not valid JSON", errors.ErrMalformedMessage)
	}
	typ := gjson.GetBytes(msg, "type")
	if typ.Type != gjson.String {
		return nil, errors.NewProtocolError("message has no type", errors.ErrMalformedMessage)
	}
	decode, ok := decoders[typ.Str]
	if !ok {
		return nil, errors.NewProtocolError("unknown message type", errors.ErrUnknownMessage).WithMessageType(typ.Str)
	}
	return decode(msg)
}

// PeekType returns the type and target id of a message without decoding it,
// so that a message that fails to decode can still be attributed.
func PeekType(msg []byte) (typ, id string) {
	res := gjson.GetManyBytes(msg, "type", "id")
	return res[0].String(), res[1].String()
}

// -----------------------------------------------------------------------------
// Events
// -----------------------------------------------------------------------------

// Event type names on the wire.
const (
	WireTerminalPID = "terminal-pid"
	WireData        = "data"
	WireExit        = "exit"
	WireError       = "error"
	WireStatus      = "terminal-status"
	WireThrottled   = "host-throttled"
	WireReliability = "terminal-reliability-metric"
	WireActivity    = "activity"
	WireSnapshot    = "snapshot"
	WireSnapshots   = "snapshots"
)

type wirePID struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	PID  int    `json:"pid"`
}

type wireData struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Data      string `json:"data"`
	ByteCount int    `json:"byteCount"`
}

type wireExit struct {
	Type     string `json:"type"`
	ID       string `json:"id"`
	ExitCode int    `json:"exitCode"`
	Reason   string `json:"reason"`
}

type wireError struct {
	Type        string `json:"type"`
	ID          string `json:"id,omitempty"`
	RequestType string `json:"requestType,omitempty"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	Retryable   bool   `json:"retryable,omitempty"`
	UserFacing  bool   `json:"userFacing,omitempty"`
}

type wireStatus struct {
	Type   string `json:"type"`
	ID     string `json:"id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

type wireThrottled struct {
	Type        string  `json:"type"`
	Throttled   bool    `json:"throttled"`
	Utilization float64 `json:"utilization"`
	DurationMs  int64   `json:"durationMs,omitempty"`
}

type wireReliability struct {
	Type         string  `json:"type"`
	ID           string  `json:"id"`
	Metric       string  `json:"metric"`
	Path         string  `json:"path"`
	DurationMs   int64   `json:"durationMs"`
	Utilization  float64 `json:"utilization"`
	PendingBytes int     `json:"pendingBytes"`
	Shard        int     `json:"shard"`
}

type wireActivity struct {
	Type       string  `json:"type"`
	ID         string  `json:"id"`
	State      string  `json:"state"`
	Previous   string  `json:"previous"`
	Trigger    string  `json:"trigger"`
	Confidence float64 `json:"confidence"`
}

type wireSnapshot struct {
	Type      string                 `json:"type"`
	RequestID string                 `json:"requestId,omitempty"`
	Snapshot  event.TerminalSnapshot `json:"snapshot"`
}

type wireSnapshots struct {
	Type      string                   `json:"type"`
	RequestID string                   `json:"requestId,omitempty"`
	Snapshots []event.TerminalSnapshot `json:"snapshots"`
}

// EncodeEvent renders an event as one wire message. Events that have no wire
// form return nil and no error.
func EncodeEvent(e event.Event) ([]byte, error) {
	var msg any
	switch e := e.(type) {
	case event.TerminalPIDEvent:
		msg = wirePID{WireTerminalPID, e.TerminalID, e.PID}
	case event.TerminalDataEvent:
		msg = wireData{WireData, e.TerminalID, string(e.Data), len(e.Data)}
	case event.TerminalExitEvent:
		msg = wireExit{WireExit, e.TerminalID, e.ExitCode, e.Reason}
	case event.HostErrorEvent:
		msg = wireError{WireError, e.TerminalID, e.RequestType, e.Code, e.Message, e.Retryable, e.UserFacing}
	case event.TerminalStatusEvent:
		msg = wireStatus{WireStatus, e.TerminalID, e.Status, e.Reason}
	case event.HostThrottledEvent:
		msg = wireThrottled{WireThrottled, e.Throttled, e.Utilization, e.Duration.Milliseconds()}
	case event.ReliabilityMetricEvent:
		msg = wireReliability{WireReliability, e.TerminalID, e.Metric, e.Path,
			e.Duration.Milliseconds(), e.Utilization, e.PendingBytes, e.Shard}
	case event.ActivityEvent:
		msg = wireActivity{WireActivity, e.TerminalID, e.State, e.Previous, e.Trigger, e.Confidence}
	case event.SnapshotEvent:
		msg = wireSnapshot{WireSnapshot, e.RequestID, e.Snapshot}
	case event.SnapshotsEvent:
		snaps := e.Snapshots
		if snaps == nil {
			snaps = []event.TerminalSnapshot{}
		}
		msg = wireSnapshots{WireSnapshots, e.RequestID, snaps}
	default:
		return nil, nil
	}
	return json.Marshal(msg)
}
