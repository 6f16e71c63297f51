// Package portal negotiates a screen capture session with the
// xdg-desktop-portal ScreenCast service. The handshake is one-shot:
// CreateSession, SelectSources, Start (which prompts the operator), then
// OpenPipeWireRemote to obtain the capture connection fd. Every request is
// answered asynchronously through a Response signal on a Request object.
package portal

import (
	"errors"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/google/uuid"
)

const (
	busName    = "org.freedesktop.portal.Desktop"
	objectPath = dbus.ObjectPath("/org/freedesktop/portal/desktop")

	screenCastInterface = "org.freedesktop.portal.ScreenCast"
	createSessionName   = screenCastInterface + ".CreateSession"
	selectSourcesName   = screenCastInterface + ".SelectSources"
	startName           = screenCastInterface + ".Start"
	openPipeWireRemote  = screenCastInterface + ".OpenPipeWireRemote"

	requestInterface = "org.freedesktop.portal.Request"
	responseMember   = "Response"

	sessionInterface = "org.freedesktop.portal.Session"
	sessionCloseName = sessionInterface + ".Close"
)

// Source type and cursor mode bit flags, persist modes.
const (
	SourceTypeMonitor uint32 = 1
	SourceTypeWindow  uint32 = 2

	CursorModeHidden   uint32 = 1
	CursorModeEmbedded uint32 = 2

	PersistModeNone uint32 = 0
)

// Response statuses carried by the Request Response signal.
const (
	responseSuccess   uint32 = 0
	responseCancelled uint32 = 1
)

var (
	// ErrCancelled means the operator dismissed the screen share dialog.
	ErrCancelled = errors.New("portal: screen capture request was cancelled")

	// ErrNoStreams means the portal granted the session but returned no
	// capture streams.
	ErrNoStreams = errors.New("portal: no capture streams granted")

	ErrUnexpectedResponse = errors.New("portal: unexpected response from dbus")
)

// Stream is one granted capture stream.
type Stream struct {
	NodeID     uint32
	Size       [2]int32
	SourceType uint32
}

// Session is a live ScreenCast portal session.
type Session struct {
	conn *dbus.Conn
	path dbus.ObjectPath
}

// SelectSourcesOptions mirror the portal's SelectSources vardict.
type SelectSourcesOptions struct {
	Types       uint32
	Multiple    bool
	CursorMode  uint32
	PersistMode uint32
}

// CreateSession opens the session bus and creates a ScreenCast session.
func CreateSession() (*Session, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("portal: session bus: %w", err)
	}

	data := map[string]dbus.Variant{
		"handle_token":         dbus.MakeVariant(generateToken()),
		"session_handle_token": dbus.MakeVariant(generateToken()),
	}

	status, results, err := callAndWait(conn, createSessionName, nil, data)
	if err != nil {
		return nil, err
	}
	if status != responseSuccess {
		return nil, ErrCancelled
	}

	handle, ok := results["session_handle"]
	if !ok {
		return nil, fmt.Errorf("%w: CreateSession response missing session_handle", ErrUnexpectedResponse)
	}
	sessionPath, ok := handle.Value().(string)
	if !ok {
		return nil, fmt.Errorf("%w: session_handle has type %T", ErrUnexpectedResponse, handle.Value())
	}

	return &Session{conn: conn, path: dbus.ObjectPath(sessionPath)}, nil
}

// SelectSources declares what the operator may share.
func (s *Session) SelectSources(options SelectSourcesOptions) error {
	data := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(generateToken()),
		"types":        dbus.MakeVariant(options.Types),
		"multiple":     dbus.MakeVariant(options.Multiple),
		"cursor_mode":  dbus.MakeVariant(options.CursorMode),
		"persist_mode": dbus.MakeVariant(options.PersistMode),
	}

	status, _, err := callAndWait(s.conn, selectSourcesName, []any{s.path}, data)
	if err != nil {
		return err
	}
	if status != responseSuccess {
		return ErrCancelled
	}
	return nil
}

// Start shows the operator the share dialog and returns the granted streams.
func (s *Session) Start(parentWindow string) ([]Stream, error) {
	data := map[string]dbus.Variant{
		"handle_token": dbus.MakeVariant(generateToken()),
	}

	status, results, err := callAndWait(s.conn, startName, []any{s.path, parentWindow}, data)
	if err != nil {
		return nil, err
	}
	if status != responseSuccess {
		return nil, ErrCancelled
	}

	streamsVariant, ok := results["streams"]
	if !ok {
		return nil, ErrNoStreams
	}
	streams := parseStreams(streamsVariant.Value())
	if len(streams) == 0 {
		return nil, ErrNoStreams
	}
	return streams, nil
}

// OpenPipeWireRemote returns a file descriptor connected to the PipeWire
// daemon, scoped to this session's streams. The caller owns the fd.
func (s *Session) OpenPipeWireRemote() (int, error) {
	obj := s.conn.Object(busName, objectPath)
	call := obj.Call(openPipeWireRemote, 0, s.path, map[string]dbus.Variant{})
	if call.Err != nil {
		return -1, fmt.Errorf("portal: OpenPipeWireRemote: %w", call.Err)
	}

	var fd dbus.UnixFD
	if err := call.Store(&fd); err != nil {
		return -1, fmt.Errorf("portal: OpenPipeWireRemote: %w", err)
	}
	return int(fd), nil
}

// Close ends the capture session.
func (s *Session) Close() error {
	obj := s.conn.Object(busName, s.path)
	call := obj.Call(sessionCloseName, 0)
	return call.Err
}

// callAndWait invokes a portal method that answers through a Request object,
// subscribing to its Response signal before reading the reply so the signal
// cannot be missed.
func callAndWait(conn *dbus.Conn, method string, args []any, options map[string]dbus.Variant) (uint32, map[string]dbus.Variant, error) {
	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(requestInterface),
		dbus.WithMatchMember(responseMember),
	); err != nil {
		return 0, nil, fmt.Errorf("portal: subscribe: %w", err)
	}
	defer conn.RemoveMatchSignal(
		dbus.WithMatchInterface(requestInterface),
		dbus.WithMatchMember(responseMember),
	)

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	callArgs := append(append([]any{}, args...), options)
	obj := conn.Object(busName, objectPath)
	call := obj.Call(method, 0, callArgs...)
	if call.Err != nil {
		return 0, nil, fmt.Errorf("portal: %s: %w", method, call.Err)
	}

	var requestPath dbus.ObjectPath
	if err := call.Store(&requestPath); err != nil {
		return 0, nil, fmt.Errorf("portal: %s: %w", method, err)
	}

	for signal := range signals {
		if signal.Path != requestPath || signal.Name != requestInterface+"."+responseMember {
			continue
		}
		if len(signal.Body) != 2 {
			return 0, nil, ErrUnexpectedResponse
		}
		status, ok := signal.Body[0].(uint32)
		if !ok {
			return 0, nil, ErrUnexpectedResponse
		}
		results, ok := signal.Body[1].(map[string]dbus.Variant)
		if !ok {
			return 0, nil, ErrUnexpectedResponse
		}
		return status, results, nil
	}

	return 0, nil, fmt.Errorf("%w: signal channel closed", ErrUnexpectedResponse)
}

// parseStreams decodes the portal's `a(ua{sv})` streams property, tolerating
// the looser shapes godbus produces for variants.
func parseStreams(value any) []Stream {
	var rawStreams [][]any
	switch rs := value.(type) {
	case [][]any:
		rawStreams = rs
	case []any:
		for _, r := range rs {
			if s, ok := r.([]any); ok {
				rawStreams = append(rawStreams, s)
			}
		}
	default:
		return nil
	}

	var streams []Stream
	for _, streamSlice := range rawStreams {
		if len(streamSlice) < 2 {
			continue
		}

		stream := Stream{}
		if nodeID, ok := streamSlice[0].(uint32); ok {
			stream.NodeID = nodeID
		}

		if props, ok := streamSlice[1].(map[string]dbus.Variant); ok {
			if size, ok := props["size"]; ok {
				if pair, ok := parseInt32Pair(size.Value()); ok {
					stream.Size = pair
				}
			}
			if sourceType, ok := props["source_type"]; ok {
				if parsed, ok := sourceType.Value().(uint32); ok {
					stream.SourceType = parsed
				}
			}
		}

		streams = append(streams, stream)
	}
	return streams
}

func parseInt32Pair(value any) ([2]int32, bool) {
	values, ok := value.([]any)
	if !ok || len(values) < 2 {
		return [2]int32{}, false
	}

	left, ok := values[0].(int32)
	if !ok {
		return [2]int32{}, false
	}
	right, ok := values[1].(int32)
	if !ok {
		return [2]int32{}, false
	}

	return [2]int32{left, right}, true
}

// generateToken produces a handle token valid for the portal's
// [A-Za-z0-9_] token grammar.
func generateToken() string {
	return "ndi_screenshare_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
