package ws

import (
	"fmt"
	"strconv"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Frame types the server sends. Requests use the action names of the preview service
// plus the control types below.
const (
	TypeResult = "result"
	TypeError  = "error"
	TypeDepth  = "depth"
	TypePing   = "ping"
	TypePong   = "pong"

	TypeSubscribeDepth   = "subscribe_depth"
	TypeUnsubscribeDepth = "unsubscribe_depth"
)

// Frame is one websocket message. On the wire it is a protobuf Struct in a binary frame.
//
// Amounts travel as decimal strings so no precision is lost to JSON numbers.
type Frame struct {
	Type      string
	ID        string // echoed from the request
	Market    string
	Params    map[string]string
	Result    map[string]any
	Error     *FrameError
	Timestamp int64 // unix milliseconds
}

// FrameError describes a failed request.
type FrameError struct {
	Code    string
	Message string
}

// Encode serializes f.
func Encode(f *Frame) ([]byte, error) {
	fields := map[string]any{
		"type":      f.Type,
		"timestamp": f.Timestamp,
	}
	if f.ID != "" {
		fields["id"] = f.ID
	}
	if f.Market != "" {
		fields["market"] = f.Market
	}
	if len(f.Params) > 0 {
		params := make(map[string]any, len(f.Params))
		for k, v := range f.Params {
			params[k] = v
		}
		fields["params"] = params
	}
	if f.Result != nil {
		fields["result"] = f.Result
	}
	if f.Error != nil {
		fields["error"] = map[string]any{"code": f.Error.Code, "message": f.Error.Message}
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build frame: %w", err)
	}
	data, err := proto.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal frame: %w", err)
	}
	return data, nil
}

// Decode parses a frame produced by Encode or by a client.
func Decode(data []byte) (*Frame, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal frame: %w", err)
	}
	m := s.AsMap()

	f := &Frame{
		Type:   stringField(m, "type"),
		ID:     stringField(m, "id"),
		Market: stringField(m, "market"),
	}
	if ts, ok := m["timestamp"].(float64); ok {
		f.Timestamp = int64(ts)
	}
	if params, ok := m["params"].(map[string]any); ok {
		f.Params = make(map[string]string, len(params))
		for k, v := range params {
			f.Params[k] = scalarString(v)
		}
	}
	if result, ok := m["result"].(map[string]any); ok {
		f.Result = result
	}
	if e, ok := m["error"].(map[string]any); ok {
		f.Error = &FrameError{Code: stringField(e, "code"), Message: stringField(e, "message")}
	}
	if f.Type == "" {
		return nil, fmt.Errorf("frame has no type")
	}
	return f, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// scalarString accepts numbers and bools for convenience; amounts should be sent as strings.
func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}
