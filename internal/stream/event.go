package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindCheckpoint    Kind = "checkpoint"
	KindContent       Kind = "content"
	KindSearchStart   Kind = "search_start"
	KindSearchResults Kind = "search_results"
	KindSearchError   Kind = "search_error"
	KindEnd           Kind = "end"
)

var (
	ErrMalformed     = errors.New("malformed event frame")
	ErrUnknownKind   = errors.New("unknown event kind")
	ErrMalformedURLs = errors.New("malformed search_results urls")
)

// Event is one decoded frame. The concrete types below are the only
// implementations.
type Event interface {
	Kind() Kind
	isEvent()
}

type Checkpoint struct{ ID string }

type Content struct{ Text string }

type SearchStart struct{ Query string }

type SearchResults struct{ URLs []string }

type SearchError struct{ Message string }

type End struct{}

func (Checkpoint) Kind() Kind { return KindCheckpoint }
func (Content) Kind() Kind { return KindContent }
func (SearchStart) Kind() Kind { return KindSearchStart }
func (SearchResults) Kind() Kind { return KindSearchResults }
func (SearchError) Kind() Kind { return KindSearchError }
func (End) Kind() Kind { return KindEnd }

func (Checkpoint) isEvent() {}
func (Content) isEvent() {}
func (SearchStart) isEvent() {}
func (SearchResults) isEvent() {}
func (SearchError) isEvent() {}
func (End) isEvent() {}

type envelope struct {
	Type         string          `json:"type"`
	CheckpointID *string         `json:"checkpoint_id"`
	Content      *string         `json:"content"`
	Query        *string         `json:"query"`
	URLs         json.RawMessage `json:"urls"`
	Error        *string         `json:"error"`
}

// Decode turns one frame payload into an Event. Every failure is returned as
// an error wrapping ErrMalformed, ErrUnknownKind or ErrMalformedURLs.
func Decode(frame []byte) (Event, error) {
	frame = bytes.TrimSpace(frame)
	if len(frame) == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrMalformed)
	}

	var env envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	switch Kind(env.Type) {
	case KindCheckpoint:
		if env.CheckpointID == nil {
			return nil, missingField(KindCheckpoint, "checkpoint_id")
		}
		return Checkpoint{ID: *env.CheckpointID}, nil
	case KindContent:
		if env.Content == nil {
			return nil, missingField(KindContent, "content")
		}
		return Content{Text: *env.Content}, nil
	case KindSearchStart:
		if env.Query == nil {
			return nil, missingField(KindSearchStart, "query")
		}
		return SearchStart{Query: *env.Query}, nil
	case KindSearchResults:
		urls, err := decodeURLs(env.URLs)
		if err != nil {
			return nil, err
		}
		return SearchResults{URLs: urls}, nil
	case KindSearchError:
		if env.Error == nil {
			return nil, missingField(KindSearchError, "error")
		}
		return SearchError{Message: *env.Error}, nil
	case KindEnd:
		return End{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}
}

func missingField(kind Kind, field string) error {
	return fmt.Errorf("%w: %s without %s", ErrMalformed, kind, field)
}

// decodeURLs accepts either a JSON array of strings or a string holding one.
func decodeURLs(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, missingField(KindSearchResults, "urls")
	}

	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedURLs, err)
		}
		raw = json.RawMessage(strings.TrimSpace(encoded))
	}

	var urls []string
	if err := json.Unmarshal(raw, &urls); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedURLs, err)
	}
	if urls == nil {
		urls = []string{}
	}
	return urls, nil
}

// Encode renders ev as a single-line JSON frame payload.
func Encode(ev Event) ([]byte, error) {
	out := map[string]any{"type": string(ev.Kind())}
	switch e := ev.(type) {
	case Checkpoint:
		out["checkpoint_id"] = e.ID
	case Content:
		out["content"] = e.Text
	case SearchStart:
		out["query"] = e.Query
	case SearchResults:
		urls := e.URLs
		if urls == nil {
			urls = []string{}
		}
		out["urls"] = urls
	case SearchError:
		out["error"] = e.Message
	case End:
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKind, ev)
	}
	return json.Marshal(out)
}
