package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Envelope types (Client → Server)
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypePing        = "ping"
)

// Envelope types (Server → Client)
const (
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeInsert       = "insert"
	TypePong         = "pong"
	TypeError        = "error"
)

var (
	// ErrInvalidFilter indicates a filter string is not of the form column=eq.value.
	ErrInvalidFilter = errors.New("invalid filter")
	// ErrUnfilterableColumn indicates the filter names a column the feed does not index.
	ErrUnfilterableColumn = errors.New("column cannot be filtered")
)

// FilterableColumns are the row columns a subscription filter may name.
var FilterableColumns = map[string]bool{
	"channel_id":   true,
	"sender_id":    true,
	"recipient_id": true,
	"user_id":      true,
}

// Envelope is the unit of every realtime websocket frame.
type Envelope struct {
	Type  string          `json:"type"`
	Ref   string          `json:"ref,omitempty"`
	Topic string          `json:"topic,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// SubscribeRequest is the data of a subscribe envelope.
type SubscribeRequest struct {
	Table  string `json:"table"`
	Filter string `json:"filter,omitempty"`
}

// InsertEvent is the data of an insert envelope: the new row in its table's shape.
type InsertEvent struct {
	Table  string          `json:"table"`
	Record json.RawMessage `json:"record"`
}

// ErrorPayload is the data of an error envelope.
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEnvelope marshals data into an envelope of the given type.
func NewEnvelope(typ, ref, topic string, data any) (Envelope, error) {
	env := Envelope{Type: typ, Ref: ref, Topic: topic}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		env.Data = raw
	}
	return env, nil
}

// Change is a committed insert as published by the store. Fields carries the
// string value of every filterable column of the row.
type Change struct {
	Table  string
	Record json.RawMessage
	Fields map[string]string
}

// Filter restricts a subscription to rows whose Column equals Value.
type Filter struct {
	Column string
	Value  string
}

// EqFilter builds a column equality filter.
func EqFilter(column, value string) *Filter {
	return &Filter{Column: column, Value: value}
}

// ParseFilter parses "column=eq.value". An empty string means no filter.
func ParseFilter(s string) (*Filter, error) {
	if s == "" {
		return nil, nil
	}
	column, rest, ok := strings.Cut(s, "=")
	if !ok || column == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, s)
	}
	value, ok := strings.CutPrefix(rest, "eq.")
	if !ok || value == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidFilter, s)
	}
	if !FilterableColumns[column] {
		return nil, fmt.Errorf("%w: %s", ErrUnfilterableColumn, column)
	}
	return &Filter{Column: column, Value: value}, nil
}

// String renders the filter in the form ParseFilter accepts.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// Matches reports whether a change with the given fields passes the filter.
// A nil filter matches everything.
func (f *Filter) Matches(fields map[string]string) bool {
	if f == nil {
		return true
	}
	return fields[f.Column] == f.Value
}
