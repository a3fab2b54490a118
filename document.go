/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrNotFound     = errors.New("document not found")
	ErrFieldMissing = errors.New("field missing")
)

// Document is a stored document in the REST dialect spoken by the store.
// Field values are kept raw so that anything we never look at is written
// back byte for byte.
type Document struct {
	Name       string                     `json:"name,omitempty"`
	Fields     map[string]json.RawMessage `json:"fields"`
	CreateTime string                     `json:"createTime,omitempty"`
	UpdateTime string                     `json:"updateTime,omitempty"`
}

type ArrayValue struct {
	Values []json.RawMessage `json:"values,omitempty"`
}

type MapValue struct {
	Fields map[string]json.RawMessage `json:"fields,omitempty"`
}

// Value is one typed field value. Only the kinds this program reads or
// writes are modelled; the rest pass through as raw JSON.
type Value struct {
	StringValue  *string         `json:"stringValue,omitempty"`
	IntegerValue json.RawMessage `json:"integerValue,omitempty"`
	DoubleValue  *float64        `json:"doubleValue,omitempty"`
	ArrayValue   *ArrayValue     `json:"arrayValue,omitempty"`
	MapValue     *MapValue       `json:"mapValue,omitempty"`
}

func decodeDocument(payload []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(payload, &doc); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if doc.Fields == nil {
		doc.Fields = map[string]json.RawMessage{}
	}
	return &doc, nil
}

func decodeValue(raw json.RawMessage) (Value, error) {
	var v Value
	if len(bytes.TrimSpace(raw)) == 0 {
		return v, ErrFieldMissing
	}
	err := json.Unmarshal(raw, &v)
	return v, err
}

func stringValue(s string) Value {
	return Value{StringValue: &s}
}

// integerValue encodes n the way the store does: a decimal string.
func integerValue(n int) Value {
	return Value{IntegerValue: json.RawMessage(strconv.Quote(strconv.Itoa(n)))}
}

func arrayValue(values []json.RawMessage) Value {
	return Value{ArrayValue: &ArrayValue{Values: values}}
}

func mapValue(fields map[string]json.RawMessage) Value {
	return Value{MapValue: &MapValue{Fields: fields}}
}

func (v Value) asString() (string, bool) {
	if v.StringValue == nil {
		return "", false
	}
	return *v.StringValue, true
}

// asInt accepts integerValue as either a quoted decimal string or a bare
// number, and whole doubleValues written by lenient clients.
func (v Value) asInt() (int, bool) {
	switch {
	case len(v.IntegerValue) > 0:
		text := string(v.IntegerValue)
		if unquoted, err := strconv.Unquote(text); err == nil {
			text = unquoted
		}
		n, err := strconv.Atoi(text)
		if err != nil {
			return 0, false
		}
		return n, true
	case v.DoubleValue != nil:
		f := *v.DoubleValue
		if f != float64(int(f)) {
			return 0, false
		}
		return int(f), true
	}
	return 0, false
}

func mustRaw(v Value) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		// Value only holds strings, numbers and raw JSON that already parsed.
		panic(err)
	}
	return raw
}

// field extracts one named field from a map of raw values.
func field(fields map[string]json.RawMessage, name string) (Value, error) {
	raw, ok := fields[name]
	if !ok {
		return Value{}, fmt.Errorf("%q: %w", name, ErrFieldMissing)
	}
	v, err := decodeValue(raw)
	if err != nil {
		return Value{}, fmt.Errorf("%q: %w", name, err)
	}
	return v, nil
}

func stringField(fields map[string]json.RawMessage, name, fallback string) string {
	v, err := field(fields, name)
	if err != nil {
		return fallback
	}
	if s, ok := v.asString(); ok {
		return s
	}
	return fallback
}

func intField(fields map[string]json.RawMessage, name string, fallback int) (int, bool) {
	v, err := field(fields, name)
	if err != nil {
		return fallback, false
	}
	if n, ok := v.asInt(); ok {
		return n, true
	}
	return fallback, false
}
