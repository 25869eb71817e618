package command

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrSyntax means the payload is not a JSON object.
	ErrSyntax = errors.New("malformed payload")
	// ErrMissingField means a field required by the selected command is absent or has the wrong type.
	ErrMissingField = errors.New("missing field")
)

// DecodeError describes why a payload could not be decoded.
type DecodeError struct {
	Err   error  // ErrSyntax or ErrMissingField
	Field string // set for ErrMissingField
	Cause error  // underlying parser error, if any
}

func (e *DecodeError) Error() string {
	switch {
	case e.Field != "" && e.Cause != nil:
		return fmt.Sprintf("%v %q: %v", e.Err, e.Field, e.Cause)
	case e.Field != "":
		return fmt.Sprintf("%v %q", e.Err, e.Field)
	case e.Cause != nil:
		return fmt.Sprintf("%v: %v", e.Err, e.Cause)
	}
	return e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Color fields in the order they are read.
var colorFields = [...]string{"red", "green", "blue", "purple", "white"}

// Decode parses a raw message into a Command.
// A message whose status is missing or unknown decodes to Unrecognized with a nil error.
func Decode(payload []byte) (Command, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, &DecodeError{Err: ErrSyntax, Cause: err}
	}
	if fields == nil {
		return nil, &DecodeError{Err: ErrSyntax, Cause: errors.New("top level is not an object")}
	}

	rawStatus, ok := fields["status"]
	if !ok {
		return Unrecognized{}, nil
	}
	var status string
	if err := json.Unmarshal(rawStatus, &status); err != nil {
		return Unrecognized{Status: string(rawStatus)}, nil
	}

	switch status {
	case ValueRequest:
		return StatusRequest{}, nil
	case ValueColour:
		return decodeColour(fields)
	default:
		return Unrecognized{Status: status}, nil
	}
}

func decodeColour(fields map[string]json.RawMessage) (Command, error) {
	if raw, ok := fields["special"]; ok {
		var special *bool
		if err := json.Unmarshal(raw, &special); err != nil {
			return nil, &DecodeError{Err: ErrMissingField, Field: "special", Cause: err}
		}
		if special != nil && *special {
			return SetSpecial{}, nil
		}
	}

	var values [len(colorFields)]int64
	for i, name := range colorFields {
		v, err := intField(fields, name)
		if err != nil {
			return nil, err
		}
		values[i] = v
	}

	return SetColor{
		Red:    values[0],
		Green:  values[1],
		Blue:   values[2],
		Purple: values[3],
		White:  values[4],
	}, nil
}

// intField reads an integral JSON number. Fractions, strings and null are rejected.
// Integers beyond int64 saturate to its bounds.
func intField(fields map[string]json.RawMessage, name string) (int64, error) {
	raw, ok := fields[name]
	if !ok {
		return 0, &DecodeError{Err: ErrMissingField, Field: name}
	}

	v, err := strconv.ParseInt(string(bytes.TrimSpace(raw)), 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return v, nil
	}
	if err != nil {
		return 0, &DecodeError{Err: ErrMissingField, Field: name, Cause: fmt.Errorf("not an integer: %s", raw)}
	}
	return v, nil
}
