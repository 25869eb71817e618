// Package command decodes inbound fixture messages into typed commands.
package command

import (
	"fmt"
)

// Values of the "status" field.
const (
	ValueRequest = "request"
	ValueColour  = "colour"
)

// Command is one of StatusRequest, SetColor, SetSpecial or Unrecognized.
type Command interface {
	fmt.Stringer
	command()
}

// StatusRequest asks the fixture to publish its current state.
type StatusRequest struct{}

// SetColor sets the five channel intensities and leaves special mode.
// Values are as received; the controller clamps them to 0..255.
type SetColor struct {
	Red    int64
	Green  int64
	Blue   int64
	Purple int64
	White  int64
}

// SetSpecial switches the fixture to its special pattern.
type SetSpecial struct{}

// Unrecognized is a well-formed message whose status selects no command.
// Callers log and drop it.
type Unrecognized struct {
	Status string
}

func (StatusRequest) command() {}
func (SetColor) command()      {}
func (SetSpecial) command()    {}
func (Unrecognized) command()  {}

func (StatusRequest) String() string { return "status_request" }

func (c SetColor) String() string {
	return fmt.Sprintf("set_color(%d, %d, %d, %d, %d)", c.Red, c.Green, c.Blue, c.Purple, c.White)
}

func (SetSpecial) String() string { return "set_special" }

func (u Unrecognized) String() string {
	return fmt.Sprintf("unrecognized(%q)", u.Status)
}
