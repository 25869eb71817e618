package light

import (
	"errors"
	"math"
	"testing"

	"github.com/dokzlo13/treelight/internal/command"
	"github.com/dokzlo13/treelight/internal/pwm"
)

func newTestController() (*Controller, [NumChannels]*pwm.Memory) {
	var mems [NumChannels]*pwm.Memory
	var outputs Outputs
	for _, ch := range Channels {
		mems[ch] = pwm.NewMemory(ch.String())
		outputs[ch] = mems[ch]
	}
	return New(outputs), mems
}

func mustApply(t *testing.T, c *Controller, cmd command.Command) *StatusReport {
	t.Helper()
	report, err := c.Apply(cmd)
	if err != nil {
		t.Fatalf("Apply(%v): %v", cmd, err)
	}
	return report
}

func manualReport(r, g, b, p, w int) StatusReport {
	return StatusReport{Status: "colour", Red: r, Green: g, Blue: b, Purple: p, White: w}
}

var specialReport = StatusReport{Status: "colour", Special: true}

func TestInitialState(t *testing.T) {
	c, mems := newTestController()

	if got := c.State(); got != (State{Mode: ModeManual}) {
		t.Errorf("initial state = %+v, want manual with zero levels", got)
	}
	if got := c.Snapshot(); got != manualReport(0, 0, 0, 0, 0) {
		t.Errorf("initial snapshot = %+v", got)
	}
	for _, ch := range Channels {
		if mems[ch].Writes() != 0 {
			t.Errorf("%s written before Render", ch)
		}
	}
}

func TestSetColorRoundTrip(t *testing.T) {
	values := []int64{0, 1, 17, 127, 128, 200, 254, 255}

	for _, v := range values {
		c, _ := newTestController()
		cmd := command.SetColor{Red: v, Green: 255 - v, Blue: v / 2, Purple: v, White: 255}

		if report := mustApply(t, c, cmd); report != nil {
			t.Errorf("SetColor returned report %+v", report)
		}

		want := manualReport(int(v), int(255-v), int(v/2), int(v), 255)
		if got := c.Snapshot(); got != want {
			t.Errorf("Snapshot after %v = %+v, want %+v", cmd, got, want)
		}
	}
}

func TestSetColorClamps(t *testing.T) {
	tests := []struct {
		name string
		cmd  command.SetColor
		want StatusReport
	}{
		{
			name: "negative",
			cmd:  command.SetColor{Red: -1, Green: -255, Blue: -1 << 40, Purple: 0, White: 3},
			want: manualReport(0, 0, 0, 0, 3),
		},
		{
			name: "int64_bounds",
			cmd:  command.SetColor{Red: math.MaxInt64, Green: math.MinInt64, Blue: 1, Purple: 2, White: 3},
			want: manualReport(255, 0, 1, 2, 3),
		},
		{
			name: "too_large",
			cmd:  command.SetColor{Red: 256, Green: 1023, Blue: 1 << 40, Purple: 255, White: 300},
			want: manualReport(255, 255, 255, 255, 255),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, mems := newTestController()
			mustApply(t, c, tt.cmd)

			if got := c.Snapshot(); got != tt.want {
				t.Errorf("Snapshot = %+v, want %+v", got, tt.want)
			}
			for _, ch := range Channels {
				if mems[ch].Duty() > 255*pwm.DutyScale {
					t.Errorf("%s duty %d exceeds %d", ch, mems[ch].Duty(), 255*pwm.DutyScale)
				}
			}
		})
	}
}

func TestDecodedOverflowClamps(t *testing.T) {
	cmd, err := command.Decode([]byte(`{"status":"colour","red":99999999999999999999,"green":-99999999999999999999,"blue":7,"purple":8,"white":9}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	c, mems := newTestController()
	mustApply(t, c, cmd)

	if got, want := c.Snapshot(), manualReport(255, 0, 7, 8, 9); got != want {
		t.Errorf("Snapshot = %+v, want %+v", got, want)
	}
	if mems[Red].Duty() != 255*pwm.DutyScale || mems[Green].Duty() != 0 {
		t.Errorf("red duty %d green duty %d, want %d and 0", mems[Red].Duty(), mems[Green].Duty(), 255*pwm.DutyScale)
	}
}

func TestSetColorRenders(t *testing.T) {
	c, mems := newTestController()
	mustApply(t, c, command.SetColor{Red: 10, Green: 20, Blue: 30, Purple: 40, White: 50})

	want := [NumChannels]uint16{40, 80, 120, 160, 200}
	for _, ch := range Channels {
		if mems[ch].Frequency() != SteadyHz {
			t.Errorf("%s frequency = %d, want %d", ch, mems[ch].Frequency(), SteadyHz)
		}
		if mems[ch].Duty() != want[ch] {
			t.Errorf("%s duty = %d, want %d", ch, mems[ch].Duty(), want[ch])
		}
	}
}

func TestSetSpecial(t *testing.T) {
	c, mems := newTestController()
	mustApply(t, c, command.SetColor{Red: 10, Green: 20, Blue: 30, Purple: 40, White: 50})

	if report := mustApply(t, c, command.SetSpecial{}); report != nil {
		t.Errorf("SetSpecial returned report %+v", report)
	}
	if got := c.Snapshot(); got != specialReport {
		t.Errorf("Snapshot = %+v, want %+v", got, specialReport)
	}
	if c.State().Mode != ModeSpecial {
		t.Errorf("mode = %v, want special", c.State().Mode)
	}
	for _, ch := range Channels {
		got := Drive{FrequencyHz: mems[ch].Frequency(), Duty: mems[ch].Duty()}
		if got != SpecialPattern[ch] {
			t.Errorf("%s drive = %+v, want %+v", ch, got, SpecialPattern[ch])
		}
	}
}

func TestStatusRequestDoesNotMutate(t *testing.T) {
	setups := []struct {
		name string
		cmds []command.Command
		want StatusReport
	}{
		{name: "initial", want: manualReport(0, 0, 0, 0, 0)},
		{
			name: "manual",
			cmds: []command.Command{command.SetColor{Red: 1, Green: 2, Blue: 3, Purple: 4, White: 5}},
			want: manualReport(1, 2, 3, 4, 5),
		},
		{
			name: "special",
			cmds: []command.Command{command.SetSpecial{}},
			want: specialReport,
		},
	}

	for _, tt := range setups {
		t.Run(tt.name, func(t *testing.T) {
			c, mems := newTestController()
			for _, cmd := range tt.cmds {
				mustApply(t, c, cmd)
			}
			before := c.State()
			var writes [NumChannels]int
			for _, ch := range Channels {
				writes[ch] = mems[ch].Writes()
			}

			for i := 0; i < 3; i++ {
				report := mustApply(t, c, command.StatusRequest{})
				if report == nil {
					t.Fatal("StatusRequest returned no report")
				}
				if *report != tt.want {
					t.Errorf("report = %+v, want %+v", *report, tt.want)
				}
			}

			if c.State() != before {
				t.Errorf("state changed: %+v -> %+v", before, c.State())
			}
			for _, ch := range Channels {
				if mems[ch].Writes() != writes[ch] {
					t.Errorf("%s written by StatusRequest", ch)
				}
			}
		})
	}
}

func TestManualSpecialManual(t *testing.T) {
	c, mems := newTestController()

	mustApply(t, c, command.SetColor{Red: 200, Green: 100, Blue: 50, Purple: 25, White: 12})
	mustApply(t, c, command.SetSpecial{})
	mustApply(t, c, command.SetColor{Red: 1, Green: 2, Blue: 3, Purple: 4, White: 5})

	if got := c.Snapshot(); got != manualReport(1, 2, 3, 4, 5) {
		t.Errorf("Snapshot = %+v", got)
	}
	want := [NumChannels]uint16{4, 8, 12, 16, 20}
	for _, ch := range Channels {
		if mems[ch].Frequency() != SteadyHz {
			t.Errorf("%s still pulsing at %d Hz", ch, mems[ch].Frequency())
		}
		if mems[ch].Duty() != want[ch] {
			t.Errorf("%s duty = %d, want %d", ch, mems[ch].Duty(), want[ch])
		}
	}
}

func TestApplyUnsupported(t *testing.T) {
	c, mems := newTestController()
	mustApply(t, c, command.SetColor{Red: 9, Green: 9, Blue: 9, Purple: 9, White: 9})
	writes := mems[Red].Writes()

	for _, cmd := range []command.Command{command.Unrecognized{Status: "reboot"}, nil} {
		report, err := c.Apply(cmd)
		if !errors.Is(err, ErrUnsupportedCommand) {
			t.Errorf("Apply(%v) error = %v, want ErrUnsupportedCommand", cmd, err)
		}
		if report != nil {
			t.Errorf("Apply(%v) returned report", cmd)
		}
	}

	if got := c.Snapshot(); got != manualReport(9, 9, 9, 9, 9) {
		t.Errorf("Snapshot = %+v", got)
	}
	if mems[Red].Writes() != writes {
		t.Error("unsupported command wrote to hardware")
	}
}

func TestRenderIdempotent(t *testing.T) {
	c, mems := newTestController()
	mustApply(t, c, command.SetColor{Red: 10, Green: 20, Blue: 30, Purple: 40, White: 50})

	var writes [NumChannels]int
	for _, ch := range Channels {
		writes[ch] = mems[ch].Writes()
	}

	for i := 0; i < 3; i++ {
		if err := c.Render(); err != nil {
			t.Fatalf("Render: %v", err)
		}
	}
	for _, ch := range Channels {
		if mems[ch].Writes() != writes[ch] {
			t.Errorf("%s rewritten with unchanged state", ch)
		}
	}

	// only the changed channel is touched
	mustApply(t, c, command.SetColor{Red: 11, Green: 20, Blue: 30, Purple: 40, White: 50})
	if mems[Red].Writes() == writes[Red] {
		t.Error("red not rewritten")
	}
	if mems[Green].Writes() != writes[Green] {
		t.Error("green rewritten")
	}
}

func TestRenderFailure(t *testing.T) {
	c, mems := newTestController()
	fault := errors.New("bus fault")
	mems[Blue].Fail = fault

	_, err := c.Apply(command.SetColor{Red: 10, Green: 20, Blue: 30, Purple: 40, White: 50})
	if !errors.Is(err, fault) {
		t.Fatalf("Apply error = %v, want %v", err, fault)
	}
	var renderErr *RenderError
	if !errors.As(err, &renderErr) || renderErr.Channel != Blue {
		t.Fatalf("error = %v, want RenderError for blue", err)
	}

	// state is kept and the other channels were still driven
	if got := c.Snapshot(); got != manualReport(10, 20, 30, 40, 50) {
		t.Errorf("Snapshot = %+v", got)
	}
	if mems[White].Duty() != 200 {
		t.Errorf("white duty = %d, want 200", mems[White].Duty())
	}

	// recovery: next render only retries the failed channel
	mems[Blue].Fail = nil
	redWrites := mems[Red].Writes()
	if err := c.Render(); err != nil {
		t.Fatalf("Render after recovery: %v", err)
	}
	if mems[Blue].Duty() != 120 {
		t.Errorf("blue duty = %d, want 120", mems[Blue].Duty())
	}
	if mems[Red].Writes() != redWrites {
		t.Error("red rewritten during recovery")
	}
}

func TestIndicateAndOff(t *testing.T) {
	c, mems := newTestController()

	if err := c.Off(); err != nil {
		t.Fatalf("Off: %v", err)
	}
	for _, ch := range Channels {
		if mems[ch].Duty() != 0 {
			t.Errorf("%s duty = %d after Off", ch, mems[ch].Duty())
		}
	}

	if err := c.Indicate(Green); err != nil {
		t.Fatalf("Indicate: %v", err)
	}
	if mems[Green].Frequency() != PulseHz || mems[Green].Duty() != IndicatorDrive.Duty {
		t.Errorf("green not blinking: %d Hz duty %d", mems[Green].Frequency(), mems[Green].Duty())
	}
	if c.State() != (State{Mode: ModeManual}) {
		t.Errorf("Indicate changed state: %+v", c.State())
	}

	if err := c.Render(); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if mems[Green].Frequency() != SteadyHz || mems[Green].Duty() != 0 {
		t.Errorf("green not restored: %d Hz duty %d", mems[Green].Frequency(), mems[Green].Duty())
	}
}

func TestMissingOutput(t *testing.T) {
	var outputs Outputs
	outputs[Red] = pwm.NewMemory("red")
	c := New(outputs)

	err := c.Render()
	var renderErr *RenderError
	if !errors.As(err, &renderErr) {
		t.Fatalf("Render error = %v, want RenderError", err)
	}
}

func TestStatusReportEncode(t *testing.T) {
	tests := []struct {
		name   string
		report StatusReport
		want   string
	}{
		{
			name:   "manual",
			report: manualReport(10, 20, 30, 40, 50),
			want:   `{"status":"colour","red":10,"green":20,"blue":30,"purple":40,"white":50,"special":false}`,
		},
		{
			name:   "special",
			report: specialReport,
			want:   `{"status":"colour","red":0,"green":0,"blue":0,"purple":0,"white":0,"special":true}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := tt.report.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Encode = %s, want %s", data, tt.want)
			}
		})
	}
}
