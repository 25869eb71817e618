package pwm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readValue(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return strings.TrimSpace(string(data))
}

func TestSysfs(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "pwmchip0", "pwm2")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	out, err := OpenSysfs(root, 0, 2)
	if err != nil {
		t.Fatalf("OpenSysfs: %v", err)
	}

	// duty before frequency is deferred
	if err := out.SetDuty(512); err != nil {
		t.Fatalf("SetDuty: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "duty_cycle")); !os.IsNotExist(err) {
		t.Fatalf("duty_cycle written before period")
	}

	if err := out.SetFrequency(1000); err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	if got := readValue(t, filepath.Join(dir, "period")); got != "1000000" {
		t.Errorf("period = %s, want 1000000", got)
	}
	if got := readValue(t, filepath.Join(dir, "duty_cycle")); got != "500488" {
		t.Errorf("duty_cycle = %s, want 500488", got)
	}
	if got := readValue(t, filepath.Join(dir, "enable")); got != "1" {
		t.Errorf("enable = %s, want 1", got)
	}

	if err := out.SetDuty(MaxDuty + 10); err != nil {
		t.Fatalf("SetDuty: %v", err)
	}
	if got := readValue(t, filepath.Join(dir, "duty_cycle")); got != "1000000" {
		t.Errorf("duty_cycle = %s, want full period", got)
	}

	if err := out.SetFrequency(1); err != nil {
		t.Fatalf("SetFrequency: %v", err)
	}
	if got := readValue(t, filepath.Join(dir, "period")); got != "1000000000" {
		t.Errorf("period = %s, want 1000000000", got)
	}

	if err := out.SetFrequency(0); err != ErrInvalidFrequency {
		t.Errorf("SetFrequency(0) = %v, want ErrInvalidFrequency", err)
	}
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    int
		wantErr bool
	}{
		{
			name: "memory",
			cfg:  Config{Driver: DriverMemory, Indexes: []int{0, 1, 2, 3, 4}},
			want: 5,
		},
		{
			name: "default_driver",
			cfg:  Config{Indexes: []int{0, 1}},
			want: 2,
		},
		{
			name:    "unknown_driver",
			cfg:     Config{Driver: "gpio", Indexes: []int{0}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outputs, err := Open(tt.cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if len(outputs) != tt.want {
				t.Errorf("got %d outputs, want %d", len(outputs), tt.want)
			}
		})
	}
}
