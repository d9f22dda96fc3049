package config

import (
	"encoding/json"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDuration_YAML(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  time.Duration
	}{
		{"seconds string", `"300s"`, 300 * time.Second},
		{"minutes string", `"5m"`, 5 * time.Minute},
		{"compound", `"1m30s"`, 90 * time.Second},
		{"bare integer is seconds", `30`, 30 * time.Second},
		{"zero", `0`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var d Duration
			if err := yaml.Unmarshal([]byte(tt.input), &d); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Std() != tt.want {
				t.Errorf("got %v, want %v", d.Std(), tt.want)
			}
		})
	}
}

func TestDuration_YAMLInvalid(t *testing.T) {
	t.Parallel()
	var d Duration
	if err := yaml.Unmarshal([]byte(`"not-a-duration"`), &d); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestDuration_JSONRoundTrip(t *testing.T) {
	t.Parallel()
	in := Duration(150 * time.Second)
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(raw) != `"2m30s"` {
		t.Errorf("marshaled = %s, want \"2m30s\"", raw)
	}
	var out Duration
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("round trip = %v, want %v", out.Std(), in.Std())
	}
}

func TestDuration_JSONInteger(t *testing.T) {
	t.Parallel()
	var d Duration
	if err := json.Unmarshal([]byte(`300`), &d); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Std() != 300*time.Second {
		t.Errorf("got %v, want 300s", d.Std())
	}
}
