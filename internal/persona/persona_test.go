package persona

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Persona
		wantErr bool
	}{
		{"Korean", Korean, false},
		{"korean", Korean, false},
		{"  Chinese Model ", Chinese, false},
		{"European/American", European, false},
		{"european", European, false},
		{"American", European, false},
		{"European/American Model", European, false},
		{"", "", true},
		{"Martian", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestAllIsACopy(t *testing.T) {
	first := All()
	if len(first) != 3 {
		t.Fatalf("All() returned %d personas, want 3", len(first))
	}
	first[0] = "mutated"
	if All()[0] != Korean {
		t.Error("mutating the result of All() changed the package list")
	}
}

func TestValidAndDisplayName(t *testing.T) {
	for _, p := range All() {
		if !p.Valid() {
			t.Errorf("%q.Valid() = false", p)
		}
	}
	if Persona("").Valid() {
		t.Error("empty persona should not be valid")
	}
	if got := European.DisplayName(); got != "European/American Model" {
		t.Errorf("European.DisplayName() = %q", got)
	}
	if got := Persona("Custom").DisplayName(); got != "Custom" {
		t.Errorf("unknown persona DisplayName() = %q, want raw value", got)
	}
}
