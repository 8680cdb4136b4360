package session

import (
	"errors"
	"testing"
)

func TestResolveSwitchTarget(t *testing.T) {
	t.Parallel()
	exact := Session{ID: "row-exact", ShortID: "a1b2c3d4"}
	first := Session{ID: "row-first", SessionID: "a1b2c3d4e5f6"}
	second := Session{ID: "row-second", SessionID: "a1b2c3d4ffff"}

	tests := []struct {
		name    string
		exact   *Session
		matches []Session
		wantID  string
		wantErr error
	}{
		{"exact short id match", &exact, nil, "row-exact", nil},
		{"exact match wins over prefix candidates", &exact, []Session{first, second}, "row-exact", nil},
		{"single prefix match", nil, []Session{first}, "row-first", nil},
		{"no match", nil, nil, "", ErrNotFound},
		{"ambiguous prefix", nil, []Session{first, second}, "", ErrAmbiguousShortID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveSwitchTarget(tt.exact, tt.matches)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got.ID != tt.wantID {
				t.Fatalf("target = %q, want %q", got.ID, tt.wantID)
			}
		})
	}
}
