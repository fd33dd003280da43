package lane

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSet(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		wantErr bool
	}{
		{"four lanes", []string{"north", "east", "south", "west"}, false},
		{"two lanes", []string{"a", "b"}, false},
		{"single lane", []string{"north"}, true},
		{"empty name", []string{"north", " "}, true},
		{"duplicate", []string{"north", "east", "north"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSet(tt.in...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, s, len(tt.in))
		})
	}
}

func TestSetAfter(t *testing.T) {
	s := MustSet("north", "east", "south", "west")

	assert.Equal(t, []Lane{"south", "west", "north"}, s.After("east"))
	assert.Equal(t, []Lane{"north", "east", "south"}, s.After("west"))
	assert.Equal(t, []Lane{"north", "east", "south", "west"}, s.After("nowhere"))
	assert.Equal(t, 2, s.Index("south"))
	assert.False(t, s.Contains("up"))
}

func TestMustSetPanics(t *testing.T) {
	assert.Panics(t, func() { MustSet("only") })
}
