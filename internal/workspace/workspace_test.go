package workspace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/satindergrewal/mixlab/internal/module"
)

func sample() State {
	return State{
		NextID: 4,
		Modules: []ModuleState{
			{ID: 3, Params: module.Monitor()},
			{ID: 1, Params: module.Gate(module.GateOpen)},
			{ID: 2, Params: module.Mixer(1, 1, 0.5)},
		},
		Connections: []Connection{
			{From: OutputRef{Module: 2, Terminal: 0}, To: InputRef{Module: 3, Terminal: 0}},
			{From: OutputRef{Module: 1, Terminal: 0}, To: InputRef{Module: 2, Terminal: 1}},
			{From: OutputRef{Module: 1, Terminal: 0}, To: InputRef{Module: 2, Terminal: 0}},
		},
	}
}

func TestDefault(t *testing.T) {
	s := Default()
	assert.Equal(t, ModuleID(1), s.NextID)
	assert.Empty(t, s.Modules)
	assert.NoError(t, s.Validate())

	data, err := Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"next_id":1,"modules":[],"connections":[]}`, string(data))
}

func TestNormalize_Sorts(t *testing.T) {
	s := sample()
	s.Normalize()

	assert.Equal(t, []ModuleID{1, 2, 3}, []ModuleID{s.Modules[0].ID, s.Modules[1].ID, s.Modules[2].ID})
	assert.Equal(t, InputRef{Module: 2, Terminal: 0}, s.Connections[0].To)
	assert.Equal(t, InputRef{Module: 2, Terminal: 1}, s.Connections[1].To)
	assert.Equal(t, InputRef{Module: 3, Terminal: 0}, s.Connections[2].To)
}

func TestNormalize_RepairsNextID(t *testing.T) {
	s := State{Modules: []ModuleState{{ID: 7, Params: module.Monitor()}}}
	s.Normalize()
	assert.Equal(t, ModuleID(8), s.NextID)
}

func TestMarshal_RoundTripIsIdempotent(t *testing.T) {
	first, err := Marshal(sample())
	require.NoError(t, err)

	decoded, err := Unmarshal(first)
	require.NoError(t, err)

	second, err := Marshal(decoded)
	require.NoError(t, err)
	assert.Equal(t, string(first), string(second))
}

func TestMarshal_DoesNotMutateInput(t *testing.T) {
	s := sample()
	_, err := Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, ModuleID(3), s.Modules[0].ID)
}

func TestClone_Deep(t *testing.T) {
	s := sample()
	c := s.Clone()
	c.Modules[2].Params.Mixer.Gains[0] = 42
	c.Connections[0].To.Module = 99

	assert.Equal(t, float32(1), s.Modules[2].Params.Mixer.Gains[0])
	assert.Equal(t, ModuleID(3), s.Connections[0].To.Module)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*State)
	}{
		{"duplicate id", func(s *State) { s.Modules[1].ID = 3 }},
		{"reserved id", func(s *State) { s.Modules[0].ID = 0 }},
		{"id beyond next", func(s *State) { s.NextID = 2 }},
		{"bad params", func(s *State) { s.Modules[0].Params = module.Params{Kind: "nope"} }},
		{"unknown source", func(s *State) { s.Connections[0].From.Module = 9 }},
		{"unknown destination", func(s *State) { s.Connections[0].To.Module = 9 }},
		{"input connected twice", func(s *State) { s.Connections[2].To = s.Connections[1].To }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := sample()
			tt.mutate(&s)
			assert.Error(t, s.Validate())
		})
	}

	assert.NoError(t, sample().Validate())
}

func TestUnmarshal_Errors(t *testing.T) {
	_, err := Unmarshal([]byte(`{"modules":`))
	assert.Error(t, err)

	_, err = Unmarshal([]byte(`{"next_id":5,"modules":[{"id":1,"params":{"kind":"gate"}}]}`))
	assert.Error(t, err)
}
