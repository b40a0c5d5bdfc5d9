package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wricardo/wsnexus/relay/protocol"
)

type fakeSocket struct {
	id string
}

func (f *fakeSocket) ID() string                  { return f.id }
func (f *fakeSocket) Send(protocol.Message) error { return nil }
func (f *fakeSocket) Close(int, string) error     { return nil }

func newSocket(n int) *fakeSocket {
	return &fakeSocket{id: fmt.Sprintf("sock-%d", n)}
}

func TestRegisterAssignsIncreasingIDs(t *testing.T) {
	reg := New()

	first := reg.Register(newSocket(1), protocol.Fields{"type": "HOST", "name": "Pac-Man"})
	second := reg.Register(newSocket(2), protocol.Fields{"name": "Donkey Kong"})

	assert.Equal(t, 1, first.ID())
	assert.Equal(t, 2, second.ID())
	assert.Equal(t, protocol.Fields{"id": 1, "name": "Pac-Man"}, first.Public(), "type key is dropped")

	assert.True(t, reg.Deregister(second))
	third := reg.Register(newSocket(3), protocol.Fields{"name": "Galaga"})
	assert.Equal(t, 3, third.ID(), "ids are never reused")
}

func TestDeregisterIsIdempotent(t *testing.T) {
	reg := New()
	s := reg.Register(newSocket(1), protocol.Fields{"name": "Pac-Man"})

	assert.True(t, reg.Deregister(s))
	assert.False(t, reg.Deregister(s))
	assert.False(t, reg.Contains(s))
	assert.Equal(t, 0, reg.Len())
}

func TestFindHostByID(t *testing.T) {
	reg := New()

	assert.Nil(t, reg.FindHost(protocol.Fields{"id": float64(1)}), "nothing registered yet")

	s := reg.Register(newSocket(1), protocol.Fields{"name": "Pac-Man"})
	assert.Same(t, s, reg.FindHost(protocol.Fields{"type": "JOIN", "id": float64(1)}))

	reg.Deregister(s)
	assert.Nil(t, reg.FindHost(protocol.Fields{"id": float64(1)}))
}

func TestFindHostMatching(t *testing.T) {
	reg := New()
	pacman := reg.Register(newSocket(1), protocol.Fields{"name": "Pac-Man", "mode": "coop"})
	dk := reg.Register(newSocket(2), protocol.Fields{"name": "Donkey Kong"})
	pacman2 := reg.Register(newSocket(3), protocol.Fields{"name": "Pac-Man", "mode": "versus"})

	tests := []struct {
		name     string
		criteria protocol.Fields
		want     *Session
	}{
		{"first match wins", protocol.Fields{"name": "Pac-Man"}, pacman},
		{"extra field narrows", protocol.Fields{"name": "Pac-Man", "mode": "versus"}, pacman2},
		{"keys missing on the session are ignored", protocol.Fields{"name": "Donkey Kong", "mode": "coop"}, dk},
		{"empty criteria match the oldest", protocol.Fields{}, pacman},
		{"no match", protocol.Fields{"name": "Frogger"}, nil},
		{"wrong id", protocol.Fields{"id": float64(-18237867)}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reg.FindHost(tt.criteria)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			assert.Same(t, tt.want, got)
		})
	}
}

func TestFindHostRespectsMaxClients(t *testing.T) {
	reg := New()
	full := reg.Register(newSocket(1), protocol.Fields{"name": "Tetris", "maxClients": float64(1)})
	open := reg.Register(newSocket(2), protocol.Fields{"name": "Tetris"})

	assert.Same(t, full, reg.FindHost(protocol.Fields{"name": "Tetris"}))

	_, err := full.AddClient(newSocket(3))
	require.NoError(t, err)
	assert.Same(t, open, reg.FindHost(protocol.Fields{"name": "Tetris"}))
}

func TestListPublic(t *testing.T) {
	reg := New()
	assert.Empty(t, reg.ListPublic())

	reg.Register(newSocket(1), protocol.Fields{"name": "Pac-Man"})
	dk := reg.Register(newSocket(2), protocol.Fields{"name": "Donkey Kong", "maxClients": float64(2)})

	assert.Equal(t, []protocol.Fields{
		{"id": 1, "name": "Pac-Man"},
		{"id": 2, "name": "Donkey Kong", "maxClients": float64(2)},
	}, reg.ListPublic())

	reg.Deregister(dk)
	assert.Equal(t, []protocol.Fields{{"id": 1, "name": "Pac-Man"}}, reg.ListPublic())
}

func TestClientIDsIncreaseWithinSession(t *testing.T) {
	reg := New()
	s := reg.Register(newSocket(1), protocol.Fields{"name": "Pac-Man"})
	other := reg.Register(newSocket(2), protocol.Fields{"name": "Galaga"})

	c1, err := s.AddClient(newSocket(3))
	require.NoError(t, err)
	c2, err := s.AddClient(newSocket(4))
	require.NoError(t, err)
	o1, err := other.AddClient(newSocket(5))
	require.NoError(t, err)

	assert.Equal(t, 1, c1.ID())
	assert.Equal(t, 2, c2.ID())
	assert.Equal(t, 1, o1.ID(), "client ids are per session")
	assert.Equal(t, []int{1, 2}, s.ClientIDs())

	assert.True(t, s.RemoveClient(c1))
	assert.False(t, s.RemoveClient(c1))

	c3, err := s.AddClient(newSocket(6))
	require.NoError(t, err)
	assert.Equal(t, 3, c3.ID())
	assert.Equal(t, []int{2, 3}, s.ClientIDs())

	_, ok := s.Client(1)
	assert.False(t, ok)
	got, ok := s.Client(3)
	assert.True(t, ok)
	assert.Same(t, c3, got)
	assert.Same(t, s, got.Session())
}

func TestAddClientAfterDeregister(t *testing.T) {
	reg := New()
	s := reg.Register(newSocket(1), protocol.Fields{"name": "Pac-Man"})
	reg.Deregister(s)

	_, err := s.AddClient(newSocket(2))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestUpdateKeepsID(t *testing.T) {
	reg := New()
	s := reg.Register(newSocket(1), protocol.Fields{"name": "Pac-Man"})

	public := s.Update(protocol.Fields{"id": float64(99), "type": "UPDATE", "level": float64(2), "name": "Ms. Pac-Man"})

	assert.Equal(t, protocol.Fields{"id": 1, "name": "Ms. Pac-Man", "level": float64(2)}, public)
	assert.Equal(t, "Ms. Pac-Man", s.Name())
	assert.Same(t, s, reg.FindHost(protocol.Fields{"level": float64(2)}))
}

func TestGetAndDescribe(t *testing.T) {
	reg := New()
	s := reg.Register(newSocket(1), protocol.Fields{"name": "Pac-Man"})
	_, err := s.AddClient(newSocket(2))
	require.NoError(t, err)

	got, err := reg.Get(1)
	require.NoError(t, err)
	assert.Same(t, s, got)

	info, err := reg.Describe(1)
	require.NoError(t, err)
	assert.Equal(t, Info{ID: 1, Name: "Pac-Man", Public: protocol.Fields{"id": 1, "name": "Pac-Man"}, ClientIDs: []int{1}}, info)

	_, err = reg.Get(2)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = reg.Describe(2)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
