package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func groupTestPort(t *testing.T, channel, group int) *Port {
	t.Helper()
	p := newTestPort(t, channel, LawMu)
	p.Group = group
	p.Flags.InService = true
	return p
}

func TestRegistryAddKeepsChannelOrder(t *testing.T) {
	r := NewRegistry()
	r.Add(groupTestPort(t, 3, 0))
	r.Add(groupTestPort(t, 1, 0))
	r.Add(groupTestPort(t, 2, 0))

	all := r.All()
	require.Len(t, all, 3)
	assert.Equal(t, 1, all[0].Channel)
	assert.Equal(t, 2, all[1].Channel)
	assert.Equal(t, 3, all[2].Channel)
}

func TestRegistryByChannelAndRemove(t *testing.T) {
	r := NewRegistry()
	p := groupTestPort(t, 5, 0)
	r.Add(p)

	got, ok := r.ByChannel(5)
	require.True(t, ok)
	assert.Equal(t, p, got)

	r.Remove(p)
	_, ok = r.ByChannel(5)
	assert.False(t, ok)
	assert.Empty(t, r.All())
}

func TestRegistryRequestInGroupRoundRobins(t *testing.T) {
	r := NewRegistry()
	a := groupTestPort(t, 1, 7)
	b := groupTestPort(t, 2, 7)
	c := groupTestPort(t, 3, 7)
	r.Add(a)
	r.Add(b)
	r.Add(c)

	first, err := r.RequestInGroup(7)
	require.NoError(t, err)
	assert.Equal(t, a, first)

	// a is still StateDown (Request() wasn't called against the Port, just
	// the group scan), so a fresh request round-robins to the next member.
	second, err := r.RequestInGroup(7)
	require.NoError(t, err)
	assert.Equal(t, b, second)
}

func TestRegistryRequestInGroupSkipsBlockedMembers(t *testing.T) {
	r := NewRegistry()
	a := groupTestPort(t, 1, 7)
	a.Flags.LocallyBlocked = true
	b := groupTestPort(t, 2, 7)
	r.Add(a)
	r.Add(b)

	got, err := r.RequestInGroup(7)
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestRegistryRequestInGroupCongestionWhenEmpty(t *testing.T) {
	r := NewRegistry()
	r.Add(groupTestPort(t, 1, 7))

	_, err := r.RequestInGroup(9)
	assert.ErrorIs(t, err, ErrCongestion)
}

func TestRegistryRequestInGroupBusyWhenAllOutOfService(t *testing.T) {
	r := NewRegistry()
	a := groupTestPort(t, 1, 7)
	a.Flags.InService = false
	r.Add(a)

	_, err := r.RequestInGroup(7)
	assert.ErrorIs(t, err, ErrBusy)
}
