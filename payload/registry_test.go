package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct{ N int }
type gadget struct{ N int }

func TestRegistryAnnounceAndLookup(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Announce(widget{}))

	name, ok := reg.NameOf(widget{N: 1})
	require.True(t, ok)

	typ, ok := reg.TypeOf(name)
	require.True(t, ok)
	assert.Equal(t, "widget", typ.Name())

	zero, err := reg.New(name)
	require.NoError(t, err)
	assert.Equal(t, widget{}, zero)
}

func TestRegistryReAnnounceSameTypeIsNoop(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Announce(widget{}))
	require.NoError(t, reg.Announce(widget{}))
}

func TestRegistryAnnounceAsRejectsNameCollisionWithDifferentType(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.AnnounceAs("shared.Name", widget{}))
	err := reg.AnnounceAs("shared.Name", gadget{})
	assert.Error(t, err)
}

func TestRegistryNewUnknownNameErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.New("does.not.Exist")
	assert.Error(t, err)
}
