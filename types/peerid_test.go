package types

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRandomPeerID(t *testing.T) {
	const prefix = "-XX0000-"
	a := RandomPeerID(prefix)
	b := RandomPeerID(prefix)
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(string(a[:]), prefix))
	assert.True(t, strings.HasPrefix(a.String(), prefix))
	assert.Len(t, a.HexString(), 40)
}
