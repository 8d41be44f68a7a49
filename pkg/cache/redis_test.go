package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "console:resolver:level:nursery", Key("resolver", "level", "nursery"))
	assert.Equal(t, "console:", Key())
}
