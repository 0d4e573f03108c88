package tags

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForBuiltIn(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "builtin-ubuntu-24.04", ForBuiltIn("ubuntu-24.04"))
	assert.Equal(t, "builtin-my-image", ForBuiltIn("My Image"))
}

func TestForOVA(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ova-appliance.ova-123456", ForOVA("appliance.ova", 123456))
	assert.Equal(t, "ova-my-box--v2-.ova-9", ForOVA("My Box (v2).ova", 9))
}

func TestSplitJoinHas(t *testing.T) {
	t.Parallel()

	raw := "pvesbx;builtin-ubuntu-24.04"
	assert.Equal(t, []string{"pvesbx", "builtin-ubuntu-24.04"}, Split(raw))
	assert.Equal(t, raw, Join(Split(raw)))

	assert.True(t, Has(raw, Marker))
	assert.True(t, Has(raw, "builtin-ubuntu-24.04"))
	assert.False(t, Has(raw, "builtin"))
	assert.False(t, Has("", Marker))

	assert.Nil(t, Split(""))
	assert.Equal(t, []string{"a", "b"}, Split(" a ;; b "))
}
