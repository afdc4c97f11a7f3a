package property

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"
)

func newTestSet(t *testing.T) *Set {
	t.Helper()
	s := NewSet()
	require.NoError(t, s.Declare(Descriptor{Name: "count", Type: cty.Number, Default: cty.NumberIntVal(10)}))
	require.NoError(t, s.Declare(Descriptor{Name: "label", Type: cty.String}))
	require.NoError(t, s.Declare(Descriptor{Name: "enabled", Type: cty.Bool, Default: cty.True}))
	require.NoError(t, s.Declare(Descriptor{Name: "interval", Type: cty.String, Default: cty.StringVal("40ms")}))
	require.NoError(t, s.Declare(Descriptor{Name: "tags", Type: cty.List(cty.String)}))
	return s
}

func TestSet_DefaultsAndTypedAccessors(t *testing.T) {
	s := newTestSet(t)

	assert.Equal(t, 10, s.Int("count", 0))
	assert.Equal(t, "fallback", s.String("label", "fallback"))
	assert.True(t, s.Bool("enabled", false))
	assert.Equal(t, 40*time.Millisecond, s.Duration("interval", 0))
	assert.Equal(t, 7, s.Int("missing", 7))
	assert.Equal(t, []string{"count", "enabled", "interval", "label", "tags"}, s.Names())
}

func TestSet_SetString(t *testing.T) {
	s := newTestSet(t)

	testCases := []struct {
		name    string
		prop    string
		in      string
		want    string
		wantErr bool
	}{
		{"number", "count", "42", "42", false},
		{"bool", "enabled", "false", "false", false},
		{"string", "label", "hello", "hello", false},
		{"list as json", "tags", `["a","b"]`, `["a","b"]`, false},
		{"number rejects text", "count", "many", "", true},
		{"unknown property", "nope", "1", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := s.SetString(tc.prop, tc.in)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			got, err := s.GetString(tc.prop)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSet_ComputedIsReadOnly(t *testing.T) {
	s := NewSet()
	n := int64(3)
	require.NoError(t, s.DeclareComputed("queued", cty.Number, "items in queue", func() cty.Value {
		return cty.NumberIntVal(n)
	}))

	assert.Equal(t, 3, s.Int("queued", 0))
	n = 5
	assert.Equal(t, 5, s.Int("queued", 0))
	assert.ErrorIs(t, s.SetString("queued", "1"), ErrReadOnly)
}

func TestSet_DeclareErrors(t *testing.T) {
	s := NewSet()
	require.NoError(t, s.Declare(Descriptor{Name: "a", Type: cty.Number}))
	assert.Error(t, s.Declare(Descriptor{Name: "a", Type: cty.Number}))
	assert.Error(t, s.Declare(Descriptor{Name: "", Type: cty.Number}))
	assert.Error(t, s.Declare(Descriptor{Name: "b"}))
	assert.Error(t, s.Declare(Descriptor{Name: "c", Type: cty.Number, Default: cty.StringVal("x")}))
}

func TestSet_StringsRendersAll(t *testing.T) {
	s := newTestSet(t)
	require.NoError(t, s.Set("label", cty.StringVal("cam0")))
	got := s.Strings()
	assert.Equal(t, "10", got["count"])
	assert.Equal(t, "cam0", got["label"])
	assert.Equal(t, "true", got["enabled"])
	assert.Equal(t, "", got["tags"])
}
