package facts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookup(t *testing.T) {
	f := Facts{
		"status": map[string]any{"code": float64(3), "ok": true},
		"name":   "x",
	}

	assert.Equal(t, float64(3), f.Lookup("status.code"))
	assert.Equal(t, true, f.Lookup("status.ok"))
	assert.Nil(t, f.Lookup("status.missing"))
	assert.Nil(t, f.Lookup("name.inner"))
	assert.Nil(t, f.Lookup("absent.deeper.path"))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(float64(0)))
	assert.False(t, Truthy(""))
	assert.False(t, Truthy(map[string]any{}))
	assert.False(t, Truthy([]any{}))

	assert.True(t, Truthy(true))
	assert.True(t, Truthy(float64(2)))
	assert.True(t, Truthy("no"))
	assert.True(t, Truthy([]any{1}))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "3", Stringify(float64(3)))
	assert.Equal(t, "2.5", Stringify(2.5))
	assert.Equal(t, "true", Stringify(true))
	assert.Equal(t, "42", Stringify(42))
	assert.Equal(t, `{"a":1}`, Stringify(map[string]any{"a": 1}))
}

func TestFlatten(t *testing.T) {
	f := Facts{
		"branch": "issue/7",
		"issue":  map[string]any{"number": float64(7), "title": nil},
		"status": map[string]any{"ci": map[string]any{"passed": true}},
	}

	flat := f.Flatten()
	assert.Equal(t, "issue/7", flat["BRANCH"])
	assert.Equal(t, "7", flat["ISSUE_NUMBER"])
	assert.Equal(t, "", flat["ISSUE_TITLE"])
	assert.Equal(t, "true", flat["STATUS_CI_PASSED"])

	assert.Equal(t, []string{"BRANCH=issue/7", "ISSUE_NUMBER=7", "ISSUE_TITLE=", "STATUS_CI_PASSED=true"}, f.Environ())
}

func TestFlattenDottedKeys(t *testing.T) {
	f := Facts{
		"status": map[string]any{
			"ci.passed": true,
			"a.b":       "dotted",
			"a_b":       "underscored",
		},
	}

	for range 20 {
		flat := f.Flatten()
		assert.Equal(t, "true", flat["STATUS_CI_PASSED"])
		assert.Equal(t, "underscored", flat["STATUS_A_B"])
		assert.NotContains(t, flat, "STATUS_A.B")
	}
}

func TestMergeStatus(t *testing.T) {
	f := Facts{"status": map[string]any{"keep": true}}
	f.MergeStatus(map[string]any{"ciPassed": false, "review.clean": true})

	assert.Equal(t, true, f.Lookup("status.keep"))
	assert.Equal(t, false, f.Lookup("status.ciPassed"))
	assert.Equal(t, true, f.Lookup("status.review.clean"))

	empty := Facts{}
	empty.MergeStatus(map[string]any{"done": true})
	assert.Equal(t, true, empty.Lookup("status.done"))
}

func TestCloneIsIndependent(t *testing.T) {
	f := Facts{"status": map[string]any{"a": 1}}
	c := f.Clone()
	c.Set("status.a", 2)

	assert.Equal(t, 1, f.Lookup("status.a"))
	assert.Equal(t, 2, c.Lookup("status.a"))
}

func TestParseValue(t *testing.T) {
	assert.Equal(t, true, ParseValue("true"))
	assert.Equal(t, float64(12), ParseValue("12"))
	assert.Equal(t, "plain words", ParseValue("plain words"))
	v, ok := ParseValue(`{"a":"b"}`).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "b", v["a"])
}
