package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueRender(t *testing.T) {
	assert.Equal(t, "hello", String("hello").Render())
	assert.Equal(t, "42", Number(42).Render())
	assert.Equal(t, "3.5", Number(3.5).Render())
	assert.Equal(t, "true", Bool(true).Render())
	assert.Equal(t, "a=1 b=two", Map(map[string]Value{
		"b": String("two"),
		"a": Number(1),
	}).Render())
}

func TestVarsLookupNested(t *testing.T) {
	vars := Vars{
		"title": String("hi"),
		"report": Map(map[string]Value{
			"author": String("alex"),
			"stats": Map(map[string]Value{
				"pages": Number(12),
			}),
		}),
	}

	v, ok := vars.Lookup("title")
	require.True(t, ok)
	assert.Equal(t, "hi", v.Render())

	v, ok = vars.Lookup("report.author")
	require.True(t, ok)
	assert.Equal(t, "alex", v.Render())

	v, ok = vars.Lookup("report.stats.pages")
	require.True(t, ok)
	assert.Equal(t, "12", v.Render())

	_, ok = vars.Lookup("report.missing")
	assert.False(t, ok)

	_, ok = vars.Lookup("title.nested")
	assert.False(t, ok)

	_, ok = vars.Lookup("absent")
	assert.False(t, ok)
}

func TestFromStrings(t *testing.T) {
	vars := FromStrings(map[string]string{"team": "platform"})
	v, ok := vars.Lookup("team")
	require.True(t, ok)
	assert.Equal(t, KindString, v.Kind())
	assert.Equal(t, "platform", v.Render())
}
