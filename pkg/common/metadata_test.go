package common

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataJSON(t *testing.T) {
	raw := `{"wikidata_id":"Q123","born":1775,"alive":false,"tags":["novel",null],"ref":{"id":"abc"}}`
	m, err := UnmarshalMetadata([]byte(raw))
	require.NoError(t, err)

	assert.Equal(t, "Q123", m.GetString("wikidata_id"))
	n, ok := m["born"].Num()
	assert.True(t, ok)
	assert.Equal(t, 1775.0, n)
	assert.Equal(t, KindList, m["tags"].Kind())
	assert.Equal(t, []string{"alive", "born", "ref", "tags", "wikidata_id"}, m.Keys())

	out, err := MarshalMetadata(m)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))

	empty, err := UnmarshalMetadata(nil)
	require.NoError(t, err)
	assert.NotNil(t, empty)
	out, err = MarshalMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(out))
}

func TestMetadataFromMap(t *testing.T) {
	m, err := MetadataFromMap(map[string]any{"n": 3, "list": []string{"a"}, "flag": true})
	require.NoError(t, err)
	assert.True(t, m.Equal(Metadata{
		"n":    Number(3),
		"list": List(String("a")),
		"flag": Bool(true),
	}))

	_, err = MetadataFromMap(map[string]any{"bad": struct{}{}})
	assert.Error(t, err)
}

func TestMetadataReplaceString(t *testing.T) {
	m := Metadata{
		"ref":     String("src"),
		"prefix":  String("src-2"),
		"members": List(String("src"), String("other"), Map(Metadata{"id": String("src")})),
		"src":     Bool(true),
	}
	out, n := m.ReplaceString("src", "dst")
	assert.Equal(t, 3, n)
	assert.Equal(t, "dst", out.GetString("ref"))
	assert.Equal(t, "src-2", out.GetString("prefix"))
	_, keyKept := out["src"]
	assert.True(t, keyKept, "keys are never rewritten")

	assert.Equal(t, "src", m.GetString("ref"), "input is not modified")
	assert.True(t, m.ContainsString("src"))
	assert.False(t, out.ContainsString("src"))

	var nilMeta Metadata
	out, n = nilMeta.ReplaceString("a", "b")
	assert.Nil(t, out)
	assert.Zero(t, n)
}

func TestValueEqualAndClone(t *testing.T) {
	a := Map(Metadata{"x": List(Number(1), String("y"))})
	b := a.Clone()
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(Map(Metadata{"x": List(Number(1))})))
	assert.False(t, String("1").Equal(Number(1)))
	assert.True(t, Null().Equal(Value{}))

	l, _ := b.Map()
	items, _ := l["x"].List()
	items[0] = Number(2)
	assert.True(t, a.Equal(Map(Metadata{"x": List(Number(1), String("y"))})), "clone is deep")
}

func TestValueIsEmpty(t *testing.T) {
	assert.True(t, Null().IsEmpty())
	assert.True(t, String("  ").IsEmpty())
	assert.True(t, List().IsEmpty())
	assert.True(t, Map(Metadata{}).IsEmpty())
	assert.False(t, Number(0).IsEmpty())
	assert.False(t, Bool(false).IsEmpty())
}

func TestValueUnmarshalIntoStruct(t *testing.T) {
	var s struct {
		Meta Metadata `json:"meta"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"meta":{"subtype":"book"}}`), &s))
	assert.Equal(t, "book", s.Meta.GetString(MetaSubtype))
}
