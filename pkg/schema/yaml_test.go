package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const shapesYAML = `
shapes:
  - name: Person
    doc: A person.
    fields:
      - {name: Name, json: name, type: string, doc: Full name.}
      - {name: Age, json: age, type: int, optional: true}
      - {name: Friends, json: friends, type: "[]Person"}
      - {name: Favorite, json: favorite, type: Color}
      - {name: Contact, json: contact, type: "Email | Phone"}
      - {name: Scores, json: scores, type: "map[string]float64"}
      - {name: Tags, json: tags, type: "set[string]"}
      - {name: Mixed, json: mixed, type: "[](int | string)"}
  - name: Email
    fields:
      - {name: Address, json: address, type: string}
  - name: Phone
    fields:
      - {name: Number, json: number, type: string}
  - name: Color
    enum: [red, green]
`

func TestParseShapes(t *testing.T) {
	shapes, err := ParseShapes([]byte(shapesYAML))
	require.NoError(t, err)
	require.Len(t, shapes, 4)

	person := shapes[0]
	assert.Equal(t, "Person", person.Name)
	assert.Equal(t, "A person.", person.Doc)
	require.Len(t, person.Fields, 8)

	name, ok := person.Field("name")
	require.True(t, ok)
	assert.Equal(t, PrimString, name.Type.Name)
	assert.Equal(t, "Full name.", name.Doc)

	age, _ := person.Field("age")
	assert.True(t, age.Optional)

	friends, _ := person.Field("friends")
	assert.Equal(t, KindList, friends.Type.Kind)
	assert.Same(t, person, friends.Type.Elem.Shape)

	contact, _ := person.Field("contact")
	require.Equal(t, KindUnion, contact.Type.Kind)
	assert.Same(t, shapes[1], contact.Type.Alternatives[0].Shape)
	assert.Same(t, shapes[2], contact.Type.Alternatives[1].Shape)

	scores, _ := person.Field("scores")
	assert.Equal(t, KindMap, scores.Type.Kind)
	tags, _ := person.Field("tags")
	assert.Equal(t, KindSet, tags.Type.Kind)

	mixed, _ := person.Field("mixed")
	require.Equal(t, KindList, mixed.Type.Kind)
	assert.Equal(t, KindUnion, mixed.Type.Elem.Kind)

	assert.True(t, shapes[3].IsEnum())

	closure := Closure(person)
	names := make([]string, len(closure))
	for i, s := range closure {
		names[i] = s.Name
	}
	assert.ElementsMatch(t, []string{"Person", "Color", "Email", "Phone"}, names)

	valid := `{"name":"a","friends":[],"favorite":"red","contact":{"number":"1"},"scores":{},"tags":[],"mixed":[1,"x"]}`
	assert.NoError(t, Validate(person, []byte(valid)))
}

func TestParseShapesErrors(t *testing.T) {
	tests := map[string]string{
		"unknown type": "shapes: [{name: A, fields: [{name: X, type: Missing}]}]",
		"int map key":  "shapes: [{name: A, fields: [{name: X, type: \"map[int]string\"}]}]",
		"duplicate":    "shapes: [{name: A}, {name: A}]",
		"no name":      "shapes: [{doc: x}]",
		"empty type":   "shapes: [{name: A, fields: [{name: X}]}]",
		"bad yaml":     "shapes: {",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseShapes([]byte(in))
			assert.Error(t, err)
		})
	}
}
