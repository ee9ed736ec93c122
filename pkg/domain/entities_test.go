package domain

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestCheckType(t *testing.T) {
	for _, typ := range EntityTypes() {
		if err := CheckType(typ); err != nil {
			t.Fatalf("CheckType(%q): %v", typ, err)
		}
	}
	err := CheckType("widget")
	var unknown ErrUnknownBranch
	if !errors.As(err, &unknown) || unknown.Type != "widget" {
		t.Fatalf("expected ErrUnknownBranch for widget, got %v", err)
	}
	if err.Error() != `entity branch "widget" does not exist` {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestEntityTypesIsACopy(t *testing.T) {
	types := EntityTypes()
	types[0] = "widget"
	if EntityTypes()[0] != EntityPage {
		t.Fatalf("EntityTypes exposed its backing slice")
	}
}

func TestIDFrom(t *testing.T) {
	cases := []struct {
		in   any
		want ID
		ok   bool
	}{
		{"p1", "p1", true},
		{"", "", false},
		{ID("x"), "x", true},
		{42, "42", true},
		{int64(-3), "-3", true},
		{float64(7), "7", true},
		{7.5, "", false},
		{json.Number("12"), "12", true},
		{json.Number("1.2"), "", false},
		{nil, "", false},
		{true, "", false},
	}
	for _, c := range cases {
		got, ok := IDFrom(c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("IDFrom(%#v) = %q, %v; want %q, %v", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestEntityEqualIgnoresNormalizedMarker(t *testing.T) {
	a := NewEntity(EntityPage, "1", map[string]any{"title": "x", "tags": []any{"a"}})
	b := NewEntity(EntityPage, "1", map[string]any{"title": "x", "tags": []any{"a"}})
	b.Normalized = true
	if !a.Equal(b) {
		t.Fatalf("entities with equal fields should be equal")
	}
	if a.Equal(NewEntity(EntityPage, "1", map[string]any{"title": "y", "tags": []any{"a"}})) {
		t.Fatalf("different title compared equal")
	}
	if a.Equal(NewEntity(EntityFolder, "1", a.Fields)) {
		t.Fatalf("different type compared equal")
	}
	var nilEntity *Entity
	if a.Equal(nil) || !nilEntity.Equal(nil) {
		t.Fatalf("nil handling")
	}
}

func TestEntityRawAndWith(t *testing.T) {
	e := NewEntity(EntityUser, "u1", map[string]any{"name": "Ada"})
	raw := e.Raw()
	if raw["id"] != "u1" || raw["type"] != "user" || raw["name"] != "Ada" {
		t.Fatalf("unexpected raw %v", raw)
	}
	raw["name"] = "changed"
	if v, _ := e.Get("name"); v != "Ada" {
		t.Fatalf("Raw shares the field map")
	}
	next := e.With(map[string]any{"name": "Grace"})
	if v, _ := e.Get("name"); v != "Ada" {
		t.Fatalf("With mutated the receiver")
	}
	if v, _ := next.Get("name"); v != "Grace" || next.ID != "u1" {
		t.Fatalf("With result = %+v", next)
	}
}

func TestEntitySet(t *testing.T) {
	set := EntitySet{}
	set.Add(EntityPage, NewEntity(EntityPage, "1", nil), NewEntity(EntityPage, "2", nil))
	set.Add(EntityFolder, NewEntity(EntityFolder, "f", nil))
	if set.Len() != 3 || set[EntityPage][1].ID != "2" {
		t.Fatalf("unexpected set %v", set)
	}
}

func TestSameValue(t *testing.T) {
	m := map[string]any{"a": 1}
	s := []any{1, 2}
	cases := []struct {
		name string
		a, b any
		want bool
	}{
		{"same map", m, m, true},
		{"equal maps", m, map[string]any{"a": 1}, false},
		{"same slice", s, s, true},
		{"resliced", s, s[:1], false},
		{"strings", "x", "x", true},
		{"numbers of different type", 1, int64(1), false},
		{"nil pair", nil, nil, true},
		{"nil and value", nil, 0, false},
	}
	for _, c := range cases {
		if got := SameValue(c.a, c.b); got != c.want {
			t.Fatalf("%s: SameValue = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestValuesEqual(t *testing.T) {
	if !ValuesEqual(map[string]any{"a": []any{1}}, map[string]any{"a": []any{1}}) {
		t.Fatalf("structurally equal maps should be equal")
	}
	if ValuesEqual("1", 1) {
		t.Fatalf("string and int compared equal")
	}
	if ValuesEqual([]any{1}, []any{2}) {
		t.Fatalf("different slices compared equal")
	}
	if !IsArray([]any{}) || IsArray(map[string]any{}) || !IsComposite(map[string]any{}) || IsComposite(3) {
		t.Fatalf("kind predicates mismatch")
	}
}
