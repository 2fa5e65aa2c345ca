package storage

import (
	"testing"
	"time"
)

func TestTemplateSet_AddAssignsSequentialIDs(t *testing.T) {
	set := NewTemplateSet("alice")

	for i := 0; i < 5; i++ {
		tmpl := set.Add(testVector(i), "label")
		if tmpl.ID != i {
			t.Errorf("template %d: expected id %d, got %d", i, i, tmpl.ID)
		}
	}

	for i, tmpl := range set.List() {
		if tmpl.ID != i {
			t.Errorf("position %d holds id %d", i, tmpl.ID)
		}
	}
}

func TestTemplateSet_AddStampsTime(t *testing.T) {
	saved := now
	defer func() { now = saved }()
	now = func() time.Time { return time.Unix(1234, 0) }

	set := NewTemplateSet("alice")
	tmpl := set.Add(testVector(0), "desk")

	if tmpl.CreatedAt != 1234 {
		t.Errorf("expected created_at 1234, got %d", tmpl.CreatedAt)
	}
	if tmpl.Label != "desk" {
		t.Errorf("expected label desk, got %s", tmpl.Label)
	}
}

func TestTemplateSet_AddAcceptsDuplicates(t *testing.T) {
	set := NewTemplateSet("alice")
	set.Add(testVector(1), "a")
	set.Add(testVector(1), "a")

	if set.Len() != 2 {
		t.Errorf("expected duplicates to be kept, got %d", set.Len())
	}
}

func TestTemplateSet_RemoveByID(t *testing.T) {
	set := NewTemplateSet("alice")
	for i := 0; i < 4; i++ {
		set.Add(testVector(i), "label")
	}

	if !set.RemoveByID(1) {
		t.Fatal("expected id 1 to be removed")
	}
	if set.Len() != 3 {
		t.Fatalf("expected 3 templates, got %d", set.Len())
	}

	var ids []int
	for _, tmpl := range set.List() {
		ids = append(ids, tmpl.ID)
	}
	if len(ids) != 3 || ids[0] != 0 || ids[1] != 2 || ids[2] != 3 {
		t.Errorf("remaining ids renumbered: %v", ids)
	}

	if set.RemoveByID(1) {
		t.Error("expected second removal of id 1 to report false")
	}
	if set.RemoveByID(42) {
		t.Error("expected removal of unknown id to report false")
	}
}

func TestTemplateSet_IDReuseAfterRemoval(t *testing.T) {
	set := NewTemplateSet("alice")
	for i := 0; i < 3; i++ {
		set.Add(testVector(i), "label")
	}

	set.RemoveByID(0)
	tmpl := set.Add(testVector(9), "new")

	// Length-based ids: 3 templates minus one removal gives id 2, which
	// already exists.
	if tmpl.ID != 2 {
		t.Errorf("expected id 2, got %d", tmpl.ID)
	}
	dupes := 0
	for _, existing := range set.List() {
		if existing.ID == 2 {
			dupes++
		}
	}
	if dupes != 2 {
		t.Errorf("expected id 2 to appear twice, got %d", dupes)
	}
}

func TestTemplateSet_RemoveRemovesFirstMatch(t *testing.T) {
	set := NewTemplateSet("alice")
	set.Add(testVector(0), "a")
	set.Add(testVector(1), "b")
	set.RemoveByID(0)
	set.Add(testVector(2), "c") // id 1 again

	set.RemoveByID(1)
	if set.Len() != 1 || set.Templates[0].Label != "c" {
		t.Errorf("expected only the later id 1 to remain, got %+v", set.Templates)
	}
}

func TestTemplateSet_Clear(t *testing.T) {
	set := NewTemplateSet("alice")
	set.Add(testVector(0), "a")
	set.Clear()

	if !set.IsEmpty() {
		t.Error("expected empty set after Clear")
	}
	if tmpl := set.Add(testVector(1), "b"); tmpl.ID != 0 {
		t.Errorf("expected id 0 after clear, got %d", tmpl.ID)
	}
}

func TestTemplateSet_ListIsCopy(t *testing.T) {
	set := NewTemplateSet("alice")
	set.Add(testVector(0), "a")

	list := set.List()
	list[0].Label = "changed"

	if set.Templates[0].Label != "a" {
		t.Error("List exposed internal storage")
	}
}
