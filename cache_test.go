package flow

import "testing"

func TestCacheIDStableAcrossUpdates(t *testing.T) {
	c := NewValueCache(nil)
	c.Set("a", 1)
	id, ok := c.GetID("a")
	if !ok || id != 1 {
		t.Fatalf("GetID(a) = %d, %v; want 1, true", id, ok)
	}
	for i := 0; i < 5; i++ {
		c.Set("a", i)
	}
	if got, _ := c.GetID("a"); got != id {
		t.Errorf("id changed across updates: got %d, want %d", got, id)
	}
	if got, _ := c.GetUpdateCount("a"); got != 5 {
		t.Errorf("update count = %d, want 5", got)
	}
}

func TestCacheIDsMonotonic(t *testing.T) {
	c := NewValueCache(nil)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("c", 3)
	ids := make([]int64, 0, 3)
	for _, k := range []string{"a", "b", "c"} {
		id, _ := c.GetID(k)
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		if ids[i] <= ids[i-1] {
			t.Errorf("ids not monotonic: %v", ids)
		}
	}
}

func TestCacheLookupByID(t *testing.T) {
	c := NewValueCache(nil)
	c.Set("a", "hello")
	id, _ := c.GetID("a")
	if v, ok := c.GetValueByID(id); !ok || v != "hello" {
		t.Errorf("GetValueByID(%d) = %v, %v; want hello, true", id, v, ok)
	}
	if k, ok := c.GetKey(id); !ok || k != "a" {
		t.Errorf("GetKey(%d) = %q, %v; want a, true", id, k, ok)
	}
	if _, ok := c.GetValueByID(999); ok {
		t.Error("GetValueByID(999) should not be found")
	}
}

func TestCacheRenamePreservesIDAndChild(t *testing.T) {
	c := NewValueCache(nil)
	c.Set("old", 42)
	c.Child("old").Set("inner", "x")
	id, _ := c.GetID("old")
	count, _ := c.GetUpdateCount("old")

	c.RenameKey("old", "new")

	if _, ok := c.Get("old"); ok {
		t.Error("old key still present after rename")
	}
	if v, ok := c.Get("new"); !ok || v != 42 {
		t.Errorf("Get(new) = %v, %v; want 42, true", v, ok)
	}
	if got, _ := c.GetID("new"); got != id {
		t.Errorf("rename changed id: got %d, want %d", got, id)
	}
	if got, _ := c.GetUpdateCount("new"); got != count {
		t.Errorf("rename changed update count: got %d, want %d", got, count)
	}
	if v, ok := c.Child("new").Get("inner"); !ok || v != "x" {
		t.Errorf("child cache lost in rename: got %v, %v", v, ok)
	}
}

func TestCacheChildIsolation(t *testing.T) {
	c := NewValueCache(nil)
	c.Set("s", "outer")
	child := c.Child("s")
	child.Set("s", "inner")
	child.Set("other", 1)

	if v, _ := c.Get("s"); v != "outer" {
		t.Errorf("parent entry changed by child write: got %v", v)
	}
	if _, ok := c.Get("other"); ok {
		t.Error("child write leaked into parent")
	}
	if v, _ := child.Get("s"); v != "inner" {
		t.Errorf("child entry = %v, want inner", v)
	}
}

func TestCacheCloseOnReplace(t *testing.T) {
	c := NewValueCache(nil)
	r := &closeRecorder{}
	c.Set("k", r)
	c.Set("k", "replacement")
	if r.count() != 1 {
		t.Errorf("closed %d times on replace, want 1", r.count())
	}
}

func TestCacheCloseOnSameValueNoop(t *testing.T) {
	c := NewValueCache(nil)
	r := &closeRecorder{}
	c.Set("k", r)
	c.Set("k", r)
	if r.count() != 0 {
		t.Errorf("closed %d times when reassigning the same value, want 0", r.count())
	}
	if got, _ := c.GetUpdateCount("k"); got != 1 {
		t.Errorf("update count = %d, want 1", got)
	}
}

func TestCacheCloseOnDelAndClear(t *testing.T) {
	c := NewValueCache(nil)
	del := &closeRecorder{}
	cleared := &closeRecorder{fail: true} // failure must be swallowed
	c.Set("del", del)
	c.Set("cleared", cleared)

	c.Del("del")
	if del.count() != 1 {
		t.Errorf("Del closed %d times, want 1", del.count())
	}

	c.Clear()
	if cleared.count() != 1 {
		t.Errorf("Clear closed %d times, want 1", cleared.count())
	}
	if _, ok := c.Get("cleared"); ok {
		t.Error("entry survived Clear")
	}
}

func TestCacheCloseClosesChildren(t *testing.T) {
	c := NewValueCache(nil)
	inner := &closeRecorder{}
	c.Child("scope").Set("v", inner)
	c.Close()
	if inner.count() != 1 {
		t.Errorf("child value closed %d times, want 1", inner.count())
	}
}

func TestCacheUncomparableValues(t *testing.T) {
	c := NewValueCache(nil)
	c.Set("m", map[string]any{"a": 1})
	c.Set("m", map[string]any{"a": 2}) // must not panic
	if got, _ := c.GetUpdateCount("m"); got != 1 {
		t.Errorf("update count = %d, want 1", got)
	}
}

func TestCacheSnapshotRestore(t *testing.T) {
	c := NewValueCache(nil)
	c.Set("a", 1)
	c.Set("a", 2)
	c.Set("b", "text")
	c.Child("b").Set("inner", true)
	c.Set("resource", &closeRecorder{}) // not serializable, must be skipped

	snap := c.Snapshot()
	if _, ok := snap["resource"]; ok {
		t.Error("snapshot should skip values with a close capability")
	}

	restored := NewValueCache(nil)
	restored.Restore(snap)
	if v, _ := restored.Get("a"); v != 2 {
		t.Errorf("restored a = %v, want 2", v)
	}
	if got, _ := restored.GetUpdateCount("a"); got != 1 {
		t.Errorf("restored update count = %d, want 1", got)
	}
	idA, _ := c.GetID("a")
	if got, _ := restored.GetID("a"); got != idA {
		t.Errorf("restored id = %d, want %d", got, idA)
	}
	if v, ok := restored.Child("b").Get("inner"); !ok || v != true {
		t.Errorf("restored child entry = %v, %v; want true, true", v, ok)
	}

	// New inserts continue past the largest restored id.
	restored.Set("new", 1)
	newID, _ := restored.GetID("new")
	if newID <= idA {
		t.Errorf("new id %d not past restored ids", newID)
	}
}
