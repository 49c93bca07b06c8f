package hashtable

import "testing"

func TestSetGetDel(t *testing.T) {
	ht := MkHash(8)
	if _, ok := ht.Get(1); ok {
		t.Fatal("unexpected hit on empty table")
	}
	ht.Set(1, "console")
	ht.Set(3, "rawdisk")
	v, ok := ht.Get(1)
	if !ok || v.(string) != "console" {
		t.Fatalf("got %v, %v", v, ok)
	}
	if ht.Size() != 2 {
		t.Fatalf("expected size 2, got %d", ht.Size())
	}
	ht.Del(1)
	if _, ok := ht.Get(1); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestSetRejectsDuplicate(t *testing.T) {
	ht := MkHash(4)
	_, inserted := ht.Set(5, "a")
	if !inserted {
		t.Fatal("expected first insert to succeed")
	}
	_, inserted = ht.Set(5, "b")
	if inserted {
		t.Fatal("expected duplicate key to be rejected")
	}
}
