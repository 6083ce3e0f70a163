package access

import "testing"

func TestSlotAndNextCursor(t *testing.T) {
	cases := []struct {
		cursor, n, slot, next int
	}{
		{0, 3, 0, 1},
		{2, 3, 2, 0},
		{5, 3, 2, 0},
		{4, 2, 0, 1},
		{-1, 3, 2, 0},
	}
	for _, tc := range cases {
		if got := Slot(tc.cursor, tc.n); got != tc.slot {
			t.Fatalf("Slot(%d,%d) = %d, want %d", tc.cursor, tc.n, got, tc.slot)
		}
		if got := NextCursor(tc.cursor, tc.n); got != tc.next {
			t.Fatalf("NextCursor(%d,%d) = %d, want %d", tc.cursor, tc.n, got, tc.next)
		}
	}
}

func TestFilterActiveOrdersByIndex(t *testing.T) {
	creds := []Credential{
		{ID: "c", Index: 3, Active: true},
		{ID: "a", Index: 1, Active: true},
		{ID: "b", Index: 2, Active: false},
		{ID: "d", Index: 0, Active: true},
	}
	active := FilterActive(creds)
	if len(active) != 3 {
		t.Fatalf("expected 3 active credentials, got %d", len(active))
	}
	want := []CredentialID{"d", "a", "c"}
	for i, id := range want {
		if active[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, active[i].ID, id)
		}
	}
}

func TestSelectEmpty(t *testing.T) {
	if _, err := Select(nil, 0); err != ErrNoCredentialAvailable {
		t.Fatalf("expected ErrNoCredentialAvailable, got %v", err)
	}
}
