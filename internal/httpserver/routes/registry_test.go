package routes

import "testing"

func TestGroupsRegistered(t *testing.T) {
	got := make(map[string]bool)
	for _, name := range Groups() {
		if got[name] {
			t.Errorf("group %q registered twice", name)
		}
		got[name] = true
	}
	for _, want := range []string{"events", "health", "pages"} {
		if !got[want] {
			t.Errorf("group %q missing from %v", want, Groups())
		}
	}
}
