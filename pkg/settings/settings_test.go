package settings

import "testing"

func TestBoolRoundTrip(t *testing.T) {
	r := NewRegistry()
	v := r.Bool("steer.enabled", true, true, nil)
	if !*v {
		t.Fatalf("expected default true")
	}
	if err := r.Update("steer.enabled", "false"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if *v {
		t.Errorf("expected false after update")
	}
	if err := r.Reset("steer.enabled"); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if !*v {
		t.Errorf("expected default restored")
	}
}

func TestIntCallback(t *testing.T) {
	r := NewRegistry()
	var seen string
	v := r.Int("steer.max_rejects", 2, true, func(name, val string) error {
		seen = val
		return nil
	})
	if err := r.Update("steer.max_rejects", "5"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if *v != 5 {
		t.Errorf("got %d, want 5", *v)
	}
	if seen != "5" {
		t.Errorf("callback saw %q, want %q", seen, "5")
	}
}

func TestNonDynamicRejected(t *testing.T) {
	r := NewRegistry()
	r.Duration("steer.backoff_period", 0, false, nil)
	if err := r.Update("steer.backoff_period", "1s"); err == nil {
		t.Errorf("expected error updating a non-dynamic setting")
	}
}

func TestUnknownSetting(t *testing.T) {
	r := NewRegistry()
	if err := r.Update("nope", "1"); err == nil {
		t.Errorf("expected error for unknown setting")
	}
	if _, ok := r.Get("nope"); ok {
		t.Errorf("expected ok=false for unknown setting")
	}
}

func TestDuplicateRegisterPanics(t *testing.T) {
	r := NewRegistry()
	r.Bool("dup", false, true, nil)
	defer func() {
		if recover() == nil {
			t.Errorf("expected panic on duplicate registration")
		}
	}()
	r.Bool("dup", true, true, nil)
}
