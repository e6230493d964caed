package main

import (
	"fmt"
	"testing"
)

func TestRng_Deterministic(t *testing.T) {
	a := NewRng("hello")
	b := NewRng("hello")
	for i := 0; i < 20; i++ {
		if x, y := a.Int(0, 1000), b.Int(0, 1000); x != y {
			t.Fatalf("step %d: same seed gave %d and %d", i, x, y)
		}
	}
}

func TestRng_IntRange(t *testing.T) {
	rng := NewRng("range")
	for i := 0; i < 1000; i++ {
		v := rng.Int(-5, 5)
		if v < -5 || v >= 5 {
			t.Fatalf("Int(-5, 5) returned %d", v)
		}
	}
	if v := rng.Int(7, 7); v != 7 {
		t.Errorf("Int(7, 7) = %d, want 7", v)
	}
}

func TestRng_Choice(t *testing.T) {
	rng := NewRng("choice")
	values := []string{"a", "b", "c"}
	seen := map[string]bool{}
	for i := 0; i < 300; i++ {
		seen[rng.Choice(values)] = true
	}
	for _, v := range values {
		if !seen[v] {
			t.Errorf("%s was never chosen", v)
		}
	}
}

func TestParseUserFields(t *testing.T) {
	rng := NewRng("fields")
	tests := []struct {
		name    string
		fields  map[string]string
		wantErr bool
		check   func(v any) error
	}{
		{"constant string", map[string]string{"region": "us-east"}, false, func(v any) error {
			if v != "us-east" {
				return fmt.Errorf("got %v", v)
			}
			return nil
		}},
		{"constant int", map[string]string{"n": "42"}, false, func(v any) error {
			if v != int64(42) {
				return fmt.Errorf("got %v (%T)", v, v)
			}
			return nil
		}},
		{"constant bool", map[string]string{"ok": "true"}, false, func(v any) error {
			if v != true {
				return fmt.Errorf("got %v", v)
			}
			return nil
		}},
		{"int range", map[string]string{"n": "/ir10,20"}, false, func(v any) error {
			i, ok := v.(int64)
			if !ok || i < 10 || i >= 20 {
				return fmt.Errorf("got %v", v)
			}
			return nil
		}},
		{"int upper bound", map[string]string{"n": "/i5"}, false, func(v any) error {
			i, ok := v.(int64)
			if !ok || i < 0 || i >= 5 {
				return fmt.Errorf("got %v", v)
			}
			return nil
		}},
		{"float range", map[string]string{"f": "/fr1,2"}, false, func(v any) error {
			f, ok := v.(float64)
			if !ok || f < 1 || f >= 2 {
				return fmt.Errorf("got %v", v)
			}
			return nil
		}},
		{"hex string", map[string]string{"id": "/sx8"}, false, func(v any) error {
			s, ok := v.(string)
			if !ok || len(s) != 8 {
				return fmt.Errorf("got %v", v)
			}
			return nil
		}},
		{"bool never", map[string]string{"b": "/b0"}, false, func(v any) error {
			if v != false {
				return fmt.Errorf("got %v", v)
			}
			return nil
		}},
		{"bad name", map[string]string{"no spaces": "x"}, true, nil},
		{"bad generator", map[string]string{"x": "/q"}, true, nil},
		{"bad bool", map[string]string{"x": "/b200"}, true, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			specs, err := parseUserFields(rng, tt.fields)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseUserFields() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if len(specs) != 1 {
				t.Fatalf("got %d specs, want 1", len(specs))
			}
			for i := 0; i < 50; i++ {
				if err := tt.check(specs[0].gen()); err != nil {
					t.Fatal(err)
				}
			}
		})
	}
}

func TestFielder_Levels(t *testing.T) {
	f, err := NewFielder("levels", map[string]string{
		"everywhere": "yes",
		"1.callee":   "/i10",
	}, 2)
	if err != nil {
		t.Fatal(err)
	}

	root := f.GetFields(0)
	if _, ok := root["callee"]; ok {
		t.Errorf("level 1 field showed up at level 0")
	}
	if root["everywhere"] != "yes" {
		t.Errorf("everywhere = %v", root["everywhere"])
	}
	if _, ok := root["process_id"]; !ok {
		t.Errorf("process_id missing")
	}
	// two extras, everywhere, process_id
	if len(root) != 4 {
		t.Errorf("got %d fields at level 0: %v", len(root), root)
	}

	child := f.GetFields(1)
	if _, ok := child["callee"]; !ok {
		t.Errorf("level 1 field missing at level 1")
	}
}

func TestFielder_SameSeedSameNames(t *testing.T) {
	a, err := NewFielder("seed", nil, 5)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewFielder("seed", nil, 5)
	if err != nil {
		t.Fatal(err)
	}
	for k := range a.GetFields(0) {
		if _, ok := b.GetFields(0)[k]; !ok {
			t.Errorf("field %s missing from second fielder", k)
		}
	}
}

func BenchmarkFielder_GetFields(b *testing.B) {
	for _, extras := range []int{0, 10, 50} {
		f, err := NewFielder("bench", map[string]string{"n": "/ir100"}, extras)
		if err != nil {
			b.Fatal(err)
		}
		b.Run(fmt.Sprintf("extras_%02d", extras), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				f.GetFields(1)
			}
		})
	}
}
