package plugin

import (
	"testing"
)

func TestBuiltinRegistry(t *testing.T) {
	r := Builtin()
	for _, name := range []string{"text-sticky", "lined-paper", "still", "header", "math", "excalidraw", "pdf"} {
		if _, ok := r.Lookup(name); !ok {
			t.Fatalf("builtin plugin %q missing", name)
		}
	}
	if _, ok := r.Lookup("spreadsheet"); ok {
		t.Fatalf("unregistered type must not resolve")
	}

	req := r.Required()
	for _, name := range []string{"text-sticky", "lined-paper", "still"} {
		if !req[name] {
			t.Fatalf("%q should be required", name)
		}
	}
	if req["header"] || req["math"] {
		t.Fatalf("optional plugins flagged as required: %v", req)
	}
}

func TestVariantDimensions(t *testing.T) {
	r := Builtin()
	header, _ := r.Lookup("header")
	d1 := header.DimensionsFor(1)
	d3 := header.DimensionsFor(3)
	if d3.Width >= d1.Width {
		t.Fatalf("higher header level should be narrower: %v vs %v", d3, d1)
	}

	// a plugin without dimensions yields the zero footprint
	r.Register(Plugin{Name: "bare"})
	bare, _ := r.Lookup("bare")
	if d := bare.DimensionsFor(1); d != (Dimensions{}) {
		t.Fatalf("bare plugin dimensions = %v, want zero", d)
	}
}

func TestRegisterIgnoresEmptyName(t *testing.T) {
	r := NewRegistry()
	r.Register(Plugin{})
	if n := len(r.Names()); n != 0 {
		t.Fatalf("empty-name registration should be ignored, have %d plugins", n)
	}
}
