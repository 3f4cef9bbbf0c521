package stock

import "testing"

func TestFields_Present(t *testing.T) {
	fs := Fields{VWAP: nil}
	fs.Set(Price, 10)
	fs.Set(High, 0)

	got := fs.Present()
	if len(got) != 2 || got[0] != High || got[1] != Price {
		t.Fatalf("unexpected present fields %v", got)
	}

	if _, ok := fs.Get(VWAP); ok {
		t.Error("nil field must not be reported present")
	}
	if v, ok := fs.Get(Price); !ok || v != 10 {
		t.Errorf("expected price 10, got %v %v", v, ok)
	}
}

func TestField_Valid(t *testing.T) {
	for _, f := range Columns {
		if !f.Valid() {
			t.Errorf("%s should be valid", f)
		}
	}
	if Field("symbol").Valid() || Field("price; drop").Valid() {
		t.Error("non-metric columns must be rejected")
	}
}
