package frame

import (
	"image"
	"testing"
)

func TestTextBoxClamp(t *testing.T) {
	testCases := []struct {
		name string
		box  TextBox
		want TextBox
		ok   bool
	}{
		{"inside", TextBox{10, 10, 20, 20}, TextBox{10, 10, 20, 20}, true},
		{"partially left", TextBox{-5, 10, 20, 20}, TextBox{0, 10, 15, 20}, true},
		{"partially bottom right", TextBox{90, 90, 20, 20}, TextBox{90, 90, 10, 10}, true},
		{"fully outside", TextBox{200, 200, 10, 10}, TextBox{}, false},
		{"zero width", TextBox{10, 10, 0, 5}, TextBox{}, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := tc.box.Clamp(100, 100)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("Clamp(%v) = %v,%v want %v,%v", tc.box, got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestClampAllPreservesOrder(t *testing.T) {
	boxes := []TextBox{{50, 50, 10, 10}, {0, 0, 0, 0}, {-10, -10, 5, 5}, {5, 5, 10, 10}}
	got := ClampAll(boxes, 100, 100)
	want := []TextBox{{50, 50, 10, 10}, {5, 5, 10, 10}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestCloneAndEqual(t *testing.T) {
	f := New(3, 8, 6)
	f.Fill(image.Rect(1, 1, 4, 4), [3]uint8{200, 10, 10})

	c := f.Clone()
	if !f.Equal(c) || c.Index != 3 {
		t.Fatalf("clone should equal original")
	}

	c.Fill(image.Rect(0, 0, 1, 1), [3]uint8{1, 2, 3})
	if f.Equal(c) {
		t.Fatalf("mutating clone must not affect original")
	}
	if f.RGB(0, 0) != [3]uint8{0, 0, 0} {
		t.Fatalf("original pixel changed: %v", f.RGB(0, 0))
	}
}
