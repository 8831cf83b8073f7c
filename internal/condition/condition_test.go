// SPDX-License-Identifier: MPL-2.0

package condition

import (
	"testing"

	"dotctl/pkg/pkgfile"
)

func TestSatisfies(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		elevated bool
		positive []string
		negative []string
		want     bool
	}{
		{"no conditions", false, nil, nil, true},
		{"positive holds", true, []string{"superuser"}, nil, true},
		{"positive fails", false, []string{"superuser"}, nil, false},
		{"negative holds", true, nil, []string{"superuser"}, false},
		{"negative fails", false, nil, []string{"superuser"}, true},
		{"both lists", true, []string{"superuser"}, []string{"superuser"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewStatic(tt.elevated)
			if got := c.Satisfies(tt.positive, tt.negative); got != tt.want {
				t.Errorf("Satisfies(%v, %v) = %v, want %v",
					tt.positive, tt.negative, got, tt.want)
			}
		})
	}
}

func TestProbeRunsOnce(t *testing.T) {
	t.Parallel()
	calls := 0
	c := &Checker{probe: func() bool {
		calls++
		return true
	}}
	for range 3 {
		if !c.Superuser() {
			t.Fatal("expected elevated")
		}
	}
	if calls != 1 {
		t.Errorf("probe ran %d times, want 1", calls)
	}
}

func TestSatisfiesPackage(t *testing.T) {
	t.Parallel()
	d := &pkgfile.Descriptor{If: []string{"superuser"}}
	if NewStatic(false).SatisfiesPackage(d) {
		t.Error("package should be hidden without elevation")
	}
	if !NewStatic(true).SatisfiesPackage(d) {
		t.Error("package should be visible with elevation")
	}
}
