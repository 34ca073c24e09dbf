package model

import "testing"

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in      string
		want    Category
		wantErr bool
	}{
		{"bind", CategoryBind, false},
		{"MIRROR", CategoryMirror, false},
		{" iterate ", CategoryIterate, false},
		{"⟁", CategoryBind, false},
		{"◐", CategoryMirror, false},
		{"↻", CategoryIterate, false},
		{"✓", CategoryVerify, false},
		{"⊕", CategoryCommit, false},
		{"", "", true},
		{"launch", "", true},
		{"⟁⟁", "", true},
	}

	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCategory(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseCategory(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCategoryGlyph(t *testing.T) {
	for _, c := range Categories {
		g := c.Glyph()
		if g == "" {
			t.Errorf("%s.Glyph() is empty", c)
			continue
		}
		if back, err := ParseCategory(g); err != nil || back != c {
			t.Errorf("ParseCategory(%s.Glyph()) = %q, %v", c, back, err)
		}
	}
	if g := Category("launch").Glyph(); g != "" {
		t.Errorf("unknown Glyph() = %q, want empty", g)
	}
}

func TestStatusPassed(t *testing.T) {
	tests := []struct {
		s    Status
		want bool
	}{
		{StatusRouted, true},
		{StatusDegradedFallback, true},
		{StatusBlocked, false},
		{StatusCoaching, false},
	}
	for _, tt := range tests {
		if got := tt.s.Passed(); got != tt.want {
			t.Errorf("%s.Passed() = %v, want %v", tt.s, got, tt.want)
		}
	}
}
