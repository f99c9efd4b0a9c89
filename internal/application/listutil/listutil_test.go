package listutil

import (
	"net/url"
	"testing"
)

// TestParsePageParams_Defaults verifies default page params when no query values provided.
func TestParsePageParams_Defaults(t *testing.T) {
	p := ParsePageParams(url.Values{})
	if p.Page != 1 {
		t.Errorf("expected page 1, got %d", p.Page)
	}
	if p.PerPage != DefaultPerPage {
		t.Errorf("expected per_page %d, got %d", DefaultPerPage, p.PerPage)
	}
}

// TestParsePageParams_Valid verifies correct parsing of valid page and per_page values.
func TestParsePageParams_Valid(t *testing.T) {
	p := ParsePageParams(url.Values{"page": {"3"}, "per_page": {"50"}})
	if p.Page != 3 {
		t.Errorf("expected page 3, got %d", p.Page)
	}
	if p.PerPage != 50 {
		t.Errorf("expected per_page 50, got %d", p.PerPage)
	}
}

// TestParsePageParams_InvalidPerPage verifies fallback to default for invalid per_page.
func TestParsePageParams_InvalidPerPage(t *testing.T) {
	p := ParsePageParams(url.Values{"per_page": {"25"}}) // not in allowed list
	if p.PerPage != DefaultPerPage {
		t.Errorf("expected default per_page %d for invalid value, got %d", DefaultPerPage, p.PerPage)
	}
}

// TestParsePageParams_NegativePage verifies page is clamped to 1 for negative input.
func TestParsePageParams_NegativePage(t *testing.T) {
	p := ParsePageParams(url.Values{"page": {"-1"}})
	if p.Page != 1 {
		t.Errorf("expected page 1 for negative input, got %d", p.Page)
	}
}

// TestNewPageInfo verifies page clamping and derived values.
func TestNewPageInfo(t *testing.T) {
	tests := []struct {
		name                 string
		page, perPage, total int
		wantPage, wantPages  int
		wantOffset           int
		wantNext             bool
	}{
		{"empty", 1, 20, 0, 1, 1, 0, false},
		{"first of many", 1, 10, 35, 1, 4, 0, true},
		{"last page", 4, 10, 35, 4, 4, 30, false},
		{"page past end clamps", 9, 10, 35, 4, 4, 30, false},
		{"exact multiple", 2, 10, 20, 2, 2, 10, false},
		{"zero per page uses default", 1, 0, 45, 1, 3, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := NewPageInfo(tt.page, tt.perPage, tt.total)
			if info.Page != tt.wantPage {
				t.Errorf("Page = %d, want %d", info.Page, tt.wantPage)
			}
			if info.TotalPages != tt.wantPages {
				t.Errorf("TotalPages = %d, want %d", info.TotalPages, tt.wantPages)
			}
			if info.Offset() != tt.wantOffset {
				t.Errorf("Offset() = %d, want %d", info.Offset(), tt.wantOffset)
			}
			if info.HasNext() != tt.wantNext {
				t.Errorf("HasNext() = %v, want %v", info.HasNext(), tt.wantNext)
			}
		})
	}
}
