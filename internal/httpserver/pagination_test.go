package httpserver

import (
	"net/http/httptest"
	"testing"
)

func TestParseOffsetParams(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		wantPage   int
		wantSize   int
		wantOffset int
		wantErr    bool
	}{
		{"defaults", "", 1, DefaultPageSize, 0, false},
		{"explicit page and size", "?page=3&page_size=10", 3, 10, 20, false},
		{"size clamped to max", "?page_size=5000", 1, MaxPageSize, 0, false},
		{"zero page rejected", "?page=0", 0, 0, 0, true},
		{"negative size rejected", "?page_size=-1", 0, 0, 0, true},
		{"non-numeric page rejected", "?page=abc", 0, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/tasks"+tt.query, nil)
			p, err := ParseOffsetParams(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseOffsetParams() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if p.Page != tt.wantPage || p.PageSize != tt.wantSize || p.Offset != tt.wantOffset {
				t.Errorf("ParseOffsetParams() = %+v, want page=%d size=%d offset=%d", p, tt.wantPage, tt.wantSize, tt.wantOffset)
			}
		})
	}
}

func TestNewOffsetPage(t *testing.T) {
	page := NewOffsetPage([]string{"a", "b"}, OffsetParams{Page: 1, PageSize: 2}, 5)
	if page.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", page.TotalPages)
	}
	if page.TotalItems != 5 {
		t.Errorf("TotalItems = %d, want 5", page.TotalItems)
	}

	empty := NewOffsetPage([]string(nil), OffsetParams{Page: 1, PageSize: 25}, 0)
	if empty.TotalPages != 0 {
		t.Errorf("TotalPages for empty set = %d, want 0", empty.TotalPages)
	}
}
