package core

import "testing"

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantValid bool
		wantValue string
		wantErr   bool
	}{
		{name: "empty is no rate", input: "", wantValid: false},
		{name: "whitespace is no rate", input: "   ", wantValid: false},
		{name: "integer", input: "120", wantValid: true, wantValue: "120"},
		{name: "decimal", input: "99.50", wantValid: true, wantValue: "99.5"},
		{name: "leading decimal point", input: ".75", wantValid: true, wantValue: "0.75"},
		{name: "dollar", input: "$1,250.00", wantValid: true, wantValue: "1250"},
		{name: "rupee with grouping", input: "₹ 12,34,567.5", wantValid: true, wantValue: "1234567.5"},
		{name: "euro", input: "€45", wantValid: true, wantValue: "45"},
		{name: "accounting negative", input: "(12.50)", wantValid: true, wantValue: "-12.5"},
		{name: "excel text formula", input: `="300"`, wantValid: true, wantValue: "300"},
		{name: "scientific", input: "1.5e3", wantValid: true, wantValue: "1500"},
		{name: "letters", input: "abc", wantErr: true},
		{name: "two points", input: "1.2.3", wantErr: true},
		{name: "trailing text", input: "12 per bag", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDecimal(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseDecimal(%q) error = nil, want error", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDecimal(%q) unexpected error: %v", tt.input, err)
			}
			if got.Valid != tt.wantValid {
				t.Fatalf("ParseDecimal(%q).Valid = %v, want %v", tt.input, got.Valid, tt.wantValid)
			}
			if tt.wantValid && got.Decimal.String() != tt.wantValue {
				t.Errorf("ParseDecimal(%q) = %s, want %s", tt.input, got.Decimal.String(), tt.wantValue)
			}
		})
	}
}

func TestParseNumber(t *testing.T) {
	tests := []struct {
		input   string
		want    float64
		wantErr bool
	}{
		{"", 0, false},
		{"7", 7, false},
		{"2.5", 2.5, false},
		{" 14 ", 14, false},
		{"1,000", 1000, false},
		{"seven", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseNumber(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseNumber(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseNumber(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestCleanCell(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "simple string unchanged", input: "M1001", want: "M1001"},
		{name: "empty string", input: "", want: ""},
		{name: "surrounded by whitespace", input: "  cement  ", want: "cement"},
		{name: "Excel formula with quotes", input: `="M1001-01"`, want: "M1001-01"},
		{name: "bare equals sign", input: "=SUM(A1)", want: "SUM(A1)"},
		{name: "double quotes removed", input: `"bag"`, want: "bag"},
		{name: "leading single quote (Excel text prefix)", input: "'1001", want: "1001"},
		{name: "whitespace inside quotes", input: `" kg "`, want: "kg"},
		{name: "only quotes", input: `""`, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanCell(tt.input); got != tt.want {
				t.Errorf("CleanCell(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestMakeHeaderIndex(t *testing.T) {
	idx := MakeHeaderIndex([]string{` "SubType"`, "CODE", "Item Name", "unit", "Rate", "Code"})

	checks := map[string]int{
		"subtype":   0,
		"code":      1, // first occurrence wins
		"item name": 2,
		"unit":      3,
		"rate":      4,
	}
	for key, want := range checks {
		got, ok := idx[key]
		if !ok {
			t.Errorf("MakeHeaderIndex()[%q] not found, want index %d", key, want)
			continue
		}
		if got != want {
			t.Errorf("MakeHeaderIndex()[%q] = %d, want %d", key, got, want)
		}
	}

	row := []string{"civil", "M1001", "Cement"}
	if got := idx.Cell(row, "Code"); got != "M1001" {
		t.Errorf("Cell(Code) = %q, want M1001", got)
	}
	if got := idx.Cell(row, "Unit"); got != "" {
		t.Errorf("Cell(Unit) on short row = %q, want empty", got)
	}
	if got := idx.Cell(row, "Avg. Lead Time"); got != "" {
		t.Errorf("Cell(missing column) = %q, want empty", got)
	}
}
