package sheet

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/basicitems/internal/core"
	"github.com/JonMunkholm/basicitems/internal/itemcode"
)

func TestCleanReader(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  string
	}{
		{"plain ascii", []byte("a,b\n"), "a,b\n"},
		{"bom stripped", append([]byte{0xEF, 0xBB, 0xBF}, "a,b"...), "a,b"},
		{"bom only at start", []byte("a\xEF\xBB\xBF"), "a\uFEFF"},
		{"multibyte kept", []byte("café,₹"), "café,₹"},
		{"invalid byte replaced", []byte("ab\xffcd"), "ab?cd"},
		{"truncated sequence", []byte("ab\xe2\x82"), "ab??"},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newCleanReader(bytes.NewReader(tt.input)))
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}
}

func TestCleanReader_OneByteReads(t *testing.T) {
	in := []byte("\xEF\xBB\xBFM1001,Brick ₹\xff")
	got, err := io.ReadAll(newCleanReader(iotest.OneByteReader(bytes.NewReader(in))))
	require.NoError(t, err)
	assert.Equal(t, "M1001,Brick ₹?", string(got))
}

func TestReadCSV(t *testing.T) {
	in := "\xEF\xBB\xBFsubtype,CODE,Item Name,Unit,Rate,Avg. Lead Time\n" +
		"civil,M1001,Cement,bag,\"$1,250.00\",4\n" +
		",,,,,\n" +
		"civil,=\"M1001-01\",Cement OPC,bag,,\n"

	rows, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, core.RawRow{
		Line: 2, Category: "civil", Code: "M1001", Name: "Cement", Unit: "bag", Rate: "$1,250.00", AvgLeadTime: "4",
	}, rows[0])
	assert.Equal(t, 4, rows[1].Line, "blank rows still count toward line numbers")
	assert.Equal(t, "M1001-01", rows[1].Code)
	assert.Equal(t, "", rows[1].Rate)
}

func TestReadCSV_OptionalColumnsAbsent(t *testing.T) {
	rows, err := ReadCSV(strings.NewReader("Unit,Item Name,Code,SubType\nnos,Bolt,M4001,structural_steel\n"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "structural_steel", rows[0].Category)
	assert.Equal(t, "Bolt", rows[0].Name)
	assert.Empty(t, rows[0].Rate)
	assert.Empty(t, rows[0].AvgLeadTime)
}

func TestReadCSV_HeaderErrors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmptySheet)

	_, err = ReadCSV(strings.NewReader("SubType,Code\ncivil,M1001\n"))
	require.ErrorIs(t, err, ErrMissingColumn)
	assert.Contains(t, err.Error(), "Item Name, Unit")
}

func TestFormat(t *testing.T) {
	f, err := FormatOf("Items.XLSX")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)

	f, err = ParseFormat("csv")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	assert.Contains(t, f.ContentType(), "text/csv")

	_, err = FormatOf("items.xls")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = Read("notes.txt", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func sampleItems() []core.Item {
	parentID := int64(1)
	return []core.Item{
		{
			ID: 1, ProjectID: uuid.New(), Category: itemcode.Civil, Code: "M1001", Name: "Cement", Unit: "bag",
			Rate:        decimal.NullDecimal{Decimal: decimal.RequireFromString("1250.75"), Valid: true},
			AvgLeadTime: 4,
		},
		{
			ID: 2, Category: itemcode.Civil, Code: "M1001-01", Name: "Cement OPC 53", Unit: "bag",
			AvgLeadTime: 2.5, ParentItemID: &parentID,
		},
	}
}

func TestWriteCSV_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatCSV, sampleItems()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "SubType,Code,Item Name,Unit,Rate,Avg. Lead Time", lines[0])
	assert.Equal(t, "civil,M1001,Cement,bag,1250.75,4", lines[1])
	assert.Equal(t, "civil,M1001-01,Cement OPC 53,bag,,2.5", lines[2])

	rows, err := ReadCSV(&buf)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "M1001-01", rows[1].Code)
	assert.Equal(t, "1250.75", rows[0].Rate)
}

func TestWriteXLSX_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, FormatXLSX, sampleItems()))

	wb, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	defer wb.Close()
	assert.Equal(t, []string{ExportSheet}, wb.GetSheetList())

	rows, err := Read("export.xlsx", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, core.RawRow{
		Line: 2, Category: "civil", Code: "M1001", Name: "Cement", Unit: "bag", Rate: "1250.75", AvgLeadTime: "4",
	}, rows[0])
	assert.Equal(t, core.RawRow{
		Line: 3, Category: "civil", Code: "M1001-01", Name: "Cement OPC 53", Unit: "bag", Rate: "", AvgLeadTime: "2.5",
	}, rows[1])
}

func TestReadXLSX_FirstSheetOnly(t *testing.T) {
	wb := excelize.NewFile()
	require.NoError(t, wb.SetSheetRow("Sheet1", "A1", &[]string{"SubType", "Code", "Item Name", "Unit"}))
	require.NoError(t, wb.SetSheetRow("Sheet1", "A2", &[]string{"OHE", "M2001", "Mast", "nos"}))
	_, err := wb.NewSheet("Notes")
	require.NoError(t, err)
	require.NoError(t, wb.SetSheetRow("Notes", "A1", &[]string{"ignored"}))

	var buf bytes.Buffer
	require.NoError(t, wb.Write(&buf))
	require.NoError(t, wb.Close())

	rows, err := ReadXLSX(&buf)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "OHE", rows[0].Category)
	assert.Equal(t, "M2001", rows[0].Code)
}

func TestReadXLSX_NotAWorkbook(t *testing.T) {
	_, err := ReadXLSX(strings.NewReader("SubType,Code\n"))
	assert.Error(t, err)
}
