package xlread

import "strconv"

type xlsxTable struct {
	Name           string `xml:"name,attr"`
	DisplayName    string `xml:"displayName,attr"`
	Ref            string `xml:"ref,attr"`
	HeaderRowCount *int   `xml:"headerRowCount,attr"`
	TotalsRowCount int    `xml:"totalsRowCount,attr"`
	TableColumns   struct {
		TableColumn []struct {
			Name string `xml:"name,attr"`
		} `xml:"tableColumn"`
	} `xml:"tableColumns"`
}

// loadTables reads every table part referenced from the worksheets, in
// sheet order and then in the order the sheet lists them.
func (d *xlsx) loadTables(wb *Workbook) ([]*Table, error) {
	var tables []*Table
	for i, sp := range d.sheetsX {
		if sp.meta.Kind != WorkSheet {
			continue
		}
		ex, err := d.sheetExtras(i)
		if err != nil {
			return nil, err
		}
		if len(ex.tableRIDs) == 0 {
			continue
		}
		rels, err := d.pkg.relsFor(sp.path)
		if err != nil {
			return nil, err
		}
		for _, rid := range ex.tableRIDs {
			rel, ok := rels[rid]
			if !ok {
				return nil, corruptf("sheet %q: missing table relationship %q", sp.meta.Name, rid)
			}
			t, err := d.readTable(wb, i, rel.Target)
			if err != nil {
				return nil, err
			}
			tables = append(tables, t)
		}
	}
	return tables, nil
}

func (d *xlsx) readTable(wb *Workbook, sheetIndex int, part string) (*Table, error) {
	var xt xlsxTable
	if err := d.pkg.decodeXML(part, &xt); err != nil {
		return nil, err
	}
	ref, err := parseRangeRef(xt.Ref)
	if err != nil {
		return nil, err
	}
	headerRows := 1
	if xt.HeaderRowCount != nil {
		headerRows = *xt.HeaderRowCount
	}

	t := &Table{
		wb:         wb,
		name:       xt.DisplayName,
		sheet:      d.sheetsX[sheetIndex].meta.Name,
		sheetIndex: sheetIndex,
		data:       ref,
	}
	if t.name == "" {
		t.name = xt.Name
	}
	for _, c := range xt.TableColumns.TableColumn {
		t.columns = append(t.columns, c.Name)
	}
	for i := len(t.columns); i < ref.Width(); i++ {
		t.columns = append(t.columns, "Column"+strconv.Itoa(i+1))
	}

	t.data.Start.Row += headerRows
	t.data.End.Row -= xt.TotalsRowCount
	if t.data.End.Row < t.data.Start.Row {
		t.empty = true
		t.data.End.Row = t.data.Start.Row
	}
	d.logger.Debug("table loaded", "table", t.name, "sheet", t.sheet, "ref", xt.Ref)
	return t, nil
}
