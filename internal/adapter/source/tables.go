package source

import (
	"bytes"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// htmlTable is a <table> expanded into a rectangular grid. Cells spanning
// several rows or columns are repeated into every slot they cover.
type htmlTable struct {
	header [][]string
	rows   [][]string
}

// columns returns the lowest header row, which names the leaf columns of a
// multi-level header.
func (t htmlTable) columns() []string {
	if len(t.header) == 0 {
		return nil
	}
	return t.header[len(t.header)-1]
}

type rawCell struct {
	text    string
	rowspan int
	colspan int
}

type rawRow struct {
	cells  []rawCell
	header bool
}

// parseHTMLTables returns every table of the document in document order.
func parseHTMLTables(body []byte) ([]htmlTable, error) {
	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var tables []htmlTable
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Table {
			tables = append(tables, buildTable(collectRows(n)))
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return tables, nil
}

// collectRows gathers the <tr> elements that belong to table, skipping rows
// of nested tables.
func collectRows(table *html.Node) []rawRow {
	var rows []rawRow
	var walk func(n *html.Node, inHead bool)
	walk = func(n *html.Node, inHead bool) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			switch c.DataAtom {
			case atom.Table:
				continue
			case atom.Thead:
				walk(c, true)
			case atom.Tr:
				rows = append(rows, readRow(c, inHead))
			default:
				walk(c, inHead)
			}
		}
	}
	walk(table, false)
	return rows
}

func readRow(tr *html.Node, inHead bool) rawRow {
	row := rawRow{header: inHead}
	allHeader := true
	for c := tr.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || (c.DataAtom != atom.Td && c.DataAtom != atom.Th) {
			continue
		}
		if c.DataAtom == atom.Td {
			allHeader = false
		}
		row.cells = append(row.cells, rawCell{
			text:    cellText(c),
			rowspan: spanAttr(c, "rowspan"),
			colspan: spanAttr(c, "colspan"),
		})
	}
	if len(row.cells) > 0 && allHeader {
		row.header = true
	}
	return row
}

func spanAttr(n *html.Node, key string) int {
	for _, a := range n.Attr {
		if a.Key == key {
			if v, err := strconv.Atoi(strings.TrimSpace(a.Val)); err == nil && v > 0 {
				return v
			}
		}
	}
	return 1
}

// cellText returns the visible text of a cell with whitespace collapsed.
// Footnote superscripts and hidden sort keys are dropped.
func cellText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Table:
				return
			case atom.Sup:
				if hasClass(n, "reference") {
					return
				}
			case atom.Br:
				sb.WriteByte(' ')
			}
			if hidden(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}

func hasClass(n *html.Node, class string) bool {
	for _, a := range n.Attr {
		if a.Key == "class" {
			for _, c := range strings.Fields(a.Val) {
				if c == class {
					return true
				}
			}
		}
	}
	return false
}

func hidden(n *html.Node) bool {
	for _, a := range n.Attr {
		if a.Key == "style" && strings.Contains(strings.ReplaceAll(a.Val, " ", ""), "display:none") {
			return true
		}
	}
	return false
}

// buildTable expands row and column spans into a grid and splits the leading
// header rows from the body. A table without header rows uses its first row
// as the header.
func buildTable(rows []rawRow) htmlTable {
	type pending struct {
		text string
		left int
	}
	carry := map[int]*pending{}
	grid := make([][]string, 0, len(rows))
	width := 0

	for _, r := range rows {
		var out []string
		col := 0
		next := 0
		place := func() {
			for {
				p, ok := carry[col]
				if !ok {
					return
				}
				out = append(out, p.text)
				p.left--
				if p.left == 0 {
					delete(carry, col)
				}
				col++
			}
		}
		for next < len(r.cells) {
			place()
			c := r.cells[next]
			next++
			for i := 0; i < c.colspan; i++ {
				out = append(out, c.text)
				if c.rowspan > 1 {
					carry[col] = &pending{text: c.text, left: c.rowspan - 1}
				}
				col++
			}
		}
		place()
		if len(out) > width {
			width = len(out)
		}
		grid = append(grid, out)
	}

	for i := range grid {
		for len(grid[i]) < width {
			grid[i] = append(grid[i], "")
		}
	}

	headerRows := 0
	for headerRows < len(rows) && rows[headerRows].header {
		headerRows++
	}
	if headerRows == 0 && len(grid) > 0 {
		headerRows = 1
	}
	return htmlTable{header: grid[:headerRows], rows: grid[headerRows:]}
}
