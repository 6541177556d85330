package api

import "strings"

// tableForRequestType maps a request type string (e.g. "BOM Create") to
// the master table it's filed under (e.g. "BOM") and that table's
// abbreviation used in the RequestNumber prefix. The row store boundary
// treats tables and their per-row-type column vocabulary as an external
// contract (spec.md §4.2/§6); this registry is the one place that
// contract is named, rather than scattered across call sites.
func tableForRequestType(requestType string) (table, abbreviation string) {
	fields := strings.Fields(requestType)
	if len(fields) == 0 {
		return "", ""
	}
	table = strings.ToUpper(fields[0])
	return table, table
}
