package requestfsm

import "github.com/itskum47/mdmflow/internal/rowstore"

// rowView adapts a rowstore.Request to approvalsync.Row.
type rowView struct {
	req *rowstore.Request
}

func (v rowView) HasLevel(level int) bool {
	_, ok := v.req.Level(level)
	return ok
}

func (v rowView) InternalStatus(level int) (status, name string, ok bool) {
	l, found := v.req.Level(level)
	if !found {
		return "", "", false
	}
	return l.Status, l.Name, true
}

func (v rowView) BusinessUnit() string { return v.req.BusinessUnit }
func (v rowView) Department() string   { return v.req.Department }
func (v rowView) RequestType() string  { return v.req.RequestType }
