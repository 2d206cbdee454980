package domain

import "strings"

// Row is a stored tuple whose values follow the owning table's column order.
type Row interface {
	Values() []any
}

// Record is a stored entity row.
type Record interface {
	Row
	RecordID() int64
	RecordName() string
}

// HostRecord is the stored row of a host.
type HostRecord struct {
	ID       int64  `json:"id"`
	Name     string `json:"name" validate:"required,max=64"`
	Endpoint string `json:"endpoint" validate:"required,max=128"`
}

// Values implements Row (id, name, endpoint).
func (r HostRecord) Values() []any { return []any{r.ID, r.Name, r.Endpoint} }

// RecordID implements Record.
func (r HostRecord) RecordID() int64 { return r.ID }

// RecordName implements Record.
func (r HostRecord) RecordName() string { return r.Name }

// ServiceRecord is the stored row of a service.
type ServiceRecord struct {
	ID     int64  `json:"id"`
	HostID *int64 `json:"host_id"`
	Name   string `json:"name" validate:"required,max=64"`
	Alias  string `json:"alias" validate:"required,max=128"`
}

// Values implements Row (id, host_id, name, alias).
func (r ServiceRecord) Values() []any {
	var hostID any
	if r.HostID != nil {
		hostID = *r.HostID
	}
	return []any{r.ID, hostID, r.Name, r.Alias}
}

// RecordID implements Record.
func (r ServiceRecord) RecordID() int64 { return r.ID }

// RecordName implements Record.
func (r ServiceRecord) RecordName() string { return r.Name }

// Equal reports whether both records hold the same values.
func (r ServiceRecord) Equal(other ServiceRecord) bool {
	return r.ID == other.ID && r.Name == other.Name && r.Alias == other.Alias && SameRef(r.HostID, other.HostID)
}

// Clone returns a copy that shares no pointers with r.
func (r ServiceRecord) Clone() ServiceRecord {
	r.HostID = cloneID(r.HostID)
	return r
}

// GroupRecord is the stored row of a host group or service group.
type GroupRecord struct {
	ID   int64  `json:"id"`
	Name string `json:"name" validate:"required,max=64"`
}

// Values implements Row (id, name).
func (r GroupRecord) Values() []any { return []any{r.ID, r.Name} }

// RecordID implements Record.
func (r GroupRecord) RecordID() int64 { return r.ID }

// RecordName implements Record.
func (r GroupRecord) RecordName() string { return r.Name }

// Link is one row of a junction relation. Left references the first table of
// the pair (hosts or services), Right the group table.
type Link struct {
	Left  int64 `json:"left"`
	Right int64 `json:"right"`
}

// Values implements Row.
func (l Link) Values() []any { return []any{l.Left, l.Right} }

// SameRef reports whether two optional references point at the same id.
func SameRef(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// Predicate selects records in query operations.
type Predicate func(Record) bool

// All matches every record.
func All() Predicate {
	return func(Record) bool { return true }
}

// NameEquals matches records whose name equals name.
func NameEquals(name string) Predicate {
	return func(r Record) bool { return r.RecordName() == name }
}

// NameHasPrefix matches records whose name starts with prefix.
func NameHasPrefix(prefix string) Predicate {
	return func(r Record) bool { return strings.HasPrefix(r.RecordName(), prefix) }
}

// NameContains matches records whose name contains substr.
func NameContains(substr string) Predicate {
	return func(r Record) bool { return strings.Contains(r.RecordName(), substr) }
}

// EndpointHasPrefix matches host records whose endpoint starts with prefix.
func EndpointHasPrefix(prefix string) Predicate {
	return func(r Record) bool {
		h, ok := r.(HostRecord)
		return ok && strings.HasPrefix(h.Endpoint, prefix)
	}
}

// OnHost matches service records referencing the given host.
func OnHost(hostID int64) Predicate {
	return func(r Record) bool {
		s, ok := r.(ServiceRecord)
		return ok && s.HostID != nil && *s.HostID == hostID
	}
}
