package record

import (
	"encoding/json"
	"strings"

	"openeconomy/internal/domain"
	"openeconomy/internal/model"
)

// Record is the append-only sequence of entries of one run, in the order the
// acts were processed.
type Record struct {
	entries []Entry
}

// FromEntries rebuilds a record, e.g. from storage.
func FromEntries(entries []Entry) *Record {
	return &Record{entries: append([]Entry(nil), entries...)}
}

func (r *Record) Append(e Entry) {
	r.entries = append(r.entries, e)
}

func (r *Record) Len() int {
	return len(r.entries)
}

// Entries returns the entries in record order.
func (r *Record) Entries() []Entry {
	return append([]Entry(nil), r.entries...)
}

// Find returns the first entry carrying id.
func (r *Record) Find(id string) (Entry, bool) {
	for _, e := range r.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

func (r *Record) BlockedEntries() []Entry {
	return r.filter(domain.StatusBlocked)
}

func (r *Record) AppliedEntries() []Entry {
	return r.filter(domain.StatusApplied)
}

func (r *Record) filter(status domain.Status) []Entry {
	var out []Entry
	for _, e := range r.entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// HumanReadable renders every entry against spec, separated by blank lines.
func (r *Record) HumanReadable(spec *model.Spec) string {
	parts := make([]string, 0, len(r.entries))
	for _, e := range r.entries {
		parts = append(parts, e.HumanReadable(spec))
	}
	return strings.Join(parts, "\n\n")
}

func (r *Record) MarshalJSON() ([]byte, error) {
	entries := r.entries
	if entries == nil {
		entries = []Entry{}
	}
	return json.Marshal(struct {
		Entries []Entry `json:"entries"`
	}{Entries: entries})
}

func (r *Record) UnmarshalJSON(data []byte) error {
	var raw struct {
		Entries []Entry `json:"entries"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.entries = raw.Entries
	return nil
}
