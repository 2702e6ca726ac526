package domain

import (
	"encoding/json"
	"sort"
)

// Blacklist records (host, storage) pairs that failed a capacity check during
// one placement request. It only grows; there is no removal operation.
type Blacklist map[string]map[string]struct{}

// NewBlacklist returns an empty blacklist.
func NewBlacklist() Blacklist {
	return make(Blacklist)
}

// Record adds storageID to the set for hostID, creating the set if absent.
func (b Blacklist) Record(hostID, storageID string) {
	set, ok := b[hostID]
	if !ok {
		set = make(map[string]struct{})
		b[hostID] = set
	}
	set[storageID] = struct{}{}
}

// Contains reports whether the pair has been recorded.
func (b Blacklist) Contains(hostID, storageID string) bool {
	_, ok := b[hostID][storageID]
	return ok
}

// Storages returns the sorted storage IDs recorded for hostID.
func (b Blacklist) Storages(hostID string) []string {
	set := b[hostID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of recorded pairs.
func (b Blacklist) Len() int {
	n := 0
	for _, set := range b {
		n += len(set)
	}
	return n
}

// Clone returns a deep copy. A nil blacklist clones to an empty one.
func (b Blacklist) Clone() Blacklist {
	out := make(Blacklist, len(b))
	for host, set := range b {
		cp := make(map[string]struct{}, len(set))
		for id := range set {
			cp[id] = struct{}{}
		}
		out[host] = cp
	}
	return out
}

// MarshalJSON encodes the blacklist as host ID -> sorted storage IDs.
func (b Blacklist) MarshalJSON() ([]byte, error) {
	m := make(map[string][]string, len(b))
	for host := range b {
		m[host] = b.Storages(host)
	}
	return json.Marshal(m)
}

// UnmarshalJSON decodes the host ID -> storage IDs form.
func (b *Blacklist) UnmarshalJSON(data []byte) error {
	var m map[string][]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	out := make(Blacklist, len(m))
	for host, ids := range m {
		for _, id := range ids {
			out.Record(host, id)
		}
	}
	*b = out
	return nil
}
