package telemetry

import (
	"strconv"
	"strings"
)

// idReplacer turns "Cabinet_Contact Closure_Front-Door_3" into
// "Cabinet_Contact_Closure_Front_Door_3".
var idReplacer = strings.NewReplacer(" ", "_", "-", "_")

// placeholderTokens are id components that carry no identity.
var placeholderTokens = map[string]struct{}{
	"":     {},
	"None": {},
}

// missingGroup stands in for an absent ES_Name in ids, so that ids never
// start with a bare "_".
const missingGroup = "None"

// idAllocator hands out sensor ids that are unique within one snapshot.
// A fresh allocator must be used per snapshot.
type idAllocator struct {
	seen map[string]struct{}
}

func newIDAllocator(capacity int) *idAllocator {
	return &idAllocator{seen: make(map[string]struct{}, capacity)}
}

// assign derives group_type_name_number. When that key is degenerate or
// already taken it falls back to group_type_<index>, where index is the
// position of the sensor in the output. An empty group renders as "None".
func (a *idAllocator) assign(group, sensorType, name, number string, index int) string {
	if group == "" {
		group = missingGroup
	}
	id := idReplacer.Replace(group + "_" + sensorType + "_" + name + "_" + number)
	if isPlaceholder(id) || a.taken(id) {
		id = a.fallback(group, sensorType, index)
	}
	a.seen[id] = struct{}{}
	return id
}

func (a *idAllocator) fallback(group, sensorType string, index int) string {
	base := idReplacer.Replace(group + "_" + sensorType + "_" + strconv.Itoa(index))
	id := base
	for n := 2; a.taken(id); n++ {
		id = base + "_" + strconv.Itoa(n)
	}
	return id
}

func (a *idAllocator) taken(id string) bool {
	_, ok := a.seen[id]
	return ok
}

// isPlaceholder reports whether every "_"-separated token of id is empty or
// a placeholder.
func isPlaceholder(id string) bool {
	for _, tok := range strings.Split(id, "_") {
		if _, ok := placeholderTokens[tok]; !ok {
			return false
		}
	}
	return true
}
