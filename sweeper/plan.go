package sweeper

import (
	"time"

	tempdesk "github.com/wolfeidau/tempdesk"
)

// Op is a planned sweep action.
type Op string

const (
	// OpDelete removes an expired live entry permanently.
	OpDelete Op = "delete"

	// OpArchive relocates an expired live entry into the retention
	// archive instead of deleting it.
	OpArchive Op = "archive"

	// OpRestore moves an archived entry back into the live folder
	// because it is no longer past the retention window, e.g. after the
	// window was lengthened.
	OpRestore Op = "restore"

	// OpDeleteArchived removes an expired entry from the archive when
	// deletion is enabled.
	OpDeleteArchived Op = "delete-archived"
)

// Action pairs an entry name with the operation the sweep will apply.
type Action struct {
	Name string
	Op   Op
}

// Plan computes the actions one sweep pass should take. It is pure: the
// same listings, clock and settings always yield the same actions, so a
// second pass over the result of a first plans nothing. An entry expires
// only when its age strictly exceeds the retention window; age exactly at
// the boundary keeps the entry.
func Plan(live, archived []tempdesk.Entry, now time.Time, retention time.Duration, deleteOnExpire bool) []Action {
	var actions []Action

	for _, e := range live {
		if e.Age(now) <= retention {
			continue
		}
		if deleteOnExpire {
			actions = append(actions, Action{Name: e.Name, Op: OpDelete})
		} else {
			actions = append(actions, Action{Name: e.Name, Op: OpArchive})
		}
	}

	for _, e := range archived {
		expired := e.Age(now) > retention
		switch {
		case expired && deleteOnExpire:
			actions = append(actions, Action{Name: e.Name, Op: OpDeleteArchived})
		case !expired:
			actions = append(actions, Action{Name: e.Name, Op: OpRestore})
		}
	}

	return actions
}
