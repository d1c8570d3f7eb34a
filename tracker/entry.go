package tracker

import (
	"fmt"
	"strconv"
	"time"

	"github.com/Velocidex/ordereddict"
)

// Update types sent over the notification channel.
const (
	UPDATE_TYPE_SYNC  = "sync"
	UPDATE_TYPE_START = "start"
	UPDATE_TYPE_EXIT  = "exit"
)

// ProcessEntry is one tracked process. Entries outlive the process
// itself: after the process exits the entry stays cached until it
// expires, which is what makes historic parent chains resolvable
// long after the parent is gone.
//
// Real entries are keyed by the identity string "pid-starttime". A
// second link entry keyed by the bare pid points at the real one
// through RealId, so lookups by pid find the newest incarnation of
// that pid.
type ProcessEntry struct {
	Id       string `json:"Id"`
	RealId   string `json:"RealId,omitempty"`
	ParentId string `json:"ParentId,omitempty"`

	Pid  int32  `json:"Pid,omitempty"`
	Ppid int32  `json:"Ppid,omitempty"`
	Name string `json:"Name,omitempty"`

	StartTime time.Time `json:"StartTime"`

	// When the process exited. For processes that vanished between
	// two syncs this is an estimate: the last sync that saw them.
	EndTime time.Time `json:"EndTime"`

	// The last full sync that confirmed the process alive.
	LastSyncTime time.Time `json:"LastSyncTime"`

	// Identity ids of known children.
	Children []string `json:"Children,omitempty"`

	// Extra attributes collected at sync time.
	Data *ordereddict.Dict `json:"Data,omitempty"`
}

func (self *ProcessEntry) IsLink() bool {
	return self.RealId != ""
}

// AddChild records a child id, keeping the list bounded and free of
// duplicates. Reports whether the list changed.
func (self *ProcessEntry) AddChild(id string, max_children int) bool {
	for _, known := range self.Children {
		if known == id {
			return false
		}
	}

	if len(self.Children) >= max_children {
		return false
	}

	self.Children = append(self.Children, id)
	return true
}

// Update is one state change notification from the tracker.
type Update struct {
	UpdateType string            `json:"UpdateType"`
	Entry      *ProcessEntry     `json:"Entry,omitempty"`
	Data       *ordereddict.Dict `json:"Data,omitempty"`
}

func pidKey(pid int32) string {
	return strconv.Itoa(int(pid))
}

// A parent we could not resolve to a live identity keeps its bare
// pid with a marker, so consumers can tell a guess from a fact.
func unknownParentId(parent_key string) string {
	return fmt.Sprintf("%v-?", parent_key)
}
