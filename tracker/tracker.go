/*
   Velociraptor - Dig Deeper
   Copyright (C) 2019-2025 Rapid7 Inc.

   This program is free software: you can redistribute it and/or modify
   it under the terms of the GNU Affero General Public License as published
   by the Free Software Foundation, either version 3 of the License, or
   (at your option) any later version.

   This program is distributed in the hope that it will be useful,
   but WITHOUT ANY WARRANTY; without even the implied warranty of
   MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
   GNU Affero General Public License for more details.

   You should have received a copy of the GNU Affero General Public License
   along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

/*
  The tracker keeps a model of the process tree that outlives the
  processes in it. Querying the live process table can not answer
  "who started this process" once the parent exits, and it gets the
  wrong answer entirely once the parent's pid is recycled. The
  tracker can, because it remembers exited processes under their
  identity id until the entries expire.

  The model is refreshed by periodic full syncs from a process table
  snapshot. Between syncs it can also be fed live start and exit
  events from any external source through ApplyUpdate.
*/

package tracker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/Velocidex/ttlcache/v2"

	"www.velocidex.com/golang/psutils/config"
	"www.velocidex.com/golang/psutils/logging"
	"www.velocidex.com/golang/psutils/process"
	"www.velocidex.com/golang/psutils/utils"
)

const (
	default_max_children = 10
	max_call_chain       = 32
)

type Options struct {
	// Maximum number of cached entries, pid links included.
	MaxSize int

	// Entries expire this long after they were last written.
	MaxAge time.Duration

	// Bound on recorded children per process.
	MaxChildren int

	// Used for logging only.
	Config *config.Config
}

type Tracker struct {
	mu sync.Mutex

	table  *process.Table
	lookup *ttlcache.Cache

	// Interested parties receive state updates here. Sends never
	// block: a slow listener misses updates instead of stalling the
	// sync.
	update_notifications chan *Update

	// The last time a full sync completed.
	last_full_sync time.Time

	max_children int
	config_obj   *config.Config
}

func NewTracker(opts Options) *Tracker {
	lookup := ttlcache.NewCache()
	if opts.MaxSize > 0 {
		lookup.SetCacheSizeLimit(opts.MaxSize)
	}
	if opts.MaxAge > 0 {
		_ = lookup.SetTTL(opts.MaxAge)
	}

	// Age from the last write, not the last read. Live entries are
	// rewritten every sync, exited ones age out.
	lookup.SkipTTLExtensionOnHit(true)

	max_children := opts.MaxChildren
	if max_children <= 0 {
		max_children = default_max_children
	}

	return &Tracker{
		table:        process.NewTable(),
		lookup:       lookup,
		max_children: max_children,
		config_obj:   opts.Config,
	}
}

// Start primes the tracker with one inline sync, then keeps it
// synced in the background until the context is cancelled.
func (self *Tracker) Start(
	ctx context.Context, sync_period time.Duration) error {
	err := self.SyncOnce(ctx)
	if err != nil {
		return err
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return

			case <-utils.GetTime().After(sync_period):
				err := self.SyncOnce(ctx)
				if err != nil {
					logger := logging.GetLogger(
						self.config_obj, &logging.TrackerComponent)
					logger.Error("Tracker sync: %v", err)
				}
			}
		}
	}()

	return nil
}

func (self *Tracker) Close() {
	_ = self.lookup.Close()
}

// SyncOnce reconciles the model with a fresh process table snapshot:
// new processes get entries, surviving ones get their sync time
// bumped and vanished ones get an estimated end time.
func (self *Tracker) SyncOnce(ctx context.Context) error {
	procs, err := self.table.Processes(ctx)
	if err != nil {
		return err
	}

	now := utils.GetTime().Now()

	all_updates := make(map[string]*ProcessEntry)
	all_links := make(map[string]string)

	for _, proc := range procs {
		entry := self.entryFromProcess(ctx, proc, now)
		all_updates[entry.Id] = entry
		all_links[pidKey(proc.Pid())] = entry.Id
	}

	// Resolve each parent pid into an identity id. Processes are
	// not reparented at runtime, so an identity resolved once holds
	// even when the parent pid is recycled later.
	for real_id, record := range all_updates {
		if record.ParentId == "" {
			continue
		}

		// We tracked this process before: keep the parent identity
		// and the children discovered in earlier syncs.
		known, pres := self.getEntry(real_id)
		if pres && !known.IsLink() {
			record.ParentId = known.ParentId
			record.Children = known.Children
			continue
		}

		// Parent is in the live set.
		parent_id, pres := all_links[record.ParentId]
		if pres {
			record.ParentId = parent_id
			continue
		}

		// The parent already exited but we may still hold its link
		// from when it was alive. The pid could have been recycled
		// since, so this is a best effort guess.
		parent_link, pres := self.getEntry(record.ParentId)
		if pres && parent_link.IsLink() {
			record.ParentId = parent_link.RealId
			continue
		}

		record.ParentId = unknownParentId(record.ParentId)
	}

	// Record child edges on the parents.
	for real_id, record := range all_updates {
		parent, pres := all_updates[record.ParentId]
		if pres {
			parent.AddChild(real_id, self.max_children)
			continue
		}

		// Parent is not live anymore but may still be cached.
		self.addChildIdToParent(real_id, record.ParentId)
	}

	// Store the new generation, with a pid link for each entry.
	all_updates_dict := ordereddict.NewDict()
	for real_id, record := range all_updates {
		_ = self.lookup.Set(real_id, record)
		_ = self.lookup.Set(pidKey(record.Pid), &ProcessEntry{
			Id:     pidKey(record.Pid),
			RealId: real_id,
		})
		all_updates_dict.Set(real_id, record)
	}

	self.mu.Lock()
	self.last_full_sync = now
	self.mu.Unlock()

	// Anything we knew as alive that did not show up in this pass
	// exited since the last sync. The last sync that saw it is the
	// closest estimate of when.
	for _, key := range self.lookup.GetKeys() {
		_, pres := all_updates[key]
		if pres {
			continue
		}

		entry, pres := self.getEntry(key)
		if !pres || entry.IsLink() || !entry.EndTime.IsZero() {
			continue
		}

		entry.EndTime = entry.LastSyncTime
		_ = self.lookup.Set(key, entry)
		self.maybeSendUpdate(&Update{
			UpdateType: UPDATE_TYPE_EXIT,
			Entry:      entry,
		})
	}

	self.maybeSendUpdate(&Update{
		UpdateType: UPDATE_TYPE_SYNC,
		Data:       all_updates_dict,
	})
	return nil
}

// entryFromProcess reads the cheap attributes off one process in a
// single query.
func (self *Tracker) entryFromProcess(ctx context.Context,
	proc *process.Process, now time.Time) *ProcessEntry {
	scope := proc.Oneshot()
	defer scope.Close()

	entry := &ProcessEntry{
		Id:           proc.Identity().String(),
		Pid:          proc.Pid(),
		StartTime:    proc.CreateTime(),
		LastSyncTime: now,
	}

	name, err := proc.Name(ctx)
	if err == nil {
		entry.Name = name
	}

	ppid, err := proc.Ppid(ctx)
	if err == nil && ppid > 0 {
		entry.Ppid = ppid
		entry.ParentId = pidKey(ppid)
	}

	return entry
}

// ApplyUpdate feeds one live event into the model, for callers that
// have a realtime process event source and do not want to wait for
// the next sync.
func (self *Tracker) ApplyUpdate(update *Update) {
	if update.Entry == nil {
		return
	}

	switch update.UpdateType {
	case UPDATE_TYPE_START:
		record := update.Entry
		_ = self.lookup.Set(record.Id, record)
		_ = self.lookup.Set(pidKey(record.Pid), &ProcessEntry{
			Id:     pidKey(record.Pid),
			RealId: record.Id,
		})
		self.addChildIdToParent(record.Id, record.ParentId)
		self.maybeSendUpdate(update)

	case UPDATE_TYPE_EXIT:
		entry, pres := self.getEntry(update.Entry.Id)
		if pres && !entry.IsLink() {
			entry.EndTime = update.Entry.EndTime
			_ = self.lookup.Set(entry.Id, entry)
		}
		self.maybeSendUpdate(update)
	}
}

func (self *Tracker) getEntry(key string) (*ProcessEntry, bool) {
	value, err := self.lookup.Get(key)
	if err != nil {
		return nil, false
	}

	entry, ok := value.(*ProcessEntry)
	return entry, ok
}

// Get resolves an id, either an identity id or a bare pid string,
// into its entry.
func (self *Tracker) Get(
	ctx context.Context, id string) (*ProcessEntry, bool) {
	entry, pres := self.getEntry(id)
	if !pres {
		return nil, false
	}

	// Bare pid lookups find a link to the real record.
	if entry.IsLink() {
		entry, pres = self.getEntry(entry.RealId)
		if !pres {
			return nil, false
		}
	}

	self.maybeUpdateEndTime(entry)
	return entry, true
}

func (self *Tracker) GetByPid(
	ctx context.Context, pid int32) (*ProcessEntry, bool) {
	return self.Get(ctx, pidKey(pid))
}

// If the entry was not seen by the latest full sync it must have
// exited. We do not know exactly when, the last sync that saw it is
// the estimate.
func (self *Tracker) maybeUpdateEndTime(entry *ProcessEntry) {
	self.mu.Lock()
	last_full_sync := self.last_full_sync
	self.mu.Unlock()

	if entry.EndTime.IsZero() && last_full_sync.After(entry.LastSyncTime) {
		entry.EndTime = entry.LastSyncTime
	}
}

// Processes lists all real entries, exited ones included, ordered by
// pid then start time.
func (self *Tracker) Processes(ctx context.Context) []*ProcessEntry {
	result := []*ProcessEntry{}
	for _, key := range self.lookup.GetKeys() {
		entry, pres := self.getEntry(key)
		if !pres || entry.IsLink() {
			continue
		}

		self.maybeUpdateEndTime(entry)
		result = append(result, entry)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Pid != result[j].Pid {
			return result[i].Pid < result[j].Pid
		}
		return result[i].StartTime.Before(result[j].StartTime)
	})
	return result
}

// Children returns the recorded children of an id.
func (self *Tracker) Children(
	ctx context.Context, id string) []*ProcessEntry {
	entry, pres := self.Get(ctx, id)
	if !pres {
		return nil
	}

	result := []*ProcessEntry{}
	for _, child_id := range entry.Children {
		child, pres := self.Get(ctx, child_id)
		if pres {
			result = append(result, child)
		}
	}
	return result
}

// CallChain walks the parent edges from an id to the root and
// returns the chain oldest first. The walk stops at unknown parents
// and refuses cycles.
func (self *Tracker) CallChain(
	ctx context.Context, id string) []*ProcessEntry {
	result := []*ProcessEntry{}

	for len(result) < max_call_chain {
		entry, pres := self.Get(ctx, id)
		if !pres {
			break
		}

		// Copy so callers can not disturb the cached entry.
		entry_copy := *entry
		result = append(result, &entry_copy)

		if entry.ParentId == "" || id_seen(entry.ParentId, result) {
			break
		}
		id = entry.ParentId
	}

	return reverse(result)
}

func (self *Tracker) Stats() ttlcache.Metrics {
	return self.lookup.GetMetrics()
}

// Updates returns the notification channel, creating it on first
// use. Listeners must drain it promptly, the tracker drops updates
// rather than block on them.
func (self *Tracker) Updates() chan *Update {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.update_notifications == nil {
		self.update_notifications = make(chan *Update)
	}

	return self.update_notifications
}

func (self *Tracker) maybeSendUpdate(update *Update) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.update_notifications == nil {
		return
	}

	// Never block, the model must keep moving.
	select {
	case self.update_notifications <- update:
	default:
	}
}

func (self *Tracker) addChildIdToParent(child_id, parent_id string) {
	parent, pres := self.getEntry(parent_id)
	if !pres || parent.IsLink() {
		return
	}

	if parent.AddChild(child_id, self.max_children) {
		_ = self.lookup.Set(parent.Id, parent)
	}
}

func id_seen(id string, entries []*ProcessEntry) bool {
	for _, entry := range entries {
		if entry.Id == id {
			return true
		}
	}
	return false
}

func reverse(entries []*ProcessEntry) []*ProcessEntry {
	result := make([]*ProcessEntry, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		result = append(result, entries[i])
	}
	return result
}
