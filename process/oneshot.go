package process

import "sync"

// OneshotScope batches attribute reads on one process. While a scope
// is open the backend parks its raw per process query products (the
// stat line, the kinfo_proc struct and so on) in the handle, so
// reading N attributes costs one kernel query instead of N.
//
// Scopes nest: the cache lives until the outermost scope closes.
// Close is idempotent. Data cached in a scope can go stale against
// the live process, which is the point of the scope: all reads
// inside it describe the same instant. Callers that share a handle
// between goroutines should not hold a scope open at the same time.
type OneshotScope struct {
	mu     sync.Mutex
	proc   *Process
	closed bool
}

// Oneshot opens a caching scope on the handle:
//
//	scope := proc.Oneshot()
//	defer scope.Close()
func (self *Process) Oneshot() *OneshotScope {
	self.mu.Lock()
	defer self.mu.Unlock()

	self.oneshot_refs++
	if self.cache == nil {
		self.cache = make(map[string]interface{})
	}
	return &OneshotScope{proc: self}
}

func (self *OneshotScope) Close() {
	self.mu.Lock()
	if self.closed {
		self.mu.Unlock()
		return
	}
	self.closed = true
	self.mu.Unlock()

	proc := self.proc
	proc.mu.Lock()
	defer proc.mu.Unlock()

	proc.oneshot_refs--
	if proc.oneshot_refs == 0 {
		proc.cache = nil
	}
}

// cacheGet consults the oneshot cache. Outside a scope it always
// misses, which makes every read hit the kernel fresh.
func (self *Process) cacheGet(key string) (interface{}, bool) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.oneshot_refs == 0 {
		return nil, false
	}
	value, pres := self.cache[key]
	return value, pres
}

// cacheSet records a query product. Outside a scope it is a no-op so
// nothing sticks to the handle by accident.
func (self *Process) cacheSet(key string, value interface{}) {
	self.mu.Lock()
	defer self.mu.Unlock()

	if self.oneshot_refs == 0 {
		return
	}
	self.cache[key] = value
}
