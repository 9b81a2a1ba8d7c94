package manager

import (
	"sort"
	"sync"
	"time"

	"launchpad/types"
)

// Handle is the in-memory record of one supervised launch.
type Handle struct {
	ID        string
	Project   string
	StartedAt time.Time

	mu            sync.Mutex
	phase         types.Phase
	proc          Process
	stopRequested bool

	done chan struct{} // closed once the launch has ended
	once sync.Once
	exit types.ProcessExit
}

func newHandle(id, project string) *Handle {
	return &Handle{
		ID:        id,
		Project:   project,
		StartedAt: time.Now(),
		phase:     types.PhasePrepare,
		done:      make(chan struct{}),
	}
}

// Phase returns the phase currently executing.
func (h *Handle) Phase() types.Phase {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.phase
}

// StopRequested reports whether Terminate has been called on h.
func (h *Handle) StopRequested() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopRequested
}

// Done is closed when the launch has ended.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Exit returns the terminal result once Done is closed.
func (h *Handle) Exit() (types.ProcessExit, bool) {
	select {
	case <-h.done:
		return h.exit, true
	default:
		return types.ProcessExit{}, false
	}
}

func (h *Handle) finish(exit types.ProcessExit) bool {
	finished := false
	h.once.Do(func() {
		h.exit = exit
		close(h.done)
		finished = true
	})
	return finished
}

// StateManager tracks live handles and serialises lifecycle operations per
// project. Lock ordering: a project lock may be held while taking mu, never
// the reverse.
type StateManager struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex // Key: project name
	live  map[string]*Handle     // Key: project name
}

// NewStateManager creates an empty StateManager.
func NewStateManager() *StateManager {
	return &StateManager{
		locks: make(map[string]*sync.Mutex),
		live:  make(map[string]*Handle),
	}
}

// LockProject acquires the exclusive lifecycle lock for name and returns the
// unlock function.
func (sm *StateManager) LockProject(name string) func() {
	sm.mu.Lock()
	l, ok := sm.locks[name]
	if !ok {
		l = &sync.Mutex{}
		sm.locks[name] = l
	}
	sm.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// Live returns the live handle for name, if any.
func (sm *StateManager) Live(name string) (*Handle, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	h, ok := sm.live[name]
	return h, ok
}

// LiveProjects returns the names of projects with a live handle, sorted.
func (sm *StateManager) LiveProjects() []string {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	names := make([]string, 0, len(sm.live))
	for name := range sm.live {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (sm *StateManager) handles() []*Handle {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	hs := make([]*Handle, 0, len(sm.live))
	for _, h := range sm.live {
		hs = append(hs, h)
	}
	return hs
}

// register records h as the live handle of its project. It refuses to
// replace an existing one.
func (sm *StateManager) register(h *Handle) bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if _, exists := sm.live[h.Project]; exists {
		return false
	}
	sm.live[h.Project] = h
	return true
}

// remove drops h if it is still the live handle of its project.
func (sm *StateManager) remove(h *Handle) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if cur, ok := sm.live[h.Project]; ok && cur == h {
		delete(sm.live, h.Project)
	}
}
