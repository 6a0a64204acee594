// Package kernel implements the task table, priority scheduler, and
// syscall dispatcher spec.md section 4.9 describes: a small fixed TCB
// table, a lowest-priority-number-wins scheduler driven by an external
// tick, and a handler table indexed by the stable syscall numbers
// section 6 lists. internal/loader populates a TCB's entry/stack/layout
// fields once a .mimi image has been placed in memory; this package
// owns the table itself and everything that runs after that.
//
// Grounded on internal/arena's Pool: a mutex-guarded slice of slots,
// linear "first free slot" allocation, and owner-tagged teardown — the
// same slot-table shape the teacher's register_allocator.go uses for
// its own linear-scan allocation, just with TCBs in place of registers.
package kernel

import (
	"sort"
	"sync"

	"github.com/mimic/mimic/internal/arena"
	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/fat32"
)

// State is one of a TCB's lifecycle states, per spec.md section 3.
type State uint8

const (
	StateFree State = iota
	StateReady
	StateRunning
	StateBlocked
	StateSleeping
	StateZombie
)

func (s State) String() string {
	switch s {
	case StateFree:
		return "FREE"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateBlocked:
		return "BLOCKED"
	case StateSleeping:
		return "SLEEPING"
	case StateZombie:
		return "ZOMBIE"
	default:
		return "UNKNOWN"
	}
}

// IdlePriority is the numerically-lowest-wins scheduler's worst priority,
// reserved for slot 0 (spec.md section 4.9: "slot 0 is the idle/kernel
// task ... and is never suspended").
const IdlePriority = 255

// IdleSlot is the fixed slot index of the idle task.
const IdleSlot = 0

// MaxTasks is the default TCB table size; spec.md section 4.9 calls for
// "a small limit (8-16)". internal/config.Config.MaxTasks may override
// this at New.
const MaxTasks = 16

// Layout mirrors spec.md section 3's Task memory layout: every field is
// an offset from the task's arena base, not an absolute address.
type Layout struct {
	TextStart, TextSize     uint32
	RodataStart, RodataSize uint32
	DataStart, DataSize     uint32
	BSSStart, BSSSize       uint32
	HeapStart, HeapSize     uint32
	HeapUsed                uint32
	StackTop, StackSize     uint32
}

// TCB is one Task Control Block, per spec.md section 3.
type TCB struct {
	ID       int
	Name     string
	State    State
	Priority uint8

	Base       uint32
	EntryAddr  uint32
	Layout     Layout
	SP         uint32
	SavedRegs  [13]uint32 // r0-r12; r13(sp)/r14(lr)/r15(pc) are tracked separately

	WakeTimeMS  uint64
	CPUTimeMS   uint64
	ContextSwitches uint64
}

// Kernel owns the TCB table, the arena allocator tasks are carved from,
// and the syscall dispatch table.
type Kernel struct {
	mu    sync.Mutex
	tasks []TCB

	Arena *arena.Allocator

	currentTask     int
	nowMS           uint64
	preempt         bool
	syscallsHandled uint64

	handlers map[uint8]Handler
	volume   *fat32.Volume
	memory   Memory
	console  Console
	platform Platform
	files    fileTable
}

// New builds a Kernel with maxTasks slots (slot 0 pre-initialized as the
// idle task) backed by alloc.
func New(alloc *arena.Allocator, maxTasks int) *Kernel {
	if maxTasks <= 0 {
		maxTasks = MaxTasks
	}
	k := &Kernel{
		tasks:    make([]TCB, maxTasks),
		Arena:    alloc,
		handlers: make(map[uint8]Handler),
	}
	for i := range k.tasks {
		k.tasks[i] = TCB{ID: i, State: StateFree}
	}
	k.tasks[IdleSlot] = TCB{ID: IdleSlot, Name: "idle", State: StateReady, Priority: IdlePriority}
	k.currentTask = IdleSlot
	k.registerDefaultHandlers()
	return k
}

// AllocTask implements spec.md section 4.9's task_alloc: the first FREE
// slot (other than the reserved idle slot) is zeroed, marked BLOCKED
// (per section 4.8 step 2 — "the loader is populating it"), and
// returned. Returns errs.NOMEM if the table is full.
func (k *Kernel) AllocTask() (*TCB, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i := 1; i < len(k.tasks); i++ {
		if k.tasks[i].State == StateFree {
			k.tasks[i] = TCB{ID: i, State: StateBlocked}
			return &k.tasks[i], nil
		}
	}
	return nil, errs.New(errs.NOMEM, "task table full (%d slots)", len(k.tasks))
}

// Task returns a pointer to the live TCB at id, or nil if id is out of
// range.
func (k *Kernel) Task(id int) *TCB {
	k.mu.Lock()
	defer k.mu.Unlock()
	if id < 0 || id >= len(k.tasks) {
		return nil
	}
	return &k.tasks[id]
}

// Tasks returns a snapshot of every non-FREE TCB, ordered by id, for
// list_tasks().
func (k *Kernel) Tasks() []TCB {
	k.mu.Lock()
	defer k.mu.Unlock()
	out := make([]TCB, 0, len(k.tasks))
	for _, t := range k.tasks {
		if t.State != StateFree {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// MarkReady transitions a freshly-loaded TCB to READY once the loader
// has set its entry address and stack pointer (spec.md section 4.8
// step 7).
func (k *Kernel) MarkReady(id int) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if id < 0 || id >= len(k.tasks) {
		return
	}
	k.tasks[id].State = StateReady
}

// TeardownTask returns a partially-loaded task to FREE without running
// it, per spec.md section 4.8's "partially built task is torn down
// before the error is returned" diagnostic policy.
func (k *Kernel) TeardownTask(id int) {
	k.Arena.FreeAll(id)
	k.mu.Lock()
	defer k.mu.Unlock()
	if id < 0 || id >= len(k.tasks) {
		return
	}
	k.tasks[id] = TCB{ID: id, State: StateFree}
}

// CurrentTask returns the id of the task the scheduler last picked.
func (k *Kernel) CurrentTask() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.currentTask
}

// NowMS returns the kernel's uptime clock, advanced only by Tick — this
// is the value syscall 3 (TIME) reads.
func (k *Kernel) NowMS() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.nowMS
}

// Tick advances the kernel clock by deltaMS, wakes any SLEEPING task
// whose wake time has arrived, and reschedules, per spec.md section
// 4.9's scheduling algorithm.
func (k *Kernel) Tick(deltaMS uint64) {
	k.mu.Lock()
	k.nowMS += deltaMS
	for i := range k.tasks {
		t := &k.tasks[i]
		if t.State == StateSleeping && k.nowMS >= t.WakeTimeMS {
			t.State = StateReady
		}
	}
	k.mu.Unlock()
	k.reschedule()
}

// reschedule picks the READY task with the numerically lowest priority
// (ties broken by slot order) and performs the context switch
// bookkeeping spec.md section 4.9 describes.
func (k *Kernel) reschedule() {
	k.mu.Lock()
	defer k.mu.Unlock()

	best := -1
	for i := range k.tasks {
		t := &k.tasks[i]
		if t.State != StateReady {
			continue
		}
		if best == -1 || t.Priority < k.tasks[best].Priority {
			best = i
		}
	}
	if best == -1 {
		best = IdleSlot
		if k.tasks[IdleSlot].State != StateRunning {
			k.tasks[IdleSlot].State = StateReady
		}
	}

	k.preempt = false
	if best == k.currentTask {
		return
	}
	if k.tasks[k.currentTask].State == StateRunning {
		k.tasks[k.currentTask].State = StateReady
	}
	k.tasks[best].State = StateRunning
	k.tasks[best].ContextSwitches++
	k.currentTask = best
}

// Sleep implements spec.md section 4.9's SLEEP: slot 0 refuses to
// sleep (it is never suspended); otherwise the task is parked until
// now+ms and a reschedule is forced.
func (k *Kernel) Sleep(taskID int, ms uint64) error {
	k.mu.Lock()
	if taskID == IdleSlot {
		k.mu.Unlock()
		return errs.New(errs.PERM, "the idle task cannot sleep")
	}
	if taskID < 0 || taskID >= len(k.tasks) {
		k.mu.Unlock()
		return errs.New(errs.INVAL, "invalid task id %d", taskID)
	}
	k.tasks[taskID].WakeTimeMS = k.nowMS + ms
	k.tasks[taskID].State = StateSleeping
	k.mu.Unlock()
	k.reschedule()
	return nil
}

// Yield implements spec.md section 4.9's YIELD: sets preempt_pending and
// calls the scheduler immediately.
func (k *Kernel) Yield() {
	k.mu.Lock()
	k.preempt = true
	k.mu.Unlock()
	k.reschedule()
}

// Exit implements spec.md section 4.9's exit/kill: the task is marked
// ZOMBIE, every arena block it owns is freed, and its slot returns to
// FREE, decrementing the live task count implicitly (FREE slots are not
// counted by Tasks()).
func (k *Kernel) Exit(taskID int) {
	if taskID == IdleSlot {
		return
	}
	k.mu.Lock()
	if taskID < 0 || taskID >= len(k.tasks) || k.tasks[taskID].State == StateFree {
		k.mu.Unlock()
		return
	}
	k.tasks[taskID].State = StateZombie
	k.mu.Unlock()

	k.Arena.FreeAll(taskID)

	k.mu.Lock()
	k.tasks[taskID] = TCB{ID: taskID, State: StateFree}
	k.mu.Unlock()

	k.reschedule()
}

// Kill is an external request to terminate a task (the CLI's kill
// command); it is identical to Exit from the scheduler's point of view.
func (k *Kernel) Kill(taskID int) error {
	if taskID == IdleSlot {
		return errs.New(errs.PERM, "the idle task cannot be killed")
	}
	t := k.Task(taskID)
	if t == nil || t.State == StateFree {
		return errs.New(errs.NOENT, "no such task %d", taskID)
	}
	k.Exit(taskID)
	return nil
}

// SyscallsHandled reports the running count of dispatched syscalls.
func (k *Kernel) SyscallsHandled() uint64 {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.syscallsHandled
}
