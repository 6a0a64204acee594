package kernel

import (
	"github.com/mimic/mimic/internal/errs"
	"github.com/mimic/mimic/internal/fat32"
)

// Syscall numbers, per spec.md section 6's stable contract. Kept as
// their own named constants here (rather than imported from
// internal/codegen, which maps mnemonic names to these same numbers at
// compile time) because the two tables serve different moments: one
// resolves a call by source name before a program exists, the other
// dispatches a trapped SVC from a program already running.
const (
	SysExit    uint8 = 0
	SysYield   uint8 = 1
	SysSleep   uint8 = 2
	SysTime    uint8 = 3
	SysMalloc  uint8 = 10
	SysFree    uint8 = 11
	SysRealloc uint8 = 12
	SysOpen    uint8 = 20
	SysClose   uint8 = 21
	SysRead    uint8 = 22
	SysWrite   uint8 = 23
	SysSeek    uint8 = 24
	SysPutchar uint8 = 30
	SysGetchar uint8 = 31
	SysPuts    uint8 = 32
	SysGPIOInit uint8 = 40
	SysGPIODir  uint8 = 41
	SysGPIOPut  uint8 = 42
	SysGPIOGet  uint8 = 43
	SysGPIOPull uint8 = 44
	SysPWMInit     uint8 = 50
	SysPWMSetWrap  uint8 = 51
	SysPWMSetLevel uint8 = 52
	SysPWMEnable   uint8 = 53
	SysADCInit   uint8 = 60
	SysADCSelect uint8 = 61
	SysADCRead   uint8 = 62
	SysADCTemp   uint8 = 63
	SysSPIInit     uint8 = 70
	SysSPIWrite    uint8 = 71
	SysSPIRead     uint8 = 72
	SysSPITransfer uint8 = 73
	SysI2CInit  uint8 = 80
	SysI2CWrite uint8 = 81
	SysI2CRead  uint8 = 82
)

// Memory gives the syscall layer byte access into a task's arena block,
// since arguments like a PUTS string or a READ/WRITE buffer are
// task-relative addresses, not Go values. internal/loader's backing
// image (or a test double) implements this.
type Memory interface {
	ReadAt(addr uint32, buf []byte) error
	WriteAt(addr uint32, buf []byte) error
}

// Console is the platform stdio target for PUTCHAR/GETCHAR/PUTS,
// per spec.md section 4.9's "forward to platform stdio".
type Console interface {
	PutChar(c byte)
	GetChar() byte
	Puts(s string)
}

// Platform is the GPIO/PWM/ADC/SPI/I2C driver boundary spec.md section
// 4.9 calls "forward to platform driver layer". The host build (this
// module, run under `go test` or the mimic CLI) gets a no-op Platform; a real microcontroller build supplies one that
// touches actual peripheral registers. Kept as a single interface bundle
// rather than five, since one concrete platform always implements all
// five together.
type Platform interface {
	GPIOInit(pin uint32)
	GPIODir(pin uint32, output bool)
	GPIOPut(pin uint32, value bool)
	GPIOGet(pin uint32) bool
	GPIOPull(pin uint32, up bool)

	PWMInit(slice uint32)
	PWMSetWrap(slice, wrap uint32)
	PWMSetLevel(slice, level uint32)
	PWMEnable(slice uint32, enable bool)

	ADCInit(channel uint32)
	ADCSelect(channel uint32)
	ADCRead() uint16
	ADCTemp() uint16

	SPIInit(port uint32, baud uint32)
	SPIWrite(port uint32, buf []byte) int
	SPIRead(port uint32, buf []byte) int
	SPITransfer(port uint32, buf []byte) int

	I2CInit(port uint32, baud uint32)
	I2CWrite(port uint32, addr uint32, buf []byte) int
	I2CRead(port uint32, addr uint32, buf []byte) int
}

// NullPlatform is the no-op Platform the host build and tests use.
type NullPlatform struct{}

func (NullPlatform) GPIOInit(uint32)          {}
func (NullPlatform) GPIODir(uint32, bool)     {}
func (NullPlatform) GPIOPut(uint32, bool)     {}
func (NullPlatform) GPIOGet(uint32) bool      { return false }
func (NullPlatform) GPIOPull(uint32, bool)    {}
func (NullPlatform) PWMInit(uint32)           {}
func (NullPlatform) PWMSetWrap(uint32, uint32)  {}
func (NullPlatform) PWMSetLevel(uint32, uint32) {}
func (NullPlatform) PWMEnable(uint32, bool)     {}
func (NullPlatform) ADCInit(uint32)           {}
func (NullPlatform) ADCSelect(uint32)         {}
func (NullPlatform) ADCRead() uint16          { return 0 }
func (NullPlatform) ADCTemp() uint16          { return 0 }
func (NullPlatform) SPIInit(uint32, uint32)   {}
func (NullPlatform) SPIWrite(uint32, []byte) int    { return 0 }
func (NullPlatform) SPIRead(uint32, []byte) int     { return 0 }
func (NullPlatform) SPITransfer(uint32, []byte) int { return 0 }
func (NullPlatform) I2CInit(uint32, uint32)         {}
func (NullPlatform) I2CWrite(uint32, uint32, []byte) int { return 0 }
func (NullPlatform) I2CRead(uint32, uint32, []byte) int  { return 0 }

// bufConsole is the Console NewConsole builds: an in-process writer over
// plain byte callbacks. The kernel's default until SetConsole is
// NullConsole.
type bufConsole struct {
	out func(byte)
	in  func() byte
}

func (c bufConsole) PutChar(b byte) {
	if c.out != nil {
		c.out(b)
	}
}
func (c bufConsole) GetChar() byte {
	if c.in != nil {
		return c.in()
	}
	return 0
}
func (c bufConsole) Puts(s string) {
	for i := 0; i < len(s); i++ {
		c.PutChar(s[i])
	}
}

// NewConsole builds a Console from plain read/write callbacks, the shape
// cmd/mimic wires to os.Stdin/os.Stdout.
func NewConsole(out func(byte), in func() byte) Console {
	return bufConsole{out: out, in: in}
}

// Handler is one syscall's implementation: it receives the dispatching
// kernel, the calling task, and up to four raw argument words (r0-r3,
// per spec.md section 6), returning the i32 value placed back in r0.
type Handler func(k *Kernel, task *TCB, args [4]uint32) (int32, error)

// fileTable is a process-wide open-file table; spec.md's File handle
// model does not scope descriptors per task, so fd 0 here is the first
// ever opened, shared like the rest of this kernel's global tables.
type fileTable struct {
	handles map[int32]*fat32.Handle
	next    int32
}

// SetVolume attaches the FAT32 volume OPEN/READ/WRITE/SEEK/CLOSE
// operate against; with a nil volume OPEN fails NOSYS, matching a
// target with no block device attached, so no descriptor exists and
// READ/WRITE/SEEK/CLOSE fail INVAL.
func (k *Kernel) SetVolume(v *fat32.Volume) { k.volume = v }

// SetMemory attaches the byte-addressable view into task memory that
// MALLOC/FREE/REALLOC pointers and PUTS/READ/WRITE buffers are relative
// to.
func (k *Kernel) SetMemory(m Memory) { k.memory = m }

// SetConsole overrides the default no-op console.
func (k *Kernel) SetConsole(c Console) { k.console = c }

// SetPlatform overrides the default NullPlatform.
func (k *Kernel) SetPlatform(p Platform) { k.platform = p }

// Dispatch implements spec.md section 4.9's syscall dispatch: increments
// syscalls_handled, reads the caller's task id from current_task, looks
// up the handler table by number, and invokes it. Unknown numbers return
// NOT_IMPLEMENTED (NOSYS).
func (k *Kernel) Dispatch(num uint8, args [4]uint32) (int32, error) {
	k.mu.Lock()
	k.syscallsHandled++
	taskID := k.currentTask
	handler, ok := k.handlers[num]
	k.mu.Unlock()

	if !ok {
		return 0, errs.New(errs.NOSYS, "unimplemented syscall %d", num)
	}
	task := k.Task(taskID)
	if task == nil {
		return 0, errs.New(errs.INVAL, "no current task for syscall %d", num)
	}
	return handler(k, task, args)
}

func (k *Kernel) registerDefaultHandlers() {
	k.console = NullConsole{}
	k.platform = NullPlatform{}
	k.files = fileTable{handles: make(map[int32]*fat32.Handle)}

	k.handlers[SysExit] = handleExit
	k.handlers[SysYield] = handleYield
	k.handlers[SysSleep] = handleSleep
	k.handlers[SysTime] = handleTime
	k.handlers[SysMalloc] = handleMalloc
	k.handlers[SysFree] = handleFree
	k.handlers[SysRealloc] = handleRealloc
	k.handlers[SysOpen] = handleOpen
	k.handlers[SysClose] = handleClose
	k.handlers[SysRead] = handleRead
	k.handlers[SysWrite] = handleWrite
	k.handlers[SysSeek] = handleSeek
	k.handlers[SysPutchar] = handlePutchar
	k.handlers[SysGetchar] = handleGetchar
	k.handlers[SysPuts] = handlePuts
	k.handlers[SysGPIOInit] = gpioHandler(func(p Platform, pin uint32, _ uint32) { p.GPIOInit(pin) })
	k.handlers[SysGPIODir] = gpioHandler(func(p Platform, pin uint32, v uint32) { p.GPIODir(pin, v != 0) })
	k.handlers[SysGPIOPut] = gpioHandler(func(p Platform, pin uint32, v uint32) { p.GPIOPut(pin, v != 0) })
	k.handlers[SysGPIOGet] = func(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
		if k.platform.GPIOGet(args[0]) {
			return 1, nil
		}
		return 0, nil
	}
	k.handlers[SysGPIOPull] = gpioHandler(func(p Platform, pin uint32, v uint32) { p.GPIOPull(pin, v != 0) })
	k.handlers[SysPWMInit] = func(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
		k.platform.PWMInit(args[0])
		return 0, nil
	}
	k.handlers[SysPWMSetWrap] = func(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
		k.platform.PWMSetWrap(args[0], args[1])
		return 0, nil
	}
	k.handlers[SysPWMSetLevel] = func(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
		k.platform.PWMSetLevel(args[0], args[1])
		return 0, nil
	}
	k.handlers[SysPWMEnable] = gpioHandler(func(p Platform, slice uint32, v uint32) { p.PWMEnable(slice, v != 0) })
	k.handlers[SysADCInit] = func(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
		k.platform.ADCInit(args[0])
		return 0, nil
	}
	k.handlers[SysADCSelect] = func(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
		k.platform.ADCSelect(args[0])
		return 0, nil
	}
	k.handlers[SysADCRead] = func(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
		return int32(k.platform.ADCRead()), nil
	}
	k.handlers[SysADCTemp] = func(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
		return int32(k.platform.ADCTemp()), nil
	}
	k.handlers[SysSPIInit] = func(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
		k.platform.SPIInit(args[0], args[1])
		return 0, nil
	}
	k.handlers[SysSPIWrite] = spiHandler(Platform.SPIWrite)
	k.handlers[SysSPIRead] = spiHandler(Platform.SPIRead)
	k.handlers[SysSPITransfer] = spiHandler(Platform.SPITransfer)
	k.handlers[SysI2CInit] = func(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
		k.platform.I2CInit(args[0], args[1])
		return 0, nil
	}
	k.handlers[SysI2CWrite] = i2cHandler(Platform.I2CWrite)
	k.handlers[SysI2CRead] = i2cHandler(Platform.I2CRead)
}

// gpioHandler adapts a two-uint32-argument Platform method (pin/slice,
// value) into a Handler returning 0.
func gpioHandler(fn func(p Platform, a, b uint32)) Handler {
	return func(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
		fn(k.platform, args[0], args[1])
		return 0, nil
	}
}

// spiHandler adapts Platform.SPIWrite/SPIRead/SPITransfer: args are
// (port, buf_addr, n); the buffer is staged through k.memory.
func spiHandler(fn func(p Platform, port uint32, buf []byte) int) Handler {
	return func(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
		n := args[2]
		buf := make([]byte, n)
		if k.memory != nil {
			_ = k.memory.ReadAt(args[1], buf)
		}
		got := fn(k.platform, args[0], buf)
		if k.memory != nil {
			_ = k.memory.WriteAt(args[1], buf[:got])
		}
		return int32(got), nil
	}
}

// i2cHandler adapts Platform.I2CWrite/I2CRead: args are
// (port<<8|addr, buf_addr, n), per spec.md section 6's packed encoding.
func i2cHandler(fn func(p Platform, port, addr uint32, buf []byte) int) Handler {
	return func(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
		port := args[0] >> 8
		addr := args[0] & 0xFF
		n := args[2]
		buf := make([]byte, n)
		if k.memory != nil {
			_ = k.memory.ReadAt(args[1], buf)
		}
		got := fn(k.platform, port, addr, buf)
		if k.memory != nil {
			_ = k.memory.WriteAt(args[1], buf[:got])
		}
		return int32(got), nil
	}
}

func handleExit(k *Kernel, task *TCB, args [4]uint32) (int32, error) {
	k.Exit(task.ID)
	return int32(args[0]), nil
}

func handleYield(k *Kernel, _ *TCB, _ [4]uint32) (int32, error) {
	k.Yield()
	return 0, nil
}

func handleSleep(k *Kernel, task *TCB, args [4]uint32) (int32, error) {
	if err := k.Sleep(task.ID, uint64(args[0])); err != nil {
		return 0, err
	}
	return 0, nil
}

func handleTime(k *Kernel, _ *TCB, _ [4]uint32) (int32, error) {
	return int32(k.NowMS()), nil
}

func handleMalloc(k *Kernel, task *TCB, args [4]uint32) (int32, error) {
	addr, err := k.Arena.UserAlloc(task.ID, args[0])
	if err != nil {
		return 0, nil // spec.md section 6: MALLOC returns 0 on failure, not an error
	}
	return int32(addr), nil
}

func handleFree(k *Kernel, task *TCB, args [4]uint32) (int32, error) {
	k.Arena.UserFree(task.ID, args[0])
	return 0, nil
}

func handleRealloc(k *Kernel, task *TCB, args [4]uint32) (int32, error) {
	oldAddr, size := args[0], args[1]
	newAddr, oldSize, ok := k.Arena.UserRealloc(task.ID, oldAddr, size)
	if !ok {
		return 0, nil
	}
	// Only the allocate-copy-free path (both addresses nonzero) needs a
	// copy: a null old pointer behaved as plain Alloc, a zero size behaved
	// as plain Free, and neither moved any bytes.
	if oldAddr != 0 && newAddr != 0 && k.memory != nil {
		n := oldSize
		if size < n {
			n = size
		}
		if n > 0 {
			buf := make([]byte, n)
			if err := k.memory.ReadAt(oldAddr, buf); err != nil {
				return 0, err
			}
			if err := k.memory.WriteAt(newAddr, buf); err != nil {
				return 0, err
			}
		}
	}
	return int32(newAddr), nil
}

func handlePutchar(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
	k.console.PutChar(byte(args[0]))
	return int32(args[0]), nil
}

func handleGetchar(k *Kernel, _ *TCB, _ [4]uint32) (int32, error) {
	return int32(k.console.GetChar()), nil
}

func handlePuts(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
	if k.memory == nil {
		return 0, errs.New(errs.NOSYS, "no task memory attached")
	}
	var buf [256]byte
	n := 0
	for n < len(buf) {
		if err := k.memory.ReadAt(args[0]+uint32(n), buf[n:n+1]); err != nil {
			return 0, err
		}
		if buf[n] == 0 {
			break
		}
		n++
	}
	k.console.Puts(string(buf[:n]))
	return 0, nil
}

func handleOpen(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
	if k.volume == nil {
		return 0, errs.New(errs.NOSYS, "no volume mounted")
	}
	if k.memory == nil {
		return 0, errs.New(errs.NOSYS, "no task memory attached")
	}
	var buf [256]byte
	n := 0
	for n < len(buf) {
		if err := k.memory.ReadAt(args[0]+uint32(n), buf[n:n+1]); err != nil {
			return 0, err
		}
		if buf[n] == 0 {
			break
		}
		n++
	}
	mode := fat32.Mode(args[1])
	h, err := k.volume.Open(string(buf[:n]), mode)
	if err != nil {
		return 0, err
	}
	k.mu.Lock()
	fd := k.files.next
	k.files.next++
	k.files.handles[fd] = h
	k.mu.Unlock()
	return fd, nil
}

func handleClose(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
	fd := int32(args[0])
	k.mu.Lock()
	h, ok := k.files.handles[fd]
	delete(k.files.handles, fd)
	k.mu.Unlock()
	if !ok {
		return 0, errs.New(errs.INVAL, "bad file descriptor %d", fd)
	}
	if err := h.Close(); err != nil {
		return 0, err
	}
	return 0, nil
}

func handleRead(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
	h, err := k.lookupFD(int32(args[0]))
	if err != nil {
		return 0, err
	}
	buf := make([]byte, args[2])
	n, err := h.Read(buf)
	if err != nil {
		return 0, err
	}
	if k.memory != nil {
		if err := k.memory.WriteAt(args[1], buf[:n]); err != nil {
			return 0, err
		}
	}
	return int32(n), nil
}

func handleWrite(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
	h, err := k.lookupFD(int32(args[0]))
	if err != nil {
		return 0, err
	}
	buf := make([]byte, args[2])
	if k.memory != nil {
		if err := k.memory.ReadAt(args[1], buf); err != nil {
			return 0, err
		}
	}
	n, err := h.Write(buf)
	if err != nil {
		return 0, err
	}
	return int32(n), nil
}

func handleSeek(k *Kernel, _ *TCB, args [4]uint32) (int32, error) {
	h, err := k.lookupFD(int32(args[0]))
	if err != nil {
		return 0, err
	}
	if err := h.Seek(int64(int32(args[1])), int(args[2])); err != nil {
		return 0, err
	}
	return 0, nil
}

func (k *Kernel) lookupFD(fd int32) (*fat32.Handle, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	h, ok := k.files.handles[fd]
	if !ok {
		return nil, errs.New(errs.INVAL, "bad file descriptor %d", fd)
	}
	return h, nil
}

// NullConsole discards PUTCHAR/PUTS and returns 0 for GETCHAR; used
// until SetConsole wires up the real terminal.
type NullConsole struct{}

func (NullConsole) PutChar(byte)  {}
func (NullConsole) GetChar() byte { return 0 }
func (NullConsole) Puts(string)   {}
