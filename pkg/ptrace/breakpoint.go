//go:build linux

package ptrace

import (
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/slimtoolkit/emd/pkg/system"
	"github.com/slimtoolkit/emd/pkg/waitstatus"
)

type Breakpoint struct {
	Addr uint64
	Name string
	// original instruction bytes under the trap
	orig []byte
}

func (b *Breakpoint) String() string {
	return fmt.Sprintf("{address: %#x (func %v)}", b.Addr, b.Name)
}

// Breakpoints are the software breakpoints of one address space.
type Breakpoints struct {
	regs   system.RegLayout
	byAddr map[uint64]*Breakpoint
}

func NewBreakpoints(regs system.RegLayout) *Breakpoints {
	return &Breakpoints{regs: regs, byAddr: map[uint64]*Breakpoint{}}
}

func (bs *Breakpoints) Len() int {
	return len(bs.byAddr)
}

// Insert writes a trap instruction at addr.
func (bs *Breakpoints) Insert(tid int, addr uint64, name string) error {
	if _, ok := bs.byAddr[addr]; ok {
		return nil
	}

	orig := make([]byte, len(trapCode))
	if _, err := PeekData(tid, addr, orig); err != nil {
		return errors.Wrapf(err, "breakpoint at %#x (%s)", addr, name)
	}

	if _, err := PokeData(tid, addr, trapCode); err != nil {
		return errors.Wrapf(err, "breakpoint at %#x (%s)", addr, name)
	}

	bs.byAddr[addr] = &Breakpoint{Addr: addr, Name: name, orig: orig}
	return nil
}

// Hit returns the breakpoint a SIGTRAP stop with regs was caused by.
func (bs *Breakpoints) Hit(regs []uint64) (*Breakpoint, bool) {
	bp, ok := bs.byAddr[bs.regs.PCValue(regs)-trapPCOffset]
	return bp, ok
}

// StepOver executes the original instruction under bp and puts the trap
// back. tid must be stopped on bp with regs. On return tid is stopped again.
func (bs *Breakpoints) StepOver(tid int, bp *Breakpoint, regs []uint64) error {
	if _, err := PokeData(tid, bp.Addr, bp.orig); err != nil {
		return err
	}

	regs[bs.regs.PC] = bp.Addr
	if err := SetRegs(tid, regs); err != nil {
		return err
	}

	if err := SingleStep(tid); err != nil {
		return err
	}

	for {
		_, ws, err := Wait(tid)
		if err != nil {
			return callError("wait4", tid, err)
		}

		if ws.StopSig() == int(unix.SIGTRAP) {
			break
		}

		if t := ws.Type(); t == waitstatus.Exit || t == waitstatus.FatalSignal {
			// gone, nothing to restore
			delete(bs.byAddr, bp.Addr)
			return nil
		}

		log.Debugf("ptrace.Breakpoints.StepOver: tid=%d unexpected stop %v, stepping again", tid, ws)
		if err := SingleStep(tid); err != nil {
			return err
		}
	}

	_, err := PokeData(tid, bp.Addr, trapCode)
	return err
}

// Clear restores every original instruction, as needed before a detach.
func (bs *Breakpoints) Clear(tid int) {
	for addr, bp := range bs.byAddr {
		if _, err := PokeData(tid, addr, bp.orig); err != nil {
			log.WithError(err).Debugf("ptrace.Breakpoints.Clear: %v", bp)
		}
		delete(bs.byAddr, addr)
	}
}

// Forget drops all breakpoints without touching memory, as after an exec.
func (bs *Breakpoints) Forget() {
	bs.byAddr = map[uint64]*Breakpoint{}
}
