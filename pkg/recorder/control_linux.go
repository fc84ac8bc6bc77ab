package recorder

import (
	"os"

	"golang.org/x/sys/unix"
)

const maxControlMsg = 64 * 1024

// controlChannel is the socket pair shared with the tracee. The remote
// end becomes launcher.ControlFD in the tracee; a goroutine reads the
// local end and hands the messages to the capture loop.
type controlChannel struct {
	local  *os.File
	remote *os.File
	msgs   chan controlMsg
}

func newControlChannel() (*controlChannel, error) {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}

	return &controlChannel{
		local:  os.NewFile(uintptr(fds[0]), "emd-control"),
		remote: os.NewFile(uintptr(fds[1]), "emd-control-tracee"),
		msgs:   make(chan controlMsg, 256),
	}, nil
}

func (c *controlChannel) start() {
	go func() {
		defer close(c.msgs)

		buf := make([]byte, maxControlMsg)
		for {
			n, err := c.local.Read(buf)
			if err != nil || n == 0 {
				return
			}

			msg, err := parseControlMsg(buf[:n])
			if err != nil {
				logger().WithError(err).Debug("control socket")
				continue
			}

			c.msgs <- msg
		}
	}()
}

// closeRemote drops the recorder copy of the tracee end once the tracee holds it.
func (c *controlChannel) closeRemote() {
	if c.remote != nil {
		c.remote.Close()
		c.remote = nil
	}
}

// pending returns the messages received so far without blocking.
func (c *controlChannel) pending() []controlMsg {
	var out []controlMsg
	for {
		select {
		case msg, ok := <-c.msgs:
			if !ok {
				return out
			}
			out = append(out, msg)
		default:
			return out
		}
	}
}

func (c *controlChannel) Close() {
	c.closeRemote()
	unix.Shutdown(int(c.local.Fd()), unix.SHUT_RDWR)
	c.local.Close()
}
