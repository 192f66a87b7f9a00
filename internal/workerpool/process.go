package workerpool

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// proc abstracts one spawned worker process so supervision logic can be
// tested against in-memory fakes.
type proc interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	PID() int
	Terminate() error
	Kill() error
	Done() <-chan error
}

// spawnFunc launches a worker process. Overridden in tests.
type spawnFunc func(name string) (proc, error)

type osProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.Reader
	done   chan error
}

func spawnProcess(binary string, args, env []string) (proc, error) {
	cmd := exec.Command(binary, args...) //nolint:gosec
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	var stderr tailBuffer
	cmd.Stderr = &stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", binary, err)
	}

	p := &osProc{cmd: cmd, stdin: stdin, stdout: stdout, done: make(chan error, 1)}
	go func() {
		err := cmd.Wait()
		if err != nil && stderr.Len() > 0 {
			err = fmt.Errorf("%w: %s", err, stderr.String())
		}
		p.done <- err
		close(p.done)
	}()
	return p, nil
}

func (p *osProc) Stdin() io.WriteCloser { return p.stdin }
func (p *osProc) Stdout() io.Reader     { return p.stdout }
func (p *osProc) PID() int              { return p.cmd.Process.Pid }
func (p *osProc) Done() <-chan error    { return p.done }

func (p *osProc) Terminate() error {
	return p.cmd.Process.Signal(syscall.SIGTERM)
}

func (p *osProc) Kill() error {
	return p.cmd.Process.Kill()
}

// tailBuffer keeps the last window of stderr for exit diagnostics.
type tailBuffer struct {
	buf []byte
}

const tailBufferSize = 4096

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.buf = append(t.buf, b...)
	if len(t.buf) > tailBufferSize {
		t.buf = t.buf[len(t.buf)-tailBufferSize:]
	}
	return len(b), nil
}

func (t *tailBuffer) Len() int       { return len(t.buf) }
func (t *tailBuffer) String() string { return string(t.buf) }
