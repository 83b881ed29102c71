package docker

import (
	"bytes"
	"context"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
)

// ExecResult captures a finished non-interactive exec.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// RunExec runs a command inside a container, feeding stdin when provided,
// and waits for it to finish.
func (c *Client) RunExec(ctx context.Context, id string, cmd []string, env []string, stdin []byte) (ExecResult, error) {
	opts := container.ExecOptions{
		Cmd:          cmd,
		Env:          env,
		AttachStdout: true,
		AttachStderr: true,
		AttachStdin:  len(stdin) > 0,
	}
	created, err := c.inner.ContainerExecCreate(ctx, id, opts)
	if err != nil {
		return ExecResult{}, classify("create exec", err)
	}

	attach, err := c.inner.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return ExecResult{}, classify("attach exec", err)
	}
	defer attach.Close()

	if len(stdin) > 0 {
		if _, err := attach.Conn.Write(stdin); err != nil {
			return ExecResult{}, classify("write exec stdin", err)
		}
		if err := attach.CloseWrite(); err != nil {
			return ExecResult{}, classify("close exec stdin", err)
		}
	}

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, attach.Reader); err != nil {
		return ExecResult{}, classify("read exec output", err)
	}

	inspect, err := c.inner.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return ExecResult{}, classify("inspect exec", err)
	}
	return ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}, nil
}

// CreateExec creates an exec instance without starting it. Interactive
// sessions attach separately so the caller owns the hijacked connection.
func (c *Client) CreateExec(ctx context.Context, id string, cmd []string, tty, stdin bool) (string, error) {
	opts := container.ExecOptions{
		Cmd:          cmd,
		Tty:          tty,
		AttachStdin:  stdin,
		AttachStdout: true,
		AttachStderr: true,
	}
	created, err := c.inner.ContainerExecCreate(ctx, id, opts)
	if err != nil {
		return "", classify("create exec", err)
	}
	return created.ID, nil
}

// AttachExec starts the exec and hijacks its IO streams.
func (c *Client) AttachExec(ctx context.Context, execID string, tty bool) (types.HijackedResponse, error) {
	attach, err := c.inner.ContainerExecAttach(ctx, execID, container.ExecAttachOptions{Tty: tty})
	if err != nil {
		return types.HijackedResponse{}, classify("attach exec", err)
	}
	return attach, nil
}

// ResizeExec resizes the PTY of a running interactive exec.
func (c *Client) ResizeExec(ctx context.Context, execID string, cols, rows uint) error {
	err := c.inner.ContainerExecResize(ctx, execID, container.ResizeOptions{
		Width:  cols,
		Height: rows,
	})
	if err != nil {
		return classify("resize exec", err)
	}
	return nil
}

// InspectExecExit reports whether the exec is still running and, once
// finished, its exit code.
func (c *Client) InspectExecExit(ctx context.Context, execID string) (bool, int, error) {
	inspect, err := c.inner.ContainerExecInspect(ctx, execID)
	if err != nil {
		return false, 0, classify("inspect exec", err)
	}
	return inspect.Running, inspect.ExitCode, nil
}
