package shell

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/jacobsa/reqtrace"
)

// Executor runs parsed CommandLines: it wires os/exec pipelines between
// pipeline stages, short-circuits on "&&"/"||", redirects final stdout,
// and runs backgrounded lines without waiting for them.
type Executor struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	mu  sync.Mutex
	dir string // working directory for spawned commands; "" means inherit
}

// NewExecutor creates an Executor wired to the process's own stdio.
func NewExecutor() *Executor {
	return &Executor{Stdin: os.Stdin, Stdout: os.Stdout, Stderr: os.Stderr}
}

// Run executes line's &&/||-joined segments in order, returning the exit
// code of the last segment run and whether an "exit" builtin fired. A
// backgrounded line runs in its own goroutine and Run returns immediately
// with code 0.
func (ex *Executor) Run(ctx context.Context, line *CommandLine) (code int, shouldExit bool, err error) {
	if len(line.Exprs) == 0 {
		return 0, false, nil
	}

	if line.Background {
		bg := *line
		bg.Background = false
		go func() {
			if _, _, bgErr := ex.Run(ctx, &bg); bgErr != nil {
				fmt.Fprintln(ex.Stderr, bgErr)
			}
		}()
		return 0, false, nil
	}

	ctx, report := reqtrace.StartSpan(ctx, "shell.CommandLine")
	defer func() { report(err) }()

	i := 0
	for i < len(line.Exprs) {
		segEnd := i
		for segEnd < len(line.Exprs) &&
			line.Exprs[segEnd].Type != ExprAnd &&
			line.Exprs[segEnd].Type != ExprOr {
			segEnd++
		}

		code, shouldExit, err = ex.runSegment(ctx, line.Exprs[i:segEnd])
		if err != nil || shouldExit {
			return
		}

		if segEnd == len(line.Exprs) {
			break
		}

		op := line.Exprs[segEnd].Type
		i = segEnd + 1
		if op == ExprAnd && code != 0 {
			break
		}
		if op == ExprOr && code == 0 {
			break
		}
	}
	return
}

// runSegment runs one pipe-joined run of commands -- the part of a
// CommandLine between two &&/|| connectors (or the line's ends) -- along
// with whatever ExprRedirect appears in it. A redirect is scoped to its own
// segment: it never leaks to a later "&&"/"||" segment's stdout.
func (ex *Executor) runSegment(ctx context.Context, exprs []Expr) (int, bool, error) {
	var cmds []Command
	outType, outFile := OutputStdout, ""
	for _, e := range exprs {
		switch e.Type {
		case ExprCommand:
			cmds = append(cmds, e.Cmd)
		case ExprRedirect:
			outType, outFile = e.OutputType, e.OutputFile
		}
	}
	if len(cmds) == 0 {
		return 0, false, nil
	}

	if len(cmds) == 1 {
		switch cmds[0].Exe {
		case "cd":
			return ex.builtinCd(cmds[0])
		case "exit":
			return ex.builtinExit(cmds[0])
		}
	}

	return ex.runPipeline(ctx, cmds, outType, outFile)
}

func (ex *Executor) builtinCd(cmd Command) (int, bool, error) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	dir := "."
	if len(cmd.Args) > 1 {
		dir = cmd.Args[1]
	}
	if !filepath.IsAbs(dir) {
		base := ex.dir
		if base == "" {
			var err error
			base, err = os.Getwd()
			if err != nil {
				return 1, false, err
			}
		}
		dir = filepath.Join(base, dir)
	}

	info, err := os.Stat(dir)
	if err != nil {
		fmt.Fprintf(ex.Stderr, "cd: %v\n", err)
		return 1, false, nil
	}
	if !info.IsDir() {
		fmt.Fprintf(ex.Stderr, "cd: %s: not a directory\n", dir)
		return 1, false, nil
	}

	ex.dir = dir
	return 0, false, nil
}

func (ex *Executor) builtinExit(cmd Command) (int, bool, error) {
	code := 0
	if len(cmd.Args) > 1 {
		if n, err := strconv.Atoi(cmd.Args[1]); err == nil {
			code = n
		}
	}
	return code, true, nil
}

func (ex *Executor) runPipeline(ctx context.Context, cmds []Command, outType OutputType, outFile string) (code int, shouldExit bool, err error) {
	ex.mu.Lock()
	dir := ex.dir
	ex.mu.Unlock()

	procs := make([]*exec.Cmd, len(cmds))
	for i, c := range cmds {
		procs[i] = exec.CommandContext(ctx, c.Exe, c.Args[1:]...)
		procs[i].Dir = dir
		procs[i].Stderr = ex.Stderr
	}
	procs[0].Stdin = ex.Stdin

	for i := 0; i < len(procs)-1; i++ {
		pipe, perr := procs[i].StdoutPipe()
		if perr != nil {
			return 1, false, fmt.Errorf("shell: wiring pipeline: %w", perr)
		}
		procs[i+1].Stdin = pipe
	}

	out, closeOut, outErr := ex.openOutput(outType, outFile)
	if outErr != nil {
		return 1, false, outErr
	}
	if closeOut != nil {
		defer closeOut()
	}
	procs[len(procs)-1].Stdout = out

	for _, p := range procs {
		if startErr := p.Start(); startErr != nil {
			return 1, false, fmt.Errorf("shell: starting %s: %w", p.Path, startErr)
		}
	}

	for _, p := range procs {
		waitErr := p.Wait()
		if waitErr == nil {
			code = 0
			continue
		}
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
			continue
		}
		return 1, false, fmt.Errorf("shell: running %s: %w", p.Path, waitErr)
	}

	return code, false, nil
}

func (ex *Executor) openOutput(outType OutputType, outFile string) (io.Writer, func(), error) {
	switch outType {
	case OutputStdout:
		return ex.Stdout, nil, nil

	case OutputFileNew, OutputFileAppend:
		flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if outType == OutputFileAppend {
			flags = os.O_WRONLY | os.O_CREATE | os.O_APPEND
		}
		f, err := os.OpenFile(outFile, flags, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("shell: opening %s: %w", outFile, err)
		}
		return f, func() { f.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("shell: unknown output type %d", outType)
	}
}
