package shell_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/jacobsa/sysprog/shell"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

func TestShell(t *testing.T) { RunTests(t) }

type ShellTest struct {
	ex  *shell.Executor
	out bytes.Buffer
	err bytes.Buffer
}

func init() { RegisterTestSuite(&ShellTest{}) }

func (t *ShellTest) SetUp(ti *TestInfo) {
	t.out.Reset()
	t.err.Reset()
	t.ex = &shell.Executor{Stdin: bytes.NewReader(nil), Stdout: &t.out, Stderr: &t.err}
}

func (t *ShellTest) run(line string) (int, bool) {
	cl, err := shell.Parse(line)
	AssertEq(nil, err)
	code, exit, err := t.ex.Run(context.Background(), cl)
	AssertEq(nil, err)
	return code, exit
}

func (t *ShellTest) TestSimpleCommandWritesToStdout() {
	code, exit := t.run("echo hello")
	ExpectEq(0, code)
	ExpectFalse(exit)
	ExpectEq("hello\n", t.out.String())
}

func (t *ShellTest) TestPipelineFeedsStdoutIntoNextStdin() {
	code, _ := t.run("echo hello world | wc -w")
	ExpectEq(0, code)
	ExpectEq("2\n", t.out.String())
}

func (t *ShellTest) TestAndShortCircuitsOnFailure() {
	code, _ := t.run("false && echo should-not-print")
	ExpectNe(0, code)
	ExpectEq("", t.out.String())
}

func (t *ShellTest) TestOrRunsOnlyAfterFailure() {
	code, _ := t.run("false || echo fallback")
	ExpectEq(0, code)
	ExpectEq("fallback\n", t.out.String())
}

func (t *ShellTest) TestExitBuiltinSignalsCaller() {
	code, exit := t.run("exit 7")
	ExpectEq(7, code)
	ExpectTrue(exit)
}

func (t *ShellTest) TestCdBuiltinChangesDirectoryForLaterCommands() {
	tmp := t.TempDir()
	sub := filepath.Join(tmp, "child")
	AssertEq(nil, os.Mkdir(sub, 0755))

	_, _ = t.run("cd " + sub)
	code, _ := t.run("pwd")
	ExpectEq(0, code)
	ExpectEq(sub+"\n", t.out.String())
}

func (t *ShellTest) TestRedirectToFileTruncatesThenWrites() {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "out.txt")

	_, _ = t.run("echo first > " + path)
	_, _ = t.run("echo second > " + path)

	data, err := os.ReadFile(path)
	AssertEq(nil, err)
	ExpectEq("second\n", string(data))
}

func (t *ShellTest) TestRedirectAppendKeepsPriorContent() {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "out.txt")

	_, _ = t.run("echo first > " + path)
	_, _ = t.run("echo second >> " + path)

	data, err := os.ReadFile(path)
	AssertEq(nil, err)
	ExpectEq("first\nsecond\n", string(data))
}

func (t *ShellTest) TestRedirectIsScopedToItsOwnSegment() {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "out.txt")

	code, _ := t.run("echo x > " + path + " && cat " + path)
	ExpectEq(0, code)
	ExpectEq("x\n", t.out.String())
}

func (t *ShellTest) TestParseRejectsUnterminatedQuote() {
	_, err := shell.Parse(`echo "unterminated`)
	ExpectThat(err, Error(HasSubstr("unterminated")))
}

func (t *ShellTest) TestParseRejectsEmptyPipelineStage() {
	_, err := shell.Parse("echo hi | | wc -l")
	ExpectThat(err, Error(HasSubstr("empty command")))
}

// TempDir is a small ogletest-friendly analogue of testing.T.TempDir, since
// suite methods here don't carry a *testing.T.
func (t *ShellTest) TempDir() string {
	dir, err := os.MkdirTemp("", "shell_test")
	AssertEq(nil, err)
	return dir
}
