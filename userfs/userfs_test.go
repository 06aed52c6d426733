package userfs_test

import (
	"bytes"
	"testing"

	"github.com/jacobsa/sysprog/userfs"

	"github.com/kylelemons/godebug/pretty"
	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

func TestUserFS(t *testing.T) { RunTests(t) }

type UserFSTest struct {
	fs *userfs.FS
}

func init() { RegisterTestSuite(&UserFSTest{}) }

func (t *UserFSTest) SetUp(ti *TestInfo) {
	t.fs = userfs.New()
}

func (t *UserFSTest) TestRoundTripVariousSizes() {
	for _, n := range []int{0, 1, 511, 512, 513, userfs.MaxFileSize} {
		name := "f"
		fd, err := t.fs.Open(name, userfs.Create)
		AssertEq(nil, err)

		want := bytes.Repeat([]byte{'x'}, n)
		written, err := t.fs.Write(fd, want)
		AssertEq(nil, err)
		AssertEq(n, written)
		AssertEq(nil, t.fs.Close(fd))

		fd, err = t.fs.Open(name, 0)
		AssertEq(nil, err)
		got := make([]byte, n)
		read, err := t.fs.Read(fd, got)
		AssertEq(nil, err)
		AssertEq(n, read)
		ExpectEq("", pretty.Compare(want, got))
		AssertEq(nil, t.fs.Close(fd))
		AssertEq(nil, t.fs.Delete(name))
	}
}

func (t *UserFSTest) TestWritePastMaxFileSizeFails() {
	fd, err := t.fs.Open("big", userfs.Create)
	AssertEq(nil, err)

	_, err = t.fs.Write(fd, make([]byte, userfs.MaxFileSize))
	AssertEq(nil, err)

	_, err = t.fs.Write(fd, []byte{1})
	ExpectThat(err, Error(HasSubstr("too large")))
}

func (t *UserFSTest) TestDeleteThenCreateGivesFreshFile() {
	fd, err := t.fs.Open("f", userfs.Create)
	AssertEq(nil, err)
	_, err = t.fs.Write(fd, []byte("hello"))
	AssertEq(nil, err)
	AssertEq(nil, t.fs.Close(fd))

	AssertEq(nil, t.fs.Delete("f"))

	fd, err = t.fs.Open("f", userfs.Create)
	AssertEq(nil, err)
	buf := make([]byte, 5)
	n, err := t.fs.Read(fd, buf)
	AssertEq(nil, err)
	ExpectEq(0, n)
}

func (t *UserFSTest) TestConcurrentDescriptorsSeeEachOthersWritesAfterReopen() {
	fd1, err := t.fs.Open("f", userfs.Create)
	AssertEq(nil, err)
	_, err = t.fs.Write(fd1, []byte("abc"))
	AssertEq(nil, err)
	AssertEq(nil, t.fs.Close(fd1))

	fd2, err := t.fs.Open("f", 0)
	AssertEq(nil, err)
	buf := make([]byte, 3)
	n, err := t.fs.Read(fd2, buf)
	AssertEq(nil, err)
	ExpectEq(3, n)
	ExpectEq("abc", string(buf))
}

func (t *UserFSTest) TestReadOnlyDescriptorRejectsWrite() {
	fd, err := t.fs.Open("f", userfs.Create|userfs.ReadOnly)
	AssertEq(nil, err)

	_, err = t.fs.Write(fd, []byte("x"))
	ExpectThat(err, Error(HasSubstr("permission denied")))
}

func (t *UserFSTest) TestWriteOnlyDescriptorRejectsRead() {
	fd, err := t.fs.Open("f", userfs.Create|userfs.WriteOnly)
	AssertEq(nil, err)

	buf := make([]byte, 1)
	_, err = t.fs.Read(fd, buf)
	ExpectThat(err, Error(HasSubstr("permission denied")))
}

func (t *UserFSTest) TestResizeToZeroThenReadReturnsZero() {
	fd, err := t.fs.Open("f", userfs.Create)
	AssertEq(nil, err)
	_, err = t.fs.Write(fd, []byte("hello"))
	AssertEq(nil, err)

	AssertEq(nil, t.fs.Resize(fd, 0))

	buf := make([]byte, 5)
	n, err := t.fs.Read(fd, buf)
	AssertEq(nil, err)
	ExpectEq(0, n)
}

func (t *UserFSTest) TestResizeGrowDoesNotBumpSize() {
	fd, err := t.fs.Open("f", userfs.Create)
	AssertEq(nil, err)

	AssertEq(nil, t.fs.Resize(fd, 1024))

	buf := make([]byte, 1)
	n, err := t.fs.Read(fd, buf)
	AssertEq(nil, err)
	ExpectEq(0, n)
}

func (t *UserFSTest) TestOpenMissingWithoutCreateFails() {
	_, err := t.fs.Open("nope", 0)
	ExpectThat(err, Error(HasSubstr("no such file")))
}
