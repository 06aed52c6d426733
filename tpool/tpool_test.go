package tpool_test

import (
	"context"
	"testing"
	"time"

	"github.com/jacobsa/sysprog/tpool"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"
)

func TestTPool(t *testing.T) { RunTests(t) }

type TPoolTest struct {
	pool *tpool.Pool
}

func init() { RegisterTestSuite(&TPoolTest{}) }

func (t *TPoolTest) SetUp(ti *TestInfo) {
	var err error
	t.pool, err = tpool.New(4)
	AssertEq(nil, err)
}

func (t *TPoolTest) TestTaskFinishesAndJoinReturnsResult() {
	task := tpool.NewTask(func(arg any) any {
		return arg.(int) * 2
	}, 21)

	AssertEq(nil, t.pool.Push(task))

	result, err := task.Join(context.Background())
	AssertEq(nil, err)
	ExpectEq(42, result)
	ExpectTrue(task.IsFinished())
}

func (t *TPoolTest) TestTimedJoinTimesOutThenLaterJoinSucceeds() {
	release := make(chan struct{})
	task := tpool.NewTask(func(arg any) any {
		<-release
		return "done"
	}, nil)

	AssertEq(nil, t.pool.Push(task))

	_, err := task.TimedJoin(10 * time.Millisecond)
	ExpectThat(err, Error(HasSubstr("timed out")))

	close(release)

	result, err := task.Join(context.Background())
	AssertEq(nil, err)
	ExpectEq("done", result)
}

func (t *TPoolTest) TestPushBeyondMaxTasksFails() {
	release := make(chan struct{})
	defer close(release)

	// Saturate every worker with a blocked task so the queue backs up.
	for i := 0; i < 4; i++ {
		AssertEq(nil, t.pool.Push(tpool.NewTask(func(arg any) any {
			<-release
			return nil
		}, nil)))
	}

	var lastErr error
	for i := 0; i < tpool.MaxTasks+1; i++ {
		lastErr = t.pool.Push(tpool.NewTask(func(arg any) any { return nil }, nil))
		if lastErr != nil {
			break
		}
	}
	ExpectThat(lastErr, Error(HasSubstr("too many tasks")))
}

func (t *TPoolTest) TestPoolDeleteFailsWithRunningTask() {
	release := make(chan struct{})
	task := tpool.NewTask(func(arg any) any {
		<-release
		return nil
	}, nil)
	AssertEq(nil, t.pool.Push(task))

	time.Sleep(10 * time.Millisecond)
	err := t.pool.Delete()
	ExpectThat(err, Error(HasSubstr("has pending or running tasks")))

	close(release)
	_, joinErr := task.Join(context.Background())
	AssertEq(nil, joinErr)
}

func (t *TPoolTest) TestDetachedTaskDoesNotBlockShutdown() {
	task := tpool.NewTask(func(arg any) any { return nil }, nil)
	AssertEq(nil, t.pool.Push(task))
	AssertEq(nil, task.Detach())

	for !task.IsFinished() {
		time.Sleep(time.Millisecond)
	}

	ExpectEq(nil, t.pool.Delete())
}

func (t *TPoolTest) TestJoinOnUnpushedTaskFails() {
	task := tpool.NewTask(func(arg any) any { return nil }, nil)
	_, err := task.Join(context.Background())
	ExpectThat(err, Error(HasSubstr("not pushed")))
}

func (t *TPoolTest) TestNewRejectsOutOfRangeCapacity() {
	_, err := tpool.New(0)
	ExpectThat(err, Error(HasSubstr("invalid argument")))

	_, err = tpool.New(tpool.MaxThreads + 1)
	ExpectThat(err, Error(HasSubstr("invalid argument")))
}

func (t *TPoolTest) TestThreadCountGrowsLazilyUpToMax() {
	ExpectEq(0, t.pool.ThreadCount())

	release := make(chan struct{})
	defer close(release)
	for i := 0; i < 4; i++ {
		AssertEq(nil, t.pool.Push(tpool.NewTask(func(arg any) any {
			<-release
			return nil
		}, nil)))
	}

	time.Sleep(10 * time.Millisecond)
	ExpectEq(4, t.pool.ThreadCount())
}
