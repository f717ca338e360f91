package proc_test

import (
	"sync/atomic"
	"testing"
	hosttime "time"

	"los/kernel/irq"
	"los/kernel/kerneltest"
	"los/kernel/proc"
	"los/kernel/sync"
	"los/kernel/time"
)

func TestRunReturnsWhenIdle(t *testing.T) {
	kerneltest.Boot(t, "")

	ran := false
	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		ran = true
		return 0
	})

	proc.Run()

	if !ran {
		t.Fatal("expected the first thread to run before idle")
	}
	if proc.CurrentThreadOption() != nil {
		t.Fatal("expected no current thread at idle")
	}
}

func TestSchedulerFIFOFairness(t *testing.T) {
	kerneltest.Boot(t, "")

	const workers = 4
	const rounds = 5

	var order []int
	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		for i := 0; i < workers; i++ {
			id := i
			proc.CreateThread(func(uintptr) int64 {
				for r := 0; r < rounds; r++ {
					order = append(order, id)
					proc.QueueAndYield()
				}
				return 0
			}, 0)
		}
		return 0
	})

	proc.Run()

	if len(order) != workers*rounds {
		t.Fatalf("expected %d entries; got %d", workers*rounds, len(order))
	}
	for i, id := range order {
		if id != i%workers {
			t.Fatalf("wake-ups out of insertion order at %d: got %d want %d\norder: %v", i, id, i%workers, order)
		}
	}
}

func TestWaitThreadReceivesExitStatus(t *testing.T) {
	kerneltest.Boot(t, "")

	var got int64 = -1
	var ok bool
	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		child := proc.CreateThread(func(uintptr) int64 {
			return 42
		}, 0)

		got, ok = proc.WaitThread(child)
		return 0
	})

	proc.Run()

	if !ok {
		t.Fatal("expected WaitThread to find the child")
	}
	if got != 42 {
		t.Fatalf("expected exit status 42; got %d", got)
	}
}

func TestWaitProcessReceivesExitStatus(t *testing.T) {
	kerneltest.Boot(t, "")

	var got int64 = -1
	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		child, cerr := proc.CreateProcess("child", func(uintptr) int64 {
			return 7
		}, 0, proc.NewDescriptors(), proc.NewSignals(), nil)
		if cerr != nil {
			t.Errorf("create failed: %s", cerr.Message)
			return 1
		}

		status, err := proc.WaitProcess(child.ID())
		if err != nil {
			t.Errorf("wait failed: %s", err.Message)
			return 1
		}
		got = status
		return 0
	})

	proc.Run()

	if got != 7 {
		t.Fatalf("expected exit status 7; got %d", got)
	}
}

func TestExitProcessKillsSiblings(t *testing.T) {
	kerneltest.Boot(t, "")

	siblingFinished := false
	var waited int64 = -1

	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		child, cerr := proc.CreateProcess("child", func(uintptr) int64 {
			proc.CreateThread(func(uintptr) int64 {
				// Suspends forever; ExitProcess must reap it.
				var q proc.ThreadQueue
				proc.Yield(&q)
				siblingFinished = true
				return 0
			}, 0)

			proc.QueueAndYield() // let the sibling park
			proc.ExitProcess(9)
			return 0
		}, 0, proc.NewDescriptors(), proc.NewSignals(), nil)
		if cerr != nil {
			t.Errorf("create failed: %s", cerr.Message)
			return 1
		}

		status, err := proc.WaitProcess(child.ID())
		if err != nil {
			t.Errorf("wait failed: %s", err.Message)
			return 1
		}
		waited = status
		return 0
	})

	proc.Run()

	if siblingFinished {
		t.Fatal("sibling thread must not resume after ExitProcess")
	}
	if waited != 9 {
		t.Fatalf("expected process status 9; got %d", waited)
	}
}

func TestKillWaitingThreadLeavesQueue(t *testing.T) {
	kerneltest.Boot(t, "")

	var waitQueue proc.ThreadQueue
	resumed := false
	var queueLenAfterKill = -1
	var exitStatus int64 = -1

	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		victim := proc.CreateThread(func(uintptr) int64 {
			proc.Yield(&waitQueue)
			resumed = true
			return 0
		}, 0)

		proc.QueueAndYield() // let the victim park on the queue

		if waitQueue.Len() != 1 {
			t.Errorf("expected victim queued; queue holds %d", waitQueue.Len())
		}

		proc.KillThread(victim, 3)
		queueLenAfterKill = waitQueue.Len()
		exitStatus = victim.ExitStatus()
		return 0
	})

	proc.Run()

	if resumed {
		t.Fatal("killed thread must not resume")
	}
	if queueLenAfterKill != 0 {
		t.Fatalf("kill must dequeue the thread before it is dropped; queue holds %d", queueLenAfterKill)
	}
	if exitStatus != 3 {
		t.Fatalf("expected exit status 3; got %d", exitStatus)
	}
}

func TestWaitersWakeInHandoffOrder(t *testing.T) {
	kerneltest.Boot(t, "")

	var queue proc.ThreadQueue
	var woken []int

	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		for i := 0; i < 3; i++ {
			id := i
			proc.CreateThread(func(uintptr) int64 {
				proc.Yield(&queue)
				woken = append(woken, id)
				return 0
			}, 0)
		}

		proc.QueueAndYield() // all three park

		for proc.WakeOne(&queue) != nil {
			proc.QueueAndYield()
		}
		return 0
	})

	proc.Run()

	if len(woken) != 3 {
		t.Fatalf("expected 3 wake-ups; got %d", len(woken))
	}
	for i, id := range woken {
		if id != i {
			t.Fatalf("handoff order broken: %v", woken)
		}
	}
}

func TestPreemptionUnderTimer(t *testing.T) {
	kerneltest.Boot(t, "")

	tick, err := time.RegisterSystemTimer("/hpet/0")
	if err != nil {
		t.Fatal(err)
	}
	irq.InstallIRQHandler(0, func(uintptr) { tick() }, 0)
	t.Cleanup(func() { irq.UninstallIRQHandler(0) })

	const iterations = 200000

	var counterLock sync.CriticalLock
	counter := 0
	var stop atomic.Bool

	worker := func(uintptr) int64 {
		for i := 0; i < iterations; i++ {
			counterLock.Acquire()
			counter++
			counterLock.Release()
		}
		return 0
	}

	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		proc.CreateThread(worker, 0)
		proc.CreateThread(worker, 0)
		return 0
	})

	// The hardware ticker: a millisecond-ish timer line.
	go func() {
		for !stop.Load() {
			irq.RaiseIRQ(0)
			hosttime.Sleep(100 * hosttime.Microsecond)
		}
	}()

	proc.Run()
	stop.Store(true)

	if counter != 2*iterations {
		t.Fatalf("expected counter %d; got %d", 2*iterations, counter)
	}
}

func TestSleepWakesAtDeadline(t *testing.T) {
	kerneltest.Boot(t, "")

	var wokeAt uint64

	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		proc.CreateThread(func(uintptr) int64 {
			time.Sleep(20)
			wokeAt = time.CurrentTimeMillis()
			return 0
		}, 0)

		proc.QueueAndYield() // let the sleeper park

		for i := 0; i < 25; i++ {
			time.MillisecondTick()
		}
		return 0
	})

	proc.Run()

	if wokeAt < 20 {
		t.Fatalf("sleeper woke at %d ms; expected at or after 20", wokeAt)
	}
}
