package time_test

import (
	"testing"

	"los/kernel/irq"
	"los/kernel/kerneltest"
	"los/kernel/proc"
	"los/kernel/time"
)

func TestAlarmRaisesSignal(t *testing.T) {
	kerneltest.Boot(t, "")

	var fired bool
	var firedAt uint64

	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		time.SetAlarm(15)

		for i := 0; i < 30; i++ {
			time.MillisecondTick()

			if !fired && proc.CurrentProcess().Signals.Pending(proc.SignalAlarm) {
				fired = true
				firedAt = time.CurrentTimeMillis()
			}
		}

		// The alarm signal defaults to Ignore: delivery clears it
		// without terminating the process.
		regs := &irq.Regs{}
		info := &irq.ExceptionInfo{}
		proc.DispatchPendingSignals(regs, info)
		if proc.CurrentProcess().Signals.Pending(proc.SignalAlarm) {
			t.Error("ignored alarm must be cleared by delivery")
		}
		return 0
	})

	proc.Run()

	if !fired {
		t.Fatal("alarm never fired")
	}
	if firedAt < 15 {
		t.Fatalf("alarm fired early at %d ms", firedAt)
	}
}

func TestRegisterSystemTimerOnce(t *testing.T) {
	kerneltest.Boot(t, "")

	tick, err := time.RegisterSystemTimer("/hpet/0")
	if err != nil {
		t.Fatal(err)
	}
	if tick == nil {
		t.Fatal("expected a tick callback")
	}

	if _, err := time.RegisterSystemTimer("/pit/0"); err == nil {
		t.Fatal("expected the second registration to be refused")
	}
}

func TestShortSleepSpins(t *testing.T) {
	kerneltest.Boot(t, "")

	// A hardware tick source that advances the clock whenever the CPU
	// halts in the sub-10ms spin loop.
	tick, err := time.RegisterSystemTimer("/hpet/0")
	if err != nil {
		t.Fatal(err)
	}
	irq.InstallIRQHandler(0, func(uintptr) { tick() }, 0)
	t.Cleanup(func() { irq.UninstallIRQHandler(0) })

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			default:
				irq.RaiseIRQ(0)
			}
		}
	}()

	var woke uint64
	kerneltest.Spawn(t, "kinit", func(uintptr) int64 {
		time.Sleep(3)
		woke = time.CurrentTimeMillis()
		return 0
	})

	proc.Run()
	close(done)

	if woke < 3 {
		t.Fatalf("short sleep returned at %d ms", woke)
	}
}
