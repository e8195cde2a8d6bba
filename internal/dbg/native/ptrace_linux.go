package native

import "runtime"

// ptraceThread runs every ptrace request on one locked OS thread, since the
// kernel only accepts requests from the thread that attached.
type ptraceThread struct {
	fns  chan func()
	done chan struct{}
}

func newPtraceThread() *ptraceThread {
	pt := &ptraceThread{
		fns:  make(chan func()),
		done: make(chan struct{}),
	}
	go pt.handle()
	return pt
}

func (pt *ptraceThread) handle() {
	runtime.LockOSThread()
	for fn := range pt.fns {
		fn()
		pt.done <- struct{}{}
	}
	close(pt.done)
}

func (pt *ptraceThread) exec(fn func()) {
	pt.fns <- fn
	<-pt.done
}

func (pt *ptraceThread) release() {
	close(pt.fns)
}
