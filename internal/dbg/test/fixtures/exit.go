package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"
)

func compute(n int) int {
	if n < 2 {
		return n
	}
	return compute(n-1) + compute(n-2)
}

// spin keeps one P busy in a loop without calls, so the runtime has to
// preempt it with SIGURG before main can run again.
func spin() {
	runtime.GOMAXPROCS(1)
	var stop atomic.Bool
	go func() {
		for !stop.Load() {
		}
	}()
	time.Sleep(100 * time.Millisecond)
	stop.Store(true)
}

func main() {
	code := 3
	if len(os.Args) > 1 {
		if os.Args[1] == "spin" {
			spin()
			code = 7
		} else if n, err := strconv.Atoi(os.Args[1]); err == nil {
			code = n
		}
	}
	fmt.Println(compute(10))
	os.Exit(code)
}
