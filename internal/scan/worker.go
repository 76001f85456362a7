package scan

// worker runs blocking hardware calls on a dedicated goroutine, one at a
// time, and hands each result back through a completion channel.
type worker struct {
	jobs chan func()
	done chan struct{}
}

func newWorker() *worker {
	w := worker{
		jobs: make(chan func()),
		done: make(chan struct{}),
	}
	go w.loop()

	return &w
}

func (w *worker) loop() {
	defer close(w.done)

	for job := range w.jobs {
		job()
	}
}

func (w *worker) stop() {
	close(w.jobs)
	<-w.done
}

// call runs fn on the worker and waits for it to complete. An in-flight call
// is never interrupted.
func call[T any](w *worker, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}

	completed := make(chan result, 1)
	w.jobs <- func() {
		v, err := fn()
		completed <- result{v, err}
	}

	r := <-completed
	return r.v, r.err
}

// do is call for functions without a result.
func do(w *worker, fn func() error) error {
	_, err := call(w, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
