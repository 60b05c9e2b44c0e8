// Package pipeline provides a typed, in-process streaming data pipeline.
//
// A pipeline is an ordered sequence of stages — one generator, zero or more
// transforms, one sink — where each stage runs on its own goroutine and
// adjacent stages communicate through a BufferQueue that carries Item
// envelopes. The package guarantees FIFO ordering between adjacent stages,
// at most one worker per stage, and clean cooperative shutdown.
//
// A pipeline is built left to right:
//
//	p := pipeline.New()
//	gen, _ := pipeline.AddGenerator(p, "source", pipeline.Consume(items))
//	dbl, _ := pipeline.AddTransform(p, "double", gen, func(i int) (int, error) {
//		return i * 2, nil
//	})
//	_ = pipeline.AddSink(p, "collect", dbl, func(i int) error {
//		results = append(results, i)
//		return nil
//	})
//
//	_, err := p.Consume()
//
// Run starts every stage and returns immediately; Consume starts the
// pipeline (if needed) and blocks until the generator's end-of-stream
// signal has drained through every stage; Pause freezes every buffer in
// place without losing data; Stop tears the pipeline down, discarding any
// items still in flight.
package pipeline
