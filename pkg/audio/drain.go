package audio

// Drain discards values from ch until it is closed. Callers abandoning a
// stream run it in a goroutine so the producer can finish and exit.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
