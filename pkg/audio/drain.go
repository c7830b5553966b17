package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use it to release a provider goroutine whose output is no longer wanted,
// e.g. a synthesis stream abandoned after an interruption.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
