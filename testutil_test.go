package obscache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Person is the document type used throughout the tests.
type Person struct {
	Name string
	Age  int
}

func personName(p Person) string { return p.Name }

func byAge(a, b Person) int { return a.Age - b.Age }

func byName(a, b Person) int {
	switch {
	case a.Name < b.Name:
		return -1
	case a.Name > b.Name:
		return 1
	default:
		return 0
	}
}

// recv reads the next value from a stream, failing the test after a
// generous timeout.
func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "stream closed while a value was expected")
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a stream value")
		panic("unreachable")
	}
}

// recvClosed asserts the stream completes, failing after a timeout.
func recvClosed[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.False(t, ok, "expected stream completion, got value %v", v)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for stream completion")
	}
}

// recvUntil drains the stream until a value satisfies the predicate,
// skipping interim emissions (e.g. a window response produced before the
// upstream snapshot landed).
func recvUntil[T any](t *testing.T, ch <-chan T, ok func(T) bool) T {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case v, open := <-ch:
			require.True(t, open, "stream closed while a value was expected")
			if ok(v) {
				return v
			}
		case <-deadline:
			t.Fatal("timed out waiting for a matching stream value")
			panic("unreachable")
		}
	}
}

// expectNone asserts the stream stays silent for the given duration.
func expectNone[T any](t *testing.T, ch <-chan T, wait time.Duration) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("expected no emission, got %v", v)
		}
	case <-time.After(wait):
	}
}

// changeOf finds the first change for a key within a changeset.
func changeOf[K comparable, V any](t *testing.T, cs ChangeSet[K, V], key K) Change[K, V] {
	t.Helper()
	for _, change := range cs {
		if change.Key == key {
			return change
		}
	}
	t.Fatalf("no change for key %v in %v", key, cs)
	panic("unreachable")
}
