//go:build property
// +build property

package watcher

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDebouncerProperties checks that a burst of changes shorter than the
// window always becomes exactly one event carrying the latest change.
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 30

	properties := gopter.NewProperties(parameters)

	properties.Property("burst coalesces to the last change", prop.ForAll(
		func(delayMs int, changes int) bool {
			var mu sync.Mutex
			var emitted []Event

			d := NewDebouncer(time.Duration(delayMs)*time.Millisecond, func(e Event) {
				mu.Lock()
				emitted = append(emitted, e)
				mu.Unlock()
			})
			defer d.Stop()

			for i := 0; i < changes; i++ {
				d.Add(Event{Source: Source{Kind: KindInput, Entry: 1}, Path: fmt.Sprintf("f%d", i)})
			}

			time.Sleep(time.Duration(delayMs)*time.Millisecond*3 + 20*time.Millisecond)

			mu.Lock()
			defer mu.Unlock()
			return len(emitted) == 1 &&
				emitted[0].Path == fmt.Sprintf("f%d", changes-1) &&
				emitted[0].Source.Entry == 1
		},
		gen.IntRange(20, 60),
		gen.IntRange(1, 50),
	))

	properties.TestingRun(t)
}
