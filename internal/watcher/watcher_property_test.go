//go:build property

package watcher

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestDebouncerProperties validates batching of rapid changes
func TestDebouncerProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.Rng.Seed(9876)
	parameters.MinSuccessfulTests = 50

	properties := gopter.NewProperties(parameters)

	// Property: a burst becomes one sorted batch with one event per path
	properties.Property("burst is deduplicated and sorted", prop.ForAll(
		func(paths []string) bool {
			if len(paths) == 0 {
				return true
			}

			d := NewDebouncer(50 * time.Millisecond)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go d.start(ctx)

			unique := make(map[string]bool)
			for _, p := range paths {
				unique[p] = true
				d.events <- ChangeEvent{Path: p, Type: EventTypeModified}
			}

			select {
			case events := <-d.output:
				if len(events) != len(unique) {
					return false
				}
				return sort.SliceIsSorted(events, func(i, j int) bool {
					return events[i].Path < events[j].Path
				})
			case <-time.After(time.Second):
				return false
			}
		},
		gen.SliceOfN(20, gen.OneConstOf("a.html", "b.html", "c/config.yml", "d/index.html")),
	))

	properties.TestingRun(t)
}

// TestFilterProperties validates glob and ignore filters together
func TestFilterProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)
	segment := gen.RegexMatch(`^[a-z]{1,8}$`)

	// Property: an ignored directory hides everything below it
	properties.Property("ignore covers subtree", prop.ForAll(
		func(dir, file string) bool {
			ignore := IgnoreFilter("src", []string{dir})
			return !ignore("src/"+dir+"/"+file+".html") && ignore("src/"+file+".html")
		},
		segment, segment,
	))

	// Property: a double-star pattern matches at any depth
	properties.Property("glob matches any depth", prop.ForAll(
		func(dirs []string, file string) bool {
			path := "src"
			for _, d := range dirs {
				path += "/" + d
			}
			return GlobFilter("src", []string{"**/*.html"})(path + "/" + file + ".html")
		},
		gen.SliceOfN(4, segment), segment,
	))

	properties.TestingRun(t)
}
