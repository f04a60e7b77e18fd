package models

import (
	"fmt"
	"os"
	"sort"
	"sync"
)

// published records the variables set by PublishEnvironment in this process.
var published = struct {
	sync.Mutex
	names map[string]bool
}{names: make(map[string]bool)}

// PublishEnvironment sets VIRUSNET_<KEY> for every artifact path so that child
// processes can find the artifacts. A variable already published by this
// process is left as it is.
func PublishEnvironment(paths map[string]string) error {
	published.Lock()
	defer published.Unlock()

	for _, kv := range sortedEnv(paths) {
		if published.names[kv[0]] {
			continue
		}
		if err := os.Setenv(kv[0], kv[1]); err != nil {
			return fmt.Errorf("setting %s: %w", kv[0], err)
		}
		published.names[kv[0]] = true
	}
	return nil
}

// Environ returns "VIRUSNET_<KEY>=<path>" entries for paths, sorted by name.
func Environ(paths map[string]string) []string {
	pairs := sortedEnv(paths)
	out := make([]string, len(pairs))
	for i, kv := range pairs {
		out[i] = kv[0] + "=" + kv[1]
	}
	return out
}

func sortedEnv(paths map[string]string) [][2]string {
	pairs := make([][2]string, 0, len(paths))
	for key, path := range paths {
		pairs = append(pairs, [2]string{EnvName(key), path})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i][0] < pairs[j][0] })
	return pairs
}
