package models

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// RedownloadPolicy decides whether an artifact that is already present and
// verified should be downloaded again. Returning false skips it.
type RedownloadPolicy func(key string) (bool, error)

// AlwaysSkip never re-downloads a verified artifact.
func AlwaysSkip(string) (bool, error) { return false, nil }

// AlwaysRedownload re-downloads every artifact regardless of its state.
func AlwaysRedownload(string) (bool, error) { return true, nil }

// PromptPolicy asks on out and reads the answer from in, one line per artifact.
// Only "yes" (any case) re-downloads; anything else, including end of input,
// skips.
func PromptPolicy(in io.Reader, out io.Writer) RedownloadPolicy {
	scanner := bufio.NewScanner(in)
	return func(key string) (bool, error) {
		fmt.Fprintf(out, "%s already downloaded and verified.\n", key)
		fmt.Fprint(out, "File already exists and is verified. Do you want to re-download it? (yes/no): ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			if err := scanner.Err(); err != nil {
				return false, fmt.Errorf("%w: reading answer: %v", ErrIO, err)
			}
			return false, nil
		}
		return confirmed(scanner.Text()), nil
	}
}

// confirmed returns true only for "yes".
func confirmed(answer string) bool {
	return strings.EqualFold(strings.TrimSpace(answer), "yes")
}
