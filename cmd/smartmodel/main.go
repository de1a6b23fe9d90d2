// Command smartmodel asks language models for structured values, runs the
// Python programs they write, and explains the results.
//
// Usage:
//
//	export GEMINI_API_KEY="your-api-key"
//	smartmodel chat
//	smartmodel run "how many primes are below 10000?"
//	smartmodel generate --shape Person "a retired astronaut from Ohio"
//	smartmodel serve --addr :8080
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
