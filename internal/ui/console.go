package ui

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// ShowBlob prints a connection blob for the user to copy to the remote peer.
func ShowBlob(label, blob string) {
	fmt.Printf("\n%s (copy everything below to the other side):\n\n%s\n\n", label, blob)
}

// PromptBlob prompts for a connection blob pasted from the remote peer and
// reads one non-empty line from stdin. It returns early if ctx is cancelled.
func PromptBlob(ctx context.Context, prompt string) (string, error) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	inputCh := make(chan string, 1)
	errCh := make(chan error, 1)

	fmt.Printf("%s: ", prompt)
	go func() {
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			inputCh <- line
			return
		}
		if err := scanner.Err(); err != nil {
			errCh <- err
			return
		}
		errCh <- fmt.Errorf("stdin closed before a connection blob was entered")
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case err := <-errCh:
		return "", err
	case blob := <-inputCh:
		return blob, nil
	}
}
