//go:build darwin

package notifier

import (
	"fmt"
	"log"
	"os/exec"
	"strings"
)

func platformSend(title, message string) error {
	script := fmt.Sprintf("display notification %s with title %s", appleScriptQuote(message), appleScriptQuote(title))
	cmd := exec.Command("osascript", "-e", script)
	if err := cmd.Start(); err != nil {
		log.Printf("[der] notification error: %v", err)
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func appleScriptQuote(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "\"", "\\\"")
	return "\"" + s + "\""
}
