//go:build !darwin

package notifier

import (
	"log"
	"os/exec"
)

// platformSend uses notify-send where it is installed.
func platformSend(title, message string) error {
	path, err := exec.LookPath("notify-send")
	if err != nil {
		return err
	}
	cmd := exec.Command(path, title, message)
	if err := cmd.Start(); err != nil {
		log.Printf("[der] notification error: %v", err)
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
