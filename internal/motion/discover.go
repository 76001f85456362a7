package motion

import (
	"fmt"
	"strings"

	"go.bug.st/serial/enumerator"
)

// AutoAddress asks Connect to pick the serial port automatically.
const AutoAddress = "auto"

// DetectPort returns the only USB serial port on the system. It fails when
// there is none or more than one candidate.
func DetectPort() (string, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return "", fmt.Errorf("enumerating serial ports: %w", err)
	}

	names := make([]string, 0, len(ports))
	for _, p := range ports {
		names = append(names, p.Name)
	}

	return pickPort(filterCandidatePorts(names))
}

func pickPort(candidates []string) (string, error) {
	switch len(candidates) {
	case 0:
		return "", fmt.Errorf("no serial port found")
	case 1:
		return candidates[0], nil
	default:
		return "", fmt.Errorf("several serial ports found (%s); configure one explicitly", strings.Join(candidates, ", "))
	}
}

// filterCandidatePorts keeps ports named like USB serial adapters
func filterCandidatePorts(ports []string) []string {
	candidates := []string{}
	for _, port := range ports {
		if isCandidatePort(port) {
			candidates = append(candidates, port)
		}
	}
	return candidates
}

func isCandidatePort(port string) bool {
	for _, prefix := range []string{
		"/dev/ttyUSB", "/dev/ttyACM", // Linux
		"/dev/tty.usbmodem", "/dev/tty.usbserial", "/dev/cu.usbmodem", "/dev/cu.usbserial", // macOS
		"COM", // Windows
	} {
		if strings.HasPrefix(port, prefix) {
			return true
		}
	}
	return false
}
