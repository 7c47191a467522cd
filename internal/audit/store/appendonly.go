package store

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// ErrChattrNotFound is returned when the chattr binary cannot be located.
var ErrChattrNotFound = errors.New("store: chattr command not found")

// AppendOnlyManager sets the Linux append-only file attribute (+a) on
// active audit log files, so even a process with write access cannot
// rewrite history without first clearing the attribute. This hardens the
// store against careless tampering; it is not a defense against an
// operator with CAP_LINUX_IMMUTABLE.
type AppendOnlyManager struct {
	chattrPath string
	logger     *slog.Logger
}

// NewAppendOnlyManager locates chattr and returns a manager.
func NewAppendOnlyManager(logger *slog.Logger) (*AppendOnlyManager, error) {
	if logger == nil {
		logger = slog.Default()
	}

	path := "/usr/bin/chattr"
	if _, err := os.Stat(path); err != nil {
		found, err := exec.LookPath("chattr")
		if err != nil {
			return nil, ErrChattrNotFound
		}
		path = found
	}

	return &AppendOnlyManager{chattrPath: path, logger: logger}, nil
}

// Set applies the append-only attribute to path.
func (m *AppendOnlyManager) Set(path string) error {
	return m.run("+a", path)
}

// Clear removes the append-only attribute, e.g. before external archival
// moves the file.
func (m *AppendOnlyManager) Clear(path string) error {
	return m.run("-a", path)
}

func (m *AppendOnlyManager) run(flag, path string) error {
	out, err := exec.Command(m.chattrPath, flag, path).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			msg = err.Error()
		}
		return fmt.Errorf("store: chattr %s %s: %s", flag, path, msg)
	}
	m.logger.Debug("file attribute changed", "flag", flag, "path", path)
	return nil
}
