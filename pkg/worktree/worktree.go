// Package worktree provisions git worktrees for task execution. The engine
// treats provisioning as a collaborator: only this boundary shells out to
// git.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
)

type Manager struct {
	repoPath      string
	worktreesPath string
}

func NewManager(repoPath, dataDir string) (*Manager, error) {
	worktreesPath := filepath.Join(dataDir, "worktrees")
	if err := os.MkdirAll(worktreesPath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create worktrees directory: %w", err)
	}
	return &Manager{
		repoPath:      repoPath,
		worktreesPath: worktreesPath,
	}, nil
}

// BranchName derives the task branch name.
func BranchName(taskID int) string {
	return "task/" + strconv.Itoa(taskID)
}

// Create adds a worktree for the task, branching off sourceBranch. An
// existing worktree is reused.
func (m *Manager) Create(taskID int, sourceBranch string) (path, branch string, err error) {
	branch = BranchName(taskID)
	path = m.Path(taskID)

	if _, err := os.Stat(path); err == nil {
		return path, branch, nil
	}

	args := []string{"worktree", "add", "-b", branch, path}
	if sourceBranch != "" {
		args = append(args, sourceBranch)
	}
	cmd := exec.Command("git", args...)
	cmd.Dir = m.repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", "", fmt.Errorf("failed to create git worktree: %w: %s", err, out)
	}
	return path, branch, nil
}

// Remove drops the task's worktree. A missing worktree is not an error.
func (m *Manager) Remove(taskID int) error {
	path := m.Path(taskID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	cmd := exec.Command("git", "worktree", "remove", "--force", path)
	cmd.Dir = m.repoPath
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("failed to remove git worktree: %w: %s", err, out)
	}
	return nil
}

func (m *Manager) Path(taskID int) string {
	return filepath.Join(m.worktreesPath, strconv.Itoa(taskID))
}
