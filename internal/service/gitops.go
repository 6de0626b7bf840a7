package service

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/askluigi/agentd/internal/adapter/otel"
	"github.com/askluigi/agentd/internal/config"
	"github.com/askluigi/agentd/internal/domain"
	"github.com/askluigi/agentd/internal/git"
)

// runState is the slice of RunnerService the git coordinator needs: git
// operations refuse to touch the working tree while a run is in progress.
type runState interface {
	InProgress() bool
}

// Commit is the tip commit shown in git status responses.
type Commit struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
}

// GitStatus describes the working tree for the drawer's git panel.
type GitStatus struct {
	Branch     string   `json:"branch"`
	Dirty      []string `json:"dirty"`
	LastCommit *Commit  `json:"lastCommit,omitempty"`
}

// BranchResult is the outcome of CreateBranchAndCommit.
type BranchResult struct {
	Branch        string `json:"branch"`
	CommitMessage string `json:"commitMessage"`
}

// GitService coordinates git operations on the storefront working tree.
// All execs go through the shared pool; the git CLI is the only backend.
type GitService struct {
	run     runState
	pool    *git.Pool
	cfg     config.Git
	workDir string
}

// NewGitService creates a GitService operating on workDir.
func NewGitService(run runState, pool *git.Pool, cfg config.Git, workDir string) *GitService {
	return &GitService{run: run, pool: pool, cfg: cfg, workDir: workDir}
}

// Status returns the current branch, dirty paths, and tip commit.
func (s *GitService) Status(ctx context.Context) (*GitStatus, error) {
	ctx, span := otel.StartGitSpan(ctx, "status")
	defer span.End()

	var st *GitStatus
	err := s.pool.Run(ctx, func() error {
		st = &GitStatus{Dirty: []string{}}

		branch, err := s.exec(ctx, "rev-parse", "--abbrev-ref", "HEAD")
		if err != nil {
			return fmt.Errorf("get branch: %w", err)
		}
		st.Branch = strings.TrimSpace(branch)

		porcelain, err := s.exec(ctx, "status", "--porcelain")
		if err != nil {
			return fmt.Errorf("get status: %w", err)
		}
		for _, line := range strings.Split(porcelain, "\n") {
			if len(line) > 3 {
				st.Dirty = append(st.Dirty, strings.TrimSpace(line[3:]))
			}
		}

		logOut, err := s.exec(ctx, "log", "-1", "--format=%H%n%s")
		if err != nil {
			// An empty repository has no commits; that is not an error
			// for the status panel.
			return nil
		}
		lines := strings.SplitN(strings.TrimSpace(logOut), "\n", 2)
		c := &Commit{Hash: lines[0]}
		if len(c.Hash) > 7 {
			c.Hash = c.Hash[:7]
		}
		if len(lines) > 1 {
			c.Message = lines[1]
		}
		st.LastCommit = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return st, nil
}

// CreateBranchAndCommit checks out a new timestamped branch, commits the
// entire working tree on it, and pushes it upstream. Refused while an
// agent run is in progress.
func (s *GitService) CreateBranchAndCommit(ctx context.Context, prompt string) (*BranchResult, error) {
	ctx, span := otel.StartGitSpan(ctx, "branch")
	defer span.End()

	if s.run.InProgress() {
		return nil, fmt.Errorf("create branch: %w", domain.ErrRunInProgress)
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, fmt.Errorf("%w: prompt is required", domain.ErrValidation)
	}

	branch := fmt.Sprintf("%s%d", s.cfg.BranchPrefix, time.Now().UnixMilli())
	summary := prompt
	if len(summary) > 80 {
		summary = summary[:80]
	}
	message := s.cfg.CommitPrefix + " " + summary

	err := s.pool.Run(ctx, func() error {
		if _, err := s.exec(ctx, "checkout", "-b", branch); err != nil {
			return fmt.Errorf("checkout -b %s: %w", branch, err)
		}
		if _, err := s.exec(ctx, "add", "-A"); err != nil {
			return fmt.Errorf("add: %w", err)
		}
		if _, err := s.exec(ctx, "commit", "-m", message); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		s.push(ctx, "--set-upstream", s.cfg.Remote, branch)
		return nil
	})
	if err != nil {
		return nil, err
	}

	slog.InfoContext(ctx, "branch created", "branch", branch)
	return &BranchResult{Branch: branch, CommitMessage: message}, nil
}

// DeployToMain merges the given branch into the main branch, pushes, and
// returns the branch it merged into. The main and master names are
// rejected as sources, as is an empty branch. Refused while an agent run
// is in progress.
func (s *GitService) DeployToMain(ctx context.Context, branch string) (string, error) {
	ctx, span := otel.StartGitSpan(ctx, "deploy")
	defer span.End()

	if s.run.InProgress() {
		return "", fmt.Errorf("deploy: %w", domain.ErrRunInProgress)
	}
	branch = strings.TrimSpace(branch)
	if branch == "" || branch == "main" || branch == "master" {
		return "", fmt.Errorf("%w: invalid branch %q", domain.ErrValidation, branch)
	}

	err := s.pool.Run(ctx, func() error {
		if _, err := s.exec(ctx, "checkout", s.cfg.MainBranch); err != nil {
			return fmt.Errorf("checkout %s: %w", s.cfg.MainBranch, err)
		}
		if _, err := s.exec(ctx, "merge", "--no-edit", branch); err != nil {
			return fmt.Errorf("merge %s: %w", branch, err)
		}
		s.push(ctx, s.cfg.Remote, s.cfg.MainBranch)
		return nil
	})
	if err != nil {
		return "", err
	}

	slog.InfoContext(ctx, "deployed to main", "branch", branch, "target", s.cfg.MainBranch)
	return s.cfg.MainBranch, nil
}

// push pushes best-effort: a missing or unreachable remote keeps local
// state intact, so the failure is logged rather than returned.
func (s *GitService) push(ctx context.Context, args ...string) {
	if _, err := s.exec(ctx, append([]string{"push"}, args...)...); err != nil {
		slog.WarnContext(ctx, "git push failed", "error", err)
	}
}

// exec runs one git command in the working tree.
func (s *GitService) exec(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = s.workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}
