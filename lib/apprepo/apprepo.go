// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

// Package apprepo manages the client application checkout: a git
// repository pinned to a configured ref, the manifest describing how
// to launch the client, and the integrity record of the client binary.
//
// The checkout is always detached at the resolved commit. Devices never
// commit locally, so there is no branch state to maintain and no merge
// to resolve: Sync fetches, resolves the pinned ref, and force-checks-out
// the target commit. Running it twice is a no-op.
package apprepo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
)

// SyncResult reports what Sync did to the checkout.
type SyncResult struct {
	// Commit is the resolved target commit, hex encoded.
	Commit string

	// Cloned is true when no checkout existed and a fresh clone was made.
	Cloned bool

	// Updated is true when HEAD moved. A converged checkout leaves it
	// false, which is how install detects a no-op re-run.
	Updated bool
}

// Sync ensures dir holds the app repository checked out at ref. A
// missing checkout is cloned from repoURL; an existing one is fetched
// and moved. ref may be a branch name, a tag name, or a full 40-hex
// commit. Local modifications under dir are discarded.
func Sync(ctx context.Context, dir, repoURL, ref string, logger *slog.Logger) (*SyncResult, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if ref == "" {
		return nil, errors.New("app repository ref is empty")
	}

	result := &SyncResult{}
	repo, err := git.PlainOpen(dir)
	switch {
	case errors.Is(err, git.ErrRepositoryNotExists):
		logger.Info("cloning app repository", "url", repoURL, "dir", dir)
		repo, err = git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:  repoURL,
			Tags: git.AllTags,
		})
		if err != nil {
			return nil, fmt.Errorf("cloning %s: %w", repoURL, err)
		}
		result.Cloned = true
	case err != nil:
		return nil, fmt.Errorf("opening app checkout %s: %w", dir, err)
	default:
		err := repo.FetchContext(ctx, &git.FetchOptions{
			RemoteName: "origin",
			RefSpecs:   []gitconfig.RefSpec{"+refs/heads/*:refs/remotes/origin/*"},
			Tags:       git.AllTags,
		})
		if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
			return nil, fmt.Errorf("fetching origin: %w", err)
		}
	}

	target, err := resolveRef(repo, ref)
	if err != nil {
		return nil, err
	}
	result.Commit = target.String()

	if head, err := repo.Head(); err == nil && head.Hash() == target {
		logger.Debug("app checkout already at pinned ref", "ref", ref, "commit", result.Commit)
		return result, nil
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}
	if err := worktree.Checkout(&git.CheckoutOptions{Hash: target, Force: true}); err != nil {
		return nil, fmt.Errorf("checking out %s at %s: %w", ref, result.Commit, err)
	}
	result.Updated = true
	logger.Info("app checkout moved", "ref", ref, "commit", result.Commit, "cloned", result.Cloned)
	return result, nil
}

// resolveRef maps a pinned ref to the commit it names. Branch names
// resolve through the remote-tracking ref so a fetch is enough to pick
// up new commits; annotated tags are peeled to the commit they point
// at; a 40-hex string is used directly after confirming the commit
// exists locally.
func resolveRef(repo *git.Repository, ref string) (plumbing.Hash, error) {
	if isCommitHash(ref) {
		hash := plumbing.NewHash(ref)
		if _, err := repo.CommitObject(hash); err != nil {
			return plumbing.ZeroHash, fmt.Errorf("pinned commit %s not in repository: %w", ref, err)
		}
		return hash, nil
	}

	candidates := []plumbing.ReferenceName{
		plumbing.NewRemoteReferenceName("origin", ref),
		plumbing.NewTagReferenceName(ref),
		plumbing.NewBranchReferenceName(ref),
	}
	for _, name := range candidates {
		reference, err := repo.Reference(name, true)
		if err != nil {
			continue
		}
		return peelToCommit(repo, reference.Hash())
	}
	return plumbing.ZeroHash, fmt.Errorf("ref %q not found (tried origin branch, tag, local branch)", ref)
}

// peelToCommit resolves an annotated tag object to its target commit.
// Lightweight tags and branch refs already point at commits and pass
// through unchanged.
func peelToCommit(repo *git.Repository, hash plumbing.Hash) (plumbing.Hash, error) {
	tag, err := repo.TagObject(hash)
	if err == nil {
		commit, err := tag.Commit()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("peeling tag %s: %w", tag.Name, err)
		}
		return commit.Hash, nil
	}
	if !errors.Is(err, plumbing.ErrObjectNotFound) {
		return plumbing.ZeroHash, fmt.Errorf("inspecting ref target: %w", err)
	}
	return hash, nil
}

// isCommitHash reports whether ref looks like a full commit hash: 40
// lowercase hex characters. Abbreviated hashes are not accepted — a
// pinned deployment records the full hash.
func isCommitHash(ref string) bool {
	if len(ref) != 40 {
		return false
	}
	for _, c := range ref {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
