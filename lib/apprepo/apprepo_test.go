// Copyright 2026 The Lyra Authors
// SPDX-License-Identifier: Apache-2.0

package apprepo

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// testRemote is a local bare repository standing in for the app release
// remote, plus a seed worktree that pushes to it.
type testRemote struct {
	t    *testing.T
	URL  string
	seed *git.Repository
	dir  string
}

func newTestRemote(t *testing.T) *testRemote {
	t.Helper()
	root := t.TempDir()

	bareDir := filepath.Join(root, "remote.git")
	if _, err := git.PlainInitWithOptions(bareDir, &git.PlainInitOptions{
		Bare:        true,
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	}); err != nil {
		t.Fatalf("init bare remote: %v", err)
	}

	seedDir := filepath.Join(root, "seed")
	seed, err := git.PlainInitWithOptions(seedDir, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.Main},
	})
	if err != nil {
		t.Fatalf("init seed repo: %v", err)
	}
	if _, err := seed.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{bareDir},
	}); err != nil {
		t.Fatalf("add remote: %v", err)
	}

	return &testRemote{t: t, URL: bareDir, seed: seed, dir: seedDir}
}

// commit writes a file, commits it, and pushes. Returns the commit hash.
func (r *testRemote) commit(name, content string) plumbing.Hash {
	r.t.Helper()
	if err := os.WriteFile(filepath.Join(r.dir, name), []byte(content), 0644); err != nil {
		r.t.Fatalf("write %s: %v", name, err)
	}
	worktree, err := r.seed.Worktree()
	if err != nil {
		r.t.Fatalf("worktree: %v", err)
	}
	if _, err := worktree.Add(name); err != nil {
		r.t.Fatalf("add %s: %v", name, err)
	}
	hash, err := worktree.Commit("add "+name, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "release",
			Email: "release@example.com",
			When:  time.Date(2026, 8, 25, 9, 0, 0, 0, time.UTC),
		},
	})
	if err != nil {
		r.t.Fatalf("commit %s: %v", name, err)
	}
	r.push()
	return hash
}

func (r *testRemote) push() {
	r.t.Helper()
	err := r.seed.Push(&git.PushOptions{
		RemoteName: "origin",
		RefSpecs: []gitconfig.RefSpec{
			"refs/heads/*:refs/heads/*",
			"refs/tags/*:refs/tags/*",
		},
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		r.t.Fatalf("push: %v", err)
	}
}

// tag creates a tag on the given commit and pushes it. opts nil makes a
// lightweight tag.
func (r *testRemote) tag(name string, hash plumbing.Hash, opts *git.CreateTagOptions) {
	r.t.Helper()
	if _, err := r.seed.CreateTag(name, hash, opts); err != nil {
		r.t.Fatalf("tag %s: %v", name, err)
	}
	r.push()
}

func TestSyncClonesAtBranch(t *testing.T) {
	remote := newTestRemote(t)
	remote.commit("manifest.jsonc", `{"binary": "client"}`)
	second := remote.commit("client", "#!/bin/sh\n")

	dir := filepath.Join(t.TempDir(), "app")
	result, err := Sync(context.Background(), dir, remote.URL, "main", nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if !result.Cloned {
		t.Error("Cloned = false, want true for a fresh checkout")
	}
	if result.Commit != second.String() {
		t.Errorf("Commit = %s, want %s", result.Commit, second.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "client")); err != nil {
		t.Errorf("checkout is missing the committed file: %v", err)
	}
}

func TestSyncConvergedIsNoop(t *testing.T) {
	remote := newTestRemote(t)
	remote.commit("manifest.jsonc", `{"binary": "client"}`)

	dir := filepath.Join(t.TempDir(), "app")
	if _, err := Sync(context.Background(), dir, remote.URL, "main", nil); err != nil {
		t.Fatalf("first Sync: %v", err)
	}

	result, err := Sync(context.Background(), dir, remote.URL, "main", nil)
	if err != nil {
		t.Fatalf("second Sync: %v", err)
	}
	if result.Cloned || result.Updated {
		t.Errorf("converged re-run: Cloned = %v, Updated = %v, want false, false",
			result.Cloned, result.Updated)
	}
}

func TestSyncFastForwardsExistingCheckout(t *testing.T) {
	remote := newTestRemote(t)
	remote.commit("manifest.jsonc", `{"binary": "client"}`)

	dir := filepath.Join(t.TempDir(), "app")
	if _, err := Sync(context.Background(), dir, remote.URL, "main", nil); err != nil {
		t.Fatalf("initial Sync: %v", err)
	}

	newer := remote.commit("client", "v2\n")
	result, err := Sync(context.Background(), dir, remote.URL, "main", nil)
	if err != nil {
		t.Fatalf("Sync after remote moved: %v", err)
	}
	if result.Cloned {
		t.Error("Cloned = true, want false for an existing checkout")
	}
	if !result.Updated {
		t.Error("Updated = false, want true after the remote moved")
	}
	if result.Commit != newer.String() {
		t.Errorf("Commit = %s, want %s", result.Commit, newer.String())
	}
	content, err := os.ReadFile(filepath.Join(dir, "client"))
	if err != nil {
		t.Fatalf("reading synced file: %v", err)
	}
	if string(content) != "v2\n" {
		t.Errorf("synced file = %q, want %q", content, "v2\n")
	}
}

func TestSyncAtPinnedCommit(t *testing.T) {
	remote := newTestRemote(t)
	first := remote.commit("manifest.jsonc", `{"binary": "client"}`)
	remote.commit("client", "v2\n")

	dir := filepath.Join(t.TempDir(), "app")
	result, err := Sync(context.Background(), dir, remote.URL, first.String(), nil)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if result.Commit != first.String() {
		t.Errorf("Commit = %s, want pinned %s", result.Commit, first.String())
	}
	if _, err := os.Stat(filepath.Join(dir, "client")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file from a later commit present in pinned checkout (stat err = %v)", err)
	}
}

func TestSyncAtTag(t *testing.T) {
	remote := newTestRemote(t)
	first := remote.commit("manifest.jsonc", `{"binary": "client"}`)
	second := remote.commit("client", "v2\n")
	remote.tag("v1.0.0", first, nil)
	remote.tag("v2.0.0", second, &git.CreateTagOptions{
		Tagger: &object.Signature{
			Name:  "release",
			Email: "release@example.com",
			When:  time.Date(2026, 8, 25, 9, 5, 0, 0, time.UTC),
		},
		Message: "second release",
	})

	lightweight := filepath.Join(t.TempDir(), "light")
	result, err := Sync(context.Background(), lightweight, remote.URL, "v1.0.0", nil)
	if err != nil {
		t.Fatalf("Sync at lightweight tag: %v", err)
	}
	if result.Commit != first.String() {
		t.Errorf("lightweight tag Commit = %s, want %s", result.Commit, first.String())
	}

	annotated := filepath.Join(t.TempDir(), "annotated")
	result, err = Sync(context.Background(), annotated, remote.URL, "v2.0.0", nil)
	if err != nil {
		t.Fatalf("Sync at annotated tag: %v", err)
	}
	if result.Commit != second.String() {
		t.Errorf("annotated tag Commit = %s, want peeled %s", result.Commit, second.String())
	}
}

func TestSyncDiscardsLocalChanges(t *testing.T) {
	remote := newTestRemote(t)
	remote.commit("client", "v1\n")

	dir := filepath.Join(t.TempDir(), "app")
	if _, err := Sync(context.Background(), dir, remote.URL, "main", nil); err != nil {
		t.Fatalf("initial Sync: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "client"), []byte("mangled\n"), 0644); err != nil {
		t.Fatalf("mangling checkout: %v", err)
	}

	remote.commit("client", "v2\n")
	if _, err := Sync(context.Background(), dir, remote.URL, "main", nil); err != nil {
		t.Fatalf("re-Sync: %v", err)
	}
	content, err := os.ReadFile(filepath.Join(dir, "client"))
	if err != nil {
		t.Fatalf("reading restored file: %v", err)
	}
	if string(content) != "v2\n" {
		t.Errorf("file after re-sync = %q, want %q", content, "v2\n")
	}
}

func TestSyncUnknownRef(t *testing.T) {
	remote := newTestRemote(t)
	remote.commit("manifest.jsonc", `{"binary": "client"}`)

	dir := filepath.Join(t.TempDir(), "app")
	_, err := Sync(context.Background(), dir, remote.URL, "no-such-ref", nil)
	if err == nil {
		t.Fatal("Sync with unknown ref succeeded, want error")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want mention of the missing ref", err)
	}
}

func TestSyncEmptyRef(t *testing.T) {
	if _, err := Sync(context.Background(), t.TempDir(), "ignored", "", nil); err == nil {
		t.Fatal("Sync with empty ref succeeded, want error")
	}
}

func TestSyncBadRemote(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "app")
	_, err := Sync(context.Background(), dir, filepath.Join(t.TempDir(), "nowhere"), "main", nil)
	if err == nil {
		t.Fatal("Sync from a missing remote succeeded, want error")
	}
}

func TestIsCommitHash(t *testing.T) {
	tests := []struct {
		ref  string
		want bool
	}{
		{"0123456789abcdef0123456789abcdef01234567", true},
		{"0123456789ABCDEF0123456789ABCDEF01234567", false},
		{"0123456789abcdef0123456789abcdef0123456", false},
		{"main", false},
		{"v1.0.0", false},
		{"", false},
	}
	for _, test := range tests {
		if got := isCommitHash(test.ref); got != test.want {
			t.Errorf("isCommitHash(%q) = %v, want %v", test.ref, got, test.want)
		}
	}
}
