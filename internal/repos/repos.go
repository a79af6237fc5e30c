// Package repos builds the flat repository inventory users address by index
// or name when switching a conversation's working directory.
package repos

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/baton-gw/baton/internal/common/logger"
)

// Repo is one scanned git repository.
type Repo struct {
	Index int    `json:"index"`
	Name  string `json:"name"`
	Path  string `json:"path"`
}

// Inventory is the stable, sorted repository list built once at startup.
type Inventory struct {
	repos []Repo
}

// Scan lists the immediate children of root that contain a .git entry,
// sorted by name so the user-visible indexes stay stable across runs.
func Scan(root string, log *logger.Logger) (*Inventory, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan repos root %s: %w", root, err)
	}

	var repos []Repo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name())
		if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
			continue
		}
		repos = append(repos, Repo{Name: entry.Name(), Path: path})
	}

	sort.Slice(repos, func(i, j int) bool { return repos[i].Name < repos[j].Name })
	for i := range repos {
		repos[i].Index = i + 1
	}

	log.Info("repository inventory built",
		zap.String("root", root),
		zap.Int("count", len(repos)))
	return &Inventory{repos: repos}, nil
}

// Single builds a one-entry inventory for a fixed project directory.
func Single(path, name string) *Inventory {
	if name == "" {
		name = filepath.Base(path)
	}
	return &Inventory{repos: []Repo{{Index: 1, Name: name, Path: path}}}
}

// All returns the inventory in index order.
func (inv *Inventory) All() []Repo {
	out := make([]Repo, len(inv.repos))
	copy(out, inv.repos)
	return out
}

// Len reports the inventory size.
func (inv *Inventory) Len() int { return len(inv.repos) }

// Lookup finds a repo by index (as typed by the user) or by exact name.
func (inv *Inventory) Lookup(id string) (Repo, bool) {
	if n, err := strconv.Atoi(id); err == nil {
		for _, r := range inv.repos {
			if r.Index == n {
				return r, true
			}
		}
		return Repo{}, false
	}
	for _, r := range inv.repos {
		if r.Name == id {
			return r, true
		}
	}
	return Repo{}, false
}
