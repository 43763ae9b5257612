// Package prompts loads guidance text from a prompts directory with
// generic/ and private/ subdirectories. Keys resolve through ordered
// candidates (language-qualified first) and optional extensions.
package prompts

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrPromptNotFound is returned when no candidate key resolves to a file.
var ErrPromptNotFound = errors.New("prompt not found")

var promptExtensions = []string{"", ".txt", ".md"}

// Metadata is the optional YAML front matter a prompt file may carry.
type Metadata struct {
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// Bundle is the resolved prompt pair for one request. The private half is
// optional.
type Bundle struct {
	GenericKey  string
	GenericPath string
	GenericText string
	PrivateKey  string
	PrivatePath string
	PrivateText string
}

// Repository resolves prompt keys under a root directory.
type Repository struct {
	root       string
	genericDir string
	privateDir string
}

// NewRepository points a repository at a prompts root.
func NewRepository(root string) *Repository {
	return &Repository{
		root:       root,
		genericDir: filepath.Join(root, "generic"),
		privateDir: filepath.Join(root, "private"),
	}
}

// ResolveFromCandidates walks the ordered candidate keys and returns the
// first generic and private prompts found. A missing generic prompt always
// fails; a missing private prompt fails only when privateRequired is set
// (an explicitly requested key must exist).
func (r *Repository) ResolveFromCandidates(genericCandidates, privateCandidates []string, privateRequired bool) (*Bundle, error) {
	genericKey, genericPath, genericText, err := r.resolveFirst(r.genericDir, genericCandidates)
	if err != nil {
		return nil, fmt.Errorf("generic prompt %v: %w", genericCandidates, err)
	}

	bundle := &Bundle{
		GenericKey:  genericKey,
		GenericPath: genericPath,
		GenericText: genericText,
	}

	if len(privateCandidates) > 0 {
		key, path, text, err := r.resolveFirst(r.privateDir, privateCandidates)
		if err != nil {
			if privateRequired {
				return nil, fmt.Errorf("private prompt %v: %w", privateCandidates, err)
			}
		} else {
			bundle.PrivateKey = key
			bundle.PrivatePath = path
			bundle.PrivateText = text
		}
	}

	return bundle, nil
}

func (r *Repository) resolveFirst(dir string, candidates []string) (key, path, text string, err error) {
	for _, candidate := range candidates {
		candidate = strings.TrimSpace(candidate)
		if candidate == "" {
			continue
		}
		resolved, ok := resolveWithExtensions(dir, candidate)
		if !ok {
			continue
		}
		data, readErr := os.ReadFile(resolved)
		if readErr != nil {
			return "", "", "", fmt.Errorf("read prompt %q: %w", resolved, readErr)
		}
		body, _ := stripFrontMatter(string(data))
		return candidate, resolved, strings.TrimSpace(body), nil
	}
	return "", "", "", ErrPromptNotFound
}

func resolveWithExtensions(dir, key string) (string, bool) {
	for _, ext := range promptExtensions {
		candidate := filepath.Join(dir, key+ext)
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate, true
		}
	}
	return "", false
}

// stripFrontMatter removes a leading YAML front matter block when present
// and well formed; otherwise the content is returned untouched.
func stripFrontMatter(content string) (body string, meta Metadata) {
	const marker = "---"
	trimmed := strings.TrimLeft(content, "\n\r")
	if !strings.HasPrefix(trimmed, marker+"\n") {
		return content, Metadata{}
	}
	rest := trimmed[len(marker)+1:]
	end := strings.Index(rest, "\n"+marker)
	if end < 0 {
		return content, Metadata{}
	}
	block := rest[:end]
	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		return content, Metadata{}
	}
	body = rest[end+len(marker)+1:]
	body = strings.TrimPrefix(body, "\n")
	return body, meta
}
