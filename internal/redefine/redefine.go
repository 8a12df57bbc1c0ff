// Package redefine turns changed compiled unit files into fresh type definitions.
package redefine

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zot/hotswap/internal/typeid"
)

// ErrRedefinition is returned when a unit cannot be read or defined.
var ErrRedefinition = errors.New("redefine: cannot define unit")

// Definer loads unit bytes as a new type. Every call must use a fresh
// definition context; a definer never returns a cached handle.
type Definer interface {
	Define(qualifiedName string, data []byte) (typeid.Handle, error)
}

// Redefiner reads unit files and hands their bytes to a Definer.
type Redefiner struct {
	definer Definer
}

// New creates a Redefiner backed by definer.
func New(definer Definer) *Redefiner {
	return &Redefiner{definer: definer}
}

// Redefine reads path and defines it as qualifiedName.
func (r *Redefiner) Redefine(qualifiedName, path string) (typeid.Identity, error) {
	id, _, err := r.RedefineDigest(qualifiedName, path)
	return id, err
}

// RedefineDigest is Redefine that also returns the digest of the bytes it defined.
func (r *Redefiner) RedefineDigest(qualifiedName, path string) (typeid.Identity, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return typeid.Identity{}, "", fmt.Errorf("%w: read %s: %v", ErrRedefinition, path, err)
	}
	id, err := r.Define(qualifiedName, data)
	if err != nil {
		return typeid.Identity{}, "", err
	}
	return id, Digest(data), nil
}

// Define defines data as qualifiedName.
func (r *Redefiner) Define(qualifiedName string, data []byte) (typeid.Identity, error) {
	if r.definer == nil {
		return typeid.Identity{}, fmt.Errorf("%w: no definer", ErrRedefinition)
	}
	handle, err := r.definer.Define(qualifiedName, data)
	if err != nil {
		return typeid.Identity{}, fmt.Errorf("%w: %s: %v", ErrRedefinition, qualifiedName, err)
	}
	id, err := typeid.Wrap(handle)
	if err != nil {
		return typeid.Identity{}, fmt.Errorf("%w: %s: %v", ErrRedefinition, qualifiedName, err)
	}
	return id, nil
}

// Digest returns the hex sha256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// FileDigest returns the hex sha256 of the file at path.
func FileDigest(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return Digest(data), nil
}

// IsUnit reports whether path names a compiled unit.
func IsUnit(path, suffix string) bool {
	return suffix != "" && strings.HasSuffix(path, suffix) && len(filepath.Base(path)) > len(suffix)
}

// QualifiedName maps path to the name of the unit it holds: the path relative
// to root with the suffix stripped and separators replaced by dots.
// out/apps/weather/Header.lua under out is apps.weather.Header.
func QualifiedName(root, path, suffix string) (string, error) {
	if !IsUnit(path, suffix) {
		return "", fmt.Errorf("%s is not a %s unit", path, suffix)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("%s is not under %s: %w", path, root, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%s is not under %s", path, root)
	}
	rel = strings.TrimSuffix(rel, suffix)
	return strings.ReplaceAll(filepath.ToSlash(rel), "/", "."), nil
}
