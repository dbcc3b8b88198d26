package native

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/openfroyo/provengine/pkg/engine"
	"github.com/openfroyo/provengine/pkg/status"
)

// Memento keys.
const (
	keyCreated = "created"
	keyRemoved = "removed"
	keyMode    = "mode"
	keyTarget  = "target"
	keyBackup  = "backup"
	keyPath    = "path"
)

// mkdirAction creates a directory and any missing parents. Undo removes
// the directories it created, deepest first.
type mkdirAction struct {
	engine.Memento
}

func (a *mkdirAction) Execute(params engine.Parameters) *status.Status {
	v, st := args(params, "mkdir", "path")
	if st != nil {
		return st
	}
	path := filepath.Clean(v[0])

	var created []string
	for p := path; ; {
		if _, err := os.Stat(p); err == nil {
			break
		}
		created = append(created, p)
		parent := filepath.Dir(p)
		if parent == p {
			break
		}
		p = parent
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return status.Error(source, fmt.Sprintf("mkdir: failed to create %s", path), err)
	}
	a.Put(keyCreated, created)
	return status.OK()
}

func (a *mkdirAction) Undo(engine.Parameters) *status.Status {
	v, ok := a.Get(keyCreated)
	if !ok {
		return status.OK()
	}
	a.Remove(keyCreated)

	result := status.NewMulti(source, "undo mkdir")
	for _, dir := range v.([]string) {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			result.Add(status.Warning(source, fmt.Sprintf("failed to remove %s", dir), err))
		}
	}
	return result
}

// rmdirAction removes an empty directory.
type rmdirAction struct {
	engine.Memento
}

func (a *rmdirAction) Execute(params engine.Parameters) *status.Status {
	v, st := args(params, "rmdir", "path")
	if st != nil {
		return st
	}
	path := v[0]

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return status.OK()
	}
	if err != nil {
		return status.Error(source, fmt.Sprintf("rmdir: failed to stat %s", path), err)
	}
	if !info.IsDir() {
		return status.Errorf(source, "rmdir: %s is not a directory", path)
	}
	if err := os.Remove(path); err != nil {
		return status.Error(source, fmt.Sprintf("rmdir: failed to remove %s", path), err)
	}
	a.Put(keyRemoved, path)
	a.Put(keyMode, info.Mode().Perm())
	return status.OK()
}

func (a *rmdirAction) Undo(engine.Parameters) *status.Status {
	v, ok := a.Get(keyRemoved)
	if !ok {
		return status.OK()
	}
	mode, _ := a.Get(keyMode)
	a.Remove(keyRemoved)
	a.Remove(keyMode)

	if err := os.MkdirAll(v.(string), mode.(fs.FileMode)); err != nil {
		return status.Error(source, fmt.Sprintf("failed to recreate %s", v), err)
	}
	return status.OK()
}

// copyAction copies a file or directory tree. An existing target is
// replaced only with overwrite:true, and is backed up first.
type copyAction struct {
	engine.Memento
}

func (a *copyAction) Execute(params engine.Parameters) *status.Status {
	v, st := args(params, "copy", "source", "target")
	if st != nil {
		return st
	}
	src, target := v[0], v[1]
	overwrite, _ := strconv.ParseBool(params.Value("overwrite"))

	if _, err := os.Stat(src); err != nil {
		return status.Error(source, fmt.Sprintf("copy: source %s is not readable", src), err)
	}
	if _, err := os.Lstat(target); err == nil {
		if !overwrite {
			return status.Errorf(source, "copy: target %s already exists", target)
		}
		backup, err := moveToBackup(params, target)
		if err != nil {
			return status.Error(source, fmt.Sprintf("copy: failed to back up %s", target), err)
		}
		a.Put(keyBackup, backup)
	}

	a.Put(keyTarget, target)
	if err := copyTree(src, target); err != nil {
		return status.Error(source, fmt.Sprintf("copy: failed to copy %s to %s", src, target), err)
	}
	return status.OK()
}

func (a *copyAction) Undo(engine.Parameters) *status.Status {
	v, ok := a.Get(keyTarget)
	if !ok {
		return status.OK()
	}
	target := v.(string)
	a.Remove(keyTarget)

	if err := os.RemoveAll(target); err != nil {
		return status.Error(source, fmt.Sprintf("failed to remove copied %s", target), err)
	}
	if backup, ok := a.Get(keyBackup); ok {
		a.Remove(keyBackup)
		if err := os.Rename(backup.(string), target); err != nil {
			return status.Error(source, fmt.Sprintf("failed to restore %s", target), err)
		}
	}
	return status.OK()
}

// removeAction moves a file or directory tree to the backup directory.
type removeAction struct {
	engine.Memento
}

func (a *removeAction) Execute(params engine.Parameters) *status.Status {
	v, st := args(params, "remove", "path")
	if st != nil {
		return st
	}
	path := v[0]
	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return status.OK()
	}

	backup, err := moveToBackup(params, path)
	if err != nil {
		return status.Error(source, fmt.Sprintf("remove: failed to remove %s", path), err)
	}
	a.Put(keyPath, path)
	a.Put(keyBackup, backup)
	return status.OK()
}

func (a *removeAction) Undo(engine.Parameters) *status.Status {
	path, ok := a.Get(keyPath)
	if !ok {
		return status.OK()
	}
	backup, _ := a.Get(keyBackup)
	a.Remove(keyPath)
	a.Remove(keyBackup)

	if err := os.MkdirAll(filepath.Dir(path.(string)), 0755); err != nil {
		return status.Error(source, fmt.Sprintf("failed to restore %s", path), err)
	}
	if err := os.Rename(backup.(string), path.(string)); err != nil {
		return status.Error(source, fmt.Sprintf("failed to restore %s", path), err)
	}
	return status.OK()
}

// chmodAction sets the permission bits of a file, given in octal.
type chmodAction struct {
	engine.Memento
}

func (a *chmodAction) Execute(params engine.Parameters) *status.Status {
	v, st := args(params, "chmod", "path", "permissions")
	if st != nil {
		return st
	}
	path := v[0]
	perm, err := strconv.ParseUint(v[1], 8, 32)
	if err != nil || perm > 0777 {
		return status.Errorf(source, "chmod: invalid permissions %q", v[1])
	}

	info, err := os.Stat(path)
	if err != nil {
		return status.Error(source, fmt.Sprintf("chmod: failed to stat %s", path), err)
	}
	if err := os.Chmod(path, fs.FileMode(perm)); err != nil {
		return status.Error(source, fmt.Sprintf("chmod: failed to change %s", path), err)
	}
	a.Put(keyPath, path)
	a.Put(keyMode, info.Mode().Perm())
	return status.OK()
}

func (a *chmodAction) Undo(engine.Parameters) *status.Status {
	path, ok := a.Get(keyPath)
	if !ok {
		return status.OK()
	}
	mode, _ := a.Get(keyMode)
	a.Remove(keyPath)
	a.Remove(keyMode)

	if err := os.Chmod(path.(string), mode.(fs.FileMode)); err != nil {
		return status.Error(source, fmt.Sprintf("failed to restore the permissions of %s", path), err)
	}
	return status.OK()
}

// moveToBackup renames path into a fresh directory below the session's
// backup directory and returns the new location.
func moveToBackup(params engine.Parameters, path string) (string, error) {
	root := backupDir(params)
	if err := os.MkdirAll(root, 0700); err != nil {
		return "", err
	}
	dir, err := os.MkdirTemp(root, "entry-")
	if err != nil {
		return "", err
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		os.Remove(dir)
		return "", err
	}
	return dest, nil
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("unsupported file type %s at %s", info.Mode().Type(), path)
		}
		return copyFile(path, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, perm fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
