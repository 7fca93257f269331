package fixer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// backupLayout is the timestamp suffix of a backup file name.
const backupLayout = "20060102150405"

// maxBackupProbes caps how far ahead the timestamp is advanced when
// backups for the same second already exist.
const maxBackupProbes = 3600

// BackupName returns the backup path for path at time t.
func BackupName(path string, t time.Time) string {
	return path + ".bak." + t.Format(backupLayout)
}

// createBackup copies path to a fresh backup file and returns its name.
// An existing backup is never overwritten: on collision the timestamp is
// advanced one second at a time.
func createBackup(path string, now time.Time) (string, error) {
	src, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return "", err
	}

	var (
		dst  *os.File
		name string
	)
	for i := 0; i < maxBackupProbes; i++ {
		name = BackupName(path, now.Add(time.Duration(i)*time.Second))
		dst, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", err
		}
	}
	if dst == nil {
		return "", fmt.Errorf("no free backup name after %d attempts", maxBackupProbes)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(name)
		return "", err
	}
	if err := dst.Sync(); err != nil {
		dst.Close()
		os.Remove(name)
		return "", err
	}
	if err := dst.Close(); err != nil {
		os.Remove(name)
		return "", err
	}
	return name, nil
}

// writeAtomic replaces path with data via a temp file in the same
// directory, keeping the original permission bits.
func writeAtomic(path string, data []byte, mode fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Chmod(mode.Perm()); err != nil {
		cleanup()
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
