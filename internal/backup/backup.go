// Package backup implements backup-before-overwrite for metadata files.
//
// Before a metadata file is rewritten, the previous copy is preserved next to
// it as <name>.bak. Older generations rotate to <name>.bak.1, <name>.bak.2 and
// so on, up to a configured count. The backup must complete before the new
// write starts; a failed backup aborts the whole write.
package backup

import (
	"fmt"
	"io"
	"os"
)

// Suffix is appended to a file's name to form its newest backup path.
const Suffix = ".bak"

// MakeFileBackup copies the file at path to its backup location, rotating
// older generations first. A missing source file is not an error. With
// generations <= 0 no backup is made.
func MakeFileBackup(path string, generations int) error {
	if generations <= 0 {
		return nil
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return fmt.Errorf("cannot back up directory %s", path)
	}

	// Shift older generations out of the way, oldest first.
	for i := generations - 1; i >= 1; i-- {
		older := backupName(path, i-1)
		if _, err := os.Stat(older); err != nil {
			continue
		}
		if err := os.Rename(older, backupName(path, i)); err != nil {
			return fmt.Errorf("failed to rotate backup %s: %w", older, err)
		}
	}

	if err := copyFile(path, backupName(path, 0), info.Mode().Perm()); err != nil {
		return fmt.Errorf("failed to back up %s: %w", path, err)
	}

	return nil
}

// BackupPath returns the newest backup location for path.
func BackupPath(path string) string {
	return backupName(path, 0)
}

func backupName(path string, generation int) string {
	if generation == 0 {
		return path + Suffix
	}
	return fmt.Sprintf("%s%s.%d", path, Suffix, generation)
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
