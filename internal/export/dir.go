package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirDestination writes JSONL batches into a local directory, e.g. a
// mounted share the quality team archives from.
type DirDestination struct {
	dir string
}

func NewDirDestination(dir string) *DirDestination {
	return &DirDestination{dir: dir}
}

// Write stores data as dir/name. The file appears atomically.
func (d *DirDestination) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	final := filepath.Join(d.dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

func (d *DirDestination) String() string {
	return "dir:" + d.dir
}
