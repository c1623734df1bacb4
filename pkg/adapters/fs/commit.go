package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// changeSet stages the file writes and removals of one commit. apply either applies
// every change or restores the files it already touched.
type changeSet struct {
	store   *Store
	writes  map[string][]byte
	removes map[string]bool
	order   []string
}

// backup is the content a path had before apply touched it.
type backup struct {
	path    string
	data    []byte
	existed bool
}

func newChangeSet(s *Store) *changeSet {
	return &changeSet{
		store:   s,
		writes:  make(map[string][]byte),
		removes: make(map[string]bool),
	}
}

func (c *changeSet) write(p string, data []byte) error {
	rel, err := c.store.cleanRel(p)
	if err != nil {
		return err
	}
	if _, ok := c.writes[rel]; !ok && !c.removes[rel] {
		c.order = append(c.order, rel)
	}
	c.writes[rel] = data
	delete(c.removes, rel)
	return nil
}

func (c *changeSet) remove(p string) error {
	rel, err := c.store.cleanRel(p)
	if err != nil {
		return err
	}
	if _, ok := c.writes[rel]; !ok && !c.removes[rel] {
		c.order = append(c.order, rel)
	}
	c.removes[rel] = true
	delete(c.writes, rel)
	return nil
}

func (c *changeSet) apply() error {
	var done []backup
	for _, rel := range c.order {
		full := filepath.Join(c.store.Path, filepath.FromSlash(rel))
		b, err := snapshot(full)
		if err != nil {
			return c.rollback(done, fmt.Errorf("failed to read %s: %w", rel, err))
		}

		if data, ok := c.writes[rel]; ok {
			err = writeFileAtomic(full, data, 0644)
		} else if b.existed {
			err = os.Remove(full)
			if err == nil {
				removeEmptyParents(c.store.Path, full)
			}
		}
		if err != nil {
			return c.rollback(done, fmt.Errorf("failed to apply %s: %w", rel, err))
		}
		done = append(done, b)
	}
	return nil
}

// rollback restores the backups in reverse order and returns cause joined with any
// restore failure.
func (c *changeSet) rollback(done []backup, cause error) error {
	errs := []error{cause}
	for i := len(done) - 1; i >= 0; i-- {
		b := done[i]
		var err error
		if b.existed {
			err = writeFileAtomic(b.path, b.data, 0644)
		} else if err = os.Remove(b.path); os.IsNotExist(err) {
			err = nil
		} else if err == nil {
			removeEmptyParents(c.store.Path, b.path)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("rollback %s: %w", b.path, err))
		}
	}
	c.store.logger.Warn("commit rolled back", "error", cause, "restored", len(done))
	return errors.Join(errs...)
}

func snapshot(full string) (backup, error) {
	data, err := os.ReadFile(full)
	if os.IsNotExist(err) {
		return backup{path: full}, nil
	}
	if err != nil {
		return backup{}, err
	}
	return backup{path: full, data: data, existed: true}, nil
}
