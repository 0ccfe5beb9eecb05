package snapshot

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"tablestream/pkg/fileio"

	"github.com/sirupsen/logrus"
)

// Manager keeps snapshots as files under snapshot/. LATEST and EARLIEST are
// hints only: the real bounds are found by probing from them.
type Manager struct {
	fio  fileio.FileIO
	path fileio.PathFactory
}

func NewManager(fio fileio.FileIO) *Manager {
	return &Manager{fio: fio}
}

func (m *Manager) Snapshot(ctx context.Context, id int64) (*Snapshot, error) {
	data, err := m.fio.ReadFile(ctx, m.path.SnapshotPath(id))
	if errors.Is(err, fileio.ErrNotExist) {
		return nil, fmt.Errorf("%w: %d", ErrSnapshotNotFound, id)
	} else if err != nil {
		return nil, err
	}
	return Unmarshal(data)
}

func (m *Manager) SnapshotExists(ctx context.Context, id int64) (bool, error) {
	return m.fio.Exists(ctx, m.path.SnapshotPath(id))
}

func (m *Manager) LatestSnapshotID(ctx context.Context) (int64, bool, error) {
	id, ok, err := m.readHint(ctx, fileio.LatestHint)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		return m.findByListing(ctx, true)
	}
	exists, err := m.SnapshotExists(ctx, id)
	if err != nil {
		return 0, false, err
	}
	if !exists {
		return m.findByListing(ctx, true)
	}
	for {
		exists, err := m.SnapshotExists(ctx, id+1)
		if err != nil {
			return 0, false, err
		}
		if !exists {
			return id, true, nil
		}
		id++
	}
}

func (m *Manager) EarliestSnapshotID(ctx context.Context) (int64, bool, error) {
	id, ok, err := m.readHint(ctx, fileio.EarliestHint)
	if err != nil {
		return 0, false, err
	}
	if ok {
		exists, err := m.SnapshotExists(ctx, id)
		if err != nil {
			return 0, false, err
		}
		if exists {
			return id, true, nil
		}
	}
	return m.findByListing(ctx, false)
}

// IDs lists the retained snapshot ids in ascending order.
func (m *Manager) IDs(ctx context.Context) ([]int64, error) {
	names, err := m.fio.List(ctx, fileio.SnapshotDir)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(names))
	for _, name := range names {
		if !strings.HasPrefix(name, fileio.SnapshotPrefix) {
			continue
		}
		id, err := strconv.ParseInt(strings.TrimPrefix(name, fileio.SnapshotPrefix), 10, 64)
		if err != nil {
			logrus.Warnf("Ignore unexpected file %s in snapshot directory", name)
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *Manager) findByListing(ctx context.Context, latest bool) (int64, bool, error) {
	ids, err := m.IDs(ctx)
	if err != nil || len(ids) == 0 {
		return 0, false, err
	}
	if latest {
		return ids[len(ids)-1], true, nil
	}
	return ids[0], true, nil
}

func (m *Manager) readHint(ctx context.Context, hint string) (int64, bool, error) {
	data, err := m.fio.ReadFile(ctx, m.path.HintPath(hint))
	if errors.Is(err, fileio.ErrNotExist) {
		return 0, false, nil
	} else if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		logrus.Warnf("Ignore corrupted %s hint %q", hint, data)
		return 0, false, nil
	}
	return id, true, nil
}

func (m *Manager) writeHint(ctx context.Context, hint string, id int64) error {
	return m.fio.WriteFile(ctx, m.path.HintPath(hint), []byte(strconv.FormatInt(id, 10)), true)
}

// Commit publishes s. It fails with ErrSnapshotExists if another committer
// already took the id.
func (m *Manager) Commit(ctx context.Context, s *Snapshot) error {
	data, err := s.Marshal()
	if err != nil {
		return err
	}
	err = m.fio.WriteFile(ctx, m.path.SnapshotPath(s.ID), data, false)
	if errors.Is(err, fileio.ErrExist) {
		return fmt.Errorf("%w: %d", ErrSnapshotExists, s.ID)
	} else if err != nil {
		return err
	}
	if err = m.writeHint(ctx, fileio.LatestHint, s.ID); err != nil {
		logrus.Warnf("Failed to update LATEST hint to %d: %v", s.ID, err)
	}
	if s.ID == 0 {
		if err = m.writeHint(ctx, fileio.EarliestHint, 0); err != nil {
			logrus.Warnf("Failed to update EARLIEST hint: %v", err)
		}
	}
	logrus.WithFields(logrus.Fields{"id": s.ID, "kind": s.CommitKind}).Info("Committed snapshot")
	return nil
}

// Expire drops the metadata of every snapshot below retainFrom. The latest
// snapshot is always kept. Data files are left alone.
func (m *Manager) Expire(ctx context.Context, retainFrom int64) (int, error) {
	latest, ok, err := m.LatestSnapshotID(ctx)
	if !ok || err != nil {
		return 0, err
	}
	if retainFrom > latest {
		retainFrom = latest
	}
	ids, err := m.IDs(ctx)
	if err != nil {
		return 0, err
	}
	if err = m.writeHint(ctx, fileio.EarliestHint, retainFrom); err != nil {
		return 0, err
	}
	expired := 0
	for _, id := range ids {
		if id >= retainFrom {
			break
		}
		if err = m.fio.Delete(ctx, m.path.SnapshotPath(id)); err != nil {
			return expired, err
		}
		expired++
	}
	if expired > 0 {
		logrus.Infof("Expired %d snapshots before %d", expired, retainFrom)
	}
	return expired, nil
}
