package fileio

import (
	"fmt"
	"path"

	"github.com/google/uuid"
)

const (
	SchemaDir   = "schema"
	SnapshotDir = "snapshot"
	ManifestDir = "manifest"

	LatestHint   = "LATEST"
	EarliestHint = "EARLIEST"

	SnapshotPrefix = "snapshot-"
)

// PathFactory lays out the files of a table:
//
//	schema/schema-<id>
//	snapshot/snapshot-<id>, snapshot/LATEST, snapshot/EARLIEST
//	manifest/manifest-<uuid>, manifest/manifest-list-<uuid>
//	bucket-<n>/data-<uuid>.parquet, bucket-<n>/changelog-<uuid>.parquet
type PathFactory struct{}

func (PathFactory) SchemaPath(id int64) string {
	return path.Join(SchemaDir, fmt.Sprintf("schema-%d", id))
}

func (PathFactory) SnapshotPath(id int64) string {
	return path.Join(SnapshotDir, fmt.Sprintf("%s%d", SnapshotPrefix, id))
}

func (PathFactory) HintPath(hint string) string {
	return path.Join(SnapshotDir, hint)
}

func (PathFactory) ManifestPath(name string) string {
	return path.Join(ManifestDir, name)
}

func (PathFactory) NewManifestName() string {
	return "manifest-" + uuid.NewString()
}

func (PathFactory) NewManifestListName() string {
	return "manifest-list-" + uuid.NewString()
}

func (PathFactory) BucketDir(bucket int) string {
	return fmt.Sprintf("bucket-%d", bucket)
}

func (f PathFactory) DataFilePath(bucket int, name string) string {
	return path.Join(f.BucketDir(bucket), name)
}

func (PathFactory) NewDataFileName() string {
	return "data-" + uuid.NewString() + ".parquet"
}

func (PathFactory) NewChangelogFileName() string {
	return "changelog-" + uuid.NewString() + ".parquet"
}
