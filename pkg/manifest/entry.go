package manifest

import (
	"fmt"

	"tablestream/pkg/format"
)

type FileKind int8

const (
	FileKindAdd FileKind = iota
	FileKindDelete
)

func (k FileKind) String() string {
	switch k {
	case FileKindAdd:
		return "ADD"
	case FileKindDelete:
		return "DELETE"
	}
	return fmt.Sprintf("FileKind(%d)", int8(k))
}

// DataFileMeta describes one immutable data file of a bucket.
type DataFileMeta struct {
	FileName           string          `json:"fileName"`
	FileSize           int64           `json:"fileSize"`
	RowCount           int64           `json:"rowCount"`
	MinKey             []byte          `json:"minKey,omitempty"`
	MaxKey             []byte          `json:"maxKey,omitempty"`
	KeyStats           format.KeyStats `json:"keyStats"`
	MinSequence        int64           `json:"minSequence"`
	MaxSequence        int64           `json:"maxSequence"`
	Level              int             `json:"level"`
	SchemaID           int64           `json:"schemaId"`
	CreationTimeMillis int64           `json:"creationTimeMillis"`
}

func NewDataFileMeta(name string, info *format.FileInfo, level int, schemaID int64, creationTimeMillis int64) DataFileMeta {
	return DataFileMeta{
		FileName:           name,
		FileSize:           info.FileSize,
		RowCount:           info.RowCount,
		MinKey:             info.MinKey,
		MaxKey:             info.MaxKey,
		KeyStats:           info.KeyStats,
		MinSequence:        info.MinSequence,
		MaxSequence:        info.MaxSequence,
		Level:              level,
		SchemaID:           schemaID,
		CreationTimeMillis: creationTimeMillis,
	}
}

// Upgrade returns a copy of the meta moved to level.
func (m DataFileMeta) Upgrade(level int) DataFileMeta {
	m.Level = level
	return m
}

func (m DataFileMeta) String() string {
	return fmt.Sprintf("{%s, level %d, rows %d, seq [%d, %d]}",
		m.FileName, m.Level, m.RowCount, m.MinSequence, m.MaxSequence)
}

// ManifestEntry records a file being added to or removed from a bucket.
type ManifestEntry struct {
	Kind         FileKind     `json:"kind"`
	Bucket       int          `json:"bucket"`
	TotalBuckets int          `json:"totalBuckets"`
	File         DataFileMeta `json:"file"`
}

// Identifier is unique per live file of a table.
type Identifier struct {
	Bucket   int
	Level    int
	FileName string
}

func (e ManifestEntry) Identifier() Identifier {
	return Identifier{Bucket: e.Bucket, Level: e.File.Level, FileName: e.File.FileName}
}

func (e ManifestEntry) String() string {
	return fmt.Sprintf("%s bucket %d/%d %s", e.Kind, e.Bucket, e.TotalBuckets, e.File)
}

// MergeEntries folds entries in order: a DELETE cancels the matching earlier
// ADD, a DELETE with no ADD before it is kept so it can cancel an ADD from
// an older manifest. The output keeps first-seen order.
func MergeEntries(entries []ManifestEntry) []ManifestEntry {
	merged := make(map[Identifier]ManifestEntry, len(entries))
	order := make([]Identifier, 0, len(entries))
	for _, e := range entries {
		id := e.Identifier()
		switch e.Kind {
		case FileKindAdd:
			if _, ok := merged[id]; !ok {
				order = append(order, id)
			}
			merged[id] = e
		case FileKindDelete:
			if prev, ok := merged[id]; ok && prev.Kind == FileKindAdd {
				delete(merged, id)
			} else {
				if !ok {
					order = append(order, id)
				}
				merged[id] = e
			}
		}
	}
	out := make([]ManifestEntry, 0, len(merged))
	for _, id := range order {
		if e, ok := merged[id]; ok {
			out = append(out, e)
			delete(merged, id)
		}
	}
	return out
}
