package options

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	BucketKey              = "bucket"
	BucketKeyKey           = "bucket-key"
	ChangelogProducerKey   = "changelog-producer"
	ScanModeKey            = "scan.mode"
	ScanTimestampMillisKey = "scan.timestamp-millis"
	ScanSnapshotIDKey      = "scan.snapshot-id"
	WriteBufferRowsKey     = "write-buffer-rows"
	ManifestParallelismKey = "scan.manifest.parallelism"
	StreamingUpsertKey     = "streaming-read.upsert"
	CommitUserKey          = "commit.user"
	SnapshotRetainedKey    = "snapshot.num-retained"
)

var ErrInvalidOption = errors.New("tablestream: invalid table option")

type ChangelogProducer string

const (
	ChangelogNone           ChangelogProducer = "none"
	ChangelogInput          ChangelogProducer = "input"
	ChangelogFullCompaction ChangelogProducer = "full-compaction"
)

type StartupMode string

const (
	StartupFull          StartupMode = "full"
	StartupLatest        StartupMode = "latest"
	StartupFromTimestamp StartupMode = "from-timestamp"
	StartupFromSnapshot  StartupMode = "from-snapshot"
)

type Options struct {
	Bucket              int               `validate:"min=1,max=2147483647"`
	BucketKey           string
	ChangelogProducer   ChangelogProducer `validate:"oneof=none input full-compaction"`
	StartupMode         StartupMode       `validate:"oneof=full latest from-timestamp from-snapshot"`
	TimestampMillis     int64             `validate:"required_if=StartupMode from-timestamp"`
	SnapshotID          int64             `validate:"min=0"`
	WriteBufferRows     int               `validate:"min=1"`
	ManifestParallelism int               `validate:"min=1"`
	StreamingUpsert     bool
	CommitUser          string            `validate:"required"`
	SnapshotsRetained   int               `validate:"min=0"`
}

var validate = validator.New()

func Default() Options {
	return Options{
		Bucket:              1,
		ChangelogProducer:   ChangelogNone,
		StartupMode:         StartupFull,
		WriteBufferRows:     1024,
		ManifestParallelism: 4,
		StreamingUpsert:     true,
		CommitUser:          "tablestream",
	}
}

// FromMap parses the string options of a table. Unknown keys are ignored.
func FromMap(m map[string]string) (Options, error) {
	o := Default()
	var err error
	if v, ok := m[BucketKey]; ok {
		if o.Bucket, err = strconv.Atoi(strings.TrimSpace(v)); err != nil {
			return o, fmt.Errorf("%w: %s=%q", ErrInvalidOption, BucketKey, v)
		}
	}
	o.BucketKey = m[BucketKeyKey]
	if v, ok := m[ChangelogProducerKey]; ok {
		o.ChangelogProducer = ChangelogProducer(strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := m[ScanModeKey]; ok {
		o.StartupMode = StartupMode(strings.ToLower(strings.TrimSpace(v)))
	}
	if v, ok := m[ScanTimestampMillisKey]; ok {
		if o.TimestampMillis, err = strconv.ParseInt(strings.TrimSpace(v), 10, 64); err != nil {
			return o, fmt.Errorf("%w: %s=%q", ErrInvalidOption, ScanTimestampMillisKey, v)
		}
	}
	if v, ok := m[ScanSnapshotIDKey]; ok {
		if o.SnapshotID, err = strconv.ParseInt(strings.TrimSpace(v), 10, 64); err != nil {
			return o, fmt.Errorf("%w: %s=%q", ErrInvalidOption, ScanSnapshotIDKey, v)
		}
	}
	if v, ok := m[WriteBufferRowsKey]; ok {
		if o.WriteBufferRows, err = strconv.Atoi(strings.TrimSpace(v)); err != nil {
			return o, fmt.Errorf("%w: %s=%q", ErrInvalidOption, WriteBufferRowsKey, v)
		}
	}
	if v, ok := m[ManifestParallelismKey]; ok {
		if o.ManifestParallelism, err = strconv.Atoi(strings.TrimSpace(v)); err != nil {
			return o, fmt.Errorf("%w: %s=%q", ErrInvalidOption, ManifestParallelismKey, v)
		}
	}
	if v, ok := m[StreamingUpsertKey]; ok {
		if o.StreamingUpsert, err = strconv.ParseBool(strings.TrimSpace(v)); err != nil {
			return o, fmt.Errorf("%w: %s=%q", ErrInvalidOption, StreamingUpsertKey, v)
		}
	}
	if v, ok := m[CommitUserKey]; ok {
		o.CommitUser = v
	}
	if v, ok := m[SnapshotRetainedKey]; ok {
		if o.SnapshotsRetained, err = strconv.Atoi(strings.TrimSpace(v)); err != nil {
			return o, fmt.Errorf("%w: %s=%q", ErrInvalidOption, SnapshotRetainedKey, v)
		}
	}
	if err = o.Validate(); err != nil {
		return o, err
	}
	return o, nil
}

func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidOption, err.Error())
	}
	return nil
}

// ToMap renders the options back into their string form.
func (o Options) ToMap() map[string]string {
	m := map[string]string{
		BucketKey:              strconv.Itoa(o.Bucket),
		ChangelogProducerKey:   string(o.ChangelogProducer),
		ScanModeKey:            string(o.StartupMode),
		WriteBufferRowsKey:     strconv.Itoa(o.WriteBufferRows),
		ManifestParallelismKey: strconv.Itoa(o.ManifestParallelism),
		StreamingUpsertKey:     strconv.FormatBool(o.StreamingUpsert),
		CommitUserKey:          o.CommitUser,
	}
	if o.BucketKey != "" {
		m[BucketKeyKey] = o.BucketKey
	}
	switch o.StartupMode {
	case StartupFromTimestamp:
		m[ScanTimestampMillisKey] = strconv.FormatInt(o.TimestampMillis, 10)
	case StartupFromSnapshot:
		m[ScanSnapshotIDKey] = strconv.FormatInt(o.SnapshotID, 10)
	}
	if o.SnapshotsRetained > 0 {
		m[SnapshotRetainedKey] = strconv.Itoa(o.SnapshotsRetained)
	}
	return m
}
