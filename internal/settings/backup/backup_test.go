package backup

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/dshills/prefkit/internal/prefs"
	"github.com/dshills/prefkit/internal/prefs/memstore"
	"github.com/dshills/prefkit/internal/settings"
	"github.com/dshills/prefkit/internal/settings/notify"
)

type editor struct {
	Wrap    bool
	Tab     int
	Font    string
	Plugins []string
	Limit   *int
	Rulers  []int
}

func editorSchema() *settings.Schema[editor] {
	return settings.MustSchema[editor](editor{Tab: 4, Font: "mono"},
		settings.Bool("wrap", "wrap",
			func(e editor) bool { return e.Wrap },
			func(e editor, v bool) editor { e.Wrap = v; return e }),
		settings.Int("tab", "tab_width",
			func(e editor) int { return e.Tab },
			func(e editor, v int) editor { e.Tab = v; return e }),
		settings.String("font", "font",
			func(e editor) string { return e.Font },
			func(e editor, v string) editor { e.Font = v; return e }),
		settings.StringSet("plugins", "plugins",
			func(e editor) []string { return e.Plugins },
			func(e editor, v []string) editor { e.Plugins = v; return e }),
		settings.NullableInt("limit", "limit",
			func(e editor) *int { return e.Limit },
			func(e editor, v *int) editor { e.Limit = v; return e }),
		settings.List("rulers", "rulers",
			func(e editor) []int { return e.Rulers },
			func(e editor, v []int) editor { e.Rulers = v; return e }),
	)
}

var fixedClock = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }

func seededStore(t *testing.T) *memstore.Store {
	t.Helper()
	store := memstore.New()
	schema := editorSchema()
	limit := 80
	m := editor{Wrap: true, Tab: 2, Font: "a|b=c", Plugins: []string{"lint", "git"}, Limit: &limit, Rulers: []int{80, 120}}
	_, err := store.Edit(context.Background(), func(mut *prefs.Mutable) error {
		for _, f := range schema.Fields() {
			if err := f.WriteAny(mut, f.GetAny(m)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func TestExport(t *testing.T) {
	store := memstore.NewWith(map[string]prefs.Value{
		"wrap":      prefs.BoolValue(true),
		"tab_width": prefs.IntValue(8),
		"unrelated": prefs.StringValue("x"),
	})
	device := &DeviceInfo{Platform: "linux", OSVersion: "6", AppVersion: "1.0"}
	mgr := New(store, editorSchema(), "demo", 3, WithClock(fixedClock), WithDeviceInfo(func() *DeviceInfo { return device }))

	b, err := mgr.Export(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"wrap": "b:true", "tab_width": "i:8"}
	if len(b.Settings) != len(want) {
		t.Fatalf("Settings = %v, want %v", b.Settings, want)
	}
	for k, v := range want {
		if b.Settings[k] != v {
			t.Errorf("Settings[%s] = %q, want %q", k, b.Settings[k], v)
		}
	}
	if b.FormatVersion != 1 || b.SchemaVersion != 3 || b.AppID != "demo" || b.ExportedAt != fixedClock().UnixMilli() {
		t.Errorf("bundle header = %+v", b)
	}
	if b.DeviceInfo == nil || b.DeviceInfo.Platform != "linux" {
		t.Errorf("DeviceInfo = %+v", b.DeviceInfo)
	}
	if !b.VerifyChecksum() {
		t.Error("exported checksum does not verify")
	}

	data, err := b.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, member := range []string{"formatVersion", "schemaVersion", "appId", "exportedAt", "deviceInfo", "settings", "checksum"} {
		if _, ok := raw[member]; !ok {
			t.Errorf("bundle JSON missing %q", member)
		}
	}
}

func TestChecksum_OrderIndependent(t *testing.T) {
	a := Checksum(map[string]string{"a": "s:1", "b": "s:2"})
	b := Checksum(map[string]string{"b": "s:2", "a": "s:1"})
	if a != b {
		t.Errorf("Checksum depends on map order: %s vs %s", a, b)
	}
	if a == Checksum(map[string]string{"a": "s:1", "b": "s:3"}) {
		t.Error("Checksum ignores values")
	}
}

func TestImport_RoundTripIsNoOp(t *testing.T) {
	ctx := context.Background()
	store := seededStore(t)
	schema := editorSchema()
	var notified []notify.Change
	mgr := New(store, schema, "demo", 1, WithChangeHandler(func(c []notify.Change) { notified = append(notified, c...) }))

	before, _ := store.Snapshot(ctx)
	data, err := mgr.ExportJSON(ctx)
	if err != nil {
		t.Fatal(err)
	}
	commits := store.Commits()

	res, err := mgr.Import(ctx, data, DefaultImportOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != schema.Len() || res.Skipped != 0 || len(res.Errors) != 0 {
		t.Errorf("Import() = %+v, want %d applied", res, schema.Len())
	}
	if store.Commits() != commits {
		t.Error("round-trip import committed a change")
	}
	if len(notified) != 0 {
		t.Errorf("round-trip import notified %v", notified)
	}
	after, _ := store.Snapshot(ctx)
	if !schema.Equal(schema.Materialize(before), schema.Materialize(after)) {
		t.Error("model changed after round trip")
	}
}

func TestImport_AppliesIntoEmptyStore(t *testing.T) {
	ctx := context.Background()
	schema := editorSchema()
	src := New(seededStore(t), schema, "demo", 1)
	data, err := src.ExportJSON(ctx)
	if err != nil {
		t.Fatal(err)
	}

	dst := memstore.New()
	var notified []notify.Change
	mgr := New(dst, schema, "demo", 1, WithChangeHandler(func(c []notify.Change) { notified = append(notified, c...) }))
	res, err := mgr.Import(ctx, data, DefaultImportOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != schema.Len() {
		t.Errorf("Applied = %d", res.Applied)
	}

	srcSnap, _ := src.store.Snapshot(ctx)
	dstSnap, _ := dst.Snapshot(ctx)
	if !schema.Equal(schema.Materialize(srcSnap), schema.Materialize(dstSnap)) {
		t.Errorf("imported model = %+v", schema.Materialize(dstSnap))
	}
	if len(notified) == 0 || notified[0].Source != notify.SourceImport {
		t.Errorf("notifications = %+v", notified)
	}
}

func TestValidate_ChecksumTamper(t *testing.T) {
	ctx := context.Background()
	mgr := New(seededStore(t), editorSchema(), "demo", 1)
	data, err := mgr.ExportJSON(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if r := mgr.Validate(data); !r.Valid || len(r.Issues) != 0 || r.SettingsCount != 6 {
		t.Fatalf("Validate(untouched) = %+v", r)
	}

	tampered := bytes.Replace(data, []byte(`"i:2"`), []byte(`"i:3"`), 1)
	if bytes.Equal(tampered, data) {
		t.Fatal("tamper target not found")
	}
	r := mgr.Validate(tampered)
	if r.Valid || !contains(r.Issues, "Checksum mismatch - file may be corrupted") {
		t.Errorf("Validate(tampered) = %+v", r)
	}

	_, err = mgr.Import(ctx, tampered, DefaultImportOptions())
	var ie *ImportError
	if !errors.As(err, &ie) || ie.Code != ChecksumMismatch {
		t.Errorf("Import(tampered) error = %v", err)
	}

	opts := DefaultImportOptions()
	opts.ValidateChecksum = false
	if _, err := mgr.Import(ctx, tampered, opts); err != nil {
		t.Errorf("Import(tampered, no checksum) error = %v", err)
	}
}

func bundleJSON(t *testing.T, appID string, version int, values map[string]string) []byte {
	t.Helper()
	b := &Bundle{FormatVersion: 1, SchemaVersion: version, AppID: appID, Settings: values, Checksum: Checksum(values)}
	data, err := b.Marshal()
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestImport_UnknownKeyTolerance(t *testing.T) {
	ctx := context.Background()
	mgr := New(memstore.New(), editorSchema(), "demo", 1)
	data := bundleJSON(t, "demo", 1, map[string]string{"wrap": "b:true", "mystery": "s:x"})

	res, err := mgr.Import(ctx, data, DefaultImportOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Skipped != 1 || res.Applied != 1 {
		t.Errorf("Import() = %+v", res)
	}

	opts := DefaultImportOptions()
	opts.SkipUnknownFields = false
	_, err = mgr.Import(ctx, data, opts)
	var ie *ImportError
	if !errors.As(err, &ie) || ie.Code != UnknownField {
		t.Errorf("strict Import() error = %v", err)
	}

	r := mgr.Validate(data)
	if !contains(r.Issues, "Unknown settings: mystery") {
		t.Errorf("Validate() issues = %v", r.Issues)
	}
}

func TestImport_Rejections(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	mgr := New(store, editorSchema(), "demo", 2)

	tests := []struct {
		name string
		data []byte
		opts ImportOptions
		code ErrorCode
	}{
		{"garbage", []byte("{not json"), DefaultImportOptions(), ParseError},
		{"no settings", []byte(`{"appId":"demo","checksum":"0"}`), DefaultImportOptions(), ParseError},
		{"other app", bundleJSON(t, "other", 1, map[string]string{"wrap": "b:true"}), DefaultImportOptions(), AppMismatch},
		{"newer", bundleJSON(t, "demo", 3, map[string]string{"wrap": "b:true"}), DefaultImportOptions(), VersionTooNew},
		{"newer without checks", bundleJSON(t, "other", 3, map[string]string{"wrap": "b:true"}), ImportOptions{SkipUnknownFields: true}, VersionTooNew},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := mgr.Import(ctx, tt.data, tt.opts)
			var ie *ImportError
			if !errors.As(err, &ie) || ie.Code != tt.code {
				t.Errorf("Import() error = %v, want code %s", err, tt.code)
			}
		})
	}
	if store.Commits() != 0 {
		t.Error("rejected import committed")
	}

	opts := DefaultImportOptions()
	opts.ValidateAppID = false
	if _, err := mgr.Import(ctx, bundleJSON(t, "other", 1, map[string]string{"wrap": "b:true"}), opts); err != nil {
		t.Errorf("Import(other app, no app check) error = %v", err)
	}
}

func TestImport_PerKeyErrorsDoNotAbort(t *testing.T) {
	ctx := context.Background()
	store := memstore.New()
	mgr := New(store, editorSchema(), "demo", 1)
	data := bundleJSON(t, "demo", 1, map[string]string{
		"wrap":      "b:maybe",
		"tab_width": "i:99999999999",
		"font":      "s:serif",
	})

	res, err := mgr.Import(ctx, data, DefaultImportOptions())
	if err != nil {
		t.Fatal(err)
	}
	if res.Applied != 1 || len(res.Errors) != 2 {
		t.Errorf("Import() = %+v", res)
	}
	snap, _ := store.Snapshot(ctx)
	if v, _ := snap.String("font"); v != "serif" {
		t.Errorf("font = %q", v)
	}
}

func TestValidate_Issues(t *testing.T) {
	mgr := New(memstore.New(), editorSchema(), "demo", 1)

	r := mgr.Validate(bundleJSON(t, "other", 5, map[string]string{"b_key": "s:1", "a_key": "s:2"}))
	want := []string{
		"Different app ID: other",
		"Newer schema version: 5 > 1",
		"Unknown settings: a_key, b_key",
	}
	if r.Valid || len(r.Issues) != len(want) {
		t.Fatalf("Validate() = %+v", r)
	}
	for i := range want {
		if r.Issues[i] != want[i] {
			t.Errorf("issue %d = %q, want %q", i, r.Issues[i], want[i])
		}
	}

	r = mgr.Validate([]byte("nope"))
	if r.Valid || len(r.Issues) != 1 || !strings.HasPrefix(r.Issues[0], "Parse error: ") {
		t.Errorf("Validate(garbage) = %+v", r)
	}
}

func TestFileSink(t *testing.T) {
	ctx := context.Background()
	sink, err := NewFileSink(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mgr := New(seededStore(t), editorSchema(), "demo app", 1)

	name, err := mgr.ExportTo(ctx, sink)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(name, "demo_app-") || !strings.HasSuffix(name, ".json") {
		t.Errorf("name = %q", name)
	}
	names, err := sink.List(ctx)
	if err != nil || len(names) != 1 || names[0] != name {
		t.Errorf("List() = %v, %v", names, err)
	}

	res, err := mgr.ImportFrom(ctx, sink, name, DefaultImportOptions())
	if err != nil || res.Applied != 6 {
		t.Errorf("ImportFrom() = %+v, %v", res, err)
	}

	if _, err := sink.Get(ctx, "missing.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v", err)
	}
	if err := sink.Put(ctx, "../escape.json", nil); err == nil {
		t.Error("Put accepted a path outside the directory")
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	prefix := aws.ToString(in.Bucket) + "/" + aws.ToString(in.Prefix)
	out := &s3.ListObjectsV2Output{}
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(strings.TrimPrefix(k, aws.ToString(in.Bucket)+"/"))})
		}
	}
	return out, nil
}

func TestS3Sink(t *testing.T) {
	ctx := context.Background()
	fake := &fakeS3{objects: make(map[string][]byte)}
	sink := newS3Sink(fake, "bucket", "/backups/")
	mgr := New(seededStore(t), editorSchema(), "demo", 1)

	name, err := mgr.ExportTo(ctx, sink)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := fake.objects["bucket/backups/"+name]; !ok {
		t.Errorf("object not stored under prefix: %v", fake.objects)
	}
	names, err := sink.List(ctx)
	if err != nil || len(names) != 1 || names[0] != name {
		t.Errorf("List() = %v, %v", names, err)
	}
	if _, err := mgr.ImportFrom(ctx, sink, name, DefaultImportOptions()); err != nil {
		t.Errorf("ImportFrom() error = %v", err)
	}
	if _, err := sink.Get(ctx, "missing.json"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v", err)
	}
}

func TestNewS3Sink_RequiresCredentials(t *testing.T) {
	if _, err := NewS3Sink(S3Options{Bucket: "b"}); err == nil {
		t.Error("NewS3Sink accepted incomplete options")
	}
	if _, err := NewS3Sink(S3Options{Bucket: "b", Region: "us-east-1", AccessKeyID: "k", SecretAccessKey: "s", Endpoint: "minio:9000"}); err != nil {
		t.Errorf("NewS3Sink() error = %v", err)
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
