package codec

import (
	"encoding/json"
	"errors"
	"reflect"
	"sort"
	"testing"

	"organote/internal/domain"
)

func sampleProject() domain.Project {
	return domain.Project{
		ID:           "abc1234",
		Title:        "Week plan",
		LastModified: 1700000000000,
		Offset:       domain.Viewport{X: 12.5, Y: -40, Z: 0.75},
		Plugins:      []string{"header"},
		Items: []domain.Item{
			{ID: "i1", Type: "text-sticky", Offset: domain.Offset{X: 10, Y: 20}, Z: 0, Content: "hi"},
			{ID: "i2", Type: "still", Offset: domain.Offset{X: 90, Y: 5}, Z: 1, Src: "upload:images:k1"},
			{ID: "i3", Type: "header", Offset: domain.Offset{X: 0, Y: -100}, Z: 2, Variant: 2, Content: "Monday"},
		},
	}
}

func sampleFiles() Files {
	return Files{
		"images": {
			"k1": domain.StoredAsset{Type: "image/png", Name: "cat.png", Data: []byte{1, 2, 3, 4}, Width: 640, Height: 480},
		},
	}
}

func sortItems(items []domain.Item) {
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
}

func TestRoundTripPlain(t *testing.T) {
	p := sampleProject()
	data, err := Encode(p, sampleFiles())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(dec.Project, p) {
		t.Fatalf("round-trip mismatch:\n got %+v\nwant %+v", dec.Project, p)
	}
	if dec.Version != CurrentVersion {
		t.Fatalf("decoded version = %d, want %d", dec.Version, CurrentVersion)
	}
}

func TestRoundTripGzip(t *testing.T) {
	p := sampleProject()
	data, err := EncodeGzip(p, nil)
	if err != nil {
		t.Fatalf("encode gzip: %v", err)
	}
	if data[0] != 0x1f || data[1] != 0x8b {
		t.Fatalf("output is not gzip framed")
	}
	dec, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(dec.Project, p) {
		t.Fatalf("gzip round-trip mismatch")
	}
}

func TestRoundTripEncrypted(t *testing.T) {
	p := sampleProject()
	data, err := EncodeGzip(p, sampleFiles())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	key, err := GenerateEncryptionKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	sealed, err := Encrypt(key, data)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	opened, err := Decrypt(key, sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	dec, err := Decode(opened)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(dec.Project, p) {
		t.Fatalf("encrypted round-trip mismatch")
	}
}

func TestExportCarriesExactAssetBytes(t *testing.T) {
	// end-to-end: sticky note + image item; the exported file must
	// carry the referenced asset verbatim
	p := domain.Project{
		ID:           "exp1",
		LastModified: 5,
		Offset:       domain.Viewport{Z: 1},
		Plugins:      []string{},
		Items: []domain.Item{
			{ID: "a", Type: "text-sticky", Content: "hi"},
			{ID: "b", Type: "still", Src: "upload:images:k1", Z: 1},
		},
	}
	orig := domain.StoredAsset{Type: "image/jpeg", Name: "photo.jpg", Data: []byte{9, 9, 9, 1, 2}}
	all := Files{"images": {"k1": orig, "orphan": {Type: "image/png"}}}

	data, err := EncodeGzip(p, ReferencedFiles(p, all))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	dec, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got, ok := dec.Files["images"]["k1"]
	if !ok {
		t.Fatalf("exported file missing images/k1")
	}
	if !reflect.DeepEqual(got, orig) {
		t.Fatalf("asset changed in transit:\n got %+v\nwant %+v", got, orig)
	}
	if _, ok := dec.Files["images"]["orphan"]; ok {
		t.Fatalf("orphaned asset must not be exported")
	}
}

func TestDecodeRejectsForeignEnvelopes(t *testing.T) {
	cases := map[string]string{
		"wrong type":      `{"type":"scribble","version":4,"project":{"id":"x"}}`,
		"missing version": `{"type":"organote","project":{"id":"x"}}`,
		"future version":  `{"type":"organote","version":99,"project":{"id":"x"}}`,
		"no project":      `{"type":"organote","version":4}`,
		"not json":        `hello world`,
	}
	for name, input := range cases {
		_, err := Decode([]byte(input))
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		var de *DecodeError
		if !errors.As(err, &de) {
			t.Fatalf("%s: error %v is not a DecodeError", name, err)
		}
	}
}

func TestMigrateV2IdKeyedItems(t *testing.T) {
	// end-to-end scenario: a v2 file whose items field is an id-keyed
	// mapping of 3 entries and whose viewport has no zoom
	raw := []byte(`{
		"type": "organote",
		"version": 2,
		"project": {
			"id": "old1",
			"title": "Legacy",
			"lastModified": 1000,
			"offset": {"x": 4, "y": 8},
			"plugins": ["math"],
			"items": {
				"a": {"id": "a", "type": "text-sticky", "offset": {"x": 0, "y": 0}, "z": 0, "content": "one"},
				"b": {"id": "b", "type": "math", "offset": {"x": 5, "y": 5}, "z": 1},
				"c": {"type": "text-sticky", "offset": {"x": 9, "y": 9}, "z": 2, "content": "three"}
			}
		}
	}`)
	dec, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(dec.Project.Items) != 3 {
		t.Fatalf("items = %d, want 3", len(dec.Project.Items))
	}
	sortItems(dec.Project.Items)
	if dec.Project.Items[2].ID != "c" {
		t.Fatalf("map key must backfill a missing item id, got %q", dec.Project.Items[2].ID)
	}
	if dec.Project.Offset.Z != 1 {
		t.Fatalf("zoom = %v, want default 1", dec.Project.Offset.Z)
	}
}

func TestMigrateStepwiseEqualsDirect(t *testing.T) {
	// the same logical board encoded at each legacy version must
	// decode to structurally equal projects
	v1 := []byte(`{
		"type": "organote", "version": 1,
		"project": {"id": "p", "lastModified": 7, "offset": {"x": 1, "y": 2},
			"plugins": [],
			"items": {"a": {"id": "a", "type": "text-sticky", "offset": {"x": 0, "y": 0}, "z": 0, "content": "x"}}}
	}`)
	v2 := []byte(`{
		"type": "organote", "version": 2,
		"project": {"id": "p", "lastModified": 7, "offset": {"x": 1, "y": 2},
			"plugins": [],
			"items": [{"id": "a", "type": "text-sticky", "offset": {"x": 0, "y": 0}, "z": 0, "content": "x"}]}
	}`)
	v3 := []byte(`{
		"type": "organote", "version": 3,
		"project": {"id": "p", "lastModified": 7, "offset": {"x": 1, "y": 2, "z": 1},
			"plugins": [],
			"items": [{"id": "a", "type": "text-sticky", "offset": {"x": 0, "y": 0}, "z": 0, "content": "x"}]}
	}`)
	var want domain.Project
	for i, raw := range [][]byte{v1, v2, v3} {
		dec, err := Decode(raw)
		if err != nil {
			t.Fatalf("fixture %d: %v", i+1, err)
		}
		sortItems(dec.Project.Items)
		if i == 0 {
			want = dec.Project
			continue
		}
		if !reflect.DeepEqual(dec.Project, want) {
			t.Fatalf("fixture v%d diverges:\n got %+v\nwant %+v", i+1, dec.Project, want)
		}
	}
	if want.Offset.Z != 1 {
		t.Fatalf("migrated zoom = %v, want 1", want.Offset.Z)
	}
}

func TestCurrentVersionShortCircuitsMigrations(t *testing.T) {
	p := sampleProject()
	data, err := Encode(p, nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	// sanity: the encoded envelope declares the current version
	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if int(env["version"].(float64)) != CurrentVersion {
		t.Fatalf("encoded version = %v", env["version"])
	}
	dec, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if dec.Project.Offset.Z != p.Offset.Z {
		t.Fatalf("zoom %v was rewritten by a migration step", dec.Project.Offset.Z)
	}
}
