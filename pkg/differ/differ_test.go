package differ

import (
	"strings"
	"testing"

	"github.com/wikimedia/puppet-compiler/pkg/catalog"
)

func mkCatalog(name string, resources ...catalog.Resource) *catalog.Catalog {
	c := catalog.New(name)
	for _, r := range resources {
		c.Resources[r.Key()] = r
	}
	return c
}

func TestDiffIntersection_Identical(t *testing.T) {
	a := mkCatalog("host1", catalog.Resource{Type: "Package", Title: "nginx", Parameters: map[string]interface{}{"ensure": "present"}})
	b := mkCatalog("host1", catalog.Resource{Type: "Package", Title: "nginx", Parameters: map[string]interface{}{"ensure": "present"}})

	d := New(a, b)
	diff, err := d.DiffIntersection(false)
	if err != nil {
		t.Fatalf("DiffIntersection() error = %v", err)
	}
	if diff != nil {
		t.Errorf("DiffIntersection() = %+v, want nil for identical catalogs", diff)
	}
}

func TestDiffUnion_Identical(t *testing.T) {
	a := mkCatalog("host1", catalog.Resource{Type: "Package", Title: "nginx"})
	b := mkCatalog("host1", catalog.Resource{Type: "Package", Title: "nginx"})

	d := New(a, b)
	diff, err := d.DiffUnion(false)
	if err != nil {
		t.Fatalf("DiffUnion() error = %v", err)
	}
	if diff != nil {
		t.Errorf("DiffUnion() = %+v, want nil for identical catalogs", diff)
	}
}

func TestDiffIntersection_ParameterChange(t *testing.T) {
	a := mkCatalog("host1", catalog.Resource{Type: "Package", Title: "nginx", Parameters: map[string]interface{}{"ensure": "present"}})
	b := mkCatalog("host1", catalog.Resource{Type: "Package", Title: "nginx", Parameters: map[string]interface{}{"ensure": "absent"}})

	d := New(a, b)
	diff, err := d.DiffIntersection(false)
	if err != nil {
		t.Fatalf("DiffIntersection() error = %v", err)
	}
	if diff == nil {
		t.Fatal("DiffIntersection() = nil, want a diff")
	}
	if len(diff.ResourceDiffs) != 1 {
		t.Fatalf("len(ResourceDiffs) = %d, want 1", len(diff.ResourceDiffs))
	}
	rd := diff.ResourceDiffs[0]
	if rd.Parameters == nil {
		t.Fatal("expected Parameters diff")
	}
	if rd.Parameters.Changed["ensure"] != ([2]interface{}{"present", "absent"}) {
		t.Errorf("Changed[ensure] = %v, want [present absent]", rd.Parameters.Changed["ensure"])
	}
}

func TestDiffUnion_OnlyInSelfAndOther(t *testing.T) {
	a := mkCatalog("host1",
		catalog.Resource{Type: "Package", Title: "nginx"},
		catalog.Resource{Type: "Package", Title: "removed-pkg"},
	)
	b := mkCatalog("host1",
		catalog.Resource{Type: "Package", Title: "nginx"},
		catalog.Resource{Type: "Package", Title: "added-pkg"},
	)

	d := New(a, b)
	diff, err := d.DiffUnion(false)
	if err != nil {
		t.Fatalf("DiffUnion() error = %v", err)
	}
	if diff == nil {
		t.Fatal("DiffUnion() = nil, want a diff")
	}
	if len(diff.OnlyInSelf) != 1 || diff.OnlyInSelf[0] != "Package[removed-pkg]" {
		t.Errorf("OnlyInSelf = %v, want [Package[removed-pkg]]", diff.OnlyInSelf)
	}
	if len(diff.OnlyInOther) != 1 || diff.OnlyInOther[0] != "Package[added-pkg]" {
		t.Errorf("OnlyInOther = %v, want [Package[added-pkg]]", diff.OnlyInOther)
	}
}

func TestDiffIntersection_ExcludesOnlyInOneSide(t *testing.T) {
	a := mkCatalog("host1",
		catalog.Resource{Type: "Package", Title: "nginx"},
		catalog.Resource{Type: "Package", Title: "removed-pkg"},
	)
	b := mkCatalog("host1",
		catalog.Resource{Type: "Package", Title: "nginx"},
	)

	d := New(a, b)
	diff, err := d.DiffIntersection(false)
	if err != nil {
		t.Fatalf("DiffIntersection() error = %v", err)
	}
	if diff != nil {
		t.Errorf("DiffIntersection() = %+v, want nil (removed-pkg excluded from intersection)", diff)
	}
}

func TestDiffResource_ContentDiff(t *testing.T) {
	a := mkCatalog("host1", catalog.Resource{
		Type: "File", Title: "/etc/motd", HasContent: true, Content: "line one\nline two\n",
	})
	b := mkCatalog("host1", catalog.Resource{
		Type: "File", Title: "/etc/motd", HasContent: true, Content: "line one\nline THREE\n",
	})

	d := New(a, b)
	diff, err := d.DiffIntersection(false)
	if err != nil {
		t.Fatalf("DiffIntersection() error = %v", err)
	}
	if diff == nil {
		t.Fatal("expected a diff")
	}
	rd := diff.ResourceDiffs[0]
	if !strings.Contains(rd.Content, "--- /etc/motd.orig") {
		t.Errorf("Content missing fromfile header, got %q", rd.Content)
	}
	if !strings.Contains(rd.Content, "-line two") || !strings.Contains(rd.Content, "+line THREE") {
		t.Errorf("Content missing expected hunk lines, got %q", rd.Content)
	}
}

func TestHasCoreDiff(t *testing.T) {
	a := mkCatalog("host1")
	b := mkCatalog("host1", catalog.Resource{Type: "Package", Title: "added"})

	d := New(a, b)
	diff, err := d.DiffUnion(false)
	if err != nil {
		t.Fatalf("DiffUnion() error = %v", err)
	}
	if diff == nil {
		t.Fatal("expected a diff")
	}
	if !diff.HasCoreDiff(a, b) {
		t.Error("expected HasCoreDiff true: Package is a core resource")
	}
}

func TestHasCoreDiff_FalseForScopedOnly(t *testing.T) {
	a := mkCatalog("host1")
	b := mkCatalog("host1", catalog.Resource{Type: "Apache::Vhost", Title: "added"})

	d := New(a, b)
	diff, err := d.DiffUnion(false)
	if err != nil {
		t.Fatalf("DiffUnion() error = %v", err)
	}
	if diff == nil {
		t.Fatal("expected a diff")
	}
	if diff.HasCoreDiff(a, b) {
		t.Error("expected HasCoreDiff false: Apache::Vhost is scoped, not core")
	}
}

func TestDiffUnion_CoreOnlyExcludesScoped(t *testing.T) {
	a := mkCatalog("host1")
	b := mkCatalog("host1", catalog.Resource{Type: "Apache::Vhost", Title: "added"})

	d := New(a, b)
	diff, err := d.DiffUnion(true)
	if err != nil {
		t.Fatalf("DiffUnion() error = %v", err)
	}
	if diff != nil {
		t.Errorf("DiffUnion(coreOnly=true) = %+v, want nil: scoped-only addition excluded", diff)
	}
}

func TestDiffUnion_CoreOnlyIncludesCoreAddition(t *testing.T) {
	a := mkCatalog("host1")
	b := mkCatalog("host1", catalog.Resource{Type: "Package", Title: "added"})

	d := New(a, b)
	diff, err := d.DiffUnion(true)
	if err != nil {
		t.Fatalf("DiffUnion() error = %v", err)
	}
	if diff == nil {
		t.Fatal("expected a diff: core addition should surface in core-only union")
	}
	if len(diff.OnlyInOther) != 1 {
		t.Errorf("OnlyInOther = %v, want 1 entry", diff.OnlyInOther)
	}
}

func TestPercChanged(t *testing.T) {
	a := mkCatalog("host1",
		catalog.Resource{Type: "Package", Title: "a"},
		catalog.Resource{Type: "Package", Title: "b"},
		catalog.Resource{Type: "Package", Title: "c"},
		catalog.Resource{Type: "Package", Title: "d"},
	)
	b := mkCatalog("host1",
		catalog.Resource{Type: "Package", Title: "a"},
		catalog.Resource{Type: "Package", Title: "b"},
		catalog.Resource{Type: "Package", Title: "c", Parameters: map[string]interface{}{"ensure": "absent"}},
	)

	d := New(a, b)
	diff, err := d.DiffUnion(false)
	if err != nil {
		t.Fatalf("DiffUnion() error = %v", err)
	}
	if diff == nil {
		t.Fatal("expected a diff")
	}
	// changed: c (1), only_in_self: d (1) -> 2 / 4 self resources = 50%.
	if diff.PercChanged != 50 {
		t.Errorf("PercChanged = %v, want 50", diff.PercChanged)
	}
}
