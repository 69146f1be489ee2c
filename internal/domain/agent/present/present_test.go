package present

import (
	"strings"
	"testing"

	"sourcer/internal/domain/candidate"
	"sourcer/internal/domain/intent"
)

func TestDetectLang(t *testing.T) {
	if DetectLang("find ocean footage") != "en" {
		t.Fatal("expected en")
	}
	if DetectLang("找海浪 footage") != "zh" {
		t.Fatal("expected zh for mixed text")
	}
}

func TestSummaryFlagsUnverifiedLicense(t *testing.T) {
	in := intent.SearchIntent{Licenses: []string{intent.LicenseCommercialUse}}
	if !strings.Contains(Summary(3, 4, in, "zh"), "未核实") {
		t.Fatal("expected license caveat")
	}
	if strings.Contains(Summary(3, 4, intent.SearchIntent{}, "en"), "not verified") {
		t.Fatal("caveat should only appear when a license was requested")
	}
}

func TestManualSearchLinks(t *testing.T) {
	links := ManualSearchLinks("海边 日落")
	if len(links) != 3 {
		t.Fatalf("expected 3 links, got %d", len(links))
	}
	for _, l := range links {
		if l.Kind != candidate.KindLink || !strings.HasPrefix(l.ID, "l_") {
			t.Fatalf("unexpected link %+v", l)
		}
		if strings.Contains(l.URL, " ") {
			t.Fatalf("query not escaped: %s", l.URL)
		}
	}
}

func TestPickReferenceListsEveryURL(t *testing.T) {
	reply := PickReference([]string{"https://a.example/1", "https://b.example/2"}, "zh")
	if !strings.Contains(reply, "1. https://a.example/1") || !strings.Contains(reply, "2. https://b.example/2") {
		t.Fatalf("unexpected reply %q", reply)
	}
}
