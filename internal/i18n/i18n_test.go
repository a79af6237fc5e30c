package i18n

import (
	"strings"
	"testing"
)

func TestCatalogsCoverSameKeys(t *testing.T) {
	en := catalogs[LangEN]
	zh := catalogs[LangZH]
	for key := range en {
		if _, ok := zh[key]; !ok {
			t.Errorf("zh-CN catalog missing key %q", key)
		}
	}
	for key := range zh {
		if _, ok := en[key]; !ok {
			t.Errorf("en catalog missing key %q", key)
		}
	}
}

func TestLanguageSwitchAndFallback(t *testing.T) {
	defer SetLanguage(LangEN)

	SetLanguage(LangZH)
	if got := T("interaction.none"); !strings.Contains(got, "交互") {
		t.Errorf("expected zh-CN message, got %q", got)
	}

	SetLanguage("fr")
	if got := T("interaction.none"); !strings.Contains(got, "pending interaction") {
		t.Errorf("unknown language must fall back to English, got %q", got)
	}
}

func TestMissingKeyReturnsKey(t *testing.T) {
	if got := T("no.such.key"); got != "no.such.key" {
		t.Errorf("got %q", got)
	}
}

func TestFormatting(t *testing.T) {
	defer SetLanguage(LangEN)
	SetLanguage(LangEN)

	got := T("queue.position", 3)
	if got != "Task queued at position 3." {
		t.Errorf("got %q", got)
	}
}
