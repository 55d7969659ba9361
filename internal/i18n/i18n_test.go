package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	return Context(lang)
}

func TestTranslateEnglish(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "AppTitle")
	if got != "Proctor" {
		t.Errorf("T(AppTitle) = %q, want 'Proctor'", got)
	}

	got = T(ctx, "NotifyClipboardPaste")
	if got != "Clipboard paste detected. This activity is being monitored." {
		t.Errorf("T(NotifyClipboardPaste) = %q", got)
	}
}

func TestTranslateRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	got := T(ctx, "AppTitle")
	if got != "Прокторинг" {
		t.Errorf("T(AppTitle) = %q, want 'Прокторинг'", got)
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got1 := Tp(ctx, "FlaggedEvents", 1)
	if got1 != "1 flagged event" {
		t.Errorf("Tp(FlaggedEvents, 1) = %q, want '1 flagged event'", got1)
	}

	got5 := Tp(ctx, "FlaggedEvents", 5)
	if got5 != "5 flagged events" {
		t.Errorf("Tp(FlaggedEvents, 5) = %q, want '5 flagged events'", got5)
	}

	ru := initLang(t, "ru")
	if got := Tp(ru, "FlaggedEvents", 3); got != "3 отмеченных события" {
		t.Errorf("Tp(FlaggedEvents, 3) in ru = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")

	got := Td(ctx, "VivaScore", map[string]any{"Score": "7.5"})
	if got != "Viva completed with score 7.5/10" {
		t.Errorf("Td(VivaScore) = %q", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMiddlewarePrefersAcceptLanguage(t *testing.T) {
	initLang(t, "en")

	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "AppTitle")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Прокторинг" {
		t.Errorf("with Accept-Language ru got %q", got)
	}

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if got != "Proctor" {
		t.Errorf("without Accept-Language got %q", got)
	}
}
