package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTriggerMessage(t *testing.T) {
	ctx := initLang(t, "en")

	got := TriggerMessage(ctx, 9, 10)
	if got != "AI correction started: 9 of 10 exams queued." {
		t.Errorf("TriggerMessage(9, 10) = %q", got)
	}

	got = TriggerMessage(ctx, 0, 0)
	if got != "No exams with open-ended questions to correct." {
		t.Errorf("TriggerMessage(0, 0) = %q", got)
	}
}

func TestTriggerMessageRussian(t *testing.T) {
	ctx := initLang(t, "ru")

	got := TriggerMessage(ctx, 3, 4)
	if got != "AI-проверка запущена: в очереди 3 из 4 работ." {
		t.Errorf("TriggerMessage(3, 4) = %q", got)
	}
}

func TestEstimate(t *testing.T) {
	ctx := initLang(t, "en")

	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "no processing needed"},
		{20 * time.Second, "less than a minute"},
		{time.Minute, "about 1 minute"},
		{150 * time.Second, "about 3 minutes"},
		{90 * time.Minute, "about 2 hours"},
	}
	for _, tt := range tests {
		if got := Estimate(ctx, tt.d); got != tt.want {
			t.Errorf("Estimate(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}

func TestEstimateRussianPlural(t *testing.T) {
	ctx := initLang(t, "ru")

	if got := Estimate(ctx, 5*time.Minute); got != "около 5 минут" {
		t.Errorf("Estimate(5m) = %q, want 'около 5 минут'", got)
	}
	if got := Estimate(ctx, time.Minute); got != "около 1 минуты" {
		t.Errorf("Estimate(1m) = %q, want 'около 1 минуты'", got)
	}
}

func TestFallbackWithoutLocalizer(t *testing.T) {
	initLang(t, "en")

	got := T(context.Background(), "ClassNotFound")
	if got != "Class not found" {
		t.Errorf("T(ClassNotFound) = %q, want 'Class not found'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")

	got := T(ctx, "NonExistentKey")
	if got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestMiddlewareAcceptLanguage(t *testing.T) {
	initLang(t, "en")

	var got string
	h := Middleware("en")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "ClassNotFound")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Accept-Language", "ru-RU,ru;q=0.9")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Класс не найден" {
		t.Errorf("with Accept-Language ru: got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != "Class not found" {
		t.Errorf("without Accept-Language: got %q", got)
	}
}
