package config

import "testing"

func TestGet_ScopedValueWins(t *testing.T) {
	t.Setenv("APP_ENV", "prod")
	t.Setenv("SOME_KEY", "flat")
	t.Setenv("SOME_KEY_PROD", "scoped")
	if got := Get("SOME_KEY"); got != "scoped" {
		t.Errorf("Get = %q, want scoped", got)
	}
}

func TestGet_FallsBackToFlat(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("SOME_KEY", "flat")
	if got := Get("SOME_KEY"); got != "flat" {
		t.Errorf("Get = %q, want flat", got)
	}
}

func TestEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	if Environment() != "prod" {
		t.Errorf("production should map to prod")
	}
	t.Setenv("APP_ENV", "staging")
	if Environment() != "test" {
		t.Errorf("unknown environments should map to test")
	}
}

func TestOpenAIKey_ProjectKeySubstituted(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("OPENAI_APIKEY", "sk-proj-restricted")
	t.Setenv("OPENAI_ALTERNATIVE_KEY", "sk-standard")
	key, err := OpenAIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "sk-standard" {
		t.Errorf("key = %q, want the alternative key", key)
	}
}

func TestOpenAIKey_ProjectKeyKeptWithoutAlternative(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("OPENAI_APIKEY", "sk-proj-restricted")
	t.Setenv("OPENAI_ALTERNATIVE_KEY", "")
	t.Setenv("OPENAI_STANDARD_KEY", "")
	key, err := OpenAIKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "sk-proj-restricted" {
		t.Errorf("key = %q, want the original key", key)
	}
}

func TestOpenAIKey_Missing(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("OPENAI_APIKEY", "")
	if _, err := OpenAIKey(); err == nil {
		t.Fatalf("expected ErrMissingKey")
	}
}

func TestVisionKey_EitherName(t *testing.T) {
	t.Setenv("APP_ENV", "")
	t.Setenv("GOOGLE_VISION_APIKEY", "")
	t.Setenv("GOOGLE_VISION_KEY", "legacy")
	key, err := VisionKey()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != "legacy" {
		t.Errorf("key = %q", key)
	}
}

func TestSigningSecret_Stable(t *testing.T) {
	a := SigningSecret()
	b := SigningSecret()
	if len(a) == 0 {
		t.Fatalf("empty secret")
	}
	if string(a) != string(b) {
		t.Errorf("secret changed between calls")
	}
}
