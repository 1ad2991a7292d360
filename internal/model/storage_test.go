package model

import "testing"

func TestConfigResolve(t *testing.T) {
	cfg := &Config{Endpoints: map[string]StorageData{
		"RSE1": {Name: "RSE1", IsDeterministic: true},
	}}

	sd, ok := cfg.Resolve("RSE1")
	if !ok || sd.Name != "RSE1" {
		t.Fatalf("expected to resolve RSE1, got %+v, ok=%v", sd, ok)
	}

	if _, ok := cfg.Resolve("missing"); ok {
		t.Fatal("expected Resolve to report false for unknown endpoint")
	}
}

func TestDDMActivityFallsBackToNameWithoutAlias(t *testing.T) {
	cfg := &Config{DDMActivityAlias: map[string]string{"pr": "read_lan"}}

	if got := cfg.DDMActivity("pr"); got != "read_lan" {
		t.Fatalf("expected alias translation, got %q", got)
	}
	if got := cfg.DDMActivity("pw"); got != "pw" {
		t.Fatalf("expected fallback to input name, got %q", got)
	}
}
