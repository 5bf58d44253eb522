package mqttserver

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestTLSConfigEmpty(t *testing.T) {
	cfg, err := TLSConfig("", "", "")
	if err != nil || cfg != nil {
		t.Fatalf("expected nil config, got %v %v", cfg, err)
	}
}

func TestTLSConfigNeedsCertAndKey(t *testing.T) {
	if _, err := TLSConfig("", "cert.pem", ""); err == nil {
		t.Fatalf("expected error for cert without key")
	}
}

func TestTLSConfigMissingCA(t *testing.T) {
	if _, err := TLSConfig(filepath.Join(t.TempDir(), "ca.pem"), "", ""); err == nil {
		t.Fatalf("expected error for missing CA")
	}
}

func TestTruncatePayload(t *testing.T) {
	short := []byte("hello")
	if truncatePayload(short) != "hello" {
		t.Fatalf("short payload changed")
	}
	long := []byte(strings.Repeat("x", 3000))
	got := truncatePayload(long)
	if len(got) != 2048+3 || !strings.HasSuffix(got, "...") {
		t.Fatalf("unexpected truncation length %d", len(got))
	}
}
