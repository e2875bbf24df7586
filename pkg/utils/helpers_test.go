package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGenerateRequestIDUnique(t *testing.T) {
	a := GenerateRequestID()
	b := GenerateRequestID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "500ms", FormatDuration(500*time.Millisecond))
	assert.Equal(t, "2.50s", FormatDuration(2500*time.Millisecond))
	assert.Equal(t, "1.5m", FormatDuration(90*time.Second))
	assert.Equal(t, "2.0h", FormatDuration(2*time.Hour))
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "example.com", ExtractDomain("https://EXAMPLE.com/path?q=1"))
	assert.Equal(t, "sub.example.com", ExtractDomain("http://sub.example.com:8080/"))
	assert.Equal(t, "unknown", ExtractDomain("::bad"))
	assert.Equal(t, "unknown", ExtractDomain("no-scheme-path"))
}

func TestContains(t *testing.T) {
	assert.True(t, Contains([]string{"US", "DE"}, "DE"))
	assert.False(t, Contains([]string{"US", "DE"}, "de"))
	assert.False(t, Contains(nil, "US"))
}

func TestGetStringOrDefault(t *testing.T) {
	assert.Equal(t, "value", GetStringOrDefault("value", "fallback"))
	assert.Equal(t, "fallback", GetStringOrDefault("", "fallback"))
}
