package util

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "alice", SanitizeInput("  alice  "))
	assert.Equal(t, "&lt;script&gt;alert(1)&lt;/script&gt;", SanitizeInput("<script>alert(1)</script>"))
	assert.Equal(t, "", SanitizeInput("   "))
}

func TestContainsSuspicious(t *testing.T) {
	assert.True(t, ContainsSuspicious("<SCRIPT>alert(1)</SCRIPT>"))
	assert.True(t, ContainsSuspicious("id=1 UNION SELECT password FROM users"))
	assert.True(t, ContainsSuspicious("../../etc/passwd"))
	assert.False(t, ContainsSuspicious("ordinary search terms"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", TruncateString("abc", 10))
	assert.Equal(t, "abc", TruncateString("abcdef", 3))
	long := strings.Repeat("x", 600)
	assert.Len(t, TruncateString(long, 512), 512)
}
