package secrets

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const documentWithKey = `Section 1. Reporting
Submissions are made through the portal using the service credential below.

export OPENAI_API_KEY="sk-proj-abc123def456ghi789jkl012mno345pqr678stu901xyz"
`

func TestScrubber_RedactsSecrets(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)

	result := s.Scrub(documentWithKey)

	require.True(t, result.HasFindings())
	assert.NotContains(t, result.Scrubbed, "sk-proj-abc123def456")
	assert.Contains(t, result.Scrubbed, "[REDACTED:")
	assert.Contains(t, result.Scrubbed, "Section 1. Reporting", "surrounding text is kept")
	for _, f := range result.Findings {
		assert.NotEmpty(t, f.RuleID)
		assert.Greater(t, f.Line, 0)
	}
}

func TestScrubber_CleanDocumentUnchanged(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)

	text := "Advisers must disclose all fees to clients in writing."
	result := s.Scrub(text)

	assert.False(t, result.HasFindings())
	assert.Equal(t, text, result.Scrubbed)
	assert.NotNil(t, result.Findings)
}

func TestScrubber_Disabled(t *testing.T) {
	s, err := New(Config{Enabled: false})
	require.NoError(t, err)

	assert.False(t, s.Enabled())
	result := s.Scrub(documentWithKey)
	assert.Equal(t, documentWithKey, result.Scrubbed)
	assert.False(t, result.HasFindings())
}

func TestScrubber_AllowList(t *testing.T) {
	s, err := New(Config{Enabled: true, AllowList: []string{`sk-proj-abc123`}})
	require.NoError(t, err)

	result := s.Scrub(documentWithKey)
	assert.Contains(t, result.Scrubbed, "sk-proj-abc123def456")
}

func TestScrubber_InvalidAllowList(t *testing.T) {
	_, err := New(Config{Enabled: true, AllowList: []string{`(`}})
	assert.Error(t, err)
}

func TestScrubber_Concurrent(t *testing.T) {
	s, err := New(DefaultConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := s.Scrub(documentWithKey)
			assert.False(t, strings.Contains(result.Scrubbed, "sk-proj-abc123def456"))
		}()
	}
	wg.Wait()
}
