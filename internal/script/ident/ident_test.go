package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitize(t *testing.T) {
	cases := map[string]string{
		"search":        "search",
		"list-files":    "list_files",
		"my.tool/name":  "my_tool_name",
		"123abc":        "_123abc",
		"end":           "_end",
		"":              "_unnamed",
		"_":             "_unnamed",
		"---":           "___",
		"a b\tc\n":      "a_b_c_",
		"valid_name_42": "valid_name_42",
	}
	for in, want := range cases {
		assert.Equal(t, want, Sanitize(in), "input %q", in)
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	inputs := []string{"search", "list-files", "123abc", "end", "", "_", "github.com/foo", "do"}
	for _, in := range inputs {
		once := Sanitize(in)
		twice := Sanitize(once)
		require.Equal(t, once, twice, "not idempotent for input %q", in)
		require.True(t, IsSanitized(once))
	}
}

func TestSanitizeNeverEmpty(t *testing.T) {
	for _, in := range []string{"", "_", "---", "..."} {
		require.NotEmpty(t, Sanitize(in))
	}
}
