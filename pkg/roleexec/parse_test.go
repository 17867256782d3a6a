package roleexec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractJSON_WholeLineWins(t *testing.T) {
	combined := "some log noise\n{\"status\":\"pass\"}\nmore noise"
	obj := ExtractJSON(combined)
	assert.Equal(t, "pass", obj["status"])
}

func TestExtractJSON_PrefersLastMatchingLine(t *testing.T) {
	combined := "{\"status\":\"fail\"}\n{\"status\":\"pass\"}"
	obj := ExtractJSON(combined)
	assert.Equal(t, "pass", obj["status"])
}

func TestExtractJSON_FencedBlockWhenNoWholeLine(t *testing.T) {
	combined := "here is my answer:\n```json\n{\"plan_summary\":\"ok\",\n\"tasks\":[]}\n```\nthanks"
	obj := ExtractJSON(combined)
	assert.Equal(t, "ok", obj["plan_summary"])
}

func TestExtractJSON_BalancedBraceFallback(t *testing.T) {
	combined := `The agent said roughly this: {"status": "pass", "notes": "looks {nested} fine"} and stopped.`
	obj := ExtractJSON(combined)
	assert.Equal(t, "pass", obj["status"])
}

func TestExtractJSON_NoJSONReturnsEmptyMap(t *testing.T) {
	obj := ExtractJSON("nothing resembling json here")
	assert.NotNil(t, obj)
	assert.Empty(t, obj)
}

func TestExtractJSON_StringsWithBracesDoNotConfuseBraceCounting(t *testing.T) {
	combined := `result: {"message": "use the {TOKEN} syntax", "status": "pass"}`
	obj := ExtractJSON(combined)
	assert.Equal(t, "pass", obj["status"])
}
