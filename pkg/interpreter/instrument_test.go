package interpreter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func body(instrumented string) string {
	return strings.TrimPrefix(instrumented, preamble)
}

func TestInstrumentTopLevelDefs(t *testing.T) {
	code := `import math

def area(r):
    def helper(x):
        return x * x
    return math.pi * helper(r)

async def fetch():
    return 1

class Shape:
    def method(self):
        pass

print(area(2))`

	got := Instrument(code)
	assert.True(t, strings.HasPrefix(got, preamble))
	want := `import math

@__smartmodel_capture__
def area(r):
    def helper(x):
        return x * x
    return math.pi * helper(r)

@__smartmodel_capture__
async def fetch():
    return 1

class Shape:
    def method(self):
        pass

print(area(2))`
	assert.Equal(t, want, body(got))
}

func TestInstrumentGoesAboveExistingDecorators(t *testing.T) {
	code := "import functools\n\n@functools.lru_cache(\n    maxsize=None,\n)\n@staticmethod\ndef f():\n    return 1\n\n@dataclass\nclass C:\n    x: int\n"
	want := "import functools\n\n@__smartmodel_capture__\n@functools.lru_cache(\n    maxsize=None,\n)\n@staticmethod\ndef f():\n    return 1\n\n@dataclass\nclass C:\n    x: int\n"
	assert.Equal(t, want, body(Instrument(code)))
}

func TestInstrumentSkipsTripleQuotedStrings(t *testing.T) {
	code := "TEMPLATE = \"\"\"\ndef not_code():\n@not_a_decorator\n\"\"\"\n\nNOTE = '''one \"\"\" inside\ndef still_text():\n'''\n\ndef real():\n    return TEMPLATE\n"
	want := "TEMPLATE = \"\"\"\ndef not_code():\n@not_a_decorator\n\"\"\"\n\nNOTE = '''one \"\"\" inside\ndef still_text():\n'''\n\n@__smartmodel_capture__\ndef real():\n    return TEMPLATE\n"
	assert.Equal(t, want, body(Instrument(code)))
}

func TestScanTripleQuotes(t *testing.T) {
	tests := []struct {
		line, open, want string
	}{
		{`x = 1`, "", ""},
		{`doc = """start`, "", `"""`},
		{`doc = """one line"""`, "", ""},
		{`end"""`, `"""`, ""},
		{`escaped \""" still open`, `"""`, `"""`},
		{`s = '"""'`, "", ""},
		{`# """ in a comment`, "", ""},
		{`a = '''`, "", "'''"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, scanTripleQuotes(tt.line, tt.open), tt.line)
	}
}

func TestInstrumentNormalizesLineEndings(t *testing.T) {
	assert.Equal(t, "@__smartmodel_capture__\ndef f():\n    pass", body(Instrument("def f():\r\n    pass")))
}

func TestPreambleDefinesDecorator(t *testing.T) {
	assert.Contains(t, preamble, "def "+CaptureDecorator+"(fn):")
	assert.Equal(t, 1, strings.Count(preamble, SessionStart))
	assert.Equal(t, 1, strings.Count(preamble, SessionEnd))
}
