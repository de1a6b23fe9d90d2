package interpreter

import (
	"strings"
)

// CaptureDecorator is the name of the decorator Instrument places on every
// top-level function.
const CaptureDecorator = "__smartmodel_capture__"

// preamble defines the capture decorator. After a decorated function returns,
// its final locals are serialised into the session mapping under the
// function's name. At exit the mapping is printed as a single
// <session>...</session> block.
const preamble = `import atexit as __smartmodel_atexit
import functools as __smartmodel_functools
import inspect as __smartmodel_inspect
import json as __smartmodel_json
import sys as __smartmodel_sys

__smartmodel_session__ = {}


def __smartmodel_jsonable__(value):
    try:
        __smartmodel_json.dumps(value)
        return value
    except (TypeError, ValueError):
        return repr(value)


def __smartmodel_record__(name, local_vars):
    __smartmodel_session__[name] = {
        k: __smartmodel_jsonable__(v) for k, v in local_vars.items() if not k.startswith("__smartmodel")
    }


def __smartmodel_capture__(fn):
    code = __smartmodel_inspect.unwrap(fn).__code__

    def tracer(frames):
        def profile(frame, event, arg):
            if event == "return" and frame.f_code is code:
                frames.append(dict(frame.f_locals))
        return profile

    if __smartmodel_inspect.iscoroutinefunction(fn):
        @__smartmodel_functools.wraps(fn)
        async def async_wrapper(*args, **kwargs):
            frames = []
            previous = __smartmodel_sys.getprofile()
            __smartmodel_sys.setprofile(tracer(frames))
            try:
                return await fn(*args, **kwargs)
            finally:
                __smartmodel_sys.setprofile(previous)
                if frames:
                    __smartmodel_record__(fn.__name__, frames[-1])
        return async_wrapper

    @__smartmodel_functools.wraps(fn)
    def wrapper(*args, **kwargs):
        frames = []
        previous = __smartmodel_sys.getprofile()
        __smartmodel_sys.setprofile(tracer(frames))
        try:
            return fn(*args, **kwargs)
        finally:
            __smartmodel_sys.setprofile(previous)
            if frames:
                __smartmodel_record__(fn.__name__, frames[-1])
    return wrapper


@__smartmodel_atexit.register
def __smartmodel_dump__():
    print("<session>" + __smartmodel_json.dumps(__smartmodel_session__, default=repr) + "</session>", flush=True)

`

// Instrument returns code with the capture preamble prepended and the capture
// decorator placed on every top-level def and async def, above any
// decorators it already has. Lines inside triple-quoted strings are left
// untouched.
func Instrument(code string) string {
	lines := strings.Split(strings.ReplaceAll(code, "\r\n", "\n"), "\n")
	out := make([]string, 0, len(lines)+8)

	// Decorator lines are held until the statement they belong to is known.
	var held []string
	flush := func() {
		out = append(out, held...)
		held = held[:0]
	}
	var open string
	for _, line := range lines {
		inString := open != ""
		open = scanTripleQuotes(line, open)
		switch {
		case inString && len(held) > 0:
			held = append(held, line)
		case inString:
			out = append(out, line)
		case strings.HasPrefix(line, "@"):
			held = append(held, line)
		case isTopLevelDef(line):
			out = append(out, "@"+CaptureDecorator)
			flush()
			out = append(out, line)
		default:
			// Blank lines and continuation lines inside a decorator
			// expression stay with the held decorators.
			if len(held) > 0 && (strings.TrimSpace(line) == "" || startsIndented(line) || strings.HasPrefix(line, ")")) {
				held = append(held, line)
				continue
			}
			flush()
			out = append(out, line)
		}
	}
	flush()
	return preamble + strings.Join(out, "\n")
}

func isTopLevelDef(line string) bool {
	return strings.HasPrefix(line, "def ") || strings.HasPrefix(line, "async def ")
}

func startsIndented(line string) bool {
	return strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t")
}

// scanTripleQuotes returns the triple-quote delimiter still open at the end
// of line, given the one open at its start.
func scanTripleQuotes(line, open string) string {
	for i := 0; i < len(line); {
		if open != "" {
			switch {
			case line[i] == '\\':
				i += 2
			case strings.HasPrefix(line[i:], open):
				i += len(open)
				open = ""
			default:
				i++
			}
			continue
		}
		switch c := line[i]; {
		case c == '#':
			return ""
		case strings.HasPrefix(line[i:], `"""`), strings.HasPrefix(line[i:], "'''"):
			open = line[i : i+3]
			i += 3
		case c == '"' || c == '\'':
			// A plain string ends on this line.
			i++
			for i < len(line) && line[i] != c {
				if line[i] == '\\' {
					i++
				}
				i++
			}
			i++
		default:
			i++
		}
	}
	return open
}
