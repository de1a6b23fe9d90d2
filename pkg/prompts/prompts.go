// Package prompts holds the fixed prompt templates sent to language models.
package prompts

import (
	"fmt"
	"strings"
)

const base = `You generate JSON values that conform to a schema written as Go type definitions.
The JSON you return is decoded directly into the root type, so it must match the schema exactly.

Follow these steps:
  1. Read the request and work out which values it asks for.
  2. Produce a single JSON object for the root type (the first definition in the schema).
  3. Respect every field's type. Integers must not have a fractional part, time.Time fields are RFC 3339 strings, and fields marked "one of" must hold a value of one of the listed types.
  4. Fill every required field. When the request does not mention a field, choose a sensible default that fits the context. Fields with ",omitempty" may be left out.
  5. Reply with the JSON object only. No prose, no Markdown fences.

Example schema:
type Person struct {
	Name     string ` + "`json:\"name\"`" + `
	Age      int    ` + "`json:\"age\"`" + `
	Email    string ` + "`json:\"email\"`" + `
	IsActive bool   ` + "`json:\"is_active\"`" + `
}

Example request:
Create a profile for John Doe, aged 30, email john.doe@example.com, currently active.

Example reply:
{"name": "John Doe", "age": 30, "email": "john.doe@example.com", "is_active": true}

Now produce the JSON value for the following schema and request.

Schema:
%s
Request:
%s
`

// Base returns the system prompt for a structured-generation request.
func Base(schemaText, request string) string {
	return fmt.Sprintf(base, indent(schemaText), indent(request))
}

const errorCorrection = `Encountered an error: %s.
Correct it according to the request's requirements. Use your previous response as a reference if it is valid JSON for the schema, otherwise ignore it.
Reply with a JSON object that can be decoded directly into the root type.`

// ErrorCorrection returns the follow-up prompt sent after a response failed
// validation.
func ErrorCorrection(err string) string {
	return fmt.Sprintf(errorCorrection, strings.TrimSpace(err))
}

// PlannerSystem instructs the planning model that writes Python programs.
const PlannerSystem = `You write self-contained Python 3 programs that answer the user's request.

Rules:
- Use only the standard library unless the request names a package.
- Put the work inside top-level functions and call them. The local variables of every top-level function are captured after it returns, so keep the values you want reported in locals.
- Print the final answer to standard output.
- Never read from standard input and never run forever.
- Set "intent" to one sentence describing what the program does.`

// Repair returns the request sent to the planner after a program failed.
func Repair(request, code, stderr string) string {
	return fmt.Sprintf(`The program written for this request failed.

Request:
%s

Program:
%s

Error output:
%s

Write a corrected program.`, indent(request), indent(code), indent(stderr))
}

// Narrator returns the prompt asking the narration model to explain an
// execution result to the user.
func Narrator(request, stdout string, session string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The user asked:\n%s\n\n", indent(request))
	b.WriteString("A Python program was run to answer it.\n")
	fmt.Fprintf(&b, "Its output was:\n%s\n", indent(stdout))
	if session != "" {
		fmt.Fprintf(&b, "\nCaptured function state (JSON):\n%s\n", indent(session))
	}
	b.WriteString("\nAnswer the user's question directly using these results. Do not mention the program unless asked.")
	return b.String()
}

func indent(s string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = "    " + l
		}
	}
	return strings.Join(lines, "\n")
}
