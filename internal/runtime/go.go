package runtime

var goSpec = languageSpec{
	name: "go",
	ext:  ".go",
	toolchain: Toolchain{
		Compile: "go build -o {bin} {srcs}",
		Run:     "{bin}",
	},
	quote:     goQuote,
	harness:   goHarness,
	companion: true,
}

// Go rejects imports after declarations, so the driver is a second file of
// the same package and the user's file is compiled as written.
const goHarness = `package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

func main() {
	cases := [][2]string{
{{- range .Cases}}
		{ {{.Input}}, {{.Expected}} },
{{- end}}
	}
	var log []string
	passed := 0
	func() {
		defer func() {
			if r := recover(); r != nil {
				passed = 0
				log = append(log, fmt.Sprintf("Error: %v", r))
			}
		}()
		for i, tc := range cases {
			actual := strings.TrimSpace(fmt.Sprint(solution(tc[0])))
			expected := strings.TrimSpace(tc[1])
			if actual == expected {
				passed++
				log = append(log, fmt.Sprintf("Test %d: PASS", i+1))
			} else {
				log = append(log, fmt.Sprintf("Test %d: FAIL (expected %q, got %q)", i+1, expected, actual))
			}
		}
	}()
	payload, _ := json.Marshal(map[string]any{
		"passed": passed,
		"total":  len(cases),
		"output": strings.Join(log, "\n"),
	})
	fmt.Println()
	fmt.Println({{.Marker}})
	fmt.Println(string(payload))
}
`
