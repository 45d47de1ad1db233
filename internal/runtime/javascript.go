package runtime

var javascriptSpec = languageSpec{
	name:      "javascript",
	ext:       ".js",
	toolchain: Toolchain{Run: "node {src}"},
	quote:     jsonQuote,
	harness:   javascriptHarness,
}

const javascriptHarness = `{{.Code}}

;(function () {
  const __cases = [
{{- range .Cases}}
    [{{.Input}}, {{.Expected}}],
{{- end}}
  ];
  const __log = [];
  let __passed = 0;
  try {
    __cases.forEach(function (tc, i) {
      const actual = String(solution(tc[0])).trim();
      const expected = String(tc[1]).trim();
      if (actual === expected) {
        __passed++;
        __log.push("Test " + (i + 1) + ": PASS");
      } else {
        __log.push("Test " + (i + 1) + ": FAIL (expected " + JSON.stringify(expected) + ", got " + JSON.stringify(actual) + ")");
      }
    });
  } catch (e) {
    __passed = 0;
    __log.push("Error: " + (e && e.message ? e.message : String(e)));
  }
  console.log();
  console.log({{.Marker}});
  console.log(JSON.stringify({ passed: __passed, total: __cases.length, output: __log.join("\n") }));
})();
`
